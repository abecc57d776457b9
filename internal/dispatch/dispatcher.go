/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package dispatch implements the Task Dispatcher (spec.md §2, §4):
// resolve or build the job's image, ensure its scratch PVC, submit the job
// manifest, and monitor it until its pod is Running, Succeeded or Failed. This is the
// Handler a taskentry.Run invocation wraps for ModeBuildAndLaunch.
package dispatch

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/iiasa/wkube-core/internal/image"
	"github.com/iiasa/wkube-core/internal/jobs"
	"github.com/iiasa/wkube-core/internal/model"
	"github.com/iiasa/wkube-core/internal/pvcmanager"
)

// Well-known secrets-map keys a JobSpec may carry for a user-private
// registry pull secret, distinct from the platform registry credentials in
// Config (spec.md §3: "secrets map... includes registry and git credentials
// under well-known keys").
const (
	SecretKeyRegistryServer   = "REGISTRY_SERVER"
	SecretKeyRegistryUser     = "REGISTRY_USER"
	SecretKeyRegistryPassword = "REGISTRY_PASSWORD"
	SecretKeyRegistryEmail    = "REGISTRY_EMAIL"
)

// defaultPVCSize is used when a JobSpec's resource request carries no
// explicit workflow storage size.
const defaultPVCSize = "10Gi"

// Config carries the platform-wide settings a Dispatcher needs beyond any
// one JobSpec (spec.md §6 environment configuration).
type Config struct {
	Namespace       string
	Registry        string
	RegistryPrefix  string
	RegistryUser    string
	RegistryPassword string
	ObjectStore     image.ObjectStoreConfig
	AgentImage      string
	ControlPlaneURL string
	StorageClass    string
	BuildRoot       string
}

// Dispatcher runs one dispatch per JobSpec (spec.md §2: "Control flow for a
// dispatch: task entry → resolve or build image → ensure PVC → submit job →
// monitor pod").
type Dispatcher struct {
	client   client.Client
	builder  *image.Builder
	launcher *jobs.Launcher
	cfg      Config
	log      logr.Logger
}

// New constructs a Dispatcher bound to cfg.
func New(c client.Client, cfg Config, log logr.Logger) *Dispatcher {
	pvc := pvcmanager.New(c, cfg.Namespace, log)
	return &Dispatcher{
		client:   c,
		builder:  image.NewBuilder(log),
		launcher: jobs.NewLauncher(c, cfg.Namespace, pvc, log),
		cfg:      cfg,
		log:      log,
	}
}

// Dispatch runs one job through the full pipeline described in spec.md §2.
func (d *Dispatcher) Dispatch(ctx context.Context, spec model.JobSpec) error {
	artifact, err := d.builder.Build(ctx, image.BuildRequest{
		Registry:       d.cfg.Registry,
		RegistryPrefix: d.cfg.RegistryPrefix,
		Source:         spec.Source,
		Build:          spec.Build,
		Force:          spec.ForceBuild,
		Creds: image.RegistryCreds{
			Server:   d.cfg.Registry,
			User:     d.cfg.RegistryUser,
			Password: d.cfg.RegistryPassword,
		},
		ObjectStore: d.cfg.ObjectStore,
		BuildRoot:   d.cfg.BuildRoot,
	})
	if err != nil {
		return fmt.Errorf("dispatch: resolve image: %w", err)
	}

	size := spec.Resources.WorkflowStorage
	if size == "" {
		size = defaultPVCSize
	}
	if err := d.launcher.PreparePVC(ctx, spec.PVCID, spec.FirstPipelineStep, size, d.cfg.StorageClass); err != nil {
		return fmt.Errorf("dispatch: prepare pvc: %w", err)
	}

	pullSecrets, err := d.ensureImagePullSecrets(ctx, spec)
	if err != nil {
		return fmt.Errorf("dispatch: ensure image pull secrets: %w", err)
	}

	nodeName, err := d.resolveNodeName(ctx, spec)
	if err != nil {
		return fmt.Errorf("dispatch: resolve node affinity: %w", err)
	}

	job := jobs.BuildJob(jobs.ManifestParams{
		JobSpec:          spec,
		Image:            artifact.Tag(),
		AgentImage:       d.cfg.AgentImage,
		ControlPlaneURL:  d.cfg.ControlPlaneURL,
		ResolvedNodeName: nodeName,
		ImagePullSecrets: pullSecrets,
	})
	job.Namespace = d.cfg.Namespace

	if err := d.launcher.Submit(ctx, job); err != nil {
		return fmt.Errorf("dispatch: submit job: %w", err)
	}

	return d.launcher.Monitor(ctx, job.Name)
}

// ensureImagePullSecrets provisions the platform registry's pull secret and,
// if the JobSpec carries a complete user-private-registry credential under
// the well-known secret keys, that secret too (spec.md §4.3/§5:
// "imagePullSecrets = default registry secret ∪ user-supplied").
func (d *Dispatcher) ensureImagePullSecrets(ctx context.Context, spec model.JobSpec) ([]string, error) {
	var names []string

	platformCred := jobs.RegistryCredential{
		Server: d.cfg.Registry,
		User:   d.cfg.RegistryUser,
		Pass:   d.cfg.RegistryPassword,
	}
	name, err := jobs.EnsureRegistrySecret(ctx, d.client, d.cfg.Namespace, platformCred)
	if err != nil {
		return nil, err
	}
	names = append(names, name)

	if cred, ok := userRegistryCredential(spec.Secrets); ok {
		name, err := jobs.EnsureRegistrySecret(ctx, d.client, d.cfg.Namespace, cred)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, nil
}

// resolveNodeName implements spec.md §4.3's node affinity resolution: an
// explicit node_id wins; otherwise discover an already-bound node from an
// existing pod carrying the same pvc_id label, so a later pipeline step
// schedules onto the node already holding that PVC's data.
func (d *Dispatcher) resolveNodeName(ctx context.Context, spec model.JobSpec) (string, error) {
	if spec.NodeID != "" {
		return spec.NodeID, nil
	}

	pods := &corev1.PodList{}
	if err := d.client.List(ctx, pods,
		client.InNamespace(d.cfg.Namespace),
		client.MatchingLabels{"pvc_id": spec.PVCID},
	); err != nil {
		return "", fmt.Errorf("list pods for pvc_id=%s: %w", spec.PVCID, err)
	}

	for _, pod := range pods.Items {
		if pod.Spec.NodeName != "" {
			return pod.Spec.NodeName, nil
		}
	}
	return "", nil
}

func userRegistryCredential(secrets map[string]string) (jobs.RegistryCredential, bool) {
	server, user, pass := secrets[SecretKeyRegistryServer], secrets[SecretKeyRegistryUser], secrets[SecretKeyRegistryPassword]
	if server == "" || user == "" || pass == "" {
		return jobs.RegistryCredential{}, false
	}
	return jobs.RegistryCredential{
		Server: server,
		User:   user,
		Pass:   pass,
		Email:  secrets[SecretKeyRegistryEmail],
	}, true
}
