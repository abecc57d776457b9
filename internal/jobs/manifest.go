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

// Package jobs implements the Job Launcher module (spec.md §4.3): manifest
// assembly, submission with Conflict-retry, and pod-phase monitoring.
package jobs

import (
	"fmt"
	"sort"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/iiasa/wkube-core/internal/model"
)

const (
	agentVolumeName = "agent"
	dataVolumeName  = "data"
	agentMountPath  = "/mnt/agent"
	dataMountPath   = "/mnt/data"
	agentBinPath    = agentMountPath + "/agent"
)

// ManifestParams carries everything manifest assembly needs beyond the
// JobSpec itself: the resolved image, node pin, and registry secret names.
type ManifestParams struct {
	JobSpec            model.JobSpec
	Image              string
	AgentImage         string
	ControlPlaneURL    string
	ResolvedNodeName   string // empty if no pin resolved
	ImagePullSecrets   []string
}

// BuildJob assembles the Job manifest described in spec.md §4.3.
func BuildJob(p ManifestParams) *batchv1.Job {
	backoff := int32(0)
	ttl := int32(0)
	deadline := p.JobSpec.Resources.TimeoutSec

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name: p.JobSpec.JobName,
			Labels: map[string]string{
				"pvc_id": p.JobSpec.PVCID,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoff,
			ActiveDeadlineSeconds:   &deadline,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"app":    p.JobSpec.JobName,
						"pvc_id": p.JobSpec.PVCID,
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Volumes: []corev1.Volume{
						{Name: agentVolumeName, VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
						{Name: dataVolumeName, VolumeSource: corev1.VolumeSource{
							PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: p.JobSpec.PVCID},
						}},
					},
					InitContainers: []corev1.Container{agentPullContainer(p)},
					Containers:     []corev1.Container{mainContainer(p)},
				},
			},
		},
	}

	for _, name := range p.ImagePullSecrets {
		job.Spec.Template.Spec.ImagePullSecrets = append(job.Spec.Template.Spec.ImagePullSecrets, corev1.LocalObjectReference{Name: name})
	}

	if p.ResolvedNodeName != "" {
		job.Spec.Template.Spec.Affinity = nodeAffinity(p.ResolvedNodeName)
	}

	return job
}

// agentPullContainer pulls the agent binary into the shared emptyDir,
// trying curl then falling back to wget (spec.md §4.3).
func agentPullContainer(p ManifestParams) corev1.Container {
	script := fmt.Sprintf(
		`(curl -fsSL -o %s %s) || (wget -q -O %s %s)`,
		agentBinPath, p.AgentImage, agentBinPath, p.AgentImage,
	)
	return corev1.Container{
		Name:    "agent-pull",
		Image:   "alpine:3.19",
		Command: []string{"/bin/sh", "-c"},
		Args:    []string{script + " && chmod +x " + agentBinPath},
		VolumeMounts: []corev1.VolumeMount{
			{Name: agentVolumeName, MountPath: agentMountPath},
		},
	}
}

// mainContainer runs a shell that exec's the agent with the user command as
// a single, double-quote-escaped argument.
func mainContainer(p ManifestParams) corev1.Container {
	escaped := strings.ReplaceAll(p.JobSpec.Command, `"`, `\"`)
	shellCmd := fmt.Sprintf(`exec %s "%s"`, agentBinPath, escaped)

	req := p.JobSpec.Resources
	resources := corev1.ResourceRequirements{
		Limits:   resourceList(req),
		Requests: resourceList(req),
	}

	return corev1.Container{
		Name:      "job",
		Image:     p.Image,
		Command:   []string{"/bin/sh", "-c"},
		Args:      []string{shellCmd},
		Env:       envVars(p),
		Resources: resources,
		VolumeMounts: []corev1.VolumeMount{
			{Name: dataVolumeName, MountPath: dataMountPath},
			{Name: agentVolumeName, MountPath: agentMountPath},
		},
	}
}

func resourceList(req model.ResourceRequest) corev1.ResourceList {
	list := corev1.ResourceList{}
	if req.Memory != "" {
		list[corev1.ResourceMemory] = resource.MustParse(req.Memory)
	}
	if req.CPU != "" {
		list[corev1.ResourceCPU] = resource.MustParse(req.CPU)
	}
	if req.EphemeralStorage != "" {
		list[corev1.ResourceEphemeralStorage] = resource.MustParse(req.EphemeralStorage)
	}
	return list
}

// envVars orders JOB_ID, ACC_JOB_TOKEN, ACC_JOB_GATEWAY_SERVER first, then
// conf entries, then secret entries last so secrets can override conf
// (spec.md §4.3). Map iteration order is randomized in Go, so both conf and
// secret keys are sorted for a reproducible env list.
func envVars(p ManifestParams) []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "JOB_ID", Value: p.JobSpec.JobID},
		{Name: "ACC_JOB_TOKEN", Value: p.JobSpec.Token},
		{Name: "ACC_JOB_GATEWAY_SERVER", Value: p.ControlPlaneURL},
	}
	env = append(env, sortedEnvFrom(p.JobSpec.Config)...)
	env = append(env, sortedEnvFrom(p.JobSpec.Secrets)...)
	return env
}

func sortedEnvFrom(m map[string]string) []corev1.EnvVar {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, corev1.EnvVar{Name: k, Value: m[k]})
	}
	return out
}

// nodeAffinity pins the pod to nodeName via a hard
// requiredDuringSchedulingIgnoredDuringExecution term.
func nodeAffinity(nodeName string) *corev1.Affinity {
	return &corev1.Affinity{
		NodeAffinity: &corev1.NodeAffinity{
			RequiredDuringSchedulingIgnoredDuringExecution: &corev1.NodeSelector{
				NodeSelectorTerms: []corev1.NodeSelectorTerm{{
					MatchExpressions: []corev1.NodeSelectorRequirement{{
						Key:      "kubernetes.io/hostname",
						Operator: corev1.NodeSelectorOpIn,
						Values:   []string{nodeName},
					}},
				}},
			},
		},
	}
}
