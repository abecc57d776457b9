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

// Package k8sclient constructs the cluster handles the rest of this module
// uses: a generic controller-runtime client.Client for CRUD against
// Job/PVC/Pod/Secret/ServiceAccount, and a typed client-go clientset for the
// operation the generic client doesn't expose (the event Watch).
// Both are built from the same *rest.Config, mirroring the teacher's
// genericRESTClientGetter pattern of adapting one config to several client
// shapes.
package k8sclient

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Handles bundles the two cluster client shapes used across the module.
type Handles struct {
	Client    client.Client
	Clientset kubernetes.Interface
	Config    *rest.Config
	Namespace string
}

// NewFromKubeconfigB64 decodes a base64-encoded kubeconfig JSON document
// (spec.md §6: "cluster kubeconfig (base64 JSON)") and builds both cluster
// handles against the given namespace.
func NewFromKubeconfigB64(kubeconfigB64, namespace string) (*Handles, error) {
	raw, err := base64.StdEncoding.DecodeString(kubeconfigB64)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: decode kubeconfig: %w", err)
	}

	// Kubeconfig is delivered as JSON (a valid subset of YAML), so the
	// generic clientcmd loader handles it directly.
	var probe map[string]interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("k8sclient: kubeconfig is not valid JSON: %w", err)
	}

	restCfg, err := clientcmd.RESTConfigFromKubeConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build rest config: %w", err)
	}

	return NewFromRESTConfig(restCfg, namespace)
}

// NewFromRESTConfig builds both cluster handles from an already-resolved
// *rest.Config, useful for tests against envtest or a fake server.
func NewFromRESTConfig(restCfg *rest.Config, namespace string) (*Handles, error) {
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("k8sclient: add client-go types to scheme: %w", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("k8sclient: add corev1 to scheme: %w", err)
	}
	if err := batchv1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("k8sclient: add batchv1 to scheme: %w", err)
	}

	c, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build controller-runtime client: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("k8sclient: build clientset: %w", err)
	}

	return &Handles{
		Client:    c,
		Clientset: clientset,
		Config:    restCfg,
		Namespace: namespace,
	}, nil
}
