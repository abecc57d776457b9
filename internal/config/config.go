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

// Package config loads the closed set of environment variables this system
// recognizes into a single immutable snapshot, taken once at process start.
// Components accept *Config as a constructor parameter; nothing here is read
// from a package-level global, per the "Global mutable state" design note.
package config

import (
	"fmt"
	"os"
)

// Config is the immutable environment snapshot described in spec.md §6.
type Config struct {
	// Task executor (external message-queue/task-runner framework).
	BrokerURL string

	// Control plane.
	ControlPlaneBaseURL string
	AppToken            string

	// Registry.
	RegistryURL      string
	RegistryPrefix   string
	RegistryUser     string
	RegistryPassword string

	// Object store.
	ObjectStoreEndpoint string
	ObjectStoreKey      string
	ObjectStoreSecret   string
	ObjectStoreRegion   string
	ObjectStoreBucket   string

	// Cluster.
	KubeconfigBase64 string
	ClusterNamespace string
	StorageClass     string // optional

	// Agent.
	AgentImage string

	// Task mode.
	BuildOnlyTask bool
}

// envNames enumerates the exact set of recognized variable names, for
// documentation and for FromEnv's lookups. Keeping this closed matches
// spec.md §6: "Environment configuration (closed set of recognized names)".
var envNames = []string{
	"WKUBE_BROKER_URL",
	"WKUBE_CONTROL_PLANE_URL",
	"WKUBE_APP_TOKEN",
	"WKUBE_REGISTRY_URL",
	"WKUBE_REGISTRY_PREFIX",
	"WKUBE_REGISTRY_USER",
	"WKUBE_REGISTRY_PASSWORD",
	"WKUBE_OBJECT_STORE_ENDPOINT",
	"WKUBE_OBJECT_STORE_KEY",
	"WKUBE_OBJECT_STORE_SECRET",
	"WKUBE_OBJECT_STORE_REGION",
	"WKUBE_OBJECT_STORE_BUCKET",
	"WKUBE_KUBECONFIG_B64",
	"WKUBE_CLUSTER_NAMESPACE",
	"WKUBE_STORAGE_CLASS",
	"WKUBE_AGENT_IMAGE",
	"WKUBE_BUILD_ONLY_TASK",
}

// Names returns the closed set of recognized environment variable names.
func Names() []string {
	out := make([]string, len(envNames))
	copy(out, envNames)
	return out
}

// FromEnv loads a Config snapshot from the process environment. It validates
// that the handful of variables required by every component are present.
func FromEnv() (*Config, error) {
	cfg := &Config{
		BrokerURL:           os.Getenv("WKUBE_BROKER_URL"),
		ControlPlaneBaseURL: os.Getenv("WKUBE_CONTROL_PLANE_URL"),
		AppToken:            os.Getenv("WKUBE_APP_TOKEN"),
		RegistryURL:         os.Getenv("WKUBE_REGISTRY_URL"),
		RegistryPrefix:      os.Getenv("WKUBE_REGISTRY_PREFIX"),
		RegistryUser:        os.Getenv("WKUBE_REGISTRY_USER"),
		RegistryPassword:    os.Getenv("WKUBE_REGISTRY_PASSWORD"),
		ObjectStoreEndpoint: os.Getenv("WKUBE_OBJECT_STORE_ENDPOINT"),
		ObjectStoreKey:      os.Getenv("WKUBE_OBJECT_STORE_KEY"),
		ObjectStoreSecret:   os.Getenv("WKUBE_OBJECT_STORE_SECRET"),
		ObjectStoreRegion:   os.Getenv("WKUBE_OBJECT_STORE_REGION"),
		ObjectStoreBucket:   os.Getenv("WKUBE_OBJECT_STORE_BUCKET"),
		KubeconfigBase64:    os.Getenv("WKUBE_KUBECONFIG_B64"),
		ClusterNamespace:    os.Getenv("WKUBE_CLUSTER_NAMESPACE"),
		StorageClass:        os.Getenv("WKUBE_STORAGE_CLASS"),
		AgentImage:          os.Getenv("WKUBE_AGENT_IMAGE"),
		BuildOnlyTask:       os.Getenv("WKUBE_BUILD_ONLY_TASK") == "true",
	}

	if cfg.ControlPlaneBaseURL == "" {
		return nil, fmt.Errorf("config: WKUBE_CONTROL_PLANE_URL is required")
	}
	if cfg.ClusterNamespace == "" {
		return nil, fmt.Errorf("config: WKUBE_CLUSTER_NAMESPACE is required")
	}
	if cfg.KubeconfigBase64 == "" {
		return nil, fmt.Errorf("config: WKUBE_KUBECONFIG_B64 is required")
	}

	return cfg, nil
}
