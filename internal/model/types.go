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

// Package model holds the plain data types shared across the dispatcher,
// image builder, PVC manager, job launcher, and control-plane client. None
// of these are Kubernetes custom resources — they are the wire/domain shapes
// described by the job submission and control-plane contracts.
package model

// SourceKind distinguishes the two ways a job's source code can be fetched.
type SourceKind string

const (
	SourceGit    SourceKind = "git"
	SourceObject SourceKind = "object_store"
)

// Source describes where to fetch the job's build context from. Exactly one
// of the two shapes is populated, selected by Kind.
type Source struct {
	Kind SourceKind

	// Git fields (Kind == SourceGit).
	GitURL string
	Ref    string

	// Object-store fields (Kind == SourceObject). URL has the form
	// "bucket/key", optionally behind an "s3://" or "minio://" prefix that is
	// stripped; the endpoint itself comes from the object-store config.
	ObjectStoreURL string
}

// BaseStack is a curated, closed enumeration of predefined Dockerfile
// templates this system ships.
type BaseStack string

const (
	BaseStackNone          BaseStack = ""
	BaseStackPython37      BaseStack = "PYTHON3_7"
	BaseStackR44           BaseStack = "R4_4"
	BaseStackGAMS40R40     BaseStack = "GAMS40_1__R4_0"
)

// Build describes how to resolve the Dockerfile for an image build. Exactly
// one of Dockerfile or BaseStack must be set.
type Build struct {
	Dockerfile string
	BaseStack  BaseStack
}

// ResourceRequest mirrors the container resource limits/requests applied to
// the main container of a launched Job; the init container gets none.
type ResourceRequest struct {
	Memory            string
	CPU               string
	EphemeralStorage  string
	WorkflowStorage   string
	TimeoutSec        int64
}

// JobSpec is the input to a single dispatch — one pipeline step.
type JobSpec struct {
	JobID   string
	JobName string
	Token   string

	Source Source
	Build  Build

	Resources ResourceRequest

	PVCID             string
	FirstPipelineStep bool

	Command string // user command the agent execs inside the pod

	NodeID string // optional explicit node pin

	Config  map[string]string
	Secrets map[string]string

	ForceBuild bool
}

// ImageArtifact is the resolved, deterministic identity of a built image.
type ImageArtifact struct {
	Registry       string
	RegistryPrefix string
	NormalizedSource string
	DockerfileHash string
	CommitHash     string
}

// Tag renders the bit-exact tag format from spec.md §6:
// <registry>/<prefix><normalized_source>-<dockerfile_hash7>:<commit_hash7>
func (a ImageArtifact) Tag() string {
	return a.Registry + "/" + a.RegistryPrefix + a.NormalizedSource + "-" + a.DockerfileHash + ":" + a.CommitHash
}

// PVCPhase enumerates the lifecycle states a PersistentVolumeClaim traverses.
type PVCPhase string

const (
	PVCAbsent   PVCPhase = "Absent"
	PVCPending  PVCPhase = "Pending"
	PVCBound    PVCPhase = "Bound"
	PVCReleased PVCPhase = "Released"
	PVCLost     PVCPhase = "Lost"
)

// LogChunk is one durable unit uploaded to the control plane.
type LogChunk struct {
	Filename string
	Bytes    []byte
}

// JobStatus is the finite set of states reported to the control plane.
type JobStatus string

const (
	StatusPreparing  JobStatus = "PREPARING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusDone       JobStatus = "DONE"
	StatusError      JobStatus = "ERROR"
)

// EventKind is the subset of Kubernetes object kinds the event watcher cares
// about when deriving a task_id.
type EventKind string

const (
	EventKindPod EventKind = "Pod"
	EventKindJob EventKind = "Job"
)

// EventRecord is the outbound payload fanned out to the control-plane
// webhook for every cluster event observed.
type EventRecord struct {
	Timestamp          string `json:"timestamp"`
	UID                string `json:"uid"`
	Reason             string `json:"reason"`
	Message            string `json:"message"`
	Kind               string `json:"kind"`
	InvolvedObjectName string `json:"involved_object_name"`
	TaskID             string `json:"task_id"`
}
