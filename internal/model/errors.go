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

package model

import (
	"errors"
	"fmt"
)

// The error taxonomy below (spec.md §4) is shared by the image builder, PVC
// manager, job launcher, and dispatcher, which is why it lives alongside the
// other domain types rather than in any one of those packages: dispatch
// orchestrates image and jobs, so neither of those lower packages can depend
// back on a dispatch-owned error type without a cycle.

// BadSpecError signals a JobSpec that fails validation (missing/conflicting
// build descriptor, malformed resource request, and similar).
type BadSpecError struct {
	Reason string
}

func (e *BadSpecError) Error() string { return "bad spec: " + e.Reason }

// SourceFetchError signals a Git or object-store source that could not be
// fetched.
type SourceFetchError struct {
	Source string
	Err    error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("source fetch failed for %s: %v", e.Source, e.Err)
}
func (e *SourceFetchError) Unwrap() error { return e.Err }

// BuildFailedError signals a non-zero exit from the external OCI build
// invocation.
type BuildFailedError struct {
	Tag    string
	Output string
	Err    error
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("build failed for %s: %v", e.Tag, e.Err)
}
func (e *BuildFailedError) Unwrap() error { return e.Err }

// PushFailedError signals a non-zero exit from the external OCI push
// invocation.
type PushFailedError struct {
	Tag    string
	Output string
	Err    error
}

func (e *PushFailedError) Error() string {
	return fmt.Sprintf("push failed for %s: %v", e.Tag, e.Err)
}
func (e *PushFailedError) Unwrap() error { return e.Err }

// ConflictError signals a Kubernetes AlreadyExists response that could not
// be resolved: deleting the existing object failed, or the one retry after
// deleting it failed too.
type ConflictError struct {
	Resource string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict creating %s: %v", e.Resource, e.Err)
}
func (e *ConflictError) Unwrap() error { return e.Err }

// PodPendingStuckError signals a pod that never left Pending within the
// tolerated window.
type PodPendingStuckError struct {
	PodName string
}

func (e *PodPendingStuckError) Error() string {
	return fmt.Sprintf("pod %s stuck Pending", e.PodName)
}

// FailedPhaseError signals a pod that reached phase Failed.
type FailedPhaseError struct {
	PodName string
	Reason  string
}

func (e *FailedPhaseError) Error() string {
	return fmt.Sprintf("pod %s failed: %s", e.PodName, e.Reason)
}

// InfrastructureLostError signals a PVC that reached phase Lost.
type InfrastructureLostError struct {
	PVCName string
}

func (e *InfrastructureLostError) Error() string {
	return fmt.Sprintf("pvc %s lost", e.PVCName)
}

// HealthLostError signals a job whose log stream reported an unhealthy
// control-plane verdict.
type HealthLostError struct {
	JobID string
}

func (e *HealthLostError) Error() string {
	return fmt.Sprintf("job %s is not healthy anymore", e.JobID)
}

// IsBadSpec reports whether err is (or wraps) a *BadSpecError.
func IsBadSpec(err error) bool {
	var e *BadSpecError
	return errors.As(err, &e)
}

// IsSourceFetch reports whether err is (or wraps) a *SourceFetchError.
func IsSourceFetch(err error) bool {
	var e *SourceFetchError
	return errors.As(err, &e)
}

// IsBuildFailed reports whether err is (or wraps) a *BuildFailedError.
func IsBuildFailed(err error) bool {
	var e *BuildFailedError
	return errors.As(err, &e)
}

// IsPushFailed reports whether err is (or wraps) a *PushFailedError.
func IsPushFailed(err error) bool {
	var e *PushFailedError
	return errors.As(err, &e)
}

// IsConflict reports whether err is (or wraps) a *ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsInfrastructureLost reports whether err is (or wraps) an *InfrastructureLostError.
func IsInfrastructureLost(err error) bool {
	var e *InfrastructureLostError
	return errors.As(err, &e)
}

// IsHealthLost reports whether err is (or wraps) a *HealthLostError.
func IsHealthLost(err error) bool {
	var e *HealthLostError
	return errors.As(err, &e)
}

// IsFailedPhase reports whether err is (or wraps) a *FailedPhaseError.
func IsFailedPhase(err error) bool {
	var e *FailedPhaseError
	return errors.As(err, &e)
}

// IsPodPendingStuck reports whether err is (or wraps) a *PodPendingStuckError.
func IsPodPendingStuck(err error) bool {
	var e *PodPendingStuckError
	return errors.As(err, &e)
}

// NotImplementedError signals a validation Strategy variant with no
// implementation yet (spec.md §9 Design Notes: "others return NotImplemented
// in a structured error").
type NotImplementedError struct {
	Strategy string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("validation strategy %s not implemented", e.Strategy)
}

// IsNotImplemented reports whether err is (or wraps) a *NotImplementedError.
func IsNotImplemented(err error) bool {
	var e *NotImplementedError
	return errors.As(err, &e)
}

// IsRetryable reports whether err should be recovered at the task-retry
// boundary rather than surfaced as a terminal ERROR status (spec.md §7:
// "Recovery is local only for Conflict and for PodPendingStuck/Failed at the
// task-retry boundary"). Conflict is recovered locally by the launcher's own
// retry and never reaches this check.
func IsRetryable(err error) bool {
	return IsFailedPhase(err) || IsPodPendingStuck(err)
}
