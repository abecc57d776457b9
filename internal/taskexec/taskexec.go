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

// Package taskexec defines the narrow boundary between this module and the
// external message-queue/task-runner framework. spec.md §1 calls that
// framework out as a deliberately out-of-scope "external collaborator...
// treated as an abstract task executor" — only its interface appears here;
// no broker, queue, or retry-backoff implementation lives in this module.
package taskexec

import (
	"context"

	"github.com/iiasa/wkube-core/internal/model"
)

// Task is one unit of work the executor hands to this module.
type Task struct {
	JobID string
	Spec  model.JobSpec
}

// Handler is the shape of work the executor invokes per Task; a
// taskentry.Run call closed over a concrete dispatch.Dispatcher satisfies
// this.
type Handler func(ctx context.Context, task Task) error

// Executor is the abstract boundary to the broker/task-runner framework
// (spec.md §1 Non-goals, §5 "one of many concurrent tasks serviced by the
// external task executor"). No implementation lives in this module; a real
// executor wires into this interface from outside.
type Executor interface {
	// Submit enqueues task for eventual invocation against handler.
	Submit(ctx context.Context, task Task, handler Handler) error
}

// Outcome is the signal this module hands back across the executor boundary
// once a task invocation returns, so the executor can decide whether to
// resubmit (spec.md §7 error taxonomy).
type Outcome int

const (
	// OutcomeDone: the task returned without error (a soft timeout
	// included); in-process tasks have already reported DONE.
	OutcomeDone Outcome = iota
	// OutcomeRetry: the task failed with a PodPendingStuck or Failed-phase
	// error; recovery is local only up to deleting the job; the executor
	// owns rescheduling it at the task-retry boundary.
	OutcomeRetry
	// OutcomeError: the task failed with a non-retryable error and an ERROR
	// status was already reported; no resubmission.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeRetry:
		return "retry"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// OutcomeFor classifies a taskentry.Run return value into the Outcome this
// module hands back across the executor boundary.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDone
	case model.IsRetryable(err):
		return OutcomeRetry
	default:
		return OutcomeError
	}
}
