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

// Package taskentry implements the Task Entry Wrapper module (spec.md
// §4.5): it adapts a user task handler to the status/log-streaming
// contract every dispatch runs under.
package taskentry

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/iiasa/wkube-core/internal/controlplane"
	"github.com/iiasa/wkube-core/internal/logstream"
	"github.com/iiasa/wkube-core/internal/model"
)

// Handler is a user task body. A nil return is success; ErrSoftTimeout
// signals the soft-timeout path described in spec.md §4.5.
type Handler func(ctx context.Context, stream *logstream.Streamer) error

// ErrSoftTimeout is returned by a Handler to signal a soft timeout: the
// wrapper prints "Job timeout" and returns without treating it as failure.
var ErrSoftTimeout = fmt.Errorf("job timeout")

// Mode selects which status the wrapper sets before invoking the handler.
type Mode int

const (
	// ModeBuildAndLaunch sets PREPARING before invocation and reports no
	// DONE status on success; the terminal status is left to the caller.
	ModeBuildAndLaunch Mode = iota
	// ModeInProcess sets PROCESSING before invocation and sets DONE itself
	// on success.
	ModeInProcess
)

// Run adapts handler to the subsystem contract: it constructs a control-
// plane client from token, reports the entry status for mode, builds a log
// streamer, invokes handler, and guarantees the stream is closed on every
// exit path (spec.md §4.5).
func Run(ctx context.Context, controlPlaneURL, token, jobID string, mode Mode, poolWorkers int, handler Handler) error {
	cp := controlplane.New(controlPlaneURL, token)

	entryStatus := model.StatusProcessing
	if mode == ModeBuildAndLaunch {
		entryStatus = model.StatusPreparing
	}
	if err := cp.UpdateJobStatus(ctx, entryStatus); err != nil {
		return fmt.Errorf("taskentry: report entry status: %w", err)
	}

	stream := logstream.New(ctx, cp, jobID, time.Now().Unix(), poolWorkers)
	defer stream.Close()

	err := invoke(ctx, handler, stream)
	switch {
	case err == nil:
		if mode == ModeInProcess {
			if statusErr := cp.UpdateJobStatus(ctx, model.StatusDone); statusErr != nil {
				return fmt.Errorf("taskentry: report done status: %w", statusErr)
			}
		}
		return nil

	case err == ErrSoftTimeout:
		fmt.Fprintln(stream, "Job timeout")
		return nil

	case model.IsRetryable(err):
		// spec.md §7: recovery for PodPendingStuck/Failed is local to the
		// task-retry boundary — the (out-of-scope) task executor re-invokes
		// this task, so no terminal ERROR status is reported here.
		fmt.Fprintln(stream, err.Error())
		return err

	default:
		fmt.Fprintln(stream, err.Error())
		if statusErr := cp.UpdateJobStatus(ctx, model.StatusError); statusErr != nil {
			return fmt.Errorf("taskentry: report error status (after handler error %v): %w", err, statusErr)
		}
		return err
	}
}

// invoke runs handler, converting a panic into the same error path a
// returned error takes, capturing the full stack trace into the log stream
// (spec.md §4.5: "capture the full traceback into the log stream").
func invoke(ctx context.Context, handler Handler, stream *logstream.Streamer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stream, "panic: %v\n%s\n", r, debug.Stack())
			err = fmt.Errorf("taskentry: handler panicked: %v", r)
		}
	}()
	return handler(ctx, stream)
}
