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

package periodic

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/iiasa/wkube-core/internal/controlplane"
)

// stalledSweepInterval is the stalled-job sweep schedule (spec.md §4.6).
const stalledSweepInterval = 30 * time.Minute

// StalledJobSweeper periodically triggers the control plane's stalled-job
// status sweep and surfaces any HTTP error.
type StalledJobSweeper struct {
	cp  *controlplane.Client
	log logr.Logger
}

// NewStalledJobSweeper constructs a StalledJobSweeper.
func NewStalledJobSweeper(cp *controlplane.Client, log logr.Logger) *StalledJobSweeper {
	return &StalledJobSweeper{cp: cp, log: log.WithName("stalled-sweep")}
}

// Run blocks, triggering RunOnce every stalledSweepInterval until ctx is
// cancelled.
func (s *StalledJobSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(stalledSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error(err, "stalled-job sweep pass failed")
			}
		}
	}
}

// RunOnce triggers one stalled-job status sweep (spec.md §4.6).
func (s *StalledJobSweeper) RunOnce(ctx context.Context) error {
	if err := s.cp.UpdateStalledJobsStatus(ctx); err != nil {
		return fmt.Errorf("periodic: update stalled jobs status: %w", err)
	}
	return nil
}
