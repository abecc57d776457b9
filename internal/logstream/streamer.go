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

// Package logstream implements the Remote Log Streamer module (spec.md
// §4.4): a writer that stands in for process stdout/stderr during task
// execution, buffering output and durably uploading it through a bounded
// worker pool.
package logstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iiasa/wkube-core/internal/model"
)

const (
	flushInterval      = 10 * time.Second
	defaultPoolWorkers = 20
)

// Uploader is the control-plane surface the streamer needs: uploading log
// chunks and probing job health. *controlplane.Client satisfies this.
type Uploader interface {
	AddLogFile(ctx context.Context, chunk model.LogChunk) (healthy bool, err error)
	CheckJobHealth(ctx context.Context) (healthy bool, err error)
}

// Streamer is a writer that stands in for stdout/stderr during task
// execution (spec.md §4.4). The buffer mutex stands in for the reentrant
// mutex of the original design — every call site here is non-reentrant, so
// a plain sync.Mutex suffices.
type Streamer struct {
	uploader Uploader
	jobID    string

	mu  sync.Mutex // protects buf, counter, flushInFlight, closed
	buf []byte

	counter       int64 // filename counter, seeded from Unix time at construction
	flushInFlight bool
	closed        bool

	unhealthyMu sync.Mutex
	unhealthy   bool

	poolCtx    context.Context // cancelled to abandon in-flight pool uploads without waiting
	cancelPool context.CancelFunc
	pool       chan struct{} // bounded worker-pool admission tickets
	wg         sync.WaitGroup

	timerStop chan struct{}
	timerDone chan struct{}
}

// New constructs a Streamer bound to jobID, uploading through uploader. The
// background flush timer starts immediately; callers must call Close.
func New(parentCtx context.Context, uploader Uploader, jobID string, nowUnix int64, poolWorkers int) *Streamer {
	if poolWorkers <= 0 {
		poolWorkers = defaultPoolWorkers
	}
	poolCtx, cancelPool := context.WithCancel(parentCtx)

	s := &Streamer{
		uploader:  uploader,
		jobID:     jobID,
		counter:   nowUnix,
		pool:      make(chan struct{}, poolWorkers),
		poolCtx:   poolCtx,
		cancelPool: cancelPool,
		timerStop: make(chan struct{}),
		timerDone: make(chan struct{}),
	}

	go s.timerLoop()
	return s
}

// unhealthyMarker is appended after the triggering write's own bytes once
// the unhealthy signal has been raised (spec.md §8 S4), matching
// original_source/acc_worker/acc_native_jobs/__init__.py's
// `'\n **** Job is not healthy anymore **** \n'` literal exactly.
const unhealthyMarker = "\n **** Job is not healthy anymore **** \n"

// Write implements io.Writer. It never blocks the caller for network I/O:
// bytes are appended to the in-memory buffer under mu and return
// immediately. Once the unhealthy signal has been raised, the next Write
// appends its own bytes followed by the marker line, performs a synchronous
// final flush, cancels the worker pool without waiting for it to drain, and
// returns a HealthLostError.
func (s *Streamer) Write(p []byte) (int, error) {
	s.unhealthyMu.Lock()
	unhealthy := s.unhealthy
	s.unhealthyMu.Unlock()

	if unhealthy {
		s.mu.Lock()
		s.buf = append(s.buf, p...)
		s.buf = append(s.buf, []byte(unhealthyMarker)...)
		s.mu.Unlock()

		s.flushBlocking()
		s.cancelPool()

		return 0, &model.HealthLostError{JobID: s.jobID}
	}

	s.mu.Lock()
	s.buf = append(s.buf, p...)
	s.mu.Unlock()
	return len(p), nil
}

func (s *Streamer) timerLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	defer close(s.timerDone)

	for {
		select {
		case <-s.timerStop:
			return
		case <-ticker.C:
			s.unhealthyMu.Lock()
			raised := s.unhealthy
			s.unhealthyMu.Unlock()
			if !raised {
				s.flushAsync()
			}
		}
	}
}

// flushAsync is the timer-driven path: it enforces the single-in-flight
// guard, then submits the snapshot to the bounded pool without blocking the
// timer goroutine.
func (s *Streamer) flushAsync() {
	snapshot, ok := s.takeSnapshotForFlush()
	if !ok {
		return
	}

	s.pool <- struct{}{}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.pool }()
		s.deliver(snapshot)
		s.mu.Lock()
		s.flushInFlight = false
		s.mu.Unlock()
	}()
}

// flushBlocking delivers the current buffer synchronously, bypassing the
// pool, used on the unhealthy path and on Close where the caller must
// observe completion before proceeding.
func (s *Streamer) flushBlocking() {
	snapshot, ok := s.takeSnapshotForFlush()
	if !ok {
		return
	}
	s.deliver(snapshot)
	s.mu.Lock()
	s.flushInFlight = false
	s.mu.Unlock()
}

func (s *Streamer) takeSnapshotForFlush() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushInFlight {
		return nil, false
	}
	s.flushInFlight = true
	snapshot := s.buf
	s.buf = nil
	return snapshot, true
}

// deliver uploads snapshot, or — if empty — submits a health probe instead.
func (s *Streamer) deliver(snapshot []byte) {
	if len(snapshot) == 0 {
		s.probeHealth()
		return
	}
	s.uploadChunk(snapshot)
}

func (s *Streamer) uploadChunk(data []byte) {
	s.mu.Lock()
	s.counter++
	filename := fmt.Sprintf("%d.log", s.counter)
	s.mu.Unlock()

	healthy, err := s.uploader.AddLogFile(s.poolCtx, model.LogChunk{Filename: filename, Bytes: data})
	if err != nil {
		return
	}
	if !healthy {
		s.raiseUnhealthy()
	}
}

func (s *Streamer) probeHealth() {
	healthy, err := s.uploader.CheckJobHealth(s.poolCtx)
	if err != nil {
		return
	}
	if !healthy {
		s.raiseUnhealthy()
	}
}

func (s *Streamer) raiseUnhealthy() {
	s.unhealthyMu.Lock()
	s.unhealthy = true
	s.unhealthyMu.Unlock()
}

// Close stops the timer, performs a synchronous final flush, and waits for
// the worker pool to drain.
func (s *Streamer) Close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return
	}

	close(s.timerStop)
	<-s.timerDone
	s.flushBlocking()
	s.wg.Wait()
}
