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

package logstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iiasa/wkube-core/internal/model"
)

type fakeUploader struct {
	mu          sync.Mutex
	chunks      []model.LogChunk
	healthReply bool
	failNext    bool
}

func (f *fakeUploader) AddLogFile(ctx context.Context, chunk model.LogChunk) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	return f.healthReply, nil
}

func (f *fakeUploader) CheckJobHealth(ctx context.Context) (bool, error) {
	return f.healthReply, nil
}

func TestWrite_NeverBlocksAndBuffers(t *testing.T) {
	u := &fakeUploader{healthReply: true}
	s := New(context.Background(), u, "job-1", 1000, 2)
	defer s.Close()

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestClose_FlushesRemainingBuffer(t *testing.T) {
	u := &fakeUploader{healthReply: true}
	s := New(context.Background(), u, "job-1", 1000, 2)

	_, err := s.Write([]byte("hello"))
	require.NoError(t, err)

	s.Close()

	u.mu.Lock()
	defer u.mu.Unlock()
	require.Len(t, u.chunks, 1)
	assert.Equal(t, "hello", string(u.chunks[0].Bytes))
	assert.Equal(t, "1001.log", u.chunks[0].Filename)
}

func TestWrite_UnhealthyUploadRaisesSignalOnNextWrite(t *testing.T) {
	u := &fakeUploader{healthReply: false}
	s := New(context.Background(), u, "job-1", 1000, 2)
	defer s.wg.Wait()

	_, err := s.Write([]byte("first"))
	require.NoError(t, err)

	s.flushBlocking() // force the unhealthy reply to be observed deterministically

	_, err = s.Write([]byte("second"))
	require.Error(t, err)
	var hl *model.HealthLostError
	require.ErrorAs(t, err, &hl)
	assert.Equal(t, "job-1", hl.JobID)
}

// TestWrite_UnhealthyAppendsExactMarkerLiteral pins the exact chunk contents
// around a health loss: "hello\n" goes up in the chunk whose reply is
// unhealthy, and the final chunk holds the triggering write's own bytes, then
// the literal "\n **** Job is not healthy anymore **** \n" marker — not just
// that an error of the right kind is returned.
func TestWrite_UnhealthyAppendsExactMarkerLiteral(t *testing.T) {
	u := &fakeUploader{healthReply: false}
	s := New(context.Background(), u, "job-1", 1000, 2)
	defer s.wg.Wait()

	_, err := s.Write([]byte("hello\n"))
	require.NoError(t, err)

	s.flushBlocking() // force the unhealthy reply to be observed deterministically

	_, err = s.Write([]byte("world\n"))
	require.Error(t, err)

	u.mu.Lock()
	defer u.mu.Unlock()
	require.Len(t, u.chunks, 2)
	assert.Equal(t, "hello\n", string(u.chunks[0].Bytes))
	assert.Equal(t, "world\n\n **** Job is not healthy anymore **** \n", string(u.chunks[1].Bytes))
}

func TestClose_IsIdempotent(t *testing.T) {
	u := &fakeUploader{healthReply: true}
	s := New(context.Background(), u, "job-1", 1000, 2)
	s.Close()
	assert.NotPanics(t, func() { s.Close() })
}

func TestFlushAsync_SingleInFlightGuard(t *testing.T) {
	u := &fakeUploader{healthReply: true}
	s := New(context.Background(), u, "job-1", 1000, 2)
	defer s.Close()

	_, err := s.Write([]byte("data"))
	require.NoError(t, err)

	s.flushAsync()
	s.flushAsync() // second call should be a no-op while the first is in flight

	time.Sleep(20 * time.Millisecond)

	u.mu.Lock()
	defer u.mu.Unlock()
	assert.Len(t, u.chunks, 1)
}
