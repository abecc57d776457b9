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

package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/iiasa/wkube-core/internal/controlplane"
)

func TestDeriveTaskID(t *testing.T) {
	id, ok := deriveTaskID("Pod", "task-123-xyz")
	require.True(t, ok)
	assert.Equal(t, "task-123", id)

	id, ok = deriveTaskID("Job", "task-123")
	require.True(t, ok)
	assert.Equal(t, "task-123", id)

	_, ok = deriveTaskID("Node", "node-1")
	assert.False(t, ok)
}

// S6 from spec.md §7: one Pod event with name "task-123-xyz" fans out as one
// webhook POST carrying task_id="task-123".
func TestRun_FansOutPodEventToWebhook(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app-tok", r.Header.Get("X-App-Token"))
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clientset := k8sfake.NewSimpleClientset()
	watcher := New(clientset, "ns", srv.URL, "app-tok", 2, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = watcher.Run(ctx)
	}()

	// give watchOnce time to establish its watch before the event is created
	time.Sleep(50 * time.Millisecond)

	evt := &corev1.Event{
		ObjectMeta:     metav1.ObjectMeta{Name: "task-123-xyz.abc", Namespace: "ns", UID: "uid-1"},
		InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: "task-123-xyz"},
		Reason:         "Scheduled",
		Message:        "assigned",
		LastTimestamp:  metav1.Now(),
	}
	_, err := clientset.CoreV1().Events("ns").Create(ctx, evt, metav1.CreateOptions{})
	require.NoError(t, err)

	select {
	case body := <-received:
		envelope := struct {
			Type string `json:"type"`
			Data map[string]interface{}
		}{}
		_ = mapToStruct(body, &envelope)
		assert.Equal(t, controlplane.WebhookEventType, envelope.Type)
		assert.Equal(t, "task-123", envelope.Data["task_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook POST")
	}

	cancel()
	wg.Wait()
}

func mapToStruct(m map[string]interface{}, out interface{}) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}
