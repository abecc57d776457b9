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

// Package events implements the Event Watcher module (spec.md §4.7): a
// standalone long-running process that tails namespace events and fans each
// one out to the control-plane webhook through a bounded worker pool. The
// watch/reconnect shape is grounded on the teacher pack's
// `GoogleContainerTools-skaffold` `k8sjob/logger/log.go`'s
// `clientset.CoreV1().Pods().Watch(...)` + `w.ResultChan()` idiom.
package events

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/iiasa/wkube-core/internal/controlplane"
	"github.com/iiasa/wkube-core/internal/model"
)

// defaultPoolWorkers is the default bounded worker-pool size (spec.md §4.7).
const defaultPoolWorkers = 10

// Watcher streams cluster events for one namespace and fans them out to the
// control-plane webhook.
type Watcher struct {
	clientset  kubernetes.Interface
	namespace  string
	httpClient *http.Client
	webhookURL string
	appToken   string
	poolSize   int
	log        logr.Logger
}

// New constructs a Watcher. poolSize <= 0 uses defaultPoolWorkers.
func New(clientset kubernetes.Interface, namespace, webhookURL, appToken string, poolSize int, log logr.Logger) *Watcher {
	if poolSize <= 0 {
		poolSize = defaultPoolWorkers
	}
	return &Watcher{
		clientset:  clientset,
		namespace:  namespace,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		webhookURL: webhookURL,
		appToken:   appToken,
		poolSize:   poolSize,
		log:        log.WithName("event-watcher"),
	}
}

// Run opens the event watch and blocks, fanning out events until ctx is
// cancelled or an unrecoverable error occurs (spec.md §4.7: "On other API
// errors or unexpected exceptions, shut down the pool and exit").
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := w.watchOnce(ctx)
		if err == nil {
			if ctx.Err() != nil {
				return nil // ctx cancelled cleanly inside watchOnce
			}
			w.log.Info("event watch channel closed, reconnecting")
			continue
		}
		if apierrors.IsResourceExpired(err) {
			w.log.Info("event watch resource version expired, reconnecting")
			continue
		}
		return err
	}
}

// watchOnce runs a single watch session until it ends (channel closed, a
// non-recoverable error arrives, or ctx is cancelled), fanning out every
// event through a bounded worker pool scoped to this session.
func (w *Watcher) watchOnce(ctx context.Context) error {
	watcher, err := w.clientset.CoreV1().Events(w.namespace).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	pool := make(chan struct{}, w.poolSize)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.ResultChan():
			if !ok {
				return nil
			}
			if evt.Type == watch.Error {
				if status, ok := evt.Object.(*metav1.Status); ok {
					return apierrors.FromObject(status)
				}
				continue
			}

			kubeEvent, ok := evt.Object.(*corev1.Event)
			if !ok {
				continue
			}

			rec, ok := toEventRecord(kubeEvent)
			if !ok {
				continue
			}

			pool <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-pool }()
				if err := controlplane.PostWebhookEvent(ctx, w.httpClient, w.webhookURL, w.appToken, rec); err != nil {
					w.log.Error(err, "failed to post webhook event", "uid", rec.UID)
				}
			}()
		}
	}
}

// toEventRecord extracts spec.md §3's Event Record shape from a core/v1
// Event, deriving task_id per spec.md §3/§7 S6 ("for kind=Pod by stripping
// the final -<suffix> segment; for kind=Job the name itself; other kinds are
// dropped").
func toEventRecord(evt *corev1.Event) (model.EventRecord, bool) {
	taskID, ok := deriveTaskID(evt.InvolvedObject.Kind, evt.InvolvedObject.Name)
	if !ok {
		return model.EventRecord{}, false
	}

	ts := evt.LastTimestamp.Time
	if ts.IsZero() {
		ts = evt.EventTime.Time
	}

	return model.EventRecord{
		Timestamp:          ts.UTC().Format(time.RFC3339),
		UID:                string(evt.UID),
		Reason:             evt.Reason,
		Message:            evt.Message,
		Kind:               evt.InvolvedObject.Kind,
		InvolvedObjectName: evt.InvolvedObject.Name,
		TaskID:             taskID,
	}, true
}

func deriveTaskID(kind, name string) (string, bool) {
	switch model.EventKind(kind) {
	case model.EventKindPod:
		idx := strings.LastIndex(name, "-")
		if idx < 0 {
			return name, true
		}
		return name[:idx], true
	case model.EventKindJob:
		return name, true
	default:
		return "", false
	}
}
