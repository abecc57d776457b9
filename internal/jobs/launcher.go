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

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/iiasa/wkube-core/internal/model"
	"github.com/iiasa/wkube-core/internal/pvcmanager"
)

const (
	podAppearancePoll = 5 * time.Second
	podPhasePoll      = 3 * time.Second
	conflictRetryWait = 5 * time.Second
)

// Launcher submits and monitors Jobs against one namespace.
type Launcher struct {
	client    client.Client
	namespace string
	pvc       *pvcmanager.Manager
	log       logr.Logger
}

// NewLauncher constructs a Launcher bound to namespace.
func NewLauncher(c client.Client, namespace string, pvc *pvcmanager.Manager, log logr.Logger) *Launcher {
	return &Launcher{client: c, namespace: namespace, pvc: pvc, log: log}
}

// PreparePVC implements the first-step semantics from spec.md §4.3: when
// firstPipelineStep is true and the PVC exists, it is fully deleted (polled
// to absence) and then re-created; an existing PVC is otherwise kept, and a
// missing one is created. In every case it then waits for Bound.
func (l *Launcher) PreparePVC(ctx context.Context, pvcID string, firstPipelineStep bool, size, storageClass string) error {
	_, err := l.pvc.Get(ctx, pvcID)
	exists := err == nil
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("jobs: get pvc %s: %w", pvcID, err)
	}

	if exists && firstPipelineStep {
		l.pvc.Delete(ctx, pvcID)
		if err := l.pvc.WaitAbsent(ctx, pvcID); err != nil {
			return fmt.Errorf("jobs: wait for pvc %s deletion: %w", pvcID, err)
		}
		exists = false
	}

	if !exists {
		if err := l.pvc.Create(ctx, pvcID, size, storageClass); err != nil {
			return fmt.Errorf("jobs: create pvc %s: %w", pvcID, err)
		}
	}

	return l.pvc.WaitBound(ctx, pvcID)
}

// Submit creates job, retrying once on Conflict by deleting the existing
// Job with foreground propagation, sleeping 5s, and retrying
// (spec.md §4.3). After creation it waits for exactly one pod to appear.
func (l *Launcher) Submit(ctx context.Context, job *batchv1.Job) error {
	err := l.client.Create(ctx, job)
	if err == nil {
		return l.waitForSinglePod(ctx, job.Name)
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("jobs: create job %s: %w", job.Name, err)
	}

	l.log.Info("job already exists, deleting and retrying", "job", job.Name)
	if delErr := l.deleteJobForeground(ctx, job.Name); delErr != nil {
		return &model.ConflictError{Resource: "job/" + job.Name, Err: delErr}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(conflictRetryWait):
	}

	if err := l.client.Create(ctx, job); err != nil {
		return &model.ConflictError{Resource: "job/" + job.Name, Err: err}
	}
	return l.waitForSinglePod(ctx, job.Name)
}

func (l *Launcher) deleteJobForeground(ctx context.Context, jobName string) error {
	propagation := metav1.DeletePropagationForeground
	existing := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: jobName, Namespace: l.namespace}}
	err := l.client.Delete(ctx, existing, &client.DeleteOptions{PropagationPolicy: &propagation})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

// waitForSinglePod polls the namespace for pods labeled job-name=jobName
// until exactly one exists, failing with Invariant if more than one
// appears.
func (l *Launcher) waitForSinglePod(ctx context.Context, jobName string) error {
	ticker := time.NewTicker(podAppearancePoll)
	defer ticker.Stop()

	for {
		pods := &corev1.PodList{}
		err := l.client.List(ctx, pods, client.InNamespace(l.namespace), client.MatchingLabels{"job-name": jobName})
		if err != nil {
			l.log.Error(err, "error listing pods for job", "job", jobName)
		} else {
			switch len(pods.Items) {
			case 0:
				// not yet scheduled, keep polling
			case 1:
				return nil
			default:
				return fmt.Errorf("invariant: %d pods found for job %s, expected at most 1", len(pods.Items), jobName)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Monitor polls pod phase every 3s. On Succeeded or Running it returns nil
// (streaming continues via the agent). On Failed it deletes the Job with
// foreground propagation and returns *model.FailedPhaseError so the caller
// can schedule a task-level retry. Pending is tolerated indefinitely —
// activeDeadlineSeconds bounds it upstream (spec.md §4.3).
func (l *Launcher) Monitor(ctx context.Context, jobName string) error {
	ticker := time.NewTicker(podPhasePoll)
	defer ticker.Stop()

	for {
		pods := &corev1.PodList{}
		err := l.client.List(ctx, pods, client.InNamespace(l.namespace), client.MatchingLabels{"job-name": jobName})
		if err != nil {
			l.log.Error(err, "error listing pods during monitor", "job", jobName)
		} else if len(pods.Items) == 1 {
			pod := pods.Items[0]
			switch pod.Status.Phase {
			case corev1.PodSucceeded, corev1.PodRunning:
				return nil
			case corev1.PodFailed:
				if delErr := l.deleteJobForeground(ctx, jobName); delErr != nil {
					l.log.Error(delErr, "failed to delete failed job", "job", jobName)
				}
				return &model.FailedPhaseError{PodName: pod.Name, Reason: pod.Status.Reason}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
