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
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/iiasa/wkube-core/internal/model"
	"github.com/iiasa/wkube-core/internal/pvcmanager"
)

func newLauncherScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))
	require.NoError(t, batchv1.AddToScheme(scheme))
	return scheme
}

func TestMonitor_SucceededReturnsNil(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "job-1-abcde", Namespace: "ns", Labels: map[string]string{"job-name": "job-1"}},
		Status:     corev1.PodStatus{Phase: corev1.PodSucceeded},
	}
	c := fake.NewClientBuilder().WithScheme(newLauncherScheme(t)).WithObjects(pod).Build()
	l := NewLauncher(c, "ns", pvcmanager.New(c, "ns", logr.Discard()), logr.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, l.Monitor(ctx, "job-1"))
}

func TestMonitor_FailedDeletesJobAndReturnsFailedPhase(t *testing.T) {
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "job-1", Namespace: "ns"}}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "job-1-abcde", Namespace: "ns", Labels: map[string]string{"job-name": "job-1"}},
		Status:     corev1.PodStatus{Phase: corev1.PodFailed, Reason: "Error"},
	}
	c := fake.NewClientBuilder().WithScheme(newLauncherScheme(t)).WithObjects(job, pod).Build()
	l := NewLauncher(c, "ns", pvcmanager.New(c, "ns", logr.Discard()), logr.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := l.Monitor(ctx, "job-1")
	require.Error(t, err)
	var fp *model.FailedPhaseError
	require.ErrorAs(t, err, &fp)
	assert.Equal(t, "Error", fp.Reason)
}

func TestWaitForSinglePod_InvariantOnMultiplePods(t *testing.T) {
	pod1 := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "ns", Labels: map[string]string{"job-name": "job-1"}}}
	pod2 := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "b", Namespace: "ns", Labels: map[string]string{"job-name": "job-1"}}}
	c := fake.NewClientBuilder().WithScheme(newLauncherScheme(t)).WithObjects(pod1, pod2).Build()
	l := NewLauncher(c, "ns", pvcmanager.New(c, "ns", logr.Discard()), logr.Discard())

	err := l.waitForSinglePod(context.Background(), "job-1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "invariant")
}

func TestPreparePVC_FirstStepDeletesExistingThenRecreates(t *testing.T) {
	existing := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "pvc-1", Namespace: "ns"},
		Status:     corev1.PersistentVolumeClaimStatus{Phase: corev1.ClaimBound},
	}
	c := fake.NewClientBuilder().WithScheme(newLauncherScheme(t)).WithObjects(existing).WithStatusSubresource(existing).Build()
	l := NewLauncher(c, "ns", pvcmanager.New(c, "ns", logr.Discard()), logr.Discard())

	// The fake client has no binder controller, so the recreated PVC never
	// reaches Bound on its own; PreparePVC's final WaitBound keeps polling
	// until the context is cancelled. This test only asserts the
	// delete-then-recreate side effect, not the unreachable Bound wait.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := l.PreparePVC(ctx, "pvc-1", true, "10Gi", "")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	pvc := &corev1.PersistentVolumeClaim{}
	require.NoError(t, c.Get(context.Background(), client.ObjectKey{Name: "pvc-1", Namespace: "ns"}, pvc))
	assert.Equal(t, "", string(pvc.Status.Phase))
}
