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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/iiasa/wkube-core/internal/controlplane"
)

func newPeriodicScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))
	return scheme
}

// newFilterPendingStub returns a control-plane stub whose filter-pending-pvcs
// RPC reports pending exactly the names in pending.
func newFilterPendingStub(t *testing.T, pending []string) (*controlplane.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pvcs/filter-pending" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]string{"pending": pending})
	}))
	return controlplane.New(srv.URL, "tok"), srv.Close
}

// S5 from spec.md §7: PVCs {a,b,c}; pods reference {a}; control plane
// reports {b} pending. Expected: c is deleted, a and b untouched.
func TestRunOnce_DeletesOnlyUnboundAndNonPending(t *testing.T) {
	pvcA := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "ns"}}
	pvcB := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "b", Namespace: "ns"}}
	pvcC := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "c", Namespace: "ns"}}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "pod-a", Namespace: "ns"},
		Spec: corev1.PodSpec{
			Volumes: []corev1.Volume{{
				Name: "data",
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "a"},
				},
			}},
		},
	}

	c := fake.NewClientBuilder().WithScheme(newPeriodicScheme(t)).WithObjects(pvcA, pvcB, pvcC, pod).Build()
	cp, closeSrv := newFilterPendingStub(t, []string{"b"})
	defer closeSrv()

	s := NewOrphanSweeper(c, "ns", cp, logr.Discard())
	require.NoError(t, s.RunOnce(context.Background()))

	assert.NoError(t, c.Get(context.Background(), client.ObjectKey{Name: "a", Namespace: "ns"}, &corev1.PersistentVolumeClaim{}))
	assert.NoError(t, c.Get(context.Background(), client.ObjectKey{Name: "b", Namespace: "ns"}, &corev1.PersistentVolumeClaim{}))

	err := c.Get(context.Background(), client.ObjectKey{Name: "c", Namespace: "ns"}, &corev1.PersistentVolumeClaim{})
	assert.True(t, apierrors.IsNotFound(err))
}

func TestRunOnce_NoCandidatesSkipsFilterCall(t *testing.T) {
	pvcA := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Name: "a", Namespace: "ns"}}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "pod-a", Namespace: "ns"},
		Spec: corev1.PodSpec{
			Volumes: []corev1.Volume{{
				Name: "data",
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "a"},
				},
			}},
		},
	}
	c := fake.NewClientBuilder().WithScheme(newPeriodicScheme(t)).WithObjects(pvcA, pod).Build()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string][]string{"pending": nil})
	}))
	defer srv.Close()
	cp := controlplane.New(srv.URL, "tok")

	s := NewOrphanSweeper(c, "ns", cp, logr.Discard())
	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 0, calls)
}
