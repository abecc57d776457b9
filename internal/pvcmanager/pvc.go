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

// Package pvcmanager implements the PVC Manager module (spec.md §4.2): the
// pipeline-scratch PersistentVolumeClaim lifecycle shared across jobs.
package pvcmanager

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/go-logr/logr"

	"github.com/iiasa/wkube-core/internal/model"
)

// pollInterval is the Wait-Bound poll period (spec.md §4.2).
const pollInterval = 5 * time.Second

// Manager provides the pipeline-scratch PVC lifecycle against one namespace.
type Manager struct {
	client    client.Client
	namespace string
	log       logr.Logger
}

// New constructs a Manager bound to namespace.
func New(c client.Client, namespace string, log logr.Logger) *Manager {
	return &Manager{client: c, namespace: namespace, log: log}
}

// Get fetches the PVC named pvcID, returning apierrors.IsNotFound(err) as a
// plain nil-object/error pair the caller can branch on directly.
func (m *Manager) Get(ctx context.Context, pvcID string) (*corev1.PersistentVolumeClaim, error) {
	pvc := &corev1.PersistentVolumeClaim{}
	err := m.client.Get(ctx, client.ObjectKey{Name: pvcID, Namespace: m.namespace}, pvc)
	if err != nil {
		return nil, err
	}
	return pvc, nil
}

// Create creates a PVC named pvcID with the given size and an optional
// storage class.
func (m *Manager) Create(ctx context.Context, pvcID, size, storageClass string) error {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pvcID,
			Namespace: m.namespace,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(size),
				},
			},
		},
	}
	if storageClass != "" {
		pvc.Spec.StorageClassName = &storageClass
	}
	return m.client.Create(ctx, pvc)
}

// Delete implements the finalizer-safe delete policy: PATCH
// metadata.finalizers=null, then DELETE with gracePeriodSeconds=0. Errors
// are logged but not returned; callers (the periodic sweep and the
// launcher's first-step re-creation) follow up on their own, the sweep on
// its next pass and the launcher by polling for absence (spec.md §4.2).
func (m *Manager) Delete(ctx context.Context, pvcID string) {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: pvcID, Namespace: m.namespace},
	}

	patch := client.RawPatch(types.MergePatchType, []byte(`{"metadata":{"finalizers":null}}`))
	if err := m.client.Patch(ctx, pvc, patch); err != nil && !apierrors.IsNotFound(err) {
		m.log.Error(err, "failed to clear pvc finalizers", "pvc", pvcID)
	}

	gracePeriod := int64(0)
	if err := m.client.Delete(ctx, pvc, &client.DeleteOptions{GracePeriodSeconds: &gracePeriod}); err != nil && !apierrors.IsNotFound(err) {
		m.log.Error(err, "failed to delete pvc", "pvc", pvcID)
	}
}

// WaitBound polls .status.phase every 5s until Bound (returns nil), Lost
// (returns *model.InfrastructureLostError), or ctx is cancelled. There is no
// total timeout; the caller supplies cancellation (spec.md §5).
func (m *Manager) WaitBound(ctx context.Context, pvcID string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		pvc, err := m.Get(ctx, pvcID)
		if err == nil {
			switch pvc.Status.Phase {
			case corev1.ClaimBound:
				return nil
			case corev1.ClaimLost:
				return &model.InfrastructureLostError{PVCName: pvcID}
			}
		} else if !apierrors.IsNotFound(err) {
			m.log.Error(err, "error polling pvc phase", "pvc", pvcID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitAbsent polls until pvcID no longer exists, used by the first-pipeline-
// step re-creation semantics (spec.md §4.3).
func (m *Manager) WaitAbsent(ctx context.Context, pvcID string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		_, err := m.Get(ctx, pvcID)
		if apierrors.IsNotFound(err) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// BoundPVCNames lists every PVC name referenced by any Pod in the namespace
// via persistentVolumeClaim.claimName, regardless of pod phase. This is the
// true-set-membership interpretation of "bound" used by IsOrphaned.
func BoundPVCNames(ctx context.Context, c client.Client, namespace string) (map[string]struct{}, error) {
	pods := &corev1.PodList{}
	if err := c.List(ctx, pods, client.InNamespace(namespace)); err != nil {
		return nil, err
	}

	bound := make(map[string]struct{})
	for _, pod := range pods.Items {
		for _, vol := range pod.Spec.Volumes {
			if vol.PersistentVolumeClaim != nil {
				bound[vol.PersistentVolumeClaim.ClaimName] = struct{}{}
			}
		}
	}
	return bound, nil
}

// IsOrphaned reports whether pvcID is a deletion candidate: no Pod in the
// namespace references it (spec.md §4.2, Orphan classification).
func IsOrphaned(pvcID string, boundSet map[string]struct{}) bool {
	_, referenced := boundSet[pvcID]
	return !referenced
}
