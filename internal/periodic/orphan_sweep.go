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

// Package periodic implements the two fixed-schedule cluster reconciliation
// loops from spec.md §4.6: the orphan-PVC sweep and the stalled-job sweep.
// The ticker-over-a-channel shape is grounded on the teacher pack's
// boskos/janitor main loop (`for range time.Tick(...)`), adapted to a
// cancellable, logr-logged loop instead of a bare unbounded range.
package periodic

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/iiasa/wkube-core/internal/controlplane"
	"github.com/iiasa/wkube-core/internal/pvcmanager"
)

// orphanSweepInterval is the orphan-PVC sweep schedule (spec.md §4.6).
const orphanSweepInterval = 15 * time.Minute

// filterBatchSize is the control-plane filter-pending-pvcs batch size
// (spec.md §3 PVC manager, "Candidates are submitted in batches of 500").
const filterBatchSize = 500

// OrphanSweeper deletes PVCs that are neither referenced by any Pod nor
// reported "pending" by the control plane.
type OrphanSweeper struct {
	client    client.Client
	namespace string
	pvc       *pvcmanager.Manager
	cp        *controlplane.Client
	log       logr.Logger
}

// NewOrphanSweeper constructs an OrphanSweeper bound to namespace.
func NewOrphanSweeper(c client.Client, namespace string, cp *controlplane.Client, log logr.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		client:    c,
		namespace: namespace,
		pvc:       pvcmanager.New(c, namespace, log),
		cp:        cp,
		log:       log.WithName("orphan-sweep"),
	}
}

// Run blocks, triggering RunOnce every orphanSweepInterval until ctx is
// cancelled. Errors from one pass are logged, never fatal to the loop.
func (s *OrphanSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(orphanSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error(err, "orphan sweep pass failed")
			}
		}
	}
}

// RunOnce performs one orphan-PVC sweep pass (spec.md §4.6, §3 PVC manager
// Orphan classification, §7 S5): PVCs in `all \ boundSet` are submitted in
// batches of filterBatchSize to the control plane's filter-pending RPC;
// every name the control plane does NOT report pending is deleted, first
// deleting any Pod still referencing it with foreground propagation.
func (s *OrphanSweeper) RunOnce(ctx context.Context) error {
	pvcList := &corev1.PersistentVolumeClaimList{}
	if err := s.client.List(ctx, pvcList, client.InNamespace(s.namespace)); err != nil {
		return err
	}

	pods := &corev1.PodList{}
	if err := s.client.List(ctx, pods, client.InNamespace(s.namespace)); err != nil {
		return err
	}

	bound := make(map[string]struct{})
	pvcPod := make(map[string]string) // pvc name -> a pod referencing it, for foreground delete
	for _, pod := range pods.Items {
		for _, vol := range pod.Spec.Volumes {
			if vol.PersistentVolumeClaim == nil {
				continue
			}
			name := vol.PersistentVolumeClaim.ClaimName
			bound[name] = struct{}{}
			pvcPod[name] = pod.Name
		}
	}

	var candidates []string
	for _, pvc := range pvcList.Items {
		if _, ok := bound[pvc.Name]; !ok {
			candidates = append(candidates, pvc.Name)
		}
	}

	for start := 0; start < len(candidates); start += filterBatchSize {
		end := start + filterBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		pending, err := s.cp.FilterPendingPVCs(ctx, batch)
		if err != nil {
			return err
		}
		pendingSet := make(map[string]struct{}, len(pending))
		for _, name := range pending {
			pendingSet[name] = struct{}{}
		}

		for _, name := range batch {
			if _, stillPending := pendingSet[name]; stillPending {
				continue
			}
			if podName, hasPod := pvcPod[name]; hasPod {
				s.deletePodForeground(ctx, podName)
			}
			s.pvc.Delete(ctx, name)
		}
	}

	return nil
}

func (s *OrphanSweeper) deletePodForeground(ctx context.Context, podName string) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: podName, Namespace: s.namespace}}
	propagation := metav1.DeletePropagationForeground
	if err := s.client.Delete(ctx, pod, &client.DeleteOptions{PropagationPolicy: &propagation}); err != nil && !apierrors.IsNotFound(err) {
		s.log.Error(err, "failed to delete pod referencing orphan pvc candidate", "pod", podName)
	}
}
