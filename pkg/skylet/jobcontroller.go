/*
Copyright 2022-2023 EscherCloud.

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

package skylet

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// jobController polls the backend for every job holding a slice on this
// cluster and folds the observed per-state counts into the job's status,
// applying the restart policy to finished replicas.
type jobController struct {
	skylet *Skylet
}

func (c *jobController) reconcile(ctx context.Context) error {
	s := c.skylet

	jobs, err := s.jobsOnCluster(ctx)
	if err != nil {
		return err
	}

	logger := log.FromContext(ctx)

	for _, job := range jobs {
		if err := c.reconcileJob(ctx, job); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			logger.Error(err, "job poll failed", "namespace", job.GetNamespace(), "name", job.GetName())
		}
	}

	return nil
}

func (c *jobController) reconcileJob(ctx context.Context, job *v1alpha1.Job) error {
	s := c.skylet

	// Nothing submitted here yet; the Flow Controller owns that
	// transition and polling would only report an empty backend.
	if job.Status.JobIDs[s.clusterName] == "" {
		return nil
	}

	observed, err := s.manager.PollJob(ctx, job)
	if err != nil {
		return err
	}

	previous := job.Status.ReplicaStatus[s.clusterName]

	counts := v1alpha1.ReplicaStatusCounts{}

	for state, count := range observed {
		counts[state] = count
	}

	// Evicted and deleted slices are control-plane state the backend
	// never reports; carry them forward.
	for _, state := range []v1alpha1.ReplicaState{v1alpha1.ReplicaStateEvicted, v1alpha1.ReplicaStateDeleted} {
		if previous[state] > 0 {
			counts[state] = previous[state]
		}
	}

	// The gap between what the scheduler assigned and what the backend
	// reports is still materializing.
	if assigned := previous.Sum() - previous[v1alpha1.ReplicaStateEvicted] - previous[v1alpha1.ReplicaStateDeleted]; observed.Sum() < assigned {
		counts[v1alpha1.ReplicaStateInit] += assigned - observed.Sum()
	}

	if !countsEqual(previous, counts) {
		job.Status.ReplicaStatus[s.clusterName] = counts

		if err := s.store.UpdateStatus(ctx, v1alpha1.KindJob, job); err != nil {
			if errors.Is(err, errors.KindConflict) {
				return nil
			}

			return err
		}
	}

	return c.applyRestartPolicy(ctx, job, counts)
}

// applyRestartPolicy handles replicas that exited: Never freezes them,
// OnFailure resubmits failures, Always resubmits any exit.
func (c *jobController) applyRestartPolicy(ctx context.Context, job *v1alpha1.Job, counts v1alpha1.ReplicaStatusCounts) error {
	s := c.skylet

	var restart int

	switch job.Spec.RestartPolicy {
	case v1alpha1.RestartPolicyNever:
		return nil
	case v1alpha1.RestartPolicyOnFailure:
		restart = counts[v1alpha1.ReplicaStateFailed]
	case v1alpha1.RestartPolicyAlways:
		restart = counts[v1alpha1.ReplicaStateFailed] + counts[v1alpha1.ReplicaStateCompleted]
	}

	if restart == 0 {
		return nil
	}

	// Tear the backend job down and clear the submission marker; the
	// Flow Controller resubmits the whole slice on its next pass.
	if err := s.manager.DeleteJob(ctx, job); err != nil && !errors.Is(err, errors.KindNotFound) {
		return err
	}

	slice := job.Status.ReplicaStatus[s.clusterName]

	live := slice.Sum() - slice[v1alpha1.ReplicaStateEvicted] - slice[v1alpha1.ReplicaStateDeleted]

	job.Status.ReplicaStatus[s.clusterName] = v1alpha1.ReplicaStatusCounts{
		v1alpha1.ReplicaStateInit: live,
	}

	if evicted := slice[v1alpha1.ReplicaStateEvicted]; evicted > 0 {
		job.Status.ReplicaStatus[s.clusterName][v1alpha1.ReplicaStateEvicted] = evicted
	}

	delete(job.Status.JobIDs, s.clusterName)

	err := s.store.UpdateStatus(ctx, v1alpha1.KindJob, job)
	if errors.Is(err, errors.KindConflict) {
		return nil
	}

	return err
}

func countsEqual(a, b v1alpha1.ReplicaStatusCounts) bool {
	if len(a) != len(b) {
		return false
	}

	for state, count := range a {
		if b[state] != count {
			return false
		}
	}

	return true
}
