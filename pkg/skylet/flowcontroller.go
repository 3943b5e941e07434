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
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// flowController is the active reconciler: it converts replicaStatus
// desires into concrete backend submissions and deletions. Submission is
// recorded in status.jobIds, which is what makes a second pass over the
// same observed state a no-op.
type flowController struct {
	skylet *Skylet

	// submitted records when each job's slice was handed to the backend,
	// keyed by namespace/name; the eviction clock starts here.
	submitted map[string]time.Time
}

func (c *flowController) reconcile(ctx context.Context) error {
	s := c.skylet

	jobs, err := s.jobsOnCluster(ctx)
	if err != nil {
		return err
	}

	logger := log.FromContext(ctx)

	seen := map[string]struct{}{}

	for _, job := range jobs {
		key := v1alpha1.Key(job.GetNamespace(), job.GetName())
		seen[key] = struct{}{}

		if err := c.reconcileJob(ctx, job); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			logger.Error(err, "flow reconcile failed", "namespace", job.GetNamespace(), "name", job.GetName())
		}
	}

	// Drop eviction clocks for jobs that no longer hold a slice here.
	for key := range c.submitted {
		if _, ok := seen[key]; !ok {
			delete(c.submitted, key)
		}
	}

	return nil
}

func (c *flowController) reconcileJob(ctx context.Context, job *v1alpha1.Job) error {
	s := c.skylet

	slice := job.Status.ReplicaStatus[s.clusterName]
	desired := slice.Sum() - slice[v1alpha1.ReplicaStateEvicted] - slice[v1alpha1.ReplicaStateDeleted]
	key := v1alpha1.Key(job.GetNamespace(), job.GetName())

	// Deletion requested, or the slice has been emptied: tear down
	// whatever the backend still runs.
	if job.Meta.DeletionTimestamp != nil || desired == 0 {
		if job.Status.JobIDs[s.clusterName] == "" {
			return nil
		}

		if err := s.manager.DeleteJob(ctx, job); err != nil && !errors.Is(err, errors.KindNotFound) {
			return err
		}

		delete(job.Status.JobIDs, s.clusterName)
		delete(c.submitted, key)

		// Only a requested deletion rewrites the slice as DELETED; a
		// slice drained by eviction keeps its EVICTED record so the
		// scheduler never re-places those replicas here.
		if slice != nil && job.Meta.DeletionTimestamp != nil {
			job.Status.ReplicaStatus[s.clusterName] = v1alpha1.ReplicaStatusCounts{
				v1alpha1.ReplicaStateDeleted: desired,
			}
		}

		err := s.store.UpdateStatus(ctx, v1alpha1.KindJob, job)
		if errors.Is(err, errors.KindConflict) {
			return nil
		}

		return err
	}

	// Not yet submitted: hand the whole slice to the backend and record
	// the job id so this branch never runs twice for the same slice.
	if job.Status.JobIDs[s.clusterName] == "" {
		jobID, err := s.manager.SubmitJob(ctx, job, desired)
		if err != nil {
			if errors.Is(err, errors.KindUnsupported) {
				return c.markUnsupported(ctx, job, err)
			}

			return err
		}

		if job.Status.JobIDs == nil {
			job.Status.JobIDs = map[string]string{}
		}

		job.Status.JobIDs[s.clusterName] = jobID

		counts := job.Status.ReplicaStatus[s.clusterName]
		pending := counts.Sum() - counts[v1alpha1.ReplicaStateEvicted] - counts[v1alpha1.ReplicaStateDeleted]

		next := v1alpha1.ReplicaStatusCounts{v1alpha1.ReplicaStatePending: pending}

		if evicted := counts[v1alpha1.ReplicaStateEvicted]; evicted > 0 {
			next[v1alpha1.ReplicaStateEvicted] = evicted
		}

		job.Status.ReplicaStatus[s.clusterName] = next
		c.submitted[key] = time.Now()

		err = s.store.UpdateStatus(ctx, v1alpha1.KindJob, job)
		if errors.Is(err, errors.KindConflict) {
			return nil
		}

		return err
	}

	return c.maybeEvict(ctx, job, slice, key)
}

// maybeEvict emits an EVICTED transition for a slice stuck PENDING longer
// than the configured wait timeout, freeing the scheduler to place those
// replicas elsewhere.
func (c *flowController) maybeEvict(ctx context.Context, job *v1alpha1.Job, slice v1alpha1.ReplicaStatusCounts, key string) error {
	s := c.skylet

	if s.options.WaitTimeout == 0 {
		return nil
	}

	pending := slice[v1alpha1.ReplicaStatePending]
	if pending == 0 {
		return nil
	}

	if slice[v1alpha1.ReplicaStateRunning] > 0 || slice[v1alpha1.ReplicaStateCompleted] > 0 {
		// Some replicas made progress; the backlog is queueing, not
		// wedged.
		return nil
	}

	submittedAt, ok := c.submitted[key]
	if !ok || time.Since(submittedAt) < s.options.WaitTimeout {
		return nil
	}

	log.FromContext(ctx).Info("evicting job", "namespace", job.GetNamespace(), "name", job.GetName(), "pending", pending)

	if err := s.manager.DeleteJob(ctx, job); err != nil && !errors.Is(err, errors.KindNotFound) {
		return err
	}

	next := v1alpha1.ReplicaStatusCounts{
		v1alpha1.ReplicaStateEvicted: slice[v1alpha1.ReplicaStateEvicted] + pending,
	}

	job.Status.ReplicaStatus[s.clusterName] = next
	delete(job.Status.JobIDs, s.clusterName)
	delete(c.submitted, key)

	job.Status.Conditions.Set(v1alpha1.ConditionProgressing, v1alpha1.ConditionFalse, v1alpha1.ConditionReasonCancelled,
		"replicas evicted from "+s.clusterName+" after pending past the wait timeout")

	err := s.store.UpdateStatus(ctx, v1alpha1.KindJob, job)
	if errors.Is(err, errors.KindConflict) {
		return nil
	}

	return err
}

// markUnsupported records a backend capability gap as a job condition
// rather than retrying forever.
func (c *flowController) markUnsupported(ctx context.Context, job *v1alpha1.Job, cause error) error {
	job.Status.Conditions.Set(v1alpha1.ConditionProgressing, v1alpha1.ConditionFalse, v1alpha1.ConditionReasonErrored, cause.Error())

	err := c.skylet.store.UpdateStatus(ctx, v1alpha1.KindJob, job)
	if errors.Is(err, errors.KindConflict) {
		return nil
	}

	return err
}
