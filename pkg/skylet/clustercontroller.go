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

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// clusterController polls the compatibility layer's Describe and writes
// the observed capacity and phase onto the Cluster object. Consecutive
// failures past the threshold mark the cluster ERROR; the next success
// brings it back to READY.
type clusterController struct {
	skylet *Skylet
}

func (c *clusterController) reconcile(ctx context.Context) error {
	s := c.skylet

	obj, err := s.store.Get(ctx, v1alpha1.KindCluster, "", s.clusterName)
	if err != nil {
		return err
	}

	cluster := obj.(*v1alpha1.Cluster)

	if cluster.Meta.DeletionTimestamp != nil {
		return nil
	}

	if (cluster.Status.Phase == "" || cluster.Status.Phase == v1alpha1.ClusterPhaseInit) && cluster.Spec.Provision {
		// The provisioner runs out of band; surface the intermediate
		// phase once, then let the describe poll drive READY when the
		// cluster manager starts answering.
		cluster.Status.Phase = v1alpha1.ClusterPhaseProvisioning

		if err := s.store.UpdateStatus(ctx, v1alpha1.KindCluster, cluster); err != nil && !errors.Is(err, errors.KindConflict) {
			return err
		}

		return nil
	}

	state, describeErr := s.manager.Describe(ctx)
	if describeErr != nil {
		if ctx.Err() != nil {
			return nil
		}

		cluster.Status.ConsecutiveDescribeFailures++

		if cluster.Status.ConsecutiveDescribeFailures >= s.options.DescribeFailureThreshold {
			cluster.Status.Phase = v1alpha1.ClusterPhaseError
			cluster.Status.Conditions.Set(v1alpha1.ConditionAvailable, v1alpha1.ConditionFalse, v1alpha1.ConditionReasonErrored, describeErr.Error())
		}

		if err := s.store.UpdateStatus(ctx, v1alpha1.KindCluster, cluster); err != nil && !errors.Is(err, errors.KindConflict) {
			return err
		}

		return describeErr
	}

	cluster.Status.Phase = v1alpha1.ClusterPhaseReady
	cluster.Status.Capacity = state.Capacity
	cluster.Status.AllocatableCapacity = state.Allocatable
	cluster.Status.ConsecutiveDescribeFailures = 0
	cluster.Status.Conditions.Set(v1alpha1.ConditionAvailable, v1alpha1.ConditionTrue, v1alpha1.ConditionReasonProvisioned, "cluster manager reachable")

	// Conflicts are left for the next tick: the poll is idempotent and
	// another writer (the API, the scheduler's purge) holds fresher
	// state.
	if err := s.store.UpdateStatus(ctx, v1alpha1.KindCluster, cluster); err != nil && !errors.Is(err, errors.KindConflict) {
		return err
	}

	return nil
}
