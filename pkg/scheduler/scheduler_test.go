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

package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/kv/memkv"
	"github.com/skyshift-sh/skyshift/pkg/scheduler"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func startScheduler(t *testing.T) (*store.Store, context.CancelFunc) {
	t.Helper()

	st := store.New(memkv.New(0))

	options := &scheduler.Options{}
	options.AddFlags(newFlagSet(t))

	s, err := scheduler.New(st, nil, options)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		_ = s.Run(ctx)
	}()

	t.Cleanup(cancel)

	return st, cancel
}

func newFlagSet(t *testing.T) *pflag.FlagSet {
	t.Helper()

	return pflag.NewFlagSet(t.Name(), pflag.ContinueOnError)
}

func makeCluster(name string, cpus float64, labels map[string]string) *v1alpha1.Cluster {
	return &v1alpha1.Cluster{
		Meta: v1alpha1.ObjectMeta{Name: name, Labels: labels},
		Spec: v1alpha1.ClusterSpec{Manager: v1alpha1.ClusterManagerKubernetes},
		Status: v1alpha1.ClusterStatus{
			Phase: v1alpha1.ClusterPhaseReady,
			Capacity: v1alpha1.NodeResourceList{
				"node-0": {v1alpha1.ResourceCPU: cpus, v1alpha1.ResourceMemory: 8192},
			},
			AllocatableCapacity: v1alpha1.NodeResourceList{
				"node-0": {v1alpha1.ResourceCPU: cpus, v1alpha1.ResourceMemory: 8192},
			},
		},
	}
}

func makeJob(name string, replicas int, cpus float64) *v1alpha1.Job {
	return &v1alpha1.Job{
		Meta: v1alpha1.ObjectMeta{Name: name, Namespace: "default"},
		Spec: v1alpha1.JobSpec{
			Image:         "ubuntu:22.04",
			Replicas:      replicas,
			RestartPolicy: v1alpha1.RestartPolicyNever,
			Resources:     v1alpha1.ResourceList{v1alpha1.ResourceCPU: cpus},
		},
	}
}

func getJob(t *testing.T, st *store.Store, name string) *v1alpha1.Job {
	t.Helper()

	obj, err := st.Get(context.Background(), v1alpha1.KindJob, "default", name)
	require.NoError(t, err)

	return obj.(*v1alpha1.Job)
}

func initCounts(job *v1alpha1.Job, cluster string) int {
	return job.Status.ReplicaStatus[cluster][v1alpha1.ReplicaStateInit]
}

func TestSchedulesSingleReplica(t *testing.T) {
	t.Parallel()

	st, _ := startScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c1", 2, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindJob, makeJob("j1", 1, 1)))

	require.Eventually(t, func() bool {
		return getJob(t, st, "j1").Status.Phase == v1alpha1.JobPhaseScheduled
	}, waitFor, tick)

	job := getJob(t, st, "j1")
	assert.Equal(t, 1, initCounts(job, "c1"))
	assert.Len(t, job.Status.ReplicaStatus, 1)
}

func TestSpreadsReplicasAcrossClusters(t *testing.T) {
	t.Parallel()

	st, _ := startScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c1", 2, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c2", 2, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindJob, makeJob("j2", 4, 1)))

	require.Eventually(t, func() bool {
		return getJob(t, st, "j2").Status.Phase == v1alpha1.JobPhaseScheduled
	}, waitFor, tick)

	job := getJob(t, st, "j2")
	assert.Equal(t, 2, initCounts(job, "c1"))
	assert.Equal(t, 2, initCounts(job, "c2"))
}

func TestFilterPolicyExcludesCluster(t *testing.T) {
	t.Parallel()

	st, _ := startScheduler(t)
	ctx := context.Background()

	// c2 has more free CPU, but the namespace policy excludes it.
	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c1", 2, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c2", 8, nil)))

	policy := &v1alpha1.FilterPolicy{
		Meta: v1alpha1.ObjectMeta{Name: "no-c2", Namespace: "default"},
		Spec: v1alpha1.FilterPolicySpec{
			ClusterFilter: v1alpha1.Filter{Exclude: []string{"c2"}},
		},
	}

	require.NoError(t, st.Create(ctx, v1alpha1.KindFilterPolicy, policy))
	require.NoError(t, st.Create(ctx, v1alpha1.KindJob, makeJob("j3", 1, 1)))

	require.Eventually(t, func() bool {
		return getJob(t, st, "j3").Status.Phase == v1alpha1.JobPhaseScheduled
	}, waitFor, tick)

	job := getJob(t, st, "j3")
	assert.Equal(t, 1, initCounts(job, "c1"))
	assert.NotContains(t, job.Status.ReplicaStatus, "c2")
}

func TestPreferenceOutweighsFreeCapacity(t *testing.T) {
	t.Parallel()

	st, _ := startScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c1", 2, map[string]string{"purpose": "dev"})))
	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c2", 8, nil)))

	job := makeJob("j4", 1, 1)
	job.Spec.Placement.Preferences = []v1alpha1.Preference{
		{
			LabelSelector: &v1alpha1.LabelSelector{MatchLabels: map[string]string{"purpose": "dev"}},
			Weight:        100,
		},
	}

	require.NoError(t, st.Create(ctx, v1alpha1.KindJob, job))

	require.Eventually(t, func() bool {
		return getJob(t, st, "j4").Status.Phase == v1alpha1.JobPhaseScheduled
	}, waitFor, tick)

	assert.Equal(t, 1, initCounts(getJob(t, st, "j4"), "c1"))
}

func TestUnschedulableJobWaitsForCapacity(t *testing.T) {
	t.Parallel()

	st, _ := startScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c1", 2, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindJob, makeJob("j5", 1, 4)))

	require.Eventually(t, func() bool {
		job := getJob(t, st, "j5")
		condition := job.Status.Conditions.Get(v1alpha1.ConditionUnschedulable)

		return job.Status.Phase == v1alpha1.JobPhasePending && condition != nil && condition.Status == v1alpha1.ConditionTrue
	}, waitFor, tick)

	// Grow the cluster; the waitlisted job must complete without any
	// further user action.
	obj, err := st.Get(ctx, v1alpha1.KindCluster, "", "c1")
	require.NoError(t, err)

	cluster := obj.(*v1alpha1.Cluster)
	cluster.Status.AllocatableCapacity["node-0"][v1alpha1.ResourceCPU] = 8
	cluster.Status.Capacity["node-0"][v1alpha1.ResourceCPU] = 8
	require.NoError(t, st.UpdateStatus(ctx, v1alpha1.KindCluster, cluster))

	require.Eventually(t, func() bool {
		return getJob(t, st, "j5").Status.Phase == v1alpha1.JobPhaseScheduled
	}, waitFor, tick)

	assert.Equal(t, 1, initCounts(getJob(t, st, "j5"), "c1"))
}

func TestPartialPlacementCompletesWhenClusterArrives(t *testing.T) {
	t.Parallel()

	st, _ := startScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c1", 2, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindJob, makeJob("j6", 4, 1)))

	require.Eventually(t, func() bool {
		job := getJob(t, st, "j6")

		return job.Status.Phase == v1alpha1.JobPhasePending && initCounts(job, "c1") == 2
	}, waitFor, tick)

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c2", 2, nil)))

	require.Eventually(t, func() bool {
		return getJob(t, st, "j6").Status.Phase == v1alpha1.JobPhaseScheduled
	}, waitFor, tick)

	job := getJob(t, st, "j6")
	assert.Equal(t, 2, initCounts(job, "c1"))
	assert.Equal(t, 2, initCounts(job, "c2"))
}

func TestTieBreaksByClusterName(t *testing.T) {
	t.Parallel()

	st, _ := startScheduler(t)
	ctx := context.Background()

	// Identical clusters, registered in reverse name order: the
	// allocation must still land on the lexicographically first.
	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c2", 2, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c1", 2, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindJob, makeJob("j7", 1, 1)))

	require.Eventually(t, func() bool {
		return getJob(t, st, "j7").Status.Phase == v1alpha1.JobPhaseScheduled
	}, waitFor, tick)

	job := getJob(t, st, "j7")
	assert.Equal(t, 1, initCounts(job, "c1"))
	assert.NotContains(t, job.Status.ReplicaStatus, "c2")
}

func TestSpecChangeReschedulesRemainder(t *testing.T) {
	t.Parallel()

	st, _ := startScheduler(t)
	ctx := context.Background()

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, makeCluster("c1", 8, nil)))
	require.NoError(t, st.Create(ctx, v1alpha1.KindJob, makeJob("j8", 1, 1)))

	require.Eventually(t, func() bool {
		return getJob(t, st, "j8").Status.Phase == v1alpha1.JobPhaseScheduled
	}, waitFor, tick)

	// Scaling up re-enters the queue and the new replicas land on top of
	// the recorded slice.
	job := getJob(t, st, "j8")
	job.Spec.Replicas = 3
	require.NoError(t, st.Update(ctx, v1alpha1.KindJob, job))

	require.Eventually(t, func() bool {
		job := getJob(t, st, "j8")

		return job.Status.Phase == v1alpha1.JobPhaseScheduled && job.Status.TotalReplicas() == 3
	}, waitFor, tick)
}
