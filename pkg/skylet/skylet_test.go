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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/compat"
	"github.com/skyshift-sh/skyshift/pkg/compat/mock"
	"github.com/skyshift-sh/skyshift/pkg/kv/memkv"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

func newSkylet(t *testing.T, waitTimeout time.Duration) (*Skylet, *store.Store, *mock.MockClusterManager) {
	t.Helper()

	st := store.New(memkv.New(0))
	manager := mock.NewMockClusterManager(gomock.NewController(t))

	options := &Options{
		PollInterval:             10 * time.Millisecond,
		DescribeFailureThreshold: 3,
		WaitTimeout:              waitTimeout,
	}

	return New(st, "c1", manager, options), st, manager
}

func createJob(t *testing.T, st *store.Store, name string, slice v1alpha1.ReplicaStatusCounts, restart v1alpha1.RestartPolicy) *v1alpha1.Job {
	t.Helper()

	job := &v1alpha1.Job{
		Meta: v1alpha1.ObjectMeta{Name: name, Namespace: "default"},
		Spec: v1alpha1.JobSpec{
			Image:         "ubuntu:22.04",
			Replicas:      slice.Sum(),
			RestartPolicy: restart,
			Resources:     v1alpha1.ResourceList{v1alpha1.ResourceCPU: 1},
		},
		Status: v1alpha1.JobStatus{
			Phase:         v1alpha1.JobPhaseScheduled,
			ReplicaStatus: map[string]v1alpha1.ReplicaStatusCounts{"c1": slice},
		},
	}

	require.NoError(t, st.Create(context.Background(), v1alpha1.KindJob, job))

	return job
}

func getJob(t *testing.T, st *store.Store, name string) *v1alpha1.Job {
	t.Helper()

	obj, err := st.Get(context.Background(), v1alpha1.KindJob, "default", name)
	require.NoError(t, err)

	return obj.(*v1alpha1.Job)
}

func TestFlowControllerSubmitsExactlyOnce(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	createJob(t, st, "j1", v1alpha1.ReplicaStatusCounts{v1alpha1.ReplicaStateInit: 2}, v1alpha1.RestartPolicyAlways)

	manager.EXPECT().SubmitJob(gomock.Any(), gomock.Any(), 2).Return("backend-1", nil).Times(1)

	// Back-to-back passes over the same observed state must not touch
	// the backend twice.
	require.NoError(t, s.flow.reconcile(ctx))
	require.NoError(t, s.flow.reconcile(ctx))

	job := getJob(t, st, "j1")
	assert.Equal(t, "backend-1", job.Status.JobIDs["c1"])
	assert.Equal(t, 2, job.Status.ReplicaStatus["c1"][v1alpha1.ReplicaStatePending])
}

func TestFlowControllerDeletesDrainedSlice(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	job := createJob(t, st, "j2", v1alpha1.ReplicaStatusCounts{v1alpha1.ReplicaStateEvicted: 2}, v1alpha1.RestartPolicyAlways)

	job.Status.JobIDs = map[string]string{"c1": "backend-2"}
	require.NoError(t, st.UpdateStatus(ctx, v1alpha1.KindJob, job))

	manager.EXPECT().DeleteJob(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, s.flow.reconcile(ctx))
	require.NoError(t, s.flow.reconcile(ctx))

	assert.Empty(t, getJob(t, st, "j2").Status.JobIDs["c1"])
}

func TestFlowControllerEvictsStuckPending(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 20*time.Millisecond)
	ctx := context.Background()

	createJob(t, st, "j3", v1alpha1.ReplicaStatusCounts{v1alpha1.ReplicaStateInit: 2}, v1alpha1.RestartPolicyAlways)

	manager.EXPECT().SubmitJob(gomock.Any(), gomock.Any(), 2).Return("backend-3", nil).Times(1)
	manager.EXPECT().DeleteJob(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, s.flow.reconcile(ctx))

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, s.flow.reconcile(ctx))

	job := getJob(t, st, "j3")
	assert.Equal(t, 2, job.Status.ReplicaStatus["c1"][v1alpha1.ReplicaStateEvicted])
	assert.Zero(t, job.Status.ReplicaStatus["c1"][v1alpha1.ReplicaStatePending])
	assert.Empty(t, job.Status.JobIDs["c1"])
}

func TestJobControllerFoldsObservedState(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	job := createJob(t, st, "j4", v1alpha1.ReplicaStatusCounts{v1alpha1.ReplicaStatePending: 2}, v1alpha1.RestartPolicyNever)

	job.Status.JobIDs = map[string]string{"c1": "backend-4"}
	require.NoError(t, st.UpdateStatus(ctx, v1alpha1.KindJob, job))

	manager.EXPECT().PollJob(gomock.Any(), gomock.Any()).Return(v1alpha1.ReplicaStatusCounts{
		v1alpha1.ReplicaStateRunning: 2,
	}, nil)

	require.NoError(t, s.job.reconcile(ctx))

	assert.Equal(t, 2, getJob(t, st, "j4").Status.ReplicaStatus["c1"][v1alpha1.ReplicaStateRunning])
}

func TestJobControllerResubmitsOnFailure(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	job := createJob(t, st, "j5", v1alpha1.ReplicaStatusCounts{v1alpha1.ReplicaStatePending: 2}, v1alpha1.RestartPolicyOnFailure)

	job.Status.JobIDs = map[string]string{"c1": "backend-5"}
	require.NoError(t, st.UpdateStatus(ctx, v1alpha1.KindJob, job))

	manager.EXPECT().PollJob(gomock.Any(), gomock.Any()).Return(v1alpha1.ReplicaStatusCounts{
		v1alpha1.ReplicaStateRunning: 1,
		v1alpha1.ReplicaStateFailed:  1,
	}, nil)
	manager.EXPECT().DeleteJob(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, s.job.reconcile(ctx))

	job = getJob(t, st, "j5")
	assert.Equal(t, 2, job.Status.ReplicaStatus["c1"][v1alpha1.ReplicaStateInit])
	assert.Empty(t, job.Status.JobIDs["c1"])
}

func TestJobControllerFreezesFinishedNeverRestart(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	job := createJob(t, st, "j6", v1alpha1.ReplicaStatusCounts{v1alpha1.ReplicaStateRunning: 1}, v1alpha1.RestartPolicyNever)

	job.Status.JobIDs = map[string]string{"c1": "backend-6"}
	require.NoError(t, st.UpdateStatus(ctx, v1alpha1.KindJob, job))

	manager.EXPECT().PollJob(gomock.Any(), gomock.Any()).Return(v1alpha1.ReplicaStatusCounts{
		v1alpha1.ReplicaStateCompleted: 1,
	}, nil).Times(2)

	require.NoError(t, s.job.reconcile(ctx))
	require.NoError(t, s.job.reconcile(ctx))

	job = getJob(t, st, "j6")
	assert.Equal(t, 1, job.Status.ReplicaStatus["c1"][v1alpha1.ReplicaStateCompleted])
	assert.Equal(t, "backend-6", job.Status.JobIDs["c1"])
}

func createCluster(t *testing.T, st *store.Store) *v1alpha1.Cluster {
	t.Helper()

	cluster := &v1alpha1.Cluster{
		Meta: v1alpha1.ObjectMeta{Name: "c1"},
		Spec: v1alpha1.ClusterSpec{Manager: v1alpha1.ClusterManagerKubernetes},
	}

	require.NoError(t, st.Create(context.Background(), v1alpha1.KindCluster, cluster))

	return cluster
}

func getCluster(t *testing.T, st *store.Store) *v1alpha1.Cluster {
	t.Helper()

	obj, err := st.Get(context.Background(), v1alpha1.KindCluster, "", "c1")
	require.NoError(t, err)

	return obj.(*v1alpha1.Cluster)
}

func TestClusterControllerWritesCapacity(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	createCluster(t, st)

	manager.EXPECT().Describe(gomock.Any()).Return(&compat.ClusterState{
		Capacity:    v1alpha1.NodeResourceList{"node-0": {v1alpha1.ResourceCPU: 8}},
		Allocatable: v1alpha1.NodeResourceList{"node-0": {v1alpha1.ResourceCPU: 6}},
	}, nil)

	require.NoError(t, s.cluster.reconcile(ctx))

	cluster := getCluster(t, st)
	assert.Equal(t, v1alpha1.ClusterPhaseReady, cluster.Status.Phase)
	assert.Equal(t, 8.0, cluster.Status.Capacity["node-0"][v1alpha1.ResourceCPU])
	assert.Equal(t, 6.0, cluster.Status.AllocatableCapacity["node-0"][v1alpha1.ResourceCPU])
}

func TestClusterControllerMarksErrorAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	createCluster(t, st)

	manager.EXPECT().Describe(gomock.Any()).Return(nil, assert.AnError).Times(3)

	for i := 0; i < 3; i++ {
		require.Error(t, s.cluster.reconcile(ctx))
	}

	cluster := getCluster(t, st)
	assert.Equal(t, v1alpha1.ClusterPhaseError, cluster.Status.Phase)
	assert.Equal(t, 3, cluster.Status.ConsecutiveDescribeFailures)
}

func TestServiceControllerReconcilesDiff(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	service := &v1alpha1.Service{
		Meta: v1alpha1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec: v1alpha1.ServiceSpec{
			Type:           v1alpha1.ServiceTypeClusterIP,
			PrimaryCluster: "c1",
			Selector:       map[string]string{"app": "web"},
			Ports:          []v1alpha1.ServicePort{{Port: 80, TargetPort: 8080}},
		},
	}

	require.NoError(t, st.Create(ctx, v1alpha1.KindService, service))

	// First pass materializes the missing service; the second sees it in
	// the backend listing and does nothing; the third removes a backend
	// orphan once the object is gone.
	manager.EXPECT().ListServices(gomock.Any()).Return(nil, nil)
	manager.EXPECT().SubmitService(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, s.service.reconcile(ctx))

	manager.EXPECT().ListServices(gomock.Any()).Return([]string{"web"}, nil)

	require.NoError(t, s.service.reconcile(ctx))

	require.NoError(t, st.Delete(ctx, v1alpha1.KindService, "default", "web", nil))

	manager.EXPECT().ListServices(gomock.Any()).Return([]string{"web"}, nil)
	manager.EXPECT().DeleteService(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, s.service.reconcile(ctx))
}

func TestEndpointsControllerRecordsRunningReplicas(t *testing.T) {
	t.Parallel()

	s, st, _ := newSkylet(t, 0)
	ctx := context.Background()

	service := &v1alpha1.Service{
		Meta: v1alpha1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec: v1alpha1.ServiceSpec{
			Type:     v1alpha1.ServiceTypeClusterIP,
			Selector: map[string]string{"app": "web"},
		},
	}

	require.NoError(t, st.Create(ctx, v1alpha1.KindService, service))

	job := createJob(t, st, "web-job", v1alpha1.ReplicaStatusCounts{v1alpha1.ReplicaStateRunning: 3}, v1alpha1.RestartPolicyAlways)
	job.Meta.Labels = map[string]string{"app": "web"}
	require.NoError(t, st.Update(ctx, v1alpha1.KindJob, job))

	require.NoError(t, s.endpoints.reconcile(ctx))

	obj, err := st.Get(ctx, v1alpha1.KindEndpoints, "default", "web")
	require.NoError(t, err)

	endpoints := obj.(*v1alpha1.Endpoints)
	require.Len(t, endpoints.Spec.Records, 1)
	assert.Equal(t, "c1", endpoints.Spec.Records[0].Cluster)
	assert.Equal(t, 3, endpoints.Spec.Records[0].NumEndpoints)

	// A second pass with unchanged state writes nothing.
	version := endpoints.Meta.ResourceVersion

	require.NoError(t, s.endpoints.reconcile(ctx))

	obj, err = st.Get(ctx, v1alpha1.KindEndpoints, "default", "web")
	require.NoError(t, err)
	assert.Equal(t, version, obj.GetMeta().ResourceVersion)
}

func TestNetworkControllerEstablishesAndTearsDownLink(t *testing.T) {
	t.Parallel()

	s, st, manager := newSkylet(t, 0)
	ctx := context.Background()

	link := &v1alpha1.Link{
		Meta: v1alpha1.ObjectMeta{Name: "c1-c2"},
		Spec: v1alpha1.LinkSpec{Source: "c1", Target: "c2"},
	}

	require.NoError(t, st.Create(ctx, v1alpha1.KindLink, link))

	manager.EXPECT().CreateLink(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, s.network.reconcile(ctx))
	require.NoError(t, s.network.reconcile(ctx))

	obj, err := st.Get(ctx, v1alpha1.KindLink, "", "c1-c2")
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.LinkPhaseActive, obj.(*v1alpha1.Link).Status.Phase)

	require.NoError(t, st.Delete(ctx, v1alpha1.KindLink, "", "c1-c2", nil))

	manager.EXPECT().DeleteLink(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	require.NoError(t, s.network.reconcile(ctx))
}
