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

package skyletmanager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/compat"
	"github.com/skyshift-sh/skyshift/pkg/compat/mock"
	skyerrors "github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/kv/memkv"
	"github.com/skyshift-sh/skyshift/pkg/skylet"
	"github.com/skyshift-sh/skyshift/pkg/skyletmanager"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// quietManager builds a mock whose controller-facing calls all succeed
// with empty results, so a Skylet can run against it indefinitely. The
// gomock controller is created before the manager-shutdown cleanup is
// registered, so Finish only runs once every Skylet has stopped.
func quietManager(ctrl *gomock.Controller) *mock.MockClusterManager {
	manager := mock.NewMockClusterManager(ctrl)

	manager.EXPECT().Describe(gomock.Any()).Return(&compat.ClusterState{
		Capacity:    v1alpha1.NodeResourceList{"node-0": {v1alpha1.ResourceCPU: 4}},
		Allocatable: v1alpha1.NodeResourceList{"node-0": {v1alpha1.ResourceCPU: 4}},
	}, nil).AnyTimes()
	manager.EXPECT().ListServices(gomock.Any()).Return(nil, nil).AnyTimes()
	manager.EXPECT().PollJob(gomock.Any(), gomock.Any()).Return(v1alpha1.ReplicaStatusCounts{}, nil).AnyTimes()
	manager.EXPECT().Close().Return(nil).AnyTimes()

	return manager
}

func startManager(t *testing.T) (*skyletmanager.Manager, *store.Store) {
	t.Helper()

	st := store.New(memkv.New(0))
	ctrl := gomock.NewController(t)

	registry := compat.NewRegistry()
	registry.Register(v1alpha1.ClusterManagerKubernetes, func(cluster *v1alpha1.Cluster) (compat.ClusterManager, error) {
		return quietManager(ctrl), nil
	})

	options := &skyletmanager.Options{
		ErrorGracePeriod: time.Hour,
		RestartMaxDelay:  time.Second,
		Skylet: skylet.Options{
			PollInterval:             20 * time.Millisecond,
			DescribeFailureThreshold: 3,
		},
	}

	manager := skyletmanager.New(st, registry, options)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = manager.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case <-done:
		case <-time.After(waitFor):
			t.Error("manager did not shut down")
		}
	})

	return manager, st
}

func TestManagerCreatesSkyletForCluster(t *testing.T) {
	t.Parallel()

	manager, st := startManager(t)
	ctx := context.Background()

	cluster := &v1alpha1.Cluster{
		Meta: v1alpha1.ObjectMeta{Name: "c1"},
		Spec: v1alpha1.ClusterSpec{Manager: v1alpha1.ClusterManagerKubernetes},
	}

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, cluster))

	require.Eventually(t, func() bool {
		_, err := manager.Get("c1")
		return err == nil
	}, waitFor, tick)

	// The Skylet's cluster controller marks the cluster READY and
	// publishes capacity.
	require.Eventually(t, func() bool {
		obj, err := st.Get(ctx, v1alpha1.KindCluster, "", "c1")
		if err != nil {
			return false
		}

		return obj.(*v1alpha1.Cluster).Status.Phase == v1alpha1.ClusterPhaseReady
	}, waitFor, tick)
}

func TestManagerTearsDownSkyletOnClusterDelete(t *testing.T) {
	t.Parallel()

	manager, st := startManager(t)
	ctx := context.Background()

	cluster := &v1alpha1.Cluster{
		Meta: v1alpha1.ObjectMeta{Name: "c1"},
		Spec: v1alpha1.ClusterSpec{Manager: v1alpha1.ClusterManagerKubernetes},
	}

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, cluster))

	require.Eventually(t, func() bool {
		_, err := manager.Get("c1")
		return err == nil
	}, waitFor, tick)

	obj, err := st.Get(ctx, v1alpha1.KindCluster, "", "c1")
	require.NoError(t, err)

	version := obj.GetMeta().ResourceVersion
	require.NoError(t, st.Delete(ctx, v1alpha1.KindCluster, "", "c1", &version))

	require.Eventually(t, func() bool {
		_, err := manager.Get("c1")
		return skyerrors.Is(err, skyerrors.KindNotFound)
	}, waitFor, tick)
}

func TestManagerIsolatesFailingBackendFactory(t *testing.T) {
	t.Parallel()

	manager, st := startManager(t)
	ctx := context.Background()

	// An unregistered manager type must not wedge the manager; the
	// healthy cluster still gets its Skylet.
	broken := &v1alpha1.Cluster{
		Meta: v1alpha1.ObjectMeta{Name: "broken"},
		Spec: v1alpha1.ClusterSpec{Manager: v1alpha1.ClusterManagerSlurm},
	}

	healthy := &v1alpha1.Cluster{
		Meta: v1alpha1.ObjectMeta{Name: "healthy"},
		Spec: v1alpha1.ClusterSpec{Manager: v1alpha1.ClusterManagerKubernetes},
	}

	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, broken))
	require.NoError(t, st.Create(ctx, v1alpha1.KindCluster, healthy))

	require.Eventually(t, func() bool {
		_, err := manager.Get("healthy")
		return err == nil
	}, waitFor, tick)

	_, err := manager.Get("broken")
	require.Error(t, err)
}
