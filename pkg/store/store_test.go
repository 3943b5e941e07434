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

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	skyerrors "github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/kv/memkv"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

func newJob(name, namespace string, replicas int) *v1alpha1.Job {
	return &v1alpha1.Job{
		Meta: v1alpha1.ObjectMeta{Name: name, Namespace: namespace},
		Spec: v1alpha1.JobSpec{Image: "busybox", Replicas: replicas},
	}
}

func TestCreateAssignsResourceVersionOne(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.New(memkv.New(0))

	job := newJob("j1", "default", 1)
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, job))
	assert.Equal(t, uint64(1), job.Meta.ResourceVersion)
	assert.Equal(t, uint64(1), job.Meta.Generation)

	err := s.Create(ctx, v1alpha1.KindJob, newJob("j1", "default", 1))
	assert.True(t, skyerrors.Is(err, skyerrors.KindAlreadyExists))
}

func TestGetListRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.New(memkv.New(0))

	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, newJob("j1", "default", 1)))
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, newJob("j2", "default", 1)))
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, newJob("j3", "other", 1)))

	got, err := s.Get(ctx, v1alpha1.KindJob, "default", "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", got.GetName())

	list, err := s.List(ctx, v1alpha1.KindJob, "default")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.Get(ctx, v1alpha1.KindJob, "default", "missing")
	assert.True(t, skyerrors.Is(err, skyerrors.KindNotFound))
}

func TestUpdateOptimisticConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.New(memkv.New(0))

	job := newJob("j1", "default", 1)
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, job))

	stale := newJob("j1", "default", 1)
	stale.Meta.ResourceVersion = 999

	err := s.Update(ctx, v1alpha1.KindJob, stale)
	assert.True(t, skyerrors.Is(err, skyerrors.KindConflict))

	job.Spec.Replicas = 5
	require.NoError(t, s.Update(ctx, v1alpha1.KindJob, job))
	assert.Equal(t, uint64(2), job.Meta.ResourceVersion)
	assert.Equal(t, uint64(2), job.Meta.Generation, "spec changed so generation should advance")
}

func TestUpdateStatusDoesNotBumpGeneration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.New(memkv.New(0))

	job := newJob("j1", "default", 1)
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, job))

	job.Status.Conditions.Set(v1alpha1.ConditionAvailable, v1alpha1.ConditionTrue, v1alpha1.ConditionReasonProvisioned, "ready")

	require.NoError(t, s.UpdateStatus(ctx, v1alpha1.KindJob, job))
	assert.Equal(t, uint64(2), job.Meta.ResourceVersion)

	refetched, err := s.Get(ctx, v1alpha1.KindJob, "default", "j1")
	require.NoError(t, err)

	refetchedJob, ok := refetched.(*v1alpha1.Job)
	require.True(t, ok)
	assert.Equal(t, uint64(1), refetchedJob.Meta.Generation, "status-only update must not advance generation")
	assert.Equal(t, 1, refetchedJob.Spec.Replicas, "spec must be untouched by a status update")
	require.Len(t, refetchedJob.Status.Conditions, 1)
	assert.Equal(t, v1alpha1.ConditionTrue, refetchedJob.Status.Conditions[0].Status)
}

func TestRequestDeleteWithoutFinalizersRemovesImmediately(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.New(memkv.New(0))

	job := newJob("j1", "default", 1)
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, job))

	require.NoError(t, s.RequestDelete(ctx, v1alpha1.KindJob, "default", "j1"))

	_, err := s.Get(ctx, v1alpha1.KindJob, "default", "j1")
	assert.True(t, skyerrors.Is(err, skyerrors.KindNotFound))
}

func TestRequestDeleteWithFinalizerSetsDeletionTimestampOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.New(memkv.New(0))

	job := newJob("j1", "default", 1)
	job.Meta.Finalizers = []string{"skyshift.sh/finalizer"}
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, job))

	require.NoError(t, s.RequestDelete(ctx, v1alpha1.KindJob, "default", "j1"))

	got, err := s.Get(ctx, v1alpha1.KindJob, "default", "j1")
	require.NoError(t, err)
	require.NotNil(t, got.GetMeta().DeletionTimestamp)

	// Finalizer drains, then the object is actually removed.
	got.GetMeta().RemoveFinalizer("skyshift.sh/finalizer")
	require.NoError(t, s.Update(ctx, v1alpha1.KindJob, got))

	require.NoError(t, s.RequestDelete(ctx, v1alpha1.KindJob, "default", "j1"))

	_, err = s.Get(ctx, v1alpha1.KindJob, "default", "j1")
	assert.True(t, skyerrors.Is(err, skyerrors.KindNotFound))
}

func TestWatchYieldsCurrentStateThenLiveEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := store.New(memkv.New(0))

	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, newJob("j1", "default", 1)))

	result, err := s.Watch(ctx, v1alpha1.KindJob, "default", 0)
	require.NoError(t, err)
	defer result.Close()

	select {
	case evt := <-result.Events():
		assert.Equal(t, store.WatchAdd, evt.Type)
		assert.Equal(t, "j1", evt.Object.GetName())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot event")
	}

	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, newJob("j2", "default", 1)))

	select {
	case evt := <-result.Events():
		assert.Equal(t, store.WatchAdd, evt.Type)
		assert.Equal(t, "j2", evt.Object.GetName())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live add event")
	}
}

func TestDeleteNamespaceCascadesWithNoOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.New(memkv.New(0))

	require.NoError(t, s.Create(ctx, v1alpha1.KindNamespace, &v1alpha1.Namespace{Meta: v1alpha1.ObjectMeta{Name: "team-a"}}))
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, newJob("j1", "team-a", 1)))
	require.NoError(t, s.Create(ctx, v1alpha1.KindJob, newJob("j2", "team-a", 1)))
	require.NoError(t, s.Create(ctx, v1alpha1.KindService, &v1alpha1.Service{
		Meta: v1alpha1.ObjectMeta{Name: "svc", Namespace: "team-a"},
		Spec: v1alpha1.ServiceSpec{Type: v1alpha1.ServiceTypeClusterIP},
	}))

	require.NoError(t, s.DeleteNamespace(ctx, "team-a"))

	jobs, err := s.List(ctx, v1alpha1.KindJob, "team-a")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	services, err := s.List(ctx, v1alpha1.KindService, "team-a")
	require.NoError(t, err)
	assert.Empty(t, services)

	_, err = s.Get(ctx, v1alpha1.KindNamespace, "", "team-a")
	assert.True(t, skyerrors.Is(err, skyerrors.KindNotFound))
}
