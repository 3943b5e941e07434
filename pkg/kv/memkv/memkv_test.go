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

package memkv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skyerrors "github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/kv"
	"github.com/skyshift-sh/skyshift/pkg/kv/memkv"
)

func TestPutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := memkv.New(0)

	_, err := d.Get(ctx, "/jobs/default/j1")
	assert.True(t, skyerrors.Is(err, skyerrors.KindNotFound))

	v1, err := d.Put(ctx, "/jobs/default/j1", []byte("v1"), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1)

	pair, err := d.Get(ctx, "/jobs/default/j1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), pair.Value)
	assert.Equal(t, uint64(1), pair.Version)

	err = d.Delete(ctx, "/jobs/default/j1", nil)
	require.NoError(t, err)

	_, err = d.Get(ctx, "/jobs/default/j1")
	assert.True(t, skyerrors.Is(err, skyerrors.KindNotFound))
}

func TestPutCompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := memkv.New(0)

	zero := uint64(0)

	_, err := d.Put(ctx, "/k", []byte("a"), &zero)
	require.NoError(t, err)

	// Wrong expected version.
	_, err = d.Put(ctx, "/k", []byte("b"), &zero)
	assert.True(t, skyerrors.Is(err, skyerrors.KindConflict))

	one := uint64(1)

	v2, err := d.Put(ctx, "/k", []byte("b"), &one)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2)
}

func TestRangeOrdersByKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := memkv.New(0)

	for _, k := range []string{"/jobs/ns/c", "/jobs/ns/a", "/jobs/ns/b"} {
		_, err := d.Put(ctx, k, []byte("x"), nil)
		require.NoError(t, err)
	}

	_, err := d.Put(ctx, "/clusters/other", []byte("y"), nil)
	require.NoError(t, err)

	pairs, err := d.Range(ctx, "/jobs/")
	require.NoError(t, err)
	require.Len(t, pairs, 3)
	assert.Equal(t, []string{"/jobs/ns/a", "/jobs/ns/b", "/jobs/ns/c"}, []string{pairs[0].Key, pairs[1].Key, pairs[2].Key})
}

func TestWatchDeliversLiveEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := memkv.New(0)

	w, err := d.Watch(ctx, "/jobs/", 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = d.Put(ctx, "/jobs/ns/a", []byte("1"), nil)
	require.NoError(t, err)

	select {
	case evt := <-w.Events():
		assert.Equal(t, kv.EventAdd, evt.Type)
		assert.Equal(t, "/jobs/ns/a", evt.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}

func TestWatchResumesFromVersionWithoutGaps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := memkv.New(0)

	v1, err := d.Put(ctx, "/jobs/ns/a", []byte("1"), nil)
	require.NoError(t, err)

	_, err = d.Put(ctx, "/jobs/ns/b", []byte("2"), nil)
	require.NoError(t, err)

	w, err := d.Watch(ctx, "/jobs/", v1)
	require.NoError(t, err)
	defer w.Close()

	select {
	case evt := <-w.Events():
		assert.Equal(t, "/jobs/ns/b", evt.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed event")
	}
}

func TestWatchCompactedBeyondRetentionWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := memkv.New(2)

	for i := 0; i < 5; i++ {
		_, err := d.Put(ctx, "/jobs/ns/a", []byte("x"), nil)
		require.NoError(t, err)
	}

	_, err := d.Watch(ctx, "/jobs/", 0)
	assert.ErrorIs(t, err, kv.ErrCompacted)
}
