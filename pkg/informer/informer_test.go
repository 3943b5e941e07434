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

package informer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/informer"
	"github.com/skyshift-sh/skyshift/pkg/kv/memkv"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// recorder collects informer callbacks for assertion.
type recorder struct {
	mu      sync.Mutex
	adds    []string
	updates []string
	deletes []string
}

func (r *recorder) OnAdd(obj v1alpha1.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adds = append(r.adds, obj.GetName())
}

func (r *recorder) OnUpdate(oldObj, newObj v1alpha1.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updates = append(r.updates, newObj.GetName())
}

func (r *recorder) OnDelete(obj v1alpha1.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deletes = append(r.deletes, obj.GetName())
}

func (r *recorder) snapshot() ([]string, []string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.adds...), append([]string(nil), r.updates...), append([]string(nil), r.deletes...)
}

func makeNamespace(name string) *v1alpha1.Namespace {
	return &v1alpha1.Namespace{Meta: v1alpha1.ObjectMeta{Name: name}}
}

func TestInformerDeliversLifecycleEvents(t *testing.T) {
	t.Parallel()

	st := store.New(memkv.New(0))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// Pre-existing objects surface as synthetic adds from the initial
	// relist.
	require.NoError(t, st.Create(ctx, v1alpha1.KindNamespace, makeNamespace("pre")))

	events := &recorder{}

	inf, err := informer.New(st, v1alpha1.KindNamespace, "", events, 0)
	require.NoError(t, err)

	go func() {
		_ = inf.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		adds, _, _ := events.snapshot()
		return len(adds) == 1
	}, waitFor, tick)

	require.NoError(t, st.Create(ctx, v1alpha1.KindNamespace, makeNamespace("live")))

	require.Eventually(t, func() bool {
		adds, _, _ := events.snapshot()
		return len(adds) == 2
	}, waitFor, tick)

	obj, err := st.Get(ctx, v1alpha1.KindNamespace, "", "live")
	require.NoError(t, err)

	ns := obj.(*v1alpha1.Namespace)
	ns.Status.Phase = v1alpha1.NamespacePhaseTerminating
	require.NoError(t, st.UpdateStatus(ctx, v1alpha1.KindNamespace, ns))

	require.Eventually(t, func() bool {
		_, updates, _ := events.snapshot()
		return len(updates) == 1 && updates[0] == "live"
	}, waitFor, tick)

	require.NoError(t, st.Delete(ctx, v1alpha1.KindNamespace, "", "live", nil))

	require.Eventually(t, func() bool {
		_, _, deletes := events.snapshot()
		return len(deletes) == 1 && deletes[0] == "live"
	}, waitFor, tick)

	adds, _, _ := events.snapshot()
	assert.Equal(t, []string{"pre", "live"}, adds)

	// The cache reflects the delete.
	_, ok := inf.Get("", "live")
	assert.False(t, ok)

	cached, ok := inf.Get("", "pre")
	require.True(t, ok)
	assert.Equal(t, "pre", cached.GetName())
}
