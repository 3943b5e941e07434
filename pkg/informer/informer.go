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

// Package informer implements the per-kind watch client: a local
// keyed cache kept in sync with the object store via list-then-watch,
// reconnecting with exponential backoff on disconnect and relisting
// whenever the store signals the watch has fallen out of its replay
// window.
package informer

import (
	"context"
	"math"
	"time"

	retry "github.com/avast/retry-go"
	lru "github.com/hashicorp/golang-lru/v2"

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

// Store is the subset of pkg/store.Store an informer needs.
type Store interface {
	List(ctx context.Context, kind v1alpha1.Kind, namespace string) ([]v1alpha1.Object, error)
	Watch(ctx context.Context, kind v1alpha1.Kind, namespace string, fromVersion uint64) (store.Watcher, error)
}

// EventHandler receives the three callbacks an Informer's receive loop
// delivers, in per-key version order; cross-key ordering is unspecified.
type EventHandler interface {
	OnAdd(obj v1alpha1.Object)
	OnUpdate(oldObj, newObj v1alpha1.Object)
	OnDelete(obj v1alpha1.Object)
}

// Informer maintains a bounded, keyed local cache of every object of one
// kind (within one namespace, or every namespace when namespace is
// empty and the kind is global), fed by a list-then-watch loop.
type Informer struct {
	store     Store
	kind      v1alpha1.Kind
	namespace string
	handler   EventHandler
	cache     *lru.Cache[string, v1alpha1.Object]
}

// DefaultCacheSize bounds the informer's local cache; a cluster fleet or
// job backlog bigger than this evicts its coldest entries rather than
// growing unboundedly, trading a relist-on-miss for bounded memory.
const DefaultCacheSize = 4096

// New returns an Informer for kind within namespace, delivering events to
// handler. cacheSize <= 0 uses DefaultCacheSize.
func New(st Store, kind v1alpha1.Kind, namespace string, handler EventHandler, cacheSize int) (*Informer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, v1alpha1.Object](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Informer{
		store:     st,
		kind:      kind,
		namespace: namespace,
		handler:   handler,
		cache:     cache,
	}, nil
}

func cacheKey(obj v1alpha1.Object) string {
	return v1alpha1.Key(obj.GetNamespace(), obj.GetName())
}

// Get returns the informer's cached copy of namespace/name, if present.
func (i *Informer) Get(namespace, name string) (v1alpha1.Object, bool) {
	return i.cache.Get(v1alpha1.Key(namespace, name))
}

// List returns every object currently in the informer's cache.
func (i *Informer) List() []v1alpha1.Object {
	keys := i.cache.Keys()

	objs := make([]v1alpha1.Object, 0, len(keys))

	for _, k := range keys {
		if obj, ok := i.cache.Get(k); ok {
			objs = append(objs, obj)
		}
	}

	return objs
}

// Run blocks, running the list-then-watch loop until ctx is cancelled,
// reconnecting with exponential backoff whenever the watch drops or the
// store signals a gap that requires a relist.
func (i *Informer) Run(ctx context.Context) error {
	logger := log.FromContext(ctx).WithValues("kind", i.kind, "namespace", i.namespace)

	err := retry.Do(
		func() error {
			return i.runOnce(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(math.MaxUint32),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(30*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("informer reconnecting", "attempt", n, "error", err.Error())
		}),
	)

	if ctx.Err() != nil {
		return nil
	}

	return err
}

// runOnce relists to resync the cache against the store (firing synthetic
// Add/Update/Delete for whatever changed since the last sync) and then
// streams live events until the watch ends.
func (i *Informer) runOnce(ctx context.Context) error {
	if err := i.relist(ctx); err != nil {
		return err
	}

	result, err := i.store.Watch(ctx, i.kind, i.namespace, 0)
	if err != nil {
		return err
	}

	defer result.Close()

	for {
		select {
		case evt, open := <-result.Events():
			if !open {
				return errWatchClosed
			}

			i.dispatch(evt)
		case <-ctx.Done():
			return nil
		}
	}
}

// relist fetches every current object and reconciles it against the
// cache, firing Add for new keys, Update for version-changed keys, and
// Delete for keys the cache has that the list no longer does.
func (i *Informer) relist(ctx context.Context) error {
	objs, err := i.store.List(ctx, i.kind, i.namespace)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(objs))

	for _, obj := range objs {
		key := cacheKey(obj)
		seen[key] = struct{}{}

		if old, ok := i.cache.Get(key); ok {
			if old.GetMeta().ResourceVersion == obj.GetMeta().ResourceVersion {
				continue
			}

			i.cache.Add(key, obj)
			i.handler.OnUpdate(old, obj)

			continue
		}

		i.cache.Add(key, obj)
		i.handler.OnAdd(obj)
	}

	for _, key := range i.cache.Keys() {
		if _, ok := seen[key]; ok {
			continue
		}

		if old, ok := i.cache.Get(key); ok {
			i.cache.Remove(key)
			i.handler.OnDelete(old)
		}
	}

	return nil
}

func (i *Informer) dispatch(evt store.WatchEvent) {
	key := cacheKey(evt.Object)

	switch evt.Type {
	case store.WatchDelete:
		old, ok := i.cache.Get(key)
		i.cache.Remove(key)

		if ok {
			i.handler.OnDelete(old)
		} else {
			i.handler.OnDelete(evt.Object)
		}
	case store.WatchUpdate:
		old, ok := i.cache.Get(key)
		i.cache.Add(key, evt.Object)

		if ok {
			if old.GetMeta().ResourceVersion == evt.Object.GetMeta().ResourceVersion {
				return
			}

			i.handler.OnUpdate(old, evt.Object)
		} else {
			i.handler.OnAdd(evt.Object)
		}
	default:
		// The watch replays current state as synthetic ADDs on (re)connect;
		// anything the relist already delivered at the same version is
		// skipped rather than surfaced as a spurious update.
		if old, ok := i.cache.Get(key); ok {
			i.cache.Add(key, evt.Object)

			if old.GetMeta().ResourceVersion == evt.Object.GetMeta().ResourceVersion {
				return
			}

			i.handler.OnUpdate(old, evt.Object)

			return
		}

		i.cache.Add(key, evt.Object)
		i.handler.OnAdd(evt.Object)
	}
}
