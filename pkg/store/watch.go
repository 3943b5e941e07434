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

package store

import (
	"context"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/kv"
)

// WatchEventType mirrors kv.EventType at the object layer.
type WatchEventType int

const (
	WatchAdd WatchEventType = iota
	WatchUpdate
	WatchDelete
)

// WatchEvent carries a decoded Object alongside its event type.
type WatchEvent struct {
	Type   WatchEventType
	Object v1alpha1.Object
}

// Watcher is the stream handle Watch returns. It is an interface rather
// than the concrete WatchResult so the API client can hand controllers a
// watch relayed over HTTP with the same contract the in-process store
// gives them.
type Watcher interface {
	// Events returns the channel of watch notifications; closed when the
	// watch ends.
	Events() <-chan WatchEvent

	// Close releases the watch and any underlying driver resources.
	Close()
}

// WatchResult is returned by Watch. For a fresh watch Events yields, in
// order, one event per currently-stored object (as synthetic ADDs)
// followed by live events as they occur; a resumed watch yields only the
// events after its resume point. It's closed when ctx is cancelled.
type WatchResult struct {
	events chan WatchEvent
	inner  kv.WatchChan
}

// Events returns the channel of watch notifications.
func (r *WatchResult) Events() <-chan WatchEvent {
	return r.events
}

// Close releases the underlying driver watch.
func (r *WatchResult) Close() {
	r.inner.Close()
}

// Watch with fromVersion=0 starts a fresh watch: it yields every
// in-store object of kind within namespace (as synthetic ADD events),
// followed by live events as they occur. A non-zero fromVersion resumes
// instead, yielding only the events recorded after that version with no
// synthetic ADDs. If fromVersion
// has already fallen out of the driver's bounded replay window, Watch
// returns kv.ErrCompacted and the caller must List again and restart the
// watch from the version List observed.
func (s *Store) Watch(ctx context.Context, kind v1alpha1.Kind, namespace string, fromVersion uint64) (Watcher, error) {
	prefix := namespacePrefix(kind, namespace)

	var (
		pairs []kv.Pair
		err   error
	)

	if fromVersion == 0 {
		var snapshotVersion uint64

		pairs, snapshotVersion, err = s.driver.Snapshot(ctx, prefix)
		if err != nil {
			return nil, err
		}

		fromVersion = snapshotVersion
	}

	inner, err := s.driver.Watch(ctx, prefix, fromVersion)
	if err != nil {
		return nil, err
	}

	result := &WatchResult{
		events: make(chan WatchEvent, 256),
		inner:  inner,
	}

	for _, p := range pairs {
		obj, derr := decodeStored(kind, p.Value)
		if derr != nil {
			continue
		}

		obj.GetMeta().ResourceVersion = p.Version
		result.events <- WatchEvent{Type: WatchAdd, Object: obj}
	}

	go result.pump(kind, inner)

	return result, nil
}

func (r *WatchResult) pump(kind v1alpha1.Kind, inner kv.WatchChan) {
	defer close(r.events)

	for evt := range inner.Events() {
		var wtype WatchEventType

		switch evt.Type {
		case kv.EventAdd:
			wtype = WatchAdd
		case kv.EventUpdate:
			wtype = WatchUpdate
		case kv.EventDelete:
			wtype = WatchDelete
		}

		var obj v1alpha1.Object

		if evt.Type == kv.EventDelete {
			namespace, name := splitKey(kind, evt.Key)
			obj = v1alpha1.New(kind)
			obj.GetMeta().Name = name
			obj.GetMeta().Namespace = namespace
			obj.GetMeta().ResourceVersion = evt.Version
		} else {
			decoded, err := decodeStored(kind, evt.Value)
			if err != nil {
				continue
			}

			decoded.GetMeta().ResourceVersion = evt.Version
			obj = decoded
		}

		r.events <- WatchEvent{Type: wtype, Object: obj}
	}
}

// DeleteNamespace cascades a Namespace delete to every namespaced object
// kept under it, guaranteeing no orphan survives the cascade: every
// namespaced kind is swept before the Namespace object itself is removed.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	for _, kind := range v1alpha1.Kinds() {
		if !kind.Namespaced() {
			continue
		}

		objs, err := s.List(ctx, kind, namespace)
		if err != nil {
			return err
		}

		for _, obj := range objs {
			version := obj.GetMeta().ResourceVersion
			if err := s.Delete(ctx, kind, namespace, obj.GetName(), &version); err != nil && !errors.Is(err, errors.KindNotFound) {
				return err
			}
		}
	}

	version := uint64(0)

	existing, err := s.Get(ctx, v1alpha1.KindNamespace, "", namespace)
	if err == nil {
		version = existing.GetMeta().ResourceVersion
	}

	return s.Delete(ctx, v1alpha1.KindNamespace, "", namespace, &version)
}
