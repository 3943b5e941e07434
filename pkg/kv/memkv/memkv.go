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

// Package memkv is an in-memory implementation of pkg/kv.Driver, used by
// the single-process deployment of the object store and by every package
// that needs a KV backend in tests. It keeps one bounded buffer of
// recent events, shared by every watch, so a reconnecting watcher can resume gaplessly
// within the retention window, matching the object store's replay
// guarantee one layer down.
package memkv

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/kv"
)

// DefaultReplayWindow is the number of most recent events retained for
// watch resumption when a Driver is constructed with New.
const DefaultReplayWindow = 1024

type entry struct {
	value   []byte
	version uint64
}

// Driver is an in-memory kv.Driver. The zero value is not usable; use New.
type Driver struct {
	mu      sync.Mutex
	data    map[string]entry
	version uint64

	replay []kv.Event
	window int

	watchers map[*watchChan]struct{}
}

// New returns a Driver retaining up to window historical events for watch
// resumption.
func New(window int) *Driver {
	if window <= 0 {
		window = DefaultReplayWindow
	}

	return &Driver{
		data:     make(map[string]entry),
		window:   window,
		watchers: make(map[*watchChan]struct{}),
	}
}

func (d *Driver) Get(_ context.Context, key string) (kv.Pair, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.data[key]
	if !ok {
		return kv.Pair{}, errors.NotFound("kv: key %q not found", key)
	}

	return kv.Pair{Key: key, Value: e.value, Version: e.version}, nil
}

func (d *Driver) Put(_ context.Context, key string, value []byte, expectedVersion *uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, exists := d.data[key]

	if expectedVersion != nil {
		var current uint64
		if exists {
			current = existing.version
		}

		if current != *expectedVersion {
			return 0, errors.Conflict("kv: put %q expected version %d, found %d", key, *expectedVersion, current)
		}
	}

	d.version++

	d.data[key] = entry{value: value, version: d.version}

	evtType := kv.EventUpdate
	if !exists {
		evtType = kv.EventAdd
	}

	d.publish(kv.Event{Type: evtType, Key: key, Value: value, Version: d.version})

	return d.version, nil
}

func (d *Driver) Delete(_ context.Context, key string, expectedVersion *uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, exists := d.data[key]
	if !exists {
		return errors.NotFound("kv: key %q not found", key)
	}

	if expectedVersion != nil && existing.version != *expectedVersion {
		return errors.Conflict("kv: delete %q expected version %d, found %d", key, *expectedVersion, existing.version)
	}

	delete(d.data, key)

	d.version++

	d.publish(kv.Event{Type: kv.EventDelete, Key: key, Version: d.version})

	return nil
}

func (d *Driver) Range(_ context.Context, prefix string) ([]kv.Pair, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pairs := make([]kv.Pair, 0, len(d.data))

	for k, e := range d.data {
		if strings.HasPrefix(k, prefix) {
			pairs = append(pairs, kv.Pair{Key: k, Value: e.value, Version: e.version})
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })

	return pairs, nil
}

func (d *Driver) Snapshot(_ context.Context, prefix string) ([]kv.Pair, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pairs := make([]kv.Pair, 0, len(d.data))

	for k, e := range d.data {
		if strings.HasPrefix(k, prefix) {
			pairs = append(pairs, kv.Pair{Key: k, Value: e.value, Version: e.version})
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })

	return pairs, d.version, nil
}

// publish appends evt to the replay buffer and fans it out to every live
// watcher whose prefix matches. Must be called with d.mu held.
func (d *Driver) publish(evt kv.Event) {
	d.replay = append(d.replay, evt)
	if len(d.replay) > d.window {
		d.replay = d.replay[len(d.replay)-d.window:]
	}

	for w := range d.watchers {
		if strings.HasPrefix(evt.Key, w.prefix) {
			w.deliver(evt)
		}
	}
}

// oldestRetainedVersion returns the version of the oldest event still in
// the replay buffer, or 0 if the buffer is empty. Must be called with
// d.mu held.
func (d *Driver) oldestRetainedVersion() uint64 {
	if len(d.replay) == 0 {
		return 0
	}

	return d.replay[0].Version
}

func (d *Driver) Watch(ctx context.Context, prefix string, fromVersion uint64) (kv.WatchChan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if oldest := d.oldestRetainedVersion(); oldest != 0 && fromVersion < oldest-1 {
		return nil, kv.ErrCompacted
	}

	w := &watchChan{
		prefix: prefix,
		events: make(chan kv.Event, 256),
		done:   make(chan struct{}),
	}

	for _, evt := range d.replay {
		if evt.Version > fromVersion && strings.HasPrefix(evt.Key, prefix) {
			w.events <- evt
		}
	}

	d.watchers[w] = struct{}{}

	w.onClose = func() {
		d.mu.Lock()
		delete(d.watchers, w)
		d.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		w.Close()
	}()

	return w, nil
}

type watchChan struct {
	prefix  string
	events  chan kv.Event
	done    chan struct{}
	onClose func()
	mu      sync.Mutex
	closed  bool
}

func (w *watchChan) deliver(evt kv.Event) {
	select {
	case w.events <- evt:
	default:
		// Slow consumer: drop rather than block the writer that
		// produced evt. The consumer should notice the gap in
		// versions and relist via Range.
	}
}

func (w *watchChan) Events() <-chan kv.Event {
	return w.events
}

func (w *watchChan) Err() error {
	return nil
}

func (w *watchChan) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.closed = true

	if w.onClose != nil {
		w.onClose()
	}

	close(w.done)
	close(w.events)
}
