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

// Package kv defines the transactional, watchable key/value abstraction
// the object store is built on, and an in-memory driver implementing it.
// A driver is conceptually an etcd-like store: per-key linearizable
// reads/writes, compare-and-swap via an expected version, and ordered
// watch delivery per prefix.
package kv

import "context"

// EventType classifies a watch Event.
type EventType int

const (
	EventAdd EventType = iota
	EventUpdate
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "ADD"
	case EventUpdate:
		return "UPDATE"
	case EventDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Pair is a single key/value/version triple returned by Range.
type Pair struct {
	Key     string
	Value   []byte
	Version uint64
}

// Event is a single watch notification.
type Event struct {
	Type    EventType
	Key     string
	Value   []byte
	Version uint64
}

// Driver is the minimal transactional KV contract every backend (the
// in-memory driver here, or an etcd/Consul/Redis-backed one) must
// implement. Every method is safe for concurrent use.
type Driver interface {
	// Get returns the current value and version for key, or a NotFound
	// error.
	Get(ctx context.Context, key string) (Pair, error)

	// Put writes value at key. When expectedVersion is non-nil, the
	// write only succeeds if the key's current version equals
	// *expectedVersion (0 meaning "key must not exist"); otherwise it
	// fails with a Conflict error. On success it returns the new
	// version.
	Put(ctx context.Context, key string, value []byte, expectedVersion *uint64) (uint64, error)

	// Delete removes key. When expectedVersion is non-nil the same
	// compare-and-swap semantics as Put apply.
	Delete(ctx context.Context, key string, expectedVersion *uint64) error

	// Range returns every key under prefix, in lexicographic key order.
	Range(ctx context.Context, prefix string) ([]Pair, error)

	// Snapshot is like Range but also returns the driver's global
	// version at the instant the snapshot was taken, atomically with
	// respect to concurrent writes. A caller can immediately Watch from
	// that version without a race window that would miss or duplicate
	// events between the snapshot and the watch starting.
	Snapshot(ctx context.Context, prefix string) ([]Pair, uint64, error)

	// Watch streams events for keys under prefix starting after
	// fromVersion (0 meaning every event since the driver started, so a
	// watch from 0 also fails with ErrCompacted once history is trimmed).
	// It returns ErrCompacted when fromVersion is older than the
	// driver's retention window, in which case the caller must Range
	// again and resume watching from the version Range observed.
	Watch(ctx context.Context, prefix string, fromVersion uint64) (WatchChan, error)
}

// WatchChan is the channel handed back by Watch. The driver closes it
// when ctx is cancelled or the watch hits an unrecoverable error, in
// which case Err returns a non-nil error.
type WatchChan interface {
	Events() <-chan Event
	Err() error
	Close()
}
