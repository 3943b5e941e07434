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
	"encoding/json"
	"time"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/kv"
)

// Store is the declarative object store: a kind-indexed, namespaced
// keyspace layered over a pkg/kv.Driver, with optimistic concurrency on
// update, a status subresource mutation path, and watch fan-out with
// gapless resume inherited from the underlying driver's replay window.
type Store struct {
	driver  kv.Driver
	metrics *storeMetrics
}

// New returns a Store backed by driver.
func New(driver kv.Driver) *Store {
	return &Store{
		driver:  driver,
		metrics: newStoreMetrics(),
	}
}

func decodeStored(kind v1alpha1.Kind, data []byte) (v1alpha1.Object, error) {
	obj := v1alpha1.New(kind)
	if obj == nil {
		return nil, errors.Fatal(nil, "store: unknown kind %q", kind)
	}

	if err := json.Unmarshal(data, obj); err != nil {
		return nil, errors.Fatal(err, "store: corrupt record for kind %q", kind)
	}

	return obj, nil
}

// Create writes obj, failing with AlreadyExists if the key is already
// populated. obj's resource_version becomes the revision the driver
// assigned to the write; revisions are shared by every key, so it is 1
// only for the first write to an empty driver.
func (s *Store) Create(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error {
	meta := obj.GetMeta()
	meta.ResourceVersion = 0
	meta.Generation = 1

	key := objectKey(kind, obj.GetNamespace(), obj.GetName())

	data, err := json.Marshal(obj)
	if err != nil {
		return errors.InvalidObject("store: marshal %s %q: %v", kind, obj.GetName(), err)
	}

	zero := uint64(0)

	version, err := s.driver.Put(ctx, key, data, &zero)
	if err != nil {
		if errors.Is(err, errors.KindConflict) {
			s.metrics.observeOp(kind, "create", "already_exists")
			return errors.AlreadyExists("store: %s %q already exists", kind, obj.GetName())
		}

		s.metrics.observeOp(kind, "create", "error")

		return err
	}

	meta.ResourceVersion = version
	s.metrics.observeOp(kind, "create", "ok")

	return nil
}

// Get returns the current object for kind/namespace/name.
func (s *Store) Get(ctx context.Context, kind v1alpha1.Kind, namespace, name string) (v1alpha1.Object, error) {
	key := objectKey(kind, namespace, name)

	pair, err := s.driver.Get(ctx, key)
	if err != nil {
		s.metrics.observeOp(kind, "get", "not_found")
		return nil, err
	}

	obj, err := decodeStored(kind, pair.Value)
	if err != nil {
		return nil, err
	}

	obj.GetMeta().ResourceVersion = pair.Version

	s.metrics.observeOp(kind, "get", "ok")

	return obj, nil
}

// List returns every object of kind within namespace ("" for global kinds
// or to list across every namespace of a namespaced kind).
func (s *Store) List(ctx context.Context, kind v1alpha1.Kind, namespace string) ([]v1alpha1.Object, error) {
	pairs, err := s.driver.Range(ctx, namespacePrefix(kind, namespace))
	if err != nil {
		return nil, err
	}

	objs := make([]v1alpha1.Object, 0, len(pairs))

	for _, p := range pairs {
		obj, err := decodeStored(kind, p.Value)
		if err != nil {
			return nil, err
		}

		obj.GetMeta().ResourceVersion = p.Version
		objs = append(objs, obj)
	}

	s.metrics.observeOp(kind, "list", "ok")

	return objs, nil
}

// Update performs an optimistic-concurrency write: obj.GetMeta().ResourceVersion
// must equal the stored version or the call fails with Conflict. Generation
// only advances when the "spec" portion of the object actually changed.
func (s *Store) Update(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error {
	key := objectKey(kind, obj.GetNamespace(), obj.GetName())

	pair, err := s.driver.Get(ctx, key)
	if err != nil {
		s.metrics.observeOp(kind, "update", "not_found")
		return err
	}

	existing, err := decodeStored(kind, pair.Value)
	if err != nil {
		return err
	}

	meta := obj.GetMeta()

	if meta.ResourceVersion != pair.Version {
		s.metrics.observeOp(kind, "update", "conflict")
		return errors.Conflict("store: %s %q update expected version %d, found %d", kind, obj.GetName(), meta.ResourceVersion, pair.Version)
	}

	meta.CreationTimestamp = existing.GetMeta().CreationTimestamp

	if specEqual(existing, obj) {
		meta.Generation = existing.GetMeta().Generation
	} else {
		meta.Generation = existing.GetMeta().Generation + 1
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return errors.InvalidObject("store: marshal %s %q: %v", kind, obj.GetName(), err)
	}

	expected := pair.Version

	version, err := s.driver.Put(ctx, key, data, &expected)
	if err != nil {
		if errors.Is(err, errors.KindConflict) {
			s.metrics.observeOp(kind, "update", "conflict")
			return errors.Conflict("store: %s %q update raced with a concurrent write", kind, obj.GetName())
		}

		s.metrics.observeOp(kind, "update", "error")

		return err
	}

	meta.ResourceVersion = version
	s.metrics.observeOp(kind, "update", "ok")

	return nil
}

// UpdateStatus writes only the "status" portion of obj, leaving "spec"
// and generation untouched; resource_version still advances. This is the
// path controllers use to report observed state without racing user
// edits to spec.
func (s *Store) UpdateStatus(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error {
	key := objectKey(kind, obj.GetNamespace(), obj.GetName())

	pair, err := s.driver.Get(ctx, key)
	if err != nil {
		s.metrics.observeOp(kind, "update_status", "not_found")
		return err
	}

	meta := obj.GetMeta()

	if meta.ResourceVersion != pair.Version {
		s.metrics.observeOp(kind, "update_status", "conflict")
		return errors.Conflict("store: %s %q status update expected version %d, found %d", kind, obj.GetName(), meta.ResourceVersion, pair.Version)
	}

	var existingFields map[string]json.RawMessage
	if err := json.Unmarshal(pair.Value, &existingFields); err != nil {
		return errors.Fatal(err, "store: corrupt record for %s %q", kind, obj.GetName())
	}

	newFields, err := marshalFields(obj)
	if err != nil {
		return errors.InvalidObject("store: marshal %s %q: %v", kind, obj.GetName(), err)
	}

	if status, ok := newFields["status"]; ok {
		existingFields["status"] = status
	}

	data, err := json.Marshal(existingFields)
	if err != nil {
		return errors.InvalidObject("store: marshal %s %q: %v", kind, obj.GetName(), err)
	}

	expected := pair.Version

	version, err := s.driver.Put(ctx, key, data, &expected)
	if err != nil {
		if errors.Is(err, errors.KindConflict) {
			s.metrics.observeOp(kind, "update_status", "conflict")
			return errors.Conflict("store: %s %q status update raced with a concurrent write", kind, obj.GetName())
		}

		s.metrics.observeOp(kind, "update_status", "error")

		return err
	}

	meta.ResourceVersion = version
	s.metrics.observeOp(kind, "update_status", "ok")

	return nil
}

// Delete immediately removes kind/namespace/name, firing a DELETE watch
// event. When expectedVersion is non-nil the delete is conditional on the
// stored version matching it.
func (s *Store) Delete(ctx context.Context, kind v1alpha1.Kind, namespace, name string, expectedVersion *uint64) error {
	key := objectKey(kind, namespace, name)

	if err := s.driver.Delete(ctx, key, expectedVersion); err != nil {
		if errors.Is(err, errors.KindConflict) {
			s.metrics.observeOp(kind, "delete", "conflict")
			return errors.Conflict("store: %s %q delete raced with a concurrent write", kind, name)
		}

		s.metrics.observeOp(kind, "delete", "not_found")

		return err
	}

	s.metrics.observeOp(kind, "delete", "ok")

	return nil
}

// RequestDelete implements graceful, finalizer-aware deletion: if the
// object carries no finalizers it is removed immediately; otherwise its
// DeletionTimestamp is set (if not already) so owning controllers can
// observe the pending delete, drain their finalizer, and the object is
// only actually removed once none remain.
func (s *Store) RequestDelete(ctx context.Context, kind v1alpha1.Kind, namespace, name string) error {
	obj, err := s.Get(ctx, kind, namespace, name)
	if err != nil {
		return err
	}

	meta := obj.GetMeta()

	if len(meta.Finalizers) == 0 {
		version := meta.ResourceVersion
		return s.Delete(ctx, kind, namespace, name, &version)
	}

	if meta.DeletionTimestamp != nil {
		return nil
	}

	now := time.Now()
	meta.DeletionTimestamp = &now

	return s.Update(ctx, kind, obj)
}

// specEqual reports whether a and b's "spec" JSON field are byte-identical,
// used to decide whether Update should bump Generation. Kinds without a
// spec field (Namespace) always compare equal here.
func specEqual(a, b v1alpha1.Object) bool {
	af, err := marshalFields(a)
	if err != nil {
		return false
	}

	bf, err := marshalFields(b)
	if err != nil {
		return false
	}

	return string(af["spec"]) == string(bf["spec"])
}

func marshalFields(obj v1alpha1.Object) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}

	return fields, nil
}
