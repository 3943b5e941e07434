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

// Package v1alpha1 defines the object kinds that make up the SkyShift data
// model: Cluster, Job, Service, Endpoints, Link, FilterPolicy, Namespace,
// Role, Invite and User. Every kind shares the same ObjectMeta envelope and
// implements the Object interface so the codec, store, and informers can
// operate on them generically.
package v1alpha1

import "time"

// Kind identifies an object type in the store's keyspace.
type Kind string

const (
	KindCluster      Kind = "clusters"
	KindJob          Kind = "jobs"
	KindService      Kind = "services"
	KindEndpoints    Kind = "endpoints"
	KindLink         Kind = "links"
	KindFilterPolicy Kind = "filterpolicies"
	KindNamespace    Kind = "namespaces"
	KindRole         Kind = "roles"
	KindInvite       Kind = "invites"
	KindUser         Kind = "users"
)

// Namespaced reports whether objects of this kind are scoped under a
// namespace bucket in the store's keyspace.
func (k Kind) Namespaced() bool {
	switch k {
	case KindJob, KindService, KindEndpoints, KindFilterPolicy:
		return true
	default:
		return false
	}
}

// ObjectMeta is embedded by every object kind.
type ObjectMeta struct {
	// Name is the DNS-label object name, unique within its bucket.
	Name string `json:"name"`

	// Namespace scopes namespaced kinds; empty for global kinds.
	Namespace string `json:"namespace,omitempty"`

	// Labels are arbitrary key/value pairs used for selection.
	Labels map[string]string `json:"labels,omitempty"`

	// Annotations are arbitrary non-selectable key/value pairs.
	Annotations map[string]string `json:"annotations,omitempty"`

	// ResourceVersion is monotonically increasing per object and used for
	// optimistic concurrency and watch resumption.
	ResourceVersion uint64 `json:"resourceVersion,omitempty"`

	// Generation increments only on spec changes, not status-only updates.
	Generation uint64 `json:"generation,omitempty"`

	// CreationTimestamp records when the object was first created.
	CreationTimestamp time.Time `json:"creationTimestamp,omitempty"`

	// DeletionTimestamp is set when a delete has been requested but
	// finalizers have not yet all cleared.
	DeletionTimestamp *time.Time `json:"deletionTimestamp,omitempty"`

	// Finalizers block the final removal of the object from the store
	// until every entry has been removed by its owning controller.
	Finalizers []string `json:"finalizers,omitempty"`
}

// DeepCopyInto copies m into out.
func (m *ObjectMeta) DeepCopyInto(out *ObjectMeta) {
	*out = *m

	if m.Labels != nil {
		out.Labels = make(map[string]string, len(m.Labels))
		for k, v := range m.Labels {
			out.Labels[k] = v
		}
	}

	if m.Annotations != nil {
		out.Annotations = make(map[string]string, len(m.Annotations))
		for k, v := range m.Annotations {
			out.Annotations[k] = v
		}
	}

	if m.DeletionTimestamp != nil {
		t := *m.DeletionTimestamp
		out.DeletionTimestamp = &t
	}

	if m.Finalizers != nil {
		out.Finalizers = append([]string(nil), m.Finalizers...)
	}
}

// HasFinalizer reports whether the named finalizer is present.
func (m *ObjectMeta) HasFinalizer(name string) bool {
	for _, f := range m.Finalizers {
		if f == name {
			return true
		}
	}

	return false
}

// AddFinalizer adds name if not already present, returning true if it
// changed anything.
func (m *ObjectMeta) AddFinalizer(name string) bool {
	if m.HasFinalizer(name) {
		return false
	}

	m.Finalizers = append(m.Finalizers, name)

	return true
}

// RemoveFinalizer removes name if present, returning true if it changed
// anything.
func (m *ObjectMeta) RemoveFinalizer(name string) bool {
	out := m.Finalizers[:0]

	found := false

	for _, f := range m.Finalizers {
		if f == name {
			found = true
			continue
		}

		out = append(out, f)
	}

	m.Finalizers = out

	return found
}

// Object is implemented by every kind so generic store, codec, and informer
// code never needs a type switch over concrete kinds.
type Object interface {
	// GetKind returns the object's kind.
	GetKind() Kind

	// GetName returns the object name.
	GetName() string

	// GetNamespace returns the object namespace, or "" for global kinds.
	GetNamespace() string

	// GetMeta returns a pointer to the embedded ObjectMeta so generic
	// code can read/mutate resource versions, finalizers, etc.
	GetMeta() *ObjectMeta

	// DeepCopyObject returns an independent copy of the object.
	DeepCopyObject() Object
}

// Key returns the store key for an object: "<namespace>/<name>" for
// namespaced kinds, "<name>" for global kinds.
func Key(namespace, name string) string {
	if namespace == "" {
		return name
	}

	return namespace + "/" + name
}
