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

// Package codec decodes, defaults, and validates the wire representation
// of every object kind. Decoding rejects unknown fields so typo'd request
// bodies fail fast as InvalidObject rather than silently dropping data.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// Validator is implemented by schema registrations that need
// cross-field validation beyond what the Go type system already
// enforces (replicas >= 0, node_port only set when type is NodePort...).
type Validator func(obj v1alpha1.Object) error

// Defaulter injects defaults into a freshly decoded object before it's
// validated and stored: an empty label map, an initial status phase, and
// the creation timestamp.
type Defaulter func(obj v1alpha1.Object)

var (
	validators = map[v1alpha1.Kind]Validator{
		v1alpha1.KindCluster:      validateCluster,
		v1alpha1.KindJob:          validateJob,
		v1alpha1.KindService:      validateService,
		v1alpha1.KindEndpoints:    validateEndpoints,
		v1alpha1.KindLink:         validateLink,
		v1alpha1.KindFilterPolicy: validateFilterPolicy,
		v1alpha1.KindNamespace:    validateNamespace,
		v1alpha1.KindRole:         validateRole,
		v1alpha1.KindInvite:       validateInvite,
		v1alpha1.KindUser:         validateUser,
	}

	defaulters = map[v1alpha1.Kind]Defaulter{
		v1alpha1.KindCluster:      defaultCluster,
		v1alpha1.KindJob:          defaultJob,
		v1alpha1.KindService:      defaultService,
		v1alpha1.KindFilterPolicy: defaultFilterPolicy,
		v1alpha1.KindNamespace:    defaultNamespace,
	}
)

// Decode reads JSON from r into a new object of the given kind, rejecting
// any field not present in the Go type, then applies defaults and runs
// validation. It's the single entry point the API handlers and the store
// use to turn a request body into a validated Object.
func Decode(kind v1alpha1.Kind, r io.Reader) (v1alpha1.Object, error) {
	obj := v1alpha1.New(kind)
	if obj == nil {
		return nil, errors.InvalidObject("codec: unknown kind %q", kind)
	}

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(obj); err != nil {
		return nil, errors.InvalidObject("codec: decode %s: %v", kind, err)
	}

	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, errors.InvalidObject("codec: trailing data after %s body", kind)
	}

	Default(obj)

	if err := Validate(obj); err != nil {
		return nil, err
	}

	return obj, nil
}

// DecodeBytes is a convenience wrapper around Decode for callers already
// holding the body in memory (e.g. a websocket frame).
func DecodeBytes(kind v1alpha1.Kind, data []byte) (v1alpha1.Object, error) {
	return Decode(kind, bytes.NewReader(data))
}

// Default applies the registered Defaulter for obj's kind, if any.
func Default(obj v1alpha1.Object) {
	meta := obj.GetMeta()

	if meta.Labels == nil {
		meta.Labels = map[string]string{}
	}

	if meta.CreationTimestamp.IsZero() {
		meta.CreationTimestamp = time.Now()
	}

	if d, ok := defaulters[obj.GetKind()]; ok {
		d(obj)
	}
}

// Validate runs name validation, the registered schema Validator for
// obj's kind, and returns an InvalidObject error describing the first
// failure found.
func Validate(obj v1alpha1.Object) error {
	name := obj.GetName()
	if !v1alpha1.ValidName(name) {
		return errors.InvalidObject("codec: %s name %q is not a valid DNS label", obj.GetKind(), name)
	}

	if obj.GetKind().Namespaced() && obj.GetNamespace() == "" {
		return errors.InvalidObject("codec: %s %q requires a namespace", obj.GetKind(), name)
	}

	if !obj.GetKind().Namespaced() && obj.GetMeta().Namespace != "" {
		return errors.InvalidObject("codec: %s %q must not set a namespace", obj.GetKind(), name)
	}

	v, ok := validators[obj.GetKind()]
	if !ok {
		return nil
	}

	if err := v(obj); err != nil {
		return fmt.Errorf("%w", err)
	}

	return nil
}
