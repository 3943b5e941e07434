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

// Package store implements the declarative object store: a
// kind-indexed, namespaced keyspace over a pkg/kv.Driver with optimistic
// concurrency, a status subresource mutation path, and watch fan-out.
package store

import (
	"fmt"
	"strings"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
)

// kindPrefix returns the keyspace prefix for every object of kind.
func kindPrefix(kind v1alpha1.Kind) string {
	return fmt.Sprintf("/%s/", kind)
}

// objectKey returns the full key for a single object.
func objectKey(kind v1alpha1.Kind, namespace, name string) string {
	if namespace == "" {
		return kindPrefix(kind) + name
	}

	return kindPrefix(kind) + namespace + "/" + name
}

// namespacePrefix returns the keyspace prefix for every object of kind
// within namespace.
func namespacePrefix(kind v1alpha1.Kind, namespace string) string {
	if namespace == "" {
		return kindPrefix(kind)
	}

	return kindPrefix(kind) + namespace + "/"
}

// splitKey recovers (namespace, name) from a key under kindPrefix(kind).
func splitKey(kind v1alpha1.Kind, key string) (namespace, name string) {
	rest := strings.TrimPrefix(key, kindPrefix(kind))

	if !kind.Namespaced() {
		return "", rest
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", rest
	}

	return parts[0], parts[1]
}
