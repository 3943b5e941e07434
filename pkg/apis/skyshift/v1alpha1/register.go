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

package v1alpha1

import "regexp"

// nameRegexp implements the DNS-label name rule: lowercase alphanumerics
// and hyphens, starting and ending alphanumeric, at most 253 characters.
var nameRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,251}[a-z0-9])?$`)

// ValidName reports whether name satisfies the DNS-label rule shared by
// every object kind.
func ValidName(name string) bool {
	return len(name) > 0 && len(name) <= 253 && nameRegexp.MatchString(name)
}

// New allocates a zero-valued Object for kind, used by the codec to decode
// into a concrete type and by the store to build list/watch result pages.
func New(kind Kind) Object {
	switch kind {
	case KindCluster:
		return &Cluster{}
	case KindJob:
		return &Job{}
	case KindService:
		return &Service{}
	case KindEndpoints:
		return &Endpoints{}
	case KindLink:
		return &Link{}
	case KindFilterPolicy:
		return &FilterPolicy{}
	case KindNamespace:
		return &Namespace{}
	case KindRole:
		return &Role{}
	case KindInvite:
		return &Invite{}
	case KindUser:
		return &User{}
	default:
		return nil
	}
}

// Kinds lists every registered kind, in a stable order, for use by
// components that need to enumerate the whole data model (the RBAC
// bootstrap, list-all-kinds debug endpoints, schema registration).
func Kinds() []Kind {
	return []Kind{
		KindCluster,
		KindJob,
		KindService,
		KindEndpoints,
		KindLink,
		KindFilterPolicy,
		KindNamespace,
		KindRole,
		KindInvite,
		KindUser,
	}
}
