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

// Package authz implements the control plane's role/permission model
// : a closed set of actions, Roles binding users to rules scoped to
// namespaces, and an Allowed decision function evaluating the union of
// every Role bound to a subject.
package authz

import (
	"context"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// AdminRoleName is the bootstrap role: the only seed capable of issuing
// the first invite.
const AdminRoleName = "admin-role"

// RoleLister is the subset of the store a decision needs: every role
// currently bound to subject. Kept narrow so authz doesn't import
// pkg/store directly and authz unit tests don't need a real Store.
type RoleLister interface {
	ListRolesForSubject(ctx context.Context, subject string) ([]*v1alpha1.Role, error)
}

// Authorizer evaluates access decisions over the role bindings RoleLister
// exposes.
type Authorizer struct {
	roles RoleLister
}

// New returns an Authorizer backed by roles.
func New(roles RoleLister) *Authorizer {
	return &Authorizer{roles: roles}
}

// Allowed reports whether subject may perform action against an object of
// kind within namespace ("" for a global-kind object, or for a
// namespace-wide action such as list/watch across a namespaced kind).
func (a *Authorizer) Allowed(ctx context.Context, subject string, action v1alpha1.Action, kind v1alpha1.Kind, namespace string) (bool, error) {
	roles, err := a.roles.ListRolesForSubject(ctx, subject)
	if err != nil {
		return false, err
	}

	for _, role := range roles {
		if roleGrants(role, action, kind, namespace) {
			return true, nil
		}
	}

	return false, nil
}

// Authorize is Allowed plus the Unauthorized error the API surface maps
// to an HTTP 403, so handlers can do `if err := authz.Authorize(...); err
// != nil { return err }`.
func (a *Authorizer) Authorize(ctx context.Context, subject string, action v1alpha1.Action, kind v1alpha1.Kind, namespace string) error {
	ok, err := a.Allowed(ctx, subject, action, kind, namespace)
	if err != nil {
		return err
	}

	if !ok {
		return errors.Unauthorized("authz: %q may not %s %s in namespace %q", subject, action, kind, namespace)
	}

	return nil
}

func roleGrants(role *v1alpha1.Role, action v1alpha1.Action, kind v1alpha1.Kind, namespace string) bool {
	// A cross-namespace action over a namespaced kind (list/watch with no
	// namespace) needs a cluster-wide role; a role scoped to some
	// namespaces must not leak visibility beyond them.
	if kind.Namespaced() && namespace == "" && len(role.Spec.Namespaces) > 0 {
		return false
	}

	if !namespaceInScope(role.Spec.Namespaces, namespace) {
		return false
	}

	for _, rule := range role.Spec.Rules {
		if !resourceMatches(rule.Resources, kind) {
			continue
		}

		if actionMatches(rule.Actions, action) {
			return true
		}
	}

	return false
}

// namespaceInScope reports whether a Role scoped to scopeNamespaces
// (empty meaning cluster-wide) covers namespace. A global-kind object
// (namespace == "") is always in scope: Roles gate namespaced data, not
// whether a subject can see global objects like Cluster or Namespace.
func namespaceInScope(scopeNamespaces []string, namespace string) bool {
	if len(scopeNamespaces) == 0 || namespace == "" {
		return true
	}

	for _, ns := range scopeNamespaces {
		if ns == namespace {
			return true
		}
	}

	return false
}

func resourceMatches(resources []string, kind v1alpha1.Kind) bool {
	for _, r := range resources {
		if r == "*" || v1alpha1.Kind(r) == kind {
			return true
		}
	}

	return false
}

func actionMatches(actions []v1alpha1.Action, action v1alpha1.Action) bool {
	for _, a := range actions {
		if a == v1alpha1.ActionAll || a == action {
			return true
		}
	}

	return false
}

// BootstrapAdminRole returns the well-known admin-role granted to the
// bootstrap identity: every action, over every kind, in every namespace.
// The controller-manager/apiserver startup path creates this role (if
// absent) bound to the configured bootstrap subject before serving
// traffic, so there is always a principal able to issue the first
// invite.
func BootstrapAdminRole(subject string) *v1alpha1.Role {
	return &v1alpha1.Role{
		Meta: v1alpha1.ObjectMeta{Name: AdminRoleName},
		Spec: v1alpha1.RoleSpec{
			Rules: []v1alpha1.Rule{
				{Resources: []string{"*"}, Actions: []v1alpha1.Action{v1alpha1.ActionAll}},
			},
			Users: []string{subject},
		},
	}
}
