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

import "time"

// Action is a verb an authorization rule grants over a resource kind.
type Action string

const (
	ActionGet    Action = "get"
	ActionList   Action = "list"
	ActionWatch  Action = "watch"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExec   Action = "exec"
	ActionLogs   Action = "logs"
	ActionAll    Action = "*"
)

// Rule grants a set of Actions over a set of resource kinds.
type Rule struct {
	Resources []string `json:"resources"`
	Actions   []Action `json:"actions"`
}

func (r *Rule) deepCopy() Rule {
	return Rule{
		Resources: append([]string(nil), r.Resources...),
		Actions:   append([]Action(nil), r.Actions...),
	}
}

// RoleSpec grants a set of Rules, scoped to a set of namespaces (empty
// means cluster-wide), to a set of users.
type RoleSpec struct {
	Rules      []Rule   `json:"rules,omitempty"`
	Namespaces []string `json:"namespaces,omitempty"`
	Users      []string `json:"users,omitempty"`
}

func (s *RoleSpec) deepCopy() RoleSpec {
	out := RoleSpec{
		Namespaces: append([]string(nil), s.Namespaces...),
		Users:      append([]string(nil), s.Users...),
	}

	if s.Rules != nil {
		out.Rules = make([]Rule, len(s.Rules))
		for i, r := range s.Rules {
			out.Rules[i] = r.deepCopy()
		}
	}

	return out
}

// Role grants a set of permissions to a set of users, optionally scoped to
// a subset of namespaces.
type Role struct {
	Meta ObjectMeta `json:"metadata"`
	Spec RoleSpec   `json:"spec"`
}

func (r *Role) GetKind() Kind        { return KindRole }
func (r *Role) GetName() string      { return r.Meta.Name }
func (r *Role) GetNamespace() string { return "" }
func (r *Role) GetMeta() *ObjectMeta { return &r.Meta }

func (r *Role) DeepCopyObject() Object {
	out := &Role{}
	r.Meta.DeepCopyInto(&out.Meta)
	out.Spec = r.Spec.deepCopy()

	return out
}

// InviteSpec carries a signed invitation for a new or existing user to be
// granted a set of roles.
type InviteSpec struct {
	Subject   string    `json:"subject"`
	Roles     []string  `json:"roles,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`

	// Token is the signed, opaque invite token handed to the subject;
	// it is never required to be re-derivable from the other fields,
	// since the issuing key may rotate.
	Token string `json:"token,omitempty"`
}

func (s *InviteSpec) deepCopy() InviteSpec {
	out := *s
	out.Roles = append([]string(nil), s.Roles...)

	return out
}

// Invite is a pending grant of one or more Roles to a subject, redeemed
// once via the auth handler's /invites/{name}/accept path.
type Invite struct {
	Meta ObjectMeta `json:"metadata"`
	Spec InviteSpec `json:"spec"`
}

func (i *Invite) GetKind() Kind        { return KindInvite }
func (i *Invite) GetName() string      { return i.Meta.Name }
func (i *Invite) GetNamespace() string { return "" }
func (i *Invite) GetMeta() *ObjectMeta { return &i.Meta }

func (i *Invite) DeepCopyObject() Object {
	out := &Invite{}
	i.Meta.DeepCopyInto(&out.Meta)
	out.Spec = i.Spec.deepCopy()

	return out
}

// UserSpec is the desired state of a User.
type UserSpec struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`

	// Roles is a denormalized cache of role names granting this user
	// access, kept in sync by the authorization package whenever a Role
	// referencing this user is written; the Role objects remain the
	// source of truth.
	Roles []string `json:"roles,omitempty"`

	Disabled bool `json:"disabled,omitempty"`
}

func (s *UserSpec) deepCopy() UserSpec {
	out := *s
	out.Roles = append([]string(nil), s.Roles...)

	return out
}

// User is an authenticatable principal.
type User struct {
	Meta ObjectMeta `json:"metadata"`
	Spec UserSpec   `json:"spec"`
}

func (u *User) GetKind() Kind        { return KindUser }
func (u *User) GetName() string      { return u.Meta.Name }
func (u *User) GetNamespace() string { return "" }
func (u *User) GetMeta() *ObjectMeta { return &u.Meta }

func (u *User) DeepCopyObject() Object {
	out := &User{}
	u.Meta.DeepCopyInto(&out.Meta)
	out.Spec = u.Spec.deepCopy()

	return out
}
