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

// Package authorization implements the API server's bearer-token session
// model: password register/login backed by the object store's User kind,
// and signed invites redeemed at register time, both minted and verified
// by one JWTIssuer (see token.go).
package authorization

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// Store is the subset of pkg/store.Store the authenticator needs. Kept
// narrow so this package's tests can fake it without a real Store.
type Store interface {
	Create(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
	Get(ctx context.Context, kind v1alpha1.Kind, namespace, name string) (v1alpha1.Object, error)
	Update(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
	Delete(ctx context.Context, kind v1alpha1.Kind, namespace, name string, expectedVersion *uint64) error
}

// Authenticator implements register/login/invite against Store, issuing
// and verifying bearer tokens via Issuer.
type Authenticator struct {
	Store  Store
	Issuer *JWTIssuer
}

// NewAuthenticator returns an Authenticator backed by store and issuer.
func NewAuthenticator(store Store, issuer *JWTIssuer) *Authenticator {
	return &Authenticator{Store: store, Issuer: issuer}
}

// inviteKey hashes a raw invite token into the DNS-label-safe name the
// Invite object is stored under, keeping the "/invites/<token-hash>"
// layout without ever persisting the raw token.
func inviteKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:32]
}

// Invite mints a signed invite for subject granting roles, records it in
// the store so RevokeInvite has something to delete, and returns the raw
// token to hand to the invitee. Callers must authorize the issuing
// subject before calling this.
func (a *Authenticator) Invite(ctx context.Context, r *http.Request, issuer, subject string, roles []string, ttl time.Duration) (string, error) {
	expiresAt := time.Now().Add(ttl)

	token, err := a.Issuer.IssueInvite(r, subject, roles, expiresAt)
	if err != nil {
		return "", errors.Fatal(err, "authorization: unable to issue invite")
	}

	invite := &v1alpha1.Invite{
		Meta: v1alpha1.ObjectMeta{Name: inviteKey(token)},
		Spec: v1alpha1.InviteSpec{
			Subject:   subject,
			Roles:     roles,
			Issuer:    issuer,
			ExpiresAt: expiresAt,
		},
	}

	if err := a.Store.Create(ctx, v1alpha1.KindInvite, invite); err != nil {
		return "", err
	}

	return token, nil
}

// RevokeInvite removes a previously issued invite by its raw token,
// regardless of whether it has already expired, so it can never be
// redeemed by Register even if the JWT itself would still verify.
func (a *Authenticator) RevokeInvite(ctx context.Context, token string) error {
	return a.Store.Delete(ctx, v1alpha1.KindInvite, "", inviteKey(token), nil)
}

// Register validates inviteToken, creates a User bound to the roles it
// grants, and returns a fresh session token.
func (a *Authenticator) Register(ctx context.Context, r *http.Request, username, password, inviteToken string) (string, error) {
	claims, err := a.Issuer.Verify(r, inviteToken)
	if err != nil {
		return "", errors.Unauthorized("authorization: invite token invalid: %v", err)
	}

	if claims.Purpose != PurposeInvite {
		return "", errors.Unauthorized("authorization: token is not an invite")
	}

	if claims.Subject != username {
		return "", errors.Unauthorized("authorization: invite is not for %q", username)
	}

	if _, err := a.Store.Get(ctx, v1alpha1.KindInvite, "", inviteKey(inviteToken)); err != nil {
		return "", errors.Unauthorized("authorization: invite has been revoked or already redeemed")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Fatal(err, "authorization: unable to hash password")
	}

	user := &v1alpha1.User{
		Meta: v1alpha1.ObjectMeta{Name: username},
		Spec: v1alpha1.UserSpec{
			Username:     username,
			PasswordHash: string(hash),
			Roles:        claims.Roles,
		},
	}

	if err := a.Store.Create(ctx, v1alpha1.KindUser, user); err != nil {
		return "", err
	}

	for _, roleName := range claims.Roles {
		if err := a.bindRole(ctx, roleName, username); err != nil {
			return "", err
		}
	}

	if err := a.Store.Delete(ctx, v1alpha1.KindInvite, "", inviteKey(inviteToken), nil); err != nil && !errors.Is(err, errors.KindNotFound) {
		return "", err
	}

	return a.Issuer.Issue(r, username, time.Time{})
}

func (a *Authenticator) bindRole(ctx context.Context, roleName, username string) error {
	obj, err := a.Store.Get(ctx, v1alpha1.KindRole, "", roleName)
	if err != nil {
		return errors.InvalidObject("authorization: invite grants unknown role %q", roleName)
	}

	role := obj.(*v1alpha1.Role)

	for _, u := range role.Spec.Users {
		if u == username {
			return nil
		}
	}

	role.Spec.Users = append(role.Spec.Users, username)

	return a.Store.Update(ctx, v1alpha1.KindRole, role)
}

// Login verifies username/password against the stored User and issues a
// fresh session token.
func (a *Authenticator) Login(ctx context.Context, r *http.Request, username, password string) (string, error) {
	obj, err := a.Store.Get(ctx, v1alpha1.KindUser, "", username)
	if err != nil {
		return "", errors.Unauthorized("authorization: invalid username or password")
	}

	user := obj.(*v1alpha1.User)

	if user.Spec.Disabled {
		return "", errors.Unauthorized("authorization: user %q is disabled", username)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Spec.PasswordHash), []byte(password)); err != nil {
		return "", errors.Unauthorized("authorization: invalid username or password")
	}

	return a.Issuer.Issue(r, username, time.Time{})
}

// Authenticate verifies the bearer token on r and returns its subject.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	scheme, token, err := GetHTTPAuthenticationScheme(r)
	if err != nil {
		return "", errors.Unauthorized("authorization: %v", err)
	}

	if scheme != "Bearer" && scheme != "bearer" {
		return "", errors.Unauthorized("authorization: unsupported scheme %q", scheme)
	}

	claims, err := a.Issuer.Verify(r, token)
	if err != nil {
		return "", errors.Unauthorized("authorization: %v", err)
	}

	if claims.Purpose != PurposeSession {
		return "", errors.Unauthorized("authorization: token is not a session token")
	}

	return claims.Subject, nil
}
