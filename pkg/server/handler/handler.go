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

// Package handler implements the API surface's object CRUD, watch, and
// account endpoints, sitting on top of the object store, the
// authorization package's token issuance and pkg/authz's role
// decisions.
package handler

import (
	"context"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/authz"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/server/authorization"
	servererrors "github.com/skyshift-sh/skyshift/pkg/server/errors"
	"github.com/skyshift-sh/skyshift/pkg/server/middleware"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

// Store is the subset of pkg/store.Store the handlers need.
type Store interface {
	Create(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
	Get(ctx context.Context, kind v1alpha1.Kind, namespace, name string) (v1alpha1.Object, error)
	List(ctx context.Context, kind v1alpha1.Kind, namespace string) ([]v1alpha1.Object, error)
	Update(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
	UpdateStatus(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
	Delete(ctx context.Context, kind v1alpha1.Kind, namespace, name string, expectedVersion *uint64) error
	RequestDelete(ctx context.Context, kind v1alpha1.Kind, namespace, name string) error
	DeleteNamespace(ctx context.Context, namespace string) error
	Watch(ctx context.Context, kind v1alpha1.Kind, namespace string, fromVersion uint64) (store.Watcher, error)
}

// storeRoleLister adapts Store's generic List into the narrow interface
// pkg/authz needs, so authz never imports pkg/store directly.
type storeRoleLister struct {
	store Store
}

func (l *storeRoleLister) ListRolesForSubject(ctx context.Context, subject string) ([]*v1alpha1.Role, error) {
	objs, err := l.store.List(ctx, v1alpha1.KindRole, "")
	if err != nil {
		return nil, err
	}

	roles := make([]*v1alpha1.Role, 0, len(objs))

	for _, obj := range objs {
		role := obj.(*v1alpha1.Role)

		for _, u := range role.Spec.Users {
			if u == subject {
				roles = append(roles, role)
				break
			}
		}
	}

	return roles, nil
}

// Handler implements the HTTP API surface.
type Handler struct {
	store         Store
	authenticator *authorization.Authenticator
	authorizer    *authz.Authorizer
	options       *Options
	clusters      ClusterRegistry
}

// SetClusterRegistry wires the compatibility layer's per-cluster managers
// into the logs/exec side paths. Left unset, those endpoints report
// Unsupported, which lets the API server start before the
// controller-manager has reported any Cluster as READY.
func (h *Handler) SetClusterRegistry(registry ClusterRegistry) {
	h.clusters = registry
}

// New returns a Handler wired to store, which also backs the
// authenticator (invite/user records) and the authorizer (role records).
func New(st Store, issuer *authorization.JWTIssuer, options *Options) *Handler {
	authStore := st.(authorization.Store)

	return &Handler{
		store:         st,
		authenticator: authorization.NewAuthenticator(authStore, issuer),
		authorizer:    authz.New(&storeRoleLister{store: st}),
		options:       options,
	}
}

// Bootstrap ensures the admin-role exists and is bound to
// options.BootstrapSubject, so there is always a principal able to issue
// the first invite against an empty store, and seeds the bootstrap user
// itself when a bootstrap secret is configured.
func (h *Handler) Bootstrap(ctx context.Context) error {
	if _, err := h.store.Get(ctx, v1alpha1.KindRole, "", authz.AdminRoleName); err == nil {
		return nil
	} else if !errors.Is(err, errors.KindNotFound) {
		return err
	}

	if err := h.store.Create(ctx, v1alpha1.KindRole, authz.BootstrapAdminRole(h.options.BootstrapSubject)); err != nil {
		return err
	}

	if h.options.BootstrapSecret == "" {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(h.options.BootstrapSecret), bcrypt.DefaultCost)
	if err != nil {
		return errors.Fatal(err, "handler: unable to hash bootstrap secret")
	}

	user := &v1alpha1.User{
		Meta: v1alpha1.ObjectMeta{Name: h.options.BootstrapSubject},
		Spec: v1alpha1.UserSpec{
			Username:     h.options.BootstrapSubject,
			PasswordHash: string(hash),
			Roles:        []string{authz.AdminRoleName},
		},
	}

	err = h.store.Create(ctx, v1alpha1.KindUser, user)
	if errors.Is(err, errors.KindAlreadyExists) {
		return nil
	}

	return err
}

// Router builds the chi router serving every endpoint.
func (h *Handler) Router() http.Handler {
	router := chi.NewRouter()

	router.NotFound(NotFound)
	router.MethodNotAllowed(MethodNotAllowed)

	router.Route("/api/v1alpha1", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/register", h.register)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(h.authenticator))

			for _, kind := range v1alpha1.Kinds() {
				h.mountKind(r, kind)
			}

			// Registered after the per-kind routes so they replace the
			// generic POST /invites and DELETE /invites/{name} handlers.
			r.Post("/invites", h.createInvite)
			r.Delete("/invites/{token}", h.revokeInvite)

			r.Get("/clusters/{cluster}/jobs/{namespace}/{name}/logs", h.jobLogs)
			r.Get("/clusters/{cluster}/jobs/{namespace}/{name}/exec", h.jobExec)
		})
	})

	return router
}

// NotFound is the router-wide 404 handler.
func NotFound(w http.ResponseWriter, r *http.Request) {
	servererrors.HandleError(w, r, errors.NotFound("handler: no route for %s %s", r.Method, r.URL.Path))
}

// MethodNotAllowed is the router-wide 405 handler.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	servererrors.HandleError(w, r, errors.InvalidObject("handler: method %s not allowed for %s", r.Method, r.URL.Path))
}
