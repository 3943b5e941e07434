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

package handler

import (
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/codec"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	servercontext "github.com/skyshift-sh/skyshift/pkg/server/context"
	servererrors "github.com/skyshift-sh/skyshift/pkg/server/errors"
	"github.com/skyshift-sh/skyshift/pkg/server/util"
)

// mountKind registers the CRUD, status-subresource, and watch routes for
// one object kind under r.
func (h *Handler) mountKind(r chi.Router, kind v1alpha1.Kind) {
	base := "/" + string(kind)
	if kind.Namespaced() {
		// Cross-namespace list/watch, used by the scheduler and the
		// Skylets, which need to see jobs in every namespace.
		r.Get(base, h.list(kind))

		base = "/namespaces/{namespace}/" + string(kind)
	}

	r.Get(base, h.list(kind))
	r.Post(base, h.create(kind))
	r.Get(base+"/{name}", h.get(kind))
	r.Put(base+"/{name}", h.update(kind))
	r.Put(base+"/{name}/status", h.updateStatus(kind))
	r.Delete(base+"/{name}", h.delete(kind))
}

func namespaceParam(r *http.Request, kind v1alpha1.Kind) string {
	if !kind.Namespaced() {
		return ""
	}

	return chi.URLParam(r, "namespace")
}

func (h *Handler) subjectAndAuthorize(r *http.Request, action v1alpha1.Action, kind v1alpha1.Kind, namespace string) (string, error) {
	subject, err := servercontext.SubjectFromContext(r.Context())
	if err != nil {
		return "", errors.Unauthorized("handler: %v", err)
	}

	if err := h.authorizer.Authorize(r.Context(), subject, action, kind, namespace); err != nil {
		return "", err
	}

	return subject, nil
}

func (h *Handler) create(kind v1alpha1.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		namespace := namespaceParam(r, kind)

		if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionCreate, kind, namespace); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		obj, err := codec.Decode(kind, r.Body)
		if err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		if kind.Namespaced() {
			obj.GetMeta().Namespace = namespace
		}

		if err := h.store.Create(r.Context(), kind, obj); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		util.WriteJSONResponse(w, r, http.StatusCreated, obj)
	}
}

func (h *Handler) get(kind v1alpha1.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		namespace := namespaceParam(r, kind)
		name := chi.URLParam(r, "name")

		if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionGet, kind, namespace); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		obj, err := h.store.Get(r.Context(), kind, namespace, name)
		if err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		util.WriteJSONResponse(w, r, http.StatusOK, obj)
	}
}

func (h *Handler) list(kind v1alpha1.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		namespace := namespaceParam(r, kind)

		if r.URL.Query().Get("watch") == "true" {
			h.watch(kind, namespace, w, r)
			return
		}

		if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionList, kind, namespace); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		objs, err := h.store.List(r.Context(), kind, namespace)
		if err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		util.WriteJSONResponse(w, r, http.StatusOK, objs)
	}
}

func (h *Handler) update(kind v1alpha1.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		namespace := namespaceParam(r, kind)
		name := chi.URLParam(r, "name")

		if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionUpdate, kind, namespace); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		obj, err := codec.Decode(kind, r.Body)
		if err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		obj.GetMeta().Name = name

		if kind.Namespaced() {
			obj.GetMeta().Namespace = namespace
		}

		if err := h.store.Update(r.Context(), kind, obj); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		util.WriteJSONResponse(w, r, http.StatusOK, obj)
	}
}

func (h *Handler) updateStatus(kind v1alpha1.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		namespace := namespaceParam(r, kind)
		name := chi.URLParam(r, "name")

		if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionUpdate, kind, namespace); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		obj, err := codec.Decode(kind, r.Body)
		if err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		obj.GetMeta().Name = name

		if kind.Namespaced() {
			obj.GetMeta().Namespace = namespace
		}

		if err := h.store.UpdateStatus(r.Context(), kind, obj); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		util.WriteJSONResponse(w, r, http.StatusOK, obj)
	}
}

func (h *Handler) delete(kind v1alpha1.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		namespace := namespaceParam(r, kind)
		name := chi.URLParam(r, "name")

		if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionDelete, kind, namespace); err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		var err error

		if kind == v1alpha1.KindNamespace {
			err = h.store.DeleteNamespace(r.Context(), name)
		} else {
			err = h.store.RequestDelete(r.Context(), kind, namespace, name)
		}

		if err != nil {
			servererrors.HandleError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// parseFromVersion reads the "fromVersion" query parameter used to resume
// a watch, defaulting to 0 (a fresh watch from the current snapshot).
func parseFromVersion(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("fromVersion")
	if raw == "" {
		return 0, nil
	}

	return strconv.ParseUint(raw, 10, 64)
}
