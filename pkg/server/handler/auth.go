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
	"encoding/json"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	servererrors "github.com/skyshift-sh/skyshift/pkg/server/errors"
	"github.com/skyshift-sh/skyshift/pkg/server/util"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return errors.InvalidObject("handler: decode request body: %v", err)
	}

	return nil
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials

	if err := decodeBody(r, &creds); err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	token, err := h.authenticator.Login(r.Context(), r, creds.Username, creds.Password)
	if err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	util.WriteJSONResponse(w, r, http.StatusOK, tokenResponse{Token: token})
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Invite   string `json:"invite"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest

	if err := decodeBody(r, &req); err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	token, err := h.authenticator.Register(r.Context(), r, req.Username, req.Password, req.Invite)
	if err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	util.WriteJSONResponse(w, r, http.StatusCreated, tokenResponse{Token: token})
}

type inviteRequest struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// createInvite lets an authenticated subject allowed to create invites
// mint a signed invite for a new user, naming the roles it grants.
func (h *Handler) createInvite(w http.ResponseWriter, r *http.Request) {
	subject, err := h.subjectAndAuthorize(r, v1alpha1.ActionCreate, v1alpha1.KindInvite, "")
	if err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	var req inviteRequest

	if err := decodeBody(r, &req); err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	token, err := h.authenticator.Invite(r.Context(), r, subject, req.Subject, req.Roles, h.options.InviteDuration)
	if err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	util.WriteJSONResponse(w, r, http.StatusCreated, tokenResponse{Token: token})
}

func (h *Handler) revokeInvite(w http.ResponseWriter, r *http.Request) {
	if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionDelete, v1alpha1.KindInvite, ""); err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	token := chi.URLParam(r, "token")

	if err := h.authenticator.RevokeInvite(r.Context(), token); err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
