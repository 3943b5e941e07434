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

// Package errors maps the pkg/errors taxonomy onto HTTP status codes at
// the API boundary.
package errors

import (
	"encoding/json"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/log"

	skyerrors "github.com/skyshift-sh/skyshift/pkg/errors"
)

// body is the JSON shape returned to clients on error.
type body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a skyerrors.Kind to the HTTP status code the error
// handling design table assigns it.
func statusFor(kind skyerrors.Kind) int {
	switch kind {
	case skyerrors.KindInvalidObject:
		return http.StatusBadRequest
	case skyerrors.KindAlreadyExists:
		return http.StatusConflict
	case skyerrors.KindNotFound:
		return http.StatusNotFound
	case skyerrors.KindConflict:
		return http.StatusConflict
	case skyerrors.KindUnauthorized:
		return http.StatusForbidden
	case skyerrors.KindUnsupported:
		return http.StatusUnprocessableEntity
	case skyerrors.KindTransient:
		return http.StatusServiceUnavailable
	case skyerrors.KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HandleError is the top level error handler every handler in
// pkg/server/handler calls on failure; it classifies err via pkg/errors,
// writes the matching status code and a JSON body, and logs the detail
// server-side so internals never leak to the client.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	logger := log.FromContext(r.Context())

	kind := skyerrors.KindOf(err)
	status := statusFor(kind)

	if status >= http.StatusInternalServerError {
		logger.Error(err, "request failed", "kind", kind.String())
	} else {
		logger.Info("request failed", "kind", kind.String(), "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)

	resp := body{Error: kind.String(), Message: err.Error()}

	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		logger.Error(encodeErr, "failed to write error response")
	}
}
