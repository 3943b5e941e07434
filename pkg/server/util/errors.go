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

package util

import (
	"encoding/json"
	"errors"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrRequest is raised for handler-local request-binding errors (bad query
// parameters, malformed route values) that never make it as far as
// pkg/codec or the object store, so they don't carry a pkg/errors.Kind.
var ErrRequest = errors.New("request error")

// HTTPError is a minimal, handler-local error carrying its own status
// code, for failures that happen before there's an Object to pass through
// pkg/errors (e.g. an unparsable "fromVersion" query parameter).
type HTTPError struct {
	code    int
	message string
}

// NewHTTPError returns an HTTPError with the given status and message.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{code: code, message: message}
}

func (e *HTTPError) Unwrap() error { return ErrRequest }
func (e *HTTPError) Error() string { return e.message }

// Write emits the error as a JSON body with its status code.
func (e *HTTPError) Write(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.code)

	if err := json.NewEncoder(w).Encode(map[string]string{"message": e.message}); err != nil {
		logger.Error(err, "failed to write error response")
	}
}
