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

package middleware

import (
	"net/http"

	servercontext "github.com/skyshift-sh/skyshift/pkg/server/context"
	servererrors "github.com/skyshift-sh/skyshift/pkg/server/errors"
)

// Authenticator is the subset of authorization.Authenticator the
// middleware needs: verify the bearer token on a request and return its
// subject.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Authenticate returns chi-style middleware that verifies the bearer
// token on every request it wraps and injects the resulting subject into
// the request context, where handlers and per-kind authz checks read it
// back via servercontext.SubjectFromContext. Public paths (login,
// register) must be routed outside this middleware's group.
func Authenticate(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := authenticator.Authenticate(r)
			if err != nil {
				servererrors.HandleError(w, r, err)
				return
			}

			ctx := servercontext.NewContextWithSubject(r.Context(), subject)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
