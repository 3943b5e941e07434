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

// Package context carries request-scoped authentication state (the bearer
// token subject) from the authorization middleware down to handlers,
// without handlers needing to re-parse the Authorization header.
package context

import (
	"context"
	"fmt"
)

type contextKey int

const (
	subjectKey contextKey = iota
)

// ErrMissingValue is returned when a context lacks a value a handler
// requires.
var ErrMissingValue = fmt.Errorf("value missing from context")

// NewContextWithSubject returns a child context carrying subject.
func NewContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext extracts the authenticated subject set by the
// authorization middleware.
func SubjectFromContext(ctx context.Context) (string, error) {
	value := ctx.Value(subjectKey)
	if value == nil {
		return "", fmt.Errorf("%w: subject", ErrMissingValue)
	}

	subject, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: subject has wrong type", ErrMissingValue)
	}

	return subject, nil
}
