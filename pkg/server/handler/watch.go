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

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	servererrors "github.com/skyshift-sh/skyshift/pkg/server/errors"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

// watchEventType mirrors store.WatchEventType at the wire layer.
type watchEventType string

const (
	watchEventAdd    watchEventType = "ADD"
	watchEventUpdate watchEventType = "UPDATE"
	watchEventDelete watchEventType = "DELETE"
)

// watchEnvelope is one line of a watch stream's body.
type watchEnvelope struct {
	Type   watchEventType  `json:"type"`
	Object v1alpha1.Object `json:"object"`
}

func toWatchEventType(t store.WatchEventType) watchEventType {
	switch t {
	case store.WatchAdd:
		return watchEventAdd
	case store.WatchUpdate:
		return watchEventUpdate
	case store.WatchDelete:
		return watchEventDelete
	default:
		return watchEventAdd
	}
}

// watch streams newline-delimited JSON watch events for kind/namespace
// until the client disconnects: without a fromVersion query parameter,
// every currently-stored object replayed as a synthetic ADD and then live
// events; with one, only the events after that version.
func (h *Handler) watch(kind v1alpha1.Kind, namespace string, w http.ResponseWriter, r *http.Request) {
	if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionWatch, kind, namespace); err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	fromVersion, err := parseFromVersion(r)
	if err != nil {
		servererrors.HandleError(w, r, errors.InvalidObject("handler: invalid fromVersion: %v", err))
		return
	}

	result, err := h.store.Watch(r.Context(), kind, namespace, fromVersion)
	if err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	defer result.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		servererrors.HandleError(w, r, errors.Fatal(nil, "handler: response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.FromContext(r.Context())
	encoder := json.NewEncoder(w)

	for {
		select {
		case evt, open := <-result.Events():
			if !open {
				return
			}

			envelope := watchEnvelope{Type: toWatchEventType(evt.Type), Object: evt.Object}

			if err := encoder.Encode(envelope); err != nil {
				logger.Error(err, "failed to write watch event")
				return
			}

			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
