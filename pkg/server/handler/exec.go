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
	"context"
	"io"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	servererrors "github.com/skyshift-sh/skyshift/pkg/server/errors"
)

// ClusterManager is the subset of the compatibility layer's per-cluster
// driver the API surface needs to stream a job's logs or attach an
// interactive exec session, without importing pkg/compat (which in turn
// imports the cluster-specific backends) into pkg/server.
type ClusterManager interface {
	Logs(ctx context.Context, namespace, name string, w io.Writer) error
	Exec(ctx context.Context, namespace, name string, conn *websocket.Conn) error
}

// ClusterRegistry resolves a Cluster name to its running ClusterManager.
type ClusterRegistry interface {
	Get(cluster string) (ClusterManager, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Handler) jobLogs(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")
	cluster := chi.URLParam(r, "cluster")

	if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionLogs, v1alpha1.KindJob, namespace); err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	if h.clusters == nil {
		servererrors.HandleError(w, r, errors.Unsupported("handler: no cluster manager available yet"))
		return
	}

	manager, err := h.clusters.Get(cluster)
	if err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if err := manager.Logs(r.Context(), namespace, name, w); err != nil {
		servererrors.HandleError(w, r, err)
	}
}

func (h *Handler) jobExec(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")
	cluster := chi.URLParam(r, "cluster")

	if _, err := h.subjectAndAuthorize(r, v1alpha1.ActionExec, v1alpha1.KindJob, namespace); err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	if h.clusters == nil {
		servererrors.HandleError(w, r, errors.Unsupported("handler: no cluster manager available yet"))
		return
	}

	manager, err := h.clusters.Get(cluster)
	if err != nil {
		servererrors.HandleError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		servererrors.HandleError(w, r, errors.Fatal(err, "handler: websocket upgrade failed"))
		return
	}

	defer conn.Close()

	if err := manager.Exec(r.Context(), namespace, name, conn); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
	}
}
