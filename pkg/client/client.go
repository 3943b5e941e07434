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

// Package client is the programmatic API client used by the scheduler and
// the controller manager when they run out of process from the API
// server. It exposes the same method set as pkg/store so informers and
// controllers are indifferent to whether they talk to the store directly
// or over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

const apiPrefix = "/api/v1alpha1"

// Client talks to a SkyShift API server.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

// New returns a Client for the API server at endpoint, e.g.
// "http://skyshift-apiserver:6080", authenticating every request with
// token.
func New(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{},
	}
}

// Login exchanges a username and password for a session token and returns
// a Client bound to it.
func Login(ctx context.Context, endpoint, username, password string) (*Client, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+apiPrefix+"/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Transient(err, "client: login against %s", endpoint)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var token struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, errors.Transient(err, "client: decode login response")
	}

	return New(endpoint, token.Token), nil
}

// Register redeems an invite token, creating the user and returning a
// Client bound to its first session token.
func Register(ctx context.Context, endpoint, username, password, invite string) (*Client, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password, "invite": invite})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+apiPrefix+"/register", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Transient(err, "client: register against %s", endpoint)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}

	var token struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, errors.Transient(err, "client: decode register response")
	}

	return New(endpoint, token.Token), nil
}

// Invite mints a signed invite for subject granting roles; the returned
// token is handed to the invitee for Register.
func (c *Client) Invite(ctx context.Context, subject string, roles []string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, apiPrefix+"/invites", map[string]interface{}{"subject": subject, "roles": roles})
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", responseError(resp)
	}

	var token struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", errors.Transient(err, "client: decode invite response")
	}

	return token.Token, nil
}

// RevokeInvite invalidates a previously minted invite token.
func (c *Client) RevokeInvite(ctx context.Context, token string) error {
	resp, err := c.do(ctx, http.MethodDelete, apiPrefix+"/invites/"+url.PathEscape(token), nil)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}

	return nil
}

// kindPath builds the resource collection path for kind, scoped to
// namespace when one is given. Namespaced kinds with an empty namespace
// use the cross-namespace collection route.
func kindPath(kind v1alpha1.Kind, namespace string) string {
	if kind.Namespaced() && namespace != "" {
		return fmt.Sprintf("%s/namespaces/%s/%s", apiPrefix, url.PathEscape(namespace), kind)
	}

	return fmt.Sprintf("%s/%s", apiPrefix, kind)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.InvalidObject("client: marshal request body: %v", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, errors.Transient(err, "client: %s %s", method, path)
	}

	return resp, nil
}

// responseError reconstructs a pkg/errors error from the API server's
// JSON error body so callers can keep using errors.Is over the taxonomy
// regardless of which side of the HTTP boundary they sit on.
func responseError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errors.Transient(err, "client: unexpected status %d", resp.StatusCode)
	}

	for _, kind := range []errors.Kind{
		errors.KindInvalidObject,
		errors.KindAlreadyExists,
		errors.KindNotFound,
		errors.KindConflict,
		errors.KindUnauthorized,
		errors.KindUnsupported,
		errors.KindTransient,
		errors.KindFatal,
	} {
		if kind.String() == body.Error {
			return errors.New(kind, body.Message)
		}
	}

	return errors.New(errors.KindInternal, body.Message)
}

func decodeObject(kind v1alpha1.Kind, r io.Reader) (v1alpha1.Object, error) {
	obj := v1alpha1.New(kind)
	if obj == nil {
		return nil, errors.InvalidObject("client: unknown kind %q", kind)
	}

	if err := json.NewDecoder(r).Decode(obj); err != nil {
		return nil, errors.Transient(err, "client: decode %s response", kind)
	}

	return obj, nil
}

// Create persists a new object, updating obj's resource version in place
// from the server's response.
func (c *Client) Create(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error {
	resp, err := c.do(ctx, http.MethodPost, kindPath(kind, obj.GetNamespace()), obj)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return responseError(resp)
	}

	created, err := decodeObject(kind, resp.Body)
	if err != nil {
		return err
	}

	obj.GetMeta().ResourceVersion = created.GetMeta().ResourceVersion

	return nil
}

// Get fetches kind/namespace/name.
func (c *Client) Get(ctx context.Context, kind v1alpha1.Kind, namespace, name string) (v1alpha1.Object, error) {
	resp, err := c.do(ctx, http.MethodGet, kindPath(kind, namespace)+"/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	return decodeObject(kind, resp.Body)
}

// List fetches every object of kind within namespace; an empty namespace
// lists a namespaced kind across all namespaces.
func (c *Client) List(ctx context.Context, kind v1alpha1.Kind, namespace string) ([]v1alpha1.Object, error) {
	resp, err := c.do(ctx, http.MethodGet, kindPath(kind, namespace), nil)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.Transient(err, "client: decode %s list", kind)
	}

	objs := make([]v1alpha1.Object, 0, len(raw))

	for _, item := range raw {
		obj, err := decodeObject(kind, bytes.NewReader(item))
		if err != nil {
			return nil, err
		}

		objs = append(objs, obj)
	}

	return objs, nil
}

// Update writes obj with optimistic concurrency: the server compares
// obj's resource version and fails with Conflict on mismatch.
func (c *Client) Update(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error {
	return c.put(ctx, kind, obj, "")
}

// UpdateStatus writes only obj's status subresource.
func (c *Client) UpdateStatus(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error {
	return c.put(ctx, kind, obj, "/status")
}

func (c *Client) put(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object, subresource string) error {
	path := kindPath(kind, obj.GetNamespace()) + "/" + url.PathEscape(obj.GetName()) + subresource

	resp, err := c.do(ctx, http.MethodPut, path, obj)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	updated, err := decodeObject(kind, resp.Body)
	if err != nil {
		return err
	}

	obj.GetMeta().ResourceVersion = updated.GetMeta().ResourceVersion

	return nil
}

// Delete requests deletion of kind/namespace/name; the server applies its
// finalizer-aware graceful deletion semantics.
func (c *Client) Delete(ctx context.Context, kind v1alpha1.Kind, namespace, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, kindPath(kind, namespace)+"/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}

	return nil
}

// Watch opens a streaming watch over kind/namespace, relaying the
// server's newline-delimited JSON event stream as store.WatchEvents. The
// returned Watcher's channel closes when the server ends the stream or
// ctx is cancelled; callers reconnect the same way they would against the
// in-process store.
func (c *Client) Watch(ctx context.Context, kind v1alpha1.Kind, namespace string, fromVersion uint64) (store.Watcher, error) {
	path := kindPath(kind, namespace) + "?watch=true"
	if fromVersion > 0 {
		path += fmt.Sprintf("&fromVersion=%d", fromVersion)
	}

	ctx, cancel := context.WithCancel(ctx)

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()

		return nil, responseError(resp)
	}

	w := &watcher{
		events: make(chan store.WatchEvent, 256),
		cancel: cancel,
	}

	go w.pump(kind, resp.Body)

	return w, nil
}

type watcher struct {
	events chan store.WatchEvent
	cancel context.CancelFunc
}

func (w *watcher) Events() <-chan store.WatchEvent {
	return w.events
}

func (w *watcher) Close() {
	w.cancel()
}

// wireEvent matches the server's watch envelope; the object is decoded
// lazily once the event type is known so DELETE events (which may carry
// only metadata) still decode cleanly.
type wireEvent struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

func (w *watcher) pump(kind v1alpha1.Kind, body io.ReadCloser) {
	defer close(w.events)
	defer body.Close()

	decoder := json.NewDecoder(body)

	for {
		var evt wireEvent

		if err := decoder.Decode(&evt); err != nil {
			return
		}

		obj, err := decodeObject(kind, bytes.NewReader(evt.Object))
		if err != nil {
			continue
		}

		var wtype store.WatchEventType

		switch evt.Type {
		case "UPDATE":
			wtype = store.WatchUpdate
		case "DELETE":
			wtype = store.WatchDelete
		default:
			wtype = store.WatchAdd
		}

		w.events <- store.WatchEvent{Type: wtype, Object: obj}
	}
}
