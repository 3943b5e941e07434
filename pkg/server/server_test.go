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

// Integration tests driving the whole API surface the way the CLI would:
// login, register/invite, object CRUD, watch resume, RBAC denial, and
// namespace cascade, over a real HTTP listener with the real client.
package server_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/client"
	skyerrors "github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/kv/memkv"
	"github.com/skyshift-sh/skyshift/pkg/server/authorization"
	"github.com/skyshift-sh/skyshift/pkg/server/handler"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

const bootstrapSecret = "not-a-real-secret"

// writeKeyPair generates the ES512 keypair the token issuer signs with.
func writeKeyPair(t *testing.T, dir string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "skyshift-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")

	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))

	return certPath, keyPath
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	certPath, keyPath := writeKeyPair(t, t.TempDir())

	issuer := authorization.NewJWTIssuer()

	flags := pflag.NewFlagSet(t.Name(), pflag.ContinueOnError)
	issuer.AddFlags(flags)
	require.NoError(t, flags.Set("jose-tls-cert", certPath))
	require.NoError(t, flags.Set("jose-tls-key", keyPath))

	options := &handler.Options{
		BootstrapSubject: "admin",
		BootstrapSecret:  bootstrapSecret,
		InviteDuration:   time.Hour,
	}

	st := store.New(memkv.New(0))

	h := handler.New(st, issuer, options)
	require.NoError(t, h.Bootstrap(context.Background()))

	server := httptest.NewServer(h.Router())
	t.Cleanup(server.Close)

	return server, st
}

func adminClient(t *testing.T, server *httptest.Server) *client.Client {
	t.Helper()

	c, err := client.Login(context.Background(), server.URL, "admin", bootstrapSecret)
	require.NoError(t, err)

	return c
}

func testJob(name string) *v1alpha1.Job {
	return &v1alpha1.Job{
		Meta: v1alpha1.ObjectMeta{Name: name, Namespace: "default"},
		Spec: v1alpha1.JobSpec{
			Image:    "ubuntu:22.04",
			Replicas: 1,
			Run:      []string{"sleep", "infinity"},
		},
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)

	_, err := client.Login(context.Background(), server.URL, "admin", "wrong")
	require.Error(t, err)
	assert.True(t, skyerrors.Is(err, skyerrors.KindUnauthorized))
}

func TestObjectLifecycle(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	c := adminClient(t, server)
	ctx := context.Background()

	job := testJob("j1")
	require.NoError(t, c.Create(ctx, v1alpha1.KindJob, job))
	assert.NotZero(t, job.Meta.ResourceVersion)

	// Duplicate create is an AlreadyExists, not an overwrite.
	err := c.Create(ctx, v1alpha1.KindJob, testJob("j1"))
	assert.True(t, skyerrors.Is(err, skyerrors.KindAlreadyExists))

	obj, err := c.Get(ctx, v1alpha1.KindJob, "default", "j1")
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.JobPhaseInit, obj.(*v1alpha1.Job).Status.Phase)

	fetched := obj.(*v1alpha1.Job)
	fetched.Spec.Replicas = 2
	require.NoError(t, c.Update(ctx, v1alpha1.KindJob, fetched))

	// A writer with a stale version must lose.
	stale := fetched.DeepCopyObject().(*v1alpha1.Job)
	stale.Meta.ResourceVersion = 1
	err = c.Update(ctx, v1alpha1.KindJob, stale)
	assert.True(t, skyerrors.Is(err, skyerrors.KindConflict))

	objs, err := c.List(ctx, v1alpha1.KindJob, "default")
	require.NoError(t, err)
	assert.Len(t, objs, 1)

	require.NoError(t, c.Delete(ctx, v1alpha1.KindJob, "default", "j1"))

	_, err = c.Get(ctx, v1alpha1.KindJob, "default", "j1")
	assert.True(t, skyerrors.Is(err, skyerrors.KindNotFound))
}

func TestStatusSubresourceLeavesSpecAlone(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	c := adminClient(t, server)
	ctx := context.Background()

	job := testJob("j1")
	require.NoError(t, c.Create(ctx, v1alpha1.KindJob, job))

	// Create only copies the resource version back, so read the stored
	// generation from the server.
	created, err := c.Get(ctx, v1alpha1.KindJob, "default", "j1")
	require.NoError(t, err)

	generation := created.GetMeta().Generation

	job.Spec.Replicas = 99 // must not stick through the status path
	job.Status.Phase = v1alpha1.JobPhaseScheduled
	require.NoError(t, c.UpdateStatus(ctx, v1alpha1.KindJob, job))

	obj, err := c.Get(ctx, v1alpha1.KindJob, "default", "j1")
	require.NoError(t, err)

	fetched := obj.(*v1alpha1.Job)
	assert.Equal(t, v1alpha1.JobPhaseScheduled, fetched.Status.Phase)
	assert.Equal(t, 1, fetched.Spec.Replicas)
	assert.Equal(t, generation, fetched.Meta.Generation)
}

func TestWatchResumesInOrderWithoutDuplicates(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	c := adminClient(t, server)
	ctx := context.Background()

	first := testJob("j1")
	require.NoError(t, c.Create(ctx, v1alpha1.KindJob, first))

	second := testJob("j2")
	require.NoError(t, c.Create(ctx, v1alpha1.KindJob, second))

	third := testJob("j3")
	require.NoError(t, c.Create(ctx, v1alpha1.KindJob, third))

	// Resume after the first object's version: exactly the later two
	// events, in version order.
	watcher, err := c.Watch(ctx, v1alpha1.KindJob, "default", first.Meta.ResourceVersion)
	require.NoError(t, err)

	defer watcher.Close()

	var names []string

	timeout := time.After(5 * time.Second)

	for len(names) < 2 {
		select {
		case evt := <-watcher.Events():
			require.Equal(t, store.WatchAdd, evt.Type)
			names = append(names, evt.Object.GetName())
		case <-timeout:
			t.Fatalf("timed out waiting for watch events, got %v", names)
		}
	}

	assert.Equal(t, []string{"j2", "j3"}, names)

	select {
	case evt := <-watcher.Events():
		t.Fatalf("unexpected duplicate event for %q", evt.Object.GetName())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInviteRegisterAndRBACDenial(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	admin := adminClient(t, server)
	ctx := context.Background()

	viewer := &v1alpha1.Role{
		Meta: v1alpha1.ObjectMeta{Name: "viewer"},
		Spec: v1alpha1.RoleSpec{
			Rules: []v1alpha1.Rule{
				{Resources: []string{"jobs"}, Actions: []v1alpha1.Action{v1alpha1.ActionGet, v1alpha1.ActionList}},
			},
			Namespaces: []string{"default"},
		},
	}

	require.NoError(t, admin.Create(ctx, v1alpha1.KindRole, viewer))

	invite, err := admin.Invite(ctx, "bob", []string{"viewer"})
	require.NoError(t, err)

	bob, err := client.Register(ctx, server.URL, "bob", "hunter2", invite)
	require.NoError(t, err)

	// Within the grant.
	_, err = bob.List(ctx, v1alpha1.KindJob, "default")
	require.NoError(t, err)

	// A namespace-scoped role must not see across namespaces.
	_, err = bob.List(ctx, v1alpha1.KindJob, "")
	assert.True(t, skyerrors.Is(err, skyerrors.KindUnauthorized))

	// Outside it: wrong verb, wrong kind.
	err = bob.Create(ctx, v1alpha1.KindJob, testJob("j1"))
	assert.True(t, skyerrors.Is(err, skyerrors.KindUnauthorized))

	err = bob.Create(ctx, v1alpha1.KindRole, viewer.DeepCopyObject())
	assert.True(t, skyerrors.Is(err, skyerrors.KindUnauthorized))

	// A second registration against the same invite must fail.
	_, err = client.Register(ctx, server.URL, "bob", "hunter2", invite)
	require.Error(t, err)
}

func TestRevokedInviteCannotBeRedeemed(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	admin := adminClient(t, server)
	ctx := context.Background()

	invite, err := admin.Invite(ctx, "eve", nil)
	require.NoError(t, err)

	require.NoError(t, admin.RevokeInvite(ctx, invite))

	_, err = client.Register(ctx, server.URL, "eve", "password", invite)
	assert.True(t, skyerrors.Is(err, skyerrors.KindUnauthorized))
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	ctx := context.Background()

	anonymous := client.New(server.URL, "not-a-token")

	_, err := anonymous.List(ctx, v1alpha1.KindJob, "default")
	assert.True(t, skyerrors.Is(err, skyerrors.KindUnauthorized))
}

func TestNamespaceDeleteCascades(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer(t)
	admin := adminClient(t, server)
	ctx := context.Background()

	namespace := &v1alpha1.Namespace{Meta: v1alpha1.ObjectMeta{Name: "default"}}
	require.NoError(t, admin.Create(ctx, v1alpha1.KindNamespace, namespace))

	require.NoError(t, admin.Create(ctx, v1alpha1.KindJob, testJob("j1")))
	require.NoError(t, admin.Create(ctx, v1alpha1.KindJob, testJob("j2")))

	require.NoError(t, admin.Delete(ctx, v1alpha1.KindNamespace, "", "default"))

	objs, err := admin.List(ctx, v1alpha1.KindJob, "default")
	require.NoError(t, err)
	assert.Empty(t, objs)

	_, err = admin.Get(ctx, v1alpha1.KindNamespace, "", "default")
	assert.True(t, skyerrors.Is(err, skyerrors.KindNotFound))
}
