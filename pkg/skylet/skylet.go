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

// Package skylet implements the per-cluster supervisor: one Skylet
// hosts the Cluster, Job, Flow, Service, Endpoints, and Network
// controllers for a single registered cluster, each a single-worker
// reconcile loop against the compatibility layer.
package skylet

import (
	"context"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/compat"
)

// Store is the object store access a Skylet's controllers need; both
// pkg/store.Store and pkg/client.Client satisfy it.
type Store interface {
	Get(ctx context.Context, kind v1alpha1.Kind, namespace, name string) (v1alpha1.Object, error)
	List(ctx context.Context, kind v1alpha1.Kind, namespace string) ([]v1alpha1.Object, error)
	Create(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
	Update(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
	UpdateStatus(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
}

// Options tune every Skylet a controller manager runs.
type Options struct {
	// PollInterval is the reconcile cadence of every controller loop.
	PollInterval time.Duration

	// DescribeFailureThreshold is how many consecutive Describe failures
	// mark the cluster ERROR.
	DescribeFailureThreshold int

	// WaitTimeout evicts a job whose first replica on this cluster has
	// been PENDING for longer; zero means never evict.
	WaitTimeout time.Duration
}

// AddFlags registers Skylet options with the flag set.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.DurationVar(&o.PollInterval, "skylet-poll-interval", 10*time.Second, "Cadence of every Skylet controller's reconcile loop.")
	f.IntVar(&o.DescribeFailureThreshold, "skylet-describe-failure-threshold", 3, "Consecutive describe failures before a cluster is marked ERROR.")
	f.DurationVar(&o.WaitTimeout, "skylet-wait-timeout", 0, "Evict a job whose replicas are still pending after this long; 0 never evicts.")
}

// Skylet supervises one cluster's controllers.
type Skylet struct {
	store       Store
	clusterName string
	manager     compat.ClusterManager
	options     Options

	cluster   *clusterController
	job       *jobController
	flow      *flowController
	service   *serviceController
	endpoints *endpointsController
	network   *networkController
}

// New builds a Skylet for clusterName over manager. The manager handle is
// owned by the Skylet from here on: Run closes it on the way out so the
// Skylet Manager may safely recreate the Skylet afterwards.
func New(st Store, clusterName string, manager compat.ClusterManager, options *Options) *Skylet {
	s := &Skylet{
		store:       st,
		clusterName: clusterName,
		manager:     manager,
		options:     *options,
	}

	s.cluster = &clusterController{skylet: s}
	s.job = &jobController{skylet: s}
	s.flow = &flowController{skylet: s, submitted: map[string]time.Time{}}
	s.service = &serviceController{skylet: s}
	s.endpoints = &endpointsController{skylet: s}
	s.network = &networkController{skylet: s}

	return s
}

// Run blocks, running every controller until ctx is cancelled or one of
// them fails fatally, then releases the compatibility-layer handle.
func (s *Skylet) Run(ctx context.Context) error {
	defer s.manager.Close()

	logger := log.FromContext(ctx).WithValues("cluster", s.clusterName)
	ctx = log.IntoContext(ctx, logger)

	logger.Info("skylet starting")

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return s.runLoop(ctx, "cluster", s.cluster.reconcile) })
	group.Go(func() error { return s.runLoop(ctx, "job", s.job.reconcile) })
	group.Go(func() error { return s.runLoop(ctx, "flow", s.flow.reconcile) })
	group.Go(func() error { return s.runLoop(ctx, "service", s.service.reconcile) })
	group.Go(func() error { return s.runLoop(ctx, "endpoints", s.endpoints.reconcile) })
	group.Go(func() error { return s.runLoop(ctx, "network", s.network.reconcile) })

	err := group.Wait()

	logger.Info("skylet stopped")

	if ctx.Err() != nil {
		return nil
	}

	return err
}

// runLoop drives one controller's reconcile on the poll interval,
// reconciling immediately on start. Reconcile errors log and wait for the
// next tick rather than killing the Skylet: transient backend failures
// are the common case.
func (s *Skylet) runLoop(ctx context.Context, name string, reconcile func(ctx context.Context) error) error {
	logger := log.FromContext(ctx).WithValues("controller", name)

	ticker := time.NewTicker(s.options.PollInterval)
	defer ticker.Stop()

	for {
		if err := reconcile(ctx); err != nil && ctx.Err() == nil {
			logger.Error(err, "reconcile failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// jobsOnCluster lists the jobs whose replicaStatus references this
// cluster.
func (s *Skylet) jobsOnCluster(ctx context.Context) ([]*v1alpha1.Job, error) {
	objs, err := s.store.List(ctx, v1alpha1.KindJob, "")
	if err != nil {
		return nil, err
	}

	jobs := make([]*v1alpha1.Job, 0, len(objs))

	for _, obj := range objs {
		job := obj.(*v1alpha1.Job)

		if _, ok := job.Status.ReplicaStatus[s.clusterName]; ok {
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

// Logs implements the API surface's log side path for this cluster.
func (s *Skylet) Logs(ctx context.Context, namespace, name string, w io.Writer) error {
	obj, err := s.store.Get(ctx, v1alpha1.KindJob, namespace, name)
	if err != nil {
		return err
	}

	return s.manager.Logs(ctx, obj.(*v1alpha1.Job), w)
}

// Exec implements the API surface's exec side path for this cluster: the
// websocket's text frames carry the command (first frame) and stdin;
// binary frames flow back as combined stdout/stderr.
func (s *Skylet) Exec(ctx context.Context, namespace, name string, conn *websocket.Conn) error {
	obj, err := s.store.Get(ctx, v1alpha1.KindJob, namespace, name)
	if err != nil {
		return err
	}

	job := obj.(*v1alpha1.Job)

	_, first, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	command := decodeCommand(first)

	stream := &compat.ExecStream{
		Stdin:  &websocketReader{conn: conn},
		Stdout: &websocketWriter{conn: conn},
		Stderr: &websocketWriter{conn: conn},
		TTY:    true,
	}

	code, err := s.manager.Exec(ctx, job, command, stream)
	if err != nil {
		return err
	}

	return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, exitMessage(code)))
}
