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

// Package skyletmanager implements the Skylet lifecycle controller:
// it informs on Cluster objects, creates an in-process supervised Skylet
// when a cluster appears, and cancels it when the cluster disappears or
// stays in ERROR past a grace period. Skylets are isolated: one crashing
// is restarted with capped exponential backoff and never takes down its
// siblings.
package skyletmanager

import (
	"context"
	"math"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/spf13/pflag"

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/compat"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/informer"
	"github.com/skyshift-sh/skyshift/pkg/skylet"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

// Store is the object store access the manager and its Skylets need.
type Store interface {
	skylet.Store

	Watch(ctx context.Context, kind v1alpha1.Kind, namespace string, fromVersion uint64) (store.Watcher, error)
}

// Options tune the manager.
type Options struct {
	// ErrorGracePeriod is how long a cluster may sit in ERROR before its
	// Skylet is cancelled.
	ErrorGracePeriod time.Duration

	// RestartMaxDelay caps the exponential backoff between restarts of a
	// crashed Skylet.
	RestartMaxDelay time.Duration

	// Skylet options are shared by every Skylet this manager runs.
	Skylet skylet.Options
}

// AddFlags registers manager options with the flag set.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.DurationVar(&o.ErrorGracePeriod, "skylet-error-grace-period", 5*time.Minute, "How long a cluster may stay in ERROR before its Skylet is torn down.")
	f.DurationVar(&o.RestartMaxDelay, "skylet-restart-max-delay", time.Minute, "Backoff cap between restarts of a crashed Skylet.")
	o.Skylet.AddFlags(f)
}

// handle tracks one running Skylet.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	// instance is the running Skylet, kept so the API surface can route
	// logs/exec to it.
	instance *skylet.Skylet
}

// Manager supervises one Skylet per registered cluster.
type Manager struct {
	store    Store
	registry *compat.Registry
	options  Options

	mu         sync.Mutex
	running    map[string]*handle
	errorSince map[string]time.Time
	ctx        context.Context
}

// New builds a Manager creating Skylets whose backends come from
// registry.
func New(st Store, registry *compat.Registry, options *Options) *Manager {
	return &Manager{
		store:      st,
		registry:   registry,
		options:    *options,
		running:    map[string]*handle{},
		errorSince: map[string]time.Time{},
	}
}

// Get returns the running Skylet for cluster, used by the API surface's
// logs/exec side paths.
func (m *Manager) Get(cluster string) (*skylet.Skylet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.running[cluster]
	if !ok {
		return nil, errors.NotFound("skyletmanager: no skylet running for cluster %q", cluster)
	}

	return h.instance, nil
}

// Run blocks until ctx is cancelled, supervising Skylets for every
// Cluster object in the store.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	clusters, err := informer.New(m.store, v1alpha1.KindCluster, "", &clusterEvents{m}, 0)
	if err != nil {
		return err
	}

	go m.graceLoop(ctx)

	err = clusters.Run(ctx)

	// Shut every Skylet down and wait for their compatibility handles to
	// be released.
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.running))

	for _, h := range m.running {
		h.cancel()
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		<-h.done
	}

	return err
}

// graceLoop enforces the ERROR grace period.
func (m *Manager) graceLoop(ctx context.Context) {
	ticker := time.NewTicker(m.options.ErrorGracePeriod / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()

		var expired []string

		for name, since := range m.errorSince {
			if time.Since(since) >= m.options.ErrorGracePeriod {
				expired = append(expired, name)
			}
		}

		m.mu.Unlock()

		for _, name := range expired {
			log.FromContext(ctx).Info("cluster in error past grace period, cancelling skylet", "cluster", name)
			m.stop(name)
		}
	}
}

// clusterEvents feeds Cluster informer callbacks into the manager.
type clusterEvents struct {
	m *Manager
}

func (e *clusterEvents) OnAdd(obj v1alpha1.Object) {
	e.m.observe(obj.(*v1alpha1.Cluster))
}

func (e *clusterEvents) OnUpdate(oldObj, newObj v1alpha1.Object) {
	e.m.observe(newObj.(*v1alpha1.Cluster))
}

func (e *clusterEvents) OnDelete(obj v1alpha1.Object) {
	cluster := obj.(*v1alpha1.Cluster)

	e.m.mu.Lock()
	delete(e.m.errorSince, cluster.GetName())
	e.m.mu.Unlock()

	e.m.stop(cluster.GetName())
}

// observe reconciles one cluster's Skylet against its current state.
func (m *Manager) observe(cluster *v1alpha1.Cluster) {
	name := cluster.GetName()

	if cluster.Meta.DeletionTimestamp != nil || cluster.Status.Phase == v1alpha1.ClusterPhaseDeleting {
		m.stop(name)
		return
	}

	m.mu.Lock()

	switch cluster.Status.Phase {
	case v1alpha1.ClusterPhaseError:
		if _, ok := m.errorSince[name]; !ok {
			m.errorSince[name] = time.Now()
		}
	default:
		delete(m.errorSince, name)
	}

	_, running := m.running[name]
	errored := false

	if since, ok := m.errorSince[name]; ok && time.Since(since) >= m.options.ErrorGracePeriod {
		errored = true
	}

	ctx := m.ctx
	m.mu.Unlock()

	if running || errored || ctx == nil {
		return
	}

	m.start(ctx, cluster)
}

// start spawns a supervised Skylet for cluster. The Skylet is restarted
// with capped exponential backoff if it crashes; cancellation (via stop
// or manager shutdown) ends the supervision.
func (m *Manager) start(parent context.Context, cluster *v1alpha1.Cluster) {
	name := cluster.GetName()

	manager, err := m.registry.New(cluster)
	if err != nil {
		log.FromContext(parent).Error(err, "unable to build cluster manager", "cluster", name)
		return
	}

	instance := skylet.New(m.store, name, manager, &m.options.Skylet)

	ctx, cancel := context.WithCancel(parent)

	h := &handle{
		cancel:   cancel,
		done:     make(chan struct{}),
		instance: instance,
	}

	m.mu.Lock()

	if _, ok := m.running[name]; ok {
		// Lost a race with another event for the same cluster.
		m.mu.Unlock()
		cancel()

		if err := manager.Close(); err != nil {
			log.FromContext(parent).Error(err, "unable to close cluster manager", "cluster", name)
		}

		return
	}

	m.running[name] = h
	m.mu.Unlock()

	logger := log.FromContext(parent).WithValues("cluster", name)
	logger.Info("starting skylet")

	go func() {
		defer close(h.done)
		defer m.forget(name, h)

		err := retry.Do(
			func() error {
				return instance.Run(ctx)
			},
			retry.Context(ctx),
			retry.Attempts(math.MaxUint32),
			retry.DelayType(retry.BackOffDelay),
			retry.Delay(time.Second),
			retry.MaxDelay(m.options.RestartMaxDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				logger.Info("skylet crashed, restarting", "attempt", n, "error", err.Error())
			}),
		)
		if err != nil && ctx.Err() == nil {
			logger.Error(err, "skylet supervision ended")
		}
	}()
}

// forget drops h from the running table if it's still the registered
// handle for name.
func (m *Manager) forget(name string, h *handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.running[name]; ok && current == h {
		delete(m.running, name)
	}
}

// stop cancels the named Skylet and waits for it to release its
// compatibility-layer handle.
func (m *Manager) stop(name string) {
	m.mu.Lock()

	h, ok := m.running[name]
	if ok {
		delete(m.running, name)
	}

	m.mu.Unlock()

	if !ok {
		return
	}

	h.cancel()
	<-h.done
}
