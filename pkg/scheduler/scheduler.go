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

// Package scheduler implements the cross-cluster scheduling engine:
// a FIFO, event-driven worker that filters, scores, and spreads a Job's
// replicas across READY clusters, committing the allocation back to
// status.replicaStatus with optimistic concurrency.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/pflag"

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
	"github.com/skyshift-sh/skyshift/pkg/informer"
	"github.com/skyshift-sh/skyshift/pkg/scheduler/framework"
	"github.com/skyshift-sh/skyshift/pkg/scheduler/plugins"
)

// Store is the object store access the scheduler needs; both
// pkg/store.Store and pkg/client.Client satisfy it.
type Store interface {
	informer.Store

	Get(ctx context.Context, kind v1alpha1.Kind, namespace, name string) (v1alpha1.Object, error)
	UpdateStatus(ctx context.Context, kind v1alpha1.Kind, obj v1alpha1.Object) error
}

// commitRetries bounds how many times one job's iteration restarts on a
// status-write Conflict before the job is requeued instead.
const commitRetries = 5

// Options configure the plugin pipeline.
type Options struct {
	// FilterPlugins names the filter pipeline, in order.
	FilterPlugins []string

	// ScorePlugins names the score pipeline; per-plugin scores sum.
	ScorePlugins []string

	// FilterMode selects placement.filters composition (Any or All).
	FilterMode string
}

// AddFlags registers scheduler options with the flag set.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.StringSliceVar(&o.FilterPlugins, "filter-plugins", []string{plugins.DefaultPluginName, plugins.ClusterAffinityPluginName}, "Filter plugin pipeline, in order.")
	f.StringSliceVar(&o.ScorePlugins, "score-plugins", []string{plugins.DefaultPluginName, plugins.ClusterAffinityPluginName}, "Score plugin pipeline; scores sum.")
	f.StringVar(&o.FilterMode, "placement-filter-mode", string(plugins.FilterModeAny), "How a job's placement filters compose: Any (documented intent) or All.")
}

// Scheduler is the scheduling engine. A single worker drains the queue so
// per-job decisions are serialized; informer callbacks and capacity
// wakeups only ever enqueue.
type Scheduler struct {
	store   Store
	queue   *workQueue
	filters []framework.FilterPlugin
	scorers []framework.ScorePlugin

	// mu guards the cluster snapshot cache and the waitlist; both are
	// touched by informer callbacks and the worker.
	mu        sync.Mutex
	snapshots map[string]*framework.ClusterSnapshot
	ready     map[string]bool
	waitlist  map[jobKey]struct{}
}

// New builds a Scheduler over st with the pipeline options select from
// registry. Passing a nil registry uses the built-in plugin set.
func New(st Store, registry *framework.Registry, options *Options) (*Scheduler, error) {
	if registry == nil {
		registry = framework.NewRegistry()

		defaultPlugin := plugins.NewDefaultPlugin()
		affinity := plugins.NewClusterAffinityPlugin(plugins.FilterMode(options.FilterMode))

		registry.RegisterFilter(defaultPlugin)
		registry.RegisterFilter(affinity)
		registry.RegisterScore(defaultPlugin)
		registry.RegisterScore(affinity)
	}

	filters, err := registry.Filters(options.FilterPlugins)
	if err != nil {
		return nil, err
	}

	scorers, err := registry.Scorers(options.ScorePlugins)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		store:     st,
		queue:     newWorkQueue(),
		filters:   filters,
		scorers:   scorers,
		snapshots: map[string]*framework.ClusterSnapshot{},
		ready:     map[string]bool{},
		waitlist:  map[jobKey]struct{}{},
	}, nil
}

// Run starts the Job and Cluster informers and the single worker, and
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	jobs, err := informer.New(s.store, v1alpha1.KindJob, "", &jobEvents{s}, 0)
	if err != nil {
		return err
	}

	clusters, err := informer.New(s.store, v1alpha1.KindCluster, "", &clusterEvents{s}, 0)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.queue.Close()
	}()

	go func() {
		if err := jobs.Run(ctx); err != nil {
			log.FromContext(ctx).Error(err, "job informer stopped")
		}
	}()

	go func() {
		if err := clusters.Run(ctx); err != nil {
			log.FromContext(ctx).Error(err, "cluster informer stopped")
		}
	}()

	s.worker(ctx)

	return nil
}

func (s *Scheduler) worker(ctx context.Context) {
	logger := log.FromContext(ctx)

	for {
		key, ok := s.queue.Pop()
		if !ok {
			return
		}

		if err := s.scheduleOne(ctx, key); err != nil {
			logger.Error(err, "scheduling failed", "namespace", key.namespace, "name", key.name)

			if errors.Is(err, errors.KindTransient) {
				s.queue.Add(key)
			}
		}
	}
}

// clusterEvents feeds Cluster informer callbacks into the snapshot cache.
type clusterEvents struct {
	s *Scheduler
}

func (e *clusterEvents) OnAdd(obj v1alpha1.Object) {
	e.s.setCluster(obj.(*v1alpha1.Cluster))
}

func (e *clusterEvents) OnUpdate(oldObj, newObj v1alpha1.Object) {
	e.s.setCluster(newObj.(*v1alpha1.Cluster))
}

func (e *clusterEvents) OnDelete(obj v1alpha1.Object) {
	e.s.removeCluster(obj.(*v1alpha1.Cluster))
}

// setCluster refreshes the snapshot cache; a capacity increase (or a
// cluster turning READY) wakes every waitlisted job, which is how
// partially placed jobs eventually complete.
func (s *Scheduler) setCluster(cluster *v1alpha1.Cluster) {
	snapshot := framework.Snapshot(cluster)
	ready := cluster.Status.Phase == v1alpha1.ClusterPhaseReady

	s.mu.Lock()

	grew := false

	if previous, ok := s.snapshots[cluster.GetName()]; ok {
		grew = allocatableGrew(previous, snapshot)
	} else {
		grew = true
	}

	if ready && !s.ready[cluster.GetName()] {
		grew = true
	}

	s.snapshots[cluster.GetName()] = snapshot
	s.ready[cluster.GetName()] = ready

	var wake []jobKey

	if grew && ready {
		for key := range s.waitlist {
			wake = append(wake, key)
		}
	}

	s.mu.Unlock()

	for _, key := range wake {
		s.queue.Add(key)
	}
}

// removeCluster drops the snapshot and purges the deleted cluster's slice
// from every job that references it, re-enqueueing those jobs so their
// replicas are placed elsewhere.
func (s *Scheduler) removeCluster(cluster *v1alpha1.Cluster) {
	name := cluster.GetName()

	s.mu.Lock()
	delete(s.snapshots, name)
	delete(s.ready, name)
	s.mu.Unlock()

	ctx := context.Background()

	objs, err := s.store.List(ctx, v1alpha1.KindJob, "")
	if err != nil {
		return
	}

	for _, obj := range objs {
		job := obj.(*v1alpha1.Job)

		if _, ok := job.Status.ReplicaStatus[name]; !ok {
			continue
		}

		delete(job.Status.ReplicaStatus, name)
		delete(job.Status.JobIDs, name)

		if err := s.store.UpdateStatus(ctx, v1alpha1.KindJob, job); err != nil && !errors.Is(err, errors.KindConflict) {
			continue
		}

		s.queue.Add(jobKey{namespace: job.GetNamespace(), name: job.GetName()})
	}
}

// allocatableGrew reports whether any resource's cluster-wide allocatable
// total increased between two snapshots; only growth wakes the waitlist,
// so shrinking capacity never causes scheduling churn.
func allocatableGrew(previous, current *framework.ClusterSnapshot) bool {
	before := v1alpha1.ResourceList{}

	for _, node := range previous.Allocatable {
		for name, quantity := range node {
			before[name] += quantity
		}
	}

	after := v1alpha1.ResourceList{}

	for _, node := range current.Allocatable {
		for name, quantity := range node {
			after[name] += quantity
		}
	}

	for name, quantity := range after {
		if quantity > before[name] {
			return true
		}
	}

	return false
}

// jobEvents feeds Job informer callbacks into the queue.
type jobEvents struct {
	s *Scheduler
}

func keyFor(job *v1alpha1.Job) jobKey {
	return jobKey{namespace: job.GetNamespace(), name: job.GetName()}
}

func (e *jobEvents) OnAdd(obj v1alpha1.Object) {
	job := obj.(*v1alpha1.Job)

	// Fresh jobs, and jobs with unplaced replicas surfacing from the
	// initial relist after a restart (the waitlist is in-memory only),
	// both enter the queue here.
	if job.Status.Phase == "" || job.Status.Phase == v1alpha1.JobPhaseInit || assignedReplicas(job) < job.Spec.Replicas {
		e.s.queue.Add(keyFor(job))
	}
}

func (e *jobEvents) OnUpdate(oldObj, newObj v1alpha1.Object) {
	oldJob := oldObj.(*v1alpha1.Job)
	job := newObj.(*v1alpha1.Job)

	// A spec change (placement, resources, replicas) bumps Generation; an
	// eviction shows up as a grown EVICTED count. Both re-enter the
	// queue. Status-only writes from our own commit don't requeue: the
	// assigned count equals spec.replicas after a full placement, and a
	// no-change pass writes nothing, so there is no event loop.
	if job.Meta.Generation != oldJob.Meta.Generation {
		e.s.queue.Add(keyFor(job))
		return
	}

	if evictedReplicas(job) > evictedReplicas(oldJob) {
		e.s.queue.Add(keyFor(job))
	}
}

func (e *jobEvents) OnDelete(obj v1alpha1.Object) {
	job := obj.(*v1alpha1.Job)

	e.s.mu.Lock()
	delete(e.s.waitlist, keyFor(job))
	e.s.mu.Unlock()
}

func evictedReplicas(job *v1alpha1.Job) int {
	total := 0

	for _, counts := range job.Status.ReplicaStatus {
		total += counts[v1alpha1.ReplicaStateEvicted]
	}

	return total
}

// assignedReplicas counts the replicas currently holding a cluster slice;
// evicted and deleted slices no longer count against spec.replicas.
func assignedReplicas(job *v1alpha1.Job) int {
	total := 0

	for _, counts := range job.Status.ReplicaStatus {
		for state, count := range counts {
			if state == v1alpha1.ReplicaStateEvicted || state == v1alpha1.ReplicaStateDeleted {
				continue
			}

			total += count
		}
	}

	return total
}

// readySnapshots copies the READY subset of the cluster cache for one
// scheduling iteration.
func (s *Scheduler) readySnapshots() []*framework.ClusterSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*framework.ClusterSnapshot, 0, len(s.snapshots))

	for name, snapshot := range s.snapshots {
		if s.ready[name] {
			out = append(out, snapshot)
		}
	}

	return out
}

func (s *Scheduler) policies(ctx context.Context, namespace string) ([]*v1alpha1.FilterPolicy, error) {
	objs, err := s.store.List(ctx, v1alpha1.KindFilterPolicy, namespace)
	if err != nil {
		return nil, err
	}

	policies := make([]*v1alpha1.FilterPolicy, 0, len(objs))
	for _, obj := range objs {
		policies = append(policies, obj.(*v1alpha1.FilterPolicy))
	}

	return policies, nil
}

// scheduleOne runs the full filter/score/spread/commit pipeline for one
// job. A commit Conflict rereads the job and restarts this job's
// iteration without disturbing the rest of the queue.
func (s *Scheduler) scheduleOne(ctx context.Context, key jobKey) error {
	for attempt := 0; attempt < commitRetries; attempt++ {
		obj, err := s.store.Get(ctx, v1alpha1.KindJob, key.namespace, key.name)
		if err != nil {
			if errors.Is(err, errors.KindNotFound) {
				return nil
			}

			return err
		}

		job := obj.(*v1alpha1.Job)

		if job.Meta.DeletionTimestamp != nil {
			return nil
		}

		done, err := s.scheduleAttempt(ctx, job)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}

	// Persistent write contention; give the other writer room and take
	// the job again from the queue tail.
	s.queue.Add(key)

	return nil
}

// scheduleAttempt performs one iteration against a freshly read job.
// done is false only when the commit hit a Conflict and the caller
// should reread and retry.
func (s *Scheduler) scheduleAttempt(ctx context.Context, job *v1alpha1.Job) (bool, error) {
	logger := log.FromContext(ctx).WithValues("namespace", job.GetNamespace(), "name", job.GetName())

	assigned := assignedReplicas(job)
	remaining := job.Spec.Replicas - assigned

	if remaining <= 0 {
		return true, s.markScheduled(ctx, job)
	}

	clusters := s.readySnapshots()

	jc := &framework.JobContext{Job: job}

	policies, err := s.policies(ctx, job.GetNamespace())
	if err != nil {
		return true, err
	}

	jc.Policies = policies

	for _, plugin := range s.filters {
		clusters, err = plugin.Filter(ctx, jc, clusters)
		if err != nil {
			return true, err
		}
	}

	// A cluster that has evicted replicas of this job is not a
	// re-candidate for the remainder; everything else may take more.
	eligible := clusters[:0]

	for _, cluster := range clusters {
		if job.Status.ReplicaStatus[cluster.Name][v1alpha1.ReplicaStateEvicted] > 0 {
			continue
		}

		eligible = append(eligible, cluster)
	}

	scored, err := s.score(ctx, jc, eligible)
	if err != nil {
		return true, err
	}

	allocation := spread(scored, job.Spec.Resources, remaining)

	placed := 0
	for _, count := range allocation {
		placed += count
	}

	if job.Status.ReplicaStatus == nil {
		job.Status.ReplicaStatus = map[string]v1alpha1.ReplicaStatusCounts{}
	}

	for cluster, count := range allocation {
		counts := job.Status.ReplicaStatus[cluster]
		if counts == nil {
			counts = v1alpha1.ReplicaStatusCounts{}
			job.Status.ReplicaStatus[cluster] = counts
		}

		counts[v1alpha1.ReplicaStateInit] += count
	}

	switch {
	case assigned+placed == job.Spec.Replicas:
		job.Status.Phase = v1alpha1.JobPhaseScheduled
		job.Status.Conditions.Set(v1alpha1.ConditionUnschedulable, v1alpha1.ConditionFalse, v1alpha1.ConditionReasonScheduled, "all replicas placed")

		s.setWaitlisted(keyFor(job), false)
	case placed > 0:
		job.Status.Phase = v1alpha1.JobPhasePending
		job.Status.Conditions.Set(v1alpha1.ConditionUnschedulable, v1alpha1.ConditionTrue, v1alpha1.ConditionReasonUnschedulable,
			fmt.Sprintf("%d of %d replicas placed; waiting for capacity", assigned+placed, job.Spec.Replicas))

		s.setWaitlisted(keyFor(job), true)
	default:
		job.Status.Phase = v1alpha1.JobPhasePending
		job.Status.Conditions.Set(v1alpha1.ConditionUnschedulable, v1alpha1.ConditionTrue, v1alpha1.ConditionReasonUnschedulable, "no eligible cluster")

		s.setWaitlisted(keyFor(job), true)
	}

	if err := s.store.UpdateStatus(ctx, v1alpha1.KindJob, job); err != nil {
		if errors.Is(err, errors.KindConflict) {
			return false, nil
		}

		return true, err
	}

	// Debit the snapshot cache so later jobs in this pass see the
	// reduced capacity before the cluster controller's next poll.
	s.mu.Lock()

	for cluster, count := range allocation {
		if snapshot, ok := s.snapshots[cluster]; ok {
			snapshot.Deduct(job.Spec.Resources, count)
		}
	}

	s.mu.Unlock()

	logger.Info("scheduled", "placed", placed, "remaining", job.Spec.Replicas-assigned-placed, "phase", job.Status.Phase)

	return true, nil
}

// markScheduled flips a fully assigned job to SCHEDULED if some earlier
// partial pass left it PENDING; a no-op write is skipped entirely.
func (s *Scheduler) markScheduled(ctx context.Context, job *v1alpha1.Job) error {
	s.setWaitlisted(keyFor(job), false)

	if job.Status.Phase == v1alpha1.JobPhaseScheduled {
		return nil
	}

	job.Status.Phase = v1alpha1.JobPhaseScheduled
	job.Status.Conditions.Set(v1alpha1.ConditionUnschedulable, v1alpha1.ConditionFalse, v1alpha1.ConditionReasonScheduled, "all replicas placed")

	err := s.store.UpdateStatus(ctx, v1alpha1.KindJob, job)
	if errors.Is(err, errors.KindConflict) {
		s.queue.Add(keyFor(job))
		return nil
	}

	return err
}

func (s *Scheduler) setWaitlisted(key jobKey, waitlisted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if waitlisted {
		s.waitlist[key] = struct{}{}
		return
	}

	delete(s.waitlist, key)
}

// scoredCluster pairs a snapshot with its summed plugin score.
type scoredCluster struct {
	snapshot *framework.ClusterSnapshot
	score    int
}

func (s *Scheduler) score(ctx context.Context, jc *framework.JobContext, clusters []*framework.ClusterSnapshot) ([]scoredCluster, error) {
	scored := make([]scoredCluster, 0, len(clusters))

	for _, cluster := range clusters {
		total := 0

		for _, plugin := range s.scorers {
			value, err := plugin.Score(ctx, jc, cluster)
			if err != nil {
				return nil, err
			}

			total += framework.Clamp(value)
		}

		scored = append(scored, scoredCluster{snapshot: cluster, score: total})
	}

	return scored, nil
}

// spread allocates replicas greedily, highest score first, ties broken by
// lexicographic cluster name so the allocation is a pure function of its
// inputs.
func spread(scored []scoredCluster, request v1alpha1.ResourceList, replicas int) map[string]int {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}

		return scored[i].snapshot.Name < scored[j].snapshot.Name
	})

	allocation := map[string]int{}
	remaining := replicas

	for _, candidate := range scored {
		if remaining == 0 {
			break
		}

		capacity := candidate.snapshot.ReplicaCapacity(request)
		if capacity == 0 {
			continue
		}

		count := capacity
		if count > remaining {
			count = remaining
		}

		allocation[candidate.snapshot.Name] = count
		remaining -= count
	}

	return allocation
}
