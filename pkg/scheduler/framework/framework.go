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

// Package framework defines the scheduler's plugin contract: filter
// plugins narrow the set of eligible clusters, score plugins rank what
// remains. Plugins are registered by name so the active pipeline is
// explicit configuration, never reflection.
package framework

import (
	"context"
	"math"
	"sort"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// Score bounds. Every plugin's score is clamped to [MinScore, MaxScore]
// before summation.
const (
	MinScore = 0
	MaxScore = 100
)

// ClusterSnapshot is an immutable copy of the scheduler-relevant parts of
// a Cluster, taken at the start of a scheduling iteration so plugin
// decisions never race informer cache writes.
type ClusterSnapshot struct {
	Name        string
	Labels      map[string]string
	Capacity    v1alpha1.NodeResourceList
	Allocatable v1alpha1.NodeResourceList
}

// Snapshot builds a ClusterSnapshot from cluster.
func Snapshot(cluster *v1alpha1.Cluster) *ClusterSnapshot {
	copied := cluster.DeepCopyObject().(*v1alpha1.Cluster)

	return &ClusterSnapshot{
		Name:        copied.GetName(),
		Labels:      copied.Meta.Labels,
		Capacity:    copied.Status.Capacity,
		Allocatable: copied.Status.AllocatableCapacity,
	}
}

// ReplicaCapacity reports how many replicas requesting request fit in the
// snapshot's current allocatable space, packing node by node.
func (s *ClusterSnapshot) ReplicaCapacity(request v1alpha1.ResourceList) int {
	if len(request) == 0 {
		// A job with no resource request is never limited by capacity,
		// even on a cluster that reports no nodes.
		return math.MaxInt32
	}

	total := 0

	for _, node := range s.Allocatable {
		fit := math.MaxInt32

		for name, quantity := range request {
			if quantity <= 0 {
				continue
			}

			n := int(node[name] / quantity)
			if n < fit {
				fit = n
			}
		}

		if fit != math.MaxInt32 {
			total += fit
		}
	}

	return total
}

// Deduct removes one replica slice's worth of resources from the
// snapshot, node by node, so later jobs in the same scheduling pass see
// the reduced capacity before the cluster controller's next poll reports
// it.
func (s *ClusterSnapshot) Deduct(request v1alpha1.ResourceList, replicas int) {
	remaining := replicas

	// Iterate nodes in a stable order so repeated runs deduct
	// identically.
	names := make([]string, 0, len(s.Allocatable))
	for name := range s.Allocatable {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if remaining == 0 {
			return
		}

		node := s.Allocatable[name]

		fit := math.MaxInt32

		for resourceName, quantity := range request {
			if quantity <= 0 {
				continue
			}

			n := int(node[resourceName] / quantity)
			if n < fit {
				fit = n
			}
		}

		if fit == math.MaxInt32 || fit == 0 {
			continue
		}

		if fit > remaining {
			fit = remaining
		}

		for resourceName, quantity := range request {
			node[resourceName] -= quantity * float64(fit)
		}

		remaining -= fit
	}
}

// JobContext carries everything plugins may consult for one scheduling
// iteration: the job itself and the FilterPolicies active in its
// namespace.
type JobContext struct {
	Job      *v1alpha1.Job
	Policies []*v1alpha1.FilterPolicy
}

// FilterPlugin narrows the eligible cluster set for a job.
type FilterPlugin interface {
	Name() string

	// Filter returns the subset of clusters the job may run on.
	Filter(ctx context.Context, jc *JobContext, clusters []*ClusterSnapshot) ([]*ClusterSnapshot, error)
}

// ScorePlugin ranks one cluster for a job with an integer in
// [MinScore, MaxScore]; per-plugin scores are summed.
type ScorePlugin interface {
	Name() string

	Score(ctx context.Context, jc *JobContext, cluster *ClusterSnapshot) (int, error)
}

// Registry holds the named plugin set the scheduler's configuration
// selects from.
type Registry struct {
	filters map[string]FilterPlugin
	scorers map[string]ScorePlugin
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		filters: map[string]FilterPlugin{},
		scorers: map[string]ScorePlugin{},
	}
}

// RegisterFilter adds (or replaces) a filter plugin.
func (r *Registry) RegisterFilter(plugin FilterPlugin) {
	r.filters[plugin.Name()] = plugin
}

// RegisterScore adds (or replaces) a score plugin.
func (r *Registry) RegisterScore(plugin ScorePlugin) {
	r.scorers[plugin.Name()] = plugin
}

// Filters resolves names into plugins, failing on an unknown name so a
// configuration typo is caught at startup rather than silently skipping
// a constraint.
func (r *Registry) Filters(names []string) ([]FilterPlugin, error) {
	plugins := make([]FilterPlugin, 0, len(names))

	for _, name := range names {
		plugin, ok := r.filters[name]
		if !ok {
			return nil, errors.InvalidObject("framework: unknown filter plugin %q", name)
		}

		plugins = append(plugins, plugin)
	}

	return plugins, nil
}

// Scorers resolves names into score plugins.
func (r *Registry) Scorers(names []string) ([]ScorePlugin, error) {
	plugins := make([]ScorePlugin, 0, len(names))

	for _, name := range names {
		plugin, ok := r.scorers[name]
		if !ok {
			return nil, errors.InvalidObject("framework: unknown score plugin %q", name)
		}

		plugins = append(plugins, plugin)
	}

	return plugins, nil
}

// Clamp bounds a raw plugin score to [MinScore, MaxScore].
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}

	if score > MaxScore {
		return MaxScore
	}

	return score
}
