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

package plugins

import (
	"context"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/scheduler/framework"
)

// ClusterAffinityPluginName identifies the affinity plugin in scheduler
// configuration.
const ClusterAffinityPluginName = "ClusterAffinity"

// DefaultMinWeight is the score a cluster receives when no preference
// matches it.
const DefaultMinWeight = 1

// FilterMode selects how a job's placement.filters list composes:
// disjunctively (a cluster passes if any filter matches, the documented
// intent) or conjunctively (every filter must match).
type FilterMode string

const (
	FilterModeAny FilterMode = "Any"
	FilterModeAll FilterMode = "All"
)

// ClusterAffinityPlugin applies every FilterPolicy in the job's namespace
// plus the job's own placement filters, and scores clusters by placement
// preferences.
type ClusterAffinityPlugin struct {
	mode FilterMode
}

// NewClusterAffinityPlugin returns a plugin composing job filters with
// mode; an empty mode defaults to FilterModeAny.
func NewClusterAffinityPlugin(mode FilterMode) *ClusterAffinityPlugin {
	if mode == "" {
		mode = FilterModeAny
	}

	return &ClusterAffinityPlugin{mode: mode}
}

func (p *ClusterAffinityPlugin) Name() string {
	return ClusterAffinityPluginName
}

func nameIn(name string, names []string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}

// filterMatches evaluates one Filter clause against a cluster.
func filterMatches(f *v1alpha1.Filter, cluster *framework.ClusterSnapshot) bool {
	if len(f.Include) > 0 && !nameIn(cluster.Name, f.Include) {
		return false
	}

	if nameIn(cluster.Name, f.Exclude) {
		return false
	}

	if f.LabelSelector != nil && !f.LabelSelector.Matches(cluster.Labels) {
		return false
	}

	return true
}

// policyMatches evaluates a FilterPolicy, which is always a hard
// constraint: the cluster must pass the cluster filter and the label
// selector.
func policyMatches(policy *v1alpha1.FilterPolicy, cluster *framework.ClusterSnapshot) bool {
	if !filterMatches(&policy.Spec.ClusterFilter, cluster) {
		return false
	}

	return policy.Spec.LabelSelector.Matches(cluster.Labels)
}

// Filter applies namespace FilterPolicies conjunctively, then the job's
// own placement filters per the configured composition mode.
func (p *ClusterAffinityPlugin) Filter(ctx context.Context, jc *framework.JobContext, clusters []*framework.ClusterSnapshot) ([]*framework.ClusterSnapshot, error) {
	eligible := make([]*framework.ClusterSnapshot, 0, len(clusters))

	for _, cluster := range clusters {
		if !p.eligible(jc, cluster) {
			continue
		}

		eligible = append(eligible, cluster)
	}

	return eligible, nil
}

func (p *ClusterAffinityPlugin) eligible(jc *framework.JobContext, cluster *framework.ClusterSnapshot) bool {
	for _, policy := range jc.Policies {
		if !policyMatches(policy, cluster) {
			return false
		}
	}

	filters := jc.Job.Spec.Placement.Filters
	if len(filters) == 0 {
		return true
	}

	if p.mode == FilterModeAll {
		for i := range filters {
			if !filterMatches(&filters[i], cluster) {
				return false
			}
		}

		return true
	}

	for i := range filters {
		if filterMatches(&filters[i], cluster) {
			return true
		}
	}

	return false
}

// Score returns the single highest matching preference weight, or
// DefaultMinWeight when nothing matches; weights within the preferences
// list never sum.
func (p *ClusterAffinityPlugin) Score(ctx context.Context, jc *framework.JobContext, cluster *framework.ClusterSnapshot) (int, error) {
	best := 0

	for i := range jc.Job.Spec.Placement.Preferences {
		preference := &jc.Job.Spec.Placement.Preferences[i]

		if preference.Cluster != "" && preference.Cluster != cluster.Name {
			continue
		}

		if preference.LabelSelector != nil && !preference.LabelSelector.Matches(cluster.Labels) {
			continue
		}

		if preference.Cluster == "" && preference.LabelSelector == nil {
			continue
		}

		if preference.Weight > best {
			best = preference.Weight
		}
	}

	if best == 0 {
		return DefaultMinWeight, nil
	}

	return framework.Clamp(best), nil
}
