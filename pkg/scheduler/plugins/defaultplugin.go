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

// Package plugins holds the built-in scheduler plugins: DefaultPlugin
// (resource fit and free-capacity scoring) and ClusterAffinityPlugin
// (filter policies and placement preferences).
package plugins

import (
	"context"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/scheduler/framework"
)

// DefaultPluginName identifies the default plugin in scheduler
// configuration.
const DefaultPluginName = "Default"

// DefaultPlugin keeps clusters whose allocatable resources hold at least
// one replica, and scores the survivors by free CPU, memory, and
// accelerator fractions.
type DefaultPlugin struct{}

// NewDefaultPlugin returns the plugin; it is stateless.
func NewDefaultPlugin() *DefaultPlugin {
	return &DefaultPlugin{}
}

func (p *DefaultPlugin) Name() string {
	return DefaultPluginName
}

// Filter keeps clusters that fit at least one replica of the job.
func (p *DefaultPlugin) Filter(ctx context.Context, jc *framework.JobContext, clusters []*framework.ClusterSnapshot) ([]*framework.ClusterSnapshot, error) {
	eligible := make([]*framework.ClusterSnapshot, 0, len(clusters))

	for _, cluster := range clusters {
		if cluster.ReplicaCapacity(jc.Job.Spec.Resources) >= 1 {
			eligible = append(eligible, cluster)
		}
	}

	return eligible, nil
}

// scoredResources are the resource dimensions free capacity is averaged
// over; accelerators only count when the cluster has any.
var scoredResources = []string{v1alpha1.ResourceCPU, v1alpha1.ResourceMemory, v1alpha1.ResourceGPU}

// Score averages the cluster's free fraction over CPU, memory, and
// accelerators, scaled to [MinScore, MaxScore]: an idle cluster scores
// high, a packed one low.
func (p *DefaultPlugin) Score(ctx context.Context, jc *framework.JobContext, cluster *framework.ClusterSnapshot) (int, error) {
	capacity := v1alpha1.ResourceList{}
	allocatable := v1alpha1.ResourceList{}

	for _, node := range cluster.Capacity {
		for name, quantity := range node {
			capacity[name] += quantity
		}
	}

	for _, node := range cluster.Allocatable {
		for name, quantity := range node {
			allocatable[name] += quantity
		}
	}

	sum := 0.0
	dimensions := 0

	for _, name := range scoredResources {
		if capacity[name] <= 0 {
			continue
		}

		sum += allocatable[name] / capacity[name]
		dimensions++
	}

	if dimensions == 0 {
		return framework.MinScore, nil
	}

	return framework.Clamp(int(float64(framework.MaxScore) * sum / float64(dimensions))), nil
}
