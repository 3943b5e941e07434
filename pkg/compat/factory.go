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

package compat

import (
	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// Factory builds a ClusterManager for one manager type. Backends register
// themselves into a Registry by name, so the set of supported backends is
// explicit configuration rather than reflection.
type Factory func(cluster *v1alpha1.Cluster) (ClusterManager, error)

// Registry maps a ClusterManagerType to its Factory.
type Registry struct {
	factories map[v1alpha1.ClusterManagerType]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[v1alpha1.ClusterManagerType]Factory{},
	}
}

// Register binds a Factory to a manager type, replacing any previous
// binding.
func (r *Registry) Register(manager v1alpha1.ClusterManagerType, factory Factory) {
	r.factories[manager] = factory
}

// New builds a ClusterManager for cluster, dispatching on
// cluster.Spec.Manager.
func (r *Registry) New(cluster *v1alpha1.Cluster) (ClusterManager, error) {
	factory, ok := r.factories[cluster.Spec.Manager]
	if !ok {
		return nil, errors.Unsupported("compat: no backend registered for manager %q", cluster.Spec.Manager)
	}

	return factory(cluster)
}
