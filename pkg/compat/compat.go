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

// Package compat defines the ClusterManager contract every cluster
// backend (Kubernetes, Slurm, Ray) implements, translating SkyShift's
// uniform job/service/link operations into one backend's native calls.
// A backend that cannot satisfy an operation returns an Unsupported
// error, which the Skylet surfaces as a condition on the object.
package compat

import (
	"context"
	"io"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
)

// ClusterState is the result of Describe: a point-in-time snapshot of the
// cluster's per-node capacity, what is still allocatable, the accelerator
// inventory, and the node labels used for placement affinity.
type ClusterState struct {
	Capacity     v1alpha1.NodeResourceList
	Allocatable  v1alpha1.NodeResourceList
	Accelerators v1alpha1.ResourceList
	NodeLabels   map[string]map[string]string
}

// TotalAllocatable sums Allocatable across every node.
func (s *ClusterState) TotalAllocatable() v1alpha1.ResourceList {
	total := v1alpha1.ResourceList{}

	for _, node := range s.Allocatable {
		for name, quantity := range node {
			total[name] += quantity
		}
	}

	return total
}

// ExecStream carries the byte streams and terminal settings for an exec
// session. Stdin may be nil for non-interactive invocations.
type ExecStream struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	TTY    bool
}

// ClusterManager is the compatibility layer contract. Every method
// takes a context carrying the caller's deadline; implementations must
// unblock all in-flight calls when it's cancelled.
type ClusterManager interface {
	// Describe returns the cluster's current capacity snapshot.
	Describe(ctx context.Context) (*ClusterState, error)

	// SubmitJob submits replicas instances of job (this cluster's slice,
	// not spec.replicas) and returns the backend-native job identifier
	// used by the other job operations.
	SubmitJob(ctx context.Context, job *v1alpha1.Job, replicas int) (string, error)

	// DeleteJob removes every backend resource SubmitJob created.
	DeleteJob(ctx context.Context, job *v1alpha1.Job) error

	// PollJob reports the job's current per-state replica counts on this
	// cluster.
	PollJob(ctx context.Context, job *v1alpha1.Job) (v1alpha1.ReplicaStatusCounts, error)

	// Logs streams the job's output to w until the job ends, w errors, or
	// ctx is cancelled.
	Logs(ctx context.Context, job *v1alpha1.Job, w io.Writer) error

	// Exec runs command against one of the job's replicas, wiring the
	// byte streams in stream, and returns the command's exit code.
	Exec(ctx context.Context, job *v1alpha1.Job, command []string, stream *ExecStream) (int, error)

	// SubmitService materializes service on this cluster.
	SubmitService(ctx context.Context, service *v1alpha1.Service) error

	// DeleteService removes a previously submitted service.
	DeleteService(ctx context.Context, service *v1alpha1.Service) error

	// ListServices returns the names of services this manager has
	// materialized, used by the Service Controller to reconcile drift.
	ListServices(ctx context.Context) ([]string, error)

	// CreateLink peers this cluster with link's far side via the mesh.
	CreateLink(ctx context.Context, link *v1alpha1.Link) error

	// DeleteLink tears the peering down.
	DeleteLink(ctx context.Context, link *v1alpha1.Link) error

	// ExposeService exports service over an established Link so peered
	// clusters may import it.
	ExposeService(ctx context.Context, service *v1alpha1.Service) error

	// ImportService makes a service exported by a peered cluster
	// resolvable locally.
	ImportService(ctx context.Context, service *v1alpha1.Service) error

	// Close releases every backend handle (connections, sessions). A
	// cancelled Skylet must call this before its manager may recreate it.
	Close() error
}
