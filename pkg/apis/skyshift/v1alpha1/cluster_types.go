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

package v1alpha1

// ClusterManagerType identifies which compatibility backend a Cluster is
// bound to.
type ClusterManagerType string

const (
	ClusterManagerKubernetes ClusterManagerType = "k8"
	ClusterManagerSlurm      ClusterManagerType = "slurm"
	ClusterManagerRay        ClusterManagerType = "ray"
)

// ClusterPhase is the lifecycle phase reported on a Cluster's status.
type ClusterPhase string

const (
	ClusterPhaseInit         ClusterPhase = "INIT"
	ClusterPhaseProvisioning ClusterPhase = "PROVISIONING"
	ClusterPhaseReady        ClusterPhase = "READY"
	ClusterPhaseError        ClusterPhase = "ERROR"
	ClusterPhaseDeleting     ClusterPhase = "DELETING"
)

// Well-known resource names shared by every compatibility backend.
const (
	ResourceCPU    = "cpus"
	ResourceMemory = "memory"
	ResourceGPU    = "gpus"
)

// ResourceList maps a resource name (cpus, memory, gpus, an accelerator
// type...) to a quantity. Quantities are stored as float64 rather than a
// Kubernetes-style resource.Quantity: SkyShift's clusters aren't
// Kubernetes-only, so a unit-less scalar keeps Slurm and Ray accounting
// uniform with Kubernetes'.
type ResourceList map[string]float64

// NodeResourceList maps a node name to its ResourceList, used for
// per-node capacity and allocatable accounting.
type NodeResourceList map[string]ResourceList

// DeepCopy returns an independent copy.
func (r ResourceList) DeepCopy() ResourceList {
	if r == nil {
		return nil
	}

	out := make(ResourceList, len(r))
	for k, v := range r {
		out[k] = v
	}

	return out
}

// DeepCopy returns an independent copy.
func (n NodeResourceList) DeepCopy() NodeResourceList {
	if n == nil {
		return nil
	}

	out := make(NodeResourceList, len(n))
	for k, v := range n {
		out[k] = v.DeepCopy()
	}

	return out
}

// ClusterSpec is the desired state of a Cluster.
type ClusterSpec struct {
	// Manager selects which compatibility backend manages this cluster.
	Manager ClusterManagerType `json:"manager"`

	// ConfigPath points at the backend-specific connection config
	// (kubeconfig, SSH config, Ray address file) on the controller
	// manager's filesystem.
	ConfigPath string `json:"configPath,omitempty"`

	// AccessConfig carries inline backend credentials as an alternative
	// to ConfigPath.
	AccessConfig map[string]string `json:"accessConfig,omitempty"`

	NumNodes int `json:"numNodes,omitempty"`

	Resources ResourceList `json:"resources,omitempty"`

	Accelerators ResourceList `json:"accelerators,omitempty"`

	Ports []int32 `json:"ports,omitempty"`

	Cloud  string `json:"cloud,omitempty"`
	Region string `json:"region,omitempty"`

	// Provision, when true, causes the Cluster Controller to drive the
	// cluster through PROVISIONING before it is usable; when false the
	// cluster is assumed to already exist and is only described.
	Provision bool `json:"provision,omitempty"`
}

func (s *ClusterSpec) deepCopy() ClusterSpec {
	out := *s

	if s.AccessConfig != nil {
		out.AccessConfig = make(map[string]string, len(s.AccessConfig))
		for k, v := range s.AccessConfig {
			out.AccessConfig[k] = v
		}
	}

	out.Resources = s.Resources.DeepCopy()
	out.Accelerators = s.Accelerators.DeepCopy()

	if s.Ports != nil {
		out.Ports = append([]int32(nil), s.Ports...)
	}

	return out
}

// ClusterStatus is the observed state of a Cluster.
type ClusterStatus struct {
	Phase ClusterPhase `json:"phase,omitempty"`

	// Capacity is the cluster's total per-node resource capacity as last
	// observed by the Cluster Controller.
	Capacity NodeResourceList `json:"capacity,omitempty"`

	// AllocatableCapacity is Capacity minus resources already reserved
	// or in use.
	AllocatableCapacity NodeResourceList `json:"allocatableCapacity,omitempty"`

	// ConsecutiveDescribeFailures counts consecutive describe() errors;
	// reset to 0 on success and used to trip the cluster into ERROR.
	ConsecutiveDescribeFailures int `json:"consecutiveDescribeFailures,omitempty"`

	Conditions ConditionList `json:"conditions,omitempty"`
}

func (s *ClusterStatus) deepCopy() ClusterStatus {
	out := *s
	out.Capacity = s.Capacity.DeepCopy()
	out.AllocatableCapacity = s.AllocatableCapacity.DeepCopy()
	out.Conditions = s.Conditions.DeepCopy()

	return out
}

// Cluster is a compute cluster (Kubernetes, Slurm, or Ray) registered with
// the control plane.
type Cluster struct {
	Meta   ObjectMeta    `json:"metadata"`
	Spec   ClusterSpec   `json:"spec"`
	Status ClusterStatus `json:"status,omitempty"`
}

func (c *Cluster) GetKind() Kind        { return KindCluster }
func (c *Cluster) GetName() string      { return c.Meta.Name }
func (c *Cluster) GetNamespace() string { return "" }
func (c *Cluster) GetMeta() *ObjectMeta { return &c.Meta }

func (c *Cluster) DeepCopyObject() Object {
	out := &Cluster{}
	c.Meta.DeepCopyInto(&out.Meta)
	out.Spec = c.Spec.deepCopy()
	out.Status = c.Status.deepCopy()

	return out
}
