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

// ServiceType mirrors the familiar Kubernetes service type taxonomy so the
// Kubernetes backend can map it 1:1; the Slurm and Ray backends interpret
// it as best they can (typically collapsing everything to ClusterIP-style
// mesh routing).
type ServiceType string

const (
	ServiceTypeClusterIP    ServiceType = "ClusterIP"
	ServiceTypeNodePort     ServiceType = "NodePort"
	ServiceTypeLoadBalancer ServiceType = "LoadBalancer"
	ServiceTypeExternalName ServiceType = "ExternalName"
)

// ServicePort describes one exposed port mapping.
type ServicePort struct {
	Protocol   string `json:"protocol,omitempty"`
	Port       int32  `json:"port"`
	TargetPort int32  `json:"targetPort"`
	NodePort   int32  `json:"nodePort,omitempty"`
}

// ServiceSpec is the desired state of a Service.
type ServiceSpec struct {
	Type     ServiceType       `json:"type"`
	Selector map[string]string `json:"selector,omitempty"`
	Ports    []ServicePort     `json:"ports,omitempty"`

	// PrimaryCluster names the cluster that owns the canonical backend
	// for this service, or "auto" to let the Network Controller pick.
	PrimaryCluster string `json:"primaryCluster,omitempty"`
}

func (s *ServiceSpec) deepCopy() ServiceSpec {
	out := *s

	if s.Selector != nil {
		out.Selector = make(map[string]string, len(s.Selector))
		for k, v := range s.Selector {
			out.Selector[k] = v
		}
	}

	out.Ports = append([]ServicePort(nil), s.Ports...)

	return out
}

// ServiceStatus is the observed state of a Service.
type ServiceStatus struct {
	ExternalIP string `json:"externalIp,omitempty"`
	ClusterIP  string `json:"clusterIp,omitempty"`
}

// Service is a named network endpoint fronting a Job's replicas, possibly
// spanning clusters via a Link.
type Service struct {
	Meta   ObjectMeta    `json:"metadata"`
	Spec   ServiceSpec   `json:"spec"`
	Status ServiceStatus `json:"status,omitempty"`
}

func (s *Service) GetKind() Kind        { return KindService }
func (s *Service) GetName() string      { return s.Meta.Name }
func (s *Service) GetNamespace() string { return s.Meta.Namespace }
func (s *Service) GetMeta() *ObjectMeta { return &s.Meta }

func (s *Service) DeepCopyObject() Object {
	out := &Service{}
	s.Meta.DeepCopyInto(&out.Meta)
	out.Spec = s.Spec.deepCopy()
	out.Status = s.Status

	return out
}

// EndpointRecord is one cluster's contribution to a Service's endpoint set.
type EndpointRecord struct {
	Cluster          string `json:"cluster"`
	NumEndpoints     int    `json:"numEndpoints"`
	ExposedToCluster string `json:"exposedToCluster,omitempty"`
}

// EndpointsSpec holds the per-cluster endpoint records for a service-like
// identity.
type EndpointsSpec struct {
	ServiceName string           `json:"serviceName"`
	Records     []EndpointRecord `json:"records,omitempty"`
}

func (s *EndpointsSpec) deepCopy() EndpointsSpec {
	out := *s
	out.Records = append([]EndpointRecord(nil), s.Records...)

	return out
}

// Endpoints tracks where a Service is actually reachable, cluster by
// cluster; reconciled by the Endpoints Controller from live backend state.
type Endpoints struct {
	Meta ObjectMeta    `json:"metadata"`
	Spec EndpointsSpec `json:"spec"`
}

func (e *Endpoints) GetKind() Kind        { return KindEndpoints }
func (e *Endpoints) GetName() string      { return e.Meta.Name }
func (e *Endpoints) GetNamespace() string { return e.Meta.Namespace }
func (e *Endpoints) GetMeta() *ObjectMeta { return &e.Meta }

func (e *Endpoints) DeepCopyObject() Object {
	out := &Endpoints{}
	e.Meta.DeepCopyInto(&out.Meta)
	out.Spec = e.Spec.deepCopy()

	return out
}
