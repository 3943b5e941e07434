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

// LinkPhase is the lifecycle phase of a Link.
type LinkPhase string

const (
	LinkPhaseInit   LinkPhase = "INIT"
	LinkPhaseActive LinkPhase = "ACTIVE"
	LinkPhaseFailed LinkPhase = "FAILED"
)

// LinkSpec names the two clusters a mesh tunnel peers.
type LinkSpec struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// LinkStatus is the observed state of a Link.
type LinkStatus struct {
	Phase LinkPhase `json:"phase,omitempty"`
}

// Link is a bidirectional mesh tunnel between two clusters, enabling
// cross-cluster service discovery and the Network Controller's
// export/import operations.
type Link struct {
	Meta   ObjectMeta `json:"metadata"`
	Spec   LinkSpec   `json:"spec"`
	Status LinkStatus `json:"status,omitempty"`
}

func (l *Link) GetKind() Kind        { return KindLink }
func (l *Link) GetName() string      { return l.Meta.Name }
func (l *Link) GetNamespace() string { return "" }
func (l *Link) GetMeta() *ObjectMeta { return &l.Meta }

func (l *Link) DeepCopyObject() Object {
	out := &Link{}
	l.Meta.DeepCopyInto(&out.Meta)
	out.Spec = l.Spec
	out.Status = l.Status

	return out
}

// FilterPolicySpec restricts or biases where Jobs in a namespace may be
// scheduled, applied in addition to each Job's own spec.placement.
type FilterPolicySpec struct {
	ClusterFilter Filter        `json:"clusterFilter,omitempty"`
	LabelSelector LabelSelector `json:"labelSelector,omitempty"`
}

func (s *FilterPolicySpec) deepCopy() FilterPolicySpec {
	return FilterPolicySpec{
		ClusterFilter: s.ClusterFilter.deepCopy(),
		LabelSelector: s.LabelSelector.deepCopy(),
	}
}

// FilterPolicy is a namespace-scoped placement constraint applied to every
// Job in that namespace by the ClusterAffinityPlugin.
type FilterPolicy struct {
	Meta ObjectMeta       `json:"metadata"`
	Spec FilterPolicySpec `json:"spec"`
}

func (p *FilterPolicy) GetKind() Kind        { return KindFilterPolicy }
func (p *FilterPolicy) GetName() string      { return p.Meta.Name }
func (p *FilterPolicy) GetNamespace() string { return p.Meta.Namespace }
func (p *FilterPolicy) GetMeta() *ObjectMeta { return &p.Meta }

func (p *FilterPolicy) DeepCopyObject() Object {
	out := &FilterPolicy{}
	p.Meta.DeepCopyInto(&out.Meta)
	out.Spec = p.Spec.deepCopy()

	return out
}
