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

// NamespacePhase is the lifecycle phase of a Namespace.
type NamespacePhase string

const (
	NamespacePhaseActive      NamespacePhase = "ACTIVE"
	NamespacePhaseTerminating NamespacePhase = "TERMINATING"
)

// NamespaceStatus is the observed state of a Namespace.
type NamespaceStatus struct {
	Phase NamespacePhase `json:"phase,omitempty"`
}

// Namespace partitions namespaced objects. Deleting a Namespace cascades
// to every object keyed under it; the store's namespace-cascade delete
// guarantees no orphan survives the cascade.
type Namespace struct {
	Meta   ObjectMeta      `json:"metadata"`
	Status NamespaceStatus `json:"status,omitempty"`
}

func (n *Namespace) GetKind() Kind        { return KindNamespace }
func (n *Namespace) GetName() string      { return n.Meta.Name }
func (n *Namespace) GetNamespace() string { return "" }
func (n *Namespace) GetMeta() *ObjectMeta { return &n.Meta }

func (n *Namespace) DeepCopyObject() Object {
	out := &Namespace{}
	n.Meta.DeepCopyInto(&out.Meta)
	out.Status = n.Status

	return out
}
