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

import "time"

// ConditionType enumerates the condition types reported on object status
// subresources.
type ConditionType string

const (
	// ConditionAvailable reports whether the object's controller considers
	// it ready for use.
	ConditionAvailable ConditionType = "Available"

	// ConditionProgressing reports whether the object's controller is
	// still converging it toward the desired state.
	ConditionProgressing ConditionType = "Progressing"

	// ConditionUnschedulable is set on a Job's status by the scheduler
	// when no eligible cluster could be found for some or all replicas.
	ConditionUnschedulable ConditionType = "Unschedulable"
)

// ConditionStatus is a tri-state status value, mirroring the Kubernetes
// convention of True/False/Unknown rather than a plain bool, so a condition
// can be reported even when its truth value hasn't been determined yet.
type ConditionStatus string

const (
	ConditionTrue    ConditionStatus = "True"
	ConditionFalse   ConditionStatus = "False"
	ConditionUnknown ConditionStatus = "Unknown"
)

// ConditionReason is a short machine-readable reason code accompanying a
// condition's status.
type ConditionReason string

const (
	ConditionReasonProvisioning   ConditionReason = "Provisioning"
	ConditionReasonProvisioned    ConditionReason = "Provisioned"
	ConditionReasonDeprovisioning ConditionReason = "Deprovisioning"
	ConditionReasonErrored        ConditionReason = "Errored"
	ConditionReasonCancelled      ConditionReason = "Cancelled"

	// ConditionReasonUnschedulable explains why a Job's Unschedulable
	// condition is currently True.
	ConditionReasonUnschedulable ConditionReason = "Unschedulable"

	// ConditionReasonScheduled explains why a Job's Unschedulable
	// condition is currently False: every replica has been placed.
	ConditionReasonScheduled ConditionReason = "Scheduled"
)

// Condition is a single status observation about an object.
type Condition struct {
	Type               ConditionType   `json:"type"`
	Status             ConditionStatus `json:"status"`
	Reason             ConditionReason `json:"reason,omitempty"`
	Message            string          `json:"message,omitempty"`
	LastTransitionTime time.Time       `json:"lastTransitionTime,omitempty"`
}

func (c *Condition) deepCopy() Condition {
	return *c
}

// ConditionList is a helper type embedded in every status struct that needs
// to report conditions.
type ConditionList []Condition

// DeepCopy returns an independent copy of the list.
func (l ConditionList) DeepCopy() ConditionList {
	if l == nil {
		return nil
	}

	out := make(ConditionList, len(l))
	copy(out, l)

	return out
}

// Get returns the condition of the given type, if present.
func (l ConditionList) Get(t ConditionType) *Condition {
	for i := range l {
		if l[i].Type == t {
			return &l[i]
		}
	}

	return nil
}

// Set inserts or updates the condition of the given type. The transition
// time only advances when the status actually changes, matching the
// convention that LastTransitionTime tracks status flips, not every touch.
func (l *ConditionList) Set(t ConditionType, status ConditionStatus, reason ConditionReason, message string) {
	if existing := l.Get(t); existing != nil {
		if existing.Status != status {
			existing.LastTransitionTime = timeNow()
		}

		existing.Status = status
		existing.Reason = reason
		existing.Message = message

		return
	}

	*l = append(*l, Condition{
		Type:               t,
		Status:             status,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: timeNow(),
	})
}

// timeNow is indirected so tests can pin it if ever required; production
// code always wants wall-clock time here.
var timeNow = time.Now
