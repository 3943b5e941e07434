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

// RestartPolicy governs how a Job's replicas are resubmitted on exit.
type RestartPolicy string

const (
	RestartPolicyAlways    RestartPolicy = "Always"
	RestartPolicyNever     RestartPolicy = "Never"
	RestartPolicyOnFailure RestartPolicy = "OnFailure"
)

// JobPhase is the job-wide scheduling phase reported on status.phase,
// distinct from the per-cluster-slice ReplicaState: it answers "has the
// scheduler placed this job" rather than "is a given slice running".
type JobPhase string

const (
	// JobPhaseInit is the phase of a freshly created Job not yet seen by
	// the scheduler's worker.
	JobPhaseInit JobPhase = "INIT"

	// JobPhasePending means the scheduler has run at least one iteration
	// but some or all replicas have no eligible cluster yet.
	JobPhasePending JobPhase = "PENDING"

	// JobPhaseScheduled means every replica has been assigned a cluster
	// slice; Sum(replica_status) == spec.replicas.
	JobPhaseScheduled JobPhase = "SCHEDULED"
)

// ReplicaState is a per-cluster-slice lifecycle state for a Job.
type ReplicaState string

const (
	ReplicaStateInit      ReplicaState = "INIT"
	ReplicaStatePending   ReplicaState = "PENDING"
	ReplicaStateRunning   ReplicaState = "RUNNING"
	ReplicaStateCompleted ReplicaState = "COMPLETED"
	ReplicaStateFailed    ReplicaState = "FAILED"
	ReplicaStateEvicted   ReplicaState = "EVICTED"
	ReplicaStateDeleted   ReplicaState = "DELETED"
)

// LabelSelectorOperator is one of the supported match-expression operators.
type LabelSelectorOperator string

const (
	LabelSelectorOpIn    LabelSelectorOperator = "In"
	LabelSelectorOpNotIn LabelSelectorOperator = "NotIn"
)

// LabelSelectorRequirement is a single match-expression clause.
type LabelSelectorRequirement struct {
	Key      string                `json:"key"`
	Operator LabelSelectorOperator `json:"operator"`
	Values   []string              `json:"values,omitempty"`
}

// LabelSelector matches a Cluster's labels. A selector matches when every
// MatchLabels entry is present with an equal value, or when every
// MatchExpressions entry evaluates true; an empty selector matches
// everything.
type LabelSelector struct {
	MatchLabels      map[string]string          `json:"matchLabels,omitempty"`
	MatchExpressions []LabelSelectorRequirement `json:"matchExpressions,omitempty"`
}

// Matches evaluates the selector against labels.
func (s *LabelSelector) Matches(labels map[string]string) bool {
	if len(s.MatchLabels) == 0 && len(s.MatchExpressions) == 0 {
		return true
	}

	if len(s.MatchLabels) > 0 {
		matched := true

		for k, v := range s.MatchLabels {
			if labels[k] != v {
				matched = false
				break
			}
		}

		if matched {
			return true
		}
	}

	if len(s.MatchExpressions) > 0 {
		for _, expr := range s.MatchExpressions {
			if !expr.Evaluate(labels) {
				return false
			}
		}

		return true
	}

	return false
}

// Evaluate applies one requirement to labels.
func (r *LabelSelectorRequirement) Evaluate(labels map[string]string) bool {
	value, present := labels[r.Key]

	switch r.Operator {
	case LabelSelectorOpIn:
		if !present {
			return false
		}

		for _, v := range r.Values {
			if v == value {
				return true
			}
		}

		return false
	case LabelSelectorOpNotIn:
		if !present {
			return true
		}

		for _, v := range r.Values {
			if v == value {
				return false
			}
		}

		return true
	default:
		return false
	}
}

func (s *LabelSelector) deepCopy() LabelSelector {
	out := *s

	if s.MatchLabels != nil {
		out.MatchLabels = make(map[string]string, len(s.MatchLabels))
		for k, v := range s.MatchLabels {
			out.MatchLabels[k] = v
		}
	}

	if s.MatchExpressions != nil {
		out.MatchExpressions = make([]LabelSelectorRequirement, len(s.MatchExpressions))
		for i, e := range s.MatchExpressions {
			e.Values = append([]string(nil), e.Values...)
			out.MatchExpressions[i] = e
		}
	}

	return out
}

// Filter names an explicit include/exclude cluster set, a label selector,
// or both; it's the element type of both spec.placement.filters and the
// FilterPolicy's cluster_filter.
type Filter struct {
	Include       []string       `json:"include,omitempty"`
	Exclude       []string       `json:"exclude,omitempty"`
	LabelSelector *LabelSelector `json:"labelSelector,omitempty"`
}

func (f *Filter) deepCopy() Filter {
	out := *f
	out.Include = append([]string(nil), f.Include...)
	out.Exclude = append([]string(nil), f.Exclude...)

	if f.LabelSelector != nil {
		sel := f.LabelSelector.deepCopy()
		out.LabelSelector = &sel
	}

	return out
}

// Preference is a soft placement hint used by scoring plugins: clusters
// matched by name or label selector gain Weight.
type Preference struct {
	Cluster       string         `json:"cluster,omitempty"`
	LabelSelector *LabelSelector `json:"labelSelector,omitempty"`
	Weight        int            `json:"weight,omitempty"`
}

func (p *Preference) deepCopy() Preference {
	out := *p

	if p.LabelSelector != nil {
		sel := p.LabelSelector.deepCopy()
		out.LabelSelector = &sel
	}

	return out
}

// Placement groups a Job's hard filters and soft preferences.
type Placement struct {
	Filters     []Filter     `json:"filters,omitempty"`
	Preferences []Preference `json:"preferences,omitempty"`
}

func (p *Placement) deepCopy() Placement {
	out := Placement{}

	if p.Filters != nil {
		out.Filters = make([]Filter, len(p.Filters))
		for i, f := range p.Filters {
			out.Filters[i] = f.deepCopy()
		}
	}

	if p.Preferences != nil {
		out.Preferences = make([]Preference, len(p.Preferences))
		for i, pref := range p.Preferences {
			out.Preferences[i] = pref.deepCopy()
		}
	}

	return out
}

// Port is a container port exposed by a Job's replicas.
type Port struct {
	Name          string `json:"name,omitempty"`
	ContainerPort int32  `json:"containerPort"`
	Protocol      string `json:"protocol,omitempty"`
}

// Volume mounts a named volume into a Job's replicas.
type Volume struct {
	Name      string `json:"name"`
	HostPath  string `json:"hostPath,omitempty"`
	MountPath string `json:"mountPath"`
}

// JobSpec is the desired state of a Job.
type JobSpec struct {
	Image           string            `json:"image"`
	ImagePullPolicy string            `json:"imagePullPolicy,omitempty"`
	Envs            map[string]string `json:"envs,omitempty"`
	Ports           []Port            `json:"ports,omitempty"`
	Resources       ResourceList      `json:"resources,omitempty"`

	// Run is the command run in the container; empty uses the image's
	// default entrypoint.
	Run []string `json:"run,omitempty"`

	Replicas      int           `json:"replicas"`
	RestartPolicy RestartPolicy `json:"restartPolicy,omitempty"`
	Volumes       []Volume      `json:"volumes,omitempty"`
	Placement     Placement     `json:"placement,omitempty"`
}

func (s *JobSpec) deepCopy() JobSpec {
	out := *s

	if s.Envs != nil {
		out.Envs = make(map[string]string, len(s.Envs))
		for k, v := range s.Envs {
			out.Envs[k] = v
		}
	}

	out.Ports = append([]Port(nil), s.Ports...)
	out.Resources = s.Resources.DeepCopy()
	out.Run = append([]string(nil), s.Run...)
	out.Volumes = append([]Volume(nil), s.Volumes...)
	out.Placement = s.Placement.deepCopy()

	return out
}

// ReplicaStatusCounts maps a ReplicaState to a replica count within one
// cluster slice.
type ReplicaStatusCounts map[ReplicaState]int

func (c ReplicaStatusCounts) deepCopy() ReplicaStatusCounts {
	if c == nil {
		return nil
	}

	out := make(ReplicaStatusCounts, len(c))
	for k, v := range c {
		out[k] = v
	}

	return out
}

// Sum returns the total replica count across all states.
func (c ReplicaStatusCounts) Sum() int {
	total := 0
	for _, v := range c {
		total += v
	}

	return total
}

// JobStatus is the observed state of a Job.
type JobStatus struct {
	// Phase is the job-wide scheduling phase; see JobPhase.
	Phase JobPhase `json:"phase,omitempty"`

	Conditions ConditionList `json:"conditions,omitempty"`

	// ReplicaStatus maps a cluster name to its per-state replica counts.
	// The invariant is that the sum across all clusters and states equals
	// spec.replicas once the job has been fully scheduled.
	ReplicaStatus map[string]ReplicaStatusCounts `json:"replicaStatus,omitempty"`

	// JobIDs maps a cluster name to the backend-native job identifier
	// returned by submit_job, used for poll_job/delete_job/logs/exec.
	JobIDs map[string]string `json:"jobIds,omitempty"`
}

func (s *JobStatus) deepCopy() JobStatus {
	out := JobStatus{}
	out.Phase = s.Phase
	out.Conditions = s.Conditions.DeepCopy()

	if s.ReplicaStatus != nil {
		out.ReplicaStatus = make(map[string]ReplicaStatusCounts, len(s.ReplicaStatus))
		for k, v := range s.ReplicaStatus {
			out.ReplicaStatus[k] = v.deepCopy()
		}
	}

	if s.JobIDs != nil {
		out.JobIDs = make(map[string]string, len(s.JobIDs))
		for k, v := range s.JobIDs {
			out.JobIDs[k] = v
		}
	}

	return out
}

// TotalReplicas sums ReplicaStatus across every cluster and state.
func (s *JobStatus) TotalReplicas() int {
	total := 0
	for _, counts := range s.ReplicaStatus {
		total += counts.Sum()
	}

	return total
}

// Job is a unit of work placed across one or more clusters.
type Job struct {
	Meta   ObjectMeta `json:"metadata"`
	Spec   JobSpec    `json:"spec"`
	Status JobStatus  `json:"status,omitempty"`
}

func (j *Job) GetKind() Kind        { return KindJob }
func (j *Job) GetName() string      { return j.Meta.Name }
func (j *Job) GetNamespace() string { return j.Meta.Namespace }
func (j *Job) GetMeta() *ObjectMeta { return &j.Meta }

func (j *Job) DeepCopyObject() Object {
	out := &Job{}
	j.Meta.DeepCopyInto(&out.Meta)
	out.Spec = j.Spec.deepCopy()
	out.Status = j.Status.deepCopy()

	return out
}
