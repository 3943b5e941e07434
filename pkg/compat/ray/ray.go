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

// Package ray implements the compatibility layer against a Ray cluster's
// head node over the Jobs API. One SkyShift replica maps to one Ray job
// submission; poll state comes from the Jobs API's status field.
package ray

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/compat"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// Well-known Ray ports.
const (
	JobsPort   = 8265
	NodesPort  = 6379
	ClientPort = 10001
)

const accessConfigHost = "host"

// Manager implements compat.ClusterManager over the Ray Jobs API.
type Manager struct {
	endpoint string
	client   *http.Client
}

// New builds a Manager for the head node named by the cluster's access
// config ("host"), talking to the Jobs API on its well-known port.
func New(cluster *v1alpha1.Cluster) (compat.ClusterManager, error) {
	host := cluster.Spec.AccessConfig[accessConfigHost]
	if host == "" {
		return nil, errors.InvalidObject("ray: cluster %q access config needs %q", cluster.GetName(), accessConfigHost)
	}

	return &Manager{
		endpoint: fmt.Sprintf("http://%s:%d", host, JobsPort),
		client:   &http.Client{},
	}, nil
}

// NewWithEndpoint wires an explicit Jobs API endpoint in, used by tests.
func NewWithEndpoint(endpoint string) *Manager {
	return &Manager{endpoint: endpoint, client: &http.Client{}}
}

func (m *Manager) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.endpoint+path, reader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Transient(err, "ray: %s %s", method, path)
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.NotFound("ray: %s not found", path)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Transient(nil, "ray: %s %s returned %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Transient(err, "ray: decode %s response", path)
		}
	}

	return nil
}

// nodeSummary is the subset of the Ray dashboard's node summary the
// describe path reads.
type nodeSummary struct {
	Raylet struct {
		NodeID    string             `json:"nodeId"`
		State     string             `json:"state"`
		Resources map[string]float64 `json:"resourcesTotal"`
	} `json:"raylet"`
}

// Describe reads total and available resources from the head node's node
// summary endpoint. Ray reports logical resources cluster-wide, so used
// resources come from the jobs this manager has submitted.
func (m *Manager) Describe(ctx context.Context) (*compat.ClusterState, error) {
	var summary struct {
		Data struct {
			Summary []nodeSummary `json:"summary"`
		} `json:"data"`
	}

	if err := m.do(ctx, http.MethodGet, "/nodes?view=summary", nil, &summary); err != nil {
		return nil, err
	}

	state := &compat.ClusterState{
		Capacity:     v1alpha1.NodeResourceList{},
		Allocatable:  v1alpha1.NodeResourceList{},
		Accelerators: v1alpha1.ResourceList{},
		NodeLabels:   map[string]map[string]string{},
	}

	for _, node := range summary.Data.Summary {
		if node.Raylet.State != "ALIVE" {
			continue
		}

		resources := v1alpha1.ResourceList{
			v1alpha1.ResourceCPU:    node.Raylet.Resources["CPU"],
			v1alpha1.ResourceMemory: node.Raylet.Resources["memory"] / (1 << 20),
		}

		if gpus := node.Raylet.Resources["GPU"]; gpus > 0 {
			resources[v1alpha1.ResourceGPU] = gpus
			state.Accelerators[v1alpha1.ResourceGPU] += gpus
		}

		state.Capacity[node.Raylet.NodeID] = resources
		state.Allocatable[node.Raylet.NodeID] = resources.DeepCopy()
		state.NodeLabels[node.Raylet.NodeID] = map[string]string{}
	}

	return state, nil
}

func submissionID(job *v1alpha1.Job, replica int) string {
	return fmt.Sprintf("skyshift-%s-%s-%d", job.GetNamespace(), job.GetName(), replica)
}

type submitRequest struct {
	SubmissionID string            `json:"submission_id"`
	Entrypoint   string            `json:"entrypoint"`
	RuntimeEnv   map[string]any    `json:"runtime_env,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	EntrypointNumCPUs float64 `json:"entrypoint_num_cpus,omitempty"`
	EntrypointNumGPUs float64 `json:"entrypoint_num_gpus,omitempty"`
}

// SubmitJob submits one Ray job per replica; the returned identifier is
// the shared submission prefix the other operations expand per replica.
func (m *Manager) SubmitJob(ctx context.Context, job *v1alpha1.Job, replicas int) (string, error) {
	entrypoint := strings.Join(job.Spec.Run, " ")

	runtimeEnv := map[string]any{}

	if job.Spec.Image != "" {
		runtimeEnv["container"] = map[string]any{"image": job.Spec.Image}
	}

	if len(job.Spec.Envs) > 0 {
		runtimeEnv["env_vars"] = job.Spec.Envs
	}

	for replica := 0; replica < replicas; replica++ {
		request := submitRequest{
			SubmissionID:      submissionID(job, replica),
			Entrypoint:        entrypoint,
			RuntimeEnv:        runtimeEnv,
			Metadata:          map[string]string{"skyshift.sh/job": job.GetName()},
			EntrypointNumCPUs: job.Spec.Resources[v1alpha1.ResourceCPU],
			EntrypointNumGPUs: job.Spec.Resources[v1alpha1.ResourceGPU],
		}

		if err := m.do(ctx, http.MethodPost, "/api/jobs/", request, nil); err != nil {
			return "", err
		}
	}

	return submissionID(job, 0), nil
}

// DeleteJob stops and deletes every replica's submission, tolerating
// NotFound for replicas that already finished and were reaped.
func (m *Manager) DeleteJob(ctx context.Context, job *v1alpha1.Job) error {
	for replica := 0; ; replica++ {
		id := submissionID(job, replica)

		err := m.do(ctx, http.MethodPost, "/api/jobs/"+id+"/stop", nil, nil)
		if errors.Is(err, errors.KindNotFound) {
			return nil
		}

		if err != nil {
			return err
		}

		if err := m.do(ctx, http.MethodDelete, "/api/jobs/"+id, nil, nil); err != nil && !errors.Is(err, errors.KindNotFound) {
			return err
		}
	}
}

func rayStatusToReplicaState(status string) v1alpha1.ReplicaState {
	switch status {
	case "PENDING":
		return v1alpha1.ReplicaStatePending
	case "RUNNING":
		return v1alpha1.ReplicaStateRunning
	case "SUCCEEDED":
		return v1alpha1.ReplicaStateCompleted
	case "FAILED":
		return v1alpha1.ReplicaStateFailed
	case "STOPPED":
		return v1alpha1.ReplicaStateEvicted
	default:
		return v1alpha1.ReplicaStateInit
	}
}

// PollJob walks the replica submissions until the first missing index.
func (m *Manager) PollJob(ctx context.Context, job *v1alpha1.Job) (v1alpha1.ReplicaStatusCounts, error) {
	counts := v1alpha1.ReplicaStatusCounts{}

	for replica := 0; ; replica++ {
		var details struct {
			Status string `json:"status"`
		}

		err := m.do(ctx, http.MethodGet, "/api/jobs/"+submissionID(job, replica), nil, &details)
		if errors.Is(err, errors.KindNotFound) {
			return counts, nil
		}

		if err != nil {
			return nil, err
		}

		counts[rayStatusToReplicaState(details.Status)]++
	}
}

// Logs fetches the first replica's log text. The Jobs API exposes logs as
// a document rather than a stream, so following is a poll on the caller's
// side.
func (m *Manager) Logs(ctx context.Context, job *v1alpha1.Job, w io.Writer) error {
	var logs struct {
		Logs string `json:"logs"`
	}

	if err := m.do(ctx, http.MethodGet, "/api/jobs/"+submissionID(job, 0)+"/logs", nil, &logs); err != nil {
		return err
	}

	_, err := io.WriteString(w, logs.Logs)

	return err
}

// Exec has no Jobs API equivalent; Ray tasks are not attachable.
func (m *Manager) Exec(ctx context.Context, job *v1alpha1.Job, command []string, stream *compat.ExecStream) (int, error) {
	return 0, errors.Unsupported("ray: exec is not supported")
}

func (m *Manager) SubmitService(ctx context.Context, service *v1alpha1.Service) error {
	return errors.Unsupported("ray: services are not supported")
}

func (m *Manager) DeleteService(ctx context.Context, service *v1alpha1.Service) error {
	return errors.Unsupported("ray: services are not supported")
}

func (m *Manager) ListServices(ctx context.Context) ([]string, error) {
	return nil, errors.Unsupported("ray: services are not supported")
}

func (m *Manager) CreateLink(ctx context.Context, link *v1alpha1.Link) error {
	return errors.Unsupported("ray: links are not supported")
}

func (m *Manager) DeleteLink(ctx context.Context, link *v1alpha1.Link) error {
	return errors.Unsupported("ray: links are not supported")
}

func (m *Manager) ExposeService(ctx context.Context, service *v1alpha1.Service) error {
	return errors.Unsupported("ray: service export is not supported")
}

func (m *Manager) ImportService(ctx context.Context, service *v1alpha1.Service) error {
	return errors.Unsupported("ray: service import is not supported")
}

// Close is a no-op: the Jobs API is stateless HTTP.
func (m *Manager) Close() error {
	return nil
}
