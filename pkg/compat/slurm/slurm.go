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

// Package slurm implements the compatibility layer against a Slurm
// cluster reached over SSH: jobs submit via sbatch, poll via squeue and
// sacct, logs stream the batch script's stdout file, and exec opens an
// interactive session on the allocated node via srun.
package slurm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/compat"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// Access config keys a Slurm Cluster must carry.
const (
	accessConfigHost    = "host"
	accessConfigUser    = "user"
	accessConfigKeyPath = "key-path"
	accessConfigWorkDir = "work-dir"
)

// Manager implements compat.ClusterManager over one SSH connection to a
// Slurm login node.
type Manager struct {
	host    string
	user    string
	workDir string
	config  *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

// New builds a Manager from cluster.Spec.AccessConfig. The SSH connection
// is dialed lazily on first use so a Skylet can start while the login
// node is briefly unreachable.
func New(cluster *v1alpha1.Cluster) (compat.ClusterManager, error) {
	access := cluster.Spec.AccessConfig

	host := access[accessConfigHost]
	user := access[accessConfigUser]

	if host == "" || user == "" {
		return nil, errors.InvalidObject("slurm: cluster %q access config needs %q and %q", cluster.GetName(), accessConfigHost, accessConfigUser)
	}

	key, err := os.ReadFile(access[accessConfigKeyPath])
	if err != nil {
		return nil, errors.InvalidObject("slurm: cluster %q ssh key: %v", cluster.GetName(), err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.InvalidObject("slurm: cluster %q ssh key: %v", cluster.GetName(), err)
	}

	workDir := access[accessConfigWorkDir]
	if workDir == "" {
		workDir = "/tmp/skyshift"
	}

	return &Manager{
		host:    host,
		user:    user,
		workDir: workDir,
		config: &ssh.ClientConfig{
			User: user,
			Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
			//nolint:gosec
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		},
	}, nil
}

func (m *Manager) dial() (*ssh.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	client, err := ssh.Dial("tcp", m.host, m.config)
	if err != nil {
		return nil, errors.Transient(err, "slurm: dial %s", m.host)
	}

	m.client = client

	return client, nil
}

// run executes command on the login node and returns its stdout,
// honouring ctx by closing the session on cancellation.
func (m *Manager) run(ctx context.Context, command string) (string, error) {
	client, err := m.dial()
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", errors.Transient(err, "slurm: open session")
	}

	defer session.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	output, err := session.Output(command)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", errors.Transient(err, "slurm: %q", command)
	}

	return string(output), nil
}

// Describe parses sinfo's node listing into per-node capacity and squeue
// into in-use resources. For heterogeneous partitions where sinfo reports
// a range, the lower bound is used so capacity is never overstated.
func (m *Manager) Describe(ctx context.Context) (*compat.ClusterState, error) {
	output, err := m.run(ctx, `sinfo --Node --noheader --format="%N %c %m %G"`)
	if err != nil {
		return nil, err
	}

	state := &compat.ClusterState{
		Capacity:     v1alpha1.NodeResourceList{},
		Allocatable:  v1alpha1.NodeResourceList{},
		Accelerators: v1alpha1.ResourceList{},
		NodeLabels:   map[string]map[string]string{},
	}

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		node := fields[0]

		cpus := parseRangeLow(fields[1])
		memory := parseRangeLow(fields[2])

		resources := v1alpha1.ResourceList{
			v1alpha1.ResourceCPU:    cpus,
			v1alpha1.ResourceMemory: memory,
		}

		if len(fields) >= 4 {
			if gpus := parseGres(fields[3]); gpus > 0 {
				resources[v1alpha1.ResourceGPU] = gpus
				state.Accelerators[v1alpha1.ResourceGPU] += gpus
			}
		}

		state.Capacity[node] = resources
		state.Allocatable[node] = resources.DeepCopy()
		state.NodeLabels[node] = map[string]string{}
	}

	used, err := m.run(ctx, `squeue --noheader --states=RUNNING --format="%N %C"`)
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(strings.TrimSpace(used), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		if allocatable, ok := state.Allocatable[fields[0]]; ok {
			allocatable[v1alpha1.ResourceCPU] -= parseRangeLow(fields[1])

			if allocatable[v1alpha1.ResourceCPU] < 0 {
				allocatable[v1alpha1.ResourceCPU] = 0
			}
		}
	}

	return state, nil
}

// parseRangeLow parses a sinfo numeric field that may be a plain number
// or a "low-high" range ("8+" and "8-16" both yield 8).
func parseRangeLow(field string) float64 {
	field = strings.TrimSuffix(field, "+")

	if idx := strings.IndexByte(field, '-'); idx > 0 {
		field = field[:idx]
	}

	value, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0
	}

	return value
}

// parseGres extracts a GPU count from a GRES string like "gpu:a100:4" or
// "gpu:4"; "(null)" and anything unparseable yield 0.
func parseGres(gres string) float64 {
	if !strings.HasPrefix(gres, "gpu") {
		return 0
	}

	parts := strings.Split(gres, ":")

	value, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return 0
	}

	return value
}

func (m *Manager) jobName(job *v1alpha1.Job) string {
	return "skyshift-" + job.GetNamespace() + "-" + job.GetName()
}

func (m *Manager) stdoutPath(job *v1alpha1.Job) string {
	return fmt.Sprintf("%s/%s.out", m.workDir, m.jobName(job))
}

// SubmitJob wraps the job's command in an sbatch array so each replica is
// one array task; containerized images run under "docker run" when the
// job names an image.
func (m *Manager) SubmitJob(ctx context.Context, job *v1alpha1.Job, replicas int) (string, error) {
	if _, err := m.run(ctx, "mkdir -p "+m.workDir); err != nil {
		return "", err
	}

	command := strings.Join(job.Spec.Run, " ")

	if job.Spec.Image != "" {
		var envs []string
		for name, value := range job.Spec.Envs {
			envs = append(envs, fmt.Sprintf("--env %s=%s", name, value))
		}

		command = fmt.Sprintf("docker run --rm %s %s %s", strings.Join(envs, " "), job.Spec.Image, command)
	}

	var resources []string

	if cpus := job.Spec.Resources[v1alpha1.ResourceCPU]; cpus > 0 {
		resources = append(resources, fmt.Sprintf("--cpus-per-task=%d", int(cpus)))
	}

	if memory := job.Spec.Resources[v1alpha1.ResourceMemory]; memory > 0 {
		resources = append(resources, fmt.Sprintf("--mem=%dM", int(memory)))
	}

	if gpus := job.Spec.Resources[v1alpha1.ResourceGPU]; gpus > 0 {
		resources = append(resources, fmt.Sprintf("--gres=gpu:%d", int(gpus)))
	}

	submit := fmt.Sprintf(
		"sbatch --parsable --job-name=%s --array=0-%d --output=%s %s --wrap=%s",
		m.jobName(job), replicas-1, m.stdoutPath(job), strings.Join(resources, " "), strconv.Quote(command),
	)

	output, err := m.run(ctx, submit)
	if err != nil {
		return "", err
	}

	jobID := strings.TrimSpace(output)
	if jobID == "" {
		return "", errors.Transient(nil, "slurm: sbatch returned no job id")
	}

	return jobID, nil
}

// DeleteJob cancels the whole array.
func (m *Manager) DeleteJob(ctx context.Context, job *v1alpha1.Job) error {
	if _, err := m.run(ctx, "scancel --name="+m.jobName(job)); err != nil {
		return err
	}

	return nil
}

// slurmStateToReplicaState folds Slurm's job state taxonomy down to
// SkyShift's.
func slurmStateToReplicaState(state string) v1alpha1.ReplicaState {
	switch {
	case strings.HasPrefix(state, "PENDING"), strings.HasPrefix(state, "CONFIGURING"):
		return v1alpha1.ReplicaStatePending
	case strings.HasPrefix(state, "RUNNING"), strings.HasPrefix(state, "COMPLETING"):
		return v1alpha1.ReplicaStateRunning
	case strings.HasPrefix(state, "COMPLETED"):
		return v1alpha1.ReplicaStateCompleted
	case strings.HasPrefix(state, "FAILED"), strings.HasPrefix(state, "TIMEOUT"),
		strings.HasPrefix(state, "OUT_OF_MEMORY"), strings.HasPrefix(state, "NODE_FAIL"):
		return v1alpha1.ReplicaStateFailed
	case strings.HasPrefix(state, "CANCELLED"), strings.HasPrefix(state, "PREEMPTED"):
		return v1alpha1.ReplicaStateEvicted
	default:
		return v1alpha1.ReplicaStateInit
	}
}

// PollJob reads the array's task states via sacct, which keeps reporting
// finished tasks after squeue forgets them.
func (m *Manager) PollJob(ctx context.Context, job *v1alpha1.Job) (v1alpha1.ReplicaStatusCounts, error) {
	output, err := m.run(ctx, fmt.Sprintf("sacct --noheader --parsable2 --format=JobID,State --name=%s", m.jobName(job)))
	if err != nil {
		return nil, err
	}

	counts := v1alpha1.ReplicaStatusCounts{}

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		fields := strings.Split(line, "|")
		if len(fields) != 2 {
			continue
		}

		// Only array tasks count as replicas; skip the ".batch" and
		// ".extern" accounting steps.
		if strings.ContainsRune(fields[0], '.') {
			continue
		}

		counts[slurmStateToReplicaState(fields[1])]++
	}

	return counts, nil
}

// Logs streams the batch stdout file, following it until ctx is
// cancelled so a client can watch a running job.
func (m *Manager) Logs(ctx context.Context, job *v1alpha1.Job, w io.Writer) error {
	client, err := m.dial()
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return errors.Transient(err, "slurm: open session")
	}

	defer session.Close()

	session.Stdout = w

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	if err := session.Run("tail -n +1 -f " + m.stdoutPath(job)); err != nil && ctx.Err() == nil {
		return errors.Transient(err, "slurm: stream logs for %q", job.GetName())
	}

	return nil
}

// Exec opens an interactive step on the job's allocated node via srun.
func (m *Manager) Exec(ctx context.Context, job *v1alpha1.Job, command []string, stream *compat.ExecStream) (int, error) {
	client, err := m.dial()
	if err != nil {
		return 0, err
	}

	session, err := client.NewSession()
	if err != nil {
		return 0, errors.Transient(err, "slurm: open session")
	}

	defer session.Close()

	session.Stdin = stream.Stdin
	session.Stdout = stream.Stdout
	session.Stderr = stream.Stderr

	if stream.TTY {
		if err := session.RequestPty("xterm", 40, 120, ssh.TerminalModes{}); err != nil {
			return 0, errors.Transient(err, "slurm: request pty")
		}
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()

	run := fmt.Sprintf("srun --overlap --jobid=$(squeue --noheader --name=%s --format=%%A | head -1) %s", m.jobName(job), strings.Join(command, " "))

	if err := session.Run(run); err != nil {
		var exit *ssh.ExitError
		if stderrors.As(err, &exit) {
			return exit.ExitStatus(), nil
		}

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		return 0, errors.Transient(err, "slurm: exec against %q", job.GetName())
	}

	return 0, nil
}

// Services and links have no Slurm-native equivalent; the mesh only
// fronts container orchestrators.
func (m *Manager) SubmitService(ctx context.Context, service *v1alpha1.Service) error {
	return errors.Unsupported("slurm: services are not supported")
}

func (m *Manager) DeleteService(ctx context.Context, service *v1alpha1.Service) error {
	return errors.Unsupported("slurm: services are not supported")
}

func (m *Manager) ListServices(ctx context.Context) ([]string, error) {
	return nil, errors.Unsupported("slurm: services are not supported")
}

func (m *Manager) CreateLink(ctx context.Context, link *v1alpha1.Link) error {
	return errors.Unsupported("slurm: links are not supported")
}

func (m *Manager) DeleteLink(ctx context.Context, link *v1alpha1.Link) error {
	return errors.Unsupported("slurm: links are not supported")
}

func (m *Manager) ExposeService(ctx context.Context, service *v1alpha1.Service) error {
	return errors.Unsupported("slurm: service export is not supported")
}

func (m *Manager) ImportService(ctx context.Context, service *v1alpha1.Service) error {
	return errors.Unsupported("slurm: service import is not supported")
}

// Close drops the SSH connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	err := m.client.Close()
	m.client = nil

	return err
}
