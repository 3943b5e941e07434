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

// Package kubernetes implements the compatibility layer against a
// Kubernetes cluster. Jobs render as Deployments (replicas > 1 with
// restart policy Always), bare Pods, or batch Jobs; services map 1:1;
// link operations call out to an external mesh controller when one is
// configured.
package kubernetes

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/utils/exec"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/compat"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// JobLabel marks every resource this backend renders with the SkyShift
// job that owns it, and is the selector every job operation uses.
const JobLabel = "skyshift.sh/job"

// accessConfigMeshEndpoint optionally names the external mesh
// controller's HTTP endpoint in the Cluster's accessConfig; link
// operations are Unsupported without it.
const accessConfigMeshEndpoint = "mesh-endpoint"

// Manager implements compat.ClusterManager against one Kubernetes
// cluster.
type Manager struct {
	clientset    kubernetes.Interface
	restConfig   *rest.Config
	meshEndpoint string
	meshClient   *http.Client
}

// New connects to the cluster identified by cluster.Spec.ConfigPath (a
// kubeconfig), falling back to in-cluster credentials when unset.
func New(cluster *v1alpha1.Cluster) (compat.ClusterManager, error) {
	var (
		config *rest.Config
		err    error
	)

	if cluster.Spec.ConfigPath != "" {
		config, err = clientcmd.BuildConfigFromFlags("", cluster.Spec.ConfigPath)
	} else {
		config, err = rest.InClusterConfig()
	}

	if err != nil {
		return nil, errors.Transient(err, "kubernetes: load config for cluster %q", cluster.GetName())
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, errors.Transient(err, "kubernetes: build clientset for cluster %q", cluster.GetName())
	}

	return &Manager{
		clientset:    clientset,
		restConfig:   config,
		meshEndpoint: cluster.Spec.AccessConfig[accessConfigMeshEndpoint],
		meshClient:   &http.Client{},
	}, nil
}

// NewWithClientset wires an existing clientset in, used by tests.
func NewWithClientset(clientset kubernetes.Interface) *Manager {
	return &Manager{clientset: clientset, meshClient: &http.Client{}}
}

// cpuQuantity converts a Kubernetes CPU quantity to SkyShift's unit-less
// core count; memoryQuantity converts bytes to MiB, the unit every
// backend accounts memory in.
func cpuQuantity(q resource.Quantity) float64 {
	return q.AsApproximateFloat64()
}

func memoryQuantity(q resource.Quantity) float64 {
	return q.AsApproximateFloat64() / (1 << 20)
}

const gpuResourceName = "nvidia.com/gpu"

func nodeResources(list corev1.ResourceList) v1alpha1.ResourceList {
	out := v1alpha1.ResourceList{
		v1alpha1.ResourceCPU:    cpuQuantity(*list.Cpu()),
		v1alpha1.ResourceMemory: memoryQuantity(*list.Memory()),
	}

	if gpu, ok := list[gpuResourceName]; ok {
		out[v1alpha1.ResourceGPU] = gpu.AsApproximateFloat64()
	}

	return out
}

// Describe derives allocatable from each node's reported allocatable
// minus the requests of every non-terminal pod scheduled to it.
func (m *Manager) Describe(ctx context.Context) (*compat.ClusterState, error) {
	nodes, err := m.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Transient(err, "kubernetes: list nodes")
	}

	pods, err := m.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Transient(err, "kubernetes: list pods")
	}

	state := &compat.ClusterState{
		Capacity:     v1alpha1.NodeResourceList{},
		Allocatable:  v1alpha1.NodeResourceList{},
		Accelerators: v1alpha1.ResourceList{},
		NodeLabels:   map[string]map[string]string{},
	}

	for _, node := range nodes.Items {
		state.Capacity[node.Name] = nodeResources(node.Status.Capacity)
		state.Allocatable[node.Name] = nodeResources(node.Status.Allocatable)
		state.NodeLabels[node.Name] = node.Labels

		if gpu, ok := node.Status.Capacity[gpuResourceName]; ok {
			state.Accelerators[v1alpha1.ResourceGPU] += gpu.AsApproximateFloat64()
		}
	}

	for i := range pods.Items {
		pod := &pods.Items[i]

		if pod.Spec.NodeName == "" || podTerminal(pod) {
			continue
		}

		allocatable, ok := state.Allocatable[pod.Spec.NodeName]
		if !ok {
			continue
		}

		for _, container := range pod.Spec.Containers {
			requests := container.Resources.Requests

			allocatable[v1alpha1.ResourceCPU] -= cpuQuantity(*requests.Cpu())
			allocatable[v1alpha1.ResourceMemory] -= memoryQuantity(*requests.Memory())

			if gpu, ok := requests[gpuResourceName]; ok {
				allocatable[v1alpha1.ResourceGPU] -= gpu.AsApproximateFloat64()
			}
		}
	}

	// Clamp: a node overcommitted by burstable pods must not report
	// negative allocatable, which would wedge the scheduler's arithmetic.
	for _, node := range state.Allocatable {
		for name, quantity := range node {
			if quantity < 0 {
				node[name] = 0
			}
		}
	}

	return state, nil
}

func podTerminal(pod *corev1.Pod) bool {
	return pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed
}

func jobResourceRequirements(job *v1alpha1.Job) corev1.ResourceList {
	requests := corev1.ResourceList{}

	if cpus := job.Spec.Resources[v1alpha1.ResourceCPU]; cpus > 0 {
		requests[corev1.ResourceCPU] = *resource.NewMilliQuantity(int64(cpus*1000), resource.DecimalSI)
	}

	if memory := job.Spec.Resources[v1alpha1.ResourceMemory]; memory > 0 {
		requests[corev1.ResourceMemory] = *resource.NewQuantity(int64(memory)*(1<<20), resource.BinarySI)
	}

	if gpus := job.Spec.Resources[v1alpha1.ResourceGPU]; gpus > 0 {
		requests[gpuResourceName] = *resource.NewQuantity(int64(gpus), resource.DecimalSI)
	}

	return requests
}

func podTemplate(job *v1alpha1.Job, restartPolicy corev1.RestartPolicy) corev1.PodTemplateSpec {
	envs := make([]corev1.EnvVar, 0, len(job.Spec.Envs))
	for name, value := range job.Spec.Envs {
		envs = append(envs, corev1.EnvVar{Name: name, Value: value})
	}

	ports := make([]corev1.ContainerPort, 0, len(job.Spec.Ports))
	for _, p := range job.Spec.Ports {
		ports = append(ports, corev1.ContainerPort{
			Name:          p.Name,
			ContainerPort: p.ContainerPort,
			Protocol:      corev1.Protocol(p.Protocol),
		})
	}

	mounts := make([]corev1.VolumeMount, 0, len(job.Spec.Volumes))
	volumes := make([]corev1.Volume, 0, len(job.Spec.Volumes))

	for _, v := range job.Spec.Volumes {
		mounts = append(mounts, corev1.VolumeMount{Name: v.Name, MountPath: v.MountPath})
		volumes = append(volumes, corev1.Volume{
			Name: v.Name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: v.HostPath},
			},
		})
	}

	requests := jobResourceRequirements(job)

	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels: map[string]string{JobLabel: job.GetName()},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: restartPolicy,
			Containers: []corev1.Container{
				{
					Name:            job.GetName(),
					Image:           job.Spec.Image,
					ImagePullPolicy: corev1.PullPolicy(job.Spec.ImagePullPolicy),
					Command:         job.Spec.Run,
					Env:             envs,
					Ports:           ports,
					VolumeMounts:    mounts,
					Resources: corev1.ResourceRequirements{
						Requests: requests,
						Limits:   requests,
					},
				},
			},
			Volumes: volumes,
		},
	}
}

// SubmitJob renders a Deployment when the slice has more than one replica
// and restart policy Always, a bare Pod for a single always-restarting
// replica, and a batch Job otherwise.
func (m *Manager) SubmitJob(ctx context.Context, job *v1alpha1.Job, replicas int) (string, error) {
	namespace := job.GetNamespace()

	switch {
	case job.Spec.RestartPolicy == v1alpha1.RestartPolicyAlways && replicas > 1:
		count := int32(replicas)

		deployment := &appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{
				Name:      job.GetName(),
				Namespace: namespace,
				Labels:    map[string]string{JobLabel: job.GetName()},
			},
			Spec: appsv1.DeploymentSpec{
				Replicas: &count,
				Selector: &metav1.LabelSelector{
					MatchLabels: map[string]string{JobLabel: job.GetName()},
				},
				Template: podTemplate(job, corev1.RestartPolicyAlways),
			},
		}

		if _, err := m.clientset.AppsV1().Deployments(namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
			return "", submitError(err, job)
		}

		return "deployment/" + job.GetName(), nil

	case job.Spec.RestartPolicy == v1alpha1.RestartPolicyAlways:
		template := podTemplate(job, corev1.RestartPolicyAlways)

		pod := &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name:      job.GetName(),
				Namespace: namespace,
				Labels:    template.Labels,
			},
			Spec: template.Spec,
		}

		if _, err := m.clientset.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
			return "", submitError(err, job)
		}

		return "pod/" + job.GetName(), nil

	default:
		count := int32(replicas)

		restartPolicy := corev1.RestartPolicyNever
		if job.Spec.RestartPolicy == v1alpha1.RestartPolicyOnFailure {
			restartPolicy = corev1.RestartPolicyOnFailure
		}

		batchJob := &batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{
				Name:      job.GetName(),
				Namespace: namespace,
				Labels:    map[string]string{JobLabel: job.GetName()},
			},
			Spec: batchv1.JobSpec{
				Parallelism: &count,
				Completions: &count,
				Template:    podTemplate(job, restartPolicy),
			},
		}

		if _, err := m.clientset.BatchV1().Jobs(namespace).Create(ctx, batchJob, metav1.CreateOptions{}); err != nil {
			return "", submitError(err, job)
		}

		return "job/" + job.GetName(), nil
	}
}

func submitError(err error, job *v1alpha1.Job) error {
	if apierrors.IsAlreadyExists(err) {
		return errors.AlreadyExists("kubernetes: job %q already submitted", job.GetName())
	}

	return errors.Transient(err, "kubernetes: submit job %q", job.GetName())
}

// DeleteJob removes whichever workload resource SubmitJob rendered,
// tolerating NotFound so deletion is idempotent.
func (m *Manager) DeleteJob(ctx context.Context, job *v1alpha1.Job) error {
	namespace := job.GetNamespace()
	name := job.GetName()

	propagation := metav1.DeletePropagationForeground
	options := metav1.DeleteOptions{PropagationPolicy: &propagation}

	if err := m.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, options); err != nil && !apierrors.IsNotFound(err) {
		return errors.Transient(err, "kubernetes: delete deployment %q", name)
	}

	if err := m.clientset.BatchV1().Jobs(namespace).Delete(ctx, name, options); err != nil && !apierrors.IsNotFound(err) {
		return errors.Transient(err, "kubernetes: delete job %q", name)
	}

	if err := m.clientset.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return errors.Transient(err, "kubernetes: delete pod %q", name)
	}

	return nil
}

func (m *Manager) jobPods(ctx context.Context, job *v1alpha1.Job) ([]corev1.Pod, error) {
	pods, err := m.clientset.CoreV1().Pods(job.GetNamespace()).List(ctx, metav1.ListOptions{
		LabelSelector: JobLabel + "=" + job.GetName(),
	})
	if err != nil {
		return nil, errors.Transient(err, "kubernetes: list pods for job %q", job.GetName())
	}

	return pods.Items, nil
}

// PollJob maps pod phases onto SkyShift replica states.
func (m *Manager) PollJob(ctx context.Context, job *v1alpha1.Job) (v1alpha1.ReplicaStatusCounts, error) {
	pods, err := m.jobPods(ctx, job)
	if err != nil {
		return nil, err
	}

	counts := v1alpha1.ReplicaStatusCounts{}

	for i := range pods {
		switch pods[i].Status.Phase {
		case corev1.PodPending:
			counts[v1alpha1.ReplicaStatePending]++
		case corev1.PodRunning:
			counts[v1alpha1.ReplicaStateRunning]++
		case corev1.PodSucceeded:
			counts[v1alpha1.ReplicaStateCompleted]++
		case corev1.PodFailed:
			counts[v1alpha1.ReplicaStateFailed]++
		default:
			counts[v1alpha1.ReplicaStateInit]++
		}
	}

	return counts, nil
}

// Logs follows the first replica's log stream.
func (m *Manager) Logs(ctx context.Context, job *v1alpha1.Job, w io.Writer) error {
	pods, err := m.jobPods(ctx, job)
	if err != nil {
		return err
	}

	if len(pods) == 0 {
		return errors.NotFound("kubernetes: no replicas found for job %q", job.GetName())
	}

	request := m.clientset.CoreV1().Pods(job.GetNamespace()).GetLogs(pods[0].Name, &corev1.PodLogOptions{Follow: true})

	stream, err := request.Stream(ctx)
	if err != nil {
		return errors.Transient(err, "kubernetes: open log stream for job %q", job.GetName())
	}

	defer stream.Close()

	_, err = io.Copy(w, stream)

	return err
}

// Exec attaches command to the first replica via the Kubernetes exec
// subresource. The exit code is recovered from the terminal CodeExitError
// remotecommand surfaces.
func (m *Manager) Exec(ctx context.Context, job *v1alpha1.Job, command []string, stream *compat.ExecStream) (int, error) {
	if m.restConfig == nil {
		return 0, errors.Unsupported("kubernetes: exec requires a rest config")
	}

	pods, err := m.jobPods(ctx, job)
	if err != nil {
		return 0, err
	}

	if len(pods) == 0 {
		return 0, errors.NotFound("kubernetes: no replicas found for job %q", job.GetName())
	}

	request := m.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(job.GetNamespace()).
		Name(pods[0].Name).
		SubResource("exec").
		Param("container", job.GetName()).
		Param("stdout", "true").
		Param("stderr", "true")

	if stream.Stdin != nil {
		request = request.Param("stdin", "true")
	}

	if stream.TTY {
		request = request.Param("tty", "true")
	}

	for _, arg := range command {
		request = request.Param("command", arg)
	}

	executor, err := remotecommand.NewSPDYExecutor(m.restConfig, http.MethodPost, request.URL())
	if err != nil {
		return 0, errors.Transient(err, "kubernetes: create executor for job %q", job.GetName())
	}

	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stream.Stdin,
		Stdout: stream.Stdout,
		Stderr: stream.Stderr,
		Tty:    stream.TTY,
	})
	if err != nil {
		var exit utilexec.CodeExitError
		if stderrors.As(err, &exit) {
			return exit.Code, nil
		}

		return 0, errors.Transient(err, "kubernetes: exec against job %q", job.GetName())
	}

	return 0, nil
}

// SubmitService maps the Service 1:1 onto a Kubernetes Service.
func (m *Manager) SubmitService(ctx context.Context, service *v1alpha1.Service) error {
	ports := make([]corev1.ServicePort, 0, len(service.Spec.Ports))

	for i, p := range service.Spec.Ports {
		ports = append(ports, corev1.ServicePort{
			Name:       fmt.Sprintf("port-%d", i),
			Protocol:   corev1.Protocol(p.Protocol),
			Port:       p.Port,
			TargetPort: intstr.FromInt(int(p.TargetPort)),
			NodePort:   p.NodePort,
		})
	}

	rendered := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      service.GetName(),
			Namespace: service.GetNamespace(),
			Labels:    map[string]string{JobLabel: service.GetName()},
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceType(service.Spec.Type),
			Selector: service.Spec.Selector,
			Ports:    ports,
		},
	}

	if _, err := m.clientset.CoreV1().Services(service.GetNamespace()).Create(ctx, rendered, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return errors.AlreadyExists("kubernetes: service %q already submitted", service.GetName())
		}

		return errors.Transient(err, "kubernetes: submit service %q", service.GetName())
	}

	return nil
}

// DeleteService removes the rendered Service, tolerating NotFound.
func (m *Manager) DeleteService(ctx context.Context, service *v1alpha1.Service) error {
	err := m.clientset.CoreV1().Services(service.GetNamespace()).Delete(ctx, service.GetName(), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.Transient(err, "kubernetes: delete service %q", service.GetName())
	}

	return nil
}

// ListServices lists the services this backend has rendered, identified
// by the JobLabel label.
func (m *Manager) ListServices(ctx context.Context) ([]string, error) {
	services, err := m.clientset.CoreV1().Services(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: JobLabel,
	})
	if err != nil {
		return nil, errors.Transient(err, "kubernetes: list services")
	}

	names := make([]string, 0, len(services.Items))
	for i := range services.Items {
		names = append(names, services.Items[i].Name)
	}

	return names, nil
}

// meshRequest posts a JSON document to the external mesh controller.
func (m *Manager) meshRequest(ctx context.Context, method, path string, body []byte) error {
	if m.meshEndpoint == "" {
		return errors.Unsupported("kubernetes: no mesh controller configured")
	}

	req, err := http.NewRequestWithContext(ctx, method, m.meshEndpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.meshClient.Do(req)
	if err != nil {
		return errors.Transient(err, "kubernetes: mesh controller call %s %s", method, path)
	}

	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Transient(nil, "kubernetes: mesh controller returned %d for %s %s", resp.StatusCode, method, path)
	}

	return nil
}

func (m *Manager) CreateLink(ctx context.Context, link *v1alpha1.Link) error {
	body := fmt.Sprintf(`{"name":%q,"source":%q,"target":%q}`, link.GetName(), link.Spec.Source, link.Spec.Target)
	return m.meshRequest(ctx, http.MethodPost, "/peers", []byte(body))
}

func (m *Manager) DeleteLink(ctx context.Context, link *v1alpha1.Link) error {
	return m.meshRequest(ctx, http.MethodDelete, "/peers/"+link.GetName(), nil)
}

func (m *Manager) ExposeService(ctx context.Context, service *v1alpha1.Service) error {
	body := fmt.Sprintf(`{"name":%q,"namespace":%q}`, service.GetName(), service.GetNamespace())
	return m.meshRequest(ctx, http.MethodPost, "/exports", []byte(body))
}

func (m *Manager) ImportService(ctx context.Context, service *v1alpha1.Service) error {
	body := fmt.Sprintf(`{"name":%q,"namespace":%q}`, service.GetName(), service.GetNamespace())
	return m.meshRequest(ctx, http.MethodPost, "/imports", []byte(body))
}

// Close is a no-op: client-go connections are pooled and reclaimed by the
// transport.
func (m *Manager) Close() error {
	return nil
}
