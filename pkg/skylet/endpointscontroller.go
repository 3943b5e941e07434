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

package skylet

import (
	"context"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// endpointsController maintains this cluster's record in each Service's
// Endpoints object: how many replicas of selector-matched jobs are
// actually RUNNING here.
type endpointsController struct {
	skylet *Skylet
}

func (c *endpointsController) reconcile(ctx context.Context) error {
	s := c.skylet

	objs, err := s.store.List(ctx, v1alpha1.KindService, "")
	if err != nil {
		return err
	}

	jobs, err := s.jobsOnCluster(ctx)
	if err != nil {
		return err
	}

	for _, obj := range objs {
		service := obj.(*v1alpha1.Service)

		if service.Meta.DeletionTimestamp != nil {
			continue
		}

		running := runningEndpoints(service, jobs, s.clusterName)

		if err := c.writeRecord(ctx, service, running); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
	}

	return nil
}

// runningEndpoints counts RUNNING replicas on cluster across jobs whose
// labels satisfy the service selector.
func runningEndpoints(service *v1alpha1.Service, jobs []*v1alpha1.Job, cluster string) int {
	if len(service.Spec.Selector) == 0 {
		return 0
	}

	total := 0

	for _, job := range jobs {
		if job.GetNamespace() != service.GetNamespace() {
			continue
		}

		matched := true

		for k, v := range service.Spec.Selector {
			if job.Meta.Labels[k] != v {
				matched = false
				break
			}
		}

		if !matched {
			continue
		}

		total += job.Status.ReplicaStatus[cluster][v1alpha1.ReplicaStateRunning]
	}

	return total
}

// writeRecord upserts this cluster's entry in the service's Endpoints
// object, creating the object on first contribution and skipping the
// write entirely when nothing changed.
func (c *endpointsController) writeRecord(ctx context.Context, service *v1alpha1.Service, running int) error {
	s := c.skylet

	obj, err := s.store.Get(ctx, v1alpha1.KindEndpoints, service.GetNamespace(), service.GetName())
	if err != nil {
		if !errors.Is(err, errors.KindNotFound) {
			return err
		}

		if running == 0 {
			return nil
		}

		endpoints := &v1alpha1.Endpoints{
			Meta: v1alpha1.ObjectMeta{
				Name:      service.GetName(),
				Namespace: service.GetNamespace(),
			},
			Spec: v1alpha1.EndpointsSpec{
				ServiceName: service.GetName(),
				Records: []v1alpha1.EndpointRecord{
					{Cluster: s.clusterName, NumEndpoints: running},
				},
			},
		}

		err := s.store.Create(ctx, v1alpha1.KindEndpoints, endpoints)
		if errors.Is(err, errors.KindAlreadyExists) {
			return nil
		}

		return err
	}

	endpoints := obj.(*v1alpha1.Endpoints)

	records := make([]v1alpha1.EndpointRecord, 0, len(endpoints.Spec.Records))
	changed := false
	found := false

	for _, record := range endpoints.Spec.Records {
		if record.Cluster != s.clusterName {
			records = append(records, record)
			continue
		}

		found = true

		if running == 0 {
			changed = true
			continue
		}

		if record.NumEndpoints != running {
			record.NumEndpoints = running
			changed = true
		}

		records = append(records, record)
	}

	if !found && running > 0 {
		records = append(records, v1alpha1.EndpointRecord{Cluster: s.clusterName, NumEndpoints: running})
		changed = true
	}

	if !changed {
		return nil
	}

	endpoints.Spec.Records = records

	err = s.store.Update(ctx, v1alpha1.KindEndpoints, endpoints)
	if errors.Is(err, errors.KindConflict) {
		return nil
	}

	return err
}
