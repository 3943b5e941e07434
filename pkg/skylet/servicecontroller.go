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

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

// serviceController reconciles the backend's materialized services
// against the store: services homed on this cluster that the backend
// lacks are submitted, and backend services whose object is gone are
// deleted. The diff against ListServices is what makes the loop
// idempotent.
type serviceController struct {
	skylet *Skylet
}

// servicesOnCluster lists store services homed on this cluster.
func (c *serviceController) servicesOnCluster(ctx context.Context) ([]*v1alpha1.Service, error) {
	objs, err := c.skylet.store.List(ctx, v1alpha1.KindService, "")
	if err != nil {
		return nil, err
	}

	services := make([]*v1alpha1.Service, 0, len(objs))

	for _, obj := range objs {
		service := obj.(*v1alpha1.Service)

		if service.Spec.PrimaryCluster != c.skylet.clusterName {
			continue
		}

		services = append(services, service)
	}

	return services, nil
}

func (c *serviceController) reconcile(ctx context.Context) error {
	s := c.skylet

	desired, err := c.servicesOnCluster(ctx)
	if err != nil {
		return err
	}

	materialized, err := s.manager.ListServices(ctx)
	if err != nil {
		if errors.Is(err, errors.KindUnsupported) {
			// A backend without service support has nothing to
			// reconcile.
			return nil
		}

		return err
	}

	have := map[string]struct{}{}
	for _, name := range materialized {
		have[name] = struct{}{}
	}

	logger := log.FromContext(ctx)

	want := map[string]*v1alpha1.Service{}

	for _, service := range desired {
		if service.Meta.DeletionTimestamp != nil {
			continue
		}

		want[service.GetName()] = service
	}

	for name, service := range want {
		if _, ok := have[name]; ok {
			continue
		}

		if err := s.manager.SubmitService(ctx, service); err != nil && !errors.Is(err, errors.KindAlreadyExists) {
			if ctx.Err() != nil {
				return nil
			}

			logger.Error(err, "service submit failed", "name", name)
		}
	}

	for _, name := range materialized {
		if _, ok := want[name]; ok {
			continue
		}

		orphan := &v1alpha1.Service{Meta: v1alpha1.ObjectMeta{Name: name}}

		if err := s.manager.DeleteService(ctx, orphan); err != nil && !errors.Is(err, errors.KindNotFound) {
			if ctx.Err() != nil {
				return nil
			}

			logger.Error(err, "service delete failed", "name", name)
		}
	}

	return nil
}
