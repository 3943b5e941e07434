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

package codec

import (
	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/errors"
)

func defaultCluster(obj v1alpha1.Object) {
	c := obj.(*v1alpha1.Cluster)
	if c.Status.Phase == "" {
		c.Status.Phase = v1alpha1.ClusterPhaseInit
	}
}

func validateCluster(obj v1alpha1.Object) error {
	c := obj.(*v1alpha1.Cluster)

	switch c.Spec.Manager {
	case v1alpha1.ClusterManagerKubernetes, v1alpha1.ClusterManagerSlurm, v1alpha1.ClusterManagerRay:
	default:
		return errors.InvalidObject("cluster %q: unknown manager %q", c.Meta.Name, c.Spec.Manager)
	}

	for name, qty := range c.Spec.Resources {
		if qty < 0 {
			return errors.InvalidObject("cluster %q: resource %q must be >= 0", c.Meta.Name, name)
		}
	}

	if c.Spec.NumNodes < 0 {
		return errors.InvalidObject("cluster %q: numNodes must be >= 0", c.Meta.Name)
	}

	return nil
}

func defaultJob(obj v1alpha1.Object) {
	j := obj.(*v1alpha1.Job)
	if j.Spec.RestartPolicy == "" {
		j.Spec.RestartPolicy = v1alpha1.RestartPolicyAlways
	}

	if j.Status.Phase == "" {
		j.Status.Phase = v1alpha1.JobPhaseInit
	}
}

func validateJob(obj v1alpha1.Object) error {
	j := obj.(*v1alpha1.Job)

	if j.Spec.Replicas < 0 {
		return errors.InvalidObject("job %q: replicas must be >= 0", j.Meta.Name)
	}

	if j.Spec.Image == "" {
		return errors.InvalidObject("job %q: image is required", j.Meta.Name)
	}

	for name, qty := range j.Spec.Resources {
		if qty < 0 {
			return errors.InvalidObject("job %q: resource %q must be >= 0", j.Meta.Name, name)
		}
	}

	switch j.Spec.RestartPolicy {
	case v1alpha1.RestartPolicyAlways, v1alpha1.RestartPolicyNever, v1alpha1.RestartPolicyOnFailure:
	default:
		return errors.InvalidObject("job %q: unknown restartPolicy %q", j.Meta.Name, j.Spec.RestartPolicy)
	}

	for _, f := range j.Spec.Placement.Filters {
		if f.LabelSelector != nil {
			for _, expr := range f.LabelSelector.MatchExpressions {
				switch expr.Operator {
				case v1alpha1.LabelSelectorOpIn, v1alpha1.LabelSelectorOpNotIn:
				default:
					return errors.InvalidObject("job %q: unknown match expression operator %q", j.Meta.Name, expr.Operator)
				}
			}
		}
	}

	return nil
}

func defaultService(obj v1alpha1.Object) {
	s := obj.(*v1alpha1.Service)
	if s.Spec.Type == "" {
		s.Spec.Type = v1alpha1.ServiceTypeClusterIP
	}

	if s.Spec.PrimaryCluster == "" {
		s.Spec.PrimaryCluster = "auto"
	}
}

func validateService(obj v1alpha1.Object) error {
	s := obj.(*v1alpha1.Service)

	switch s.Spec.Type {
	case v1alpha1.ServiceTypeClusterIP, v1alpha1.ServiceTypeNodePort, v1alpha1.ServiceTypeLoadBalancer, v1alpha1.ServiceTypeExternalName:
	default:
		return errors.InvalidObject("service %q: unknown type %q", s.Meta.Name, s.Spec.Type)
	}

	for _, p := range s.Spec.Ports {
		if p.NodePort != 0 && s.Spec.Type != v1alpha1.ServiceTypeNodePort {
			return errors.InvalidObject("service %q: nodePort only valid with type NodePort", s.Meta.Name)
		}
	}

	return nil
}

func validateEndpoints(obj v1alpha1.Object) error {
	e := obj.(*v1alpha1.Endpoints)

	if e.Spec.ServiceName == "" {
		return errors.InvalidObject("endpoints %q: serviceName is required", e.Meta.Name)
	}

	for _, r := range e.Spec.Records {
		if r.NumEndpoints < 0 {
			return errors.InvalidObject("endpoints %q: numEndpoints must be >= 0 for cluster %q", e.Meta.Name, r.Cluster)
		}
	}

	return nil
}

func validateLink(obj v1alpha1.Object) error {
	l := obj.(*v1alpha1.Link)

	if l.Spec.Source == "" || l.Spec.Target == "" {
		return errors.InvalidObject("link %q: source and target are required", l.Meta.Name)
	}

	if l.Spec.Source == l.Spec.Target {
		return errors.InvalidObject("link %q: source and target must differ", l.Meta.Name)
	}

	return nil
}

func defaultFilterPolicy(obj v1alpha1.Object) {
	_ = obj.(*v1alpha1.FilterPolicy)
}

func validateFilterPolicy(obj v1alpha1.Object) error {
	_ = obj.(*v1alpha1.FilterPolicy)
	return nil
}

func defaultNamespace(obj v1alpha1.Object) {
	n := obj.(*v1alpha1.Namespace)
	if n.Status.Phase == "" {
		n.Status.Phase = v1alpha1.NamespacePhaseActive
	}
}

func validateNamespace(obj v1alpha1.Object) error {
	_ = obj.(*v1alpha1.Namespace)
	return nil
}

func validateRole(obj v1alpha1.Object) error {
	r := obj.(*v1alpha1.Role)

	for _, rule := range r.Spec.Rules {
		if len(rule.Resources) == 0 {
			return errors.InvalidObject("role %q: rule must name at least one resource", r.Meta.Name)
		}

		if len(rule.Actions) == 0 {
			return errors.InvalidObject("role %q: rule must grant at least one action", r.Meta.Name)
		}
	}

	return nil
}

func validateInvite(obj v1alpha1.Object) error {
	i := obj.(*v1alpha1.Invite)

	if i.Spec.Subject == "" {
		return errors.InvalidObject("invite %q: subject is required", i.Meta.Name)
	}

	return nil
}

func validateUser(obj v1alpha1.Object) error {
	u := obj.(*v1alpha1.User)

	if u.Spec.Username == "" {
		return errors.InvalidObject("user %q: username is required", u.Meta.Name)
	}

	return nil
}
