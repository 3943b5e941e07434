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

// networkController manages this cluster's side of the mesh: it creates
// and destroys Link peerings involving this cluster, and exports/imports
// services across ACTIVE links. Peerings this controller has established
// are remembered so a Link deleted from the store is torn down on the
// next pass.
type networkController struct {
	skylet *Skylet

	established map[string]*v1alpha1.Link
	exported    map[string]bool
	imported    map[string]bool
}

func (c *networkController) reconcile(ctx context.Context) error {
	if c.established == nil {
		c.established = map[string]*v1alpha1.Link{}
		c.exported = map[string]bool{}
		c.imported = map[string]bool{}
	}

	if err := c.reconcileLinks(ctx); err != nil {
		return err
	}

	return c.reconcileServiceSharing(ctx)
}

// involvesCluster reports whether this Skylet's cluster is one of the
// link's two sides.
func (c *networkController) involvesCluster(link *v1alpha1.Link) bool {
	name := c.skylet.clusterName

	return link.Spec.Source == name || link.Spec.Target == name
}

func (c *networkController) reconcileLinks(ctx context.Context) error {
	s := c.skylet

	objs, err := s.store.List(ctx, v1alpha1.KindLink, "")
	if err != nil {
		return err
	}

	logger := log.FromContext(ctx)

	live := map[string]struct{}{}

	for _, obj := range objs {
		link := obj.(*v1alpha1.Link)

		if !c.involvesCluster(link) {
			continue
		}

		live[link.GetName()] = struct{}{}

		if link.Meta.DeletionTimestamp != nil {
			continue
		}

		if _, ok := c.established[link.GetName()]; ok {
			continue
		}

		if err := s.manager.CreateLink(ctx, link); err != nil {
			if errors.Is(err, errors.KindUnsupported) {
				c.markLinkPhase(ctx, link, v1alpha1.LinkPhaseFailed)
				continue
			}

			if ctx.Err() != nil {
				return nil
			}

			logger.Error(err, "link create failed", "name", link.GetName())

			c.markLinkPhase(ctx, link, v1alpha1.LinkPhaseFailed)

			continue
		}

		c.established[link.GetName()] = link.DeepCopyObject().(*v1alpha1.Link)

		// Only the source side reports ACTIVE, so the two Skylets never
		// race a status write.
		if link.Spec.Source == s.clusterName {
			c.markLinkPhase(ctx, link, v1alpha1.LinkPhaseActive)
		}
	}

	// Links gone from the store are torn down here.
	for name, link := range c.established {
		if _, ok := live[name]; ok {
			continue
		}

		if err := s.manager.DeleteLink(ctx, link); err != nil && !errors.Is(err, errors.KindNotFound) {
			if ctx.Err() != nil {
				return nil
			}

			logger.Error(err, "link delete failed", "name", name)

			continue
		}

		delete(c.established, name)
	}

	return nil
}

// markLinkPhase writes the link phase, skipping the write when it already
// holds and shrugging off conflicts: the poll converges next tick.
func (c *networkController) markLinkPhase(ctx context.Context, link *v1alpha1.Link, phase v1alpha1.LinkPhase) {
	if link.Status.Phase == phase {
		return
	}

	link.Status.Phase = phase

	if err := c.skylet.store.UpdateStatus(ctx, v1alpha1.KindLink, link); err != nil && !errors.Is(err, errors.KindConflict) {
		log.FromContext(ctx).Error(err, "link status write failed", "name", link.GetName())
	}
}

// activePeers returns the set of clusters reachable from here over an
// ACTIVE link.
func (c *networkController) activePeers(ctx context.Context) (map[string]struct{}, error) {
	objs, err := c.skylet.store.List(ctx, v1alpha1.KindLink, "")
	if err != nil {
		return nil, err
	}

	peers := map[string]struct{}{}

	for _, obj := range objs {
		link := obj.(*v1alpha1.Link)

		if !c.involvesCluster(link) || link.Status.Phase != v1alpha1.LinkPhaseActive {
			continue
		}

		if link.Spec.Source == c.skylet.clusterName {
			peers[link.Spec.Target] = struct{}{}
		} else {
			peers[link.Spec.Source] = struct{}{}
		}
	}

	return peers, nil
}

// reconcileServiceSharing exports services homed here to the mesh and
// imports services homed on a reachable peer.
func (c *networkController) reconcileServiceSharing(ctx context.Context) error {
	s := c.skylet

	peers, err := c.activePeers(ctx)
	if err != nil {
		return err
	}

	if len(peers) == 0 {
		return nil
	}

	objs, err := s.store.List(ctx, v1alpha1.KindService, "")
	if err != nil {
		return err
	}

	logger := log.FromContext(ctx)

	for _, obj := range objs {
		service := obj.(*v1alpha1.Service)

		if service.Meta.DeletionTimestamp != nil {
			continue
		}

		key := v1alpha1.Key(service.GetNamespace(), service.GetName())
		primary := service.Spec.PrimaryCluster

		switch {
		case primary == s.clusterName && !c.exported[key]:
			if err := s.manager.ExposeService(ctx, service); err != nil {
				if errors.Is(err, errors.KindUnsupported) {
					continue
				}

				if ctx.Err() != nil {
					return nil
				}

				logger.Error(err, "service export failed", "name", service.GetName())

				continue
			}

			c.exported[key] = true

		case primary != "" && primary != s.clusterName && !c.imported[key]:
			if _, reachable := peers[primary]; !reachable {
				continue
			}

			if err := s.manager.ImportService(ctx, service); err != nil {
				if errors.Is(err, errors.KindUnsupported) {
					continue
				}

				if ctx.Err() != nil {
					return nil
				}

				logger.Error(err, "service import failed", "name", service.GetName())

				continue
			}

			c.imported[key] = true
		}
	}

	return nil
}
