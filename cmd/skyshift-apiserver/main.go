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

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
	"github.com/skyshift-sh/skyshift/pkg/compat"
	"github.com/skyshift-sh/skyshift/pkg/compat/kubernetes"
	"github.com/skyshift-sh/skyshift/pkg/compat/ray"
	"github.com/skyshift-sh/skyshift/pkg/compat/slurm"
	"github.com/skyshift-sh/skyshift/pkg/constants"
	"github.com/skyshift-sh/skyshift/pkg/kv/memkv"
	"github.com/skyshift-sh/skyshift/pkg/scheduler"
	"github.com/skyshift-sh/skyshift/pkg/server"
	"github.com/skyshift-sh/skyshift/pkg/server/handler"
	"github.com/skyshift-sh/skyshift/pkg/skyletmanager"
	"github.com/skyshift-sh/skyshift/pkg/store"
)

// clusterRegistry adapts the Skylet Manager's lookup to the API
// surface's logs/exec routing.
type clusterRegistry struct {
	manager *skyletmanager.Manager
}

func (r *clusterRegistry) Get(cluster string) (handler.ClusterManager, error) {
	return r.manager.Get(cluster)
}

// backendRegistry wires every shipped compatibility backend.
func backendRegistry() *compat.Registry {
	registry := compat.NewRegistry()
	registry.Register(v1alpha1.ClusterManagerKubernetes, kubernetes.New)
	registry.Register(v1alpha1.ClusterManagerSlurm, slurm.New)
	registry.Register(v1alpha1.ClusterManagerRay, ray.New)

	return registry
}

func start() error {
	s := &server.Server{}
	s.AddFlags(pflag.CommandLine)

	standalone := pflag.Bool("standalone", false, "Run the scheduler and controller manager in process, serving a whole control plane from one binary.")

	schedulerOptions := &scheduler.Options{}
	schedulerOptions.AddFlags(pflag.CommandLine)

	managerOptions := &skyletmanager.Options{}
	managerOptions.AddFlags(pflag.CommandLine)

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	s.SetupLogging()

	logger := log.Log.WithName(constants.Application)

	logger.Info("service starting", "application", constants.Application, "version", constants.Version, "revision", constants.Revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.SetupOpenTelemetry(ctx); err != nil {
		return err
	}

	st := store.New(memkv.New(0))

	httpServer, err := s.GetServer(ctx, st)
	if err != nil {
		return err
	}

	if *standalone {
		sched, err := scheduler.New(st, nil, schedulerOptions)
		if err != nil {
			return err
		}

		go func() {
			if err := sched.Run(ctx); err != nil {
				logger.Error(err, "scheduler stopped")
			}
		}()

		manager := skyletmanager.New(st, backendRegistry(), managerOptions)

		go func() {
			if err := manager.Run(ctx); err != nil {
				logger.Error(err, "skylet manager stopped")
			}
		}()

		s.SetClusterRegistry(&clusterRegistry{manager: manager})
	}

	stop := make(chan os.Signal, 1)

	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-stop

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "server shutdown error")
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func main() {
	if err := start(); err != nil {
		log.Log.Error(err, "fatal error")
		os.Exit(1)
	}
}
