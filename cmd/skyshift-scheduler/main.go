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
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/skyshift-sh/skyshift/pkg/client"
	"github.com/skyshift-sh/skyshift/pkg/constants"
	"github.com/skyshift-sh/skyshift/pkg/scheduler"
)

func start() error {
	zapOptions := &zap.Options{}
	zapOptions.BindFlags(flag.CommandLine)

	options := &scheduler.Options{}
	options.AddFlags(pflag.CommandLine)

	endpoint := pflag.String("api-endpoint", "http://localhost:6080", "SkyShift API server endpoint.")
	token := pflag.String("api-token", os.Getenv("SKYSHIFT_TOKEN"), "Bearer token for the API server; defaults to $SKYSHIFT_TOKEN.")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	log.SetLogger(zap.New(zap.UseFlagOptions(zapOptions)))

	logger := log.Log.WithName(constants.Application)

	logger.Info("service starting", "application", constants.Application, "version", constants.Version, "revision", constants.Revision)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	s, err := scheduler.New(client.New(*endpoint, *token), nil, options)
	if err != nil {
		return err
	}

	return s.Run(ctx)
}

func main() {
	if err := start(); err != nil {
		log.Log.Error(err, "fatal error")
		os.Exit(1)
	}
}
