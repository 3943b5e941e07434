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

package server

import (
	"context"
	"flag"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/trace"

	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/skyshift-sh/skyshift/pkg/server/authorization"
	"github.com/skyshift-sh/skyshift/pkg/server/handler"
	"github.com/skyshift-sh/skyshift/pkg/server/middleware"
)

// Server wires the object store up to an HTTP listener implementing the
// API surface.
type Server struct {
	// Options are server specific options e.g. listener address etc.
	Options Options

	// ZapOptions configure logging.
	ZapOptions zap.Options

	// HandlerOptions sets options for the HTTP handler.
	HandlerOptions handler.Options

	// JWTOptions sets options for the bearer token issuer.
	JWTOptions authorization.JWTIssuer

	// handler is retained by GetServer so a standalone deployment can
	// wire a cluster registry in after the controller manager starts.
	handler *handler.Handler
}

// SetClusterRegistry routes the logs/exec side paths to registry; only
// meaningful for standalone deployments that host the Skylets in
// process. GetServer must have been called first.
func (s *Server) SetClusterRegistry(registry handler.ClusterRegistry) {
	s.handler.SetClusterRegistry(registry)
}

func (s *Server) AddFlags(flags *pflag.FlagSet) {
	s.Options.AddFlags(pflag.CommandLine)
	s.ZapOptions.BindFlags(flag.CommandLine)
	s.HandlerOptions.AddFlags(pflag.CommandLine)
	s.JWTOptions.AddFlags(pflag.CommandLine)
}

func (s *Server) SetupLogging() {
	log.SetLogger(zap.New(zap.UseFlagOptions(&s.ZapOptions)))
}

// SetupOpenTelemetry adds a span processor that will print root spans to the
// logs by default, and optionally ship the spans to an OTLP listener.
func (s *Server) SetupOpenTelemetry(ctx context.Context) error {
	otel.SetLogger(log.Log)

	opts := []trace.TracerProviderOption{
		trace.WithSpanProcessor(&middleware.LoggingSpanProcessor{}),
	}

	if s.Options.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(s.Options.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return err
		}

		opts = append(opts, trace.WithBatcher(exporter))
	}

	otel.SetTracerProvider(trace.NewTracerProvider(opts...))

	return nil
}

// GetServer builds the http.Server serving the API surface over st, after
// bootstrapping the admin role if the store is empty.
func (s *Server) GetServer(ctx context.Context, st handler.Store) (*http.Server, error) {
	h := handler.New(st, &s.JWTOptions, &s.HandlerOptions)

	if err := h.Bootstrap(ctx); err != nil {
		return nil, err
	}

	s.handler = h

	router := chi.NewRouter()
	router.Use(middleware.Logger())
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(s.Options.RequestTimeout))
	router.Mount("/", h.Router())

	server := &http.Server{
		Addr:              s.Options.ListenAddress,
		ReadTimeout:       s.Options.ReadTimeout,
		ReadHeaderTimeout: s.Options.ReadHeaderTimeout,
		WriteTimeout:      s.Options.WriteTimeout,
		Handler:           router,
	}

	return server, nil
}
