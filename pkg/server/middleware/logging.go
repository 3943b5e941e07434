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

package middleware

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// loggingResponseWriter lets logging middleware read back the status code
// a handler wrote.
type loggingResponseWriter struct {
	next http.ResponseWriter
	code int
}

var _ http.ResponseWriter = &loggingResponseWriter{}

func (w *loggingResponseWriter) Header() http.Header { return w.next.Header() }

func (w *loggingResponseWriter) Write(body []byte) (int, error) { return w.next.Write(body) }

func (w *loggingResponseWriter) WriteHeader(statusCode int) {
	w.code = statusCode
	w.next.WriteHeader(statusCode)
}

func (w *loggingResponseWriter) StatusCode() int {
	if w.code == 0 {
		return http.StatusOK
	}

	return w.code
}

func logValuesFromSpanContext(s trace.SpanContext) []interface{} {
	return []interface{}{
		"span.id", s.SpanID().String(),
		"trace.id", s.TraceID().String(),
	}
}

// LoggingSpanProcessor is an OpenTelemetry span processor that logs
// request spans to the configured logr.Logger, used in place of shipping
// to a real collector when no OTLP endpoint is configured.
type LoggingSpanProcessor struct{}

var _ sdktrace.SpanProcessor = &LoggingSpanProcessor{}

func (*LoggingSpanProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	attributes := logValuesFromSpanContext(s.SpanContext())

	for _, attr := range s.Attributes() {
		attributes = append(attributes, string(attr.Key), attr.Value.Emit())
	}

	log.Log.Info("request started", attributes...)
}

func (*LoggingSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	attributes := logValuesFromSpanContext(s.SpanContext())

	for _, attr := range s.Attributes() {
		attributes = append(attributes, string(attr.Key), attr.Value.Emit())
	}

	log.Log.Info("request completed", attributes...)
}

func (*LoggingSpanProcessor) Shutdown(context.Context) error { return nil }

func (*LoggingSpanProcessor) ForceFlush(context.Context) error { return nil }

// Logger returns chi-style middleware that starts a span per request
// (processed by whatever span processor the caller registered on the
// global TracerProvider via server.SetupOpenTelemetry) and attaches a
// logr.Logger carrying the span's trace/span IDs to the request context.
func Logger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tracer := otel.Tracer("root")

			ctx, span := tracer.Start(r.Context(), r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			)

			ctx = log.IntoContext(ctx, log.Log.WithValues(logValuesFromSpanContext(span.SpanContext())...))

			writer := &loggingResponseWriter{next: w}

			next.ServeHTTP(writer, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", writer.StatusCode()))
		})
	}
}
