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

package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	v1alpha1 "github.com/skyshift-sh/skyshift/pkg/apis/skyshift/v1alpha1"
)

const metricsNamespace = "skyshift"

// storeMetrics wraps the Prometheus counters the object store exposes:
// one vector counting every operation by kind/op/result, registered once
// per process regardless of how many Store instances are constructed
// (tests build many).
type storeMetrics struct {
	operations *prometheus.CounterVec
}

var (
	registerOnce sync.Once
	operations   *prometheus.CounterVec
)

func newStoreMetrics() *storeMetrics {
	registerOnce.Do(func() {
		operations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Count of object store operations by kind, operation, and result.",
		}, []string{"kind", "op", "result"})

		prometheus.MustRegister(operations)
	})

	return &storeMetrics{operations: operations}
}

func (m *storeMetrics) observeOp(kind v1alpha1.Kind, op, result string) {
	if m == nil || m.operations == nil {
		return
	}

	m.operations.WithLabelValues(string(kind), op, result).Inc()
}
