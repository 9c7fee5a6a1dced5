// Copyright 2018-2019 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package metrics exposes prometheus counters and histograms for the
// lifecycle coordinator and scheduler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OperationsTotal counts every coordinator operation by name and
// outcome ("ok", "error").
var OperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "assetmanager_coordinator_operations_total",
		Help: "Total lifecycle coordinator operations by name and outcome.",
	},
	[]string{"operation", "outcome"},
)

// OperationDuration tracks coordinator operation latency.
var OperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "assetmanager_coordinator_operation_duration_seconds",
		Help:    "Latency of lifecycle coordinator operations.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	},
	[]string{"operation"},
)

// VectorMirrorFailuresTotal counts non-fatal vector mirror failures by
// operation, so the dashboards surface degraded search freshness
// without the coordinator itself ever failing on them.
var VectorMirrorFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "assetmanager_vector_mirror_failures_total",
		Help: "Non-fatal vector mirror failures by operation.",
	},
	[]string{"operation"},
)

// SchedulerRunsTotal counts scheduler job runs by job name and outcome.
var SchedulerRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "assetmanager_scheduler_runs_total",
		Help: "Total scheduler job runs by job and outcome.",
	},
	[]string{"job", "outcome"},
)

// SchedulerAssetsProcessed counts assets transitioned per scheduler run.
var SchedulerAssetsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "assetmanager_scheduler_assets_processed_total",
		Help: "Assets transitioned by a scheduler job.",
	},
	[]string{"job"},
)

func init() {
	prometheus.MustRegister(OperationsTotal, OperationDuration, VectorMirrorFailuresTotal, SchedulerRunsTotal, SchedulerAssetsProcessed)
}

// Handler serves the registered collectors on the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observe records one coordinator operation's outcome and latency.
// Call it from a thin public wrapper after the private implementation
// returns, passing a pointer to its error result:
//
//	func (c *Coordinator) Upload(...) (*T, error) {
//	    start := time.Now()
//	    result, err := c.upload(...)
//	    metrics.Observe("upload", start, &err)
//	    return result, err
//	}
func Observe(operation string, start time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = "error"
	}
	OperationsTotal.WithLabelValues(operation, outcome).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
