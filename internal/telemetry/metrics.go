// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments reported by the queues, worker
// pool, indexer and query pipeline (C12).
type Metrics struct {
	registry *prometheus.Registry

	DocsInIndexing    prometheus.Gauge
	DocsLeftToIndex   prometheus.Gauge
	TasksAcked        prometheus.Counter
	TasksNacked       prometheus.Counter
	TasksDeadLettered prometheus.Counter

	DocumentsIndexed   prometheus.Counter
	DocumentsReindexed prometheus.Counter
	IndexRebuildSecs   prometheus.Histogram

	SearchRequests    prometheus.Counter
	SearchLatencySecs prometheus.Histogram
}

// NewMetrics builds a Metrics instance registered against a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		DocsInIndexing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "docs_in_indexing",
			Help: "Number of documents currently queued for indexing (IndexQ depth).",
		}),
		DocsLeftToIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "docs_left_to_index",
			Help: "Number of crawl tasks pending (TaskQ depth).",
		}),
		TasksAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_acked_total",
			Help: "Total TaskQ items acknowledged on success.",
		}),
		TasksNacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_nacked_total",
			Help: "Total TaskQ items returned for redelivery after a failed attempt.",
		}),
		TasksDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_dead_lettered_total",
			Help: "Total TaskQ items moved to the dead-letter region after exhausting retries.",
		}),
		DocumentsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "documents_indexed_total",
			Help: "Total documents newly inserted by the indexer.",
		}),
		DocumentsReindexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "documents_reindexed_total",
			Help: "Total documents replaced (same source_id, external_id) by the indexer.",
		}),
		IndexRebuildSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "index_rebuild_seconds",
			Help:    "Time spent rebuilding the lexical index from the store.",
			Buckets: prometheus.DefBuckets,
		}),
		SearchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "search_requests_total",
			Help: "Total search queries served.",
		}),
		SearchLatencySecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "search_latency_seconds",
			Help:    "End-to-end query pipeline latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.DocsInIndexing, m.DocsLeftToIndex,
		m.TasksAcked, m.TasksNacked, m.TasksDeadLettered,
		m.DocumentsIndexed, m.DocumentsReindexed, m.IndexRebuildSecs,
		m.SearchRequests, m.SearchLatencySecs,
	)

	return m
}

// Handler returns an http.Handler exposing these metrics in the Prometheus
// exposition format, for mounting under e.g. /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
