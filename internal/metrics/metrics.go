// Copyright 2025 UMH Systems GmbH
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

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	namespace = "scada"
	subsystem = "core"
)

var (
	RedundancyState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "redundancy_state",
			Help:      "1 for the current redundancy state of this node, 0 otherwise",
		},
		[]string{"driver", "instance", "state"},
	)
	Takeovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "redundancy_takeovers_total",
			Help:      "Number of times this node claimed activation from a silent node",
		},
		[]string{"driver", "instance"},
	)
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_reconnects_total",
			Help:      "Number of store sessions that were discarded and rebuilt",
		},
		[]string{"reason"},
	)
	ChangeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "change_events_total",
			Help:      "Change notifications received per collection",
		},
		[]string{"collection"},
	)
	CommandsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_dispatched_total",
			Help:      "Commands written to their target point and acknowledged",
		},
	)
	CommandsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commands_dropped_total",
			Help:      "Commands that were not dispatched, by reason",
		},
		[]string{"reason"},
	)
	BulkOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bulk_operations_total",
			Help:      "Bulk write operations by outcome",
		},
		[]string{"outcome"},
	)
	SequenceLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingress_sequence_lost_total",
			Help:      "Point updates detected as lost from gaps in cnt",
		},
	)
	QueueOverflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingress_queue_overflows_total",
			Help:      "Times the ingress queue was cleared because it exceeded its maximum",
		},
	)
	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingress_queue_length",
			Help:      "Messages waiting in the ingress queue",
		},
	)
	IngressMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingress_messages_total",
			Help:      "Ingress messages by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)
	ForwardedUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forwarded_updates_total",
			Help:      "Point updates forwarded by kind",
		},
		[]string{"kind"},
	)
	ForwardedPackets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forwarded_packets_total",
			Help:      "Packets sent by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)
)

// InitPrometheus serves /metrics on addr in the background.
func InitPrometheus(addr string) {
	metricsPath := "/metrics"
	zap.S().Debugf("Setting up metrics %s %v", metricsPath, addr)

	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe(addr, mux)
		if err != nil {
			zap.S().Errorf("Error starting metrics: %s", err)
		}
	}()
}
