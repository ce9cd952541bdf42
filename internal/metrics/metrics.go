// Package metrics registers the daemon's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProcessesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "applaude_processes_started_total",
		Help: "Agent processes spawned.",
	})
	ProcessExits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "applaude_process_exits_total",
		Help: "Agent process exits, including spawn failures.",
	})
	ActiveProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "applaude_active_processes",
		Help: "Agent processes currently running.",
	})
	LinesClassified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "applaude_stream_lines_classified_total",
		Help: "Stream lines successfully classified.",
	})
	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "applaude_stream_parse_failures_total",
		Help: "Stream lines dropped as unparseable or unknown.",
	})
	MessagesReduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "applaude_messages_reduced_total",
		Help: "Classified messages folded into session state.",
	})
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "applaude_connected_clients",
		Help: "WebSocket observers currently connected.",
	})
)
