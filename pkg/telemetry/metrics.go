// Package telemetry holds the process-wide prometheus metrics and a small
// step tracer for hot paths.
package telemetry

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_gateway_connections",
		Help: "Open gateway connections.",
	})

	Rooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_gateway_rooms",
		Help: "Rooms with at least one member.",
	})

	EventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_events_emitted_total",
		Help: "Domain events fanned out, by type.",
	}, []string{"type"})

	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_frames_dropped_total",
		Help: "Frames dropped because a connection's send buffer was full.",
	})

	Commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_commands_total",
		Help: "Client commands handled, by type and result code.",
	}, []string{"type", "result"})

	MessagesCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_committed_total",
		Help: "Messages durably committed.",
	})

	JoinRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_join_requests_total",
		Help: "Join request transitions, by resulting status.",
	}, []string{"status"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_notifications_total",
		Help: "Offline notifications handed to the dispatcher, by result.",
	}, []string{"result"})

	DiskUsedPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_disk_used_percent",
		Help: "Used space on the volume holding the store.",
	})

	StepSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatsync_op_step_seconds",
		Help:    "Duration of traced operation steps.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"op", "step"})

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatsync_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)
)

func init() {
	prometheus.MustRegister(
		Connections,
		Rooms,
		EventsEmitted,
		FramesDropped,
		Commands,
		MessagesCommitted,
		JoinRequests,
		Notifications,
		DiskUsedPercent,
		StepSeconds,
		heapAlloc,
	)
}

// Handler serves the default registry on fasthttp.
func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
