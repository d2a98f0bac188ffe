// Package metrics exposes bot activity as Prometheus metrics and serves the
// ops endpoints (/healthz, /metrics).
package metrics

import (
	"time"

	"pressbot/internal/bus"
	"pressbot/internal/command"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "pressbot"

// Collector turns bus events into Prometheus metrics on its own registry.
type Collector struct {
	registry  *prometheus.Registry
	startTime time.Time

	commandsTotal   *prometheus.CounterVec
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	cleanupFailures prometheus.Counter
	serviceInfo     *prometheus.GaugeVec
}

func NewCollector(version string) *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total chat commands handled",
		},
		[]string{"command", "outcome"},
	)

	c.publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Total WordPress publish attempts",
		},
		[]string{"mode", "outcome"},
	)

	c.publishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "WordPress publish call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	c.cleanupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tempfile_cleanup_failures_total",
			Help:      "Temporary attachment files that could not be deleted",
		},
	)

	c.serviceInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_info",
			Help:      "Service information",
		},
		[]string{"version"},
	)

	c.registry.MustRegister(
		c.commandsTotal,
		c.publishTotal,
		c.publishDuration,
		c.cleanupFailures,
		c.serviceInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.serviceInfo.WithLabelValues(version).Set(1)

	return c
}

// Registry returns the registry backing /metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration { return time.Since(c.startTime) }

// Attach subscribes the collector to the bus.
func (c *Collector) Attach(eb *bus.EventBus) {
	eb.On(bus.EventCommandHandled, c.Observe)
	eb.On(bus.EventPublishCompleted, c.Observe)
	eb.On(bus.EventTempFileCleanupError, c.Observe)
}

// Observe records one event.
func (c *Collector) Observe(e bus.Event) {
	switch e.Type {
	case bus.EventCommandHandled:
		c.commandsTotal.WithLabelValues(commandLabel(e.Command), labelOr(e.Outcome)).Inc()
	case bus.EventPublishCompleted:
		mode := labelOr(e.Mode)
		c.publishTotal.WithLabelValues(mode, labelOr(e.Outcome)).Inc()
		c.publishDuration.WithLabelValues(mode).Observe(e.Duration.Seconds())
	case bus.EventTempFileCleanupError:
		c.cleanupFailures.Inc()
	}
}

// Unknown command names come from user input; fold them into one series.
func commandLabel(cmd string) string {
	switch cmd {
	case command.CmdStart, command.CmdHelp, command.CmdPost, command.CmdUpload:
		return cmd
	}
	return "other"
}

func labelOr(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
