// Package metrics exposes the broker's Counter Set as Prometheus gauges and
// counters on an optional HTTP listener. It is a second, independently-wired observer
// of the one Counter Set in broker.CounterSet; it is never a second source
// of truth, and it never substitutes for the signal-driven stdout snapshot
// required by §4.6 of SPEC_FULL.md.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quietwire/psbroker/broker"
)

// Source is the subset of broker.CounterSet and broker.TopicIndex that the
// collector reads from on every scrape.
type Source struct {
	Counters *broker.CounterSet
	Topics   *broker.TopicIndex
}

// collector implements prometheus.Collector by reading a live Snapshot on
// every Collect call, rather than mirroring the counters into a second set
// of Prometheus-native counters that could drift from the broker's own.
type collector struct {
	src Source

	active    *prometheus.Desc
	completed *prometheus.Desc
	pub       *prometheus.Desc
	sub       *prometheus.Desc
	unsub     *prometheus.Desc
	topics    *prometheus.Desc
}

func newCollector(src Source) *collector {
	return &collector{
		src:       src,
		active:    prometheus.NewDesc("psbroker_active_connections", "Currently connected clients.", nil, nil),
		completed: prometheus.NewDesc("psbroker_completed_connections", "Cumulative completed connections.", nil, nil),
		pub:       prometheus.NewDesc("psbroker_pub_total", "Cumulative accepted pub operations.", nil, nil),
		sub:       prometheus.NewDesc("psbroker_sub_total", "Cumulative accepted sub operations.", nil, nil),
		unsub:     prometheus.NewDesc("psbroker_unsub_total", "Cumulative accepted unsub operations.", nil, nil),
		topics:    prometheus.NewDesc("psbroker_topics", "Number of topics currently tracked.", nil, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.completed
	ch <- c.pub
	ch <- c.sub
	ch <- c.unsub
	ch <- c.topics
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Counters.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.Completed))
	ch <- prometheus.MustNewConstMetric(c.pub, prometheus.CounterValue, float64(s.Pub))
	ch <- prometheus.MustNewConstMetric(c.sub, prometheus.CounterValue, float64(s.Sub))
	ch <- prometheus.MustNewConstMetric(c.unsub, prometheus.CounterValue, float64(s.Unsub))
	ch <- prometheus.MustNewConstMetric(c.topics, prometheus.GaugeValue, float64(c.src.Topics.TopicCount()))
}

// Server serves /metrics on a background HTTP listener.
type Server struct {
	http *http.Server
}

// NewServer builds a Server bound to addr, registering a fresh Prometheus
// registry containing only this broker's collector (not the default Go
// runtime collectors, to keep the exposition focused on §4.6's five
// counters plus topic count).
func NewServer(addr string, src Source) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(src))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks until the listener is closed via Shutdown.
func (s *Server) Serve() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the metrics listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
