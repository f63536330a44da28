package kbinder

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the binder's runtime counters.
type Metrics struct {
	RecordsProcessed prometheus.Counter
	ProcessErrors    prometheus.Counter
	Commits          prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "kbinder_records_processed_total",
			Help: "Records that completed topology processing.",
		}),
		ProcessErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "kbinder_process_errors_total",
			Help: "Records whose processing failed.",
		}),
		Commits: factory.NewCounter(prometheus.CounterOpts{
			Name: "kbinder_offset_commits_total",
			Help: "Offset commit rounds performed.",
		}),
	}
}

// ExposeMetrics serves the given gatherer on addr under /metrics. The
// listener is bound before returning, so address conflicts surface as an
// error instead of a dead endpoint. The returned server's Addr holds the
// bound address; callers stop the endpoint with its Close or Shutdown.
func ExposeMetrics(addr string, g prometheus.Gatherer) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux}
	go func() {
		_ = srv.Serve(ln)
	}()
	return srv, nil
}
