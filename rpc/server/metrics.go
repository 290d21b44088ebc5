package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dSearch/rpc/common"
)

// serverMetrics groups the Prometheus metrics of one storage node. Every
// server owns its own set so that several servers can live in one process.
type serverMetrics struct {
	set *metrics.Set

	records    *metrics.Counter
	notFound   *metrics.Counter
	duplicates *metrics.Counter
	failures   *metrics.Counter
	probes     *metrics.Counter
	panics     *metrics.Counter
	lookups    *metrics.Histogram
}

func newServerMetrics(node *Node, dedup *suppressor) *serverMetrics {
	set := metrics.NewSet()
	m := &serverMetrics{
		set:        set,
		records:    set.NewCounter(`dsearch_requests_total{result="record"}`),
		notFound:   set.NewCounter(`dsearch_requests_total{result="not_found"}`),
		duplicates: set.NewCounter(`dsearch_requests_total{result="duplicate"}`),
		failures:   set.NewCounter(`dsearch_record_fetch_errors_total`),
		probes:     set.NewCounter(`dsearch_probes_total`),
		panics:     set.NewCounter(`dsearch_handler_panics_total`),
		lookups:    set.NewHistogram(`dsearch_lookup_duration_seconds`),
	}

	set.NewGauge(`dsearch_indexes{kind="primary"}`, func() float64 {
		return float64(len(node.primary))
	})
	set.NewGauge(`dsearch_replica_indexes_loaded`, func() float64 {
		if node.ReplicasLoaded() {
			return float64(len(node.replicaIndexes()))
		}
		return 0
	})
	set.NewGauge(`dsearch_suppressed_authors`, func() float64 {
		return float64(dedup.size())
	})
	return m
}

// count increments the request counter of a response kind
func (m *serverMetrics) count(kind common.ResponseKind) {
	switch kind {
	case common.RespRecord:
		m.records.Inc()
	case common.RespNotFound:
		m.notFound.Inc()
	case common.RespDuplicate:
		m.duplicates.Inc()
	}
}

// WritePrometheus writes all metrics in Prometheus text format
func (m *serverMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// serveMetrics exposes the metrics at http://endpoint/metrics until ctx is cancelled
func (m *serverMetrics) serveMetrics(ctx context.Context, endpoint string) error {
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m.WritePrometheus(w)
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		Logger.Infof("serving metrics on http://%s/metrics", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
	return nil
}
