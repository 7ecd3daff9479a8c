package ingest

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jessegalley/ioprobe/internal/stats"
)

// transfer outcome label values
const (
	OutcomeComplete   = "complete"
	OutcomeIncomplete = "incomplete"
	OutcomeAborted    = "aborted"
)

// Metrics are the server's prometheus collectors
type Metrics struct {
	Bytes     prometheus.Counter
	Transfers *prometheus.CounterVec
	Active    prometheus.Gauge
	Fsync     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioprobe",
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Bytes written to received files.",
		}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ioprobe",
			Subsystem: "ingest",
			Name:      "transfers_total",
			Help:      "Finished transfers by outcome.",
		}, []string{"outcome"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ioprobe",
			Subsystem: "ingest",
			Name:      "active_connections",
			Help:      "Connections currently being received.",
		}),
		Fsync: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ioprobe",
			Subsystem: "ingest",
			Name:      "fsync_seconds",
			Help:      "Time spent in the final fsync of each file.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Bytes, m.Transfers, m.Active, m.Fsync)
	return m
}

func (m *Metrics) observe(r Result) {
	m.Bytes.Add(float64(r.Written))
	switch {
	case r.State == Aborted:
		m.Transfers.WithLabelValues(OutcomeAborted).Inc()
	case r.Incomplete:
		m.Transfers.WithLabelValues(OutcomeIncomplete).Inc()
	default:
		m.Transfers.WithLabelValues(OutcomeComplete).Inc()
	}
	if r.State != Aborted {
		m.Fsync.Observe(r.SyncTime.Seconds())
	}
}

// Server accepts transfers and receives each on its own goroutine.
// connections share nothing but the metrics.
type Server struct {
	cfg     ReceiverConfig
	logger  log.Logger
	metrics *Metrics
	out     io.Writer

	// optional hook called with every finished connection
	OnResult func(Result)
}

// NewServer creates a server writing completion lines to out
func NewServer(cfg ReceiverConfig, metrics *Metrics, out io.Writer, logger log.Logger) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
		out:     out,
	}
}

// Serve accepts connections from ln until ctx is done, then closes ln and
// waits for in-flight transfers to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	level.Info(s.logger).Log("msg", "server listening", "addr", ln.Addr(), "dir", s.cfg.Dir)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := log.With(s.logger, "remote", conn.RemoteAddr())

	if s.metrics != nil {
		s.metrics.Active.Inc()
		defer s.metrics.Active.Dec()
	}

	r := Receive(ctx, conn, s.cfg, logger)
	if s.metrics != nil {
		s.metrics.observe(r)
	}
	if s.OnResult != nil {
		s.OnResult(r)
	}
	if r.State == Done && s.out != nil {
		fmt.Fprintln(s.out, CompletionLine(r))
	}
}

// CompletionLine renders the console line for a finished transfer
func CompletionLine(r Result) string {
	status := "received"
	if r.Incomplete {
		status = "incomplete"
	}
	return fmt.Sprintf("File %s %s: Written %d bytes, Throughput: %.2f MiB/s, saved to %s",
		r.Header.FileName, status, r.Written, stats.MiBps(r.Written, r.Elapsed), r.Path)
}
