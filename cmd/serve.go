/*
Copyright © 2025 jesse galley <jesse@jessegalley.net>
*/
package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jessegalley/ioprobe/internal/ingest"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive files over tcp and write them to the storage directory.",
	Long: `Accept uploads made with "ioprobe send". Every connection is received
through its own bounded queue and single writer, fsynced, and reported with
the throughput it sustained.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&cfg.Listen, "listen", "l", cfg.Listen, "address to accept uploads on")
	serveCmd.Flags().StringVar(&cfg.StorageDir, "storage-dir", cfg.StorageDir, "directory received files are written to")
	serveCmd.Flags().IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "largest single socket read in bytes")
	serveCmd.Flags().IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "per connection queue capacity in chunks")
	serveCmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address (empty disables)")
}

func runServe(ctx context.Context) error {
	if err := ensureWritableDirectory(cfg.StorageDir); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingest.NewMetrics(reg)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.Listen)
	}

	srv := ingest.NewServer(ingest.ReceiverConfig{
		Dir:       cfg.StorageDir,
		ChunkSize: cfg.ChunkSize,
		Capacity:  cfg.Capacity,
	}, metrics, os.Stdout, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		hs := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			level.Info(logger).Log("msg", "serving metrics", "addr", cfg.MetricsAddr)
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	level.Info(logger).Log("msg", "server stopped")
	return err
}
