package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/cyberinferno/timewarp/config"
	"github.com/cyberinferno/timewarp/logger"
	"github.com/cyberinferno/timewarp/offsetstore"
	"github.com/cyberinferno/timewarp/tcpserver"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// currentSource is the store key under which the server records the offset
// it applied last.
const currentSource = "current"

const recordTimeout = time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a timewarp server",
	Long: `Start a timewarp server. Every offset received is recorded in the
configured offset store under the key "current" and logged. The server stops
on SIGINT or SIGTERM.`,
	Args:    cobra.NoArgs,
	PreRunE: bindFlags,
	RunE:    runServe,
}

func init() {
	config.SetupServerFlags(serveCmd.Flags())
	config.SetupStoreFlags(serveCmd.Flags())
}

// recorder is the user context handed to the server callback.
type recorder struct {
	store  offsetstore.Store
	logger logger.Logger
}

// recordOffset is the server callback: it logs the offset and stores it.
func recordOffset(userContext any, offset int64) {
	r := userContext.(*recorder)

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.store.Record(ctx, currentSource, offset); err != nil {
		r.logger.Error("could not record time offset", logger.F("offset", offset), logger.F("error", err.Error()))
		return
	}

	r.logger.Info("time offset applied", logger.F("offset", offset))
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()

	log, err := newLogger(v, "timewarp-server")
	if err != nil {
		return err
	}
	defer log.Close()

	cfg, err := config.ServerConfig(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := offsetstore.New(ctx, config.StoreConfig(v))
	if err != nil {
		return fmt.Errorf("could not open offset store: %w", err)
	}
	defer store.Close()

	srv, err := tcpserver.Start(recordOffset, &recorder{store: store, logger: log}, cfg, log)
	if err != nil {
		return err
	}
	defer srv.Stop()

	if addr := v.GetString(config.KeyMetricsAddr); addr != "" {
		httpServer := metricsServer(addr, srv)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics endpoint failed", logger.F("addr", addr), logger.F("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		log.Info("metrics endpoint started", logger.F("addr", addr))
	}

	<-ctx.Done()
	log.Info("shutdown requested")
	return nil
}

// metricsServer exposes the server's metric set and the process metrics in
// Prometheus text format at /metrics.
func metricsServer(addr string, srv *tcpserver.Server) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		srv.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
