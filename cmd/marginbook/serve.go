package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"marginbook/internal/api"
	"marginbook/internal/bots"
	"marginbook/internal/exchange"
	"marginbook/internal/logging"
	"marginbook/internal/metrics"
	"marginbook/internal/num"
	"marginbook/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "API listen address, overrides the config")
	serveCmd.Flags().Bool("bots", false, "drive the first market with simulated traders")
	serveCmd.Flags().Int64("seed", time.Now().UnixNano(), "seed of the simulated traders")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.API.Addr = addr
	}
	log := newLogger(cfg)
	defer log.AtExit()

	ex, err := newExchange(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		creds   api.Credentials
		history api.TradeHistory
		st      *store.Store
	)
	if cfg.Store.Path != "" {
		st, err = store.New(cfg.Store.Path)
		if err != nil {
			return errors.Wrap(err, "opening store")
		}
		defer st.Close()
		creds, history = st, st
		go store.NewJournal(st, log).Run(ctx, ex.Broker().Subscribe(4096))
		log.Info("journal enabled", logging.String("path", cfg.Store.Path))
	} else {
		log.Warn("no store configured, trader ids are not authenticated")
	}

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		rec := metrics.New()
		go rec.Run(ctx, ex.Broker().Subscribe(4096))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: rec.Handler()}
		go serveHTTP(log, "metrics", metricsServer)
	}

	server := api.NewServer(ex, creds, history, log, api.Options{
		CORSOrigins: cfg.API.CORSOrigins,
		RateLimit:   cfg.API.RateLimit,
		RateWindow:  cfg.API.RateWindow.Get(),
	})
	httpServer := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: server.Router(),
	}
	go serveHTTP(log, "api", httpServer)

	if withBots, _ := cmd.Flags().GetBool("bots"); withBots {
		seed, _ := cmd.Flags().GetInt64("seed")
		if err := startBots(ctx, ex, log, seed); err != nil {
			return err
		}
	}

	log.Info("marginbook started",
		logging.String("addr", cfg.API.Addr),
		logging.Strings("markets", ex.Markets()),
	)
	<-ctx.Done()
	log.Info("shutting down")

	// Stop server internal goroutines
	server.Shutdown()

	// Graceful HTTP shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("api shutdown", logging.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics shutdown", logging.Error(err))
		}
	}
	ex.Broker().Close()
	log.Info("shutdown complete")
	return nil
}

func serveHTTP(log *logging.Logger, name string, srv *http.Server) {
	log.Info("listening", logging.String("server", name), logging.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("http server failed", logging.String("server", name), logging.Error(err))
	}
}

func startBots(ctx context.Context, ex *exchange.Exchange, log *logging.Logger, seed int64) error {
	markets := ex.Markets()
	if len(markets) == 0 {
		return errors.New("no market to run bots on")
	}
	market := markets[0]
	start, _, err := ex.MarkPriceWithSource(market)
	if err != nil {
		return err
	}

	ref := bots.NewPriceGenerator(start, float64(start)/2_000, seed)
	go ref.Run(ctx, time.Second)

	manager := bots.CreateEcosystem(market, ex, ref, log, seed)
	if err := manager.Fund(ctx, num.Quote(1_000_000)); err != nil {
		return err
	}
	go manager.Run(ctx)
	log.Info("bots started", logging.MarketID(market), logging.Int("bots", manager.Count()))
	return nil
}
