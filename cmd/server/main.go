package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/one2many/internal/adapters/http"
	"github.com/dkeye/one2many/internal/adapters/kurento"
	"github.com/dkeye/one2many/internal/adapters/rtc"
	sig "github.com/dkeye/one2many/internal/adapters/signal"
	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/app/orch"
	"github.com/dkeye/one2many/internal/config"
	"github.com/dkeye/one2many/internal/core"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("one2many exited")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "one2many",
		Short:         "One-to-many WebRTC broadcast signaling server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.Flags().String("config-env", "dev", "Config environment, selects config/config.<env>.yaml")
	cmd.Flags().Int("port", 8080, "HTTP listen port")
	cmd.Flags().String("log-level", "info", "debug, info, warn, error")
	cmd.Flags().String("engine", config.DriverPion, "Media engine: pion or kurento")
	cmd.Flags().String("kurento-uri", "", "Kurento media server WebSocket URI")
	return cmd
}

func newEngine(cfg config.EngineConfig) (core.MediaEngine, error) {
	switch cfg.Driver {
	case config.DriverKurento:
		return &kurento.Engine{
			URI:         cfg.KurentoURI,
			CallTimeout: cfg.CallTimeout,
			PingPeriod:  cfg.PingPeriod,
		}, nil
	default:
		return rtc.NewEngine(rtc.Config{
			ICEServers: cfg.ICEServers,
			PortMin:    cfg.UDPPortMin,
			PortMax:    cfg.UDPPortMax,
		})
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logging until the config says otherwise.
	if err := config.SetupLogging("dev", "info"); err != nil {
		return err
	}

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.SetupLogging(cfg.Mode, cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	engine, err := newEngine(cfg.Engine)
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}

	metrics := app.NewMetrics()
	o := orch.New(engine, metrics)
	reg := app.NewRegistry()
	limiter := sig.NewRateLimiter(cfg.Signal.RateLimit, cfg.Signal.RateInterval)
	ctl := sig.NewSignalWSController(o, reg, app.SimplePolicy{}, limiter, metrics, sig.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WriteWait:  cfg.WriteWait,
		SendQueue:  cfg.SendQueue,
	})

	r := router.SetupRouter(ctx, cfg, ctl, metrics)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("engine", cfg.Engine.Driver).Msg("one2many server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		log.Error().Err(err).Msg("server error")
		cancel()
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reg.CancelAll()
	o.Close(shutdownCtx)
	log.Info().Msg("Server exited gracefully")
	return nil
}
