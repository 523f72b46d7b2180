// Command broker runs the Pusher-compatible WebSocket message broker: it
// loads the configuration file, wires the broker/bus/dispatcher/scheduler
// stack, serves both the WebSocket upgrade endpoint and the admin HTTP API
// from one listener, and shuts everything down in order on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pulsewire/broker/internal/admin"
	"github.com/pulsewire/broker/internal/apperr"
	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/bus"
	"github.com/pulsewire/broker/internal/config"
	"github.com/pulsewire/broker/internal/dispatcher"
	"github.com/pulsewire/broker/internal/logger"
	"github.com/pulsewire/broker/internal/protocol"
	"github.com/pulsewire/broker/internal/scheduler"
	"github.com/pulsewire/broker/internal/ws"
)

// shutdownGracePeriod bounds how long graceful shutdown waits for
// in-flight admin requests and connection teardown before forcing exit.
const shutdownGracePeriod = 10 * time.Second

func main() {
	configPath := flag.String("config", getEnv("BROKER_CONFIG", "config.yaml"), "path to the broker's YAML config file")
	serverName := flag.String("server", os.Getenv("BROKER_SERVER"), "named server profile to run (defaults to the config's default profile)")
	logLevel := flag.String("log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	logPretty := flag.Bool("log-pretty", getEnv("LOG_PRETTY", "false") == "true", "use human-readable console log output")
	flag.Parse()

	logger.Initialize(*logLevel, *logPretty)
	log := logger.Component("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	serverCfg, ok := cfg.Server(*serverName)
	if !ok {
		log.Fatal().Str("server", *serverName).Msg("unknown server profile")
	}

	b := broker.New(cfg.Applications())
	log.Info().Str("node_id", b.NodeID).Int("apps", len(cfg.Apps.Apps)).Msg("broker constructed")

	var busInstance bus.Bus
	if busCfg, enabled := serverCfg.BusConfig(); enabled {
		busInstance = bus.New(busCfg)
		connectCtx, cancel := context.WithTimeout(context.Background(), time.Duration(busCfg.TimeoutSec)*time.Second+5*time.Second)
		if err := busInstance.Connect(connectCtx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("failed to connect to scaling backend")
		}
		cancel()
		log.Info().Msg("scaling backend connected")
	}

	busChannel := serverCfg.Scaling.Channel
	if busChannel == "" {
		busChannel = "pulsewire-broker"
	}
	d := dispatcher.New(b, busInstance, busChannel)

	adminServer := admin.New(b, d)
	adminServer.SetMaxRequestSize(serverCfg.MaxRequestSize)

	if err := d.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start dispatcher bus subscription")
	}

	handler := protocol.New(b, d)
	wsServer := ws.New(b, handler)

	sched := scheduler.New(b)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start connection sweep scheduler")
	}

	router := adminServer.Router(func(c *gin.Context) {
		wsServer.ServeHTTP(c.Writer, c.Request, c.Param("appKey"))
	})

	addr := fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // the WebSocket upgrade path runs for the connection's lifetime
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		var err error
		if serverCfg.TLS != nil {
			log.Info().Str("addr", addr).Msg("listening (TLS)")
			err = srv.ListenAndServeTLS(serverCfg.TLS.CertPath, serverCfg.TLS.KeyPath)
		} else {
			log.Info().Str("addr", addr).Msg("listening")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listener failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received, starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	// Stop accepting new HTTP/WebSocket connections.
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	}

	// Tell every still-open connection the server is going away, then
	// unsubscribe and close it.
	conns := b.AllConnections()
	log.Info().Int("connections", len(conns)).Msg("notifying connections of shutdown")
	shutdownFrame := broker.EncodeFrame(broker.NewFrame("pusher:error", "", apperr.ServerShuttingDown().ToWSFrame()))
	for _, conn := range conns {
		conn.Send(shutdownFrame)
	}
	for _, conn := range conns {
		b.Disconnect(conn)
		conn.Terminate()
	}

	sched.Stop()

	if busInstance != nil {
		if err := busInstance.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing scaling backend")
		}
	}

	log.Info().Msg("shutdown complete")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
