// main.go
// Application entry point: loads configuration, initializes the logger,
// wires the identity store, token service, relay and hub, then serves HTTP.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/erilali/chathub/internal/api"
	"github.com/erilali/chathub/internal/auth"
	"github.com/erilali/chathub/internal/config"
	"github.com/erilali/chathub/internal/hub"
	"github.com/erilali/chathub/internal/identity"
	"github.com/erilali/chathub/internal/logger"
	"github.com/erilali/chathub/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger.InitLogger(cfg.LogConfig())
	serverLogger := logger.NewLogger("server")
	serverLogger.WithFields(map[string]interface{}{
		"addr":        cfg.HTTPAddr,
		"relay":       cfg.Relay(),
		"log_to_file": cfg.LogToFile,
		"log_to_json": cfg.LogToJSON,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := identity.OpenSQLite(cfg.DatabasePath, identity.NewHasher(cfg.BcryptCost), identity.DefaultPolicy())
	if err != nil {
		serverLogger.Err(err).Fatalf("Failed to open identity store at %s", cfg.DatabasePath)
	}
	defer store.Close()

	keys := auth.Keys{Secret: []byte(cfg.JWTKey), Issuer: cfg.JWTIssuer}
	issuer, err := auth.NewIssuer(keys, cfg.TokenTTL(), store, logger.NewLogger("auth"))
	if err != nil {
		var cfgErr *auth.ConfigError
		if errors.As(err, &cfgErr) {
			serverLogger.Fatalf("Refusing to start: %v", cfgErr)
		}
		serverLogger.Err(err).Fatal("Failed to create token issuer")
	}
	verifier, err := auth.NewVerifier(keys)
	if err != nil {
		serverLogger.Err(err).Fatal("Failed to create token verifier")
	}

	origins, ok := api.NewOriginPolicy(cfg.AllowedOrigin, logger.NewLogger("origin"))
	if !ok {
		serverLogger.Fatalf("ALLOWED_ORIGIN %q is not a scheme://host origin", cfg.AllowedOrigin)
	}

	fanout := dialRelay(ctx, cfg, serverLogger)
	if fanout != nil {
		defer fanout.Close()
	}

	h := hub.NewHub(hub.NewRegistry(), verifier, logger.NewLogger("hub"), hub.Options{
		Relay:         fanout,
		SendBuffer:    cfg.SendBuffer,
		MaxFrameBytes: cfg.MaxFrameBytes,
		CheckOrigin:   origins.CheckOrigin,
	})
	hubDone := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(hubDone)
	}()

	server := api.NewServer(issuer, store, h, origins, logger.NewLogger("api"))
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr, cfg.ShutdownGrace()); err != nil {
		serverLogger.Err(err).Error("HTTP server stopped")
		stop()
	}
	<-hubDone
	serverLogger.Info("Shutdown complete")
}

// dialRelay connects the configured cross-instance relay. Failure to connect
// is not fatal: the hub keeps serving clients on this instance only.
func dialRelay(ctx context.Context, cfg *config.Config, serverLogger *logger.Logger) hub.Relay {
	relayLogger := logger.NewLogger("relay")
	switch cfg.Relay() {
	case "nats":
		n, err := relay.DialNATS(cfg.NatsURL, cfg.RelaySubject, relayLogger)
		if err != nil {
			serverLogger.Err(err).Warnf("Failed to connect to NATS at %s, fan-out stays local", cfg.NatsURL)
			return nil
		}
		serverLogger.Infof("Connected to NATS at %s", cfg.NatsURL)
		return n
	case "redis":
		r, err := relay.DialRedis(ctx, cfg.RedisAddr, cfg.RelaySubject, relayLogger)
		if err != nil {
			serverLogger.Err(err).Warnf("Failed to connect to Redis at %s, fan-out stays local", cfg.RedisAddr)
			return nil
		}
		serverLogger.Infof("Connected to Redis at %s", cfg.RedisAddr)
		return r
	default:
		serverLogger.Info("No relay configured, fan-out is local to this instance")
		return nil
	}
}
