package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Tyrowin/gochat-dm/internal/auth"
	"github.com/Tyrowin/gochat-dm/internal/logging"
	"github.com/Tyrowin/gochat-dm/internal/server"
	"github.com/Tyrowin/gochat-dm/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gochat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	port := pflag.String("port", "", "listen address, overrides SERVER_PORT")
	pflag.Parse()

	config, err := server.NewConfigFromEnv(*envFile)
	if err != nil {
		return err
	}
	if *port != "" {
		config.Port = *port
	}
	if err := config.Validate(); err != nil {
		return err
	}

	log := logging.New(config.LogLevel, config.LogFormat, os.Stdout)
	log.Info("starting GoChat server", "store", config.StoreDriver, "path", config.StorePath)

	messages, err := store.Open(config.StoreDriver, config.StorePath, log.With("component", "store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := messages.Close(); err != nil {
			log.Error("closing store", "error", err)
		}
	}()

	verifier, err := auth.NewJWTVerifier(config.JWTSecret, config.JWTIssuer)
	if err != nil {
		return err
	}

	srv := server.New(config, messages, verifier, log)
	httpServer := server.CreateServer(config.Port, srv.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, log)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// sessions are closed explicitly after the listener stops.
	shutdownErr := server.ShutdownServer(httpServer, config.ShutdownTimeout, log)
	if err := srv.Shutdown(config.ShutdownTimeout); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	return shutdownErr
}
