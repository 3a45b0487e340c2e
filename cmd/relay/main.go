package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"roomchat/config"
	"roomchat/discovery"
	"roomchat/relay"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatalf("relay startup failed while loading config: %v", err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	if config.ParseLogLevel(cfg.LogLevel) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := relay.New(relay.Options{
		Secret:         []byte(cfg.JWTSecret),
		TokenTTL:       cfg.TokenTTL,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		PublicURL:      cfg.PublicURL,
		Logger:         logger,
	})
	if err != nil {
		log.Fatalf("relay startup failed: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("relay startup failed while listening on %s: %v", cfg.ListenAddr, err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Advertise {
		port := listener.Addr().(*net.TCPAddr).Port
		broadcaster, err := discovery.StartBroadcaster(discovery.Config{
			InstanceName: cfg.InstanceName,
			Port:         port,
		})
		if err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer broadcaster.Stop()
			logger.Info("advertising relay", "instance", cfg.InstanceName, "service", discovery.DefaultService, "port", strconv.Itoa(port))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("relay listening", "addr", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("relay server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("relay shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("relay shutdown failed", "error", err)
	}
}
