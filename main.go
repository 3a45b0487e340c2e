package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"roomchat/auth"
	"roomchat/cache"
	"roomchat/chatsync"
	"roomchat/config"
	"roomchat/connectivity"
	"roomchat/crypto"
	"roomchat/discovery"
	"roomchat/feed"
	"roomchat/models"
	"roomchat/session"
	"roomchat/storage"
)

func main() {
	var (
		nameFlag    = flag.String("name", "", "display name shown next to your messages")
		colorFlag   = flag.String("color", "", "chat background colour, one of the palette values")
		backendFlag = flag.String("backend", "", "relay base URL, e.g. http://relay.local:8080")
	)
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("startup failed while loading .env: %v", err)
	}
	cfg, cfgPath, dataDir, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}
	if err := applyProfileFlags(cfgPath, cfg, *nameFlag, *colorFlag); err != nil {
		log.Fatalf("startup failed while saving profile: %v", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Fatalf("startup failed while reading environment: %v", err)
	}
	if *backendFlag != "" {
		cfg.BackendURL = *backendFlag
	}

	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.BackendURL == "" && cfg.Discovery {
		endpoint, err := discovery.FindRelay(ctx, discovery.Config{})
		if err != nil {
			log.Fatalf("startup failed: no backend configured and discovery found none: %v", err)
		}
		cfg.BackendURL = endpoint.URL()
		logger.Info("relay discovered", "instance", endpoint.Instance, "url", cfg.BackendURL)
	}
	if cfg.BackendURL == "" {
		log.Fatalf("startup failed: no backend configured (set -backend or ROOMCHAT_BACKEND_URL)")
	}

	fmt.Printf("User ID:         %s\n", cfg.UserID)
	fmt.Printf("Display Name:    %s\n", cfg.DisplayName)
	fmt.Printf("Background:      %s\n", cfg.BackgroundColor)
	fmt.Printf("Backend:         %s\n", cfg.BackendURL)
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	cacheOpts := cache.Options{
		Backend: cfg.CacheBackend,
		Store:   store,
		Redis: &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	}
	if cfg.SealCache {
		master, err := crypto.EnsureCacheKey(cfg.CacheKeyPath)
		if err != nil {
			log.Fatalf("startup failed while preparing cache key: %v", err)
		}
		cacheOpts.SealKey = master
		fmt.Printf("Cache Key:       %s\n", crypto.FormatFingerprint(crypto.KeyFingerprint(master)))
	}
	localCache, closeCache, err := cache.Open(ctx, cacheOpts)
	if err != nil {
		log.Fatalf("startup failed while opening %s cache: %v", cfg.CacheBackend, err)
	}
	defer func() {
		if err := closeCache(); err != nil {
			log.Printf("cache close error: %v", err)
		}
	}()
	fmt.Printf("Cache Backend:   %s\n", cfg.CacheBackend)

	target := newRelayTarget(cfg.BackendURL)
	credentials := auth.NewCredentials(nil, cfg.BackendURL, cfg.UserID, cfg.DisplayName)
	if authSession, err := credentials.Session(ctx); err != nil {
		fmt.Println("Unable to sign in; showing cached messages until the relay answers.")
		logger.Warn("sign-in failed", "error", err)
	} else if authSession.UserID != cfg.UserID {
		logger.Warn("relay assigned a different user id", "configured", cfg.UserID, "assigned", authSession.UserID)
		cfg.UserID = authSession.UserID
	}

	monitor, err := connectivity.NewMonitor(target.probe(), cfg.ProbeInterval(), logger)
	if err != nil {
		log.Fatalf("startup failed while creating connectivity monitor: %v", err)
	}

	feedClient := feed.New(feed.Options{
		BaseURL:        cfg.BackendURL,
		TokenSource:    credentials.Token,
		OnUnauthorized: credentials.Invalidate,
		Logger:         logger,
		OnDisconnect:   session.ReportFeedDrop(monitor, logger),
	})
	defer feedClient.Close()

	var outbox chatsync.Outbox
	if cfg.OutboxEnabled {
		outbox = store
	}

	controller, err := chatsync.NewController(chatsync.Options{
		Feed:       feedClient,
		Cache:      localCache,
		Outbox:     outbox,
		Collection: cfg.Collection,
		CacheKey:   cfg.CacheKey,
		Logger:     logger,
		OnChange:   renderer(os.Stdout),
	})
	if err != nil {
		log.Fatalf("startup failed while creating sync controller: %v", err)
	}

	chat, err := session.New(session.Options{
		Profile:       cfg.Profile(),
		Controller:    controller,
		Uploader:      &relayUploader{target: target, tokens: credentials.Token},
		Logger:        logger,
		OnStateChange: stateNotice(os.Stdout),
	})
	if err != nil {
		log.Fatalf("startup failed while opening session: %v", err)
	}
	defer chat.Close()

	if err := monitor.Start(ctx); err != nil {
		log.Fatalf("startup failed while starting connectivity monitor: %v", err)
	}
	defer monitor.Stop()

	if cfg.Discovery {
		scanner, err := discovery.NewScanner(discovery.Config{})
		if err != nil {
			logger.Warn("relay tracking disabled", "error", err)
		} else {
			scanner.Start()
			defer scanner.Stop()
			go discovery.FollowRelays(ctx, scanner.Events(), cfg.BackendURL, func(endpoint discovery.Endpoint) {
				url := endpoint.URL()
				logger.Info("switching relay", "instance", endpoint.Instance, "url", url)
				target.set(url)
				credentials.SetBaseURL(url)
				feedClient.SetBaseURL(url)
				monitor.Refresh()
			})
		}
	}

	chat.Start(ctx, firstStatus(ctx, monitor.Events(), 2*cfg.ProbeInterval()))
	go chat.Run(ctx, monitor.Events())

	fmt.Println("Status:          chatting (type /help for commands, Ctrl+C to stop)")
	readCommands(ctx, os.Stdin, chat, logger)
	fmt.Println("Status:          shutting down")
}

// applyProfileFlags persists start-screen choices given on the command line.
func applyProfileFlags(cfgPath string, cfg *config.ClientConfig, name, color string) error {
	if name == "" && color == "" {
		return nil
	}
	if name != "" {
		cfg.DisplayName = name
	}
	if color != "" {
		normalized, err := models.NormalizeColor(color)
		if err != nil {
			return err
		}
		cfg.BackgroundColor = normalized
	}
	return config.Save(cfgPath, cfg)
}

// firstStatus waits for the monitor's first reading. Unknown is returned when
// none arrives in time.
func firstStatus(ctx context.Context, events <-chan connectivity.Status, timeout time.Duration) connectivity.Status {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status, ok := <-events:
		if ok {
			return status
		}
	case <-timer.C:
	case <-ctx.Done():
	}
	return connectivity.Unknown()
}

func renderer(w io.Writer) func([]models.Message) {
	return func(messages []models.Message) {
		fmt.Fprintf(w, "--- %d messages ---\n", len(messages))
		shown := messages
		if len(shown) > 10 {
			shown = shown[:10]
		}
		// Newest first in the list, newest last on a terminal.
		for i := len(shown) - 1; i >= 0; i-- {
			fmt.Fprintln(w, formatMessage(shown[i]))
		}
	}
}

func readCommands(ctx context.Context, r io.Reader, chat *session.Session, logger *slog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if cmd.kind == commandQuit {
				return
			}
			if err := runCommand(ctx, chat, cmd); err != nil {
				if errors.Is(err, session.ErrEmptyText) {
					continue
				}
				fmt.Printf("error: %v\n", err)
				logger.Debug("command failed", "command", cmd.kind, "error", err)
			}
		}
	}
}

func runCommand(ctx context.Context, chat *session.Session, cmd command) error {
	var err error
	switch cmd.kind {
	case commandText:
		_, err = chat.SendText(ctx, cmd.text)
	case commandImage:
		_, err = chat.SendImage(ctx, cmd.path)
	case commandAudio:
		_, err = chat.SendAudio(ctx, cmd.path)
	case commandLocation:
		_, err = chat.SendLocation(ctx, cmd.latitude, cmd.longitude)
	case commandState:
		fmt.Printf("source: %s, %d messages\n", chat.State(), len(chat.Messages()))
	case commandHelp:
		fmt.Println(helpText)
	}
	return err
}
