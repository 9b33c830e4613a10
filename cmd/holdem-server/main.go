// Command holdem-server runs the poker server: the lobby HTTP API and
// the real-time WebSocket gateway, backed by one store.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/lox/holdem/internal/auth"
	"github.com/lox/holdem/internal/config"
	"github.com/lox/holdem/internal/lobby"
	"github.com/lox/holdem/internal/room"
	"github.com/lox/holdem/internal/server"
	"github.com/lox/holdem/internal/store"
)

var CLI struct {
	Config       string `short:"c" default:"holdem.hcl" help:"Path to HCL configuration file"`
	HTTPAddr     string `env:"HTTP_ADDR" help:"Lobby HTTP listen address (overrides config)"`
	RealtimeAddr string `env:"REALTIME_ADDR" help:"Realtime WebSocket listen address (overrides config)"`
	Database     string `env:"DATABASE_DSN,DATABASE_URL" help:"Database DSN: a sqlite path or a postgres:// URL (overrides config)"`
	TokenSecret  string `env:"TOKEN_SECRET" help:"Secret keying session-token digests (overrides config)"`
	LogLevel     string `short:"l" env:"LOG_LEVEL" help:"Log level: debug, info, warn, error (overrides config)"`
	Seed         uint64 `help:"Deterministic deck seed, for development only"`
}

func main() {
	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		kctx.Exit(1)
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		kctx.Exit(1)
	}
	if cfg.Server.TokenSecret == "" {
		fmt.Fprintln(os.Stderr, "a token secret is required (TOKEN_SECRET or token_secret in config)")
		kctx.Exit(1)
	}

	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server failed", "error", err)
		kctx.Exit(1)
	}
}

func applyOverrides(cfg *config.Config) {
	if CLI.HTTPAddr != "" {
		cfg.Server.HTTPAddr = CLI.HTTPAddr
	}
	if CLI.RealtimeAddr != "" {
		cfg.Server.RealtimeAddr = CLI.RealtimeAddr
	}
	if CLI.Database != "" {
		cfg.Server.Database = CLI.Database
	}
	if CLI.TokenSecret != "" {
		cfg.Server.TokenSecret = CLI.TokenSecret
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
}

func newLogger(cfg *config.Config) *log.Logger {
	options := log.Options{ReportTimestamp: true}
	if cfg.Server.LogFormat == "json" {
		options.Formatter = log.JSONFormatter
	}
	logger := log.NewWithOptions(os.Stderr, options)
	switch cfg.Server.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Server.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if err := seedRooms(ctx, st, cfg, logger); err != nil {
		return err
	}

	authService := auth.NewService(st, cfg.Server.TokenSecret)

	opts := room.Options{
		TurnTimeout:    cfg.TurnTimeout(),
		InterHandDelay: cfg.InterHandDelay(),
		StartGrace:     cfg.StartGrace(),
		ReclaimWindow:  cfg.ReclaimWindow(),
		Logger:         logger,
	}
	if CLI.Seed != 0 {
		logger.Warn("using deterministic deck seed", "seed", CLI.Seed)
		opts.Rand = rand.New(rand.NewPCG(CLI.Seed, 0))
	}

	registry := room.NewRegistry(st, logger, opts)
	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("starting registry: %w", err)
	}
	defer registry.Stop()

	lobbyService := lobby.New(st, authService, registry, logger)
	gateway := server.New(cfg.Server.RealtimeAddr, authService, registry, logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return lobbyService.ListenAndServe(gctx, cfg.Server.HTTPAddr)
	})
	group.Go(func() error {
		return gateway.ListenAndServe(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return gctx.Err()
	})
	return group.Wait()
}

// seedRooms creates the rooms declared in config that the store does
// not already have, matched by name.
func seedRooms(ctx context.Context, st store.Store, cfg *config.Config, logger *log.Logger) error {
	existing, err := st.ListOpenRoomsWithSeats(ctx)
	if err != nil {
		return fmt.Errorf("listing rooms: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, rs := range existing {
		have[rs.Room.Name] = true
	}

	for _, rc := range cfg.Rooms {
		if have[rc.Name] {
			continue
		}
		created, err := st.CreateRoom(ctx, &store.Room{
			Name:       rc.Name,
			SmallBlind: rc.SmallBlind,
			BigBlind:   rc.BigBlind(),
			MinBuyIn:   rc.MinBuyIn,
			MaxBuyIn:   rc.MaxBuyIn,
			MaxPlayers: rc.MaxPlayers,
			Status:     store.RoomWaiting,
		})
		if err != nil {
			return fmt.Errorf("seeding room %s: %w", rc.Name, err)
		}
		logger.Info("seeded room", "room", created.ID, "name", created.Name,
			"blinds", fmt.Sprintf("%d/%d", created.SmallBlind, created.BigBlind))
	}
	return nil
}
