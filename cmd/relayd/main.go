// Command relayd starts the famtable relay: encrypted blob storage, invite
// exchange and websocket change fan-out. The relay never sees plaintext.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"famtable/internal/limiter"
	"famtable/internal/migrate"
	"famtable/internal/relay"
	"famtable/internal/relay/memory"
	"famtable/internal/relay/postgres"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations when a DSN is configured, and
// serves the relay API until interrupted.
func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("RELAY_ADDR", ":8080"), "listen address")
	dsn := flag.String("dsn", os.Getenv("RELAY_DSN"), "PostgreSQL DSN (empty: in-memory storage)")
	janitorEvery := flag.Duration("janitor-interval", time.Hour, "expired-invite purge interval")
	limWindow := flag.Duration("invite-limit-window", 15*time.Minute, "invite lookup failure window")
	limMax := flag.Int("invite-limit-max", 10, "invite lookup failures before lockout")
	limBlock := flag.Duration("invite-limit-block", 15*time.Minute, "invite lookup lockout duration")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
		zap.Bool("postgres", *dsn != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		families relay.FamilyStore
		invites  relay.InviteStore
		lim      limiter.Limiter
	)
	if *dsn != "" {
		if err := migrate.Up(ctx, *dsn); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, *dsn)
		if err != nil {
			logger.Fatal("postgres.New", zap.Error(err))
		}
		defer db.Close()
		families = postgres.NewFamilyRepo(db)
		invites = postgres.NewInviteRepo(db)
		lim = limiter.NewPGWithQuerier(db.Pool, *limWindow, *limMax, *limBlock)
	} else {
		logger.Warn("no DSN configured, storage is in-memory and volatile")
		families = memory.NewFamilies()
		invites = memory.NewInvites()
		lim = limiter.NewMemory(*limWindow, *limMax, *limBlock)
	}

	srv := relay.NewServer(logger, families, invites, relay.NewHub(logger), lim)
	go srv.RunJanitor(ctx, *janitorEvery)

	hs := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			_ = hs.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
