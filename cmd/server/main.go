package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"smmpanel/internal/api"
	"smmpanel/internal/broadcast"
	"smmpanel/internal/config"
	"smmpanel/internal/db"
	"smmpanel/internal/dispatcher"
	"smmpanel/internal/engine"
	"smmpanel/internal/gateway"
	"smmpanel/internal/gateway/telegram"
	"smmpanel/internal/ledger"
	"smmpanel/internal/logger"
	"smmpanel/internal/menu"
	"smmpanel/internal/metrics"
	"smmpanel/internal/moderation"
	"smmpanel/internal/referral"
	"smmpanel/internal/session"
	"smmpanel/internal/settings"
	"smmpanel/internal/store"
	"smmpanel/internal/syncutil"
)

const (
	limiterBurst = 3
	sweepSpec    = "@every 1m"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "smmpanel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel, cfg.DevLog); err != nil {
		return err
	}
	log := logger.Log
	defer log.Sync()

	if cfg.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if len(cfg.AdminIDs) == 0 {
		log.Warn("no ADMIN_IDS configured; deposits cannot be approved")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.InitDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info("database ready")

	st := store.NewPostgres(database)
	if err := st.SeedSettings(ctx, settings.Defaults); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}

	m := metrics.New()
	limiter := dispatcher.NewLimiter(cfg.AntiSpamDelay, limiterBurst)

	var (
		sessions session.Store
		sweepers = []session.Sweeper{limiter}
	)
	switch cfg.SessionBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		sessions = session.NewRedis(client, cfg.SessionTTL)
	default:
		mem := session.NewMemory(cfg.SessionTTL)
		sessions = mem
		sweepers = append(sweepers, mem)
	}
	log.Info("session store ready", zap.String("backend", cfg.SessionBackend), zap.Duration("ttl", cfg.SessionTTL))

	janitor, err := session.NewJanitor(sweepSpec, log, sweepers...)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	bot, err := telegram.New(cfg.BotToken, log)
	if err != nil {
		return err
	}
	log.Info("bot authorized", zap.String("username", bot.Username()))

	notifier := gateway.NewNotifier(bot, cfg.NotifyConcurrency, m, log)
	l := ledger.New(st, syncutil.NewKeyedMutex(), m, log)
	acc := referral.New(st, l, m, log)
	queue := moderation.New(st, l, acc, notifier, cfg.AdminIDs, m, log)
	eng := engine.New(sessions, st, l, queue, bot, notifier, log)
	mnu := menu.New(st, bot.Username())

	d := dispatcher.New(dispatcher.Options{
		Store:     st,
		Engine:    eng,
		Queue:     queue,
		Menu:      mnu,
		Referral:  acc,
		Messenger: bot,
		Members:   bot,
		Limiter:   limiter,
		Metrics:   m,
		Log:       log,
	})

	server := api.NewServer(st, l, queue, broadcast.New(st, bot, cfg.BroadcastRate, m, log), m,
		api.Auth{JWTSecret: []byte(cfg.JWTSecret), PasswordHash: cfg.AdminPasswordHash}, log)
	if cfg.JWTSecret == "" || cfg.AdminPasswordHash == "" {
		log.Warn("JWT_SECRET or ADMIN_PASSWORD_HASH unset; admin api login is disabled")
	}

	var wg sync.WaitGroup
	errc := make(chan error, 1)
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Serve(ctx, bot.Events(ctx), cfg.Workers)
	}()
	go func() {
		defer wg.Done()
		if err := server.Start(ctx, ":"+cfg.ServerPort); err != nil {
			errc <- err
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("shutdown timed out")
	}

	select {
	case err := <-errc:
		return err
	default:
		return nil
	}
}
