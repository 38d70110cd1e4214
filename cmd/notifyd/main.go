// Command notifyd keeps a signed-in lifeline session open and prints new
// notifications as they arrive, honoring the device's pop-up preferences.
// Sign in first with `lifeline login`; notifyd reuses the stored session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"lifeline/internal/api"
	"lifeline/internal/infra"
	"lifeline/internal/notify"
	"lifeline/internal/session"
	"lifeline/internal/storage"
	"lifeline/internal/toast"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, release, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer release()

	client, err := api.NewClient(api.Options{
		BaseURL:         cfg.APIBaseURL,
		Timeout:         cfg.APITimeout,
		Logger:          &logger,
		Locale:          cfg.Locale,
		UserAgent:       "lifeline-notifyd",
		BreakerFailures: uint32(cfg.BreakerFailures),
		BreakerCooldown: cfg.BreakerCooldown,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build api client")
	}

	sink := toast.Tee(toast.LogSink{Logger: logger}, toast.Func(func(t toast.Toast) {
		bell := ""
		if t.Sound {
			bell = "\a"
		}
		fmt.Fprintf(os.Stdout, "[%s] %s: %s%s\n", t.Level, t.Title, t.Message, bell)
	}))

	sess, err := session.New(session.Options{Client: client, Store: store, Logger: &logger, Toasts: sink})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start session")
	}
	defer sess.Close()

	unsubscribe := sess.Subscribe(func(ev session.Event) {
		if ev.Ends() {
			logger.Warn().Str("event", string(ev.Kind)).Msg("session ended; run `lifeline login` to resume")
		}
	})
	defer unsubscribe()

	if err := sess.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not restore session")
	}

	n, err := notify.New(ctx, sess, notify.Options{
		Store:    store,
		Toasts:   sink,
		Logger:   &logger,
		Interval: cfg.PollInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start notifications")
	}
	defer n.Close()

	if _, ok := sess.CurrentUser(); !ok {
		logger.Error().Msg("not signed in; run `lifeline login` and start notifyd again")
		return
	}
	logger.Info().Dur("interval", cfg.PollInterval).Msg("watching notifications")

	<-ctx.Done()
	logger.Info().Msg("notifyd stopped")
}
