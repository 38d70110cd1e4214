package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"lifeline/internal/api"
	"lifeline/internal/donation"
	"lifeline/internal/infra"
	"lifeline/internal/notify"
	"lifeline/internal/session"
	"lifeline/internal/storage"
	"lifeline/internal/toast"
	"lifeline/internal/users"
)

const version = "0.4.0"

// app is the per-invocation wiring: config, persisted store and the
// restored session.
type app struct {
	cfg     *infra.Config
	logger  infra.Logger
	store   storage.Store
	release func()
	session *session.Manager
	toasts  toast.Sink
	out     io.Writer
	title   cases.Caser
}

func openApp(ctx context.Context, out, errOut io.Writer) (*app, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLoggerTo(errOut, cfg.AppEnv)
	if !verbose {
		logger = logger.Level(zerolog.WarnLevel)
	}

	store, release, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	client, err := api.NewClient(api.Options{
		BaseURL:         cfg.APIBaseURL,
		Timeout:         cfg.APITimeout,
		Logger:          &logger,
		Locale:          cfg.Locale,
		UserAgent:       "lifeline-cli/" + version,
		BreakerFailures: uint32(cfg.BreakerFailures),
		BreakerCooldown: cfg.BreakerCooldown,
	})
	if err != nil {
		release()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		release: release,
		toasts:  printer{w: errOut},
		out:     out,
		title:   cases.Title(language.Make(cfg.Locale)),
	}
	a.session, err = session.New(session.Options{Client: client, Store: store, Logger: &logger, Toasts: a.toasts})
	if err != nil {
		release()
		return nil, err
	}
	if err := a.session.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not restore session")
	}
	return a, nil
}

func (a *app) close() {
	a.session.Close()
	a.release()
}

func (a *app) requests() *donation.Manager {
	return donation.NewManager(a.session, donation.Options{
		Toasts:   a.toasts,
		Logger:   &a.logger,
		Limit:    a.cfg.PageLimit,
		Debounce: a.cfg.SearchDebounce,
	})
}

func (a *app) users() *users.Manager {
	return users.NewManager(a.session, users.Options{
		Toasts:   a.toasts,
		Logger:   &a.logger,
		Limit:    a.cfg.PageLimit,
		Debounce: a.cfg.SearchDebounce,
	})
}

func (a *app) notifications(ctx context.Context) (*notify.Manager, error) {
	return notify.New(ctx, a.session, notify.Options{
		Store:  a.store,
		Toasts: a.toasts,
		Logger: &a.logger,
		Manual: true,
	})
}

// display turns a wire value such as "inprogress" into "Inprogress" for
// tables, in the configured locale.
func (a *app) display(s string) string {
	return a.title.String(s)
}

// emit prints v as JSON when --json is set, else calls table.
func (a *app) emit(v any, table func(w *tabwriter.Writer)) error {
	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

// printer shows notices on stderr.
type printer struct {
	w io.Writer
}

func (p printer) Show(t toast.Toast) {
	marker := map[toast.Level]string{
		toast.LevelSuccess: "✓",
		toast.LevelError:   "✗",
		toast.LevelWarning: "!",
	}[t.Level]
	if marker == "" {
		marker = "•"
	}
	line := marker + " " + t.Title
	if msg := strings.TrimSpace(t.Message); msg != "" {
		line += ": " + msg
	}
	if t.Sound {
		line += "\a"
	}
	fmt.Fprintln(p.w, line)
}
