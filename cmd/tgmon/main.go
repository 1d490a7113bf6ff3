// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xkonjin/telegram-monitor-vercel/internal/alert"
	"github.com/xkonjin/telegram-monitor-vercel/internal/cli"
	"github.com/xkonjin/telegram-monitor-vercel/internal/logger"
	"github.com/xkonjin/telegram-monitor-vercel/internal/monitor"
	"github.com/xkonjin/telegram-monitor-vercel/internal/records"
	"github.com/xkonjin/telegram-monitor-vercel/internal/store"
	"github.com/xkonjin/telegram-monitor-vercel/internal/telegram"
	"github.com/xkonjin/telegram-monitor-vercel/internal/util/syncx"
	"github.com/xkonjin/telegram-monitor-vercel/internal/web"
)

func main() { cli.Main(new(engine)) }

type engine struct {
	init syncx.Lazy[error] // main initialization

	// initialized by doInit
	logf     logger.Logf
	slog     *slog.Logger
	mux      *http.ServeMux
	scrubber *strings.Replacer
	db       store.Store
	records  *records.Store
	tg       *telegram.Sender
	alerter  *alert.Alerter
	runner   *monitor.Runner

	// configuration, read-only after initialization
	addr            string
	chatID          string
	claudeSecret    string
	dbPath          string
	httpc           *http.Client
	monitorInterval time.Duration
	tgAPIRoot       string
	tgOwner         int64
	tgOwnerUsername string
	tgSecret        string
	tgToken         string
	webhookSecret   string
	monitorCfg      monitor.Config

	// for tests
	noServerStart bool
	ready         func() // see web.ListenAndServeConfig.Ready
}

func (e *engine) Run(ctx context.Context, env *cli.Env) error {
	// Load configuration from environment variables.
	e.tgToken = cmp.Or(e.tgToken, env.Getenv("TG_TOKEN"))
	e.tgSecret = cmp.Or(e.tgSecret, env.Getenv("TG_SECRET"))
	e.tgOwner = cmp.Or(e.tgOwner, parseInt(env.Getenv("TG_OWNER")))
	e.tgOwnerUsername = cmp.Or(e.tgOwnerUsername, env.Getenv("TG_OWNER_USERNAME"))
	e.chatID = cmp.Or(e.chatID, env.Getenv("CHAT_ID"))
	e.webhookSecret = cmp.Or(e.webhookSecret, env.Getenv("WEBHOOK_SECRET"))
	e.claudeSecret = cmp.Or(e.claudeSecret, env.Getenv("CLAUDE_WEBHOOK_SECRET"), e.webhookSecret)
	e.dbPath = cmp.Or(e.dbPath, env.Getenv("DB"))
	e.addr = cmp.Or(e.addr, ":"+cmp.Or(env.Getenv("PORT"), "3000"))

	if e.monitorCfg.Endpoints == nil {
		if endpoints := env.Getenv("MONITOR_ENDPOINTS"); endpoints != "" {
			for _, u := range strings.Split(endpoints, ",") {
				if u = strings.TrimSpace(u); u != "" {
					e.monitorCfg.Endpoints = append(e.monitorCfg.Endpoints, u)
				}
			}
		}
	}
	e.monitorCfg.Threshold = cmp.Or(e.monitorCfg.Threshold, parseDuration(env.Getenv("MONITOR_THRESHOLD")))
	e.monitorCfg.SlowFraction = cmp.Or(e.monitorCfg.SlowFraction, parseFloat(env.Getenv("MONITOR_SLOW_FRACTION")))
	if mib := parseInt(env.Getenv("MONITOR_MEMORY_CAP")); mib > 0 && e.monitorCfg.MemoryCap == 0 {
		e.monitorCfg.MemoryCap = uint64(mib) << 20
	}
	e.monitorInterval = cmp.Or(e.monitorInterval, parseDuration(env.Getenv("MONITOR_INTERVAL")))

	e.logf = env.Logf

	if err := e.init.Get(func() error {
		return e.doInit(ctx)
	}); err != nil {
		return err
	}
	if e.db != nil {
		defer e.db.Close()
	}

	// Used in tests.
	if e.noServerStart {
		return nil
	}

	if e.monitorInterval > 0 {
		go e.monitorLoop(ctx)
	}

	return web.ListenAndServe(ctx, &web.ListenAndServeConfig{
		Addr:  e.addr,
		Mux:   e.mux,
		Logf:  e.logf,
		Ready: e.ready,
	})
}

func (e *engine) doInit(ctx context.Context) error {
	if e.tgToken == "" {
		return errors.New("missing environment variable TG_TOKEN")
	}
	if e.chatID == "" {
		return errors.New("missing environment variable CHAT_ID")
	}
	if e.logf == nil {
		e.logf = log.Printf
	}
	e.slog = slog.New(slog.NewTextHandler(e.logf, nil))

	var scrubPairs []string
	for _, val := range []string{
		e.tgToken,
		e.tgSecret,
		e.webhookSecret,
		e.claudeSecret,
	} {
		if val != "" {
			scrubPairs = append(scrubPairs, val, "[EXPUNGED]")
		}
	}
	if len(scrubPairs) > 0 {
		e.scrubber = strings.NewReplacer(scrubPairs...)
	}

	var err error
	e.db, err = openStore(ctx, e.dbPath)
	if err != nil {
		// Per the degradation policy everything still works from memory;
		// the operator learns about it from logs and /status.
		e.slog.Warn("opening durable storage failed, running from memory",
			slog.String("db", e.dbPath),
			slog.Any("err", err),
		)
		e.db = nil
	}

	e.records = records.New(records.Config{
		DB:     e.db,
		Logger: e.slog,
	})
	e.tg = telegram.New(telegram.Config{
		ChatID:     e.chatID,
		Token:      e.tgToken,
		APIRoot:    e.tgAPIRoot,
		HTTPClient: e.httpc,
		Scrubber:   e.scrubber,
		Logger:     e.slog,
	})
	e.alerter = alert.New(e.tg, e.slog)

	mcfg := e.monitorCfg
	mcfg.SelfCheck = e.selfCheck
	mcfg.HTTPClient = e.httpc
	mcfg.Logger = e.slog
	e.runner = monitor.New(mcfg, e.alerter)

	e.initRoutes()

	return nil
}

func (e *engine) initRoutes() {
	e.mux = http.NewServeMux()
	e.mux.HandleFunc("POST /telegram", e.handleTelegram)
	e.mux.HandleFunc("POST /api/webhook", e.handleWebhook)
	e.mux.HandleFunc("POST /api/claude-notify", e.handleClaudeNotify)
	e.mux.HandleFunc("GET /api/monitor", e.handleMonitor)

	health := web.Health(e.mux)
	health.RegisterFunc("telegram", func() (string, bool) {
		return "configured", true
	})
	health.RegisterFunc("storage", func() (string, bool) {
		return e.records.StorageType(), true
	})
}

// selfCheck reports whether the deployment is able to do its job: credentials
// are present and the durable backend, if configured, answers.
func (e *engine) selfCheck(ctx context.Context) error {
	if e.tgToken == "" || e.chatID == "" {
		return errors.New("telegram credentials are not configured")
	}
	if e.db == nil {
		return nil
	}
	if err := e.records.Ping(ctx); err != nil {
		return fmt.Errorf("durable storage: %w", err)
	}
	return nil
}

func (e *engine) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s := e.runner.Run(ctx)
			e.slog.Info("monitoring run finished",
				slog.Int("endpoints", s.EndpointsChecked),
				slog.Int("healthy", s.HealthyCount),
				slog.Int("alerts", s.AlertsGenerated),
				slog.Duration("took", s.Duration),
			)
		case <-ctx.Done():
			return
		}
	}
}

func (e *engine) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if e.webhookSecret != "" && r.Header.Get("X-Webhook-Secret") != e.webhookSecret {
		web.RespondJSONError(e.logf, w, web.ErrUnauthorized)
		return
	}
	web.RespondJSON(w, e.runner.Run(r.Context()))
}

// openStore picks a storage backend based on the DB setting: a postgres://
// URL, a SQLite database path, a JSON file path or nothing.
func openStore(ctx context.Context, path string) (store.Store, error) {
	switch {
	case path == "":
		return nil, nil
	case strings.HasPrefix(path, "postgres://"), strings.HasPrefix(path, "postgresql://"):
		return store.NewPostgresStore(ctx, path)
	case strings.HasSuffix(path, ".db"), strings.HasSuffix(path, ".sqlite"):
		return store.NewSQLiteStore(ctx, path)
	default:
		return store.NewJSONFile(path)
	}
}

func parseInt(s string) int64 {
	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return i
	}
	return 0
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return f
	}
	return 0
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d
	}
	return 0
}
