// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package monitor probes HTTP endpoints and raises alerts for unhealthy or
// slow ones.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/xkonjin/telegram-monitor-vercel/internal/alert"
	"github.com/xkonjin/telegram-monitor-vercel/internal/version"
)

// Defaults for tunables that deployments rarely override.
const (
	DefaultThreshold    = 5 * time.Second
	DefaultSlowFraction = 0.8
	DefaultMemoryCap    = 512 << 20 // 512 MiB
)

// Result is the outcome of probing a single endpoint. It is ephemeral and
// never persisted.
type Result struct {
	URL          string        `json:"url"`
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
	Healthy      bool          `json:"healthy"`
	// Err is set only for network-level failures (DNS, connection refused,
	// timeout). It stays empty for plain non-2xx responses.
	Err string `json:"error,omitempty"`
}

// Summary aggregates one monitoring run.
type Summary struct {
	EndpointsChecked int           `json:"endpoints_checked"`
	HealthyCount     int           `json:"healthy_count"`
	AlertsGenerated  int           `json:"alerts_generated"`
	StartTime        time.Time     `json:"start_time"`
	Duration         time.Duration `json:"duration"`
}

// Alerter dispatches a single alert. Implemented by [alert.Alerter].
type Alerter interface {
	Send(ctx context.Context, al alert.Alert) bool
}

// Config configures a [Runner].
type Config struct {
	// Endpoints are probed in configuration order. Duplicates are probed
	// independently; an empty list is not an error.
	Endpoints []string
	// Threshold is the response time above which an endpoint counts as
	// unhealthy. Zero means DefaultThreshold.
	Threshold time.Duration
	// SlowFraction is the fraction of Threshold at which a healthy endpoint
	// triggers an early "slow response" warning. Zero means
	// DefaultSlowFraction.
	SlowFraction float64
	// MemoryCap is the heap size above which a memory alert is raised.
	// Zero means DefaultMemoryCap.
	MemoryCap uint64
	// SelfCheck reports deployment/runtime health before probing starts.
	// A nil SelfCheck always passes.
	SelfCheck  func(ctx context.Context) error
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Runner executes monitoring runs.
type Runner struct {
	endpoints    []string
	threshold    time.Duration
	slowFraction float64
	memoryCap    uint64
	selfCheck    func(ctx context.Context) error
	alerter      Alerter
	slog         *slog.Logger

	// test hooks
	probe    func(ctx context.Context, url string) Result
	memUsage func() uint64
}

// New returns a Runner raising alerts through alerter.
func New(cfg Config, alerter Alerter) *Runner {
	r := &Runner{
		endpoints:    cfg.Endpoints,
		threshold:    cfg.Threshold,
		slowFraction: cfg.SlowFraction,
		memoryCap:    cfg.MemoryCap,
		selfCheck:    cfg.SelfCheck,
		alerter:      alerter,
		slog:         cfg.Logger,
	}
	if r.threshold <= 0 {
		r.threshold = DefaultThreshold
	}
	if r.slowFraction <= 0 || r.slowFraction > 1 {
		r.slowFraction = DefaultSlowFraction
	}
	if r.memoryCap == 0 {
		r.memoryCap = DefaultMemoryCap
	}
	if r.slog == nil {
		r.slog = slog.Default()
	}

	p := &prober{
		httpc:   cfg.HTTPClient,
		timeout: r.threshold,
	}
	r.probe = p.probe
	r.memUsage = heapAlloc

	return r
}

// Run performs one monitoring pass: a self-check, one sequential probe per
// configured endpoint and a memory usage check. One endpoint's failure never
// aborts the loop. Run never returns an error; everything it finds is
// reported through the alerter and the returned summary.
func (r *Runner) Run(ctx context.Context) Summary {
	s := Summary{StartTime: time.Now()}

	if err := r.runSelfCheck(ctx); err != nil {
		r.dispatch(ctx, &s, alert.Alert{
			Message:  fmt.Sprintf("Self-check failed: %v", err),
			Severity: alert.Critical,
			Source:   "monitor",
		})
	}

	for _, url := range r.endpoints {
		res := r.probe(ctx, url)
		s.EndpointsChecked++

		r.slog.Debug("probed endpoint",
			slog.String("url", res.URL),
			slog.Int("status", res.StatusCode),
			slog.Duration("response_time", res.ResponseTime),
			slog.Bool("healthy", res.Healthy),
		)

		if !res.Healthy {
			sev := alert.High
			msg := fmt.Sprintf("%s is unhealthy (status %d, %v)", res.URL, res.StatusCode, res.ResponseTime.Round(time.Millisecond))
			if res.Err != "" {
				sev = alert.Critical
				msg = fmt.Sprintf("%s is unreachable: %s", res.URL, res.Err)
			}
			r.dispatch(ctx, &s, alert.Alert{Message: msg, Severity: sev, Source: "monitor"})
			continue
		}

		s.HealthyCount++

		if float64(res.ResponseTime) >= r.slowFraction*float64(r.threshold) {
			r.dispatch(ctx, &s, alert.Alert{
				Message:  fmt.Sprintf("%s responds slowly (%v, threshold %v)", res.URL, res.ResponseTime.Round(time.Millisecond), r.threshold),
				Severity: alert.Medium,
				Source:   "monitor",
			})
		}
	}

	if used := r.memUsage(); used > r.memoryCap {
		r.dispatch(ctx, &s, alert.Alert{
			Message:  fmt.Sprintf("Memory usage is high: %d MiB used, cap %d MiB", used>>20, r.memoryCap>>20),
			Severity: alert.Medium,
			Source:   "monitor",
		})
	}

	s.Duration = time.Since(s.StartTime)
	return s
}

func (r *Runner) runSelfCheck(ctx context.Context) error {
	if r.selfCheck == nil {
		return nil
	}
	return r.selfCheck(ctx)
}

func (r *Runner) dispatch(ctx context.Context, s *Summary, al alert.Alert) {
	s.AlertsGenerated++
	if r.alerter == nil {
		return
	}
	r.alerter.Send(ctx, al)
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}

// prober issues single bounded GET requests.
type prober struct {
	httpc   *http.Client
	timeout time.Duration
}

// probe performs one GET request to url, measuring elapsed wall time
// regardless of outcome. It never fails: network errors, timeouts and
// non-success statuses are all represented in the returned Result.
func (p *prober) probe(ctx context.Context, url string) Result {
	res := Result{URL: url}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		res.ResponseTime = time.Since(start)
		res.Err = err.Error()
		return res
	}
	req.Header.Set("User-Agent", version.UserAgent())

	httpc := p.httpc
	if httpc == nil {
		httpc = http.DefaultClient
	}

	resp, err := httpc.Do(req)
	res.ResponseTime = time.Since(start)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300 && res.ResponseTime < p.timeout
	return res
}
