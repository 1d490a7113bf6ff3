// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package alert classifies notifications by severity and delivers them to a
// single Telegram chat.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xkonjin/telegram-monitor-vercel/internal/telegram"
)

// Severity is a fixed-ordinal label controlling alert presentation only. It
// carries no retry or routing logic; every alert goes to the single
// configured destination.
type Severity string

// Severity levels, most to least urgent.
const (
	Critical Severity = "critical"
	High     Severity = "high"
	Medium   Severity = "medium"
	Low      Severity = "low"
)

// ParseSeverity maps a free-form severity string to a [Severity], defaulting
// to [Medium] for unknown values.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case Critical:
		return Critical
	case High:
		return High
	case Medium:
		return Medium
	case Low:
		return Low
	}
	return Medium
}

// Marker returns the fixed presentation marker for the severity.
func (s Severity) Marker() string {
	switch s {
	case Critical:
		return "🚨 CRITICAL"
	case High:
		return "❗ HIGH"
	case Low:
		return "💬 LOW"
	}
	return "⚠️ MEDIUM"
}

// Alert is a single notification. Alerts are ephemeral: they are consumed
// once by the dispatcher and never persisted.
type Alert struct {
	Message  string
	Severity Severity
	Source   string
	Context  string
}

// Sender delivers a formatted alert text. Implemented by
// [telegram.Sender].
type Sender interface {
	Send(ctx context.Context, text string, mode telegram.Mode) error
}

// Alerter formats alerts and hands them to a sender.
type Alerter struct {
	sender Sender
	slog   *slog.Logger
}

// New returns an Alerter delivering through sender.
func New(sender Sender, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{sender: sender, slog: logger}
}

// Send formats and delivers the alert, reporting whether delivery succeeded.
//
// On failure it logs locally and returns false; it does not retry, queue or
// escalate. The assumption is that at least one human watches the single
// channel and manual intervention covers delivery gaps.
func (a *Alerter) Send(ctx context.Context, al Alert) bool {
	if a.sender == nil {
		a.slog.Warn("alert dropped, no sender configured", slog.String("source", al.Source))
		return false
	}
	if err := a.sender.Send(ctx, Format(al), telegram.ModePlain); err != nil {
		a.slog.Warn("alert delivery failed",
			slog.String("source", al.Source),
			slog.String("severity", string(al.Severity)),
			slog.Any("err", err),
		)
		return false
	}
	return true
}

// Format renders the alert as message text.
func Format(al Alert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]\n%s", al.Severity.Marker(), al.Source, al.Message)
	if al.Context != "" {
		fmt.Fprintf(&sb, "\n\n%s", al.Context)
	}
	return sb.String()
}
