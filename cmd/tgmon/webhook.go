// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/xkonjin/telegram-monitor-vercel/internal/alert"
	"github.com/xkonjin/telegram-monitor-vercel/internal/web"
	"github.com/xkonjin/telegram-monitor-vercel/internal/webhook"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// handleWebhook accepts webhooks from GitHub, Vercel and generic JSON
// senders, normalizes them into alerts and forwards them to Telegram.
func (e *engine) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		web.RespondJSONError(e.logf, w, web.ErrBadRequest)
		return
	}

	// The secret travels either in a header or, for senders that can't set
	// headers, in the payload itself.
	if e.webhookSecret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if got == "" {
			got = gjson.GetBytes(payload, "secret").String()
		}
		if got != e.webhookSecret {
			web.RespondJSONError(e.logf, w, web.ErrUnauthorized)
			return
		}
	}

	src := webhook.Detect(r.Header, payload)
	al, ok := webhook.Normalize(src, r.Header, payload)

	alerted := ok && e.alerter.Send(r.Context(), al)
	web.RespondJSON(w, okResponse{Status: "ok", Alerted: &alerted})
}

// claudeNotification is what coding agents running on other machines send to
// /api/claude-notify.
type claudeNotification struct {
	Type             string   `json:"type"`
	Message          string   `json:"message"`
	Context          string   `json:"context,omitempty"`
	Instance         string   `json:"instance,omitempty"`
	Project          string   `json:"project,omitempty"`
	RequiresDecision bool     `json:"requiresDecision,omitempty"`
	Actions          []string `json:"actions,omitempty"`
	Priority         string   `json:"priority,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
	Source           string   `json:"source,omitempty"`
}

func (e *engine) handleClaudeNotify(w http.ResponseWriter, r *http.Request) {
	if e.claudeSecret != "" && r.Header.Get("X-Claude-Secret") != e.claudeSecret {
		web.RespondJSONError(e.logf, w, web.ErrUnauthorized)
		return
	}

	var n claudeNotification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&n); err != nil {
		web.RespondJSONError(e.logf, w, fmt.Errorf("%w: %v", web.ErrBadRequest, err))
		return
	}
	if n.Message == "" {
		web.RespondJSONError(e.logf, w, fmt.Errorf("%w: missing message", web.ErrBadRequest))
		return
	}

	delivered := e.alerter.Send(r.Context(), n.toAlert())
	web.RespondJSON(w, okResponse{Status: "ok", Result: map[string]any{
		"delivered": delivered,
		"type":      cmp.Or(n.Type, "notification"),
	}})
}

// toAlert renders the notification as an alert. Agent notifications carry
// more structure than webhooks, so most of it lands in the alert context.
func (n claudeNotification) toAlert() alert.Alert {
	var ctx strings.Builder
	if n.Project != "" {
		fmt.Fprintf(&ctx, "Project: %s\n", n.Project)
	}
	if n.Instance != "" {
		fmt.Fprintf(&ctx, "Instance: %s\n", n.Instance)
	}
	if n.Context != "" {
		fmt.Fprintf(&ctx, "%s\n", n.Context)
	}
	if n.RequiresDecision {
		ctx.WriteString("⚖️ Decision required")
		if len(n.Actions) > 0 {
			fmt.Fprintf(&ctx, ": %s", strings.Join(n.Actions, " / "))
		}
		ctx.WriteString("\n")
	}

	severity := alert.ParseSeverity(n.Priority)
	if n.Type == "error" {
		severity = alert.High
	}

	return alert.Alert{
		Message:  n.Message,
		Severity: severity,
		Source:   cmp.Or(n.Source, "claude"),
		Context:  strings.TrimSuffix(ctx.String(), "\n"),
	}
}
