// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xkonjin/telegram-monitor-vercel/internal/records"
	"github.com/xkonjin/telegram-monitor-vercel/internal/telegram"
	"github.com/xkonjin/telegram-monitor-vercel/internal/version"
	"github.com/xkonjin/telegram-monitor-vercel/internal/web"
)

const accessDenied = "⛔ You are not authorized to use this command."

// update is the subset of the Telegram Bot API Update object the bot cares
// about.
type update struct {
	Message struct {
		From struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// command is a single bot command.
type command struct {
	name      string
	help      string
	ownerOnly bool
	handler   func(ctx context.Context, args string) string
}

func (e *engine) commands() []command {
	return []command{
		{"start", "say hello", false, e.cmdStart},
		{"help", "list commands", false, e.cmdHelp},
		{"status", "show service status", false, e.cmdStatus},
		{"task", "add a task: /task [high|medium|low] description", true, e.cmdTask},
		{"tasks", "list pending tasks", true, e.cmdTasks},
		{"done", "complete a task: /done id", true, e.cmdDone},
		{"find", "search tasks and messages: /find keyword", true, e.cmdFind},
		{"recent", "show recent messages: /recent [hours]", true, e.cmdRecent},
		{"monitor", "run monitoring now", true, e.cmdMonitor},
	}
}

func (e *engine) handleTelegram(w http.ResponseWriter, r *http.Request) {
	if e.tgSecret != "" && r.Header.Get("X-Telegram-Bot-Api-Secret-Token") != e.tgSecret {
		web.RespondJSONError(e.logf, w, web.ErrUnauthorized)
		return
	}

	var upd update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		web.RespondJSONError(e.logf, w, fmt.Errorf("%w: %v", web.ErrBadRequest, err))
		return
	}

	// Anything that isn't a text message is acknowledged and dropped,
	// otherwise Telegram redelivers it forever.
	if upd.Message.Text != "" {
		e.handleMessage(r.Context(), upd)
	}
	web.RespondJSON(w, okResponse{Status: "ok"})
}

type okResponse struct {
	Status  string `json:"status"`
	Alerted *bool  `json:"alerted,omitempty"`
	Result  any    `json:"result,omitempty"`
}

func (e *engine) handleMessage(ctx context.Context, upd update) {
	var (
		chatID  = strconv.FormatInt(upd.Message.Chat.ID, 10)
		text    = upd.Message.Text
		isOwner = e.isOwner(upd)
	)

	reply := func(text string) {
		if err := e.tg.SendTo(ctx, chatID, text, telegram.ModePlain); err != nil {
			e.slog.Warn("sending reply failed", slog.String("chat_id", chatID), slog.Any("err", err))
		}
	}

	if !strings.HasPrefix(text, "/") {
		// Non-command text from the owner is recorded as a message; everyone
		// else is ignored.
		if isOwner {
			reply(e.recordMessage(ctx, text, chatID))
		}
		return
	}

	name, args, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	name, _, _ = strings.Cut(name, "@") // /help@botname
	args = strings.TrimSpace(args)

	for _, cmd := range e.commands() {
		if cmd.name != name {
			continue
		}
		if cmd.ownerOnly && !isOwner {
			reply(accessDenied)
			return
		}
		reply(cmd.handler(ctx, args))
		return
	}
	// Unknown commands are ignored.
}

// isOwner reports whether the update came from the bot owner, matched by
// user ID or, as a fallback, by username.
func (e *engine) isOwner(upd update) bool {
	if e.tgOwner != 0 && upd.Message.From.ID == e.tgOwner {
		return true
	}
	return e.tgOwnerUsername != "" && strings.EqualFold(upd.Message.From.Username, e.tgOwnerUsername)
}

// recordMessage stores the owner's free-form text and reports what was
// captured from it.
func (e *engine) recordMessage(ctx context.Context, text, chatID string) string {
	m, spawned, err := e.records.AddMessage(ctx, text, chatID, nil)
	if err != nil {
		return fmt.Sprintf("Failed to save message: %v", err)
	}

	var sb strings.Builder
	sb.WriteString("💾 Saved.")
	if len(m.Tags) > 0 {
		fmt.Fprintf(&sb, " Tags: %s.", strings.Join(m.Tags, ", "))
	}
	for _, t := range spawned {
		fmt.Fprintf(&sb, "\n➕ Task #%d: %s", t.ID, t.Description)
	}
	return sb.String()
}

func (e *engine) cmdStart(ctx context.Context, args string) string {
	return "👋 Hi! I keep your tasks and notes and watch your deployments. Send /help to see what I can do."
}

func (e *engine) cmdHelp(ctx context.Context, args string) string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, cmd := range e.commands() {
		fmt.Fprintf(&sb, "/%s - %s\n", cmd.name, cmd.help)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (e *engine) cmdStatus(ctx context.Context, args string) string {
	st := e.records.Stats(ctx)
	return fmt.Sprintf(
		"%s %s\nStorage: %s\nTasks: %d pending, %d completed\nMessages: %d",
		version.CmdName(), version.Version().Version,
		st.StorageType,
		st.PendingTasks, st.CompletedTasks,
		st.TotalMessages,
	)
}

func (e *engine) cmdTask(ctx context.Context, args string) string {
	if args == "" {
		return "Usage: /task [high|medium|low] description"
	}

	priority := records.Medium
	if first, rest, ok := strings.Cut(args, " "); ok {
		switch strings.ToLower(first) {
		case "high", "medium", "low":
			priority = records.ParsePriority(first)
			args = strings.TrimSpace(rest)
		}
	}

	t, err := e.records.AddTask(ctx, args, priority, nil)
	if err != nil {
		return fmt.Sprintf("Failed to add task: %v", err)
	}
	return fmt.Sprintf("➕ Task #%d (%s): %s", t.ID, t.Priority, t.Description)
}

func (e *engine) cmdTasks(ctx context.Context, args string) string {
	tasks := e.records.PendingTasks(ctx, 20)
	if len(tasks) == 0 {
		return "No pending tasks. 🎉"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pending tasks (%d):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&sb, "#%d [%s] %s\n", t.ID, t.Priority, t.Description)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (e *engine) cmdDone(ctx context.Context, args string) string {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return "Usage: /done id"
	}

	t, err := e.records.CompleteTask(ctx, id)
	if err != nil {
		return fmt.Sprintf("Task #%d not found.", id)
	}
	return fmt.Sprintf("✅ Done: %s", t.Description)
}

func (e *engine) cmdFind(ctx context.Context, args string) string {
	if args == "" {
		return "Usage: /find keyword"
	}

	var sb strings.Builder
	tasks := e.records.SearchTasks(ctx, args, "")
	messages := e.records.SearchMessages(ctx, args, 10)
	if len(tasks) == 0 && len(messages) == 0 {
		return fmt.Sprintf("Nothing found for %q.", args)
	}
	for _, t := range tasks {
		fmt.Fprintf(&sb, "#%d [%s/%s] %s\n", t.ID, t.Priority, t.Status, t.Description)
	}
	for _, m := range messages {
		fmt.Fprintf(&sb, "💬 %s: %s\n", m.Timestamp.Format("Jan 2 15:04"), m.Text)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (e *engine) cmdRecent(ctx context.Context, args string) string {
	hours := 24
	if args != "" {
		h, err := strconv.Atoi(args)
		if err != nil || h <= 0 {
			return "Usage: /recent [hours]"
		}
		hours = h
	}

	messages := e.records.RecentMessages(ctx, hours, 10)
	if len(messages) == 0 {
		return fmt.Sprintf("No messages in the last %d hours.", hours)
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "💬 %s: %s\n", m.Timestamp.Format("Jan 2 15:04"), m.Text)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func (e *engine) cmdMonitor(ctx context.Context, args string) string {
	s := e.runner.Run(ctx)
	return fmt.Sprintf(
		"Checked %d endpoints in %v: %d healthy, %d alerts.",
		s.EndpointsChecked, s.Duration.Round(time.Millisecond), s.HealthyCount, s.AlertsGenerated,
	)
}
