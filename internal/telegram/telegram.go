// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements message delivery over the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/xkonjin/telegram-monitor-vercel/internal/request"
)

const defaultAPIRoot = "https://api.telegram.org"

// maxMessageLen is the Telegram Bot API message length limit. Longer texts
// are truncated with a trailing ellipsis before sending.
const maxMessageLen = 4096

// Mode selects the formatting mode of an outgoing message.
type Mode string

// Supported formatting modes.
const (
	ModePlain    Mode = ""
	ModeMarkdown Mode = "Markdown"
	ModeHTML     Mode = "HTML"
)

// Config configures a Telegram sender.
type Config struct {
	// ChatID is the default destination chat.
	ChatID string
	// Token is the Telegram Bot API token.
	Token string
	// APIRoot overrides the Telegram Bot API URL. Used in tests.
	APIRoot    string
	HTTPClient *http.Client
	Scrubber   *strings.Replacer
	Logger     *slog.Logger
}

// Sender sends messages via Telegram Bot API.
type Sender struct {
	chatID      string
	token       string
	apiRoot     string
	httpc       *http.Client
	scrubber    *strings.Replacer
	slog        *slog.Logger
	makeRequest func(context.Context, string, any) error
}

// New returns a Telegram sender configured for a specific chat.
func New(cfg Config) *Sender {
	s := &Sender{
		chatID:   cfg.ChatID,
		token:    cfg.Token,
		apiRoot:  cfg.APIRoot,
		httpc:    cfg.HTTPClient,
		scrubber: cfg.Scrubber,
		slog:     cfg.Logger,
	}
	if s.apiRoot == "" {
		s.apiRoot = defaultAPIRoot
	}
	if s.httpc == nil {
		s.httpc = request.DefaultClient
	}
	if s.slog == nil {
		s.slog = slog.Default()
	}
	s.makeRequest = s.makeTelegramRequest
	return s
}

type message struct {
	ChatID             string `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// Send sends a message to the configured chat.
func (s *Sender) Send(ctx context.Context, text string, mode Mode) error {
	return s.SendTo(ctx, s.chatID, text, mode)
}

// SendTo sends a message to the given chat.
//
// Text longer than the Telegram message limit is truncated. If the API
// rejects a formatted message, sending is retried once with formatting
// disabled before giving up.
func (s *Sender) SendTo(ctx context.Context, chatID, text string, mode Mode) error {
	msg := &message{
		ChatID:    chatID,
		Text:      Truncate(text),
		ParseMode: string(mode),
	}
	msg.LinkPreviewOptions.IsDisabled = true

	err := s.makeRequest(ctx, "sendMessage", msg)
	if err == nil || mode == ModePlain || !isFormattingError(err) {
		return err
	}

	s.slog.Warn("send failed with formatting enabled, retrying as plain text",
		slog.String("chat_id", chatID),
		slog.Any("err", err),
	)
	msg.ParseMode = ""
	return s.makeRequest(ctx, "sendMessage", msg)
}

// Truncate shortens text to the Telegram message length limit, appending an
// ellipsis when anything was cut off.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageLen-1]) + "…"
}

// isFormattingError reports whether err looks like the Bot API rejecting
// message formatting, as opposed to a network failure or a bad token.
func isFormattingError(err error) bool {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusBadRequest
}

func (s *Sender) makeTelegramRequest(ctx context.Context, method string, args any) error {
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        s.apiRoot + "/bot" + s.token + "/" + method,
		Body:       args,
		HTTPClient: s.httpc,
		Scrubber:   s.scrubber,
	})
	return err
}
