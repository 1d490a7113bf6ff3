// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/xkonjin/telegram-monitor-vercel/internal/request"
	"github.com/xkonjin/telegram-monitor-vercel/internal/testutil"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	short := "hello"
	testutil.AssertEqual(t, Truncate(short), short)

	long := strings.Repeat("а", maxMessageLen+100) // Cyrillic, multibyte
	got := Truncate(long)
	testutil.AssertEqual(t, utf8.RuneCountInString(got), maxMessageLen)
	if !strings.HasSuffix(got, "…") {
		t.Fatal("truncated text has no ellipsis")
	}

	exact := strings.Repeat("x", maxMessageLen)
	testutil.AssertEqual(t, Truncate(exact), exact)
}

func TestSendRetriesPlainOnFormattingError(t *testing.T) {
	t.Parallel()

	s := New(Config{ChatID: "123", Token: "test"})

	var sent []*message
	s.makeRequest = func(ctx context.Context, method string, args any) error {
		msg := *args.(*message)
		sent = append(sent, &msg)
		if msg.ParseMode != "" {
			return &request.StatusError{StatusCode: http.StatusBadRequest}
		}
		return nil
	}

	err := s.Send(t.Context(), "*broken markdown", ModeMarkdown)
	testutil.AssertNilError(t, err)

	testutil.AssertEqual(t, len(sent), 2)
	testutil.AssertEqual(t, sent[0].ParseMode, "Markdown")
	testutil.AssertEqual(t, sent[1].ParseMode, "")
	testutil.AssertEqual(t, sent[1].Text, "*broken markdown")
}

func TestSendDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		mode Mode
		err  error
	}{
		"unauthorized": {
			mode: ModeMarkdown,
			err:  &request.StatusError{StatusCode: http.StatusUnauthorized},
		},
		"network failure": {
			mode: ModeHTML,
			err:  errors.New("connection refused"),
		},
		"already plain": {
			mode: ModePlain,
			err:  &request.StatusError{StatusCode: http.StatusBadRequest},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := New(Config{ChatID: "123", Token: "test"})

			var calls int
			s.makeRequest = func(ctx context.Context, method string, args any) error {
				calls++
				return tc.err
			}

			if err := s.Send(t.Context(), "hi", tc.mode); err == nil {
				t.Fatal("expected an error")
			}
			testutil.AssertEqual(t, calls, 1)
		})
	}
}

func TestSendToOverridesChat(t *testing.T) {
	t.Parallel()

	s := New(Config{ChatID: "default", Token: "test"})

	var gotChat string
	s.makeRequest = func(ctx context.Context, method string, args any) error {
		gotChat = args.(*message).ChatID
		return nil
	}

	testutil.AssertNilError(t, s.SendTo(t.Context(), "other", "hi", ModePlain))
	testutil.AssertEqual(t, gotChat, "other")
}

func TestSendAgainstFakeAPI(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody []byte
	tg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer tg.Close()

	s := New(Config{
		ChatID:  "123",
		Token:   "secret-token",
		APIRoot: tg.URL,
	})

	testutil.AssertNilError(t, s.Send(t.Context(), "hello", ModePlain))
	testutil.AssertEqual(t, gotPath, "/botsecret-token/sendMessage")

	msg := testutil.UnmarshalJSON[map[string]any](t, gotBody)
	testutil.AssertEqual(t, msg["chat_id"], "123")
	testutil.AssertEqual(t, msg["text"], "hello")
}
