// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/xkonjin/telegram-monitor-vercel/internal/testutil"
	"github.com/xkonjin/telegram-monitor-vercel/internal/web"
)

const (
	testToken         = "bot-token"
	testTGSecret      = "tg-secret"
	testWebhookSecret = "hook-secret"
	testClaudeSecret  = "claude-secret"
	testOwner         = int64(123456)
	testChatID        = "987654"
)

// fakeBotAPI is a minimal Telegram Bot API that records sent messages.
type fakeBotAPI struct {
	srv *httptest.Server

	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()

	f := &fakeBotAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot"+testToken+"/sendMessage" {
			http.NotFound(w, r)
			return
		}
		var msg sentMessage
		testutil.AssertNilError(t, json.NewDecoder(r.Body).Decode(&msg))
		f.mu.Lock()
		f.sent = append(f.sent, msg)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBotAPI) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeBotAPI) lastText(t *testing.T) string {
	t.Helper()
	msgs := f.messages()
	if len(msgs) == 0 {
		t.Fatal("no messages were sent")
	}
	return msgs[len(msgs)-1].Text
}

func testEngine(t *testing.T) (*engine, *fakeBotAPI) {
	t.Helper()

	tg := newFakeBotAPI(t)
	e := &engine{
		tgToken:         testToken,
		tgSecret:        testTGSecret,
		tgOwner:         testOwner,
		tgOwnerUsername: "xkonjin",
		chatID:          testChatID,
		webhookSecret:   testWebhookSecret,
		claudeSecret:    testClaudeSecret,
		tgAPIRoot:       tg.srv.URL,
		logf:            t.Logf,
	}
	testutil.AssertNilError(t, e.doInit(t.Context()))
	return e, tg
}

// sendUpdate delivers a Telegram update for a text message to the engine,
// authenticated with the webhook secret token.
func sendUpdate(e *engine, from int64, text string) *httptest.ResponseRecorder {
	body := fmt.Sprintf(`{"message":{"from":{"id":%d},"chat":{"id":%s},"text":%q}}`, from, testChatID, text)
	r := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(body))
	r.Header.Set("X-Telegram-Bot-Api-Secret-Token", testTGSecret)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	return w
}

func TestTelegramAuth(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	r := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(`{}`))
	r.Header.Set("X-Telegram-Bot-Api-Secret-Token", "wrong")
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusUnauthorized)
	testutil.AssertEqual(t, len(tg.messages()), 0)
}

func TestOwnerOnlyCommandDenied(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	w := sendUpdate(e, 666, "/task buy milk")
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	testutil.AssertEqual(t, tg.lastText(t), accessDenied)

	// The denied command changed nothing.
	testutil.AssertEqual(t, e.records.Stats(t.Context()).TotalTasks, 0)
}

func TestPublicCommands(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	sendUpdate(e, 666, "/start")
	if !strings.Contains(tg.lastText(t), "/help") {
		t.Fatalf("unexpected /start reply: %q", tg.lastText(t))
	}

	sendUpdate(e, 666, "/status")
	if !strings.Contains(tg.lastText(t), "Storage: memory") {
		t.Fatalf("unexpected /status reply: %q", tg.lastText(t))
	}
}

func TestTaskCommands(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	sendUpdate(e, testOwner, "/task high file taxes")
	testutil.AssertEqual(t, tg.lastText(t), "➕ Task #1 (high): file taxes")

	sendUpdate(e, testOwner, "/task water plants")
	testutil.AssertEqual(t, tg.lastText(t), "➕ Task #2 (medium): water plants")

	sendUpdate(e, testOwner, "/tasks")
	reply := tg.lastText(t)
	if !strings.Contains(reply, "#1 [high] file taxes") || !strings.Contains(reply, "#2 [medium] water plants") {
		t.Fatalf("unexpected /tasks reply: %q", reply)
	}

	sendUpdate(e, testOwner, "/done 1")
	testutil.AssertEqual(t, tg.lastText(t), "✅ Done: file taxes")

	sendUpdate(e, testOwner, "/done 42")
	testutil.AssertEqual(t, tg.lastText(t), "Task #42 not found.")

	sendUpdate(e, testOwner, "/find taxes")
	if !strings.Contains(tg.lastText(t), "file taxes") {
		t.Fatalf("unexpected /find reply: %q", tg.lastText(t))
	}
}

func TestOwnerByUsername(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	// A different user ID but the owner's username (case-insensitive).
	body := fmt.Sprintf(`{"message":{"from":{"id":1,"username":"XKonjin"},"chat":{"id":%s},"text":"/tasks"}}`, testChatID)
	r := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(body))
	r.Header.Set("X-Telegram-Bot-Api-Secret-Token", testTGSecret)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	testutil.AssertEqual(t, tg.lastText(t), "No pending tasks. 🎉")
}

func TestOwnerMessageRecorded(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	sendUpdate(e, testOwner, "I need to call Bob about the deploy tomorrow")
	reply := tg.lastText(t)
	if !strings.Contains(reply, "💾 Saved.") || !strings.Contains(reply, "➕ Task #1") {
		t.Fatalf("unexpected reply: %q", reply)
	}

	st := e.records.Stats(t.Context())
	testutil.AssertEqual(t, st.TotalMessages, 1)
	testutil.AssertEqual(t, st.TotalTasks, 1)
}

func TestStrangerMessageIgnored(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	w := sendUpdate(e, 666, "I need to call Bob about the deploy tomorrow")
	testutil.AssertEqual(t, w.Code, http.StatusOK)
	testutil.AssertEqual(t, len(tg.messages()), 0)
	testutil.AssertEqual(t, e.records.Stats(t.Context()).TotalMessages, 0)
}

func TestWebhookAuth(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	r := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	testutil.AssertEqual(t, w.Code, http.StatusUnauthorized)
	testutil.AssertEqual(t, len(tg.messages()), 0)
}

func TestWebhookGeneric(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	// The secret can travel in the payload for senders that can't set
	// headers.
	body := fmt.Sprintf(`{"secret":%q,"message":"disk almost full","severity":"high"}`, testWebhookSecret)
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(body))
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	resp := testutil.UnmarshalJSON[okResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, resp.Status, "ok")
	testutil.AssertEqual(t, *resp.Alerted, true)

	if !strings.Contains(tg.lastText(t), "❗ HIGH [webhook]\ndisk almost full") {
		t.Fatalf("unexpected alert text: %q", tg.lastText(t))
	}
}

func TestWebhookGitHub(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	body := `{"repository":{"full_name":"xkonjin/site"},"workflow_run":{"name":"CI","conclusion":"failure"}}`
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(body))
	r.Header.Set("X-Webhook-Secret", testWebhookSecret)
	r.Header.Set("X-GitHub-Event", "workflow_run")
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	if !strings.Contains(tg.lastText(t), `Workflow "CI" failed in xkonjin/site`) {
		t.Fatalf("unexpected alert text: %q", tg.lastText(t))
	}
}

func TestWebhookUnmatchedPayload(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	// A GitHub event with no alerting rule is acknowledged without alerting.
	r := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(`{}`))
	r.Header.Set("X-Webhook-Secret", testWebhookSecret)
	r.Header.Set("X-GitHub-Event", "star")
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	resp := testutil.UnmarshalJSON[okResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, *resp.Alerted, false)
	testutil.AssertEqual(t, len(tg.messages()), 0)
}

func TestClaudeNotify(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	r := httptest.NewRequest(http.MethodPost, "/api/claude-notify", strings.NewReader(`{
		"type": "decision",
		"message": "Tests are failing on main",
		"project": "telegram-monitor-vercel",
		"requiresDecision": true,
		"actions": ["revert", "fix forward"],
		"priority": "high"
	}`))
	r.Header.Set("X-Claude-Secret", testClaudeSecret)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	resp := testutil.UnmarshalJSON[okResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, resp.Status, "ok")

	text := tg.lastText(t)
	for _, want := range []string{
		"❗ HIGH [claude]",
		"Tests are failing on main",
		"Project: telegram-monitor-vercel",
		"⚖️ Decision required: revert / fix forward",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("alert text %q misses %q", text, want)
		}
	}
}

func TestClaudeNotifyAuth(t *testing.T) {
	t.Parallel()

	e, tg := testEngine(t)

	r := httptest.NewRequest(http.MethodPost, "/api/claude-notify", strings.NewReader(`{"message":"hi"}`))
	r.Header.Set("X-Claude-Secret", "wrong")
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusUnauthorized)
	testutil.AssertEqual(t, len(tg.messages()), 0)
}

func TestMonitorEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := testEngine(t)

	// Without the secret the trigger is refused.
	r := httptest.NewRequest(http.MethodGet, "/api/monitor", nil)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	testutil.AssertEqual(t, w.Code, http.StatusUnauthorized)

	r = httptest.NewRequest(http.MethodGet, "/api/monitor", nil)
	r.Header.Set("X-Webhook-Secret", testWebhookSecret)
	w = httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	type summary struct {
		EndpointsChecked int `json:"endpoints_checked"`
		AlertsGenerated  int `json:"alerts_generated"`
	}
	s := testutil.UnmarshalJSON[summary](t, w.Body.Bytes())
	testutil.AssertEqual(t, s.EndpointsChecked, 0)
	testutil.AssertEqual(t, s.AlertsGenerated, 0)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	e, _ := testEngine(t)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)

	testutil.AssertEqual(t, w.Code, http.StatusOK)
	hr := testutil.UnmarshalJSON[web.HealthResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, hr.OK, true)
	testutil.AssertEqual(t, hr.Checks["storage"].Status, "memory")
}
