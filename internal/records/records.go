// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package records persists tasks and messages in a key-value store.
//
// Each collection is stored as a single serialized value under a fixed key;
// every write is a read-modify-write over the whole collection. When the
// durable backend errors, operations silently degrade to an in-process
// fallback store that doesn't survive a restart. Reads never distinguish
// "empty" from "backend down" beyond the storage-type label in [Stats].
package records

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xkonjin/telegram-monitor-vercel/internal/extract"
	"github.com/xkonjin/telegram-monitor-vercel/internal/store"
)

// Fixed keys in the backing key-value store.
const (
	keyTasks       = "tasks"
	keyMessages    = "messages"
	keyTaskCounter = "task_counter"
	keySettings    = "settings"
)

// defaultMaxMessages caps the message collection; insertion beyond the cap
// evicts the oldest entries.
const defaultMaxMessages = 1000

// minActionItemLen is the length (in runes) an extracted action item must
// exceed to become a task.
const minActionItemLen = 10

// autoExtractedTag marks tasks created as a side effect of message ingestion.
const autoExtractedTag = "auto-extracted"

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("no such task")

var errEmptyDescription = errors.New("task description must not be empty")
var errEmptyText = errors.New("message text must not be empty")

// Priority of a task.
type Priority string

// Task priorities.
const (
	High   Priority = "high"
	Medium Priority = "medium"
	Low    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	}
	return 0
}

// ParsePriority maps a free-form priority string to a [Priority], defaulting
// to [Medium] for unknown values.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case High:
		return High
	case Low:
		return Low
	}
	return Medium
}

// Status of a task. The only transition is pending → completed.
type Status string

// Task statuses.
const (
	Pending   Status = "pending"
	Completed Status = "completed"
)

// Task is a single tracked task.
type Task struct {
	ID          int64      `json:"id"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Tags        []string   `json:"tags,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Message is a single recorded message. Action items are extracted once at
// creation time and never recomputed.
type Message struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	SourceChat  string    `json:"source_chat"`
	Tags        []string  `json:"tags,omitempty"`
	ActionItems []string  `json:"action_items,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stats reports collection sizes and which storage currently serves
// operations.
type Stats struct {
	TotalTasks     int    `json:"total_tasks"`
	PendingTasks   int    `json:"pending_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	TotalMessages  int    `json:"total_messages"`
	StorageType    string `json:"storage_type"`
}

// Config configures a [Store].
type Config struct {
	// DB is the durable backend. A nil DB means everything lives in memory
	// from the start.
	DB store.Store
	// MaxMessages overrides the message retention cap. Zero means the
	// default of 1000.
	MaxMessages int
	Logger      *slog.Logger

	// Now and NewMessageID can be overridden in tests.
	Now          func() time.Time
	NewMessageID func() string
}

// Store owns the task and message collections. No other component mutates
// them directly.
//
// Concurrent invocations of the hosting process are unsynchronized: the
// whole-collection read-modify-write pattern can lose updates under
// concurrent writers. That is an accepted limitation of single-operator
// usage, not an invariant this type resolves.
type Store struct {
	mu sync.Mutex

	db          store.Store
	fallback    *store.MemStore
	degraded    atomic.Bool
	maxMessages int
	slog        *slog.Logger

	now   func() time.Time
	newID func() string
}

// New returns a Store over the given backend.
func New(cfg Config) *Store {
	s := &Store{
		db:          cfg.DB,
		fallback:    store.NewMemStore(),
		maxMessages: cfg.MaxMessages,
		slog:        cfg.Logger,
		now:         cfg.Now,
		newID:       cfg.NewMessageID,
	}
	if s.maxMessages <= 0 {
		s.maxMessages = defaultMaxMessages
	}
	if s.slog == nil {
		s.slog = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.db == nil {
		s.degraded.Store(true)
	}
	return s
}

// StorageType reports which storage currently serves operations: "durable"
// or "memory".
func (s *Store) StorageType() string {
	if s.degraded.Load() {
		return "memory"
	}
	return "durable"
}

// Ping reports whether the durable backend answers reads.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("no durable backend configured")
	}
	_, err := s.db.Get(ctx, keyTaskCounter)
	return err
}

// AddTask creates a pending task with the next sequential id and persists it.
func (s *Store) AddTask(ctx context.Context, description string, priority Priority, tags []string) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, errEmptyDescription
	}
	if priority.rank() == 0 {
		priority = Medium
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTaskLocked(ctx, description, priority, tags)
}

func (s *Store) addTaskLocked(ctx context.Context, description string, priority Priority, tags []string) (Task, error) {
	t := Task{
		ID:          s.nextTaskID(ctx),
		Description: description,
		Priority:    priority,
		Status:      Pending,
		Tags:        dedupeTags(tags),
		CreatedAt:   s.now(),
	}

	var tasks []Task
	s.load(ctx, keyTasks, &tasks)
	tasks = append(tasks, t)
	s.save(ctx, keyTasks, tasks)

	return t, nil
}

// CompleteTask transitions the task to completed. Completing an
// already-completed task is a no-op returning the current record. An unknown
// id yields [ErrNotFound].
func (s *Store) CompleteTask(ctx context.Context, id int64) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []Task
	s.load(ctx, keyTasks, &tasks)

	for i, t := range tasks {
		if t.ID != id {
			continue
		}
		if t.Status == Completed {
			return t, nil
		}
		now := s.now()
		tasks[i].Status = Completed
		tasks[i].CompletedAt = &now
		s.save(ctx, keyTasks, tasks)
		return tasks[i], nil
	}

	return Task{}, ErrNotFound
}

// PendingTasks returns up to limit pending tasks, highest priority first,
// newest first within a priority.
func (s *Store) PendingTasks(ctx context.Context, limit int) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []Task
	s.load(ctx, keyTasks, &tasks)

	pending := slices.DeleteFunc(tasks, func(t Task) bool {
		return t.Status != Pending
	})
	slices.SortStableFunc(pending, func(a, b Task) int {
		if d := b.Priority.rank() - a.Priority.rank(); d != 0 {
			return d
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return truncate(pending, limit)
}

// SearchTasks returns tasks whose description or tags contain keyword,
// case-insensitively, in stored order. A non-empty status restricts results
// to that status.
func (s *Store) SearchTasks(ctx context.Context, keyword string, status Status) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []Task
	s.load(ctx, keyTasks, &tasks)

	kw := strings.ToLower(keyword)
	var out []Task
	for _, t := range tasks {
		if status != "" && t.Status != status {
			continue
		}
		if strings.Contains(strings.ToLower(t.Description), kw) || containsFold(t.Tags, kw) {
			out = append(out, t)
		}
	}
	return out
}

// AddMessage records a message, deriving tags and action items from its
// text, and creates one auto-extracted task per sufficiently long action
// item. It returns the stored message and the tasks it spawned.
func (s *Store) AddMessage(ctx context.Context, text, sourceChat string, tags []string) (Message, []Task, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, nil, errEmptyText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := Message{
		ID:          s.newID(),
		Text:        text,
		SourceChat:  sourceChat,
		Tags:        dedupeTags(append(extract.AutoTags(text), tags...)),
		ActionItems: extract.ActionItems(text),
		Timestamp:   s.now(),
	}

	var messages []Message
	s.load(ctx, keyMessages, &messages)
	messages = append(messages, m)
	// Enforce retention synchronously on every insert, oldest evicted first.
	if len(messages) > s.maxMessages {
		messages = messages[len(messages)-s.maxMessages:]
	}
	s.save(ctx, keyMessages, messages)

	var spawned []Task
	for _, item := range m.ActionItems {
		if utf8.RuneCountInString(item) <= minActionItemLen {
			continue
		}
		t, err := s.addTaskLocked(ctx, item, Medium, []string{autoExtractedTag, sourceChat})
		if err != nil {
			continue
		}
		spawned = append(spawned, t)
	}

	return m, spawned, nil
}

// SearchMessages returns up to limit messages containing keyword in text,
// tags or source chat, newest first.
func (s *Store) SearchMessages(ctx context.Context, keyword string, limit int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []Message
	s.load(ctx, keyMessages, &messages)

	kw := strings.ToLower(keyword)
	var out []Message
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m.Text), kw) ||
			strings.Contains(strings.ToLower(m.SourceChat), kw) ||
			containsFold(m.Tags, kw) {
			out = append(out, m)
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit)
}

// RecentMessages returns up to limit messages from the last hours hours,
// newest first.
func (s *Store) RecentMessages(ctx context.Context, hours, limit int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []Message
	s.load(ctx, keyMessages, &messages)

	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)
	var out []Message
	for _, m := range messages {
		if m.Timestamp.After(cutoff) {
			out = append(out, m)
		}
	}
	sortNewestFirst(out)
	return truncate(out, limit)
}

// Setting returns the stored per-operator setting for key, or "".
func (s *Store) Setting(ctx context.Context, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := make(map[string]string)
	s.load(ctx, keySettings, &settings)
	return settings[key]
}

// SetSetting stores a per-operator setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := make(map[string]string)
	s.load(ctx, keySettings, &settings)
	settings[key] = value
	s.save(ctx, keySettings, settings)
}

// Stats returns collection statistics and the storage-type label.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		tasks    []Task
		messages []Message
	)
	s.load(ctx, keyTasks, &tasks)
	s.load(ctx, keyMessages, &messages)

	st := Stats{
		TotalTasks:    len(tasks),
		TotalMessages: len(messages),
		StorageType:   s.StorageType(),
	}
	for _, t := range tasks {
		if t.Status == Pending {
			st.PendingTasks++
		} else {
			st.CompletedTasks++
		}
	}
	return st
}

func (s *Store) nextTaskID(ctx context.Context) int64 {
	var counter int64
	s.load(ctx, keyTaskCounter, &counter)
	counter++
	s.save(ctx, keyTaskCounter, counter)
	return counter
}

// load reads and unmarshals the value under key into v. Backend errors are
// treated as "nothing stored yet": v is left untouched and the error is only
// logged.
func (s *Store) load(ctx context.Context, key string, v any) {
	b, err := s.active().Get(ctx, key)
	if err != nil {
		s.slog.Warn("storage read failed, treating as empty", slog.String("key", key), slog.Any("err", err))
		b, _ = s.fallback.Get(ctx, key)
	}
	if b == nil {
		return
	}
	if err := json.Unmarshal(b, v); err != nil {
		s.slog.Warn("corrupt stored value, treating as empty", slog.String("key", key), slog.Any("err", err))
	}
}

// save marshals v and writes it under key, reporting whether the write went
// to durable storage. A failed durable write degrades the store to the
// in-process fallback; it never raises.
func (s *Store) save(ctx context.Context, key string, v any) (durable bool) {
	b, err := json.Marshal(v)
	if err != nil {
		s.slog.Warn("marshaling value failed", slog.String("key", key), slog.Any("err", err))
		return false
	}

	if !s.degraded.Load() {
		err := s.db.Set(ctx, key, b)
		if err == nil {
			return true
		}
		s.slog.Warn("durable write failed, falling back to memory", slog.String("key", key), slog.Any("err", err))
		s.degraded.Store(true)
	}

	if err := s.fallback.Set(ctx, key, b); err != nil {
		s.slog.Warn("fallback write failed", slog.String("key", key), slog.Any("err", err))
	}
	return false
}

func (s *Store) active() store.Store {
	if s.degraded.Load() {
		return s.fallback
	}
	return s.db
}

// dedupeTags removes duplicate tags case-insensitively, preserving the case
// and position of the first occurrence.
func dedupeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

func containsFold(tags []string, lowerKeyword string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), lowerKeyword) {
			return true
		}
	}
	return false
}

func sortNewestFirst(messages []Message) {
	slices.SortStableFunc(messages, func(a, b Message) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
}

func truncate[S ~[]E, E any](s S, limit int) S {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
