// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"

	"github.com/xkonjin/telegram-monitor-vercel/internal/util/syncx"
)

// MemStore is an in-memory implementation of the [Store] interface. Its
// contents don't survive a process restart.
type MemStore struct {
	data *syncx.Protected[map[string][]byte]
}

// NewMemStore creates a new MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		data: syncx.Protect(make(map[string][]byte)),
	}
}

// Get retrieves a value for a given key.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	s.data.RAccess(func(data map[string][]byte) {
		if v, ok := data[key]; ok {
			// Return a copy to prevent the caller from mutating the stored value.
			val = append([]byte(nil), v...)
		}
	})
	return val, nil
}

// Set stores a value for a given key.
func (s *MemStore) Set(_ context.Context, key string, value []byte) error {
	valueCopy := append([]byte(nil), value...)
	s.data.Access(func(data map[string][]byte) {
		data[key] = valueCopy
	})
	return nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }
