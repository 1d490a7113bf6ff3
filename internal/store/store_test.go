// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"path/filepath"
	"testing"

	"github.com/xkonjin/telegram-monitor-vercel/internal/testutil"
)

func TestMemStore(t *testing.T) {
	t.Parallel()
	testRoundtrip(t, NewMemStore())
}

func TestJSONFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")
	s, err := NewJSONFile(path)
	testutil.AssertNilError(t, err)
	testRoundtrip(t, s)

	// Reopening the same file sees the stored values.
	testutil.AssertNilError(t, s.Close())
	reopened, err := NewJSONFile(path)
	testutil.AssertNilError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(t.Context(), "hello")
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, string(got), "again")
}

func testRoundtrip(t *testing.T, s Store) {
	t.Helper()
	ctx := t.Context()

	// Missing key reads as (nil, nil).
	got, err := s.Get(ctx, "hello")
	testutil.AssertNilError(t, err)
	if got != nil {
		t.Fatalf("got %q for a missing key, want nil", got)
	}

	testutil.AssertNilError(t, s.Set(ctx, "hello", []byte("world")))

	got, err = s.Get(ctx, "hello")
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, string(got), "world")

	// Overwrites replace.
	testutil.AssertNilError(t, s.Set(ctx, "hello", []byte("again")))
	got, err = s.Get(ctx, "hello")
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, string(got), "again")

	// Mutating a returned value doesn't touch the stored one.
	got[0] = 'X'
	fresh, err := s.Get(ctx, "hello")
	testutil.AssertNilError(t, err)
	testutil.AssertEqual(t, string(fresh), "again")
}
