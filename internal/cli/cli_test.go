// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/xkonjin/telegram-monitor-vercel/internal/testutil"
)

func testEnv(args ...string) (*Env, *strings.Builder) {
	var stderr strings.Builder
	return &Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stderr: &stderr,
	}, &stderr
}

func TestRun(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	app := AppFunc(func(ctx context.Context, env *Env) error {
		gotArgs = env.Args
		return nil
	})

	env, _ := testEnv("hello", "world")
	testutil.AssertNilError(t, Run(t.Context(), app, env))
	testutil.AssertEqual(t, gotArgs, []string{"hello", "world"})
}

func TestRunVersionFlag(t *testing.T) {
	t.Parallel()

	app := AppFunc(func(ctx context.Context, env *Env) error {
		t.Fatal("app must not run when -version is passed")
		return nil
	})

	env, stderr := testEnv("-version")
	err := Run(t.Context(), app, env)
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("got %v, want ErrExitVersion", err)
	}
	if stderr.Len() == 0 {
		t.Fatal("version was not printed")
	}
}

func TestRunInvalidFlag(t *testing.T) {
	t.Parallel()

	env, stderr := testEnv("-nonexistent")
	err := Run(t.Context(), AppFunc(func(context.Context, *Env) error { return nil }), env)
	if err == nil {
		t.Fatal("expected an error")
	}
	// The flag package already printed the problem, so the error must not be
	// printed again.
	testutil.AssertEqual(t, isPrintableError(err), false)
	if !strings.Contains(stderr.String(), "-nonexistent") {
		t.Fatalf("stderr doesn't mention the bad flag: %q", stderr.String())
	}
}

type flagApp struct {
	name string
	ran  bool
}

func (a *flagApp) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.name, "name", "", "Name to greet.")
}

func (a *flagApp) Run(ctx context.Context, env *Env) error {
	a.ran = true
	return nil
}

func TestRunAppFlags(t *testing.T) {
	t.Parallel()

	app := &flagApp{}
	env, _ := testEnv("-name", "gopher", "rest")
	testutil.AssertNilError(t, Run(t.Context(), app, env))
	testutil.AssertEqual(t, app.ran, true)
	testutil.AssertEqual(t, app.name, "gopher")
	testutil.AssertEqual(t, env.Args, []string{"rest"})
}

func TestEnvLogf(t *testing.T) {
	t.Parallel()

	env, stderr := testEnv()
	env.Logf("hello, %s!", "world")
	testutil.AssertEqual(t, stderr.String(), "hello, world!\n")
}
