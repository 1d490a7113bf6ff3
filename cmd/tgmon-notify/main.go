// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Tgmon-notify sends a notification to a running tgmon instance from the
command line:

	$ tgmon-notify "Build finished"
	$ tgmon-notify -priority high "Build failed" "exit status 2"

It reads the tgmon URL from the TGMON_URL environment variable and the shared
secret from TGMON_NOTIFY_SECRET.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/xkonjin/telegram-monitor-vercel/internal/cli"
	"github.com/xkonjin/telegram-monitor-vercel/internal/request"
)

func main() { cli.Main(new(app)) }

type app struct {
	priority string
	project  string
	typ      string
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.priority, "priority", "", "Notification `priority` (critical, high, medium, low).")
	fs.StringVar(&a.project, "project", "", "Project `name` to include in the notification.")
	fs.StringVar(&a.typ, "type", "notification", "Notification `type`.")
}

func (a *app) Run(ctx context.Context, env *cli.Env) error {
	if len(env.Args) < 1 || len(env.Args) > 2 {
		return fmt.Errorf("%w: expected arguments: 'message' and optional 'context'", cli.ErrInvalidArgs)
	}

	url := env.Getenv("TGMON_URL")
	if url == "" {
		return errors.New("missing environment variable TGMON_URL")
	}
	secret := env.Getenv("TGMON_NOTIFY_SECRET")
	if secret == "" {
		return errors.New("missing environment variable TGMON_NOTIFY_SECRET")
	}

	body := struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Context  string `json:"context,omitempty"`
		Instance string `json:"instance,omitempty"`
		Project  string `json:"project,omitempty"`
		Priority string `json:"priority,omitempty"`
		Source   string `json:"source,omitempty"`
	}{
		Type:     a.typ,
		Message:  env.Args[0],
		Project:  a.project,
		Priority: a.priority,
		Source:   "cli",
	}
	if len(env.Args) == 2 {
		body.Context = env.Args[1]
	}
	if hostname, err := os.Hostname(); err == nil {
		body.Instance = hostname
	}

	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    url + "/api/claude-notify",
		Body:   body,
		Headers: map[string]string{
			"X-Claude-Secret": secret,
		},
	})
	return err
}
