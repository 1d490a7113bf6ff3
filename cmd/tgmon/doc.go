// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Tgmon is a personal Telegram bot that keeps tasks and notes, watches HTTP
endpoints and forwards alerts from webhooks to a single Telegram chat.

It serves the following endpoints:

  - /telegram: receives Telegram Bot API updates (bot commands and messages)
  - /api/webhook: receives webhooks from GitHub, Vercel and anything that can
    POST JSON
  - /api/claude-notify: receives notifications from coding agents running on
    other machines
  - /api/monitor: triggers a monitoring run and reports its summary
    (requires the webhook secret)
  - /health: reports service health

# Configuration

Tgmon is configured through environment variables:

  - TG_TOKEN: Telegram Bot API token (required)
  - TG_SECRET: secret token to verify Telegram webhook requests
  - TG_OWNER: Telegram user ID of the bot owner
  - TG_OWNER_USERNAME: owner username, matched case-insensitively when
    TG_OWNER doesn't match
  - CHAT_ID: chat to which alerts and replies are sent (required)
  - WEBHOOK_SECRET: shared secret for /api/webhook and /api/claude-notify
  - CLAUDE_WEBHOOK_SECRET: overrides WEBHOOK_SECRET for /api/claude-notify
  - DB: storage location; a .json file path, a .db/.sqlite file path or a
    postgres:// URL; everything is kept in memory when unset
  - MONITOR_ENDPOINTS: comma-separated list of URLs to probe
  - MONITOR_THRESHOLD: response time threshold, as a Go duration (default 5s)
  - MONITOR_SLOW_FRACTION: fraction of the threshold at which a healthy
    endpoint is reported as slow (default 0.8)
  - MONITOR_MEMORY_CAP: heap size cap in MiB (default 512)
  - MONITOR_INTERVAL: how often to run monitoring in the background, as a Go
    duration; zero disables background runs
  - PORT: port to listen on (default 3000)
*/
package main
