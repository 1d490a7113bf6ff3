// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package webhook maps heterogeneous external payloads (CI events,
// deployment events, generic alerts) into alerts.
//
// Source detection works by header and field-presence sniffing: each known
// source is tried in order and the first successful parse wins. A payload
// matching no alerting rule is acknowledged without producing an alert.
package webhook

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/xkonjin/telegram-monitor-vercel/internal/alert"
)

// Source identifies the system that delivered a webhook payload.
type Source string

// Known sources.
const (
	SourceGitHub  Source = "github"
	SourceVercel  Source = "vercel"
	SourceGeneric Source = "generic"
)

// Detect sniffs the webhook source from request headers and payload shape.
func Detect(header http.Header, payload []byte) Source {
	if header.Get("X-GitHub-Event") != "" {
		return SourceGitHub
	}
	if header.Get("X-Vercel-Signature") != "" || gjson.GetBytes(payload, "deployment").Exists() {
		return SourceVercel
	}
	return SourceGeneric
}

// Normalize maps a payload from the given source to an alert. The second
// return value is false when the payload matches no alerting rule, which
// means "acknowledge receipt, no alert", not an error.
func Normalize(src Source, header http.Header, payload []byte) (alert.Alert, bool) {
	switch src {
	case SourceGitHub:
		return normalizeGitHub(header.Get("X-GitHub-Event"), payload)
	case SourceVercel:
		return normalizeVercel(payload)
	}
	return normalizeGeneric(payload)
}

func normalizeGitHub(event string, payload []byte) (alert.Alert, bool) {
	repo := gjson.GetBytes(payload, "repository.full_name").String()
	if repo == "" {
		repo = "unknown repository"
	}

	switch event {
	case "push":
		pusher := gjson.GetBytes(payload, "pusher.name").String()
		ref := gjson.GetBytes(payload, "ref").String()
		return alert.Alert{
			Message:  fmt.Sprintf("Push to %s (%s) by %s", repo, ref, pusher),
			Severity: alert.Low,
			Source:   "github",
		}, true
	case "issues":
		if gjson.GetBytes(payload, "action").String() != "opened" {
			return alert.Alert{}, false
		}
		return alert.Alert{
			Message:  fmt.Sprintf("New issue in %s: %s", repo, gjson.GetBytes(payload, "issue.title").String()),
			Severity: alert.Medium,
			Source:   "github",
		}, true
	case "pull_request":
		if gjson.GetBytes(payload, "action").String() != "opened" {
			return alert.Alert{}, false
		}
		return alert.Alert{
			Message:  fmt.Sprintf("New pull request in %s: %s", repo, gjson.GetBytes(payload, "pull_request.title").String()),
			Severity: alert.Medium,
			Source:   "github",
		}, true
	case "workflow_run":
		if gjson.GetBytes(payload, "workflow_run.conclusion").String() != "failure" {
			return alert.Alert{}, false
		}
		return alert.Alert{
			Message:  fmt.Sprintf("Workflow %q failed in %s", gjson.GetBytes(payload, "workflow_run.name").String(), repo),
			Severity: alert.High,
			Source:   "github",
		}, true
	}
	return alert.Alert{}, false
}

func normalizeVercel(payload []byte) (alert.Alert, bool) {
	var (
		event   = gjson.GetBytes(payload, "type").String()
		project = gjson.GetBytes(payload, "payload.deployment.name").String()
	)
	if project == "" {
		project = gjson.GetBytes(payload, "deployment.name").String()
	}
	if project == "" {
		project = "unknown project"
	}

	switch event {
	case "deployment.error", "deployment.failed":
		return alert.Alert{
			Message:  fmt.Sprintf("Deployment of %s failed", project),
			Severity: alert.High,
			Source:   "vercel",
		}, true
	case "deployment.succeeded":
		return alert.Alert{
			Message:  fmt.Sprintf("Deployment of %s succeeded", project),
			Severity: alert.Low,
			Source:   "vercel",
		}, true
	}
	return alert.Alert{}, false
}

func normalizeGeneric(payload []byte) (alert.Alert, bool) {
	msg := gjson.GetBytes(payload, "message").String()
	if msg == "" {
		return alert.Alert{}, false
	}

	source := gjson.GetBytes(payload, "source").String()
	if source == "" {
		source = "webhook"
	}

	return alert.Alert{
		Message:  msg,
		Severity: alert.ParseSeverity(gjson.GetBytes(payload, "severity").String()),
		Source:   source,
		Context:  gjson.GetBytes(payload, "context").String(),
	}, true
}
