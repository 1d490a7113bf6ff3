// © 2025 xkonjin. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package extract derives candidate action items and tags from free text.
//
// There is no natural-language understanding here, only substring matching.
// False positives ("I will be late" is not a task) are expected and accepted;
// the operator deletes what they don't want.
package extract

import "strings"

const (
	maxActionItems = 3
	maxAutoTags    = 5
)

// actionKeywords mark a sentence-like segment as a candidate action item.
var actionKeywords = []string{
	"need to",
	"should",
	"must",
	"have to",
	"will",
	"going to",
	"plan to",
	"todo",
	"task",
}

// ActionItems scans text for heuristic keyword patterns and returns up to
// three candidate task descriptions, trimmed, in original order.
func ActionItems(text string) []string {
	var items []string
	for _, segment := range strings.Split(text, ".") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		lower := strings.ToLower(segment)
		for _, kw := range actionKeywords {
			if strings.Contains(lower, kw) {
				items = append(items, segment)
				break
			}
		}
		if len(items) == maxActionItems {
			break
		}
	}
	return items
}

// tagRule maps a set of trigger keywords to a single tag.
type tagRule struct {
	tag      string
	keywords []string
}

// tagRules is the fixed keyword-to-tag table, applied in order.
var tagRules = []tagRule{
	{"urgent", []string{"urgent", "asap", "immediately"}},
	{"deadline", []string{"deadline", "due", "timeline"}},
	{"meeting", []string{"meeting", "call", "zoom"}},
	{"bug", []string{"bug", "error", "issue", "broken"}},
	{"deploy", []string{"deploy", "release", "ship"}},
}

// AutoTags returns all tags whose trigger keywords appear in text, capped at
// five, in rule order.
func AutoTags(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for _, rule := range tagRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				tags = append(tags, rule.tag)
				break
			}
		}
		if len(tags) == maxAutoTags {
			break
		}
	}
	return tags
}
