// Package parser extracts [THOUGHT], [ACTION], and [CHAT] blocks from raw
// model output.
//
// Failure policy:
//
//	missing [CHAT]      fallback reply, logged as error
//	missing [THOUGHT]   continue, logged as warning
//	missing [ACTION]    continue, action validation skipped
//	no blocks at all    whole output treated as chat, flagged unstructured
//	malformed [ACTION]  action rejected, chat still returned
//
// Parse always succeeds: a turn never dies in the parser.
package parser

import (
	"regexp"
	"strings"

	"council/internal/logging"
)

// FallbackReply is surfaced when the model produced nothing usable.
const FallbackReply = "[The council is silent. Something has gone wrong.]"

// Parsed is the structured form of one model response. Chat is never empty.
// Thought is internal only and must not reach the user.
type Parsed struct {
	Thought      string
	Action       string
	Chat         string
	ActionValid  bool // action block present and well-formed
	FallbackUsed bool // chat was missing or output was empty
	Unstructured bool // no block tags at all
}

var (
	blockTag    = regexp.MustCompile(`(?i)\[(THOUGHT|ACTION|CHAT)\]`)
	actionShape = regexp.MustCompile(`(?i)^\s*(FETCH|UPDATE)\s+\S+`)
)

// Parse splits raw output into blocks.
func Parse(raw string) Parsed {
	raw = strings.TrimSpace(raw)
	blocks := extractBlocks(raw)

	if len(blocks) == 0 {
		logging.Get(logging.CategoryParser).Warn("output contained no block tags, treating as chat")
		p := Parsed{Chat: raw, Unstructured: true}
		if raw == "" {
			p.Chat = FallbackReply
			p.FallbackUsed = true
		}
		return p
	}

	p := Parsed{
		Thought: blocks["THOUGHT"],
		Action:  blocks["ACTION"],
		Chat:    blocks["CHAT"],
	}

	if p.Thought == "" {
		logging.Get(logging.CategoryParser).Warn("output missing [THOUGHT] block")
	}

	if p.Action != "" {
		if actionShape.MatchString(p.Action) {
			p.ActionValid = true
		} else {
			logging.Get(logging.CategoryParser).Warn("malformed [ACTION] block rejected: %q", p.Action)
			p.Action = ""
		}
	}

	if p.Chat == "" {
		logging.Get(logging.CategoryParser).Error("output missing [CHAT] block, using fallback")
		p.Chat = FallbackReply
		p.FallbackUsed = true
	}

	logging.Parser("parsed: thought=%v action=%v(valid=%v) fallback=%v",
		p.Thought != "", p.Action != "", p.ActionValid, p.FallbackUsed)
	return p
}

// extractBlocks maps each tag to the text between it and the next tag. A
// repeated tag overwrites its earlier occurrence.
func extractBlocks(raw string) map[string]string {
	matches := blockTag.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	blocks := make(map[string]string, len(matches))
	for i, m := range matches {
		tag := strings.ToUpper(raw[m[2]:m[3]])
		end := len(raw)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		blocks[tag] = strings.TrimSpace(raw[m[1]:end])
	}
	return blocks
}
