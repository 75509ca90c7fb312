// Package prompt assembles the final generation request from the static
// system rules, persona fragments, game state, history, and the query.
//
// The system block is the KV cache anchor: it must stay byte-identical
// across turns. Its md5 is tracked and any change is logged as a cache
// invalidation warning.
package prompt

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"council/internal/fragment"
	"council/internal/logging"
)

// tagInstruction opens the user turn and anchors the output contract.
const tagInstruction = "IMPORTANT: Your entire response must use ONLY these tags:\n" +
	"[THOUGHT] your reasoning\n" +
	"[ACTION] FETCH or UPDATE directive (optional)\n" +
	"[CHAT] in-character response\n" +
	"Do NOT write anything outside these tags."

const tagFooter = "Respond now using [THOUGHT], [ACTION] and [CHAT] tags only."

// noStateLine stands in when the evaluator is active but no state exists.
const noStateLine = "[No campaign state data available. The record is silent.]"

// overloadExamples are tone reference for the generated stage direction,
// never reproduced verbatim.
var overloadExamples = []string{
	"[The report floods the room with figures. Lin is already three pages ahead. Everyone else has stopped pretending.]",
	"[The report continues. It has been continuing for some time. Wale has found something else to look at.]",
	"[A seventh appendix arrives. The council's attention has quietly left the building.]",
}

// HistoryTurn is one prior exchange included in the history window.
type HistoryTurn struct {
	Role    string // "user" or "advisor"
	Speaker string
	Content string
}

// Assembled is the finished request, split the way the backend wants it.
type Assembled struct {
	System string
	User   string
}

// Input gathers everything one generation needs.
type Input struct {
	Sets    []fragment.Set
	Query   string
	History []HistoryTurn
	Tier    int
	// IncludeState injects the game-state section (evaluator turns only).
	IncludeState bool
	StateText    string
	StateLines   int
	// SceneNote is an optional routing stage note shown before the query.
	SceneNote string
}

// Assembler builds prompts against one system rules file.
type Assembler struct {
	systemPath string
	lineBudget int

	mu         sync.Mutex
	systemHash string
}

// New returns an assembler for the given system rules file. lineBudget caps
// the game-state section before it collapses to an overload direction.
func New(systemPath string, lineBudget int) *Assembler {
	return &Assembler{systemPath: systemPath, lineBudget: lineBudget}
}

// Assemble builds the request. The system block is reloaded each call so a
// mid-session edit is detected and warned about rather than silently mixed in.
func (a *Assembler) Assemble(in Input) (Assembled, error) {
	system, err := a.loadSystem()
	if err != nil {
		return Assembled{}, err
	}
	system = strings.ReplaceAll(system, "{tier}", fmt.Sprintf("%d", in.Tier))

	var parts []string
	parts = append(parts, tagInstruction)

	if block := actorSection(in.Sets); block != "" {
		parts = append(parts, "## ADVISOR CONTEXT\n\n"+block)
	}
	if in.IncludeState {
		parts = append(parts, "## GAME STATE\n\n"+a.stateSection(in))
	}
	if block := formatHistory(in.History); block != "" {
		parts = append(parts, "## RECENT HISTORY\n\n"+block)
	}
	if in.SceneNote != "" {
		parts = append(parts, in.SceneNote)
	}
	parts = append(parts, "## QUERY\n\n"+in.Query)
	parts = append(parts, tagFooter)

	out := Assembled{System: system, User: strings.Join(parts, "\n\n")}
	logging.Prompt("assembled: %d sets, tier %d, %d history turns, state=%v",
		len(in.Sets), in.Tier, len(in.History), in.IncludeState)
	return out, nil
}

// loadSystem reads the rules file and tracks its hash across calls.
func (a *Assembler) loadSystem() (string, error) {
	data, err := os.ReadFile(a.systemPath)
	if err != nil {
		return "", fmt.Errorf("prompt: load system rules: %w", err)
	}
	content := strings.TrimSpace(string(data))

	sum := md5.Sum([]byte(content))
	hash := hex.EncodeToString(sum[:])

	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.systemHash == "":
		a.systemHash = hash
	case a.systemHash != hash:
		logging.Get(logging.CategoryPrompt).Warn(
			"system rules changed since last load, KV cache invalidated; restart the session to restore cache efficiency")
		a.systemHash = hash
	}
	return content, nil
}

// actorSection joins assembled fragment sets; debates carry two blocks
// separated so neither persona bleeds into the other.
func actorSection(sets []fragment.Set) string {
	blocks := make([]string, 0, len(sets))
	for _, s := range sets {
		if text := s.Assembled(); text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// stateSection returns the report when it fits the line budget, otherwise an
// instruction to render the overload as an in-character stage direction.
func (a *Assembler) stateSection(in Input) string {
	if strings.TrimSpace(in.StateText) == "" {
		return noStateLine
	}
	if in.StateLines <= a.lineBudget {
		return in.StateText
	}
	logging.Prompt("state report over budget: %d lines > %d", in.StateLines, a.lineBudget)
	return fmt.Sprintf(
		"[STATE REPORT EXCEEDS LINE BUDGET (%d lines > %d)]\n"+
			"Generate a single in-character stage direction conveying information overload.\n"+
			"Tone reference (do not reproduce these exactly):\n%s",
		in.StateLines, a.lineBudget, strings.Join(overloadExamples, "\n"))
}

func formatHistory(history []HistoryTurn) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, len(history))
	for i, turn := range history {
		prefix := "USER"
		if turn.Role == "advisor" {
			prefix = strings.ToUpper(turn.Speaker)
		}
		lines[i] = prefix + ": " + turn.Content
	}
	return strings.Join(lines, "\n\n")
}
