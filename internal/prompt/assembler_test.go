package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"council/internal/fragment"
	"council/internal/persona"
)

func writeSystem(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "system.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testSet(name, voice string) fragment.Set {
	p := &persona.Persona{
		FirstName:   strings.Fields(name)[0],
		DisplayName: name,
		Profession:  "Advisor",
		Fragments: map[string]string{
			persona.FragmentVoice:  voice,
			persona.FragmentLimits: "Knows the edges of what is known.",
		},
	}
	return fragment.Assemble(fragment.Input{Persona: p, Query: "x"})
}

func TestAssembleOrder(t *testing.T) {
	path := writeSystem(t, "You are the council. Tier {tier} rules apply.")
	a := New(path, 40)

	out, err := a.Assemble(Input{
		Sets:  []fragment.Set{testSet("Wale Ankrah", "Clipped sentences.")},
		Query: "How bad is it?",
		Tier:  2,
		History: []HistoryTurn{
			{Role: "user", Speaker: "User", Content: "Previous question."},
			{Role: "advisor", Speaker: "Wale Ankrah", Content: "Previous answer."},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if out.System != "You are the council. Tier 2 rules apply." {
		t.Errorf("System = %q, want tier substituted", out.System)
	}

	order := []string{
		"IMPORTANT:",
		"## ADVISOR CONTEXT",
		"Clipped sentences.",
		"## RECENT HISTORY",
		"USER: Previous question.",
		"WALE ANKRAH: Previous answer.",
		"## QUERY",
		"How bad is it?",
		"Respond now",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(out.User, marker)
		if idx == -1 {
			t.Fatalf("user turn missing %q:\n%s", marker, out.User)
		}
		if idx < last {
			t.Fatalf("%q out of order in user turn", marker)
		}
		last = idx
	}
}

func TestAssembleDebateSeparator(t *testing.T) {
	path := writeSystem(t, "rules")
	a := New(path, 40)

	out, err := a.Assemble(Input{
		Sets: []fragment.Set{
			testSet("Wale Ankrah", "Clipped."),
			testSet("Jonny Pratt", "Expansive."),
		},
		Query: "budget?",
		Tier:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.User, "\n\n---\n\n") {
		t.Error("debate blocks not separated")
	}
	if strings.Index(out.User, "Clipped.") > strings.Index(out.User, "Expansive.") {
		t.Error("fragment sets out of routing order")
	}
}

func TestAssembleStateWithinBudget(t *testing.T) {
	path := writeSystem(t, "rules")
	a := New(path, 5)

	out, err := a.Assemble(Input{
		Query:        "status?",
		Tier:         1,
		IncludeState: true,
		StateText:    "line1\nline2",
		StateLines:   2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.User, "## GAME STATE\n\nline1\nline2") {
		t.Errorf("state section missing:\n%s", out.User)
	}
}

func TestAssembleStateOverBudget(t *testing.T) {
	path := writeSystem(t, "rules")
	a := New(path, 5)

	out, err := a.Assemble(Input{
		Query:        "status?",
		Tier:         1,
		IncludeState: true,
		StateText:    strings.Repeat("line\n", 9) + "line",
		StateLines:   10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.User, "EXCEEDS LINE BUDGET (10 lines > 5)") {
		t.Errorf("overload direction missing:\n%s", out.User)
	}
	if strings.Contains(out.User, "line\nline\nline") {
		t.Error("raw over-budget report leaked into prompt")
	}
}

func TestAssembleStateEmpty(t *testing.T) {
	path := writeSystem(t, "rules")
	a := New(path, 5)

	out, err := a.Assemble(Input{Query: "status?", Tier: 1, IncludeState: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.User, noStateLine) {
		t.Errorf("missing no-state placeholder:\n%s", out.User)
	}
}

func TestAssembleStateOmittedWhenInactive(t *testing.T) {
	path := writeSystem(t, "rules")
	a := New(path, 5)

	out, err := a.Assemble(Input{Query: "q", Tier: 1, StateText: "secret", StateLines: 1})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.User, "GAME STATE") || strings.Contains(out.User, "secret") {
		t.Error("state injected without evaluator active")
	}
}

func TestAssembleSceneNote(t *testing.T) {
	path := writeSystem(t, "rules")
	a := New(path, 5)

	out, err := a.Assemble(Input{Query: "q", Tier: 1, SceneNote: "[Lin glances up from her notes.]"})
	if err != nil {
		t.Fatal(err)
	}
	noteIdx := strings.Index(out.User, "[Lin glances")
	queryIdx := strings.Index(out.User, "## QUERY")
	if noteIdx == -1 || noteIdx > queryIdx {
		t.Errorf("scene note missing or misplaced:\n%s", out.User)
	}
}

func TestSystemChangeDetected(t *testing.T) {
	path := writeSystem(t, "original rules")
	a := New(path, 5)

	if _, err := a.Assemble(Input{Query: "q", Tier: 1}); err != nil {
		t.Fatal(err)
	}
	firstHash := a.systemHash

	if err := os.WriteFile(path, []byte("edited rules"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := a.Assemble(Input{Query: "q", Tier: 1})
	if err != nil {
		t.Fatal(err)
	}
	if out.System != "edited rules" {
		t.Errorf("System = %q, want reloaded content", out.System)
	}
	if a.systemHash == firstHash {
		t.Error("hash not updated after change")
	}
}

func TestMissingSystemFileFails(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "nope.txt"), 5)
	if _, err := a.Assemble(Input{Query: "q", Tier: 1}); err == nil {
		t.Fatal("expected error for missing system rules")
	}
}
