package tier

import (
	"testing"

	"council/internal/persona"
	"council/internal/router"
)

func match(maxTier int, evaluator bool) router.Match {
	scopes := map[int]string{}
	for t := 1; t <= maxTier; t++ {
		scopes[t] = "scope"
	}
	return router.Match{
		Persona: &persona.Persona{
			DisplayName: "Test Advisor",
			TierScopes:  scopes,
			Refusals:    map[int]string{maxTier: "Not my depth."},
			Evaluator:   evaluator,
		},
		Role: router.RoleMain,
	}
}

func TestGapTable(t *testing.T) {
	tests := []struct {
		name        string
		maxTier     int
		currentTier int
		want        Confidence
	}{
		{"at tier", 2, 2, Full},
		{"above tier", 3, 1, Full},
		{"one behind", 1, 2, Hedged},
		{"two behind", 1, 3, Blocked},
		{"three behind would block too", 1, 4, Blocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(match(tt.maxTier, false), tt.currentTier)
			if got.Confidence != tt.want {
				t.Fatalf("confidence = %v, want %v", got.Confidence, tt.want)
			}
			if tt.want == Blocked && got.Refusal == "" {
				t.Error("blocked result must carry a refusal line")
			}
			if tt.want != Blocked && got.Refusal != "" {
				t.Error("non-blocked result must not carry a refusal")
			}
		})
	}
}

func TestEvaluatorBypass(t *testing.T) {
	// Evaluator with max tier 1 at current tier 3 would normally block.
	got := Check(match(1, true), 3)
	if got.Confidence != Full {
		t.Fatalf("evaluator must bypass the gate, got %v", got.Confidence)
	}
}

func TestBlockedUsesConfiguredRefusal(t *testing.T) {
	got := Check(match(1, false), 3)
	if got.Refusal != "Not my depth." {
		t.Fatalf("refusal = %q", got.Refusal)
	}
}

func TestBlockedFallsBackToGenericRefusal(t *testing.T) {
	m := match(1, false)
	m.Persona.Refusals = nil
	got := Check(m, 3)
	if got.Refusal == "" {
		t.Fatal("expected generic refusal line")
	}
}

func TestCheckAllIndependent(t *testing.T) {
	results := CheckAll([]router.Match{match(3, false), match(1, false)}, 3)
	if results[0].Confidence != Full || results[1].Confidence != Blocked {
		t.Fatalf("unexpected results: %v, %v", results[0].Confidence, results[1].Confidence)
	}

	active := Active(results)
	if len(active) != 1 || active[0].Confidence != Full {
		t.Fatalf("Active() should drop blocked personas, got %d", len(active))
	}
}
