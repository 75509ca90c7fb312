package ruling

import (
	"context"
	"errors"
	"testing"

	"council/internal/store"
)

type fakeRulings struct {
	entries map[string]*store.RulingEntry
	err     error
}

func (f *fakeRulings) GetRuling(key string) (*store.RulingEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[key], nil
}

type recordingExec struct {
	fetched   []string
	updated   []string
	fetchErr  error
	updateErr error
}

func (e *recordingExec) Fetch(ctx context.Context, target string) (string, error) {
	if e.fetchErr != nil {
		return "", e.fetchErr
	}
	e.fetched = append(e.fetched, target)
	return "data:" + target, nil
}

func (e *recordingExec) Update(ctx context.Context, target string) error {
	if e.updateErr != nil {
		return e.updateErr
	}
	e.updated = append(e.updated, target)
	return nil
}

func TestKeyNormalization(t *testing.T) {
	a := Key("Wale Ankrah", "UPDATE  treaty.status   signed")
	b := Key("wale ankrah", "update treaty.status signed")
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if a != "wale ankrah update treaty.status signed" {
		t.Errorf("key = %q", a)
	}
}

func TestFetchExecutesWithoutRulingLookup(t *testing.T) {
	exec := &recordingExec{}
	// A ruling source that fails loudly proves FETCH never consults it.
	v := New(&fakeRulings{err: errors.New("must not be called")}, exec)

	out, err := v.Validate(context.Background(), "Wale Ankrah", "FETCH budget.current")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Executed || out.Decision != DecisionFetch {
		t.Errorf("outcome = %+v", out)
	}
	if out.Data != "data:budget.current" {
		t.Errorf("Data = %q", out.Data)
	}
	if len(exec.fetched) != 1 || exec.fetched[0] != "budget.current" {
		t.Errorf("fetched = %v", exec.fetched)
	}
	if out.NewRuling != nil {
		t.Error("FETCH must not create a ruling")
	}
}

func TestUpdateFirstEncounterCreatesPendingRuling(t *testing.T) {
	exec := &recordingExec{}
	v := New(&fakeRulings{entries: map[string]*store.RulingEntry{}}, exec)

	out, err := v.Validate(context.Background(), "Wale Ankrah", "UPDATE treaty.status signed")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Executed || out.Decision != DecisionAllowed {
		t.Errorf("outcome = %+v", out)
	}
	if out.NewRuling == nil {
		t.Fatal("expected pending ruling on first encounter")
	}
	if out.NewRuling.Key != Key("Wale Ankrah", "UPDATE treaty.status signed") {
		t.Errorf("NewRuling.Key = %q", out.NewRuling.Key)
	}
	if out.NewRuling.Decision != store.DecisionAllowed {
		t.Errorf("NewRuling.Decision = %q", out.NewRuling.Decision)
	}
	if len(exec.updated) != 1 {
		t.Errorf("updated = %v", exec.updated)
	}
}

func TestUpdateAllowedReExecutesWithoutNewRuling(t *testing.T) {
	key := Key("Wale Ankrah", "UPDATE treaty.status signed")
	exec := &recordingExec{}
	v := New(&fakeRulings{entries: map[string]*store.RulingEntry{
		key: {Key: key, Decision: store.DecisionAllowed},
	}}, exec)

	out, err := v.Validate(context.Background(), "Wale Ankrah", "UPDATE treaty.status signed")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Executed {
		t.Error("allowed action must execute")
	}
	if out.NewRuling != nil {
		t.Error("existing ruling must not be duplicated")
	}
	if len(exec.updated) != 1 {
		t.Errorf("updated = %v", exec.updated)
	}
}

func TestUpdateDeniedRejectedWithStoredReason(t *testing.T) {
	key := Key("Wale Ankrah", "UPDATE treaty.status signed")
	exec := &recordingExec{}
	v := New(&fakeRulings{entries: map[string]*store.RulingEntry{
		key: {Key: key, Decision: store.DecisionDenied, Reason: "council vetoed this"},
	}}, exec)

	out, err := v.Validate(context.Background(), "Wale Ankrah", "UPDATE treaty.status signed")
	if err != nil {
		t.Fatal(err)
	}
	if out.Executed {
		t.Error("denied action must not execute")
	}
	if out.Decision != DecisionDenied || out.Reason != "council vetoed this" {
		t.Errorf("outcome = %+v", out)
	}
	if len(exec.updated) != 0 {
		t.Errorf("executor called for denied action: %v", exec.updated)
	}
	if out.Status() != "rejected" {
		t.Errorf("Status = %q", out.Status())
	}
}

func TestUnknownVerbRejected(t *testing.T) {
	exec := &recordingExec{}
	v := New(&fakeRulings{entries: map[string]*store.RulingEntry{}}, exec)

	out, err := v.Validate(context.Background(), "Wale Ankrah", "DESTROY everything")
	if err != nil {
		t.Fatal(err)
	}
	if out.Executed || out.Decision != DecisionDenied {
		t.Errorf("outcome = %+v", out)
	}
	if len(exec.fetched)+len(exec.updated) != 0 {
		t.Error("executor called for unknown verb")
	}
}

func TestRulingLookupErrorSurfaces(t *testing.T) {
	v := New(&fakeRulings{err: errors.New("db locked")}, &recordingExec{})
	_, err := v.Validate(context.Background(), "Wale Ankrah", "UPDATE x y")
	if err == nil {
		t.Fatal("expected lookup error to surface")
	}
}

func TestLogExecutorStub(t *testing.T) {
	var exec LogExecutor
	data, err := exec.Fetch(context.Background(), "budget.current")
	if err != nil || data == "" {
		t.Errorf("Fetch = %q, %v", data, err)
	}
	if err := exec.Update(context.Background(), "treaty.status signed"); err != nil {
		t.Error(err)
	}
}
