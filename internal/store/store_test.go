package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "campaign.db"), filepath.Join(dir, "logs"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTurn(sessionID string, seq int) Turn {
	return Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		Flow:      "standard",
		Tier:      2,
		Speaker:   "Wale Ankrah",
		Query:     "How much runway is left?",
		Thought:   "This is squarely a funding question.",
		Chat:      "Eighteen months, if nothing catches fire.",
		CreatedAt: time.Now(),
	}
}

func TestCommitTurnRoundTrip(t *testing.T) {
	s := openTestStore(t)
	turn := sampleTurn("sess-1", 1)
	turn.Action = "FETCH budget.current"
	turn.ActionStatus = "ok"

	require.NoError(t, s.CommitTurn(turn, nil))

	turns, err := s.RecentTurns("sess-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)

	got := turns[0]
	assert.Equal(t, turn.ID, got.ID)
	assert.Equal(t, turn.Query, got.Query)
	assert.Equal(t, turn.Thought, got.Thought)
	assert.Equal(t, turn.Action, got.Action)
	assert.Equal(t, "ok", got.ActionStatus)
	assert.Equal(t, turn.Chat, got.Chat)
	assert.Equal(t, 2, got.Tier)
	assert.False(t, got.FallbackUsed)
}

func TestCommitTurnsBothRecorded(t *testing.T) {
	s := openTestStore(t)
	a := sampleTurn("sess-1", 1)
	b := sampleTurn("sess-1", 2)
	b.Speaker = "Lin Mei"
	b.Chat = "Spend it on the drive program."

	ruling := &RulingEntry{Key: "lin mei update reserve.allocation drive", Decision: DecisionAllowed, Reason: "first encounter"}
	require.NoError(t, s.CommitTurns([]Turn{a, b}, []*RulingEntry{nil, ruling}))

	turns, err := s.RecentTurns("sess-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Lin Mei", turns[1].Speaker)

	got, err := s.GetRuling(ruling.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCommitTurnsAtomicOnFailure(t *testing.T) {
	s := openTestStore(t)
	a := sampleTurn("sess-1", 1)
	b := sampleTurn("sess-1", 2)
	b.ID = a.ID // primary key collision fails the second insert

	err := s.CommitTurns([]Turn{a, b}, []*RulingEntry{nil, nil})
	require.Error(t, err)

	turns, err := s.RecentTurns("sess-1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns, "partial commit must leave no visible turn")

	hits, err := s.SearchDialogue("eighteen", 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "partial commit must leave no dialogue entry")
}

func TestCommitTurnsRulingsMismatch(t *testing.T) {
	s := openTestStore(t)
	err := s.CommitTurns([]Turn{sampleTurn("sess-1", 1)}, nil)
	require.Error(t, err)
}

func TestRecentTurnsWindowAndOrder(t *testing.T) {
	s := openTestStore(t)
	for i := 1; i <= 5; i++ {
		turn := sampleTurn("sess-1", i)
		turn.Chat = turn.Chat + " " + string(rune('0'+i))
		require.NoError(t, s.CommitTurn(turn, nil))
	}

	turns, err := s.RecentTurns("sess-1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, 3, turns[0].Seq)
	assert.Equal(t, 5, turns[2].Seq)
}

func TestCommitTurnWithRuling(t *testing.T) {
	s := openTestStore(t)
	turn := sampleTurn("sess-1", 1)
	ruling := &RulingEntry{
		Key:      "wale ankrah update treaty.status signed",
		Decision: DecisionAllowed,
		Reason:   "first encounter",
	}
	require.NoError(t, s.CommitTurn(turn, ruling))

	got, err := s.GetRuling(ruling.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, DecisionAllowed, got.Decision)
	assert.False(t, got.Overridden)
}

func TestRulingNeverSilentlyOverwritten(t *testing.T) {
	s := openTestStore(t)
	key := "wale ankrah update treaty.status signed"

	require.NoError(t, s.CommitTurn(sampleTurn("sess-1", 1), &RulingEntry{Key: key, Decision: DecisionDenied, Reason: "vetoed"}))
	require.NoError(t, s.CommitTurn(sampleTurn("sess-1", 2), &RulingEntry{Key: key, Decision: DecisionAllowed, Reason: "retry"}))

	got, err := s.GetRuling(key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, DecisionDenied, got.Decision, "second commit must not replace the first ruling")
	assert.Equal(t, "vetoed", got.Reason)
}

func TestOverrideRuling(t *testing.T) {
	s := openTestStore(t)
	key := "k"
	require.NoError(t, s.CommitTurn(sampleTurn("sess-1", 1), &RulingEntry{Key: key, Decision: DecisionDenied, Reason: "no"}))

	require.NoError(t, s.OverrideRuling(key, DecisionAllowed, "user reversed the call"))

	got, err := s.GetRuling(key)
	require.NoError(t, err)
	assert.Equal(t, DecisionAllowed, got.Decision)
	assert.Equal(t, "user reversed the call", got.Reason)
	assert.True(t, got.Overridden)

	assert.Error(t, s.OverrideRuling("missing", DecisionAllowed, "x"))
	assert.Error(t, s.OverrideRuling(key, "maybe", "x"))
}

func TestGetRulingMissingIsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetRuling("never seen")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListRulings(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CommitTurn(sampleTurn("sess-1", 1), &RulingEntry{Key: "a", Decision: DecisionAllowed}))
	require.NoError(t, s.CommitTurn(sampleTurn("sess-1", 2), &RulingEntry{Key: "b", Decision: DecisionDenied, Reason: "no"}))

	rulings, err := s.ListRulings()
	require.NoError(t, err)
	assert.Len(t, rulings, 2)
}

func TestSearchDialogue(t *testing.T) {
	s := openTestStore(t)
	t1 := sampleTurn("sess-1", 1)
	t1.Chat = "The launch window closes in nine days."
	require.NoError(t, s.CommitTurn(t1, nil))

	t2 := sampleTurn("sess-1", 2)
	t2.Speaker = "Lin Mei"
	t2.Chat = "Research on the drive stalled again."
	require.NoError(t, s.CommitTurn(t2, nil))

	hits, err := s.SearchDialogue("launch", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Wale Ankrah", hits[0].Speaker)
	assert.Contains(t, hits[0].Content, "launch window")

	none, err := s.SearchDialogue("nonexistentterm", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTranscriptWritten(t *testing.T) {
	dir := t.TempDir()
	logsDir := filepath.Join(dir, "logs")
	s, err := Open(filepath.Join(dir, "campaign.db"), logsDir)
	require.NoError(t, err)
	defer s.Close()

	turn := sampleTurn("sess-9", 1)
	turn.Action = "UPDATE treaty.status signed"
	turn.ActionStatus = "rejected"
	require.NoError(t, s.CommitTurn(turn, nil))

	data, err := os.ReadFile(filepath.Join(logsDir, "session_sess-9.log"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "=== SESSION sess-9 | TIER 2 | STANDARD ===")
	assert.Contains(t, text, "USER\nHow much runway is left?")
	assert.Contains(t, text, "[ACTION] UPDATE treaty.status signed  [REJECTED]")
	assert.Contains(t, text, "WALE ANKRAH\nEighteen months, if nothing catches fire.")
	assert.Contains(t, text, "=== TURN END ===")
}

func TestCommitRollsBackOnTranscriptFailure(t *testing.T) {
	dir := t.TempDir()
	logsDir := filepath.Join(dir, "logs")
	s, err := Open(filepath.Join(dir, "campaign.db"), logsDir)
	require.NoError(t, err)
	defer s.Close()

	// Replace the logs directory with a file so the transcript append fails.
	require.NoError(t, os.RemoveAll(logsDir))
	require.NoError(t, os.WriteFile(logsDir, []byte("not a dir"), 0o644))

	err = s.CommitTurn(sampleTurn("sess-1", 1), &RulingEntry{Key: "k", Decision: DecisionAllowed})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "transcript"))

	turns, err := s.RecentTurns("sess-1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns, "failed commit must leave no visible turn")

	ruling, err := s.GetRuling("k")
	require.NoError(t, err)
	assert.Nil(t, ruling, "failed commit must leave no ruling")
}

func TestMigrationsOnLegacySchema(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "campaign.db")

	// Simulate a pre-migration database missing the newer columns.
	legacy, err := Open(dbPath, filepath.Join(dir, "logs"))
	require.NoError(t, err)
	_, err = legacy.db.Exec(`ALTER TABLE rulings DROP COLUMN overridden`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	s, err := Open(dbPath, filepath.Join(dir, "logs"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CommitTurn(sampleTurn("sess-1", 1), &RulingEntry{Key: "k", Decision: DecisionAllowed}))
	got, err := s.GetRuling("k")
	require.NoError(t, err)
	assert.False(t, got.Overridden)
}
