// Package store persists campaign session data: conversation turns, the
// searchable dialogue index, and the ruling log. All writes for one turn go
// through CommitTurn as a single transaction.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"council/internal/logging"
)

// Store wraps campaign.db plus the session transcript directory.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	dbPath  string
	logsDir string
}

// Turn is one committed conversation turn.
type Turn struct {
	ID           string
	SessionID    string
	Seq          int
	Flow         string
	Tier         int
	Speaker      string
	Query        string
	Thought      string
	Action       string
	ActionStatus string // "", "ok", "rejected"
	Chat         string
	FallbackUsed bool
	CreatedAt    time.Time
}

// Ruling decisions.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
)

// RulingEntry is a durable allow/deny decision for one action key.
type RulingEntry struct {
	Key        string
	Decision   string
	Reason     string
	SessionID  string
	CreatedAt  time.Time
	Overridden bool
}

// SearchHit is one dialogue full-text search result.
type SearchHit struct {
	SessionID string
	Speaker   string
	Content   string
	CreatedAt time.Time
}

// Open initializes campaign.db at dbPath and the transcript directory.
func Open(dbPath, logsDir string) (*Store, error) {
	logging.Store("opening campaign store at %s", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create db directory: %w", err)
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create logs directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: dbPath, logsDir: logsDir}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id            TEXT PRIMARY KEY,
			session_id    TEXT NOT NULL,
			seq           INTEGER NOT NULL,
			flow          TEXT NOT NULL,
			tier          INTEGER NOT NULL,
			speaker       TEXT NOT NULL,
			query         TEXT NOT NULL,
			thought       TEXT NOT NULL DEFAULT '',
			action        TEXT NOT NULL DEFAULT '',
			action_status TEXT NOT NULL DEFAULT '',
			chat          TEXT NOT NULL,
			fallback_used INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS rulings (
			action_key  TEXT PRIMARY KEY,
			decision    TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			session_id  TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			overridden  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS dialogue_fts USING fts5(
			speaker, content,
			session_id UNINDEXED, turn_id UNINDEXED, created_at UNINDEXED
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: initialize schema: %w", err)
		}
	}
	return nil
}

// CommitTurn durably records one turn: the turn row, its dialogue index
// entry, an optional new ruling, and the transcript append. Everything
// happens in one transaction; any failure leaves no trace of the turn.
func (s *Store) CommitTurn(turn Turn, ruling *RulingEntry) error {
	return s.CommitTurns([]Turn{turn}, []*RulingEntry{ruling})
}

// CommitTurns records several turns of one user query in a single
// transaction. Debate rounds commit both debaters through here so a failure
// never leaves one reply in history without the other. rulings is parallel
// to turns; entries may be nil.
func (s *Store) CommitTurns(turns []Turn, rulings []*RulingEntry) error {
	if len(rulings) != len(turns) {
		return fmt.Errorf("store: %d turns with %d rulings", len(turns), len(rulings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin commit: %w", err)
	}
	defer tx.Rollback()

	for i, turn := range turns {
		if err := insertTurn(tx, turn, rulings[i]); err != nil {
			return err
		}
	}
	for _, turn := range turns {
		if err := s.appendTranscript(turn); err != nil {
			return fmt.Errorf("store: transcript append: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit turn: %w", err)
	}

	for i, turn := range turns {
		logging.Store("committed turn %d of session %s (speaker=%s, ruling=%v)",
			turn.Seq, turn.SessionID, turn.Speaker, rulings[i] != nil)
	}
	return nil
}

func insertTurn(tx *sql.Tx, turn Turn, ruling *RulingEntry) error {
	createdAt := turn.CreatedAt.UTC().Format(time.RFC3339)
	_, err := tx.Exec(`INSERT INTO conversation_turns
		(id, session_id, seq, flow, tier, speaker, query, thought, action, action_status, chat, fallback_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Seq, turn.Flow, turn.Tier, turn.Speaker,
		turn.Query, turn.Thought, turn.Action, turn.ActionStatus, turn.Chat,
		boolToInt(turn.FallbackUsed), createdAt)
	if err != nil {
		return fmt.Errorf("store: insert turn: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO dialogue_fts (speaker, content, session_id, turn_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		turn.Speaker, turn.Chat, turn.SessionID, turn.ID, createdAt)
	if err != nil {
		return fmt.Errorf("store: insert dialogue entry: %w", err)
	}

	if ruling != nil {
		// First decision for a key wins. Later identical actions consult
		// the stored entry; only an explicit override can change it.
		_, err = tx.Exec(`INSERT INTO rulings (action_key, decision, reason, session_id, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(action_key) DO NOTHING`,
			ruling.Key, ruling.Decision, ruling.Reason, turn.SessionID, createdAt)
		if err != nil {
			return fmt.Errorf("store: insert ruling: %w", err)
		}
	}
	return nil
}

// RecentTurns returns the last n turns of a session in chronological order.
func (s *Store) RecentTurns(sessionID string, n int) ([]Turn, error) {
	rows, err := s.db.Query(`SELECT id, session_id, seq, flow, tier, speaker, query,
			thought, action, action_status, chat, fallback_used, created_at
		FROM conversation_turns WHERE session_id = ?
		ORDER BY seq DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SearchDialogue runs an FTS MATCH over committed chat lines.
func (s *Store) SearchDialogue(query string, limit int) ([]SearchHit, error) {
	rows, err := s.db.Query(`SELECT session_id, speaker, content, created_at
		FROM dialogue_fts WHERE dialogue_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: dialogue search: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var created string
		if err := rows.Scan(&h.SessionID, &h.Speaker, &h.Content, &created); err != nil {
			return nil, fmt.Errorf("store: scan search hit: %w", err)
		}
		h.CreatedAt, _ = time.Parse(time.RFC3339, created)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// GetRuling returns the ruling for an action key, or nil when none exists.
func (s *Store) GetRuling(key string) (*RulingEntry, error) {
	row := s.db.QueryRow(`SELECT action_key, decision, reason, session_id, created_at, overridden
		FROM rulings WHERE action_key = ?`, key)

	var r RulingEntry
	var created string
	var overridden int
	err := row.Scan(&r.Key, &r.Decision, &r.Reason, &r.SessionID, &created, &overridden)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get ruling: %w", err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	r.Overridden = overridden != 0
	return &r, nil
}

// ListRulings returns all rulings, newest first.
func (s *Store) ListRulings() ([]RulingEntry, error) {
	rows, err := s.db.Query(`SELECT action_key, decision, reason, session_id, created_at, overridden
		FROM rulings ORDER BY created_at DESC, action_key`)
	if err != nil {
		return nil, fmt.Errorf("store: list rulings: %w", err)
	}
	defer rows.Close()

	var out []RulingEntry
	for rows.Next() {
		var r RulingEntry
		var created string
		var overridden int
		if err := rows.Scan(&r.Key, &r.Decision, &r.Reason, &r.SessionID, &created, &overridden); err != nil {
			return nil, fmt.Errorf("store: scan ruling: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		r.Overridden = overridden != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// OverrideRuling flips a stored ruling to a new decision with a reason.
// This is the only path that changes an existing ruling.
func (s *Store) OverrideRuling(key, decision, reason string) error {
	if decision != DecisionAllowed && decision != DecisionDenied {
		return fmt.Errorf("store: invalid decision %q", decision)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE rulings SET decision = ?, reason = ?, overridden = 1
		WHERE action_key = ?`, decision, reason, key)
	if err != nil {
		return fmt.Errorf("store: override ruling: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: no ruling for key %q", key)
	}
	logging.Ruling("ruling %q overridden to %s: %s", key, decision, reason)
	return nil
}

func scanTurn(rows *sql.Rows) (Turn, error) {
	var t Turn
	var fallback int
	var created string
	err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Flow, &t.Tier, &t.Speaker,
		&t.Query, &t.Thought, &t.Action, &t.ActionStatus, &t.Chat, &fallback, &created)
	if err != nil {
		return Turn{}, fmt.Errorf("store: scan turn: %w", err)
	}
	t.FallbackUsed = fallback != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// appendTranscript writes the human-readable turn entry for this session.
func (s *Store) appendTranscript(turn Turn) error {
	path := filepath.Join(s.logsDir, "session_"+turn.SessionID+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(formatTranscriptTurn(turn)); err != nil {
		return err
	}
	return f.Sync()
}

// formatTranscriptTurn renders one turn for the session log file.
func formatTranscriptTurn(turn Turn) string {
	lines := []string{
		fmt.Sprintf("=== SESSION %s | TIER %d | %s ===", turn.SessionID, turn.Tier, strings.ToUpper(turn.Flow)),
		"",
		"USER",
		turn.Query,
		"",
	}
	if turn.Thought != "" {
		lines = append(lines, "[THOUGHT] "+turn.Thought, "")
	}
	if turn.Action != "" {
		status := "OK"
		if turn.ActionStatus == "rejected" {
			status = "REJECTED"
		}
		lines = append(lines, fmt.Sprintf("[ACTION] %s  [%s]", turn.Action, status), "")
	}
	lines = append(lines,
		strings.ToUpper(turn.Speaker),
		turn.Chat,
		"",
		"=== TURN END ===",
		"",
		"",
	)
	return strings.Join(lines, "\n")
}
