package store

import (
	"database/sql"
	"fmt"

	"council/internal/logging"
)

// Schema versions:
// v1: conversation_turns, rulings, dialogue_fts
// v2: added action_status and fallback_used to conversation_turns
// v3: added overridden flag to rulings
const CurrentSchemaVersion = 3

// Migration adds one column to an existing table.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations upgrades databases created before the current schema.
// Fresh databases get every column at creation and skip all of these.
var pendingMigrations = []Migration{
	{"conversation_turns", "action_status", "TEXT NOT NULL DEFAULT ''"},
	{"conversation_turns", "fallback_used", "INTEGER NOT NULL DEFAULT 0"},
	{"rulings", "reason", "TEXT NOT NULL DEFAULT ''"},
	{"rulings", "overridden", "INTEGER NOT NULL DEFAULT 0"},
}

// RunMigrations applies column migrations for existing databases.
func RunMigrations(db *sql.DB) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		logging.Store("migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}
	if applied > 0 {
		logging.Store("schema migrations complete: applied=%d", applied)
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
