// Package gamestate loads the campaign state report injected into evaluator
// prompts. The report is opaque text; nothing here interprets its contents.
package gamestate

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"council/internal/logging"
)

// Provider reads the current state report for a campaign directory.
type Provider struct {
	dir string
}

// New returns a provider rooted at the campaign directory.
func New(dir string) *Provider {
	return &Provider{dir: dir}
}

// Report is the loaded state text plus its line count for budget checks.
type Report struct {
	Text  string
	Lines int
}

// Empty reports whether no state data was found.
func (r Report) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// Load reads the state report. A savegame.db in the campaign directory takes
// precedence; otherwise the gamestate_*.txt files are concatenated in sorted
// order. A missing campaign directory yields an empty report, not an error.
func (p *Provider) Load() (Report, error) {
	dbPath := filepath.Join(p.dir, "savegame.db")
	if _, err := os.Stat(dbPath); err == nil {
		text, err := loadFromDB(dbPath)
		if err != nil {
			return Report{}, fmt.Errorf("gamestate: %w", err)
		}
		return makeReport(text), nil
	}

	text, err := loadFromFiles(p.dir)
	if err != nil {
		return Report{}, fmt.Errorf("gamestate: %w", err)
	}
	return makeReport(text), nil
}

func makeReport(text string) Report {
	text = strings.TrimSpace(text)
	if text == "" {
		return Report{}
	}
	return Report{Text: text, Lines: strings.Count(text, "\n") + 1}
}

// loadFromDB reads the pre-built report from the savegame meta table. The
// savegame importer owns the report format; this side only transports it.
func loadFromDB(path string) (string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	var text string
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'report'`).Scan(&text)
	if err == sql.ErrNoRows {
		logging.StoreDebug("savegame %s has no report row", path)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read report from %s: %w", path, err)
	}
	return text, nil
}

// loadFromFiles concatenates gamestate_*.txt files, the legacy layout.
func loadFromFiles(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "gamestate_*.txt"))
	if err != nil {
		return "", err
	}
	sort.Strings(matches)

	var parts []string
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
