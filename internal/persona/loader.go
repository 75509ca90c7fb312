package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"council/internal/logging"
)

// specFile mirrors the on-disk spec.yaml layout.
type specFile struct {
	FirstName   string   `yaml:"first_name"`
	FamilyName  string   `yaml:"family_name"`
	Nickname    string   `yaml:"nickname"`
	DisplayName string   `yaml:"display_name"`
	Aliases     []string `yaml:"aliases"`

	Profession     string `yaml:"profession"`
	DomainPrimary  string `yaml:"domain_primary"`
	DomainKeywords string `yaml:"domain_keywords"`

	Tier1Scope string `yaml:"tier_1_scope"`
	Tier2Scope string `yaml:"tier_2_scope"`
	Tier3Scope string `yaml:"tier_3_scope"`

	ErrorOutOfTier1 string `yaml:"error_out_of_tier_1"`
	ErrorOutOfTier2 string `yaml:"error_out_of_tier_2"`

	Interrupt InterruptSpec `yaml:"interrupt"`
	Evaluator bool          `yaml:"evaluator"`
}

// fragmentHeader matches a [tag] section header line in persona.md.
var fragmentHeader = regexp.MustCompile(`^\[(\w+)\]\s*$`)

// headingLine matches a ## heading, which terminates the current section.
var headingLine = regexp.MustCompile(`^##\s`)

// loadSpec reads one persona directory.
func loadSpec(dir string) (*Persona, error) {
	data, err := os.ReadFile(filepath.Join(dir, "spec.yaml"))
	if err != nil {
		return nil, err
	}

	var sf specFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse spec.yaml in %s: %w", dir, err)
	}

	display := sf.DisplayName
	if display == "" {
		display = filepath.Base(dir)
	}

	p := &Persona{
		Dir:            dir,
		FirstName:      sf.FirstName,
		FamilyName:     sf.FamilyName,
		Nickname:       sf.Nickname,
		DisplayName:    display,
		Aliases:        sf.Aliases,
		Profession:     sf.Profession,
		DomainPrimary:  sf.DomainPrimary,
		DomainKeywords: sf.DomainKeywords,
		TierScopes: map[int]string{
			1: sf.Tier1Scope,
			2: sf.Tier2Scope,
			3: sf.Tier3Scope,
		},
		Refusals: map[int]string{
			1: sf.ErrorOutOfTier1,
			2: sf.ErrorOutOfTier2,
		},
		Interrupt: sf.Interrupt,
		Evaluator: sf.Evaluator,
		Fragments: map[string]string{},
	}

	personaPath := filepath.Join(dir, "persona.md")
	if text, err := os.ReadFile(personaPath); err == nil {
		p.Fragments = parseFragments(string(text))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read persona.md in %s: %w", dir, err)
	}

	return p, nil
}

// parseFragments extracts [category] sections from persona.md. A section
// starts at a [tag] line and runs until the next [tag], a ## heading, or the
// end of the file.
func parseFragments(text string) map[string]string {
	fragments := make(map[string]string)

	var category string
	var buf []string
	flush := func() {
		if category == "" {
			return
		}
		content := strings.TrimSpace(strings.Join(buf, "\n"))
		if content != "" {
			fragments[category] = content
		}
		category = ""
		buf = buf[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if m := fragmentHeader.FindStringSubmatch(line); m != nil {
			flush()
			category = strings.ToLower(m[1])
			continue
		}
		if headingLine.MatchString(line) {
			flush()
			continue
		}
		if category != "" {
			buf = append(buf, line)
		}
	}
	flush()
	return fragments
}

// LoadDir loads every persona under dir. Directories starting with "_" or
// missing spec.yaml are skipped with a logged warning. Results are sorted by
// directory name for deterministic registry order.
func LoadDir(dir string) ([]*Persona, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read personas dir %s: %w", dir, err)
	}

	var personas []*Persona
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), "_") {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		p, err := loadSpec(sub)
		if err != nil {
			if os.IsNotExist(err) {
				logging.Get(logging.CategoryBoot).Warn("No spec.yaml in %s, skipping", entry.Name())
				continue
			}
			return nil, err
		}
		personas = append(personas, p)
	}

	sort.Slice(personas, func(i, j int) bool {
		return personas[i].Dir < personas[j].Dir
	})
	return personas, nil
}
