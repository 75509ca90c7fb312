// Package config holds all council configuration. Values are loaded from a
// YAML file, overlaid with COUNCIL_* environment variables, and validated
// before the session starts. Routing thresholds and generation parameters are
// deliberately configuration, not literals: they are tuning knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all council configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Campaign context (externally owned; the pipeline only reads Tier)
	Campaign CampaignConfig `yaml:"campaign"`

	// Persona registry locations
	Personas PersonasConfig `yaml:"personas"`

	// Actor routing thresholds
	Routing RoutingConfig `yaml:"routing"`

	// Embedding backend for implicit routing
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Generation gateway (OpenAI-compatible backend)
	Gateway GatewayConfig `yaml:"gateway"`

	// Per-flow generation parameters
	Generation GenerationConfig `yaml:"generation"`

	// Debate turn limits
	Debate DebateConfig `yaml:"debate"`

	// Conversation history window
	History HistoryConfig `yaml:"history"`

	// Game-state report handling
	Report ReportConfig `yaml:"report"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CampaignConfig identifies the active campaign.
type CampaignConfig struct {
	Dir     string `yaml:"dir"`     // campaigns/<faction>
	Faction string `yaml:"faction"` // faction slug
	Date    string `yaml:"date"`    // ISO campaign date
	Tier    int    `yaml:"tier"`    // current progression tier (1..3), set by the evaluator between sessions
}

// PersonasConfig locates persona specs and the static system rules block.
type PersonasConfig struct {
	Dir        string `yaml:"dir"`         // resources/personas
	SystemPath string `yaml:"system_path"` // resources/prompts/system.txt
}

// RoutingConfig holds implicit-routing similarity thresholds.
// Defaults are provisional; tune without touching control flow.
type RoutingConfig struct {
	MainThreshold    float64 `yaml:"main_threshold"`    // similarity >= main -> main candidate
	SupportThreshold float64 `yaml:"support_threshold"` // similarity >= support -> support candidate
}

// EmbeddingConfig configures the similarity backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"`        // "ollama" or "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"` // default http://localhost:11434
	OllamaModel    string `yaml:"ollama_model"`    // default embeddinggemma
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"` // default gemini-embedding-001
}

// Duration decodes YAML durations written the human way ("120s", "2m").
// A bare integer is read as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// GatewayConfig configures the text-generation backend.
type GatewayConfig struct {
	BaseURL string   `yaml:"base_url"` // OpenAI-compatible endpoint
	Model   string   `yaml:"model"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

// FlowParams holds generation parameters for one flow type.
type FlowParams struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// GenerationConfig holds per-flow generation parameters.
// Initial values are untuned defaults; do not assume they are load-tested.
type GenerationConfig struct {
	Standard        FlowParams `yaml:"standard"`
	Evaluator       FlowParams `yaml:"evaluator"`
	DebateTurn      FlowParams `yaml:"debate_turn"`
	DebateInterrupt FlowParams `yaml:"debate_interrupt"`
	Spectator       FlowParams `yaml:"spectator"`
}

// DebateConfig holds the debate state machine limits.
type DebateConfig struct {
	SoftLimit int `yaml:"soft_limit"` // scene note injected at this turn
	HardLimit int `yaml:"hard_limit"` // forced decision interrupt at this turn
}

// HistoryConfig bounds the in-prompt conversation window.
type HistoryConfig struct {
	Window int `yaml:"window"` // entries kept in the rolling history
}

// ReportConfig bounds the game-state summary.
type ReportConfig struct {
	LineBudget int `yaml:"line_budget"` // over budget -> overload stage direction
}

// LoggingConfig controls the category file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Name:    "council",
		Version: "2.0",
		Campaign: CampaignConfig{
			Dir:     "campaigns/resist",
			Faction: "resist",
			Tier:    1,
		},
		Personas: PersonasConfig{
			Dir:        "resources/personas",
			SystemPath: "resources/prompts/system.txt",
		},
		Routing: RoutingConfig{
			MainThreshold:    0.7,
			SupportThreshold: 0.3,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:5001/v1",
			Model:   "koboldcpp",
			Timeout: Duration(120 * time.Second),
		},
		Generation: GenerationConfig{
			Standard:        FlowParams{MaxTokens: 150, Temperature: 0.7},
			Evaluator:       FlowParams{MaxTokens: 400, Temperature: 0.2},
			DebateTurn:      FlowParams{MaxTokens: 150, Temperature: 0.8},
			DebateInterrupt: FlowParams{MaxTokens: 75, Temperature: 0.5},
			Spectator:       FlowParams{MaxTokens: 50, Temperature: 0.5},
		},
		Debate: DebateConfig{
			SoftLimit: 3,
			HardLimit: 5,
		},
		History: HistoryConfig{
			Window: 20,
		},
		Report: ReportConfig{
			LineBudget: 40,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, layered over defaults, with environment
// overrides applied last. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays COUNCIL_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COUNCIL_BACKEND_URL"); v != "" {
		c.Gateway.BaseURL = v
	}
	if v := os.Getenv("COUNCIL_BACKEND_MODEL"); v != "" {
		c.Gateway.Model = v
	}
	if v := os.Getenv("COUNCIL_BACKEND_API_KEY"); v != "" {
		c.Gateway.APIKey = v
	}
	if v := os.Getenv("COUNCIL_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("OLLAMA_ENDPOINT"); v != "" {
		c.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if v := os.Getenv("COUNCIL_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// Validate checks invariants that would otherwise fail deep in the pipeline.
func (c *Config) Validate() error {
	if c.Routing.SupportThreshold <= 0 || c.Routing.SupportThreshold >= 1 {
		return fmt.Errorf("routing.support_threshold must be in (0,1), got %v", c.Routing.SupportThreshold)
	}
	if c.Routing.MainThreshold <= c.Routing.SupportThreshold || c.Routing.MainThreshold > 1 {
		return fmt.Errorf("routing.main_threshold must be in (support_threshold,1], got %v", c.Routing.MainThreshold)
	}
	if c.Campaign.Tier < 1 {
		return fmt.Errorf("campaign.tier must be >= 1, got %d", c.Campaign.Tier)
	}
	if c.Debate.SoftLimit < 1 || c.Debate.HardLimit <= c.Debate.SoftLimit {
		return fmt.Errorf("debate limits invalid: soft=%d hard=%d", c.Debate.SoftLimit, c.Debate.HardLimit)
	}
	if c.History.Window < 2 {
		return fmt.Errorf("history.window must be >= 2, got %d", c.History.Window)
	}
	if c.Report.LineBudget < 1 {
		return fmt.Errorf("report.line_budget must be >= 1, got %d", c.Report.LineBudget)
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = Duration(120 * time.Second)
	}
	return nil
}

// CampaignDBPath returns the session database location for the campaign.
func (c *Config) CampaignDBPath() string {
	return filepath.Join(c.Campaign.Dir, "campaign.db")
}

// SavegameDBPath returns the gamestate snapshot database location.
func (c *Config) SavegameDBPath() string {
	return filepath.Join(c.Campaign.Dir, "savegame.db")
}

// LogsDir returns the per-session transcript directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Campaign.Dir, "logs")
}
