package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rahul/reenact/internal/engine"
	"github.com/rahul/reenact/internal/governance"
	"github.com/rahul/reenact/internal/matcher"
	"github.com/rahul/reenact/internal/resolve"
)

type Config struct {
	App       AppConfig                 `json:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways"`
	Providers map[string]ProviderConfig `json:"providers"`
	Memory    MemoryConfig              `json:"memory"`
	Engine    EngineConfig              `json:"engine"`
	Backend   BackendConfig             `json:"backend"`
	OCR       OCRConfig                 `json:"ocr"`
	Policy    governance.Rules          `json:"policy"`
}

type AppConfig struct {
	Name      string `json:"name"`
	Workspace string `json:"workspace"`
	Prompts   string `json:"prompts"`
	LLMLog    string `json:"llm_log"`
	// LLMLogMaxSize is in bytes.
	LLMLogMaxSize int64 `json:"llm_log_max_size"`
}

type GatewayConfig struct {
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
	// GuildID restricts Discord to one server.
	GuildID string `json:"guild_id,omitempty"`
	// AllowedChats restricts Telegram to these chat IDs.
	AllowedChats []int64 `json:"allowed_chats,omitempty"`
	// AllowedUsers restricts Discord to these user IDs.
	AllowedUsers []string `json:"allowed_users,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	Enabled bool   `json:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Duration reads Go duration strings ("500ms") or plain seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs float64
	if err := json.Unmarshal(b, &secs); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string or number: %s", b)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type EngineConfig struct {
	Accept              float64  `json:"accept"`
	Floor               float64  `json:"floor"`
	FuzzyThreshold      float64  `json:"fuzzy_threshold"`
	VisualFloor         float64  `json:"visual_floor"`
	SemanticTrigger     float64  `json:"semantic_trigger"`
	LastKnownConfidence float64  `json:"last_known_confidence"`
	AgreementBonus      float64  `json:"agreement_bonus"`
	DedupeRadius        float64  `json:"dedupe_radius"`
	MaxAttempts         int      `json:"max_attempts"`
	StepBudget          Duration `json:"step_budget"`
	SemanticTimeout     Duration `json:"semantic_timeout"`
	Settle              Duration `json:"settle"`
	BackoffBase         Duration `json:"backoff_base"`
	BackoffMax          Duration `json:"backoff_max"`
	RelaxStep           float64  `json:"relax_step"`
	ScrollIncrement     int      `json:"scroll_increment"`
	ChangeThreshold     int      `json:"change_threshold"`
	MaxVisualRegions    int      `json:"max_visual_regions"`
	MatchAccept         float64  `json:"match_accept"`
	MatchConfirm        float64  `json:"match_confirm"`
	LauncherKey         string   `json:"launcher_key"`
	AddressBarKey       string   `json:"address_bar_key"`
}

type BackendConfig struct {
	// Type is "desktop" (X11 via xdotool) or "browser" (Chrome via CDP).
	Type     string `json:"type"`
	Display  string `json:"display,omitempty"`
	Headless bool   `json:"headless,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	StartURL string `json:"start_url,omitempty"`
}

type OCRConfig struct {
	// Engine is "tesseract", "vision" or "none".
	Engine   string `json:"engine"`
	Binary   string `json:"binary,omitempty"`
	Language string `json:"language,omitempty"`
}

// Load reads a JSON config file and fills unset values with defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default is the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

func (c *Config) ApplyDefaults() {
	setDefault(&c.App.Name, "reenact")
	setDefault(&c.App.Workspace, "workspace")
	setDefault(&c.App.Prompts, "internal/vision/prompts")
	setDefault(&c.App.LLMLog, filepath.Join("logs", "llm.jsonl"))
	setDefault(&c.App.LLMLogMaxSize, int64(10<<20))

	setDefault(&c.Memory.Type, "sqlite")
	setDefault(&c.Memory.Path, filepath.Join(c.App.Workspace, "reenact.db"))

	e := &c.Engine
	setDefault(&e.Accept, 0.8)
	setDefault(&e.Floor, 0.5)
	setDefault(&e.FuzzyThreshold, 0.6)
	setDefault(&e.VisualFloor, 0.5)
	setDefault(&e.SemanticTrigger, 0.85)
	setDefault(&e.LastKnownConfidence, 0.3)
	setDefault(&e.AgreementBonus, 0.1)
	setDefault(&e.DedupeRadius, 20)
	setDefault(&e.MaxAttempts, 3)
	setDefault(&e.StepBudget, Duration(30*time.Second))
	setDefault(&e.SemanticTimeout, Duration(5*time.Second))
	setDefault(&e.Settle, Duration(500*time.Millisecond))
	setDefault(&e.BackoffBase, Duration(500*time.Millisecond))
	setDefault(&e.BackoffMax, Duration(2*time.Second))
	setDefault(&e.RelaxStep, 0.15)
	setDefault(&e.ScrollIncrement, 5)
	setDefault(&e.ChangeThreshold, 3)
	setDefault(&e.MaxVisualRegions, 400)
	setDefault(&e.MatchAccept, 0.7)
	setDefault(&e.MatchConfirm, 0.5)
	setDefault(&e.LauncherKey, "super")
	setDefault(&e.AddressBarKey, "ctrl+l")

	setDefault(&c.Backend.Type, "desktop")
	setDefault(&c.OCR.Engine, "tesseract")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	e := c.Engine
	if e.Floor > e.Accept {
		return fmt.Errorf("engine.floor %.2f is above engine.accept %.2f", e.Floor, e.Accept)
	}
	if e.MatchConfirm > e.MatchAccept {
		return fmt.Errorf("engine.match_confirm %.2f is above engine.match_accept %.2f", e.MatchConfirm, e.MatchAccept)
	}
	if e.BackoffBase > e.BackoffMax {
		return fmt.Errorf("engine.backoff_base is above engine.backoff_max")
	}
	switch c.Backend.Type {
	case "desktop", "browser":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend.Type)
	}
	switch c.OCR.Engine {
	case "tesseract", "vision", "none":
	default:
		return fmt.Errorf("unknown ocr engine %q", c.OCR.Engine)
	}
	return nil
}

func (c *Config) EngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		MaxAttempts:     e.MaxAttempts,
		StepBudget:      time.Duration(e.StepBudget),
		Thresholds:      resolve.Thresholds{Accept: e.Accept, Floor: e.Floor},
		RelaxStep:       e.RelaxStep,
		ScrollIncrement: e.ScrollIncrement,
		BackoffBase:     time.Duration(e.BackoffBase),
		BackoffMax:      time.Duration(e.BackoffMax),
	}
}

func (c *Config) ResolveConfig() resolve.Config {
	e := c.Engine
	return resolve.Config{
		FuzzyThreshold:      e.FuzzyThreshold,
		VisualFloor:         e.VisualFloor,
		SemanticTrigger:     e.SemanticTrigger,
		LastKnownConfidence: e.LastKnownConfidence,
		SemanticTimeout:     time.Duration(e.SemanticTimeout),
		MaxVisualRegions:    e.MaxVisualRegions,
	}
}

func (c *Config) MatcherConfig() matcher.Config {
	return matcher.Config{Accept: c.Engine.MatchAccept, Confirm: c.Engine.MatchConfirm}
}

// GetDefaultProvider returns the first enabled provider
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// Gateway returns the named gateway config if enabled
func (c *Config) Gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}
