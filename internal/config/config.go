// Package config handles Augur configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./augur.yaml, ~/.config/augur/config.yaml, /etc/augur/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"augur.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "augur", "config.yaml"))
	}

	paths = append(paths, "/etc/augur/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Augur configuration.
type Config struct {
	Completion CompletionConfig `yaml:"completion"`
	Loop       LoopConfig       `yaml:"loop"`
	Store      StoreConfig      `yaml:"store"`
	Context    ContextConfig    `yaml:"context"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// CompletionConfig defines the remote chat-completion service settings.
type CompletionConfig struct {
	// BaseURL is the service root (e.g. https://api.example.com/v1).
	BaseURL string `yaml:"base_url"`
	// APIKey is sent as a bearer token when non-empty.
	APIKey string `yaml:"api_key"`
	// Model is the identifier used for standard (tool-capable) requests.
	Model string `yaml:"model"`
	// ReasoningModel is used when reasoning mode is requested.
	ReasoningModel string `yaml:"reasoning_model"`
	// MaxTokens is the completion ceiling for standard requests.
	MaxTokens int `yaml:"max_tokens"`
	// ReasoningMaxTokens is the (much larger) ceiling for reasoning requests.
	ReasoningMaxTokens int `yaml:"reasoning_max_tokens"`
	// TimeoutSec bounds a single completion round-trip. Default 300.
	TimeoutSec int `yaml:"timeout_sec"`
}

// LoopConfig bounds the divination loop.
type LoopConfig struct {
	// MaxTurns is the maximum model/tool round-trips per divination.
	MaxTurns int `yaml:"max_turns"`
	// MaxRestarts bounds parameter-change restarts of a divination.
	MaxRestarts int `yaml:"max_restarts"`
}

// StoreConfig defines persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file. Empty means DataDir/augur.db.
	Path string `yaml:"path"`
	// MaxNoteLen caps note content at write time. Default 2000.
	MaxNoteLen int `yaml:"max_note_len"`
}

// ContextConfig defines context-assembly budgets and sources.
type ContextConfig struct {
	// HistoryTurns caps how many past exchanges are considered.
	HistoryTurns int `yaml:"history_turns"`
	// HistoryTokens is the approximate token budget for history.
	HistoryTokens int `yaml:"history_tokens"`
	// AegisTokens is the token budget for prepended orientation snapshots.
	AegisTokens int `yaml:"aegis_tokens"`
	// NoteTokens is the token budget for recalled notes.
	NoteTokens int `yaml:"note_tokens"`
	// ProjectDir is the root used for the project file list and manifest.
	ProjectDir string `yaml:"project_dir"`
	// ManifestPath is the manifest document, relative to ProjectDir.
	ManifestPath string `yaml:"manifest_path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Completion: CompletionConfig{
			BaseURL:            "http://localhost:8000/v1",
			Model:              "qwen2.5:32b",
			ReasoningModel:     "qwq:32b",
			MaxTokens:          4096,
			ReasoningMaxTokens: 32768,
			TimeoutSec:         300,
		},
		Loop: LoopConfig{
			MaxTurns:    25,
			MaxRestarts: 3,
		},
		Store: StoreConfig{
			MaxNoteLen: 2000,
		},
		Context: ContextConfig{
			HistoryTurns:  10,
			HistoryTokens: 4000,
			AegisTokens:   1000,
			NoteTokens:    1500,
			ManifestPath:  filepath.Join(".augur", "manifest.md"),
		},
		DataDir: ".",
	}
}
