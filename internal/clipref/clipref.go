// Package clipref loads the optional per-user CLI display preferences file
// (~/.dsm/cli.toml) — color and verbosity settings, unrelated to the
// (JSON, mandatory) cluster configuration in internal/config. cmd/dsmmon
// is the only binary that reads it, and it uses only the color setting.
package clipref

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Prefs represents ~/.dsm/cli.toml.
type Prefs struct {
	Color     bool   `toml:"color,omitempty"`
	Verbosity string `toml:"verbosity,omitempty"` // "quiet", "normal", "verbose"
}

var dirOverride string

// SetDir overrides the prefs directory (used by tests).
func SetDir(dir string) {
	dirOverride = dir
}

// Dir returns the prefs directory: the override if set, else ~/.dsm.
func Dir() string {
	if dirOverride != "" {
		return dirOverride
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".dsm")
	}
	return filepath.Join(home, ".dsm")
}

func path() string {
	return filepath.Join(Dir(), "cli.toml")
}

// Load reads cli.toml. A missing file is not an error — it yields
// defaults, since this file is explicitly optional (spec.md's ambient CLI
// stack, not the mandatory cluster config).
func Load() (*Prefs, error) {
	p := &Prefs{Verbosity: "normal"}
	data, err := os.ReadFile(path())
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("reading cli prefs: %w", err)
	}
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing cli.toml: %w", err)
	}
	return p, nil
}

// Save writes prefs back to cli.toml, creating the directory if needed.
func Save(p *Prefs) error {
	if err := os.MkdirAll(Dir(), 0o755); err != nil {
		return fmt.Errorf("creating prefs dir: %w", err)
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling cli prefs: %w", err)
	}
	return os.WriteFile(path(), data, 0o644)
}

var validKeys = map[string]bool{
	"color":     true,
	"verbosity": true,
}

// Get retrieves a single preference by key.
func Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown cli preference: %s", key)
	}
	p, err := Load()
	if err != nil {
		return "", err
	}
	switch key {
	case "color":
		return fmt.Sprintf("%t", p.Color), nil
	case "verbosity":
		return p.Verbosity, nil
	default:
		return "", fmt.Errorf("unknown cli preference: %s", key)
	}
}

// Set sets a single preference by key and persists it.
func Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown cli preference: %s", key)
	}
	p, err := Load()
	if err != nil {
		return err
	}
	switch key {
	case "color":
		p.Color = value == "true" || value == "1"
	case "verbosity":
		p.Verbosity = value
	}
	return Save(p)
}
