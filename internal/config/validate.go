package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderClaudeCLI = "claude-cli"
	ProviderNone      = "none"
)

const (
	minAttempts = 1
	maxAttempts = 10
)

var defaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderOpenAI:    "gpt-4o",
	ProviderClaudeCLI: "sonnet",
	ProviderNone:      "",
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the config for errors and sets defaults. Relative audit
// paths are resolved against projectRoot.
func Validate(cfg *Config, projectRoot string) error {
	p := &cfg.Pipeline
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 4
	}
	if p.MaxAttempts < minAttempts || p.MaxAttempts > maxAttempts {
		return fmt.Errorf("config: pipeline: max-attempts must be between %d and %d, got %d", minAttempts, maxAttempts, p.MaxAttempts)
	}
	if p.PhaseTimeout < 0 {
		return fmt.Errorf("config: pipeline: phase-timeout must be >= 0")
	}
	if p.PhaseTimeout == 0 {
		p.PhaseTimeout = 5 * time.Minute
	}

	l := &cfg.LLM
	l.Provider = strings.ToLower(strings.TrimSpace(l.Provider))
	if l.Provider == "" {
		l.Provider = ProviderClaudeCLI
	}
	def, ok := defaultModels[l.Provider]
	if !ok {
		return fmt.Errorf("config: llm: unknown provider %q (must be anthropic, openai, claude-cli, or none)", l.Provider)
	}
	if l.Model == "" {
		l.Model = def
	}
	if l.Rate < 0 {
		return fmt.Errorf("config: llm: rate must be >= 0")
	}
	if l.Burst <= 0 {
		l.Burst = 1
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("config: llm: temperature must be between 0 and 2")
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 8192
	}

	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":9000"
	}
	if s.MaxUploadMB <= 0 {
		s.MaxUploadMB = 25
	}

	a := &cfg.Audit
	switch a.Backend {
	case "":
		a.Backend = "file"
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: audit: unknown backend %q (must be file or sqlite)", a.Backend)
	}
	if a.Path == "" {
		a.Path = ".patchr/runs"
		if a.Backend == "sqlite" {
			a.Path = ".patchr/audit.db"
		}
	}
	if !filepath.IsAbs(a.Path) && projectRoot != "" {
		a.Path = filepath.Join(projectRoot, a.Path)
	}

	g := &cfg.Log
	if g.Level == "" {
		g.Level = "info"
	}
	if !validLevels[g.Level] {
		return fmt.Errorf("config: log: unknown level %q", g.Level)
	}
	switch g.Format {
	case "":
		g.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("config: log: unknown format %q (must be console or json)", g.Format)
	}
	return nil
}
