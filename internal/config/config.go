package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix marks environment overrides. A double underscore separates
// sections: PATCHR_PIPELINE__MAX_ATTEMPTS sets pipeline.max-attempts.
const EnvPrefix = "PATCHR_"

type Pipeline struct {
	MaxAttempts    int           `yaml:"max-attempts"`
	PhaseTimeout   time.Duration `yaml:"phase-timeout"`
	NonDestructive bool          `yaml:"non-destructive"`
}

type LLM struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api-key,omitempty"`
	Rate        float64 `yaml:"rate"`
	Burst       int     `yaml:"burst"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max-tokens"`
}

type Server struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int64  `yaml:"max-upload-mb"`
}

type Audit struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	LLM      LLM      `yaml:"llm"`
	Server   Server   `yaml:"server"`
	Audit    Audit    `yaml:"audit"`
	Log      Log      `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Pipeline: Pipeline{
			MaxAttempts:    4,
			PhaseTimeout:   5 * time.Minute,
			NonDestructive: true,
		},
		LLM: LLM{
			Provider:    ProviderClaudeCLI,
			Model:       "sonnet",
			Rate:        1,
			Burst:       2,
			Temperature: 0.2,
			MaxTokens:   8192,
		},
		Server: Server{Addr: ":9000", MaxUploadMB: 25},
		Audit:  Audit{Backend: "file"}, // path depends on the backend; Validate fills it
		Log:    Log{Level: "info", Format: "console"},
	}
}

// Load reads the YAML config at path, applies PATCHR_ environment overrides
// and returns a validated Config. A missing file is not an error.
func Load(path, projectRoot string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return Parse(data, projectRoot)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte, projectRoot string) (*Config, error) {
	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(cfg, projectRoot); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps PATCHR_LLM__API_KEY to llm.api-key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	s = strings.ReplaceAll(s, "__", ".")
	return strings.ReplaceAll(s, "_", "-")
}

// Marshal renders cfg as YAML with the API key redacted.
func Marshal(cfg *Config) ([]byte, error) {
	c := *cfg
	if c.LLM.APIKey != "" {
		c.LLM.APIKey = "********"
	}
	return yamlv3.Marshal(&c)
}
