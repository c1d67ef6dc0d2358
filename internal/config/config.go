package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models shipline.yml. Every value the pipeline consumes is
// explicit here and injected into the components that need it; there
// are no module-wide defaults.
type Config struct {
	Model struct {
		Name      string `yaml:"name"`
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"model"`
	Agents struct {
		Designer AgentConfig `yaml:"designer"`
		Planner  AgentConfig `yaml:"planner"`
		Worker   AgentConfig `yaml:"worker"`
		Debugger AgentConfig `yaml:"debugger"`
		Reviewer AgentConfig `yaml:"reviewer"`
	} `yaml:"agents"`
	Debug struct {
		MaxIterations  int      `yaml:"max_iterations"`
		TestCommand    []string `yaml:"test_command"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"debug"`
	Pipeline struct {
		Parallel      int  `yaml:"parallel"`
		RequireReview bool `yaml:"require_review"`
	} `yaml:"pipeline"`
	Server struct {
		Addr      string `yaml:"addr"`
		AuthKey   string `yaml:"auth_key"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// AgentConfig holds per-agent sampling parameters.
type AgentConfig struct {
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shipline.yml")
}

// Load reads config from the workspace, falling back to defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// values are filled from defaults before validation.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("config.model.name is required")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("config.model.max_tokens must be positive")
	}
	if c.Debug.MaxIterations < 1 {
		return fmt.Errorf("config.debug.max_iterations must be >= 1")
	}
	if len(c.Debug.TestCommand) == 0 {
		return fmt.Errorf("config.debug.test_command is required")
	}
	if c.Debug.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.debug.timeout_seconds must be positive")
	}
	if c.Pipeline.Parallel < 1 {
		return fmt.Errorf("config.pipeline.parallel must be >= 1")
	}
	for name, a := range map[string]AgentConfig{
		"designer": c.Agents.Designer,
		"planner":  c.Agents.Planner,
		"worker":   c.Agents.Worker,
		"debugger": c.Agents.Debugger,
		"reviewer": c.Agents.Reviewer,
	} {
		if a.Temperature < 0 || a.Temperature > 1 {
			return fmt.Errorf("agent %s: temperature must be in [0,1]", name)
		}
		if a.MaxTokens < 0 {
			return fmt.Errorf("agent %s: max_tokens must not be negative", name)
		}
	}
	return nil
}

// MaxTokensFor returns the agent override or the model-wide budget.
func (c *Config) MaxTokensFor(a AgentConfig) int {
	if a.MaxTokens > 0 {
		return a.MaxTokens
	}
	return c.Model.MaxTokens
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML, suitable for
// writing a fresh shipline.yml.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `model:
  name: claude-sonnet-4-20250514
  max_tokens: 4096

agents:
  designer:
    temperature: 0.5
  planner:
    temperature: 0.4
    max_tokens: 8000
  worker:
    temperature: 0.3
    max_tokens: 8000
  debugger:
    temperature: 0.2
    max_tokens: 8000
  reviewer:
    temperature: 0.3

debug:
  max_iterations: 5
  test_command: [python, -m, pytest, -v]
  timeout_seconds: 60

pipeline:
  parallel: 1
  require_review: false

server:
  addr: 127.0.0.1:8787
`
