package profile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the immutable process configuration. It is built once at
// startup and passed by reference into every component that needs it.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// Data is the data directory holding history files and archives.
	Data string
	// PersonaDir is the directory containing persona YAML files.
	PersonaDir string
	// Version is the current version of the binary.
	Version string

	// Backend credentials and endpoints.
	GrokAPIKey       string // GROKPRIME_GROK_API_KEY (legacy: GROK_KEY)
	AnthropicAPIKey  string // GROKPRIME_ANTHROPIC_API_KEY (legacy: CLAUDE_KEY)
	OpenAIAPIKey     string // GROKPRIME_OPENAI_API_KEY
	GrokBaseURL      string // GROKPRIME_GROK_BASE_URL (default: https://api.x.ai)
	AnthropicBaseURL string // GROKPRIME_ANTHROPIC_BASE_URL (default: https://api.anthropic.com)
	OpenAIBaseURL    string // GROKPRIME_OPENAI_BASE_URL (default: https://api.openai.com/v1)

	// Model selection per provider.
	GrokModel      string // GROKPRIME_GROK_MODEL (default: grok-4-fast)
	AnthropicModel string // GROKPRIME_ANTHROPIC_MODEL (default: claude-sonnet-4-20250514)
	OpenAIModel    string // GROKPRIME_OPENAI_MODEL (default: gpt-4o-mini)

	// DefaultTemperature applies when a persona does not set one.
	DefaultTemperature float32
	// RequestsPerMinute caps outbound calls per backend. Zero disables limiting.
	RequestsPerMinute int
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
// Supports both GROKPRIME_* (new) and the legacy bare key names.
func (p *Profile) FromEnv() {
	getEnvWithFallback := func(newKey, legacyKey string) string {
		if val := os.Getenv(newKey); val != "" {
			return val
		}
		return os.Getenv(legacyKey)
	}

	p.GrokAPIKey = getEnvWithFallback("GROKPRIME_GROK_API_KEY", "GROK_KEY")
	p.AnthropicAPIKey = getEnvWithFallback("GROKPRIME_ANTHROPIC_API_KEY", "CLAUDE_KEY")
	p.OpenAIAPIKey = os.Getenv("GROKPRIME_OPENAI_API_KEY")

	p.GrokBaseURL = getEnvOrDefault("GROKPRIME_GROK_BASE_URL", "https://api.x.ai")
	p.AnthropicBaseURL = getEnvOrDefault("GROKPRIME_ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	p.OpenAIBaseURL = getEnvOrDefault("GROKPRIME_OPENAI_BASE_URL", "https://api.openai.com/v1")

	p.GrokModel = getEnvOrDefault("GROKPRIME_GROK_MODEL", "grok-4-fast")
	p.AnthropicModel = getEnvOrDefault("GROKPRIME_ANTHROPIC_MODEL", "claude-sonnet-4-20250514")
	p.OpenAIModel = getEnvOrDefault("GROKPRIME_OPENAI_MODEL", "gpt-4o-mini")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if err := os.MkdirAll(dataDir, 0o770); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and fills derived defaults.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Data == "" {
		p.Data = "./data"
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.PersonaDir == "" {
		p.PersonaDir = filepath.Join(p.Data, "personas")
	}
	personaDir, err := checkDataDir(p.PersonaDir)
	if err != nil {
		return err
	}
	p.PersonaDir = personaDir

	if p.DefaultTemperature <= 0 {
		p.DefaultTemperature = 0.7
	}
	if p.RequestsPerMinute < 0 {
		p.RequestsPerMinute = 0
	}
	return nil
}

// APIKeyFor returns the configured credential for a provider name,
// or an error naming the missing variable.
func (p *Profile) APIKeyFor(provider string) (string, error) {
	switch provider {
	case "grok":
		if p.GrokAPIKey == "" {
			return "", errors.New("GROKPRIME_GROK_API_KEY not set")
		}
		return p.GrokAPIKey, nil
	case "anthropic":
		if p.AnthropicAPIKey == "" {
			return "", errors.New("GROKPRIME_ANTHROPIC_API_KEY not set")
		}
		return p.AnthropicAPIKey, nil
	case "openai":
		if p.OpenAIAPIKey == "" {
			return "", errors.New("GROKPRIME_OPENAI_API_KEY not set")
		}
		return p.OpenAIAPIKey, nil
	default:
		return "", errors.Errorf("unknown provider: %s", provider)
	}
}
