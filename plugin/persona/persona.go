// Package persona loads named assistant configurations from YAML files into
// an immutable registry. Personas are loaded once at startup and handed out
// as shared read-only references; nothing mutates them in place.
package persona

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Daegonica/grokprime/internal/profile"
)

// Defaults applied when a persona file omits the optional knobs.
const (
	DefaultTemperature         = 0.7
	DefaultHistoryMessageLimit = 12
	DefaultSummaryThreshold    = 20
)

// HistorianName is the dedicated persona used to summarize old history.
const HistorianName = "historian"

const historianPrompt = `You are a conversation historian. You receive a transcript of an ` +
	`earlier conversation and produce a concise third-person summary that preserves goals, ` +
	`decisions, promises, and open threads. Output only the summary text.`

// Persona bundles a system prompt, sampling temperature, and history
// thresholds. Shared read-only by its session.
type Persona struct {
	Name         string `mapstructure:"name"`
	Description  string `mapstructure:"description"`
	SystemPrompt string `mapstructure:"system_prompt"`

	// Provider selects the backend adapter: grok, anthropic, or openai.
	Provider string `mapstructure:"provider"`
	// Model overrides the profile's per-provider default when set.
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	// EnableHistory turns on flat-file persistence and compaction.
	EnableHistory bool `mapstructure:"enable_history"`
	// HistoryMessageLimit is how many recent messages survive a compaction.
	HistoryMessageLimit int `mapstructure:"history_message_limit"`
	// SummaryThreshold is the non-system message count that triggers compaction.
	SummaryThreshold int `mapstructure:"summary_threshold"`
}

// FromFile loads a single persona YAML file.
func FromFile(path string, prof *profile.Profile) (*Persona, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read persona file %s", path)
	}
	p := &Persona{}
	if err := v.Unmarshal(p); err != nil {
		return nil, errors.Wrapf(err, "failed to parse persona file %s", path)
	}
	if err := p.normalize(prof); err != nil {
		return nil, errors.Wrapf(err, "invalid persona file %s", path)
	}
	return p, nil
}

func (p *Persona) normalize(prof *profile.Profile) error {
	if p.Name == "" {
		return errors.New("persona name is required")
	}
	if p.SystemPrompt == "" {
		return errors.New("persona system_prompt is required")
	}
	if p.Provider == "" {
		p.Provider = "grok"
	}
	if p.Model == "" && prof != nil {
		switch p.Provider {
		case "grok":
			p.Model = prof.GrokModel
		case "anthropic":
			p.Model = prof.AnthropicModel
		case "openai":
			p.Model = prof.OpenAIModel
		}
	}
	if p.Temperature <= 0 {
		if prof != nil && prof.DefaultTemperature > 0 {
			p.Temperature = prof.DefaultTemperature
		} else {
			p.Temperature = DefaultTemperature
		}
	}
	if p.HistoryMessageLimit <= 0 {
		p.HistoryMessageLimit = DefaultHistoryMessageLimit
	}
	if p.SummaryThreshold <= 0 {
		p.SummaryThreshold = DefaultSummaryThreshold
	}
	return nil
}

// defaultHistorian is synthesized when the persona directory has no
// historian.yaml of its own.
func defaultHistorian(prof *profile.Profile) *Persona {
	p := &Persona{
		Name:         HistorianName,
		Description:  "Summarizes old conversation history",
		SystemPrompt: historianPrompt,
		Temperature:  0.3,
	}
	_ = p.normalize(prof)
	return p
}
