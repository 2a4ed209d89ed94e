package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"GROKPRIME_GROK_API_KEY", "GROK_KEY",
		"GROKPRIME_ANTHROPIC_API_KEY", "CLAUDE_KEY",
		"GROKPRIME_OPENAI_API_KEY",
		"GROKPRIME_GROK_MODEL", "GROKPRIME_ANTHROPIC_MODEL", "GROKPRIME_OPENAI_MODEL",
		"GROKPRIME_GROK_BASE_URL", "GROKPRIME_ANTHROPIC_BASE_URL", "GROKPRIME_OPENAI_BASE_URL",
	} {
		t.Setenv(key, "")
	}

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "grok-4-fast", p.GrokModel)
	assert.Equal(t, "claude-sonnet-4-20250514", p.AnthropicModel)
	assert.Equal(t, "gpt-4o-mini", p.OpenAIModel)
	assert.Equal(t, "https://api.x.ai", p.GrokBaseURL)
	assert.Equal(t, "https://api.anthropic.com", p.AnthropicBaseURL)
	assert.Empty(t, p.GrokAPIKey)
}

func TestFromEnvLegacyFallback(t *testing.T) {
	t.Setenv("GROKPRIME_GROK_API_KEY", "")
	t.Setenv("GROK_KEY", "legacy-key")
	t.Setenv("GROKPRIME_ANTHROPIC_API_KEY", "new-key")
	t.Setenv("CLAUDE_KEY", "old-key")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "legacy-key", p.GrokAPIKey)
	// The new key wins over the legacy one.
	assert.Equal(t, "new-key", p.AnthropicAPIKey)
}

func TestValidate(t *testing.T) {
	t.Run("NormalizesModeAndDefaults", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Mode: "bogus", Data: dir}
		require.NoError(t, p.Validate())

		assert.Equal(t, "dev", p.Mode)
		assert.True(t, p.IsDev())
		assert.Equal(t, filepath.Join(dir, "personas"), p.PersonaDir)
		assert.InDelta(t, 0.7, p.DefaultTemperature, 0.001)
	})

	t.Run("CreatesDataDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		p := &Profile{Mode: "prod", Data: dir}
		require.NoError(t, p.Validate())
		assert.DirExists(t, p.Data)
		assert.DirExists(t, p.PersonaDir)
	})
}

func TestAPIKeyFor(t *testing.T) {
	p := &Profile{GrokAPIKey: "xai-123"}

	key, err := p.APIKeyFor("grok")
	require.NoError(t, err)
	assert.Equal(t, "xai-123", key)

	_, err = p.APIKeyFor("anthropic")
	assert.Error(t, err)

	_, err = p.APIKeyFor("sputnik")
	assert.Error(t, err)
}
