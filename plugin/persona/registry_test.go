package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daegonica/grokprime/internal/profile"
)

func writePersona(t *testing.T, dir, file, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func testProfile() *profile.Profile {
	return &profile.Profile{
		GrokModel:          "grok-4-fast",
		AnthropicModel:     "claude-sonnet-4-20250514",
		OpenAIModel:        "gpt-4o-mini",
		DefaultTemperature: 0.7,
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "shadow.yaml", `
name: shadow
system_prompt: You are Shadow, a direct motivational assistant.
temperature: 0.9
enable_history: true
history_message_limit: 12
summary_threshold: 20
`)
	writePersona(t, dir, "sage.yaml", `
name: sage
provider: anthropic
system_prompt: You are a calm advisor.
`)
	writePersona(t, dir, "notes.txt", "not a persona")

	r, err := Load(dir, testProfile())
	require.NoError(t, err)

	assert.Equal(t, []string{"sage", "shadow"}, r.Names())

	shadow, ok := r.Get("shadow")
	require.True(t, ok)
	assert.Equal(t, "grok", shadow.Provider)
	assert.Equal(t, "grok-4-fast", shadow.Model)
	assert.InDelta(t, 0.9, shadow.Temperature, 0.001)
	assert.True(t, shadow.EnableHistory)

	sage, ok := r.Get("sage")
	require.True(t, ok)
	assert.Equal(t, "anthropic", sage.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", sage.Model)
	// Defaults fill the omitted knobs.
	assert.InDelta(t, 0.7, sage.Temperature, 0.001)
	assert.Equal(t, DefaultHistoryMessageLimit, sage.HistoryMessageLimit)
	assert.Equal(t, DefaultSummaryThreshold, sage.SummaryThreshold)
	assert.False(t, sage.EnableHistory)
}

func TestLoadBuiltinHistorian(t *testing.T) {
	r, err := Load(t.TempDir(), testProfile())
	require.NoError(t, err)

	h := r.Historian()
	require.NotNil(t, h)
	assert.Equal(t, HistorianName, h.Name)
	assert.InDelta(t, 0.3, h.Temperature, 0.001)
	assert.NotContains(t, r.Names(), HistorianName)
}

func TestLoadHistorianOverride(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "historian.yaml", `
name: historian
system_prompt: Custom summarizer instructions.
temperature: 0.2
`)

	r, err := Load(dir, testProfile())
	require.NoError(t, err)
	assert.Equal(t, "Custom summarizer instructions.", r.Historian().SystemPrompt)
	assert.NotContains(t, r.Names(), HistorianName)
}

func TestLoadMissingDir(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "nope"), testProfile())
	require.NoError(t, err)
	assert.Empty(t, r.Names())
	assert.NotNil(t, r.Historian())
}

func TestLoadInvalidPersona(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "broken.yaml", "name: broken\n") // missing system_prompt

	_, err := Load(dir, testProfile())
	assert.Error(t, err)
}

func TestLoadDuplicateName(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "a.yaml", "name: twin\nsystem_prompt: one\n")
	writePersona(t, dir, "b.yaml", "name: twin\nsystem_prompt: two\n")

	_, err := Load(dir, testProfile())
	assert.Error(t, err)
}
