package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daegonica/grokprime/plugin/llm"
)

func TestSummaryMarkerRoundTrip(t *testing.T) {
	msg := WrapSummary("we discussed goals and streaks")

	assert.Equal(t, llm.RoleSystem, msg.Role)
	assert.True(t, IsSummaryMessage(msg))

	text, ok := ExtractSummary(msg)
	require.True(t, ok)
	assert.Equal(t, "we discussed goals and streaks", text)

	// Re-wrapping the extracted text is lossless.
	assert.Equal(t, msg, WrapSummary(text))
}

func TestExtractSummaryRejectsOrdinaryMessages(t *testing.T) {
	_, ok := ExtractSummary(llm.Message{Role: llm.RoleSystem, Content: "plain prompt"})
	assert.False(t, ok)
	_, ok = ExtractSummary(llm.Message{Role: llm.RoleUser, Content: summaryMarkerPrefix + "sneaky]"})
	assert.False(t, ok)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "shadow", sanitizeName("shadow"))
	assert.Equal(t, "sh_ad_ow", sanitizeName("sh/ad\\ow"))
	assert.Equal(t, "_.._.._etc_passwd", sanitizeName("../../../etc/passwd"))
	assert.Equal(t, "persona", sanitizeName(""))
	assert.Equal(t, "persona", sanitizeName(".."))
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	summary := "earlier conversation"
	rec := &Record{
		PersonaName: "shadow",
		Summary:     &summary,
		RecentMessages: []llm.Message{
			{Role: llm.RoleUser, Content: "hello"},
			{Role: llm.RoleAssistant, Content: "hi"},
		},
		TotalMessageCount:  14,
		LastUpdated:        "2026-08-28T10:00:00Z",
		SummarizationCount: 2,
	}

	require.NoError(t, store.Save(rec))
	assert.True(t, store.Exists("shadow"))

	loaded, err := store.Load("shadow")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, rec.RecentMessages, loaded.RecentMessages)
	assert.Equal(t, rec.TotalMessageCount, loaded.TotalMessageCount)
	assert.Equal(t, rec.SummarizationCount, loaded.SummarizationCount)
	require.NotNil(t, loaded.Summary)
	assert.Equal(t, summary, *loaded.Summary)
}

func TestStoreLoadMissingIsNotAnError(t *testing.T) {
	store := NewStore(t.TempDir())
	rec, err := store.Load("nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStoreLoadCorruptFile(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	path := filepath.Join(root, "personas", "shadow", "history", "shadow_history.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o770))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o660))

	_, err := store.Load("shadow")
	assert.Error(t, err)
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(&Record{PersonaName: "shadow"}))
	require.NoError(t, store.Delete("shadow"))
	assert.False(t, store.Exists("shadow"))
	// Deleting again is a no-op.
	require.NoError(t, store.Delete("shadow"))
}

func TestStorePathInjectionContained(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	require.NoError(t, store.Save(&Record{PersonaName: "../escape"}))

	// Nothing was written outside the store root.
	_, err := os.Stat(filepath.Join(filepath.Dir(root), "escape"))
	assert.True(t, os.IsNotExist(err))
	assert.True(t, store.Exists("../escape"))
}

func TestStoreArchive(t *testing.T) {
	store := NewStore(t.TempDir())
	log := []llm.Message{
		{Role: llm.RoleSystem, Content: "sp"},
		{Role: llm.RoleUser, Content: "hello"},
	}

	path, err := store.Archive("shadow", log)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, filepath.Base(path), "shadow_")
}

func TestSnapshotAndBuildLogRoundTrip(t *testing.T) {
	p := testPersona()
	p.HistoryMessageLimit = 4
	c := New(p)
	c.ReplaceLog([]llm.Message{
		{Role: llm.RoleSystem, Content: p.SystemPrompt},
		WrapSummary("the early days"),
		{Role: llm.RoleUser, Content: "u1"},
		{Role: llm.RoleAssistant, Content: "a1"},
		{Role: llm.RoleUser, Content: "u2"},
		{Role: llm.RoleAssistant, Content: "a2"},
		{Role: llm.RoleUser, Content: "u3"},
		{Role: llm.RoleAssistant, Content: "a3"},
	})

	rec := Snapshot(c)
	assert.Equal(t, "shadow", rec.PersonaName)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, "the early days", *rec.Summary)
	// Only the last four messages survive as the recent suffix.
	require.Len(t, rec.RecentMessages, 4)
	assert.Equal(t, "u2", rec.RecentMessages[0].Content)
	assert.Equal(t, "a3", rec.RecentMessages[3].Content)
	assert.Equal(t, 6, rec.TotalMessageCount)

	// Reloading reproduces [system, summary, recent...] exactly.
	rebuilt := BuildLog(p, rec)
	require.Len(t, rebuilt, 6)
	assert.Equal(t, llm.RoleSystem, rebuilt[0].Role)
	assert.True(t, IsSummaryMessage(rebuilt[1]))
	assert.Equal(t, c.Log()[4:], rebuilt[2:])
}

func TestBuildLogWithoutRecord(t *testing.T) {
	p := testPersona()
	log := BuildLog(p, nil)
	require.Len(t, log, 1)
	assert.Equal(t, llm.RoleSystem, log[0].Role)
}
