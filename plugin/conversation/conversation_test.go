package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Daegonica/grokprime/plugin/llm"
	"github.com/Daegonica/grokprime/plugin/persona"
)

func testPersona() *persona.Persona {
	return &persona.Persona{
		Name:                "shadow",
		SystemPrompt:        "You are Shadow.",
		Provider:            "grok",
		Model:               "grok-4-fast",
		Temperature:         0.7,
		EnableHistory:       true,
		HistoryMessageLimit: 12,
		SummaryThreshold:    20,
	}
}

func TestNewStartsWithSystemPrompt(t *testing.T) {
	c := New(testPersona())
	log := c.Log()
	require.Len(t, log, 1)
	assert.Equal(t, llm.RoleSystem, log[0].Role)
	assert.Equal(t, "You are Shadow.", log[0].Content)
}

func TestSystemMessageAlwaysFirst(t *testing.T) {
	c := New(testPersona())
	for i := 0; i < 10; i++ {
		c.AddUserMessage("ping")
		c.AddAssistantMessage("pong")
		assert.Equal(t, llm.RoleSystem, c.Log()[0].Role)
	}

	c.ReplaceLog([]llm.Message{
		{Role: llm.RoleSystem, Content: "You are Shadow."},
		WrapSummary("earlier chat"),
		{Role: llm.RoleUser, Content: "latest"},
	})
	assert.Equal(t, llm.RoleSystem, c.Log()[0].Role)

	// A swap that would break the invariant is refused.
	c.ReplaceLog([]llm.Message{{Role: llm.RoleUser, Content: "rogue"}})
	assert.Equal(t, llm.RoleSystem, c.Log()[0].Role)
}

func TestBuildRequestColdStart(t *testing.T) {
	c := New(testPersona())
	c.AddUserMessage("hello")

	req := c.BuildRequest()
	// Cold start carries the full log.
	require.Len(t, req.Input, 2)
	assert.Equal(t, llm.RoleSystem, req.Input[0].Role)
	assert.Equal(t, "hello", req.Input[1].Content)
	assert.Empty(t, req.PreviousResponseID)
	assert.Equal(t, "grok-4-fast", req.Model)
	assert.True(t, req.Stream)
}

func TestBuildRequestWithContinuation(t *testing.T) {
	c := New(testPersona())
	c.AddUserMessage("hello")
	c.AddAssistantMessage("hi")
	c.SetResponseID("resp_1")
	c.AddUserMessage("and another thing")

	req := c.BuildRequest()
	// Warm path carries only the newest message.
	require.Len(t, req.Input, 1)
	assert.Equal(t, "and another thing", req.Input[0].Content)
	assert.Equal(t, "resp_1", req.PreviousResponseID)
}

func TestBuildRequestDeterministic(t *testing.T) {
	c := New(testPersona())
	c.AddUserMessage("hello")

	assert.Equal(t, c.BuildRequest(), c.BuildRequest())
}

func TestShouldCompactBoundary(t *testing.T) {
	p := testPersona()
	p.SummaryThreshold = 20
	c := New(p)

	// 20 qualifying messages: not yet.
	for i := 0; i < 10; i++ {
		c.AddUserMessage("q")
		c.AddAssistantMessage("a")
	}
	assert.False(t, c.ShouldCompact())

	// The 21st tips it over.
	c.AddUserMessage("one more")
	assert.True(t, c.ShouldCompact())
}

func TestShouldCompactIgnoresSystemMessages(t *testing.T) {
	p := testPersona()
	p.SummaryThreshold = 2
	c := New(p)
	c.ReplaceLog([]llm.Message{
		{Role: llm.RoleSystem, Content: p.SystemPrompt},
		WrapSummary("old stuff"),
		{Role: llm.RoleUser, Content: "a"},
		{Role: llm.RoleAssistant, Content: "b"},
	})
	// Neither the system prompt nor the summary marker counts.
	assert.False(t, c.ShouldCompact())

	c.AddUserMessage("c")
	assert.True(t, c.ShouldCompact())
}

func TestShouldCompactDisabledHistory(t *testing.T) {
	p := testPersona()
	p.EnableHistory = false
	p.SummaryThreshold = 1
	c := New(p)
	c.AddUserMessage("a")
	c.AddAssistantMessage("b")
	assert.False(t, c.ShouldCompact())
}

func TestClear(t *testing.T) {
	c := New(testPersona())
	c.AddUserMessage("hello")
	c.AddAssistantMessage("hi")
	c.SetResponseID("resp_1")

	c.Clear()
	require.Equal(t, 1, c.MessageCount())
	assert.Equal(t, llm.RoleSystem, c.Log()[0].Role)
	assert.Empty(t, c.ResponseID())
}
