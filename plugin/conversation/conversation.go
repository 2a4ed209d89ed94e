// Package conversation owns one persona's message log, builds outgoing
// requests, and folds old history into summaries. A Conversation is
// exclusively owned by one session and mutated only from that session's
// consumer side; every operation here is pure in-memory and infallible.
package conversation

import (
	"log/slog"

	"github.com/Daegonica/grokprime/plugin/llm"
	"github.com/Daegonica/grokprime/plugin/persona"
)

// Conversation holds the ordered message log for one persona.
// Invariant: the log is never empty and log[0] is always the system prompt.
type Conversation struct {
	log        []llm.Message
	responseID string
	persona    *persona.Persona

	// summarizations counts successful compactions, carried through the
	// persisted record.
	summarizations int
}

// New starts a fresh conversation containing only the system prompt.
func New(p *persona.Persona) *Conversation {
	return &Conversation{
		log:     []llm.Message{{Role: llm.RoleSystem, Content: p.SystemPrompt}},
		persona: p,
	}
}

// WithHistory starts a conversation from a previously built log.
// The caller guarantees log[0] is the system prompt.
func WithHistory(p *persona.Persona, log []llm.Message, summarizations int) *Conversation {
	if len(log) == 0 {
		return New(p)
	}
	return &Conversation{log: log, persona: p, summarizations: summarizations}
}

// Persona returns the shared read-only persona reference.
func (c *Conversation) Persona() *persona.Persona {
	return c.persona
}

// AddUserMessage appends a user message to the log.
func (c *Conversation) AddUserMessage(content string) {
	c.log = append(c.log, llm.Message{Role: llm.RoleUser, Content: content})
}

// AddAssistantMessage appends an assistant reply. Applied only after a
// successful round trip; nothing is ever committed speculatively.
func (c *Conversation) AddAssistantMessage(content string) {
	c.log = append(c.log, llm.Message{Role: llm.RoleAssistant, Content: content})
}

// SetResponseID stores the continuation token from a completed round trip.
func (c *Conversation) SetResponseID(id string) {
	c.responseID = id
}

// ResponseID returns the current continuation token, empty on cold start.
func (c *Conversation) ResponseID() string {
	return c.responseID
}

// BuildRequest assembles the outgoing request. Without a continuation token
// the request carries the full log (cold start); with one it carries only
// the newest message, because the backend remembers prior turns server-side.
func (c *Conversation) BuildRequest() *llm.ChatRequest {
	var input []llm.Message
	if c.responseID == "" {
		input = make([]llm.Message, len(c.log))
		copy(input, c.log)
	} else {
		input = []llm.Message{c.log[len(c.log)-1]}
	}

	return &llm.ChatRequest{
		Model:              c.persona.Model,
		Input:              input,
		Temperature:        c.persona.Temperature,
		PreviousResponseID: c.responseID,
		Stream:             true,
	}
}

// ShouldCompact reports whether the non-system message count exceeds the
// persona's threshold. Always false when history persistence is disabled.
func (c *Conversation) ShouldCompact() bool {
	if !c.persona.EnableHistory {
		return false
	}

	count := 0
	for _, msg := range c.log {
		if msg.Role != llm.RoleSystem {
			count++
		}
	}
	if count > c.persona.SummaryThreshold {
		slog.Info("compaction threshold reached",
			"persona", c.persona.Name,
			"messages", count,
			"threshold", c.persona.SummaryThreshold,
		)
		return true
	}
	return false
}

// ReplaceLog atomically swaps the log. Used only by the compactor.
func (c *Conversation) ReplaceLog(newLog []llm.Message) {
	if len(newLog) == 0 || newLog[0].Role != llm.RoleSystem {
		slog.Error("refusing to replace log without leading system message")
		return
	}
	c.log = newLog
}

// Clear resets the log to just the system prompt and drops the
// continuation token.
func (c *Conversation) Clear() {
	c.log = []llm.Message{c.log[0]}
	c.responseID = ""
}

// Log returns a copy of the message log.
func (c *Conversation) Log() []llm.Message {
	out := make([]llm.Message, len(c.log))
	copy(out, c.log)
	return out
}

// MessageCount returns the total log length including the system prompt.
func (c *Conversation) MessageCount() int {
	return len(c.log)
}

// SummarizationCount returns how many compactions this conversation has had.
func (c *Conversation) SummarizationCount() int {
	return c.summarizations
}

func (c *Conversation) bumpSummarizationCount() {
	c.summarizations++
}
