package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Daegonica/grokprime/plugin/llm"
	"github.com/Daegonica/grokprime/plugin/persona"
)

// ErrCompaction indicates a compaction attempt was abandoned. The log is
// always left untouched; the next completed turn re-evaluates naturally.
var ErrCompaction = errors.New("compaction failed")

// Compactor folds old messages into a summary produced by the historian
// persona. The full log is archived before anything is discarded.
type Compactor struct {
	backend   llm.Backend
	historian *persona.Persona
	store     *Store
}

// NewCompactor creates a compactor using the given backend for the
// historian round trip.
func NewCompactor(backend llm.Backend, historian *persona.Persona, store *Store) *Compactor {
	return &Compactor{backend: backend, historian: historian, store: store}
}

// Compact replaces everything between the system/summary prefix and the
// recency cutoff with one summary message. Returns false when there is
// nothing old enough to fold. On error the conversation is unchanged.
func (cp *Compactor) Compact(ctx context.Context, conv *Conversation) (bool, error) {
	log := conv.Log()
	limit := conv.Persona().HistoryMessageLimit

	if len(log) <= limit+1 {
		return false, nil
	}
	cutoff := len(log) - limit

	old := make([]llm.Message, 0, cutoff-1)
	for _, msg := range log[1:cutoff] {
		if IsSummaryMessage(msg) {
			continue
		}
		old = append(old, msg)
	}
	if len(old) == 0 {
		return false, nil
	}

	// Archive first: the snapshot is the only safety net against lossy
	// summarization.
	if _, err := cp.store.Archive(conv.Persona().Name, log); err != nil {
		return false, fmt.Errorf("%w: archive failed: %v", ErrCompaction, err)
	}

	summary, err := cp.summarize(ctx, old)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCompaction, err)
	}

	newLog := make([]llm.Message, 0, limit+2)
	newLog = append(newLog, log[0], WrapSummary(summary))
	newLog = append(newLog, log[cutoff:]...)

	slog.Info("history compacted",
		"persona", conv.Persona().Name,
		"before", len(log),
		"after", len(newLog),
		"summarized", len(old),
	)

	conv.ReplaceLog(newLog)
	conv.bumpSummarizationCount()
	// The server-side thread still holds the uncompacted history, so the
	// next request must start cold from the compacted log.
	conv.SetResponseID("")
	return true, nil
}

// summarize issues one blocking request to the historian persona over the
// role-prefixed transcript of the old messages.
func (cp *Compactor) summarize(ctx context.Context, old []llm.Message) (string, error) {
	lines := make([]string, 0, len(old))
	for _, msg := range old {
		lines = append(lines, strings.ToUpper(msg.Role)+": "+msg.Content)
	}

	prompt := fmt.Sprintf(
		"Summarize this conversation:\n\n%s\n\nProvide a concise summary following your instructions.",
		strings.Join(lines, "\n\n"),
	)

	req := &llm.ChatRequest{
		Model: cp.historian.Model,
		Input: []llm.Message{
			{Role: llm.RoleSystem, Content: cp.historian.SystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: cp.historian.Temperature,
		Stream:      false,
	}

	slog.Info("sending old messages to historian", "messages", len(old))
	reply, err := cp.backend.SendBlocking(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Text), nil
}
