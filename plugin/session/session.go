// Package session pairs one conversation with one in-flight backend request
// and relays streaming events to the UI through a polled queue. The UI
// goroutine owns all session and registry state; only the queue boundary is
// shared with producer goroutines.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Daegonica/grokprime/plugin/conversation"
	"github.com/Daegonica/grokprime/plugin/llm"
	"github.com/Daegonica/grokprime/plugin/persona"
	"github.com/Daegonica/grokprime/plugin/timeout"
)

// State tracks where a session is in its request cycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// Sink receives session output on the UI goroutine during a drain tick.
type Sink interface {
	// Fragment delivers an incremental piece of the assistant reply.
	Fragment(id uuid.UUID, text string)
	// Notice delivers out-of-band status text, such as compaction progress.
	Notice(id uuid.UUID, text string)
	// Completed delivers the full reply after it has been committed.
	Completed(id uuid.UUID, text string)
	// Failed reports a round trip that produced no committed reply.
	Failed(id uuid.UUID, err error)
}

// queued tags an event with the generation of the request that produced it,
// so events from a superseded request can be discarded at drain time.
type queued struct {
	gen uint64
	ev  llm.StreamEvent
}

// Session owns one persona conversation and at most one in-flight request.
//
// Send and Drain must be called from the same goroutine. Producer goroutines
// touch only the mutex-guarded queue; everything else is single-owner.
type Session struct {
	id        uuid.UUID
	persona   *persona.Persona
	conv      *conversation.Conversation
	backend   llm.Backend
	compactor *conversation.Compactor
	store     *conversation.Store

	mu     sync.Mutex
	queue  []queued
	gen    uint64
	cancel context.CancelFunc

	state State
}

// New creates an idle session around an existing conversation.
func New(p *persona.Persona, conv *conversation.Conversation, backend llm.Backend,
	compactor *conversation.Compactor, store *conversation.Store) *Session {
	return &Session{
		id:        uuid.New(),
		persona:   p,
		conv:      conv,
		backend:   backend,
		compactor: compactor,
		store:     store,
	}
}

// ID returns the session's stable identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Persona returns the shared read-only persona reference.
func (s *Session) Persona() *persona.Persona { return s.persona }

// Conversation exposes the underlying log for display commands.
func (s *Session) Conversation() *conversation.Conversation { return s.conv }

// State returns the current request-cycle state.
func (s *Session) State() State { return s.state }

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool { return s.state != StateIdle }

// Send starts a round trip for text. Any in-flight request is cancelled and
// superseded; its queued events are dropped and no reply from it is ever
// committed. The user message joins the log immediately so a failed send
// loses nothing the user typed; the assistant reply commits only on
// completion.
func (s *Session) Send(text string) {
	s.conv.AddUserMessage(text)
	req := s.conv.BuildRequest()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.state = StateSending

	slog.Info("dispatching request",
		"session", s.id,
		"persona", s.persona.Name,
		"provider", s.persona.Provider,
		"messages", len(req.Input),
		"text", preview(text),
	)

	go func() {
		defer cancel()
		// The adapter emits exactly one terminal event through the sink,
		// so the returned error needs no separate delivery.
		_, _ = s.backend.SendStreaming(ctx, req, func(ev llm.StreamEvent) {
			s.push(gen, ev)
		})
	}()
}

// push enqueues one event from a producer. Events from superseded
// generations are dropped at the door.
func (s *Session) push(gen uint64, ev llm.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.queue = append(s.queue, queued{gen: gen, ev: ev})
}

// Drain delivers every queued event to ui and applies terminal ones to the
// conversation. Called periodically from the UI goroutine.
func (s *Session) Drain(ctx context.Context, ui Sink) {
	s.mu.Lock()
	events := s.queue
	s.queue = nil
	gen := s.gen
	s.mu.Unlock()

	for _, q := range events {
		// A Send between push and drain orphans the older generation.
		if q.gen != gen {
			continue
		}
		s.apply(ctx, q.ev, ui)
	}
}

func (s *Session) apply(ctx context.Context, ev llm.StreamEvent, ui Sink) {
	switch ev.Kind {
	case llm.EventFragment:
		s.state = StateStreaming
		ui.Fragment(s.id, ev.Text)
	case llm.EventNotice:
		ui.Notice(s.id, ev.Text)
	case llm.EventCompleted:
		s.commit(ctx, ev, ui)
	case llm.EventFailed:
		s.settle()
		ui.Failed(s.id, ev.Err)
	}
}

// commit applies a completed reply to the log, persists history, and runs
// compaction if the threshold was crossed.
func (s *Session) commit(ctx context.Context, ev llm.StreamEvent, ui Sink) {
	s.conv.AddAssistantMessage(ev.Text)
	if ev.ResponseID != "" {
		s.conv.SetResponseID(ev.ResponseID)
	}
	s.settle()

	if err := s.SaveHistory(); err != nil {
		slog.Error("failed to persist history", "persona", s.persona.Name, "error", err)
	}

	if s.conv.ShouldCompact() {
		ui.Notice(s.id, "Summarizing conversation history...")
		if _, err := s.compactor.Compact(ctx, s.conv); err != nil {
			// The archive and log are intact; re-evaluated on the next turn.
			slog.Error("compaction failed", "persona", s.persona.Name, "error", err)
			ui.Notice(s.id, "History summarization failed; history kept as-is.")
		} else if err := s.SaveHistory(); err != nil {
			slog.Error("failed to persist compacted history", "persona", s.persona.Name, "error", err)
		}
	}

	ui.Completed(s.id, ev.Text)
}

// preview truncates user text for log lines.
func preview(s string) string {
	if len(s) <= timeout.MaxTruncateLength {
		return s
	}
	return s[:timeout.MaxTruncateLength] + "..."
}

// settle returns the session to idle after a terminal event.
func (s *Session) settle() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	s.state = StateIdle
}

// SummarizeNow forces a compaction pass regardless of the threshold.
// Returns false when the log holds nothing old enough to fold.
func (s *Session) SummarizeNow(ctx context.Context) (bool, error) {
	compacted, err := s.compactor.Compact(ctx, s.conv)
	if err != nil {
		return false, err
	}
	if compacted {
		if err := s.SaveHistory(); err != nil {
			return true, err
		}
	}
	return compacted, nil
}

// SaveHistory snapshots the conversation to its flat file. A no-op for
// personas with history disabled.
func (s *Session) SaveHistory() error {
	if !s.persona.EnableHistory {
		return nil
	}
	return s.store.Save(conversation.Snapshot(s.conv))
}

// Reset cancels any in-flight request, drops the log back to the system
// prompt, and removes the persisted history file.
func (s *Session) Reset() error {
	s.Close()
	s.conv.Clear()
	if !s.persona.EnableHistory {
		return nil
	}
	return s.store.Delete(s.persona.Name)
}

// Close cancels any in-flight request and discards queued events. The
// conversation itself is left intact.
func (s *Session) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.queue = nil
	s.mu.Unlock()
	s.state = StateIdle
}
