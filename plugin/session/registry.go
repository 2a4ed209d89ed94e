package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Daegonica/grokprime/internal/profile"
	"github.com/Daegonica/grokprime/plugin/conversation"
	"github.com/Daegonica/grokprime/plugin/llm"
	"github.com/Daegonica/grokprime/plugin/persona"
)

// Registry tracks open sessions in creation order and routes input to the
// active one. Owned by the UI goroutine; it needs no locking of its own.
type Registry struct {
	prof     *profile.Profile
	personas *persona.Registry
	store    *conversation.Store

	sessions map[uuid.UUID]*Session
	order    []uuid.UUID
	active   uuid.UUID
}

// NewRegistry creates an empty registry over the given persona set.
func NewRegistry(prof *profile.Profile, personas *persona.Registry, store *conversation.Store) *Registry {
	return &Registry{
		prof:     prof,
		personas: personas,
		store:    store,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Open starts a session for the named persona, restoring any persisted
// history, and makes it the active session.
func (r *Registry) Open(personaName string) (*Session, error) {
	p, ok := r.personas.Get(personaName)
	if !ok {
		return nil, errors.Errorf("unknown persona %q", personaName)
	}

	backend, err := llm.New(p.Provider, r.prof)
	if err != nil {
		return nil, err
	}

	conv, err := r.restore(p)
	if err != nil {
		return nil, err
	}

	historian := r.personas.Historian()
	historianBackend, err := llm.New(historian.Provider, r.prof)
	if err != nil {
		return nil, err
	}
	compactor := conversation.NewCompactor(historianBackend, historian, r.store)

	s := New(p, conv, backend, compactor, r.store)
	r.sessions[s.ID()] = s
	r.order = append(r.order, s.ID())
	r.active = s.ID()

	slog.Info("session opened",
		"session", s.ID(),
		"persona", p.Name,
		"restored_messages", conv.MessageCount()-1,
	)
	return s, nil
}

// restore rebuilds a conversation from the persona's history file, or starts
// one fresh when the persona keeps no history or none was saved.
func (r *Registry) restore(p *persona.Persona) (*conversation.Conversation, error) {
	if !p.EnableHistory {
		return conversation.New(p), nil
	}
	rec, err := r.store.Load(p.Name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return conversation.New(p), nil
	}
	return conversation.WithHistory(p, conversation.BuildLog(p, rec), rec.SummarizationCount), nil
}

// Active returns the session input is routed to, or nil when none is open.
func (r *Registry) Active() *Session {
	return r.sessions[r.active]
}

// Get looks up a session by id.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns the open sessions in creation order.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int { return len(r.order) }

// Cycle moves the active marker forward or backward through the creation
// order, wrapping at the ends. A no-op with fewer than two sessions.
func (r *Registry) Cycle(forward bool) *Session {
	if len(r.order) == 0 {
		return nil
	}
	idx := 0
	for i, id := range r.order {
		if id == r.active {
			idx = i
			break
		}
	}
	if forward {
		idx = (idx + 1) % len(r.order)
	} else {
		idx = (idx - 1 + len(r.order)) % len(r.order)
	}
	r.active = r.order[idx]
	return r.sessions[r.active]
}

// Close shuts a session down and removes it. When the active session is
// closed, the most recently opened survivor becomes active.
func (r *Registry) Close(id uuid.UUID) error {
	s, ok := r.sessions[id]
	if !ok {
		return errors.Errorf("no session %s", id)
	}
	s.Close()
	if err := s.SaveHistory(); err != nil {
		slog.Error("failed to persist history on close", "persona", s.Persona().Name, "error", err)
	}

	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.active == id {
		r.active = uuid.Nil
		if len(r.order) > 0 {
			r.active = r.order[len(r.order)-1]
		}
	}
	return nil
}

// Send routes user text to the active session.
func (r *Registry) Send(text string) error {
	s := r.Active()
	if s == nil {
		return errors.New("no active session")
	}
	s.Send(text)
	return nil
}

// SendTo routes user text to a specific session.
func (r *Registry) SendTo(id uuid.UUID, text string) error {
	s, ok := r.sessions[id]
	if !ok {
		return errors.Errorf("no session %s", id)
	}
	s.Send(text)
	return nil
}

// Drain polls every session's queue in creation order. One tick of the UI
// loop.
func (r *Registry) Drain(ctx context.Context, ui Sink) {
	for _, id := range r.order {
		r.sessions[id].Drain(ctx, ui)
	}
}

// SaveAll persists every session's history. Sessions write to disjoint
// files, so the snapshots run concurrently.
func (r *Registry) SaveAll() error {
	var g errgroup.Group
	for _, id := range r.order {
		s := r.sessions[id]
		g.Go(s.SaveHistory)
	}
	return g.Wait()
}

// CloseAll cancels all in-flight requests and persists every session.
// Used at shutdown.
func (r *Registry) CloseAll() {
	if err := r.SaveAll(); err != nil {
		slog.Error("failed to persist history on shutdown", "error", err)
	}
	for _, id := range r.order {
		r.sessions[id].Close()
	}
	r.sessions = make(map[uuid.UUID]*Session)
	r.order = nil
	r.active = uuid.Nil
}
