// Package llm provides vendor-neutral chat types and the backend capability
// interface. Each backend adapter authenticates against one vendor, reshapes
// the neutral request into the vendor payload, and decodes the vendor's
// event stream back into neutral stream events.
package llm

import (
	"context"
	"fmt"

	"github.com/Daegonica/grokprime/internal/profile"
)

// Message roles. Element 0 of every conversation log is always RoleSystem.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation message. Immutable once appended.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the vendor-neutral outbound request. Adapters reshape it
// into whatever their vendor expects.
type ChatRequest struct {
	Model              string    `json:"model"`
	Input              []Message `json:"input"`
	Temperature        float32   `json:"temperature"`
	PreviousResponseID string    `json:"previous_response_id,omitempty"`
	Stream             bool      `json:"stream"`
}

// EventKind tags a StreamEvent.
type EventKind int

const (
	// EventFragment carries one incremental piece of assistant text.
	EventFragment EventKind = iota
	// EventCompleted is the terminal success event. It carries the full
	// assembled reply and the continuation token, when the vendor has one.
	EventCompleted
	// EventFailed is the terminal failure event.
	EventFailed
	// EventNotice carries out-of-band informational text.
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventFragment:
		return "fragment"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// StreamEvent is one decoded unit of a backend event stream.
type StreamEvent struct {
	Kind       EventKind
	Text       string // fragment text, full reply for Completed, notice text
	ResponseID string // set on Completed when the vendor supports continuation
	Err        error  // set on Failed
}

// FinalReply is the assembled result of a completed round trip.
type FinalReply struct {
	// ResponseID is the continuation token. Empty when the vendor keeps no
	// server-side conversation state.
	ResponseID string
	Text       string
}

// Sink receives stream events as they are decoded. A nil Sink is allowed.
type Sink func(StreamEvent)

// Backend is the capability interface every vendor adapter implements.
//
// SendStreaming emits events through sink while the stream is decoded and
// always delivers exactly one terminal event (Completed or Failed) before
// returning. SendBlocking performs the same round trip without a sink.
type Backend interface {
	SendStreaming(ctx context.Context, req *ChatRequest, sink Sink) (*FinalReply, error)
	SendBlocking(ctx context.Context, req *ChatRequest) (*FinalReply, error)
}

// New creates the backend adapter for a provider name.
func New(provider string, p *profile.Profile) (Backend, error) {
	switch provider {
	case "grok":
		return NewGrok(p)
	case "anthropic":
		return NewAnthropic(p)
	case "openai":
		return NewOpenAI(p)
	default:
		return nil, fmt.Errorf("unsupported backend provider: %s", provider)
	}
}

// emit forwards an event to a possibly-nil sink.
func emit(sink Sink, ev StreamEvent) {
	if sink != nil {
		sink(ev)
	}
}
