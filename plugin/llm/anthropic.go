package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Daegonica/grokprime/internal/profile"
	"github.com/Daegonica/grokprime/plugin/timeout"
)

// anthropicMaxTokens is the vendor-mandated cap; the messages API rejects
// requests without one.
const anthropicMaxTokens = 4096

const anthropicVersion = "2023-06-01"

// Wire shapes of the Anthropic messages API.
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float32           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMessageStart struct {
	Type    string `json:"type"` // "message_start"
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
}

type anthropicContentDelta struct {
	Type  string `json:"type"` // "content_block_delta"
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicStop struct {
	Type string `json:"type"` // "message_stop"
}

// anthropicBackend talks to the Anthropic messages API. The API keeps no
// server-side conversation state, so FinalReply.ResponseID is always empty
// and callers keep sending the full log.
type anthropicBackend struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewAnthropic creates the Anthropic backend adapter.
func NewAnthropic(p *profile.Profile) (Backend, error) {
	key, err := p.APIKeyFor("anthropic")
	if err != nil {
		return nil, err
	}
	return &anthropicBackend{
		apiKey:  key,
		baseURL: strings.TrimRight(p.AnthropicBaseURL, "/"),
		model:   p.AnthropicModel,
		client:  &http.Client{},
		limiter: newLimiter(p.RequestsPerMinute),
	}, nil
}

// adaptRequest reshapes the neutral request: the system message is hoisted
// into its own field and filtered out of the message array.
func (a *anthropicBackend) adaptRequest(req *ChatRequest) *anthropicRequest {
	var system string
	messages := make([]anthropicMessage, 0, len(req.Input))
	for _, m := range req.Input {
		if m.Role == RoleSystem {
			if system == "" {
				system = m.Content
			} else {
				system += "\n\n" + m.Content
			}
			continue
		}
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = a.model
	}
	temp := req.Temperature
	return &anthropicRequest{
		Model:       model,
		MaxTokens:   anthropicMaxTokens,
		System:      system,
		Messages:    messages,
		Temperature: &temp,
		Stream:      true,
	}
}

func (a *anthropicBackend) post(ctx context.Context, req *anthropicRequest) (*http.Response, error) {
	if err := waitLimiter(ctx, a.limiter); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	return a.client.Do(httpReq)
}

func (a *anthropicBackend) stream(ctx context.Context, req *ChatRequest, sink Sink) (*FinalReply, error) {
	slog.Info("anthropic: sending streaming request", "model", a.model, "messages", len(req.Input))

	resp, err := a.post(ctx, a.adaptRequest(req))
	if err != nil {
		return nil, failStream(sink, fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError("anthropic", resp)
		slog.Error("anthropic: API error", "status", apiErr.Status, "message", apiErr.Message)
		return nil, failStream(sink, apiErr)
	}

	var (
		dec       sseDecoder
		full      strings.Builder
		messageID string
		stopped   bool
		buf       = make([]byte, 4096)
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, failStream(sink, err)
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, payload := range dec.Feed(buf[:n]) {
				var start anthropicMessageStart
				if json.Unmarshal([]byte(payload), &start) == nil && start.Type == "message_start" {
					messageID = start.Message.ID
					continue
				}
				var delta anthropicContentDelta
				if json.Unmarshal([]byte(payload), &delta) == nil && delta.Type == "content_block_delta" {
					full.WriteString(delta.Delta.Text)
					emit(sink, StreamEvent{Kind: EventFragment, Text: delta.Delta.Text})
					continue
				}
				var stop anthropicStop
				if json.Unmarshal([]byte(payload), &stop) == nil && stop.Type == "message_stop" {
					stopped = true
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, failStream(sink, fmt.Errorf("%w: %v", ErrNetwork, err))
		}
	}

	if messageID == "" || !stopped {
		slog.Warn("anthropic: stream ended without completion", "message_id", messageID)
		return nil, failStream(sink, ErrStreamIncomplete)
	}

	// No continuation token: the messages API is stateless, so the empty
	// ResponseID keeps the conversation sending its full log every turn.
	reply := &FinalReply{Text: full.String()}
	slog.Info("anthropic: stream completed", "message_id", messageID, "length", len(reply.Text))
	emit(sink, StreamEvent{Kind: EventCompleted, Text: reply.Text})
	return reply, nil
}

func (a *anthropicBackend) SendStreaming(ctx context.Context, req *ChatRequest, sink Sink) (*FinalReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.StreamTimeout)
	defer cancel()
	return a.stream(ctx, req, sink)
}

// SendBlocking runs the same stream without a sink and returns the
// assembled reply.
func (a *anthropicBackend) SendBlocking(ctx context.Context, req *ChatRequest) (*FinalReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.BlockingTimeout)
	defer cancel()
	return a.stream(ctx, req, nil)
}
