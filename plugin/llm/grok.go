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

// Wire shapes of the xAI responses API. Two shapes are attempted per data
// line: the incremental delta and the terminal completed object. Lines
// matching neither are discarded silently.
type grokDelta struct {
	Type  string `json:"type"` // "response.output_text.delta"
	Delta string `json:"delta"`
}

type grokCompleted struct {
	Type     string `json:"type"` // "response.completed"
	Response struct {
		ID     string `json:"id"`
		Output []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
}

// grokResponse is the non-streaming response body.
type grokResponse struct {
	ID     string `json:"id"`
	Output []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

type vendorErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// grokBackend talks to the xAI responses API. Stateless; conversation
// continuity rides on the previous_response_id the vendor hands back.
type grokBackend struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewGrok creates the xAI backend adapter.
func NewGrok(p *profile.Profile) (Backend, error) {
	key, err := p.APIKeyFor("grok")
	if err != nil {
		return nil, err
	}
	return &grokBackend{
		apiKey:  key,
		baseURL: strings.TrimRight(p.GrokBaseURL, "/"),
		client:  &http.Client{},
		limiter: newLimiter(p.RequestsPerMinute),
	}, nil
}

func (g *grokBackend) post(ctx context.Context, req *ChatRequest) (*http.Response, error) {
	if err := waitLimiter(ctx, g.limiter); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	return g.client.Do(httpReq)
}

// decodeAPIError reads a non-2xx body into an APIError.
func decodeAPIError(provider string, resp *http.Response) *APIError {
	apiErr := &APIError{Provider: provider, Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return apiErr
	}
	var body vendorErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Code = body.Error.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// failStream reports a terminal failure through the sink and returns err.
func failStream(sink Sink, err error) error {
	emit(sink, StreamEvent{Kind: EventFailed, Err: err})
	return err
}

// SendStreaming posts the request and decodes the SSE stream, forwarding
// fragments as they arrive. Exactly one terminal event reaches the sink.
func (g *grokBackend) SendStreaming(ctx context.Context, req *ChatRequest, sink Sink) (*FinalReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.StreamTimeout)
	defer cancel()

	slog.Info("grok: sending streaming request", "model", req.Model, "messages", len(req.Input))

	resp, err := g.post(ctx, req)
	if err != nil {
		return nil, failStream(sink, fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError("grok", resp)
		slog.Error("grok: API error", "status", apiErr.Status, "message", apiErr.Message)
		return nil, failStream(sink, apiErr)
	}

	var (
		dec        sseDecoder
		full       strings.Builder
		responseID string
		buf        = make([]byte, 4096)
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, failStream(sink, err)
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, payload := range dec.Feed(buf[:n]) {
				var delta grokDelta
				if json.Unmarshal([]byte(payload), &delta) == nil && delta.Type == "response.output_text.delta" {
					full.WriteString(delta.Delta)
					emit(sink, StreamEvent{Kind: EventFragment, Text: delta.Delta})
					continue
				}
				var completed grokCompleted
				if json.Unmarshal([]byte(payload), &completed) == nil && completed.Type == "response.completed" {
					responseID = completed.Response.ID
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

	if responseID == "" {
		slog.Warn("grok: stream ended without completion", "fragments_len", full.Len())
		return nil, failStream(sink, ErrStreamIncomplete)
	}

	reply := &FinalReply{ResponseID: responseID, Text: full.String()}
	slog.Info("grok: stream completed", "response_id", responseID, "length", len(reply.Text))
	emit(sink, StreamEvent{Kind: EventCompleted, Text: reply.Text, ResponseID: responseID})
	return reply, nil
}

// SendBlocking performs a non-streaming round trip and parses the single
// response body.
func (g *grokBackend) SendBlocking(ctx context.Context, req *ChatRequest) (*FinalReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.BlockingTimeout)
	defer cancel()

	blocking := *req
	blocking.Stream = false

	slog.Info("grok: sending blocking request", "model", blocking.Model, "messages", len(blocking.Input))

	resp, err := g.post(ctx, &blocking)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError("grok", resp)
		slog.Error("grok: API error", "status", apiErr.Status, "message", apiErr.Message)
		return nil, apiErr
	}

	var body grokResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse responses body: %w", err)
	}
	var full strings.Builder
	for _, out := range body.Output {
		for _, block := range out.Content {
			if block.Type == "output_text" {
				full.WriteString(block.Text)
			}
		}
	}
	if body.ID == "" {
		return nil, ErrStreamIncomplete
	}
	return &FinalReply{ResponseID: body.ID, Text: strings.TrimSpace(full.String())}, nil
}
