package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/Daegonica/grokprime/internal/profile"
	"github.com/Daegonica/grokprime/plugin/timeout"
)

// openaiBackend covers OpenAI-compatible chat-completions endpoints. The
// SDK owns the transport and SSE decode; this adapter only maps the neutral
// shapes. Chat completions keep no server-side conversation state, so
// FinalReply.ResponseID is always empty.
type openaiBackend struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAI creates the OpenAI-compatible backend adapter.
func NewOpenAI(p *profile.Profile) (Backend, error) {
	key, err := p.APIKeyFor("openai")
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(key)
	if p.OpenAIBaseURL != "" {
		cfg.BaseURL = p.OpenAIBaseURL
	}
	return &openaiBackend{
		client:  openai.NewClientWithConfig(cfg),
		model:   p.OpenAIModel,
		limiter: newLimiter(p.RequestsPerMinute),
	}, nil
}

func (o *openaiBackend) adaptRequest(req *ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Input))
	for _, m := range req.Input {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	model := req.Model
	if model == "" {
		model = o.model
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
}

// mapError converts SDK errors into the neutral taxonomy.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			Provider: "openai",
			Status:   apiErr.HTTPStatusCode,
			Message:  apiErr.Message,
			Code:     fmt.Sprintf("%v", apiErr.Code),
		}
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func (o *openaiBackend) SendStreaming(ctx context.Context, req *ChatRequest, sink Sink) (*FinalReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.StreamTimeout)
	defer cancel()

	if err := waitLimiter(ctx, o.limiter); err != nil {
		return nil, failStream(sink, err)
	}

	slog.Info("openai: sending streaming request", "model", o.model, "messages", len(req.Input))

	stream, err := o.client.CreateChatCompletionStream(ctx, o.adaptRequest(req))
	if err != nil {
		return nil, failStream(sink, mapOpenAIError(err))
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, failStream(sink, mapOpenAIError(err))
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			full.WriteString(text)
			emit(sink, StreamEvent{Kind: EventFragment, Text: text})
		}
	}

	reply := &FinalReply{Text: full.String()}
	slog.Info("openai: stream completed", "length", len(reply.Text))
	emit(sink, StreamEvent{Kind: EventCompleted, Text: reply.Text})
	return reply, nil
}

func (o *openaiBackend) SendBlocking(ctx context.Context, req *ChatRequest) (*FinalReply, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout.BlockingTimeout)
	defer cancel()

	if err := waitLimiter(ctx, o.limiter); err != nil {
		return nil, err
	}

	slog.Info("openai: sending blocking request", "model", o.model, "messages", len(req.Input))

	resp, err := o.client.CreateChatCompletion(ctx, o.adaptRequest(req))
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response")
	}
	return &FinalReply{Text: resp.Choices[0].Message.Content}, nil
}
