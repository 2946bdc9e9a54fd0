// Package openai implements model.Adapter on top of OpenAI's Chat
// Completions API, using github.com/openai/openai-go. It mirrors the
// adapter/anthropic package's shape (prepare params, stream, accumulate)
// adapted to OpenAI's chunk format: incremental tool-call arguments arrive
// indexed by position rather than keyed by a stable per-block id, so the
// accumulator buffers by index and only learns the call's ID and name once
// the first chunk naming it arrives.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/model"
)

type (
	// ChatClient captures the subset of the OpenAI SDK client used by the
	// adapter, so callers can pass either a real client or a mock.
	ChatClient interface {
		NewStreaming(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk]
	}

	// Options configures optional OpenAI adapter behavior.
	Options struct {
		// DefaultModel is used when model.Config.Name is empty.
		DefaultModel string
		// FailoverModel, when set, is retried once after DefaultModel (or
		// Config.Name) exhausts its retry budget on a ModelTransient error.
		FailoverModel string
		// MaxTokens is the default completion cap when Config.MaxTokens is
		// zero.
		MaxTokens int
		// Temperature is used when Config.Temperature is zero.
		Temperature float64
		// RetryPolicy overrides errs.DefaultBackoffPolicy for ModelTransient
		// failures.
		RetryPolicy *errs.BackoffPolicy
	}

	// Client implements model.Adapter on top of OpenAI Chat Completions.
	Client struct {
		chat   ChatClient
		def    string
		failov string
		maxTok int
		temp   float64
		retry  errs.BackoffPolicy
	}
)

// New builds an OpenAI-backed model.Adapter from the given Chat client and
// options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	policy := errs.DefaultBackoffPolicy
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}
	return &Client{
		chat:   chat,
		def:    opts.DefaultModel,
		failov: opts.FailoverModel,
		maxTok: opts.MaxTokens,
		temp:   opts.Temperature,
		retry:  policy,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP
// transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	cl := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&cl.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Step issues one (possibly retried, possibly failed-over) OpenAI Chat
// Completions streaming call and returns a model.Stream whose Wait resolves
// to the canonical model.StepResult.
func (c *Client) Step(ctx context.Context, rendered model.RenderedInput, cfg model.Config) (*model.Stream, error) {
	if len(rendered.Messages) == 0 {
		return nil, errs.New(errs.ModelFatal, "openai: rendered input has no messages")
	}

	events := make(chan model.StreamEvent, 64)
	done := make(chan struct{})
	var result model.StepResult
	var resultErr error

	go func() {
		defer close(events)
		defer close(done)
		result, resultErr = c.runWithFailover(ctx, rendered, cfg, events)
	}()

	wait := func(waitCtx context.Context) (model.StepResult, error) {
		select {
		case <-done:
			return result, resultErr
		case <-waitCtx.Done():
			return model.StepResult{}, waitCtx.Err()
		}
	}
	return model.NewStream(events, wait), nil
}

func (c *Client) runWithFailover(ctx context.Context, rendered model.RenderedInput, cfg model.Config, events chan<- model.StreamEvent) (model.StepResult, error) {
	candidates := []string{c.resolveModelID(cfg)}
	if c.failov != "" && c.failov != candidates[0] {
		candidates = append(candidates, c.failov)
	}

	var lastErr error
	for i, modelID := range candidates {
		var result model.StepResult
		err := errs.Retry(ctx, c.retry, errs.IsRetryable, func(rctx context.Context, attempt int) error {
			res, err := c.attempt(rctx, rendered, cfg, modelID, events)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < len(candidates)-1 && errs.IsRetryable(err) {
			continue
		}
		break
	}
	return model.StepResult{}, lastErr
}

func (c *Client) attempt(ctx context.Context, rendered model.RenderedInput, cfg model.Config, modelID string, events chan<- model.StreamEvent) (model.StepResult, error) {
	params, err := c.prepareParams(rendered, cfg, modelID)
	if err != nil {
		return model.StepResult{}, errs.Wrap(errs.ModelFatal, "openai: prepare request", err)
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return model.StepResult{}, classifyErr(err)
	}
	result, err := drainStream(ctx, stream, modelID, events)
	if err != nil {
		return model.StepResult{}, classifyErr(err)
	}
	return result, nil
}

func (c *Client) resolveModelID(cfg model.Config) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return c.def
}

func (c *Client) effectiveMaxTokens(cfg model.Config) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return c.maxTok
}

func (c *Client) effectiveTemperature(cfg model.Config) float64 {
	if cfg.Temperature > 0 {
		return cfg.Temperature
	}
	return c.temp
}

func (c *Client) prepareParams(rendered model.RenderedInput, cfg model.Config, modelID string) (*oai.ChatCompletionNewParams, error) {
	if modelID == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	msgs, err := encodeMessages(rendered.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(rendered.Tools)
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(modelID),
		Messages: msgs,
		StreamOptions: oai.ChatCompletionStreamOptionsParam{
			IncludeUsage: oai.Bool(true),
		},
	}
	if maxTokens := c.effectiveMaxTokens(cfg); maxTokens > 0 {
		params.MaxTokens = oai.Int(int64(maxTokens))
	}
	if t := c.effectiveTemperature(cfg); t > 0 {
		params.Temperature = oai.Float(t)
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if tc := encodeToolChoice(rendered.ToolChoice); tc != nil {
		params.ToolChoice = *tc
	}
	return &params, nil
}

// encodeMessages maps the rendered message list into Chat Completions
// message params. Thought-role entries are not round-tripped: their content
// is provider-opaque and carried only in the session's own event log.
func encodeMessages(msgs []event.RenderedMessage) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		switch m.Role {
		case "system":
			out = append(out, oai.SystemMessage(m.Text))
		case "user":
			out = append(out, oai.UserMessage(m.Text))
		case "assistant":
			out = append(out, oai.AssistantMessage(m.Text))
		default:
			// "thought" and any other renderer-defined roles are not
			// forwarded to the provider.
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(defs []model.ToolSchema) ([]oai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]oai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		params, err := toolParameters(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
		}
		out = append(out, oai.ChatCompletionToolParam{
			Function: oai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: oai.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func toolParameters(schema json.RawMessage) (oai.FunctionParameters, error) {
	if len(schema) == 0 {
		return oai.FunctionParameters{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return nil, err
	}
	return oai.FunctionParameters(m), nil
}

func encodeToolChoice(choice model.ToolChoice) *oai.ChatCompletionToolChoiceOptionUnionParam {
	switch choice.Mode {
	case model.ToolChoiceNone:
		return &oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("none")}
	case model.ToolChoiceRequired:
		return &oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oai.String("required")}
	case model.ToolChoiceNamed:
		if choice.Name == "" {
			return nil
		}
		return &oai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &oai.ChatCompletionNamedToolChoiceParam{
				Function: oai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}
	default:
		return nil
	}
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return errs.Wrap(errs.ModelTransient, "openai transient failure", err)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return errs.Wrap(errs.ModelFatal, "openai authentication failure", err)
		default:
			return errs.Wrap(errs.ModelFatal, "openai request failed", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ModelTransient, "openai request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Cancelled, "openai request cancelled", err)
	}
	return errs.Wrap(errs.ModelTransient, "openai request failed", err)
}
