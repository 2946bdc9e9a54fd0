// Package anthropic implements model.Adapter on top of Anthropic's Claude
// Messages API, using github.com/anthropics/anthropic-sdk-go. It translates
// a render.Context projection (model.RenderedInput) into
// sdk.MessageNewParams, streams the reply through a goroutine that emits
// model.StreamEvent deltas, and resolves to a canonical model.StepResult
// once the call finishes.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client the
	// adapter uses, so callers can pass either a real client or a mock.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures optional Anthropic adapter behavior.
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
		// failures (rate limits, 5xx, timeouts).
		RetryPolicy *errs.BackoffPolicy
	}

	// Client implements model.Adapter on top of Anthropic Claude Messages.
	Client struct {
		msg     MessagesClient
		def     string
		failov  string
		maxTok  int
		temp    float64
		retry   errs.BackoffPolicy
	}
)

// New builds an Anthropic-backed model.Adapter from the given Messages
// client and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	policy := errs.DefaultBackoffPolicy
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}
	return &Client{
		msg:    msg,
		def:    opts.DefaultModel,
		failov: opts.FailoverModel,
		maxTok: opts.MaxTokens,
		temp:   opts.Temperature,
		retry:  policy,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP
// transport, reading ANTHROPIC_API_KEY-style defaults from the environment.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Step issues one (possibly retried, possibly failed-over) Anthropic
// Messages streaming call and returns a model.Stream whose Wait resolves to
// the canonical model.StepResult.
func (c *Client) Step(ctx context.Context, rendered model.RenderedInput, cfg model.Config) (*model.Stream, error) {
	if len(rendered.Messages) == 0 {
		return nil, errs.New(errs.ModelFatal, "anthropic: rendered input has no messages")
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

// runWithFailover retries the primary model per c.retry, then (if still
// failing with a retryable error) fails over to FailoverModel once, per the
// ModelTransient policy: retry with backoff, fail over in adapter.
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

// attempt issues a single Anthropic streaming call against modelID and
// drains it to a canonical StepResult, forwarding text/thinking deltas to
// events as they arrive.
func (c *Client) attempt(ctx context.Context, rendered model.RenderedInput, cfg model.Config, modelID string, events chan<- model.StreamEvent) (model.StepResult, error) {
	params, nameMap, err := c.prepareParams(rendered, cfg, modelID)
	if err != nil {
		return model.StepResult{}, errs.Wrap(errs.ModelFatal, "anthropic: prepare request", err)
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return model.StepResult{}, classifyErr(err)
	}
	result, err := drainStream(ctx, stream, nameMap, modelID, events)
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

func (c *Client) prepareParams(rendered model.RenderedInput, cfg model.Config, modelID string) (*sdk.MessageNewParams, map[string]string, error) {
	if modelID == "" {
		return nil, nil, errors.New("anthropic: model identifier is required")
	}
	toolList, sanToCanon, err := encodeTools(rendered.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(rendered.Messages)
	if err != nil {
		return nil, nil, err
	}
	maxTokens := c.effectiveMaxTokens(cfg)
	if maxTokens <= 0 {
		return nil, nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolList) > 0 {
		params.Tools = toolList
	}
	if t := c.effectiveTemperature(cfg); t > 0 {
		params.Temperature = sdk.Float(t)
	}
	if tc := encodeToolChoice(rendered.ToolChoice); tc != nil {
		params.ToolChoice = *tc
	}
	return &params, sanToCanon, nil
}

// encodeMessages maps the rendered, provider-agnostic message list into
// Anthropic message params, peeling "system"-role entries into the top-level
// System field the Messages API expects. Thought-role entries are not
// round-tripped to Anthropic: their content is provider-opaque and carried
// only in the session's own event log.
func encodeMessages(msgs []event.RenderedMessage) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case "system":
			if m.Text != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Text})
			}
		case "user":
			if m.Text != "" {
				conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Text)))
			}
		case "assistant":
			if m.Text != "" {
				conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Text)))
			}
		default:
			// "thought" and any other renderer-defined roles are not
			// forwarded to the provider.
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []model.ToolSchema) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		schema, err := toolInputSchema(def.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}
	if len(toolList) == 0 {
		return nil, nil, nil
	}
	return toolList, sanToCanon, nil
}

func toolInputSchema(schema json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(choice model.ToolChoice) *sdk.ToolChoiceUnionParam {
	switch choice.Mode {
	case model.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return &sdk.ToolChoiceUnionParam{OfNone: &none}
	case model.ToolChoiceRequired:
		return &sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
	case model.ToolChoiceNamed:
		if choice.Name == "" {
			return nil
		}
		tool := sdk.ToolChoiceParamOfTool(sanitizeToolName(choice.Name))
		return &tool
	default:
		return nil
	}
}

// sanitizeToolName maps a canonical tool identifier to characters allowed by
// Anthropic tool naming constraints (letters, digits, '_', '-', <= 64
// chars), replacing any other rune with '_'.
func sanitizeToolName(in string) string {
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if isSafeToolRune(r) {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if !isSafeToolRune(r) {
			return false
		}
	}
	return true
}

func isSafeToolRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' || r == '-'
}

// classifyErr maps a raw SDK/transport error into the engine's error
// taxonomy so the retry policy and invocation_end.reason can branch on Kind
// without string matching.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return errs.Wrap(errs.ModelTransient, "anthropic transient failure", err)
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return errs.Wrap(errs.ModelFatal, "anthropic authentication failure", err)
		default:
			return errs.Wrap(errs.ModelFatal, "anthropic request failed", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ModelTransient, "anthropic request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Cancelled, "anthropic request cancelled", err)
	}
	return errs.Wrap(errs.ModelTransient, "anthropic request failed", err)
}
