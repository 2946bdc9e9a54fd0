// Package bedrock implements model.Adapter on top of AWS Bedrock's Converse
// Streaming API, using github.com/aws/aws-sdk-go-v2/service/bedrockruntime.
// It mirrors adapter/anthropic's shape (prepare request, stream,
// accumulate) adapted to the Converse event union's typed variants.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/model"
)

type (
	// ConverseStreamClient captures the subset of the Bedrock runtime client
	// the adapter uses, so callers can pass either a real client or a mock.
	ConverseStreamClient interface {
		ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	}

	// Options configures optional Bedrock adapter behavior.
	Options struct {
		// DefaultModel is the Bedrock model id used when model.Config.Name is
		// empty (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0").
		DefaultModel string
		// FailoverModel, when set, is retried once after DefaultModel (or
		// Config.Name) exhausts its retry budget on a ModelTransient error.
		FailoverModel string
		MaxTokens     int
		Temperature   float64
		RetryPolicy   *errs.BackoffPolicy
	}

	// Client implements model.Adapter on top of AWS Bedrock Converse
	// streaming.
	Client struct {
		rt     ConverseStreamClient
		def    string
		failov string
		maxTok int
		temp   float64
		retry  errs.BackoffPolicy
	}
)

// New builds a Bedrock-backed model.Adapter from the given runtime client
// and options.
func New(rt ConverseStreamClient, opts Options) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	policy := errs.DefaultBackoffPolicy
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}
	return &Client{
		rt:     rt,
		def:    opts.DefaultModel,
		failov: opts.FailoverModel,
		maxTok: opts.MaxTokens,
		temp:   opts.Temperature,
		retry:  policy,
	}, nil
}

// Step issues one (possibly retried, possibly failed-over) Bedrock Converse
// streaming call and returns a model.Stream whose Wait resolves to the
// canonical model.StepResult.
func (c *Client) Step(ctx context.Context, rendered model.RenderedInput, cfg model.Config) (*model.Stream, error) {
	if len(rendered.Messages) == 0 {
		return nil, errs.New(errs.ModelFatal, "bedrock: rendered input has no messages")
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
	input, err := c.prepareInput(rendered, cfg, modelID)
	if err != nil {
		return model.StepResult{}, errs.Wrap(errs.ModelFatal, "bedrock: prepare request", err)
	}
	out, err := c.rt.ConverseStream(ctx, input)
	if err != nil {
		return model.StepResult{}, classifyErr(err)
	}
	result, err := drainStream(ctx, out, modelID, events)
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

func (c *Client) prepareInput(rendered model.RenderedInput, cfg model.Config, modelID string) (*bedrockruntime.ConverseStreamInput, error) {
	if modelID == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	msgs, system, err := encodeMessages(rendered.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(modelID),
		Messages: msgs,
	}
	if len(system) > 0 {
		input.System = system
	}
	if maxTokens := c.effectiveMaxTokens(cfg); maxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	if temp := c.effectiveTemperature(cfg); temp > 0 {
		if input.InferenceConfig == nil {
			input.InferenceConfig = &types.InferenceConfiguration{}
		}
		input.InferenceConfig.Temperature = aws.Float32(float32(temp))
	}
	if tools := encodeTools(rendered.Tools); tools != nil {
		input.ToolConfig = tools
	}
	return input, nil
}

func (c *Client) effectiveTemperature(cfg model.Config) float64 {
	if cfg.Temperature > 0 {
		return cfg.Temperature
	}
	return c.temp
}

// encodeMessages maps the rendered message list into Bedrock Converse
// message blocks, peeling "system"-role entries into the top-level System
// field. Thought-role entries are not round-tripped.
func encodeMessages(msgs []event.RenderedMessage) ([]types.Message, []types.SystemContentBlock, error) {
	out := make([]types.Message, 0, len(msgs))
	system := make([]types.SystemContentBlock, 0, len(msgs))

	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		switch m.Role {
		case "system":
			system = append(system, &types.SystemContentBlockMemberText{Value: m.Text})
		case "user":
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text}},
			})
		case "assistant":
			out = append(out, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Text}},
			})
		default:
			// "thought" and any other renderer-defined roles are not
			// forwarded to the provider.
		}
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, system, nil
}

func encodeTools(defs []model.ToolSchema) *types.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		var schemaDoc any = map[string]any{}
		if len(def.Schema) > 0 {
			_ = json.Unmarshal(def.Schema, &schemaDoc)
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
			},
		})
	}
	if len(tools) == 0 {
		return nil
	}
	return &types.ToolConfiguration{Tools: tools}
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "ModelTimeoutException", "TooManyRequestsException":
			return errs.Wrap(errs.ModelTransient, "bedrock transient failure", err)
		case "AccessDeniedException", "UnrecognizedClientException", "ValidationException":
			return errs.Wrap(errs.ModelFatal, "bedrock request rejected", err)
		default:
			return errs.Wrap(errs.ModelFatal, "bedrock request failed", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ModelTransient, "bedrock request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Cancelled, "bedrock request cancelled", err)
	}
	return errs.Wrap(errs.ModelTransient, "bedrock request failed", err)
}
