package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/model"
)

type stubRuntimeClient struct {
	lastInput *bedrockruntime.ConverseStreamInput
	out       *bedrockruntime.ConverseStreamOutput
	err       error
}

func (s *stubRuntimeClient) ConverseStream(_ context.Context, params *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	s.lastInput = params
	return s.out, s.err
}

func renderedUserTurn(text string) model.RenderedInput {
	return model.RenderedInput{Messages: []event.RenderedMessage{{Role: "user", Text: text}}}
}

func TestEncodeMessagesRejectsEmptyConversation(t *testing.T) {
	_, _, err := encodeMessages([]event.RenderedMessage{{Role: "system", Text: "be terse"}})
	require.Error(t, err)
}

func TestEncodeMessagesSplitsSystemFromTurns(t *testing.T) {
	msgs, system, err := encodeMessages([]event.RenderedMessage{
		{Role: "system", Text: "be terse"},
		{Role: "user", Text: "hi"},
		{Role: "thought", Text: "internal"},
		{Role: "assistant", Text: "hello"},
	})
	require.NoError(t, err)
	require.Len(t, system, 1)
	require.Len(t, msgs, 2)
	require.Equal(t, types.ConversationRoleUser, msgs[0].Role)
	require.Equal(t, types.ConversationRoleAssistant, msgs[1].Role)
}

func TestPrepareInputAppliesInferenceConfig(t *testing.T) {
	c, err := New(&stubRuntimeClient{}, Options{DefaultModel: "anthropic.claude-test", MaxTokens: 256, Temperature: 0.4})
	require.NoError(t, err)

	input, err := c.prepareInput(renderedUserTurn("hi"), model.Config{}, "anthropic.claude-test")
	require.NoError(t, err)
	require.Equal(t, "anthropic.claude-test", aws.ToString(input.ModelId))
	require.NotNil(t, input.InferenceConfig)
	require.Equal(t, int32(256), aws.ToInt32(input.InferenceConfig.MaxTokens))
	require.InDelta(t, 0.4, float64(aws.ToFloat32(input.InferenceConfig.Temperature)), 0.001)
}

func TestNewRejectsMissingDefaultModel(t *testing.T) {
	_, err := New(&stubRuntimeClient{}, Options{})
	require.Error(t, err)
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "x"})
	require.Error(t, err)
}

func TestClassifyErrMapsThrottlingToTransient(t *testing.T) {
	err := classifyErr(&smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"})
	require.Error(t, err)
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.ModelTransient, e.Kind)
}

func TestDecodeArgsDefaultsEmptyToObject(t *testing.T) {
	require.Equal(t, "{}", string(decodeArgs("   ")))
	require.Equal(t, `{"a":1}`, string(decodeArgs(`{"a":1}`)))
}

func TestMapFinishReason(t *testing.T) {
	require.Equal(t, event.FinishToolCalls, mapFinishReason("tool_use"))
	require.Equal(t, event.FinishLength, mapFinishReason("max_tokens"))
	require.Equal(t, event.FinishStop, mapFinishReason("end_turn"))
}
