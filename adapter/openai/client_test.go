package openai

import (
	"context"
	"encoding/json"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/require"

	"goa.design/flow/event"
	"goa.design/flow/model"
)

type stubChatClient struct {
	lastParams oai.ChatCompletionNewParams
	streamFn   func() *ssestream.Stream[oai.ChatCompletionChunk]
}

func (s *stubChatClient) NewStreaming(_ context.Context, body oai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[oai.ChatCompletionChunk] {
	s.lastParams = body
	return s.streamFn()
}

type testDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return nil }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func sseChunk(t *testing.T, raw string) ssestream.Event {
	t.Helper()
	var chunk oai.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(raw), &chunk))
	return ssestream.Event{Type: "", Data: mustJSON(t, chunk)}
}

func textStream(t *testing.T) *ssestream.Stream[oai.ChatCompletionChunk] {
	events := []ssestream.Event{
		sseChunk(t, `{"choices":[{"index":0,"delta":{"content":"hi there"}}]}`),
		sseChunk(t, `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`),
		sseChunk(t, `{"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`),
	}
	return ssestream.NewStream[oai.ChatCompletionChunk](&testDecoder{events: events}, nil)
}

func renderedUserTurn(text string) model.RenderedInput {
	return model.RenderedInput{Messages: []event.RenderedMessage{{Role: "user", Text: text}}}
}

func TestStepReturnsTerminalTextResult(t *testing.T) {
	stub := &stubChatClient{streamFn: func() *ssestream.Stream[oai.ChatCompletionChunk] { return textStream(t) }}
	cl, err := New(stub, Options{DefaultModel: "gpt-test", MaxTokens: 128})
	require.NoError(t, err)

	stream, err := cl.Step(context.Background(), renderedUserTurn("hi"), model.Config{Provider: "openai"})
	require.NoError(t, err)

	var deltas []string
	for se := range stream.Events {
		deltas = append(deltas, se.Text)
	}
	result, err := stream.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, result.Terminal)
	require.Equal(t, event.FinishStop, result.FinishReason)
	require.Equal(t, []string{"hi there"}, deltas)
	require.Equal(t, 4, result.Usage.InputTokens)
	require.Equal(t, 2, result.Usage.OutputTokens)
	require.Equal(t, oai.ChatModel("gpt-test"), stub.lastParams.Model)
}

func TestNewRejectsMissingDefaultModel(t *testing.T) {
	stub := &stubChatClient{}
	_, err := New(stub, Options{})
	require.Error(t, err)
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "x"})
	require.Error(t, err)
}
