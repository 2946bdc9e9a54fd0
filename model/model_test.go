package model_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/flow/event"
	"goa.design/flow/model"
)

func TestStreamWaitReturnsResultFromWaitFunc(t *testing.T) {
	events := make(chan model.StreamEvent, 1)
	events <- model.StreamEvent{Kind: model.StreamAssistantDelta, Text: "hi"}
	close(events)

	s := model.NewStream(events, func(context.Context) (model.StepResult, error) {
		return model.StepResult{Terminal: true, FinishReason: event.FinishStop}, nil
	})

	var chunks []string
	for e := range s.Events {
		chunks = append(chunks, e.Text)
	}
	require.Equal(t, []string{"hi"}, chunks)

	result, err := s.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, result.Terminal)
	require.Equal(t, event.FinishStop, result.FinishReason)
}

func TestToolChoiceNamedCarriesName(t *testing.T) {
	tc := model.ToolChoice{Mode: model.ToolChoiceNamed, Name: "lookup"}
	require.Equal(t, "lookup", tc.Name)
	require.Equal(t, model.ToolChoiceNamed, tc.Mode)
}
