package main

import (
	"goa.design/flow"
	"goa.design/flow/model"
)

// buildDemoTree returns the Runnable flowctl drives when no application
// package is wired in. With a usable provider adapter configured it is a
// single chat Agent; otherwise it falls back to a canned Step, the same
// role goa-ai's cmd/demo stub planner plays when no real model is reachable.
func buildDemoTree(adapters map[string]model.Adapter, provider string) flow.Runnable {
	if _, ok := adapters[provider]; !ok {
		return flow.Step("echo", func(sc flow.StepContext) flow.Signal {
			text, _ := sc.Args["message"].(string)
			if text == "" {
				text = "hello from flowctl (no provider configured, echoing input)"
			}
			return flow.Complete(text)
		})
	}

	agent := flow.Agent("assistant", model.Config{
		Provider:    provider,
		Name:        defaultModelFor(provider),
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	agent.Context = flow.Pipeline{
		flow.InjectSystemMessage("You are flowctl's demo assistant. Be concise.", nil),
		flow.IncludeHistory(flow.ScopeSession),
	}
	return agent
}
