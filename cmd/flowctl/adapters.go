package main

import (
	"fmt"

	"goa.design/flow/adapter/anthropic"
	"goa.design/flow/adapter/openai"
	"goa.design/flow/config"
	"goa.design/flow/model"
)

// buildAdapters constructs a model.Adapter for each of the "anthropic" and
// "openai" providers in cfg that carries an API key, so a demo Agent (see
// demo.go) can be driven by a real model when credentials are configured and
// falls back to a canned Step tree otherwise. Other provider names, bedrock
// included, are skipped.
func buildAdapters(cfg config.Defaults) (map[string]model.Adapter, error) {
	adapters := make(map[string]model.Adapter)
	for name, creds := range cfg.Providers {
		if creds.APIKey == "" {
			continue
		}
		switch name {
		case "anthropic":
			c, err := anthropic.NewFromAPIKey(creds.APIKey, defaultModelFor(name))
			if err != nil {
				return nil, fmt.Errorf("flowctl: anthropic adapter: %w", err)
			}
			adapters[name] = c
		case "openai":
			c, err := openai.NewFromAPIKey(creds.APIKey, defaultModelFor(name))
			if err != nil {
				return nil, fmt.Errorf("flowctl: openai adapter: %w", err)
			}
			adapters[name] = c
		}
	}
	return adapters, nil
}

// defaultModelFor returns a reasonable default model identifier per
// provider; a real deployment would source this from config instead.
func defaultModelFor(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5-20250929"
	case "openai":
		return "gpt-4o"
	default:
		return ""
	}
}
