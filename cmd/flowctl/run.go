package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"goa.design/flow"
	"goa.design/flow/config"
)

func newRunCmd(configPath *string) *cobra.Command {
	var (
		sf      storeFlags
		appName string
		message string
		provider string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a fresh session and run the demo tree against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), runOpts{
				configPath: *configPath,
				store:      sf,
				appName:    appName,
				message:    message,
				provider:   provider,
			})
		},
	}

	cmd.Flags().StringVar(&sf.kind, "store", "memory", "session store backend: memory, redis, or mongo")
	cmd.Flags().StringVar(&sf.addr, "store-addr", "", "address for the redis/mongo store backend")
	cmd.Flags().StringVar(&sf.database, "store-database", "", "database name for the mongo store backend")
	cmd.Flags().StringVar(&appName, "app", "flowctl-demo", "application name recorded on the session")
	cmd.Flags().StringVar(&message, "message", "", "input message passed to the run as args[\"message\"]")
	cmd.Flags().StringVar(&provider, "provider", "", "model provider to drive the demo Agent with (falls back to config default_provider, or a canned echo if unconfigured)")

	return cmd
}

type runOpts struct {
	configPath string
	store      storeFlags
	appName    string
	message    string
	provider   string
}

func runRun(ctx context.Context, opts runOpts) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	provider := opts.provider
	if provider == "" {
		provider = cfg.DefaultProvider
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return err
	}
	root := buildDemoTree(adapters, provider)

	store, err := openStore(ctx, opts.store)
	if err != nil {
		return err
	}

	sess := flow.NewSession(opts.appName, nil)
	if err := store.CreateSession(ctx, sess.ID(), opts.appName); err != nil {
		return fmt.Errorf("flowctl: create session: %w", err)
	}

	runner := flow.NewRunner(adapters).WithToolFanOut(cfg.ToolFanOut)

	args := map[string]any{}
	if opts.message != "" {
		args["message"] = opts.message
	}

	result, err := runner.Run(ctx, root, sess, args)
	if err != nil {
		return err
	}
	if err := store.AppendEvents(ctx, sess.ID(), sess.Events()); err != nil {
		return fmt.Errorf("flowctl: persist events: %w", err)
	}

	return printResult(sess.ID(), result)
}

func printResult(sessionID string, result *flow.RunResult) error {
	summary := struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		Output    any    `json:"output,omitempty"`
		Error     string `json:"error,omitempty"`
	}{SessionID: sessionID, Status: string(result.Status), Output: result.Output, Error: result.Error}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
