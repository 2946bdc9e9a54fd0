package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"goa.design/flow"
	"goa.design/flow/config"
	"goa.design/flow/event"
	"goa.design/flow/sessionstore"
	"goa.design/flow/state"
)

func newResumeCmd(configPath *string) *cobra.Command {
	var (
		sf        storeFlags
		sessionID string
		provider  string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a yielded session's demo tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), resumeOpts{
				configPath: *configPath,
				store:      sf,
				sessionID:  sessionID,
				provider:   provider,
			})
		},
	}

	cmd.Flags().StringVar(&sf.kind, "store", "memory", "session store backend: memory, redis, or mongo")
	cmd.Flags().StringVar(&sf.addr, "store-addr", "", "address for the redis/mongo store backend")
	cmd.Flags().StringVar(&sf.database, "store-database", "", "database name for the mongo store backend")
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID to resume (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "model provider to drive the demo Agent with")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

type resumeOpts struct {
	configPath string
	store      storeFlags
	sessionID  string
	provider   string
}

func runResume(ctx context.Context, opts resumeOpts) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	provider := opts.provider
	if provider == "" {
		provider = cfg.DefaultProvider
	}

	store, err := openStore(ctx, opts.store)
	if err != nil {
		return err
	}
	rec, err := store.LoadSession(ctx, opts.sessionID)
	if err != nil {
		return fmt.Errorf("flowctl: load session: %w", err)
	}

	sess := sessionstore.Rehydrate(rec, state.Schema(nil))

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return err
	}
	root := buildDemoTree(adapters, provider)

	runner := flow.NewRunner(adapters).WithToolFanOut(cfg.ToolFanOut)
	result, err := runner.Resume(ctx, root, sess)
	if err != nil {
		return err
	}
	if err := store.AppendEvents(ctx, sess.ID(), newEventsSince(rec, sess)); err != nil {
		return fmt.Errorf("flowctl: persist events: %w", err)
	}

	return printResult(sess.ID(), result)
}

// newEventsSince returns the events sess has accumulated beyond what rec
// already held, so a resume only appends its own delta to the store.
func newEventsSince(rec sessionstore.Record, sess *flow.Session) []*event.Event {
	all := sess.Events()
	if len(all) <= len(rec.Events) {
		return nil
	}
	return all[len(rec.Events):]
}
