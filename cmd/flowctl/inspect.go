package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"goa.design/flow/config"
)

func newInspectCmd(configPath *string) *cobra.Command {
	var (
		sf        storeFlags
		appName   string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List sessions for an app, or show one session's event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), inspectOpts{
				configPath: *configPath,
				store:      sf,
				appName:    appName,
				sessionID:  sessionID,
			})
		},
	}

	cmd.Flags().StringVar(&sf.kind, "store", "memory", "session store backend: memory, redis, or mongo")
	cmd.Flags().StringVar(&sf.addr, "store-addr", "", "address for the redis/mongo store backend")
	cmd.Flags().StringVar(&sf.database, "store-database", "", "database name for the mongo store backend")
	cmd.Flags().StringVar(&appName, "app", "", "list sessions belonging to this app")
	cmd.Flags().StringVar(&sessionID, "session", "", "show this session's event log instead of listing")

	return cmd
}

type inspectOpts struct {
	configPath string
	store      storeFlags
	appName    string
	sessionID  string
}

func runInspect(ctx context.Context, opts inspectOpts) error {
	// config.Load validates env/file overrides even though inspect itself
	// only needs store connection details, keeping every subcommand's
	// startup path uniform.
	if _, err := config.Load(opts.configPath); err != nil {
		return err
	}

	store, err := openStore(ctx, opts.store)
	if err != nil {
		return err
	}

	if opts.sessionID != "" {
		rec, err := store.LoadSession(ctx, opts.sessionID)
		if err != nil {
			return fmt.Errorf("flowctl: load session: %w", err)
		}
		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	summaries, err := store.ListSessions(ctx, opts.appName)
	if err != nil {
		return fmt.Errorf("flowctl: list sessions: %w", err)
	}
	out, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
