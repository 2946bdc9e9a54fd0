package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"goa.design/flow/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage flowctl configuration files",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter YAML config file with the built-in defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := config.Load("")
			if err != nil {
				return err
			}
			if err := d.WriteYAML(out); err != nil {
				return err
			}
			fmt.Println("wrote", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "flow.yaml", "path to write")
	return cmd
}
