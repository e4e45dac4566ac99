package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type publishFlags struct {
	config string
	name   string
	wasm   string
}

func publishCmd() *cobra.Command {
	flags := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Install (or recover) a module against its database directory, then exit",
		Long: `Publish wires a database's storage engine and module host exactly as
serve does, runs the install-or-recover decision (fresh directory runs
the module's init reducer; one with prior WAL segments replays it
instead), and exits without opening a listener. Run serve afterward to
accept connections against the published module.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runPublish(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.config, "config", "c", "stdb.toml", "Path to stdb.toml")
	cmd.Flags().StringVarP(&flags.name, "name", "n", "", "Database name (required)")
	cmd.Flags().StringVarP(&flags.wasm, "wasm", "w", "", "Path to the module's compiled WASM binary (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("wasm")
	return cmd
}

func runPublish(flags *publishFlags) error {
	ctx := context.Background()
	_, db, cleanup, err := wireUp(ctx, flags.config, flags.name, flags.wasm)
	if err != nil {
		return err
	}
	defer cleanup()

	desc := db.Host.Descriptor()
	fmt.Printf("published %q: %d table(s), %d reducer(s)\n", db.Name, len(desc.Tables), len(desc.Reducers))
	for _, t := range desc.Tables {
		fmt.Printf("  table %s (%d column(s))\n", t.Name, len(t.Columns))
	}
	for _, r := range desc.Reducers {
		fmt.Printf("  reducer %s\n", r.Name)
	}
	return nil
}
