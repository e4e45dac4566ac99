package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate client bindings for a module (not implemented by this host)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return errors.New("stdb: generate: client codegen is not implemented by this host")
		},
	}
}
