// Command stdb is the external CLI surface: publish a module, call a
// reducer, run a one-off SQL query, stream a subscription, or serve a
// database's WebSocket endpoint. It uses cobra for its command tree,
// one file per subcommand, in the style of Pieczasz-smf's cmd/smf.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stdb",
		Short: "stdb-core module host CLI",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(sqlCmd())
	rootCmd.AddCommand(subscribeCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(generateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
