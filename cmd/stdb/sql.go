package main

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/clockworklabs/stdb-core/internal/wire"
)

type sqlFlags struct {
	addr  string
	token string
}

func sqlCmd() *cobra.Command {
	flags := &sqlFlags{}
	cmd := &cobra.Command{
		Use:   "sql <query>",
		Short: "Run a one-off subscription query and print the matching rows",
		Long: `Sql compiles query through the same sqlfront/queryplan path a live
subscription uses, prints every row currently matching it as hex-encoded
BSATN (decoding a row's fields requires generated client bindings; see
the generate subcommand), then unsubscribes and exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSQL(args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "localhost:3000", "Database server address (host:port)")
	cmd.Flags().StringVar(&flags.token, "token", "", "Bearer token")
	return cmd
}

func runSQL(query string, flags *sqlFlags) error {
	conn, err := dial(flags.addr, flags.token)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := recvFrame(conn); err != nil {
		return errors.Wrap(err, "stdb: read identity token")
	}

	if err := sendFrame(conn, wire.ClientFrame{
		Tag:       wire.TagSubscribe,
		Subscribe: wire.Subscribe{RequestID: 1, QueryStrings: []string{query}},
	}); err != nil {
		return err
	}

	for {
		frame, err := recvFrame(conn)
		if err != nil {
			return errors.Wrap(err, "stdb: read server frame")
		}
		switch frame.Tag {
		case wire.TagSubscriptionError:
			return errors.Errorf("stdb: subscription error: %s", frame.SubscriptionError.Error)
		case wire.TagInitialSubscription:
			printDatabaseUpdate(frame.InitialSubscription.DatabaseUpdate)
			_ = sendFrame(conn, wire.ClientFrame{Tag: wire.TagUnsubscribe, Unsubscribe: wire.Unsubscribe{RequestID: 1}})
			return nil
		}
	}
}

func printDatabaseUpdate(u wire.DatabaseUpdate) {
	for _, t := range u.Tables {
		fmt.Printf("%s:\n", t.TableName)
		for _, op := range t.Operations {
			fmt.Printf("  %s\n", hex.EncodeToString(op.RowBSATN))
		}
	}
}
