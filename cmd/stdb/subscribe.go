package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/clockworklabs/stdb-core/internal/wire"
)

type subscribeFlags struct {
	addr  string
	token string
}

func subscribeCmd() *cobra.Command {
	flags := &subscribeFlags{}
	cmd := &cobra.Command{
		Use:   "subscribe <query>",
		Short: "Open a live subscription and print every update until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSubscribe(args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "localhost:3000", "Database server address (host:port)")
	cmd.Flags().StringVar(&flags.token, "token", "", "Bearer token")
	return cmd
}

func runSubscribe(query string, flags *subscribeFlags) error {
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
			return errors.Wrap(err, "stdb: connection closed")
		}
		switch frame.Tag {
		case wire.TagSubscriptionError:
			return errors.Errorf("stdb: subscription error: %s", frame.SubscriptionError.Error)
		case wire.TagInitialSubscription:
			fmt.Println("-- initial --")
			printDatabaseUpdate(frame.InitialSubscription.DatabaseUpdate)
		case wire.TagTransactionUpdateLight:
			fmt.Println("-- update --")
			printDatabaseUpdate(frame.TransactionUpdateLight.DatabaseUpdate)
		case wire.TagTransactionUpdate:
			fmt.Println("-- update (own call) --")
			printDatabaseUpdate(frame.TransactionUpdate.DatabaseUpdate)
		}
	}
}
