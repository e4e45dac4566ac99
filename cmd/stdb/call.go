package main

import (
	"encoding/base64"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/clockworklabs/stdb-core/internal/wire"
)

type callFlags struct {
	addr    string
	token   string
	args    string
	timeout int
}

func callCmd() *cobra.Command {
	flags := &callFlags{}
	cmd := &cobra.Command{
		Use:   "call <reducer>",
		Short: "Invoke a reducer over an open WebSocket connection",
		Long: `Call connects to a running serve process and invokes reducer with
pre-encoded BSATN arguments, then prints the resulting commit's status,
energy used and touched tables. Arguments must already be BSATN-encoded
against the reducer's declared parameter type (produced by generated
client bindings; see the generate subcommand's limitations) and passed
base64-encoded via --args.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCall(args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "localhost:3000", "Database server address (host:port)")
	cmd.Flags().StringVar(&flags.token, "token", "", "Bearer token")
	cmd.Flags().StringVar(&flags.args, "args", "", "Base64-encoded BSATN reducer arguments")
	return cmd
}

func runCall(reducer string, flags *callFlags) error {
	argsBSATN, err := base64.StdEncoding.DecodeString(flags.args)
	if err != nil {
		return errors.Wrap(err, "stdb: decode --args")
	}

	conn, err := dial(flags.addr, flags.token)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The server's first frame is always the session's IdentityToken;
	// drain it before sending anything of our own.
	if _, err := recvFrame(conn); err != nil {
		return errors.Wrap(err, "stdb: read identity token")
	}

	if err := sendFrame(conn, wire.ClientFrame{
		Tag: wire.TagCallReducer,
		CallReducer: wire.CallReducer{
			RequestID:   1,
			ReducerName: reducer,
			ArgsBSATN:   argsBSATN,
		},
	}); err != nil {
		return err
	}

	for {
		frame, err := recvFrame(conn)
		if err != nil {
			return errors.Wrap(err, "stdb: read server frame")
		}
		if frame.Tag != wire.TagTransactionUpdate {
			continue
		}
		u := frame.TransactionUpdate
		status := "committed"
		if u.Status != wire.StatusCommitted {
			status = "failed"
		}
		fmt.Printf("%s: %s (energy used %d)\n", u.ReducerName, status, u.EnergyUsed)
		if u.HasMessage {
			fmt.Printf("message: %s\n", u.Message)
		}
		for _, t := range u.DatabaseUpdate.Tables {
			fmt.Printf("  %s: %d op(s)\n", t.TableName, len(t.Operations))
		}
		return nil
	}
}
