package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/clockworklabs/stdb-core/internal/config"
	"github.com/clockworklabs/stdb-core/internal/wal"
)

type logsFlags struct {
	config string
	name   string
}

func logsCmd() *cobra.Command {
	flags := &logsFlags{}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print a database's committed-transaction history from its WAL segments",
		Long: `Logs reads a database directory's WAL segments directly (no running
serve process required) and prints each committed transaction's id,
commit time, reducer name and row-operation counts, oldest first.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLogs(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.config, "config", "c", "stdb.toml", "Path to stdb.toml")
	cmd.Flags().StringVarP(&flags.name, "name", "n", "", "Database name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func runLogs(flags *logsFlags) error {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return errors.Wrap(err, "stdb: load config")
	}
	dir := filepath.Join(cfg.DataDir, flags.name)

	segments, err := wal.ListSegments(dir)
	if err != nil {
		return errors.Wrap(err, "stdb: list wal segments")
	}
	if len(segments) == 0 {
		fmt.Println("no WAL segments yet")
		return nil
	}

	for _, path := range segments {
		records, err := wal.ReadSegment(path)
		if err != nil {
			return errors.Wrapf(err, "stdb: read segment %q", path)
		}
		for _, rec := range records {
			var inserts, deletes int
			for _, op := range rec.Ops {
				if op.Kind == wal.OpInsert {
					inserts++
				} else {
					deletes++
				}
			}
			t := time.UnixMicro(rec.CommitMicros).UTC().Format(time.RFC3339)
			fmt.Printf("txn %d  %s  %s  +%d -%d\n", rec.TxnID, t, rec.ReducerName, inserts, deletes)
		}
	}
	return nil
}
