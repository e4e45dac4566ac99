package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type serveFlags struct {
	config string
	name   string
	wasm   string
}

func serveCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install (or recover) a module and serve its WebSocket endpoint",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.config, "config", "c", "stdb.toml", "Path to stdb.toml")
	cmd.Flags().StringVarP(&flags.name, "name", "n", "", "Database name (required)")
	cmd.Flags().StringVarP(&flags.wasm, "wasm", "w", "", "Path to the module's compiled WASM binary (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("wasm")
	return cmd
}

func runServe(flags *serveFlags) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, db, cleanup, err := wireUp(ctx, flags.config, flags.name, flags.wasm)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("serving %q on %s\n", db.Name, cfg.BindAddr)

	srv := &http.Server{Addr: cfg.BindAddr, Handler: db.Server.Router()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCh:
		fmt.Println("shutting down")
		_ = srv.Shutdown(context.Background())
	}
	return nil
}
