package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"fleetsync/internal/app"
	"fleetsync/internal/opslog"
)

type appOpener func(ctx context.Context) (*app.App, error)

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// cli carries the lazily opened app between the root hooks and subcommands.
type cli struct {
	open appOpener
	app  *app.App
}

func newRootCmd(open appOpener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Run fleetsync jobs from the command line",
		Long: `syncctl runs the same sync cycles as the daemon, once, and prints the
cycle reports as JSON. Configuration is read from FS_CONFIG and FS_* env vars.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.app = a
			if a.Ops != nil {
				cmd.SetContext(opslog.WithClient(cmd.Context(), a.Ops))
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.app != nil {
				c.app.Close()
			}
		},
	}
	root.AddCommand(
		c.runCmd(),
		c.resetCmd(),
		c.countCmd(),
		c.routesCmd(),
		c.stateCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
