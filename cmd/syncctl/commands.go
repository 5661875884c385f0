package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [collection]",
		Short: "Run one sync cycle for a collection, or for all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				reports := c.app.Collections.RunAll(cmd.Context())
				if err := printJSON(out, reports); err != nil {
					return err
				}
				failed := 0
				for _, r := range reports {
					if r.Error != "" {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d collections failed", failed, len(reports))
				}
				return nil
			}
			report, err := c.app.Collections.SyncCollection(cmd.Context(), args[0])
			if perr := printJSON(out, report); perr != nil {
				return perr
			}
			return err
		},
	}
}

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-watermark <collection|all>",
		Short: "Rewind watermarks so the next cycle refetches from the minimum date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := c.app.Collections.ResetWatermark(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", name)
			}
			return nil
		},
	}
}

func (c *cli) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection>",
		Short: "Count upstream tasks of a collection without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.app.Collections.CountTasks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func (c *cli) routesCmd() *cobra.Command {
	var force []string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Download GreenMile stops for new and pending routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.app.Routes == nil {
				return errors.New("greenmile is not enabled")
			}
			report, err := c.app.Routes.Sync(cmd.Context(), force...)
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&force, "route", nil, "route key to download even if already complete (repeatable)")
	return cmd
}

func (c *cli) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the stored sync state of every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := c.app.Store.ListSyncStates(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), states)
		},
	}
}
