package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newQuarantineCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect and restore quarantined files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List quarantined files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.QuarantineIndex {
				return errors.New("quarantine index is disabled")
			}
			jail, closeJail, err := a.jail()
			if err != nil {
				return err
			}
			defer closeJail()

			records, err := jail.List()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tQUARANTINED\tSHA256\tORIGINAL")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					r.Name, r.QuarantinedAt.Local().Format(time.DateTime), r.Digest.SHA256, r.OriginalPath)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <name>",
		Short: "Move a quarantined file back to its original location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.QuarantineIndex {
				return errors.New("quarantine index is disabled")
			}
			jail, closeJail, err := a.jail()
			if err != nil {
				return err
			}
			defer closeJail()

			path, err := jail.Restore(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s to %s\n", args[0], path)
			return nil
		},
	})

	return cmd
}
