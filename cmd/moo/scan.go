package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/proferosec/moo-tools/internal/batch"
	"github.com/proferosec/moo-tools/internal/detect"
	"github.com/proferosec/moo-tools/internal/telemetry"
)

func newScanCmd(a *app) *cobra.Command {
	var (
		quarantineFlag bool
		noRecursive    bool
		showProgress   bool
	)

	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Detect moo binaries under a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			if _, err := os.Stat(root); err != nil {
				return fmt.Errorf("invalid path: %w", err)
			}

			set, err := a.signatureSet()
			if err != nil {
				return err
			}

			p := &batch.Processor{
				Signatures: detect.NewSignatureClassifier(set, 0),
				Workers:    a.cfg.Workers,
				Metrics:    telemetry.New(nil),
			}

			action := batch.ActionReport
			if quarantineFlag {
				action = batch.ActionQuarantine
				jail, closeJail, err := a.jail()
				if err != nil {
					return err
				}
				defer closeJail()
				p.Jail = jail
			}

			onFile, stop := progress(showProgress)
			p.OnFile = onFile
			counters, err := p.Scan(cmd.Context(), root, action, !noRecursive)
			stop()
			if err != nil {
				return err
			}

			counters.Print(cmd.OutOrStdout(), action)
			return nil
		},
	}

	cmd.Flags().BoolVar(&quarantineFlag, "quarantine", false, "Automatically quarantine detected files")
	cmd.Flags().BoolVar(&noRecursive, "no-recursive", false, "Disable recursive directory scanning")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show a progress bar")
	return cmd
}
