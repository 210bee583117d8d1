package main

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/proferosec/moo-tools/internal/batch"
	"github.com/proferosec/moo-tools/internal/detect"
	"github.com/proferosec/moo-tools/internal/recovery"
	"github.com/proferosec/moo-tools/internal/telemetry"
)

var errInvalidInput = errors.New("invalid input path")

func newDecryptCmd(a *app) *cobra.Command {
	var (
		force        bool
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "decrypt <input> <output>",
		Short: "Decrypt a moo-encrypted file, or every encrypted file in a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, output := args[0], args[1]

			info, err := os.Stat(input)
			if err != nil {
				return fmt.Errorf("%w: %s", errInvalidInput, err)
			}

			if force {
				// Reserved: classification is not bypassed yet.
				log.Debugln("--force has no effect")
			}

			ec := detect.NewEncryptionClassifier(a.cfg.Cipher)
			engine := recovery.NewEngine(a.cfg.Cipher, ec)

			switch {
			case info.Mode().IsRegular():
				err := engine.Recover(input, output)
				switch {
				case errors.Is(err, recovery.ErrSameFile):
					return err
				case err != nil:
					log.WithField("path", input).Errorf("Failed to decrypt: %s", err)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "Successfully decrypted to %s\n", output)
				}
				return nil

			case info.IsDir():
				p := &batch.Processor{
					Encryption:   ec,
					Engine:       engine,
					Workers:      a.cfg.Workers,
					OutputPrefix: a.cfg.OutputPrefix,
					Metrics:      telemetry.New(nil),
				}
				onFile, stop := progress(showProgress)
				p.OnFile = onFile
				counters, err := p.Decrypt(cmd.Context(), input, output)
				stop()
				if err != nil {
					return err
				}
				counters.Print(cmd.OutOrStdout())
				return nil
			}

			return errInvalidInput
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Attempt decryption even if detection is uncertain (reserved)")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show a progress bar")
	return cmd
}
