package main

import (
	"fmt"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/proferosec/moo-tools/internal/keyextract"
)

func newExtractKeyCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "extract-key <sample>",
		Short: "Recover the cipher key and padder from a moo ELF sample",
		Long: `Disassembles the sample's encrypt routine and prints the key and padder as
MOO_KEY / MOO_PADDER settings. With --out they are written to a file usable
with --env-file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := keyextract.Config{MaxInstructionsToDisassemble: a.cfg.MaxInstructionsToDisassemble}

			params, err := keyextract.FromELF(args[0], conf)
			if err != nil {
				return err
			}

			settings := map[string]string{
				"MOO_KEY":    fmt.Sprintf("0x%02x", params.Key),
				"MOO_PADDER": fmt.Sprintf("0x%02x", params.Padder),
			}
			if out != "" {
				log.Printf("Saving settings to %s\n", out)
				return godotenv.Write(settings, out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "MOO_KEY=%s\nMOO_PADDER=%s\n", settings["MOO_KEY"], settings["MOO_PADDER"])
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "File to save the extracted settings to")
	return cmd
}
