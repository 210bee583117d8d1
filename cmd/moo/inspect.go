package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/proferosec/moo-tools/internal/digest"
	"github.com/proferosec/moo-tools/internal/profile"
)

func newInspectCmd(a *app) *cobra.Command {
	var window int

	cmd := &cobra.Command{
		Use:   "inspect <file>...",
		Short: "Print hashes, byte statistics and both verdicts for files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := a.signatureSet()
			if err != nil {
				return err
			}
			profiler := profile.New(a.cfg.Cipher, window, set)
			out := cmd.OutOrStdout()

			for _, path := range args {
				r, err := profiler.File(path)
				if err != nil {
					log.WithField("path", path).Errorf("Failed to inspect: %s", err)
					continue
				}
				sums, err := digest.File(path)
				if err != nil {
					log.WithField("path", path).Errorf("Failed to hash: %s", err)
					continue
				}

				fmt.Fprintf(out, "File:        %s\n", r.Path)
				fmt.Fprintf(out, "Size:        %d\n", r.Size)
				fmt.Fprintf(out, "MD5:         %s\n", sums.MD5)
				fmt.Fprintf(out, "SHA1:        %s\n", sums.SHA1)
				fmt.Fprintf(out, "SHA256:      %s\n", sums.SHA256)
				fmt.Fprintf(out, "Window:      %d bytes\n", r.Window)
				fmt.Fprintf(out, "Raw:         mean %.2f  stddev %.2f  printable %.1f%%\n",
					r.Raw.Mean, r.Raw.StdDev, 100*r.Raw.PrintableRatio)
				fmt.Fprintf(out, "Decrypted:   mean %.2f  stddev %.2f  printable %.1f%%\n",
					r.Decrypted.Mean, r.Decrypted.StdDev, 100*r.Decrypted.PrintableRatio)
				fmt.Fprintf(out, "Encrypted:   %t (%s)\n", r.Encryption.Match, r.Encryption.Reason)
				fmt.Fprintf(out, "moo binary:  %t (%s)\n\n", r.Signatures.Match, r.Signatures.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&window, "window", 0, "Bytes sampled from the head of each file (default 1024)")
	return cmd
}
