package main

import (
	"os"

	"github.com/cheggaaa/pb/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/proferosec/moo-tools/internal/config"
	"github.com/proferosec/moo-tools/internal/detect"
	"github.com/proferosec/moo-tools/internal/quarantine"
)

// app carries the resolved configuration into subcommands.
type app struct {
	cfg *config.Cfg

	envFile       string
	debug         bool
	key           string
	padder        string
	signatures    string
	quarantineDir string
	workers       int
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "moo",
		Short: "Detect, decrypt and quarantine artifacts of the moo malware sample",
		Long: `Detects moo binaries by their embedded function and constant names,
recovers files encrypted with moo's single-byte xor/subtract scheme and moves
detected samples into a quarantine directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", "", "Settings file to load instead of ./.env")
	flags.BoolVar(&a.debug, "debug", false, "Log debug output")
	flags.StringVar(&a.key, "key", "", "Cipher xor key (default 0xff)")
	flags.StringVar(&a.padder, "padder", "", "Cipher padder (default 0x04)")
	flags.StringVar(&a.signatures, "signatures", "", "JSON signature set to use instead of the built-in moo set")
	flags.StringVar(&a.quarantineDir, "quarantine-dir", "", "Quarantine root (default "+quarantine.DefaultRoot+")")
	flags.IntVar(&a.workers, "workers", 0, "Files to process at once (default 1)")

	rootCmd.AddCommand(
		newScanCmd(a),
		newDecryptCmd(a),
		newQuarantineCmd(a),
		newInspectCmd(a),
		newExtractKeyCmd(a),
	)
	return rootCmd
}

// load resolves config from the environment, then lets flags override it.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("key") {
		if cfg.Cipher.Key, err = config.ParseByte(a.key); err != nil {
			return err
		}
	}
	if flags.Changed("padder") {
		if cfg.Cipher.Padder, err = config.ParseByte(a.padder); err != nil {
			return err
		}
	}
	if err := cfg.Cipher.Check(); err != nil {
		return err
	}
	if a.signatures != "" {
		cfg.SignaturesFile = a.signatures
	}
	if a.quarantineDir != "" {
		cfg.QuarantineDir = a.quarantineDir
	}
	if a.workers > 0 {
		cfg.Workers = a.workers
	}

	log.SetLevel(cfg.LogLevel)
	if a.debug {
		log.Infoln("Turning on debug messages")
		log.SetLevel(log.DebugLevel)
	}
	log.Debugf("Using cipher %s", cfg.Cipher)

	a.cfg = cfg
	return nil
}

func (a *app) signatureSet() (*detect.SignatureSet, error) {
	if a.cfg.SignaturesFile == "" {
		return detect.MooSignatures(), nil
	}
	return detect.LoadSignatureSet(a.cfg.SignaturesFile)
}

// jail opens the quarantine manager and, when enabled, its manifest. The
// returned func closes the manifest.
func (a *app) jail() (*quarantine.Manager, func(), error) {
	if !a.cfg.QuarantineIndex {
		return quarantine.NewManager(a.cfg.QuarantineDir), func() {}, nil
	}
	idx, err := quarantine.OpenIndex(a.cfg.QuarantineDir)
	if err != nil {
		return nil, nil, err
	}
	closeIndex := func() {
		if err := idx.Close(); err != nil {
			log.Errorf("Failed to close quarantine index: %s", err)
		}
	}
	return quarantine.NewManager(a.cfg.QuarantineDir, quarantine.WithIndex(idx)), closeIndex, nil
}

// progress returns a per-file callback driving a bar on stderr, or nil when
// disabled. Call the returned stop func when the run ends.
func progress(enabled bool) (func(string), func()) {
	if !enabled {
		return nil, func() {}
	}
	bar := pb.New(0).SetWriter(os.Stderr).Start()
	return func(string) { bar.Increment() }, func() { bar.Finish() }
}
