// Package config reads runtime settings from a .env file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/proferosec/moo-tools/internal/batch"
	"github.com/proferosec/moo-tools/internal/cipher"
	"github.com/proferosec/moo-tools/internal/quarantine"
)

// Cfg holds everything the CLI needs before flags are applied.
type Cfg struct {
	Cipher cipher.Params // MOO_KEY, MOO_PADDER

	QuarantineDir   string // MOO_QUARANTINE_DIR
	QuarantineIndex bool   // MOO_QUARANTINE_INDEX=false disables the manifest

	Workers        int    // MOO_WORKERS
	SignaturesFile string // MOO_SIGNATURES_FILE, JSON; empty means the built-in moo set
	OutputPrefix   string // MOO_OUTPUT_PREFIX

	LogLevel log.Level // MOO_LOG_LEVEL

	MaxInstructionsToDisassemble uint64 // MOO_MAX_INSTRUCTIONS
}

// Default returns the settings used when nothing is configured.
func Default() Cfg {
	return Cfg{
		Cipher:                       cipher.Default,
		QuarantineDir:                quarantine.DefaultRoot,
		QuarantineIndex:              true,
		Workers:                      1,
		OutputPrefix:                 batch.DefaultOutputPrefix,
		LogLevel:                     log.InfoLevel,
		MaxInstructionsToDisassemble: 10000,
	}
}

// Load reads envFile (or .env in the working directory when empty) if it
// exists, then the environment.
func Load(envFile string) (*Cfg, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		// Best-effort: a missing .env is fine.
		_ = godotenv.Load()
	}

	cfg := Default()
	var err error

	if cfg.Cipher.Key, err = byteEnv("MOO_KEY", cfg.Cipher.Key); err != nil {
		return nil, err
	}
	if cfg.Cipher.Padder, err = byteEnv("MOO_PADDER", cfg.Cipher.Padder); err != nil {
		return nil, err
	}
	if err := cfg.Cipher.Check(); err != nil {
		return nil, err
	}

	if v := env("MOO_QUARANTINE_DIR"); v != "" {
		cfg.QuarantineDir = v
	}
	if v := env("MOO_QUARANTINE_INDEX"); v != "" {
		cfg.QuarantineIndex = v == "1" || strings.EqualFold(v, "true")
	}

	if v := env("MOO_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("MOO_WORKERS: want a positive integer, got %q", v)
		}
		cfg.Workers = n
	}

	cfg.SignaturesFile = env("MOO_SIGNATURES_FILE")
	if v := env("MOO_OUTPUT_PREFIX"); v != "" {
		cfg.OutputPrefix = v
	}

	if v := env("MOO_LOG_LEVEL"); v != "" {
		lvl, err := log.ParseLevel(v)
		if err != nil {
			return nil, fmt.Errorf("MOO_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = lvl
	}

	if v := env("MOO_MAX_INSTRUCTIONS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("MOO_MAX_INSTRUCTIONS: %w", err)
		}
		cfg.MaxInstructionsToDisassemble = n
	}

	return &cfg, nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func byteEnv(name string, def byte) (byte, error) {
	v := env(name)
	if v == "" {
		return def, nil
	}
	b, err := ParseByte(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// ParseByte accepts decimal, 0x hex or 0o octal notation.
func ParseByte(s string) (byte, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("want a byte value, got %q", s)
	}
	return byte(n), nil
}
