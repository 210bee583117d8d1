// Package batch applies the classifiers, the recovery engine and the
// quarantine across many files. A failure on one file is counted and logged;
// it never stops the run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/proferosec/moo-tools/internal/detect"
	"github.com/proferosec/moo-tools/internal/telemetry"
)

// DefaultOutputPrefix is prepended to decrypted file names.
const DefaultOutputPrefix = "decrypted_"

// Action says what to do with a detected file.
type Action string

const (
	ActionReport     Action = "report"
	ActionQuarantine Action = "quarantine"
)

var ErrNoQuarantine = errors.New("quarantine action requested without a quarantine manager")

type Classifier interface {
	Classify(path string) detect.Verdict
}

type Recoverer interface {
	Recover(inputPath, outputPath string) error
}

type Quarantiner interface {
	Quarantine(path string) (string, error)
	Root() string
}

// ScanCounters is the result of a scan run.
type ScanCounters struct {
	Scanned     int
	Detected    int
	Quarantined int
	Errors      int
}

// DecryptCounters is the result of a decrypt run.
type DecryptCounters struct {
	Processed int
	Success   int
	Skipped   int
	Errors    int
}

// Processor wires the per-file components together. Signatures and Jail are
// needed for Scan; Encryption and Engine for Decrypt.
type Processor struct {
	Signatures Classifier
	Encryption Classifier
	Engine     Recoverer
	Jail       Quarantiner

	// Workers is the number of files handled at once. Zero or one keeps the
	// run sequential.
	Workers int
	// OutputPrefix defaults to DefaultOutputPrefix.
	OutputPrefix string
	// OnFile, if set, is called once per enumerated file after it has been
	// handled. It may be called from several goroutines.
	OnFile  func(path string)
	Metrics *telemetry.Instruments
}

type scanTally struct {
	scanned, detected, quarantined, errors atomic.Int64
}

type decryptTally struct {
	processed, success, skipped, errors atomic.Int64
}

// Scan runs the signature classifier over root. With recursive false only the
// immediate directory is examined.
func (p *Processor) Scan(ctx context.Context, root string, action Action, recursive bool) (ScanCounters, error) {
	if p.Signatures == nil {
		return ScanCounters{}, errors.New("no signature classifier configured")
	}
	if action == ActionQuarantine && p.Jail == nil {
		return ScanCounters{}, ErrNoQuarantine
	}

	// Files already moved into the jail must not be scanned again.
	var skip []string
	if p.Jail != nil {
		skip = append(skip, p.Jail.Root())
	}

	var t scanTally
	onErr := func(path string, err error) {
		t.errors.Add(1)
		p.record(ctx, "scan", telemetry.Failed)
		log.WithField("path", path).Errorf("Error processing: %s", err)
	}

	p.run(ctx, Files(root, recursive, skip...), onErr, func(path string) {
		t.scanned.Add(1)
		p.record(ctx, "scan", telemetry.Scanned)

		v := p.Signatures.Classify(path)
		if v.Err != nil {
			onErr(path, v.Err)
			return
		}
		if !v.Match {
			log.WithField("path", path).Debugf("Clean: %s", v.Reason)
			return
		}

		t.detected.Add(1)
		p.record(ctx, "scan", telemetry.Detected)
		log.WithField("path", path).Warnf("Detected: %s", v.Reason)

		if action != ActionQuarantine {
			return
		}
		if _, err := p.Jail.Quarantine(path); err != nil {
			onErr(path, fmt.Errorf("failed to quarantine: %w", err))
			return
		}
		t.quarantined.Add(1)
		p.record(ctx, "scan", telemetry.Quarantined)
	})

	return ScanCounters{
		Scanned:     int(t.scanned.Load()),
		Detected:    int(t.detected.Load()),
		Quarantined: int(t.quarantined.Load()),
		Errors:      int(t.errors.Load()),
	}, nil
}

// Decrypt recovers every encrypted regular file directly inside inputDir into
// outputDir. Subdirectories are not entered.
func (p *Processor) Decrypt(ctx context.Context, inputDir, outputDir string) (DecryptCounters, error) {
	if p.Encryption == nil || p.Engine == nil {
		return DecryptCounters{}, errors.New("no encryption classifier or recovery engine configured")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return DecryptCounters{}, fmt.Errorf("create output directory: %w", err)
	}

	prefix := p.OutputPrefix
	if prefix == "" {
		prefix = DefaultOutputPrefix
	}

	var t decryptTally
	onErr := func(path string, err error) {
		t.errors.Add(1)
		p.record(ctx, "decrypt", telemetry.Failed)
		log.WithField("path", path).Errorf("Error processing: %s", err)
	}

	p.run(ctx, Files(inputDir, false), onErr, func(path string) {
		t.processed.Add(1)
		p.record(ctx, "decrypt", telemetry.Processed)
		name := filepath.Base(path)

		v := p.Encryption.Classify(path)
		if v.Err != nil {
			onErr(path, v.Err)
			return
		}
		if !v.Match {
			log.Infof("Skipping %s: %s", name, v.Reason)
			t.skipped.Add(1)
			p.record(ctx, "decrypt", telemetry.Skipped)
			return
		}

		out := filepath.Join(outputDir, prefix+name)
		if err := p.Engine.Recover(path, out); err != nil {
			onErr(path, fmt.Errorf("failed to decrypt: %w", err))
			return
		}
		t.success.Add(1)
		p.record(ctx, "decrypt", telemetry.Decrypted)
		log.Infof("Successfully decrypted: %s", name)
	})

	return DecryptCounters{
		Processed: int(t.processed.Load()),
		Success:   int(t.success.Load()),
		Skipped:   int(t.skipped.Load()),
		Errors:    int(t.errors.Load()),
	}, nil
}

// run feeds files to a pool of workers. Enumeration stops early when ctx is
// cancelled; files already handed out are finished.
func (p *Processor) run(ctx context.Context, files iter.Seq2[string, error], onErr func(string, error), handle func(string)) {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	fileChannel := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range fileChannel {
				p.handleOne(path, onErr, handle)
			}
		}()
	}

feed:
	for path, err := range files {
		if err != nil {
			onErr(path, err)
			continue
		}
		select {
		case fileChannel <- path:
		case <-ctx.Done():
			log.Warnf("Run cancelled: %s", ctx.Err())
			break feed
		}
	}

	close(fileChannel)
	wg.Wait()
}

// handleOne turns a panic while handling one file into a counted error.
func (p *Processor) handleOne(path string, onErr func(string, error), handle func(string)) {
	defer func() {
		if r := recover(); r != nil {
			onErr(path, fmt.Errorf("panic: %v", r))
		}
		if p.OnFile != nil {
			p.OnFile(path)
		}
	}()
	handle(path)
}

func (p *Processor) record(ctx context.Context, mode string, o telemetry.Outcome) {
	p.Metrics.Record(ctx, mode, o)
}

// Print writes the scan summary.
func (c ScanCounters) Print(w io.Writer, action Action) {
	fmt.Fprintln(w, "\nScan Summary:")
	fmt.Fprintf(w, "Files scanned: %d\n", c.Scanned)
	fmt.Fprintf(w, "Detected: %d\n", c.Detected)
	if action == ActionQuarantine {
		fmt.Fprintf(w, "Quarantined: %d\n", c.Quarantined)
	}
	fmt.Fprintf(w, "Errors: %d\n", c.Errors)
}

// Print writes the decrypt summary.
func (c DecryptCounters) Print(w io.Writer) {
	fmt.Fprintln(w, "\nDecryption Summary:")
	fmt.Fprintf(w, "Files processed: %d\n", c.Processed)
	fmt.Fprintf(w, "Successfully decrypted: %d\n", c.Success)
	fmt.Fprintf(w, "Skipped: %d\n", c.Skipped)
	fmt.Fprintf(w, "Errors: %d\n", c.Errors)
}
