// Package profile summarizes the head of a file for manual triage: byte
// statistics before and after the moo transform, and both verdicts.
package profile

import (
	"errors"
	"io"
	"os"

	"github.com/montanaflynn/stats"

	"github.com/proferosec/moo-tools/internal/cipher"
	"github.com/proferosec/moo-tools/internal/detect"
)

// Sample describes one byte window.
type Sample struct {
	Mean           float64
	StdDev         float64
	PrintableRatio float64
}

type Report struct {
	Path       string
	Size       int64
	Window     int
	Raw        Sample
	Decrypted  Sample
	Encryption detect.Verdict
	Signatures detect.Verdict
}

// Profiler builds reports with fixed classifiers.
type Profiler struct {
	params     cipher.Params
	window     int
	encryption *detect.EncryptionClassifier
	signatures *detect.SignatureClassifier
}

func New(params cipher.Params, window int, set *detect.SignatureSet) *Profiler {
	if window <= 0 {
		window = detect.DefaultWindow
	}
	return &Profiler{
		params:     params,
		window:     window,
		encryption: detect.NewEncryptionClassifier(params, detect.WithWindow(window)),
		signatures: detect.NewSignatureClassifier(set, 0),
	}
}

// File reads at most the configured window from path for the statistics. The
// signature verdict still covers the whole file.
func (p *Profiler) File(path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Report{}, err
	}

	buf := make([]byte, p.window)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Report{}, err
	}
	head := buf[:n]

	r := Report{
		Path:       path,
		Size:       info.Size(),
		Window:     len(head),
		Encryption: p.encryption.ClassifyBytes(head),
		Signatures: p.signatures.Classify(path),
	}
	if r.Raw, err = describe(head); err != nil {
		return r, err
	}
	if r.Decrypted, err = describe(p.params.Decrypt(head)); err != nil {
		return r, err
	}
	return r, nil
}

// describe returns a zero Sample for empty input.
func describe(data []byte) (Sample, error) {
	if len(data) == 0 {
		return Sample{}, nil
	}

	values := make(stats.Float64Data, len(data))
	printable := 0
	for i, b := range data {
		values[i] = float64(b)
		if b >= 0x20 && b < 0x7f {
			printable++
		}
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return Sample{}, err
	}
	sd, err := stats.StandardDeviation(values)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Mean:           mean,
		StdDev:         sd,
		PrintableRatio: float64(printable) / float64(len(data)),
	}, nil
}
