// Package recovery decrypts a single moo-encrypted file and checks the result.
package recovery

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/proferosec/moo-tools/internal/cipher"
	"github.com/proferosec/moo-tools/internal/detect"
)

// ErrVerification is returned when the decrypted output still classifies as
// encrypted, which usually means the wrong key or padder.
var ErrVerification = errors.New("decryption failed, output still appears encrypted")

// ErrSameFile is returned when the output path names the input file.
var ErrSameFile = errors.New("output path is the input file")

// Engine runs decrypt-then-verify. The verifier should be built with the same
// parameters as the engine.
type Engine struct {
	params   cipher.Params
	verifier *detect.EncryptionClassifier
}

func NewEngine(params cipher.Params, verifier *detect.EncryptionClassifier) *Engine {
	if verifier == nil {
		verifier = detect.NewEncryptionClassifier(params)
	}
	return &Engine{params: params, verifier: verifier}
}

// Recover writes the plaintext of inputPath to outputPath. On any failure
// after the output was opened, the output is removed. An output path that
// cannot be opened is left alone.
func (e *Engine) Recover(inputPath, outputPath string) error {
	log.Debugf("Attempting to decrypt %s\n", inputPath)

	in, err := os.Stat(inputPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}
	if out, err := os.Stat(outputPath); err == nil && os.SameFile(in, out) {
		return fmt.Errorf("%s: %w", outputPath, ErrSameFile)
	}

	encrypted, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}

	e.params.DecryptInPlace(encrypted)

	if err := writeOutput(outputPath, encrypted); err != nil {
		return err
	}

	v := e.verifier.Classify(outputPath)
	if v.Err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("verify %s: %w", outputPath, v.Err)
	}
	if v.Match {
		if err := os.Remove(outputPath); err != nil {
			log.Errorf("Failed to remove unverified output %s: %s\n", outputPath, err)
		}
		return ErrVerification
	}

	return nil
}

// writeOutput removes outputPath only when it got as far as opening it.
func writeOutput(outputPath string, data []byte) error {
	f, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	return nil
}

// RecoverFile is Recover with the error logged against the input path.
func (e *Engine) RecoverFile(inputPath, outputPath string) bool {
	if err := e.Recover(inputPath, outputPath); err != nil {
		log.WithField("path", inputPath).Errorf("Failed to decrypt: %s", err)
		return false
	}
	return true
}
