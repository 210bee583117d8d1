package detect

import (
	"errors"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/proferosec/moo-tools/internal/cipher"
)

const (
	// DefaultWindow caps how much of a file is sampled.
	DefaultWindow = 1024
	// DefaultProbe is the prefix the printability tests look at.
	DefaultProbe = 100
)

// EncryptionClassifier guesses whether a file was encrypted by moo from a
// short sample of its head. It is a heuristic: short encrypted text headers can
// pass as plain text and random data can pass as encrypted.
type EncryptionClassifier struct {
	params cipher.Params
	window int
	probe  int
}

type EncryptionOption func(*EncryptionClassifier)

// WithWindow sets how many bytes are read from the head of the file.
func WithWindow(n int) EncryptionOption {
	return func(c *EncryptionClassifier) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithProbe sets the prefix length examined for printable bytes.
func WithProbe(n int) EncryptionOption {
	return func(c *EncryptionClassifier) {
		if n > 0 {
			c.probe = n
		}
	}
}

func NewEncryptionClassifier(params cipher.Params, opts ...EncryptionOption) *EncryptionClassifier {
	c := &EncryptionClassifier{params: params, window: DefaultWindow, probe: DefaultProbe}
	for _, opt := range opts {
		opt(c)
	}
	if c.probe > c.window {
		c.probe = c.window
	}
	return c
}

// Params returns the cipher parameters the classifier decrypts with.
func (c *EncryptionClassifier) Params() cipher.Params {
	return c.params
}

// Classify reads the head of path and applies the heuristic.
func (c *EncryptionClassifier) Classify(path string) Verdict {
	data, err := readHead(path, c.window)
	if err != nil {
		log.WithField("path", path).Debugf("Encryption check failed: %s", err)
		return failed(err)
	}
	return c.ClassifyBytes(data)
}

// ClassifyBytes applies the heuristic to a sample already in memory.
func (c *EncryptionClassifier) ClassifyBytes(data []byte) Verdict {
	if len(data) == 0 {
		return Verdict{Reason: ReasonEmpty}
	}

	probe := data
	if len(probe) > c.probe {
		probe = probe[:c.probe]
	}

	if allPrintable(probe) {
		return Verdict{Reason: ReasonPlainText}
	}

	for _, b := range c.params.Decrypt(probe) {
		if isPrintable(b) {
			return Verdict{Match: true, Reason: ReasonEncrypted}
		}
	}
	return Verdict{Reason: ReasonNoMatch}
}

// LooksEncrypted is Classify reduced to its flag and reason.
func (c *EncryptionClassifier) LooksEncrypted(path string) (bool, string) {
	v := c.Classify(path)
	return v.Match, v.Reason
}

func allPrintable(data []byte) bool {
	for _, b := range data {
		if !isPrintable(b) {
			return false
		}
	}
	return true
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:read], nil
}
