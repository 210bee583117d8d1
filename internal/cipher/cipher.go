// Package cipher implements the single-byte transform used by the moo sample.
//
// moo encrypts every byte with e = (p + Padder) ^ Key. Decrypt inverts it.
package cipher

import "fmt"

// Values recovered from the reference sample. Existing encrypted corpora depend
// on these exact bytes.
const (
	DefaultKey    byte = 0xff
	DefaultPadder byte = 0x04
)

// Params holds the per-sample constants.
type Params struct {
	Key    byte
	Padder byte
}

// Default is the parameter set of the reference sample.
var Default = Params{Key: DefaultKey, Padder: DefaultPadder}

func (p Params) String() string {
	return fmt.Sprintf("key=0x%02x padder=0x%02x", p.Key, p.Padder)
}

// DecryptByte returns ((b ^ Key) - Padder) mod 256.
func (p Params) DecryptByte(b byte) byte {
	return (b ^ p.Key) - p.Padder
}

// EncryptByte is the sample's forward step, (b + Padder) ^ Key.
func (p Params) EncryptByte(b byte) byte {
	return (b + p.Padder) ^ p.Key
}

// Decrypt returns a freshly allocated plaintext buffer. src is not modified.
func (p Params) Decrypt(src []byte) []byte {
	dst := make([]byte, len(src))
	for i, b := range src {
		dst[i] = p.DecryptByte(b)
	}
	return dst
}

// DecryptInPlace overwrites buf with its plaintext.
func (p Params) DecryptInPlace(buf []byte) {
	for i, b := range buf {
		buf[i] = p.DecryptByte(b)
	}
}

// Encrypt reproduces what the sample writes to disk. Used to build test corpora
// and to check parameters.
func (p Params) Encrypt(src []byte) []byte {
	dst := make([]byte, len(src))
	for i, b := range src {
		dst[i] = p.EncryptByte(b)
	}
	return dst
}

// Check confirms Decrypt inverts Encrypt for every byte value. Parameters that
// come from config or from a disassembled sample go through this first.
func (p Params) Check() error {
	for v := 0; v < 256; v++ {
		b := byte(v)
		if got := p.DecryptByte(p.EncryptByte(b)); got != b {
			return fmt.Errorf("cipher %s: decrypt(encrypt(0x%02x)) = 0x%02x", p, b, got)
		}
	}
	return nil
}
