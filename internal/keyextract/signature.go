package keyextract

import (
	"bytes"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Signature is a byte pattern where only the bits set in Mask are compared.
type Signature struct {
	Name    string
	Compare []byte
	Mask    []byte
}

var ErrNoSignatureMatch = errors.New("failed to find a match for the given signature")

// Encrypt loop bodies emitted for (c + MOO_PADDER) ^ MOO_ENCRYPTION_KEY by
// gcc and clang on x86-64. Immediates are masked out.
var EncryptLoopSignatures = []Signature{
	{
		Name:    "add eax, imm8; xor eax, imm8",
		Compare: []byte{0x83, 0xc0, 0x00, 0x83, 0xf0, 0x00},
		Mask:    []byte{0xff, 0xff, 0x00, 0xff, 0xff, 0x00},
	},
	{
		Name:    "add eax, imm8; not eax",
		Compare: []byte{0x83, 0xc0, 0x00, 0xf7, 0xd0},
		Mask:    []byte{0xff, 0xff, 0x00, 0xff, 0xff},
	},
	{
		Name:    "add al, imm8; xor al, imm8",
		Compare: []byte{0x04, 0x00, 0x34, 0x00},
		Mask:    []byte{0xff, 0x00, 0xff, 0x00},
	},
	{
		Name:    "add al, imm8; not al",
		Compare: []byte{0x04, 0x00, 0xf6, 0xd0},
		Mask:    []byte{0xff, 0x00, 0xff, 0xff},
	},
}

func ApplyBitmask(data []byte, mask []byte) []byte {
	ret := make([]byte, len(data))
	for i, b := range data {
		ret[i] = b & mask[i]
	}
	return ret
}

// FindWithSignature returns the offset of the first match of signature in
// data.
func FindWithSignature(data []byte, signature Signature) (uint64, error) {
	if len(signature.Compare) != len(signature.Mask) {
		return 0, fmt.Errorf("signature %q: compare and mask are different lengths", signature.Name)
	}

	sig := ApplyBitmask(signature.Compare, signature.Mask)

	for i := 0; i+len(sig) <= len(data); i++ {
		compare := ApplyBitmask(data[i:i+len(sig)], signature.Mask)
		if bytes.Equal(sig, compare) {
			log.Debugf("Found a %q match at 0x%x\n", signature.Name, i)
			return uint64(i), nil
		}
	}

	return 0, ErrNoSignatureMatch
}

// FindAny tries each signature in order.
func FindAny(data []byte, signatures []Signature) (uint64, Signature, error) {
	for _, sig := range signatures {
		off, err := FindWithSignature(data, sig)
		if err == nil {
			return off, sig, nil
		}
		if !errors.Is(err, ErrNoSignatureMatch) {
			return 0, sig, err
		}
	}
	return 0, Signature{}, ErrNoSignatureMatch
}
