package profile

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/proferosec/moo-tools/internal/cipher"
	"github.com/proferosec/moo-tools/internal/detect"
)

func TestDescribe(t *testing.T) {
	s, err := describe([]byte{0x00, 0x41, 0x41, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if s.Mean != 96.25 {
		t.Errorf("mean = %v", s.Mean)
	}
	if s.PrintableRatio != 0.5 {
		t.Errorf("printable = %v", s.PrintableRatio)
	}
	if s.StdDev <= 0 {
		t.Errorf("stddev = %v", s.StdDev)
	}

	if s, err := describe(nil); err != nil || s != (Sample{}) {
		t.Fatalf("empty: %+v, %v", s, err)
	}
}

func TestProfileEncryptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enc")
	plain := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(path, cipher.Default.Encrypt(plain), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := New(cipher.Default, 0, nil).File(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Size != int64(len(plain)) || r.Window != len(plain) {
		t.Fatalf("size %d window %d", r.Size, r.Window)
	}
	if r.Raw.PrintableRatio != 0 {
		t.Errorf("raw printable = %v", r.Raw.PrintableRatio)
	}
	if math.Abs(r.Decrypted.PrintableRatio-1) > 1e-9 {
		t.Errorf("decrypted printable = %v", r.Decrypted.PrintableRatio)
	}
	if !r.Encryption.Match || r.Encryption.Reason != detect.ReasonEncrypted {
		t.Errorf("encryption verdict %+v", r.Encryption)
	}
	if r.Signatures.Match {
		t.Errorf("signature verdict %+v", r.Signatures)
	}
}

func TestProfileWindowCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := New(cipher.Default, 512, nil).File(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Window != 512 || r.Size != 4096 {
		t.Fatalf("window %d size %d", r.Window, r.Size)
	}
}

func TestProfileMissingFile(t *testing.T) {
	if _, err := New(cipher.Default, 0, nil).File(filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatal("expected error")
	}
}
