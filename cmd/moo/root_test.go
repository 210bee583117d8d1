package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanReportsSummary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sample"), []byte("moo_starter moo_operation_encrypt MOO_PADDER"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("nothing here"))

	out, err := execute(t, "scan", dir)
	if err != nil {
		t.Fatalf("scan: %s", err)
	}
	for _, want := range []string{"Files scanned: 2", "Detected: 1", "Errors: 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Quarantined:") {
		t.Errorf("report-only scan printed a quarantine count:\n%s", out)
	}
}

func TestScanQuarantineThenListAndRestore(t *testing.T) {
	dir := t.TempDir()
	jail := t.TempDir()
	sample := filepath.Join(dir, "sample.bin")
	writeFile(t, sample, []byte("moo_starter moo_open_and_read_file MOO_ENCRYPTION_KEY"))

	out, err := execute(t, "--quarantine-dir", jail, "scan", "--quarantine", dir)
	if err != nil {
		t.Fatalf("scan: %s", err)
	}
	if !strings.Contains(out, "Quarantined: 1") {
		t.Fatalf("expected one quarantined file:\n%s", out)
	}
	if _, err := os.Stat(sample); !os.IsNotExist(err) {
		t.Fatalf("sample still at original path: %v", err)
	}

	out, err = execute(t, "--quarantine-dir", jail, "quarantine", "list")
	if err != nil {
		t.Fatalf("list: %s", err)
	}
	if !strings.Contains(out, "sample.bin") || !strings.Contains(out, sample) {
		t.Fatalf("list output missing record:\n%s", out)
	}

	if _, err := execute(t, "--quarantine-dir", jail, "quarantine", "restore", "sample.bin"); err != nil {
		t.Fatalf("restore: %s", err)
	}
	if _, err := os.Stat(sample); err != nil {
		t.Fatalf("sample not restored: %s", err)
	}
}

func TestScanInvalidPath(t *testing.T) {
	if _, err := execute(t, "scan", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected an error for a missing path")
	}
}

func TestDecryptSingleFile(t *testing.T) {
	dir := t.TempDir()
	plain := []byte("hello from the other side")
	enc := make([]byte, len(plain))
	for i, b := range plain {
		enc[i] = (b + 0x04) ^ 0xff
	}
	in := filepath.Join(dir, "doc.enc")
	outPath := filepath.Join(dir, "doc.txt")
	writeFile(t, in, enc)

	out, err := execute(t, "decrypt", in, outPath)
	if err != nil {
		t.Fatalf("decrypt: %s", err)
	}
	if !strings.Contains(out, "Successfully decrypted to "+outPath) {
		t.Errorf("unexpected output:\n%s", out)
	}
	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("got %q, want %q", got, plain)
	}
}

func TestDecryptDirectory(t *testing.T) {
	in := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	plain := []byte("quarterly report")
	enc := make([]byte, len(plain))
	for i, b := range plain {
		enc[i] = (b + 0x04) ^ 0xff
	}
	writeFile(t, filepath.Join(in, "a.dat"), enc)
	writeFile(t, filepath.Join(in, "b.txt"), []byte("already plain"))

	out, err := execute(t, "decrypt", in, outDir)
	if err != nil {
		t.Fatalf("decrypt: %s", err)
	}
	for _, want := range []string{"Files processed: 2", "Successfully decrypted: 1", "Skipped: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, "decrypted_a.dat")); err != nil {
		t.Errorf("decrypted output missing: %s", err)
	}
}

func TestDecryptInvalidInput(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "decrypt", filepath.Join(dir, "nope"), filepath.Join(dir, "out"))
	if err == nil || !strings.Contains(err.Error(), "invalid input path") {
		t.Fatalf("got %v, want invalid input path", err)
	}
}

func TestRejectsUnparsableKey(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, "--key", "zz", "scan", dir); err == nil {
		t.Fatal("expected a key parse error")
	}
}

func TestExtractKeyRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	writeFile(t, path, []byte("not an elf"))
	if _, err := execute(t, "extract-key", path); err == nil {
		t.Fatal("expected an error for a non-ELF sample")
	}
}

func TestInspectPrintsDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc")
	writeFile(t, path, []byte("abc"))

	out, err := execute(t, "inspect", path)
	if err != nil {
		t.Fatalf("inspect: %s", err)
	}
	if !strings.Contains(out, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad") {
		t.Errorf("missing sha256:\n%s", out)
	}
}

func TestDecryptRejectsOutputOverInput(t *testing.T) {
	in := filepath.Join(t.TempDir(), "doc.enc")
	writeFile(t, in, []byte{'A', 0xba})

	if _, err := execute(t, "decrypt", in, in); err == nil || !strings.Contains(err.Error(), "output path is the input file") {
		t.Fatalf("got %v, want same-file error", err)
	}
	if got, err := os.ReadFile(in); err != nil || !bytes.Equal(got, []byte{'A', 0xba}) {
		t.Fatalf("input damaged: %q %v", got, err)
	}
}
