package keyextract

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/proferosec/moo-tools/internal/cipher"
)

func TestDeriveParams(t *testing.T) {
	tests := []struct {
		name  string
		insns []insn
		want  cipher.Params
		err   error
	}{
		{
			name: "gcc O0",
			insns: []insn{
				{0x1000, "push", "rbp"},
				{0x1001, "mov", "rbp, rsp"},
				{0x1004, "sub", "rsp, 0x20"},
				{0x1008, "movzx", "eax, byte ptr [rbp - 1]"},
				{0x100c, "add", "eax, 4"},
				{0x100f, "xor", "eax, 0xffffffff"},
				{0x1012, "mov", "byte ptr [rbp - 1], al"},
				{0x1015, "add", "dword ptr [rbp - 8], 1"},
				{0x1019, "ret", ""},
			},
			want: cipher.Default,
		},
		{
			name: "complement",
			insns: []insn{
				{0x2000, "add", "eax, 4"},
				{0x2003, "not", "eax"},
			},
			want: cipher.Default,
		},
		{
			name: "sub of negative",
			insns: []insn{
				{0x3000, "sub", "al, 0xfd"},
				{0x3002, "xor", "al, 0x5a"},
			},
			want: cipher.Params{Key: 0x5a, Padder: 0x03},
		},
		{
			name: "xor too far away",
			insns: []insn{
				{0x4000, "add", "eax, 4"},
				{0x4003, "nop", ""},
				{0x4004, "nop", ""},
				{0x4005, "nop", ""},
				{0x4006, "nop", ""},
				{0x4007, "xor", "eax, 0xff"},
			},
			err: ErrPatternNotFound,
		},
		{
			name: "stops at ret",
			insns: []insn{
				{0x5000, "ret", ""},
				{0x5001, "add", "eax, 4"},
				{0x5004, "xor", "eax, 0xff"},
			},
			err: ErrPatternNotFound,
		},
		{
			name: "register self xor ignored",
			insns: []insn{
				{0x6000, "add", "ecx, 7"},
				{0x6003, "xor", "eax, eax"},
			},
			err: ErrPatternNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := deriveParams(tt.insns)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseImmediate(t *testing.T) {
	tests := []struct {
		in  string
		dst string
		imm int64
		ok  bool
	}{
		{"eax, 4", "eax", 4, true},
		{"al, 0xff", "al", 0xff, true},
		{"eax, -4", "eax", -4, true},
		{"rax, 0xfffffffffffffffc", "rax", -4, true},
		{"eax, ecx", "", 0, false},
		{"dword ptr [rbp - 8], 1", "", 0, false},
		{"eax", "", 0, false},
	}
	for _, tt := range tests {
		dst, imm, ok := parseImmediate(tt.in)
		if ok != tt.ok || dst != tt.dst || imm != tt.imm {
			t.Errorf("parseImmediate(%q) = %q, %d, %v", tt.in, dst, imm, ok)
		}
	}
}

func TestFindWithSignature(t *testing.T) {
	text := []byte{0x55, 0x48, 0x89, 0xe5, 0x83, 0xc0, 0x04, 0x83, 0xf0, 0xff, 0xc3}

	off, sig, err := FindAny(text, EncryptLoopSignatures)
	if err != nil {
		t.Fatal(err)
	}
	if off != 4 || sig.Name != EncryptLoopSignatures[0].Name {
		t.Fatalf("offset %d sig %q", off, sig.Name)
	}

	// A match that would run past the end must not be read out of bounds.
	if _, err := FindWithSignature(text[:8], EncryptLoopSignatures[0]); !errors.Is(err, ErrNoSignatureMatch) {
		t.Fatalf("err = %v", err)
	}

	bad := Signature{Name: "bad", Compare: []byte{1, 2}, Mask: []byte{0xff}}
	if _, err := FindWithSignature(text, bad); err == nil || errors.Is(err, ErrNoSignatureMatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestFromELFRejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-elf")
	if err := os.WriteFile(path, []byte("MZ this is not an ELF"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := FromELF(path, DefaultConfig); err == nil {
		t.Fatal("expected error")
	}
}

const sampleTextAddr = 0x401000

// sampleText holds a decoy function followed by the encrypt routine at
// offset 8: add eax, 4; xor eax, 0xffffffff; ret.
var sampleText = []byte{
	0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3, 0x90, 0x90,
	0x83, 0xc0, 0x04, 0x83, 0xf0, 0xff, 0xc3,
}

type sampleSection struct {
	name string
	hdr  elf.Section64
	data []byte
}

// buildSample lays out a minimal x86-64 ELF: header, section contents, then
// the section header table. With stripped set there is no symbol table.
func buildSample(text []byte, encryptAt uint64, stripped bool) []byte {
	le := binary.LittleEndian
	secs := []sampleSection{{
		name: ".text",
		hdr: elf.Section64{
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:      sampleTextAddr,
			Addralign: 16,
		},
		data: text,
	}}
	if !stripped {
		var symtab bytes.Buffer
		binary.Write(&symtab, le, elf.Sym64{})
		binary.Write(&symtab, le, elf.Sym64{
			Name:  1,
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: 1,
			Value: sampleTextAddr + encryptAt,
			Size:  uint64(len(text)) - encryptAt,
		})
		secs = append(secs,
			sampleSection{
				name: ".symtab",
				// Link 3 is .strtab, Info 1 is the first global symbol.
				hdr:  elf.Section64{Type: uint32(elf.SHT_SYMTAB), Link: 3, Info: 1, Addralign: 8, Entsize: elf.Sym64Size},
				data: symtab.Bytes(),
			},
			sampleSection{
				name: ".strtab",
				hdr:  elf.Section64{Type: uint32(elf.SHT_STRTAB), Addralign: 1},
				data: []byte("\x00" + EncryptSymbol + "\x00"),
			},
		)
	}
	secs = append(secs, sampleSection{
		name: ".shstrtab",
		hdr:  elf.Section64{Type: uint32(elf.SHT_STRTAB), Addralign: 1},
	})

	shstrtab := []byte{0}
	for i := range secs {
		secs[i].hdr.Name = uint32(len(shstrtab))
		shstrtab = append(shstrtab, secs[i].name+"\x00"...)
	}
	secs[len(secs)-1].data = shstrtab

	const headerSize = 64
	var body bytes.Buffer
	for i := range secs {
		secs[i].hdr.Off = headerSize + uint64(body.Len())
		secs[i].hdr.Size = uint64(len(secs[i].data))
		body.Write(secs[i].data)
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     sampleTextAddr,
		Shoff:     headerSize + uint64(body.Len()),
		Ehsize:    headerSize,
		Shentsize: 64,
		Shnum:     uint16(len(secs) + 1),
		Shstrndx:  uint16(len(secs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var out bytes.Buffer
	binary.Write(&out, le, hdr)
	out.Write(body.Bytes())
	binary.Write(&out, le, elf.Section64{})
	for _, s := range secs {
		binary.Write(&out, le, s.hdr)
	}
	return out.Bytes()
}

func TestFromELF(t *testing.T) {
	tests := []struct {
		name     string
		stripped bool
	}{
		{"symbol", false},
		{"stripped", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "moo")
			if err := os.WriteFile(path, buildSample(sampleText, 8, tt.stripped), 0755); err != nil {
				t.Fatal(err)
			}

			f, err := elf.Open(path)
			if err != nil {
				t.Fatalf("sample does not parse: %s", err)
			}
			_, symErr := f.Symbols()
			f.Close()
			if tt.stripped != errors.Is(symErr, elf.ErrNoSymbols) {
				t.Fatalf("stripped=%v but Symbols err = %v", tt.stripped, symErr)
			}

			got, err := FromELF(path, DefaultConfig)
			if err != nil {
				t.Fatal(err)
			}
			if got != cipher.Default {
				t.Fatalf("got %s, want %s", got, cipher.Default)
			}
		})
	}
}

func TestFromELFWithoutRoutine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moo")
	if err := os.WriteFile(path, buildSample(sampleText[:8], 0, true), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := FromELF(path, DefaultConfig); !errors.Is(err, ErrNoSignatureMatch) {
		t.Fatalf("err = %v, want ErrNoSignatureMatch", err)
	}
}
