// Package keyextract recovers the cipher constants from a moo sample by
// disassembling its encrypt routine.
package keyextract

import (
	"debug/elf"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/knightsc/gapstone"
	log "github.com/sirupsen/logrus"

	"github.com/proferosec/moo-tools/internal/cipher"
)

// EncryptSymbol is the routine that applies the cipher in the sample.
const EncryptSymbol = "moo_operation_encrypt"

var ErrPatternNotFound = errors.New("cipher arithmetic not found in encrypt routine")

type Config struct {
	MaxInstructionsToDisassemble uint64
}

var DefaultConfig = Config{MaxInstructionsToDisassemble: 10000}

// insn is the part of a disassembled instruction the extractor looks at.
type insn struct {
	Address  uint64
	Mnemonic string
	OpStr    string
}

func printSections(elfFile *elf.File) {
	for _, sec := range elfFile.Sections {
		log.Debugf("0x%x\t%s\n", sec.Addr, sec.Name)
	}
}

// FromELF opens an x86-64 ELF sample and returns the key and padder its
// encrypt routine uses. The routine is found by symbol, or by a byte
// signature when the binary is stripped.
func FromELF(samplePath string, conf Config) (cipher.Params, error) {
	elfFile, err := elf.Open(samplePath)
	if err != nil {
		return cipher.Params{}, err
	}
	defer elfFile.Close()

	if elfFile.Machine != elf.EM_X86_64 {
		return cipher.Params{}, fmt.Errorf("%s is an unsupported architecture", elfFile.Machine)
	}

	printSections(elfFile)

	text := elfFile.Section(".text")
	if text == nil {
		return cipher.Params{}, errors.New("failed to find .text section")
	}
	textData, err := text.Data()
	if err != nil {
		return cipher.Params{}, err
	}

	offset, err := locateEncrypt(elfFile, text, textData)
	if err != nil {
		return cipher.Params{}, err
	}
	log.Debugf("Disassembling from .text+0x%x\n", offset)

	engine, err := gapstone.New(
		gapstone.CS_ARCH_X86,
		gapstone.CS_MODE_64,
	)
	if err != nil {
		return cipher.Params{}, fmt.Errorf("failed to open gapstone: %w", err)
	}
	defer engine.Close()

	instructions, err := engine.Disasm(
		textData[offset:],
		text.Addr+offset,
		conf.MaxInstructionsToDisassemble,
	)
	if err != nil {
		return cipher.Params{}, fmt.Errorf("disassembly error: %w", err)
	}

	insns := make([]insn, 0, len(instructions))
	for _, ins := range instructions {
		insns = append(insns, insn{Address: uint64(ins.Address), Mnemonic: ins.Mnemonic, OpStr: ins.OpStr})
	}

	params, err := deriveParams(insns)
	if err != nil {
		return cipher.Params{}, err
	}
	if err := params.Check(); err != nil {
		return cipher.Params{}, err
	}

	log.Infof("Extracted %s from %s", params, samplePath)
	return params, nil
}

// locateEncrypt returns the .text offset to start disassembling from.
func locateEncrypt(elfFile *elf.File, text *elf.Section, textData []byte) (uint64, error) {
	symbols, err := elfFile.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return 0, err
	}
	for _, sym := range symbols {
		if sym.Name != EncryptSymbol {
			continue
		}
		if sym.Value < text.Addr || sym.Value >= text.Addr+text.Size {
			return 0, fmt.Errorf("%s at 0x%x is outside .text", EncryptSymbol, sym.Value)
		}
		log.Debugf("Found %s at 0x%x\n", EncryptSymbol, sym.Value)
		return sym.Value - text.Addr, nil
	}

	log.Debugln("No encrypt symbol, falling back to byte signatures")
	offset, sig, err := FindAny(textData, EncryptLoopSignatures)
	if err != nil {
		return 0, fmt.Errorf("failed to find %s in the binary: %w", EncryptSymbol, err)
	}
	log.Debugf("Matched %q at .text+0x%x\n", sig.Name, offset)
	return offset, nil
}

// lookahead is how far past the add the xor may appear.
const lookahead = 4

// deriveParams finds an add/sub of an immediate into a register followed
// closely by an xor with an immediate (or a not) and reads the constants from
// them. Disassembly stops at the first ret.
func deriveParams(insns []insn) (cipher.Params, error) {
	for i, ins := range insns {
		if ins.Mnemonic == "ret" {
			break
		}
		padder, ok := padderFrom(ins)
		if !ok {
			continue
		}
		for j := i + 1; j < len(insns) && j <= i+lookahead; j++ {
			if insns[j].Mnemonic == "ret" {
				break
			}
			if key, ok := keyFrom(insns[j]); ok {
				log.Debugf("0x%x: %s %s / 0x%x: %s %s\n",
					ins.Address, ins.Mnemonic, ins.OpStr,
					insns[j].Address, insns[j].Mnemonic, insns[j].OpStr)
				return cipher.Params{Key: key, Padder: padder}, nil
			}
		}
	}
	return cipher.Params{}, ErrPatternNotFound
}

func padderFrom(ins insn) (byte, bool) {
	if ins.Mnemonic != "add" && ins.Mnemonic != "sub" {
		return 0, false
	}
	dst, imm, ok := parseImmediate(ins.OpStr)
	if !ok || isStackRegister(dst) {
		return 0, false
	}
	if ins.Mnemonic == "sub" {
		imm = -imm
	}
	return byte(imm & 0xff), true
}

func keyFrom(ins insn) (byte, bool) {
	switch ins.Mnemonic {
	case "not":
		if strings.Contains(ins.OpStr, "[") {
			return 0, false
		}
		return 0xff, true
	case "xor":
		dst, imm, ok := parseImmediate(ins.OpStr)
		if !ok || isStackRegister(dst) {
			return 0, false
		}
		return byte(imm & 0xff), true
	}
	return 0, false
}

// parseImmediate splits "eax, 0xff" into its register destination and
// immediate source. Memory destinations and register sources are rejected.
func parseImmediate(opStr string) (string, int64, bool) {
	parts := strings.Split(opStr, ",")
	if len(parts) != 2 {
		return "", 0, false
	}
	dst := strings.TrimSpace(parts[0])
	src := strings.TrimSpace(parts[1])
	if dst == "" || strings.Contains(dst, "[") {
		return "", 0, false
	}
	imm, err := strconv.ParseInt(src, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(src, 0, 64)
		if uerr != nil {
			return "", 0, false
		}
		imm = int64(u)
	}
	return dst, imm, true
}

func isStackRegister(reg string) bool {
	switch reg {
	case "rsp", "esp", "sp", "spl", "rbp", "ebp", "bp", "bpl":
		return true
	}
	return false
}
