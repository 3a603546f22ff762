package jitdebug

/*
 * PSX - GDB JIT interface registration
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// The GDB JIT interface: the process keeps a linked list of in-memory
// ELF images describing generated code, and pokes a well-known
// function every time the list changes so an attached debugger can
// refresh its symbol table. Each compiled block gets a one-symbol
// image named block_0x<base>.
//
// The descriptor symbols a debugger actually looks for
// (__jit_debug_descriptor / __jit_debug_register_code) follow C
// naming; matching them from pure Go needs a linkname shim, so this
// sink is primarily useful with the companion gdb script that walks
// jitDescriptor directly. The registration protocol and the image
// layout are the standard ones either way.

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"
)

const (
	jitNoAction = iota
	jitRegisterFn
	jitUnregisterFn
)

// jitCodeEntry mirrors struct jit_code_entry from GDB's manual.
type jitCodeEntry struct {
	nextEntry   *jitCodeEntry
	prevEntry   *jitCodeEntry
	symfileAddr *byte
	symfileSize uint64

	// Keeps the image bytes reachable for the GC.
	image []byte
}

// jitDescriptor mirrors struct jit_descriptor. The version must be
// set statically because the debugger may check it before any
// registration happens.
type jitDescriptor struct {
	version       uint32
	actionFlag    uint32
	relevantEntry *jitCodeEntry
	firstEntry    *jitCodeEntry
}

var (
	descriptorMu sync.Mutex
	descriptor   = jitDescriptor{version: 1}
)

// registerCode is where a debugger puts its breakpoint.
//
//go:noinline
func registerCode() {
}

// Sink implements the compiler's DebugSink: every compiled block is
// registered as a one-function ELF image.
type Sink struct{}

// New returns a debug sink registering blocks with the process-wide
// JIT descriptor.
func New() *Sink {
	return &Sink{}
}

// AddBlock registers the translated code at start with the debugger.
func (s *Sink) AddBlock(start uintptr, length uint32, base uint32) {
	image := buildImage(start, length, base)

	e := &jitCodeEntry{
		symfileAddr: &image[0],
		symfileSize: uint64(len(image)),
		image:       image,
	}

	descriptorMu.Lock()
	defer descriptorMu.Unlock()

	e.prevEntry = descriptor.relevantEntry
	descriptor.relevantEntry = e
	if e.prevEntry != nil {
		e.prevEntry.nextEntry = e
	} else {
		descriptor.firstEntry = e
	}

	descriptor.actionFlag = jitRegisterFn
	registerCode()
}

// DeregisterAll drops every registered image, telling the debugger
// first.
func DeregisterAll() {
	descriptorMu.Lock()
	defer descriptorMu.Unlock()

	d := descriptor.firstEntry
	if d == nil {
		// Nothing to deregister.
		return
	}

	descriptor.relevantEntry = d
	descriptor.actionFlag = jitUnregisterFn
	registerCode()

	descriptor.firstEntry = nil
	descriptor.relevantEntry = nil
}

// Section layout of the generated image. The section header table
// sits right after the ELF header; string and symbol tables follow.
const (
	secNull = iota
	secText
	secSymtab
	secShstrtab
	secStrtab
	secCount
)

// buildImage serializes a minimal ELF with a single function symbol
// covering the block. The .text section carries no bytes of its own,
// it points at the live code in the arena via sh_addr.
func buildImage(start uintptr, length uint32, base uint32) []byte {
	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	shstrName := func(name string) uint32 {
		n := uint32(shstrtab.Len())
		shstrtab.WriteString(name)
		shstrtab.WriteByte(0)
		return n
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	symName := fmt.Sprintf("block_0x%08x", base)
	strtab.WriteString(symName)
	strtab.WriteByte(0)

	textName := shstrName(".text")
	symtabName := shstrName(".symtab")
	shstrtabName := shstrName(".shstrtab")
	strtabName := shstrName(".strtab")

	ehsize := uint64(unsafe.Sizeof(elf.Header64{}))
	shentsize := uint64(unsafe.Sizeof(elf.Section64{}))
	symsize := uint64(unsafe.Sizeof(elf.Sym64{}))

	symtabOff := ehsize + shentsize*secCount
	shstrtabOff := symtabOff + 2*symsize
	strtabOff := shstrtabOff + uint64(shstrtab.Len())

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     ehsize,
		Ehsize:    uint16(ehsize),
		Shentsize: uint16(shentsize),
		Shnum:     secCount,
		Shstrndx:  secShstrtab,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_LINUX)

	sections := [secCount]elf.Section64{
		secText: {
			Name:      textName,
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_EXECINSTR | elf.SHF_ALLOC),
			Addr:      uint64(start),
			Size:      uint64(length),
			Addralign: 16,
		},
		secSymtab: {
			Name:      symtabName,
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       symtabOff,
			Size:      2 * symsize,
			Entsize:   symsize,
			Addralign: 1,
			// One past the index of the last local symbol.
			Info: 1,
			Link: secStrtab,
		},
		secShstrtab: {
			Name:      shstrtabName,
			Type:      uint32(elf.SHT_STRTAB),
			Off:       shstrtabOff,
			Size:      uint64(shstrtab.Len()),
			Addralign: 1,
		},
		secStrtab: {
			Name:      strtabName,
			Type:      uint32(elf.SHT_STRTAB),
			Off:       strtabOff,
			Size:      uint64(strtab.Len()),
			Addralign: 1,
		},
	}

	syms := [2]elf.Sym64{
		// Entry 0 stays zero (STN_UNDEF).
		1: {
			Name:  1,
			Value: uint64(start),
			Size:  uint64(length),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: secText,
		},
	}

	var out bytes.Buffer
	le := binary.LittleEndian
	binary.Write(&out, le, &hdr)
	binary.Write(&out, le, sections[:])
	binary.Write(&out, le, syms[:])
	out.Write(shstrtab.Bytes())
	out.Write(strtab.Bytes())

	return out.Bytes()
}
