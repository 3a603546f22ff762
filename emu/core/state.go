package core

/*
 * PSX - Dynarec state shared with generated code
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

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rcornwell/PSX/emu/psx"
)

// Options bit flags.
const (
	// BREAK instructions exit to the host instead of signalling
	// the guest exception.
	OptExitOnBreak uint32 = 1 << iota
	// Disable direct cross-block patching; every branch goes
	// through the link trampoline.
	OptNoPatch
)

// ExitCode is packed in the top 4 bits of the value a block returns;
// the low 28 bits carry the payload (syscall/break code or an
// unimplemented-translation cause).
type ExitCode uint8

const (
	ExitCounterExpired ExitCode = iota
	ExitSyscall
	ExitBreak
	ExitUnimplemented
	ExitException
)

var exitNames = [...]string{
	"COUNTER_EXPIRED", "SYSCALL", "BREAK", "UNIMPLEMENTED", "EXCEPTION",
}

func (e ExitCode) String() string {
	if int(e) < len(exitNames) {
		return exitNames[e]
	}
	return "EXIT?"
}

// PackExit builds the 32-bit value a block hands back to the host.
func PackExit(code ExitCode, payload uint32) uint32 {
	return uint32(code)<<28 | payload&0x0fffffff
}

// Payload values for ExitUnimplemented.
const (
	UnimplNestedDelay = iota + 1
	UnimplBranchRace
	UnimplOpcode
	UnimplGTE
	UnimplCop2
)

const (
	// Flat per-instruction cycle cost. A decent average; in
	// practice it varies with the instruction, the icache and
	// memory latency.
	CyclesPerInstruction = 5

	// Worst case host bytes emitted for one guest instruction.
	MaxInstructionLen = 121

	// Blocks are aligned on this boundary in the code arena.
	CacheLineSize = 64

	// A block covers at most one page worth of instructions.
	MaxBlockInstructions = psx.PageInstructions
)

// Byte offsets of the State fields read and written by generated
// code. These must track the struct layout below; TestStateOffsets
// pins them against unsafe.Offsetof.
const (
	PCOff             = 4
	RegionMaskOff     = 8
	RAMOff            = 40
	ScratchpadOff     = 48
	BIOSOff           = 56
	RegsOff           = 64
	PageValidOff      = 200
	Cop0Off           = 1480
	FnMemorySWOff     = 1544
	FnMemorySHOff     = 1552
	FnMemorySBOff     = 1560
	FnMemoryLWOff     = 1568
	FnMemoryLHOff     = 1576
	FnMemoryLBOff     = 1584
	FnMemoryLHUOff    = 1592
	FnMemoryLBUOff    = 1600
	FnSetCop0SROff    = 1608
	FnSetCop0CauseOff = 1616
	FnSetCop0MiscOff  = 1624
	FnExceptionOff    = 1632
	FnResolveOff      = 1640
)

// State is the per-machine dynarec state. The leading fields up to
// and including FnResolve are addressed at fixed offsets by the
// generated code and by the assembly trampolines, so their order and
// sizes must not change. Everything after is plain Go bookkeeping.
type State struct {
	// Cycles until the next asynchronous event. Can go negative
	// once the deadline has passed.
	NextEventCycle int32
	// Current guest PC.
	PC uint32
	// Region mask table, copied here because the generated
	// load/store sequences index it relative to the state
	// pointer.
	RegionMask [8]uint32
	// Host addresses of the guest memory buffers.
	RAM        uintptr
	Scratchpad uintptr
	BIOS       uintptr
	// All general purpose registers except R0, followed by DT,
	// HI and LO. Register r lives at Regs[r-1].
	Regs [psx.RegTotal - 1]uint32
	// One byte per recompilation page; zeroed inline by emitted
	// stores into RAM.
	PageValid [psx.TotalPages]uint8
	// Coprocessor 0 register file.
	Cop0 [16]uint32
	// Callbacks available to generated code. All follow the
	// emulator call convention: state pointer in the first
	// argument register, updated cycle counter in the first
	// return register.
	FnMemorySW     uintptr
	FnMemorySH     uintptr
	FnMemorySB     uintptr
	FnMemoryLW     uintptr
	FnMemoryLH     uintptr
	FnMemoryLB     uintptr
	FnMemoryLHU    uintptr
	FnMemoryLBU    uintptr
	FnSetCop0SR    uintptr
	FnSetCop0Cause uintptr
	FnSetCop0Misc  uintptr
	FnException    uintptr
	FnResolve      uintptr
	// Host address of the link trampoline at the start of the
	// code arena.
	LinkTrampoline uintptr
	Options        uint32
	_              uint32

	// Everything below is invisible to generated code.

	// RWX code arena and the bump cursor into it.
	Map     []byte
	FreeOff uint32

	// Keep the guest buffers alive; the uintptr fields above
	// don't.
	RAMBuf     []byte
	ScratchBuf []byte
	BIOSBuf    []byte

	// Per-page compile generation, bumped when an invalidated
	// page is noticed so that every stale block of the page
	// misses the index at once.
	PageGen [psx.TotalPages]uint32
}

var (
	ErrArenaFull  = errors.New("code arena full")
	ErrBadAddress = errors.New("address is backed by neither RAM nor BIOS")
)

// RegOffset returns the offset of the storage of register r inside
// State. R0 has no storage and must never be offset-computed.
func RegOffset(r psx.Reg) uint32 {
	if r == psx.RegR0 || r >= psx.RegTotal {
		panic("no state storage for " + r.String())
	}
	return RegsOff + (uint32(r)-1)*4
}

// Cop0Offset returns the offset of COP0 register r inside State.
func Cop0Offset(r psx.Cop0Reg) uint32 {
	return Cop0Off + uint32(r&0xf)*4
}

// maxPageSize returns the worst case host bytes needed to recompile
// one guest page. Delay slot scheduling can duplicate instructions
// and one extra pseudo-instruction links to the next page, then the
// whole thing is rounded up to a 4KiB hardware page so no dynarec
// page straddles one.
func maxPageSize() uint32 {
	s := uint32(psx.PageInstructions*2+1) * MaxInstructionLen

	s = (s + 4095) &^ 4095

	return s
}

// MapLen returns the total length of the code arena.
func MapLen() uint32 {
	return maxPageSize() * psx.TotalPages
}

// New allocates a dynarec state over the caller supplied guest
// memory. The code arena is mapped anonymous RWX; the first bytes are
// reserved for the link trampoline by the compiler.
func New(ram, scratchpad, bios []byte) (*State, error) {
	if len(ram) != psx.RAMSize || len(scratchpad) != psx.ScratchpadSize ||
		len(bios) != psx.BIOSSize {
		return nil, fmt.Errorf("bad guest memory sizes: ram %d scratchpad %d bios %d",
			len(ram), len(scratchpad), len(bios))
	}

	arena, err := unix.Mmap(-1, 0, int(MapLen()),
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap code arena: %w", err)
	}

	s := &State{
		RAM:        uintptr(unsafe.Pointer(&ram[0])),
		Scratchpad: uintptr(unsafe.Pointer(&scratchpad[0])),
		BIOS:       uintptr(unsafe.Pointer(&bios[0])),
		Map:        arena,
		RAMBuf:     ram,
		ScratchBuf: scratchpad,
		BIOSBuf:    bios,
	}
	s.RegionMask = psx.RegionMask

	return s, nil
}

// Delete unmaps the code arena. The state must not be used
// afterwards.
func (s *State) Delete() error {
	if s.Map == nil {
		return nil
	}
	err := unix.Munmap(s.Map)
	s.Map = nil
	return err
}

// SetPC sets the guest PC the next Run starts from.
func (s *State) SetPC(pc uint32) {
	s.PC = pc
}

// MapBase returns the host address of the start of the code arena.
func (s *State) MapBase() uintptr {
	return uintptr(unsafe.Pointer(&s.Map[0]))
}

// CodeAddr returns the host address of the given arena offset.
func (s *State) CodeAddr(off uint32) uintptr {
	return s.MapBase() + uintptr(off)
}

// Align rounds length up to the given power-of-two boundary.
func Align(length, align uint32) uint32 {
	return (length + align - 1) &^ (align - 1)
}
