package psx

/*
 * PSX - Guest CPU definitions
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

// Memory map of the emulated machine.
const (
	RAMSize        = 0x200000 // PSX RAM size in bytes: 2MB
	BIOSSize       = 0x80000  // BIOS ROM size in bytes: 512kB
	BIOSBase       = 0x1fc00000
	ScratchpadSize = 1024
	ScratchpadBase = 0x1f800000

	// Recompilation page: invalidation granularity.
	PageSizeShift    = 11
	PageSize         = 1 << PageSizeShift
	PageInstructions = PageSize / 4

	RAMPages   = RAMSize / PageSize
	BIOSPages  = BIOSSize / PageSize
	TotalPages = RAMPages + BIOSPages
)

// General purpose register. R0 is hardwired to zero. DT is not a real
// hardware register, it's used when the recompiler needs to reorder
// code around a delay slot. HI and LO are the MULT/DIV result
// registers.
type Reg uint8

const (
	RegR0 Reg = iota
	RegAT
	RegV0
	RegV1
	RegA0
	RegA1
	RegA2
	RegA3
	RegT0
	RegT1
	RegT2
	RegT3
	RegT4
	RegT5
	RegT6
	RegT7
	RegS0
	RegS1
	RegS2
	RegS3
	RegS4
	RegS5
	RegS6
	RegS7
	RegT8
	RegT9
	RegK0
	RegK1
	RegGP
	RegSP
	RegFP
	RegRA
	RegDT
	RegHI
	RegLO

	// Must be last
	RegTotal
)

var regNames = [RegTotal]string{
	"r0", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
	"dt", "hi", "lo",
}

func (r Reg) String() string {
	if r < RegTotal {
		return regNames[r]
	}
	return "r?"
}

// Coprocessor 0 registers (accessed with MTC0/MFC0).
type Cop0Reg uint8

const (
	Cop0BPC      Cop0Reg = 3  // Breakpoint on execute (RW)
	Cop0BDA      Cop0Reg = 5  // Breakpoint on data access (RW)
	Cop0JumpDest Cop0Reg = 6  // Jump address (RO)
	Cop0DCIC     Cop0Reg = 7  // Breakpoint control (RW)
	Cop0BadVAddr Cop0Reg = 8  // Bad virtual address (RO)
	Cop0BDAM     Cop0Reg = 9  // Data access breakpoint mask (RW)
	Cop0BPCM     Cop0Reg = 11 // Execute breakpoint mask (RW)
	Cop0SR       Cop0Reg = 12 // System status (RW)
	Cop0Cause    Cop0Reg = 13 // Exception cause (RW)
	Cop0EPC      Cop0Reg = 14 // Exception PC (R)
	Cop0PRID     Cop0Reg = 15 // CPU ID (R)
)

// CPU exception causes, as stored in the COP0 CAUSE register.
type Exception uint8

const (
	ExcInterrupt          Exception = 0x0 // Interrupt request
	ExcLoadAlign          Exception = 0x4 // Alignment error on load
	ExcStoreAlign         Exception = 0x5 // Alignment error on store
	ExcSyscall            Exception = 0x8 // SYSCALL opcode
	ExcBreak              Exception = 0x9 // BREAK opcode
	ExcIllegalInstruction Exception = 0xa // Unknown instruction
	ExcCoprocessorError   Exception = 0xb // Unusable coprocessor
	ExcOverflow           Exception = 0xc // Arithmetic overflow
)

// Exception vector used after the handler has updated SR/CAUSE/EPC.
const (
	ExcVector    = 0x80000080
	ExcVectorBEV = 0xbfc00180
)

// RegionMask is indexed by the top 3 bits of a guest address and
// masks off the region-select bits, producing a canonical address.
var RegionMask = [8]uint32{
	0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff, // KUSEG: 2048MB
	0x7fffffff, // KSEG0:  512MB
	0x1fffffff, // KSEG1:  512MB
	0xffffffff, 0xffffffff, // KSEG2: 1024MB
}

// MaskRegion removes the region bits from addr and returns the
// canonical address.
func MaskRegion(addr uint32) uint32 {
	return addr & RegionMask[addr>>29]
}

// PageIndex returns the index of the recompilation page containing
// addr, or -1 if the address is backed by neither RAM nor BIOS.
func PageIndex(addr uint32) int32 {
	addr = MaskRegion(addr)

	// RAM is mirrored 4 times
	if addr < RAMSize*4 {
		addr %= RAMSize
		return int32(addr / PageSize)
	}

	if addr >= BIOSBase && addr < BIOSBase+BIOSSize {
		addr -= BIOSBase
		// BIOS pages follow the RAM's
		return int32(addr/PageSize) + RAMPages
	}

	return -1
}
