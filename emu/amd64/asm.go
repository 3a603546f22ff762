package amd64

/*
 * PSX - AMD64 instruction encoding
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
	"github.com/rcornwell/PSX/emu/core"
)

// AMD64 register encoding.
//
// PAFC = Preserved Across Function Calls, per the x86-64 ABI.
const (
	regAX  = 0  // Temporary variable, return value 0
	regCX  = 1  // Cycle counter, func arg 3
	regDX  = 2  // Temporary variable, func arg 2, return value 1
	regBX  = 3  // [PAFC]
	regSP  = 4  // Host stack [PAFC]
	regBP  = 5  // Host BP [PAFC]
	regSI  = 6  // Temporary variable, func arg 1
	regDI  = 7  // Dynarec state pointer, func arg 0
	regR8  = 8  // PSX AT
	regR9  = 9  // PSX V0
	regR10 = 10 // PSX V1
	regR11 = 11 // PSX A0
	regR12 = 12 // PSX A1 [PAFC]
	regR13 = 13 // PSX T0 [PAFC]
	regR14 = 14 // PSX SP [PAFC]
	regR15 = 15 // PSX RA [PAFC]
)

const stateReg = regDI

// Assembler writes host machine code into the shared code arena. It
// implements the compiler's Backend interface.
type Assembler struct {
	buf []byte
	off uint32
	// Guest address of the instruction being emitted, for
	// exception sequences.
	pc uint32
}

// New creates an assembler over the state's code arena. All
// cross references inside the arena are relative, so only the byte
// slab itself is needed.
func New(state *core.State) *Assembler {
	return &Assembler{buf: state.Map}
}

// Offset returns the current emission offset into the arena.
func (a *Assembler) Offset() uint32 {
	return a.off
}

// SetOffset repositions the emission cursor.
func (a *Assembler) SetOffset(off uint32) {
	a.off = off
}

// SetPC records the guest address of the instruction being emitted.
func (a *Assembler) SetPC(pc uint32) {
	a.pc = pc
}

func (a *Assembler) b(bytes ...byte) {
	copy(a.buf[a.off:], bytes)
	a.off += uint32(len(bytes))
}

// 64-bit "REX" prefix, needed whenever the base, index or modR/M
// register index is 8 or above, omitted otherwise.
func (a *Assembler) rex(base, modrm, index int) {
	rex := byte(0)

	if modrm >= 8 {
		rex |= 1 << 2 // R
	}
	if index >= 8 {
		rex |= 1 << 1 // X
	}
	if base >= 8 {
		rex |= 1 << 0 // B
	}

	if rex != 0 {
		a.b(rex | 0x40)
	}
}

// rexW is the 64-bit operand size REX prefix.
func (a *Assembler) rexW(base, modrm, index int) {
	rex := byte(0x48)

	if modrm >= 8 {
		rex |= 1 << 2
	}
	if index >= 8 {
		rex |= 1 << 1
	}
	if base >= 8 {
		rex |= 1 << 0
	}
	a.b(rex)
}

// rexByteOp is the REX prefix for 8-bit operand instructions: SPL,
// BPL, SIL and DIL are only reachable with an (otherwise empty)
// prefix present.
func (a *Assembler) rexByteOp(base, modrm int) {
	rex := byte(0)

	if modrm >= 8 {
		rex |= 1 << 2
	}
	if base >= 8 {
		rex |= 1 << 0
	}
	if rex != 0 || modrm >= regSP || base >= regSP {
		a.b(rex | 0x40)
	}
}

// Scale Index Base addressing mode encoding.
func (a *Assembler) sib(base, index int, scale uint32) {
	var s byte

	switch scale {
	case 1:
		s = 0x00
	case 2:
		s = 0x40
	case 4:
		s = 0x80
	case 8:
		s = 0xc0
	default:
		panic("invalid scale")
	}

	a.b(s | byte(base&7) | byte(index&7)<<3)
}

func (a *Assembler) imm32(v uint32) {
	a.b(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// Many instructions have shorter encodings for 8-bit literals.
func isImms8(v uint32) bool {
	s := int32(v)

	return s <= 0x7f && s >= -0x80
}

func (a *Assembler) imms8(v uint32) {
	if !isImms8(v) {
		panic("immediate doesn't fit 8 bits")
	}
	a.b(byte(v))
}

// modRM disp(reg) addressing with the dense disp8 form when the
// offset allows it.
func (a *Assembler) modDisp(reg int, modrm byte, off uint32) {
	if isImms8(off) {
		a.b(0x40 | byte(reg&7) | modrm<<3)
		a.imms8(off)
	} else {
		a.b(0x80 | byte(reg&7) | modrm<<3)
		a.imm32(off)
	}
}

// XOR %reg32, %reg32
func (a *Assembler) clearReg(reg int) {
	a.rex(reg, reg, 0)
	a.b(0x31, 0xc0|byte(reg&7)|byte(reg&7)<<3)
}

// MOV $val, %reg32
func (a *Assembler) movU32R32(val uint32, reg int) {
	if val == 0 {
		a.clearReg(reg)
		return
	}
	a.rex(reg, 0, 0)
	a.b(0xb8 | byte(reg&7))
	a.imm32(val)
}

// MOV $val, off(%reg64)
func (a *Assembler) movU32OffPr64(val, off uint32, reg int) {
	a.rex(reg, 0, 0)
	a.b(0xc7)
	a.modDisp(reg, 0, off)
	a.imm32(val)
}

// MOV %source32, %target32
func (a *Assembler) movR32R32(source, target int) {
	a.rex(target, source, 0)
	a.b(0x89, 0xc0|byte(target&7)|byte(source&7)<<3)
}

// MOP off(%base64), %target32. Used for MOV (0x8b) and the ALU
// read-modify ops that share the same addressing forms.
func (a *Assembler) mopOffPr64R32(op byte, off uint32, base, target int) {
	a.rex(base, target, 0)
	a.b(op)
	a.modDisp(base, byte(target&7), off)
}

// MOV off(%base64), %target32
func (a *Assembler) movOffPr64R32(off uint32, base, target int) {
	a.mopOffPr64R32(0x8b, off, base, target)
}

// MOV %source32, off(%base64)
func (a *Assembler) movR32OffPr64(source int, off uint32, base int) {
	a.mopOffPr64R32(0x89, off, base, source)
}

// LEA off(%base32), %target32. The address size prefix keeps the
// computation in 32 bits so guest pointer arithmetic wraps the way
// the guest expects.
func (a *Assembler) leaOffPr32R32(off uint32, base, target int) {
	a.b(0x67)
	a.mopOffPr64R32(0x8d, off, base, target)
}

// MOV $val, off(%base64, %index64, $scale)
func (a *Assembler) movU32OffSib(val, off uint32, base, index int, scale uint32) {
	a.rex(base, 0, index)
	a.b(0xc7, 0x84)
	a.sib(base, index, scale)
	a.imm32(off)
	a.imm32(val)
}

// MOV $val8, off(%base64, %index64, $scale)
func (a *Assembler) movU8OffSib(val byte, off uint32, base, index int, scale uint32) {
	a.rex(base, 0, index)
	a.b(0xc6, 0x84)
	a.sib(base, index, scale)
	a.imm32(off)
	a.b(val)
}

// MOV %val32, (%target64)
func (a *Assembler) movR32Pr64(val, target int) {
	a.rex(target, val, 0)
	a.b(0x89, byte(target&7)|byte(val&7)<<3)
}

// MOV %val16, (%target64)
func (a *Assembler) movR16Pr64(val, target int) {
	a.b(0x66)
	a.movR32Pr64(val, target)
}

// MOV %val8, (%target64)
func (a *Assembler) movR8Pr64(val, target int) {
	a.rexByteOp(target, val)
	a.b(0x88, byte(target&7)|byte(val&7)<<3)
}

// MOV (%base64), %target32
func (a *Assembler) movPr64R32(base, target int) {
	a.rex(base, target, 0)
	a.b(0x8b, byte(base&7)|byte(target&7)<<3)
}

// MOVZX/MOVSX (%base64), %target32 for 8 and 16-bit loads; op2 is
// the second opcode byte (0xb6/0xb7 zero extend, 0xbe/0xbf sign
// extend).
func (a *Assembler) movExtPr64R32(op2 byte, base, target int) {
	a.rex(base, target, 0)
	a.b(0x0f, op2, byte(base&7)|byte(target&7)<<3)
}

// PUSH %reg64
func (a *Assembler) pushR64(reg int) {
	a.rex(reg, 0, 0)
	a.b(0x50 | byte(reg&7))
}

// POP %reg64
func (a *Assembler) popR64(reg int) {
	a.rex(reg, 0, 0)
	a.b(0x58 | byte(reg&7))
}

// ALU sub-opcodes for the $imm, %reg32 group.
const (
	aluAdd = 0xc0
	aluOr  = 0xc8
	aluAnd = 0xe0
	aluSub = 0xe8
	aluXor = 0xf0
	aluCmp = 0xf8
)

// ALU $val, %reg32
func (a *Assembler) aluU32R32(op byte, val uint32, reg int) {
	a.rex(reg, 0, 0)

	if isImms8(val) {
		a.b(0x83, op|byte(reg&7))
		a.imms8(val)
	} else {
		if reg == regAX {
			// Operations targeting %eax have a shorter
			// encoding.
			a.b(op - 0xbb)
		} else {
			a.b(0x81, op|byte(reg&7))
		}
		a.imm32(val)
	}
}

// RM-form ALU opcodes: off(%base64) source, register destination.
const (
	aluRmAdd = 0x03
	aluRmOr  = 0x0b
	aluRmAnd = 0x23
	aluRmSub = 0x2b
	aluRmXor = 0x33
	aluRmCmp = 0x3b
)

// ALU off(%base64), %target32
func (a *Assembler) aluOffPr64R32(op byte, off uint32, base, target int) {
	a.mopOffPr64R32(op, off, base, target)
}

// ALU off(%base64), %target64. Used to add the 64-bit host buffer
// bases to a masked guest address.
func (a *Assembler) aluOffPr64R64(op byte, off uint32, base, target int) {
	a.rexW(base, target, 0)
	a.b(op)
	a.modDisp(base, byte(target&7), off)
}

// ALU off(%b64, %i64, $s), %target32
func (a *Assembler) aluOffSibR32(op byte, off uint32, base, index int,
	scale uint32, target int) {
	a.rex(base, target, index)
	a.b(op)

	if isImms8(off) {
		a.b(0x44 | byte(target&7)<<3)
		a.sib(base, index, scale)
		a.imms8(off)
	} else {
		a.b(0x84 | byte(target&7)<<3)
		a.sib(base, index, scale)
		a.imm32(off)
	}
}

// MR-form ALU: register source into register destination.
const (
	aluMrAdd = 0x01
	aluMrOr  = 0x09
	aluMrAnd = 0x21
	aluMrSub = 0x29
	aluMrXor = 0x31
	aluMrCmp = 0x39
)

// ALU %source32, %target32
func (a *Assembler) aluR32R32(op byte, source, target int) {
	a.rex(target, source, 0)
	a.b(op, 0xc0|byte(target&7)|byte(source&7)<<3)
}

// Shift sub-opcodes.
const (
	shiftShl = 0xe0
	shiftShr = 0xe8
	shiftSar = 0xf8
)

// SHIFT $shift, %reg32
func (a *Assembler) shiftU32R32(op byte, shift uint32, reg int) {
	if shift >= 32 {
		panic("shift amount out of range")
	}
	a.rex(reg, 0, 0)
	a.b(0xc1, op|byte(reg&7), byte(shift&0x1f))
}

// SHIFT %cl, %reg32
func (a *Assembler) shiftClR32(op byte, reg int) {
	a.rex(reg, 0, 0)
	a.b(0xd3, op|byte(reg&7))
}

// Group 3 (0xf7) sub-opcodes.
const (
	f3Not  = 0xd0
	f3Neg  = 0xd8
	f3Mul  = 0xe0
	f3Imul = 0xe8
	f3Div  = 0xf0
	f3Idiv = 0xf8
)

// Group 3 unary/widening op on %reg32.
func (a *Assembler) f7R32(op byte, reg int) {
	a.rex(reg, 0, 0)
	a.b(0xf7, 0xc0|op&0x38|byte(reg&7))
}

// CDQ: sign extend %eax into %edx:%eax.
func (a *Assembler) cdq() {
	a.b(0x99)
}

// SETcc %reg8. op2 is the second opcode byte (0x92 SETB, 0x9c SETL).
func (a *Assembler) setccR8(op2 byte, reg int) {
	a.rexByteOp(reg, 0)
	a.b(0x0f, op2, 0xc0|byte(reg&7))
}

// IMUL $a, %b32, %target32
func (a *Assembler) imulU32R32R32(val uint32, b, target int) {
	a.rex(b, target, 0)

	if isImms8(val) {
		a.b(0x6b, 0xc0|byte(b&7)|byte(target&7)<<3)
		a.imms8(val)
	} else {
		a.b(0x69, 0xc0|byte(b&7)|byte(target&7)<<3)
		a.imm32(val)
	}
}

// INT 3
func (a *Assembler) trap() {
	a.b(0xcc)
}

// RET
func (a *Assembler) ret() {
	a.b(0xc3)
}

// CALL *off(%reg64)
func (a *Assembler) callOffPr64(off uint32, reg int) {
	a.rex(reg, 0, 0)
	a.b(0xff)

	if isImms8(off) {
		a.b(0x50 | byte(reg&7))
		a.imms8(off)
	} else {
		a.b(0x90 | byte(reg&7))
		a.imm32(off)
	}
}

// JMP *%reg64
func (a *Assembler) jmpR64(reg int) {
	a.rex(reg, 0, 0)
	a.b(0xff, 0xe0|byte(reg&7))
}

// JMP rel32 to another offset in the arena.
func (a *Assembler) jmpOff(destOff uint32) {
	rel := int32(destOff) - int32(a.off+5)

	a.b(0xe9)
	a.imm32(uint32(rel))
}

// Condition opcodes for the short conditional jumps.
const (
	ccOverflow   = 0x70
	ccNoOverflow = 0x71
	ccBelow      = 0x72
	ccAboveEq    = 0x73
	ccEqual      = 0x74
	ccNotEqual   = 0x75
	ccSign       = 0x78
	ccNoSign     = 0x79
	ccLess       = 0x7c
	ccGreaterEq  = 0x7d
	ccLessEq     = 0x7e
	ccGreater    = 0x7f
)

// jump8 is a pending 8-bit displacement: the byte at pos is filled
// in when the matching elseJump/bind runs. The displacement must fit
// the byte, which bounds the body at 127 bytes.
type jump8 struct {
	pos uint32
}

// jcc8 opens a conditional scope: the condition is the one that
// SKIPS the body, so ifNotEqual passes ccEqual, and so on.
func (a *Assembler) jcc8(skipCond byte) jump8 {
	a.b(skipCond, 0)
	return jump8{pos: a.off - 1}
}

// Body runs when the flags say "not equal".
func (a *Assembler) ifNotEqual() jump8 { return a.jcc8(ccEqual) }

// Body runs when the flags say "unsigned below".
func (a *Assembler) ifBelow() jump8 { return a.jcc8(ccAboveEq) }

// Body runs on signed overflow.
func (a *Assembler) ifOverflow() jump8 { return a.jcc8(ccNoOverflow) }

// Body runs when the sign flag is set.
func (a *Assembler) ifSign() jump8 { return a.jcc8(ccNoSign) }

// Body runs when the counter check says "expired" (not greater).
func (a *Assembler) ifNotGreater() jump8 { return a.jcc8(ccGreater) }

// elseJump closes the "then" body and opens the "else" one.
func (a *Assembler) elseJump(j jump8) jump8 {
	// Skip over the 2-byte JMP that ends the "then" body.
	a.bindDisp(j, a.off-j.pos+1)

	a.b(0xeb, 0)
	return jump8{pos: a.off - 1}
}

// bind closes a scope opened by one of the if helpers.
func (a *Assembler) bind(j jump8) {
	a.bindDisp(j, a.off-j.pos-1)
}

func (a *Assembler) bindDisp(j jump8, disp uint32) {
	if disp >= 128 {
		panic("conditional body too large for a short jump")
	}
	a.buf[j.pos] = byte(disp)
}
