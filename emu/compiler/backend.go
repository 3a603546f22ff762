package compiler

/*
 * PSX - Architecture back-end interface
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
	"github.com/rcornwell/PSX/emu/psx"
)

// JumpCond selects the condition of an emitted branch. Conditions
// compare the first operand register against the second with signed
// semantics.
type JumpCond uint8

const (
	CondAlways JumpCond = iota
	CondNE
	CondEQ
	CondGE
	CondLT
	CondGT
	CondLE
)

// Backend is the set of operations an architecture back-end provides
// to the block compiler. The compiler is a pure consumer of this
// interface; alternate back-ends can be added without touching the
// decoder or the scan logic.
//
// Register arguments are guest registers; the back-end decides per
// operand whether they live in a host register or in the state's
// register array. Every method must special-case reads and writes of
// R0: its storage must never be touched.
type Backend interface {
	// Offset returns the current emission offset into the code
	// arena; SetOffset repositions it.
	Offset() uint32
	SetOffset(off uint32)

	// EmitLinkTrampoline emits the shared lazy-resolution routine
	// at the current offset.
	EmitLinkTrampoline()
	// PatchLink rewrites the patch site at siteOff into a direct
	// jump to the code at destOff.
	PatchLink(siteOff, destOff uint32)

	// SetPC tells the back-end the guest address of the
	// instruction being emitted; exception sequences save it as
	// the faulting PC.
	SetPC(pc uint32)

	// BlockPrologue emits the counter check at the top of a
	// block: when the cycle counter has expired the block stores
	// base to the guest PC and exits to the host.
	BlockPrologue(base uint32)
	// CounterMaintenance decrements the cycle counter by the
	// cycles spent since the last flush.
	CounterMaintenance(cycles uint32)

	Li(target psx.Reg, v uint32)
	Mov(target, source psx.Reg)

	Sll(target, source psx.Reg, shift uint8)
	Srl(target, source psx.Reg, shift uint8)
	Sra(target, source psx.Reg, shift uint8)
	Sllv(target, source, shift psx.Reg)
	Srlv(target, source, shift psx.Reg)
	Srav(target, source, shift psx.Reg)

	Mult(op0, op1 psx.Reg)
	Multu(op0, op1 psx.Reg)
	Div(num, denom psx.Reg)
	Divu(num, denom psx.Reg)

	// Addi traps on signed overflow, so it must be emitted even
	// when the target is R0.
	Addi(target, source psx.Reg, v uint32)
	Addiu(target, source psx.Reg, v uint32)
	Add(target, op0, op1 psx.Reg)
	Addu(target, op0, op1 psx.Reg)
	Sub(target, op0, op1 psx.Reg)
	Subu(target, op0, op1 psx.Reg)
	Neg(target, source psx.Reg)

	And(target, op0, op1 psx.Reg)
	Or(target, op0, op1 psx.Reg)
	Xor(target, op0, op1 psx.Reg)
	Nor(target, op0, op1 psx.Reg)
	Not(target, source psx.Reg)
	Andi(target, source psx.Reg, v uint32)
	Ori(target, source psx.Reg, v uint32)
	Xori(target, source psx.Reg, v uint32)

	Slt(target, op0, op1 psx.Reg)
	Sltu(target, op0, op1 psx.Reg)
	Slti(target, source psx.Reg, v int32)
	Sltiu(target, source psx.Reg, v uint32)

	Lb(target psx.Reg, offset int16, addr psx.Reg)
	Lbu(target psx.Reg, offset int16, addr psx.Reg)
	Lh(target psx.Reg, offset int16, addr psx.Reg)
	Lhu(target psx.Reg, offset int16, addr psx.Reg)
	Lw(target psx.Reg, offset int16, addr psx.Reg)
	// LwNoAlign is the folded LWL+LWR pair: a single, possibly
	// unaligned, 32-bit load.
	LwNoAlign(target psx.Reg, offset int16, addr psx.Reg)

	Sb(addr psx.Reg, offset int16, val psx.Reg)
	Sh(addr psx.Reg, offset int16, val psx.Reg)
	Sw(addr psx.Reg, offset int16, val psx.Reg)
	// SwNoAlign is the folded SWL+SWR pair.
	SwNoAlign(addr psx.Reg, offset int16, val psx.Reg)

	Mfc0(target psx.Reg, creg psx.Cop0Reg)
	Mtc0(source psx.Reg, creg psx.Cop0Reg)
	Rfe()

	// JumpImm jumps to the guest address target. When the
	// destination block is already compiled destOff is its code
	// offset and needsPatch is false. Otherwise the back-end
	// emits a patchable site that enters the link trampoline with
	// the target and the site's own offset as arguments.
	JumpImm(target uint32, destOff uint32, needsPatch bool)
	JumpImmCond(target uint32, destOff uint32, needsPatch bool,
		regA, regB psx.Reg, cond JumpCond)
	// JumpReg jumps to the guest address held in target, always
	// through the link trampoline; a dynamic target can never be
	// patched direct.
	JumpReg(target psx.Reg)

	// Exception signals a guest exception: the guest PC is saved,
	// the exception callback runs and the block exits with
	// ExitException.
	Exception(cause psx.Exception)
	// Exit stores the current PC to the guest PC and returns to
	// the host with the packed code and payload.
	Exit(code core.ExitCode, payload uint32)
}
