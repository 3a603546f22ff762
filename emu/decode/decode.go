package decode

/*
 * PSX - Instruction decoder
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
	"github.com/rcornwell/PSX/emu/psx"
)

// Broad classification of an instruction, used by the block compiler
// to schedule delay slots.
type Type uint8

const (
	// Instruction with no effect.
	Nop Type = iota
	// Anything that doesn't fit any of the other types.
	Simple
	// Unconditional branch: control is certain to leave the block.
	BranchAlways
	// Conditional branch: may or may not be taken at runtime.
	BranchCond
	// Exception: no delay slot but execution leaves the block.
	Exception
	// Load instruction, followed by a load delay slot.
	Load
	// Load that combines with an adjacent one (LWL/LWR).
	LoadCombine
	// Unaligned store (SWL/SWR).
	StoreNoAlign
)

var typeNames = [...]string{
	"NOP", "SIMPLE", "BRANCH_ALWAYS", "BRANCH_COND",
	"EXCEPTION", "LOAD", "LOAD_COMBINE", "STORE_NOALIGN",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "TYPE?"
}

// OpDesc describes one decoded instruction. At most any instruction
// references one target and two operand registers (DIV/MULT write
// both HI and LO but those can't be addressed directly, so a single
// target is enough for hazard tracking). Unreferenced register slots
// are left at R0.
type OpDesc struct {
	Instruction uint32
	Type        Type
	Target      psx.Reg
	Op0         psx.Reg
	Op1         psx.Reg
	Imm         uint32
}

// SImm returns the signed view of the immediate.
func (op *OpDesc) SImm() int32 {
	return int32(op.Imm)
}

// Decode fills an OpDesc from a raw instruction word.
func Decode(ins uint32) OpDesc {
	op := OpDesc{
		Instruction: ins,
		Type:        Simple,
		Target:      psx.RegR0,
		Op0:         psx.RegR0,
		Op1:         psx.RegR0,
	}

	regD := psx.InsRegD(ins)
	regT := psx.InsRegT(ins)
	regS := psx.InsRegS(ins)

	switch ins >> 26 {
	case psx.OpFn:
		decodeFn(&op, ins, regD, regT, regS)
	case psx.OpBxx:
		// BLTZ/BGEZ/BLTZAL/BGEZAL share this opcode. Bit 16
		// selects GE against LT, bits 17-20 == 0b1000 the
		// linking variants which write RA whether or not the
		// branch is taken.
		if (ins>>17)&0xf == 8 {
			op.Target = psx.RegRA
		}
		op.Op0 = regS
		op.Imm = psx.InsImmSe(ins)
		op.Type = BranchCond
	case psx.OpJ:
		op.Imm = psx.InsTarget(ins)
		op.Type = BranchAlways
	case psx.OpJal:
		op.Imm = psx.InsTarget(ins)
		op.Target = psx.RegRA
		op.Type = BranchAlways
	case psx.OpBeq:
		op.Op0 = regS
		op.Op1 = regT
		op.Imm = psx.InsImmSe(ins)
		op.Type = BranchCond
		if op.Op0 == op.Op1 {
			// BEQ a,a is always taken
			op.Type = BranchAlways
		}
	case psx.OpBne:
		op.Op0 = regS
		op.Op1 = regT
		op.Imm = psx.InsImmSe(ins)
		op.Type = BranchCond
		if op.Op0 == op.Op1 {
			// BNE a,a is never taken
			op.Type = Nop
		}
	case psx.OpBlez, psx.OpBgtz:
		op.Op0 = regS
		op.Imm = psx.InsImmSe(ins)
		op.Type = BranchCond
	case psx.OpAddi:
		// Not a NOP even when the target is R0: the add may
		// still overflow and raise an exception.
		op.Target = regT
		op.Op0 = regS
		op.Imm = psx.InsImmSe(ins)
	case psx.OpAddiu, psx.OpSlti, psx.OpSltiu:
		op.Target = regT
		op.Op0 = regS
		op.Imm = psx.InsImmSe(ins)
		if op.Target == psx.RegR0 {
			op.Type = Nop
		}
	case psx.OpAndi, psx.OpOri, psx.OpXori:
		op.Target = regT
		op.Op0 = regS
		op.Imm = psx.InsImm(ins)
		if op.Target == psx.RegR0 {
			op.Type = Nop
		}
	case psx.OpLui:
		op.Target = regT
		op.Imm = psx.InsImm(ins) << 16
		if op.Target == psx.RegR0 {
			op.Type = Nop
		}
	case psx.OpCop0:
		switch psx.InsCopOp(ins) {
		case psx.CopMfc:
			op.Target = regT
			op.Op0 = regD
			op.Type = Load
		case psx.CopMtc:
			op.Target = regD
			op.Op0 = regT
		case psx.CopRfe:
		default:
			// Unknown COP0 operation, treated like a
			// reserved encoding at emission time.
		}
	case psx.OpCop2:
		switch psx.InsCopOp(ins) {
		case psx.CopMfc, psx.CopCfc:
			op.Target = regT
			op.Op0 = regD
			op.Type = Load
		case psx.CopMtc, psx.CopCtc:
			op.Target = regD
			op.Op0 = regT
		default:
			if psx.InsCopOp(ins)&0x10 != 0 {
				// GTE command
				op.Imm = ins & 0x1ffffff
			}
		}
	case psx.OpLb, psx.OpLh, psx.OpLw, psx.OpLbu, psx.OpLhu:
		op.Target = regT
		op.Op0 = regS
		op.Imm = psx.InsImmSe(ins)
		op.Type = Load
	case psx.OpLwl, psx.OpLwr:
		op.Target = regT
		op.Op0 = regS
		op.Imm = psx.InsImmSe(ins)
		op.Type = LoadCombine
	case psx.OpSb, psx.OpSh, psx.OpSw:
		op.Op0 = regS
		op.Op1 = regT
		op.Imm = psx.InsImmSe(ins)
	case psx.OpSwl, psx.OpSwr:
		op.Op0 = regS
		op.Op1 = regT
		op.Imm = psx.InsImmSe(ins)
		op.Type = StoreNoAlign
	case psx.OpLwc2:
		op.Op0 = regS
		op.Op1 = regT
		op.Imm = psx.InsImmSe(ins)
		op.Type = Load
	case psx.OpSwc2:
		op.Op0 = regS
		op.Op1 = regT
		op.Imm = psx.InsImmSe(ins)
	default:
		// Reserved or unsupported primary opcode. The emitter
		// turns these into a guest exception, never a host
		// error.
	}

	return op
}

func decodeFn(op *OpDesc, ins uint32, regD, regT, regS psx.Reg) {
	switch psx.InsFn(ins) {
	case psx.FnSll, psx.FnSrl, psx.FnSra:
		op.Target = regD
		op.Op0 = regT
		op.Imm = psx.InsShift(ins)
		if op.Target == psx.RegR0 {
			op.Type = Nop
		}
	case psx.FnSllv, psx.FnSrlv, psx.FnSrav:
		op.Target = regD
		op.Op0 = regT
		op.Op1 = regS
		if op.Target == psx.RegR0 {
			op.Type = Nop
		}
	case psx.FnJr:
		op.Op0 = regS
		op.Type = BranchAlways
	case psx.FnJalr:
		op.Op0 = regS
		op.Target = regD
		op.Type = BranchAlways
	case psx.FnSyscall, psx.FnBreak:
		op.Imm = psx.InsCode(ins)
		op.Type = Exception
	case psx.FnMfhi:
		op.Op0 = psx.RegHI
		op.Target = regD
		if op.Target == psx.RegR0 {
			op.Type = Nop
		}
	case psx.FnMthi:
		op.Op0 = regS
		op.Target = psx.RegHI
	case psx.FnMflo:
		op.Op0 = psx.RegLO
		op.Target = regD
		if op.Target == psx.RegR0 {
			op.Type = Nop
		}
	case psx.FnMtlo:
		op.Op0 = regS
		op.Target = psx.RegLO
	case psx.FnMult, psx.FnMultu, psx.FnDiv, psx.FnDivu:
		op.Op0 = regS
		op.Op1 = regT
		// The real targets are HI and LO but those can only
		// be observed through MFHI/MFLO, so tracking LO alone
		// is enough for the hazard logic.
		op.Target = psx.RegLO
	case psx.FnAdd, psx.FnSub:
		// May overflow, so not a NOP even with target R0.
		op.Target = regD
		op.Op0 = regS
		op.Op1 = regT
	case psx.FnAddu, psx.FnSubu, psx.FnAnd, psx.FnOr,
		psx.FnXor, psx.FnNor, psx.FnSlt, psx.FnSltu:
		op.Target = regD
		op.Op0 = regS
		op.Op1 = regT
		if op.Target == psx.RegR0 {
			op.Type = Nop
		}
	default:
		// Reserved function encoding, handled at emission.
	}
}
