package compiler

/*
 * PSX - Instruction emission
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
	"github.com/rcornwell/PSX/emu/decode"
	"github.com/rcornwell/PSX/emu/psx"
)

// emitJump emits an unconditional jump to the guest address target,
// direct when the destination is already compiled, through the link
// trampoline otherwise.
func (ctx *compileCtx) emitJump(target uint32) {
	ctx.emitBranchOrJump(target, psx.RegR0, psx.RegR0, CondAlways)
}

func (ctx *compileCtx) emitBranchOrJump(target uint32, regA, regB psx.Reg,
	cond JumpCond) {
	var destOff uint32
	needsPatch := true

	if target == ctx.block.BaseAddress {
		// A jump back to ourselves.
		destOff = ctx.block.CodeOff
		needsPatch = false
	} else if b := ctx.c.Find(target); b != nil {
		// Already recompiled, link directly.
		destOff = b.CodeOff
		needsPatch = false
	}

	if ctx.c.state.Options&core.OptNoPatch != 0 {
		destOff = 0
		needsPatch = true
	}

	ctx.flushCycles()

	if cond == CondAlways {
		ctx.be.JumpImm(target, destOff, needsPatch)
	} else {
		ctx.be.JumpImmCond(target, destOff, needsPatch, regA, regB, cond)
	}
}

// emitBranch emits a conditional branch relative to the delay slot.
func (ctx *compileCtx) emitBranch(offset int32, regA, regB psx.Reg,
	cond JumpCond) {
	// The offset is in instructions, relative to the delay slot.
	target := ctx.pc + 4 + uint32(offset<<2)

	ctx.emitBranchOrJump(target, regA, regB, cond)
}

func (ctx *compileCtx) emitJ(op *decode.OpDesc) {
	target := ctx.pc&0xf0000000 | op.Imm

	ctx.emitJump(target)
}

func (ctx *compileCtx) emitJal(op *decode.OpDesc) {
	// Store the return address in RA.
	ctx.be.Li(psx.RegRA, ctx.pc+8)
	ctx.emitJ(op)
}

func (ctx *compileCtx) emitJalr(target, link psx.Reg) {
	if target == psx.RegR0 {
		if link != psx.RegR0 {
			ctx.be.Li(link, ctx.pc+8)
		}
		ctx.emitJump(0)
		return
	}
	if link != psx.RegR0 {
		ctx.be.Li(link, ctx.pc+8)
	}
	ctx.flushCycles()
	ctx.be.JumpReg(target)
}

func (ctx *compileCtx) emitBxx(op *decode.OpDesc) {
	// The return address is stored even when the branch is not
	// taken.
	if op.Target != psx.RegR0 {
		ctx.be.Li(op.Target, ctx.pc+8)
	}

	cond := CondLT
	if op.Instruction>>16&1 != 0 {
		cond = CondGE
	}

	ctx.emitBranch(op.SImm(), op.Op0, psx.RegR0, cond)
}

func (ctx *compileCtx) emitBeq(op *decode.OpDesc) {
	// Decode already turned BEQ a,a into a BranchAlways.
	cond := CondEQ
	if op.Type == decode.BranchAlways {
		cond = CondAlways
	}
	ctx.emitBranch(op.SImm(), op.Op0, op.Op1, cond)
}

func (ctx *compileCtx) emitBlez(op *decode.OpDesc) {
	cond := CondLE
	if op.Op0 == psx.RegR0 {
		// 0 <= 0 always holds.
		cond = CondAlways
	}
	ctx.emitBranch(op.SImm(), op.Op0, psx.RegR0, cond)
}

func (ctx *compileCtx) emitBgtz(op *decode.OpDesc) {
	if op.Op0 == psx.RegR0 {
		// 0 > 0 never holds.
		return
	}
	ctx.emitBranch(op.SImm(), op.Op0, psx.RegR0, CondGT)
}

func (ctx *compileCtx) emitShiftImm(target, source psx.Reg, shift uint8,
	emit func(psx.Reg, psx.Reg, uint8)) {
	if target == psx.RegR0 || (target == source && shift == 0) {
		// NOP
		return
	}
	if source == psx.RegR0 {
		ctx.be.Li(target, 0)
		return
	}
	if shift == 0 {
		ctx.be.Mov(target, source)
		return
	}
	emit(target, source, shift)
}

func (ctx *compileCtx) emitShiftReg(target, source, shift psx.Reg,
	emit func(psx.Reg, psx.Reg, psx.Reg)) {
	if target == psx.RegR0 || (target == source && shift == psx.RegR0) {
		// NOP
		return
	}
	if source == psx.RegR0 {
		ctx.be.Li(target, 0)
		return
	}
	if shift == psx.RegR0 {
		ctx.be.Mov(target, source)
		return
	}
	emit(target, source, shift)
}

func (ctx *compileCtx) emitAddi(target, source psx.Reg, imm uint32) {
	if source == psx.RegR0 {
		if target != psx.RegR0 {
			ctx.be.Li(target, imm)
		}
		return
	}
	if imm == 0 {
		if target != source && target != psx.RegR0 {
			ctx.be.Mov(target, source)
		}
		return
	}

	// Watch out: this is emitted even when the target is R0
	// because the add might still overflow, so unlike ADDIU it's
	// not a NOP in that case.
	ctx.flushCycles()
	ctx.be.Addi(target, source, imm)
}

func (ctx *compileCtx) emitAddiu(target, source psx.Reg, imm uint32) {
	if target == psx.RegR0 {
		// NOP
		return
	}
	if source == psx.RegR0 {
		ctx.be.Li(target, imm)
		return
	}
	if imm == 0 {
		if target != source {
			ctx.be.Mov(target, source)
		}
		return
	}
	ctx.be.Addiu(target, source, imm)
}

func (ctx *compileCtx) emitAndi(target, source psx.Reg, imm uint32) {
	if target == psx.RegR0 {
		// NOP
		return
	}
	if imm == 0 || source == psx.RegR0 {
		ctx.be.Li(target, 0)
		return
	}
	ctx.be.Andi(target, source, imm)
}

func (ctx *compileCtx) emitOri(target, source psx.Reg, imm uint32) {
	if target == psx.RegR0 {
		// NOP
		return
	}
	if source == psx.RegR0 {
		ctx.be.Li(target, imm)
		return
	}
	if imm == 0 {
		if target != source {
			ctx.be.Mov(target, source)
		}
		return
	}
	ctx.be.Ori(target, source, imm)
}

func (ctx *compileCtx) emitXori(target, source psx.Reg, imm uint32) {
	if target == psx.RegR0 {
		// NOP
		return
	}
	if source == psx.RegR0 {
		ctx.be.Li(target, imm)
		return
	}
	if imm == 0 {
		if target != source {
			ctx.be.Mov(target, source)
		}
		return
	}
	ctx.be.Xori(target, source, imm)
}

func (ctx *compileCtx) emitAdd(target, op0, op1 psx.Reg,
	emit func(psx.Reg, psx.Reg, psx.Reg), trapping bool) {
	if target == psx.RegR0 && !trapping {
		// NOP
		return
	}

	if op0 == psx.RegR0 || op1 == psx.RegR0 {
		if target == psx.RegR0 {
			// Can't overflow with a zero operand, so even
			// the trapping form has no effect.
			return
		}
		if op0 == psx.RegR0 && op1 == psx.RegR0 {
			ctx.be.Li(target, 0)
			return
		}
		source := op0
		if source == psx.RegR0 {
			source = op1
		}
		if target != source {
			ctx.be.Mov(target, source)
		}
		return
	}

	if trapping {
		ctx.flushCycles()
	}
	emit(target, op0, op1)
}

func (ctx *compileCtx) emitSub(target, op0, op1 psx.Reg,
	emit func(psx.Reg, psx.Reg, psx.Reg), trapping bool) {
	if target == psx.RegR0 && !trapping {
		// NOP
		return
	}

	if op0 == psx.RegR0 {
		if target == psx.RegR0 {
			return
		}
		if op1 == psx.RegR0 {
			ctx.be.Li(target, 0)
		} else {
			// SUB a, 0, b -> a = -b
			ctx.be.Neg(target, op1)
		}
		return
	}
	if op1 == psx.RegR0 {
		if target != op0 && target != psx.RegR0 {
			ctx.be.Mov(target, op0)
		}
		return
	}

	if trapping {
		ctx.flushCycles()
	}
	emit(target, op0, op1)
}

func (ctx *compileCtx) emitAnd(target, op0, op1 psx.Reg) {
	if target == psx.RegR0 {
		// NOP
		return
	}

	if op0 == psx.RegR0 || op1 == psx.RegR0 {
		ctx.be.Li(target, 0)
		return
	}
	if op0 == op1 {
		if op0 == target {
			// NOP
			return
		}
		ctx.be.Mov(target, op0)
		return
	}
	ctx.be.And(target, op0, op1)
}

func (ctx *compileCtx) emitOr(target, op0, op1 psx.Reg) {
	if target == psx.RegR0 {
		// NOP
		return
	}

	switch {
	case op0 == psx.RegR0 && op1 == psx.RegR0:
		ctx.be.Li(target, 0)
	case op0 == psx.RegR0:
		if target != op1 {
			ctx.be.Mov(target, op1)
		}
	case op1 == psx.RegR0 || op0 == op1:
		if target != op0 {
			ctx.be.Mov(target, op0)
		}
	default:
		ctx.be.Or(target, op0, op1)
	}
}

func (ctx *compileCtx) emitXor(target, op0, op1 psx.Reg) {
	if target == psx.RegR0 {
		// NOP
		return
	}

	switch {
	case op0 == op1:
		// XOR t, a, a -> 0
		ctx.be.Li(target, 0)
	case op0 == psx.RegR0:
		if target != op1 {
			ctx.be.Mov(target, op1)
		}
	case op1 == psx.RegR0:
		if target != op0 {
			ctx.be.Mov(target, op0)
		}
	default:
		ctx.be.Xor(target, op0, op1)
	}
}

func (ctx *compileCtx) emitNor(target, op0, op1 psx.Reg) {
	if target == psx.RegR0 {
		// NOP
		return
	}

	switch {
	case op0 == psx.RegR0 && op1 == psx.RegR0:
		// NOR x, 0, 0 -> ~0
		ctx.be.Li(target, 0xffffffff)
	case op0 == psx.RegR0:
		ctx.be.Not(target, op1)
	case op1 == psx.RegR0 || op0 == op1:
		ctx.be.Not(target, op0)
	default:
		ctx.be.Nor(target, op0, op1)
	}
}

func (ctx *compileCtx) emitMoveHiLo(op *decode.OpDesc) {
	if op.Target == psx.RegR0 {
		// NOP
		return
	}
	if op.Op0 == psx.RegR0 {
		ctx.be.Li(op.Target, 0)
		return
	}
	ctx.be.Mov(op.Target, op.Op0)
}

func (ctx *compileCtx) emitFn(op *decode.OpDesc) {
	ins := op.Instruction

	switch psx.InsFn(ins) {
	case psx.FnSll:
		ctx.emitShiftImm(op.Target, op.Op0, uint8(op.Imm), ctx.be.Sll)
	case psx.FnSrl:
		ctx.emitShiftImm(op.Target, op.Op0, uint8(op.Imm), ctx.be.Srl)
	case psx.FnSra:
		ctx.emitShiftImm(op.Target, op.Op0, uint8(op.Imm), ctx.be.Sra)
	case psx.FnSllv:
		ctx.emitShiftReg(op.Target, op.Op0, op.Op1, ctx.be.Sllv)
	case psx.FnSrlv:
		ctx.emitShiftReg(op.Target, op.Op0, op.Op1, ctx.be.Srlv)
	case psx.FnSrav:
		ctx.emitShiftReg(op.Target, op.Op0, op.Op1, ctx.be.Srav)
	case psx.FnJr:
		ctx.emitJalr(op.Op0, psx.RegR0)
	case psx.FnJalr:
		ctx.emitJalr(op.Op0, op.Target)
	case psx.FnSyscall:
		ctx.flushCycles()
		ctx.be.Exit(core.ExitSyscall, op.Imm)
	case psx.FnBreak:
		ctx.flushCycles()
		if ctx.c.state.Options&core.OptExitOnBreak != 0 {
			ctx.be.Exit(core.ExitBreak, op.Imm)
		} else {
			ctx.be.Exception(psx.ExcBreak)
		}
	case psx.FnMfhi, psx.FnMthi, psx.FnMflo, psx.FnMtlo:
		ctx.emitMoveHiLo(op)
	case psx.FnMult:
		if op.Op0 == psx.RegR0 || op.Op1 == psx.RegR0 {
			// Multiplication by zero yields zero.
			ctx.be.Li(psx.RegLO, 0)
			ctx.be.Li(psx.RegHI, 0)
		} else {
			ctx.be.Mult(op.Op0, op.Op1)
		}
	case psx.FnMultu:
		if op.Op0 == psx.RegR0 || op.Op1 == psx.RegR0 {
			ctx.be.Li(psx.RegLO, 0)
			ctx.be.Li(psx.RegHI, 0)
		} else {
			ctx.be.Multu(op.Op0, op.Op1)
		}
	case psx.FnDiv:
		ctx.be.Div(op.Op0, op.Op1)
	case psx.FnDivu:
		ctx.be.Divu(op.Op0, op.Op1)
	case psx.FnAdd:
		ctx.emitAdd(op.Target, op.Op0, op.Op1, ctx.be.Add, true)
	case psx.FnAddu:
		ctx.emitAdd(op.Target, op.Op0, op.Op1, ctx.be.Addu, false)
	case psx.FnSub:
		ctx.emitSub(op.Target, op.Op0, op.Op1, ctx.be.Sub, true)
	case psx.FnSubu:
		ctx.emitSub(op.Target, op.Op0, op.Op1, ctx.be.Subu, false)
	case psx.FnAnd:
		ctx.emitAnd(op.Target, op.Op0, op.Op1)
	case psx.FnOr:
		ctx.emitOr(op.Target, op.Op0, op.Op1)
	case psx.FnXor:
		ctx.emitXor(op.Target, op.Op0, op.Op1)
	case psx.FnNor:
		ctx.emitNor(op.Target, op.Op0, op.Op1)
	case psx.FnSlt:
		if op.Target == psx.RegR0 {
			// NOP
			return
		}
		if op.Op0 == psx.RegR0 && op.Op1 == psx.RegR0 {
			// 0 isn't less than 0
			ctx.be.Li(op.Target, 0)
			return
		}
		ctx.be.Slt(op.Target, op.Op0, op.Op1)
	case psx.FnSltu:
		if op.Target == psx.RegR0 {
			// NOP
			return
		}
		if op.Op1 == psx.RegR0 {
			// Nothing is unsigned-less than 0
			ctx.be.Li(op.Target, 0)
			return
		}
		ctx.be.Sltu(op.Target, op.Op0, op.Op1)
	default:
		// Reserved function encoding (0x1f, 0x34 and friends):
		// the guest sees an illegal instruction exception.
		ctx.flushCycles()
		ctx.be.Exception(psx.ExcIllegalInstruction)
	}
}

func (ctx *compileCtx) emitCop0(op *decode.OpDesc) {
	switch psx.InsCopOp(op.Instruction) {
	case psx.CopMfc:
		if op.Target == psx.RegR0 {
			return
		}
		ctx.be.Mfc0(op.Target, psx.Cop0Reg(op.Op0))
	case psx.CopMtc:
		ctx.flushCycles()
		ctx.be.Mtc0(op.Op0, psx.Cop0Reg(op.Target))
	case psx.CopRfe:
		ctx.be.Rfe()
	default:
		ctx.flushCycles()
		ctx.be.Exception(psx.ExcCoprocessorError)
	}
}

// emitInstruction dispatches one decoded instruction to the back-end.
func (ctx *compileCtx) emitInstruction(op *decode.OpDesc) {
	ins := op.Instruction

	switch ins >> 26 {
	case psx.OpFn:
		ctx.emitFn(op)
	case psx.OpBxx:
		ctx.emitBxx(op)
	case psx.OpJ:
		ctx.emitJ(op)
	case psx.OpJal:
		ctx.emitJal(op)
	case psx.OpBeq:
		ctx.emitBeq(op)
	case psx.OpBne:
		// Decode left only the taken-sometimes form; BNE a,a
		// was reduced to a NOP.
		ctx.emitBranch(op.SImm(), op.Op0, op.Op1, CondNE)
	case psx.OpBlez:
		ctx.emitBlez(op)
	case psx.OpBgtz:
		ctx.emitBgtz(op)
	case psx.OpAddi:
		ctx.emitAddi(op.Target, op.Op0, op.Imm)
	case psx.OpAddiu:
		ctx.emitAddiu(op.Target, op.Op0, op.Imm)
	case psx.OpSlti:
		if op.Target == psx.RegR0 {
			return
		}
		ctx.be.Slti(op.Target, op.Op0, op.SImm())
	case psx.OpSltiu:
		if op.Target == psx.RegR0 {
			return
		}
		if op.Imm == 0 {
			// Nothing is unsigned-less than 0
			ctx.be.Li(op.Target, 0)
			return
		}
		ctx.be.Sltiu(op.Target, op.Op0, op.Imm)
	case psx.OpAndi:
		ctx.emitAndi(op.Target, op.Op0, op.Imm)
	case psx.OpOri:
		ctx.emitOri(op.Target, op.Op0, op.Imm)
	case psx.OpXori:
		ctx.emitXori(op.Target, op.Op0, op.Imm)
	case psx.OpLui:
		if op.Target == psx.RegR0 {
			// NOP
			return
		}
		ctx.be.Li(op.Target, op.Imm)
	case psx.OpCop0:
		ctx.emitCop0(op)
	case psx.OpCop1, psx.OpCop3:
		// Unusable coprocessors.
		ctx.flushCycles()
		ctx.be.Exception(psx.ExcCoprocessorError)
	case psx.OpCop2:
		// GTE arithmetic and transfers are outside the core;
		// hand control back to the host.
		ctx.flushCycles()
		ctx.be.Exit(core.ExitUnimplemented, core.UnimplGTE)
	case psx.OpLb:
		ctx.flushCycles()
		ctx.be.Lb(op.Target, int16(op.Imm), op.Op0)
	case psx.OpLbu:
		ctx.flushCycles()
		ctx.be.Lbu(op.Target, int16(op.Imm), op.Op0)
	case psx.OpLh:
		ctx.flushCycles()
		ctx.be.Lh(op.Target, int16(op.Imm), op.Op0)
	case psx.OpLhu:
		ctx.flushCycles()
		ctx.be.Lhu(op.Target, int16(op.Imm), op.Op0)
	case psx.OpLw:
		ctx.flushCycles()
		ctx.be.Lw(op.Target, int16(op.Imm), op.Op0)
	case psx.OpLwl, psx.OpLwr:
		// An unpaired LWL/LWR; punt to the host rather than
		// emulate the byte-merging dance.
		ctx.flushCycles()
		ctx.be.Exit(core.ExitUnimplemented, core.UnimplOpcode)
	case psx.OpSb:
		ctx.flushCycles()
		ctx.be.Sb(op.Op0, int16(op.Imm), op.Op1)
	case psx.OpSh:
		ctx.flushCycles()
		ctx.be.Sh(op.Op0, int16(op.Imm), op.Op1)
	case psx.OpSw:
		ctx.flushCycles()
		ctx.be.Sw(op.Op0, int16(op.Imm), op.Op1)
	case psx.OpSwl, psx.OpSwr:
		ctx.flushCycles()
		ctx.be.Exit(core.ExitUnimplemented, core.UnimplOpcode)
	case psx.OpLwc2, psx.OpSwc2:
		ctx.flushCycles()
		ctx.be.Exit(core.ExitUnimplemented, core.UnimplCop2)
	case 0x18, 0x19, 0x1b, 0x1d, 0x1e:
		// Documented-illegal encodings with no effect.
	default:
		ctx.flushCycles()
		ctx.be.Exception(psx.ExcIllegalInstruction)
	}
}
