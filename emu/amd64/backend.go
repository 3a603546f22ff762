package amd64

/*
 * PSX - AMD64 back-end, ALU and move emitters
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
	"github.com/rcornwell/PSX/emu/compiler"
	"github.com/rcornwell/PSX/emu/core"
	"github.com/rcornwell/PSX/emu/psx"
)

var _ compiler.Backend = (*Assembler)(nil)

// registerLocation returns the host register a guest register is
// pinned to, or -1 if it lives in the state's register array.
//
// If you change this don't forget to change the entry trampoline as
// well.
func registerLocation(reg psx.Reg) int {
	switch reg {
	case psx.RegAT:
		return regR8
	case psx.RegV0:
		return regR9
	case psx.RegV1:
		return regR10
	case psx.RegA0:
		return regR11
	case psx.RegA1:
		return regR12
	case psx.RegT0:
		return regR13
	case psx.RegSP:
		return regR14
	case psx.RegRA:
		return regR15
	default:
		return -1
	}
}

// loadGuest brings the value of guest register r into the host
// register host. R0 reads as zero without touching storage.
func (a *Assembler) loadGuest(r psx.Reg, host int) {
	if r == psx.RegR0 {
		a.clearReg(host)
		return
	}
	if loc := registerLocation(r); loc >= 0 {
		a.movR32R32(loc, host)
		return
	}
	a.movOffPr64R32(core.RegOffset(r), stateReg, host)
}

// storeGuest writes the host register back to guest register r.
// Writes to R0 are dropped.
func (a *Assembler) storeGuest(host int, r psx.Reg) {
	if r == psx.RegR0 {
		return
	}
	if loc := registerLocation(r); loc >= 0 {
		a.movR32R32(host, loc)
		return
	}
	a.movR32OffPr64(host, core.RegOffset(r), stateReg)
}

// aluGuestR32 applies the RM-form ALU op with guest register r as
// the source and the host register as destination.
func (a *Assembler) aluGuestR32(rmOp, mrOp byte, r psx.Reg, host int) {
	if r == psx.RegR0 {
		// The callers strength-reduce R0 operands away; if one
		// slips through go via a cleared scratch register.
		a.clearReg(regDX)
		a.aluR32R32(mrOp, regDX, host)
		return
	}
	if loc := registerLocation(r); loc >= 0 {
		a.aluR32R32(mrOp, loc, host)
		return
	}
	a.aluOffPr64R32(rmOp, core.RegOffset(r), stateReg, host)
}

// cmpGuest compares the host register against guest register r.
func (a *Assembler) cmpGuest(host int, r psx.Reg) {
	if r == psx.RegR0 {
		a.aluU32R32(aluCmp, 0, host)
		return
	}
	a.aluGuestR32(aluRmCmp, aluMrCmp, r, host)
}

func (a *Assembler) Li(target psx.Reg, v uint32) {
	if loc := registerLocation(target); loc >= 0 {
		a.movU32R32(v, loc)
		return
	}
	a.movU32OffPr64(v, core.RegOffset(target), stateReg)
}

func (a *Assembler) Mov(target, source psx.Reg) {
	if target == source {
		return
	}
	if source == psx.RegR0 {
		a.Li(target, 0)
		return
	}

	tloc := registerLocation(target)
	sloc := registerLocation(source)

	switch {
	case tloc >= 0 && sloc >= 0:
		a.movR32R32(sloc, tloc)
	case tloc >= 0:
		a.movOffPr64R32(core.RegOffset(source), stateReg, tloc)
	case sloc >= 0:
		a.movR32OffPr64(sloc, core.RegOffset(target), stateReg)
	default:
		a.movOffPr64R32(core.RegOffset(source), stateReg, regAX)
		a.movR32OffPr64(regAX, core.RegOffset(target), stateReg)
	}
}

// shiftImm emits one of the immediate shifts through the %eax
// scratch register.
func (a *Assembler) shiftImm(op byte, target, source psx.Reg, shift uint8) {
	if tloc := registerLocation(target); tloc >= 0 && target == source {
		a.shiftU32R32(op, uint32(shift), tloc)
		return
	}
	a.loadGuest(source, regAX)
	a.shiftU32R32(op, uint32(shift), regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Sll(target, source psx.Reg, shift uint8) {
	a.shiftImm(shiftShl, target, source, shift)
}

func (a *Assembler) Srl(target, source psx.Reg, shift uint8) {
	a.shiftImm(shiftShr, target, source, shift)
}

func (a *Assembler) Sra(target, source psx.Reg, shift uint8) {
	a.shiftImm(shiftSar, target, source, shift)
}

// shiftReg shifts by a register amount. The hardware wants the count
// in %cl which doubles as the cycle counter, so the counter is
// parked on the stack for the duration.
func (a *Assembler) shiftReg(op byte, target, source, shift psx.Reg) {
	a.pushR64(regCX)
	a.loadGuest(shift, regCX)
	a.loadGuest(source, regAX)
	a.shiftClR32(op, regAX)
	a.popR64(regCX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Sllv(target, source, shift psx.Reg) {
	a.shiftReg(shiftShl, target, source, shift)
}

func (a *Assembler) Srlv(target, source, shift psx.Reg) {
	a.shiftReg(shiftShr, target, source, shift)
}

func (a *Assembler) Srav(target, source, shift psx.Reg) {
	a.shiftReg(shiftSar, target, source, shift)
}

// mulOp widens %eax by the second operand into %edx:%eax and spills
// the pair to HI/LO.
func (a *Assembler) mulOp(f3 byte, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.loadGuest(op1, regSI)
	a.f7R32(f3, regSI)
	a.movR32OffPr64(regAX, core.RegOffset(psx.RegLO), stateReg)
	a.movR32OffPr64(regDX, core.RegOffset(psx.RegHI), stateReg)
}

func (a *Assembler) Mult(op0, op1 psx.Reg) {
	a.mulOp(f3Imul, op0, op1)
}

func (a *Assembler) Multu(op0, op1 psx.Reg) {
	a.mulOp(f3Mul, op0, op1)
}

// Div emits a signed division with the R3000A's defined results for
// division by zero and for 0x80000000/-1, neither of which traps on
// MIPS but both of which would on the host.
func (a *Assembler) Div(num, denom psx.Reg) {
	a.loadGuest(num, regAX)
	a.loadGuest(denom, regSI)

	a.aluU32R32(aluCmp, 0, regSI)
	jz := a.ifNotEqual()
	{
		// Divisor isn't zero; the remaining hazard is
		// 0x80000000 / -1 which overflows the host divide.
		a.aluU32R32(aluCmp, 0x80000000, regAX)
		jn := a.ifNotEqual()
		{
			a.cdq()
			a.f7R32(f3Idiv, regSI)
			a.movR32OffPr64(regAX, core.RegOffset(psx.RegLO), stateReg)
			a.movR32OffPr64(regDX, core.RegOffset(psx.RegHI), stateReg)
		}
		je := a.elseJump(jn)
		{
			a.aluU32R32(aluCmp, 0xffffffff, regSI)
			jd := a.ifNotEqual()
			{
				a.cdq()
				a.f7R32(f3Idiv, regSI)
				a.movR32OffPr64(regAX, core.RegOffset(psx.RegLO), stateReg)
				a.movR32OffPr64(regDX, core.RegOffset(psx.RegHI), stateReg)
			}
			jde := a.elseJump(jd)
			{
				a.movU32OffPr64(0x80000000,
					core.RegOffset(psx.RegLO), stateReg)
				a.movU32OffPr64(0, core.RegOffset(psx.RegHI), stateReg)
			}
			a.bind(jde)
		}
		a.bind(je)
	}
	jze := a.elseJump(jz)
	{
		// Division by zero: HI gets the numerator, LO gets 1
		// for a negative numerator and all ones otherwise.
		a.movR32OffPr64(regAX, core.RegOffset(psx.RegHI), stateReg)
		a.aluU32R32(aluCmp, 0, regAX)
		js := a.ifSign()
		{
			a.movU32OffPr64(1, core.RegOffset(psx.RegLO), stateReg)
		}
		jse := a.elseJump(js)
		{
			a.movU32OffPr64(0xffffffff,
				core.RegOffset(psx.RegLO), stateReg)
		}
		a.bind(jse)
	}
	a.bind(jze)
}

func (a *Assembler) Divu(num, denom psx.Reg) {
	a.loadGuest(num, regAX)
	a.loadGuest(denom, regSI)

	a.aluU32R32(aluCmp, 0, regSI)
	jz := a.ifNotEqual()
	{
		a.clearReg(regDX)
		a.f7R32(f3Div, regSI)
		a.movR32OffPr64(regAX, core.RegOffset(psx.RegLO), stateReg)
		a.movR32OffPr64(regDX, core.RegOffset(psx.RegHI), stateReg)
	}
	jze := a.elseJump(jz)
	{
		// Division by zero: HI = numerator, LO = ~0.
		a.movR32OffPr64(regAX, core.RegOffset(psx.RegHI), stateReg)
		a.movU32OffPr64(0xffffffff, core.RegOffset(psx.RegLO), stateReg)
	}
	a.bind(jze)
}

func (a *Assembler) Addi(target, source psx.Reg, v uint32) {
	a.loadGuest(source, regAX)
	a.aluU32R32(aluAdd, v, regAX)
	jo := a.ifOverflow()
	{
		a.emitException(psx.ExcOverflow)
	}
	a.bind(jo)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Addiu(target, source psx.Reg, v uint32) {
	if tloc := registerLocation(target); tloc >= 0 && target == source {
		a.aluU32R32(aluAdd, v, tloc)
		return
	}
	a.loadGuest(source, regAX)
	a.aluU32R32(aluAdd, v, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Add(target, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.aluGuestR32(aluRmAdd, aluMrAdd, op1, regAX)
	jo := a.ifOverflow()
	{
		a.emitException(psx.ExcOverflow)
	}
	a.bind(jo)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Addu(target, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.aluGuestR32(aluRmAdd, aluMrAdd, op1, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Sub(target, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.aluGuestR32(aluRmSub, aluMrSub, op1, regAX)
	jo := a.ifOverflow()
	{
		a.emitException(psx.ExcOverflow)
	}
	a.bind(jo)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Subu(target, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.aluGuestR32(aluRmSub, aluMrSub, op1, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Neg(target, source psx.Reg) {
	a.loadGuest(source, regAX)
	a.f7R32(f3Neg, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) And(target, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.aluGuestR32(aluRmAnd, aluMrAnd, op1, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Or(target, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.aluGuestR32(aluRmOr, aluMrOr, op1, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Xor(target, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.aluGuestR32(aluRmXor, aluMrXor, op1, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Nor(target, op0, op1 psx.Reg) {
	a.loadGuest(op0, regAX)
	a.aluGuestR32(aluRmOr, aluMrOr, op1, regAX)
	a.f7R32(f3Not, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Not(target, source psx.Reg) {
	a.loadGuest(source, regAX)
	a.f7R32(f3Not, regAX)
	a.storeGuest(regAX, target)
}

// aluImm is the common tail of the immediate bit operations.
func (a *Assembler) aluImm(op byte, target, source psx.Reg, v uint32) {
	if tloc := registerLocation(target); tloc >= 0 && target == source {
		a.aluU32R32(op, v, tloc)
		return
	}
	a.loadGuest(source, regAX)
	a.aluU32R32(op, v, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Andi(target, source psx.Reg, v uint32) {
	a.aluImm(aluAnd, target, source, v)
}

func (a *Assembler) Ori(target, source psx.Reg, v uint32) {
	a.aluImm(aluOr, target, source, v)
}

func (a *Assembler) Xori(target, source psx.Reg, v uint32) {
	a.aluImm(aluXor, target, source, v)
}

// setCond materializes a comparison result as 0/1 in the target.
// %esi is zeroed before the compare since XOR would trash the flags.
func (a *Assembler) setCond(setOp byte, target psx.Reg, cmp func()) {
	a.clearReg(regSI)
	cmp()
	a.setccR8(setOp, regSI)
	a.storeGuest(regSI, target)
}

func (a *Assembler) Slt(target, op0, op1 psx.Reg) {
	a.setCond(0x9c, target, func() {
		a.loadGuest(op0, regAX)
		a.cmpGuest(regAX, op1)
	})
}

func (a *Assembler) Sltu(target, op0, op1 psx.Reg) {
	a.setCond(0x92, target, func() {
		a.loadGuest(op0, regAX)
		a.cmpGuest(regAX, op1)
	})
}

func (a *Assembler) Slti(target, source psx.Reg, v int32) {
	a.setCond(0x9c, target, func() {
		a.loadGuest(source, regAX)
		a.aluU32R32(aluCmp, uint32(v), regAX)
	})
}

func (a *Assembler) Sltiu(target, source psx.Reg, v uint32) {
	a.setCond(0x92, target, func() {
		a.loadGuest(source, regAX)
		a.aluU32R32(aluCmp, v, regAX)
	})
}

func (a *Assembler) Mfc0(target psx.Reg, creg psx.Cop0Reg) {
	a.movOffPr64R32(core.Cop0Offset(creg), stateReg, regAX)
	a.storeGuest(regAX, target)
}

func (a *Assembler) Mtc0(source psx.Reg, creg psx.Cop0Reg) {
	a.loadGuest(source, regSI)

	switch creg {
	case psx.Cop0SR:
		a.emulatorCall(core.FnSetCop0SROff)
	case psx.Cop0Cause:
		a.emulatorCall(core.FnSetCop0CauseOff)
	default:
		a.movU32R32(uint32(creg), regDX)
		a.emulatorCall(core.FnSetCop0MiscOff)
	}
}

// Rfe pops the COP0 SR interrupt/mode stack: the two older mode
// pairs shift back into place, the oldest stays put.
func (a *Assembler) Rfe() {
	a.movOffPr64R32(core.Cop0Offset(psx.Cop0SR), stateReg, regAX)
	a.movR32R32(regAX, regDX)
	a.shiftU32R32(shiftShr, 2, regDX)
	a.aluU32R32(aluAnd, 0xf, regDX)
	a.aluU32R32(aluAnd, 0xfffffff0, regAX)
	a.aluR32R32(aluMrOr, regDX, regAX)
	a.movR32OffPr64(regAX, core.Cop0Offset(psx.Cop0SR), stateReg)
}
