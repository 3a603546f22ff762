package amd64

/*
 * PSX - AMD64 block linking, exits and the emulator call convention
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

// emulatorCall invokes the callback at the given state offset. The
// dynarec's call sequence saves the state pointer and the
// caller-saved guest pinnings (AT, V0, V1, A0), calls through the
// state, reloads the cycle counter from the first return register
// and restores. Callees must preserve the callee-saved pinnings of
// guest A1/T0/SP/RA.
//
// This trashes %eax, %edx and %esi. A secondary return value, if
// any, is left in %edx.
func (a *Assembler) emulatorCall(fnOffset uint32) {
	a.pushR64(stateReg)
	a.pushR64(regR8)
	a.pushR64(regR9)
	a.pushR64(regR10)
	a.pushR64(regR11)

	a.callOffPr64(fnOffset, stateReg)

	// Move the first return value to the counter.
	a.movR32R32(regAX, regCX)

	a.popR64(regR11)
	a.popR64(regR10)
	a.popR64(regR9)
	a.popR64(regR8)
	a.popR64(stateReg)
}

// emitException is the in-line tail used from conditional scopes
// (alignment checks, overflow): save the faulting PC, run the
// exception callback and leave the block.
func (a *Assembler) emitException(cause psx.Exception) {
	a.movU32OffPr64(a.pc, core.PCOff, stateReg)
	a.movU32R32(uint32(cause), regSI)
	a.emulatorCall(core.FnExceptionOff)
	a.movU32R32(core.PackExit(core.ExitException, uint32(cause)), regAX)
	a.ret()
}

func (a *Assembler) Exception(cause psx.Exception) {
	a.emitException(cause)
}

func (a *Assembler) Exit(code core.ExitCode, payload uint32) {
	a.movU32OffPr64(a.pc, core.PCOff, stateReg)
	a.movU32R32(core.PackExit(code, payload), regAX)
	a.ret()
}

// BlockPrologue bails out to the host when the cycle counter has
// expired, leaving the guest PC at the block base so the host can
// re-enter after servicing the event.
func (a *Assembler) BlockPrologue(base uint32) {
	a.aluU32R32(aluCmp, 0, regCX)
	jg := a.ifNotGreater()
	{
		a.movU32OffPr64(base, core.PCOff, stateReg)
		a.movU32R32(core.PackExit(core.ExitCounterExpired, 0), regAX)
		a.ret()
	}
	a.bind(jg)
}

func (a *Assembler) CounterMaintenance(cycles uint32) {
	a.aluU32R32(aluSub, cycles, regCX)
}

// EmitLinkTrampoline emits the shared lazy resolution routine. On
// entry %esi holds the target guest PC and %edx the arena offset of
// the patchable call site (zero when the site must stay indirect).
// The resolver returns the host address of the destination block in
// the second return register; the trampoline jumps there.
func (a *Assembler) EmitLinkTrampoline() {
	a.pushR64(stateReg)
	a.pushR64(regR8)
	a.pushR64(regR9)
	a.pushR64(regR10)
	a.pushR64(regR11)

	a.callOffPr64(core.FnResolveOff, stateReg)

	a.movR32R32(regAX, regCX)

	a.popR64(regR11)
	a.popR64(regR10)
	a.popR64(regR9)
	a.popR64(regR8)
	a.popR64(stateReg)

	a.jmpR64(regDX)
}

// PatchLink rewrites the patch site at siteOff into a direct jump to
// destOff. The site was emitted as a trampoline entry sequence; once
// patched the trampoline is skipped entirely.
func (a *Assembler) PatchLink(siteOff, destOff uint32) {
	saved := a.off

	a.off = siteOff
	a.jmpOff(destOff)
	a.off = saved
}

// linkSite emits the patchable entry into the link trampoline.
func (a *Assembler) linkSite(target uint32) {
	site := a.off

	a.movU32R32(target, regSI)
	a.movU32R32(site, regDX)
	a.jmpOff(0)
}

func (a *Assembler) JumpImm(target uint32, destOff uint32, needsPatch bool) {
	if !needsPatch {
		a.jmpOff(destOff)
		return
	}
	a.linkSite(target)
}

// Map from a branch condition to the opcode that skips the branch
// when the condition does not hold.
func skipCond(cond compiler.JumpCond) byte {
	switch cond {
	case compiler.CondNE:
		return ccEqual
	case compiler.CondEQ:
		return ccNotEqual
	case compiler.CondGE:
		return ccLess
	case compiler.CondLT:
		return ccGreaterEq
	case compiler.CondGT:
		return ccLessEq
	case compiler.CondLE:
		return ccGreater
	default:
		panic("bad branch condition")
	}
}

func (a *Assembler) JumpImmCond(target uint32, destOff uint32, needsPatch bool,
	regA, regB psx.Reg, cond compiler.JumpCond) {
	a.loadGuest(regA, regAX)
	a.cmpGuest(regAX, regB)

	skip := a.jcc8(skipCond(cond))
	a.JumpImm(target, destOff, needsPatch)
	a.bind(skip)
}

// JumpReg jumps to the guest address held in a register. The target
// is dynamic so the site can never be patched; every execution goes
// through the trampoline.
func (a *Assembler) JumpReg(target psx.Reg) {
	a.loadGuest(target, regSI)
	a.movU32R32(0, regDX)
	a.jmpOff(0)
}
