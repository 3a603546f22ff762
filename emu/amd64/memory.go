package amd64

/*
 * PSX - AMD64 guest load/store sequences
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

// memWidth describes one access size for the shared routing
// sequences.
type memWidth struct {
	size uint32
	// State offsets of the MMIO callbacks.
	fnStore uint32
	fnLoad  uint32
	// Zero-extending load callback for the byte/halfword loads.
	fnLoadU uint32
}

var (
	widthByte = memWidth{1, core.FnMemorySBOff, core.FnMemoryLBOff, core.FnMemoryLBUOff}
	widthHalf = memWidth{2, core.FnMemorySHOff, core.FnMemoryLHOff, core.FnMemoryLHUOff}
	widthWord = memWidth{4, core.FnMemorySWOff, core.FnMemoryLWOff, core.FnMemoryLWOff}
)

// guestAddr computes the effective guest address into %edx.
func (a *Assembler) guestAddr(addr psx.Reg, offset int16) {
	off := uint32(int32(offset))

	if loc := registerLocation(addr); loc >= 0 {
		a.leaOffPr32R32(off, loc, regDX)
		return
	}
	if addr == psx.RegR0 {
		// Static address; common enough with LUI'd bases not to
		// be worth more than the straight move.
		a.movU32R32(off, regDX)
		return
	}
	a.movOffPr64R32(core.RegOffset(addr), stateReg, regDX)
	if off != 0 {
		a.aluU32R32(aluAdd, off, regDX)
	}
}

// maskAddr replaces the address in %edx with the canonical one:
// %eax = addr >> 29 indexes the region mask table.
func (a *Assembler) maskAddr() {
	a.movR32R32(regDX, regAX)
	a.shiftU32R32(shiftShr, 29, regAX)
	a.aluOffSibR32(aluRmAnd, core.RegionMaskOff, stateReg, regAX, 4, regDX)
}

// checkAlign raises the given alignment exception unless the address
// in %edx is a multiple of size.
func (a *Assembler) checkAlign(size uint32, cause psx.Exception) {
	if size == 1 {
		return
	}
	a.movR32R32(regDX, regAX)
	a.aluU32R32(aluAnd, size-1, regAX)
	jne := a.ifNotEqual()
	{
		a.emitException(cause)
	}
	a.bind(jne)
}

// storeToRAM writes the value for the RAM branch of a store: the
// masked address is in %edx, the page's valid bit is cleared, then
// the host buffer is addressed directly.
func (a *Assembler) storeToRAM(w memWidth, valLoc int) {
	// Mask the address in case it was in one of the mirrors.
	a.aluU32R32(aluAnd, psx.RAMSize-1, regDX)

	// Clear the valid bit of the containing page.
	a.movR32R32(regDX, regAX)
	a.shiftU32R32(shiftShr, psx.PageSizeShift, regAX)
	a.movU8OffSib(0, core.PageValidOff, stateReg, regAX, 1)

	// Add the host address of the RAM buffer.
	a.aluOffPr64R64(aluRmAdd, core.RAMOff, stateReg, regDX)
	a.storeSized(w, valLoc, regDX)
}

func (a *Assembler) storeSized(w memWidth, valLoc, base int) {
	switch w.size {
	case 1:
		a.movR8Pr64(valLoc, base)
	case 2:
		a.movR16Pr64(valLoc, base)
	default:
		a.movR32Pr64(valLoc, base)
	}
}

// store emits the full routing sequence for a guest store:
// alignment check, region masking, then RAM (with page
// invalidation), scratchpad or device MMIO.
func (a *Assembler) store(w memWidth, addr psx.Reg, offset int16, val psx.Reg,
	align bool) {
	a.guestAddr(addr, offset)

	// Snapshot the value alongside the address unless it's
	// already pinned.
	valLoc := registerLocation(val)
	if valLoc < 0 {
		valLoc = regSI
		if val == psx.RegR0 {
			a.clearReg(regSI)
		} else {
			a.movOffPr64R32(core.RegOffset(val), stateReg, regSI)
		}
	}

	if align {
		a.checkAlign(w.size, psx.ExcStoreAlign)
	}

	a.maskAddr()

	// Test if the address is in RAM (mirrored 4 times).
	a.aluU32R32(aluCmp, psx.RAMSize*4, regDX)
	jram := a.ifBelow()
	{
		a.storeToRAM(w, valLoc)
	}
	jrame := a.elseJump(jram)
	{
		// Test if the address is in the scratchpad.
		a.movR32R32(regDX, regAX)
		a.aluU32R32(aluSub, psx.ScratchpadBase, regAX)
		a.aluU32R32(aluCmp, psx.ScratchpadSize, regAX)
		jscr := a.ifBelow()
		{
			// Simplest case: straight into the scratchpad
			// buffer, no invalidation.
			a.aluOffPr64R64(aluRmAdd, core.ScratchpadOff, stateReg, regAX)
			a.storeSized(w, valLoc, regAX)
		}
		jscre := a.elseJump(jscr)
		{
			// Some device's memory, call the emulator.
			if valLoc != regSI {
				a.movR32R32(valLoc, regSI)
			}
			a.emulatorCall(w.fnStore)
		}
		a.bind(jscre)
	}
	a.bind(jrame)
}

func (a *Assembler) Sb(addr psx.Reg, offset int16, val psx.Reg) {
	a.store(widthByte, addr, offset, val, true)
}

func (a *Assembler) Sh(addr psx.Reg, offset int16, val psx.Reg) {
	a.store(widthHalf, addr, offset, val, true)
}

func (a *Assembler) Sw(addr psx.Reg, offset int16, val psx.Reg) {
	a.store(widthWord, addr, offset, val, true)
}

func (a *Assembler) SwNoAlign(addr psx.Reg, offset int16, val psx.Reg) {
	a.store(widthWord, addr, offset, val, false)
}

// loadSized reads (base) into %eax with the right width and
// extension.
func (a *Assembler) loadSized(w memWidth, signed bool, base int) {
	switch {
	case w.size == 1 && signed:
		a.movExtPr64R32(0xbe, base, regAX)
	case w.size == 1:
		a.movExtPr64R32(0xb6, base, regAX)
	case w.size == 2 && signed:
		a.movExtPr64R32(0xbf, base, regAX)
	case w.size == 2:
		a.movExtPr64R32(0xb7, base, regAX)
	default:
		a.movPr64R32(base, regAX)
	}
}

// load emits the routing sequence for a guest load; the result ends
// up in target. Loads never invalidate pages.
func (a *Assembler) load(w memWidth, signed bool, target psx.Reg,
	offset int16, addr psx.Reg, align bool) {
	a.guestAddr(addr, offset)

	if align {
		a.checkAlign(w.size, psx.ExcLoadAlign)
	}

	a.maskAddr()

	a.aluU32R32(aluCmp, psx.RAMSize*4, regDX)
	jram := a.ifBelow()
	{
		a.aluU32R32(aluAnd, psx.RAMSize-1, regDX)
		a.aluOffPr64R64(aluRmAdd, core.RAMOff, stateReg, regDX)
		a.loadSized(w, signed, regDX)
	}
	jrame := a.elseJump(jram)
	{
		a.movR32R32(regDX, regAX)
		a.aluU32R32(aluSub, psx.ScratchpadBase, regAX)
		a.aluU32R32(aluCmp, psx.ScratchpadSize, regAX)
		jscr := a.ifBelow()
		{
			a.aluOffPr64R64(aluRmAdd, core.ScratchpadOff, stateReg, regAX)
			a.loadSized(w, signed, regAX)
		}
		jscre := a.elseJump(jscr)
		{
			// Device MMIO: the callback hands the loaded
			// value back in the second return register.
			fn := w.fnLoad
			if !signed {
				fn = w.fnLoadU
			}
			a.emulatorCall(fn)
			a.movR32R32(regDX, regAX)
		}
		a.bind(jscre)
	}
	a.bind(jrame)

	a.storeGuest(regAX, target)
}

func (a *Assembler) Lb(target psx.Reg, offset int16, addr psx.Reg) {
	a.load(widthByte, true, target, offset, addr, true)
}

func (a *Assembler) Lbu(target psx.Reg, offset int16, addr psx.Reg) {
	a.load(widthByte, false, target, offset, addr, true)
}

func (a *Assembler) Lh(target psx.Reg, offset int16, addr psx.Reg) {
	a.load(widthHalf, true, target, offset, addr, true)
}

func (a *Assembler) Lhu(target psx.Reg, offset int16, addr psx.Reg) {
	a.load(widthHalf, false, target, offset, addr, true)
}

func (a *Assembler) Lw(target psx.Reg, offset int16, addr psx.Reg) {
	a.load(widthWord, true, target, offset, addr, true)
}

func (a *Assembler) LwNoAlign(target psx.Reg, offset int16, addr psx.Reg) {
	a.load(widthWord, true, target, offset, addr, false)
}
