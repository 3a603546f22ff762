package dynarec

/*
 * PSX - Dynamic recompiler front door
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
	"unsafe"

	"github.com/rcornwell/PSX/emu/amd64"
	"github.com/rcornwell/PSX/emu/compiler"
	"github.com/rcornwell/PSX/emu/core"
	"github.com/rcornwell/PSX/emu/psx"
)

// Bus is the boundary to the rest of the emulated machine: every
// load or store that falls outside RAM and the scratchpad is routed
// here (GPU, SPU, controllers, interrupt control and friends).
type Bus interface {
	StoreWord(addr, val uint32)
	StoreHalf(addr uint32, val uint16)
	StoreByte(addr uint32, val uint8)
	LoadWord(addr uint32) uint32
	LoadHalf(addr uint32) uint16
	LoadByte(addr uint32) uint8
}

// Dynarec ties the state, the compiler and the back-end together.
// One per emulated machine; single threaded.
type Dynarec struct {
	state *core.State
	asm   *amd64.Assembler
	comp  *compiler.Compiler
	bus   Bus
	// Host address of the escape block used when link resolution
	// fails.
	escape uintptr
}

// New builds a dynarec over the caller supplied guest memory
// buffers. RAM and the scratchpad are written through, the BIOS is
// only read.
func New(ram, scratchpad, bios []byte) (*Dynarec, error) {
	state, err := core.New(ram, scratchpad, bios)
	if err != nil {
		return nil, err
	}

	state.FnMemorySW = funcAddr(dynabiMemorySW)
	state.FnMemorySH = funcAddr(dynabiMemorySH)
	state.FnMemorySB = funcAddr(dynabiMemorySB)
	state.FnMemoryLW = funcAddr(dynabiMemoryLW)
	state.FnMemoryLH = funcAddr(dynabiMemoryLH)
	state.FnMemoryLB = funcAddr(dynabiMemoryLB)
	state.FnMemoryLHU = funcAddr(dynabiMemoryLHU)
	state.FnMemoryLBU = funcAddr(dynabiMemoryLBU)
	state.FnSetCop0SR = funcAddr(dynabiSetCop0SR)
	state.FnSetCop0Cause = funcAddr(dynabiSetCop0Cause)
	state.FnSetCop0Misc = funcAddr(dynabiSetCop0Misc)
	state.FnException = funcAddr(dynabiException)
	state.FnResolve = funcAddr(dynabiResolve)

	d := &Dynarec{state: state}
	d.asm = amd64.New(state)
	d.comp = compiler.New(state, d.asm)

	// Escape block: where the trampoline sends execution when a
	// target can't be compiled at all.
	escOff := core.Align(state.FreeOff, core.CacheLineSize)
	d.asm.SetOffset(escOff)
	d.asm.SetPC(0)
	d.asm.Exit(core.ExitUnimplemented, core.UnimplOpcode)
	state.FreeOff = core.Align(d.asm.Offset(), core.CacheLineSize)
	d.escape = state.CodeAddr(escOff)

	registerInstance(d.stateKey(), d)

	return d, nil
}

func (d *Dynarec) stateKey() uintptr {
	return uintptr(unsafe.Pointer(d.state))
}

// Delete tears the dynarec down and unmaps the code arena.
func (d *Dynarec) Delete() error {
	dropInstance(d.stateKey())
	return d.state.Delete()
}

// State exposes the raw machine state (registers, COP0, PC).
func (d *Dynarec) State() *core.State {
	return d.state
}

// Compiler exposes the block cache for inspection.
func (d *Dynarec) Compiler() *compiler.Compiler {
	return d.comp
}

// SetBus connects the MMIO boundary.
func (d *Dynarec) SetBus(bus Bus) {
	d.bus = bus
}

// SetOptions replaces the option flags.
func (d *Dynarec) SetOptions(options uint32) {
	d.state.Options = options
}

// SetPC sets the guest address execution resumes from.
func (d *Dynarec) SetPC(pc uint32) {
	d.state.SetPC(pc)
}

// SetDebugSink registers a per-block observer (GDB JIT interface).
func (d *Dynarec) SetDebugSink(sink compiler.DebugSink) {
	d.comp.SetDebugSink(sink)
}

// Reg reads a guest register.
func (d *Dynarec) Reg(r psx.Reg) uint32 {
	if r == psx.RegR0 {
		return 0
	}
	return d.state.Regs[r-1]
}

// SetReg writes a guest register. Writes to R0 are dropped.
func (d *Dynarec) SetReg(r psx.Reg, v uint32) {
	if r == psx.RegR0 {
		return
	}
	d.state.Regs[r-1] = v
}

// Run enters translated code at the current PC and executes until a
// block hands control back: counter expiry, BREAK/SYSCALL exit, an
// untranslatable sequence or a guest exception. Returns the exit
// code, its payload and the remaining cycle budget.
func (d *Dynarec) Run(cycles int32) (core.ExitCode, uint32, int32, error) {
	b, err := d.comp.FindOrCompile(d.state.PC)
	if err != nil {
		return 0, 0, cycles, err
	}

	ret, left := dynasmExecute(d.stateKey(),
		d.state.CodeAddr(b.CodeOff), cycles)

	return core.ExitCode(ret >> 28), ret & 0x0fffffff, left, nil
}
