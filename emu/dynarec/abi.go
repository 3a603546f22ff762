package dynarec

/*
 * PSX - Callback handlers reachable from generated code
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
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/rcornwell/PSX/emu/psx"
	"github.com/rcornwell/PSX/util/debug"
)

// Assembly thunks; their addresses are stored into the state so
// generated code can reach them with an indirect call.
func dynasmExecute(state uintptr, fn uintptr, counter int32) (uint32, int32)

func dynabiMemorySW()
func dynabiMemorySH()
func dynabiMemorySB()
func dynabiMemoryLW()
func dynabiMemoryLH()
func dynabiMemoryLB()
func dynabiMemoryLHU()
func dynabiMemoryLBU()
func dynabiSetCop0SR()
func dynabiSetCop0Cause()
func dynabiSetCop0Misc()
func dynabiException()
func dynabiResolve()

// funcAddr returns the entry address of an assembly function.
func funcAddr(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}

// Generated code identifies its machine by the state pointer; the
// handlers map it back to the owning Dynarec. One entry per emulated
// machine, so the map stays tiny.
var (
	instancesMu sync.Mutex
	instances   = map[uintptr]*Dynarec{}
)

func registerInstance(key uintptr, d *Dynarec) {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	instances[key] = d
}

func dropInstance(key uintptr) {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	delete(instances, key)
}

func instance(key uintptr) *Dynarec {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	return instances[key]
}

func goMemorySW(state uintptr, val, addr uint32, counter int32) int32 {
	d := instance(state)
	if d.bus == nil {
		debug.Debugf("mem", debug.MaskMem, "unhandled sw 0x%08x @ 0x%08x",
			val, addr)
		return counter
	}
	debug.Debugf("mem", debug.MaskMem, "sw 0x%08x @ 0x%08x", val, addr)
	d.bus.StoreWord(addr, val)
	return counter
}

func goMemorySH(state uintptr, val, addr uint32, counter int32) int32 {
	d := instance(state)
	if d.bus == nil {
		debug.Debugf("mem", debug.MaskMem, "unhandled sh 0x%04x @ 0x%08x",
			val, addr)
		return counter
	}
	d.bus.StoreHalf(addr, uint16(val))
	return counter
}

func goMemorySB(state uintptr, val, addr uint32, counter int32) int32 {
	d := instance(state)
	if d.bus == nil {
		debug.Debugf("mem", debug.MaskMem, "unhandled sb 0x%02x @ 0x%08x",
			val, addr)
		return counter
	}
	d.bus.StoreByte(addr, uint8(val))
	return counter
}

func goMemoryLW(state uintptr, _, addr uint32, counter int32) (int32, uint32) {
	d := instance(state)
	if d.bus == nil {
		debug.Debugf("mem", debug.MaskMem, "unhandled lw @ 0x%08x", addr)
		return counter, 0
	}
	return counter, d.bus.LoadWord(addr)
}

func goMemoryLH(state uintptr, _, addr uint32, counter int32) (int32, uint32) {
	d := instance(state)
	if d.bus == nil {
		return counter, 0
	}
	return counter, uint32(int32(int16(d.bus.LoadHalf(addr))))
}

func goMemoryLB(state uintptr, _, addr uint32, counter int32) (int32, uint32) {
	d := instance(state)
	if d.bus == nil {
		return counter, 0
	}
	return counter, uint32(int32(int8(d.bus.LoadByte(addr))))
}

func goMemoryLHU(state uintptr, _, addr uint32, counter int32) (int32, uint32) {
	d := instance(state)
	if d.bus == nil {
		return counter, 0
	}
	return counter, uint32(d.bus.LoadHalf(addr))
}

func goMemoryLBU(state uintptr, _, addr uint32, counter int32) (int32, uint32) {
	d := instance(state)
	if d.bus == nil {
		return counter, 0
	}
	return counter, uint32(d.bus.LoadByte(addr))
}

func goSetCop0SR(state uintptr, val, _ uint32, counter int32) int32 {
	d := instance(state)
	d.state.Cop0[psx.Cop0SR] = val
	return counter
}

func goSetCop0Cause(state uintptr, val, _ uint32, counter int32) int32 {
	d := instance(state)
	// Only the software interrupt bits are writable.
	cause := d.state.Cop0[psx.Cop0Cause]
	d.state.Cop0[psx.Cop0Cause] = cause&^0x300 | val&0x300
	return counter
}

func goSetCop0Misc(state uintptr, val, reg uint32, counter int32) int32 {
	d := instance(state)
	switch psx.Cop0Reg(reg) {
	case psx.Cop0BPC, psx.Cop0BDA, psx.Cop0DCIC, psx.Cop0BDAM, psx.Cop0BPCM:
		d.state.Cop0[reg&0xf] = val
	default:
		debug.Debugf("mem", debug.MaskMem,
			"write to read-only COP0 register %d: 0x%08x", reg, val)
	}
	return counter
}

// goException updates the COP0 state for a guest exception and moves
// the PC to the handler vector. The faulting PC was stored by the
// generated code before the call.
func goException(state uintptr, cause, _ uint32, counter int32) int32 {
	d := instance(state)
	s := d.state

	debug.Debugf("exc", debug.MaskExc, "exception %d @ 0x%08x", cause, s.PC)

	// Push the interrupt/mode stack in SR.
	sr := s.Cop0[psx.Cop0SR]
	mode := sr & 0x3f
	s.Cop0[psx.Cop0SR] = sr&^0x3f | mode<<2&0x3f

	s.Cop0[psx.Cop0Cause] = uint32(cause) << 2
	s.Cop0[psx.Cop0EPC] = s.PC

	if sr&(1<<22) != 0 {
		s.PC = psx.ExcVectorBEV
	} else {
		s.PC = psx.ExcVector
	}

	return counter
}

// goResolve is the link trampoline's upcall: compile the target if
// needed, patch the call site and hand back the destination.
func goResolve(state uintptr, target, patchOff uint32, counter int32) (int32, uintptr) {
	d := instance(state)

	dest, err := d.comp.ResolveAndPatch(target, patchOff)
	if err != nil {
		slog.Error("link resolution failed",
			"target", fmt.Sprintf("0x%08x", target), "err", err)
		// Punt to the escape hatch; the block exits with an
		// UNIMPLEMENTED code and the host sorts it out.
		return counter, d.escape
	}
	return counter, dest
}
