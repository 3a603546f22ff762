package core

/*
 * PSX - State layout tests
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
	"testing"
	"unsafe"

	"github.com/rcornwell/PSX/emu/psx"
)

// The generated code and the assembly thunks address the state at
// fixed offsets; this pins the Go struct layout against them.
func TestStateOffsets(t *testing.T) {
	var s State

	check := func(name string, got uintptr, want uint32) {
		if got != uintptr(want) {
			t.Errorf("offset of %s: %d, want %d", name, got, want)
		}
	}

	check("PC", unsafe.Offsetof(s.PC), PCOff)
	check("RegionMask", unsafe.Offsetof(s.RegionMask), RegionMaskOff)
	check("RAM", unsafe.Offsetof(s.RAM), RAMOff)
	check("Scratchpad", unsafe.Offsetof(s.Scratchpad), ScratchpadOff)
	check("BIOS", unsafe.Offsetof(s.BIOS), BIOSOff)
	check("Regs", unsafe.Offsetof(s.Regs), RegsOff)
	check("PageValid", unsafe.Offsetof(s.PageValid), PageValidOff)
	check("Cop0", unsafe.Offsetof(s.Cop0), Cop0Off)
	check("FnMemorySW", unsafe.Offsetof(s.FnMemorySW), FnMemorySWOff)
	check("FnMemorySH", unsafe.Offsetof(s.FnMemorySH), FnMemorySHOff)
	check("FnMemorySB", unsafe.Offsetof(s.FnMemorySB), FnMemorySBOff)
	check("FnMemoryLW", unsafe.Offsetof(s.FnMemoryLW), FnMemoryLWOff)
	check("FnMemoryLH", unsafe.Offsetof(s.FnMemoryLH), FnMemoryLHOff)
	check("FnMemoryLB", unsafe.Offsetof(s.FnMemoryLB), FnMemoryLBOff)
	check("FnMemoryLHU", unsafe.Offsetof(s.FnMemoryLHU), FnMemoryLHUOff)
	check("FnMemoryLBU", unsafe.Offsetof(s.FnMemoryLBU), FnMemoryLBUOff)
	check("FnSetCop0SR", unsafe.Offsetof(s.FnSetCop0SR), FnSetCop0SROff)
	check("FnSetCop0Cause", unsafe.Offsetof(s.FnSetCop0Cause), FnSetCop0CauseOff)
	check("FnSetCop0Misc", unsafe.Offsetof(s.FnSetCop0Misc), FnSetCop0MiscOff)
	check("FnException", unsafe.Offsetof(s.FnException), FnExceptionOff)
	check("FnResolve", unsafe.Offsetof(s.FnResolve), FnResolveOff)
}

func TestRegOffset(t *testing.T) {
	if off := RegOffset(psx.RegAT); off != RegsOff {
		t.Errorf("offset of AT: %d", off)
	}
	if off := RegOffset(psx.RegRA); off != RegsOff+30*4 {
		t.Errorf("offset of RA: %d", off)
	}
	if off := RegOffset(psx.RegLO); off != RegsOff+33*4 {
		t.Errorf("offset of LO: %d", off)
	}

	defer func() {
		if recover() == nil {
			t.Error("RegOffset(R0) must panic")
		}
	}()
	RegOffset(psx.RegR0)
}

func TestAlign(t *testing.T) {
	tests := []struct{ len, align, want uint32 }{
		{0, 64, 0},
		{1, 64, 64},
		{64, 64, 64},
		{65, 64, 128},
		{4095, 4096, 4096},
	}
	for _, tc := range tests {
		if got := Align(tc.len, tc.align); got != tc.want {
			t.Errorf("Align(%d, %d) = %d, want %d",
				tc.len, tc.align, got, tc.want)
		}
	}
}

func TestNewRejectsBadSizes(t *testing.T) {
	_, err := New(make([]byte, 16), make([]byte, psx.ScratchpadSize),
		make([]byte, psx.BIOSSize))
	if err == nil {
		t.Fatal("expected an error for a short RAM buffer")
	}
}

func TestNewAndDelete(t *testing.T) {
	ram := make([]byte, psx.RAMSize)
	scratch := make([]byte, psx.ScratchpadSize)
	bios := make([]byte, psx.BIOSSize)

	s, err := New(ram, scratch, bios)
	if err != nil {
		t.Fatal(err)
	}

	if uint32(len(s.Map)) != MapLen() {
		t.Errorf("arena length %d, want %d", len(s.Map), MapLen())
	}
	if s.RegionMask != psx.RegionMask {
		t.Error("region mask table wasn't copied into the state")
	}

	// The arena must be writable; the first fault would crash the
	// test otherwise.
	s.Map[0] = 0xc3
	s.Map[len(s.Map)-1] = 0xc3

	if err := s.Delete(); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(); err != nil {
		t.Error("second Delete must be a no-op")
	}
}
