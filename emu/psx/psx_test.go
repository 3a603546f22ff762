package psx

/*
 * PSX - Guest CPU definition tests
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

import "testing"

func TestMaskRegion(t *testing.T) {
	tests := []struct {
		addr uint32
		want uint32
	}{
		{0x00000000, 0x00000000},
		{0x00123456, 0x00123456}, // KUSEG stays put
		{0x80001234, 0x00001234}, // KSEG0
		{0x9fc00000, 0x1fc00000},
		{0xa0001234, 0x00001234}, // KSEG1
		{0xbfc00000, 0x1fc00000},
		{0xc0001234, 0xc0001234}, // KSEG2 untouched
		{0xfffe0130, 0xfffe0130},
	}

	for _, tc := range tests {
		if got := MaskRegion(tc.addr); got != tc.want {
			t.Errorf("MaskRegion(0x%08x) = 0x%08x, want 0x%08x",
				tc.addr, got, tc.want)
		}
	}
}

func TestPageIndex(t *testing.T) {
	tests := []struct {
		addr uint32
		want int32
	}{
		{0x00000000, 0},
		{0x000007ff, 0},
		{0x00000800, 1},
		{0x001fffff, RAMPages - 1},
		{0x00200000, 0}, // first RAM mirror
		{0x80000800, 1}, // KSEG0 RAM
		{0xa0000800, 1}, // KSEG1 RAM
		{0xbfc00000, RAMPages},
		{0xbfc7ffff, TotalPages - 1},
		{0x1f000000, -1}, // expansion 1, unhandled
		{0x1f800000, -1}, // scratchpad isn't recompiled
	}

	for _, tc := range tests {
		if got := PageIndex(tc.addr); got != tc.want {
			t.Errorf("PageIndex(0x%08x) = %d, want %d",
				tc.addr, got, tc.want)
		}
	}
}

func TestRegNames(t *testing.T) {
	if RegR0.String() != "r0" || RegRA.String() != "ra" ||
		RegDT.String() != "dt" || RegLO.String() != "lo" {
		t.Errorf("register names are off: %s %s %s %s",
			RegR0, RegRA, RegDT, RegLO)
	}
	if Reg(200).String() != "r?" {
		t.Errorf("out of range register name: %s", Reg(200))
	}
}

func TestInsFields(t *testing.T) {
	// addiu t1, t0, -4
	const ins = 0x2509fffc

	if InsRegS(ins) != RegT0 || InsRegT(ins) != RegT1 {
		t.Errorf("register fields: rs=%s rt=%s", InsRegS(ins), InsRegT(ins))
	}
	if InsImm(ins) != 0xfffc {
		t.Errorf("InsImm = 0x%04x", InsImm(ins))
	}
	if InsImmSe(ins) != 0xfffffffc {
		t.Errorf("InsImmSe = 0x%08x", InsImmSe(ins))
	}
}
