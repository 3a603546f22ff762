package decode

/*
 * PSX - Decoder tests
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

	"github.com/rcornwell/PSX/emu/psx"
)

// Hand assembled encodings used across the tests.
func aluRR(fn uint32, rd, rs, rt psx.Reg) uint32 {
	return uint32(rs)<<21 | uint32(rt)<<16 | uint32(rd)<<11 | fn
}

func aluRI(op uint32, rt, rs psx.Reg, imm uint16) uint32 {
	return op<<26 | uint32(rs)<<21 | uint32(rt)<<16 | uint32(imm)
}

func shiftRI(fn uint32, rd, rt psx.Reg, shift uint32) uint32 {
	return uint32(rt)<<16 | uint32(rd)<<11 | shift<<6 | fn
}

func TestDecodeTypes(t *testing.T) {
	tests := []struct {
		name string
		ins  uint32
		want Type
	}{
		{"nop", 0, Nop},
		{"sll r1,r1,4", shiftRI(psx.FnSll, psx.RegAT, psx.RegAT, 4), Simple},
		{"sll r0,r1,4", shiftRI(psx.FnSll, psx.RegR0, psx.RegAT, 4), Nop},
		{"addu r0", aluRR(psx.FnAddu, psx.RegR0, psx.RegT0, psx.RegT1), Nop},
		{"add r0", aluRR(psx.FnAdd, psx.RegR0, psx.RegT0, psx.RegT1), Simple},
		{"sub r0", aluRR(psx.FnSub, psx.RegR0, psx.RegT0, psx.RegT1), Simple},
		{"jr", aluRR(psx.FnJr, 0, psx.RegRA, 0), BranchAlways},
		{"jalr", aluRR(psx.FnJalr, psx.RegRA, psx.RegT0, 0), BranchAlways},
		{"syscall", psx.FnSyscall, Exception},
		{"break", 0xdead<<6 | psx.FnBreak, Exception},
		{"j", psx.OpJ << 26, BranchAlways},
		{"jal", psx.OpJal << 26, BranchAlways},
		{"beq t0,t1", aluRI(psx.OpBeq, psx.RegT1, psx.RegT0, 8), BranchCond},
		{"beq t0,t0", aluRI(psx.OpBeq, psx.RegT0, psx.RegT0, 8), BranchAlways},
		{"bne t0,t1", aluRI(psx.OpBne, psx.RegT1, psx.RegT0, 8), BranchCond},
		{"bne t0,t0", aluRI(psx.OpBne, psx.RegT0, psx.RegT0, 8), Nop},
		{"blez", aluRI(psx.OpBlez, 0, psx.RegT0, 8), BranchCond},
		{"bgtz", aluRI(psx.OpBgtz, 0, psx.RegT0, 8), BranchCond},
		{"addi r0", aluRI(psx.OpAddi, psx.RegR0, psx.RegT0, 1), Simple},
		{"addiu r0", aluRI(psx.OpAddiu, psx.RegR0, psx.RegT0, 1), Nop},
		{"ori r0", aluRI(psx.OpOri, psx.RegR0, psx.RegT0, 1), Nop},
		{"lui r0", aluRI(psx.OpLui, psx.RegR0, 0, 1), Nop},
		{"lui", aluRI(psx.OpLui, psx.RegT0, 0, 0xbeef), Simple},
		{"lb", aluRI(psx.OpLb, psx.RegT0, psx.RegSP, 0), Load},
		{"lw", aluRI(psx.OpLw, psx.RegT0, psx.RegSP, 0), Load},
		{"lwl", aluRI(psx.OpLwl, psx.RegT0, psx.RegSP, 3), LoadCombine},
		{"lwr", aluRI(psx.OpLwr, psx.RegT0, psx.RegSP, 0), LoadCombine},
		{"sw", aluRI(psx.OpSw, psx.RegT0, psx.RegSP, 0), Simple},
		{"swl", aluRI(psx.OpSwl, psx.RegT0, psx.RegSP, 3), StoreNoAlign},
		{"swr", aluRI(psx.OpSwr, psx.RegT0, psx.RegSP, 0), StoreNoAlign},
		{"mfc0 sr", psx.OpCop0<<26 | uint32(psx.RegT0)<<16 | 12<<11, Load},
		{"mfc2", psx.OpCop2<<26 | uint32(psx.RegT0)<<16 | 9<<11, Load},
		{"cfc2", psx.OpCop2<<26 | psx.CopCfc<<21 | uint32(psx.RegT0)<<16, Load},
		{"lwc2", aluRI(psx.OpLwc2, psx.RegT0, psx.RegSP, 0), Load},
		{"illegal primary", 0x18 << 26, Simple},
	}

	for _, tc := range tests {
		op := Decode(tc.ins)
		if op.Type != tc.want {
			t.Errorf("%s (0x%08x): type %s, want %s",
				tc.name, tc.ins, op.Type, tc.want)
		}
	}
}

func TestDecodeRegisters(t *testing.T) {
	op := Decode(aluRR(psx.FnAddu, psx.RegV0, psx.RegA0, psx.RegA1))
	if op.Target != psx.RegV0 || op.Op0 != psx.RegA0 || op.Op1 != psx.RegA1 {
		t.Errorf("addu registers: %s, %s, %s", op.Target, op.Op0, op.Op1)
	}

	// MULT tracks LO as its target; HI and LO can't collide with
	// GPR hazards.
	op = Decode(aluRR(psx.FnMult, 0, psx.RegT0, psx.RegT1))
	if op.Target != psx.RegLO || op.Op0 != psx.RegT0 || op.Op1 != psx.RegT1 {
		t.Errorf("mult registers: %s, %s, %s", op.Target, op.Op0, op.Op1)
	}

	op = Decode(aluRR(psx.FnMfhi, psx.RegT2, 0, 0))
	if op.Target != psx.RegT2 || op.Op0 != psx.RegHI {
		t.Errorf("mfhi registers: %s, %s", op.Target, op.Op0)
	}

	op = Decode(aluRR(psx.FnMtlo, 0, psx.RegT3, 0))
	if op.Target != psx.RegLO || op.Op0 != psx.RegT3 {
		t.Errorf("mtlo registers: %s, %s", op.Target, op.Op0)
	}
}

func TestDecodeImmediates(t *testing.T) {
	op := Decode(aluRI(psx.OpAddiu, psx.RegT0, psx.RegT0, 0xfffc))
	if op.SImm() != -4 {
		t.Errorf("addiu immediate: %d, want -4", op.SImm())
	}

	op = Decode(aluRI(psx.OpOri, psx.RegT0, psx.RegT0, 0xfffc))
	if op.Imm != 0xfffc {
		t.Errorf("ori immediate: 0x%x, want zero extension", op.Imm)
	}

	op = Decode(aluRI(psx.OpLui, psx.RegT0, 0, 0xbeef))
	if op.Imm != 0xbeef0000 {
		t.Errorf("lui immediate: 0x%x", op.Imm)
	}

	op = Decode(psx.OpJ<<26 | 0x123456)
	if op.Imm != 0x123456<<2 {
		t.Errorf("jump target: 0x%x", op.Imm)
	}

	op = Decode(0xdead<<6 | psx.FnBreak)
	if op.Imm != 0xdead {
		t.Errorf("break code: 0x%x", op.Imm)
	}
}

// The BXX opcode encodes four branches: bit 16 picks the condition
// and bits 17-20 = 0b1000 the linking variants, which always write
// RA.
func TestDecodeBxx(t *testing.T) {
	bxx := func(variant uint32) OpDesc {
		return Decode(psx.OpBxx<<26 | uint32(psx.RegT0)<<21 | variant<<16 | 8)
	}

	if op := bxx(0x00); op.Type != BranchCond || op.Target != psx.RegR0 {
		t.Errorf("bltz: type %s target %s", op.Type, op.Target)
	}
	if op := bxx(0x01); op.Type != BranchCond || op.Target != psx.RegR0 {
		t.Errorf("bgez: type %s target %s", op.Type, op.Target)
	}
	if op := bxx(0x10); op.Target != psx.RegRA {
		t.Errorf("bltzal: target %s, want ra", op.Target)
	}
	if op := bxx(0x11); op.Target != psx.RegRA {
		t.Errorf("bgezal: target %s, want ra", op.Target)
	}
	// Other rt values are plain BLTZ/BGEZ, not linking.
	if op := bxx(0x02); op.Target != psx.RegR0 {
		t.Errorf("bltz (rt=2): target %s, want r0", op.Target)
	}
}
