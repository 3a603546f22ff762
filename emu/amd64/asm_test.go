package amd64

/*
 * PSX - AMD64 encoder tests
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
	"bytes"
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/rcornwell/PSX/emu/core"
	"github.com/rcornwell/PSX/emu/psx"
)

func testAsm() *Assembler {
	return &Assembler{buf: make([]byte, 16*1024)}
}

func (a *Assembler) bytesOut() []byte {
	return a.buf[:a.off]
}

// decodeAll decodes the emitted bytes back and fails on anything the
// reference disassembler rejects.
func decodeAll(t *testing.T, code []byte) []x86asm.Inst {
	t.Helper()

	var out []x86asm.Inst
	for len(code) > 0 {
		ins, err := x86asm.Decode(code, 64)
		if err != nil {
			t.Fatalf("undecodable bytes % x: %v", code, err)
		}
		out = append(out, ins)
		code = code[ins.Len:]
	}
	return out
}

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *Assembler)
		want []byte
	}{
		{
			// Immediate zero turns into the shorter xor.
			"clear eax",
			func(a *Assembler) { a.movU32R32(0, regAX) },
			[]byte{0x31, 0xc0},
		},
		{
			"clear r9d needs rex",
			func(a *Assembler) { a.movU32R32(0, regR9) },
			[]byte{0x45, 0x31, 0xc9},
		},
		{
			"mov imm32 to edx",
			func(a *Assembler) { a.movU32R32(0x12345678, regDX) },
			[]byte{0xba, 0x78, 0x56, 0x34, 0x12},
		},
		{
			"mov imm32 to r15d",
			func(a *Assembler) { a.movU32R32(1, regR15) },
			[]byte{0x41, 0xbf, 0x01, 0x00, 0x00, 0x00},
		},
		{
			"mov r32 to r32",
			func(a *Assembler) { a.movR32R32(regAX, regCX) },
			[]byte{0x89, 0xc1},
		},
		{
			"mov r8d to edx",
			func(a *Assembler) { a.movR32R32(regR8, regDX) },
			[]byte{0x44, 0x89, 0xc2},
		},
		{
			// Small state offsets use the disp8 form.
			"load disp8",
			func(a *Assembler) { a.movOffPr64R32(0x40, regDI, regAX) },
			[]byte{0x8b, 0x47, 0x40},
		},
		{
			"load disp32",
			func(a *Assembler) { a.movOffPr64R32(0x1234, regDI, regAX) },
			[]byte{0x8b, 0x87, 0x34, 0x12, 0x00, 0x00},
		},
		{
			"store r12d",
			func(a *Assembler) { a.movR32OffPr64(regR12, 0x40, regDI) },
			[]byte{0x44, 0x89, 0x67, 0x40},
		},
		{
			"add imm8",
			func(a *Assembler) { a.aluU32R32(aluAdd, 4, regDX) },
			[]byte{0x83, 0xc2, 0x04},
		},
		{
			// %eax keeps its short imm32 form.
			"add imm32 to eax",
			func(a *Assembler) { a.aluU32R32(aluAdd, 0x1234, regAX) },
			[]byte{0x05, 0x34, 0x12, 0x00, 0x00},
		},
		{
			"sub imm8 from ecx",
			func(a *Assembler) { a.aluU32R32(aluSub, 5, regCX) },
			[]byte{0x83, 0xe9, 0x05},
		},
		{
			"cmp imm32",
			func(a *Assembler) { a.aluU32R32(aluCmp, 0x800000, regDX) },
			[]byte{0x81, 0xfa, 0x00, 0x00, 0x80, 0x00},
		},
		{
			"shr imm",
			func(a *Assembler) { a.shiftU32R32(shiftShr, 29, regAX) },
			[]byte{0xc1, 0xe8, 0x1d},
		},
		{
			"sar imm on r13d",
			func(a *Assembler) { a.shiftU32R32(shiftSar, 16, regR13) },
			[]byte{0x41, 0xc1, 0xfd, 0x10},
		},
		{
			"push rdi",
			func(a *Assembler) { a.pushR64(regDI) },
			[]byte{0x57},
		},
		{
			"push r11",
			func(a *Assembler) { a.pushR64(regR11) },
			[]byte{0x41, 0x53},
		},
		{
			"call through state",
			func(a *Assembler) { a.callOffPr64(0x20, regDI) },
			[]byte{0xff, 0x57, 0x20},
		},
		{
			"jmp rdx",
			func(a *Assembler) { a.jmpR64(regDX) },
			[]byte{0xff, 0xe2},
		},
		{
			"byte store needs empty rex for sil",
			func(a *Assembler) { a.movR8Pr64(regSI, regDX) },
			[]byte{0x40, 0x88, 0x32},
		},
		{
			"halfword store",
			func(a *Assembler) { a.movR16Pr64(regSI, regAX) },
			[]byte{0x66, 0x89, 0x30},
		},
		{
			"movzx byte load",
			func(a *Assembler) { a.movExtPr64R32(0xb6, regDX, regAX) },
			[]byte{0x0f, 0xb6, 0x02},
		},
		{
			"movsx halfword load",
			func(a *Assembler) { a.movExtPr64R32(0xbf, regDX, regAX) },
			[]byte{0x0f, 0xbf, 0x02},
		},
		{
			"setl needs empty rex for sil",
			func(a *Assembler) { a.setccR8(0x9c, regSI) },
			[]byte{0x40, 0x0f, 0x9c, 0xc6},
		},
		{
			"cdq",
			func(a *Assembler) { a.cdq() },
			[]byte{0x99},
		},
		{
			"idiv esi",
			func(a *Assembler) { a.f7R32(f3Idiv, regSI) },
			[]byte{0xf7, 0xfe},
		},
		{
			"neg eax",
			func(a *Assembler) { a.f7R32(f3Neg, regAX) },
			[]byte{0xf7, 0xd8},
		},
		{
			"add 64-bit base",
			func(a *Assembler) { a.aluOffPr64R64(aluRmAdd, 0x28, regDI, regDX) },
			[]byte{0x48, 0x03, 0x57, 0x28},
		},
		{
			"and through sib",
			func(a *Assembler) {
				a.aluOffSibR32(aluRmAnd, 0x08, regDI, regAX, 4, regDX)
			},
			[]byte{0x23, 0x54, 0x87, 0x08},
		},
		{
			"imul imm8",
			func(a *Assembler) { a.imulU32R32R32(8, regAX, regDX) },
			[]byte{0x6b, 0xd0, 0x08},
		},
		{
			"imul imm32",
			func(a *Assembler) { a.imulU32R32R32(0x1234, regAX, regDX) },
			[]byte{0x69, 0xd0, 0x34, 0x12, 0x00, 0x00},
		},
		{
			"ret",
			func(a *Assembler) { a.ret() },
			[]byte{0xc3},
		},
	}

	for _, tc := range tests {
		a := testAsm()
		tc.emit(a)
		if !bytes.Equal(a.bytesOut(), tc.want) {
			t.Errorf("%s: got % x, want % x", tc.name, a.bytesOut(), tc.want)
		}
		decodeAll(t, a.bytesOut())
	}
}

func TestJump8Scopes(t *testing.T) {
	a := testAsm()

	// if (!=) { nop } else { nop; nop }
	j := a.ifNotEqual()
	a.b(0x90)
	je := a.elseJump(j)
	a.b(0x90, 0x90)
	a.bind(je)

	want := []byte{
		0x74, 0x03, // je over body and else-jump
		0x90,
		0xeb, 0x02, // jmp over else body
		0x90, 0x90,
	}
	if !bytes.Equal(a.bytesOut(), want) {
		t.Fatalf("got % x, want % x", a.bytesOut(), want)
	}
}

func TestJump8Overflow(t *testing.T) {
	a := testAsm()

	j := a.ifNotEqual()
	for i := 0; i < 128; i++ {
		a.b(0x90)
	}

	defer func() {
		if recover() == nil {
			t.Error("binding a >127 byte body must panic")
		}
	}()
	a.bind(j)
}

// Emit every backend operation once over a mix of pinned and
// memory-resident registers and make sure the reference disassembler
// accepts all of it.
func TestBackendDecodes(t *testing.T) {
	ram := make([]byte, psx.RAMSize)
	scratch := make([]byte, psx.ScratchpadSize)
	bios := make([]byte, psx.BIOSSize)
	state, err := core.New(ram, scratch, bios)
	if err != nil {
		t.Fatal(err)
	}
	defer state.Delete()

	a := New(state)
	a.SetOffset(0)
	a.SetPC(0x1000)

	a.EmitLinkTrampoline()
	a.BlockPrologue(0x1000)
	a.CounterMaintenance(10)

	a.Li(psx.RegT0, 0xdeadbeef) // pinned
	a.Li(psx.RegS0, 0xdeadbeef) // memory
	a.Mov(psx.RegT0, psx.RegS0)
	a.Mov(psx.RegS1, psx.RegS0)
	a.Sll(psx.RegT0, psx.RegT0, 4)
	a.Sra(psx.RegS0, psx.RegT1, 16)
	a.Sllv(psx.RegT0, psx.RegT1, psx.RegT2)
	a.Mult(psx.RegT0, psx.RegS0)
	a.Multu(psx.RegT0, psx.RegS0)
	a.Div(psx.RegT0, psx.RegS0)
	a.Divu(psx.RegT0, psx.RegS0)
	a.Addi(psx.RegT0, psx.RegS0, 1)
	a.Addiu(psx.RegT0, psx.RegT0, 0xfffffffc)
	a.Add(psx.RegT0, psx.RegT1, psx.RegS0)
	a.Subu(psx.RegS0, psx.RegS1, psx.RegT0)
	a.Neg(psx.RegT0, psx.RegS0)
	a.And(psx.RegT0, psx.RegT1, psx.RegS0)
	a.Nor(psx.RegT0, psx.RegT1, psx.RegS0)
	a.Ori(psx.RegT0, psx.RegT0, 0xcdef)
	a.Slt(psx.RegT0, psx.RegT1, psx.RegS0)
	a.Sltiu(psx.RegT0, psx.RegS0, 0x100)
	a.Lb(psx.RegT0, 4, psx.RegSP)
	a.Lhu(psx.RegS0, -2, psx.RegS1)
	a.Lw(psx.RegT0, 0, psx.RegSP)
	a.LwNoAlign(psx.RegT0, 1, psx.RegSP)
	a.Sb(psx.RegSP, 3, psx.RegT0)
	a.Sh(psx.RegS0, 2, psx.RegS1)
	a.Sw(psx.RegSP, 0, psx.RegR0)
	a.SwNoAlign(psx.RegSP, 1, psx.RegT0)
	a.Mfc0(psx.RegT0, psx.Cop0SR)
	a.Mtc0(psx.RegT0, psx.Cop0SR)
	a.Mtc0(psx.RegT0, psx.Cop0BPC)
	a.Rfe()
	a.JumpImm(0x2000, 0, true)
	a.JumpImmCond(0x2000, 0, true, psx.RegT0, psx.RegS0, 2)
	a.JumpReg(psx.RegT0)
	a.Exception(psx.ExcOverflow)
	a.Exit(core.ExitBreak, 0xdead)

	decodeAll(t, state.Map[:a.Offset()])
}
