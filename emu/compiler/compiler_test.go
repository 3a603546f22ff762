package compiler

/*
 * PSX - Block compiler tests
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
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/rcornwell/PSX/emu/core"
	"github.com/rcornwell/PSX/emu/psx"
)

// fakeBackend records the operations the compiler asks for instead
// of encoding them, so the scheduling logic can be checked without a
// host CPU in the loop. Every recorded op advances the fake cursor
// so block length accounting stays plausible.
type fakeBackend struct {
	ops []string
	off uint32
}

func (f *fakeBackend) rec(format string, a ...any) {
	f.ops = append(f.ops, fmt.Sprintf(format, a...))
	f.off += 16
}

func (f *fakeBackend) Offset() uint32 { return f.off }
func (f *fakeBackend) SetOffset(off uint32) { f.off = off }
func (f *fakeBackend) SetPC(uint32) {}

func (f *fakeBackend) EmitLinkTrampoline() { f.rec("trampoline") }
func (f *fakeBackend) PatchLink(site, dest uint32) { f.rec("patch %x %x", site, dest) }
func (f *fakeBackend) BlockPrologue(base uint32) { f.rec("prologue %08x", base) }
func (f *fakeBackend) CounterMaintenance(cy uint32) { f.rec("cycles %d", cy) }

func (f *fakeBackend) Li(t psx.Reg, v uint32) { f.rec("li %s, %08x", t, v) }
func (f *fakeBackend) Mov(t, s psx.Reg) { f.rec("mov %s, %s", t, s) }

func (f *fakeBackend) Sll(t, s psx.Reg, sh uint8) { f.rec("sll %s, %s, %d", t, s, sh) }
func (f *fakeBackend) Srl(t, s psx.Reg, sh uint8) { f.rec("srl %s, %s, %d", t, s, sh) }
func (f *fakeBackend) Sra(t, s psx.Reg, sh uint8) { f.rec("sra %s, %s, %d", t, s, sh) }
func (f *fakeBackend) Sllv(t, s, sh psx.Reg) { f.rec("sllv %s, %s, %s", t, s, sh) }
func (f *fakeBackend) Srlv(t, s, sh psx.Reg) { f.rec("srlv %s, %s, %s", t, s, sh) }
func (f *fakeBackend) Srav(t, s, sh psx.Reg) { f.rec("srav %s, %s, %s", t, s, sh) }

func (f *fakeBackend) Mult(a, b psx.Reg) { f.rec("mult %s, %s", a, b) }
func (f *fakeBackend) Multu(a, b psx.Reg) { f.rec("multu %s, %s", a, b) }
func (f *fakeBackend) Div(n, d psx.Reg) { f.rec("div %s, %s", n, d) }
func (f *fakeBackend) Divu(n, d psx.Reg) { f.rec("divu %s, %s", n, d) }

func (f *fakeBackend) Addi(t, s psx.Reg, v uint32) { f.rec("addi %s, %s, %x", t, s, v) }
func (f *fakeBackend) Addiu(t, s psx.Reg, v uint32) { f.rec("addiu %s, %s, %x", t, s, v) }
func (f *fakeBackend) Add(t, a, b psx.Reg) { f.rec("add %s, %s, %s", t, a, b) }
func (f *fakeBackend) Addu(t, a, b psx.Reg) { f.rec("addu %s, %s, %s", t, a, b) }
func (f *fakeBackend) Sub(t, a, b psx.Reg) { f.rec("sub %s, %s, %s", t, a, b) }
func (f *fakeBackend) Subu(t, a, b psx.Reg) { f.rec("subu %s, %s, %s", t, a, b) }
func (f *fakeBackend) Neg(t, s psx.Reg) { f.rec("neg %s, %s", t, s) }

func (f *fakeBackend) And(t, a, b psx.Reg) { f.rec("and %s, %s, %s", t, a, b) }
func (f *fakeBackend) Or(t, a, b psx.Reg) { f.rec("or %s, %s, %s", t, a, b) }
func (f *fakeBackend) Xor(t, a, b psx.Reg) { f.rec("xor %s, %s, %s", t, a, b) }
func (f *fakeBackend) Nor(t, a, b psx.Reg) { f.rec("nor %s, %s, %s", t, a, b) }
func (f *fakeBackend) Not(t, s psx.Reg) { f.rec("not %s, %s", t, s) }
func (f *fakeBackend) Andi(t, s psx.Reg, v uint32) { f.rec("andi %s, %s, %x", t, s, v) }
func (f *fakeBackend) Ori(t, s psx.Reg, v uint32) { f.rec("ori %s, %s, %x", t, s, v) }
func (f *fakeBackend) Xori(t, s psx.Reg, v uint32) { f.rec("xori %s, %s, %x", t, s, v) }
func (f *fakeBackend) Slt(t, a, b psx.Reg) { f.rec("slt %s, %s, %s", t, a, b) }
func (f *fakeBackend) Sltu(t, a, b psx.Reg) { f.rec("sltu %s, %s, %s", t, a, b) }
func (f *fakeBackend) Slti(t, s psx.Reg, v int32) { f.rec("slti %s, %s, %d", t, s, v) }
func (f *fakeBackend) Sltiu(t, s psx.Reg, v uint32) { f.rec("sltiu %s, %s, %x", t, s, v) }

func (f *fakeBackend) Lb(t psx.Reg, o int16, b psx.Reg) { f.rec("lb %s, %d(%s)", t, o, b) }
func (f *fakeBackend) Lbu(t psx.Reg, o int16, b psx.Reg) { f.rec("lbu %s, %d(%s)", t, o, b) }
func (f *fakeBackend) Lh(t psx.Reg, o int16, b psx.Reg) { f.rec("lh %s, %d(%s)", t, o, b) }
func (f *fakeBackend) Lhu(t psx.Reg, o int16, b psx.Reg) { f.rec("lhu %s, %d(%s)", t, o, b) }
func (f *fakeBackend) Lw(t psx.Reg, o int16, b psx.Reg) { f.rec("lw %s, %d(%s)", t, o, b) }
func (f *fakeBackend) LwNoAlign(t psx.Reg, o int16, b psx.Reg) {
	f.rec("lw_noalign %s, %d(%s)", t, o, b)
}

func (f *fakeBackend) Sb(b psx.Reg, o int16, v psx.Reg) { f.rec("sb %s, %d(%s)", v, o, b) }
func (f *fakeBackend) Sh(b psx.Reg, o int16, v psx.Reg) { f.rec("sh %s, %d(%s)", v, o, b) }
func (f *fakeBackend) Sw(b psx.Reg, o int16, v psx.Reg) { f.rec("sw %s, %d(%s)", v, o, b) }
func (f *fakeBackend) SwNoAlign(b psx.Reg, o int16, v psx.Reg) {
	f.rec("sw_noalign %s, %d(%s)", v, o, b)
}

func (f *fakeBackend) Mfc0(t psx.Reg, c psx.Cop0Reg) { f.rec("mfc0 %s, %d", t, c) }
func (f *fakeBackend) Mtc0(s psx.Reg, c psx.Cop0Reg) { f.rec("mtc0 %s, %d", s, c) }
func (f *fakeBackend) Rfe() { f.rec("rfe") }

func (f *fakeBackend) JumpImm(target, dest uint32, patch bool) {
	if patch {
		f.rec("jump %08x patch", target)
	} else {
		f.rec("jump %08x direct %x", target, dest)
	}
}

func (f *fakeBackend) JumpImmCond(target, dest uint32, patch bool,
	a, b psx.Reg, cond JumpCond) {
	f.rec("jcond %d %s, %s, %08x", cond, a, b, target)
}

func (f *fakeBackend) JumpReg(t psx.Reg) { f.rec("jreg %s", t) }

func (f *fakeBackend) Exception(c psx.Exception) { f.rec("exception %d", c) }
func (f *fakeBackend) Exit(code core.ExitCode, payload uint32) {
	f.rec("exit %s %x", code, payload)
}

// Pseudo-assembler helpers.
func opRI(op uint32, rt, rs psx.Reg, imm uint16) uint32 {
	return op<<26 | uint32(rs)<<21 | uint32(rt)<<16 | uint32(imm)
}

func opRR(fn uint32, rd, rs, rt psx.Reg) uint32 {
	return uint32(rs)<<21 | uint32(rt)<<16 | uint32(rd)<<11 | fn
}

func brk(code uint32) uint32 {
	return code<<6 | psx.FnBreak
}

func newTestCompiler(t *testing.T) (*Compiler, *fakeBackend, *core.State) {
	t.Helper()

	state, err := core.New(make([]byte, psx.RAMSize),
		make([]byte, psx.ScratchpadSize), make([]byte, psx.BIOSSize))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { state.Delete() })

	be := &fakeBackend{}
	c := New(state, be)
	return c, be, state
}

func loadCode(state *core.State, addr uint32, code []uint32) {
	for i, ins := range code {
		binary.LittleEndian.PutUint32(
			state.RAMBuf[addr+uint32(i)*4:], ins)
	}
}

func hasOp(be *fakeBackend, want string) bool {
	for _, op := range be.ops {
		if op == want {
			return true
		}
	}
	return false
}

func opIndex(t *testing.T, be *fakeBackend, want string) int {
	t.Helper()
	for i, op := range be.ops {
		if op == want {
			return i
		}
	}
	t.Fatalf("op %q not emitted; got:\n  %s", want,
		strings.Join(be.ops, "\n  "))
	return -1
}

func TestFoldLwlLwr(t *testing.T) {
	c, be, state := newTestCompiler(t)

	loadCode(state, 0, []uint32{
		opRI(psx.OpLwl, psx.RegT0, psx.RegS0, 3),
		opRI(psx.OpLwr, psx.RegT0, psx.RegS0, 0),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}

	opIndex(t, be, "lw_noalign t0, 0(s0)")
	if hasOp(be, fmt.Sprintf("exit %s %x", core.ExitUnimplemented,
		core.UnimplOpcode)) {
		t.Errorf("folded pair still emitted the unpaired fallback:\n  %s",
			strings.Join(be.ops, "\n  "))
	}
}

func TestFoldLwrLwlReversed(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// LWR first works just as well.
	loadCode(state, 0, []uint32{
		opRI(psx.OpLwr, psx.RegT1, psx.RegS0, 4),
		opRI(psx.OpLwl, psx.RegT1, psx.RegS0, 7),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}
	opIndex(t, be, "lw_noalign t1, 4(s0)")
}

func TestNoFoldOffsetMismatch(t *testing.T) {
	c, be, state := newTestCompiler(t)

	loadCode(state, 0, []uint32{
		opRI(psx.OpLwl, psx.RegT0, psx.RegS0, 4),
		opRI(psx.OpLwr, psx.RegT0, psx.RegS0, 0),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}
	if hasOp(be, "lw_noalign t0, 0(s0)") {
		t.Error("pair with mismatched offsets must not fold")
	}
}

func TestFoldSwlSwr(t *testing.T) {
	c, be, state := newTestCompiler(t)

	loadCode(state, 0, []uint32{
		opRI(psx.OpSwl, psx.RegT0, psx.RegS0, 3),
		opRI(psx.OpSwr, psx.RegT0, psx.RegS0, 0),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}
	opIndex(t, be, "sw_noalign t0, 0(s0)")
}

func TestBranchDelaySlotRunsFirst(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// The delay slot writes T2 which the branch doesn't read, so
	// no DT is needed but the ADDIU must still run before the
	// branch.
	loadCode(state, 0, []uint32{
		opRI(psx.OpBeq, psx.RegT1, psx.RegT0, 4),
		opRI(psx.OpAddiu, psx.RegT2, psx.RegT2, 1),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}

	ds := opIndex(t, be, "addiu t2, t2, 1")
	br := opIndex(t, be, "jcond 2 t0, t1, 00000014")
	if ds > br {
		t.Errorf("delay slot emitted after the branch:\n  %s",
			strings.Join(be.ops, "\n  "))
	}
	if hasOp(be, "mov dt, t2") {
		t.Error("DT snapshot emitted without a hazard")
	}
}

func TestBranchDelayHazardUsesDT(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// The delay slot overwrites T0, one of the branch operands:
	// the branch must compare the pre-slot value through DT.
	loadCode(state, 0, []uint32{
		opRI(psx.OpBeq, psx.RegT1, psx.RegT0, 4),
		opRI(psx.OpAddiu, psx.RegT0, psx.RegT0, 1),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}

	save := opIndex(t, be, "mov dt, t0")
	ds := opIndex(t, be, "addiu t0, t0, 1")
	br := opIndex(t, be, "jcond 2 dt, t1, 00000014")
	if !(save < ds && ds < br) {
		t.Errorf("bad emission order:\n  %s", strings.Join(be.ops, "\n  "))
	}
}

func TestBranchDelaySecondOperandDT(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// Same as above with the hazard on the second operand; the
	// rewrite must hit op1, not op0.
	loadCode(state, 0, []uint32{
		opRI(psx.OpBeq, psx.RegT1, psx.RegT0, 4),
		opRI(psx.OpAddiu, psx.RegT1, psx.RegT1, 1),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}
	opIndex(t, be, "jcond 2 t0, dt, 00000014")
}

func TestBranchLinkRace(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// BGEZAL writes RA; so does the delay slot. Nobody knows who
	// should win, so the block gives up.
	loadCode(state, 0, []uint32{
		psx.OpBxx<<26 | uint32(psx.RegT0)<<21 | 0x11<<16 | 4,
		opRI(psx.OpAddiu, psx.RegRA, psx.RegRA, 1),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}
	opIndex(t, be, fmt.Sprintf("exit %s %x", core.ExitUnimplemented,
		core.UnimplBranchRace))
}

func TestNestedBranchDelay(t *testing.T) {
	c, be, state := newTestCompiler(t)

	loadCode(state, 0, []uint32{
		psx.OpJ<<26 | 0x10,
		psx.OpJ<<26 | 0x20,
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}
	opIndex(t, be, fmt.Sprintf("exit %s %x", core.ExitUnimplemented,
		core.UnimplNestedDelay))
}

func TestLoadDelayOverwriteRetargetsR0(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// The LUI in the delay slot clobbers the loaded value; the
	// load only survives for its side effects.
	loadCode(state, 0, []uint32{
		opRI(psx.OpLw, psx.RegT0, psx.RegSP, 0),
		opRI(psx.OpLui, psx.RegT0, 0, 0xbeef),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}
	opIndex(t, be, "lw r0, 0(sp)")
	opIndex(t, be, "li t0, beef0000")
}

func TestLoadDelaySwap(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// The delay slot reads the loaded register, so it must run
	// first and see the pre-load value.
	loadCode(state, 0, []uint32{
		opRI(psx.OpLw, psx.RegT0, psx.RegSP, 0),
		opRI(psx.OpAddiu, psx.RegT1, psx.RegT0, 1),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}

	ds := opIndex(t, be, "addiu t1, t0, 1")
	ld := opIndex(t, be, "lw t0, 0(sp)")
	if ds > ld {
		t.Errorf("load emitted before its delay slot:\n  %s",
			strings.Join(be.ops, "\n  "))
	}
}

func TestLoadDelaySwapNeedsDT(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// The reordered delay slot writes the load's base register:
	// the load must go through the DT snapshot.
	loadCode(state, 0, []uint32{
		opRI(psx.OpLw, psx.RegT0, psx.RegT1, 0),
		opRI(psx.OpAddiu, psx.RegT1, psx.RegT0, 1),
		brk(0xdead),
	})

	if _, err := c.FindOrCompile(0); err != nil {
		t.Fatal(err)
	}

	save := opIndex(t, be, "mov dt, t1")
	ds := opIndex(t, be, "addiu t1, t0, 1")
	ld := opIndex(t, be, "lw t0, 0(dt)")
	if !(save < ds && ds < ld) {
		t.Errorf("bad emission order:\n  %s", strings.Join(be.ops, "\n  "))
	}
}

func TestSequentialBlockLinks(t *testing.T) {
	c, be, state := newTestCompiler(t)

	// A block that just runs off its end must link to the next
	// sequential address.
	loadCode(state, 0, []uint32{
		opRI(psx.OpAddiu, psx.RegT0, psx.RegT0, 1),
		opRI(psx.OpLui, psx.RegT1, 0, 0xbeef),
	})

	b, err := c.FindOrCompile(0)
	if err != nil {
		t.Fatal(err)
	}
	if b.Instructions < 2 {
		t.Errorf("block covers %d instructions", b.Instructions)
	}
	// The scan keeps going over the zero words (NOPs) until the
	// page instruction limit, then links to the next chunk.
	opIndex(t, be, fmt.Sprintf("jump %08x patch", b.Instructions*4))
}

func TestBlockStopsAtBranchAlways(t *testing.T) {
	c, be, state := newTestCompiler(t)

	loadCode(state, 0, []uint32{
		psx.OpJ<<26 | 0x100>>2,
		0, // nop
		opRI(psx.OpLui, psx.RegT0, 0, 0xdead),
	})

	b, err := c.FindOrCompile(0)
	if err != nil {
		t.Fatal(err)
	}

	if b.Instructions != 1 {
		t.Errorf("block covers %d instructions, want 1", b.Instructions)
	}
	if hasOp(be, "li t0, dead0000") {
		t.Error("scan ran past an unconditional jump")
	}
	opIndex(t, be, "jump 00000100 patch")
}

func TestSelfJumpLinksDirect(t *testing.T) {
	c, be, state := newTestCompiler(t)

	loadCode(state, 0, []uint32{
		psx.OpJ << 26, // j 0
		0,
	})

	b, err := c.FindOrCompile(0)
	if err != nil {
		t.Fatal(err)
	}
	opIndex(t, be, fmt.Sprintf("jump 00000000 direct %x", b.CodeOff))
}

func TestFindOrCompileIdempotent(t *testing.T) {
	c, _, state := newTestCompiler(t)

	loadCode(state, 0x100, []uint32{brk(0xdead)})

	b1, err := c.FindOrCompile(0x100)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := c.FindOrCompile(0x100)
	if err != nil {
		t.Fatal(err)
	}
	if b1 != b2 {
		t.Error("recompiled an up-to-date block")
	}

	if c.Find(0x100) != b1 {
		t.Error("Find doesn't return the compiled block")
	}
	if c.Find(0x104) != nil {
		t.Error("Find matched a PC inside the block")
	}
}

func TestInvalidation(t *testing.T) {
	c, _, state := newTestCompiler(t)

	loadCode(state, 0, []uint32{brk(0xdead)})
	loadCode(state, 0x40, []uint32{brk(0xbeef)})

	b1, err := c.FindOrCompile(0)
	if err != nil {
		t.Fatal(err)
	}
	other, err := c.FindOrCompile(0x40)
	if err != nil {
		t.Fatal(err)
	}

	// A guest store into the page clears the valid bit (emitted
	// code does this inline; poke it directly here).
	state.PageValid[0] = 0

	if c.Find(0) != nil {
		t.Error("Find returned a block from an invalidated page")
	}

	b2, err := c.FindOrCompile(0)
	if err != nil {
		t.Fatal(err)
	}
	if b2 == b1 {
		t.Error("invalidated block wasn't recompiled")
	}

	// Every block of the page went stale, not just the one that
	// got recompiled first.
	if got := c.Find(0x40); got == other {
		t.Error("sibling block in the invalidated page survived")
	}
}

func TestBadAddress(t *testing.T) {
	c, _, _ := newTestCompiler(t)

	if _, err := c.FindOrCompile(0x1f000000); err == nil {
		t.Fatal("compiling an unmapped address must fail")
	}
}
