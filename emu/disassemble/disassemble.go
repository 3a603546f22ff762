package disassemble

/*
 * PSX - Guest instruction disassembler
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

	"github.com/rcornwell/PSX/emu/psx"
)

var fnNames = map[uint32]string{
	psx.FnSll: "sll", psx.FnSrl: "srl", psx.FnSra: "sra",
	psx.FnSllv: "sllv", psx.FnSrlv: "srlv", psx.FnSrav: "srav",
	psx.FnJr: "jr", psx.FnJalr: "jalr",
	psx.FnSyscall: "syscall", psx.FnBreak: "break",
	psx.FnMfhi: "mfhi", psx.FnMthi: "mthi",
	psx.FnMflo: "mflo", psx.FnMtlo: "mtlo",
	psx.FnMult: "mult", psx.FnMultu: "multu",
	psx.FnDiv: "div", psx.FnDivu: "divu",
	psx.FnAdd: "add", psx.FnAddu: "addu",
	psx.FnSub: "sub", psx.FnSubu: "subu",
	psx.FnAnd: "and", psx.FnOr: "or",
	psx.FnXor: "xor", psx.FnNor: "nor",
	psx.FnSlt: "slt", psx.FnSltu: "sltu",
}

var loadStoreNames = map[uint32]string{
	psx.OpLb: "lb", psx.OpLh: "lh", psx.OpLwl: "lwl", psx.OpLw: "lw",
	psx.OpLbu: "lbu", psx.OpLhu: "lhu", psx.OpLwr: "lwr",
	psx.OpSb: "sb", psx.OpSh: "sh", psx.OpSwl: "swl", psx.OpSw: "sw",
	psx.OpSwr: "swr", psx.OpLwc2: "lwc2", psx.OpSwc2: "swc2",
}

var immNames = map[uint32]string{
	psx.OpAddi: "addi", psx.OpAddiu: "addiu",
	psx.OpSlti: "slti", psx.OpSltiu: "sltiu",
	psx.OpAndi: "andi", psx.OpOri: "ori", psx.OpXori: "xori",
}

// branchTarget resolves a relative branch to an absolute guest
// address. The offset is relative to the delay slot.
func branchTarget(pc, ins uint32) uint32 {
	return pc + 4 + psx.InsImmSe(ins)<<2
}

func disasmFn(ins uint32) string {
	name, ok := fnNames[psx.InsFn(ins)]
	if !ok {
		return fmt.Sprintf("?fn(0x%02x)", psx.InsFn(ins))
	}

	d, t, s := psx.InsRegD(ins), psx.InsRegT(ins), psx.InsRegS(ins)

	switch psx.InsFn(ins) {
	case psx.FnSll, psx.FnSrl, psx.FnSra:
		if ins == 0 {
			return "nop"
		}
		return fmt.Sprintf("%s %s, %s, %d", name, d, t, psx.InsShift(ins))
	case psx.FnSllv, psx.FnSrlv, psx.FnSrav:
		return fmt.Sprintf("%s %s, %s, %s", name, d, t, s)
	case psx.FnJr, psx.FnMthi, psx.FnMtlo:
		return fmt.Sprintf("%s %s", name, s)
	case psx.FnJalr:
		return fmt.Sprintf("%s %s, %s", name, d, s)
	case psx.FnSyscall, psx.FnBreak:
		return fmt.Sprintf("%s 0x%x", name, psx.InsCode(ins))
	case psx.FnMfhi, psx.FnMflo:
		return fmt.Sprintf("%s %s", name, d)
	case psx.FnMult, psx.FnMultu, psx.FnDiv, psx.FnDivu:
		return fmt.Sprintf("%s %s, %s", name, s, t)
	default:
		return fmt.Sprintf("%s %s, %s, %s", name, d, s, t)
	}
}

func disasmCop(ins uint32, cop int) string {
	n := func(op string) string { return fmt.Sprintf("%s%d", op, cop) }

	d, t := psx.InsRegD(ins), psx.InsRegT(ins)

	switch psx.InsCopOp(ins) {
	case psx.CopMfc:
		return fmt.Sprintf("%s %s, $%d", n("mfc"), t, d)
	case psx.CopCfc:
		return fmt.Sprintf("%s %s, $%d", n("cfc"), t, d)
	case psx.CopMtc:
		return fmt.Sprintf("%s %s, $%d", n("mtc"), t, d)
	case psx.CopCtc:
		return fmt.Sprintf("%s %s, $%d", n("ctc"), t, d)
	case psx.CopRfe:
		return "rfe"
	default:
		return fmt.Sprintf("cop%d 0x%07x", cop, ins&0x1ffffff)
	}
}

// Disasm renders one instruction at the given guest address.
func Disasm(pc, ins uint32) string {
	t, s := psx.InsRegT(ins), psx.InsRegS(ins)

	switch ins >> 26 {
	case psx.OpFn:
		return disasmFn(ins)
	case psx.OpBxx:
		name := "bltz"
		if ins>>16&1 != 0 {
			name = "bgez"
		}
		if ins>>17&0xf == 8 {
			name += "al"
		}
		return fmt.Sprintf("%s %s, 0x%08x", name, s, branchTarget(pc, ins))
	case psx.OpJ:
		return fmt.Sprintf("j 0x%08x", pc&0xf0000000|psx.InsTarget(ins))
	case psx.OpJal:
		return fmt.Sprintf("jal 0x%08x", pc&0xf0000000|psx.InsTarget(ins))
	case psx.OpBeq:
		return fmt.Sprintf("beq %s, %s, 0x%08x", s, t, branchTarget(pc, ins))
	case psx.OpBne:
		return fmt.Sprintf("bne %s, %s, 0x%08x", s, t, branchTarget(pc, ins))
	case psx.OpBlez:
		return fmt.Sprintf("blez %s, 0x%08x", s, branchTarget(pc, ins))
	case psx.OpBgtz:
		return fmt.Sprintf("bgtz %s, 0x%08x", s, branchTarget(pc, ins))
	case psx.OpLui:
		return fmt.Sprintf("lui %s, 0x%04x", t, psx.InsImm(ins))
	case psx.OpCop0:
		return disasmCop(ins, 0)
	case psx.OpCop2:
		return disasmCop(ins, 2)
	}

	if name, ok := immNames[ins>>26]; ok {
		return fmt.Sprintf("%s %s, %s, 0x%04x", name, t, s, psx.InsImm(ins))
	}
	if name, ok := loadStoreNames[ins>>26]; ok {
		return fmt.Sprintf("%s %s, %d(%s)", name, t,
			int16(psx.InsImm(ins)), s)
	}

	return fmt.Sprintf(".word 0x%08x", ins)
}
