package psx

/*
 * PSX - MIPS R3000A instruction encodings
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

// Primary opcode, bits 26-31.
const (
	OpFn    = 0x00
	OpBxx   = 0x01
	OpJ     = 0x02
	OpJal   = 0x03
	OpBeq   = 0x04
	OpBne   = 0x05
	OpBlez  = 0x06
	OpBgtz  = 0x07
	OpAddi  = 0x08
	OpAddiu = 0x09
	OpSlti  = 0x0a
	OpSltiu = 0x0b
	OpAndi  = 0x0c
	OpOri   = 0x0d
	OpXori  = 0x0e
	OpLui   = 0x0f
	OpCop0  = 0x10
	OpCop1  = 0x11
	OpCop2  = 0x12
	OpCop3  = 0x13
	OpLb    = 0x20
	OpLh    = 0x21
	OpLwl   = 0x22
	OpLw    = 0x23
	OpLbu   = 0x24
	OpLhu   = 0x25
	OpLwr   = 0x26
	OpSb    = 0x28
	OpSh    = 0x29
	OpSwl   = 0x2a
	OpSw    = 0x2b
	OpSwr   = 0x2e
	OpLwc2  = 0x32
	OpSwc2  = 0x3a
)

// Function field for OpFn (SPECIAL), bits 0-5.
const (
	FnSll     = 0x00
	FnSrl     = 0x02
	FnSra     = 0x03
	FnSllv    = 0x04
	FnSrlv    = 0x06
	FnSrav    = 0x07
	FnJr      = 0x08
	FnJalr    = 0x09
	FnSyscall = 0x0c
	FnBreak   = 0x0d
	FnMfhi    = 0x10
	FnMthi    = 0x11
	FnMflo    = 0x12
	FnMtlo    = 0x13
	FnMult    = 0x18
	FnMultu   = 0x19
	FnDiv     = 0x1a
	FnDivu    = 0x1b
	FnAdd     = 0x20
	FnAddu    = 0x21
	FnSub     = 0x22
	FnSubu    = 0x23
	FnAnd     = 0x24
	FnOr      = 0x25
	FnXor     = 0x26
	FnNor     = 0x27
	FnSlt     = 0x2a
	FnSltu    = 0x2b
)

// Coprocessor sub-opcode, bits 21-25 of COP0/COP2 instructions.
const (
	CopMfc = 0x00
	CopCfc = 0x02
	CopMtc = 0x04
	CopCtc = 0x06
	CopRfe = 0x10
)

// Instruction field accessors. Bit positions are fixed by the
// architecture and shared by every format.

func InsFn(ins uint32) uint32 { return ins & 0x3f }
func InsShift(ins uint32) uint32 { return (ins >> 6) & 0x1f }
func InsRegD(ins uint32) Reg { return Reg((ins >> 11) & 0x1f) }
func InsRegT(ins uint32) Reg { return Reg((ins >> 16) & 0x1f) }
func InsRegS(ins uint32) Reg { return Reg((ins >> 21) & 0x1f) }
func InsImm(ins uint32) uint32 { return ins & 0xffff }
func InsImmSe(ins uint32) uint32 { return uint32(int32(int16(ins & 0xffff))) }
func InsTarget(ins uint32) uint32 { return (ins & 0x3ffffff) << 2 }
func InsCode(ins uint32) uint32 { return (ins >> 6) & 0xfffff }
func InsCopOp(ins uint32) uint32 { return (ins >> 21) & 0x1f }
