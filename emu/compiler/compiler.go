package compiler

/*
 * PSX - Block compiler and block cache
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

	"github.com/rcornwell/PSX/emu/core"
	"github.com/rcornwell/PSX/emu/decode"
	"github.com/rcornwell/PSX/emu/psx"
	"github.com/rcornwell/PSX/util/debug"
	"github.com/rcornwell/PSX/util/rbtree"
)

// Block is the metadata of one region of translated code. The code
// itself lives in the arena at CodeOff; keeping an offset instead of
// a raw pointer leaves arena relocation possible.
type Block struct {
	// Guest PC of the first covered instruction.
	BaseAddress uint32
	// Byte offset of the block's code in the arena.
	CodeOff uint32
	// Total byte length, cache-line aligned.
	LenBytes uint32
	// Number of guest instructions covered.
	Instructions uint32

	// Compile generation of the containing page; a stale
	// generation means the page was invalidated after this block
	// was built.
	gen  uint32
	node rbtree.Node
}

// DebugSink receives every freshly compiled block. Purely
// observational; see the jitdebug package.
type DebugSink interface {
	AddBlock(code uintptr, length uint32, base uint32)
}

// Compiler owns the block index and drives decoding and emission.
type Compiler struct {
	state *core.State
	be    Backend
	index rbtree.Tree
	debug DebugSink
}

// New creates a compiler over state using the given back-end and
// emits the link trampoline at the start of the code arena.
func New(state *core.State, be Backend) *Compiler {
	c := &Compiler{state: state, be: be}

	be.SetOffset(state.FreeOff)
	be.EmitLinkTrampoline()
	state.FreeOff = core.Align(be.Offset(), core.CacheLineSize)
	state.LinkTrampoline = state.CodeAddr(0)

	return c
}

// SetDebugSink registers an observer notified of each compiled
// block.
func (c *Compiler) SetDebugSink(sink DebugSink) {
	c.debug = sink
}

// Find returns the block whose base address is pc, or nil. A block
// whose page has been invalidated since it was compiled is not
// returned.
func (c *Compiler) Find(pc uint32) *Block {
	n := c.index.Find(pc)
	if n == nil {
		return nil
	}
	b := n.Value.(*Block)

	page := psx.PageIndex(pc)
	if page < 0 {
		return nil
	}
	if c.state.PageValid[page] == 0 || b.gen != c.state.PageGen[page] {
		// Stale: a store hit the page after this block was
		// built.
		return nil
	}
	return b
}

// FindOrCompile returns the block covering pc, compiling it first if
// needed. Compiling the same pc twice without an intervening
// invalidation returns the same block.
func (c *Compiler) FindOrCompile(pc uint32) (*Block, error) {
	page := psx.PageIndex(pc)
	if page < 0 {
		return nil, fmt.Errorf("%w: 0x%08x", core.ErrBadAddress, pc)
	}

	if c.state.PageValid[page] == 0 {
		// The page was written to (or never touched): open a
		// new generation so every block compiled against the
		// old contents misses at once.
		c.state.PageGen[page]++
		c.state.PageValid[page] = 1
	}

	if b := c.Find(pc); b != nil {
		return b, nil
	}
	return c.recompile(pc)
}

// ResolveAndPatch is called from the link trampoline when a branch
// target needs resolving. It compiles the target if necessary,
// rewrites the patch site into a direct jump when patchOff is
// non-zero, and returns the host address of the destination.
func (c *Compiler) ResolveAndPatch(target, patchOff uint32) (uintptr, error) {
	debug.Debugf("link", debug.MaskLink, "resolving 0x%08x patch 0x%x",
		target, patchOff)

	b, err := c.FindOrCompile(target)
	if err != nil {
		return 0, err
	}

	if patchOff != 0 && c.state.Options&core.OptNoPatch == 0 {
		// Patch the caller: further executions go direct.
		c.be.PatchLink(patchOff, b.CodeOff)
	}

	return c.state.CodeAddr(b.CodeOff), nil
}

// guestCode returns the memory backing pc and the number of
// instruction words available from pc to the end of the backing
// region.
func (c *Compiler) guestCode(pc uint32) ([]byte, uint32, error) {
	canonical := psx.MaskRegion(pc)

	// RAM is mirrored 4 times
	if canonical < psx.RAMSize*4 {
		off := canonical % psx.RAMSize
		return c.state.RAMBuf[off:], (psx.RAMSize - off) / 4, nil
	}
	if canonical >= psx.BIOSBase && canonical < psx.BIOSBase+psx.BIOSSize {
		off := canonical - psx.BIOSBase
		return c.state.BIOSBuf[off:], (psx.BIOSSize - off) / 4, nil
	}
	return nil, 0, fmt.Errorf("%w: 0x%08x", core.ErrBadAddress, pc)
}

// compileCtx carries the temporaries of one recompilation run.
type compileCtx struct {
	c  *Compiler
	be Backend
	// Guest address of the instruction being emitted.
	pc uint32
	// Cycles accounted for since the last counter flush.
	spent uint32
	// Block being built.
	block *Block
}

func (ctx *compileCtx) setPC(pc uint32) {
	ctx.pc = pc
	ctx.be.SetPC(pc)
}

// flushCycles emits the pending counter decrement. Called before any
// emitted sequence that can leave the block or call out to the
// emulator, so the counter the host or a callback sees is current.
func (ctx *compileCtx) flushCycles() {
	if ctx.spent > 0 {
		ctx.be.CounterMaintenance(ctx.spent)
		ctx.spent = 0
	}
}

func (c *Compiler) recompile(addr uint32) (*Block, error) {
	debug.Debugf("block", debug.MaskBlock, "recompiling 0x%08x", addr)

	if addr&3 != 0 {
		return nil, fmt.Errorf("misaligned block address 0x%08x", addr)
	}

	mem, totalWords, err := c.guestCode(addr)
	if err != nil {
		return nil, err
	}

	scanWords := totalWords
	if scanWords > core.MaxBlockInstructions {
		scanWords = core.MaxBlockInstructions
	}

	// Make sure we're not running out of arena space.
	if c.state.FreeOff+1024*1024 > uint32(len(c.state.Map)) {
		return nil, core.ErrArenaFull
	}

	word := func(i uint32) uint32 {
		return binary.LittleEndian.Uint32(mem[i*4:])
	}

	block := &Block{
		BaseAddress: addr,
		CodeOff:     core.Align(c.state.FreeOff, core.CacheLineSize),
	}

	ctx := compileCtx{c: c, be: c.be, block: block}
	c.be.SetOffset(block.CodeOff)
	ctx.setPC(addr)

	c.be.BlockPrologue(addr)

	var op decode.OpDesc
	eob := false

	for i := uint32(0); !eob && i < scanWords; i, ctx.pc = i+1, ctx.pc+4 {
		ctx.setPC(ctx.pc)
		op = decode.Decode(word(i))

		ctx.spent += core.CyclesPerInstruction

		hasBranchDS := op.Type == decode.BranchAlways ||
			op.Type == decode.BranchCond
		hasLoadDS := op.Type == decode.Load || op.Type == decode.LoadCombine

		if op.Type == decode.BranchAlways || op.Type == decode.Exception {
			// Execution is certain not to continue past this
			// instruction (besides the delay slot handled
			// below).
			eob = true
		}

		var ds decode.OpDesc
		ds.Type = decode.Nop
		if (hasBranchDS || hasLoadDS || op.Type == decode.StoreNoAlign) &&
			i+1 < totalWords {
			ds = decode.Decode(word(i + 1))
		}

		if op.Type == decode.StoreNoAlign && ds.Type == decode.StoreNoAlign &&
			ctx.tryFoldSwlSwr(&op, &ds) {
			// Both instructions folded, skip ahead.
			i++
			ctx.pc += 4
			ctx.spent += core.CyclesPerInstruction
			continue
		}

		if op.Type == decode.LoadCombine && ds.Type == decode.LoadCombine &&
			ctx.tryFoldLwlLwr(&op, &ds) {
			i++
			ctx.pc += 4
			ctx.spent += core.CyclesPerInstruction
			continue
		}

		switch {
		case hasLoadDS && op.Target != psx.RegR0 && ds.Type != decode.Nop:
			if skip := ctx.emitLoadDelay(&op, &ds); skip {
				i++
				ctx.pc += 4
			}
			if op.Type == decode.Exception {
				eob = true
			}

		case hasBranchDS && ds.Instruction != 0:
			// A branch with a literal NOP in the delay slot
			// behaves like a plain instruction; anything else
			// has to run before the branch.
			terminated := ctx.emitBranchDelay(&op, &ds)
			eob = true
			if terminated {
				op.Type = decode.Exception
			} else if op.Type == decode.BranchCond {
				// Not-taken path falls through past the
				// already executed delay slot.
				eob = false
			}
			i++
			ctx.pc += 4

		case op.Type != decode.Nop:
			// Boring old instruction, no delay slot involved.
			ctx.emitInstruction(&op)
		}
	}

	if op.Type != decode.BranchAlways && op.Type != decode.Exception {
		// Execution continues after this block; link it to the
		// next one.
		ctx.setPC(ctx.pc)
		ctx.flushCycles()
		ctx.emitJump(ctx.pc)
	}

	block.LenBytes = c.be.Offset() - block.CodeOff

	if c.debug != nil {
		c.debug.AddBlock(c.state.CodeAddr(block.CodeOff),
			block.LenBytes, block.BaseAddress)
	}

	block.LenBytes = core.Align(block.LenBytes, core.CacheLineSize)
	block.Instructions = (ctx.pc - addr) / 4

	c.state.FreeOff = block.CodeOff + block.LenBytes

	page := psx.PageIndex(addr)
	block.gen = c.state.PageGen[page]

	block.node.Key = addr
	block.node.Value = block
	c.index.Insert(&block.node)

	debug.Debugf("block", debug.MaskBlock, "0x%08x: %d bytes, %d instructions",
		addr, block.LenBytes, block.Instructions)

	return block, nil
}

// emitLoadDelay handles a load whose delay slot is not a NOP.
// Returns true when the delay slot instruction was consumed here and
// the scan must skip ahead.
func (ctx *compileCtx) emitLoadDelay(op, ds *decode.OpDesc) bool {
	switch {
	case ds.Type == decode.LoadCombine:
		// The next instruction bypasses the load delay, nothing
		// to worry about.
		ctx.emitInstruction(op)

	case ds.Target == op.Target:
		// The delay slot overwrites the loaded value, making
		// the load useful only for its side effects. Retarget
		// it at R0, which is functionally equivalent.
		op.Target = psx.RegR0
		ctx.emitInstruction(op)

	case op.Target == ds.Op0 || op.Target == ds.Op1:
		// The delay slot reads the register being loaded, so it
		// must see the pre-load value.
		if ds.Type == decode.BranchAlways || ds.Type == decode.BranchCond ||
			ds.Type == decode.Exception {
			// Reordering across a branch would jump away
			// before the load ran.
			ctx.flushCycles()
			ctx.be.Exit(core.ExitUnimplemented, core.UnimplNestedDelay)
			op.Type = decode.Exception
			return false
		}

		// Swap the two instructions, keeping the pre-load value
		// in DT if the load itself reads the delay slot's
		// target.
		needsDT := false
		if op.Op0 == ds.Target {
			needsDT = true
			op.Op0 = psx.RegDT
		}
		if op.Op1 == ds.Target {
			needsDT = true
			op.Op1 = psx.RegDT
		}
		if needsDT {
			ctx.be.Mov(psx.RegDT, ds.Target)
		}

		ctx.spent += core.CyclesPerInstruction

		// Emit the delay slot instruction first,
		ctx.setPC(ctx.pc + 4)
		ctx.emitInstruction(ds)
		ctx.setPC(ctx.pc - 4)

		// then the load.
		ctx.emitInstruction(op)
		return true

	default:
		// No hazard, emit the load normally.
		ctx.emitInstruction(op)
	}
	return false
}

// emitBranchDelay emits a branch and its (non-NOP) delay slot,
// running the delay slot first and renaming branch operands through
// DT when they collide with the delay slot's target. Returns true
// when the pair could not be translated and an exit was emitted
// instead.
func (ctx *compileCtx) emitBranchDelay(op, ds *decode.OpDesc) bool {
	if ds.Type == decode.BranchAlways || ds.Type == decode.BranchCond ||
		ds.Type == decode.Exception {
		// Nested branch delay slot or exception in a delay
		// slot. A pain to implement; the average game doesn't
		// need it.
		ctx.flushCycles()
		ctx.be.Exit(core.ExitUnimplemented, core.UnimplNestedDelay)
		return true
	}

	ctx.spent += core.CyclesPerInstruction

	if ds.Target != psx.RegR0 {
		if ds.Target == op.Target {
			// Branch link target and delay slot write the
			// same register; which one wins is anyone's
			// guess.
			ctx.flushCycles()
			ctx.be.Exit(core.ExitUnimplemented, core.UnimplBranchRace)
			return true
		}

		needsDT := false
		if ds.Target == op.Op0 {
			needsDT = true
			op.Op0 = psx.RegDT
		}
		if ds.Target == op.Op1 {
			needsDT = true
			op.Op1 = psx.RegDT
		}
		if needsDT {
			// The delay slot targets a register the branch
			// reads, keep a copy.
			ctx.be.Mov(psx.RegDT, ds.Target)
		}
	}

	// Emit the delay slot instruction,
	ctx.setPC(ctx.pc + 4)
	ctx.emitInstruction(ds)
	ctx.setPC(ctx.pc - 4)

	// then the branch itself.
	ctx.emitInstruction(op)
	return false
}

// tryFoldLwlLwr folds an adjacent LWL/LWR pair targeting the same
// register with offsets exactly 3 apart into a single unaligned load.
func (ctx *compileCtx) tryFoldLwlLwr(op1, op2 *decode.OpDesc) bool {
	if op1.Target != op2.Target || op1.Op0 != op2.Op0 {
		// Not the same registers, can't fold.
		return false
	}

	opLwl, opLwr := op1, op2
	if op1.Instruction>>26 == psx.OpLwr {
		opLwl, opLwr = op2, op1
	}
	if opLwl.Instruction>>26 != psx.OpLwl || opLwr.Instruction>>26 != psx.OpLwr {
		return false
	}

	if opLwl.Imm != opLwr.Imm+3 {
		// The offsets don't match.
		return false
	}

	ctx.flushCycles()
	ctx.be.LwNoAlign(opLwr.Target, int16(opLwr.Imm), opLwr.Op0)
	return true
}

// tryFoldSwlSwr is the store counterpart of tryFoldLwlLwr.
func (ctx *compileCtx) tryFoldSwlSwr(op1, op2 *decode.OpDesc) bool {
	if op1.Target != op2.Target || op1.Op0 != op2.Op0 ||
		op1.Op1 != op2.Op1 {
		return false
	}

	opSwl, opSwr := op1, op2
	if op1.Instruction>>26 == psx.OpSwr {
		opSwl, opSwr = op2, op1
	}
	if opSwl.Instruction>>26 != psx.OpSwl || opSwr.Instruction>>26 != psx.OpSwr {
		return false
	}

	if opSwl.Imm != opSwr.Imm+3 {
		return false
	}

	ctx.flushCycles()
	ctx.be.SwNoAlign(opSwr.Op0, int16(opSwr.Imm), opSwr.Op1)
	return true
}
