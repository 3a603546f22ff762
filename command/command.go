package command

/*
 * PSX - Operator console
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
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/rcornwell/PSX/emu/core"
	"github.com/rcornwell/PSX/emu/disassemble"
	"github.com/rcornwell/PSX/emu/dynarec"
	"github.com/rcornwell/PSX/emu/psx"
)

// Default cycle budget for "run" without an argument.
const defaultSlice = 0x100000

var commandNames = []string{
	"run", "step", "regs", "reg", "dis", "code", "help", "exit", "quit",
}

// Monitor runs the interactive operator console until the user
// leaves.
func Monitor(d *dynarec.Dynarec) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) []string {
		var out []string
		for _, c := range commandNames {
			if strings.HasPrefix(c, strings.ToLower(l)) {
				out = append(out, c)
			}
		}
		return out
	})

	for {
		input, err := line.Prompt("psx> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		name, rest, _ := strings.Cut(input, " ")
		args := strings.Fields(rest)

		switch strings.ToLower(name) {
		case "exit", "quit":
			return nil
		case "help", "?":
			showHelp()
		case "run":
			doRun(d, args, defaultSlice)
		case "step":
			doRun(d, args, 1)
		case "regs":
			showRegs(d)
		case "reg":
			doReg(d, args)
		case "dis":
			doDis(d, args)
		case "code":
			doCode(d, args)
		default:
			fmt.Println("unknown command, try help")
		}
	}
}

func showHelp() {
	fmt.Print(`run [cycles]    execute from the current PC
step            execute a single cycle slice
regs            show the guest register file
reg <r> [val]   show or set one register
dis <addr> [n]  disassemble guest instructions
code <addr>     dump the translated block for a guest address
exit            leave the monitor
`)
}

func parseNum(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func doRun(d *dynarec.Dynarec, args []string, cycles int32) {
	if len(args) > 0 {
		v, err := parseNum(args[0])
		if err != nil {
			fmt.Println("bad cycle count:", err)
			return
		}
		cycles = int32(v)
	}

	code, payload, left, err := d.Run(cycles)
	if err != nil {
		fmt.Println("run failed:", err)
		return
	}

	fmt.Printf("exit %s payload 0x%x pc 0x%08x cycles left %d\n",
		code, payload, d.State().PC, left)
	if code == core.ExitException {
		cause := d.State().Cop0[psx.Cop0Cause] >> 2 & 0x1f
		fmt.Printf("  cause %d epc 0x%08x\n", cause,
			d.State().Cop0[psx.Cop0EPC])
	}
}

func showRegs(d *dynarec.Dynarec) {
	s := d.State()

	fmt.Printf("pc  %08x\n", s.PC)
	for r := psx.RegAT; r < psx.RegTotal; r++ {
		fmt.Printf("%-2s  %08x", r, d.Reg(r))
		if (int(r)-1)%4 == 3 {
			fmt.Println()
		} else {
			fmt.Print("   ")
		}
	}
	fmt.Println()
}

func regByName(name string) (psx.Reg, bool) {
	for r := psx.RegR0; r < psx.RegTotal; r++ {
		if r.String() == strings.ToLower(name) {
			return r, true
		}
	}
	return 0, false
}

func doReg(d *dynarec.Dynarec, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: reg <name> [value]")
		return
	}
	if args[0] == "pc" {
		if len(args) > 1 {
			v, err := parseNum(args[1])
			if err != nil {
				fmt.Println("bad value:", err)
				return
			}
			d.SetPC(v)
		}
		fmt.Printf("pc  %08x\n", d.State().PC)
		return
	}

	r, ok := regByName(args[0])
	if !ok {
		fmt.Println("no such register:", args[0])
		return
	}
	if len(args) > 1 {
		v, err := parseNum(args[1])
		if err != nil {
			fmt.Println("bad value:", err)
			return
		}
		d.SetReg(r, v)
	}
	fmt.Printf("%-2s  %08x\n", r, d.Reg(r))
}

// guestWord reads one instruction word out of the guest memory the
// way the compiler would.
func guestWord(d *dynarec.Dynarec, addr uint32) (uint32, bool) {
	s := d.State()
	canonical := psx.MaskRegion(addr)

	switch {
	case canonical < psx.RAMSize*4:
		return binary.LittleEndian.Uint32(
			s.RAMBuf[canonical%psx.RAMSize&^3:]), true
	case canonical >= psx.BIOSBase && canonical < psx.BIOSBase+psx.BIOSSize:
		return binary.LittleEndian.Uint32(
			s.BIOSBuf[(canonical-psx.BIOSBase)&^3:]), true
	}
	return 0, false
}

func doDis(d *dynarec.Dynarec, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: dis <addr> [count]")
		return
	}
	addr, err := parseNum(args[0])
	if err != nil {
		fmt.Println("bad address:", err)
		return
	}
	count := uint32(16)
	if len(args) > 1 {
		if count, err = parseNum(args[1]); err != nil {
			fmt.Println("bad count:", err)
			return
		}
	}

	for pc := addr &^ 3; count > 0; pc, count = pc+4, count-1 {
		word, ok := guestWord(d, pc)
		if !ok {
			fmt.Printf("%08x: <unmapped>\n", pc)
			return
		}
		fmt.Printf("%08x: %08x  %s\n", pc, word,
			disassemble.Disasm(pc, word))
	}
}

func doCode(d *dynarec.Dynarec, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: code <addr>")
		return
	}
	addr, err := parseNum(args[0])
	if err != nil {
		fmt.Println("bad address:", err)
		return
	}

	b := d.Compiler().Find(addr)
	if b == nil {
		fmt.Printf("no block compiled at 0x%08x\n", addr)
		return
	}

	s := d.State()
	code := s.Map[b.CodeOff : b.CodeOff+b.LenBytes]
	fmt.Printf("block 0x%08x: %d guest instructions, %d bytes\n",
		b.BaseAddress, b.Instructions, b.LenBytes)
	if err := disassemble.DumpHost(os.Stdout, code,
		uint64(s.CodeAddr(b.CodeOff))); err != nil {
		fmt.Println("dump failed:", err)
	}
}
