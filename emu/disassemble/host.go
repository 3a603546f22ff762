package disassemble

/*
 * PSX - Host code dump
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
	"io"

	"golang.org/x/arch/x86/x86asm"
)

// DumpHost writes a GNU-syntax listing of translated host code to w.
// Undecodable bytes are shown raw one at a time so a bad emission
// doesn't derail the rest of the listing.
func DumpHost(w io.Writer, code []byte, base uint64) error {
	for len(code) > 0 {
		ins, err := x86asm.Decode(code, 64)
		if err != nil {
			if _, werr := fmt.Fprintf(w, "%12x:\t.byte 0x%02x\n",
				base, code[0]); werr != nil {
				return werr
			}
			code = code[1:]
			base++
			continue
		}

		if _, err := fmt.Fprintf(w, "%12x:\t%s\n", base,
			x86asm.GNUSyntax(ins, base, nil)); err != nil {
			return err
		}
		code = code[ins.Len:]
		base += uint64(ins.Len)
	}
	return nil
}
