package debug

/*
 * PSX - Masked trace logging
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
	"log/slog"
	"strings"

	config "github.com/rcornwell/PSX/config/configparser"
)

// Trace categories, enabled from the config file's "log" keyword.
const (
	MaskBlock = 1 << iota // block compilation
	MaskLink              // trampoline resolution and patching
	MaskMem               // MMIO routed loads and stores
	MaskExc               // guest exceptions
)

var names = map[string]int{
	"block": MaskBlock,
	"link":  MaskLink,
	"mem":   MaskMem,
	"exc":   MaskExc,
}

var mask int

func init() {
	config.RegisterOption("log", config.TypeList, setFlags)
}

func setFlags(values []string) error {
	for _, v := range values {
		m, ok := names[strings.ToLower(v)]
		if !ok {
			return fmt.Errorf("unknown log flag %q", v)
		}
		mask |= m
	}
	return nil
}

// Enabled reports whether a trace category is on.
func Enabled(m int) bool {
	return mask&m != 0
}

// Debugf logs a trace message when its category is enabled.
func Debugf(module string, m int, format string, a ...any) {
	if mask&m != 0 {
		slog.Debug(module + ": " + fmt.Sprintf(format, a...))
	}
}
