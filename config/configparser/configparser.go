package configparser

/*
 * PSX - Configuration file parser
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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line>   := <keyword> <whitespace> <value> *(',' <value>)
 * <value>  := <string> | '"' *(<letter> | <whitespace>) '"'
 *
 * Keywords are registered by the packages that consume them, from
 * their init functions:
 *
 *   bios <path>              BIOS ROM image
 *   logfile <path>           log destination
 *   log <flag> *(, <flag>)   debug trace flags
 *   option <name>            dynarec option switch
 */

// Handler is called with the values following its keyword, once per
// occurrence of the keyword.
type Handler func(values []string) error

const (
	// TypeOption takes a single value.
	TypeOption = 1 + iota
	// TypeList takes one or more comma separated values.
	TypeList
	// TypeSwitch takes at most one value.
	TypeSwitch
)

type keywordDef struct {
	handle Handler
	ty     int
}

var keywords = map[string]keywordDef{}

var lineNumber int

// RegisterOption should be called from init functions.
func RegisterOption(name string, ty int, handle Handler) {
	keywords[strings.ToLower(name)] = keywordDef{handle: handle, ty: ty}
}

// splitValues cuts a comma separated list honoring double quotes.
func splitValues(rest string) []string {
	var values []string
	var cur strings.Builder
	inQuote := false

	for _, r := range rest {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			values = append(values, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" || len(values) > 0 {
		values = append(values, s)
	}
	return values
}

func parseLine(line string) error {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	keyword, rest, _ := strings.Cut(line, " ")
	def, ok := keywords[strings.ToLower(keyword)]
	if !ok {
		return fmt.Errorf("line %d: unknown keyword %q", lineNumber, keyword)
	}

	values := splitValues(rest)

	switch def.ty {
	case TypeSwitch:
		if len(values) > 1 {
			return fmt.Errorf("line %d: %s takes at most one value",
				lineNumber, keyword)
		}
	case TypeOption:
		if len(values) != 1 {
			return fmt.Errorf("line %d: %s takes exactly one value",
				lineNumber, keyword)
		}
	case TypeList:
		if len(values) == 0 {
			return fmt.Errorf("line %d: %s needs a value",
				lineNumber, keyword)
		}
	}

	if err := def.handle(values); err != nil {
		return fmt.Errorf("line %d: %w", lineNumber, err)
	}
	return nil
}

// Parse reads a configuration stream line by line, dispatching each
// keyword to its registered handler.
func Parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	lineNumber = 0
	for scanner.Scan() {
		lineNumber++
		if err := parseLine(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ParseFile parses the named configuration file.
func ParseFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	return Parse(f)
}
