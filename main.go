/*
 * PSX - Main process.
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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/PSX/command"
	config "github.com/rcornwell/PSX/config/configparser"
	"github.com/rcornwell/PSX/emu/core"
	"github.com/rcornwell/PSX/emu/dynarec"
	"github.com/rcornwell/PSX/emu/jitdebug"
	"github.com/rcornwell/PSX/emu/psx"
	logger "github.com/rcornwell/PSX/util/logger"

	_ "github.com/rcornwell/PSX/util/debug"
)

var Logger *slog.Logger

// Settings collected from the configuration file.
var (
	biosPath string
	logPath  string
	options  uint32
)

func init() {
	config.RegisterOption("bios", config.TypeOption, func(v []string) error {
		biosPath = v[0]
		return nil
	})
	config.RegisterOption("logfile", config.TypeOption, func(v []string) error {
		logPath = v[0]
		return nil
	})
	config.RegisterOption("option", config.TypeOption, func(v []string) error {
		switch strings.ToLower(v[0]) {
		case "exitonbreak":
			options |= core.OptExitOnBreak
		case "nopatch":
			options |= core.OptNoPatch
		default:
			return fmt.Errorf("unknown option %q", v[0])
		}
		return nil
	})
}

func loadBIOS(path string) ([]byte, error) {
	bios := make([]byte, psx.BIOSSize)
	if path == "" {
		// No image; the monitor can still poke code into RAM.
		return bios, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != psx.BIOSSize {
		return nil, fmt.Errorf("%s: BIOS image must be %d bytes, got %d",
			path, psx.BIOSSize, len(data))
	}
	copy(bios, data)
	return bios, nil
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "psx.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optBIOS := getopt.StringLong("bios", 'b', "", "BIOS ROM image")
	optDebug := getopt.BoolLong("jitdebug", 'g', "Register blocks with GDB")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	if _, err := os.Stat(*optConfig); err == nil {
		if err := config.ParseFile(*optConfig); err != nil {
			fmt.Fprintln(os.Stderr, "configuration:", err)
			os.Exit(1)
		}
	}

	// Command line flags win over the configuration file.
	if *optLogFile != "" {
		logPath = *optLogFile
	}
	if *optBIOS != "" {
		biosPath = *optBIOS
	}

	var file *os.File
	if logPath != "" {
		var err error
		if file, err = os.Create(logPath); err != nil {
			fmt.Fprintln(os.Stderr, "log file:", err)
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{
		Level: programLevel,
	}))
	slog.SetDefault(Logger)

	Logger.Info("PSX dynarec started")

	bios, err := loadBIOS(biosPath)
	if err != nil {
		Logger.Error("BIOS load failed", "err", err)
		os.Exit(1)
	}

	ram := make([]byte, psx.RAMSize)
	scratchpad := make([]byte, psx.ScratchpadSize)

	d, err := dynarec.New(ram, scratchpad, bios)
	if err != nil {
		Logger.Error("dynarec init failed", "err", err)
		os.Exit(1)
	}
	defer d.Delete()

	d.SetOptions(options)
	if *optDebug {
		d.SetDebugSink(jitdebug.New())
	}

	// Reset vector: execution starts at the BIOS entry.
	d.SetPC(0xbfc00000)

	if err := command.Monitor(d); err != nil {
		Logger.Error("monitor failed", "err", err)
		os.Exit(1)
	}
}
