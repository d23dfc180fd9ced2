package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/zerodha/logf"
)

// initLogger initializes logger instance.
func initLogger(ko *koanf.Koanf) logf.Logger {
	opts := logf.Opts{EnableCaller: true}
	if ko.Bool("debug") {
		opts.Level = logf.DebugLevel
		opts.EnableColor = true
	}
	return logf.New(opts)
}

// initConfig loads flags and environment into `ko` and returns the
// positional arguments.
func initConfig() (*koanf.Koanf, []string, error) {
	var (
		ko = koanf.New(".")
		f  = flag.NewFlagSet("capturectl", flag.ContinueOnError)
	)

	f.Usage = func() {
		fmt.Println("usage: capturectl --file FILE [flags] <command> [args]")
		fmt.Println()
		fmt.Println("commands:")
		fmt.Println("  info                 show file configuration and state")
		fmt.Println("  count                print the record count")
		fmt.Println("  get N                print record N")
		fmt.Println("  cat                  print records from --start, at most --limit")
		fmt.Println("  add [value...]       append records (stdin lines when no values) and commit")
		fmt.Println("  meta get|set V|clear read or change the file metadata")
		fmt.Println()
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	f.String("file", "", "Path to the capture file.")
	f.Bool("write", false, "Open the capture file for write.")
	f.Bool("force-new", false, "Replace any existing file with a new empty capture file.")
	f.Bool("debug", false, "Enable debug logging.")
	f.Bool("os-locking", false, "Use advisory OS file locks.")
	f.Int("block-size", 32768, "Compression block size for newly created files.")
	f.Int("fan-out", 32, "Index fan-out for newly created files.")
	f.Int64("start", 1, "First record number for cat.")
	f.Int64("limit", 0, "Maximum number of records for cat (0 means all).")

	if err := f.Parse(os.Args[1:]); err != nil {
		return nil, nil, err
	}

	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return nil, nil, err
	}
	if err := ko.Load(env.Provider("CAPTUREFILE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CAPTUREFILE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, nil, err
	}
	return ko, f.Args(), nil
}
