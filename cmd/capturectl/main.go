package main

import (
	"os"

	"github.com/knadh/koanf"
	"github.com/zerodha/logf"

	"github.com/mio-data/capturefile/pkg/capture"
)

var (
	// Version of the build. This is injected at build-time.
	buildString = "unknown"
)

type App struct {
	lo logf.Logger
	ko *koanf.Koanf
	cf *capture.CaptureFile
}

func main() {
	ko, args, err := initConfig()
	if err != nil {
		// pflag already printed the problem.
		os.Exit(1)
	}
	lo := initLogger(ko)
	lo.Debug("starting capturectl", "version", buildString)

	if ko.String("file") == "" {
		lo.Fatal("no capture file given, use --file")
	}
	if len(args) == 0 {
		lo.Fatal("no command given, see --help")
	}
	cmd := args[0]

	write := ko.Bool("write")
	switch cmd {
	case "add":
		write = true
	case "meta":
		if len(args) > 1 && args[1] != "get" {
			write = true
		}
	}

	opts := []capture.Config{
		capture.WithCompressionBlockSize(ko.Int("block-size")),
		capture.WithFanOut(ko.Int("fan-out")),
	}
	if write {
		opts = append(opts, capture.WithWrite())
	}
	if ko.Bool("force-new") {
		opts = append(opts, capture.WithForceNewEmptyFile())
	}
	if ko.Bool("debug") {
		opts = append(opts, capture.WithDebug())
	}
	if ko.Bool("os-locking") {
		opts = append(opts, capture.WithOSLocking())
	}

	cf, err := capture.Open(ko.String("file"), opts...)
	if err != nil {
		lo.Fatal("error opening capture file", "file", ko.String("file"), "error", err)
	}

	app := &App{lo: lo, ko: ko, cf: cf}
	runErr := app.run(cmd, args[1:])

	if err := cf.Close(); err != nil {
		lo.Error("error closing capture file", "error", err)
	}
	if runErr != nil {
		lo.Fatal("command failed", "command", cmd, "error", runErr)
	}
}
