package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/islishude/imgio/internal/cli"
	"github.com/islishude/imgio/internal/config"
	"github.com/islishude/imgio/internal/engine"
)

func main() {
	opts, err := cli.Parse(os.Args[1:])
	if err != nil {
		fatalf("%v", err)
	}
	if opts.Help {
		_, _ = fmt.Fprint(os.Stdout, cli.HelpText(filepath.Base(os.Args[0])))
		os.Exit(engine.ExitSuccess)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fatalf("%v", err)
	}
	if opts.Verbose {
		cfg.Logging.Level = "DEBUG"
	}
	logger, closeLog, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fatalf("%v", err)
	}

	basectx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)

	runner, err := engine.New(basectx, cfg, logger, opts.Verbose, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		cancel()
		_ = closeLog()
		fatalf("%v", err)
	}

	result := runner.Run(basectx, opts)
	if result.Err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "imgio: %v\n", result.Err)
	}
	cancel()
	_ = closeLog()
	os.Exit(result.ExitCode)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "imgio: "+format+"\n", args...)
	os.Exit(engine.ExitFatal)
}
