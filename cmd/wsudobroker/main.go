// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Command wsudobroker is the wsudo privilege-elevation broker: a
// long-running, privileged process serving the wsudo_token_server named
// pipe. Run as LocalSystem in normal deployments (§6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/peterbourgon/ff/v3/ffcli"
	"go.uber.org/zap"

	"github.com/wsudo/wsudo/internal/config"
	"github.com/wsudo/wsudo/internal/supervisor"
	"github.com/wsudo/wsudo/internal/types/logger"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("wsudobroker", flag.ExitOnError)
	var (
		pipePath = fs.String("pipe", "", "named pipe path (default "+config.DefaultPipePath+")")
		maxConns = fs.Uint("max-instances", 0, "maximum concurrent pipe instances")
		workers  = fs.Int("workers", 0, "reactor worker thread count (default: CPU count)")
		verbose  = fs.Bool("v", false, "verbose logging")
	)

	root := &ffcli.Command{
		Name:       "wsudobroker",
		ShortUsage: "wsudobroker [flags]",
		ShortHelp:  "run the wsudo privilege-elevation broker",
		FlagSet:    fs,
		Exec: func(ctx context.Context, _ []string) error {
			return serve(ctx, config.Broker{
				PipePath:       *pipePath,
				MaxInstances:   uint32(*maxConns),
				ReactorWorkers: *workers,
			}, *verbose)
		},
	}

	if err := root.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 228
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := root.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 229
	}
	return 0
}

func serve(ctx context.Context, cfg config.Broker, verbose bool) error {
	cfg.ApplyPolicy()

	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	z, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("wsudobroker: build logger: %w", err)
	}
	defer z.Sync()
	logf := logger.FromZap(z.Sugar())

	sup, err := supervisor.New(cfg, logf)
	if err != nil {
		logf("wsudobroker: startup failed: %v", err)
		return err
	}
	defer sup.Close()

	go func() {
		<-ctx.Done()
		logf("wsudobroker: shutdown requested")
		sup.Quit()
	}()

	status := sup.Run()
	logf("wsudobroker: stopped: %s", status)
	if status != 0 { // StatusOK
		return fmt.Errorf("wsudobroker: exited with status %s", status)
	}
	return nil
}
