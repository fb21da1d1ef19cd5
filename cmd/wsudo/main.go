// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Command wsudo is the wsudo client: it asks the broker to elevate a
// command launched under the invoker's own identity. See §6 for the
// full handshake this implements.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wsudo/wsudo/cmd/wsudo/cli"
)

func main() {
	fs := flag.NewFlagSet("wsudo", flag.ExitOnError)
	pipePath := fs.String("pipe", "", "broker pipe path override")
	domain := fs.String("domain", "", "logon domain (defaults to the broker's local account domain)")
	username := fs.String("user", "", "username to authenticate as")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(cli.ExitInvalidUsage)
	}
	if *username == "" {
		fmt.Fprintln(os.Stderr, "wsudo: -user is required")
		os.Exit(cli.ExitInvalidUsage)
	}

	os.Exit(cli.Run(context.Background(), *pipePath, *domain, *username, fs.Args()))
}
