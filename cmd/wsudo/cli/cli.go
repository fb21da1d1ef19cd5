// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package cli implements the wsudo client's out-of-scope collaborator
// role from §6: connect to the broker, authenticate, spawn the target
// command suspended under the caller's own identity, and ask the broker
// to bless it.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
	"golang.org/x/term"

	"github.com/wsudo/wsudo/internal/config"
	"github.com/wsudo/wsudo/internal/wire"
)

// Exit codes from §6.
const (
	ExitOK                   = 0
	ExitAccessDenied         = 225
	ExitUserCanceled         = 226
	ExitCreateProcessFailure = 227
	ExitInvalidUsage         = 228
	ExitSystemError          = 229
	ExitServerNotFound       = 230
)

const dialTimeout = 5 * time.Second

// Run implements the full client orchestration described in §6 steps
// 1-7 and returns the process exit code to use.
func Run(ctx context.Context, pipePath, domain, username string, commandLine []string) int {
	if pipePath == "" {
		pipePath = config.DefaultPipePath
	}
	if len(commandLine) == 0 {
		fmt.Fprintln(os.Stderr, "wsudo: no command given")
		return ExitInvalidUsage
	}

	timeout := dialTimeout
	conn, err := winio.DialPipe(pipePath, &timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsudo: connect to broker: %v\n", err)
		return ExitServerNotFound
	}
	defer conn.Close()

	var buf []byte
	send := func(m wire.Message) (wire.Message, error) {
		buf = wire.Encode(m, buf[:0])
		if _, err := conn.Write(buf); err != nil {
			return wire.Message{}, err
		}
		readBuf := make([]byte, 4096)
		n, err := conn.Read(readBuf)
		if err != nil {
			return wire.Message{}, err
		}
		return wire.Decode(readBuf[:n]), nil
	}

	reply, err := send(wire.QuerySession(domain, username))
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsudo: query session: %v\n", err)
		return ExitSystemError
	}

	if reply.Kind != wire.KindSuccess {
		password, err := promptPassword()
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsudo: read password: %v\n", err)
			return ExitUserCanceled
		}
		reply, err = send(wire.Credential(domain, username, password))
		password = ""
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsudo: credential: %v\n", err)
			return ExitSystemError
		}
		switch reply.Kind {
		case wire.KindSuccess:
		case wire.KindAccessDenied:
			fmt.Fprintln(os.Stderr, "wsudo: access denied")
			return ExitAccessDenied
		default:
			fmt.Fprintln(os.Stderr, "wsudo: broker rejected credential")
			return ExitSystemError
		}
	}

	child, err := createSuspended(commandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsudo: create process: %v\n", err)
		return ExitCreateProcessFailure
	}

	reply, err = send(wire.Bless(uintptr(child.Process)))
	if err != nil || reply.Kind != wire.KindSuccess {
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsudo: bless: %v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, "wsudo: broker declined to bless process")
		}
		windows.TerminateProcess(child.Process, 1)
		return ExitSystemError
	}

	if _, err := windows.ResumeThread(child.Thread); err != nil {
		fmt.Fprintf(os.Stderr, "wsudo: resume thread: %v\n", err)
		windows.TerminateProcess(child.Process, 1)
		return ExitSystemError
	}
	windows.CloseHandle(child.Thread)
	defer windows.CloseHandle(child.Process)

	event, err := windows.WaitForSingleObject(child.Process, windows.INFINITE)
	if err != nil || event != windows.WAIT_OBJECT_0 {
		return ExitOK
	}
	var code uint32
	if err := windows.GetExitCodeProcess(child.Process, &code); err != nil {
		return ExitOK
	}
	return int(code)
}

type suspendedProcess struct {
	Process windows.Handle
	Thread  windows.Handle
}

func createSuspended(commandLine []string) (*suspendedProcess, error) {
	cmd := strings.Join(commandLine, " ")
	cmd16, err := windows.UTF16PtrFromString(cmd)
	if err != nil {
		return nil, err
	}

	var si windows.StartupInfo
	var pi windows.ProcessInformation
	err = windows.CreateProcess(
		nil, cmd16, nil, nil, false,
		windows.CREATE_SUSPENDED|windows.CREATE_NEW_CONSOLE,
		nil, nil, &si, &pi,
	)
	if err != nil {
		return nil, err
	}
	return &suspendedProcess{Process: pi.Process, Thread: pi.Thread}, nil
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
