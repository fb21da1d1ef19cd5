// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package pipe builds the security descriptor for the wsudo broker's named
// pipe and mints overlapped server-side instances against it, mirroring
// go-winio's makeServerPipeHandle (see other_examples' copy of
// github.com/Microsoft/go-winio's pipe.go) but keeping the raw overlapped
// windows.Handle instead of wrapping it in a net.Conn, since the reactor
// package owns IOCP registration directly.
package pipe

import (
	"fmt"
	"unsafe"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"

	"github.com/wsudo/wsudo/internal/types/logger"
)

// worldReadWriteSDDL grants the World SID SYNCHRONIZE|GENERIC_READ|
// GENERIC_WRITE with no inheritance, per §4.2. BA/SY retain full control so
// the broker's own SYSTEM account can still manage the pipe.
const worldReadWriteSDDL = "O:BAG:BAD:P(A;;GRGWSY;;;WD)(A;;GA;;;SY)(A;;GA;;;BA)"

// DefaultBufferHint is the minimum input/output buffer size requested per
// §6 ("buffer hint ≥ 128 bytes"). Real traffic is small fixed-shape
// messages; the hint only avoids needless pipe-manager reallocation.
const DefaultBufferHint = 4096

// Config are the PipeFactory construction parameters from §4.2.
type Config struct {
	Path             string // e.g. \\.\pipe\wsudo_token_server
	MaxInstances     uint32 // maximum concurrent server instances
	InputBufferSize  uint32
	OutputBufferSize uint32
}

// Factory builds a DACL once and mints overlapped named-pipe server
// instances against it. The security descriptor is held for the Factory's
// lifetime, matching §4.2's "security descriptor is held by the factory
// for the factory's lifetime."
type Factory struct {
	cfg Config
	sd  []byte
	sa  windows.SecurityAttributes
	logf logger.Logf

	madeFirst bool
}

// New builds the DACL and returns a Factory. A DACL build failure is
// fatal: New returns (nil, err) and the caller must not proceed to start
// up (§4.2 "fatal to the factory").
func New(cfg Config, logf logger.Logf) (*Factory, error) {
	if cfg.InputBufferSize == 0 {
		cfg.InputBufferSize = DefaultBufferHint
	}
	if cfg.OutputBufferSize == 0 {
		cfg.OutputBufferSize = DefaultBufferHint
	}
	if cfg.MaxInstances == 0 {
		cfg.MaxInstances = 10
	}
	sd, err := winio.SddlToSecurityDescriptor(worldReadWriteSDDL)
	if err != nil {
		return nil, fmt.Errorf("pipe: build security descriptor: %w", err)
	}
	f := &Factory{cfg: cfg, sd: sd, logf: logf}
	f.sa.Length = uint32(unsafe.Sizeof(f.sa))
	f.sa.SecurityDescriptor = uintptr(unsafe.Pointer(&f.sd[0]))
	f.sa.InheritHandle = 0
	return f, nil
}

// Open mints one overlapped server-side pipe instance. The first call
// sets FILE_FLAG_FIRST_PIPE_INSTANCE, which fails outright if another
// broker already owns the path (§4.2, fatal to the factory). Subsequent
// failures are logged and return (windows.InvalidHandle, nil) so the caller
// can reschedule (Connection retries through the reactor's EnterIOThread).
func (f *Factory) Open() (windows.Handle, error) {
	openMode := uint32(windows.PIPE_ACCESS_DUPLEX | windows.FILE_FLAG_OVERLAPPED)
	first := !f.madeFirst
	if first {
		openMode |= windows.FILE_FLAG_FIRST_PIPE_INSTANCE
	}
	pipeMode := uint32(windows.PIPE_TYPE_MESSAGE | windows.PIPE_READMODE_MESSAGE |
		windows.PIPE_WAIT | windows.PIPE_REJECT_REMOTE_CLIENTS)

	path, err := windows.UTF16PtrFromString(f.cfg.Path)
	if err != nil {
		return windows.InvalidHandle, fmt.Errorf("pipe: invalid path %q: %w", f.cfg.Path, err)
	}

	h, err := windows.CreateNamedPipe(
		path,
		openMode,
		pipeMode,
		f.cfg.MaxInstances,
		f.cfg.OutputBufferSize,
		f.cfg.InputBufferSize,
		0, // default timeout: zero, OS-defined (§5)
		&f.sa,
	)
	if err != nil {
		if first {
			return windows.InvalidHandle, fmt.Errorf("pipe: create first instance of %q: %w", f.cfg.Path, err)
		}
		f.logf("pipe: create instance of %q failed, will retry: %v", f.cfg.Path, err)
		return windows.InvalidHandle, nil
	}
	f.madeFirst = true
	return h, nil
}

// Path returns the pipe path this factory serves.
func (f *Factory) Path() string { return f.cfg.Path }
