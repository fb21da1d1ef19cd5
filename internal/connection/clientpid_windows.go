// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package connection

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// kernel32 and GetNamedPipeClientProcessId are resolved via LazyDLL rather
// than assumed present in the vendored x/sys/windows build, following the
// same dynamic-bind approach used for ntdll!NtSetInformationProcess.
var (
	kernel32                        = windows.NewLazySystemDLL("kernel32.dll")
	procGetNamedPipeClientProcessId = kernel32.NewProc("GetNamedPipeClientProcessId")
)

func clientProcessID(pipe windows.Handle) (uint32, error) {
	var pid uint32
	r1, _, e1 := procGetNamedPipeClientProcessId.Call(uintptr(pipe), uintptr(unsafe.Pointer(&pid)))
	if r1 == 0 {
		return 0, fmt.Errorf("connection: GetNamedPipeClientProcessId: %w", e1)
	}
	return pid, nil
}
