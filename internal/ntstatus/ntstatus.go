// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package ntstatus wraps raw NTSTATUS values returned by undocumented
// ntdll entry points, converting them to errors the way go-winio's
// internal ntStatus type converts NtCreateNamedPipeFile's result.
package ntstatus

import "golang.org/x/sys/windows"

// Status is a raw NTSTATUS as returned by an ntdll syscall, aliasing
// golang.org/x/sys/windows.NTStatus so we pick up its RtlNtStatusToDosError
// based Error() conversion for free.
type Status = windows.NTStatus

// Err returns nil for a non-negative (success) status, or the error s
// converts to otherwise. NtSetInformationProcess and NtCreateNamedPipeFile
// both follow the NTSTATUS convention that non-negative is success.
func Err(s Status) error {
	if IsSuccess(s) {
		return nil
	}
	return s
}

// IsSuccess reports whether s represents success. NTSTATUS success codes
// are non-negative; this is the same test TokenBroker.Apply uses to
// decide whether NtSetInformationProcess succeeded.
func IsSuccess(s Status) bool { return int32(s) >= 0 }
