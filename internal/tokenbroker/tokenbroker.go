// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package tokenbroker implements the token-derivation and
// process-access-token substitution machinery from §4.7: given a client's
// logon session and the handle value it asserts names its own process, it
// derives a primary token suitable for launching an elevated child and
// installs it into that process via the undocumented
// NtSetInformationProcess(ProcessAccessToken) call.
package tokenbroker

import (
	"context"
	"fmt"
	"sync/atomic"
	"unsafe"

	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/windows"

	"github.com/wsudo/wsudo/internal/ntstatus"
	"github.com/wsudo/wsudo/internal/types/logger"
)

var (
	ntdll                       = windows.NewLazySystemDLL("ntdll.dll")
	procNtSetInformationProcess = ntdll.NewProc("NtSetInformationProcess")
)

// maxConcurrentApply bounds how many NtSetInformationProcess/token-duplication
// sequences may be in flight at once. These touch another process's handle
// table and a raw NT syscall; serializing them past a small concurrency cap
// keeps a burst of simultaneous Bless requests from hammering the kernel
// with duplicate-handle churn.
const maxConcurrentApply = 4

// processAccessToken is the undocumented PROCESS_INFORMATION_CLASS value
// accepted by NtSetInformationProcess for substituting a process's primary
// token before it starts running; documented only by community reverse
// engineering (e.g. ProcessHacker's phnt headers), not by any public
// Microsoft header.
const processAccessToken = 9

// processAccessTokenInfo is the PROCESS_ACCESS_TOKEN structure expected by
// NtSetInformationProcess(ProcessAccessToken).
type processAccessTokenInfo struct {
	Token  windows.Handle
	Thread windows.Handle
}

// Stats counts broker operations for diagnostics; all fields are updated
// atomically and safe for concurrent access.
type Stats struct {
	Derived uint64
	Applied uint64
	Denied  uint64
	Errors  uint64
}

// Broker derives and installs launch tokens. It holds no per-request
// state; every method is self-contained and safe for concurrent use from
// multiple Connections.
type Broker struct {
	logf  logger.Logf
	stats Stats
	sem   *semaphore.Weighted
}

// New returns a Broker.
func New(logf logger.Logf) *Broker {
	return &Broker{logf: logf, sem: semaphore.NewWeighted(maxConcurrentApply)}
}

// Stats returns a snapshot of the broker's counters.
func (b *Broker) Stats() Stats {
	return Stats{
		Derived: atomic.LoadUint64(&b.stats.Derived),
		Applied: atomic.LoadUint64(&b.stats.Applied),
		Denied:  atomic.LoadUint64(&b.stats.Denied),
		Errors:  atomic.LoadUint64(&b.stats.Errors),
	}
}

// DeriveLaunchToken implements §4.7 steps 1-5. The base token is the
// caller's already-authenticated session, not the unprivileged client
// process's own token: this is a user-switching broker (the whole point
// of Bless is to install a *different*, more privileged identity), so the
// open-client-process/open-client-token steps here serve only as a
// liveness check that pid still names a real, reachable process before
// the broker commits to substituting a token into it — they are not the
// source of the derived token. (§9 flags this choice as an open question
// in the source; this is the resolution.)
func (b *Broker) DeriveLaunchToken(pid uint32, session windows.Token) (windows.Token, error) {
	target, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION, false, pid)
	if err != nil {
		atomic.AddUint64(&b.stats.Errors, 1)
		return 0, fmt.Errorf("tokenbroker: open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(target)

	var procToken windows.Token
	if err := windows.OpenProcessToken(target, windows.TOKEN_DUPLICATE|windows.TOKEN_QUERY, &procToken); err != nil {
		atomic.AddUint64(&b.stats.Errors, 1)
		return 0, fmt.Errorf("tokenbroker: open process token: %w", err)
	}
	procToken.Close()

	launch, err := b.deriveFrom(session)
	if err != nil {
		return 0, err
	}
	atomic.AddUint64(&b.stats.Derived, 1)
	return launch, nil
}

// DeriveServerLaunchToken derives a launch token directly from an
// authenticated session, for the case where the elevated child is spawned
// by the broker itself rather than substituted into an existing process.
func (b *Broker) DeriveServerLaunchToken(session windows.Token) (windows.Token, error) {
	launch, err := b.deriveFrom(session)
	if err != nil {
		return 0, err
	}
	atomic.AddUint64(&b.stats.Derived, 1)
	return launch, nil
}

func (b *Broker) deriveFrom(session windows.Token) (windows.Token, error) {
	var impersonation windows.Token
	if err := windows.DuplicateTokenEx(
		session,
		windows.MAXIMUM_ALLOWED,
		nil,
		windows.SecurityImpersonation,
		windows.TokenImpersonation,
		&impersonation,
	); err != nil {
		atomic.AddUint64(&b.stats.Errors, 1)
		return 0, fmt.Errorf("tokenbroker: duplicate to impersonation: %w", err)
	}
	defer impersonation.Close()

	if err := raiseIntegrityLabel(impersonation); err != nil {
		b.logf("tokenbroker: raise integrity label failed, continuing with existing label: %v", err)
	}

	var primary windows.Token
	if err := windows.DuplicateTokenEx(
		impersonation,
		windows.MAXIMUM_ALLOWED,
		nil,
		windows.SecurityImpersonation,
		windows.TokenPrimary,
		&primary,
	); err != nil {
		atomic.AddUint64(&b.stats.Errors, 1)
		return 0, fmt.Errorf("tokenbroker: duplicate to primary: %w", err)
	}
	return primary, nil
}

// Apply implements §4.7's final step: duplicate remoteHandleValue (a
// HANDLE value meaningful only in clientPID's address space, per the
// Bless message's handle field — the suspended child process the client
// wants elevated, not the client process itself) into the broker's own
// process, then substitute launchToken into that duplicated handle via
// NtSetInformationProcess. clientPID is opened only to supply the source
// process for the handle duplication; the NT call targets the duplicate,
// never clientProc. launchToken is consumed (closed) regardless of
// outcome.
func (b *Broker) Apply(clientPID uint32, remoteHandleValue uintptr, launchToken windows.Token) error {
	defer launchToken.Close()

	if err := b.sem.Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("tokenbroker: acquire apply slot: %w", err)
	}
	defer b.sem.Release(1)

	if proc, err := ps.FindProcess(int(clientPID)); err == nil && proc != nil {
		b.logf("tokenbroker: applying launch token to pid %d (%s)", clientPID, proc.Executable())
	}

	clientProc, err := windows.OpenProcess(
		windows.PROCESS_DUP_HANDLE|windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_SET_INFORMATION,
		false, clientPID,
	)
	if err != nil {
		atomic.AddUint64(&b.stats.Errors, 1)
		return fmt.Errorf("tokenbroker: open client process %d: %w", clientPID, err)
	}
	defer windows.CloseHandle(clientProc)

	selfProc := windows.CurrentProcess()

	var local windows.Handle
	if err := windows.DuplicateHandle(
		clientProc, windows.Handle(remoteHandleValue),
		selfProc, &local,
		0, false, windows.DUPLICATE_SAME_ACCESS,
	); err != nil {
		atomic.AddUint64(&b.stats.Denied, 1)
		return fmt.Errorf("tokenbroker: duplicate client handle: %w", err)
	}
	defer windows.CloseHandle(local)

	info := processAccessTokenInfo{Token: windows.Handle(launchToken)}
	status, _, _ := procNtSetInformationProcess.Call(
		uintptr(local),
		uintptr(processAccessToken),
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if !ntstatus.IsSuccess(windows.NTStatus(status)) {
		atomic.AddUint64(&b.stats.Errors, 1)
		return fmt.Errorf("tokenbroker: NtSetInformationProcess: %w", windows.NTStatus(status))
	}

	atomic.AddUint64(&b.stats.Applied, 1)
	return nil
}
