// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package reactor implements the IOReactor from the design doc: a thread
// pool bound to a single IO completion port that resumes a per-operation
// continuation when its overlapped IO completes. Every Connection's reads,
// writes, and connects flow through one of these.
//
// The OverlappedSlot pattern follows the design note on overlapped
// ownership: the windows.Overlapped and the continuation that resumes when
// it completes live in the same struct, and GetQueuedCompletionStatus's
// returned *Overlapped is cast back to *OverlappedSlot because Overlapped
// is the slot's first field. The slot must not move (or be reused) while
// an IO is outstanding; callers own that invariant by keeping exactly one
// outstanding IO per OverlappedSlot.
package reactor

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/wsudo/wsudo/internal/types/logger"
)

// Continuation is resumed on some worker goroutine when the IO it was
// submitted with completes. transferred and err are exactly what the
// kernel reported; ERROR_HANDLE_EOF and ERROR_MORE_DATA arrive here as
// ordinary errors for the continuation to interpret (§4.3).
type Continuation func(transferred uint32, err error)

// OverlappedSlot is a per-pending-IO record. Exactly one IO may be
// outstanding against a given slot at a time; the caller must not reuse a
// slot for a second Submit until the first's continuation has run.
type OverlappedSlot struct {
	ov   windows.Overlapped
	cont Continuation
}

// quitCompletionKey is never used for a real handle association (those
// all use key 0, since routing happens by OverlappedSlot pointer, not by
// completion key); PostQuit posts this key with a nil overlapped so
// workers can recognize the sentinel before touching the (absent)
// overlapped pointer.
const quitCompletionKey = ^uintptr(0)

// Reactor is the IOCP-backed worker pool.
type Reactor struct {
	iocp windows.Handle
	logf logger.Logf

	wg      sync.WaitGroup
	started bool
}

// New creates a fresh IO completion port. The Reactor owns the port
// handle and it outlives every continuation bound to it until Wait
// returns.
func New(logf logger.Logf) (*Reactor, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("reactor: create IO completion port: %w", err)
	}
	return &Reactor{iocp: iocp, logf: logf}, nil
}

// Register associates handle with the reactor's completion port so its
// overlapped completions are delivered here. Must be called exactly once
// per handle before the first async IO submitted against it.
func (r *Reactor) Register(h windows.Handle) error {
	_, err := windows.CreateIoCompletionPort(h, r.iocp, 0, 0)
	if err != nil {
		return fmt.Errorf("reactor: register handle: %w", err)
	}
	return nil
}

// SubmitRead issues an overlapped ReadFile against h using buf and slot,
// resuming cont on completion (possibly on this goroutine if the read
// fails synchronously with an error other than ERROR_IO_PENDING).
func (r *Reactor) SubmitRead(h windows.Handle, buf []byte, slot *OverlappedSlot, cont Continuation) {
	slot.cont = cont
	var done uint32
	err := windows.ReadFile(h, buf, &done, &slot.ov)
	r.resolveSubmit(err, slot, done)
}

// SubmitWrite issues an overlapped WriteFile.
func (r *Reactor) SubmitWrite(h windows.Handle, buf []byte, slot *OverlappedSlot, cont Continuation) {
	slot.cont = cont
	var done uint32
	err := windows.WriteFile(h, buf, &done, &slot.ov)
	r.resolveSubmit(err, slot, done)
}

// SubmitConnect issues an overlapped ConnectNamedPipe.
func (r *Reactor) SubmitConnect(h windows.Handle, slot *OverlappedSlot, cont Continuation) {
	slot.cont = cont
	err := windows.ConnectNamedPipe(h, &slot.ov)
	r.resolveSubmit(err, slot, 0)
}

func (r *Reactor) resolveSubmit(err error, slot *OverlappedSlot, done uint32) {
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) {
		// Failed (or, for ConnectNamedPipe, already connected)
		// synchronously: no completion packet will be queued for this
		// IO, so the continuation must run now.
		if errors.Is(err, windows.ERROR_PIPE_CONNECTED) {
			err = nil
		}
		slot.cont(done, err)
		return
	}
	// err == nil or ERROR_IO_PENDING: a completion packet is still
	// queued by the kernel even on synchronous success, since we never
	// set FILE_SKIP_COMPLETION_PORT_ON_SUCCESS. Wait for it in the
	// worker loop.
}

// EnterIOThread is the continuation-capture primitive: it posts a
// zero-byte completion bound to cont, guaranteeing cont resumes on a
// worker goroutine rather than the caller's own stack. Connection uses it
// to retry opening a pipe instance from a worker goroutine.
func (r *Reactor) EnterIOThread(cont Continuation) error {
	slot := &OverlappedSlot{cont: cont}
	err := windows.PostQueuedCompletionStatus(r.iocp, 0, 0, &slot.ov)
	if err != nil {
		return fmt.Errorf("reactor: enter_io_thread: %w", err)
	}
	return nil
}

// PostQuit enqueues one sentinel for each of workers worker threads; each
// worker observing one returns. No exit code is carried.
func (r *Reactor) PostQuit(workers int) error {
	for i := 0; i < workers; i++ {
		if err := windows.PostQueuedCompletionStatus(r.iocp, 0, quitCompletionKey, nil); err != nil {
			return fmt.Errorf("reactor: post_quit: %w", err)
		}
	}
	return nil
}

// Run spawns n worker goroutines pulling completions off the port.
func (r *Reactor) Run(n int) {
	if n < 1 {
		n = 1
	}
	r.started = true
	for i := 0; i < n; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Wait blocks until every worker spawned by Run has returned.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

// Close releases the completion port handle. Call only after Wait
// returns.
func (r *Reactor) Close() error {
	return windows.CloseHandle(r.iocp)
}

func (r *Reactor) worker() {
	defer r.wg.Done()
	for {
		var transferred uint32
		var key uintptr
		var ov *windows.Overlapped

		err := windows.GetQueuedCompletionStatus(r.iocp, &transferred, &key, &ov, windows.INFINITE)

		if key == quitCompletionKey {
			return
		}

		if ov == nil {
			if err != nil {
				if errors.Is(err, windows.ERROR_ABANDONED_WAIT_0) || errors.Is(err, windows.ERROR_INVALID_HANDLE) {
					// Port closed out from under us.
					return
				}
				r.logf("reactor: GetQueuedCompletionStatus dequeue failed with no overlapped: %v", err)
			}
			continue
		}

		slot := (*OverlappedSlot)(unsafe.Pointer(ov))
		r.resume(slot, transferred, err)
	}
}

func (r *Reactor) resume(slot *OverlappedSlot, transferred uint32, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logf("reactor: continuation panicked, worker survives: %v", p)
		}
	}()
	slot.cont(transferred, err)
}
