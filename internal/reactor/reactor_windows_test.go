// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/wsudo/wsudo/internal/types/logger"
)

func TestPostQuitJoinsAllWorkers(t *testing.T) {
	r, err := New(logger.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	const workers = 4
	r.Run(workers)

	if err := r.PostQuit(workers); err != nil {
		t.Fatalf("PostQuit: %v", err)
	}

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("workers did not join after PostQuit")
	}
	r.Close()
}

func TestEnterIOThreadResumesAllSubmissions(t *testing.T) {
	r, err := New(logger.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Run(2)

	const n = 50
	var resumed int64
	doneCh := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		if err := r.EnterIOThread(func(uint32, error) {
			atomic.AddInt64(&resumed, 1)
			doneCh <- struct{}{}
		}); err != nil {
			t.Fatalf("EnterIOThread: %v", err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case <-doneCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d/%d continuations resumed", atomic.LoadInt64(&resumed), n)
		}
	}

	r.PostQuit(2)
	r.Wait()
	r.Close()
}

func TestPanickingContinuationDoesNotKillWorker(t *testing.T) {
	r, err := New(logger.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Run(1)

	if err := r.EnterIOThread(func(uint32, error) { panic("boom") }); err != nil {
		t.Fatalf("EnterIOThread: %v", err)
	}

	doneCh := make(chan struct{}, 1)
	if err := r.EnterIOThread(func(uint32, error) { doneCh <- struct{}{} }); err != nil {
		t.Fatalf("EnterIOThread: %v", err)
	}

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not survive a panicking continuation")
	}

	r.PostQuit(1)
	r.Wait()
	r.Close()
}
