// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package tokenbroker

import (
	"os"
	"testing"

	"golang.org/x/sys/windows"

	"github.com/wsudo/wsudo/internal/types/logger"
)

func currentProcessToken(t *testing.T) windows.Token {
	t.Helper()
	var tok windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_DUPLICATE|windows.TOKEN_QUERY, &tok); err != nil {
		t.Fatalf("OpenProcessToken: %v", err)
	}
	t.Cleanup(func() { tok.Close() })
	return tok
}

func TestDeriveServerLaunchTokenFromOwnToken(t *testing.T) {
	b := New(logger.Discard)
	session := currentProcessToken(t)

	launch, err := b.DeriveServerLaunchToken(session)
	if err != nil {
		t.Fatalf("DeriveServerLaunchToken: %v", err)
	}
	defer launch.Close()

	if launch == 0 {
		t.Fatalf("expected a non-zero launch token")
	}
	if got := b.Stats().Derived; got != 1 {
		t.Errorf("Stats().Derived = %d, want 1", got)
	}
}

func TestDeriveLaunchTokenRejectsUnreachablePID(t *testing.T) {
	b := New(logger.Discard)
	session := currentProcessToken(t)

	// PID 0 is the System Idle Process; OpenProcess against it always
	// fails with access denied, which is enough to exercise the liveness
	// check's error path without depending on any particular real PID.
	if _, err := b.DeriveLaunchToken(0, session); err == nil {
		t.Fatalf("expected an error deriving a launch token for pid 0")
	}
	if got := b.Stats().Errors; got != 1 {
		t.Errorf("Stats().Errors = %d, want 1", got)
	}
}

func TestDeriveLaunchTokenFromOwnProcess(t *testing.T) {
	b := New(logger.Discard)
	session := currentProcessToken(t)

	launch, err := b.DeriveLaunchToken(uint32(os.Getpid()), session)
	if err != nil {
		t.Fatalf("DeriveLaunchToken: %v", err)
	}
	launch.Close()

	if got := b.Stats().Derived; got != 1 {
		t.Errorf("Stats().Derived = %d, want 1", got)
	}
}

func TestApplyRejectsUnreachablePID(t *testing.T) {
	b := New(logger.Discard)
	session := currentProcessToken(t)
	launch, err := b.DeriveServerLaunchToken(session)
	if err != nil {
		t.Fatalf("DeriveServerLaunchToken: %v", err)
	}

	if err := b.Apply(0, 0, launch); err == nil {
		t.Fatalf("expected Apply to fail for pid 0")
	}
	if got := b.Stats().Errors; got != 1 {
		t.Errorf("Stats().Errors = %d, want 1", got)
	}
}
