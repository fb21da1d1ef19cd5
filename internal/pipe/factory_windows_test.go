// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package pipe

import (
	"fmt"
	"os"
	"testing"

	"golang.org/x/sys/windows"

	"github.com/wsudo/wsudo/internal/types/logger"
)

func testPath(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf(`\\.\pipe\wsudo_test_%d_%s`, os.Getpid(), t.Name())
}

func TestNewBuildsSecurityDescriptor(t *testing.T) {
	f, err := New(Config{Path: testPath(t)}, logger.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.cfg.InputBufferSize != DefaultBufferHint {
		t.Errorf("InputBufferSize = %d, want %d", f.cfg.InputBufferSize, DefaultBufferHint)
	}
	if f.cfg.OutputBufferSize != DefaultBufferHint {
		t.Errorf("OutputBufferSize = %d, want %d", f.cfg.OutputBufferSize, DefaultBufferHint)
	}
	if f.cfg.MaxInstances != 10 {
		t.Errorf("MaxInstances = %d, want 10", f.cfg.MaxInstances)
	}
	if len(f.sd) == 0 {
		t.Errorf("expected a non-empty security descriptor")
	}
}

func TestOpenFirstInstanceSucceedsThenFails(t *testing.T) {
	path := testPath(t)
	f, err := New(Config{Path: path, MaxInstances: 1}, logger.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h, err := f.Open()
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if h == windows.InvalidHandle {
		t.Fatalf("first Open returned an invalid handle")
	}
	defer windows.CloseHandle(h)

	if !f.madeFirst {
		t.Errorf("madeFirst should be true after a successful first Open")
	}

	// A second concurrent instance exceeds MaxInstances=1; Open reports
	// this as a non-fatal (nil, InvalidHandle) for the caller to retry,
	// per §4.2.
	h2, err := f.Open()
	if err != nil {
		t.Fatalf("second Open returned an error instead of a retryable InvalidHandle: %v", err)
	}
	if h2 != windows.InvalidHandle {
		windows.CloseHandle(h2)
		t.Fatalf("expected second Open to fail with InvalidHandle when MaxInstances=1")
	}
}

func TestPathReturnsConfiguredPath(t *testing.T) {
	path := testPath(t)
	f, err := New(Config{Path: path}, logger.Discard)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if f.Path() != path {
		t.Errorf("Path() = %q, want %q", f.Path(), path)
	}
}
