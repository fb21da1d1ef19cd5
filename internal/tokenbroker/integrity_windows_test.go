// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package tokenbroker

import "testing"

func TestTokenIntegrityLevelReadsOwnProcessToken(t *testing.T) {
	tok := currentProcessToken(t)

	level, err := tokenIntegrityLevel(tok)
	if err != nil {
		t.Fatalf("tokenIntegrityLevel: %v", err)
	}
	// Any real process token carries at least Low (0x1000); 0 would mean
	// the mandatory label SID was misparsed.
	if level == 0 {
		t.Fatalf("tokenIntegrityLevel() = 0, want a non-zero RID")
	}
}

func TestRaiseIntegrityLabelNoopsAboveMedium(t *testing.T) {
	tok := currentProcessToken(t)

	// The test process's own token is always at least Medium, so this
	// must return nil without needing SeSecurityPrivilege.
	if err := raiseIntegrityLabel(tok); err != nil {
		t.Fatalf("raiseIntegrityLabel: %v", err)
	}
}
