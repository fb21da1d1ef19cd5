// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"runtime"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.PipePath != DefaultPipePath {
		t.Errorf("PipePath = %q, want %q", d.PipePath, DefaultPipePath)
	}
	if d.MaxInstances != 10 {
		t.Errorf("MaxInstances = %d, want 10", d.MaxInstances)
	}
	if d.ReactorWorkers != runtime.NumCPU() {
		t.Errorf("ReactorWorkers = %d, want %d", d.ReactorWorkers, runtime.NumCPU())
	}
	if d.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", d.SessionTTL, DefaultSessionTTL)
	}
}

func TestApplyPolicyFillsZeroFieldsWithoutOverride(t *testing.T) {
	var b Broker
	b.ApplyPolicy()

	if b.PipePath != DefaultPipePath {
		t.Errorf("PipePath = %q, want %q", b.PipePath, DefaultPipePath)
	}
	if b.MaxInstances != 10 {
		t.Errorf("MaxInstances = %d, want 10", b.MaxInstances)
	}
	if b.ReactorWorkers != runtime.NumCPU() {
		t.Errorf("ReactorWorkers = %d, want %d", b.ReactorWorkers, runtime.NumCPU())
	}
	if b.SessionTTL != DefaultSessionTTL {
		t.Errorf("SessionTTL = %v, want %v", b.SessionTTL, DefaultSessionTTL)
	}
}

func TestApplyPolicyLeavesNonZeroFieldsAlone(t *testing.T) {
	b := Broker{
		PipePath:       `\\.\pipe\custom`,
		MaxInstances:   3,
		ReactorWorkers: 7,
		SessionTTL:     2 * time.Minute,
	}
	b.ApplyPolicy()

	if b.PipePath != `\\.\pipe\custom` {
		t.Errorf("PipePath was overwritten: %q", b.PipePath)
	}
	if b.MaxInstances != 3 {
		t.Errorf("MaxInstances was overwritten: %d", b.MaxInstances)
	}
	if b.ReactorWorkers != 7 {
		t.Errorf("ReactorWorkers was overwritten: %d", b.ReactorWorkers)
	}
	if b.SessionTTL != 2*time.Minute {
		t.Errorf("SessionTTL was overwritten: %v", b.SessionTTL)
	}
}

func TestNoopHandlerReturnsErrNoSuchKey(t *testing.T) {
	if _, err := (noopHandler{}).ReadString(KeyPipePath); err != ErrNoSuchKey {
		t.Errorf("ReadString err = %v, want ErrNoSuchKey", err)
	}
	if _, err := (noopHandler{}).ReadUint32(KeyMaxInstances); err != ErrNoSuchKey {
		t.Errorf("ReadUint32 err = %v, want ErrNoSuchKey", err)
	}
}
