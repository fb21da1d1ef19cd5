// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"runtime"
	"time"
)

// DefaultPipePath is the broker's well-known endpoint from §6.
const DefaultPipePath = `\\.\pipe\wsudo_token_server`

// DefaultSessionTTL is the SessionCache entry lifetime from §3 (ttl_reset).
const DefaultSessionTTL = 5 * time.Minute

// Broker holds the Supervisor's tunables. Flags (see cmd/wsudobroker) take
// priority; any flag left at its zero value falls back to a registry
// policy override (config.Read*), then to the hardcoded default.
type Broker struct {
	PipePath               string
	MaxInstances           uint32
	ReactorWorkers         int
	SessionTTL             time.Duration
	RequireFreshCredential bool
}

// Defaults returns the out-of-the-box Broker configuration before any
// policy overrides or flags are applied.
func Defaults() Broker {
	return Broker{
		PipePath:       DefaultPipePath,
		MaxInstances:   10,
		ReactorWorkers: runtime.NumCPU(),
		SessionTTL:     DefaultSessionTTL,
	}
}

// ApplyPolicy fills in any field left at its zero value from the registry
// policy handler, matching the Open Question in §9 about operator
// overrides of the reactor worker count.
func (b *Broker) ApplyPolicy() {
	if b.PipePath == "" {
		if s, err := ReadString(KeyPipePath); err == nil && s != "" {
			b.PipePath = s
		} else {
			b.PipePath = DefaultPipePath
		}
	}
	if b.MaxInstances == 0 {
		if v, err := ReadUint32(KeyMaxInstances); err == nil && v > 0 {
			b.MaxInstances = v
		} else {
			b.MaxInstances = 10
		}
	}
	if b.ReactorWorkers == 0 {
		if v, err := ReadUint32(KeyReactorWorkers); err == nil && v > 0 {
			b.ReactorWorkers = int(v)
		} else {
			b.ReactorWorkers = runtime.NumCPU()
		}
	}
	if b.SessionTTL == 0 {
		if v, err := ReadUint32(KeySessionTTLSecs); err == nil && v > 0 {
			b.SessionTTL = time.Duration(v) * time.Second
		} else {
			b.SessionTTL = DefaultSessionTTL
		}
	}
}
