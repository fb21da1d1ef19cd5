// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config holds the broker's tunables and the optional registry
// policy overrides for them, mirroring the handler/Handler split in
// tailscale.com/util/syspolicy (handler.go, handler_windows.go,
// handler_others.go, policy_keys.go).
package config

import (
	"errors"
	"sync/atomic"
)

var handler atomic.Value

// Handler reads policy overrides from OS-specific storage. On Windows
// this is the local machine registry; elsewhere (the module only ships
// for windows, but keeping the split lets the package build and lint on
// a developer's non-Windows workstation) it always reports ErrNoSuchKey.
type Handler interface {
	ReadString(key Key) (string, error)
	ReadUint32(key Key) (uint32, error)
}

// ErrNoSuchKey is returned when a policy key has no configured override.
var ErrNoSuchKey = errors.New("config: no such policy key")

// Key names a registry policy value under the broker's policy root.
type Key string

// Policy keys. All are optional; Defaults() supplies the fallback.
const (
	KeyPipePath         Key = "PipePath"
	KeyMaxInstances     Key = "MaxInstances"
	KeySessionTTLSecs   Key = "SessionTTLSeconds"
	KeyReactorWorkers   Key = "ReactorWorkers"
	KeyHandshakeEnabled Key = "RequireFreshCredential"
)

// ReadString reads a string policy override, or ("", ErrNoSuchKey) if
// unset.
func ReadString(key Key) (string, error) {
	return currentHandler().ReadString(key)
}

// ReadUint32 reads an integer policy override, or (0, ErrNoSuchKey) if
// unset.
func ReadUint32(key Key) (uint32, error) {
	return currentHandler().ReadUint32(key)
}

func currentHandler() Handler {
	h, _ := handler.Load().(Handler)
	if h == nil {
		return noopHandler{}
	}
	return h
}

type noopHandler struct{}

func (noopHandler) ReadString(Key) (string, error) { return "", ErrNoSuchKey }
func (noopHandler) ReadUint32(Key) (uint32, error) { return 0, ErrNoSuchKey }
