// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package config

import (
	"golang.org/x/sys/windows/registry"
)

// policyRoot is where an operator may override broker tunables, analogous
// to tailscale's HKLM\SOFTWARE\Policies\Tailscale.
const policyRoot = `SOFTWARE\Policies\wsudo`

func init() {
	handler.Store(Handler(windowsHandler{}))
}

type windowsHandler struct{}

func (windowsHandler) ReadString(key Key) (string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, policyRoot, registry.QUERY_VALUE)
	if err != nil {
		return "", ErrNoSuchKey
	}
	defer k.Close()
	s, _, err := k.GetStringValue(string(key))
	if err != nil {
		return "", ErrNoSuchKey
	}
	return s, nil
}

func (windowsHandler) ReadUint32(key Key) (uint32, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, policyRoot, registry.QUERY_VALUE)
	if err != nil {
		return 0, ErrNoSuchKey
	}
	defer k.Close()
	v, _, err := k.GetIntegerValue(string(key))
	if err != nil {
		return 0, ErrNoSuchKey
	}
	return uint32(v), nil
}
