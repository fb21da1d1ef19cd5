// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !windows

package config

func init() {
	handler.Store(Handler(noopHandler{}))
}
