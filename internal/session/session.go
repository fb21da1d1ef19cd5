// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package session implements the SessionCache and Session types from §3
// and §4.6: a TTL-bounded cache of authenticated logon sessions, keyed by
// (domain, username).
package session

import (
	"time"

	"golang.org/x/sys/windows"
)

// Session is a cached, authenticated logon. The token handle is owned
// exclusively by the Session; Close closes it.
type Session struct {
	Domain   string
	Username string
	Token    windows.Token
	SID      *windows.SID

	ttlReset  time.Duration
	expiresAt time.Time
}

// Close closes the session's token handle. Safe to call more than once.
func (s *Session) Close() {
	if s.Token != 0 {
		s.Token.Close()
		s.Token = 0
	}
}

// refresh extends expiresAt by ttlReset from now, matching §3's
// "refreshed (expires_at ← now + ttl_reset) on each use."
func (s *Session) refresh(now time.Time) {
	s.expiresAt = now.Add(s.ttlReset)
}

func (s *Session) expired(now time.Time) bool {
	return !s.expiresAt.After(now)
}

// Identity returns the case-sensitive (domain, username) key used by
// SessionCache, matching §3's "keyed case-sensitively on the UTF-16 form."
func Identity(domain, username string) string {
	return domain + "\\" + username
}
