// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package dispatch

import (
	"testing"
	"time"

	"github.com/wsudo/wsudo/internal/session"
	"github.com/wsudo/wsudo/internal/tokenbroker"
	"github.com/wsudo/wsudo/internal/types/logger"
	"github.com/wsudo/wsudo/internal/wire"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	sessions, err := session.NewCache(time.Minute, logger.Discard)
	if err != nil {
		t.Fatalf("session.NewCache: %v", err)
	}
	t.Cleanup(sessions.Close)
	return &Context{Sessions: sessions, Tokens: tokenbroker.New(logger.Discard)}
}

func TestDispatchInvalidIsTerminal(t *testing.T) {
	ctx := newTestContext(t)
	reply, next := Dispatch(ctx, wire.Invalid(), logger.Discard)
	if reply.Kind != wire.KindInvalid || next != Terminal {
		t.Fatalf("got (%v, %v), want (Invalid, Terminal)", reply, next)
	}
}

func TestDispatchQuerySessionMiss(t *testing.T) {
	ctx := newTestContext(t)
	reply, next := Dispatch(ctx, wire.QuerySession("", "nobody-"+t.Name()), logger.Discard)
	if reply.Kind != wire.KindFailure || next != Continue {
		t.Fatalf("got (%v, %v), want (Failure, Continue)", reply, next)
	}
}

func TestDispatchBlessWithoutPriorCredentialIsTerminalInternalError(t *testing.T) {
	ctx := newTestContext(t)
	reply, next := Dispatch(ctx, wire.Bless(0x1234), logger.Discard)
	if reply.Kind != wire.KindInternalError || next != Terminal {
		t.Fatalf("got (%v, %v), want (InternalError, Terminal)", reply, next)
	}
}
