// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package dispatch implements §4.5: interpreting a decoded wire.Message
// against a session.Cache and tokenbroker.Broker and producing the reply.
package dispatch

import (
	"errors"

	"golang.org/x/sys/windows"

	"github.com/wsudo/wsudo/internal/session"
	"github.com/wsudo/wsudo/internal/tokenbroker"
	"github.com/wsudo/wsudo/internal/types/logger"
	"github.com/wsudo/wsudo/internal/wire"
)

// Next tells the Connection what to do after writing the reply.
type Next int

const (
	// Continue loops back to Reading on the same connection.
	Continue Next = iota
	// Terminal resets the pipe.
	Terminal
)

// Context is the per-connection state the dispatcher reads and mutates:
// the shared session cache and token broker, the client's process ID (as
// reported by the pipe's client-process query), and the connection-local
// userToken slot filled by a successful Credential and consumed by Bless.
type Context struct {
	Sessions *session.Cache
	Tokens   *tokenbroker.Broker
	ClientPID uint32

	// UserToken holds the most recently validated token for this
	// connection. nil until a Credential succeeds; cleared by the
	// Connection on reset.
	UserToken *windows.Token
}

// Dispatch implements §4.5's branches. It never panics and always
// produces a reply; logf receives one line per terminal error.
func Dispatch(ctx *Context, req wire.Message, logf logger.Logf) (wire.Message, Next) {
	switch req.Kind {
	case wire.KindQuerySession:
		if _, ok := ctx.Sessions.Get(req.Domain, req.Username); ok {
			return wire.Success(), Continue
		}
		return wire.Failure(""), Continue

	case wire.KindCredential:
		s, err := ctx.Sessions.Authenticate(req.Domain, req.Username, req.Password)
		if err != nil {
			if errors.Is(err, session.ErrDenied) {
				return wire.AccessDenied(), Continue
			}
			logf("dispatch: authenticate %s\\%s: %v", req.Domain, req.Username, err)
			return wire.InternalError(), Continue
		}
		tok := s.Token
		ctx.UserToken = &tok
		return wire.Success(), Continue

	case wire.KindBless:
		if ctx.UserToken == nil {
			logf("dispatch: bless without prior credential on this connection")
			return wire.InternalError(), Terminal
		}
		launch, err := ctx.Tokens.DeriveLaunchToken(ctx.ClientPID, *ctx.UserToken)
		if err != nil {
			logf("dispatch: derive launch token for pid %d: %v", ctx.ClientPID, err)
			return wire.InternalError(), Terminal
		}
		if err := ctx.Tokens.Apply(ctx.ClientPID, req.Handle, launch); err != nil {
			logf("dispatch: apply launch token to pid %d: %v", ctx.ClientPID, err)
			return wire.InternalError(), Terminal
		}
		return wire.Success(), Terminal

	case wire.KindInvalid:
		return wire.Invalid(), Terminal

	default:
		return wire.Invalid(), Terminal
	}
}
