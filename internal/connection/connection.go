// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package connection implements the per-pipe-instance state machine from
// §4.4: connect, read a framed request, dispatch, write the reply, and
// either loop or reset, all driven by reactor continuations so that no
// goroutine blocks waiting on IO.
package connection

import (
	"errors"

	"golang.org/x/sys/windows"

	"github.com/wsudo/wsudo/internal/dispatch"
	"github.com/wsudo/wsudo/internal/pipe"
	"github.com/wsudo/wsudo/internal/reactor"
	"github.com/wsudo/wsudo/internal/session"
	"github.com/wsudo/wsudo/internal/tokenbroker"
	"github.com/wsudo/wsudo/internal/types/logger"
	"github.com/wsudo/wsudo/internal/wire"
)

const (
	readChunkSize = 4096
	maxMessage    = 64 * 1024
)

type state int

const (
	stateConnecting state = iota
	stateReading
	stateWriting
	stateResetting
	stateTerminated
)

// Connection owns one named-pipe instance end to end for the life of the
// broker; on disconnect it re-arms and serves the next client rather than
// being torn down, matching the Supervisor's fixed pool of connections.
type Connection struct {
	factory *pipe.Factory
	reactor *reactor.Reactor
	logf    logger.Logf

	ctx *dispatch.Context

	handle windows.Handle
	state  state

	readBuf   []byte
	writeBuf  []byte
	writeOff  int

	slot reactor.OverlappedSlot
}

// New builds a Connection bound to the given shared session cache and
// token broker. Start must be called once to begin serving.
func New(f *pipe.Factory, r *reactor.Reactor, sessions *session.Cache, tokens *tokenbroker.Broker, logf logger.Logf) *Connection {
	return &Connection{
		factory: f,
		reactor: r,
		logf:    logf,
		ctx:     &dispatch.Context{Sessions: sessions, Tokens: tokens},
		readBuf: make([]byte, 0, readChunkSize),
	}
}

// Start opens a fresh pipe instance and begins the Connecting state. The
// reactor resumes the connection's continuations from here on; Start
// itself never blocks.
func (c *Connection) Start() {
	c.arm()
}

func (c *Connection) arm() {
	h, err := c.factory.Open()
	if err != nil {
		c.logf("connection: fatal: open pipe instance: %v", err)
		c.state = stateTerminated
		return
	}
	if h == windows.InvalidHandle {
		// Transient: caller's factory already logged. Try again next
		// time the reactor gives us a tick via enter_io_thread.
		c.reactor.EnterIOThread(func(uint32, error) { c.arm() })
		return
	}
	c.handle = h
	if err := c.reactor.Register(c.handle); err != nil {
		c.logf("connection: fatal: register pipe handle: %v", err)
		windows.CloseHandle(c.handle)
		c.state = stateTerminated
		return
	}
	c.state = stateConnecting
	c.reactor.SubmitConnect(c.handle, &c.slot, c.onConnected)
}

func (c *Connection) onConnected(_ uint32, err error) {
	if err != nil {
		c.logf("connection: connect failed: %v", err)
		c.reset()
		return
	}
	pid, err := clientProcessID(c.handle)
	if err != nil {
		c.logf("connection: read client PID: %v", err)
		c.reset()
		return
	}
	c.ctx.ClientPID = pid
	c.beginRead()
}

func (c *Connection) beginRead() {
	c.state = stateReading
	c.readBuf = c.readBuf[:0]
	c.readMore()
}

func (c *Connection) readMore() {
	start := len(c.readBuf)
	if cap(c.readBuf) < start+readChunkSize {
		grown := make([]byte, start, start+readChunkSize)
		copy(grown, c.readBuf)
		c.readBuf = grown
	}
	c.readBuf = c.readBuf[:start+readChunkSize]
	c.reactor.SubmitRead(c.handle, c.readBuf[start:start+readChunkSize], &c.slot, func(n uint32, err error) {
		c.onRead(start, n, err)
	})
}

func (c *Connection) onRead(start int, n uint32, err error) {
	c.readBuf = c.readBuf[:start+int(n)]

	if err != nil {
		if errors.Is(err, windows.ERROR_MORE_DATA) {
			if len(c.readBuf) >= maxMessage {
				c.logf("connection: request exceeded max message size, resetting")
				c.reset()
				return
			}
			c.readMore()
			return
		}
		if errors.Is(err, windows.ERROR_BROKEN_PIPE) || errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED) {
			c.reset()
			return
		}
		c.logf("connection: read failed: %v", err)
		c.reset()
		return
	}

	c.dispatchRequest()
}

func (c *Connection) dispatchRequest() {
	req := wire.Decode(c.readBuf)
	reply, next := dispatch.Dispatch(c.ctx, req, c.logf)

	// Wipe the request buffer now that decoding and dispatch are both
	// done with it: §3's password-hygiene invariant.
	zero(c.readBuf)

	c.writeBuf = wire.Encode(reply, c.writeBuf[:0])
	c.writeOff = 0
	c.state = stateWriting
	c.writeNext(next)
}

func (c *Connection) writeNext(next dispatch.Next) {
	remaining := c.writeBuf[c.writeOff:]
	c.reactor.SubmitWrite(c.handle, remaining, &c.slot, func(n uint32, err error) {
		c.onWrite(n, err, next)
	})
}

func (c *Connection) onWrite(n uint32, err error, next dispatch.Next) {
	if err != nil {
		if errors.Is(err, windows.ERROR_BROKEN_PIPE) || errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED) {
			c.reset()
			return
		}
		c.logf("connection: write failed: %v", err)
		c.reset()
		return
	}

	c.writeOff += int(n)
	if c.writeOff < len(c.writeBuf) {
		c.writeNext(next)
		return
	}

	zero(c.writeBuf)
	if next == dispatch.Terminal {
		c.reset()
		return
	}
	c.beginRead()
}

func (c *Connection) reset() {
	c.state = stateResetting
	zero(c.readBuf)
	zero(c.writeBuf)
	// UserToken is a copy of the handle value held by the cached
	// session (dispatch.go's Credential case never duplicates it), so
	// the session, not this connection, owns closing it. Only clear the
	// per-connection slot.
	c.ctx.UserToken = nil
	c.ctx.ClientPID = 0

	err := windows.DisconnectNamedPipe(c.handle)
	if err != nil && !errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED) {
		c.logf("connection: disconnect: %v", err)
	}
	windows.CloseHandle(c.handle)
	c.arm()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
