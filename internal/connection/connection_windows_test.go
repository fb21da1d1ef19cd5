// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package connection

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Microsoft/go-winio"

	"github.com/wsudo/wsudo/internal/pipe"
	"github.com/wsudo/wsudo/internal/reactor"
	"github.com/wsudo/wsudo/internal/session"
	"github.com/wsudo/wsudo/internal/tokenbroker"
	"github.com/wsudo/wsudo/internal/types/logger"
	"github.com/wsudo/wsudo/internal/wire"
)

// TestConnectionServesQuerySessionOverRealPipe dials the broker's actual
// named-pipe/reactor/dispatch stack end to end: a real client connects,
// sends a framed QuerySession request for an identity that was never
// authenticated, and expects a Failure reply, after which the Connection
// must re-arm and accept a second client on the same path.
func TestConnectionServesQuerySessionOverRealPipe(t *testing.T) {
	path := fmt.Sprintf(`\\.\pipe\wsudo_conn_test_%d_%s`, os.Getpid(), t.Name())

	f, err := pipe.New(pipe.Config{Path: path, MaxInstances: 2}, logger.Discard)
	if err != nil {
		t.Fatalf("pipe.New: %v", err)
	}

	r, err := reactor.New(logger.Discard)
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	r.Run(2)
	defer func() {
		r.PostQuit(2)
		r.Wait()
		r.Close()
	}()

	sessions, err := session.NewCache(time.Minute, logger.Discard)
	if err != nil {
		t.Fatalf("session.NewCache: %v", err)
	}
	defer sessions.Close()

	tokens := tokenbroker.New(logger.Discard)

	c := New(f, r, sessions, tokens, logger.Discard)
	c.Start()

	roundTrip := func() {
		t.Helper()
		timeout := 5 * time.Second
		conn, err := winio.DialPipe(path, &timeout)
		if err != nil {
			t.Fatalf("DialPipe: %v", err)
		}
		defer conn.Close()

		req := wire.Encode(wire.QuerySession("", "nobody-"+t.Name()), nil)
		if _, err := conn.Write(req); err != nil {
			t.Fatalf("client write: %v", err)
		}

		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("client read: %v", err)
		}
		reply := wire.Decode(buf[:n])
		if reply.Kind != wire.KindFailure {
			t.Fatalf("reply.Kind = %v, want Failure", reply.Kind)
		}
	}

	// First client: also proves the Connection re-arms after the round
	// trip (the pipe would otherwise still be busy for the second dial).
	roundTrip()
	roundTrip()
}
