// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package dispatch

import (
	"testing"

	"github.com/akutz/memconn"

	"github.com/wsudo/wsudo/internal/wire"
)

// TestWireOverMemConn drives a QuerySession request through Dispatch over
// an in-memory net.Conn pair, exercising the wire codec and dispatcher
// together without touching a real named pipe.
func TestWireOverMemConn(t *testing.T) {
	name := "dispatch-test-" + t.Name()
	ln, err := memconn.Listen("memu", name)
	if err != nil {
		t.Fatalf("memconn.Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		ctx := newTestContext(t)
		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		req := wire.Decode(buf[:n])
		reply, _ := Dispatch(ctx, req, func(string, ...any) {})
		out := wire.Encode(reply, nil)
		conn.Write(out)
	}()

	client, err := memconn.Dial("memu", name)
	if err != nil {
		t.Fatalf("memconn.Dial: %v", err)
	}
	defer client.Close()

	req := wire.Encode(wire.QuerySession("", "nobody-for-memconn-test"), nil)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("client write: %v", err)
	}

	respBuf := make([]byte, 4096)
	n, err := client.Read(respBuf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	reply := wire.Decode(respBuf[:n])
	if reply.Kind != wire.KindFailure {
		t.Fatalf("reply.Kind = %v, want Failure", reply.Kind)
	}

	<-serverDone
}
