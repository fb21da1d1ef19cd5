// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

// Package supervisor implements §4.8: orchestrating the broker's lifetime
// from pipe-factory construction through a clean, joined shutdown.
package supervisor

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wsudo/wsudo/internal/config"
	"github.com/wsudo/wsudo/internal/connection"
	"github.com/wsudo/wsudo/internal/pipe"
	"github.com/wsudo/wsudo/internal/reactor"
	"github.com/wsudo/wsudo/internal/session"
	"github.com/wsudo/wsudo/internal/tokenbroker"
	"github.com/wsudo/wsudo/internal/types/logger"
)

// Status is the outcome Supervisor.Run reports once it has fully wound
// down, per §4.8 item 5.
type Status int

const (
	StatusOK Status = iota
	StatusCreatePipeFailed
	StatusEventFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "Ok"
	case StatusCreatePipeFailed:
		return "CreatePipeFailed"
	case StatusEventFailed:
		return "EventFailed"
	case StatusTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// shutdownJoinTimeout bounds how long Run waits for workers to join after
// Quit is called before reporting StatusTimedOut, matching §8 scenario 5's
// "wait() returns within 1 s."
const shutdownJoinTimeout = 1 * time.Second

// Supervisor owns the broker's pipe factory, reactor, session cache, token
// broker, and connection pool for the life of one process. Not re-entrant:
// construct one per process.
type Supervisor struct {
	logf logger.Logf
	cfg  config.Broker

	factory *pipe.Factory
	react   *reactor.Reactor
	sess    *session.Cache
	tokens  *tokenbroker.Broker
	conns   []*connection.Connection

	// workers is the actual reactor worker count Run started with
	// (cfg.ReactorWorkers floored to 1), so Quit posts exactly as many
	// quit sentinels as there are workers to consume them.
	workers int

	// quit is closed by Quit; Run starts its join timeout only then.
	quit chan struct{}
}

// New builds every dependency a Supervisor needs but does not yet start
// anything; call Run to do that. The three independent constructors (pipe
// factory, reactor, session cache) have no dependency on one another, so
// they run concurrently under an errgroup and New returns the first
// failure.
func New(cfg config.Broker, logf logger.Logf) (*Supervisor, error) {
	var (
		factory *pipe.Factory
		react   *reactor.Reactor
		sess    *session.Cache
	)

	var g errgroup.Group
	g.Go(func() (err error) {
		factory, err = pipe.New(pipe.Config{
			Path:         cfg.PipePath,
			MaxInstances: cfg.MaxInstances,
		}, logf)
		return err
	})
	g.Go(func() (err error) {
		react, err = reactor.New(logf)
		return err
	})
	g.Go(func() (err error) {
		sess, err = session.NewCache(cfg.SessionTTL, logf)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}

	return &Supervisor{
		logf:    logf,
		cfg:     cfg,
		factory: factory,
		react:   react,
		sess:    sess,
		tokens:  tokenbroker.New(logf),
		quit:    make(chan struct{}),
	}, nil
}

// Run starts the reactor, spawns one Connection per configured pipe
// instance, and blocks until Quit is called and every worker has joined.
func (s *Supervisor) Run() Status {
	s.workers = s.cfg.ReactorWorkers
	if s.workers < 1 {
		s.workers = 1
	}
	s.react.Run(s.workers)

	n := int(s.cfg.MaxInstances)
	if n < 1 {
		n = 1
	}
	s.conns = make([]*connection.Connection, n)
	for i := range s.conns {
		c := connection.New(s.factory, s.react, s.sess, s.tokens, s.logf)
		s.conns[i] = c
		c.Start()
	}

	joined := make(chan struct{})
	go func() {
		s.react.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		return StatusOK
	case <-s.quit:
	}

	select {
	case <-joined:
		return StatusOK
	case <-time.After(shutdownJoinTimeout):
		s.logf("supervisor: workers did not join within %s", shutdownJoinTimeout)
		return StatusTimedOut
	}
}

// Quit posts the reactor's quit sentinel; Run's Wait() then returns once
// every in-flight continuation has unwound.
func (s *Supervisor) Quit() {
	if err := s.react.PostQuit(s.workers); err != nil {
		s.logf("supervisor: post_quit: %v", err)
	}
	close(s.quit)
}

// Close tears down the supervisor's owned resources. Call after Run
// returns.
func (s *Supervisor) Close() {
	s.sess.Close()
	s.react.Close()
}
