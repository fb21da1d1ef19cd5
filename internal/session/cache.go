// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexbrainman/sspi/negotiate"
	"github.com/google/uuid"
	"golang.org/x/sys/windows"

	"github.com/wsudo/wsudo/internal/types/logger"
)

// ErrDenied is returned by Authenticate when the OS rejects the supplied
// credentials.
var ErrDenied = errors.New("session: credentials denied")

const (
	logon32LogonNetwork  = 3
	logon32ProviderDefault = 0
)

// Cache is the (domain, username) → *Session map from §4.6. At most one
// entry exists per identity; entries with expiresAt ≤ now are considered
// absent. All mutation is serialized behind mu.
type Cache struct {
	logf        logger.Logf
	defaultTTL  time.Duration
	localDomain string

	mu       sync.RWMutex
	sessions map[string]*Session

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewCache constructs a Cache, resolving the local account-domain name so
// that an empty domain on a request can be mapped to it (§4.6).
func NewCache(defaultTTL time.Duration, logf logger.Logf) (*Cache, error) {
	local, err := localAccountDomain()
	if err != nil {
		return nil, fmt.Errorf("session: resolve local account domain: %w", err)
	}
	c := &Cache{
		logf:        logf,
		defaultTTL:  defaultTTL,
		localDomain: local,
		sessions:    make(map[string]*Session),
		sweepStop:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	go c.sweepLoop()
	return c, nil
}

func (c *Cache) resolveDomain(domain string) string {
	if domain == "" {
		return c.localDomain
	}
	return domain
}

// Get returns the cached session for (domain, username) if present and
// unexpired, refreshing its expiry on a hit.
func (c *Cache) Get(domain, username string) (*Session, bool) {
	key := Identity(c.resolveDomain(domain), username)

	c.mu.RLock()
	s, ok := c.sessions[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the write lock: another goroutine may have evicted
	// or replaced the entry between the RLock above and here.
	s, ok = c.sessions[key]
	if !ok || s.expired(now) {
		return nil, false
	}
	s.refresh(now)
	return s, true
}

// Authenticate validates domain\username\password against the OS and
// caches the resulting Session on success. On invalid credentials it
// returns ErrDenied; any other failure is returned unwrapped so callers
// can distinguish "system error" from "denied" per §4.6.
func (c *Cache) Authenticate(domain, username, password string) (*Session, error) {
	resolved := c.resolveDomain(domain)

	// Acquire an SSPI credentials handle first: this is a cheap,
	// non-interactive check that the identity is well-formed and known
	// to the negotiate package before paying for the network logon
	// below.
	cred, err := negotiate.AcquireUserCredentials(resolved, username, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDenied, err)
	}
	cred.Release()

	domain16, err := windows.UTF16PtrFromString(resolved)
	if err != nil {
		return nil, fmt.Errorf("session: encode domain: %w", err)
	}
	user16, err := windows.UTF16PtrFromString(username)
	if err != nil {
		return nil, fmt.Errorf("session: encode username: %w", err)
	}
	pass16, err := windows.UTF16PtrFromString(password)
	if err != nil {
		return nil, fmt.Errorf("session: encode password: %w", err)
	}

	token, err := windows.LogonUser(user16, domain16, pass16, logon32LogonNetwork, logon32ProviderDefault)
	if err != nil {
		if errors.Is(err, windows.ERROR_LOGON_FAILURE) || errors.Is(err, windows.ERROR_ACCOUNT_RESTRICTION) {
			return nil, ErrDenied
		}
		return nil, fmt.Errorf("session: LogonUser: %w", err)
	}

	tu, err := token.GetTokenUser()
	if err != nil {
		token.Close()
		return nil, fmt.Errorf("session: read token user: %w", err)
	}

	s := &Session{
		Domain:   resolved,
		Username: username,
		Token:    token,
		SID:      tu.User.Sid,
		ttlReset: c.defaultTTL,
	}
	s.refresh(time.Now())

	key := Identity(resolved, username)
	c.mu.Lock()
	if old, ok := c.sessions[key]; ok {
		old.Close()
	}
	c.sessions[key] = s
	c.mu.Unlock()

	c.logf("session: authenticated %s\\%s (trace %s)", resolved, username, uuid.New())
	return s, nil
}

// Close stops the background sweep and closes every held token handle.
func (c *Cache) Close() {
	close(c.sweepStop)
	<-c.sweepDone

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.sessions {
		s.Close()
		delete(c.sessions, k)
	}
}

func (c *Cache) sweepLoop() {
	defer close(c.sweepDone)
	t := time.NewTicker(c.defaultTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-c.sweepStop:
			return
		case <-t.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, s := range c.sessions {
		if s.expired(now) {
			s.Close()
			delete(c.sessions, k)
			c.logf("session: reaped expired session %s", k)
		}
	}
}

func localAccountDomain() (string, error) {
	name, err := windows.ComputerName()
	if err != nil {
		return "", err
	}
	return name, nil
}
