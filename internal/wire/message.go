// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wire implements the wsudo broker's length-delimited, tagged
// message codec. Every message on the pipe is a 4-byte code followed by a
// variant-specific payload; see the wire protocol section of the design
// doc for the full grammar.
package wire

import (
	"encoding/binary"
	"unsafe"
)

// Code is the 4-byte tag that begins every message on the wire.
type Code [4]byte

// Known message codes.
var (
	CodeInvalid       = Code{'I', 'N', 'V', 'M'}
	CodeSuccess       = Code{'S', 'U', 'C', 'C'}
	CodeFailure       = Code{'F', 'A', 'I', 'L'}
	CodeInternalError = Code{'I', 'N', 'T', 'E'}
	CodeAccessDenied  = Code{'D', 'E', 'N', 'Y'}
	CodeQuerySession  = Code{'Q', 'S', 'E', 'S'}
	CodeCredential    = Code{'C', 'R', 'E', 'D'}
	CodeBless         = Code{'B', 'L', 'E', 'S'}
)

func (c Code) String() string { return string(c[:]) }

// Kind enumerates the decoded Message variants.
type Kind int

const (
	KindInvalid Kind = iota
	KindSuccess
	KindFailure
	KindInternalError
	KindAccessDenied
	KindQuerySession
	KindCredential
	KindBless
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "Invalid"
	case KindSuccess:
		return "Success"
	case KindFailure:
		return "Failure"
	case KindInternalError:
		return "InternalError"
	case KindAccessDenied:
		return "AccessDenied"
	case KindQuerySession:
		return "QuerySession"
	case KindCredential:
		return "Credential"
	case KindBless:
		return "Bless"
	default:
		return "Unknown"
	}
}

// Message is the decoded form of one wire message. Only the fields
// relevant to Kind are populated; string fields that result from a Decode
// are copies of the bytes in the original slice, so zero-filling that slice
// (as the Connection does after dispatch) does not clear them.
type Message struct {
	Kind Kind

	// Failure.Reason; optional human-readable text.
	Reason string

	// QuerySession / Credential.
	Domain   string
	Username string

	// Credential only. Never logged (String redacts it). The string is
	// immutable and is not zeroed after use.
	Password string

	// Bless only. Client-process-relative handle value.
	Handle uintptr
}

// String renders m for trace logging. Credential never includes the
// password.
func (m Message) String() string {
	switch m.Kind {
	case KindFailure:
		return "Failure(" + m.Reason + ")"
	case KindQuerySession:
		return "QuerySession(" + m.Domain + `\` + m.Username + ")"
	case KindCredential:
		return "Credential(" + m.Domain + `\` + m.Username + ", <redacted>)"
	case KindBless:
		return "Bless(0x" + uintptrHex(m.Handle) + ")"
	default:
		return m.Kind.String()
	}
}

func uintptrHex(v uintptr) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [2 * unsafe.Sizeof(v)]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

func backslashSplit(s string) (before, after string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// Invalid reports a decoded Invalid message.
func Invalid() Message { return Message{Kind: KindInvalid} }

// Success reports a decoded Success message.
func Success() Message { return Message{Kind: KindSuccess} }

// Failure reports a decoded Failure message with an optional reason.
func Failure(reason string) Message { return Message{Kind: KindFailure, Reason: reason} }

// InternalError reports a decoded InternalError message.
func InternalError() Message { return Message{Kind: KindInternalError} }

// AccessDenied reports a decoded AccessDenied message.
func AccessDenied() Message { return Message{Kind: KindAccessDenied} }

// QuerySession builds a QuerySession request.
func QuerySession(domain, username string) Message {
	return Message{Kind: KindQuerySession, Domain: domain, Username: username}
}

// Credential builds a Credential request. The password is never copied
// beyond what the caller supplies; Encode writes it directly into the
// output buffer.
func Credential(domain, username, password string) Message {
	return Message{Kind: KindCredential, Domain: domain, Username: username, Password: password}
}

// Bless builds a Bless request carrying a client-process-relative handle
// value.
func Bless(handle uintptr) Message {
	return Message{Kind: KindBless, Handle: handle}
}

// Encode appends the wire form of m to out and returns the extended slice.
// Encode never fails: callers are responsible for constructing Messages
// that satisfy the grammar (zero value is not meaningful on the wire for
// most variants other than Invalid/Success/InternalError/AccessDenied).
func Encode(m Message, out []byte) []byte {
	switch m.Kind {
	case KindInvalid:
		return append(out, CodeInvalid[:]...)
	case KindSuccess:
		return append(out, CodeSuccess[:]...)
	case KindFailure:
		out = append(out, CodeFailure[:]...)
		return append(out, m.Reason...)
	case KindInternalError:
		return append(out, CodeInternalError[:]...)
	case KindAccessDenied:
		return append(out, CodeAccessDenied[:]...)
	case KindQuerySession:
		out = append(out, CodeQuerySession[:]...)
		out = append(out, m.Domain...)
		out = append(out, '\\')
		return append(out, m.Username...)
	case KindCredential:
		out = append(out, CodeCredential[:]...)
		out = append(out, m.Domain...)
		out = append(out, '\\')
		out = append(out, m.Username...)
		out = append(out, 0)
		return append(out, m.Password...)
	case KindBless:
		out = append(out, CodeBless[:]...)
		var buf [unsafe.Sizeof(uintptr(0))]byte
		putUintptr(buf[:], m.Handle)
		return append(out, buf[:]...)
	default:
		return append(out, CodeInvalid[:]...)
	}
}

func putUintptr(b []byte, v uintptr) {
	switch len(b) {
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func getUintptr(b []byte) (uintptr, bool) {
	switch len(b) {
	case 4:
		return uintptr(binary.LittleEndian.Uint32(b)), true
	case 8:
		return uintptr(binary.LittleEndian.Uint64(b)), true
	default:
		return 0, false
	}
}

// Decode is total: it never returns an error, instead mapping any framing
// violation, unrecognized code, or malformed payload to Invalid. String
// fields in the result are copied out of b.
func Decode(b []byte) Message {
	if len(b) < 4 {
		return Invalid()
	}
	var code Code
	copy(code[:], b[:4])
	payload := b[4:]

	switch code {
	case CodeInvalid:
		return Invalid()
	case CodeSuccess:
		if len(payload) != 0 {
			return Invalid()
		}
		return Success()
	case CodeFailure:
		return Failure(string(payload))
	case CodeInternalError:
		if len(payload) != 0 {
			return Invalid()
		}
		return InternalError()
	case CodeAccessDenied:
		if len(payload) != 0 {
			return Invalid()
		}
		return AccessDenied()
	case CodeQuerySession:
		domain, username, ok := backslashSplit(string(payload))
		if !ok || len(username) == 0 {
			return Invalid()
		}
		return QuerySession(domain, username)
	case CodeCredential:
		s := string(payload)
		domain, rest, ok := backslashSplit(s)
		if !ok {
			return Invalid()
		}
		nul := -1
		for i := 0; i < len(rest); i++ {
			if rest[i] == 0 {
				nul = i
				break
			}
		}
		if nul < 0 {
			return Invalid()
		}
		username := rest[:nul]
		password := rest[nul+1:]
		if len(username) == 0 {
			return Invalid()
		}
		for i := 0; i < len(password); i++ {
			if password[i] == 0 {
				return Invalid()
			}
		}
		return Credential(domain, username, password)
	case CodeBless:
		h, ok := getUintptr(payload)
		if !ok {
			return Invalid()
		}
		return Bless(h)
	default:
		return Invalid()
	}
}
