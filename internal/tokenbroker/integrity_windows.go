// Copyright (c) wsudo Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build windows

package tokenbroker

import (
	"fmt"
	"unsafe"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

// seSecurityName is SE_SECURITY_NAME, the privilege required to read or
// write an object's SACL, including a token's mandatory integrity label.
const seSecurityName = "SeSecurityPrivilege"

// mediumIntegritySDDL describes a SACL containing a single mandatory-label
// ACE at Medium (the interactive-user default), granting no-write-up.
// Built via SDDL rather than by hand-assembling a SYSTEM_MANDATORY_LABEL_ACE
// because go-winio already exposes a validated SDDL→security-descriptor
// path (see internal/pipe's use of the same conversion for DACLs).
const mediumIntegritySDDL = "S:(ML;;NW;;;ME)"

// raiseIntegrityLabel inspects impersonation's current mandatory label and,
// if it is below Medium, replaces it. Tokens produced by LogonUser already
// carry at least Medium for interactive accounts, so this is normally a
// no-op; it exists for the defense-in-depth case of a session whose
// integrity was lowered upstream (§9's Open Question on label handling).
func raiseIntegrityLabel(t windows.Token) error {
	current, err := tokenIntegrityLevel(t)
	if err != nil {
		return fmt.Errorf("tokenbroker: read integrity level: %w", err)
	}
	const mediumRID = 0x2000
	if current >= mediumRID {
		return nil
	}

	release, err := enablePrivilege(seSecurityName)
	if err != nil {
		return fmt.Errorf("tokenbroker: enable %s: %w", seSecurityName, err)
	}
	defer release()

	sd, err := winio.SddlToSecurityDescriptor(mediumIntegritySDDL)
	if err != nil {
		return fmt.Errorf("tokenbroker: build mandatory label descriptor: %w", err)
	}
	secDesc := (*windows.SECURITY_DESCRIPTOR)(unsafe.Pointer(&sd[0]))
	sacl, _, err := secDesc.SACL()
	if err != nil {
		return fmt.Errorf("tokenbroker: extract SACL: %w", err)
	}

	if err := windows.SetSecurityInfo(
		windows.Handle(t), windows.SE_KERNEL_OBJECT, windows.LABEL_SECURITY_INFORMATION,
		nil, nil, nil, sacl,
	); err != nil {
		return fmt.Errorf("tokenbroker: SetSecurityInfo: %w", err)
	}
	return nil
}

// tokenIntegrityLevel reads the RID of the token's mandatory label SID.
func tokenIntegrityLevel(t windows.Token) (uint32, error) {
	var buf []byte
	var needed uint32
	err := windows.GetTokenInformation(t, windows.TokenIntegrityLevel, nil, 0, &needed)
	if err != nil && err != windows.ERROR_INSUFFICIENT_BUFFER {
		return 0, err
	}
	buf = make([]byte, needed)
	if err := windows.GetTokenInformation(t, windows.TokenIntegrityLevel, &buf[0], uint32(len(buf)), &needed); err != nil {
		return 0, err
	}
	label := (*windows.Tokenmandatorylabel)(unsafe.Pointer(&buf[0]))
	return subAuthorityLast(label.Label.Sid)
}

func subAuthorityLast(sid *windows.SID) (uint32, error) {
	count := sid.SubAuthorityCount()
	if count == 0 {
		return 0, fmt.Errorf("tokenbroker: SID has no sub-authorities")
	}
	return sid.SubAuthority(uint32(count) - 1), nil
}

// enablePrivilege enables name in the current process token, returning a
// func that restores its previous state. Grounded on the
// LookupPrivilegeValue/AdjustTokenPrivileges pair exported directly by
// golang.org/x/sys/windows.
func enablePrivilege(name string) (release func(), err error) {
	var self windows.Token
	if err := windows.OpenProcessToken(windows.CurrentProcess(), windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &self); err != nil {
		return nil, fmt.Errorf("open process token: %w", err)
	}

	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, windows.StringToUTF16Ptr(name), &luid); err != nil {
		self.Close()
		return nil, fmt.Errorf("lookup privilege value: %w", err)
	}

	state := windows.Tokenprivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{
			{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED},
		},
	}
	prev := windows.Tokenprivileges{PrivilegeCount: 1}
	var returned uint32
	if err := windows.AdjustTokenPrivileges(self, false, &state, uint32(unsafe.Sizeof(prev)), &prev, &returned); err != nil {
		self.Close()
		return nil, fmt.Errorf("adjust token privileges: %w", err)
	}

	return func() {
		windows.AdjustTokenPrivileges(self, false, &prev, 0, nil, nil)
		self.Close()
	}, nil
}
