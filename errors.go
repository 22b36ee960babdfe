// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

import (
	"errors"
	"fmt"
)

// FatalError wraps an error that leaves the Context unusable.  Per spec
// §7, a FatalError always means the caller must abandon the context: no
// further Continue/GetMIC/Wrap/Unwrap/VerifyMIC call will succeed.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gssapi: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("gssapi: %s", e.Reason)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// KerberosError carries a Kerberos protocol error code that the acceptor or
// initiator needs to surface as a KRB-ERROR token (spec §4.4, §7).
type KerberosError struct {
	Code    int32
	Message string
	Err     error // underlying cause, if any; exposed through Unwrap
}

func (e *KerberosError) Error() string {
	return fmt.Sprintf("gssapi: krb5 error %d: %s", e.Code, e.Message)
}

func (e *KerberosError) Unwrap() error { return e.Err }

// PerMessageError is the recoverable error class returned from GetMIC,
// VerifyMIC, Wrap and Unwrap (spec §7).  The context is unchanged
// after one of these is returned.
type PerMessageError struct {
	Kind string // "duplicate_token", "gap_token", "unseq_token", "defective_token", "bad_direction"
	Err  error
}

func (e *PerMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gssapi: %s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("gssapi: %s", e.Kind)
}

func (e *PerMessageError) Unwrap() error { return e.Err }

func perMsgErr(kind string, err error) error {
	return &PerMessageError{Kind: kind, Err: err}
}

// Sentinel error kinds, tested with errors.Is against the Kind-bearing
// PerMessageError via Is().
var (
	ErrDuplicateToken = &PerMessageError{Kind: "duplicate_token"}
	ErrGapToken       = &PerMessageError{Kind: "gap_token"}
	ErrUnseqToken     = &PerMessageError{Kind: "unseq_token"}
	ErrDefectiveToken = &PerMessageError{Kind: "defective_token"}
	ErrBadDirection   = &PerMessageError{Kind: "bad_direction"}
)

// Is lets errors.Is(err, ErrDuplicateToken) etc. work without comparing the
// wrapped Err field.
func (e *PerMessageError) Is(target error) bool {
	var pe *PerMessageError
	if errors.As(target, &pe) {
		return pe.Err == nil && pe.Kind == e.Kind
	}
	return false
}

// AccessorError is returned by the Context's read-only accessors when the
// requested information is not yet available, or a name-translation
// request is malformed (spec §7, §4.5).
type AccessorError struct {
	Kind string // "not_yet_available", "bad_name", "bad_target_oid"
	Err  error
}

func (e *AccessorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gssapi: %s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("gssapi: %s", e.Kind)
}

func (e *AccessorError) Unwrap() error { return e.Err }

var (
	ErrNotYetAvailable = &AccessorError{Kind: "not_yet_available"}
	ErrBadName         = &AccessorError{Kind: "bad_name"}
	ErrBadTargetOID    = &AccessorError{Kind: "bad_target_oid"}
)

// ErrKeytabNotFound is returned by the keytab collaborator (keytab.go) when
// no usable key can be found for a ticket's service principal (spec.md
// §4.4 step 3).
var ErrKeytabNotFound = errors.New("keytab: no usable key for this ticket")

func (e *AccessorError) Is(target error) bool {
	var ae *AccessorError
	if errors.As(target, &ae) {
		return ae.Err == nil && ae.Kind == e.Kind
	}
	return false
}
