// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

import (
	"strings"

	"github.com/jcmturner/gokrb5/v8/types"
)

// NameForm identifies one of the three display forms spec.md §4.5
// recognizes for Component E, Name Projection.
type NameForm int

const (
	// NameFormUser requires name-type 1 (NT-PRINCIPAL) with exactly one
	// component, returned verbatim.
	NameFormUser NameForm = iota
	// NameFormService requires name-type 2 (NT-SRV-HST) with exactly two
	// components, returned as "svc@host".
	NameFormService
	// NameFormKrb5 accepts any name-type and renders
	// "comp1/comp2/.../compN@REALM".
	NameFormKrb5
)

// principalName is the internal representation of a Kerberos principal
// that spec.md §3 attaches to `us`/`them`: a realm plus a (name-type,
// ordered name components) pair.
type principalName struct {
	Realm     string
	NameType  int32
	Component []string
}

func principalFromTypes(realm string, pn types.PrincipalName) principalName {
	return principalName{
		Realm:     realm,
		NameType:  pn.NameType,
		Component: append([]string(nil), pn.NameString...),
	}
}

// TranslateName implements Component E: translate an internal Kerberos
// principal name to one of three display forms (spec.md §4.5).
func TranslateName(p principalName, form NameForm) (string, error) {
	switch form {
	case NameFormUser:
		if p.NameType != 1 || len(p.Component) != 1 {
			return "", ErrBadName
		}
		return p.Component[0], nil

	case NameFormService:
		if p.NameType != 2 || len(p.Component) != 2 {
			return "", ErrBadName
		}
		return p.Component[0] + "@" + p.Component[1], nil

	case NameFormKrb5:
		if len(p.Component) == 0 {
			return "", ErrBadName
		}
		return strings.Join(p.Component, "/") + "@" + p.Realm, nil

	default:
		return "", ErrBadTargetOID
	}
}
