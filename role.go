// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

// Role identifies which side of a security context a Context instance
// plays (spec.md §3: `party ∈ {initiator, acceptor}`, immutable after
// creation).
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}

// other returns the opposite role, used throughout Component C for
// key-usage and directional-checksum selection (spec.md §4.3).
func (r Role) other() Role {
	if r == RoleAcceptor {
		return RoleInitiator
	}
	return RoleAcceptor
}
