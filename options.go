// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

import (
	"time"

	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// DefaultMaxSkew is the default tolerated clock skew between initiator and
// acceptor (spec.md §6, "max_skew (ms, default 300 000)").
const DefaultMaxSkew = 300 * time.Second

// Options configures a Context.  It gathers the "recognised configuration
// keys" from spec.md §6 into a single struct, the way a Go API typically
// groups optional-constructor parameters; unknown/unused fields are simply
// ignored rather than erroring, matching the spec's "unknown keys are
// ignored" rule.
type Options struct {
	// ChannelBindings is the caller-supplied transport-binding data. A nil
	// value means "no channel bindings" (spec.md §4.2 case 2).
	ChannelBindings *ChannelBinding

	// Ticket is the initiator's pre-acquired service ticket bundle. Required
	// for Initiate.
	Ticket *TicketBundle

	// Keytab is the acceptor's key store, used to decrypt an incoming
	// AP-REQ's ticket. Required for Accept.
	Keytab *keytab.Keytab

	// MaxSkew bounds the Authenticator/ticket clock-skew check (spec.md §4.4
	// step 6). Zero means DefaultMaxSkew.
	MaxSkew time.Duration

	// Flag requests, spec.md §6. Unset fields fall back to
	// defaultRequestFlags for Delegate/Mutual/Replay/Sequence/Confidentiality/
	// Integrity/DceStyle/Identify/ExtErrors individually via pointers so the
	// "not explicitly set" case (spec.md §4.2) is distinguishable from
	// "explicitly set to false".
	Delegate     *bool
	MutualAuth   *bool
	ReplayDetect *bool
	Sequence     *bool
	Confidential *bool
	Integrity    *bool
	DceStyle     *bool
	Identify     *bool
	ExtErrors    *bool

	// Clock and Random allow deterministic tests; nil selects the defaults.
	Clock  Clock
	Random RandomSource
}

// TicketBundle is the external ticket-acquisition collaborator's output
// (spec.md §6: "Ticket acquisition... out of scope"; here represented as
// plain data the caller hands in, having obtained it via gokrb5's client
// package or any other means).
type TicketBundle struct {
	ClientRealm      string
	ClientPrincipal  types.PrincipalName
	ServiceRealm     string
	ServicePrincipal types.PrincipalName
	Ticket           messages.Ticket
	SessionKey       types.EncryptionKey
}

func (o *Options) clock() Clock {
	if o != nil && o.Clock != nil {
		return o.Clock
	}
	return SystemClock
}

func (o *Options) random() RandomSource {
	if o != nil && o.Random != nil {
		return o.Random
	}
	return CryptoRandomSource
}

func (o *Options) maxSkew() time.Duration {
	if o != nil && o.MaxSkew > 0 {
		return o.MaxSkew
	}
	return DefaultMaxSkew
}

// requestFlags resolves the Options' individual flag pointers into a single
// ContextFlag word, applying spec.md §4.2's defaults for anything the
// caller left nil.
func (o *Options) requestFlags() ContextFlag {
	var f ContextFlag
	resolve := func(set *bool, bit ContextFlag) {
		switch {
		case set == nil:
			f |= defaultRequestFlags & bit
		case *set:
			f |= bit
		}
	}

	resolve(o.Delegate, ContextFlagDeleg)
	resolve(o.MutualAuth, ContextFlagMutual)
	resolve(o.ReplayDetect, ContextFlagReplay)
	resolve(o.Sequence, ContextFlagSequence)
	resolve(o.Confidential, ContextFlagConf)
	resolve(o.Integrity, ContextFlagInteg)
	resolve(o.DceStyle, ContextFlagDceStyle)
	resolve(o.Identify, ContextFlagIdentify)
	resolve(o.ExtErrors, ContextFlagExtError)

	return f
}
