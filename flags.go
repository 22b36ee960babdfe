// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

import "strings"

// ContextFlag holds the GSS-API context request/establishment flags.  The
// numeric values match the C GSS-API bindings and the 32-bit little-endian
// field carried in the 0x8003 Authenticator checksum (spec.md §4.2).
type ContextFlag uint32

// Component F: Flag Codec bit layout (spec.md §4.2).
const (
	ContextFlagDeleg    ContextFlag = 0x01
	ContextFlagMutual   ContextFlag = 0x02
	ContextFlagReplay   ContextFlag = 0x04
	ContextFlagSequence ContextFlag = 0x08
	ContextFlagConf     ContextFlag = 0x10
	ContextFlagInteg    ContextFlag = 0x20

	// Microsoft extensions, RFC 4757 § 7.1.
	ContextFlagDceStyle ContextFlag = 0x1000
	ContextFlagIdentify ContextFlag = 0x2000
	ContextFlagExtError ContextFlag = 0x4000
)

// defaultRequestFlags are the flags enabled when the caller does not
// explicitly set them (spec.md §4.2): sequence, confidentiality, integrity.
const defaultRequestFlags = ContextFlagSequence | ContextFlagConf | ContextFlagInteg

// FlagList returns a slice of individual flags derived from the composite
// value f.  Only the bits spec.md §4.1 assigns meaning to are considered;
// the 5 high bits of the single-byte per-message flag field are unrelated
// to this 32-bit word and are handled separately in token_message.go.
func FlagList(f ContextFlag) (fl []ContextFlag) {
	for _, bit := range []ContextFlag{
		ContextFlagDeleg, ContextFlagMutual, ContextFlagReplay, ContextFlagSequence,
		ContextFlagConf, ContextFlagInteg, ContextFlagDceStyle, ContextFlagIdentify,
		ContextFlagExtError,
	} {
		if f&bit != 0 {
			fl = append(fl, bit)
		}
	}
	return
}

func flagName(f ContextFlag) string {
	switch f {
	case ContextFlagDeleg:
		return "delegate"
	case ContextFlagMutual:
		return "mutual_auth"
	case ContextFlagReplay:
		return "replay_detect"
	case ContextFlagSequence:
		return "sequence"
	case ContextFlagConf:
		return "confidentiality"
	case ContextFlagInteg:
		return "integrity"
	case ContextFlagDceStyle:
		return "dce_style"
	case ContextFlagIdentify:
		return "identify"
	case ContextFlagExtError:
		return "ext_errors"
	}
	return "unknown"
}

func (f ContextFlag) String() string {
	var names []string
	for _, bit := range FlagList(f) {
		names = append(names, flagName(bit))
	}
	return strings.Join(names, ", ")
}

// encodeFlagWord packs a ContextFlag set into the 32-bit little-endian word
// used inside the Authenticator checksum.  Encode/decode are symmetric by
// construction: decodeFlagWord(encodeFlagWord(f)) == f.
func encodeFlagWord(f ContextFlag) uint32 {
	return uint32(f)
}

// decodeFlagWord is the inverse of encodeFlagWord.
func decodeFlagWord(w uint32) ContextFlag {
	return ContextFlag(w)
}
