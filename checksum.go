// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

/*
 * Derived from github.com/golang-auth/go-gssapi's context_token.go
 * newAuthenticatorChksum/cbChecksum.  Generalized here into Component B,
 * the Checksum Builder, with the extra-MIC and delegation trailers from
 * spec.md §4.2 that the teacher's v2 package (RFC 4121 only, no legacy
 * delegation support) never builds.
 */

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"net"
)

var (
	errShortChecksum       = errors.New("authenticator checksum too short")
	errBadBindingsLen      = errors.New("authenticator checksum: bindings-hash length field is not 16")
	errShortDelegation     = errors.New("authenticator checksum: truncated delegation block")
	errShortExtraMIC       = errors.New("authenticator checksum: truncated extra-MIC block")
	errTrailingGarbage     = errors.New("authenticator checksum: trailing garbage")
	errFlagsNotRepresented = errors.New("authenticator checksum: requested flags not represented")
	errBindingsMismatch    = errors.New("authenticator checksum: channel bindings hash mismatch")
	errExtraMICMismatch    = errors.New("authenticator checksum: extra MIC mismatch")
)

// GssAddressFamily identifies the address family of a channel-binding
// endpoint address (spec.md §4.2's "encode(bindings)" collaborator).
type GssAddressFamily int32

const (
	GssAddrFamilyUNSPEC GssAddressFamily = 0
	GssAddrFamilyLOCAL  GssAddressFamily = 1
	GssAddrFamilyINET   GssAddressFamily = 2
)

// ChannelBinding represents the channel-binding information mixed into the
// Authenticator checksum (spec.md §4.2, GLOSSARY "Channel bindings").
type ChannelBinding struct {
	InitiatorAddr net.Addr
	AcceptorAddr  net.Addr
	Data          []byte
}

// authChecksumHeaderLen is the minimum length of the 0x8003 checksum blob:
// 4-byte bindings-hash length + 16-byte hash + 4-byte flag word.
const authChecksumHeaderLen = 24

const (
	delegationTag uint16 = 1
)

// authenticatorChecksum is the parsed form of the 0x8003 checksum payload
// described in spec.md §4.2. It is not itself a keyed checksum; it is a
// structured blob carried inside the Authenticator's Checksum field.
type authenticatorChecksum struct {
	BindingsHash   [16]byte
	Flags          ContextFlag
	HasDelegation  bool
	DelegatedTkt   []byte // parsed-past, never consumed (spec.md §9 open question 3)
	HasExtraMIC    bool
	ExtraMIC       []byte
}

// buildAuthenticatorChecksum implements Component B's encode side
// (spec.md §4.2). extraMIC, if non-nil, is the keyed checksum over the
// encoded channel bindings computed by the caller using usage
// gss_new_checksum (25); it is only emitted when the ticket session key's
// checksum type is keyed.
func buildAuthenticatorChecksum(flags ContextFlag, cb *ChannelBinding, extraMIC []byte) []byte {
	buf := make([]byte, authChecksumHeaderLen)
	binary.LittleEndian.PutUint32(buf[0:4], 16)

	if cb != nil {
		hash := channelBindingHash(cb)
		copy(buf[4:20], hash[:])
	}

	binary.LittleEndian.PutUint32(buf[20:24], encodeFlagWord(flags))

	if len(extraMIC) > 0 {
		var trailer [8]byte
		binary.BigEndian.PutUint32(trailer[0:4], 0)
		binary.BigEndian.PutUint32(trailer[4:8], uint32(len(extraMIC)))
		buf = append(buf, trailer[:]...)
		buf = append(buf, extraMIC...)
	}

	return buf
}

// parseAuthenticatorChecksum implements Component B's decode side. It
// tolerates a missing delegation block and a missing extra-MIC trailer,
// but requires the fixed 24-byte header.
func parseAuthenticatorChecksum(b []byte) (*authenticatorChecksum, error) {
	if len(b) < authChecksumHeaderLen {
		return nil, perMsgErr("defective_token", errShortChecksum)
	}

	bindLen := binary.LittleEndian.Uint32(b[0:4])
	if bindLen != 16 {
		return nil, perMsgErr("defective_token", errBadBindingsLen)
	}

	ac := &authenticatorChecksum{}
	copy(ac.BindingsHash[:], b[4:20])
	ac.Flags = decodeFlagWord(binary.LittleEndian.Uint32(b[20:24]))

	rest := b[24:]
	for len(rest) > 0 {
		switch {
		case len(rest) >= 4 && binary.LittleEndian.Uint16(rest[0:2]) == delegationTag:
			dlen := int(binary.LittleEndian.Uint16(rest[2:4]))
			if len(rest) < 4+dlen {
				return nil, perMsgErr("defective_token", errShortDelegation)
			}
			ac.HasDelegation = true
			ac.DelegatedTkt = rest[4 : 4+dlen]
			rest = rest[4+dlen:]

		case len(rest) >= 8:
			// u32 BE tag (0) + u32 BE length, per spec.md §4.2's "optional
			// extra MIC" trailer.
			tag := binary.BigEndian.Uint32(rest[0:4])
			mlen := binary.BigEndian.Uint32(rest[4:8])
			if tag != 0 || uint64(len(rest)) < 8+uint64(mlen) {
				return nil, perMsgErr("defective_token", errShortExtraMIC)
			}
			ac.HasExtraMIC = true
			ac.ExtraMIC = rest[8 : 8+mlen]
			rest = rest[8+mlen:]

		default:
			return nil, perMsgErr("defective_token", errTrailingGarbage)
		}
	}

	return ac, nil
}

// encodeChannelBindings implements the external "encode(bindings)"
// collaborator (spec.md §6), producing the same byte buffer both the
// bindings-hash and the optional extra-MIC trailer are computed over.
func encodeChannelBindings(cb *ChannelBinding) []byte {
	bufSz := 5*4 + len(cb.Data)
	for _, addr := range []net.Addr{cb.InitiatorAddr, cb.AcceptorAddr} {
		bufSz += addrDataLen(addr)
	}

	buf := make([]byte, 0, bufSz)
	for _, addr := range []net.Addr{cb.InitiatorAddr, cb.AcceptorAddr} {
		family, data := addrTypeAndData(addr)

		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(family))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(data)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, data...)
	}

	var dlen [4]byte
	binary.LittleEndian.PutUint32(dlen[:], uint32(len(cb.Data)))
	buf = append(buf, dlen[:]...)
	buf = append(buf, cb.Data...)

	return buf
}

// channelBindingHash computes the MD5 hash of the encoded channel bindings
// (spec.md §4.2's 16-byte "bindings hash"), ported from the teacher's
// cbChecksum with the encode(bindings) collaborator inlined (spec.md §6).
func channelBindingHash(cb *ChannelBinding) [16]byte {
	return md5.Sum(encodeChannelBindings(cb))
}

func addrTypeAndData(addr net.Addr) (GssAddressFamily, []byte) {
	if addr == nil {
		return GssAddrFamilyUNSPEC, nil
	}

	switch a := addr.(type) {
	case *net.IPAddr:
		return GssAddrFamilyINET, ipData(a.IP)
	case *net.TCPAddr:
		return GssAddrFamilyINET, ipData(a.IP)
	case *net.UDPAddr:
		return GssAddrFamilyINET, ipData(a.IP)
	case *net.UnixAddr:
		return GssAddrFamilyLOCAL, []byte(a.Name)
	}
	return GssAddrFamilyUNSPEC, nil
}

func addrDataLen(addr net.Addr) int {
	_, data := addrTypeAndData(addr)
	return len(data)
}

func ipData(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	if v6 := ip.To16(); v6 != nil {
		return v6
	}
	return nil
}

// verifyChecksum implements the acceptor-side validation rules of
// spec.md §4.2: the decoded bindings hash must match one of three
// accepted shapes, requested flags must be represented, and if present,
// the extra-MIC trailer must recompute identically.
func verifyChecksum(ac *authenticatorChecksum, localCB *ChannelBinding, requestedFlags ContextFlag, recomputeExtraMIC func([]byte) ([]byte, error)) error {
	if requestedFlags&^ac.Flags != 0 {
		return perMsgErr("defective_token", errFlagsNotRepresented)
	}

	var allZero, allFF = true, true
	for _, b := range ac.BindingsHash {
		if b != 0 {
			allZero = false
		}
		if b != 0xFF {
			allFF = false
		}
	}

	switch {
	case allZero && (localCB == nil || len(localCB.Data) == 0):
		// case 2: both sides have no bindings.
	case allFF && (ac.HasDelegation || ac.HasExtraMIC):
		// case 3: legacy Microsoft compatibility — non-empty trailer required.
	default:
		want := channelBindingHash(orEmptyCB(localCB))
		if !bytes.Equal(ac.BindingsHash[:], want[:]) {
			return perMsgErr("defective_token", errBindingsMismatch)
		}
	}

	if ac.HasExtraMIC {
		want, err := recomputeExtraMIC(localCBBytes(localCB))
		if err != nil {
			return perMsgErr("defective_token", err)
		}
		if !bytes.Equal(ac.ExtraMIC, want) {
			return perMsgErr("defective_token", errExtraMICMismatch)
		}
	}

	return nil
}

func orEmptyCB(cb *ChannelBinding) *ChannelBinding {
	if cb == nil {
		return &ChannelBinding{}
	}
	return cb
}

func localCBBytes(cb *ChannelBinding) []byte {
	if cb == nil {
		return nil
	}
	return encodeChannelBindings(cb)
}
