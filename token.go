// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

/*
 * Derived from github.com/golang-auth/go-gssapi's context_token.go, which
 * in turn derives from gokrb5/v8/spnego/krb5Token.go.  Generalized into
 * Component A's "initial token" envelope: the GSS-API mechanism-OID
 * wrapper around an AP-REQ, AP-REP or KRB-ERROR payload (spec.md §4.1).
 */

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/iana/asnAppTag"
	"github.com/jcmturner/gokrb5/v8/messages"
)

// mechTag identifies the payload carried by an initial (setup) token, per
// spec.md §4.1's tag table.
type mechTag uint16

const (
	mechTagAPReq    mechTag = 0x0001
	mechTagAPRep    mechTag = 0x0002
	mechTagKRBError mechTag = 0x0003
)

func krb5OID() asn1.ObjectIdentifier {
	return asn1.ObjectIdentifier{1, 2, 840, 113554, 1, 2, 2}
}

var errBadMechOID = errors.New("unexpected mechanism OID")
var errTrailingBytes = errors.New("trailing bytes after mechanism payload")
var errUnknownMechTag = errors.New("unknown mechanism token tag")
var errTokenTooShort = errors.New("token too short to contain a tag")

// initialToken is the parsed form of an AP-REQ/AP-REP/KRB-ERROR initial
// token: the GSS-API "InitialContextToken" wrapper plus the 2-byte tag and
// its ASN.1 DER payload (spec.md §4.1).
type initialToken struct {
	APReq    *messages.APReq
	APRep    *messages.APRep
	KRBError *messages.KRBError
}

// marshalInitialToken implements Component A's encode side for setup
// tokens: mechanism-OID wrapper (application tag 0) + 2-byte tag + DER
// payload. Exactly one of the three payload fields must be set.
func marshalInitialToken(t *initialToken) ([]byte, error) {
	oidBytes, err := asn1.Marshal(krb5OID())
	if err != nil {
		return nil, fatalf("marshal mechanism OID", err)
	}

	var tag mechTag
	var payload []byte

	switch {
	case t.APReq != nil:
		tag = mechTagAPReq
		payload, err = t.APReq.Marshal()
	case t.APRep != nil:
		tag = mechTagAPRep
		payload, err = marshalAPRep(t.APRep)
	case t.KRBError != nil:
		tag = mechTagKRBError
		payload, err = t.KRBError.Marshal()
	default:
		return nil, fatalf("marshal initial token", errors.New("no payload set"))
	}
	if err != nil {
		return nil, fatalf("marshal mechanism payload", err)
	}

	var tagBytes [2]byte
	binary.BigEndian.PutUint16(tagBytes[:], uint16(tag))
	// RFC 4121/1964 tags are little-endian on the wire (spec.md §4.1's
	// "01 00" ordering); swap the bytes we just wrote big-endian.
	tagBytes[0], tagBytes[1] = tagBytes[1], tagBytes[0]

	body := append(oidBytes, tagBytes[:]...)
	body = append(body, payload...)

	return asn1tools.AddASNAppTag(body, 0), nil
}

// marshalAPRep encodes a messages.APRep to its APPLICATION-tagged DER form.
// gokrb5/v8's messages.APRep has an Unmarshal method but, unlike APReq and
// KRBError, no Marshal counterpart -- the gap the teacher's own custom
// aPRep wrapper (APRep.go) exists to paper over. Reproduced here by hand
// instead of carrying that wrapper type, using the same asn1.Marshal +
// AddASNAppTag(asnAppTag.APREP) pair APRep.go's marshal() uses.
func marshalAPRep(a *messages.APRep) ([]byte, error) {
	b, err := asn1.Marshal(*a)
	if err != nil {
		return nil, err
	}
	return asn1tools.AddASNAppTag(b, asnAppTag.APREP), nil
}

// unmarshalInitialToken implements Component A's decode side. It rejects
// trailing garbage, an unrecognized mechanism OID, and unknown tags
// (spec.md §4.1's parsing rules).
func unmarshalInitialToken(b []byte) (*initialToken, error) {
	var outer asn1.RawValue
	if trailing, err := asn1.Unmarshal(b, &outer); err == nil && len(trailing) != 0 {
		return nil, fatalf("unmarshal initial token", errTrailingBytes)
	}

	var oid asn1.ObjectIdentifier
	rest, err := asn1.UnmarshalWithParams(b, &oid, "application,explicit,tag:0")
	if err != nil {
		return nil, fatalf("unmarshal initial token", err)
	}
	if !oid.Equal(krb5OID()) {
		return nil, fatalf("unmarshal initial token", fmt.Errorf("%w: got %s", errBadMechOID, oid.String()))
	}
	if len(rest) < 2 {
		return nil, fatalf("unmarshal initial token", errTokenTooShort)
	}

	tag := mechTag(uint16(rest[1])<<8 | uint16(rest[0]))
	body := rest[2:]

	var payload asn1.RawValue
	if trailing, err := asn1.Unmarshal(body, &payload); err == nil && len(trailing) != 0 {
		return nil, fatalf("unmarshal initial token", errTrailingBytes)
	}

	it := &initialToken{}
	switch tag {
	case mechTagAPReq:
		var a messages.APReq
		if err := a.Unmarshal(body); err != nil {
			return nil, fatalf("unmarshal AP-REQ", err)
		}
		it.APReq = &a
	case mechTagAPRep:
		var a messages.APRep
		if err := a.Unmarshal(body); err != nil {
			return nil, fatalf("unmarshal AP-REP", err)
		}
		it.APRep = &a
	case mechTagKRBError:
		var a messages.KRBError
		if err := a.Unmarshal(body); err != nil {
			return nil, fatalf("unmarshal KRB-ERROR", err)
		}
		it.KRBError = &a
	default:
		return nil, fatalf("unmarshal initial token", fmt.Errorf("%w: %#04x", errUnknownMechTag, uint16(tag)))
	}

	return it, nil
}

// trailingBytesCheck enforces spec.md §4.1's "no trailing garbage" rule on
// fixed-length-prefix formats. unmarshalMICv1 (token_message.go) is the only
// per-message decoder with a wholly fixed-length payload and uses it
// directly; the Wrap decoders consume a variable-length ciphertext/EData
// tail instead, so a consumed/total equality check doesn't apply to them.
func trailingBytesCheck(consumed, total int) error {
	if consumed != total {
		return fatalf("parse token", errTrailingBytes)
	}
	return nil
}
