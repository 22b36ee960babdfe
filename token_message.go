// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

/*
 * Wire framing for per-message tokens (MIC v1/v2, Wrap v1/v2), spec.md
 * §4.1.  Generalized from the teacher's message_token.go, which only
 * implemented the RFC 4121 (v2) shapes; the v1 (RFC 1964) shapes are new,
 * grounded on the same table in spec.md and on the legacy wire formats
 * surfaced elsewhere in the retrieval pack (e.g. SMB2/SPNEGO and SSH
 * Kerberos clients still emit them for older peers).
 *
 * Design Notes §9: tokens are a classic tagged union. ParseMessageToken is
 * the single shared decoder; everything downstream matches on the
 * concrete type it returns instead of doing its own tag inspection.
 */

import (
	"encoding/binary"
	"errors"
)

// messageTag is the 2-byte tag prefixing every mechanism-specific
// per-message payload (spec.md §4.1).
type messageTag uint16

const (
	tagMICv1  messageTag = 0x0101
	tagWrapv1 messageTag = 0x0201
	tagMICv2  messageTag = 0x0404
	tagWrapv2 messageTag = 0x0504
)

func putTag(buf []byte, t messageTag) {
	buf[0] = byte(t >> 8)
	buf[1] = byte(t)
}

func readTag(buf []byte) messageTag {
	return messageTag(buf[0])<<8 | messageTag(buf[1])
}

// sigAlg identifies the v1 (RFC 1964) signature algorithm, spec.md §4.1.
type sigAlg uint16

const (
	sigAlgDesMacMd5    sigAlg = 0x0000
	sigAlgMd25         sigAlg = 0x0100
	sigAlgDesMac       sigAlg = 0x0200
	sigAlgHmacMd5Rc4   sigAlg = 0x1100
	sigAlgHmacSha1Des3 sigAlg = 0x0400
)

// sealAlg identifies the v1 seal (confidentiality) algorithm, spec.md §4.1.
type sealAlg uint16

const (
	sealAlgNone sealAlg = 0xFFFF
	sealAlgDes  sealAlg = 0x0000
	sealAlgRc4  sealAlg = 0x1000
	sealAlgDes3 sealAlg = 0x0200
)

// checksum length for each v1 signature algorithm (spec.md §4.1: "checksum
// (8 B, or 20 B if sig-alg = hmac_sha1_des3)").
func sigAlgChecksumLen(a sigAlg) int {
	if a == sigAlgHmacSha1Des3 {
		return 20
	}
	return 8
}

var (
	errUnknownSigAlg  = errors.New("unknown v1 signature algorithm")
	errUnknownSealAlg = errors.New("unknown v1 seal algorithm")
	errUnknownTag     = errors.New("unknown message token tag")
	errTokenShort     = errors.New("message token too short")
	errBadFiller      = errors.New("message token filler bytes are wrong")
)

// micV1Token is the inner payload of a "01 01" MIC token (spec.md §4.1,
// RFC 1964).
type micV1Token struct {
	SigAlg   sigAlg
	SeqEnc   [8]byte
	Checksum []byte
}

func (t *micV1Token) marshal() []byte {
	clen := sigAlgChecksumLen(t.SigAlg)
	buf := make([]byte, 2+2+4+8+clen)
	putTag(buf, tagMICv1)
	binary.BigEndian.PutUint16(buf[2:4], uint16(t.SigAlg))
	copy(buf[4:8], []byte{0xFF, 0xFF, 0xFF, 0xFF})
	copy(buf[8:16], t.SeqEnc[:])
	copy(buf[16:16+clen], t.Checksum)
	return buf
}

func unmarshalMICv1(b []byte) (*micV1Token, error) {
	if len(b) < 16 {
		return nil, perMsgErr("defective_token", errTokenShort)
	}
	if readTag(b) != tagMICv1 {
		return nil, perMsgErr("defective_token", errUnknownTag)
	}
	sig := sigAlg(binary.BigEndian.Uint16(b[2:4]))
	if sig != sigAlgHmacSha1Des3 {
		// the other RFC 1964 sig-algs (DES/RC4) are parsed structurally but
		// this module only builds/verifies hmac_sha1_des3 (spec.md §4.3).
	}
	if b[4] != 0xFF || b[5] != 0xFF || b[6] != 0xFF || b[7] != 0xFF {
		return nil, perMsgErr("defective_token", errBadFiller)
	}
	clen := sigAlgChecksumLen(sig)
	if trailingBytesCheck(len(b), 16+clen) != nil {
		return nil, perMsgErr("defective_token", errTrailingBytes)
	}

	t := &micV1Token{SigAlg: sig, Checksum: append([]byte(nil), b[16:]...)}
	copy(t.SeqEnc[:], b[8:16])
	return t, nil
}

// wrapV1Token is the inner payload of a "02 01" Wrap token (spec.md §4.1,
// RFC 1964).
type wrapV1Token struct {
	SigAlg     sigAlg
	SealAlg    sealAlg
	SeqEnc     [8]byte
	Checksum   []byte
	Ciphertext []byte
}

func (t *wrapV1Token) marshal() []byte {
	clen := sigAlgChecksumLen(t.SigAlg)
	buf := make([]byte, 2+2+2+2+8+clen+len(t.Ciphertext))
	putTag(buf, tagWrapv1)
	binary.BigEndian.PutUint16(buf[2:4], uint16(t.SigAlg))
	binary.BigEndian.PutUint16(buf[4:6], uint16(t.SealAlg))
	copy(buf[6:8], []byte{0xFF, 0xFF})
	copy(buf[8:16], t.SeqEnc[:])
	copy(buf[16:16+clen], t.Checksum)
	copy(buf[16+clen:], t.Ciphertext)
	return buf
}

func unmarshalWrapv1(b []byte) (*wrapV1Token, error) {
	if len(b) < 16 {
		return nil, perMsgErr("defective_token", errTokenShort)
	}
	if readTag(b) != tagWrapv1 {
		return nil, perMsgErr("defective_token", errUnknownTag)
	}
	sig := sigAlg(binary.BigEndian.Uint16(b[2:4]))
	seal := sealAlg(binary.BigEndian.Uint16(b[4:6]))
	if b[6] != 0xFF || b[7] != 0xFF {
		return nil, perMsgErr("defective_token", errBadFiller)
	}
	clen := sigAlgChecksumLen(sig)
	if len(b) < 16+clen {
		return nil, perMsgErr("defective_token", errTokenShort)
	}

	t := &wrapV1Token{
		SigAlg:     sig,
		SealAlg:    seal,
		Checksum:   append([]byte(nil), b[16:16+clen]...),
		Ciphertext: append([]byte(nil), b[16+clen:]...),
	}
	copy(t.SeqEnc[:], b[8:16])
	return t, nil
}

// msgFlagV2 is the single-byte flag field of a v2 (RFC 4121) per-message
// token: bit 0 sent_by_acceptor, bit 1 sealed, bit 2 acceptor_subkey. The
// 5 high bits are reserved and must round-trip as zero (spec.md §4.1, §9).
type msgFlagV2 uint8

const (
	msgFlagSentByAcceptor msgFlagV2 = 1 << iota
	msgFlagSealed
	msgFlagAcceptorSubkey
)

const msgFlagV2ReservedMask = 0xF8

// micV2Token is the inner payload of a "04 04" MIC token (spec.md §4.1,
// RFC 4121).
type micV2Token struct {
	Flags    msgFlagV2
	Seq      uint64
	Checksum []byte
}

func (t *micV2Token) marshal() []byte {
	buf := make([]byte, 16+len(t.Checksum))
	putTag(buf, tagMICv2)
	buf[2] = byte(t.Flags &^ msgFlagV2ReservedMask)
	copy(buf[3:8], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	binary.BigEndian.PutUint64(buf[8:16], t.Seq)
	copy(buf[16:], t.Checksum)
	return buf
}

func unmarshalMICv2(b []byte) (*micV2Token, error) {
	if len(b) < 16 {
		return nil, perMsgErr("defective_token", errTokenShort)
	}
	if readTag(b) != tagMICv2 {
		return nil, perMsgErr("defective_token", errUnknownTag)
	}
	for _, f := range b[3:8] {
		if f != 0xFF {
			return nil, perMsgErr("defective_token", errBadFiller)
		}
	}
	return &micV2Token{
		Flags:    msgFlagV2(b[2]) &^ msgFlagV2ReservedMask,
		Seq:      binary.BigEndian.Uint64(b[8:16]),
		Checksum: append([]byte(nil), b[16:]...),
	}, nil
}

// wrapV2Token is the inner payload of a "05 04" Wrap token (spec.md §4.1,
// RFC 4121).
type wrapV2Token struct {
	Flags msgFlagV2
	EC    uint16
	RRC   uint16
	Seq   uint64
	EData []byte
}

func (t *wrapV2Token) marshal() []byte {
	buf := make([]byte, 16+len(t.EData))
	putTag(buf, tagWrapv2)
	buf[2] = byte(t.Flags &^ msgFlagV2ReservedMask)
	buf[3] = 0xFF
	binary.BigEndian.PutUint16(buf[4:6], t.EC)
	binary.BigEndian.PutUint16(buf[6:8], t.RRC)
	binary.BigEndian.PutUint64(buf[8:16], t.Seq)
	copy(buf[16:], t.EData)
	return buf
}

// header returns the 16-byte token header used as AAD in the v2
// confidentiality/integrity computation (spec.md §4.3), with RRC forced to
// zero regardless of t.RRC — callers reconstruct the "header_with_rrc_zero"
// this way on both send and receive.
func (t *wrapV2Token) header() []byte {
	hdr := make([]byte, 16)
	putTag(hdr, tagWrapv2)
	hdr[2] = byte(t.Flags &^ msgFlagV2ReservedMask)
	hdr[3] = 0xFF
	binary.BigEndian.PutUint16(hdr[4:6], t.EC)
	// RRC deliberately left zero.
	binary.BigEndian.PutUint64(hdr[8:16], t.Seq)
	return hdr
}

func unmarshalWrapv2(b []byte) (*wrapV2Token, error) {
	if len(b) < 16 {
		return nil, perMsgErr("defective_token", errTokenShort)
	}
	if readTag(b) != tagWrapv2 {
		return nil, perMsgErr("defective_token", errUnknownTag)
	}
	if b[3] != 0xFF {
		return nil, perMsgErr("defective_token", errBadFiller)
	}
	return &wrapV2Token{
		Flags: msgFlagV2(b[2]) &^ msgFlagV2ReservedMask,
		EC:    binary.BigEndian.Uint16(b[4:6]),
		RRC:   binary.BigEndian.Uint16(b[6:8]),
		Seq:   binary.BigEndian.Uint64(b[8:16]),
		EData: append([]byte(nil), b[16:]...),
	}, nil
}

// ParseMessageToken is the shared decoder for all four per-message token
// shapes (Design Notes §9): it inspects the 2-byte tag and returns exactly
// one concrete variant.
func ParseMessageToken(b []byte) (any, error) {
	if len(b) < 2 {
		return nil, perMsgErr("defective_token", errTokenShort)
	}
	switch readTag(b) {
	case tagMICv1:
		return unmarshalMICv1(b)
	case tagWrapv1:
		return unmarshalWrapv1(b)
	case tagMICv2:
		return unmarshalMICv2(b)
	case tagWrapv2:
		return unmarshalWrapv2(b)
	default:
		return nil, perMsgErr("defective_token", errUnknownTag)
	}
}

// rotateLeft performs the byte-rotation operation spec.md §4.3/§8 (S1)
// describes for v2 Wrap RRC handling, ported from MIT's
// gss_krb5int_rotate_left via the teacher's message_token.go.
func rotateLeft(buf []byte, n uint) []byte {
	if len(buf) == 0 {
		return buf
	}
	n %= uint(len(buf))
	if n == 0 {
		return buf
	}

	out := make([]byte, len(buf))
	copy(out, buf[n:])
	copy(out[uint(len(buf))-n:], buf[:n])
	return out
}

// rotateRight is the inverse of rotateLeft. The receive path (openWrapv2)
// undoes RRC with rotateLeft, not with this function.
func rotateRight(buf []byte, n uint) []byte {
	if len(buf) == 0 {
		return buf
	}
	n %= uint(len(buf))
	return rotateLeft(buf, uint(len(buf))-n)
}
