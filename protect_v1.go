// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

/*
 * RFC 1964 (legacy v1, 3DES) per-message protection. There is no teacher
 * code to generalize here -- the golang-auth-go-gssapi v2 package this
 * module is otherwise built on dropped v1 support entirely -- so this file
 * is grounded directly on spec.md §4.3's byte-exact description, built the
 * way the teacher builds its v2 equivalent in message_token.go: reach for
 * the etype abstraction (crypto.GetEtype + GetChecksumHash) for the keyed
 * checksum, and only fall to stdlib where the wire format genuinely can't
 * be produced through the library (see DESIGN.md: raw-key DES3-CBC).
 */

import (
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"errors"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Legacy (pre-RFC3961) key-usage numbers for the 3DES GSS mechanism,
// carried from MIT krb5's KG_USAGE_SEAL/SIGN constants (spec.md §4.3
// names them "gss_des3_sign" etc. without pinning a numeric value).
const (
	kgUsageSeal uint32 = 22
	kgUsageSign uint32 = 23
)

var (
	errV1UnsupportedEtype = errors.New("v1 per-message protection requires a des3-cbc-sha1-kd ticket key")
	errV1BadChecksum      = errors.New("v1 token: checksum mismatch")
	errV1WrongDirection   = errors.New("v1 token: unexpected sender direction")
)

func v1Dirn(sender Role) uint32 {
	if sender == RoleAcceptor {
		return 0xFFFFFFFF
	}
	return 0
}

// v1Checksum computes the Kc-keyed HMAC-SHA1-DES3 checksum over toMAC,
// truncated to sigAlgChecksumLen(sigAlgHmacSha1Des3) = 20 bytes (spec.md
// §4.3's v1 MIC/Wrap "checksum" step). Kc is derived internally by the
// etype's GetChecksumHash, mirroring the pattern the teacher's
// message_token.go uses for the v2 keyed checksum.
func v1Checksum(key types.EncryptionKey, toMAC []byte) ([]byte, error) {
	et, err := crypto.GetEtype(key.KeyType)
	if err != nil {
		return nil, fatalf("v1 checksum", err)
	}
	if _, ok := et.(crypto.Des3CbcSha1Kd); !ok {
		return nil, fatalf("v1 checksum", errV1UnsupportedEtype)
	}
	cksum, err := et.GetChecksumHash(key.KeyValue, toMAC, kgUsageSign)
	if err != nil {
		return nil, fatalf("v1 checksum", err)
	}
	return cksum, nil
}

// rawDES3CBC performs a direct, unkeyed-derivation DES-EDE3-CBC transform
// using the raw ticket key bytes. This is the explicit, documented
// deviation from draft-raeburn (spec.md §9, §4.3): both the v1 sequence
// number and the v1 Wrap ciphertext are protected with the bare ticket
// key, not a usage-derived subkey, for interoperability with MIT Kerberos.
// No collaborator in the retrieval pack exposes "encrypt with this literal
// key, no derivation" for 3DES, so this is the one place in the module
// that reaches directly into crypto/des + crypto/cipher (see DESIGN.md).
func rawDES3CBC(key, iv, in []byte, encrypt bool) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, fatalf("v1 raw 3des", err)
	}
	if len(in)%block.BlockSize() != 0 {
		return nil, fatalf("v1 raw 3des", errors.New("input is not a multiple of the cipher block size"))
	}

	out := make([]byte, len(in))
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, in)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, in)
	}
	return out, nil
}

// des3KeyBytes returns the raw 3DES key bytes of a ticket/subkey
// EncryptionKey unchanged; their length is checked only by
// crypto/des.NewTripleDESCipher inside rawDES3CBC.
func des3KeyBytes(key types.EncryptionKey) []byte {
	return key.KeyValue
}

// buildMICv1 implements Component C's v1 MIC construction (spec.md §4.3,
// sig-alg hmac_sha1_des3): `ToMAC = prefix(8) || message`, checksum via
// Kc, sequence number encrypted under the raw ticket key with
// seq_iv = checksum[0:8].
func buildMICv1(key types.EncryptionKey, seq uint32, sender Role, message []byte) (*micV1Token, error) {
	prefix := (&micV1Token{SigAlg: sigAlgHmacSha1Des3}).marshal()[:8]

	toMAC := append(append([]byte(nil), prefix...), message...)
	cksum, err := v1Checksum(key, toMAC)
	if err != nil {
		return nil, err
	}

	seqIV := cksum[:8]
	seqPlain := make([]byte, 8)
	binary.LittleEndian.PutUint32(seqPlain[0:4], seq)
	binary.LittleEndian.PutUint32(seqPlain[4:8], v1Dirn(sender))

	seqEnc, err := rawDES3CBC(des3KeyBytes(key), seqIV, seqPlain, true)
	if err != nil {
		return nil, err
	}

	t := &micV1Token{SigAlg: sigAlgHmacSha1Des3, Checksum: cksum}
	copy(t.SeqEnc[:], seqEnc)
	return t, nil
}

// verifyMICv1 implements Component C's v1 MIC verification, returning the
// sender's sequence number once the HMAC and direction check pass.
func verifyMICv1(key types.EncryptionKey, expectedSender Role, tok *micV1Token, message []byte) (uint32, error) {
	if tok.SigAlg != sigAlgHmacSha1Des3 {
		return 0, perMsgErr("defective_token", errV1UnsupportedEtype)
	}

	seqIV := tok.Checksum[:8]
	seqPlain, err := rawDES3CBC(des3KeyBytes(key), seqIV, tok.SeqEnc[:], false)
	if err != nil {
		return 0, perMsgErr("defective_token", err)
	}
	seq := binary.LittleEndian.Uint32(seqPlain[0:4])
	dirn := binary.LittleEndian.Uint32(seqPlain[4:8])

	prefix := (&micV1Token{SigAlg: sigAlgHmacSha1Des3}).marshal()[:8]
	toMAC := append(append([]byte(nil), prefix...), message...)
	want, err := v1Checksum(key, toMAC)
	if err != nil {
		return 0, err
	}
	if !constantTimeEqual(tok.Checksum, want) {
		return 0, perMsgErr("defective_token", errV1BadChecksum)
	}
	if dirn != v1Dirn(expectedSender) {
		return 0, perMsgErr("bad_direction", errV1WrongDirection)
	}

	return seq, nil
}

// pkcs5DESPad appends PKCS#5-style padding to an 8-byte boundary (spec.md
// §4.3, S2): the pad byte value equals the pad length, and a message that
// is already aligned still receives a full 8 bytes of padding.
func pkcs5DESPad(message []byte) []byte {
	padLen := 8 - len(message)%8
	out := make([]byte, len(message)+padLen)
	copy(out, message)
	for i := len(message); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs5DESUnpad(padded []byte) ([]byte, error) {
	if len(padded) == 0 || len(padded)%8 != 0 {
		return nil, errors.New("padded data is not a non-empty multiple of 8 bytes")
	}
	padLen := int(padded[len(padded)-1])
	if padLen < 1 || padLen > 8 || padLen > len(padded) {
		return nil, errors.New("invalid pad length")
	}
	for _, b := range padded[len(padded)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("inconsistent pad bytes")
		}
	}
	return padded[:len(padded)-padLen], nil
}

// buildWrapv1 implements Component C's v1 Wrap construction (spec.md
// §4.3): confounder, PKCS#5 padding, raw-key DES-EDE3-CBC encryption with
// a zero IV, and a Kc-keyed checksum over the token prefix plus the
// confounder+data+padding.
func buildWrapv1(key types.EncryptionKey, seq uint32, sender Role, rnd RandomSource, message []byte) (*wrapV1Token, error) {
	confounder := make([]byte, 8)
	if err := rnd.Bytes(confounder); err != nil {
		return nil, fatalf("v1 wrap", err)
	}

	dataPad := pkcs5DESPad(message)
	confDataPad := append(append([]byte(nil), confounder...), dataPad...)

	zeroIV := make([]byte, 8)
	ciphertext, err := rawDES3CBC(des3KeyBytes(key), zeroIV, confDataPad, true)
	if err != nil {
		return nil, err
	}

	prefix := (&wrapV1Token{SigAlg: sigAlgHmacSha1Des3, SealAlg: sealAlgDes3}).marshal()[:8]
	toMAC := append(append([]byte(nil), prefix...), confDataPad...)
	cksum, err := v1Checksum(key, toMAC)
	if err != nil {
		return nil, err
	}

	seqIV := cksum[:8]
	seqPlain := make([]byte, 8)
	binary.LittleEndian.PutUint32(seqPlain[0:4], seq)
	binary.LittleEndian.PutUint32(seqPlain[4:8], v1Dirn(sender))
	seqEnc, err := rawDES3CBC(des3KeyBytes(key), seqIV, seqPlain, true)
	if err != nil {
		return nil, err
	}

	t := &wrapV1Token{
		SigAlg:     sigAlgHmacSha1Des3,
		SealAlg:    sealAlgDes3,
		Checksum:   cksum,
		Ciphertext: ciphertext,
	}
	copy(t.SeqEnc[:], seqEnc)
	return t, nil
}

// openWrapv1 implements Component C's v1 Wrap verification: decrypt, strip
// the confounder, check the HMAC over the recovered conf_data_pad, unpad,
// and confirm the sender's direction matches expectedSender.
func openWrapv1(key types.EncryptionKey, expectedSender Role, tok *wrapV1Token) ([]byte, uint32, error) {
	if tok.SigAlg != sigAlgHmacSha1Des3 || tok.SealAlg != sealAlgDes3 {
		return nil, 0, perMsgErr("defective_token", errV1UnsupportedEtype)
	}

	zeroIV := make([]byte, 8)
	confDataPad, err := rawDES3CBC(des3KeyBytes(key), zeroIV, tok.Ciphertext, false)
	if err != nil {
		return nil, 0, perMsgErr("defective_token", err)
	}
	if len(confDataPad) < 8 {
		return nil, 0, perMsgErr("defective_token", errTokenShort)
	}

	prefix := (&wrapV1Token{SigAlg: sigAlgHmacSha1Des3, SealAlg: sealAlgDes3}).marshal()[:8]
	toMAC := append(append([]byte(nil), prefix...), confDataPad...)
	want, err := v1Checksum(key, toMAC)
	if err != nil {
		return nil, 0, err
	}
	if !constantTimeEqual(tok.Checksum, want) {
		return nil, 0, perMsgErr("defective_token", errV1BadChecksum)
	}

	seqIV := tok.Checksum[:8]
	seqPlain, err := rawDES3CBC(des3KeyBytes(key), seqIV, tok.SeqEnc[:], false)
	if err != nil {
		return nil, 0, perMsgErr("defective_token", err)
	}
	seq := binary.LittleEndian.Uint32(seqPlain[0:4])
	dirn := binary.LittleEndian.Uint32(seqPlain[4:8])
	if dirn != v1Dirn(expectedSender) {
		return nil, 0, perMsgErr("bad_direction", errV1WrongDirection)
	}

	message, err := pkcs5DESUnpad(confDataPad[8:])
	if err != nil {
		return nil, 0, perMsgErr("defective_token", err)
	}
	return message, seq, nil
}
