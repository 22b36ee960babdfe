package krb5mech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMICv1RoundTrip(t *testing.T) {
	tok := &micV1Token{SigAlg: sigAlgHmacSha1Des3, Checksum: make([]byte, 20)}
	for i := range tok.Checksum {
		tok.Checksum[i] = byte(i)
	}
	copy(tok.SeqEnc[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})

	b := tok.marshal()
	got, err := unmarshalMICv1(b)
	assert.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestWrapv1RoundTrip(t *testing.T) {
	tok := &wrapV1Token{
		SigAlg:     sigAlgHmacSha1Des3,
		SealAlg:    sealAlgDes3,
		Checksum:   make([]byte, 20),
		Ciphertext: []byte("some ciphertext that is not block aligned but that's fine here"),
	}
	copy(tok.SeqEnc[:], []byte{8, 7, 6, 5, 4, 3, 2, 1})

	b := tok.marshal()
	got, err := unmarshalWrapv1(b)
	assert.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestMICv2RoundTrip(t *testing.T) {
	tok := &micV2Token{Flags: msgFlagSentByAcceptor, Seq: 42, Checksum: []byte{0xDE, 0xAD, 0xBE, 0xEF}}

	b := tok.marshal()
	got, err := unmarshalMICv2(b)
	assert.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestWrapv2RoundTrip(t *testing.T) {
	tok := &wrapV2Token{Flags: msgFlagSealed | msgFlagAcceptorSubkey, EC: 12, RRC: 0, Seq: 7, EData: []byte("ciphertext")}

	b := tok.marshal()
	got, err := unmarshalWrapv2(b)
	assert.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestMsgFlagV2ReservedBitsStrippedOnMarshalAndParse(t *testing.T) {
	tok := &micV2Token{Flags: msgFlagV2(0xFF), Seq: 1, Checksum: []byte{0x01}}

	b := tok.marshal()
	got, err := unmarshalMICv2(b)
	assert.NoError(t, err)
	assert.Equal(t, msgFlagSentByAcceptor|msgFlagSealed|msgFlagAcceptorSubkey, got.Flags)
}

func TestParseMessageTokenDispatchesOnTag(t *testing.T) {
	mic1 := (&micV1Token{SigAlg: sigAlgHmacSha1Des3, Checksum: make([]byte, 20)}).marshal()
	got, err := ParseMessageToken(mic1)
	assert.NoError(t, err)
	_, ok := got.(*micV1Token)
	assert.True(t, ok)

	wrap2 := (&wrapV2Token{Flags: msgFlagSealed, EData: []byte("x")}).marshal()
	got, err = ParseMessageToken(wrap2)
	assert.NoError(t, err)
	_, ok = got.(*wrapV2Token)
	assert.True(t, ok)
}

func TestParseMessageTokenRejectsUnknownTag(t *testing.T) {
	_, err := ParseMessageToken([]byte{0xFF, 0xFF, 0, 0})
	assert.Error(t, err)
}

func TestParseMessageTokenRejectsShortInput(t *testing.T) {
	_, err := ParseMessageToken([]byte{0x01})
	assert.Error(t, err)
}

func TestRotateLeftRightAreInverses(t *testing.T) {
	buf := []byte("0123456789")

	for n := uint(0); n < 15; n++ {
		rotated := rotateLeft(buf, n)
		back := rotateRight(rotated, n)
		assert.Equal(t, buf, back, "n=%d", n)
	}
}

func TestRotateLeftKnownValue(t *testing.T) {
	buf := []byte("abcdef")
	assert.Equal(t, []byte("cdefab"), rotateLeft(buf, 2))
}

func TestRotateLeftEmptyBuffer(t *testing.T) {
	assert.Equal(t, []byte{}, rotateLeft([]byte{}, 5))
}
