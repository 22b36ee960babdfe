package krb5mech

import (
	"testing"

	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/assert"
)

func aesTestKey(t *testing.T, name string) types.EncryptionKey {
	t.Helper()
	id := etypeID.EtypeSupported(name)
	assert.Positive(t, id)

	et, err := crypto.GetEtype(id)
	assert.NoError(t, err)

	key, err := GenerateBaseKey(et)
	assert.NoError(t, err)
	return key
}

func TestSealAndSignUsageDependOnSender(t *testing.T) {
	assert.NotEqual(t, sealUsage(RoleInitiator), sealUsage(RoleAcceptor))
	assert.NotEqual(t, signUsage(RoleInitiator), signUsage(RoleAcceptor))
}

func TestV2BlockPadLenAESIsZero(t *testing.T) {
	key := aesTestKey(t, "aes256-cts-hmac-sha1-96")
	assert.Equal(t, 0, v2BlockPadLen(key.KeyType, 1))
	assert.Equal(t, 0, v2BlockPadLen(key.KeyType, 17))
}

func TestV2BlockPadLenDES3PadsToBlockSize(t *testing.T) {
	key := des3TestKey(t)
	padLen := v2BlockPadLen(key.KeyType, 3)
	assert.Positive(t, padLen)
	assert.Equal(t, 0, (3+padLen)%8)
}

func TestBuildAndVerifyMICv2(t *testing.T) {
	key := aesTestKey(t, "aes128-cts-hmac-sha1-96")
	message := []byte("a signed message")

	tok, err := buildMICv2(key, 3, RoleInitiator, false, message)
	assert.NoError(t, err)

	err = verifyMICv2(key, RoleInitiator, tok, message)
	assert.NoError(t, err)
}

func TestVerifyMICv2RejectsTamperedMessage(t *testing.T) {
	key := aesTestKey(t, "aes128-cts-hmac-sha1-96")

	tok, err := buildMICv2(key, 3, RoleInitiator, false, []byte("original"))
	assert.NoError(t, err)

	err = verifyMICv2(key, RoleInitiator, tok, []byte("tampered"))
	assert.Error(t, err)
}

func TestBuildAndOpenWrapv2(t *testing.T) {
	key := aesTestKey(t, "aes256-cts-hmac-sha1-96")
	message := []byte("confidential, AES sealed")

	tok, err := buildWrapv2(key, 9, RoleAcceptor, true, message)
	assert.NoError(t, err)
	assert.Equal(t, uint16(0), tok.RRC)

	opened, err := openWrapv2(key, RoleAcceptor, tok)
	assert.NoError(t, err)
	assert.Equal(t, message, opened)
}

func TestBuildAndOpenWrapv2DES3(t *testing.T) {
	key := des3TestKey(t)
	message := []byte("not block aligned!!")

	tok, err := buildWrapv2(key, 1, RoleInitiator, false, message)
	assert.NoError(t, err)

	opened, err := openWrapv2(key, RoleInitiator, tok)
	assert.NoError(t, err)
	assert.Equal(t, message, opened)
}

func TestOpenWrapv2RejectsWrongKey(t *testing.T) {
	key := aesTestKey(t, "aes128-cts-hmac-sha1-96")
	otherKey := aesTestKey(t, "aes128-cts-hmac-sha1-96")

	tok, err := buildWrapv2(key, 1, RoleInitiator, false, []byte("secret"))
	assert.NoError(t, err)

	_, err = openWrapv2(otherKey, RoleInitiator, tok)
	assert.Error(t, err)
}
