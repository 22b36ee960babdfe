package krb5mech

import (
	"testing"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/etypeID"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/assert"
)

// ticketEncPartAppTag is RFC 4120's APPLICATION tag for EncTicketPart,
// the same "wrap the DER body in an application tag" step context.go's
// Accept() already does for EncAPRepPart (tag 27).
const ticketEncPartAppTag = 3

// ticketKeyUsage is RFC 3961 §7.5.1's key-usage number for a ticket's
// encrypted part (distinct from kgUsageSeal/kgUsageSign's legacy v1
// numbers in protect_v1.go, and from keyusage.AP_REP_ENCPART).
const ticketKeyUsage = 2

// newSyntheticTicket stands in for a KDC: it builds a Ticket whose
// encrypted part is sealed under a keytab entry's real key, so Accept()
// can exercise decryptTicketWithKeytab/tkt.Valid/DecryptAuthenticator
// against genuine ASN.1 + crypto instead of a white-box Context literal.
// The keytab's key comes back out of kt.Entries rather than being
// re-derived from the AddEntry password, so this test never has to
// reimplement gokrb5's string-to-key derivation.
func newSyntheticTicket(t *testing.T, etypeName, keytabPassword string, cname, sname types.PrincipalName, realm string) (messages.Ticket, types.EncryptionKey, *keytab.Keytab) {
	t.Helper()

	id := etypeID.EtypeSupported(etypeName)
	assert.Positive(t, id)
	et, err := crypto.GetEtype(id)
	assert.NoError(t, err)

	kt := keytab.New()
	assert.NoError(t, kt.AddEntry(sname.NameString[0]+"/"+sname.NameString[1], realm, keytabPassword, time.Now(), 1, id))
	serviceKey := kt.Entries[0].Key

	sessionKey, err := GenerateBaseKey(et)
	assert.NoError(t, err)

	now := time.Now()
	encPart := messages.EncTicketPart{
		Key:       sessionKey,
		CRealm:    realm,
		CName:     cname,
		AuthTime:  now,
		StartTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Hour),
		RenewTill: now.Add(2 * time.Hour),
	}

	encPartBytes, err := asn1.Marshal(encPart)
	assert.NoError(t, err)
	tagged := asn1tools.AddASNAppTag(encPartBytes, ticketEncPartAppTag)

	encData, err := crypto.GetEncryptedData(tagged, serviceKey, ticketKeyUsage, 1)
	assert.NoError(t, err)

	tkt := messages.Ticket{
		TktVNO:  5,
		Realm:   realm,
		SName:   sname,
		EncPart: encData,
	}

	return tkt, sessionKey, kt
}

func newReadyPair(t *testing.T, etypeName string) (initiator, acceptor *Context) {
	t.Helper()
	id := etypeID.EtypeSupported(etypeName)
	assert.Positive(t, id)

	et, err := crypto.GetEtype(id)
	assert.NoError(t, err)

	key, err := GenerateBaseKey(et)
	assert.NoError(t, err)

	initiator = &Context{role: RoleInitiator, state: stateReady, tktKey: key, iKey: &key, seq: 0, rseq: 0}
	acceptor = &Context{role: RoleAcceptor, state: stateReady, tktKey: key, iKey: &key, seq: 0, rseq: 0}
	return
}

func TestCheckRecvSeqAcceptsInOrder(t *testing.T) {
	c := &Context{rseq: 5}
	assert.NoError(t, c.checkRecvSeq(5))
	assert.Equal(t, uint64(6), c.rseq)
}

func TestCheckRecvSeqRejectsDuplicate(t *testing.T) {
	c := &Context{rseq: 5}
	err := c.checkRecvSeq(4)
	assert.ErrorIs(t, err, ErrDuplicateToken)
	assert.Equal(t, uint64(5), c.rseq)
}

func TestCheckRecvSeqFlagsGap(t *testing.T) {
	c := &Context{rseq: 5}
	err := c.checkRecvSeq(9)
	assert.ErrorIs(t, err, ErrGapToken)
	assert.Equal(t, uint64(5), c.rseq)
}

func TestIsLegacyDES3(t *testing.T) {
	des3ID := etypeID.EtypeSupported("des3-cbc-sha1-kd")
	des3Et, err := crypto.GetEtype(des3ID)
	assert.NoError(t, err)
	des3Key, err := GenerateBaseKey(des3Et)
	assert.NoError(t, err)

	aesID := etypeID.EtypeSupported("aes256-cts-hmac-sha1-96")
	aesEt, err := crypto.GetEtype(aesID)
	assert.NoError(t, err)
	aesKey, err := GenerateBaseKey(aesEt)
	assert.NoError(t, err)

	c := &Context{tktKey: des3Key}
	assert.True(t, c.isLegacyDES3())

	c = &Context{tktKey: aesKey}
	assert.False(t, c.isLegacyDES3())
}

func TestSendAndRecvKeyV2PrefersAcceptorSubkey(t *testing.T) {
	iKey := types.EncryptionKey{KeyType: 1, KeyValue: []byte("initiator-key...")}
	acKey := types.EncryptionKey{KeyType: 1, KeyValue: []byte("acceptor-key....")}

	c := &Context{iKey: &iKey, acKey: &acKey}

	key, acSub := c.sendKeyV2()
	assert.True(t, acSub)
	assert.Equal(t, acKey, key)

	assert.Equal(t, acKey, c.recvKeyV2(msgFlagAcceptorSubkey))
	assert.Equal(t, iKey, c.recvKeyV2(0))
}

func TestSendKeyV2FallsBackToInitiatorKey(t *testing.T) {
	iKey := types.EncryptionKey{KeyType: 1, KeyValue: []byte("initiator-key...")}
	c := &Context{iKey: &iKey}

	key, acSub := c.sendKeyV2()
	assert.False(t, acSub)
	assert.Equal(t, iKey, key)
}

func TestContextDeleteZeroesKeyMaterial(t *testing.T) {
	tktKey := types.EncryptionKey{KeyType: 1, KeyValue: []byte{1, 2, 3, 4}}
	iKey := types.EncryptionKey{KeyType: 1, KeyValue: []byte{5, 6, 7, 8}}

	c := &Context{tktKey: tktKey, iKey: &iKey, state: stateReady}
	assert.NoError(t, c.Delete())

	assert.Equal(t, []byte{0, 0, 0, 0}, c.tktKey.KeyValue)
	assert.Equal(t, []byte{0, 0, 0, 0}, c.iKey.KeyValue)
}

func TestGetMICVerifyMICRoundTripModern(t *testing.T) {
	initiator, acceptor := newReadyPair(t, "aes256-cts-hmac-sha1-96")

	message := []byte("ping")
	tok, err := initiator.GetMIC(message)
	assert.NoError(t, err)

	assert.NoError(t, acceptor.VerifyMIC(message, tok))
	assert.Equal(t, uint64(1), acceptor.rseq)
}

func TestWrapUnwrapRoundTripModern(t *testing.T) {
	initiator, acceptor := newReadyPair(t, "aes128-cts-hmac-sha1-96")

	message := []byte("confidential request body")
	wrapped, err := initiator.Wrap(message)
	assert.NoError(t, err)

	opened, err := acceptor.Unwrap(wrapped)
	assert.NoError(t, err)
	assert.Equal(t, message, opened)
}

func TestGetMICVerifyMICRoundTripLegacy(t *testing.T) {
	initiator, acceptor := newReadyPair(t, "des3-cbc-sha1-kd")

	message := []byte("legacy ping")
	tok, err := initiator.GetMIC(message)
	assert.NoError(t, err)

	assert.NoError(t, acceptor.VerifyMIC(message, tok))
}

func TestVerifyMICRejectsReplayedToken(t *testing.T) {
	initiator, acceptor := newReadyPair(t, "aes256-cts-hmac-sha1-96")

	tok, err := initiator.GetMIC([]byte("once"))
	assert.NoError(t, err)

	assert.NoError(t, acceptor.VerifyMIC([]byte("once"), tok))
	err = acceptor.VerifyMIC([]byte("once"), tok)
	assert.ErrorIs(t, err, ErrDuplicateToken)
}

func TestGetMICRejectsContextNotReady(t *testing.T) {
	c := &Context{state: stateSetupInitiator}
	_, err := c.GetMIC([]byte("x"))
	assert.Error(t, err)
}

func TestLocalNameNotYetAvailable(t *testing.T) {
	c := &Context{}
	_, err := c.LocalName(NameFormKrb5)
	assert.ErrorIs(t, err, ErrNotYetAvailable)
}

func TestPeerTicketNotYetAvailable(t *testing.T) {
	c := &Context{}
	_, err := c.PeerTicket()
	assert.ErrorIs(t, err, ErrNotYetAvailable)
}

// TestInitiateAcceptMutualAuthRoundTrip drives Initiate/Accept/Continue
// end-to-end through real AP-REQ/AP-REP ASN.1 marshal and unmarshal and
// real ticket/authenticator crypto, rather than white-box-constructing a
// Context. This is the path marshalInitialToken's APRep branch sits on.
func TestInitiateAcceptMutualAuthRoundTrip(t *testing.T) {
	cname := types.PrincipalName{NameType: 1, NameString: []string{"alice"}}
	sname := types.PrincipalName{NameType: 2, NameString: []string{"nfs", "server.example.com"}}
	realm := "EXAMPLE.COM"

	tkt, sessionKey, kt := newSyntheticTicket(t, "aes256-cts-hmac-sha1-96", "test-password", cname, sname, realm)

	tb := &TicketBundle{
		ClientRealm:      realm,
		ClientPrincipal:  cname,
		ServiceRealm:     realm,
		ServicePrincipal: sname,
		Ticket:           tkt,
		SessionKey:       sessionKey,
	}

	mutual := true
	apreqToken, initiator, cont, err := Initiate(&Options{Ticket: tb, MutualAuth: &mutual})
	assert.NoError(t, err)
	assert.True(t, cont)
	assert.NotEmpty(t, apreqToken)

	apreqRoundTrip, err := unmarshalInitialToken(apreqToken)
	assert.NoError(t, err)
	assert.NotNil(t, apreqRoundTrip.APReq)

	aprepToken, acceptor, cont, err := Accept(apreqToken, &Options{Keytab: kt})
	assert.NoError(t, err)
	assert.False(t, cont)
	assert.NotEmpty(t, aprepToken)

	aprepRoundTrip, err := unmarshalInitialToken(aprepToken)
	assert.NoError(t, err)
	assert.NotNil(t, aprepRoundTrip.APRep)

	_, cont, err = initiator.Continue(aprepToken)
	assert.NoError(t, err)
	assert.False(t, cont)

	assert.Equal(t, realm, acceptor.them.Realm)
	assert.Equal(t, "alice", acceptor.them.Component[0])

	message := []byte("mutually authenticated request")
	tok, err := initiator.GetMIC(message)
	assert.NoError(t, err)
	assert.NoError(t, acceptor.VerifyMIC(message, tok))

	reply := []byte("mutually authenticated response")
	wrapped, err := acceptor.Wrap(reply)
	assert.NoError(t, err)
	opened, err := initiator.Unwrap(wrapped)
	assert.NoError(t, err)
	assert.Equal(t, reply, opened)
}

// TestAcceptRejectsTicketForWrongKeytab exercises Accept()'s real
// decryptTicketWithKeytab failure path: a ticket sealed under one keytab
// does not decrypt against an unrelated one.
func TestAcceptRejectsTicketForWrongKeytab(t *testing.T) {
	cname := types.PrincipalName{NameType: 1, NameString: []string{"alice"}}
	sname := types.PrincipalName{NameType: 2, NameString: []string{"nfs", "server.example.com"}}
	realm := "EXAMPLE.COM"

	tkt, sessionKey, _ := newSyntheticTicket(t, "aes256-cts-hmac-sha1-96", "test-password", cname, sname, realm)
	_, _, wrongKt := newSyntheticTicket(t, "aes256-cts-hmac-sha1-96", "wrong-password", cname, sname, realm)

	tb := &TicketBundle{
		ClientRealm:      realm,
		ClientPrincipal:  cname,
		ServiceRealm:     realm,
		ServicePrincipal: sname,
		Ticket:           tkt,
		SessionKey:       sessionKey,
	}

	apreqToken, _, _, err := Initiate(&Options{Ticket: tb})
	assert.NoError(t, err)

	_, _, _, err = Accept(apreqToken, &Options{Keytab: wrongKt})
	assert.ErrorIs(t, err, ErrKeytabNotFound)
}
