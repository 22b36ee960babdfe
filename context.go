// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

/*
 * Component D, the Context State Machine. Grounded on the teacher's
 * Krb5Mech (krb5.go): continueInitiator/continueAcceptor are generalized
 * here into Initiate/Accept/Continue that work for every supported
 * enctype instead of only the teacher's AES/RC4 subset, and the ad hoc
 * struct fields (m.sessionKey, m.initiatorSubKey, m.acceptorSubKey, ...)
 * are replaced by the explicit Data Model of spec.md §3.
 */

import (
	"errors"
	"fmt"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/asn1tools"
	"github.com/jcmturner/gokrb5/v8/crypto"
	"github.com/jcmturner/gokrb5/v8/iana/chksumtype"
	ianaerrcode "github.com/jcmturner/gokrb5/v8/iana/errorcode"
	ianaflags "github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/keyusage"
	"github.com/jcmturner/gokrb5/v8/iana/msgtype"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// encAPRepPartAppTag is the APPLICATION tag number RFC 4120 §5.5.2 assigns
// EncAPRepPart.
const encAPRepPartAppTag = 27

// gssNewChecksumUsage is the key-usage number for the optional extra-MIC
// trailer inside the 0x8003 checksum (spec.md §4.2: "25 per RFC 4121
// conventions").
const gssNewChecksumUsage = 25

type contextState int

const (
	stateSetupInitiator contextState = iota
	stateAwaitingAPRep
	stateSetupAcceptor
	stateReady
	stateErrored
	stateDeleted
)

// Context is the long-lived per-session entity spec.md §3 describes. It
// is not safe for concurrent use by multiple goroutines (spec.md §5):
// callers must externally serialize access to a single Context.
type Context struct {
	role  Role
	state contextState
	opts  *Options

	us, them       principalName
	hasUs, hasThem bool

	nonce uint32
	tkt   *messages.Ticket

	tktKey types.EncryptionKey
	iKey   *types.EncryptionKey
	acKey  *types.EncryptionKey

	seq, rseq uint64

	flags ContextFlag

	clientCTime time.Time
	clientCusec int
}

// AcceptorISNPolicy selects how an acceptor without mutual authentication
// picks its initial send sequence number, ported unchanged from the
// teacher's AcceptorISN knob (krb5.go).
type AcceptorISNPolicy int

const (
	// AcceptorISNFromInitiator reuses the initiator's nonce. Matches MIT
	// Kerberos and Microsoft's SSPI.
	AcceptorISNFromInitiator AcceptorISNPolicy = iota
	// AcceptorISNZero always starts the acceptor's sequence at zero.
	// Matches Heimdal.
	AcceptorISNZero
)

// AcceptorISN is the package-wide default for AcceptorISNPolicy; see
// https://bugs.openjdk.java.net/browse/JDK-8201814 for the interop history
// that motivates this knob.
var AcceptorISN = AcceptorISNFromInitiator

// Initiate implements Component D's initiator path (spec.md §4.4 steps
// 1-9). opts.Ticket must be populated. The returned bool reports whether
// the caller must feed the peer's reply token to Continue before the
// context reaches ready.
func Initiate(opts *Options) (tokenOut []byte, ctx *Context, cont bool, err error) {
	if opts == nil || opts.Ticket == nil {
		return nil, nil, false, fatalf("initiate", errors.New("opts.Ticket is required"))
	}
	tb := opts.Ticket

	nonce, err := opts.random().Nonce31()
	if err != nil {
		return nil, nil, false, fatalf("initiate", err)
	}

	sessionEtype, err := crypto.GetEtype(tb.SessionKey.KeyType)
	if err != nil {
		return nil, nil, false, fatalf("initiate", err)
	}
	subkey, err := GenerateBaseKey(sessionEtype)
	if err != nil {
		return nil, nil, false, fatalf("initiate", err)
	}

	reqFlags := opts.requestFlags()

	var extraMIC []byte
	if opts.ChannelBindings != nil {
		extraMIC, err = sessionEtype.GetChecksumHash(tb.SessionKey.KeyValue, encodeChannelBindings(opts.ChannelBindings), gssNewChecksumUsage)
		if err != nil {
			return nil, nil, false, fatalf("initiate: extra MIC", err)
		}
	}
	cksumBytes := buildAuthenticatorChecksum(reqFlags, opts.ChannelBindings, extraMIC)

	auth, err := types.NewAuthenticator(tb.ClientRealm, tb.ClientPrincipal)
	if err != nil {
		return nil, nil, false, fatalf("initiate: new authenticator", err)
	}
	now, cusec := opts.clock().Now()
	auth.CTime = now
	auth.Cusec = cusec
	auth.SeqNumber = int32(nonce)
	auth.SubKey = subkey
	auth.Cksum = types.Checksum{CksumType: chksumtype.GSSAPI, Checksum: cksumBytes}

	apreq, err := messages.NewAPReq(tb.Ticket, tb.SessionKey, auth)
	if err != nil {
		return nil, nil, false, fatalf("initiate: new ap-req", err)
	}
	if reqFlags&ContextFlagMutual != 0 {
		types.SetFlag(&apreq.APOptions, ianaflags.APOptionMutualRequired)
	}

	tokenOut, err = marshalInitialToken(&initialToken{APReq: &apreq})
	if err != nil {
		return nil, nil, false, fatalf("initiate: marshal token", err)
	}

	ctx = &Context{
		role:        RoleInitiator,
		opts:        opts,
		us:          principalFromTypes(tb.ClientRealm, tb.ClientPrincipal),
		hasUs:       true,
		them:        principalFromTypes(tb.ServiceRealm, tb.ServicePrincipal),
		hasThem:     true,
		nonce:       nonce,
		tktKey:      tb.SessionKey,
		iKey:        &subkey,
		seq:         uint64(nonce),
		rseq:        uint64(nonce),
		flags:       reqFlags,
		clientCTime: now,
		clientCusec: cusec,
	}

	if reqFlags&ContextFlagMutual != 0 {
		ctx.state = stateAwaitingAPRep
		return tokenOut, ctx, true, nil
	}

	switch AcceptorISN {
	case AcceptorISNZero:
		ctx.rseq = 0
	default:
		ctx.rseq = uint64(nonce)
	}
	ctx.state = stateReady
	return tokenOut, ctx, false, nil
}

// Continue advances an initiator context that is awaiting an AP-REP, or
// rejects any call on an errored context (spec.md §4.4, §7).
func (c *Context) Continue(tokenIn []byte) (tokenOut []byte, cont bool, err error) {
	switch c.state {
	case stateErrored:
		return nil, false, perMsgErr("defective_token", errors.New("context is errored"))
	case stateAwaitingAPRep:
		return c.continueInitiator(tokenIn)
	default:
		return nil, false, fatalf("continue", errors.New("context is not awaiting a continuation token"))
	}
}

func (c *Context) continueInitiator(tokenIn []byte) ([]byte, bool, error) {
	it, err := unmarshalInitialToken(tokenIn)
	if err != nil {
		c.state = stateErrored
		return nil, false, err
	}

	if it.KRBError != nil {
		c.state = stateErrored
		return nil, false, &KerberosError{Code: it.KRBError.ErrorCode, Message: it.KRBError.EText}
	}
	if it.APRep == nil {
		c.state = stateErrored
		return nil, false, fatalf("continue initiator", errors.New("initial token carries neither AP-REP nor KRB-ERROR"))
	}

	encBytes, err := crypto.DecryptEncPart(it.APRep.EncPart, c.tktKey, keyusage.AP_REP_ENCPART)
	if err != nil {
		c.state = stateErrored
		return nil, false, fatalf("continue initiator: decrypt ap-rep", err)
	}

	var part messages.EncAPRepPart
	if err := part.Unmarshal(encBytes); err != nil {
		c.state = stateErrored
		return nil, false, fatalf("continue initiator: unmarshal enc-ap-rep-part", err)
	}

	if part.CTime.Unix() != c.clientCTime.Unix() || part.Cusec != c.clientCusec {
		c.state = stateErrored
		return nil, false, fatalf("continue initiator", errors.New("mutual authentication failed: ap-rep echoes the wrong timestamp"))
	}

	c.rseq = uint64(part.SequenceNumber)
	if part.Subkey.KeyType != 0 {
		c.acKey = &part.Subkey
	}

	c.state = stateReady
	return nil, false, nil
}

// Accept implements Component D's acceptor path (spec.md §4.4 steps
// 1-9). opts.Keytab must be populated.
func Accept(tokenIn []byte, opts *Options) (tokenOut []byte, ctx *Context, cont bool, err error) {
	if opts == nil || opts.Keytab == nil {
		return nil, nil, false, fatalf("accept", errors.New("opts.Keytab is required"))
	}

	it, err := unmarshalInitialToken(tokenIn)
	if err != nil {
		return nil, nil, false, err
	}

	ctx = &Context{role: RoleAcceptor, opts: opts, state: stateSetupAcceptor}

	if it.APReq == nil {
		ctx.state = stateErrored
		tok, _ := krbErrorToken(ianaerrcode.KRB_ERR_GENERIC, "expected an AP-REQ", types.PrincipalName{}, "")
		return tok, ctx, false, fatalf("accept", errors.New("initial token does not carry an AP-REQ"))
	}

	tkt := it.APReq.Ticket
	if err := decryptTicketWithKeytab(opts.Keytab, &tkt); err != nil {
		ctx.state = stateErrored
		tok, _ := krbErrorToken(ianaerrcode.KRB_AP_ERR_NOT_US, "no usable keytab entry for this ticket", tkt.SName, tkt.Realm)
		return tok, ctx, false, &KerberosError{Code: ianaerrcode.KRB_AP_ERR_NOT_US, Message: err.Error(), Err: err}
	}

	now, _ := opts.clock().Now()
	if ok, verr := tkt.Valid(opts.maxSkew()); !ok {
		ctx.state = stateErrored
		tok, _ := krbErrorToken(ianaerrcode.KRB_AP_ERR_TKT_EXPIRED, "ticket is not currently valid", tkt.SName, tkt.Realm)
		msg := "ticket is not currently valid"
		if verr != nil {
			msg = verr.Error()
		}
		return tok, ctx, false, &KerberosError{Code: ianaerrcode.KRB_AP_ERR_TKT_EXPIRED, Message: msg}
	}

	sessionKey := tkt.DecryptedEncPart.Key
	if err := it.APReq.DecryptAuthenticator(sessionKey); err != nil {
		ctx.state = stateErrored
		tok, _ := krbErrorToken(ianaerrcode.KRB_AP_ERR_BAD_INTEGRITY, "could not decrypt authenticator", tkt.SName, tkt.Realm)
		return tok, ctx, false, &KerberosError{Code: ianaerrcode.KRB_AP_ERR_BAD_INTEGRITY, Message: err.Error()}
	}
	auth := it.APReq.Authenticator

	if !auth.CName.Equal(tkt.DecryptedEncPart.CName) || auth.CRealm != tkt.DecryptedEncPart.CRealm {
		ctx.state = stateErrored
		tok, _ := krbErrorToken(ianaerrcode.KRB_AP_ERR_BADMATCH, "authenticator principal does not match ticket", tkt.SName, tkt.Realm)
		return tok, ctx, false, &KerberosError{Code: ianaerrcode.KRB_AP_ERR_BADMATCH, Message: "cname/crealm mismatch"}
	}

	ctime := auth.CTime.Add(time.Duration(auth.Cusec) * time.Microsecond)
	skew := ctime.Sub(now)
	if skew < 0 {
		skew = -skew
	}
	if skew > opts.maxSkew() {
		ctx.state = stateErrored
		tok, _ := krbErrorToken(ianaerrcode.KRB_AP_ERR_SKEW, "clock skew too large", tkt.SName, tkt.Realm)
		return tok, ctx, false, &KerberosError{Code: ianaerrcode.KRB_AP_ERR_SKEW, Message: "clock skew too large"}
	}

	var iKey types.EncryptionKey
	if auth.SubKey.KeyType != 0 {
		iKey = auth.SubKey
	} else {
		iKey = sessionKey
	}

	if len(auth.Cksum.Checksum) > 0 {
		if auth.Cksum.CksumType != chksumtype.GSSAPI {
			ctx.state = stateErrored
			tok, _ := krbErrorToken(ianaerrcode.KRB_AP_ERR_INAPP_CKSUM, "wrong authenticator checksum type", tkt.SName, tkt.Realm)
			return tok, ctx, false, &KerberosError{Code: ianaerrcode.KRB_AP_ERR_INAPP_CKSUM, Message: "wrong checksum type"}
		}

		ac, err := parseAuthenticatorChecksum(auth.Cksum.Checksum)
		if err != nil {
			ctx.state = stateErrored
			tok, _ := krbErrorToken(ianaerrcode.KRB_AP_ERR_INAPP_CKSUM, "malformed authenticator checksum", tkt.SName, tkt.Realm)
			return tok, ctx, false, &KerberosError{Code: ianaerrcode.KRB_AP_ERR_INAPP_CKSUM, Message: err.Error()}
		}

		et, err := crypto.GetEtype(sessionKey.KeyType)
		if err != nil {
			return nil, nil, false, fatalf("accept", err)
		}
		recompute := func(bindings []byte) ([]byte, error) {
			return et.GetChecksumHash(sessionKey.KeyValue, bindings, gssNewChecksumUsage)
		}

		if err := verifyChecksum(ac, opts.ChannelBindings, opts.requestFlags(), recompute); err != nil {
			code := int32(ianaerrcode.KRB_AP_ERR_INAPP_CKSUM)
			if errors.Is(err, errExtraMICMismatch) {
				code = ianaerrcode.KRB_AP_ERR_BAD_INTEGRITY
			}
			ctx.state = stateErrored
			tok, _ := krbErrorToken(code, "authenticator checksum validation failed", tkt.SName, tkt.Realm)
			return tok, ctx, false, &KerberosError{Code: code, Message: err.Error()}
		}

		ctx.flags = ac.Flags
	} else {
		// Missing checksum tolerated for Microsoft interop (spec.md §9 open
		// question); request flags stand in for the negotiated set.
		ctx.flags = opts.requestFlags()
	}

	ctx.tkt = &tkt
	ctx.tktKey = sessionKey
	ctx.iKey = &iKey
	ctx.us = principalFromTypes(tkt.Realm, tkt.SName)
	ctx.hasUs = true
	ctx.them = principalFromTypes(tkt.DecryptedEncPart.CRealm, tkt.DecryptedEncPart.CName)
	ctx.hasThem = true
	ctx.rseq = uint64(uint32(auth.SeqNumber))

	if types.IsFlagSet(&it.APReq.APOptions, ianaflags.APOptionMutualRequired) {
		sessionEtype, err := crypto.GetEtype(sessionKey.KeyType)
		if err != nil {
			return nil, nil, false, fatalf("accept", err)
		}
		acSubkey, err := GenerateBaseKey(sessionEtype)
		if err != nil {
			return nil, nil, false, fatalf("accept: generate acceptor subkey", err)
		}
		ourSeq, err := opts.random().Nonce31()
		if err != nil {
			return nil, nil, false, fatalf("accept: generate sequence number", err)
		}

		encPart := messages.EncAPRepPart{
			CTime:          auth.CTime,
			Cusec:          auth.Cusec,
			Subkey:         acSubkey,
			SequenceNumber: int64(ourSeq),
		}
		encPartInner, err := asn1.Marshal(encPart)
		if err != nil {
			return nil, nil, false, fatalf("accept: marshal enc-ap-rep-part", err)
		}
		encPartBytes := asn1tools.AddASNAppTag(encPartInner, encAPRepPartAppTag)
		encData, err := crypto.GetEncryptedData(encPartBytes, sessionKey, keyusage.AP_REP_ENCPART, 0)
		if err != nil {
			return nil, nil, false, fatalf("accept: encrypt ap-rep", err)
		}

		aprep := messages.APRep{PVNO: 5, MsgType: msgtype.KRB_AP_REP, EncPart: encData}
		tokenOut, err = marshalInitialToken(&initialToken{APRep: &aprep})
		if err != nil {
			return nil, nil, false, fatalf("accept: marshal token", err)
		}

		ctx.acKey = &acSubkey
		ctx.seq = uint64(ourSeq)
		ctx.flags |= ContextFlagMutual
	} else {
		switch AcceptorISN {
		case AcceptorISNZero:
			ctx.seq = 0
		default:
			ctx.seq = ctx.rseq
		}
	}

	ctx.state = stateReady
	return tokenOut, ctx, false, nil
}

func krbErrorToken(code int32, msg string, sname types.PrincipalName, realm string) ([]byte, error) {
	ke := messages.NewKRBError(sname, realm, code, msg)
	return marshalInitialToken(&initialToken{KRBError: &ke})
}

// Delete finalizes a Context (spec.md §3's lifecycle: "no token emitted,
// Kerberos GSS has no teardown wire message") and zeroes its key
// material.
func (c *Context) Delete() error {
	zero := func(k *types.EncryptionKey) {
		if k != nil {
			for i := range k.KeyValue {
				k.KeyValue[i] = 0
			}
		}
	}
	zero(&c.tktKey)
	zero(c.iKey)
	zero(c.acKey)
	c.state = stateDeleted
	return nil
}

func (c *Context) isLegacyDES3() bool {
	et, err := crypto.GetEtype(c.tktKey.KeyType)
	if err != nil {
		return false
	}
	_, ok := et.(crypto.Des3CbcSha1Kd)
	return ok
}

func (c *Context) sendKeyV2() (types.EncryptionKey, bool) {
	if c.acKey != nil {
		return *c.acKey, true
	}
	return *c.iKey, false
}

func (c *Context) recvKeyV2(flags msgFlagV2) types.EncryptionKey {
	if flags&msgFlagAcceptorSubkey != 0 && c.acKey != nil {
		return *c.acKey
	}
	return *c.iKey
}

// checkRecvSeq implements spec.md §4.3's sequence/replay semantics.
func (c *Context) checkRecvSeq(seq uint64) error {
	switch {
	case seq == c.rseq:
		c.rseq++
		return nil
	case seq < c.rseq:
		return ErrDuplicateToken
	default:
		return ErrGapToken
	}
}

// GetMIC implements Component C/D's get_mic operation (spec.md §6).
func (c *Context) GetMIC(message []byte) ([]byte, error) {
	if c.state != stateReady {
		return nil, fatalf("get_mic", errors.New("context is not ready"))
	}

	var wire []byte
	if c.isLegacyDES3() {
		tok, err := buildMICv1(c.tktKey, uint32(c.seq), c.role, message)
		if err != nil {
			return nil, err
		}
		wire = tok.marshal()
	} else {
		key, acSub := c.sendKeyV2()
		tok, err := buildMICv2(key, c.seq, c.role, acSub, message)
		if err != nil {
			return nil, err
		}
		wire = tok.marshal()
	}

	c.seq++
	return wire, nil
}

// VerifyMIC implements Component C/D's verify_mic operation.
func (c *Context) VerifyMIC(message, token []byte) error {
	if c.state != stateReady {
		return fatalf("verify_mic", errors.New("context is not ready"))
	}

	parsed, err := ParseMessageToken(token)
	if err != nil {
		return err
	}

	var seq uint64
	switch t := parsed.(type) {
	case *micV1Token:
		s, err := verifyMICv1(c.tktKey, c.role.other(), t, message)
		if err != nil {
			return err
		}
		seq = uint64(s)
	case *micV2Token:
		key := c.recvKeyV2(t.Flags)
		if err := verifyMICv2(key, c.role.other(), t, message); err != nil {
			return err
		}
		seq = t.Seq
	default:
		return perMsgErr("defective_token", fmt.Errorf("not a MIC token"))
	}

	return c.checkRecvSeq(seq)
}

// Wrap implements Component C/D's wrap operation.
func (c *Context) Wrap(message []byte) ([]byte, error) {
	if c.state != stateReady {
		return nil, fatalf("wrap", errors.New("context is not ready"))
	}

	var wire []byte
	if c.isLegacyDES3() {
		tok, err := buildWrapv1(c.tktKey, uint32(c.seq), c.role, c.opts.random(), message)
		if err != nil {
			return nil, err
		}
		wire = tok.marshal()
	} else {
		key, acSub := c.sendKeyV2()
		tok, err := buildWrapv2(key, c.seq, c.role, acSub, message)
		if err != nil {
			return nil, err
		}
		wire = tok.marshal()
	}

	c.seq++
	return wire, nil
}

// Unwrap implements Component C/D's unwrap operation.
func (c *Context) Unwrap(token []byte) ([]byte, error) {
	if c.state != stateReady {
		return nil, fatalf("unwrap", errors.New("context is not ready"))
	}

	parsed, err := ParseMessageToken(token)
	if err != nil {
		return nil, err
	}

	var message []byte
	var seq uint64
	switch t := parsed.(type) {
	case *wrapV1Token:
		m, s, err := openWrapv1(c.tktKey, c.role.other(), t)
		if err != nil {
			return nil, err
		}
		message, seq = m, uint64(s)
	case *wrapV2Token:
		key := c.recvKeyV2(t.Flags)
		m, err := openWrapv2(key, c.role.other(), t)
		if err != nil {
			return nil, err
		}
		message, seq = m, t.Seq
	default:
		return nil, perMsgErr("defective_token", fmt.Errorf("not a Wrap token"))
	}

	if err := c.checkRecvSeq(seq); err != nil {
		return nil, err
	}
	return message, nil
}

// LocalName implements the `local_name` accessor (spec.md §6).
func (c *Context) LocalName(form NameForm) (string, error) {
	if !c.hasUs {
		return "", ErrNotYetAvailable
	}
	return TranslateName(c.us, form)
}

// PeerName implements the `peer_name` accessor.
func (c *Context) PeerName(form NameForm) (string, error) {
	if !c.hasThem {
		return "", ErrNotYetAvailable
	}
	return TranslateName(c.them, form)
}

// PeerTicket implements the `peer_ticket` accessor (acceptor only).
func (c *Context) PeerTicket() (*messages.Ticket, error) {
	if c.tkt == nil {
		return nil, ErrNotYetAvailable
	}
	return c.tkt, nil
}

// SSF returns the Security Strength Factor of the active protection key,
// ported from the teacher's Krb5Mech.SSF (krb5.go).
func (c *Context) SSF() uint {
	key, _ := c.activeKey()
	return keySSF(key.KeyType)
}

// WrapSizeLimit mirrors the teacher's Krb5Mech.WrapSizeLimit, itself
// ported from MIT Kerberos' wrap_size_limit.c, generalized to whichever
// key is currently active.
func (c *Context) WrapSizeLimit(requestedOutputSize uint32, confidentiality bool) uint32 {
	key, _ := c.activeKey()
	keyType := key.KeyType

	sz := requestedOutputSize
	if confidentiality {
		for sz > 0 {
			wrapSize := 16 + encryptedLength(keyType, sz)
			if wrapSize <= requestedOutputSize {
				break
			}
			sz--
		}
		if sz > 16 {
			sz -= 16
		} else {
			sz = 0
		}
	} else {
		et, _ := crypto.GetEtype(keyType)
		cksumSize := et.GetHMACBitLength() / 8
		if sz < uint32(16+cksumSize) {
			sz = 0
		} else {
			sz -= uint32(16 + cksumSize)
		}
	}
	return sz
}

func (c *Context) activeKey() (types.EncryptionKey, bool) {
	switch {
	case c.acKey != nil:
		return *c.acKey, true
	case c.iKey != nil:
		return *c.iKey, false
	default:
		return c.tktKey, false
	}
}
