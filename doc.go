// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

/*
Package krb5mech implements the Kerberos V5 GSS-API mechanism
(OID 1.2.840.113554.1.2.2): both the legacy RFC 1964 per-message tokens
(sig-alg hmac_sha1_des3 / seal-alg des3-cbc) and the modern RFC 4121
tokens used with AES-CTS-HMAC and RC4-HMAC enctypes.

# Establishing a context

An initiator that already holds a service ticket (acquired out of band,
e.g. via gokrb5's client package) calls Initiate to produce the first
token to send to the acceptor:

	token, ctx, cont, err := krb5mech.Initiate(&krb5mech.Options{
		Ticket: ticketBundle,
	})

If mutual authentication was requested, cont is true and the caller
must pass the acceptor's reply to ctx.Continue before the context
reaches the ready state.

An acceptor holding a keytab calls Accept with the initiator's token:

	token, ctx, cont, err := krb5mech.Accept(initiatorToken, &krb5mech.Options{
		Keytab: kt,
	})

A non-nil token returned alongside a KerberosError should be sent back
to the peer as the GSS-API error token; the context is unusable past
that point.

# Per-message protection

Once a Context reaches its ready state, GetMIC/VerifyMIC produce and
check integrity-only tokens, and Wrap/Unwrap add confidentiality. Which
of the two wire formats (RFC 1964 or RFC 4121) a Context uses is
determined entirely by the ticket's encryption type; callers never
select it explicitly.

# Errors

Four error families are returned: FatalError (the context must be
discarded), KerberosError (carries a Kerberos protocol error code that
should be returned to the peer), PerMessageError (a single
GetMIC/VerifyMIC/Wrap/Unwrap call failed; the context is unaffected and
further calls may succeed), and AccessorError (LocalName, PeerName,
PeerTicket or TranslateName could not answer).
*/
package krb5mech
