// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

/*
 * Thin adapter over gokrb5's keytab package implementing spec.md §6's
 * "Keytab: filter_for_ticket(keytab, ticket) -> {ok, keyset} | {error,
 * not_found}" collaborator contract, grounded on the teacher's
 * verifyAPReq (krb5.go), which decrypts a ticket's encrypted part via
 * Ticket.DecryptEncPart -- gokrb5's own filter_for_ticket implementation,
 * since it looks the service principal up in the keytab and decrypts in
 * one call.
 */

import (
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
)

// decryptTicketWithKeytab implements spec.md §4.4 step 3: filter_for_ticket
// followed by decryption of the ticket's encrypted part. gokrb5 does not
// distinguish "no entry for this service principal" from "entry present
// but no matching kvno/enctype" in the error it returns, so both map to
// ErrKeytabNotFound (KRB_AP_ERR_NOT_US); see DESIGN.md.
func decryptTicketWithKeytab(kt *keytab.Keytab, tkt *messages.Ticket) error {
	if err := tkt.DecryptEncPart(kt, &tkt.SName); err != nil {
		return ErrKeytabNotFound
	}
	return nil
}
