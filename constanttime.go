// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

import "crypto/subtle"

// constantTimeEqual compares two checksums in time that does not depend on
// their contents, per spec.md §4.3's "constant-time comparison" requirement
// for MIC/Wrap verification. Checksums of different lengths are reported
// unequal at once, so the length difference itself is not hidden.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
