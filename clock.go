// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

package krb5mech

import (
	"crypto/rand"
	"io"
	"math"
	"math/big"
	"time"
)

// Clock is the "read-once-per-call" time collaborator described in
// spec.md §9.  It exists so context-establishment tests can pin wall-clock
// values instead of racing real time; production code uses systemClock.
type Clock interface {
	// Now returns the current wall-clock time, split the way a Kerberos
	// Authenticator needs it: whole seconds plus a microsecond remainder.
	Now() (t time.Time, cusec int)
}

type systemClock struct{}

func (systemClock) Now() (time.Time, int) {
	now := time.Now().UTC()
	return now.Truncate(time.Second), now.Nanosecond() / int(time.Microsecond)
}

// SystemClock is the default Clock, backed by time.Now().
var SystemClock Clock = systemClock{}

// RandomSource is the randomness collaborator used to generate the
// initiator's 31-bit nonce, the acceptor's sequence-number seed, and RFC
// 1964 confounders.  Production code uses CryptoRandomSource
// (crypto/rand); tests may substitute a deterministic source.
type RandomSource interface {
	// Nonce31 returns a uniformly distributed 31-bit unsigned value,
	// matching the Kerberos Authenticator seq-number field's sign bit
	// convention (spec.md §4.4 step 2).
	Nonce31() (uint32, error)
	// Bytes fills buf with random bytes (used for RFC 1964 confounders;
	// subkeys come from GenerateBaseKey, which reads crypto/rand directly).
	Bytes(buf []byte) error
}

type cryptoRandomSource struct{}

func (cryptoRandomSource) Nonce31() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt32))
	if err != nil {
		return 0, err
	}
	return uint32(n.Int64()) & 0x7fffffff, nil
}

func (cryptoRandomSource) Bytes(buf []byte) error {
	_, err := io.ReadFull(rand.Reader, buf)
	return err
}

// CryptoRandomSource is the default RandomSource, backed by crypto/rand.
var CryptoRandomSource RandomSource = cryptoRandomSource{}
