// Package checksum computes the 128-bit digests used to chain and validate
// wire messages (see internal/message.Header).
package checksum

import (
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Size is the width, in bytes, of a checksum value.
const Size = 16

// Value is a truncated 128-bit cryptographic digest. The zero Value is a
// legal "no checksum yet" sentinel (used as the hash-chain anchor before any
// reply has been received).
type Value [Size]byte

// Zero is the hash-chain anchor before any reply has been received.
var Zero Value

// IsZero reports whether v is the all-zero sentinel.
func (v Value) IsZero() bool {
	return v == Zero
}

// Sum computes the checksum of data: a blake2b-256 digest truncated to the
// first 16 bytes. blake2b is cheap enough to run per-header on every send and
// receive without a dedicated hardware instruction, and comes from
// golang.org/x/crypto, a direct dependency of this module.
func Sum(data []byte) Value {
	digest := blake2b.Sum256(data)
	var v Value
	copy(v[:], digest[:Size])
	return v
}

// PutUint128 is a helper for encoding a Value's low/high halves as two
// little-endian uint64s, matching the wire layout of every 16-byte header
// field (checksum, checksum_body, parent, client, context).
func PutUint128(b []byte, v Value) {
	_ = b[15]
	copy(b[:Size], v[:])
}

// Uint128 reconstructs a Value from its wire encoding.
func Uint128(b []byte) Value {
	_ = b[15]
	var v Value
	copy(v[:], b[:Size])
	return v
}

// Low64 returns the low 64 bits of v, interpreted little-endian. Used to seed
// the per-client jitter RNG from a client_id without needing the full 128
// bits of entropy.
func Low64(v Value) uint64 {
	return binary.LittleEndian.Uint64(v[:8])
}

// FromUint64 packs lo into the low 8 bytes of a Value, zeroing the high 8
// bytes. Several 128-bit header fields (context, in particular) are used to
// carry a single 64-bit number - session_number on the wire - rather than a
// full checksum.
func FromUint64(lo uint64) Value {
	var v Value
	binary.LittleEndian.PutUint64(v[:8], lo)
	return v
}

// Random generates a cryptographically random, non-zero Value, used to mint
// a fresh client_id.
func Random() (Value, error) {
	for {
		var v Value
		if _, err := rand.Read(v[:]); err != nil {
			return Zero, err
		}
		if !v.IsZero() {
			return v, nil
		}
	}
}
