// Package ledger holds the concrete domain objects and storage-engine glue
// a financial ledger built on CacheMap and TableMemory needs. CacheMap,
// TableMemory, and SetAssocCache are otherwise fully generic; Account and
// Transfer are the Value types that exercise them end to end, the same way
// a generic skiplist is only ever tested through a concrete key/value
// pair.
package ledger

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
)

// ID is the 128-bit identifier every ledger Value derives its cache key
// from.
type ID [16]byte

// NewID generates a random ID. Accounts and Transfers are both keyed by a
// caller-supplied 128-bit ID rather than an auto-increment, so two callers
// minting IDs concurrently (on different sessions, against different
// replicas) never collide.
func NewID() ID {
	return ID(uuid.New())
}

// Account is a ledger balance. DebitsPosted/CreditsPosted accumulate as
// transfers touch it under the usual double-entry rule: a transfer debits
// one account and credits another by the same amount.
type Account struct {
	ID            ID
	Ledger        uint32
	Code          uint16
	Flags         uint16
	DebitsPosted  uint64
	CreditsPosted uint64
	Timestamp     uint64
}

// CacheKey returns the key CacheMap/SetAssocCache index Account by.
func (a Account) CacheKey() [16]byte { return [16]byte(a.ID) }

// Encode serializes a for pkg/lsm.Sink.Flush.
func (a Account) Encode() []byte {
	buf := make([]byte, 16+4+2+2+8+8+8)
	copy(buf[0:16], a.ID[:])
	binary.LittleEndian.PutUint32(buf[16:20], a.Ledger)
	binary.LittleEndian.PutUint16(buf[20:22], a.Code)
	binary.LittleEndian.PutUint16(buf[22:24], a.Flags)
	binary.LittleEndian.PutUint64(buf[24:32], a.DebitsPosted)
	binary.LittleEndian.PutUint64(buf[32:40], a.CreditsPosted)
	binary.LittleEndian.PutUint64(buf[40:48], a.Timestamp)
	return buf
}

// CompareAccounts orders two Accounts by ID ascending, the key order
// TableMemory.MakeImmutable sorts by.
func CompareAccounts(a, b Account) int {
	return bytes.Compare(a.ID[:], b.ID[:])
}

// Transfer posts a debit from one account to a credit on another.
type Transfer struct {
	ID              ID
	DebitAccountID  ID
	CreditAccountID ID
	Ledger          uint32
	Code            uint16
	Amount          uint64
	Timestamp       uint64
}

// CacheKey returns the key CacheMap/SetAssocCache index Transfer by.
func (t Transfer) CacheKey() [16]byte { return [16]byte(t.ID) }

// Encode serializes t for pkg/lsm.Sink.Flush.
func (t Transfer) Encode() []byte {
	buf := make([]byte, 16+16+16+4+2+8+8)
	copy(buf[0:16], t.ID[:])
	copy(buf[16:32], t.DebitAccountID[:])
	copy(buf[32:48], t.CreditAccountID[:])
	binary.LittleEndian.PutUint32(buf[48:52], t.Ledger)
	binary.LittleEndian.PutUint16(buf[52:54], t.Code)
	binary.LittleEndian.PutUint64(buf[54:62], t.Amount)
	binary.LittleEndian.PutUint64(buf[62:70], t.Timestamp)
	return buf
}

// CompareTransfers orders two Transfers by ID ascending.
func CompareTransfers(a, b Transfer) int {
	return bytes.Compare(a.ID[:], b.ID[:])
}
