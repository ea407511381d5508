package session

import "github.com/cockroachdb/errors"

// ErrBudgetExceeded is returned by AcquireMessage and Submit/SubmitRaw when
// the per-client message budget or request queue is full. This is a
// programming error: the caller is expected to respect the budget it was
// configured with, not retry blindly.
var ErrBudgetExceeded = errors.New("session: message or request budget exceeded")

// ErrReservedOperation is returned by Submit/SubmitRaw when the caller
// supplies an operation below message.VSROperationsReserved.
var ErrReservedOperation = errors.New("session: operation is in the reserved range")

// ErrEvicted is returned by Submit/SubmitRaw once the client has received a
// valid eviction message. The client is terminal at that point.
var ErrEvicted = errors.New("session: client session has been evicted")
