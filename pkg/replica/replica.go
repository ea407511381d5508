// Package replica declares the narrow collaborator interfaces a replica
// group would need to satisfy to sit on the other side of pkg/session and
// pkg/ledger. Implementing consensus, view changes, and log replication is
// out of scope for this module - Group exists only so the client-facing and
// storage-facing packages have a concrete, importable contract to depend on
// and to fake in tests, the same way pkg/session.MessageBus stands in for
// the transport it is driven over.
package replica

import "anchor/internal/message"

// Group is the minimal surface a replica group exposes to whatever submits
// commands into it: apply one command under the group's current view, and
// report that view so a caller can detect a stale route.
type Group interface {
	// SubmitCommand proposes req for replication and, once a quorum has
	// committed it, invokes reply with the resulting reply message. req and
	// the message passed to reply are owned by the caller of SubmitCommand
	// and the group respectively; neither retains a reference past its own
	// call.
	SubmitCommand(req *message.Message, reply func(*message.Message)) error

	// ViewNumber returns the view this replica believes is current. A
	// SessionClient uses this only indirectly, by observing the View field
	// on replies; Group exposes it directly so a non-client caller (for
	// instance a test double) can assert on it without decoding a message.
	ViewNumber() uint32

	// ReplicaCount returns the number of replicas in the group, mirroring
	// the replica_count a SessionClient is configured with.
	ReplicaCount() uint8
}

// Membership describes one replica's identity within a Group, analogous to
// a raft group's (groupID, replicaID) pair.
type Membership struct {
	ClusterID uint32
	Replica   uint8
	Count     uint8
}
