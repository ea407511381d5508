// Package message implements the 128-byte wire header, the reference-counted
// message buffer it is carried in, and the fixed-capacity pool those buffers
// are drawn from.
package message

import (
	"encoding/binary"

	"anchor/internal/checksum"
)

// HeaderSize is the fixed, bit-exact size of a message header in bytes.
const HeaderSize = 128

// Command identifies the kind of message a header carries. Only the commands
// a SessionClient sends or understands are modeled; anything else arriving
// over the bus is a misdirected message and is logged and dropped by the
// caller, never by this package.
type Command uint16

const (
	CommandReserved Command = iota
	CommandPingClient
	CommandPongClient
	CommandRequest
	CommandReply
	CommandEviction
)

func (c Command) String() string {
	switch c {
	case CommandReserved:
		return "reserved"
	case CommandPingClient:
		return "ping_client"
	case CommandPongClient:
		return "pong_client"
	case CommandRequest:
		return "request"
	case CommandReply:
		return "reply"
	case CommandEviction:
		return "eviction"
	default:
		return "unknown"
	}
}

// Operation identifies the application or protocol operation a request/reply
// carries. Values below VSROperationsReserved are reserved for protocol
// messages such as register; application operations occupy values at or
// above it.
type Operation uint8

// OperationRegister is the single reserved protocol operation this module
// needs: it drives Unregistered -> Registering -> Active.
const OperationRegister Operation = 0

// VSROperationsReserved is the first operation value available to
// applications. Operation values below this threshold are forbidden in
// Client.Submit.
const VSROperationsReserved Operation = 16

// Header is the 128-byte, little-endian message header:
//
//	offset  size  field
//	0       16    checksum
//	16      16    checksum_body
//	32      16    parent
//	48      16    client
//	64      16    context
//	80      4     request
//	84      4     cluster
//	88      4     view
//	92      4     size
//	96      2     reserved
//	98      2     command
//	100     1     replica
//	101     1     operation
//	102     26    padding
//
// Header is a value type over a fixed byte layout; Encode/Decode convert to
// and from the wire representation. The struct field order intentionally
// mirrors the wire offsets for readability, not for memory layout purposes -
// Encode/Decode never rely on Go's in-memory struct layout.
type Header struct {
	Checksum     checksum.Value
	ChecksumBody checksum.Value
	Parent       checksum.Value
	Client       checksum.Value
	Context      checksum.Value
	Request      uint32
	Cluster      uint32
	View         uint32
	Size         uint32
	Command      Command
	Replica      uint8
	Operation    Operation
}

// Encode writes h's wire representation into buf, which must be at least
// HeaderSize bytes. It does not compute checksums; call SetChecksums (or
// compute them independently) first.
func (h *Header) Encode(buf []byte) {
	_ = buf[HeaderSize-1]
	checksum.PutUint128(buf[0:16], h.Checksum)
	checksum.PutUint128(buf[16:32], h.ChecksumBody)
	checksum.PutUint128(buf[32:48], h.Parent)
	checksum.PutUint128(buf[48:64], h.Client)
	checksum.PutUint128(buf[64:80], h.Context)
	binary.LittleEndian.PutUint32(buf[80:84], h.Request)
	binary.LittleEndian.PutUint32(buf[84:88], h.Cluster)
	binary.LittleEndian.PutUint32(buf[88:92], h.View)
	binary.LittleEndian.PutUint32(buf[92:96], h.Size)
	binary.LittleEndian.PutUint16(buf[96:98], 0) // reserved
	binary.LittleEndian.PutUint16(buf[98:100], uint16(h.Command))
	buf[100] = h.Replica
	buf[101] = uint8(h.Operation)
	for i := 102; i < HeaderSize; i++ {
		buf[i] = 0
	}
}

// Decode parses a Header from its wire representation. buf must be at least
// HeaderSize bytes; extra bytes (the body) are ignored.
func Decode(buf []byte) Header {
	_ = buf[HeaderSize-1]
	return Header{
		Checksum:     checksum.Uint128(buf[0:16]),
		ChecksumBody: checksum.Uint128(buf[16:32]),
		Parent:       checksum.Uint128(buf[32:48]),
		Client:       checksum.Uint128(buf[48:64]),
		Context:      checksum.Uint128(buf[64:80]),
		Request:      binary.LittleEndian.Uint32(buf[80:84]),
		Cluster:      binary.LittleEndian.Uint32(buf[84:88]),
		View:         binary.LittleEndian.Uint32(buf[88:92]),
		Size:         binary.LittleEndian.Uint32(buf[92:96]),
		Command:      Command(binary.LittleEndian.Uint16(buf[98:100])),
		Replica:      buf[100],
		Operation:    Operation(buf[101]),
	}
}

// BodyChecksum computes the checksum_body value for a header covering the
// given body bytes.
func BodyChecksum(body []byte) checksum.Value {
	return checksum.Sum(body)
}

// SetChecksums fills in ChecksumBody from body, then Checksum over every
// header field that follows it on the wire (offset 16 onward): the header
// checksum covers all subsequent bytes of the header, checksum_body covers
// the body.
func (h *Header) SetChecksums(body []byte) {
	h.ChecksumBody = BodyChecksum(body)

	var buf [HeaderSize]byte
	h.Encode(buf[:])
	h.Checksum = checksum.Sum(buf[16:HeaderSize])
}

// ValidChecksums reports whether h's checksums match a re-derivation against
// body. Used to validate both inbound requests (replica side, out of scope)
// and inbound replies (SessionClient side).
func (h *Header) ValidChecksums(body []byte) bool {
	if checksum.Sum(body) != h.ChecksumBody {
		return false
	}
	probe := *h
	var buf [HeaderSize]byte
	probe.Encode(buf[:])
	return checksum.Sum(buf[16:HeaderSize]) == h.Checksum
}
