// Package protocol defines the message and state types exchanged between
// the coordinator, participants, and clients of the simulated 2PC engine.
package protocol

import "github.com/google/uuid"

// Kind tags the purpose of a protocol Message.
type Kind uint8

const (
	ClientRequest Kind = iota
	CoordinatorPropose
	ParticipantVoteCommit
	ParticipantVoteAbort
	CoordinatorCommit
	CoordinatorAbort
	ClientResultCommit
	ClientResultAbort
	CoordinatorExit
)

// String returns the stable name used in logs and the oplog checker.
func (k Kind) String() string {
	switch k {
	case ClientRequest:
		return "ClientRequest"
	case CoordinatorPropose:
		return "CoordinatorPropose"
	case ParticipantVoteCommit:
		return "ParticipantVoteCommit"
	case ParticipantVoteAbort:
		return "ParticipantVoteAbort"
	case CoordinatorCommit:
		return "CoordinatorCommit"
	case CoordinatorAbort:
		return "CoordinatorAbort"
	case ClientResultCommit:
		return "ClientResultCommit"
	case ClientResultAbort:
		return "ClientResultAbort"
	case CoordinatorExit:
		return "CoordinatorExit"
	default:
		return "Unknown"
	}
}

// ExitTxID and ExitOpID mark the terminal CoordinatorExit broadcast, which
// carries no real transaction or operation.
const (
	ExitTxID = -1
	ExitOpID = -1
)

// Message is an immutable record describing one protocol event between two
// actors. Every call to New assigns a fresh MsgID, so two Messages built
// separately with the same (Kind, TxID, SenderID, OpID) can be told apart
// in the durable log; resending the same Message value keeps its MsgID.
type Message struct {
	MsgID    uuid.UUID
	Kind     Kind
	TxID     int32
	SenderID string
	OpID     int32
}

// New builds a fresh Message with a new internal identifier.
func New(kind Kind, txid int32, senderID string, opid int32) Message {
	return Message{
		MsgID:    uuid.New(),
		Kind:     kind,
		TxID:     txid,
		SenderID: senderID,
		OpID:     opid,
	}
}

// Clone returns a value copy of m. Message is already a value type with no
// shared mutable fields, so Clone exists to make send-time ownership
// transfer explicit at call sites: the transport delivers a cloned message
// to the peer's inbound queue rather than handing over the sender's copy.
func (m Message) Clone() Message {
	return m
}
