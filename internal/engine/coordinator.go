package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/baxromumarov/tpc-sim/internal/oplog"
	"github.com/baxromumarov/tpc-sim/internal/protocol"
	"github.com/baxromumarov/tpc-sim/internal/transport"
)

const (
	// recvRequestTimeout is the per-client poll timeout used while looking
	// for the next request to service.
	recvRequestTimeout = 10 * time.Millisecond
	// recvRequestRounds bounds how many full polling passes recvRequest
	// makes before reporting that no request was found.
	recvRequestRounds = 10
	// voteTimeout is how long the coordinator waits for each participant's
	// vote before treating it as an abort.
	voteTimeout = 500 * time.Millisecond
	// maxBroadcastRetries bounds the coordinator's drop-then-retry send
	// loop: high enough to be effectively unbounded for any
	// message-success probability used in practice, but it guarantees a
	// wedged peer cannot hang the coordinator forever.
	maxBroadcastRetries = 200_000
)

// senderID is the coordinator's own senderid in every message it originates.
const senderID = "coordinator"

// Coordinator drives the 2PC protocol: it accepts one client request at a
// time, runs a full prepare/decide round against every registered
// participant, and reports the result to the originating client. Only one
// transaction is ever Active.
type Coordinator struct {
	regMu sync.Mutex

	oplog          *oplog.Log
	msgSuccessProb float64
	running        *Running
	verbose        bool

	state protocol.CoordinatorState

	participantNames     []string
	participantEndpoints map[string]*transport.Endpoint
	clientNames          []string
	clientEndpoints      map[string]*transport.Endpoint

	numReqHandled int
	totalReq      int

	successful int
	failed     int
	unknown    int
}

// NewCoordinator constructs a coordinator. logPath is the coordinator's own
// operation log file; totalRequests is num_clients * num_requests, used to
// know when the simulation is complete.
func NewCoordinator(logPath string, running *Running, msgSuccessProb float64, totalRequests int, verbose bool) (*Coordinator, error) {
	l, err := oplog.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	return &Coordinator{
		oplog:                l,
		msgSuccessProb:       msgSuccessProb,
		running:              running,
		verbose:              verbose,
		state:                protocol.CoordinatorQuiescent,
		participantEndpoints: make(map[string]*transport.Endpoint),
		clientEndpoints:      make(map[string]*transport.Endpoint),
		totalReq:             totalRequests,
	}, nil
}

// RegisterParticipant admits a new participant into the cluster before the
// simulation starts, returning the endpoint half the participant should
// own. Registering after the coordinator has left Quiescent is a
// programming error and panics.
func (c *Coordinator) RegisterParticipant(name string) *transport.Endpoint {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	if c.state != protocol.CoordinatorQuiescent {
		panic("engine: RegisterParticipant called while coordinator is not Quiescent")
	}

	coordEnd, peerEnd := transport.NewPair()
	c.participantNames = append(c.participantNames, name)
	c.participantEndpoints[name] = coordEnd
	return peerEnd
}

// RegisterClient admits a new client into the cluster before the simulation
// starts, returning the endpoint half the client should own.
func (c *Coordinator) RegisterClient(name string) *transport.Endpoint {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	if c.state != protocol.CoordinatorQuiescent {
		panic("engine: RegisterClient called while coordinator is not Quiescent")
	}

	coordEnd, peerEnd := transport.NewPair()
	c.clientNames = append(c.clientNames, name)
	c.clientEndpoints[name] = coordEnd
	return peerEnd
}

// Protocol runs the coordinator side of 2PC until every request has been
// handled or the simulation shuts down.
func (c *Coordinator) Protocol() {
	for c.numReqHandled != c.totalReq {
		if !c.running.Load() {
			break
		}

		req, clientName, found := c.recvRequest()
		if !found {
			continue
		}

		c.runRound(req, clientName)
	}

	// Broadcast the terminal CoordinatorExit only while a graceful
	// shutdown, not an interrupt, is in progress: on interrupt, running is
	// already false and the exit broadcast is skipped. Either way, closing
	// every owned endpoint below unblocks any participant or client left
	// blocked in a receive.
	if c.running.Load() {
		c.broadcastExit()
	}
	c.running.Stop()

	c.closeEndpoints()
	c.reportStatus()
}

// recvRequest polls each registered client in registration order with a
// short per-client timeout, repeating for a bounded number of rounds, and
// returns the first ClientRequest seen. This enforces fair service across
// clients instead of favoring whichever client's messages arrive first.
func (c *Coordinator) recvRequest() (protocol.Message, string, bool) {
	for round := 0; round < recvRequestRounds; round++ {
		for _, name := range c.clientNames {
			ep := c.clientEndpoints[name]
			msg, err := ep.Recv(recvRequestTimeout)
			if err != nil {
				// Timeout, or a disconnected client: skip, don't purge.
				continue
			}
			return msg, name, true
		}
	}
	return protocol.Message{}, "", false
}

// runRound drives one full prepare/decide round to completion for the given
// client request, transitioning the coordinator through Active and back to
// Quiescent.
func (c *Coordinator) runRound(req protocol.Message, clientName string) {
	c.state = protocol.CoordinatorActive
	defer func() { c.state = protocol.CoordinatorQuiescent }()

	c.mustLog(req)

	propose := protocol.New(protocol.CoordinatorPropose, req.TxID, senderID, req.OpID)
	c.mustLog(propose)

	for _, name := range c.participantNames {
		c.sendWithRetry(c.participantEndpoints[name], propose)
	}

	commit := c.collectVotes(req.TxID)

	var decision protocol.Message
	if commit {
		decision = protocol.New(protocol.CoordinatorCommit, req.TxID, senderID, req.OpID)
		c.successful++
	} else {
		decision = protocol.New(protocol.CoordinatorAbort, req.TxID, senderID, req.OpID)
		c.failed++
	}
	c.mustLog(decision)

	for _, name := range c.participantNames {
		c.sendWithRetry(c.participantEndpoints[name], decision)
	}

	var result protocol.Message
	if commit {
		result = protocol.New(protocol.ClientResultCommit, req.TxID, senderID, req.OpID)
	} else {
		result = protocol.New(protocol.ClientResultAbort, req.TxID, senderID, req.OpID)
	}
	c.mustLog(result)
	c.sendWithRetry(c.clientEndpoints[clientName], result)

	c.numReqHandled++

	if c.verbose {
		log.Printf("[coordinator] txid %d decided %s", req.TxID, decision.Kind)
	}
}

// collectVotes waits for every participant's vote, in registration order,
// and reports whether the round commits. A transaction commits iff every
// participant voted commit and that vote was received within voteTimeout;
// any abort vote or any timeout aborts the transaction.
func (c *Coordinator) collectVotes(txid int32) bool {
	commit := true
	for _, name := range c.participantNames {
		ep := c.participantEndpoints[name]
		vote, err := ep.Recv(voteTimeout)
		if err != nil {
			// Timeout or disconnected participant: treat as abort.
			commit = false
			continue
		}
		if vote.Kind == protocol.ParticipantVoteAbort {
			commit = false
		}
	}
	return commit
}

// sendWithRetry sends msg through the unreliable wrapper, retrying a
// dropped send until it is delivered or the endpoint reports
// SendDisconnected.
func (c *Coordinator) sendWithRetry(ep *transport.Endpoint, msg protocol.Message) {
	for attempt := 0; attempt < maxBroadcastRetries; attempt++ {
		switch ep.SendUnreliable(msg, c.msgSuccessProb) {
		case transport.SendDelivered:
			return
		case transport.SendDisconnected:
			return
		case transport.SendDropped:
			continue
		}
	}
	log.Printf("[coordinator] gave up retrying %s for txid %d after %d attempts", msg.Kind, msg.TxID, maxBroadcastRetries)
}

// broadcastExit sends the terminal CoordinatorExit message to every
// participant and client, in registration order, with the same
// drop-then-retry discipline used for every other broadcast.
func (c *Coordinator) broadcastExit() {
	exit := protocol.New(protocol.CoordinatorExit, protocol.ExitTxID, senderID, protocol.ExitOpID)
	for _, name := range c.participantNames {
		c.sendWithRetry(c.participantEndpoints[name], exit)
	}
	for _, name := range c.clientNames {
		c.sendWithRetry(c.clientEndpoints[name], exit)
	}
}

func (c *Coordinator) closeEndpoints() {
	for _, name := range c.participantNames {
		c.participantEndpoints[name].Close()
	}
	for _, name := range c.clientNames {
		c.clientEndpoints[name].Close()
	}
}

func (c *Coordinator) mustLog(msg protocol.Message) {
	if _, err := c.oplog.AppendMessage(msg); err != nil {
		log.Printf("[coordinator] failed to log %s for txid %d: %v", msg.Kind, msg.TxID, err)
	}
}

func (c *Coordinator) reportStatus() {
	if err := c.oplog.Close(); err != nil {
		log.Printf("[coordinator] error closing log: %v", err)
	}
	fmt.Printf("coordinator:\tC:%d\tA:%d\tU:%d\n", c.successful, c.failed, c.unknown)
}

// Stats returns the coordinator's aggregate outcome counters.
func (c *Coordinator) Stats() (successful, failed, unknown int) {
	return c.successful, c.failed, c.unknown
}
