package engine

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/baxromumarov/tpc-sim/internal/oplog"
	"github.com/baxromumarov/tpc-sim/internal/protocol"
	"github.com/baxromumarov/tpc-sim/internal/transport"
)

// Participant is one simulated resource manager. It votes on proposals and
// applies the coordinator's decision, persisting every step to its own
// operation log before acting on it.
type Participant struct {
	id             int
	senderID       string
	endpoint       *transport.Endpoint
	log            *oplog.Log
	opSuccessProb  float64
	msgSuccessProb float64
	running        *Running
	verbose        bool

	state      protocol.ParticipantState
	successful int
	failed     int
	unknown    int
}

// NewParticipant constructs a participant. endpoint is the half of the
// coordinator<->participant channel pair this participant owns; logPath is
// this participant's own operation log file.
func NewParticipant(id int, endpoint *transport.Endpoint, logPath string, running *Running, opSuccessProb, msgSuccessProb float64, verbose bool) (*Participant, error) {
	l, err := oplog.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("participant_%d: %w", id, err)
	}
	return &Participant{
		id:             id,
		senderID:       fmt.Sprintf("participant_%d", id),
		endpoint:       endpoint,
		log:            l,
		opSuccessProb:  opSuccessProb,
		msgSuccessProb: msgSuccessProb,
		running:        running,
		verbose:        verbose,
		state:          protocol.ParticipantQuiescent,
	}, nil
}

// Protocol runs the participant side of 2PC until the process shuts down or
// the coordinator disconnects it.
func (p *Participant) Protocol() {
	for p.running.Load() {
		msg, err := p.endpoint.Recv(0)
		if err != nil {
			// Endpoint closed by the coordinator at teardown.
			break
		}
		if p.dispatch(msg) {
			break
		}
	}

	p.running.Wait()
	p.reportStatus()
}

// dispatch handles one inbound message and reports whether the participant
// should stop its receive loop.
func (p *Participant) dispatch(msg protocol.Message) (stop bool) {
	switch msg.Kind {
	case protocol.CoordinatorPropose:
		if p.state != protocol.ParticipantQuiescent {
			panic(fmt.Sprintf("participant_%d: CoordinatorPropose for txid %d received while in state %s", p.id, msg.TxID, p.state))
		}
		p.performOperation(msg)
		return false
	case protocol.CoordinatorExit:
		p.running.Stop()
		return true
	default:
		// Unexpected message kind at the top of the loop: ignored.
		return false
	}
}

// performOperation implements the vote-then-await-decision sequence for one
// proposal.
func (p *Participant) performOperation(propose protocol.Message) {
	if _, err := p.log.AppendMessage(propose); err != nil {
		log.Printf("[participant_%d] failed to log propose for txid %d: %v", p.id, propose.TxID, err)
	}

	p.state = protocol.ParticipantVoted
	defer func() { p.state = protocol.ParticipantQuiescent }()

	x := rand.Float64()
	var vote protocol.Message
	if x > p.opSuccessProb {
		vote = protocol.New(protocol.ParticipantVoteAbort, propose.TxID, p.senderID, propose.OpID)
	} else {
		vote = protocol.New(protocol.ParticipantVoteCommit, propose.TxID, p.senderID, propose.OpID)
	}

	if _, err := p.log.AppendMessage(vote); err != nil {
		log.Printf("[participant_%d] failed to log vote for txid %d: %v", p.id, vote.TxID, err)
	}

	// The participant does not retry a dropped vote: a lost vote is the
	// coordinator's problem, since it will time out and treat the
	// transaction as aborted.
	if p.msgSuccessProb == 1.0 {
		p.endpoint.Send(vote)
	} else {
		p.endpoint.SendUnreliable(vote, p.msgSuccessProb)
	}

	if p.verbose {
		log.Printf("[participant_%d] voted %s on txid %d", p.id, vote.Kind, propose.TxID)
	}

	decision, err := p.endpoint.Recv(0)
	if err != nil {
		// Coordinator endpoint gone mid-round; nothing more to do for this
		// transaction.
		return
	}

	if _, err := p.log.AppendMessage(decision); err != nil {
		log.Printf("[participant_%d] failed to log decision for txid %d: %v", p.id, decision.TxID, err)
	}

	switch protocol.ClassifyOutcome(decision.Kind) {
	case protocol.OutcomeCommitted:
		p.successful++
	case protocol.OutcomeAborted:
		p.failed++
	default:
		p.unknown++
	}
}

func (p *Participant) reportStatus() {
	if err := p.log.Close(); err != nil {
		log.Printf("[participant_%d] error closing log: %v", p.id, err)
	}
	fmt.Printf("participant_%d:\tC:%d\tA:%d\tU:%d\n", p.id, p.successful, p.failed, p.unknown)
}

// Stats returns the participant's aggregate outcome counters.
func (p *Participant) Stats() (successful, failed, unknown int) {
	return p.successful, p.failed, p.unknown
}
