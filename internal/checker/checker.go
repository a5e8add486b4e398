// Package checker reconciles a simulation run's durable logs:
// reconstructing, from the log files alone, the per-transaction outcome
// every actor observed, and flagging any discrepancy between them.
//
// The CLI dispatch that invokes this (the "check" subcommand) lives in
// cmd/tpc; the reconciliation logic itself lives here because the log
// format is the engine's real contract with the outside world.
package checker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/baxromumarov/tpc-sim/internal/oplog"
	"github.com/baxromumarov/tpc-sim/internal/protocol"
)

// TxOutcome is everything the logs reveal about one transaction.
type TxOutcome struct {
	TxID int32

	CoordinatorDecision   protocol.Kind // 0 value means "not observed"; see HasCoordinatorDecision
	HasCoordinatorDecision bool
	ClientResult          protocol.Kind
	HasClientResult        bool

	// ParticipantVotes and ParticipantDecisions are keyed by the
	// participant's senderid (e.g. "participant_0").
	ParticipantVotes     map[string]protocol.Kind
	ParticipantDecisions map[string]protocol.Kind
}

func newTxOutcome(txid int32) *TxOutcome {
	return &TxOutcome{
		TxID:                 txid,
		ParticipantVotes:     make(map[string]protocol.Kind),
		ParticipantDecisions: make(map[string]protocol.Kind),
	}
}

// Report is the result of checking one simulation run's logs.
type Report struct {
	Transactions map[int32]*TxOutcome

	CoordinatorCommitted int
	CoordinatorAborted   int

	// Mismatches lists every invariant violation found, in no particular
	// order. An empty slice means the logs reconciled cleanly.
	Mismatches []string
}

// OK reports whether the logs reconciled cleanly.
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Check reads the coordinator's and every participant's log file out of
// logDir and cross-checks them: every transaction must have exactly one
// coordinator decision and one matching client result, and every
// participant's own observed decision, if logged, must agree with the
// coordinator's. numParticipants is needed to know which
// participant_<i>.log files to expect.
func Check(logDir string, numParticipants int) (*Report, error) {
	report := &Report{Transactions: make(map[int32]*TxOutcome)}

	coordPath := filepath.Join(logDir, "coordinator.log")
	coordRecords, err := oplog.ReadAll(coordPath)
	if err != nil {
		return nil, fmt.Errorf("checker: reading %s: %w", coordPath, err)
	}
	report.checkCoordinator(coordRecords)

	for i := 0; i < numParticipants; i++ {
		partPath := filepath.Join(logDir, fmt.Sprintf("participant_%d.log", i))
		if _, err := os.Stat(partPath); err != nil {
			report.Mismatches = append(report.Mismatches, fmt.Sprintf("missing log file for participant_%d: %v", i, err))
			continue
		}
		records, err := oplog.ReadAll(partPath)
		if err != nil {
			return nil, fmt.Errorf("checker: reading %s: %w", partPath, err)
		}
		report.checkParticipant(fmt.Sprintf("participant_%d", i), records)
	}

	return report, nil
}

func (r *Report) txn(txid int32) *TxOutcome {
	tx, ok := r.Transactions[txid]
	if !ok {
		tx = newTxOutcome(txid)
		r.Transactions[txid] = tx
	}
	return tx
}

// checkCoordinator replays the coordinator's log and verifies invariant 1:
// for every txid, the log contains, in order, ClientRequest,
// CoordinatorPropose, exactly one of {Commit, Abort}, and exactly one of
// {ClientResultCommit, ClientResultAbort} matching the decision.
func (r *Report) checkCoordinator(records []oplog.Record) {
	byTxID := groupByTxID(records)

	for txid, recs := range byTxID {
		if txid == protocol.ExitTxID {
			continue
		}
		tx := r.txn(txid)

		var sawRequest, sawPropose bool
		var decisionCount, resultCount int

		for _, rec := range recs {
			switch rec.Kind {
			case protocol.ClientRequest:
				sawRequest = true
			case protocol.CoordinatorPropose:
				if !sawRequest {
					r.flag(txid, "coordinator log: CoordinatorPropose seen before ClientRequest")
				}
				sawPropose = true
			case protocol.CoordinatorCommit, protocol.CoordinatorAbort:
				decisionCount++
				if tx.HasCoordinatorDecision && tx.CoordinatorDecision != rec.Kind {
					r.flag(txid, "coordinator log: conflicting decisions logged for the same transaction")
				}
				tx.CoordinatorDecision = rec.Kind
				tx.HasCoordinatorDecision = true
			case protocol.ClientResultCommit, protocol.ClientResultAbort:
				resultCount++
				tx.ClientResult = rec.Kind
				tx.HasClientResult = true
			}
		}

		if !sawRequest || !sawPropose {
			r.flag(txid, "coordinator log: missing ClientRequest or CoordinatorPropose")
		}
		if decisionCount != 1 {
			r.flag(txid, fmt.Sprintf("coordinator log: expected exactly one decision, found %d", decisionCount))
		}
		if resultCount != 1 {
			r.flag(txid, fmt.Sprintf("coordinator log: expected exactly one client result, found %d", resultCount))
		}
		if tx.HasCoordinatorDecision && tx.HasClientResult {
			wantResult := protocol.ClientResultAbort
			if tx.CoordinatorDecision == protocol.CoordinatorCommit {
				wantResult = protocol.ClientResultCommit
			}
			if tx.ClientResult != wantResult {
				r.flag(txid, "coordinator log: client result does not match coordinator decision")
			}
		}

		switch tx.CoordinatorDecision {
		case protocol.CoordinatorCommit:
			r.CoordinatorCommitted++
		case protocol.CoordinatorAbort:
			r.CoordinatorAborted++
		}
	}
}

// checkParticipant replays one participant's log and verifies invariant 2:
// for every txid the participant observed, its log contains
// CoordinatorPropose, exactly one of {VoteCommit, VoteAbort}, and at most
// one of {Commit, Abort}; the decision matches the coordinator's decision
// whenever both are known.
func (r *Report) checkParticipant(senderID string, records []oplog.Record) {
	byTxID := groupByTxID(records)

	for txid, recs := range byTxID {
		tx := r.txn(txid)

		var sawPropose bool
		var voteCount, decisionCount int

		for _, rec := range recs {
			switch rec.Kind {
			case protocol.CoordinatorPropose:
				sawPropose = true
			case protocol.ParticipantVoteCommit, protocol.ParticipantVoteAbort:
				voteCount++
				tx.ParticipantVotes[senderID] = rec.Kind
			case protocol.CoordinatorCommit, protocol.CoordinatorAbort:
				decisionCount++
				tx.ParticipantDecisions[senderID] = rec.Kind
			}
		}

		if !sawPropose {
			r.flag(txid, fmt.Sprintf("%s log: vote or decision recorded without a CoordinatorPropose", senderID))
		}
		if voteCount != 1 {
			r.flag(txid, fmt.Sprintf("%s log: expected exactly one vote, found %d", senderID, voteCount))
		}
		if decisionCount > 1 {
			r.flag(txid, fmt.Sprintf("%s log: expected at most one decision, found %d", senderID, decisionCount))
		}

		if decision, ok := tx.ParticipantDecisions[senderID]; ok && tx.HasCoordinatorDecision {
			if decision != tx.CoordinatorDecision {
				r.flag(txid, fmt.Sprintf("%s log: decision %s does not match coordinator decision %s", senderID, decision, tx.CoordinatorDecision))
			}
		}
	}
}

func (r *Report) flag(txid int32, msg string) {
	r.Mismatches = append(r.Mismatches, fmt.Sprintf("txid %d: %s", txid, msg))
}

func groupByTxID(records []oplog.Record) map[int32][]oplog.Record {
	grouped := make(map[int32][]oplog.Record)
	for _, rec := range records {
		grouped[rec.TxID] = append(grouped[rec.TxID], rec)
	}
	return grouped
}

// SortedTxIDs returns every txid in r.Transactions in ascending order, for
// deterministic reporting.
func (r *Report) SortedTxIDs() []int32 {
	ids := make([]int32, 0, len(r.Transactions))
	for id := range r.Transactions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
