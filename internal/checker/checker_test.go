package checker

import (
	"path/filepath"
	"testing"

	"github.com/baxromumarov/tpc-sim/internal/oplog"
	"github.com/baxromumarov/tpc-sim/internal/protocol"
)

func writeLog(t *testing.T, path string, entries []protocol.Message) {
	t.Helper()
	l, err := oplog.Open(path)
	if err != nil {
		t.Fatalf("oplog.Open(%s): %v", path, err)
	}
	for _, m := range entries {
		if _, err := l.AppendMessage(m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCheckCleanRunHasNoMismatches(t *testing.T) {
	dir := t.TempDir()

	writeLog(t, filepath.Join(dir, "coordinator.log"), []protocol.Message{
		protocol.New(protocol.ClientRequest, 0, "Client_0", 0),
		protocol.New(protocol.CoordinatorPropose, 0, "coordinator", 0),
		protocol.New(protocol.CoordinatorCommit, 0, "coordinator", 0),
		protocol.New(protocol.ClientResultCommit, 0, "coordinator", 0),
	})
	writeLog(t, filepath.Join(dir, "participant_0.log"), []protocol.Message{
		protocol.New(protocol.CoordinatorPropose, 0, "coordinator", 0),
		protocol.New(protocol.ParticipantVoteCommit, 0, "participant_0", 0),
		protocol.New(protocol.CoordinatorCommit, 0, "coordinator", 0),
	})

	report, err := Check(dir, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !report.OK() {
		t.Fatalf("expected a clean report, got mismatches: %v", report.Mismatches)
	}
	if report.CoordinatorCommitted != 1 || report.CoordinatorAborted != 0 {
		t.Fatalf("CoordinatorCommitted=%d CoordinatorAborted=%d, want 1/0", report.CoordinatorCommitted, report.CoordinatorAborted)
	}
}

func TestCheckFlagsDecisionMismatch(t *testing.T) {
	dir := t.TempDir()

	writeLog(t, filepath.Join(dir, "coordinator.log"), []protocol.Message{
		protocol.New(protocol.ClientRequest, 0, "Client_0", 0),
		protocol.New(protocol.CoordinatorPropose, 0, "coordinator", 0),
		protocol.New(protocol.CoordinatorCommit, 0, "coordinator", 0),
		protocol.New(protocol.ClientResultCommit, 0, "coordinator", 0),
	})
	// Participant's own log disagrees with the coordinator's decision: this
	// cannot happen in a correct run and must be flagged.
	writeLog(t, filepath.Join(dir, "participant_0.log"), []protocol.Message{
		protocol.New(protocol.CoordinatorPropose, 0, "coordinator", 0),
		protocol.New(protocol.ParticipantVoteCommit, 0, "participant_0", 0),
		protocol.New(protocol.CoordinatorAbort, 0, "coordinator", 0),
	})

	report, err := Check(dir, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.OK() {
		t.Fatalf("expected a decision mismatch to be flagged")
	}
}

func TestCheckFlagsMissingParticipantLog(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, "coordinator.log"), []protocol.Message{
		protocol.New(protocol.ClientRequest, 0, "Client_0", 0),
		protocol.New(protocol.CoordinatorPropose, 0, "coordinator", 0),
		protocol.New(protocol.CoordinatorCommit, 0, "coordinator", 0),
		protocol.New(protocol.ClientResultCommit, 0, "coordinator", 0),
	})

	report, err := Check(dir, 1)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.OK() {
		t.Fatalf("expected a missing participant log to be flagged")
	}
}
