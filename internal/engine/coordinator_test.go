package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/baxromumarov/tpc-sim/internal/protocol"
	"github.com/baxromumarov/tpc-sim/internal/transport"
)

func newTestCoordinator(t *testing.T, totalRequests int) *Coordinator {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "coordinator.log")
	c, err := NewCoordinator(logPath, NewRunning(), 1.0, totalRequests, false)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	return c
}

func TestRegisterAfterActiveStatePanics(t *testing.T) {
	c := newTestCoordinator(t, 1)
	c.state = protocol.CoordinatorActive

	defer func() {
		if recover() == nil {
			t.Fatalf("expected RegisterParticipant to panic once the coordinator has left Quiescent")
		}
	}()
	c.RegisterParticipant("0")
}

func TestCoordinatorRunsOneFullRound(t *testing.T) {
	c := newTestCoordinator(t, 1)
	partEnd := c.RegisterParticipant("0")
	clientEnd := c.RegisterClient("0")

	done := make(chan struct{})
	go func() {
		c.Protocol()
		close(done)
	}()

	req := protocol.New(protocol.ClientRequest, 0, "Client_0", 0)
	if res := clientEnd.Send(req); res != transport.SendDelivered {
		t.Fatalf("Send request: %v", res)
	}

	propose, err := partEnd.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv propose: %v", err)
	}
	if propose.Kind != protocol.CoordinatorPropose {
		t.Fatalf("got %s, want CoordinatorPropose", propose.Kind)
	}

	vote := protocol.New(protocol.ParticipantVoteCommit, 0, "participant_0", 0)
	partEnd.Send(vote)

	decision, err := partEnd.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv decision: %v", err)
	}
	if decision.Kind != protocol.CoordinatorCommit {
		t.Fatalf("got %s, want CoordinatorCommit", decision.Kind)
	}

	result, err := clientEnd.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv result: %v", err)
	}
	if result.Kind != protocol.ClientResultCommit {
		t.Fatalf("got %s, want ClientResultCommit", result.Kind)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not finish after handling its one request")
	}

	successful, failed, _ := c.Stats()
	if successful != 1 || failed != 0 {
		t.Fatalf("stats = C:%d A:%d, want C:1 A:0", successful, failed)
	}
}

func TestCoordinatorAbortsOnMissingVote(t *testing.T) {
	c := newTestCoordinator(t, 1)
	_ = c.RegisterParticipant("0")
	clientEnd := c.RegisterClient("0")

	done := make(chan struct{})
	go func() {
		c.Protocol()
		close(done)
	}()

	req := protocol.New(protocol.ClientRequest, 0, "Client_0", 0)
	clientEnd.Send(req)

	// The participant never votes; collectVotes should time out and abort.
	result, err := clientEnd.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("Recv result: %v", err)
	}
	if result.Kind != protocol.ClientResultAbort {
		t.Fatalf("got %s, want ClientResultAbort", result.Kind)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not finish")
	}
}
