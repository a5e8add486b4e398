package engine

import (
	"testing"
	"time"

	"github.com/baxromumarov/tpc-sim/internal/protocol"
	"github.com/baxromumarov/tpc-sim/internal/transport"
)

func TestClientSendsOneRequestPerOperation(t *testing.T) {
	coordEnd, clientEnd := transport.NewPair()
	running := NewRunning()
	client := NewClient(0, clientEnd, running, NewTxIDCounter(), false)

	done := make(chan struct{})
	go func() {
		client.Protocol(1)
		close(done)
	}()

	req, err := coordEnd.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv request: %v", err)
	}
	if req.Kind != protocol.ClientRequest {
		t.Fatalf("got %s, want ClientRequest", req.Kind)
	}

	result := protocol.New(protocol.ClientResultCommit, req.TxID, "coordinator", req.OpID)
	if res := coordEnd.Send(result); res != transport.SendDelivered {
		t.Fatalf("Send result: %v", res)
	}

	running.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client did not finish its protocol")
	}

	successful, failed, unknown := client.Stats()
	if successful != 1 || failed != 0 || unknown != 0 {
		t.Fatalf("stats = C:%d A:%d U:%d, want C:1 A:0 U:0", successful, failed, unknown)
	}
}

func TestClientStopsOnCoordinatorExit(t *testing.T) {
	coordEnd, clientEnd := transport.NewPair()
	running := NewRunning()
	client := NewClient(0, clientEnd, running, NewTxIDCounter(), false)

	done := make(chan struct{})
	go func() {
		client.Protocol(5)
		close(done)
	}()

	req, err := coordEnd.Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv request: %v", err)
	}

	exit := protocol.New(protocol.CoordinatorExit, protocol.ExitTxID, "coordinator", protocol.ExitOpID)
	_ = req
	if res := coordEnd.Send(exit); res != transport.SendDelivered {
		t.Fatalf("Send exit: %v", res)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client did not stop after CoordinatorExit")
	}

	if running.Load() {
		t.Fatalf("expected client to call running.Stop()")
	}
}
