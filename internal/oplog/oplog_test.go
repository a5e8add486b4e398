package oplog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/baxromumarov/tpc-sim/internal/protocol"
)

func TestAppendAndReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actor.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	seq1, err := l.Append(protocol.ClientRequest, 1, "Client_0", 0)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq1 != 1 {
		t.Fatalf("first sequence number = %d, want 1", seq1)
	}

	msg := protocol.New(protocol.CoordinatorPropose, 1, "coordinator", 0)
	seq2, err := l.AppendMessage(msg)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("second sequence number = %d, want 2", seq2)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	if records[0].Kind != protocol.ClientRequest || records[0].SenderID != "Client_0" {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[1].MsgID != msg.MsgID {
		t.Errorf("second record MsgID = %s, want %s (AppendMessage should preserve identity)", records[1].MsgID, msg.MsgID)
	}
}

func TestAppendIsFsyncedBeforeReturn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actor.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if _, err := l.Append(protocol.ClientRequest, 0, "Client_0", 0); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll before Close: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the record to be durable before Close, got %d records", len(records))
	}
}

func TestReadAllDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actor.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Append(protocol.ClientRequest, 0, "Client_0", 0); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip a byte in the middle of the record (the last byte of the msgid
	// field) so the checksum no longer matches.
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = ReadAll(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("ReadAll on corrupted file returned %v, want ErrCorrupt", err)
	}
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "actor.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	var last uint64
	for i := 0; i < 10; i++ {
		seq, err := l.Append(protocol.ClientRequest, int32(i), "Client_0", int32(i))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if seq != last+1 {
			t.Fatalf("sequence %d out of order, previous was %d", seq, last)
		}
		last = seq
	}
}
