// Package oplog implements the append-only, durable per-actor operation log
// that backs the 2PC engine's write-ahead auditability guarantees. Each
// actor (the coordinator, and every participant) owns exactly one Log and is
// its only writer, so the log needs no internal locking beyond serializing
// concurrent Append calls from the same goroutine-safe caller.
//
// The on-disk record layout is grounded on the write-ahead-log exercise in
// the examples corpus (LSN + type + length-prefixed payload + CRC32
// checksum), adapted from an opaque transactional payload to the fixed
// (kind, txid, senderid, opid) tuple this protocol actually needs.
package oplog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/baxromumarov/tpc-sim/internal/protocol"
)

// ErrCorrupt is returned by ReadAll when a record fails its checksum.
var ErrCorrupt = errors.New("oplog: corrupt record")

// Record is one durable entry in an actor's operation log.
type Record struct {
	Seq      uint64
	MsgID    uuid.UUID
	Kind     protocol.Kind
	TxID     int32
	SenderID string
	OpID     int32
}

// Log is a single-writer, append-only durable sequence of Records backed by
// a file opened in append mode.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	next uint64
}

// Open creates (if needed) and opens the log file at path for appending.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	return &Log{path: path, file: f, next: 1}, nil
}

// Path returns the file path backing the log.
func (l *Log) Path() string {
	return l.path
}

// Append durably records one protocol event and returns its sequence
// number. The record is fsync'd before Append returns, so any action the
// caller takes after Append is known to be preceded by a durable record of
// it (the engine's contract to the offline checker).
func (l *Log) Append(kind protocol.Kind, txid int32, senderID string, opid int32) (uint64, error) {
	return l.appendWithMsgID(uuid.New(), kind, txid, senderID, opid)
}

// AppendMessage logs a Message using its own MsgID, preserving identity
// across the wire: the sender's and the receiver's records of the same
// Message carry the same MsgID.
func (l *Log) AppendMessage(m protocol.Message) (uint64, error) {
	return l.appendWithMsgID(m.MsgID, m.Kind, m.TxID, m.SenderID, m.OpID)
}

func (l *Log) appendWithMsgID(msgID uuid.UUID, kind protocol.Kind, txid int32, senderID string, opid int32) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.next
	rec := encodeRecord(seq, msgID, kind, txid, senderID, opid)

	if _, err := l.file.Write(rec); err != nil {
		return 0, fmt.Errorf("oplog: write record %d: %w", seq, err)
	}
	if err := l.file.Sync(); err != nil {
		return 0, fmt.Errorf("oplog: sync record %d: %w", seq, err)
	}

	l.next++
	return seq, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// encodeRecord serializes one record:
//
//	 8 bytes  seq          uint64 BE
//	16 bytes  msgid        UUID
//	 1 byte   kind
//	 4 bytes  txid         int32 BE
//	 2 bytes  senderid_len uint16 BE
//	 N bytes  senderid
//	 4 bytes  opid         int32 BE
//	 4 bytes  crc32        IEEE over all preceding bytes of this record
func encodeRecord(seq uint64, msgID uuid.UUID, kind protocol.Kind, txid int32, senderID string, opid int32) []byte {
	senderBytes := []byte(senderID)
	size := 8 + 16 + 1 + 4 + 2 + len(senderBytes) + 4 + 4
	buf := make([]byte, size)

	off := 0
	binary.BigEndian.PutUint64(buf[off:], seq)
	off += 8
	copy(buf[off:], msgID[:])
	off += 16
	buf[off] = byte(kind)
	off++
	binary.BigEndian.PutUint32(buf[off:], uint32(txid))
	off += 4
	binary.BigEndian.PutUint16(buf[off:], uint16(len(senderBytes)))
	off += 2
	copy(buf[off:], senderBytes)
	off += len(senderBytes)
	binary.BigEndian.PutUint32(buf[off:], uint32(opid))
	off += 4

	checksum := crc32.ChecksumIEEE(buf[:off])
	binary.BigEndian.PutUint32(buf[off:], checksum)

	return buf
}

// ReadAll reads every record from the log file at path in sequence order,
// for use by the offline checker. It does not require an open Log — the
// checker runs against log files written by a prior, now-exited process.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("oplog: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record

	for {
		rec, err := decodeRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}

	return records, nil
}

func decodeRecord(r *bufio.Reader) (Record, error) {
	header := make([]byte, 8+16+1+4+2)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, fmt.Errorf("oplog: truncated record header: %w", err)
		}
		return Record{}, err
	}

	seq := binary.BigEndian.Uint64(header[0:8])
	var msgID uuid.UUID
	copy(msgID[:], header[8:24])
	kind := protocol.Kind(header[24])
	txid := int32(binary.BigEndian.Uint32(header[25:29]))
	senderLen := binary.BigEndian.Uint16(header[29:31])

	rest := make([]byte, int(senderLen)+4+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Record{}, fmt.Errorf("oplog: truncated record body (seq %d): %w", seq, err)
	}

	senderID := string(rest[:senderLen])
	opid := int32(binary.BigEndian.Uint32(rest[senderLen : senderLen+4]))
	storedChecksum := binary.BigEndian.Uint32(rest[senderLen+4:])

	full := append(append([]byte{}, header...), rest[:senderLen+4]...)
	if crc32.ChecksumIEEE(full) != storedChecksum {
		return Record{}, fmt.Errorf("%w: seq %d", ErrCorrupt, seq)
	}

	return Record{
		Seq:      seq,
		MsgID:    msgID,
		Kind:     kind,
		TxID:     txid,
		SenderID: senderID,
		OpID:     opid,
	}, nil
}
