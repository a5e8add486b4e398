// Package transport provides the in-process duplex message channels that
// connect the coordinator to each participant and client, plus the
// unreliable-send wrapper used to inject message drops.
//
// NewPair returns two Endpoints, each owning the send-half the other
// receives on. There is no shared, post-construction-mutable map of
// endpoints — once handed to an actor, an Endpoint belongs to it alone.
package transport

import (
	"errors"
	"math/rand"
	"time"

	"github.com/baxromumarov/tpc-sim/internal/protocol"
)

// ErrDisconnected is returned by Recv when the peer endpoint has been
// closed and no further messages will arrive.
var ErrDisconnected = errors.New("transport: peer disconnected")

// ErrTimeout is returned by Recv when no message arrived before the
// deadline elapsed.
var ErrTimeout = errors.New("transport: recv timeout")

const chanBuffer = 16

// Endpoint is one half of a duplex channel pair carrying protocol messages.
type Endpoint struct {
	out    chan protocol.Message
	in     <-chan protocol.Message
	closed bool
}

// NewPair creates two Endpoints, each able to send to and receive from the
// other.
func NewPair() (a, b *Endpoint) {
	ab := make(chan protocol.Message, chanBuffer)
	ba := make(chan protocol.Message, chanBuffer)
	a = &Endpoint{out: ab, in: ba}
	b = &Endpoint{out: ba, in: ab}
	return a, b
}

// SendResult classifies the outcome of a send attempt.
type SendResult int

const (
	// SendDelivered means the message was placed on the peer's inbound queue.
	SendDelivered SendResult = iota
	// SendDropped means the unreliable wrapper chose, by its configured
	// probability, not to deliver the message. This is expected, injected
	// behavior — not an error.
	SendDropped
	// SendDisconnected means the send was attempted on an endpoint whose own
	// send-half has already been closed. A peer that has closed its end or
	// stopped receiving is not reported this way.
	SendDisconnected
)

// Send reliably delivers a clone of msg to the peer's inbound queue, in
// order, or reports SendDisconnected if this endpoint has been closed. It
// does not detect a peer that has closed its end or stopped receiving: the
// message is queued, and once the channel's buffer is full Send blocks until
// the peer receives.
func (e *Endpoint) Send(msg protocol.Message) SendResult {
	if e.closed {
		return SendDisconnected
	}
	return e.trySend(msg)
}

// SendUnreliable delivers msg with probability p (in [0,1]); otherwise it
// silently drops the message and reports SendDropped rather than an error.
// p >= 1.0 always attempts delivery; p <= 0.0 always drops without
// attempting.
func (e *Endpoint) SendUnreliable(msg protocol.Message, p float64) SendResult {
	if e.closed {
		return SendDisconnected
	}
	if rand.Float64() < p {
		return e.trySend(msg)
	}
	return SendDropped
}

// trySend attempts the actual channel send, translating a send-on-closed
// panic (our own Close, or a disconnected peer with a shared channel) into
// SendDisconnected instead of crashing the caller.
func (e *Endpoint) trySend(msg protocol.Message) (result SendResult) {
	defer func() {
		if r := recover(); r != nil {
			e.closed = true
			result = SendDisconnected
		}
	}()
	e.out <- msg.Clone()
	return SendDelivered
}

// Recv returns the next message in arrival order, or ErrTimeout if none
// arrives within deadline, or ErrDisconnected if the peer's send-half has
// been closed and drained. deadline <= 0 means block indefinitely.
func (e *Endpoint) Recv(deadline time.Duration) (protocol.Message, error) {
	if deadline <= 0 {
		msg, ok := <-e.in
		if !ok {
			return protocol.Message{}, ErrDisconnected
		}
		return msg, nil
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case msg, ok := <-e.in:
		if !ok {
			return protocol.Message{}, ErrDisconnected
		}
		return msg, nil
	case <-timer.C:
		return protocol.Message{}, ErrTimeout
	}
}

// Close closes this endpoint's send-half, signaling disconnect to the peer.
// An endpoint only closes the half it owns. Close is idempotent.
func (e *Endpoint) Close() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.out)
}
