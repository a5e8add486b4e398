package engine

import (
	"fmt"
	"log"

	"github.com/baxromumarov/tpc-sim/internal/protocol"
	"github.com/baxromumarov/tpc-sim/internal/transport"
)

// Client issues a fixed workload of transaction requests to the coordinator,
// strictly sequentially, and records the outcomes.
type Client struct {
	id       int
	senderID string
	endpoint *transport.Endpoint
	running  *Running
	txids    *TxIDCounter
	verbose  bool

	opid       int32
	successful int
	failed     int
	unknown    int
}

// NewClient constructs a client. endpoint is the half of the
// coordinator<->client channel pair this client owns; txids is the shared
// process-wide txid generator injected at construction.
func NewClient(id int, endpoint *transport.Endpoint, running *Running, txids *TxIDCounter, verbose bool) *Client {
	return &Client{
		id:       id,
		senderID: fmt.Sprintf("Client_%d", id),
		endpoint: endpoint,
		running:  running,
		txids:    txids,
		verbose:  verbose,
	}
}

// Protocol issues up to n sequential requests, stopping early if the
// simulation shuts down, then waits for shutdown and reports its stats.
func (c *Client) Protocol(n int) {
	for i := 0; i < n; i++ {
		if !c.running.Load() {
			break
		}
		c.sendNextOperation()
		c.recvResult()
	}

	c.endpoint.Close()

	c.running.Wait()
	c.reportStatus()
}

func (c *Client) sendNextOperation() {
	requestNo := c.opid
	c.opid++
	txid := c.txids.Next()

	msg := protocol.New(protocol.ClientRequest, txid, c.senderID, requestNo)

	if c.verbose {
		log.Printf("[%s] request(%d) -> txid %d", c.senderID, requestNo, txid)
	}

	// The coordinator is assumed reliable and always ready to accept a
	// request it is polling for; a disconnected coordinator here is a
	// failed simulation invariant, not a recoverable condition.
	if res := c.endpoint.Send(msg); res == transport.SendDisconnected {
		panic(fmt.Sprintf("%s: send returned disconnected for request %d", c.senderID, requestNo))
	}
}

func (c *Client) recvResult() {
	msg, err := c.endpoint.Recv(0)
	if err != nil {
		// Coordinator endpoint closed at teardown; nothing to classify.
		return
	}

	if msg.Kind == protocol.CoordinatorExit {
		c.running.Stop()
		return
	}

	switch protocol.ClassifyOutcome(msg.Kind) {
	case protocol.OutcomeCommitted:
		c.successful++
	case protocol.OutcomeAborted:
		c.failed++
	default:
		c.unknown++
	}
}

func (c *Client) reportStatus() {
	fmt.Printf("%s:\tC:%d\tA:%d\tU:%d\n", c.senderID, c.successful, c.failed, c.unknown)
}

// Stats returns the client's aggregate outcome counters.
func (c *Client) Stats() (successful, failed, unknown int) {
	return c.successful, c.failed, c.unknown
}
