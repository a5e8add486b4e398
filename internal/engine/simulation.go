// Package engine implements the 2PC coordinator, participant, and client
// actors and wires them together into a runnable simulation.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config describes one simulation run. It is the in-process counterpart of
// the flags cmd/tpc's "run" subcommand exposes.
type Config struct {
	NumClients      int
	NumParticipants int
	NumRequests     int
	LogDir          string
	OpSuccessProb   float64
	MsgSuccessProb  float64
	Verbose         bool
}

// Validate checks that the configuration describes a runnable simulation.
func (cfg Config) Validate() error {
	if cfg.NumClients < 1 {
		return fmt.Errorf("engine: num_clients must be >= 1, got %d", cfg.NumClients)
	}
	if cfg.NumParticipants < 1 {
		return fmt.Errorf("engine: num_participants must be >= 1, got %d", cfg.NumParticipants)
	}
	if cfg.NumRequests < 1 {
		return fmt.Errorf("engine: num_requests must be >= 1, got %d", cfg.NumRequests)
	}
	if cfg.LogDir == "" {
		return fmt.Errorf("engine: logdir must be set")
	}
	if cfg.OpSuccessProb < 0 || cfg.OpSuccessProb > 1 {
		return fmt.Errorf("engine: op_success_prob must be in [0,1], got %v", cfg.OpSuccessProb)
	}
	if cfg.MsgSuccessProb < 0 || cfg.MsgSuccessProb > 1 {
		return fmt.Errorf("engine: msg_success_prob must be in [0,1], got %v", cfg.MsgSuccessProb)
	}
	return nil
}

// TotalRequests is num_clients * num_requests, the count the coordinator
// uses to know when the simulation is done.
func (cfg Config) TotalRequests() int {
	return cfg.NumClients * cfg.NumRequests
}

// Result bundles every actor from a completed run, so a caller (the CLI, or
// a test) can inspect per-actor aggregate stats after Run returns.
type Result struct {
	Duration     time.Duration
	Coordinator  *Coordinator
	Participants []*Participant
	Clients      []*Client
}

// Run wires up a coordinator, cfg.NumParticipants participants, and
// cfg.NumClients clients over in-process transport, launches one goroutine
// per actor, and blocks until every actor has finished: either the
// configured total of requests has been handled, or running was stopped
// (e.g. by an interrupt). running is owned by the caller so it can be
// wired to a signal handler.
func Run(cfg Config, running *Running) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: creating log dir: %w", err)
	}

	coord, err := NewCoordinator(
		filepath.Join(cfg.LogDir, "coordinator.log"),
		running,
		cfg.MsgSuccessProb,
		cfg.TotalRequests(),
		cfg.Verbose,
	)
	if err != nil {
		return nil, err
	}

	participants := make([]*Participant, cfg.NumParticipants)
	for i := 0; i < cfg.NumParticipants; i++ {
		endpoint := coord.RegisterParticipant(fmt.Sprintf("%d", i))
		logPath := filepath.Join(cfg.LogDir, fmt.Sprintf("participant_%d.log", i))
		p, err := NewParticipant(i, endpoint, logPath, running, cfg.OpSuccessProb, cfg.MsgSuccessProb, cfg.Verbose)
		if err != nil {
			return nil, err
		}
		participants[i] = p
	}

	clients := make([]*Client, cfg.NumClients)
	txids := NewTxIDCounter()
	for i := 0; i < cfg.NumClients; i++ {
		endpoint := coord.RegisterClient(fmt.Sprintf("%d", i))
		clients[i] = NewClient(i, endpoint, running, txids, cfg.Verbose)
	}

	start := time.Now()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Protocol()
	}()

	for _, p := range participants {
		wg.Add(1)
		go func(p *Participant) {
			defer wg.Done()
			p.Protocol()
		}(p)
	}

	for _, cl := range clients {
		wg.Add(1)
		go func(cl *Client) {
			defer wg.Done()
			cl.Protocol(cfg.NumRequests)
		}(cl)
	}

	wg.Wait()

	return &Result{
		Duration:     time.Since(start),
		Coordinator:  coord,
		Participants: participants,
		Clients:      clients,
	}, nil
}
