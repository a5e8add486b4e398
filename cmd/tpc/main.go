package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/baxromumarov/tpc-sim/internal/checker"
	"github.com/baxromumarov/tpc-sim/internal/engine"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runSimulation()
	case "check":
		runCheck()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("tpc - two-phase commit simulation")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  tpc run --clients=<n> --participants=<n> --requests=<n> --logdir=<dir>")
	fmt.Println("      Run a simulation and write its operation logs to logdir")
	fmt.Println("")
	fmt.Println("  tpc check --logdir=<dir> --participants=<n>")
	fmt.Println("      Reconcile a simulation's operation logs and report any mismatch")
}

func runSimulation() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	clients := fs.Int("clients", 1, "Number of clients")
	participants := fs.Int("participants", 1, "Number of participants")
	requests := fs.Int("requests", 1, "Requests issued per client")
	logdir := fs.String("logdir", "logs", "Directory for durable operation logs")
	opSuccess := fs.Float64("op-success", 1.0, "Probability a participant votes commit")
	msgSuccess := fs.Float64("msg-success", 1.0, "Probability a message is delivered")
	verbose := fs.Bool("verbose", false, "Log protocol events as they happen")
	fs.Parse(os.Args[2:])

	cfg := engine.Config{
		NumClients:      *clients,
		NumParticipants: *participants,
		NumRequests:     *requests,
		LogDir:          *logdir,
		OpSuccessProb:   *opSuccess,
		MsgSuccessProb:  *msgSuccess,
		Verbose:         *verbose,
	}

	running := engine.NewRunning()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("tpc: interrupt received, shutting down")
		running.Stop()
	}()

	result, err := engine.Run(cfg, running)
	if err != nil {
		log.Fatalf("tpc: simulation failed: %v", err)
	}

	fmt.Printf("\nsimulation finished in %s\n", result.Duration)
}

func runCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	logdir := fs.String("logdir", "logs", "Directory containing the simulation's operation logs")
	participants := fs.Int("participants", 1, "Number of participants whose logs should be present")
	fs.Parse(os.Args[2:])

	report, err := checker.Check(*logdir, *participants)
	if err != nil {
		log.Fatalf("tpc: check failed: %v", err)
	}

	fmt.Printf("transactions reconciled: %d\n", len(report.Transactions))
	fmt.Printf("coordinator committed: %d\taborted: %d\n", report.CoordinatorCommitted, report.CoordinatorAborted)

	if report.OK() {
		fmt.Println("OK: no mismatches found")
		return
	}

	fmt.Printf("FAIL: %d mismatch(es) found\n", len(report.Mismatches))
	for _, m := range report.Mismatches {
		fmt.Println("  " + m)
	}
	os.Exit(1)
}
