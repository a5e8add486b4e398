package main

import (
	"fmt"
)

func main() {
	fmt.Println("tpc-sim - simulated two-phase commit engine")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  Run a simulation:   go run ./cmd/tpc run --clients=2 --participants=3 --requests=5")
	fmt.Println("  Check its logs:     go run ./cmd/tpc check --logdir=logs --participants=3")
}
