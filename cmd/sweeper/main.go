package main

// ============================================================================
// sweeper entry point
// ============================================================================
//
// All logic lives in internal/cli; main only runs the root command and maps
// errors to the exit status.
//
// Build:
//   go build -o bin/sweeper ./cmd/sweeper
//
// Run one shard of four:
//   SHARD_INDEX=1 TOTAL_SHARDS=4 ./bin/sweeper run --headless
//
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/balance-sweep/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
