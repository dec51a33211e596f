// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Command feeaudit simulates and reconciles fee-on-transfer token trades.
//
// It runs buy/sell diagnostics against an in-memory constant-product
// ledger, inspects deployed contracts read-only over JSON-RPC, keeps a
// history of reports, and serves the same operations over HTTP.
//
// Exit codes: 0 when the token behaves as declared, 1 when a defect is
// diagnosed, 2 on any error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitOK     = 0
	exitDefect = 1
	exitError  = 2
)

// errDefect is returned by commands whose run completed and found a problem.
var errDefect = errors.New("defect diagnosed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and maps the result to an exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return exitCode(root.ExecuteContext(ctx), stderr)
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errDefect):
		return exitDefect
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}
