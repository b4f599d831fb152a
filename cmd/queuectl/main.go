// Command queuectl signs queue calls with a local keystore and sends them to
// a queued server.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	serverEnv     = "QUEUECTL_SERVER"
	tokenEnv      = "QUEUECTL_TOKEN"
	passphraseEnv = "QUEUECTL_PASSPHRASE"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	return cmd(args[1:], stdout, stderr)
}

var commands map[string]func([]string, io.Writer, io.Writer) int

func init() {
	commands = map[string]func([]string, io.Writer, io.Writer) int{
		"keygen":   runKeygen,
		"address":  runAddress,
		"update":   runUpdate,
		"approve":  runApprove,
		"solve":    runSolve,
		"toggle":   runToggle,
		"pause":    runPause,
		"request":  runRequest,
		"requests": runRequests,
		"metadata": runMetadata,
		"balance":  runBalance,
		"info":     runInfo,
	}
}

func usage() string {
	return strings.TrimSpace(`Usage:
  queuectl <command> [flags]

Commands:
  keygen    Create an encrypted keystore
  address   Print the identity of a keystore
  update    Submit or replace a request (signed)
  approve   Set a ledger allowance (signed)
  solve     Settle a batch at a clearing price (signed)
  toggle    Flip approved solve callers (signed, owner only)
  pause     Pause or resume the queue (signed, owner only)
  request   Show one request
  requests  List request owners for an asset pair
  metadata  Preview a batch at a clearing price
  balance   Show a ledger balance
  info      Show queue owner, pause flag and state root

Environment:
  QUEUECTL_SERVER      server URL (default http://127.0.0.1:7080)
  QUEUECTL_TOKEN       bearer token for authenticated servers
  QUEUECTL_PASSPHRASE  keystore passphrase (prompted when unset)`)
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
