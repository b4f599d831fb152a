package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/core/types"
	"atomicqueue/crypto"
	"atomicqueue/native/solver"
)

var (
	nowFn   = time.Now
	nonceFn = func() uint64 { return uint64(time.Now().UnixNano()) }
)

type signedFlags struct {
	server   *string
	keystore *string
	nonce    *uint64
}

func addSignedFlags(fs *flag.FlagSet) signedFlags {
	return signedFlags{
		server:   fs.String("server", "", "queued URL"),
		keystore: fs.String("keystore", "", "keystore file of the signer"),
		nonce:    fs.Uint64("nonce", 0, "envelope nonce (default: current unix nanoseconds)"),
	}
}

// send signs payload for action and posts it to path.
func (f signedFlags) send(path string, action types.Action, payload any, stdout, stderr io.Writer) int {
	key, err := loadKey(*f.keystore)
	if err != nil {
		return printError(stderr, err.Error())
	}
	nonce := *f.nonce
	if nonce == 0 {
		nonce = nonceFn()
	}
	env, err := types.NewEnvelope(action, nonce, payload)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := env.Sign(key.PrivateKey); err != nil {
		return printError(stderr, err.Error())
	}
	resp, err := newAPIClient(*f.server).post(path, env)
	if err != nil {
		return printError(stderr, err.Error())
	}
	printJSON(stdout, resp)
	return 0
}

func runUpdate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("update", stderr)
	signed := addSignedFlags(fs)
	offer := fs.String("offer", "", "offer asset")
	want := fs.String("want", "", "want asset")
	deadline := fs.String("deadline", "", "deadline as +duration, RFC3339 or unix seconds")
	limit := fs.String("limit", "", "limit price in want units per whole offer unit (atomic, 1e6 shorthand allowed)")
	amount := fs.String("amount", "", "offer amount in atomic units (0 cancels)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	call := types.UpdateRequestCall{}
	var err error
	if call.Offer, err = parseIdentityFlag("offer", *offer); err != nil {
		return printError(stderr, err.Error())
	}
	if call.Want, err = parseIdentityFlag("want", *want); err != nil {
		return printError(stderr, err.Error())
	}
	if call.Deadline, err = parseDeadline(*deadline, nowFn()); err != nil {
		return printError(stderr, err.Error())
	}
	if call.LimitPrice, err = normalizeAmount("limit", *limit); err != nil {
		return printError(stderr, err.Error())
	}
	if call.OfferAmount, err = normalizeAmount("amount", *amount); err != nil {
		return printError(stderr, err.Error())
	}
	return signed.send("/v1/requests", types.ActionUpdateRequest, call, stdout, stderr)
}

func runApprove(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("approve", stderr)
	signed := addSignedFlags(fs)
	asset := fs.String("asset", "", "asset address")
	spender := fs.String("spender", "", "spender identity")
	amount := fs.String("amount", "", "allowance in atomic units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	call := types.ApproveCall{}
	var err error
	if call.Asset, err = parseIdentityFlag("asset", *asset); err != nil {
		return printError(stderr, err.Error())
	}
	if call.Spender, err = parseIdentityFlag("spender", *spender); err != nil {
		return printError(stderr, err.Error())
	}
	if call.Amount, err = normalizeAmount("amount", *amount); err != nil {
		return printError(stderr, err.Error())
	}
	return signed.send("/v1/ledger/approve", types.ActionApprove, call, stdout, stderr)
}

func runSolve(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("solve", stderr)
	signed := addSignedFlags(fs)
	offer := fs.String("offer", "", "offer asset")
	want := fs.String("want", "", "want asset")
	users := fs.String("users", "", "comma separated request owners")
	solverID := fs.String("solver", "", "solver identity")
	price := fs.String("price", "", "clearing price")
	runData := fs.String("run-data", "", "raw solver run data as 0x hex")
	initiator := fs.String("initiator", "", "peer-to-peer initiator (builds run data)")
	maxAssets := fs.String("max", "", "peer-to-peer maximum want assets (builds run data)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	call := types.SolveCall{}
	var err error
	if call.Offer, err = parseIdentityFlag("offer", *offer); err != nil {
		return printError(stderr, err.Error())
	}
	if call.Want, err = parseIdentityFlag("want", *want); err != nil {
		return printError(stderr, err.Error())
	}
	if call.Users, err = parseIdentityList("users", *users); err != nil {
		return printError(stderr, err.Error())
	}
	if call.Solver, err = parseIdentityFlag("solver", *solverID); err != nil {
		return printError(stderr, err.Error())
	}
	if call.ClearingPrice, err = normalizeAmount("price", *price); err != nil {
		return printError(stderr, err.Error())
	}
	switch {
	case *runData != "" && *initiator != "":
		return printError(stderr, "--run-data and --initiator are mutually exclusive")
	case *runData != "":
		raw, err := decodeHexFlag("run-data", *runData)
		if err != nil {
			return printError(stderr, err.Error())
		}
		call.RunData = raw
	case *initiator != "":
		id, err := parseIdentityFlag("initiator", *initiator)
		if err != nil {
			return printError(stderr, err.Error())
		}
		maxValue, err := normalizeAmount("max", *maxAssets)
		if err != nil {
			return printError(stderr, err.Error())
		}
		maxWant, _ := new(big.Int).SetString(maxValue, 10)
		raw, err := solver.EncodeRunData(solver.RunData{Initiator: id, MaxAssets: maxWant})
		if err != nil {
			return printError(stderr, err.Error())
		}
		call.RunData = raw
	}
	return signed.send("/v1/solve", types.ActionSolve, call, stdout, stderr)
}

func runToggle(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("toggle", stderr)
	signed := addSignedFlags(fs)
	ids := fs.String("ids", "", "comma separated identities to flip")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	identities, err := parseIdentityList("ids", *ids)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return signed.send("/v1/admin/solvers/toggle", types.ActionToggleSolvers, types.ToggleSolversCall{Identities: identities}, stdout, stderr)
}

func runPause(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pause", stderr)
	signed := addSignedFlags(fs)
	paused := fs.Bool("paused", true, "pause (true) or resume (false)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return signed.send("/v1/admin/pause", types.ActionSetPaused, types.SetPausedCall{Paused: *paused}, stdout, stderr)
}

func runRequest(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("request", stderr)
	server := fs.String("server", "", "queued URL")
	owner := fs.String("owner", "", "request owner")
	offer := fs.String("offer", "", "offer asset")
	want := fs.String("want", "", "want asset")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ids, err := parseIdentities(map[string]string{"owner": *owner, "offer": *offer, "want": *want}, "owner", "offer", "want")
	if err != nil {
		return printError(stderr, err.Error())
	}
	return query(*server, fmt.Sprintf("/v1/requests/%s/%s/%s", ids[0].Hex(), ids[1].Hex(), ids[2].Hex()), stdout, stderr)
}

func runRequests(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("requests", stderr)
	server := fs.String("server", "", "queued URL")
	offer := fs.String("offer", "", "offer asset")
	want := fs.String("want", "", "want asset")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ids, err := parseIdentities(map[string]string{"offer": *offer, "want": *want}, "offer", "want")
	if err != nil {
		return printError(stderr, err.Error())
	}
	return query(*server, fmt.Sprintf("/v1/requests/%s/%s", ids[0].Hex(), ids[1].Hex()), stdout, stderr)
}

func runMetadata(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("metadata", stderr)
	server := fs.String("server", "", "queued URL")
	offer := fs.String("offer", "", "offer asset")
	want := fs.String("want", "", "want asset")
	users := fs.String("users", "", "comma separated request owners")
	price := fs.String("price", "", "candidate clearing price")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ids, err := parseIdentities(map[string]string{"offer": *offer, "want": *want}, "offer", "want")
	if err != nil {
		return printError(stderr, err.Error())
	}
	owners, err := parseIdentityList("users", *users)
	if err != nil {
		return printError(stderr, err.Error())
	}
	value, err := normalizeAmount("price", *price)
	if err != nil {
		return printError(stderr, err.Error())
	}
	body := map[string]any{"offer": ids[0].Hex(), "want": ids[1].Hex(), "price": value}
	list := make([]string, 0, len(owners))
	for _, o := range owners {
		list = append(list, o.Hex())
	}
	body["users"] = list
	resp, err := newAPIClient(*server).post("/v1/metadata", body)
	if err != nil {
		return printError(stderr, err.Error())
	}
	printJSON(stdout, resp)
	return 0
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	server := fs.String("server", "", "queued URL")
	asset := fs.String("asset", "", "asset address")
	holder := fs.String("holder", "", "holder identity")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ids, err := parseIdentities(map[string]string{"asset": *asset, "holder": *holder}, "asset", "holder")
	if err != nil {
		return printError(stderr, err.Error())
	}
	return query(*server, fmt.Sprintf("/v1/assets/%s/balances/%s", ids[0].Hex(), ids[1].Hex()), stdout, stderr)
}

func runInfo(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("info", stderr)
	server := fs.String("server", "", "queued URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return query(*server, "/v1/queue", stdout, stderr)
}

func query(server, path string, stdout, stderr io.Writer) int {
	resp, err := newAPIClient(server).get(path)
	if err != nil {
		return printError(stderr, err.Error())
	}
	printJSON(stdout, resp)
	return 0
}

func parseIdentityFlag(name, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, fmt.Errorf("--%s is required", name)
	}
	addr, err := crypto.ParseIdentity(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("--%s: %v", name, err)
	}
	return addr, nil
}

func parseIdentities(values map[string]string, order ...string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(order))
	for _, name := range order {
		addr, err := parseIdentityFlag(name, values[name])
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
