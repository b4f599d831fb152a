package main

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func parseIdentityList(name, raw string) ([]common.Address, error) {
	var out []common.Address
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		addr, err := parseIdentityFlag(name, part)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--%s is required", name)
	}
	return out, nil
}

// normalizeAmount accepts plain integers, underscores and scientific
// shorthand such as 1.5e18, returning the base-10 integer.
func normalizeAmount(name, raw string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("--%s is required", name)
	}
	value, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return "", fmt.Errorf("--%s: invalid amount %q", name, raw)
	}
	if value.Sign() < 0 {
		return "", fmt.Errorf("--%s must not be negative", name)
	}
	if !value.IsInt() {
		return "", fmt.Errorf("--%s must be a whole number of atomic units", name)
	}
	return value.Num().String(), nil
}

// parseDeadline accepts +duration relative to now, an RFC3339 timestamp or
// unix seconds.
func parseDeadline(raw string, now time.Time) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("--deadline is required")
	}
	if rest, ok := strings.CutPrefix(trimmed, "+"); ok {
		dur, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return 0, fmt.Errorf("--deadline: %v", err)
		}
		if dur <= 0 {
			return 0, fmt.Errorf("--deadline duration must be positive")
		}
		return uint64(now.Add(dur).Unix()), nil
	}
	if secs, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
		return secs, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("--deadline: expected +duration, RFC3339 or unix seconds")
	}
	if ts.Unix() < 0 {
		return 0, fmt.Errorf("--deadline before 1970")
	}
	return uint64(ts.Unix()), nil
}

func decodeHexFlag(name, raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		trimmed = "0x" + trimmed
	}
	out, err := hexutil.Decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("--%s: %v", name, err)
	}
	return out, nil
}
