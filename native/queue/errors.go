package queue

import "errors"

var (
	errNilState  = errors.New("queue engine: state not configured")
	errNilLedger = errors.New("queue engine: ledger not configured")

	// ErrUnauthorized indicates an owner-only operation was called by someone else.
	ErrUnauthorized = errors.New("queue: caller is not the owner")
	// ErrUnauthorizedSolver indicates the solve caller is not an approved solver.
	ErrUnauthorizedSolver = errors.New("queue: caller is not an approved solver")
	// ErrEmptyBatch indicates a solve without users.
	ErrEmptyBatch = errors.New("queue: empty batch")
	// ErrZeroClearingPrice indicates a solve at a zero clearing price.
	ErrZeroClearingPrice = errors.New("queue: clearing price must be positive")
	// ErrClearingPriceTooLow indicates the clearing price is below an eligible
	// user's limit price. The whole solve fails.
	ErrClearingPriceTooLow = errors.New("queue: clearing price below limit price")
	// ErrCallbackFailed indicates the solver callback returned an error.
	ErrCallbackFailed = errors.New("queue: solver callback failed")
	// ErrSettlementTransferFailed indicates a ledger transfer failed mid-solve.
	ErrSettlementTransferFailed = errors.New("queue: settlement transfer failed")
	// ErrRequestLocked indicates the request is part of an in-flight solve.
	ErrRequestLocked = errors.New("queue: request locked in settlement")
	// ErrUnknownSolver indicates no callback is registered for the solver identity.
	ErrUnknownSolver = errors.New("queue: unknown solver callback")
	// ErrAmountOverflow indicates an amount does not fit the 256-bit range.
	ErrAmountOverflow = errors.New("queue: amount overflow")
	// ErrUnknownAsset indicates the ledger has no decimals for an asset.
	ErrUnknownAsset = errors.New("queue: unknown asset")
)
