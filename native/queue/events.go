package queue

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/core/types"
	"atomicqueue/crypto"
)

const (
	EventTypeRequestUpdated   = "queue.request.updated"
	EventTypeRequestFulfilled = "queue.request.fulfilled"
	EventTypeRequestSkipped   = "queue.request.skipped"
	EventTypeBatchSolved      = "queue.solved"
	EventTypeSolverToggled    = "queue.solver.toggled"
	EventTypePaused           = "queue.paused"
)

type queueEvent struct {
	evt *types.Event
}

func (e queueEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e queueEvent) Event() *types.Event { return e.evt }

// NewRequestUpdatedEvent returns the payload emitted when an owner writes a request.
func NewRequestUpdatedEvent(owner, offer, want common.Address, req *Request) *types.Event {
	req = req.Clone()
	evt := pairEvent(EventTypeRequestUpdated, owner, offer, want)
	evt.Attributes["deadline"] = strconv.FormatUint(req.Deadline, 10)
	evt.Attributes["limitPrice"] = types.FormatAmount(req.LimitPrice)
	evt.Attributes["offerAmount"] = types.FormatAmount(req.OfferAmount)
	return evt
}

// NewRequestFulfilledEvent returns the payload emitted for each settled user.
func NewRequestFulfilledEvent(owner, offer, want, solver common.Address, spent, received *big.Int) *types.Event {
	evt := pairEvent(EventTypeRequestFulfilled, owner, offer, want)
	evt.Attributes["solver"] = account(solver)
	evt.Attributes["assetsToOffer"] = types.FormatAmount(spent)
	evt.Attributes["assetsForWant"] = types.FormatAmount(received)
	return evt
}

// NewRequestSkippedEvent returns the payload emitted for each soft-skipped user.
func NewRequestSkippedEvent(owner, offer, want common.Address, reason SkipReason) *types.Event {
	evt := pairEvent(EventTypeRequestSkipped, owner, offer, want)
	evt.Attributes["reason"] = string(reason)
	return evt
}

// NewBatchSolvedEvent summarises a successful solve.
func NewBatchSolvedEvent(report *SolveReport) *types.Event {
	if report == nil {
		return nil
	}
	return &types.Event{Type: EventTypeBatchSolved, Attributes: map[string]string{
		"caller":        account(report.Caller),
		"solver":        account(report.Solver),
		"offer":         asset(report.Offer),
		"want":          asset(report.Want),
		"clearingPrice": types.FormatAmount(report.ClearingPrice),
		"filled":        strconv.Itoa(len(report.Filled)),
		"skipped":       strconv.Itoa(len(report.Skipped)),
		"totalOffer":    types.FormatAmount(report.TotalOffer),
		"totalWant":     types.FormatAmount(report.TotalWant),
	}}
}

// NewSolverToggledEvent returns the payload emitted when the owner flips a
// solver approval.
func NewSolverToggledEvent(identity common.Address, approved bool) *types.Event {
	return &types.Event{Type: EventTypeSolverToggled, Attributes: map[string]string{
		"identity": account(identity),
		"approved": strconv.FormatBool(approved),
	}}
}

func NewPausedEvent(by common.Address, paused bool) *types.Event {
	return &types.Event{Type: EventTypePaused, Attributes: map[string]string{
		"by":     account(by),
		"paused": strconv.FormatBool(paused),
	}}
}

func pairEvent(eventType string, owner, offer, want common.Address) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"owner": account(owner),
		"offer": asset(offer),
		"want":  asset(want),
	}}
}

func account(addr common.Address) string {
	return crypto.FromCommon(crypto.AccountPrefix, addr).String()
}

func asset(addr common.Address) string {
	return crypto.FromCommon(crypto.AssetPrefix, addr).String()
}
