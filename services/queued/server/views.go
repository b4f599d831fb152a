package server

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"atomicqueue/core/types"
	"atomicqueue/crypto"
	"atomicqueue/native/queue"
)

func account(addr common.Address) string {
	return crypto.FromCommon(crypto.AccountPrefix, addr).String()
}

func asset(addr common.Address) string {
	return crypto.FromCommon(crypto.AssetPrefix, addr).String()
}

func amount(v *big.Int) string { return types.FormatAmount(v) }

type requestView struct {
	Owner        string `json:"owner"`
	Offer        string `json:"offer"`
	Want         string `json:"want"`
	Deadline     uint64 `json:"deadline"`
	LimitPrice   string `json:"limitPrice"`
	OfferAmount  string `json:"offerAmount"`
	InSettlement bool   `json:"inSettlement"`
}

func newRequestView(owner, offer, want common.Address, req *queue.Request) requestView {
	req = req.Clone()
	return requestView{
		Owner:        account(owner),
		Offer:        asset(offer),
		Want:         asset(want),
		Deadline:     req.Deadline,
		LimitPrice:   amount(req.LimitPrice),
		OfferAmount:  amount(req.OfferAmount),
		InSettlement: req.InSettlement,
	}
}

type fillView struct {
	User          string `json:"user"`
	AssetsToOffer string `json:"assetsToOffer"`
	AssetsForWant string `json:"assetsForWant"`
}

type skipView struct {
	User   string `json:"user"`
	Reason string `json:"reason"`
}

type solveView struct {
	Caller        string     `json:"caller"`
	Solver        string     `json:"solver"`
	Offer         string     `json:"offer"`
	Want          string     `json:"want"`
	ClearingPrice string     `json:"clearingPrice"`
	Filled        []fillView `json:"filled"`
	Skipped       []skipView `json:"skipped"`
	TotalOffer    string     `json:"totalOffer"`
	TotalWant     string     `json:"totalWant"`
}

func newSolveView(report *queue.SolveReport) solveView {
	view := solveView{
		Caller:        account(report.Caller),
		Solver:        account(report.Solver),
		Offer:         asset(report.Offer),
		Want:          asset(report.Want),
		ClearingPrice: amount(report.ClearingPrice),
		Filled:        make([]fillView, 0, len(report.Filled)),
		Skipped:       make([]skipView, 0, len(report.Skipped)),
		TotalOffer:    amount(report.TotalOffer),
		TotalWant:     amount(report.TotalWant),
	}
	for _, fill := range report.Filled {
		view.Filled = append(view.Filled, fillView{
			User:          account(fill.User),
			AssetsToOffer: amount(fill.AssetsToOffer),
			AssetsForWant: amount(fill.AssetsForWant),
		})
	}
	for _, skip := range report.Skipped {
		view.Skipped = append(view.Skipped, skipView{User: account(skip.User), Reason: string(skip.Reason)})
	}
	return view
}

type metadataEntryView struct {
	User          string `json:"user"`
	Flags         uint8  `json:"flags"`
	FlagNames     string `json:"flagNames"`
	AssetsToOffer string `json:"assetsToOffer"`
	AssetsForWant string `json:"assetsForWant"`
}

type metadataView struct {
	Entries    []metadataEntryView `json:"entries"`
	TotalWant  string              `json:"totalWant"`
	TotalOffer string              `json:"totalOffer"`
}

type assetView struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}
