package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"atomicqueue/core/types"
	"atomicqueue/crypto"
	"atomicqueue/native/queue"
	"atomicqueue/observability/logging"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func parseIdentity(field, raw string) (common.Address, error) {
	addr, err := crypto.ParseIdentity(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	v, err := types.ParseAmount(field, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return v, nil
}

func pathIdentities(r *http.Request, names ...string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(names))
	for _, name := range names {
		addr, err := parseIdentity(name, chi.URLParam(r, name))
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueueInfo(w http.ResponseWriter, r *http.Request) {
	owner, err := s.backend.Owner()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	paused, err := s.backend.Paused()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":  account(s.backend.QueueAddress()),
		"owner":  account(owner),
		"paused": paused,
		"root":   s.backend.Root().Hex(),
		"height": s.backend.Height(),
	})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.backend.Assets()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]assetView, 0, len(assets))
	for _, a := range assets {
		out = append(out, assetView{Address: asset(a.Address), Symbol: a.Symbol, Decimals: a.Decimals})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIdentities(r, "asset", "holder")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.backend.Balance(ids[0], ids[1])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": amount(balance)})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIdentities(r, "asset", "owner", "spender")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	allowance, err := s.backend.Allowance(ids[0], ids[1], ids[2])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"allowance": amount(allowance)})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIdentities(r, "owner", "offer", "want")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.backend.GetRequest(ids[0], ids[1], ids[2])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRequestView(ids[0], ids[1], ids[2], req))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIdentities(r, "offer", "want")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owners, err := s.backend.ListRequests(ids[0], ids[1])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]string, 0, len(owners))
	for _, owner := range owners {
		out = append(out, account(owner))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"owners": out})
}

type validateRequestBody struct {
	Offer       string `json:"offer"`
	Owner       string `json:"owner"`
	Deadline    uint64 `json:"deadline"`
	LimitPrice  string `json:"limitPrice"`
	OfferAmount string `json:"offerAmount"`
}

func (s *Server) handleValidateRequest(w http.ResponseWriter, r *http.Request) {
	var body validateRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	offer, err := parseIdentity("offer", body.Offer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	owner, err := parseIdentity("owner", body.Owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := buildRequest(body.Deadline, body.LimitPrice, body.OfferAmount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	valid, err := s.backend.IsRequestValid(offer, owner, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func buildRequest(deadline uint64, limitPrice, offerAmount string) (*queue.Request, error) {
	limit, err := parseAmount("limitPrice", limitPrice)
	if err != nil {
		return nil, err
	}
	offered, err := parseAmount("offerAmount", offerAmount)
	if err != nil {
		return nil, err
	}
	return &queue.Request{Deadline: deadline, LimitPrice: limit, OfferAmount: offered}, nil
}

type metadataBody struct {
	Offer string   `json:"offer"`
	Want  string   `json:"want"`
	Users []string `json:"users"`
	Price string   `json:"price"`
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var body metadataBody
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	offer, err := parseIdentity("offer", body.Offer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	want, err := parseIdentity("want", body.Want)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	users := make([]common.Address, 0, len(body.Users))
	for i, raw := range body.Users {
		user, err := parseIdentity(fmt.Sprintf("users[%d]", i), raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		users = append(users, user)
	}
	price, err := parseAmount("price", body.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, totalWant, totalOffer, err := s.backend.ViewSolveMetadata(offer, want, users, price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := metadataView{
		Entries:    make([]metadataEntryView, 0, len(entries)),
		TotalWant:  amount(totalWant),
		TotalOffer: amount(totalOffer),
	}
	for _, entry := range entries {
		view.Entries = append(view.Entries, metadataEntryView{
			User:          account(entry.User),
			Flags:         uint8(entry.Flags),
			FlagNames:     entry.Flags.String(),
			AssetsToOffer: amount(entry.AssetsToOffer),
			AssetsForWant: amount(entry.AssetsForWant),
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSolverStatus(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIdentities(r, "address")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	approved, err := s.backend.IsApprovedCaller(ids[0])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": account(ids[0]), "approved": approved})
}

// openEnvelope decodes a signed envelope for action, recovers the sender and
// consumes its nonce.
func (s *Server) openEnvelope(w http.ResponseWriter, r *http.Request, action types.Action, dst any) (common.Address, bool) {
	var env types.Envelope
	if err := decodeJSON(w, r, &env); err != nil {
		s.fail(w, r, err)
		return common.Address{}, false
	}
	sender, err := env.Open(action, dst)
	if err != nil {
		s.logger.Warn("envelope rejected",
			"request_id", RequestIDFromContext(r.Context()),
			"action", string(env.Action),
			"nonce", env.Nonce,
			"error", err,
			logging.MaskField("signature", env.Signature.String()),
		)
		if statusFor(err) == http.StatusInternalServerError {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
		}
		s.fail(w, r, err)
		return common.Address{}, false
	}
	if err := s.nonces.Reserve(sender, env.Nonce); err != nil {
		s.fail(w, r, err)
		return common.Address{}, false
	}
	return sender, true
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	var call types.UpdateRequestCall
	sender, ok := s.openEnvelope(w, r, types.ActionUpdateRequest, &call)
	if !ok {
		return
	}
	req, err := buildRequest(call.Deadline, call.LimitPrice, call.OfferAmount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.backend.UpdateRequest(sender, call.Offer, call.Want, req); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRequestView(sender, call.Offer, call.Want, req))
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var call types.SolveCall
	sender, ok := s.openEnvelope(w, r, types.ActionSolve, &call)
	if !ok {
		return
	}
	price, err := parseAmount("clearingPrice", call.ClearingPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.backend.Solve(r.Context(), sender, call.Offer, call.Want, call.Users, call.RunData, call.Solver, price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSolveView(report))
}

func (s *Server) handleToggleSolvers(w http.ResponseWriter, r *http.Request) {
	var call types.ToggleSolversCall
	sender, ok := s.openEnvelope(w, r, types.ActionToggleSolvers, &call)
	if !ok {
		return
	}
	if err := s.backend.ToggleApprovedCallers(sender, call.Identities); err != nil {
		s.fail(w, r, err)
		return
	}
	out := make(map[string]bool, len(call.Identities))
	for _, id := range call.Identities {
		approved, err := s.backend.IsApprovedCaller(id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out[account(id)] = approved
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": out})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var call types.SetPausedCall
	sender, ok := s.openEnvelope(w, r, types.ActionSetPaused, &call)
	if !ok {
		return
	}
	if err := s.backend.SetPaused(sender, call.Paused); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": call.Paused})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var call types.ApproveCall
	sender, ok := s.openEnvelope(w, r, types.ActionApprove, &call)
	if !ok {
		return
	}
	value, err := parseAmount("amount", call.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.backend.Approve(sender, call.Asset, call.Spender, value); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"allowance": amount(value)})
}
