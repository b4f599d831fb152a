package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"atomicqueue/core/types"
	nativecommon "atomicqueue/native/common"
	"atomicqueue/native/ledger"
	"atomicqueue/native/queue"
	"atomicqueue/services/queued/storage"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps node errors onto HTTP status codes. Wrapping errors are
// checked before the ledger errors they may carry.
func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrCallbackFailed):
		return http.StatusBadGateway
	case errors.Is(err, queue.ErrSettlementTransferFailed),
		errors.Is(err, queue.ErrRequestLocked),
		errors.Is(err, storage.ErrNonceReplayed):
		return http.StatusConflict
	case errors.Is(err, queue.ErrUnauthorized),
		errors.Is(err, queue.ErrUnauthorizedSolver):
		return http.StatusForbidden
	case errors.Is(err, queue.ErrEmptyBatch),
		errors.Is(err, queue.ErrZeroClearingPrice),
		errors.Is(err, queue.ErrClearingPriceTooLow),
		errors.Is(err, queue.ErrAmountOverflow),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrUnknownSolver),
		errors.Is(err, queue.ErrUnknownAsset),
		errors.Is(err, ledger.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrEnvelopeSignature),
		errors.Is(err, types.ErrEnvelopeDomain):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrEnvelopeAction),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway {
		s.logger.Error("request failed", "request_id", RequestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
