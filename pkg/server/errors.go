package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/redeem"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// Error codes returned in ErrorResponse.Code
const (
	codeInvalidRequest    = "invalid_request"
	codeInvalidSignature  = "invalid_signature"
	codeStaleRequest      = "stale_request"
	codeActionMismatch    = "action_mismatch"
	codeReplayedRequest   = "replayed_request"
	codeUnauthorized      = "unauthorized"
	codeInvalidOwner      = "invalid_owner"
	codeDuplicateEpoch    = "duplicate_epoch"
	codeUnknownEpoch      = "unknown_epoch"
	codeInvalidProof      = "invalid_proof"
	codeAlreadyClaimed    = "already_claimed"
	codeEmptyBatch        = "empty_batch"
	codeInvalidRange      = "invalid_range"
	codeClaimWindowClosed = "claim_window_closed"
	codeTransferFailed    = "transfer_failed"
	codePayoutPending     = "payout_pending"
	codeRateLimited       = "rate_limited"
	codeNotFound          = "not_found"
	codeMethodNotAllowed  = "method_not_allowed"
	codeUnavailable       = "unavailable"
	codeInternal          = "internal_error"
)

// classify checks in order; TransferError must be tested before the
// sentinels it may wrap.
func classify(err error) (int, string) {
	switch {
	case redeem.IsTransferError(err):
		return http.StatusBadGateway, codeTransferFailed
	case errors.Is(err, redeem.ErrPayoutPending):
		// recorded as claimed; the transfer may still land
		return http.StatusGatewayTimeout, codePayoutPending
	case errors.Is(err, redeem.ErrUnknownEpoch):
		return http.StatusNotFound, codeUnknownEpoch
	case errors.Is(err, redeem.ErrInvalidProof):
		return http.StatusBadRequest, codeInvalidProof
	case errors.Is(err, redeem.ErrAlreadyClaimed):
		return http.StatusConflict, codeAlreadyClaimed
	case errors.Is(err, redeem.ErrDuplicateEpoch):
		return http.StatusConflict, codeDuplicateEpoch
	case errors.Is(err, redeem.ErrUnauthorized):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, redeem.ErrInvalidOwner):
		return http.StatusBadRequest, codeInvalidOwner
	case errors.Is(err, redeem.ErrInvalidRange):
		return http.StatusBadRequest, codeInvalidRange
	case errors.Is(err, redeem.ErrEmptyBatch):
		return http.StatusBadRequest, codeEmptyBatch
	case errors.Is(err, redeem.ErrClaimWindowClosed):
		return http.StatusForbidden, codeClaimWindowClosed
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: message})
}

// writeDomainError maps ledger and engine errors onto status codes. Internal
// failures are logged and not echoed to the client.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed",
			"path", r.URL.Path,
			"requestId", RequestID(r.Context()),
			"error", err,
		)
		message = "internal error"
	}
	writeError(w, status, code, message)
}
