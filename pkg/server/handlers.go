package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("failed to parse request: %v", err))
		return false
	}
	return true
}

// authenticate recovers the caller of a signed admin request and decodes its
// payload. The payload must name action, be fresh, and not have been accepted before.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, action string, payload interface{}, header *types.AdminHeader) (common.Address, bool) {
	var msg transportSigner.SignedMessage
	if !decodeBody(w, r, &msg) {
		return common.Address{}, false
	}

	caller, err := transportSigner.RecoverSigner(&msg)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeInvalidSignature, err.Error())
		return common.Address{}, false
	}

	if err := json.Unmarshal(msg.Payload, payload); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("failed to parse payload: %v", err))
		return common.Address{}, false
	}

	if header.Action != action {
		writeError(w, http.StatusUnauthorized, codeActionMismatch,
			fmt.Sprintf("payload signed for action %q, route expects %q", header.Action, action))
		return common.Address{}, false
	}

	if s.config.AuthMaxAge > 0 {
		issued := time.Unix(header.IssuedAt, 0)
		age := s.now().Sub(issued)
		if age > s.config.AuthMaxAge || age < -s.config.AuthMaxAge {
			writeError(w, http.StatusUnauthorized, codeStaleRequest,
				fmt.Sprintf("request issued at %d is outside the accepted window", issued.Unix()))
			return common.Address{}, false
		}
	}

	if !s.replay.observe(crypto.Keccak256Hash(caller.Bytes(), msg.Payload)) {
		writeError(w, http.StatusUnauthorized, codeReplayedRequest, "signed request was already accepted")
		return common.Address{}, false
	}
	return caller, true
}

func allocationResponse(a *types.EpochAllocation) *types.AllocationResponse {
	return &types.AllocationResponse{
		Epoch:          a.Epoch,
		Root:           a.Root,
		TotalAllocated: a.TotalAllocated.String(),
		SeededAt:       a.SeededAt,
	}
}

func (s *Server) handleSeedAllocations(w http.ResponseWriter, r *http.Request) {
	var req types.SeedAllocationsRequest
	caller, ok := s.authenticate(w, r, types.ActionSeedAllocations, &req, &req.AdminHeader)
	if !ok {
		return
	}

	total, err := types.ParseAmount(req.TotalAllocated)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	allocation, err := s.ledger.SeedAllocations(r.Context(), caller, req.Epoch, req.Root, total)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, allocationResponse(allocation))
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req types.TransferOwnershipRequest
	caller, ok := s.authenticate(w, r, types.ActionTransferOwnership, &req, &req.AdminHeader)
	if !ok {
		return
	}

	if err := s.ledger.TransferOwnership(r.Context(), caller, req.NewOwner); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.OwnerResponse{Owner: req.NewOwner})
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ledger.Owner(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.OwnerResponse{Owner: owner})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req types.ClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := req.ToClaimEntry()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	receipt, err := s.engine.ClaimEpoch(r.Context(), req.Recipient, entry.Epoch, entry.Amount, entry.Proof)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse(receipt))
}

func (s *Server) handleClaimBatch(w http.ResponseWriter, r *http.Request) {
	var req types.BatchClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entries := make([]types.ClaimEntry, 0, len(req.Entries))
	for i := range req.Entries {
		entry, err := req.Entries[i].ToClaimEntry()
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("entry %d: %v", i, err))
			return
		}
		entries = append(entries, entry)
	}

	receipt, err := s.engine.ClaimEpochs(r.Context(), req.Recipient, entries)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse(receipt))
}

func claimResponse(receipt *types.ClaimReceipt) *types.ClaimResponse {
	return &types.ClaimResponse{
		Recipient: receipt.Recipient,
		Epochs:    receipt.Epochs,
		Amount:    receipt.Amount.String(),
	}
}

func (s *Server) handleVerifyClaim(w http.ResponseWriter, r *http.Request) {
	var req types.ClaimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := req.ToClaimEntry()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	valid, err := s.engine.VerifyClaim(r.Context(), req.Recipient, entry.Epoch, entry.Amount, entry.Proof)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.VerifyClaimResponse{Valid: valid})
}

func parseEpoch(w http.ResponseWriter, raw string) (uint64, bool) {
	epoch, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("invalid epoch %q", raw))
		return 0, false
	}
	return epoch, true
}

func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	epoch, ok := parseEpoch(w, vars["epoch"])
	if !ok {
		return
	}
	if !common.IsHexAddress(vars["recipient"]) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf("invalid recipient %q", vars["recipient"]))
		return
	}
	recipient := common.HexToAddress(vars["recipient"])

	claimed, err := s.ledger.Claimed(r.Context(), epoch, recipient)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.ClaimStatusResponse{Epoch: epoch, Recipient: recipient, Claimed: claimed})
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	allocations, err := s.ledger.Allocations(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := make([]*types.AllocationResponse, 0, len(allocations))
	for _, a := range allocations {
		resp = append(resp, allocationResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	epoch, ok := parseEpoch(w, mux.Vars(r)["epoch"])
	if !ok {
		return
	}
	allocation, err := s.ledger.Allocation(r.Context(), epoch)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allocationResponse(allocation))
}

func (s *Server) handleRootRange(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, ok := parseEpoch(w, query.Get("start"))
	if !ok {
		return
	}
	end, ok := parseEpoch(w, query.Get("end"))
	if !ok {
		return
	}

	roots, err := s.ledger.RootRange(r.Context(), start, end)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &types.RootsResponse{Start: start, End: end, Roots: roots})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.HealthCheck(); err != nil {
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
