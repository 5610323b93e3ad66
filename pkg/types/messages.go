package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// Wire messages for the HTTP API. Amounts are decimal strings so JSON clients
// never lose precision on 256-bit values.

// Admin actions a signed payload can be bound to.
const (
	ActionSeedAllocations   = "seedAllocations"
	ActionTransferOwnership = "transferOwnership"
)

// AdminHeader binds a signed admin payload to one route and a point in time.
type AdminHeader struct {
	Action   string `json:"action"`
	IssuedAt int64  `json:"issuedAt"` // unix seconds
}

// SeedAllocationsRequest is the payload of a signed admin message.
type SeedAllocationsRequest struct {
	AdminHeader
	Epoch          uint64      `json:"epoch"`
	Root           common.Hash `json:"root"`
	TotalAllocated string      `json:"totalAllocated"`
}

// TransferOwnershipRequest is the payload of a signed admin message.
type TransferOwnershipRequest struct {
	AdminHeader
	NewOwner common.Address `json:"newOwner"`
}

// ClaimEntryMessage is a JSON encoded ClaimEntry.
type ClaimEntryMessage struct {
	Epoch  uint64        `json:"epoch"`
	Amount string        `json:"amount"`
	Proof  []common.Hash `json:"proof"`
}

// ToClaimEntry parses the amount into a ClaimEntry.
func (m *ClaimEntryMessage) ToClaimEntry() (ClaimEntry, error) {
	amount, err := ParseAmount(m.Amount)
	if err != nil {
		return ClaimEntry{}, err
	}
	return ClaimEntry{Epoch: m.Epoch, Amount: amount, Proof: m.Proof}, nil
}

type ClaimRequest struct {
	Recipient common.Address `json:"recipient"`
	ClaimEntryMessage
}

type BatchClaimRequest struct {
	Recipient common.Address      `json:"recipient"`
	Entries   []ClaimEntryMessage `json:"entries"`
}

type ClaimResponse struct {
	Recipient common.Address `json:"recipient"`
	Epochs    []uint64       `json:"epochs"`
	Amount    string         `json:"amount"`
}

type VerifyClaimResponse struct {
	Valid bool `json:"valid"`
}

type ClaimStatusResponse struct {
	Epoch     uint64         `json:"epoch"`
	Recipient common.Address `json:"recipient"`
	Claimed   bool           `json:"claimed"`
}

type AllocationResponse struct {
	Epoch          uint64      `json:"epoch"`
	Root           common.Hash `json:"root"`
	TotalAllocated string      `json:"totalAllocated"`
	SeededAt       int64       `json:"seededAt"`
}

type RootsResponse struct {
	Start uint64        `json:"start"`
	End   uint64        `json:"end"`
	Roots []common.Hash `json:"roots"`
}

type OwnerResponse struct {
	Owner common.Address `json:"owner"`
}

// ErrorResponse carries a stable machine readable code next to the message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
