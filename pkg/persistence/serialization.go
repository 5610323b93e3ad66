package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// MarshalEpochAllocation serializes an EpochAllocation to JSON bytes.
func MarshalEpochAllocation(ea *types.EpochAllocation) ([]byte, error) {
	if ea == nil {
		return nil, fmt.Errorf("cannot marshal nil EpochAllocation")
	}

	data, err := json.Marshal(ea)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal EpochAllocation to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalEpochAllocation deserializes an EpochAllocation from JSON bytes.
func UnmarshalEpochAllocation(data []byte) (*types.EpochAllocation, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var ea types.EpochAllocation
	if err := json.Unmarshal(data, &ea); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to EpochAllocation: %w", err)
	}

	return &ea, nil
}

// EpochKey renders an epoch zero-padded so lexicographic key order equals numeric order.
func EpochKey(epoch uint64) string {
	return fmt.Sprintf("%020d", epoch)
}

// ClaimKeyString renders the storage suffix of a claim record.
func ClaimKeyString(epoch uint64, recipient common.Address) string {
	return fmt.Sprintf("%s:%s", EpochKey(epoch), recipient.Hex())
}

// HasDuplicateClaimKeys reports whether the same (epoch, recipient) pair appears twice.
func HasDuplicateClaimKeys(keys []types.ClaimKey) bool {
	seen := make(map[types.ClaimKey]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			return true
		}
		seen[k] = struct{}{}
	}
	return false
}
