// Package distribution builds an epoch's merkle commitment from a list of
// allocations and reads/writes the per-epoch proofs file handed to recipients.
package distribution

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

var (
	ErrNoAllocations    = errors.New("distribution has no allocations")
	ErrDuplicateAddress = errors.New("address allocated twice")
	ErrInvalidRecord    = errors.New("invalid distribution record")
)

// Allocation is one input line: an address and the amount it may claim.
type Allocation struct {
	Address      string `json:"address"`
	ClaimBalance string `json:"claimBalance"`
}

// Record is one entry of the proofs file.
type Record struct {
	Address      string        `json:"address"`
	ClaimBalance string        `json:"claimBalance"`
	Proof        []common.Hash `json:"proof"`
}

// Distribution is a fully built epoch.
type Distribution struct {
	Epoch    uint64
	Root     common.Hash
	Total    *big.Int
	Encoding merkle.LeafEncoding
	Records  []Record
}

type parsedAllocation struct {
	address common.Address
	amount  *big.Int
}

func parseAllocation(a Allocation) (*parsedAllocation, error) {
	if !common.IsHexAddress(a.Address) {
		return nil, fmt.Errorf("%w: address %q", ErrInvalidRecord, a.Address)
	}
	amount, err := types.ParseAmount(a.ClaimBalance)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, a.Address, err)
	}
	return &parsedAllocation{address: common.HexToAddress(a.Address), amount: amount}, nil
}

// Build hashes every allocation, builds the tree over the sorted leaves and
// attaches each recipient's proof. Records keep the input order.
func Build(epoch uint64, allocations []Allocation, encoder merkle.LeafEncoder) (*Distribution, error) {
	if len(allocations) == 0 {
		return nil, ErrNoAllocations
	}

	parsed := make([]*parsedAllocation, 0, len(allocations))
	leaves := make([]common.Hash, 0, len(allocations))
	seen := make(map[common.Address]struct{}, len(allocations))
	total := new(big.Int)

	for _, a := range allocations {
		p, err := parseAllocation(a)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p.address]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, p.address.Hex())
		}
		seen[p.address] = struct{}{}

		leaf, err := encoder.EncodeLeaf(p.address, epoch, p.amount)
		if err != nil {
			return nil, fmt.Errorf("failed to encode leaf for %s: %w", p.address.Hex(), err)
		}

		total, err = types.AddUint256(total, p.amount)
		if err != nil {
			return nil, fmt.Errorf("distribution total: %w", err)
		}

		parsed = append(parsed, p)
		leaves = append(leaves, leaf)
	}

	tree, err := merkle.NewTree(leaves, merkle.WithSortedLeaves())
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(parsed))
	for i, p := range parsed {
		proof, err := tree.ProofForLeaf(leaves[i])
		if err != nil {
			return nil, fmt.Errorf("failed to build proof for %s: %w", p.address.Hex(), err)
		}
		records = append(records, Record{
			Address:      p.address.Hex(),
			ClaimBalance: p.amount.String(),
			Proof:        proof,
		})
	}

	return &Distribution{
		Epoch:    epoch,
		Root:     tree.Root(),
		Total:    total,
		Encoding: encoder.Encoding(),
		Records:  records,
	}, nil
}

// ClaimEntry converts a record into engine input for epoch.
func (r Record) ClaimEntry(epoch uint64) (common.Address, types.ClaimEntry, error) {
	p, err := parseAllocation(Allocation{Address: r.Address, ClaimBalance: r.ClaimBalance})
	if err != nil {
		return common.Address{}, types.ClaimEntry{}, err
	}
	return p.address, types.ClaimEntry{Epoch: epoch, Amount: p.amount, Proof: r.Proof}, nil
}

// Verify checks every record against root and returns the recomputed total.
func Verify(epoch uint64, root common.Hash, records []Record, encoder merkle.LeafEncoder) (*big.Int, error) {
	if len(records) == 0 {
		return nil, ErrNoAllocations
	}

	total := new(big.Int)
	for i, r := range records {
		addr, entry, err := r.ClaimEntry(epoch)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		leaf, err := encoder.EncodeLeaf(addr, epoch, entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if !merkle.VerifyProof(root, leaf, entry.Proof) {
			return nil, fmt.Errorf("%w: record %d (%s) does not verify against %s", ErrInvalidRecord, i, addr.Hex(), root.Hex())
		}
		total, err = types.AddUint256(total, entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("distribution total: %w", err)
		}
	}
	return total, nil
}

// FileName is the conventional proofs file name of an epoch.
func FileName(epoch uint64) string {
	return fmt.Sprintf("proof_epoch_%d.json", epoch)
}

// WriteFile writes the records to dir/proof_epoch_<N>.json, creating dir if needed.
func (d *Distribution) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(d.Records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}

	path := filepath.Join(dir, FileName(d.Epoch))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// ReadRecords decodes a proofs file.
func ReadRecords(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

// ReadFile loads a proofs file from disk.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadRecords(f)
}

// ReadAllocations decodes the [{address, claimBalance}] input list.
func ReadAllocations(r io.Reader) ([]Allocation, error) {
	var allocations []Allocation
	if err := json.NewDecoder(r).Decode(&allocations); err != nil {
		return nil, fmt.Errorf("failed to decode allocations: %w", err)
	}
	return allocations, nil
}
