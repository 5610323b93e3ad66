package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/client"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/distribution"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/transportSigner/inMemoryTransportSigner"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

func newClient(c *cli.Context, admin bool) (*client.RedeemClient, error) {
	var opts []client.Option
	if admin {
		signer, err := inMemoryTransportSigner.NewECDSAInMemoryTransportSigner(c.String("private-key"), zap.NewNop())
		if err != nil {
			return nil, fmt.Errorf("failed to load admin key: %w", err)
		}
		opts = append(opts, client.WithSigner(signer))
	}
	return client.NewRedeemClient(c.String("server"), opts...), nil
}

func leafEncoder(c *cli.Context) (merkle.LeafEncoder, error) {
	return merkle.NewLeafEncoder(merkle.LeafEncoding(c.String("leaf-encoding")))
}

func parseAddress(name, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s %q", name, value)
	}
	return common.HexToAddress(value), nil
}

func proofsPath(c *cli.Context, epoch uint64) string {
	if path := c.String("file"); path != "" {
		return path
	}
	return filepath.Join(c.String("dir"), distribution.FileName(epoch))
}

// recordFor loads the epoch's proofs file and returns the claim of address.
func recordFor(path string, epoch uint64, address common.Address) (*types.ClaimEntryMessage, error) {
	records, err := distribution.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proofs file: %w", err)
	}
	for _, r := range records {
		addr, entry, err := r.ClaimEntry(epoch)
		if err != nil {
			return nil, err
		}
		if addr == address {
			return &types.ClaimEntryMessage{
				Epoch:  epoch,
				Amount: entry.Amount.String(),
				Proof:  entry.Proof,
			}, nil
		}
	}
	return nil, fmt.Errorf("%s has no allocation in %s", address.Hex(), path)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func distributionCreateCommand(c *cli.Context) error {
	epoch := c.Uint64("epoch")

	encoder, err := leafEncoder(c)
	if err != nil {
		return err
	}

	f, err := os.Open(c.String("input"))
	if err != nil {
		return fmt.Errorf("failed to open allocations: %w", err)
	}
	defer func() { _ = f.Close() }()

	allocations, err := distribution.ReadAllocations(f)
	if err != nil {
		return err
	}

	dist, err := distribution.Build(epoch, allocations, encoder)
	if err != nil {
		return fmt.Errorf("failed to build distribution: %w", err)
	}

	path, err := dist.WriteFile(c.String("out-dir"))
	if err != nil {
		return err
	}

	fmt.Printf("✅ Epoch %d: %d recipients\n", epoch, len(dist.Records))
	fmt.Printf("   root:  %s\n", dist.Root.Hex())
	fmt.Printf("   total: %s\n", dist.Total.String())
	fmt.Printf("   proofs written to %s\n", path)
	return nil
}

func distributionVerifyCommand(c *cli.Context) error {
	epoch := c.Uint64("epoch")

	encoder, err := leafEncoder(c)
	if err != nil {
		return err
	}
	records, err := distribution.ReadFile(proofsPath(c, epoch))
	if err != nil {
		return fmt.Errorf("failed to read proofs file: %w", err)
	}

	total, err := distribution.Verify(epoch, common.HexToHash(c.String("root")), records, encoder)
	if err != nil {
		return err
	}
	fmt.Printf("✅ All %d records verify, total %s\n", len(records), total.String())
	return nil
}

func seedCommand(c *cli.Context) error {
	epoch := c.Uint64("epoch")

	var (
		root  common.Hash
		total string
	)
	if c.IsSet("root") && c.IsSet("total") {
		root = common.HexToHash(c.String("root"))
		total = c.String("total")
	} else {
		// Rebuild the tree from the proofs file to derive root and total
		encoder, err := leafEncoder(c)
		if err != nil {
			return err
		}
		records, err := distribution.ReadFile(proofsPath(c, epoch))
		if err != nil {
			return fmt.Errorf("failed to read proofs file: %w", err)
		}
		allocations := make([]distribution.Allocation, 0, len(records))
		for _, r := range records {
			allocations = append(allocations, distribution.Allocation{Address: r.Address, ClaimBalance: r.ClaimBalance})
		}
		dist, err := distribution.Build(epoch, allocations, encoder)
		if err != nil {
			return fmt.Errorf("failed to rebuild distribution: %w", err)
		}
		root = dist.Root
		total = dist.Total.String()
	}

	amount, err := types.ParseAmount(total)
	if err != nil {
		return fmt.Errorf("invalid total: %w", err)
	}

	rc, err := newClient(c, true)
	if err != nil {
		return err
	}
	resp, err := rc.SeedAllocations(c.Context, epoch, root, amount)
	if err != nil {
		return fmt.Errorf("failed to seed epoch %d: %w", epoch, err)
	}

	fmt.Printf("✅ Seeded epoch %d with root %s (total %s)\n", resp.Epoch, resp.Root.Hex(), resp.TotalAllocated)
	return nil
}

func ownerGetCommand(c *cli.Context) error {
	rc, err := newClient(c, false)
	if err != nil {
		return err
	}
	owner, err := rc.Owner(c.Context)
	if err != nil {
		return err
	}
	fmt.Println(owner.Hex())
	return nil
}

func ownerTransferCommand(c *cli.Context) error {
	newOwner, err := parseAddress("new owner", c.String("new-owner"))
	if err != nil {
		return err
	}
	rc, err := newClient(c, true)
	if err != nil {
		return err
	}
	resp, err := rc.TransferOwnership(c.Context, newOwner)
	if err != nil {
		return fmt.Errorf("failed to transfer ownership: %w", err)
	}
	fmt.Printf("✅ Ownership transferred to %s\n", resp.Owner.Hex())
	return nil
}

func claimRequest(c *cli.Context) (*types.ClaimRequest, error) {
	epoch := c.Uint64("epoch")
	address, err := parseAddress("address", c.String("address"))
	if err != nil {
		return nil, err
	}
	entry, err := recordFor(proofsPath(c, epoch), epoch, address)
	if err != nil {
		return nil, err
	}
	return &types.ClaimRequest{Recipient: address, ClaimEntryMessage: *entry}, nil
}

func claimCommand(c *cli.Context) error {
	req, err := claimRequest(c)
	if err != nil {
		return err
	}
	rc, err := newClient(c, false)
	if err != nil {
		return err
	}
	resp, err := rc.Claim(c.Context, req)
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}
	fmt.Printf("✅ Paid %s to %s for epoch %d\n", resp.Amount, resp.Recipient.Hex(), req.Epoch)
	return nil
}

func claimBatchCommand(c *cli.Context) error {
	address, err := parseAddress("address", c.String("address"))
	if err != nil {
		return err
	}

	epochs := c.Uint64Slice("epochs")
	entries := make([]types.ClaimEntryMessage, 0, len(epochs))
	for _, epoch := range epochs {
		path := filepath.Join(c.String("dir"), distribution.FileName(epoch))
		entry, err := recordFor(path, epoch, address)
		if err != nil {
			return err
		}
		entries = append(entries, *entry)
	}

	rc, err := newClient(c, false)
	if err != nil {
		return err
	}
	resp, err := rc.ClaimBatch(c.Context, &types.BatchClaimRequest{Recipient: address, Entries: entries})
	if err != nil {
		return fmt.Errorf("batch claim failed: %w", err)
	}
	fmt.Printf("✅ Paid %s to %s for epochs %v\n", resp.Amount, resp.Recipient.Hex(), resp.Epochs)
	return nil
}

func verifyCommand(c *cli.Context) error {
	req, err := claimRequest(c)
	if err != nil {
		return err
	}
	rc, err := newClient(c, false)
	if err != nil {
		return err
	}
	valid, err := rc.VerifyClaim(c.Context, req)
	if err != nil {
		return err
	}
	return printJSON(&types.VerifyClaimResponse{Valid: valid})
}

func claimedCommand(c *cli.Context) error {
	address, err := parseAddress("address", c.String("address"))
	if err != nil {
		return err
	}
	rc, err := newClient(c, false)
	if err != nil {
		return err
	}
	epoch := c.Uint64("epoch")
	claimed, err := rc.Claimed(c.Context, epoch, address)
	if err != nil {
		return err
	}
	return printJSON(&types.ClaimStatusResponse{Epoch: epoch, Recipient: address, Claimed: claimed})
}

func rootsCommand(c *cli.Context) error {
	rc, err := newClient(c, false)
	if err != nil {
		return err
	}
	start, end := c.Uint64("start"), c.Uint64("end")
	roots, err := rc.Roots(c.Context, start, end)
	if err != nil {
		return err
	}
	return printJSON(&types.RootsResponse{Start: start, End: end, Roots: roots})
}
