package redeem

import (
	"fmt"
	"time"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// ClaimGate decides whether claims against a seeded epoch are currently allowed.
type ClaimGate interface {
	Allow(allocation *types.EpochAllocation) error
}

// OpenGate admits every claim.
type OpenGate struct{}

func (OpenGate) Allow(*types.EpochAllocation) error { return nil }

// CooldownGate rejects claims until Cooldown has elapsed since the epoch was seeded.
type CooldownGate struct {
	Cooldown time.Duration
	Now      func() time.Time
}

func NewCooldownGate(cooldown time.Duration) *CooldownGate {
	return &CooldownGate{Cooldown: cooldown, Now: time.Now}
}

func (g *CooldownGate) Allow(allocation *types.EpochAllocation) error {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	opensAt := time.Unix(allocation.SeededAt, 0).Add(g.Cooldown)
	if now().Before(opensAt) {
		return fmt.Errorf("%w: %d opens at %s", ErrClaimWindowClosed, allocation.Epoch, opensAt.UTC().Format(time.RFC3339))
	}
	return nil
}
