package metrics

import (
	"math/big"
	"time"
)

// NopMetrics is used when metrics collection is disabled.
type NopMetrics struct{}

func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

func (m *NopMetrics) IncAllocationsSeeded()                             {}
func (m *NopMetrics) SetLatestEpoch(epoch uint64)                       {}
func (m *NopMetrics) IncOwnershipTransfers()                            {}
func (m *NopMetrics) IncClaims(kind, result string)                     {}
func (m *NopMetrics) AddClaimedAmount(amount *big.Int)                  {}
func (m *NopMetrics) ObserveBatchSize(entries int)                      {}
func (m *NopMetrics) ObserveClaimDuration(kind string, d time.Duration) {}
