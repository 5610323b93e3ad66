package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

const defaultTimeout = 30 * time.Second

// RetryConfig configures retry behavior for read-only requests
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

var ErrNoSigner = errors.New("admin request requires a signer")

// APIError is a non-2xx response from the redeem server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("redeem server returned status %d (%s): %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// RedeemClient talks to a redeem server. A signer is only needed for admin calls.
type RedeemClient struct {
	baseURL    string
	httpClient *http.Client
	signer     transportSigner.ITransportSigner
	retry      RetryConfig
	now        func() time.Time
}

type Option func(c *RedeemClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *RedeemClient) { c.httpClient = hc }
}

// WithRetry replaces DefaultRetryConfig. Admin calls and claims are never retried.
func WithRetry(cfg RetryConfig) Option {
	return func(c *RedeemClient) { c.retry = cfg }
}

func WithSigner(signer transportSigner.ITransportSigner) Option {
	return func(c *RedeemClient) { c.signer = signer }
}

func NewRedeemClient(baseURL string, opts ...Option) *RedeemClient {
	c := &RedeemClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		retry:      DefaultRetryConfig,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatus(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

// doIdempotent retries transport failures and gateway errors with backoff.
func (c *RedeemClient) doIdempotent(ctx context.Context, method, path string, body, out interface{}) error {
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := c.retry.InitialBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = c.do(ctx, method, path, body, out)
		var apiErr *APIError
		if err == nil || (errors.As(err, &apiErr) && !retryableStatus(apiErr.Status)) {
			return err
		}
		if ctx.Err() != nil || attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiple)
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, err)
}

func (c *RedeemClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp types.ErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Code != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *RedeemClient) signed(payload interface{}) (*transportSigner.SignedMessage, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.signer.CreateAuthenticatedMessage(raw)
}

func (c *RedeemClient) header(action string) types.AdminHeader {
	return types.AdminHeader{Action: action, IssuedAt: c.now().Unix()}
}

// SeedAllocations publishes the root and total of an epoch.
func (c *RedeemClient) SeedAllocations(ctx context.Context, epoch uint64, root common.Hash, total *big.Int) (*types.AllocationResponse, error) {
	if total == nil {
		return nil, fmt.Errorf("total allocated cannot be nil")
	}
	msg, err := c.signed(&types.SeedAllocationsRequest{
		AdminHeader:    c.header(types.ActionSeedAllocations),
		Epoch:          epoch,
		Root:           root,
		TotalAllocated: total.String(),
	})
	if err != nil {
		return nil, err
	}

	var resp types.AllocationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/allocations", msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RedeemClient) TransferOwnership(ctx context.Context, newOwner common.Address) (*types.OwnerResponse, error) {
	msg, err := c.signed(&types.TransferOwnershipRequest{
		AdminHeader: c.header(types.ActionTransferOwnership),
		NewOwner:    newOwner,
	})
	if err != nil {
		return nil, err
	}

	var resp types.OwnerResponse
	if err := c.do(ctx, http.MethodPost, "/v1/owner", msg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RedeemClient) Owner(ctx context.Context) (common.Address, error) {
	var resp types.OwnerResponse
	if err := c.doIdempotent(ctx, http.MethodGet, "/v1/owner", nil, &resp); err != nil {
		return common.Address{}, err
	}
	return resp.Owner, nil
}

func (c *RedeemClient) Claim(ctx context.Context, req *types.ClaimRequest) (*types.ClaimResponse, error) {
	var resp types.ClaimResponse
	if err := c.do(ctx, http.MethodPost, "/v1/claims", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RedeemClient) ClaimBatch(ctx context.Context, req *types.BatchClaimRequest) (*types.ClaimResponse, error) {
	var resp types.ClaimResponse
	if err := c.do(ctx, http.MethodPost, "/v1/claims/batch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RedeemClient) VerifyClaim(ctx context.Context, req *types.ClaimRequest) (bool, error) {
	var resp types.VerifyClaimResponse
	if err := c.doIdempotent(ctx, http.MethodPost, "/v1/claims/verify", req, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *RedeemClient) Claimed(ctx context.Context, epoch uint64, recipient common.Address) (bool, error) {
	var resp types.ClaimStatusResponse
	path := fmt.Sprintf("/v1/claims/%d/%s", epoch, recipient.Hex())
	if err := c.doIdempotent(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Claimed, nil
}

func (c *RedeemClient) Allocation(ctx context.Context, epoch uint64) (*types.AllocationResponse, error) {
	var resp types.AllocationResponse
	if err := c.doIdempotent(ctx, http.MethodGet, fmt.Sprintf("/v1/allocations/%d", epoch), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RedeemClient) Allocations(ctx context.Context) ([]types.AllocationResponse, error) {
	var resp []types.AllocationResponse
	if err := c.doIdempotent(ctx, http.MethodGet, "/v1/allocations", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Roots returns the roots of epochs start..end inclusive.
func (c *RedeemClient) Roots(ctx context.Context, start, end uint64) ([]common.Hash, error) {
	q := url.Values{}
	q.Set("start", fmt.Sprintf("%d", start))
	q.Set("end", fmt.Sprintf("%d", end))

	var resp types.RootsResponse
	if err := c.doIdempotent(ctx, http.MethodGet, "/v1/roots?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Roots, nil
}

func (c *RedeemClient) Health(ctx context.Context) error {
	return c.doIdempotent(ctx, http.MethodGet, "/healthz", nil, nil)
}
