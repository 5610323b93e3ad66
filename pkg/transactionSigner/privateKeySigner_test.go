package transactionSigner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// anvil's first default account
const testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestParsePrivateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"with prefix", testPrivateKey, false},
		{"without prefix", testPrivateKey[2:], false},
		{"surrounding whitespace", "  " + testPrivateKey + "\n", false},
		{"too short", "0x1234", true},
		{"not hex", "0xzz0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParsePrivateKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", crypto.PubkeyToAddress(key.PublicKey).Hex())
		})
	}
}

func TestNewTransactionSigner_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewTransactionSigner(ctx, nil, nil, zap.NewNop())
	require.Error(t, err)

	_, err = NewTransactionSigner(ctx, &SignerConfig{}, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key cannot be empty")

	_, err = NewTransactionSigner(ctx, &SignerConfig{PrivateKey: testPrivateKey}, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend cannot be nil")
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

func TestMayHaveBroadcast(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, true},
		{"network timeout", fmt.Errorf("dial: %w", timeoutError{}), true},
		{"nonce too low", errors.New("nonce too low"), false},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mayHaveBroadcast(tt.err))
		})
	}
}
