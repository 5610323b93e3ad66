package transportSigner_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/transportSigner"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/transportSigner/inMemoryTransportSigner"
)

func newSigner(t *testing.T) *inMemoryTransportSigner.InMemoryTransportSigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return inMemoryTransportSigner.NewInMemoryTransportSigner(key, zap.NewNop())
}

func TestRecoverSigner(t *testing.T) {
	signer := newSigner(t)

	msg, err := signer.CreateAuthenticatedMessage([]byte(`{"epoch":1}`))
	require.NoError(t, err)

	addr, err := transportSigner.RecoverSigner(msg)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)
}

func TestRecoverSigner_LegacyV(t *testing.T) {
	signer := newSigner(t)

	msg, err := signer.CreateAuthenticatedMessage([]byte("payload"))
	require.NoError(t, err)
	msg.Signature[crypto.RecoveryIDOffset] += 27

	addr, err := transportSigner.RecoverSigner(msg)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)
}

func TestRecoverSigner_Rejects(t *testing.T) {
	signer := newSigner(t)

	tests := []struct {
		name    string
		mutate  func(m *transportSigner.SignedMessage)
		wantErr error
	}{
		{
			name:    "tampered payload",
			mutate:  func(m *transportSigner.SignedMessage) { m.Payload = []byte("other") },
			wantErr: transportSigner.ErrHashMismatch,
		},
		{
			name:    "short signature",
			mutate:  func(m *transportSigner.SignedMessage) { m.Signature = m.Signature[:64] },
			wantErr: transportSigner.ErrInvalidSignature,
		},
		{
			name:    "bad recovery id",
			mutate:  func(m *transportSigner.SignedMessage) { m.Signature[crypto.RecoveryIDOffset] = 9 },
			wantErr: transportSigner.ErrInvalidSignature,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := signer.CreateAuthenticatedMessage([]byte("payload"))
			require.NoError(t, err)
			tt.mutate(msg)

			_, err = transportSigner.RecoverSigner(msg)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := transportSigner.RecoverSigner(nil)
	require.ErrorIs(t, err, transportSigner.ErrInvalidSignature)
}

func TestRecoverSigner_DifferentKeyDifferentAddress(t *testing.T) {
	a, b := newSigner(t), newSigner(t)

	msg, err := a.CreateAuthenticatedMessage([]byte("payload"))
	require.NoError(t, err)

	addr, err := transportSigner.RecoverSigner(msg)
	require.NoError(t, err)
	assert.NotEqual(t, b.Address(), addr)
}

func TestNewECDSAInMemoryTransportSigner(t *testing.T) {
	s, err := inMemoryTransportSigner.NewECDSAInMemoryTransportSigner(
		"0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	_, err = inMemoryTransportSigner.NewECDSAInMemoryTransportSigner("nope", zap.NewNop())
	require.Error(t, err)
}
