package transportSigner

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrHashMismatch     = errors.New("hash does not match keccak256(payload)")
	ErrInvalidSignature = errors.New("invalid signature")
)

// SignedMessage authenticates an administrative request. The signer address
// recovered from Signature is the caller identity.
type SignedMessage struct {
	Payload   hexutil.Bytes `json:"payload"`   // Raw request bytes
	Hash      common.Hash   `json:"hash"`      // keccak256(payload)
	Signature hexutil.Bytes `json:"signature"` // 65 byte [R || S || V] secp256k1 signature over hash
}

type ITransportSigner interface {
	CreateAuthenticatedMessage(data []byte) (*SignedMessage, error)
	SignMessage(data []byte) ([]byte, error) // Sign raw message bytes, returns signature
	Address() common.Address
}

// RecoverSigner checks the hash and returns the address that produced the signature.
// Both V encodings (0/1 and 27/28) are accepted.
func RecoverSigner(msg *SignedMessage) (common.Address, error) {
	if msg == nil {
		return common.Address{}, fmt.Errorf("%w: nil message", ErrInvalidSignature)
	}
	if crypto.Keccak256Hash(msg.Payload) != msg.Hash {
		return common.Address{}, ErrHashMismatch
	}
	if len(msg.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(msg.Signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, msg.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(msg.Hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
