package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// LeafEncoding selects the byte layout hashed into a leaf. The layout is part of the
// external contract: distribution tooling and the claim engine must agree on it.
type LeafEncoding string

const (
	// EncodingPacked is keccak256(address[20] || uint256(amount)[32]), identical to
	// solidityKeccak256(["bytes","uint"], [address, amount]). The epoch is bound by
	// the per-epoch root rather than by the leaf.
	EncodingPacked LeafEncoding = "packed"

	// EncodingEpochBound is keccak256(address[20] || uint256(epoch)[32] || uint256(amount)[32]).
	EncodingEpochBound LeafEncoding = "epoch-bound"
)

var ErrAmountOutOfRange = errors.New("amount must be an unsigned 256-bit integer")

func (e LeafEncoding) String() string {
	return string(e)
}

// LeafEncoder turns an allocation into a leaf hash.
type LeafEncoder interface {
	EncodeLeaf(recipient common.Address, epoch uint64, amount *big.Int) (common.Hash, error)
	Encoding() LeafEncoding
}

// NewLeafEncoder returns the encoder for the given layout.
func NewLeafEncoder(encoding LeafEncoding) (LeafEncoder, error) {
	switch encoding {
	case EncodingPacked, "":
		return packedEncoder{}, nil
	case EncodingEpochBound:
		return epochBoundEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported leaf encoding: %s", encoding)
	}
}

// EncodeLeaf hashes an allocation with the default packed layout.
func EncodeLeaf(recipient common.Address, epoch uint64, amount *big.Int) (common.Hash, error) {
	return packedEncoder{}.EncodeLeaf(recipient, epoch, amount)
}

type packedEncoder struct{}

func (packedEncoder) Encoding() LeafEncoding { return EncodingPacked }

func (packedEncoder) EncodeLeaf(recipient common.Address, _ uint64, amount *big.Int) (common.Hash, error) {
	if !types.IsUint256(amount) {
		return common.Hash{}, ErrAmountOutOfRange
	}
	data := make([]byte, 0, common.AddressLength+32)
	data = append(data, recipient.Bytes()...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return crypto.Keccak256Hash(data), nil
}

type epochBoundEncoder struct{}

func (epochBoundEncoder) Encoding() LeafEncoding { return EncodingEpochBound }

func (epochBoundEncoder) EncodeLeaf(recipient common.Address, epoch uint64, amount *big.Int) (common.Hash, error) {
	if !types.IsUint256(amount) {
		return common.Hash{}, ErrAmountOutOfRange
	}
	data := make([]byte, 0, common.AddressLength+64)
	data = append(data, recipient.Bytes()...)
	data = append(data, common.LeftPadBytes(new(big.Int).SetUint64(epoch).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return crypto.Keccak256Hash(data), nil
}
