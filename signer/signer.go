package signer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrUnsupportedScheme = errors.New("unsupported signer scheme")

// Signer signs destination chain transactions on behalf of a single account.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// hashSigner produces 65-byte recoverable signatures of 32-byte digests.
type hashSigner interface {
	Address() common.Address
	signHash(ctx context.Context, hash []byte) ([]byte, error)
}

type txSigner struct {
	hashSigner
}

func (s txSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	hash := signer.Hash(tx)
	sig, err := s.signHash(ctx, hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("can't sign transaction: %w", err)
	}
	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("can't apply signature: %w", err)
	}
	return signed, nil
}

// New creates a signer from an URI of one of the forms:
// env://VAR (hex private key in an environment variable),
// file://path (hex private key in a file),
// amazonkms://arn (AWS KMS secp256k1 key).
func New(ctx context.Context, uri string) (Signer, error) {
	scheme, path, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, fmt.Errorf("invalid signer uri %q: %w", uri, ErrUnsupportedScheme)
	}
	var (
		s   hashSigner
		err error
	)
	switch scheme {
	case "env":
		s, err = newEnvKeySigner(path)
	case "file":
		s, err = newFileKeySigner(path)
	case "amazonkms":
		s, err = newAmazonKmsSigner(ctx, path)
	default:
		return nil, fmt.Errorf("scheme %q: %w", scheme, ErrUnsupportedScheme)
	}
	if err != nil {
		return nil, err
	}
	return txSigner{s}, nil
}
