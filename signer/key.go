package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrMissingKey = errors.New("missing private key")

type keySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner creates a signer holding the private key in memory.
func NewKeySigner(key *ecdsa.PrivateKey) Signer {
	return txSigner{newKeySigner(key)}
}

func newKeySigner(key *ecdsa.PrivateKey) *keySigner {
	return &keySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func parseHexKey(s string) (*keySigner, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, ErrMissingKey
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("can't parse private key: %w", err)
	}
	return newKeySigner(key), nil
}

func newEnvKeySigner(name string) (*keySigner, error) {
	s, err := parseHexKey(os.Getenv(name))
	if err != nil {
		return nil, fmt.Errorf("env variable %s: %w", name, err)
	}
	return s, nil
}

func newFileKeySigner(path string) (*keySigner, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read key file: %w", err)
	}
	s, err := parseHexKey(string(blob))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return s, nil
}

func (s *keySigner) Address() common.Address {
	return s.address
}

func (s *keySigner) signHash(_ context.Context, hash []byte) ([]byte, error) {
	return crypto.Sign(hash, s.key)
}
