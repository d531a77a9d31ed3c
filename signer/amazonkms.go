package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	kmsTimeout         = 15 * time.Second
	minKmsPubKeyLength = 65
)

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Div(secp256k1N, big.NewInt(2))

	ErrInvalidKmsKey       = errors.New("invalid kms key")
	ErrInvalidKmsSignature = errors.New("kms returned signature that does not match the key")
)

type asn1EcSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

type asn1EcPublicKey struct {
	EcPublicKeyInfo asn1EcPublicKeyInfo
	PublicKey       asn1.BitString
}

type asn1EcPublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type kmsClient interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

type amazonKmsSigner struct {
	keyID     string
	client    kmsClient
	publicKey ecdsa.PublicKey
	address   common.Address
}

// regionFromArn extracts the region from arn:partition:service:region:account-id:resource.
func regionFromArn(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		return ""
	}
	return parts[3]
}

func newAmazonKmsSigner(ctx context.Context, keyID string) (*amazonKmsSigner, error) {
	region := regionFromArn(keyID)
	if region == "" {
		return nil, fmt.Errorf("key %s: %w", keyID, ErrInvalidKmsKey)
	}
	ctx, cancel := context.WithTimeout(ctx, kmsTimeout)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx, config.WithDefaultRegion(region))
	if err != nil {
		return nil, fmt.Errorf("can't load aws config: %w", err)
	}
	return newAmazonKmsSignerWithClient(ctx, keyID, kms.NewFromConfig(cfg))
}

func newAmazonKmsSignerWithClient(ctx context.Context, keyID string, client kmsClient) (*amazonKmsSigner, error) {
	out, err := client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("can't get kms public key: %w", err)
	}
	var pubKey asn1EcPublicKey
	if _, err = asn1.Unmarshal(out.PublicKey, &pubKey); err != nil {
		return nil, fmt.Errorf("can't unmarshal kms public key: %w", err)
	}
	if len(pubKey.PublicKey.Bytes) < minKmsPubKeyLength {
		return nil, fmt.Errorf("public key length %d: %w", len(pubKey.PublicKey.Bytes), ErrInvalidKmsKey)
	}
	// 0x04 prefix, then 32 bytes of X and 32 bytes of Y
	publicKey := ecdsa.PublicKey{
		Curve: crypto.S256(),
		X:     new(big.Int).SetBytes(pubKey.PublicKey.Bytes[1 : 1+32]),
		Y:     new(big.Int).SetBytes(pubKey.PublicKey.Bytes[1+32:]),
	}
	return &amazonKmsSigner{
		keyID:     keyID,
		client:    client,
		publicKey: publicKey,
		address:   crypto.PubkeyToAddress(publicKey),
	}, nil
}

func (s *amazonKmsSigner) Address() common.Address {
	return s.address
}

func (s *amazonKmsSigner) signHash(ctx context.Context, hash []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, kmsTimeout)
	defer cancel()

	res, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          hash,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
		MessageType:      kmstypes.MessageTypeDigest,
	})
	if err != nil {
		return nil, fmt.Errorf("kms signing failed: %w", err)
	}
	var sig asn1EcSig
	if _, err = asn1.Unmarshal(res.Signature, &sig); err != nil {
		return nil, fmt.Errorf("can't decode kms signature: %w", err)
	}
	r, sv := sig.R.Bytes, sig.S.Bytes

	// only low-s signatures are valid on ethereum
	sInt := new(big.Int).SetBytes(sv)
	if sInt.Cmp(secp256k1HalfN) > 0 {
		sv = new(big.Int).Sub(secp256k1N, sInt).Bytes()
	}
	rs := append(padTo32(r), padTo32(sv)...)

	// kms does not return the recovery id
	expected := crypto.CompressPubkey(&s.publicKey)
	for _, recID := range []byte{0, 1} {
		candidate := append(append([]byte(nil), rs...), recID)
		pubKey, err := crypto.SigToPub(hash, candidate)
		if err == nil && bytes.Equal(crypto.CompressPubkey(pubKey), expected) {
			return candidate, nil
		}
	}
	return nil, ErrInvalidKmsSignature
}

func padTo32(b []byte) []byte {
	if len(b) == 32 {
		return b
	}
	if len(b) > 32 {
		return b[len(b)-32:]
	}
	res := make([]byte, 32)
	copy(res[32-len(b):], b)
	return res
}
