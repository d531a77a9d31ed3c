package signer

import (
	"context"
	"encoding/asn1"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func testTx() *types.Transaction {
	to := common.HexToAddress("0x01")
	return types.NewTx(&types.LegacyTx{
		Nonce:    1,
		GasPrice: big.NewInt(1e9),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(0),
	})
}

func requireSignedBy(t *testing.T, s Signer) {
	t.Helper()
	chainID := big.NewInt(100)
	signed, err := s.SignTx(context.Background(), testTx(), chainID)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	require.Equal(t, s.Address(), sender)
}

func TestNew_Env(t *testing.T) { //nolint:paralleltest
	t.Setenv("RELAYER_TEST_KEY", "0x"+testKeyHex)
	s, err := New(context.Background(), "env://RELAYER_TEST_KEY")
	require.NoError(t, err)
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
	requireSignedBy(t, s)

	_, err = New(context.Background(), "env://RELAYER_TEST_MISSING_KEY")
	require.ErrorIs(t, err, ErrMissingKey)
}

func TestNew_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte(testKeyHex+"\n"), 0o600))
	s, err := New(context.Background(), "file://"+path)
	require.NoError(t, err)
	requireSignedBy(t, s)
}

func TestNew_UnsupportedScheme(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "vault://key")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
	_, err = New(context.Background(), "plain-key")
	require.ErrorIs(t, err, ErrUnsupportedScheme)
	_, err = New(context.Background(), "amazonkms://not-an-arn")
	require.ErrorIs(t, err, ErrInvalidKmsKey)
}

type fakeKms struct {
	t      *testing.T
	highS  bool
	pubKey []byte
}

func (f *fakeKms) GetPublicKey(_ context.Context, _ *kms.GetPublicKeyInput, _ ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	return &kms.GetPublicKeyOutput{PublicKey: f.pubKey}, nil
}

func (f *fakeKms) Sign(_ context.Context, params *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(f.t, err)
	sig, err := crypto.Sign(params.Message, key)
	require.NoError(f.t, err)
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if f.highS {
		s = new(big.Int).Sub(secp256k1N, s)
	}
	der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	require.NoError(f.t, err)
	return &kms.SignOutput{Signature: der}, nil
}

func newFakeKms(t *testing.T, highS bool) *fakeKms {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	pubKey := crypto.FromECDSAPub(&key.PublicKey)
	der, err := asn1.Marshal(asn1EcPublicKey{
		EcPublicKeyInfo: asn1EcPublicKeyInfo{
			Algorithm:  asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1},
			Parameters: asn1.ObjectIdentifier{1, 3, 132, 0, 10},
		},
		PublicKey: asn1.BitString{Bytes: pubKey, BitLength: len(pubKey) * 8},
	})
	require.NoError(t, err)
	return &fakeKms{t: t, highS: highS, pubKey: der}
}

func TestAmazonKmsSigner(t *testing.T) {
	t.Parallel()

	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)

	for _, highS := range []bool{false, true} {
		highS := highS
		t.Run("high s "+map[bool]string{false: "off", true: "on"}[highS], func(t *testing.T) {
			t.Parallel()
			s, err := newAmazonKmsSignerWithClient(context.Background(), "arn:aws:kms:us-east-1:000000000000:key/test", newFakeKms(t, highS))
			require.NoError(t, err)
			require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
			requireSignedBy(t, txSigner{s})
		})
	}
}

func TestRegionFromArn(t *testing.T) {
	t.Parallel()

	require.Equal(t, "eu-west-1", regionFromArn("arn:aws:kms:eu-west-1:123456789012:key/abcd"))
	require.Empty(t, regionFromArn("abcd"))
	require.Empty(t, regionFromArn("arn:aws:kms"))
}
