package bridgeabi_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/poanetwork/tokenbridge-relayer/contract/bridgeabi"
)

func TestEventSignatures(t *testing.T) {
	t.Parallel()

	require.Equal(t, crypto.Keccak256Hash([]byte("TokensLocked(address,address,uint256,uint256)")), bridgeabi.TokensLockedEventSignature)
	require.NotZero(t, bridgeabi.TokensUnlockedEventSignature)
}

func TestAllEvents(t *testing.T) {
	t.Parallel()

	events := bridgeabi.BridgeABI.AllEvents()
	require.True(t, events[bridgeabi.TokensLocked])
	require.True(t, events[bridgeabi.TokensUnlocked])
	require.Contains(t, bridgeabi.BridgeABI.Methods, bridgeabi.UnlockTokensMethod)
}
