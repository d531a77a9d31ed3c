package bridgeabi

//nolint:golint
import (
	_ "embed"

	"github.com/poanetwork/tokenbridge-relayer/contract/abi"
)

//go:embed bridge.json
var bridgeJSONABI string

const (
	TokensLocked   = "event TokensLocked(address indexed sender, address indexed recipient, uint256 amount, uint256 destinationChainId)"
	TokensUnlocked = "event TokensUnlocked(address indexed recipient, uint256 amount)"

	UnlockTokensMethod = "unlockTokens"
)

var (
	BridgeABI = abi.MustReadABI(bridgeJSONABI)

	TokensLockedEventSignature   = BridgeABI.Events["TokensLocked"].ID
	TokensUnlockedEventSignature = BridgeABI.Events["TokensUnlocked"].ID
)
