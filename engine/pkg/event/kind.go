// Package event is the engine's event catalogue: discriminated payloads,
// the versioned record codec, the sequencing emitter and log framing.
package event

import "fmt"

// Kind is the payload discriminator carried as the first byte of the record data.
type Kind uint8

const (
	KindBurnLolly Kind = iota
	KindCloseEventEmitter
	KindCloseLollyBurnState
	KindCloseLollysLotto
	KindCloseLottoGame
	KindCreateLollyBurnState
	KindCreateLollysLotto
	KindStartLottoGame
	KindSwapUsdcLolly
	KindProcessWinningNumbers
	KindDuplicateWinningNumbers
	KindRequestWinningNumbers
	KindTestEmitWinningNumbers
	KindBuyLottoTicket
	KindClaimUserRewards
	KindCloseLottoTicket
	KindCloseUserMetadata
	KindCreateUserMetadata
	KindCrankLottoGameClosed
	KindCrankLottoGameWinners
	KindCrankTransferToBuyAndBurnVault
	KindCrankTransferWinningAmountToUserRewardsVault

	numKinds
)

var kindNames = [numKinds]string{
	KindBurnLolly:                                    "BurnLolly",
	KindCloseEventEmitter:                            "CloseEventEmitter",
	KindCloseLollyBurnState:                          "CloseLollyBurnState",
	KindCloseLollysLotto:                             "CloseLollysLotto",
	KindCloseLottoGame:                               "CloseLottoGame",
	KindCreateLollyBurnState:                         "CreateLollyBurnState",
	KindCreateLollysLotto:                            "CreateLollysLotto",
	KindStartLottoGame:                               "StartLottoGame",
	KindSwapUsdcLolly:                                "SwapUsdcLolly",
	KindProcessWinningNumbers:                        "ProcessWinningNumbers",
	KindDuplicateWinningNumbers:                      "DuplicateWinningNumbers",
	KindRequestWinningNumbers:                        "RequestWinningNumbers",
	KindTestEmitWinningNumbers:                       "TestEmitWinningNumbers",
	KindBuyLottoTicket:                               "BuyLottoTicket",
	KindClaimUserRewards:                             "ClaimUserRewards",
	KindCloseLottoTicket:                             "CloseLottoTicket",
	KindCloseUserMetadata:                            "CloseUserMetadata",
	KindCreateUserMetadata:                           "CreateUserMetadata",
	KindCrankLottoGameClosed:                         "CrankLottoGameClosed",
	KindCrankLottoGameWinners:                        "CrankLottoGameWinners",
	KindCrankTransferToBuyAndBurnVault:               "CrankTransferToBuyAndBurnVault",
	KindCrankTransferWinningAmountToUserRewardsVault: "CrankTransferWinningAmountToUserRewardsVault",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known payload kind.
func (k Kind) Valid() bool { return k < numKinds }

// Kinds returns every payload kind in tag order.
func Kinds() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}
