package event

import "github.com/gagliardetto/solana-go"

// Payload is one variant of the discriminated event data. Field order is
// wire order.
type Payload interface {
	Kind() Kind
}

type BurnLolly struct {
	Authority       solana.PublicKey
	LollyBurnState  solana.PublicKey
	LollyVault      solana.PublicKey
	BurntAmount     uint64
	TotalLollyBurnt uint64
}

type CloseEventEmitter struct {
	Authority    solana.PublicKey
	EventEmitter solana.PublicKey
}

type CloseLollyBurnState struct {
	Authority       solana.PublicKey
	LollyBurnState  solana.PublicKey
	TotalLollyBurnt uint64
}

type CloseLollysLotto struct {
	Authority      solana.PublicKey
	LollysLotto    solana.PublicKey
	LottoGameCount uint64
}

type CloseLottoGame struct {
	Authority solana.PublicKey
	LottoGame solana.PublicKey
	Round     uint64
	// ForfeitedPrizes is the unclaimed prize balance moved to the burn sink.
	ForfeitedPrizes uint64
}

type CreateLollyBurnState struct {
	Authority      solana.PublicKey
	LollyBurnState solana.PublicKey
	UsdcVault      solana.PublicKey
	LollyVault     solana.PublicKey
}

type CreateLollysLotto struct {
	Authority   solana.PublicKey
	LollysLotto solana.PublicKey
}

type StartLottoGame struct {
	Authority          solana.PublicKey
	LottoGame          solana.PublicKey
	LottoGameVault     solana.PublicKey
	Round              uint64
	RoundName          string
	TicketPrice        uint64
	GameDuration       uint64
	StartDate          int64
	EndDate            int64
	MaxNumbersInTicket [6]uint8
	Randomness         solana.PublicKey
}

type SwapUsdcLolly struct {
	Authority      solana.PublicKey
	LollyBurnState solana.PublicKey
	UsdcSwapped    uint64
	LollyReceived  uint64
}

// ProcessWinningNumbers reports a filled slot. When every slot is already
// filled Tier is TierNone and AllFilled is set.
type ProcessWinningNumbers struct {
	LottoGame      solana.PublicKey
	Round          uint64
	Randomness     [32]byte
	WinningNumbers [6]uint8
	Tier           uint8
	Index          uint32
	AllFilled      bool
}

// DuplicateWinningNumbers reports a candidate that matched an already filled
// slot at (DuplicateTier, DuplicateIndex).
type DuplicateWinningNumbers struct {
	LottoGame      solana.PublicKey
	Round          uint64
	Randomness     [32]byte
	WinningNumbers [6]uint8
	DuplicateTier  uint8
	DuplicateIndex uint32
}

type RequestWinningNumbers struct {
	Authority  solana.PublicKey
	LottoGame  solana.PublicKey
	Round      uint64
	Randomness solana.PublicKey
}

type TestEmitWinningNumbers struct {
	Authority      solana.PublicKey
	LottoGame      solana.PublicKey
	Round          uint64
	WinningNumbers [6]uint8
	Tier           uint8
	Index          uint32
}

type BuyLottoTicket struct {
	User            solana.PublicKey
	UserMetadata    solana.PublicKey
	UserTicketCount uint64
	LottoTicket     solana.PublicKey
	LottoGame       solana.PublicKey
	TicketsSold     uint64
	Round           uint64
	TicketNumber    uint64
	Numbers         [6]uint8
	TicketPrice     uint64
	BuyDate         int64
}

type ClaimUserRewards struct {
	User               solana.PublicKey
	UserMetadata       solana.PublicKey
	AmountClaimed      uint64
	TotalAmountClaimed uint64
	TotalAmountWon     uint64
	ClaimedAt          int64
}

type CloseLottoTicket struct {
	User        solana.PublicKey
	LottoTicket solana.PublicKey
	LottoGame   solana.PublicKey
	Round       uint64
}

type CloseUserMetadata struct {
	User         solana.PublicKey
	UserMetadata solana.PublicKey
}

type CreateUserMetadata struct {
	User             solana.PublicKey
	UserMetadata     solana.PublicKey
	UserRewardsVault solana.PublicKey
	CreatedTimestamp int64
}

type CrankLottoGameClosed struct {
	LottoGame   solana.PublicKey
	Round       uint64
	EndDate     int64
	ClosedAt    int64
	TicketsSold uint64
}

type CrankLottoGameWinners struct {
	LottoGame      solana.PublicKey
	LottoTicket    solana.PublicKey
	User           solana.PublicKey
	Round          uint64
	WinningNumbers [6]uint8
}

type CrankTransferToBuyAndBurnVault struct {
	LottoGame        solana.PublicKey
	Round            uint64
	LollyBurnState   solana.PublicKey
	UsdcVault        solana.PublicKey
	TotalPool        uint64
	BuyAndBurnAmount uint64
	DaoAmount        uint64
	FeesAmount       uint64
}

type CrankTransferWinningAmountToUserRewardsVault struct {
	LottoGame                           solana.PublicKey
	LottoTicket                         solana.PublicKey
	User                                solana.PublicKey
	UserMetadata                        solana.PublicKey
	UserRewardsVault                    solana.PublicKey
	Round                               uint64
	Tier                                uint8
	Index                               uint32
	WinningNumbers                      [6]uint8
	NumberOfTicketsWithDuplicateNumbers uint32
	WinningAmount                       uint64
	TotalAmountWon                      uint64
}

func (*BurnLolly) Kind() Kind { return KindBurnLolly }
func (*CloseEventEmitter) Kind() Kind { return KindCloseEventEmitter }
func (*CloseLollyBurnState) Kind() Kind { return KindCloseLollyBurnState }
func (*CloseLollysLotto) Kind() Kind { return KindCloseLollysLotto }
func (*CloseLottoGame) Kind() Kind { return KindCloseLottoGame }
func (*CreateLollyBurnState) Kind() Kind { return KindCreateLollyBurnState }
func (*CreateLollysLotto) Kind() Kind { return KindCreateLollysLotto }
func (*StartLottoGame) Kind() Kind { return KindStartLottoGame }
func (*SwapUsdcLolly) Kind() Kind { return KindSwapUsdcLolly }
func (*ProcessWinningNumbers) Kind() Kind { return KindProcessWinningNumbers }
func (*DuplicateWinningNumbers) Kind() Kind { return KindDuplicateWinningNumbers }
func (*RequestWinningNumbers) Kind() Kind { return KindRequestWinningNumbers }
func (*TestEmitWinningNumbers) Kind() Kind { return KindTestEmitWinningNumbers }
func (*BuyLottoTicket) Kind() Kind { return KindBuyLottoTicket }
func (*ClaimUserRewards) Kind() Kind { return KindClaimUserRewards }
func (*CloseLottoTicket) Kind() Kind { return KindCloseLottoTicket }
func (*CloseUserMetadata) Kind() Kind { return KindCloseUserMetadata }
func (*CreateUserMetadata) Kind() Kind { return KindCreateUserMetadata }
func (*CrankLottoGameClosed) Kind() Kind { return KindCrankLottoGameClosed }
func (*CrankLottoGameWinners) Kind() Kind { return KindCrankLottoGameWinners }
func (*CrankTransferToBuyAndBurnVault) Kind() Kind { return KindCrankTransferToBuyAndBurnVault }
func (*CrankTransferWinningAmountToUserRewardsVault) Kind() Kind {
	return KindCrankTransferWinningAmountToUserRewardsVault
}

// newPayload returns a pointer to a zero payload of kind k.
func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindBurnLolly:
		return &BurnLolly{}, nil
	case KindCloseEventEmitter:
		return &CloseEventEmitter{}, nil
	case KindCloseLollyBurnState:
		return &CloseLollyBurnState{}, nil
	case KindCloseLollysLotto:
		return &CloseLollysLotto{}, nil
	case KindCloseLottoGame:
		return &CloseLottoGame{}, nil
	case KindCreateLollyBurnState:
		return &CreateLollyBurnState{}, nil
	case KindCreateLollysLotto:
		return &CreateLollysLotto{}, nil
	case KindStartLottoGame:
		return &StartLottoGame{}, nil
	case KindSwapUsdcLolly:
		return &SwapUsdcLolly{}, nil
	case KindProcessWinningNumbers:
		return &ProcessWinningNumbers{}, nil
	case KindDuplicateWinningNumbers:
		return &DuplicateWinningNumbers{}, nil
	case KindRequestWinningNumbers:
		return &RequestWinningNumbers{}, nil
	case KindTestEmitWinningNumbers:
		return &TestEmitWinningNumbers{}, nil
	case KindBuyLottoTicket:
		return &BuyLottoTicket{}, nil
	case KindClaimUserRewards:
		return &ClaimUserRewards{}, nil
	case KindCloseLottoTicket:
		return &CloseLottoTicket{}, nil
	case KindCloseUserMetadata:
		return &CloseUserMetadata{}, nil
	case KindCreateUserMetadata:
		return &CreateUserMetadata{}, nil
	case KindCrankLottoGameClosed:
		return &CrankLottoGameClosed{}, nil
	case KindCrankLottoGameWinners:
		return &CrankLottoGameWinners{}, nil
	case KindCrankTransferToBuyAndBurnVault:
		return &CrankTransferToBuyAndBurnVault{}, nil
	case KindCrankTransferWinningAmountToUserRewardsVault:
		return &CrankTransferWinningAmountToUserRewardsVault{}, nil
	}
	return nil, ErrUnknownKind
}
