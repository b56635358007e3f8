package lotto

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/lolly/engine/pkg/event"
	"github.com/malbeclabs/lolly/engine/pkg/ledger"
	"github.com/malbeclabs/lolly/engine/pkg/state"
	"github.com/malbeclabs/lolly/engine/pkg/swap"
)

func TestLolly_Lotto_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	require.Error(t, cfg.Validate())

	f := newFixture(t)
	cfg = f.engine.cfg
	cfg.Clock = nil
	cfg.MaxNumbers = [6]uint8{}
	cfg.StartSlot = 0
	require.NoError(t, cfg.Validate())
	assert.NotNil(t, cfg.Clock)
	assert.Equal(t, MaxNumbersV1, cfg.MaxNumbers)
	assert.Equal(t, uint64(1), cfg.StartSlot)

	cfg.DaoAccount = solana.PublicKey{}
	assert.ErrorContains(t, cfg.Validate(), "dao account")
}

func TestLolly_Lotto_Records_Sizes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 9104, GameSize)
	assert.Equal(t, GameSize, binary.Size(&Game{}))
	assert.Equal(t, RegistrySize, binary.Size(&Registry{}))
	assert.Equal(t, TicketSize, binary.Size(&Ticket{}))
	assert.Equal(t, UserMetadataSize, binary.Size(&UserMetadata{}))
	assert.Equal(t, BurnStateSize, binary.Size(&BurnState{}))
	assert.Equal(t, TotalSlots, 1+len(Game{}.Tier1)+len(Game{}.Tier2)+len(Game{}.Tier3))
}

func TestLolly_Lotto_Records_GameLayoutOffsets(t *testing.T) {
	t.Parallel()

	g := &Game{
		Bump:               7,
		State:              GameStateClosed,
		Round:              3,
		MaxNumbersInTicket: [6]uint8{1, 2, 3, 4, 5, 6},
	}
	g.Jackpot[0] = Slot{Numbers: [6]uint8{9, 8, 7, 6, 5, 4}, Updated: true}
	g.Tier3[999] = Slot{Numbers: [6]uint8{1, 1, 1, 1, 1, 1}, Updated: true, Disbursed: true}

	data, err := g.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, data, GameSize)

	assert.Equal(t, uint8(7), data[0])
	assert.Equal(t, uint32(GameStateClosed), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(data[40:48]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, data[176:182])
	assert.Equal(t, []byte{9, 8, 7, 6, 5, 4, 1, 0}, data[216:224])
	assert.Equal(t, []byte{1, 1, 1, 1, 1, 1, 1, 1}, data[GameSize-8:])

	decoded, err := DecodeGame(data)
	require.NoError(t, err)
	assert.Equal(t, g, decoded)

	_, err = DecodeGame(data[:100])
	assert.Error(t, err)
}

func TestLolly_Lotto_Errors_StableCodes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(6000), ErrInvalidRound.Code)
	assert.Equal(t, uint32(6006), ErrLottoGameNotOpen.Code)

	seen := map[string]bool{}
	for i, e := range Errors() {
		assert.Equal(t, uint32(ErrorCodeOffset+i), e.Code)
		assert.False(t, seen[e.Name], e.Name)
		seen[e.Name] = true
		got, ok := ErrorByCode(e.Code)
		require.True(t, ok)
		assert.Same(t, e, got)
	}
	_, ok := ErrorByCode(5999)
	assert.False(t, ok)

	code, ok := ErrorCode(wrap(ErrMathError, "detail"))
	require.True(t, ok)
	assert.Equal(t, ErrMathError.Code, code)
	_, ok = ErrorCode(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestLolly_Lotto_SequentialRounds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.startGame(0, 100_000)
	assert.Equal(t, uint64(1), f.registry().LottoGameCount)

	f.startGame(1, 100_000)
	assert.Equal(t, uint64(2), f.registry().LottoGameCount)

	_, err := f.engine.StartGame(f.authority, StartGameParams{Round: 0, TicketPrice: 100_000, GameDuration: 86_400})
	assert.ErrorIs(t, err, ErrInvalidRound)
	_, err = f.engine.StartGame(f.authority, StartGameParams{Round: 5, TicketPrice: 100_000, GameDuration: 86_400})
	assert.ErrorIs(t, err, ErrInvalidRound)
	_, err = f.engine.StartGame(f.authority, StartGameParams{Round: 2, TicketPrice: 100_000})
	assert.ErrorIs(t, err, ErrInvalidGameDuration)
	assert.Equal(t, uint64(2), f.registry().LottoGameCount)

	g := f.game(1)
	assert.Equal(t, GameStateOpen, g.State)
	assert.Equal(t, g.StartDate+86_400, g.EndDate)
	assert.Equal(t, testMaxNumbers, g.MaxNumbersInTicket)
	assert.Equal(t, GameVersionV1, g.Version)
}

func TestLolly_Lotto_StartGame_DefaultMaxNumbers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	txn, err := f.engine.StartGame(f.authority, StartGameParams{Round: 0, RoundName: "genesis", TicketPrice: 5, GameDuration: 60})
	require.NoError(t, err)
	assert.Equal(t, MaxNumbersV1, f.game(0).MaxNumbersInTicket)

	ev := lastEvent[*event.StartLottoGame](t, txn)
	assert.Equal(t, "genesis", ev.RoundName)
	assert.Equal(t, MaxNumbersV1, ev.MaxNumbersInTicket)
	assert.Equal(t, f.game(0).Vault, ev.LottoGameVault)
}

func TestLolly_Lotto_TicketUniqueness(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	user := f.newUser(1_000_000)
	vault := f.game(0).Vault

	txn, err := f.engine.BuyTicket(user, f.authority, 0, [6]uint8{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	ev := lastEvent[*event.BuyLottoTicket](t, txn)
	assert.Equal(t, uint64(0), ev.TicketNumber)
	assert.Equal(t, uint64(1), ev.TicketsSold)
	assert.Equal(t, uint64(1), f.game(0).TicketsSold)
	assert.Equal(t, uint64(100_000), f.balance(vault))

	txn, err = f.engine.BuyTicket(user, f.authority, 0, [6]uint8{1, 2, 3, 4, 5, 7})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lastEvent[*event.BuyLottoTicket](t, txn).TicketNumber)
	assert.Equal(t, uint64(200_000), f.balance(vault))

	_, err = f.engine.BuyTicket(user, f.authority, 0, [6]uint8{1, 2, 3, 4, 5, 6})
	assert.ErrorIs(t, err, ErrTicketAlreadyExists)
	assert.Equal(t, uint64(200_000), f.balance(vault))
	assert.Equal(t, uint64(2), f.game(0).TicketsSold)
	assert.Equal(t, uint64(2), f.metadata(user).TotalTicketsPurchased)
	assert.Equal(t, uint64(800_000), f.usdcBalance(user))

	// A different buyer may hold the same numbers.
	other := f.newUser(100_000)
	_, err = f.engine.BuyTicket(other, f.authority, 0, [6]uint8{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.ticket(other, 0, [6]uint8{1, 2, 3, 4, 5, 6}).TicketNumber)
}

func TestLolly_Lotto_BuyTicket_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)

	poor := f.newUser(99_999)
	_, err := f.engine.BuyTicket(poor, f.authority, 0, [6]uint8{1, 1, 1, 1, 1, 1})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	user := f.newUser(1_000_000)
	_, err = f.engine.BuyTicket(user, f.authority, 0, [6]uint8{1, 1, 1, 1, 1, 10})
	assert.ErrorIs(t, err, ErrInvalidNumbersInTicket)
	_, err = f.engine.BuyTicket(user, f.authority, 0, [6]uint8{9, 9, 9, 9, 9, 9})
	require.NoError(t, err)

	stranger := solana.NewWallet().PublicKey()
	f.fund(stranger, 1_000_000)
	_, err = f.engine.BuyTicket(stranger, f.authority, 0, [6]uint8{1, 1, 1, 1, 1, 1})
	assert.ErrorIs(t, err, ErrAccountNotInitialized)

	_, err = f.engine.BuyTicket(user, f.authority, 7, [6]uint8{1, 1, 1, 1, 1, 1})
	assert.ErrorIs(t, err, ErrAccountNotInitialized)
}

func TestLolly_Lotto_BuyTicket_LateAttemptClosesRound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	user := f.newUser(1_000_000)

	f.clock.Advance(86_401 * time.Second)
	txn, err := f.engine.BuyTicket(user, f.authority, 0, [6]uint8{1, 2, 3, 4, 5, 6})
	require.ErrorIs(t, err, ErrLottoGameEnded)
	assert.Equal(t, GameStateClosed, f.game(0).State)
	assert.Equal(t, uint64(1_000_000), f.usdcBalance(user))
	assert.Empty(t, txn.Events)
	assert.Contains(t, txn.Logs[len(txn.Logs)-1], fmt.Sprintf("custom program error: 0x%x", ErrLottoGameEnded.Code))

	_, err = f.engine.BuyTicket(user, f.authority, 0, [6]uint8{1, 2, 3, 4, 5, 6})
	assert.ErrorIs(t, err, ErrLottoGameNotOpen)
	_, err = f.engine.CloseRound(f.authority, 0)
	assert.ErrorIs(t, err, ErrGameAlreadyClosed)
}

func TestLolly_Lotto_CloseRound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)

	_, err := f.engine.CloseRound(f.authority, 0)
	assert.ErrorIs(t, err, ErrLottoGameIsStillOpen)

	f.clock.Advance(86_400 * time.Second)
	_, err = f.engine.CloseRound(f.authority, 0)
	assert.ErrorIs(t, err, ErrLottoGameIsStillOpen, "end date itself is still open")

	f.clock.Advance(time.Second)
	txn, err := f.engine.CloseRound(f.authority, 0)
	require.NoError(t, err)
	ev := lastEvent[*event.CrankLottoGameClosed](t, txn)
	assert.Equal(t, f.game(0).EndDate+1, ev.ClosedAt)
	assert.Equal(t, GameStateClosed, f.game(0).State)

	_, err = f.engine.CloseRound(f.authority, 0)
	assert.ErrorIs(t, err, ErrGameAlreadyClosed)
}

func TestLolly_Lotto_ProcessWinningNumbers_DuplicateRejection(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	f.closeRound(0)

	txn := f.draw(0, [6]uint8{1, 2, 3, 4, 5, 6})
	ev := lastEvent[*event.ProcessWinningNumbers](t, txn)
	assert.Equal(t, uint8(TierJackpot), ev.Tier)
	assert.Equal(t, uint32(0), ev.Index)
	assert.False(t, ev.AllFilled)
	g := f.game(0)
	assert.True(t, g.Jackpot[0].Updated)
	assert.Equal(t, [6]uint8{1, 2, 3, 4, 5, 6}, g.Jackpot[0].Numbers)
	assert.True(t, g.Randomness.IsZero(), "binding is consumed")

	txn = f.draw(0, [6]uint8{1, 2, 3, 4, 5, 6})
	dup := lastEvent[*event.DuplicateWinningNumbers](t, txn)
	assert.Equal(t, uint8(TierJackpot), dup.DuplicateTier)
	assert.Equal(t, uint32(0), dup.DuplicateIndex)
	g = f.game(0)
	assert.False(t, g.Tier1[0].Updated)
	assert.Equal(t, 1, g.FilledSlots())

	txn = f.draw(0, [6]uint8{1, 2, 3, 4, 5, 7})
	ev = lastEvent[*event.ProcessWinningNumbers](t, txn)
	assert.Equal(t, uint8(Tier1), ev.Tier)
	assert.Equal(t, uint32(0), ev.Index)
	assert.Equal(t, 2, f.game(0).FilledSlots())
}

func TestLolly_Lotto_ProcessWinningNumbers_Reduction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 1)
	f.closeRound(0)

	ref := solana.NewWallet().PublicKey()
	var value [32]byte
	copy(value[:], []byte{200, 19, 9, 10, 255, 0})
	f.rnd.CommitResolved(ref, value)
	_, err := f.engine.RequestWinningNumbers(f.authority, 0, ref)
	require.NoError(t, err)
	txn, err := f.engine.ProcessWinningNumbers(f.authority, 0)
	require.NoError(t, err)

	ev := lastEvent[*event.ProcessWinningNumbers](t, txn)
	assert.Equal(t, [6]uint8{200 % 9, 19 % 9, 0, 1, 255 % 9, 0}, ev.WinningNumbers)
	assert.Equal(t, value, ev.Randomness)
}

func TestLolly_Lotto_ProcessWinningNumbers_Preconditions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)

	_, err := f.engine.ProcessWinningNumbers(f.authority, 0)
	assert.ErrorIs(t, err, ErrGameNotClosed)
	_, err = f.engine.RequestWinningNumbers(f.authority, 0, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrGameNotClosed)

	f.closeRound(0)
	_, err = f.engine.ProcessWinningNumbers(f.authority, 0)
	assert.ErrorIs(t, err, ErrOnDemandRandomnessNotResolved)

	ref := solana.NewWallet().PublicKey()
	f.rnd.Commit(ref, [32]byte{1})
	_, err = f.engine.RequestWinningNumbers(f.authority, 0, ref)
	require.NoError(t, err)
	_, err = f.engine.ProcessWinningNumbers(f.authority, 0)
	assert.ErrorIs(t, err, ErrOnDemandRandomnessNotResolved)
	assert.Equal(t, ref, f.game(0).Randomness, "failed reveal keeps the binding")

	require.NoError(t, f.rnd.Resolve(ref))
	_, err = f.engine.ProcessWinningNumbers(f.authority, 0)
	require.NoError(t, err)

	_, err = f.engine.RequestWinningNumbers(solana.NewWallet().PublicKey(), 0, ref)
	assert.ErrorIs(t, err, ErrAccountNotInitialized, "other authorities address other games")
}

func TestLolly_Lotto_ProcessWinningNumbers_ZeroBound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	bounds := [6]uint8{9, 9, 0, 9, 9, 9}
	_, err := f.engine.StartGame(f.authority, StartGameParams{Round: 0, TicketPrice: 1, GameDuration: 10, MaxNumbers: &bounds})
	require.NoError(t, err)
	f.clock.Advance(11 * time.Second)
	_, err = f.engine.CloseRound(f.authority, 0)
	require.NoError(t, err)

	ref := solana.NewWallet().PublicKey()
	f.rnd.CommitResolved(ref, [32]byte{1, 2, 3})
	_, err = f.engine.RequestWinningNumbers(f.authority, 0, ref)
	require.NoError(t, err)
	_, err = f.engine.ProcessWinningNumbers(f.authority, 0)
	assert.ErrorIs(t, err, ErrMathError)
}

func TestLolly_Lotto_ProcessWinningNumbers_AllFilled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	f.closeRound(0)

	gameAddr, _, err := f.engine.Addresses().Game(f.authority, 0)
	require.NoError(t, err)
	require.NoError(t, f.store.Update(func(tx state.Tx) error {
		g, err := loadRecord[Game](tx, gameAddr)
		if err != nil {
			return err
		}
		for _, tier := range Tiers() {
			for i := range g.Slots(tier) {
				s := &g.Slots(tier)[i]
				s.Updated = true
				s.Numbers = [6]uint8{uint8(tier), uint8(i / 100), uint8(i / 10 % 10), uint8(i % 10), 0, 0}
			}
		}
		return putRecord(tx, gameAddr, g)
	}))

	before := f.game(0)
	txn := f.draw(0, [6]uint8{1, 1, 1, 1, 1, 1})
	ev := lastEvent[*event.ProcessWinningNumbers](t, txn)
	assert.True(t, ev.AllFilled)
	assert.Equal(t, uint8(TierNone), ev.Tier)
	after := f.game(0)
	assert.Equal(t, before.Tier3, after.Tier3)
	assert.Equal(t, TotalSlots, after.FilledSlots())
	assert.True(t, after.Randomness.IsZero())

	_, err = f.engine.ProcessWinningNumbers(f.authority, 0)
	assert.ErrorIs(t, err, ErrOnDemandRandomnessNotResolved)
}

func TestLolly_Lotto_TestEmitWinningNumbers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	f.closeRound(0)

	txn, err := f.engine.TestEmitWinningNumbers(f.authority, 0, Tier2, 42, [6]uint8{4, 4, 4, 4, 4, 4})
	require.NoError(t, err)
	ev := lastEvent[*event.TestEmitWinningNumbers](t, txn)
	assert.Equal(t, uint8(Tier2), ev.Tier)
	assert.Equal(t, uint32(42), ev.Index)
	assert.True(t, f.game(0).Tier2[42].Updated)

	txn, err = f.engine.TestEmitWinningNumbers(f.authority, 0, Tier3, 1, [6]uint8{4, 4, 4, 4, 4, 4})
	require.NoError(t, err)
	dup := lastEvent[*event.DuplicateWinningNumbers](t, txn)
	assert.Equal(t, uint8(Tier2), dup.DuplicateTier)
	assert.Equal(t, uint32(42), dup.DuplicateIndex)
	assert.False(t, f.game(0).Tier3[1].Updated)

	_, err = f.engine.TestEmitWinningNumbers(f.authority, 0, Tier1, 10, [6]uint8{})
	assert.ErrorIs(t, err, ErrInvalidWinningNumberIndex)
	_, err = f.engine.TestEmitWinningNumbers(f.authority, 0, Tier(4), 0, [6]uint8{})
	assert.ErrorIs(t, err, ErrInvalidWinningTier)
	_, err = f.engine.TestEmitWinningNumbers(f.authority, 0, Tier1, 0, [6]uint8{10})
	assert.ErrorIs(t, err, ErrInvalidNumbersInTicket)

	// Random fills still start from the first free slot.
	txn = f.draw(0, [6]uint8{5, 5, 5, 5, 5, 5})
	assert.Equal(t, uint8(TierJackpot), lastEvent[*event.ProcessWinningNumbers](t, txn).Tier)
}

func TestLolly_Lotto_CrankLottoGameWinners(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	winner := f.newUser(1_000_000)
	loser := f.newUser(1_000_000)
	_, err := f.engine.BuyTicket(winner, f.authority, 0, [6]uint8{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	_, err = f.engine.BuyTicket(loser, f.authority, 0, [6]uint8{6, 5, 4, 3, 2, 1})
	require.NoError(t, err)
	f.closeRound(0)

	_, err = f.engine.CrankLottoGameWinners(winner, f.authority, 0)
	assert.ErrorIs(t, err, ErrJackpotWinningNumbersNotUpdated)

	f.draw(0, [6]uint8{1, 2, 3, 4, 5, 6})
	_, err = f.engine.CrankLottoGameWinners(loser, f.authority, 0)
	assert.ErrorIs(t, err, ErrInvalidWinningTicket)

	txn, err := f.engine.CrankLottoGameWinners(winner, f.authority, 0)
	require.NoError(t, err)
	ev := lastEvent[*event.CrankLottoGameWinners](t, txn)
	assert.Equal(t, f.game(0).JackpotTicket, ev.LottoTicket)
	assert.True(t, f.ticket(winner, 0, [6]uint8{1, 2, 3, 4, 5, 6}).IsChecked)

	_, err = f.engine.CrankLottoGameWinners(winner, f.authority, 0)
	assert.ErrorIs(t, err, ErrAlreadyDeclaredWinner)
}

func TestLolly_Lotto_TransferWinningAmount_PrizeDivisionOnCollision(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)

	winning := [6]uint8{1, 2, 3, 4, 5, 6}
	u1 := f.newUser(1_000_000)
	u2 := f.newUser(1_000_000)
	filler := f.newUser(10_000_000)
	_, err := f.engine.BuyTicket(u1, f.authority, 0, winning)
	require.NoError(t, err)
	_, err = f.engine.BuyTicket(u2, f.authority, 0, winning)
	require.NoError(t, err)
	for i := uint8(0); i < 8; i++ {
		_, err = f.engine.BuyTicket(filler, f.authority, 0, [6]uint8{0, 0, 0, 0, 0, i})
		require.NoError(t, err)
	}
	f.closeRound(0)

	for i := uint8(0); i < 4; i++ {
		f.draw(0, [6]uint8{8, 8, 8, 8, 8, i})
	}
	txn := f.draw(0, winning)
	ev := lastEvent[*event.ProcessWinningNumbers](t, txn)
	require.Equal(t, uint8(Tier1), ev.Tier)
	require.Equal(t, uint32(3), ev.Index)

	split, err := ComputeSplit(100_000, 10)
	require.NoError(t, err)
	nominal := split.SlotNominal[Tier1]
	assert.Equal(t, uint64(10_000), nominal)

	wrong := uint32(0)
	_, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{
		Round: 0, WinningNumbers: winning, Users: []solana.PublicKey{u1, u2}, DuplicateCount: &wrong,
	})
	assert.ErrorIs(t, err, ErrInvalidWinningTicket)

	dupCount := uint32(1)
	txn, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{
		Round: 0, WinningNumbers: winning, Users: []solana.PublicKey{u1, u2}, DuplicateCount: &dupCount,
	})
	require.NoError(t, err)
	require.Len(t, txn.Events, 2)
	for i, user := range []solana.PublicKey{u1, u2} {
		ev := txn.Events[i].Data.(*event.CrankTransferWinningAmountToUserRewardsVault)
		assert.Equal(t, user, ev.User)
		assert.Equal(t, nominal/2, ev.WinningAmount)
		assert.Equal(t, uint32(1), ev.NumberOfTicketsWithDuplicateNumbers)
		assert.Equal(t, uint8(Tier1), ev.Tier)
		assert.Equal(t, uint32(3), ev.Index)

		tk := f.ticket(user, 0, winning)
		assert.Equal(t, uint16(1), tk.IsWinner)
		assert.Equal(t, nominal/2, tk.Prize)
		assert.Equal(t, uint32(1), tk.IsDuplicated)
		assert.Equal(t, nominal/2, f.metadata(user).TotalAmountWon)
		assert.Equal(t, nominal/2, f.rewardsBalance(user))
	}
	assert.True(t, f.game(0).Tier1[3].Disbursed)

	_, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{
		Round: 0, WinningNumbers: winning, Users: []solana.PublicKey{u1},
	})
	assert.ErrorIs(t, err, ErrTier1AmountAlreadyDisbursed)
}

func TestLolly_Lotto_TransferWinningAmount_Preconditions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	user := f.newUser(1_000_000)
	numbers := [6]uint8{3, 3, 3, 3, 3, 3}
	_, err := f.engine.BuyTicket(user, f.authority, 0, numbers)
	require.NoError(t, err)

	params := TransferWinningAmountParams{Round: 0, WinningNumbers: numbers, Users: []solana.PublicKey{user}}
	_, err = f.engine.TransferWinningAmount(f.authority, params)
	assert.ErrorIs(t, err, ErrGameNotClosed)

	f.closeRound(0)
	_, err = f.engine.TransferWinningAmount(f.authority, params)
	assert.ErrorIs(t, err, ErrWinningNumbersNotSet)

	f.draw(0, [6]uint8{1, 1, 1, 1, 1, 1})
	_, err = f.engine.TransferWinningAmount(f.authority, params)
	assert.ErrorIs(t, err, ErrTier1WinningNumbersNotUpdated)

	_, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{Round: 0, WinningNumbers: numbers})
	assert.ErrorIs(t, err, ErrInvalidWinningTicket)

	f.draw(0, numbers)
	_, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{
		Round: 0, WinningNumbers: numbers, Users: []solana.PublicKey{user, user},
	})
	assert.ErrorIs(t, err, ErrInvalidWinningTicket)

	_, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{
		Round: 0, WinningNumbers: numbers, Users: []solana.PublicKey{f.newUser(0)},
	})
	assert.ErrorIs(t, err, ErrInvalidWinningTicket)
	assert.False(t, f.game(0).Tier1[0].Disbursed)

	_, err = f.engine.TransferWinningAmount(f.authority, params)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000)/100, f.metadata(user).TotalAmountWon)
}

func TestLolly_Lotto_ClaimUserRewards_Bound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.newUser(0)

	metaAddr, _, err := f.engine.Addresses().UserMetadata(user)
	require.NoError(t, err)
	vault, err := f.engine.Addresses().UserRewardsVault(metaAddr)
	require.NoError(t, err)
	require.NoError(t, f.store.Update(func(tx state.Tx) error {
		m, err := loadRecord[UserMetadata](tx, metaAddr)
		if err != nil {
			return err
		}
		m.TotalAmountWon = 1_000
		m.TotalAmountClaimed = 200
		if err := putRecord(tx, metaAddr, m); err != nil {
			return err
		}
		return ledger.New(tx).MintTo(f.usdc, vault, 800)
	}))

	_, err = f.engine.ClaimUserRewards(user, 900)
	assert.ErrorIs(t, err, ErrNotSufficientRewardsInVault)
	_, err = f.engine.ClaimUserRewards(user, 0)
	assert.ErrorIs(t, err, ErrNoRewardsToClaimFromVault)

	f.clock.Advance(time.Minute)
	txn, err := f.engine.ClaimUserRewards(user, 800)
	require.NoError(t, err)
	ev := lastEvent[*event.ClaimUserRewards](t, txn)
	assert.Equal(t, uint64(1_000), ev.TotalAmountClaimed)

	m := f.metadata(user)
	assert.Equal(t, uint64(1_000), m.TotalAmountClaimed)
	assert.LessOrEqual(t, m.TotalAmountClaimed, m.TotalAmountWon)
	assert.Equal(t, f.clock.Now().Unix(), m.LastClaimedAt)
	assert.Equal(t, ClaimTicket{ClaimedAmount: 800, CreatedAt: m.LastClaimedAt}, m.ClaimTickets[0])
	assert.Equal(t, uint64(800), f.usdcBalance(user))
	assert.Zero(t, f.rewardsBalance(user))

	_, err = f.engine.ClaimUserRewards(user, 1)
	assert.ErrorIs(t, err, ErrNoRewardsToClaimFromVault)
}

func TestLolly_Lotto_UserMetadata_ClaimRingWraps(t *testing.T) {
	t.Parallel()
	m := &UserMetadata{}
	for i := 0; i < ClaimTicketCapacity+2; i++ {
		m.recordClaim(uint64(i), int64(i))
	}
	assert.Equal(t, uint64(ClaimTicketCapacity+2), m.ClaimCount)
	assert.Equal(t, ClaimTicket{ClaimedAmount: 64, CreatedAt: 64}, m.ClaimTickets[0])
	assert.Equal(t, ClaimTicket{ClaimedAmount: 65, CreatedAt: 65}, m.ClaimTickets[1])
	assert.Equal(t, ClaimTicket{ClaimedAmount: 2, CreatedAt: 2}, m.ClaimTickets[2])
}

func TestLolly_Lotto_CloseUserMetadata(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.newUser(0)

	_, err := f.engine.CloseUserMetadata(solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotInitialized)

	_, err = f.engine.CloseUserMetadata(user)
	require.NoError(t, err)
	_, err = f.engine.ClaimUserRewards(user, 1)
	assert.ErrorIs(t, err, ErrAccountNotInitialized)
}

// settleRound runs a full round and returns the buyers and pool.
func settleRound(t *testing.T, f *fixture) (winners []solana.PublicKey, pool uint64) {
	t.Helper()
	_, err := f.engine.CreateBurnState(f.authority)
	require.NoError(t, err)
	f.startGame(0, 100_000)

	jackpot := [6]uint8{7, 7, 7, 7, 7, 7}
	tier1 := [6]uint8{1, 2, 3, 4, 5, 6}
	jw := f.newUser(1_000_000)
	t1 := f.newUser(1_000_000)
	t2 := f.newUser(1_000_000)
	for _, buy := range []struct {
		user    solana.PublicKey
		numbers [6]uint8
	}{
		{jw, jackpot}, {t1, tier1}, {t2, tier1}, {jw, [6]uint8{0, 0, 0, 0, 0, 1}}, {t2, [6]uint8{0, 0, 0, 0, 0, 2}},
		{t1, [6]uint8{0, 0, 0, 0, 0, 3}}, {t1, [6]uint8{0, 0, 0, 0, 0, 4}},
	} {
		_, err := f.engine.BuyTicket(buy.user, f.authority, 0, buy.numbers)
		require.NoError(t, err)
	}
	f.closeRound(0)
	f.draw(0, jackpot)
	f.draw(0, tier1)
	f.draw(0, [6]uint8{8, 8, 8, 8, 8, 8})

	_, err = f.engine.CrankLottoGameWinners(jw, f.authority, 0)
	require.NoError(t, err)
	_, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{
		Round: 0, WinningNumbers: jackpot, Users: []solana.PublicKey{jw},
	})
	require.NoError(t, err)
	_, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{
		Round: 0, WinningNumbers: tier1, Users: []solana.PublicKey{t1, t2},
	})
	require.NoError(t, err)
	_, err = f.engine.CrankTransferToBuyAndBurnVault(f.authority, 0)
	require.NoError(t, err)
	return []solana.PublicKey{jw, t1, t2}, 7 * 100_000
}

func (f *fixture) burnVault() solana.PublicKey {
	f.t.Helper()
	bsAddr, _, err := f.engine.Addresses().BurnState(f.authority)
	require.NoError(f.t, err)
	vault, err := f.engine.Addresses().BurnUsdcVault(bsAddr)
	require.NoError(f.t, err)
	return vault
}

func TestLolly_Lotto_Settlement_Conservation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	winners, pool := settleRound(t, f)

	g := f.game(0)
	assert.Equal(t, GameStateFinished, g.State)

	prizes := uint64(0)
	for _, w := range winners {
		m := f.metadata(w)
		prizes += m.TotalAmountWon
		assert.Equal(t, m.TotalAmountWon, f.rewardsBalance(w))
	}
	split, err := ComputeSplit(100_000, 7)
	require.NoError(t, err)
	assert.Equal(t, split.SlotNominal[TierJackpot]+split.SlotNominal[Tier1]/2*2, prizes)
	assert.Equal(t, split.BuyAndBurn, f.balance(f.burnVault()))
	assert.Equal(t, split.Dao, f.balance(f.dao))
	assert.Equal(t, split.FeesWithResidue(), f.balance(f.fees))
	unclaimed := pool - prizes - split.BuyAndBurn - split.Dao - split.FeesWithResidue()
	assert.Equal(t, unclaimed, f.balance(g.Vault))

	_, err = f.engine.CrankTransferToBuyAndBurnVault(f.authority, 0)
	assert.ErrorIs(t, err, ErrGameNotClosed)
	_, err = f.engine.TransferWinningAmount(f.authority, TransferWinningAmountParams{
		Round: 0, WinningNumbers: [6]uint8{8, 8, 8, 8, 8, 8}, Users: []solana.PublicKey{winners[0]},
	})
	assert.ErrorIs(t, err, ErrInvalidWinningTicket)
}

func TestLolly_Lotto_CrankTransferToBuyAndBurnVault_ExactSharesWithResidue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.engine.CreateBurnState(f.authority)
	require.NoError(t, err)
	f.startGame(0, 100_001)
	user := f.newUser(1_000_000)
	for i := range 7 {
		_, err := f.engine.BuyTicket(user, f.authority, 0, [6]uint8{0, 0, 0, 0, 0, uint8(i + 1)})
		require.NoError(t, err)
	}
	f.closeRound(0)

	split, err := ComputeSplit(100_001, 7)
	require.NoError(t, err)
	assert.Equal(t, Split{
		Pool:        700_007,
		TierTotal:   [numTiers]uint64{350_003, 70_000, 70_000, 70_000},
		SlotNominal: [numTiers]uint64{350_003, 7_000, 700, 70},
		BuyAndBurn:  105_001,
		Dao:         31_500,
		Fees:        3_500,
		Residue:     3,
	}, split)

	txn, err := f.engine.CrankTransferToBuyAndBurnVault(f.authority, 0)
	require.NoError(t, err)
	ev := lastEvent[*event.CrankTransferToBuyAndBurnVault](t, txn)
	assert.Equal(t, uint64(105_001), ev.BuyAndBurnAmount)
	assert.Equal(t, uint64(31_500), ev.DaoAmount)
	assert.Equal(t, uint64(3_503), ev.FeesAmount)

	assert.Equal(t, uint64(105_001), f.balance(f.burnVault()))
	assert.Equal(t, uint64(31_500), f.balance(f.dao))
	assert.Equal(t, uint64(3_503), f.balance(f.fees))
	assert.Equal(t, uint64(560_003), f.balance(f.game(0).Vault))
}

func TestLolly_Lotto_TransferWinningAmount_AfterBuyAndBurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.engine.CreateBurnState(f.authority)
	require.NoError(t, err)
	f.startGame(0, 100_000)
	jackpot := [6]uint8{7, 7, 7, 7, 7, 7}
	winner := f.newUser(1_000_000)
	_, err = f.engine.BuyTicket(winner, f.authority, 0, jackpot)
	require.NoError(t, err)
	f.closeRound(0)
	f.draw(0, jackpot)

	_, err = f.engine.CrankTransferToBuyAndBurnVault(f.authority, 0)
	require.NoError(t, err)
	split, err := ComputeSplit(100_000, 1)
	require.NoError(t, err)
	assert.Equal(t, split.BuyAndBurn, f.balance(f.burnVault()))
	assert.Equal(t, GameStateFinished, f.game(0).State)

	params := TransferWinningAmountParams{Round: 0, WinningNumbers: jackpot, Users: []solana.PublicKey{winner}}
	_, err = f.engine.TransferWinningAmount(f.authority, params)
	require.NoError(t, err)
	assert.Equal(t, split.SlotNominal[TierJackpot], f.rewardsBalance(winner))
	assert.Equal(t, split.SlotNominal[TierJackpot], f.metadata(winner).TotalAmountWon)

	_, err = f.engine.TransferWinningAmount(f.authority, params)
	assert.ErrorIs(t, err, ErrJackpotAmountAlreadyDisbursed)
}

func TestLolly_Lotto_SlotInvariant_DisbursedImpliesWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	winners, _ := settleRound(t, f)

	g := f.game(0)
	for _, tier := range Tiers() {
		for i, s := range g.Slots(tier) {
			if !s.Disbursed {
				continue
			}
			require.True(t, s.Updated, "%s[%d]", tier, i)
			holders := 0
			for _, w := range winners {
				a := f.engine.Addresses()
				gameAddr, _, _ := a.Game(f.authority, 0)
				metaAddr, _, _ := a.UserMetadata(w)
				ticketAddr, _, _ := a.Ticket(gameAddr, metaAddr, s.Numbers)
				_ = f.engine.View(func(tx state.Tx) error {
					tk, err := loadRecord[Ticket](tx, ticketAddr)
					if err == nil && tk.IsWinner == 1 {
						holders++
					}
					return nil
				})
			}
			assert.GreaterOrEqual(t, holders, 1, "%s[%d]", tier, i)
		}
	}
}

func TestLolly_Lotto_CloseGameAndTickets(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	user := f.newUser(1_000_000)
	numbers := [6]uint8{2, 2, 2, 2, 2, 2}
	_, err := f.engine.BuyTicket(user, f.authority, 0, numbers)
	require.NoError(t, err)

	_, err = f.engine.CloseTicket(user, f.authority, 0, numbers)
	assert.ErrorIs(t, err, ErrLottoGameIsStillOpen)
	_, err = f.engine.CloseGame(f.authority, 0)
	assert.ErrorIs(t, err, ErrGameNotClosed)

	f.closeRound(0)
	_, err = f.engine.CloseGame(f.authority, 0)
	assert.ErrorIs(t, err, ErrLottoGameVaultNotEmpty)
	_, err = f.engine.CloseTicket(user, f.authority, 0, numbers)
	assert.ErrorIs(t, err, ErrGameNotClosed)

	_, err = f.engine.CreateBurnState(f.authority)
	require.NoError(t, err)
	_, err = f.engine.CrankTransferToBuyAndBurnVault(f.authority, 0)
	require.NoError(t, err)

	txn, err := f.engine.CloseTicket(user, f.authority, 0, numbers)
	require.NoError(t, err)
	lastEvent[*event.CloseLottoTicket](t, txn)

	split, err := ComputeSplit(100_000, 1)
	require.NoError(t, err)
	unclaimed := split.Pool - split.BuyAndBurn - split.Dao - split.FeesWithResidue()
	require.Equal(t, unclaimed, f.balance(f.game(0).Vault))

	txn, err = f.engine.CloseGame(f.authority, 0)
	require.NoError(t, err)
	closed := lastEvent[*event.CloseLottoGame](t, txn)
	assert.Equal(t, uint64(0), closed.Round)
	assert.Equal(t, unclaimed, closed.ForfeitedPrizes)
	assert.Equal(t, split.BuyAndBurn+unclaimed, f.balance(f.burnVault()))

	_, err = f.engine.CloseGame(f.authority, 0)
	assert.ErrorIs(t, err, ErrAccountNotInitialized)
}

func newSwapFixture(t *testing.T) (*fixture, *swap.FixedRateRouter, solana.PublicKey) {
	t.Helper()
	f := newFixture(t)
	_, err := f.engine.CreateBurnState(f.authority)
	require.NoError(t, err)
	bsAddr, _, err := f.engine.Addresses().BurnState(f.authority)
	require.NoError(t, err)

	router := &swap.FixedRateRouter{
		Authority:     solana.NewWallet().PublicKey(),
		InputReserve:  solana.NewWallet().PublicKey(),
		OutputReserve: solana.NewWallet().PublicKey(),
		RateNum:       3,
		RateDen:       2,
	}
	usdcVault, err := f.engine.Addresses().BurnUsdcVault(bsAddr)
	require.NoError(t, err)
	require.NoError(t, f.store.Update(func(tx state.Tx) error {
		l := ledger.New(tx)
		if err := l.CreateAccount(router.InputReserve, f.usdc, router.Authority); err != nil {
			return err
		}
		if err := l.CreateAccount(router.OutputReserve, f.lolly, router.Authority); err != nil {
			return err
		}
		if err := l.MintTo(f.lolly, router.OutputReserve, 1_000_000); err != nil {
			return err
		}
		return l.MintTo(f.usdc, usdcVault, 10_000)
	}))
	f.engine.cfg.Router = router
	return f, router, bsAddr
}

func TestLolly_Lotto_SwapAndBurn(t *testing.T) {
	t.Parallel()
	f, _, bsAddr := newSwapFixture(t)
	a := f.engine.Addresses()
	usdcVault, _ := a.BurnUsdcVault(bsAddr)
	lollyVault, _ := a.BurnLollyVault(bsAddr)

	ix := swap.Instruction{
		InputMint:          f.usdc,
		OutputMint:         f.lolly,
		SourceTokenAccount: usdcVault,
		DestinationAccount: lollyVault,
		Authority:          bsAddr,
		InAmount:           10_000,
		MinOutAmount:       15_000,
	}

	bad := ix
	bad.InputMint = f.lolly
	_, err := f.engine.SwapUsdcLolly(f.authority, bad)
	assert.ErrorIs(t, err, ErrOnlySwapFromUSDCAllowed)
	bad = ix
	bad.OutputMint = f.usdc
	_, err = f.engine.SwapUsdcLolly(f.authority, bad)
	assert.ErrorIs(t, err, ErrOnlySwapToLOLLYAllowed)
	bad = ix
	bad.SourceTokenAccount = solana.NewWallet().PublicKey()
	_, err = f.engine.SwapUsdcLolly(f.authority, bad)
	assert.ErrorIs(t, err, ErrJupiterIxSourceTokenAccountMismatch)
	bad = ix
	bad.DestinationAccount = solana.NewWallet().PublicKey()
	_, err = f.engine.SwapUsdcLolly(f.authority, bad)
	assert.ErrorIs(t, err, ErrJupiterIxDestinationTokenAccountMismatch)
	bad = ix
	bad.Authority = f.authority
	_, err = f.engine.SwapUsdcLolly(f.authority, bad)
	assert.ErrorIs(t, err, ErrTokenAccountAuthorityMismatch)

	txn, err := f.engine.SwapUsdcLolly(f.authority, ix)
	require.NoError(t, err)
	ev := lastEvent[*event.SwapUsdcLolly](t, txn)
	assert.Equal(t, uint64(10_000), ev.UsdcSwapped)
	assert.Equal(t, uint64(15_000), ev.LollyReceived)
	assert.Zero(t, f.balance(usdcVault))
	assert.Equal(t, uint64(15_000), f.balance(lollyVault))

	_, err = f.engine.CloseBurnState(f.authority)
	assert.ErrorIs(t, err, ErrVaultNotEmpty)

	txn, err = f.engine.BurnLolly(f.authority)
	require.NoError(t, err)
	burn := lastEvent[*event.BurnLolly](t, txn)
	assert.Equal(t, uint64(15_000), burn.BurntAmount)
	assert.Equal(t, uint64(15_000), burn.TotalLollyBurnt)
	assert.Zero(t, f.balance(lollyVault))

	txn, err = f.engine.CloseBurnState(f.authority)
	require.NoError(t, err)
	assert.Equal(t, uint64(15_000), lastEvent[*event.CloseLollyBurnState](t, txn).TotalLollyBurnt)
}

func TestLolly_Lotto_FailedTransaction_RollsBackAndReusesEventID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)
	user := f.newUser(100_000)

	before := len(f.events())
	_, err := f.engine.BuyTicket(user, f.authority, 0, [6]uint8{1, 1, 1, 1, 1, 10})
	require.Error(t, err)
	assert.Len(t, f.events(), before)

	txns := f.history.Transactions()
	failed := txns[len(txns)-1]
	require.Error(t, failed.Err)
	assert.Equal(t, "Program log: Instruction: BuyLottoTicket", failed.Logs[1])
	assert.True(t, strings.HasSuffix(failed.Logs[len(failed.Logs)-1], fmt.Sprintf("failed: custom program error: 0x%x", ErrInvalidNumbersInTicket.Code)))

	txn, err := f.engine.BuyTicket(user, f.authority, 0, [6]uint8{1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, int64(before), txn.Events[0].EventID)
	assert.Greater(t, txn.Slot, failed.Slot)
	assert.NotEqual(t, txn.Signature, failed.Signature)
}

func TestLolly_Lotto_EventIDsContiguous(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	settleRound(t, f)
	_, err := f.engine.CloseEventEmitter(f.authority)
	require.NoError(t, err)

	events := f.events()
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, int64(i), ev.EventID)
		assert.Equal(t, event.CurrentVersion, ev.Version)
	}
	assert.Equal(t, event.KindCloseEventEmitter, events[len(events)-1].Kind())

	_, err = f.engine.CreateRegistry(solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotInitialized)
}

func TestLolly_Lotto_LogsRoundTripThroughExtraction(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 100_000)

	for _, txn := range f.history.Transactions() {
		ex, err := event.ExtractLogs(f.engine.cfg.ProgramID, txn.Logs)
		require.NoError(t, err)
		require.Len(t, ex, len(txn.Events))
		for i := range ex {
			assert.Equal(t, txn.Events[i], ex[i].Record)
		}
		assert.Equal(t, fmt.Sprintf("Program %s invoke [1]", f.engine.cfg.ProgramID), txn.Logs[0])
		assert.Equal(t, fmt.Sprintf("Program %s success", f.engine.cfg.ProgramID), txn.Logs[len(txn.Logs)-1])
		got, ok := f.history.Get(txn.Signature)
		require.True(t, ok)
		assert.Same(t, txn, got)
	}
}

func TestLolly_Lotto_BoltBackedEngine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engine.db")
	store, err := state.OpenBoltStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := newFixtureWithStore(t, store)
	winners, pool := settleRound(t, f)

	total := uint64(0)
	for _, w := range winners {
		total += f.metadata(w).TotalAmountWon
	}
	assert.Less(t, total, pool)
	assert.Equal(t, GameStateFinished, f.game(0).State)
}

func TestLolly_Lotto_History_Before(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.startGame(0, 1)
	f.startGame(1, 1)
	txns := f.history.Transactions()
	require.Len(t, txns, 4)

	got := f.history.Before(solana.Signature{}, solana.Signature{}, 0)
	require.Len(t, got, 4)
	assert.Same(t, txns[3], got[0])

	got = f.history.Before(txns[3].Signature, txns[0].Signature, 0)
	require.Len(t, got, 2)
	assert.Same(t, txns[2], got[0])
	assert.Same(t, txns[1], got[1])

	got = f.history.Before(txns[3].Signature, solana.Signature{}, 1)
	require.Len(t, got, 1)
	assert.Same(t, txns[2], got[0])

	ch, cancel := f.history.Subscribe(1)
	f.startGame(2, 1)
	txn := <-ch
	assert.Equal(t, txns[3].Slot+1, txn.Slot)
	cancel()
	cancel()
}
