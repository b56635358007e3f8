package chainsim

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/lolly/engine/pkg/ledger"
	"github.com/malbeclabs/lolly/engine/pkg/lotto"
	"github.com/malbeclabs/lolly/engine/pkg/randomness"
	"github.com/malbeclabs/lolly/engine/pkg/state"
)

// Network is a bootstrapped engine with its emitter and registry created,
// served through a Chain.
type Network struct {
	Engine     *lotto.Engine
	Chain      *Chain
	Store      state.Store
	History    *lotto.History
	Clock      *clockwork.FakeClock
	Randomness *randomness.ScriptedSource

	ProgramID solana.PublicKey
	Authority solana.PublicKey
	Registry  solana.PublicKey
	UsdcMint  solana.PublicKey
}

type NetworkConfig struct {
	Logger *slog.Logger
	// Store defaults to a fresh in-memory store.
	Store state.Store
	// MaxNumbers defaults to the engine's V1 bounds.
	MaxNumbers [6]uint8
}

func (cfg *NetworkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		cfg.Store = state.NewMemStore()
	}
	return nil
}

func NewNetwork(cfg NetworkConfig) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := &Network{
		Store:      cfg.Store,
		History:    lotto.NewHistory(),
		Clock:      clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		Randomness: randomness.NewScriptedSource(),
		ProgramID:  solana.NewWallet().PublicKey(),
		Authority:  solana.NewWallet().PublicKey(),
		UsdcMint:   solana.NewWallet().PublicKey(),
	}
	dao := solana.NewWallet().PublicKey()
	fees := solana.NewWallet().PublicKey()
	if err := n.Store.Update(func(tx state.Tx) error {
		l := ledger.New(tx)
		if err := l.CreateAccount(dao, n.UsdcMint, solana.NewWallet().PublicKey()); err != nil {
			return err
		}
		return l.CreateAccount(fees, n.UsdcMint, solana.NewWallet().PublicKey())
	}); err != nil {
		return nil, fmt.Errorf("failed to create treasury accounts: %w", err)
	}

	engine, err := lotto.NewEngine(lotto.Config{
		Logger:      cfg.Logger,
		Clock:       n.Clock,
		Store:       n.Store,
		Randomness:  n.Randomness,
		Sink:        n.History,
		ProgramID:   n.ProgramID,
		UsdcMint:    n.UsdcMint,
		LollyMint:   solana.NewWallet().PublicKey(),
		DaoAccount:  dao,
		FeesAccount: fees,
		MaxNumbers:  cfg.MaxNumbers,
	})
	if err != nil {
		return nil, err
	}
	n.Engine = engine

	if _, err := engine.CreateEventEmitter(n.Authority); err != nil {
		return nil, fmt.Errorf("failed to create event emitter: %w", err)
	}
	if _, err := engine.CreateRegistry(n.Authority); err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	n.Registry, _, err = engine.Addresses().Registry(n.Authority)
	if err != nil {
		return nil, err
	}

	n.Chain, err = New(Config{History: n.History, Store: n.Store, ProgramID: n.ProgramID})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NewUser creates a user holding amount USDC with its metadata account.
func (n *Network) NewUser(amount uint64) (solana.PublicKey, error) {
	user := solana.NewWallet().PublicKey()
	addr, err := n.Engine.Addresses().UserUsdcAccount(user)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if err := n.Store.Update(func(tx state.Tx) error {
		l := ledger.New(tx)
		if err := l.CreateAccount(addr, n.UsdcMint, user); err != nil {
			return err
		}
		return l.MintTo(n.UsdcMint, addr, amount)
	}); err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to fund user: %w", err)
	}
	if _, err := n.Engine.CreateUserMetadata(user); err != nil {
		return solana.PublicKey{}, err
	}
	return user, nil
}

// StartRound opens round with a one-day duration and bounds 9 on every number.
func (n *Network) StartRound(round, ticketPrice uint64) error {
	bounds := [6]uint8{9, 9, 9, 9, 9, 9}
	_, err := n.Engine.StartGame(n.Authority, lotto.StartGameParams{
		Round:        round,
		RoundName:    fmt.Sprintf("round-%d", round),
		TicketPrice:  ticketPrice,
		GameDuration: 86_400,
		MaxNumbers:   &bounds,
	})
	return err
}

// CloseRound advances the clock past the round's end and closes it.
func (n *Network) CloseRound(round uint64) error {
	n.Clock.Advance(86_401 * time.Second)
	_, err := n.Engine.CloseRound(n.Authority, round)
	return err
}

// Draw binds a resolved randomness value reducing to numbers and processes it.
func (n *Network) Draw(round uint64, numbers [6]uint8) error {
	ref := solana.NewWallet().PublicKey()
	n.Randomness.CommitResolved(ref, randomness.ValueFor(numbers))
	if _, err := n.Engine.RequestWinningNumbers(n.Authority, round, ref); err != nil {
		return err
	}
	_, err := n.Engine.ProcessWinningNumbers(n.Authority, round)
	return err
}

// PlayRound runs round from start to payout. Each of users buys tickets
// tickets; the first user holds the winning tuple and claims one unit.
func (n *Network) PlayRound(round uint64, users, tickets int) error {
	winning := [6]uint8{1, 2, 3, 4, 5, 6}
	if err := n.StartRound(round, 100_000); err != nil {
		return err
	}
	players := make([]solana.PublicKey, 0, users)
	for i := 0; i < users; i++ {
		u, err := n.NewUser(uint64(tickets) * 100_000)
		if err != nil {
			return err
		}
		players = append(players, u)
		for j := 0; j < tickets; j++ {
			numbers := [6]uint8{uint8(i%9) + 1, uint8(j%9) + 1, 9, 9, 9, 9}
			if i == 0 && j == 0 {
				numbers = winning
			}
			if _, err := n.Engine.BuyTicket(u, n.Authority, round, numbers); err != nil {
				return fmt.Errorf("failed to buy ticket %d for user %d: %w", j, i, err)
			}
		}
	}
	if err := n.CloseRound(round); err != nil {
		return err
	}
	if err := n.Draw(round, winning); err != nil {
		return err
	}
	if _, err := n.Engine.TransferWinningAmount(n.Authority, lotto.TransferWinningAmountParams{
		Round: round, WinningNumbers: winning, Users: players[:1],
	}); err != nil {
		return err
	}
	_, err := n.Engine.ClaimUserRewards(players[0], 1)
	return err
}
