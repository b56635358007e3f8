package lotto

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/lolly/engine/pkg/event"
	"github.com/malbeclabs/lolly/engine/pkg/ledger"
	"github.com/malbeclabs/lolly/engine/pkg/randomness"
	"github.com/malbeclabs/lolly/engine/pkg/state"
	lollytesting "github.com/malbeclabs/lolly/utils/pkg/testing"
)

var testMaxNumbers = [6]uint8{9, 9, 9, 9, 9, 9}

type fixture struct {
	t         *testing.T
	engine    *Engine
	store     state.Store
	clock     *clockwork.FakeClock
	rnd       *randomness.ScriptedSource
	history   *History
	authority solana.PublicKey
	usdc      solana.PublicKey
	lolly     solana.PublicKey
	dao       solana.PublicKey
	fees      solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithStore(t, state.NewMemStore())
}

func newFixtureWithStore(t *testing.T, store state.Store) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		store:     store,
		clock:     clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		rnd:       randomness.NewScriptedSource(),
		history:   NewHistory(),
		authority: solana.NewWallet().PublicKey(),
		usdc:      solana.NewWallet().PublicKey(),
		lolly:     solana.NewWallet().PublicKey(),
		dao:       solana.NewWallet().PublicKey(),
		fees:      solana.NewWallet().PublicKey(),
	}
	require.NoError(t, store.Update(func(tx state.Tx) error {
		l := ledger.New(tx)
		if err := l.CreateAccount(f.dao, f.usdc, solana.NewWallet().PublicKey()); err != nil {
			return err
		}
		return l.CreateAccount(f.fees, f.usdc, solana.NewWallet().PublicKey())
	}))

	engine, err := NewEngine(Config{
		Logger:      lollytesting.NewLogger(),
		Clock:       f.clock,
		Store:       store,
		Randomness:  f.rnd,
		Sink:        f.history,
		ProgramID:   solana.NewWallet().PublicKey(),
		UsdcMint:    f.usdc,
		LollyMint:   f.lolly,
		DaoAccount:  f.dao,
		FeesAccount: f.fees,
	})
	require.NoError(t, err)
	f.engine = engine

	_, err = engine.CreateEventEmitter(f.authority)
	require.NoError(t, err)
	_, err = engine.CreateRegistry(f.authority)
	require.NoError(t, err)
	return f
}

// fund creates the user's USDC account holding amount.
func (f *fixture) fund(user solana.PublicKey, amount uint64) {
	f.t.Helper()
	addr, err := f.engine.Addresses().UserUsdcAccount(user)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Update(func(tx state.Tx) error {
		l := ledger.New(tx)
		if has, err := tx.Has(addr); err != nil {
			return err
		} else if !has {
			if err := l.CreateAccount(addr, f.usdc, user); err != nil {
				return err
			}
		}
		return l.MintTo(f.usdc, addr, amount)
	}))
}

// newUser returns a funded user with metadata.
func (f *fixture) newUser(amount uint64) solana.PublicKey {
	f.t.Helper()
	user := solana.NewWallet().PublicKey()
	f.fund(user, amount)
	_, err := f.engine.CreateUserMetadata(user)
	require.NoError(f.t, err)
	return user
}

func (f *fixture) startGame(round uint64, price uint64) {
	f.t.Helper()
	bounds := testMaxNumbers
	_, err := f.engine.StartGame(f.authority, StartGameParams{
		Round:        round,
		RoundName:    "test",
		TicketPrice:  price,
		GameDuration: 86_400,
		MaxNumbers:   &bounds,
	})
	require.NoError(f.t, err)
}

func (f *fixture) closeRound(round uint64) {
	f.t.Helper()
	f.clock.Advance(86_401 * time.Second)
	_, err := f.engine.CloseRound(f.authority, round)
	require.NoError(f.t, err)
}

// draw binds a resolved randomness value reducing to numbers and processes it.
func (f *fixture) draw(round uint64, numbers [6]uint8) *Transaction {
	f.t.Helper()
	ref := solana.NewWallet().PublicKey()
	f.rnd.CommitResolved(ref, randomness.ValueFor(numbers))
	_, err := f.engine.RequestWinningNumbers(f.authority, round, ref)
	require.NoError(f.t, err)
	txn, err := f.engine.ProcessWinningNumbers(f.authority, round)
	require.NoError(f.t, err)
	return txn
}

func (f *fixture) game(round uint64) *Game {
	f.t.Helper()
	addr, _, err := f.engine.Addresses().Game(f.authority, round)
	require.NoError(f.t, err)
	var g *Game
	require.NoError(f.t, f.engine.View(func(tx state.Tx) error {
		var err error
		g, err = loadRecord[Game](tx, addr)
		return err
	}))
	return g
}

func (f *fixture) registry() *Registry {
	f.t.Helper()
	addr, _, err := f.engine.Addresses().Registry(f.authority)
	require.NoError(f.t, err)
	var r *Registry
	require.NoError(f.t, f.engine.View(func(tx state.Tx) error {
		var err error
		r, err = loadRecord[Registry](tx, addr)
		return err
	}))
	return r
}

func (f *fixture) metadata(user solana.PublicKey) *UserMetadata {
	f.t.Helper()
	addr, _, err := f.engine.Addresses().UserMetadata(user)
	require.NoError(f.t, err)
	var m *UserMetadata
	require.NoError(f.t, f.engine.View(func(tx state.Tx) error {
		var err error
		m, err = loadRecord[UserMetadata](tx, addr)
		return err
	}))
	return m
}

func (f *fixture) ticket(user solana.PublicKey, round uint64, numbers [6]uint8) *Ticket {
	f.t.Helper()
	a := f.engine.Addresses()
	gameAddr, _, err := a.Game(f.authority, round)
	require.NoError(f.t, err)
	metaAddr, _, err := a.UserMetadata(user)
	require.NoError(f.t, err)
	ticketAddr, _, err := a.Ticket(gameAddr, metaAddr, numbers)
	require.NoError(f.t, err)
	var tk *Ticket
	require.NoError(f.t, f.engine.View(func(tx state.Tx) error {
		var err error
		tk, err = loadRecord[Ticket](tx, ticketAddr)
		return err
	}))
	return tk
}

func (f *fixture) balance(addr solana.PublicKey) uint64 {
	f.t.Helper()
	var b uint64
	require.NoError(f.t, f.engine.View(func(tx state.Tx) error {
		var err error
		b, err = ledger.New(tx).Balance(addr)
		return err
	}))
	return b
}

func (f *fixture) usdcBalance(user solana.PublicKey) uint64 {
	f.t.Helper()
	addr, err := f.engine.Addresses().UserUsdcAccount(user)
	require.NoError(f.t, err)
	return f.balance(addr)
}

func (f *fixture) rewardsBalance(user solana.PublicKey) uint64 {
	f.t.Helper()
	metaAddr, _, err := f.engine.Addresses().UserMetadata(user)
	require.NoError(f.t, err)
	vault, err := f.engine.Addresses().UserRewardsVault(metaAddr)
	require.NoError(f.t, err)
	return f.balance(vault)
}

// events returns every event of successful transactions in emission order.
func (f *fixture) events() []*event.Record {
	var out []*event.Record
	for _, txn := range f.history.Transactions() {
		if txn.Err == nil {
			out = append(out, txn.Events...)
		}
	}
	return out
}

func lastEvent[T event.Payload](t *testing.T, txn *Transaction) T {
	t.Helper()
	require.NotEmpty(t, txn.Events)
	p, ok := txn.Events[len(txn.Events)-1].Data.(T)
	require.True(t, ok, "last event is %s", txn.Events[len(txn.Events)-1].Kind())
	return p
}
