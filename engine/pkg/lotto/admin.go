package lotto

import (
	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/event"
)

func requireSigner(signer, authority solana.PublicKey) error {
	if !signer.Equals(authority) {
		return wrap(ErrUnauthorized, "signer %s, authority %s", signer, authority)
	}
	return nil
}

func (c *opContext) registry(authority solana.PublicKey) (*Registry, solana.PublicKey, error) {
	addr, _, err := c.e.addrs.Registry(authority)
	if err != nil {
		return nil, addr, err
	}
	reg, err := loadRecord[Registry](c.tx, addr)
	return reg, addr, err
}

func (c *opContext) game(authority solana.PublicKey, round uint64) (*Game, solana.PublicKey, error) {
	addr, _, err := c.e.addrs.Game(authority, round)
	if err != nil {
		return nil, addr, err
	}
	game, err := loadRecord[Game](c.tx, addr)
	if err != nil {
		return nil, addr, err
	}
	if game.Round != round {
		return nil, addr, wrap(ErrInvalidRound, "game %s holds round %d, not %d", addr, game.Round, round)
	}
	return game, addr, nil
}

func (c *opContext) burnState(authority solana.PublicKey) (*BurnState, solana.PublicKey, error) {
	addr, _, err := c.e.addrs.BurnState(authority)
	if err != nil {
		return nil, addr, err
	}
	bs, err := loadRecord[BurnState](c.tx, addr)
	return bs, addr, err
}

// CreateEventEmitter initialises the singleton event emitter. It must run
// before any operation that emits events.
func (e *Engine) CreateEventEmitter(authority solana.PublicKey) (*Transaction, error) {
	return e.execute("CreateEventEmitter", func(c *opContext) error {
		if err := e.emitter.Create(c.tx, authority); err != nil {
			return wrap(ErrAccountAlreadyInitialized, "event emitter: %v", err)
		}
		return nil
	})
}

// CloseEventEmitter emits the final event and deletes the emitter.
func (e *Engine) CloseEventEmitter(authority solana.PublicKey) (*Transaction, error) {
	return e.execute("CloseEventEmitter", func(c *opContext) error {
		acct, err := e.emitter.Load(c.tx)
		if err != nil {
			return wrap(ErrAccountNotInitialized, "event emitter")
		}
		if err := requireSigner(authority, acct.Authority); err != nil {
			return err
		}
		if err := c.emit(&event.CloseEventEmitter{
			Authority:    authority,
			EventEmitter: e.emitter.Address,
		}); err != nil {
			return err
		}
		return e.emitter.Delete(c.tx)
	})
}

// CreateRegistry initialises the round registry of authority.
func (e *Engine) CreateRegistry(authority solana.PublicKey) (*Transaction, error) {
	return e.execute("CreateLollysLotto", func(c *opContext) error {
		addr, bump, err := e.addrs.Registry(authority)
		if err != nil {
			return err
		}
		if err := createRecord(c.tx, addr, &Registry{Bump: bump, Authority: authority}); err != nil {
			return err
		}
		return c.emit(&event.CreateLollysLotto{Authority: authority, LollysLotto: addr})
	})
}

// CloseRegistry deletes the round registry of authority.
func (e *Engine) CloseRegistry(authority solana.PublicKey) (*Transaction, error) {
	return e.execute("CloseLollysLotto", func(c *opContext) error {
		reg, addr, err := c.registry(authority)
		if err != nil {
			return err
		}
		if err := requireSigner(authority, reg.Authority); err != nil {
			return err
		}
		if err := c.tx.Delete(addr); err != nil {
			return err
		}
		return c.emit(&event.CloseLollysLotto{
			Authority:      authority,
			LollysLotto:    addr,
			LottoGameCount: reg.LottoGameCount,
		})
	})
}

// CreateBurnState initialises the buy-and-burn sink and its two vaults.
func (e *Engine) CreateBurnState(authority solana.PublicKey) (*Transaction, error) {
	return e.execute("CreateLollyBurnState", func(c *opContext) error {
		addr, bump, err := e.addrs.BurnState(authority)
		if err != nil {
			return err
		}
		usdcVault, err := e.addrs.BurnUsdcVault(addr)
		if err != nil {
			return err
		}
		lollyVault, err := e.addrs.BurnLollyVault(addr)
		if err != nil {
			return err
		}
		if err := createRecord(c.tx, addr, &BurnState{
			Bump:       bump,
			Authority:  authority,
			UsdcVault:  usdcVault,
			LollyVault: lollyVault,
		}); err != nil {
			return err
		}
		if err := c.ledger.CreateAccount(usdcVault, e.cfg.UsdcMint, addr); err != nil {
			return fromLedger(err)
		}
		if err := c.ledger.CreateAccount(lollyVault, e.cfg.LollyMint, addr); err != nil {
			return fromLedger(err)
		}
		return c.emit(&event.CreateLollyBurnState{
			Authority:      authority,
			LollyBurnState: addr,
			UsdcVault:      usdcVault,
			LollyVault:     lollyVault,
		})
	})
}

// CloseBurnState deletes the sink once both vaults are empty.
func (e *Engine) CloseBurnState(authority solana.PublicKey) (*Transaction, error) {
	return e.execute("CloseLollyBurnState", func(c *opContext) error {
		bs, addr, err := c.burnState(authority)
		if err != nil {
			return err
		}
		if err := requireSigner(authority, bs.Authority); err != nil {
			return err
		}
		if err := c.ledger.Close(bs.UsdcVault, addr); err != nil {
			return fromLedger(err)
		}
		if err := c.ledger.Close(bs.LollyVault, addr); err != nil {
			return fromLedger(err)
		}
		if err := c.tx.Delete(addr); err != nil {
			return err
		}
		return c.emit(&event.CloseLollyBurnState{
			Authority:       authority,
			LollyBurnState:  addr,
			TotalLollyBurnt: bs.TotalLollyBurnt,
		})
	})
}

// StartGameParams configures a new round.
type StartGameParams struct {
	Round        uint64
	RoundName    string
	TicketPrice  uint64
	GameDuration uint64
	// Randomness is the commitment reference bound to the round at start.
	Randomness solana.PublicKey
	// MaxNumbers overrides the engine default bounds when set.
	MaxNumbers *[6]uint8
}

// StartGame opens round p.Round. Rounds start sequentially from zero.
func (e *Engine) StartGame(authority solana.PublicKey, p StartGameParams) (*Transaction, error) {
	return e.execute("StartLottoGame", func(c *opContext) error {
		reg, regAddr, err := c.registry(authority)
		if err != nil {
			return err
		}
		if err := requireSigner(authority, reg.Authority); err != nil {
			return err
		}
		if p.Round != reg.LottoGameCount {
			return wrap(ErrInvalidRound, "expected round %d, got %d", reg.LottoGameCount, p.Round)
		}
		if p.GameDuration == 0 || p.GameDuration > 1<<62 {
			return wrap(ErrInvalidGameDuration, "%d", p.GameDuration)
		}

		gameAddr, bump, err := e.addrs.Game(authority, p.Round)
		if err != nil {
			return err
		}
		vaultSigner, vaultBump, err := e.addrs.GameVaultSigner(gameAddr)
		if err != nil {
			return err
		}
		vault, err := e.addrs.GameVault(gameAddr)
		if err != nil {
			return err
		}

		maxNumbers := e.cfg.MaxNumbers
		if p.MaxNumbers != nil {
			maxNumbers = *p.MaxNumbers
		}
		game := &Game{
			Bump:               bump,
			VaultBump:          vaultBump,
			Version:            GameVersionV1,
			State:              GameStateOpen,
			Authority:          authority,
			Round:              p.Round,
			StartDate:          c.now,
			EndDate:            c.now + int64(p.GameDuration),
			TicketPrice:        p.TicketPrice,
			Mint:               e.cfg.UsdcMint,
			Vault:              vault,
			MaxNumbersInTicket: maxNumbers,
			Randomness:         p.Randomness,
		}
		if err := createRecord(c.tx, gameAddr, game); err != nil {
			return err
		}
		if err := c.ledger.CreateAccount(vault, e.cfg.UsdcMint, vaultSigner); err != nil {
			return fromLedger(err)
		}

		reg.LottoGameCount++
		if err := putRecord(c.tx, regAddr, reg); err != nil {
			return err
		}
		return c.emit(&event.StartLottoGame{
			Authority:          authority,
			LottoGame:          gameAddr,
			LottoGameVault:     vault,
			Round:              p.Round,
			RoundName:          p.RoundName,
			TicketPrice:        p.TicketPrice,
			GameDuration:       p.GameDuration,
			StartDate:          game.StartDate,
			EndDate:            game.EndDate,
			MaxNumbersInTicket: maxNumbers,
			Randomness:         p.Randomness,
		})
	})
}

// CloseGame deletes a closed round. A Closed round must have an empty pool
// vault; a Finished round forfeits its remaining balance to the burn sink.
func (e *Engine) CloseGame(authority solana.PublicKey, round uint64) (*Transaction, error) {
	return e.execute("CloseLottoGame", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, round)
		if err != nil {
			return err
		}
		if err := requireSigner(authority, game.Authority); err != nil {
			return err
		}
		if game.State != GameStateClosed && game.State != GameStateFinished {
			return wrap(ErrGameNotClosed, "round %d is %s", round, game.State)
		}
		balance, err := c.ledger.Balance(game.Vault)
		if err != nil {
			return fromLedger(err)
		}
		vaultSigner, _, err := e.addrs.GameVaultSigner(gameAddr)
		if err != nil {
			return err
		}
		// A settled round forfeits the prizes nobody collected to the burn sink.
		if balance != 0 {
			if game.State != GameStateFinished {
				return wrap(ErrLottoGameVaultNotEmpty, "vault holds %d", balance)
			}
			bs, _, err := c.burnState(game.Authority)
			if err != nil {
				return err
			}
			if err := c.ledger.Transfer(game.Vault, bs.UsdcVault, vaultSigner, balance); err != nil {
				return fromLedger(err)
			}
		}
		if err := c.ledger.Close(game.Vault, vaultSigner); err != nil {
			return fromLedger(err)
		}
		if err := c.tx.Delete(gameAddr); err != nil {
			return err
		}
		return c.emit(&event.CloseLottoGame{Authority: authority, LottoGame: gameAddr, Round: round, ForfeitedPrizes: balance})
	})
}
