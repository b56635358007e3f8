package lotto

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/event"
	"github.com/malbeclabs/lolly/engine/pkg/randomness"
)

// CloseRound closes an open round whose end date has passed.
func (e *Engine) CloseRound(authority solana.PublicKey, round uint64) (*Transaction, error) {
	return e.execute("CrankLottoGameClosed", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, round)
		if err != nil {
			return err
		}
		switch game.State {
		case GameStateClosed, GameStateFinished:
			return wrap(ErrGameAlreadyClosed, "round %d is %s", round, game.State)
		case GameStateOpen:
		default:
			return wrap(ErrLottoGameNotOpen, "round %d is %s", round, game.State)
		}
		if c.now <= game.EndDate {
			return wrap(ErrLottoGameIsStillOpen, "round %d ends at %d", round, game.EndDate)
		}
		game.State = GameStateClosed
		if err := putRecord(c.tx, gameAddr, game); err != nil {
			return err
		}
		return c.emit(&event.CrankLottoGameClosed{
			LottoGame:   gameAddr,
			Round:       round,
			EndDate:     game.EndDate,
			ClosedAt:    c.now,
			TicketsSold: game.TicketsSold,
		})
	})
}

// RequestWinningNumbers binds the randomness commitment ref to a closed round.
func (e *Engine) RequestWinningNumbers(authority solana.PublicKey, round uint64, ref solana.PublicKey) (*Transaction, error) {
	return e.execute("RequestWinningNumbers", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, round)
		if err != nil {
			return err
		}
		if err := requireSigner(authority, game.Authority); err != nil {
			return err
		}
		if game.State != GameStateClosed {
			return wrap(ErrGameNotClosed, "round %d is %s", round, game.State)
		}
		game.Randomness = ref
		if err := putRecord(c.tx, gameAddr, game); err != nil {
			return err
		}
		return c.emit(&event.RequestWinningNumbers{
			Authority:  authority,
			LottoGame:  gameAddr,
			Round:      round,
			Randomness: ref,
		})
	})
}

// ProcessWinningNumbers reveals the bound randomness and fills the next free
// slot with the reduced numbers, unless they duplicate a filled slot.
func (e *Engine) ProcessWinningNumbers(authority solana.PublicKey, round uint64) (*Transaction, error) {
	return e.execute("ProcessWinningNumbers", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, round)
		if err != nil {
			return err
		}
		if game.State != GameStateClosed {
			return wrap(ErrGameNotClosed, "round %d is %s", round, game.State)
		}
		if game.Randomness.IsZero() {
			return wrap(ErrOnDemandRandomnessNotResolved, "round %d has no randomness bound", round)
		}
		value, err := e.cfg.Randomness.Reveal(game.Randomness)
		if err != nil {
			return wrap(ErrOnDemandRandomnessNotResolved, "%s: %v", game.Randomness, err)
		}

		tier, index, free := game.NextFree()
		if !free {
			c.msg("All winning number slots are filled")
			game.Randomness = solana.PublicKey{}
			if err := putRecord(c.tx, gameAddr, game); err != nil {
				return err
			}
			return c.emit(&event.ProcessWinningNumbers{
				LottoGame:  gameAddr,
				Round:      round,
				Randomness: value,
				Tier:       uint8(TierNone),
				AllFilled:  true,
			})
		}

		numbers, err := randomness.Reduce(value, game.MaxNumbersInTicket)
		if err != nil {
			if errors.Is(err, randomness.ErrZeroBound) {
				return wrap(ErrMathError, "%v", err)
			}
			return err
		}

		game.Randomness = solana.PublicKey{}
		if dupTier, dupIndex, found := game.FindWinning(numbers); found {
			if err := putRecord(c.tx, gameAddr, game); err != nil {
				return err
			}
			return c.emit(&event.DuplicateWinningNumbers{
				LottoGame:      gameAddr,
				Round:          round,
				Randomness:     value,
				WinningNumbers: numbers,
				DuplicateTier:  uint8(dupTier),
				DuplicateIndex: dupIndex,
			})
		}

		slot, err := game.Slot(tier, index)
		if err != nil {
			return err
		}
		slot.Numbers = numbers
		slot.Updated = true
		if err := putRecord(c.tx, gameAddr, game); err != nil {
			return err
		}
		return c.emit(&event.ProcessWinningNumbers{
			LottoGame:      gameAddr,
			Round:          round,
			Randomness:     value,
			WinningNumbers: numbers,
			Tier:           uint8(tier),
			Index:          index,
		})
	})
}

// TestEmitWinningNumbers writes numbers into the (tier, index) slot directly.
// It is restricted to the round authority and backs test networks.
func (e *Engine) TestEmitWinningNumbers(authority solana.PublicKey, round uint64, tier Tier, index uint32, numbers [6]uint8) (*Transaction, error) {
	return e.execute("TestEmitWinningNumbers", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, round)
		if err != nil {
			return err
		}
		if err := requireSigner(authority, game.Authority); err != nil {
			return err
		}
		if game.State != GameStateClosed {
			return wrap(ErrGameNotClosed, "round %d is %s", round, game.State)
		}
		slot, err := game.Slot(tier, index)
		if err != nil {
			return err
		}
		if slot.Disbursed {
			return wrap(alreadyDisbursedErrs[tier], "slot %d", index)
		}
		if !game.ValidNumbers(numbers) {
			return wrap(ErrInvalidNumbersInTicket, "%v exceeds %v", numbers, game.MaxNumbersInTicket)
		}
		if dupTier, dupIndex, found := game.FindWinning(numbers); found && (dupTier != tier || dupIndex != index) {
			return c.emit(&event.DuplicateWinningNumbers{
				LottoGame:      gameAddr,
				Round:          round,
				WinningNumbers: numbers,
				DuplicateTier:  uint8(dupTier),
				DuplicateIndex: dupIndex,
			})
		}
		slot.Numbers = numbers
		slot.Updated = true
		if err := putRecord(c.tx, gameAddr, game); err != nil {
			return err
		}
		return c.emit(&event.TestEmitWinningNumbers{
			Authority:      authority,
			LottoGame:      gameAddr,
			Round:          round,
			WinningNumbers: numbers,
			Tier:           uint8(tier),
			Index:          index,
		})
	})
}

// CrankLottoGameWinners declares the ticket of user holding the jackpot numbers.
func (e *Engine) CrankLottoGameWinners(user, authority solana.PublicKey, round uint64) (*Transaction, error) {
	return e.execute("CrankLottoGameWinners", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, round)
		if err != nil {
			return err
		}
		if game.State != GameStateClosed && game.State != GameStateFinished {
			return wrap(ErrGameNotClosed, "round %d is %s", round, game.State)
		}
		jackpot := game.Jackpot[0]
		if !jackpot.Updated {
			return wrap(ErrJackpotWinningNumbersNotUpdated, "round %d", round)
		}
		if !game.JackpotTicket.IsZero() {
			return wrap(ErrAlreadyDeclaredWinner, "ticket %s", game.JackpotTicket)
		}

		metaAddr, _, err := e.addrs.UserMetadata(user)
		if err != nil {
			return err
		}
		ticketAddr, _, err := e.addrs.Ticket(gameAddr, metaAddr, jackpot.Numbers)
		if err != nil {
			return err
		}
		ticket, err := loadRecord[Ticket](c.tx, ticketAddr)
		if err != nil {
			if errors.Is(err, ErrAccountNotInitialized) {
				return wrap(ErrInvalidWinningTicket, "%s holds no ticket for %v", user, jackpot.Numbers)
			}
			return err
		}
		if ticket.Numbers != jackpot.Numbers || !ticket.Game.Equals(gameAddr) {
			return wrap(ErrInvalidWinningTicket, "ticket %s", ticketAddr)
		}

		ticket.IsChecked = true
		ticket.CheckDate = c.now
		game.JackpotTicket = ticketAddr
		if err := putRecord(c.tx, ticketAddr, ticket); err != nil {
			return err
		}
		if err := putRecord(c.tx, gameAddr, game); err != nil {
			return err
		}
		return c.emit(&event.CrankLottoGameWinners{
			LottoGame:      gameAddr,
			LottoTicket:    ticketAddr,
			User:           user,
			Round:          round,
			WinningNumbers: jackpot.Numbers,
		})
	})
}
