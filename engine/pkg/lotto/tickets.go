package lotto

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/event"
)

func (c *opContext) userMetadata(user solana.PublicKey) (*UserMetadata, solana.PublicKey, error) {
	addr, _, err := c.e.addrs.UserMetadata(user)
	if err != nil {
		return nil, addr, err
	}
	meta, err := loadRecord[UserMetadata](c.tx, addr)
	return meta, addr, err
}

// CreateUserMetadata initialises the buyer aggregate and its rewards vault.
func (e *Engine) CreateUserMetadata(user solana.PublicKey) (*Transaction, error) {
	return e.execute("CreateUserMetadata", func(c *opContext) error {
		addr, bump, err := e.addrs.UserMetadata(user)
		if err != nil {
			return err
		}
		vault, err := e.addrs.UserRewardsVault(addr)
		if err != nil {
			return err
		}
		if err := createRecord(c.tx, addr, &UserMetadata{
			Bump:             bump,
			User:             user,
			CreatedTimestamp: c.now,
		}); err != nil {
			return err
		}
		if err := c.ledger.CreateAccount(vault, e.cfg.UsdcMint, addr); err != nil {
			return fromLedger(err)
		}
		return c.emit(&event.CreateUserMetadata{
			User:             user,
			UserMetadata:     addr,
			UserRewardsVault: vault,
			CreatedTimestamp: c.now,
		})
	})
}

// CloseUserMetadata deletes the buyer aggregate once its rewards vault is empty.
func (e *Engine) CloseUserMetadata(user solana.PublicKey) (*Transaction, error) {
	return e.execute("CloseUserMetadata", func(c *opContext) error {
		meta, addr, err := c.userMetadata(user)
		if err != nil {
			return err
		}
		if err := requireSigner(user, meta.User); err != nil {
			return err
		}
		vault, err := e.addrs.UserRewardsVault(addr)
		if err != nil {
			return err
		}
		balance, err := c.ledger.Balance(vault)
		if err != nil {
			return fromLedger(err)
		}
		if balance != 0 {
			return wrap(ErrNotSufficientRewardsInVault, "rewards vault still holds %d", balance)
		}
		if err := c.ledger.Close(vault, addr); err != nil {
			return fromLedger(err)
		}
		if err := c.tx.Delete(addr); err != nil {
			return err
		}
		return c.emit(&event.CloseUserMetadata{User: user, UserMetadata: addr})
	})
}

// BuyTicket purchases numbers in round of authority's registry. A purchase
// after the round's end date closes the round and fails.
func (e *Engine) BuyTicket(user, authority solana.PublicKey, round uint64, numbers [6]uint8) (*Transaction, error) {
	return e.execute("BuyLottoTicket", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, round)
		if err != nil {
			return err
		}
		if game.State != GameStateOpen {
			return wrap(ErrLottoGameNotOpen, "round %d is %s", round, game.State)
		}
		if c.now > game.EndDate {
			game.State = GameStateClosed
			if err := putRecord(c.tx, gameAddr, game); err != nil {
				return err
			}
			c.msg("Round %d closed by late purchase", round)
			return &commitThenFail{err: wrap(ErrLottoGameEnded, "round %d ended at %d", round, game.EndDate)}
		}
		if !game.ValidNumbers(numbers) {
			return wrap(ErrInvalidNumbersInTicket, "%v exceeds %v", numbers, game.MaxNumbersInTicket)
		}

		meta, metaAddr, err := c.userMetadata(user)
		if err != nil {
			return err
		}
		ticketAddr, _, err := e.addrs.Ticket(gameAddr, metaAddr, numbers)
		if err != nil {
			return err
		}
		exists, err := c.tx.Has(ticketAddr)
		if err != nil {
			return err
		}
		if exists {
			return wrap(ErrTicketAlreadyExists, "%v in round %d", numbers, round)
		}

		funding, err := e.addrs.UserUsdcAccount(user)
		if err != nil {
			return err
		}
		if err := c.ledger.Transfer(funding, game.Vault, user, game.TicketPrice); err != nil {
			return fromLedger(err)
		}

		ticket := &Ticket{
			User:         user,
			TicketNumber: game.TicketsSold,
			Game:         gameAddr,
			Round:        round,
			Numbers:      numbers,
			TicketPrice:  game.TicketPrice,
			BuyDate:      c.now,
		}
		if err := createRecord(c.tx, ticketAddr, ticket); err != nil {
			return err
		}
		if game.TicketsSold, err = checkedAdd(game.TicketsSold, 1); err != nil {
			return err
		}
		if meta.TotalTicketsPurchased, err = checkedAdd(meta.TotalTicketsPurchased, 1); err != nil {
			return err
		}
		if err := putRecord(c.tx, gameAddr, game); err != nil {
			return err
		}
		if err := putRecord(c.tx, metaAddr, meta); err != nil {
			return err
		}
		return c.emit(&event.BuyLottoTicket{
			User:            user,
			UserMetadata:    metaAddr,
			UserTicketCount: meta.TotalTicketsPurchased,
			LottoTicket:     ticketAddr,
			LottoGame:       gameAddr,
			TicketsSold:     game.TicketsSold,
			Round:           round,
			TicketNumber:    ticket.TicketNumber,
			Numbers:         numbers,
			TicketPrice:     game.TicketPrice,
			BuyDate:         c.now,
		})
	})
}

// CloseTicket deletes a ticket once its round is finished or deleted.
func (e *Engine) CloseTicket(user, authority solana.PublicKey, round uint64, numbers [6]uint8) (*Transaction, error) {
	return e.execute("CloseLottoTicket", func(c *opContext) error {
		gameAddr, _, err := e.addrs.Game(authority, round)
		if err != nil {
			return err
		}
		game, err := loadRecord[Game](c.tx, gameAddr)
		switch {
		case errors.Is(err, ErrAccountNotInitialized):
		case err != nil:
			return err
		case game.State == GameStateOpen:
			return wrap(ErrLottoGameIsStillOpen, "round %d", round)
		case game.State != GameStateFinished:
			return wrap(ErrGameNotClosed, "round %d is %s", round, game.State)
		}

		metaAddr, _, err := e.addrs.UserMetadata(user)
		if err != nil {
			return err
		}
		ticketAddr, _, err := e.addrs.Ticket(gameAddr, metaAddr, numbers)
		if err != nil {
			return err
		}
		ticket, err := loadRecord[Ticket](c.tx, ticketAddr)
		if err != nil {
			return err
		}
		if err := requireSigner(user, ticket.User); err != nil {
			return err
		}
		if err := c.tx.Delete(ticketAddr); err != nil {
			return err
		}
		return c.emit(&event.CloseLottoTicket{
			User:        user,
			LottoTicket: ticketAddr,
			LottoGame:   gameAddr,
			Round:       round,
		})
	})
}

// ClaimUserRewards moves amount from the user's rewards vault to their USDC
// account.
func (e *Engine) ClaimUserRewards(user solana.PublicKey, amount uint64) (*Transaction, error) {
	return e.execute("ClaimUserRewards", func(c *opContext) error {
		meta, metaAddr, err := c.userMetadata(user)
		if err != nil {
			return err
		}
		if err := requireSigner(user, meta.User); err != nil {
			return err
		}
		vault, err := e.addrs.UserRewardsVault(metaAddr)
		if err != nil {
			return err
		}
		balance, err := c.ledger.Balance(vault)
		if err != nil {
			return fromLedger(err)
		}
		if balance == 0 || amount == 0 {
			return wrap(ErrNoRewardsToClaimFromVault, "vault holds %d, claim of %d", balance, amount)
		}
		if amount > meta.AvailableRewards() || amount > balance {
			return wrap(ErrNotSufficientRewardsInVault, "claim of %d, available %d, vault %d", amount, meta.AvailableRewards(), balance)
		}

		dest, err := e.addrs.UserUsdcAccount(user)
		if err != nil {
			return err
		}
		if err := c.ledger.Transfer(vault, dest, metaAddr, amount); err != nil {
			return fromLedger(err)
		}
		meta.TotalAmountClaimed += amount
		meta.LastClaimedAt = c.now
		meta.recordClaim(amount, c.now)
		if err := putRecord(c.tx, metaAddr, meta); err != nil {
			return err
		}
		return c.emit(&event.ClaimUserRewards{
			User:               user,
			UserMetadata:       metaAddr,
			AmountClaimed:      amount,
			TotalAmountClaimed: meta.TotalAmountClaimed,
			TotalAmountWon:     meta.TotalAmountWon,
			ClaimedAt:          c.now,
		})
	})
}
