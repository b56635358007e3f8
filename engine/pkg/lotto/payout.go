package lotto

import (
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/event"
	"github.com/malbeclabs/lolly/engine/pkg/swap"
)

// TransferWinningAmountParams selects the winning slot and every ticket
// holding its numbers.
type TransferWinningAmountParams struct {
	Round          uint64
	WinningNumbers [6]uint8
	// Users hold a ticket with WinningNumbers. The slot prize is divided
	// evenly among them.
	Users []solana.PublicKey
	// DuplicateCount, when set, must equal len(Users)-1.
	DuplicateCount *uint32
}

// locateWinning finds the filled slot holding numbers or explains why none does.
func locateWinning(game *Game, numbers [6]uint8) (Tier, uint32, error) {
	if tier, index, ok := game.FindWinning(numbers); ok {
		return tier, index, nil
	}
	if game.FilledSlots() == 0 {
		return TierNone, 0, wrap(ErrWinningNumbersNotSet, "round %d", game.Round)
	}
	if tier, _, free := game.NextFree(); free {
		return TierNone, 0, wrap(notUpdatedErrs[tier], "no filled slot holds %v", numbers)
	}
	return TierNone, 0, wrap(ErrInvalidWinningTicket, "no slot holds %v", numbers)
}

// TransferWinningAmount pays the prize of the slot holding p.WinningNumbers to
// the rewards vault of every listed ticket holder and marks the slot
// disbursed.
func (e *Engine) TransferWinningAmount(authority solana.PublicKey, p TransferWinningAmountParams) (*Transaction, error) {
	return e.execute("CrankTransferWinningAmountToUserRewardsVault", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, p.Round)
		if err != nil {
			return err
		}
		if game.State != GameStateClosed && game.State != GameStateFinished {
			return wrap(ErrGameNotClosed, "round %d is %s", p.Round, game.State)
		}
		if len(p.Users) == 0 {
			return wrap(ErrInvalidWinningTicket, "no ticket holders given")
		}
		duplicates := uint32(len(p.Users) - 1)
		if p.DuplicateCount != nil && *p.DuplicateCount != duplicates {
			return wrap(ErrInvalidWinningTicket, "duplicate count %d, %d holders given", *p.DuplicateCount, len(p.Users))
		}

		tier, index, err := locateWinning(game, p.WinningNumbers)
		if err != nil {
			return err
		}
		slot, err := game.Slot(tier, index)
		if err != nil {
			return err
		}
		if slot.Disbursed {
			return wrap(alreadyDisbursedErrs[tier], "slot %d", index)
		}

		split, err := ComputeSplit(game.TicketPrice, game.TicketsSold)
		if err != nil {
			return err
		}
		prize, err := split.Prize(tier, duplicates)
		if err != nil {
			return err
		}
		vaultSigner, _, err := e.addrs.GameVaultSigner(gameAddr)
		if err != nil {
			return err
		}

		seen := make(map[solana.PublicKey]struct{}, len(p.Users))
		for _, user := range p.Users {
			if _, dup := seen[user]; dup {
				return wrap(ErrInvalidWinningTicket, "holder %s listed twice", user)
			}
			seen[user] = struct{}{}
			if err := c.payWinner(game, gameAddr, vaultSigner, user, tier, index, duplicates, prize); err != nil {
				return err
			}
		}

		slot.Disbursed = true
		return putRecord(c.tx, gameAddr, game)
	})
}

func (c *opContext) payWinner(game *Game, gameAddr, vaultSigner, user solana.PublicKey, tier Tier, index, duplicates uint32, prize uint64) error {
	meta, metaAddr, err := c.userMetadata(user)
	if err != nil {
		return err
	}
	ticketAddr, _, err := c.e.addrs.Ticket(gameAddr, metaAddr, game.Slots(tier)[index].Numbers)
	if err != nil {
		return err
	}
	ticket, err := loadRecord[Ticket](c.tx, ticketAddr)
	if err != nil {
		if errors.Is(err, ErrAccountNotInitialized) {
			return wrap(ErrInvalidWinningTicket, "%s holds no winning ticket", user)
		}
		return err
	}
	if ticket.IsWinner != 0 {
		return wrap(alreadyDisbursedErrs[tier], "ticket %s already paid", ticketAddr)
	}

	ticket.IsChecked = true
	ticket.CheckDate = c.now
	ticket.IsDuplicated = duplicates
	ticket.IsWinner = 1
	ticket.Prize = prize
	if meta.TotalAmountWon, err = checkedAdd(meta.TotalAmountWon, prize); err != nil {
		return err
	}

	rewardsVault, err := c.e.addrs.UserRewardsVault(metaAddr)
	if err != nil {
		return err
	}
	if err := c.ledger.Transfer(game.Vault, rewardsVault, vaultSigner, prize); err != nil {
		return fromLedger(err)
	}
	if err := putRecord(c.tx, ticketAddr, ticket); err != nil {
		return err
	}
	if err := putRecord(c.tx, metaAddr, meta); err != nil {
		return err
	}
	return c.emit(&event.CrankTransferWinningAmountToUserRewardsVault{
		LottoGame:                           gameAddr,
		LottoTicket:                         ticketAddr,
		User:                                user,
		UserMetadata:                        metaAddr,
		UserRewardsVault:                    rewardsVault,
		Round:                               game.Round,
		Tier:                                uint8(tier),
		Index:                               index,
		WinningNumbers:                      ticket.Numbers,
		NumberOfTicketsWithDuplicateNumbers: duplicates,
		WinningAmount:                       prize,
		TotalAmountWon:                      meta.TotalAmountWon,
	})
}

// CrankTransferToBuyAndBurnVault settles a closed round: the burn share goes
// to the burn sink, the DAO share to the DAO account and the fees plus
// rounding residue to the fee account. Prize shares stay in the pool vault,
// so winners can still be paid after the round becomes Finished.
func (e *Engine) CrankTransferToBuyAndBurnVault(authority solana.PublicKey, round uint64) (*Transaction, error) {
	return e.execute("CrankTransferToBuyAndBurnVault", func(c *opContext) error {
		game, gameAddr, err := c.game(authority, round)
		if err != nil {
			return err
		}
		if game.State != GameStateClosed {
			return wrap(ErrGameNotClosed, "round %d is %s", round, game.State)
		}
		bs, bsAddr, err := c.burnState(game.Authority)
		if err != nil {
			return err
		}
		split, err := ComputeSplit(game.TicketPrice, game.TicketsSold)
		if err != nil {
			return err
		}
		buyAndBurn := split.BuyAndBurn
		fees := split.FeesWithResidue()

		vaultSigner, _, err := e.addrs.GameVaultSigner(gameAddr)
		if err != nil {
			return err
		}
		if err := c.ledger.Transfer(game.Vault, bs.UsdcVault, vaultSigner, buyAndBurn); err != nil {
			return fromLedger(err)
		}
		if err := c.ledger.Transfer(game.Vault, e.cfg.DaoAccount, vaultSigner, split.Dao); err != nil {
			return fromLedger(err)
		}
		if err := c.ledger.Transfer(game.Vault, e.cfg.FeesAccount, vaultSigner, fees); err != nil {
			return fromLedger(err)
		}

		game.State = GameStateFinished
		if err := putRecord(c.tx, gameAddr, game); err != nil {
			return err
		}
		return c.emit(&event.CrankTransferToBuyAndBurnVault{
			LottoGame:        gameAddr,
			Round:            round,
			LollyBurnState:   bsAddr,
			UsdcVault:        bs.UsdcVault,
			TotalPool:        split.Pool,
			BuyAndBurnAmount: buyAndBurn,
			DaoAmount:        split.Dao,
			FeesAmount:       fees,
		})
	})
}

// SwapUsdcLolly routes USDC from the sink's USDC vault into its LOLLY vault
// through the external swap router.
func (e *Engine) SwapUsdcLolly(authority solana.PublicKey, ix swap.Instruction) (*Transaction, error) {
	return e.execute("SwapUsdcLolly", func(c *opContext) error {
		if e.cfg.Router == nil {
			return errors.New("no swap router configured")
		}
		bs, bsAddr, err := c.burnState(authority)
		if err != nil {
			return err
		}
		if err := requireSigner(authority, bs.Authority); err != nil {
			return err
		}
		if !ix.InputMint.Equals(e.cfg.UsdcMint) {
			return wrap(ErrOnlySwapFromUSDCAllowed, "input mint %s", ix.InputMint)
		}
		if !ix.OutputMint.Equals(e.cfg.LollyMint) {
			return wrap(ErrOnlySwapToLOLLYAllowed, "output mint %s", ix.OutputMint)
		}
		if !ix.SourceTokenAccount.Equals(bs.UsdcVault) {
			return wrap(ErrJupiterIxSourceTokenAccountMismatch, "%s", ix.SourceTokenAccount)
		}
		if !ix.DestinationAccount.Equals(bs.LollyVault) {
			return wrap(ErrJupiterIxDestinationTokenAccountMismatch, "%s", ix.DestinationAccount)
		}
		for _, vault := range []solana.PublicKey{bs.UsdcVault, bs.LollyVault} {
			acct, err := c.ledger.Account(vault)
			if err != nil {
				return fromLedger(err)
			}
			if !acct.Owner.Equals(bsAddr) {
				return wrap(ErrTokenAccountAuthorityMismatch, "vault %s owned by %s", vault, acct.Owner)
			}
		}
		if !ix.Authority.Equals(bsAddr) {
			return wrap(ErrTokenAccountAuthorityMismatch, "swap authority %s", ix.Authority)
		}

		out, err := e.cfg.Router.Swap(c.ledger, ix)
		if err != nil {
			return fromLedger(err)
		}
		return c.emit(&event.SwapUsdcLolly{
			Authority:      authority,
			LollyBurnState: bsAddr,
			UsdcSwapped:    ix.InAmount,
			LollyReceived:  out,
		})
	})
}

// BurnLolly burns the whole LOLLY balance of authority's sink.
func (e *Engine) BurnLolly(authority solana.PublicKey) (*Transaction, error) {
	return e.execute("BurnLolly", func(c *opContext) error {
		bs, bsAddr, err := c.burnState(authority)
		if err != nil {
			return err
		}
		amount, err := c.ledger.Balance(bs.LollyVault)
		if err != nil {
			return fromLedger(err)
		}
		if err := c.ledger.Burn(e.cfg.LollyMint, bs.LollyVault, bsAddr, amount); err != nil {
			return fromLedger(err)
		}
		if bs.TotalLollyBurnt, err = checkedAdd(bs.TotalLollyBurnt, amount); err != nil {
			return err
		}
		if err := putRecord(c.tx, bsAddr, bs); err != nil {
			return err
		}
		return c.emit(&event.BurnLolly{
			Authority:       authority,
			LollyBurnState:  bsAddr,
			LollyVault:      bs.LollyVault,
			BurntAmount:     amount,
			TotalLollyBurnt: bs.TotalLollyBurnt,
		})
	})
}
