package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/event"
	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
	"github.com/malbeclabs/lolly/monitor/pkg/store"
)

// activity inserts one projection row. A missing parent is repaired from
// the payload and the insert retried once; a duplicate row is only logged.
func (p *Processor) activity(ctx context.Context, rec *event.Record, insert func() error, repair func() error) error {
	kind := rec.Kind().String()
	err := insert()
	if errors.Is(err, store.ErrMissingParent) && repair != nil {
		p.log.Warn("ingest: repairing missing parent", "event_id", rec.EventID, "kind", kind)
		if rerr := repair(); rerr != nil {
			return fmt.Errorf("failed to repair parent: %w", rerr)
		}
		metrics.ProjectionsTotal.WithLabelValues(kind, "repaired").Inc()
		err = insert()
	}
	switch {
	case err == nil:
		metrics.ProjectionsTotal.WithLabelValues(kind, "inserted").Inc()
		return nil
	case errors.Is(err, store.ErrDuplicate):
		metrics.ProjectionsTotal.WithLabelValues(kind, "duplicate").Inc()
		p.log.Warn("ingest: activity row already stored", "event_id", rec.EventID, "kind", kind)
		return nil
	default:
		return err
	}
}

func (p *Processor) repairGame(ctx context.Context, game solana.PublicKey, round uint64) func() error {
	return func() error { return p.cfg.Store.RepairGame(ctx, game, round) }
}

func (p *Processor) repairUser(ctx context.Context, user, meta solana.PublicKey) func() error {
	return func() error { return p.cfg.Store.RepairUser(ctx, user, meta) }
}

func both(a, b func() error) func() error {
	return func() error {
		if err := a(); err != nil {
			return err
		}
		return b()
	}
}

func counter(v uint64) *store.U64 {
	u := store.U64(v)
	return &u
}

func (p *Processor) accountChange(ctx context.Context, rec *event.Record, action string, account, owner solana.PublicKey, count *store.U64) error {
	return p.activity(ctx, rec, func() error {
		return p.cfg.Store.InsertAccountChange(ctx, store.AccountChange{
			EventID: rec.EventID, Action: action, Account: account, Owner: owner, Counter: count,
		})
	}, nil)
}

func (p *Processor) lifecycle(ctx context.Context, rec *event.Record, l store.GameLifecycle) error {
	l.EventID = rec.EventID
	return p.activity(ctx, rec, func() error {
		return p.cfg.Store.InsertGameLifecycle(ctx, l)
	}, p.repairGame(ctx, l.Game, l.Round))
}

func (p *Processor) winning(ctx context.Context, rec *event.Record, w store.WinningNumbers) error {
	w.EventID = rec.EventID
	return p.activity(ctx, rec, func() error {
		return p.cfg.Store.InsertWinningNumbers(ctx, w)
	}, p.repairGame(ctx, w.Game, w.Round))
}

// project dispatches on the payload kind.
func (p *Processor) project(ctx context.Context, rec *event.Record) error {
	s := p.cfg.Store
	switch d := rec.Data.(type) {
	case *event.CreateLollysLotto:
		return p.accountChange(ctx, rec, "create_registry", d.LollysLotto, d.Authority, nil)
	case *event.CloseLollysLotto:
		return p.accountChange(ctx, rec, "close_registry", d.LollysLotto, d.Authority, counter(d.LottoGameCount))
	case *event.CloseEventEmitter:
		return p.accountChange(ctx, rec, "close_event_emitter", d.EventEmitter, d.Authority, nil)
	case *event.CreateLollyBurnState:
		return p.accountChange(ctx, rec, "create_burn_state", d.LollyBurnState, d.Authority, nil)
	case *event.CloseLollyBurnState:
		return p.accountChange(ctx, rec, "close_burn_state", d.LollyBurnState, d.Authority, counter(d.TotalLollyBurnt))
	case *event.CloseLottoTicket:
		return p.accountChange(ctx, rec, "close_ticket", d.LottoTicket, d.User, nil)

	case *event.CreateUserMetadata:
		if err := s.UpsertUser(ctx, store.UserRow{
			Address:      d.User,
			UserMetadata: d.UserMetadata,
			RewardsVault: d.UserRewardsVault,
			CreatedAt:    d.CreatedTimestamp,
		}); err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return p.accountChange(ctx, rec, "create_user_metadata", d.UserMetadata, d.User, nil)
	case *event.CloseUserMetadata:
		if err := s.MarkUserClosed(ctx, d.User); err != nil {
			return fmt.Errorf("failed to mark user closed: %w", err)
		}
		return p.accountChange(ctx, rec, "close_user_metadata", d.UserMetadata, d.User, nil)

	case *event.StartLottoGame:
		if err := s.UpsertGame(ctx, store.GameRow{
			Address:     d.LottoGame,
			Round:       d.Round,
			Authority:   d.Authority,
			Vault:       d.LottoGameVault,
			RoundName:   d.RoundName,
			TicketPrice: store.U64(d.TicketPrice),
			StartDate:   d.StartDate,
			EndDate:     d.EndDate,
			MaxNumbers:  d.MaxNumbersInTicket,
		}); err != nil {
			return fmt.Errorf("failed to upsert game: %w", err)
		}
		randomness := d.Randomness
		return p.lifecycle(ctx, rec, store.GameLifecycle{Game: d.LottoGame, Action: "started", Round: d.Round, Randomness: &randomness})
	case *event.CrankLottoGameClosed:
		if err := p.lifecycle(ctx, rec, store.GameLifecycle{
			Game: d.LottoGame, Action: "closed", Round: d.Round, TicketsSold: counter(d.TicketsSold),
		}); err != nil {
			return err
		}
		return s.MarkGameClosed(ctx, d.LottoGame, d.ClosedAt, d.TicketsSold)
	case *event.RequestWinningNumbers:
		randomness := d.Randomness
		return p.lifecycle(ctx, rec, store.GameLifecycle{Game: d.LottoGame, Action: "randomness_requested", Round: d.Round, Randomness: &randomness})
	case *event.CrankLottoGameWinners:
		ticket, user, nums := d.LottoTicket, d.User, d.WinningNumbers
		return p.lifecycle(ctx, rec, store.GameLifecycle{
			Game: d.LottoGame, Action: "winner_declared", Round: d.Round, LottoTicket: &ticket, User: &user, Numbers: &nums,
		})
	case *event.CloseLottoGame:
		return p.lifecycle(ctx, rec, store.GameLifecycle{Game: d.LottoGame, Action: "game_closed", Round: d.Round})

	case *event.ProcessWinningNumbers:
		return p.winning(ctx, rec, store.WinningNumbers{
			Game: d.LottoGame, Round: d.Round, Source: "draw", Numbers: d.WinningNumbers,
			Tier: d.Tier, Index: d.Index, AllFilled: d.AllFilled, Randomness: d.Randomness[:],
		})
	case *event.DuplicateWinningNumbers:
		return p.winning(ctx, rec, store.WinningNumbers{
			Game: d.LottoGame, Round: d.Round, Source: "draw", Numbers: d.WinningNumbers,
			Tier: d.DuplicateTier, Index: d.DuplicateIndex, Duplicate: true, Randomness: d.Randomness[:],
		})
	case *event.TestEmitWinningNumbers:
		return p.winning(ctx, rec, store.WinningNumbers{
			Game: d.LottoGame, Round: d.Round, Source: "test", Numbers: d.WinningNumbers, Tier: d.Tier, Index: d.Index,
		})

	case *event.BuyLottoTicket:
		return p.activity(ctx, rec, func() error {
			return s.InsertTicketPurchase(ctx, store.TicketPurchase{
				EventID:         rec.EventID,
				LottoTicket:     d.LottoTicket,
				Game:            d.LottoGame,
				User:            d.User,
				Round:           d.Round,
				TicketNumber:    d.TicketNumber,
				UserTicketCount: d.UserTicketCount,
				TicketsSold:     d.TicketsSold,
				Numbers:         d.Numbers,
				TicketPrice:     store.U64(d.TicketPrice),
				BuyDate:         d.BuyDate,
			})
		}, both(p.repairGame(ctx, d.LottoGame, d.Round), p.repairUser(ctx, d.User, d.UserMetadata)))
	case *event.CrankTransferWinningAmountToUserRewardsVault:
		return p.activity(ctx, rec, func() error {
			return s.InsertPrizeTransfer(ctx, store.PrizeTransfer{
				EventID:        rec.EventID,
				Game:           d.LottoGame,
				User:           d.User,
				LottoTicket:    d.LottoTicket,
				Round:          d.Round,
				Tier:           d.Tier,
				Index:          d.Index,
				Numbers:        d.WinningNumbers,
				Duplicates:     d.NumberOfTicketsWithDuplicateNumbers,
				WinningAmount:  store.U64(d.WinningAmount),
				TotalAmountWon: store.U64(d.TotalAmountWon),
			})
		}, both(p.repairGame(ctx, d.LottoGame, d.Round), p.repairUser(ctx, d.User, d.UserMetadata)))
	case *event.ClaimUserRewards:
		return p.activity(ctx, rec, func() error {
			return s.InsertRewardClaim(ctx, store.RewardClaim{
				EventID:            rec.EventID,
				User:               d.User,
				AmountClaimed:      store.U64(d.AmountClaimed),
				TotalAmountClaimed: store.U64(d.TotalAmountClaimed),
				TotalAmountWon:     store.U64(d.TotalAmountWon),
				ClaimedAt:          d.ClaimedAt,
			})
		}, p.repairUser(ctx, d.User, d.UserMetadata))
	case *event.CrankTransferToBuyAndBurnVault:
		return p.activity(ctx, rec, func() error {
			return s.InsertPoolSettlement(ctx, store.PoolSettlement{
				EventID:          rec.EventID,
				Game:             d.LottoGame,
				Round:            d.Round,
				BurnState:        d.LollyBurnState,
				TotalPool:        store.U64(d.TotalPool),
				BuyAndBurnAmount: store.U64(d.BuyAndBurnAmount),
				DaoAmount:        store.U64(d.DaoAmount),
				FeesAmount:       store.U64(d.FeesAmount),
			})
		}, p.repairGame(ctx, d.LottoGame, d.Round))

	case *event.SwapUsdcLolly:
		return p.activity(ctx, rec, func() error {
			return s.InsertBurn(ctx, store.Burn{
				EventID: rec.EventID, Action: "swap", BurnState: d.LollyBurnState,
				UsdcAmount: counter(d.UsdcSwapped), LollyAmount: store.U64(d.LollyReceived),
			})
		}, nil)
	case *event.BurnLolly:
		return p.activity(ctx, rec, func() error {
			return s.InsertBurn(ctx, store.Burn{
				EventID: rec.EventID, Action: "burn", BurnState: d.LollyBurnState,
				LollyAmount: store.U64(d.BurntAmount), TotalLollyBurnt: counter(d.TotalLollyBurnt),
			})
		}, nil)
	}
	return fmt.Errorf("%w: %T", event.ErrUnknownKind, rec.Data)
}
