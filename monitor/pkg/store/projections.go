package store

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

func optKey(k *solana.PublicKey) *string {
	if k == nil {
		return nil
	}
	s := k.String()
	return &s
}

func optNumeric(v *U64) any {
	if v == nil {
		return nil
	}
	return v.Numeric()
}

func optNumbers(n *[6]uint8) []int16 {
	if n == nil {
		return nil
	}
	return numbers(*n)
}

// GameRow is the parent row of every per-round activity.
type GameRow struct {
	Address     solana.PublicKey
	Round       uint64
	Authority   solana.PublicKey
	Vault       solana.PublicKey
	RoundName   string
	TicketPrice U64
	StartDate   int64
	EndDate     int64
	MaxNumbers  [6]uint8
}

// UpsertGame writes the full game row, replacing a repaired placeholder.
func (s *Store) UpsertGame(ctx context.Context, g GameRow) error {
	return s.exec(ctx, `
		INSERT INTO games (address, round, authority, vault, round_name, ticket_price, start_date, end_date, max_numbers, is_repaired)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE)
		ON CONFLICT (address) DO UPDATE SET
			round = EXCLUDED.round,
			authority = EXCLUDED.authority,
			vault = EXCLUDED.vault,
			round_name = EXCLUDED.round_name,
			ticket_price = EXCLUDED.ticket_price,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			max_numbers = EXCLUDED.max_numbers,
			is_repaired = FALSE,
			updated_at = now()
	`, g.Address.String(), U64(g.Round).Numeric(), g.Authority.String(), g.Vault.String(), g.RoundName,
		g.TicketPrice.Numeric(), g.StartDate, g.EndDate, numbers(g.MaxNumbers))
}

// RepairGame inserts a placeholder game row known only by address and
// round. An existing row is left untouched.
func (s *Store) RepairGame(ctx context.Context, address solana.PublicKey, round uint64) error {
	return s.exec(ctx, `
		INSERT INTO games (address, round, is_repaired)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (address) DO NOTHING
	`, address.String(), U64(round).Numeric())
}

// MarkGameClosed records the round closure on the game row.
func (s *Store) MarkGameClosed(ctx context.Context, address solana.PublicKey, closedAt int64, ticketsSold uint64) error {
	return s.exec(ctx, `
		UPDATE games SET closed_at = $2, tickets_sold = $3, updated_at = now()
		WHERE address = $1
	`, address.String(), closedAt, U64(ticketsSold).Numeric())
}

// UserRow is the parent row of every per-user activity.
type UserRow struct {
	Address      solana.PublicKey
	UserMetadata solana.PublicKey
	RewardsVault solana.PublicKey
	CreatedAt    int64
}

func (s *Store) UpsertUser(ctx context.Context, u UserRow) error {
	return s.exec(ctx, `
		INSERT INTO users (address, user_metadata, rewards_vault, created_at, is_repaired)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (address) DO UPDATE SET
			user_metadata = EXCLUDED.user_metadata,
			rewards_vault = EXCLUDED.rewards_vault,
			created_at = EXCLUDED.created_at,
			closed = FALSE,
			is_repaired = FALSE,
			updated_at = now()
	`, u.Address.String(), u.UserMetadata.String(), u.RewardsVault.String(), u.CreatedAt)
}

// RepairUser inserts a placeholder user row. An existing row is left
// untouched.
func (s *Store) RepairUser(ctx context.Context, address, userMetadata solana.PublicKey) error {
	return s.exec(ctx, `
		INSERT INTO users (address, user_metadata, is_repaired)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (address) DO NOTHING
	`, address.String(), userMetadata.String())
}

func (s *Store) MarkUserClosed(ctx context.Context, address solana.PublicKey) error {
	return s.exec(ctx, `
		UPDATE users SET closed = TRUE, updated_at = now() WHERE address = $1
	`, address.String())
}

type AccountChange struct {
	EventID int64
	Action  string
	Account solana.PublicKey
	Owner   solana.PublicKey
	Counter *U64
}

func (s *Store) InsertAccountChange(ctx context.Context, a AccountChange) error {
	return s.exec(ctx, `
		INSERT INTO account_changes (event_id, action, account, owner, counter)
		VALUES ($1, $2, $3, $4, $5)
	`, a.EventID, a.Action, a.Account.String(), a.Owner.String(), optNumeric(a.Counter))
}

type GameLifecycle struct {
	EventID     int64
	Game        solana.PublicKey
	Action      string
	Round       uint64
	TicketsSold *U64
	LottoTicket *solana.PublicKey
	User        *solana.PublicKey
	Randomness  *solana.PublicKey
	Numbers     *[6]uint8
}

func (s *Store) InsertGameLifecycle(ctx context.Context, l GameLifecycle) error {
	return s.exec(ctx, `
		INSERT INTO game_lifecycle (event_id, game, action, round, tickets_sold, lotto_ticket, user_address, randomness, numbers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.EventID, l.Game.String(), l.Action, U64(l.Round).Numeric(), optNumeric(l.TicketsSold),
		optKey(l.LottoTicket), optKey(l.User), optKey(l.Randomness), optNumbers(l.Numbers))
}

type TicketPurchase struct {
	EventID         int64
	LottoTicket     solana.PublicKey
	Game            solana.PublicKey
	User            solana.PublicKey
	Round           uint64
	TicketNumber    uint64
	UserTicketCount uint64
	TicketsSold     uint64
	Numbers         [6]uint8
	TicketPrice     U64
	BuyDate         int64
}

func (s *Store) InsertTicketPurchase(ctx context.Context, p TicketPurchase) error {
	return s.exec(ctx, `
		INSERT INTO ticket_purchases (event_id, lotto_ticket, game, user_address, round, ticket_number, user_ticket_count,
			tickets_sold, numbers, ticket_price, ticket_price_le, buy_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.EventID, p.LottoTicket.String(), p.Game.String(), p.User.String(), U64(p.Round).Numeric(),
		U64(p.TicketNumber).Numeric(), U64(p.UserTicketCount).Numeric(), U64(p.TicketsSold).Numeric(),
		numbers(p.Numbers), p.TicketPrice.Numeric(), p.TicketPrice.LE(), p.BuyDate)
}

type WinningNumbers struct {
	EventID    int64
	Game       solana.PublicKey
	Round      uint64
	Source     string
	Numbers    [6]uint8
	Tier       uint8
	Index      uint32
	Duplicate  bool
	AllFilled  bool
	Randomness []byte
}

func (s *Store) InsertWinningNumbers(ctx context.Context, w WinningNumbers) error {
	return s.exec(ctx, `
		INSERT INTO winning_numbers (event_id, game, round, source, numbers, tier, slot_index, duplicate, all_filled, randomness)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, w.EventID, w.Game.String(), U64(w.Round).Numeric(), w.Source, numbers(w.Numbers), int16(w.Tier),
		int32(w.Index), w.Duplicate, w.AllFilled, w.Randomness)
}

type PrizeTransfer struct {
	EventID        int64
	Game           solana.PublicKey
	User           solana.PublicKey
	LottoTicket    solana.PublicKey
	Round          uint64
	Tier           uint8
	Index          uint32
	Numbers        [6]uint8
	Duplicates     uint32
	WinningAmount  U64
	TotalAmountWon U64
}

func (s *Store) InsertPrizeTransfer(ctx context.Context, p PrizeTransfer) error {
	return s.exec(ctx, `
		INSERT INTO prize_transfers (event_id, game, user_address, lotto_ticket, round, tier, slot_index, numbers, duplicates,
			winning_amount, winning_amount_le, total_amount_won, total_amount_won_le)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.EventID, p.Game.String(), p.User.String(), p.LottoTicket.String(), U64(p.Round).Numeric(), int16(p.Tier),
		int32(p.Index), numbers(p.Numbers), int32(p.Duplicates),
		p.WinningAmount.Numeric(), p.WinningAmount.LE(), p.TotalAmountWon.Numeric(), p.TotalAmountWon.LE())
}

type RewardClaim struct {
	EventID            int64
	User               solana.PublicKey
	AmountClaimed      U64
	TotalAmountClaimed U64
	TotalAmountWon     U64
	ClaimedAt          int64
}

func (s *Store) InsertRewardClaim(ctx context.Context, c RewardClaim) error {
	return s.exec(ctx, `
		INSERT INTO reward_claims (event_id, user_address, amount_claimed, amount_claimed_le, total_amount_claimed,
			total_amount_claimed_le, total_amount_won, total_amount_won_le, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.EventID, c.User.String(), c.AmountClaimed.Numeric(), c.AmountClaimed.LE(),
		c.TotalAmountClaimed.Numeric(), c.TotalAmountClaimed.LE(), c.TotalAmountWon.Numeric(), c.TotalAmountWon.LE(), c.ClaimedAt)
}

type PoolSettlement struct {
	EventID          int64
	Game             solana.PublicKey
	Round            uint64
	BurnState        solana.PublicKey
	TotalPool        U64
	BuyAndBurnAmount U64
	DaoAmount        U64
	FeesAmount       U64
}

func (s *Store) InsertPoolSettlement(ctx context.Context, p PoolSettlement) error {
	return s.exec(ctx, `
		INSERT INTO pool_settlements (event_id, game, round, burn_state, total_pool, total_pool_le, buy_and_burn_amount,
			buy_and_burn_le, dao_amount, dao_amount_le, fees_amount, fees_amount_le)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.EventID, p.Game.String(), U64(p.Round).Numeric(), p.BurnState.String(),
		p.TotalPool.Numeric(), p.TotalPool.LE(), p.BuyAndBurnAmount.Numeric(), p.BuyAndBurnAmount.LE(),
		p.DaoAmount.Numeric(), p.DaoAmount.LE(), p.FeesAmount.Numeric(), p.FeesAmount.LE())
}

type Burn struct {
	EventID         int64
	Action          string
	BurnState       solana.PublicKey
	UsdcAmount      *U64
	LollyAmount     U64
	TotalLollyBurnt *U64
}

func (s *Store) InsertBurn(ctx context.Context, b Burn) error {
	var usdcLE []byte
	if b.UsdcAmount != nil {
		usdcLE = b.UsdcAmount.LE()
	}
	return s.exec(ctx, `
		INSERT INTO burns (event_id, action, burn_state, usdc_amount, usdc_amount_le, lolly_amount, lolly_amount_le, total_lolly_burnt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.EventID, b.Action, b.BurnState.String(), optNumeric(b.UsdcAmount), usdcLE,
		b.LollyAmount.Numeric(), b.LollyAmount.LE(), optNumeric(b.TotalLollyBurnt))
}
