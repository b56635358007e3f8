package store

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

type RegistrySnapshot struct {
	Registry   solana.PublicKey
	Authority  solana.PublicKey
	GameCount  uint64
	ObservedAt time.Time
}

func (s *Store) UpsertRegistrySnapshot(ctx context.Context, r RegistrySnapshot) error {
	return s.exec(ctx, `
		INSERT INTO registry_snapshots (registry, authority, game_count, observed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (registry) DO UPDATE SET
			authority = EXCLUDED.authority,
			game_count = EXCLUDED.game_count,
			observed_at = EXCLUDED.observed_at
	`, r.Registry.String(), r.Authority.String(), U64(r.GameCount).Numeric(), r.ObservedAt)
}

type GameSnapshot struct {
	Game          solana.PublicKey
	Round         uint64
	State         string
	TicketPrice   U64
	TicketsSold   uint64
	VaultBalance  *U64
	FilledSlots   int
	JackpotTicket *solana.PublicKey
	StartDate     int64
	EndDate       int64
	ObservedAt    time.Time
}

func (s *Store) UpsertGameSnapshot(ctx context.Context, g GameSnapshot) error {
	var vaultLE []byte
	if g.VaultBalance != nil {
		vaultLE = g.VaultBalance.LE()
	}
	return s.exec(ctx, `
		INSERT INTO lotto_game_snapshots (game, round, state, ticket_price, tickets_sold, vault_balance, vault_balance_le,
			filled_slots, jackpot_ticket, start_date, end_date, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (game) DO UPDATE SET
			state = EXCLUDED.state,
			tickets_sold = EXCLUDED.tickets_sold,
			vault_balance = EXCLUDED.vault_balance,
			vault_balance_le = EXCLUDED.vault_balance_le,
			filled_slots = EXCLUDED.filled_slots,
			jackpot_ticket = EXCLUDED.jackpot_ticket,
			observed_at = EXCLUDED.observed_at
	`, g.Game.String(), U64(g.Round).Numeric(), g.State, g.TicketPrice.Numeric(), U64(g.TicketsSold).Numeric(),
		optNumeric(g.VaultBalance), vaultLE, g.FilledSlots, optKey(g.JackpotTicket), g.StartDate, g.EndDate, g.ObservedAt)
}

// GameSnapshotState returns the stored state and tickets sold of game.
func (s *Store) GameSnapshotState(ctx context.Context, game solana.PublicKey) (string, uint64, error) {
	var (
		state string
		sold  int64
	)
	if err := s.db.QueryRow(ctx, `
		SELECT state, tickets_sold::BIGINT FROM lotto_game_snapshots WHERE game = $1
	`, game.String()).Scan(&state, &sold); err != nil {
		return "", 0, err
	}
	return state, uint64(sold), nil
}
