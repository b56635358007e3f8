// Package poller periodically snapshots the registry and its latest games
// into the history store.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/lolly/engine/pkg/ledger"
	"github.com/malbeclabs/lolly/engine/pkg/lotto"
	"github.com/malbeclabs/lolly/monitor/pkg/address"
	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
	"github.com/malbeclabs/lolly/monitor/pkg/store"
)

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Accounts  address.AccountFetcher
	Addresses *address.Calculator
	Store     *store.Store
	Registry  solana.PublicKey

	RefreshInterval time.Duration
	// LatestGames is the number of most recent rounds snapshotted per refresh.
	LatestGames int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Accounts == nil {
		return errors.New("account fetcher is required")
	}
	if cfg.Addresses == nil {
		return errors.New("address calculator is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Registry.IsZero() {
		return errors.New("pool registry is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.LatestGames <= 0 {
		cfg.LatestGames = 5
	}
	return nil
}

type Poller struct {
	log     *slog.Logger
	cfg     Config
	readyCh chan struct{}
}

func New(cfg Config) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Poller{log: cfg.Logger, cfg: cfg, readyCh: make(chan struct{})}, nil
}

// Ready reports whether one refresh has completed.
func (p *Poller) Ready() bool {
	select {
	case <-p.readyCh:
		return true
	default:
		return false
	}
}

// Run refreshes immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("poller: starting refresh loop", "interval", p.cfg.RefreshInterval, "latest_games", p.cfg.LatestGames)

	p.safeRefresh(ctx)

	ticker := p.cfg.Clock.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.safeRefresh(ctx)
		}
	}
}

func (p *Poller) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("poller: refresh panicked", "panic", r)
			metrics.PollRefreshTotal.WithLabelValues("panic").Inc()
		}
	}()

	if err := p.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.log.Error("poller: refresh failed", "error", err)
	}
}

// Refresh snapshots the registry and its latest games once.
func (p *Poller) Refresh(ctx context.Context) error {
	start := time.Now()
	err := p.refresh(ctx)
	metrics.PollRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PollRefreshTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.PollRefreshTotal.WithLabelValues("success").Inc()

	select {
	case <-p.readyCh:
	default:
		close(p.readyCh)
	}
	return nil
}

func (p *Poller) refresh(ctx context.Context) error {
	now := p.cfg.Clock.Now().UTC()
	snap, err := p.cfg.Addresses.Refresh(ctx)
	if err != nil {
		return err
	}
	if err := p.cfg.Store.UpsertRegistrySnapshot(ctx, store.RegistrySnapshot{
		Registry:   p.cfg.Registry,
		Authority:  snap.Authority,
		GameCount:  snap.GameCount,
		ObservedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to store registry snapshot: %w", err)
	}

	first := uint64(0)
	if snap.GameCount > uint64(p.cfg.LatestGames) {
		first = snap.GameCount - uint64(p.cfg.LatestGames)
	}
	var stored int
	for round := first; round < snap.GameCount; round++ {
		ok, err := p.snapshotGame(ctx, round, now)
		if err != nil {
			return fmt.Errorf("failed to snapshot round %d: %w", round, err)
		}
		if ok {
			stored++
		}
	}
	p.log.Debug("poller: refreshed", "games", snap.GameCount, "snapshotted", stored)
	return nil
}

// snapshotGame reports false when the round's game account has been closed.
func (p *Poller) snapshotGame(ctx context.Context, round uint64, now time.Time) (bool, error) {
	addrs, err := p.cfg.Addresses.Game(ctx, round)
	if err != nil {
		return false, err
	}
	data, err := p.cfg.Accounts.AccountData(ctx, addrs.Game)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	game, err := lotto.DecodeGame(data)
	if err != nil {
		return false, fmt.Errorf("failed to decode game: %w", err)
	}

	snap := store.GameSnapshot{
		Game:        addrs.Game,
		Round:       game.Round,
		State:       game.State.String(),
		TicketPrice: store.U64(game.TicketPrice),
		TicketsSold: game.TicketsSold,
		FilledSlots: game.FilledSlots(),
		StartDate:   game.StartDate,
		EndDate:     game.EndDate,
		ObservedAt:  now,
	}
	if !game.JackpotTicket.IsZero() {
		ticket := game.JackpotTicket
		snap.JackpotTicket = &ticket
	}

	vault, err := p.cfg.Accounts.AccountData(ctx, game.Vault)
	if err != nil {
		return false, err
	}
	if vault != nil {
		var acct ledger.Account
		if err := acct.UnmarshalBinary(vault); err != nil {
			return false, fmt.Errorf("failed to decode game vault: %w", err)
		}
		balance := store.U64(acct.Amount)
		snap.VaultBalance = &balance
	}

	if err := p.cfg.Store.UpsertGameSnapshot(ctx, snap); err != nil {
		return false, fmt.Errorf("failed to store game snapshot: %w", err)
	}
	return true, nil
}
