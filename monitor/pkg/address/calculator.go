// Package address derives and caches the program addresses of one pool
// registry's rounds.
package address

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/lotto"
)

var (
	ErrRegistryNotFound = errors.New("address: pool registry account not found")
	ErrUnknownGame      = errors.New("address: game does not belong to the registry")
)

// AccountFetcher returns raw account data, or nil when the account is missing.
type AccountFetcher interface {
	AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
}

type Config struct {
	Logger    *slog.Logger
	Accounts  AccountFetcher
	ProgramID solana.PublicKey
	UsdcMint  solana.PublicKey
	Registry  solana.PublicKey
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Accounts == nil {
		return errors.New("account fetcher is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Registry.IsZero() {
		return errors.New("pool registry is required")
	}
	return nil
}

// Game holds the derived addresses of one round.
type Game struct {
	Round       uint64
	Game        solana.PublicKey
	VaultSigner solana.PublicKey
	Vault       solana.PublicKey
}

// Snapshot is an immutable view of the registry at one load.
type Snapshot struct {
	Generation uint64
	Authority  solana.PublicKey
	GameCount  uint64
}

// Calculator caches derived addresses. Readers share the lock; a miss takes
// it exclusively to reload the registry.
type Calculator struct {
	log   *slog.Logger
	cfg   Config
	addrs lotto.Addresses

	mu       sync.RWMutex
	snapshot *Snapshot
	byRound  map[uint64]*Game
	byGame   map[solana.PublicKey]*Game
}

func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		log:     cfg.Logger,
		cfg:     cfg,
		addrs:   lotto.Addresses{ProgramID: cfg.ProgramID, UsdcMint: cfg.UsdcMint},
		byRound: make(map[uint64]*Game),
		byGame:  make(map[solana.PublicKey]*Game),
	}, nil
}

// Snapshot returns the loaded registry snapshot, loading it on first use.
func (c *Calculator) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snapshot
	c.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	return c.Refresh(ctx)
}

// Refresh reloads the registry and starts a new snapshot generation.
func (c *Calculator) Refresh(ctx context.Context) (*Snapshot, error) {
	data, err := c.cfg.Accounts.AccountData(ctx, c.cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool registry: %w", err)
	}
	if data == nil {
		return nil, ErrRegistryNotFound
	}
	reg, err := lotto.DecodeRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pool registry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot != nil && !c.snapshot.Authority.Equals(reg.Authority) {
		c.byRound = make(map[uint64]*Game)
		c.byGame = make(map[solana.PublicKey]*Game)
	}
	var gen uint64
	if c.snapshot != nil {
		gen = c.snapshot.Generation + 1
	}
	c.snapshot = &Snapshot{Generation: gen, Authority: reg.Authority, GameCount: reg.LottoGameCount}
	c.log.Debug("address: loaded pool registry", "registry", c.cfg.Registry, "authority", reg.Authority, "games", reg.LottoGameCount, "generation", gen)
	return c.snapshot, nil
}

// Game returns the addresses of round, deriving them on a cache miss.
func (c *Calculator) Game(ctx context.Context, round uint64) (*Game, error) {
	c.mu.RLock()
	g, ok := c.byRound[round]
	c.mu.RUnlock()
	if ok {
		return g, nil
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	g, err = c.derive(snap.Authority, round)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.byRound[round]; ok {
		return cached, nil
	}
	c.byRound[round] = g
	c.byGame[g.Game] = g
	return g, nil
}

// Lookup maps a game address back to its round. A miss reloads the registry
// once and derives every round it has started.
func (c *Calculator) Lookup(ctx context.Context, game solana.PublicKey) (*Game, error) {
	c.mu.RLock()
	g, ok := c.byGame[game]
	c.mu.RUnlock()
	if ok {
		return g, nil
	}

	snap, err := c.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	for round := uint64(0); round < snap.GameCount; round++ {
		g, err := c.Game(ctx, round)
		if err != nil {
			return nil, err
		}
		if g.Game.Equals(game) {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownGame, game)
}

func (c *Calculator) derive(authority solana.PublicKey, round uint64) (*Game, error) {
	game, _, err := c.addrs.Game(authority, round)
	if err != nil {
		return nil, err
	}
	signer, _, err := c.addrs.GameVaultSigner(game)
	if err != nil {
		return nil, err
	}
	vault, err := c.addrs.GameVault(game)
	if err != nil {
		return nil, err
	}
	return &Game{Round: round, Game: game, VaultSigner: signer, Vault: vault}, nil
}
