// Package solrpc is the monitor's access to the chain: signature history,
// transaction logs, account data and the live log subscription.
package solrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
	"github.com/malbeclabs/lolly/utils/pkg/retry"
)

// RPC is the subset of *rpc.Client the monitor uses.
type RPC interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

var _ RPC = (*rpc.Client)(nil)

// Transaction is a fetched transaction reduced to what ingest needs.
type Transaction struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime int64
	Logs      []string
	// Err is the runtime error reported in the transaction meta, if any.
	Err any
}

type Config struct {
	Logger *slog.Logger
	RPC    RPC
	// Limiter throttles every request; unlimited when nil.
	Limiter    *rate.Limiter
	Retry      retry.Config
	Commitment rpc.CommitmentType
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	return nil
}

type Client struct {
	log *slog.Logger
	cfg Config
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{log: cfg.Logger, cfg: cfg}, nil
}

// call runs fn under the limiter and retry policy and records its metrics.
func call[T any](ctx context.Context, c *Client, method string, fn func() (T, error)) (T, error) {
	retryCfg := c.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error) {
		c.log.Debug("solrpc: retrying request", "method", method, "attempt", attempt, "error", err)
	}
	return retry.DoValue(ctx, retryCfg, func() (T, error) {
		var zero T
		if c.cfg.Limiter != nil {
			if err := c.cfg.Limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}
		start := time.Now()
		v, err := fn()
		metrics.RecordRPC(method, time.Since(start), err)
		return v, err
	})
}

// Signatures returns up to limit signatures mentioning address, newest first,
// older than before and newer than until. Zero signatures leave a bound open.
func (c *Client) Signatures(ctx context.Context, address solana.PublicKey, before, until solana.Signature, limit int) ([]*rpc.TransactionSignature, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Before:     before,
		Until:      until,
		Commitment: c.cfg.Commitment,
	}
	if limit > 0 {
		opts.Limit = &limit
	}
	sigs, err := call(ctx, c, "getSignaturesForAddress", func() ([]*rpc.TransactionSignature, error) {
		return c.cfg.RPC.GetSignaturesForAddressWithOpts(ctx, address, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures for %s: %w", address, err)
	}
	return sigs, nil
}

// Transaction fetches a confirmed transaction and its log messages.
func (c *Client) Transaction(ctx context.Context, sig solana.Signature) (*Transaction, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.cfg.Commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}
	res, err := call(ctx, c, "getTransaction", func() (*rpc.GetTransactionResult, error) {
		return c.cfg.RPC.GetTransaction(ctx, sig, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	tx := &Transaction{Signature: sig, Slot: res.Slot}
	if res.BlockTime != nil {
		tx.BlockTime = int64(*res.BlockTime)
	}
	if res.Meta != nil {
		tx.Logs = res.Meta.LogMessages
		tx.Err = res.Meta.Err
	}
	return tx, nil
}

// AccountData returns the raw data of address, or nil when the account does
// not exist.
func (c *Client) AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	res, err := call(ctx, c, "getAccountInfo", func() (*rpc.GetAccountInfoResult, error) {
		res, err := c.cfg.RPC.GetAccountInfo(ctx, address)
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return res, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return nil, nil
	}
	return res.Value.Data.GetBinary(), nil
}
