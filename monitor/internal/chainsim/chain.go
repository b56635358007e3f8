// Package chainsim serves an in-process lottery engine through the monitor's
// chain interfaces, so the monitor and backfiller run against it unchanged.
package chainsim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/malbeclabs/lolly/engine/pkg/lotto"
	"github.com/malbeclabs/lolly/engine/pkg/state"
	"github.com/malbeclabs/lolly/monitor/pkg/solrpc"
)

// ErrStreamClosed is returned by Recv after the stream or chain is closed.
var ErrStreamClosed = errors.New("chainsim: log stream closed")

type Config struct {
	History   *lotto.History
	Store     state.Store
	ProgramID solana.PublicKey
	// StreamBuffer is the per-subscription channel size.
	StreamBuffer int
}

func (cfg *Config) Validate() error {
	if cfg.History == nil {
		return errors.New("history is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.StreamBuffer == 0 {
		cfg.StreamBuffer = 1024
	}
	return nil
}

// Chain answers RPC and subscription requests from an engine's history and
// account store.
type Chain struct {
	cfg Config

	mu   sync.RWMutex
	drop func(*lotto.Transaction) bool
}

var (
	_ solrpc.RPC        = (*Chain)(nil)
	_ solrpc.Subscriber = (*Chain)(nil)
)

func New(cfg Config) (*Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chain{cfg: cfg}, nil
}

// DropLive hides transactions matching fn from live subscriptions. They stay
// visible to signature history and transaction fetches.
func (c *Chain) DropLive(fn func(*lotto.Transaction) bool) {
	c.mu.Lock()
	c.drop = fn
	c.mu.Unlock()
}

func (c *Chain) dropped(tx *lotto.Transaction) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.drop != nil && c.drop(tx)
}

func (c *Chain) GetSignaturesForAddressWithOpts(_ context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	if !account.Equals(c.cfg.ProgramID) {
		return nil, nil
	}
	var (
		before, until solana.Signature
		limit         = 1000
	)
	if opts != nil {
		before, until = opts.Before, opts.Until
		if opts.Limit != nil {
			limit = *opts.Limit
		}
	}
	if before != (solana.Signature{}) {
		if _, ok := c.cfg.History.Get(before); !ok {
			return nil, fmt.Errorf("chainsim: unknown signature %s", before)
		}
	}

	txs := c.cfg.History.Before(before, until, limit)
	out := make([]*rpc.TransactionSignature, 0, len(txs))
	for _, tx := range txs {
		bt := solana.UnixTimeSeconds(tx.BlockTime)
		out = append(out, &rpc.TransactionSignature{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			BlockTime: &bt,
			Err:       txError(tx),
		})
	}
	return out, nil
}

func (c *Chain) GetTransaction(_ context.Context, sig solana.Signature, _ *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	tx, ok := c.cfg.History.Get(sig)
	if !ok {
		return nil, rpc.ErrNotFound
	}
	bt := solana.UnixTimeSeconds(tx.BlockTime)
	return &rpc.GetTransactionResult{
		Slot:      tx.Slot,
		BlockTime: &bt,
		Meta: &rpc.TransactionMeta{
			Err:         txError(tx),
			LogMessages: append([]string(nil), tx.Logs...),
		},
	}, nil
}

func (c *Chain) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	var data []byte
	err := c.cfg.Store.View(func(tx state.Tx) error {
		var err error
		data, err = tx.Get(account)
		return err
	})
	if errors.Is(err, state.ErrNotFound) {
		return nil, rpc.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{
			Owner: c.cfg.ProgramID,
			Data:  rpc.DataBytesOrJSONFromBytes(data),
		},
	}, nil
}

// txError renders a failed transaction's error the way the RPC reports
// instruction errors.
func txError(tx *lotto.Transaction) any {
	if tx.Err == nil {
		return nil
	}
	if code, ok := lotto.ErrorCode(tx.Err); ok {
		return map[string]any{"InstructionError": []any{0, map[string]any{"Custom": code}}}
	}
	return map[string]any{"InstructionError": []any{0, tx.Err.Error()}}
}

func (c *Chain) SubscribeLogs(_ context.Context, program solana.PublicKey) (solrpc.LogStream, error) {
	ch, cancel := c.cfg.History.Subscribe(c.cfg.StreamBuffer)
	return &stream{chain: c, mention: program.String(), ch: ch, cancel: cancel}, nil
}

type stream struct {
	chain   *Chain
	mention string
	ch      <-chan *lotto.Transaction
	cancel  func()
}

func (s *stream) Recv(ctx context.Context) (*solrpc.LogBundle, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case tx, ok := <-s.ch:
			if !ok {
				return nil, ErrStreamClosed
			}
			if s.chain.dropped(tx) || !mentions(tx.Logs, s.mention) {
				continue
			}
			return &solrpc.LogBundle{
				Signature: tx.Signature,
				Slot:      tx.Slot,
				Err:       txError(tx),
				Logs:      append([]string(nil), tx.Logs...),
			}, nil
		}
	}
}

func (s *stream) Close() { s.cancel() }

func mentions(logs []string, program string) bool {
	for _, line := range logs {
		if strings.Contains(line, program) {
			return true
		}
	}
	return false
}
