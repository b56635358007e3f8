package lotto

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// History is an in-memory TransactionSink that retains every transaction in
// slot order and fans new ones out to subscribers. A subscriber whose buffer
// is full misses the transaction.
type History struct {
	mu    sync.RWMutex
	txs   []*Transaction
	bySig map[solana.Signature]int
	subs  map[chan *Transaction]struct{}
}

var _ TransactionSink = (*History)(nil)

func NewHistory() *History {
	return &History{
		bySig: make(map[solana.Signature]int),
		subs:  make(map[chan *Transaction]struct{}),
	}
}

func (h *History) Publish(tx *Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bySig[tx.Signature] = len(h.txs)
	h.txs = append(h.txs, tx)
	for ch := range h.subs {
		select {
		case ch <- tx:
		default:
		}
	}
}

// Subscribe returns a channel of transactions published from now on and a
// function that ends the subscription.
func (h *History) Subscribe(buffer int) (<-chan *Transaction, func()) {
	ch := make(chan *Transaction, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Transactions returns every published transaction, oldest first.
func (h *History) Transactions() []*Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Transaction(nil), h.txs...)
}

// Get returns the transaction with signature sig.
func (h *History) Get(sig solana.Signature) (*Transaction, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i, ok := h.bySig[sig]
	if !ok {
		return nil, false
	}
	return h.txs[i], true
}

// Before returns up to limit transactions older than before and newer than
// until, newest first. Zero signatures leave the bound open.
func (h *History) Before(before, until solana.Signature, limit int) []*Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()

	end := len(h.txs)
	if before != (solana.Signature{}) {
		i, ok := h.bySig[before]
		if !ok {
			return nil
		}
		end = i
	}
	start := 0
	if until != (solana.Signature{}) {
		if i, ok := h.bySig[until]; ok {
			start = i + 1
		}
	}

	var out []*Transaction
	for i := end - 1; i >= start; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, h.txs[i])
	}
	return out
}
