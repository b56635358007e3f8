package state

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MemStore is an in-memory Store. Update transactions are serialised and
// buffer their writes in an overlay that is applied only on success.
type MemStore struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey][]byte
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{accounts: make(map[solana.PublicKey][]byte)}
}

func (s *MemStore) Update(fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{base: s.accounts, writes: make(map[solana.PublicKey][]byte), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	for addr, data := range tx.writes {
		if data == nil {
			delete(s.accounts, addr)
			continue
		}
		s.accounts[addr] = data
	}
	return nil
}

func (s *MemStore) View(fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{base: s.accounts})
}

// Len returns the number of stored accounts.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

func (s *MemStore) Close() error { return nil }

type memTx struct {
	base     map[solana.PublicKey][]byte
	writes   map[solana.PublicKey][]byte // nil value marks a delete
	writable bool
}

func (tx *memTx) lookup(addr solana.PublicKey) ([]byte, bool) {
	if data, ok := tx.writes[addr]; ok {
		return data, data != nil
	}
	data, ok := tx.base[addr]
	return data, ok
}

func (tx *memTx) Get(addr solana.PublicKey) ([]byte, error) {
	data, ok := tx.lookup(addr)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(data), nil
}

func (tx *memTx) Has(addr solana.PublicKey) (bool, error) {
	_, ok := tx.lookup(addr)
	return ok, nil
}

func (tx *memTx) Put(addr solana.PublicKey, data []byte) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.writes[addr] = clone(data)
	return nil
}

func (tx *memTx) Create(addr solana.PublicKey, data []byte) error {
	return create(tx, addr, data)
}

func (tx *memTx) Delete(addr solana.PublicKey) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.writes[addr] = nil
	return nil
}
