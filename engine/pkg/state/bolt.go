package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
	"go.etcd.io/bbolt"
)

var bucketAccounts = []byte("accounts")

// BoltStore persists accounts in a bbolt database, one key per address.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("state: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("state: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAccounts)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state: create accounts bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Update(fn func(tx Tx) error) error {
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&boltTx{b: btx.Bucket(bucketAccounts), writable: true})
	})
}

func (s *BoltStore) View(fn func(tx Tx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&boltTx{b: btx.Bucket(bucketAccounts)})
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

type boltTx struct {
	b        *bbolt.Bucket
	writable bool
}

func (tx *boltTx) Get(addr solana.PublicKey) ([]byte, error) {
	data := tx.b.Get(addr[:])
	if data == nil {
		return nil, ErrNotFound
	}
	// bbolt values are only valid for the life of the transaction.
	return clone(data), nil
}

func (tx *boltTx) Has(addr solana.PublicKey) (bool, error) {
	return tx.b.Get(addr[:]) != nil, nil
}

func (tx *boltTx) Put(addr solana.PublicKey, data []byte) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if err := tx.b.Put(clone(addr[:]), clone(data)); err != nil {
		return fmt.Errorf("state: put account %s: %w", addr, err)
	}
	return nil
}

func (tx *boltTx) Create(addr solana.PublicKey, data []byte) error {
	return create(tx, addr, data)
}

func (tx *boltTx) Delete(addr solana.PublicKey) error {
	if !tx.writable {
		return ErrReadOnly
	}
	if err := tx.b.Delete(addr[:]); err != nil {
		return fmt.Errorf("state: delete account %s: %w", addr, err)
	}
	return nil
}
