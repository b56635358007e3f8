// Package state holds the engine's account store: an ordered map of 32-byte
// addresses to raw account data with atomic read-write transactions.
package state

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrNotFound indicates no account exists at the address.
	ErrNotFound = errors.New("state: account not found")

	// ErrExists indicates an account already exists at the address.
	ErrExists = errors.New("state: account already exists")

	// ErrReadOnly indicates a write was attempted in a View transaction.
	ErrReadOnly = errors.New("state: read-only transaction")
)

// Tx is a transaction over the account store. Writes made through a Tx are
// visible to later reads in the same Tx and are committed together.
type Tx interface {
	// Get returns a copy of the account data at addr, or ErrNotFound.
	Get(addr solana.PublicKey) ([]byte, error)

	// Has reports whether an account exists at addr.
	Has(addr solana.PublicKey) (bool, error)

	// Put writes account data at addr, replacing any existing data.
	Put(addr solana.PublicKey, data []byte) error

	// Create writes account data at addr, failing with ErrExists if the
	// address is already in use.
	Create(addr solana.PublicKey, data []byte) error

	// Delete removes the account at addr. Deleting a missing account is a no-op.
	Delete(addr solana.PublicKey) error
}

// Store is an account store with serialised read-write transactions.
type Store interface {
	// Update runs fn in a read-write transaction. If fn returns an error no
	// writes are committed.
	Update(fn func(tx Tx) error) error

	// View runs fn in a read-only transaction.
	View(fn func(tx Tx) error) error

	Close() error
}

// create is the shared Create implementation in terms of Has and Put.
func create(tx Tx, addr solana.PublicKey, data []byte) error {
	ok, err := tx.Has(addr)
	if err != nil {
		return err
	}
	if ok {
		return ErrExists
	}
	return tx.Put(addr, data)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
