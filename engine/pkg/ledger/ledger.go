// Package ledger is the token ledger facade consumed by the lottery engine.
// Token accounts live in the same account store as engine state so a single
// state transaction commits balances and engine records together.
package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/state"
)

var (
	// ErrInsufficientFunds indicates the source balance is below the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrOwnerMismatch indicates the signing authority does not own the account.
	ErrOwnerMismatch = errors.New("ledger: token account owner mismatch")

	// ErrMintMismatch indicates source and destination hold different mints.
	ErrMintMismatch = errors.New("ledger: token account mint mismatch")

	// ErrAccountNotFound indicates no token account exists at the address.
	ErrAccountNotFound = errors.New("ledger: token account not found")

	// ErrAccountExists indicates a token account already exists at the address.
	ErrAccountExists = errors.New("ledger: token account already exists")

	// ErrNonZeroBalance indicates an account cannot be closed while holding tokens.
	ErrNonZeroBalance = errors.New("ledger: token account balance is not zero")

	// ErrOverflow indicates a balance would exceed the u64 range.
	ErrOverflow = errors.New("ledger: balance overflow")
)

// AccountSize is the encoded size of a token account.
const AccountSize = 32 + 32 + 8

// Account is a token account: a balance of one mint controlled by one owner.
type Account struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

func (a *Account) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(AccountSize)
	if err := binary.Write(&buf, binary.LittleEndian, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *Account) UnmarshalBinary(data []byte) error {
	if len(data) != AccountSize {
		return fmt.Errorf("ledger: token account data must be %d bytes, got %d", AccountSize, len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, a)
}

// Ledger performs token operations inside one state transaction.
type Ledger struct {
	tx state.Tx
}

// New returns a ledger bound to tx.
func New(tx state.Tx) *Ledger {
	return &Ledger{tx: tx}
}

// AssociatedAddress derives the associated token account of owner for mint.
func AssociatedAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("ledger: derive associated token address: %w", err)
	}
	return addr, nil
}

// CreateAccount initialises an empty token account at addr.
func (l *Ledger) CreateAccount(addr, mint, owner solana.PublicKey) error {
	acct := Account{Mint: mint, Owner: owner}
	data, err := acct.MarshalBinary()
	if err != nil {
		return err
	}
	if err := l.tx.Create(addr, data); err != nil {
		if errors.Is(err, state.ErrExists) {
			return fmt.Errorf("%w: %s", ErrAccountExists, addr)
		}
		return err
	}
	return nil
}

// Account loads the token account at addr.
func (l *Ledger) Account(addr solana.PublicKey) (*Account, error) {
	data, err := l.tx.Get(addr)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return nil, err
	}
	var acct Account
	if err := acct.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Balance returns the token balance held at addr.
func (l *Ledger) Balance(addr solana.PublicKey) (uint64, error) {
	acct, err := l.Account(addr)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

func (l *Ledger) put(addr solana.PublicKey, acct *Account) error {
	data, err := acct.MarshalBinary()
	if err != nil {
		return err
	}
	return l.tx.Put(addr, data)
}

// Transfer moves amount from one account to another. authority must own the
// source account and both accounts must hold the same mint.
func (l *Ledger) Transfer(from, to, authority solana.PublicKey, amount uint64) error {
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	if !src.Owner.Equals(authority) {
		return fmt.Errorf("%w: %s is owned by %s, not %s", ErrOwnerMismatch, from, src.Owner, authority)
	}
	if from.Equals(to) {
		return nil
	}
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if !src.Mint.Equals(dst.Mint) {
		return fmt.Errorf("%w: %s != %s", ErrMintMismatch, src.Mint, dst.Mint)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if dst.Amount+amount < dst.Amount {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := l.put(from, src); err != nil {
		return err
	}
	return l.put(to, dst)
}

// MintTo credits amount of mint to the account at to.
func (l *Ledger) MintTo(mint, to solana.PublicKey, amount uint64) error {
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if !dst.Mint.Equals(mint) {
		return fmt.Errorf("%w: %s != %s", ErrMintMismatch, dst.Mint, mint)
	}
	if dst.Amount+amount < dst.Amount {
		return ErrOverflow
	}
	dst.Amount += amount
	return l.put(to, dst)
}

// Burn destroys amount of mint held at from. authority must own the account.
func (l *Ledger) Burn(mint, from, authority solana.PublicKey, amount uint64) error {
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	if !src.Mint.Equals(mint) {
		return fmt.Errorf("%w: %s != %s", ErrMintMismatch, src.Mint, mint)
	}
	if !src.Owner.Equals(authority) {
		return fmt.Errorf("%w: %s is owned by %s, not %s", ErrOwnerMismatch, from, src.Owner, authority)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	src.Amount -= amount
	return l.put(from, src)
}

// Close deletes an empty token account owned by authority.
func (l *Ledger) Close(addr, authority solana.PublicKey) error {
	acct, err := l.Account(addr)
	if err != nil {
		return err
	}
	if !acct.Owner.Equals(authority) {
		return fmt.Errorf("%w: %s is owned by %s, not %s", ErrOwnerMismatch, addr, acct.Owner, authority)
	}
	if acct.Amount != 0 {
		return fmt.Errorf("%w: %s holds %d", ErrNonZeroBalance, addr, acct.Amount)
	}
	return l.tx.Delete(addr)
}
