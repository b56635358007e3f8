// Package swap is the contract for the external token swap routine used by
// the buy-and-burn sink.
package swap

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/ledger"
)

var ErrSlippage = errors.New("swap: output below minimum")

// Instruction describes one swap routed on behalf of a token account owner.
type Instruction struct {
	InputMint          solana.PublicKey
	OutputMint         solana.PublicKey
	SourceTokenAccount solana.PublicKey
	DestinationAccount solana.PublicKey
	// Authority owns SourceTokenAccount and signs the swap.
	Authority    solana.PublicKey
	InAmount     uint64
	MinOutAmount uint64
}

// Router executes a swap against the ledger and returns the output amount.
type Router interface {
	Swap(l *ledger.Ledger, ix Instruction) (uint64, error)
}

// FixedRateRouter swaps against two reserve accounts at a constant rate of
// RateNum/RateDen output units per input unit.
type FixedRateRouter struct {
	Authority     solana.PublicKey
	InputReserve  solana.PublicKey
	OutputReserve solana.PublicKey
	RateNum       uint64
	RateDen       uint64
}

var _ Router = (*FixedRateRouter)(nil)

func (r *FixedRateRouter) Swap(l *ledger.Ledger, ix Instruction) (uint64, error) {
	if r.RateDen == 0 {
		return 0, errors.New("swap: zero rate denominator")
	}
	hi, lo := bits.Mul64(ix.InAmount, r.RateNum)
	if hi != 0 {
		return 0, fmt.Errorf("swap: output overflow for input %d", ix.InAmount)
	}
	out := lo / r.RateDen
	if out < ix.MinOutAmount {
		return 0, fmt.Errorf("%w: %d < %d", ErrSlippage, out, ix.MinOutAmount)
	}
	if err := l.Transfer(ix.SourceTokenAccount, r.InputReserve, ix.Authority, ix.InAmount); err != nil {
		return 0, fmt.Errorf("swap: failed to take input: %w", err)
	}
	if err := l.Transfer(r.OutputReserve, ix.DestinationAccount, r.Authority, out); err != nil {
		return 0, fmt.Errorf("swap: failed to pay output: %w", err)
	}
	return out, nil
}
