package lotto

import "math/bits"

// Basis-point split of a round's pool.
const (
	BPSDenominator = 10_000
	JackpotBPS     = 5000
	Tier1BPS       = 1000
	Tier2BPS       = 1000
	Tier3BPS       = 1000
	BuyAndBurnBPS  = 1500
	DaoBPS         = 450
	FeesBPS        = 50
)

var tierBPS = [numTiers]uint64{JackpotBPS, Tier1BPS, Tier2BPS, Tier3BPS}

// Split is the allocation of a round's pool. Residue is what the bps
// rounding leaves unallocated; it is paid out with the fees.
type Split struct {
	Pool        uint64
	TierTotal   [numTiers]uint64
	SlotNominal [numTiers]uint64
	BuyAndBurn  uint64
	Dao         uint64
	Fees        uint64
	Residue     uint64
}

// ComputeSplit allocates ticketPrice*ticketsSold across the tiers and sinks.
func ComputeSplit(ticketPrice, ticketsSold uint64) (Split, error) {
	var s Split
	pool, err := checkedMul(ticketPrice, ticketsSold)
	if err != nil {
		return s, err
	}
	s.Pool = pool

	allocated := uint64(0)
	for t := range s.TierTotal {
		total, err := bpsOf(pool, tierBPS[t])
		if err != nil {
			return s, err
		}
		nominal, err := checkedDiv(total, uint64(TierSlots[t]))
		if err != nil {
			return s, err
		}
		s.TierTotal[t] = total
		s.SlotNominal[t] = nominal
		allocated += nominal * uint64(TierSlots[t])
	}
	if s.BuyAndBurn, err = bpsOf(pool, BuyAndBurnBPS); err != nil {
		return s, err
	}
	if s.Dao, err = bpsOf(pool, DaoBPS); err != nil {
		return s, err
	}
	if s.Fees, err = bpsOf(pool, FeesBPS); err != nil {
		return s, err
	}
	allocated += s.BuyAndBurn + s.Dao + s.Fees
	if allocated > pool {
		return s, wrap(ErrMathError, "allocated %d exceeds pool %d", allocated, pool)
	}
	s.Residue = pool - allocated
	return s, nil
}

// FeesWithResidue is the amount paid to the fee account.
func (s Split) FeesWithResidue() uint64 { return s.Fees + s.Residue }

// Prize is the slot nominal of tier divided among the tickets sharing it.
func (s Split) Prize(t Tier, duplicates uint32) (uint64, error) {
	if !t.Valid() {
		return 0, wrap(ErrInvalidWinningTier, "tier %d", uint8(t))
	}
	return checkedDiv(s.SlotNominal[t], uint64(duplicates)+1)
}

func bpsOf(amount, bps uint64) (uint64, error) {
	hi, lo := bits.Mul64(amount, bps)
	if hi >= BPSDenominator {
		return 0, wrap(ErrMathError, "%d bps of %d", bps, amount)
	}
	q, _ := bits.Div64(hi, lo, BPSDenominator)
	return q, nil
}

func checkedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, wrap(ErrOverflowError, "%d * %d", a, b)
	}
	return lo, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, wrap(ErrOverflowError, "%d + %d", a, b)
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, wrap(ErrMathError, "%d - %d", a, b)
	}
	return diff, nil
}

func checkedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, wrap(ErrMathError, "division of %d by zero", a)
	}
	return a / b, nil
}
