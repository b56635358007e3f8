package store

import (
	"encoding/binary"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// U64 is an unsigned 64-bit amount written as NUMERIC(20,0) and, where the
// schema carries a _le column, also as 8 little-endian bytes.
type U64 uint64

func (v U64) Numeric() pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(uint64(v)), Valid: true}
}

func (v U64) LE() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// U64FromLE decodes a value written by LE.
func U64FromLE(b []byte) (U64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return U64(binary.LittleEndian.Uint64(b)), true
}

// U64FromNumeric converts a scanned NUMERIC column, reporting false for
// NULL, fractional or out-of-range values.
func U64FromNumeric(n pgtype.Numeric) (U64, bool) {
	if !n.Valid || n.NaN || n.Int == nil {
		return 0, false
	}
	v := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	} else if n.Exp < 0 {
		d := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		var rem big.Int
		v.QuoRem(v, d, &rem)
		if rem.Sign() != 0 {
			return 0, false
		}
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, false
	}
	return U64(v.Uint64()), true
}

// numbers converts a ticket tuple to a SMALLINT[] argument.
func numbers(n [6]uint8) []int16 {
	out := make([]int16, len(n))
	for i, v := range n {
		out[i] = int16(v)
	}
	return out
}
