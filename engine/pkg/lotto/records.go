package lotto

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/state"
)

// GameVersionV1 is the layout version written into new games.
const GameVersionV1 uint16 = 1

// MaxNumbersV1 is the per-position inclusive upper bound of V1 tickets.
var MaxNumbersV1 = [6]uint8{69, 69, 69, 69, 69, 26}

// GameState is the lifecycle state of a round.
type GameState uint32

const (
	GameStateNotStarted GameState = iota
	GameStateOpen
	GameStateClosed
	GameStateFinished
)

func (s GameState) String() string {
	switch s {
	case GameStateNotStarted:
		return "NotStarted"
	case GameStateOpen:
		return "Open"
	case GameStateClosed:
		return "Closed"
	case GameStateFinished:
		return "Finished"
	}
	return fmt.Sprintf("GameState(%d)", uint32(s))
}

// Tier is a prize category. Lower values take priority when filling slots.
type Tier uint8

const (
	TierJackpot Tier = iota
	Tier1
	Tier2
	Tier3

	numTiers

	// TierNone marks the absence of a tier, e.g. when every slot is filled.
	TierNone Tier = 255
)

// TierSlots is the number of winning-number slots of each tier.
var TierSlots = [numTiers]int{1, 10, 100, 1000}

// TotalSlots is the number of winning-number slots across all tiers.
const TotalSlots = 1 + 10 + 100 + 1000

func (t Tier) String() string {
	switch t {
	case TierJackpot:
		return "Jackpot"
	case Tier1:
		return "Tier1"
	case Tier2:
		return "Tier2"
	case Tier3:
		return "Tier3"
	case TierNone:
		return "None"
	}
	return fmt.Sprintf("Tier(%d)", uint8(t))
}

// Valid reports whether t names one of the four prize tiers.
func (t Tier) Valid() bool { return t < numTiers }

// Tiers returns the four prize tiers in fill priority order.
func Tiers() []Tier { return []Tier{TierJackpot, Tier1, Tier2, Tier3} }

var (
	notUpdatedErrs = [numTiers]*Error{
		ErrJackpotWinningNumbersNotUpdated,
		ErrTier1WinningNumbersNotUpdated,
		ErrTier2WinningNumbersNotUpdated,
		ErrTier3WinningNumbersNotUpdated,
	}
	alreadyDisbursedErrs = [numTiers]*Error{
		ErrJackpotAmountAlreadyDisbursed,
		ErrTier1AmountAlreadyDisbursed,
		ErrTier2AmountAlreadyDisbursed,
		ErrTier3AmountAlreadyDisbursed,
	}
)

// Slot is one winning-number entry of a tier table.
type Slot struct {
	Numbers   [6]uint8
	Updated   bool
	Disbursed bool
}

// Registry tracks the rounds started by one authority.
type Registry struct {
	Bump           uint8
	_              [7]byte
	Authority      solana.PublicKey
	LottoGameCount uint64
}

// Game is one lottery round.
type Game struct {
	Bump               uint8
	VaultBump          uint8
	Version            uint16
	State              GameState
	Authority          solana.PublicKey
	Round              uint64
	StartDate          int64
	EndDate            int64
	TicketPrice        uint64
	TicketsSold        uint64
	Mint               solana.PublicKey
	Vault              solana.PublicKey
	JackpotTicket      solana.PublicKey
	MaxNumbersInTicket [6]uint8
	_                  [2]byte
	Randomness         solana.PublicKey
	Jackpot            [1]Slot
	Tier1              [10]Slot
	Tier2              [100]Slot
	Tier3              [1000]Slot
}

// Ticket is one purchased number tuple.
type Ticket struct {
	User         solana.PublicKey
	TicketNumber uint64
	Game         solana.PublicKey
	Round        uint64
	Numbers      [6]uint8
	_            [2]byte
	IsWinner     uint16
	IsChecked    bool
	_            [5]byte
	Prize        uint64
	IsDuplicated uint32
	_            [4]byte
	TicketPrice  uint64
	BuyDate      int64
	CheckDate    int64
}

// ClaimTicketCapacity is the size of the user claim ring.
const ClaimTicketCapacity = 64

// ClaimTicket records one claim of rewards.
type ClaimTicket struct {
	ClaimedAmount uint64
	CreatedAt     int64
}

// UserMetadata aggregates one buyer's activity.
type UserMetadata struct {
	Bump                  uint8
	Tier                  uint8
	_                     [6]byte
	User                  solana.PublicKey
	CreatedTimestamp      int64
	TotalTicketsPurchased uint64
	TotalAmountWon        uint64
	TotalAmountClaimed    uint64
	LastClaimedAt         int64
	ReferralCount         uint64
	ReferralRevenue       uint64
	ClaimCount            uint64
	ClaimTickets          [ClaimTicketCapacity]ClaimTicket
}

// BurnState is the buy-and-burn sink of one authority.
type BurnState struct {
	Bump            uint8
	_               [7]byte
	Authority       solana.PublicKey
	UsdcVault       solana.PublicKey
	LollyVault      solana.PublicKey
	TotalLollyBurnt uint64
}

// Encoded record sizes.
const (
	RegistrySize     = 8 + 32 + 8
	GameSize         = 8 + 32 + 5*8 + 3*32 + 8 + 32 + TotalSlots*8
	TicketSize       = 32 + 8 + 32 + 8 + 8 + 2 + 6 + 8 + 8 + 8 + 8 + 8
	UserMetadataSize = 8 + 32 + 8*8 + ClaimTicketCapacity*16
	BurnStateSize    = 8 + 3*32 + 8
)

func encode(v any, size int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(size)
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any, size int, name string) error {
	if len(data) != size {
		return fmt.Errorf("%s account data must be %d bytes, got %d", name, size, len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

func (r *Registry) MarshalBinary() ([]byte, error) { return encode(r, RegistrySize) }
func (r *Registry) UnmarshalBinary(data []byte) error {
	return decode(data, r, RegistrySize, "registry")
}

func (g *Game) MarshalBinary() ([]byte, error) { return encode(g, GameSize) }
func (g *Game) UnmarshalBinary(data []byte) error {
	return decode(data, g, GameSize, "game")
}

func (t *Ticket) MarshalBinary() ([]byte, error) { return encode(t, TicketSize) }
func (t *Ticket) UnmarshalBinary(data []byte) error {
	return decode(data, t, TicketSize, "ticket")
}

func (m *UserMetadata) MarshalBinary() ([]byte, error) { return encode(m, UserMetadataSize) }
func (m *UserMetadata) UnmarshalBinary(data []byte) error {
	return decode(data, m, UserMetadataSize, "user metadata")
}

func (b *BurnState) MarshalBinary() ([]byte, error) { return encode(b, BurnStateSize) }
func (b *BurnState) UnmarshalBinary(data []byte) error {
	return decode(data, b, BurnStateSize, "burn state")
}

// DecodeGame parses raw game account data.
func DecodeGame(data []byte) (*Game, error) {
	var g Game
	if err := g.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &g, nil
}

// DecodeRegistry parses raw registry account data.
func DecodeRegistry(data []byte) (*Registry, error) {
	var r Registry
	if err := r.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &r, nil
}

// Slots returns the slot table of tier t.
func (g *Game) Slots(t Tier) []Slot {
	switch t {
	case TierJackpot:
		return g.Jackpot[:]
	case Tier1:
		return g.Tier1[:]
	case Tier2:
		return g.Tier2[:]
	case Tier3:
		return g.Tier3[:]
	}
	return nil
}

// Slot returns the slot at (t, index).
func (g *Game) Slot(t Tier, index uint32) (*Slot, error) {
	slots := g.Slots(t)
	if slots == nil {
		return nil, wrap(ErrInvalidWinningTier, "tier %d", uint8(t))
	}
	if int(index) >= len(slots) {
		return nil, wrap(ErrInvalidWinningNumberIndex, "index %d out of range for %s", index, t)
	}
	return &slots[index], nil
}

// FindWinning returns the filled slot holding numbers, scanning tiers in
// priority order.
func (g *Game) FindWinning(numbers [6]uint8) (Tier, uint32, bool) {
	for _, t := range Tiers() {
		for i, s := range g.Slots(t) {
			if s.Updated && s.Numbers == numbers {
				return t, uint32(i), true
			}
		}
	}
	return TierNone, 0, false
}

// NextFree returns the first unfilled slot in priority order.
func (g *Game) NextFree() (Tier, uint32, bool) {
	for _, t := range Tiers() {
		for i, s := range g.Slots(t) {
			if !s.Updated {
				return t, uint32(i), true
			}
		}
	}
	return TierNone, 0, false
}

// FilledSlots counts the slots whose winning numbers are set.
func (g *Game) FilledSlots() int {
	n := 0
	for _, t := range Tiers() {
		for _, s := range g.Slots(t) {
			if s.Updated {
				n++
			}
		}
	}
	return n
}

// ValidNumbers reports whether every number is within its bound.
func (g *Game) ValidNumbers(numbers [6]uint8) bool {
	for i, n := range numbers {
		if n > g.MaxNumbersInTicket[i] {
			return false
		}
	}
	return true
}

// AvailableRewards is the amount won but not yet claimed.
func (m *UserMetadata) AvailableRewards() uint64 {
	return m.TotalAmountWon - m.TotalAmountClaimed
}

// recordClaim appends a claim into the ring, overwriting the oldest entry.
func (m *UserMetadata) recordClaim(amount uint64, at int64) {
	m.ClaimTickets[m.ClaimCount%ClaimTicketCapacity] = ClaimTicket{ClaimedAmount: amount, CreatedAt: at}
	m.ClaimCount++
}

type record interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// loadRecord reads the account at addr into a new T.
func loadRecord[T any, P interface {
	*T
	record
}](tx state.Tx, addr solana.PublicKey) (P, error) {
	data, err := tx.Get(addr)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, wrap(ErrAccountNotInitialized, "%s", addr)
		}
		return nil, err
	}
	v := P(new(T))
	if err := v.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return v, nil
}

func putRecord(tx state.Tx, addr solana.PublicKey, v record) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}

func createRecord(tx state.Tx, addr solana.PublicKey, v record) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	if err := tx.Create(addr, data); err != nil {
		if errors.Is(err, state.ErrExists) {
			return wrap(ErrAccountAlreadyInitialized, "%s", addr)
		}
		return err
	}
	return nil
}
