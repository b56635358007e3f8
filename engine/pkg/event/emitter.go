package event

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/lolly/engine/pkg/state"
)

// EmitterSeed is the derivation seed of the singleton emitter account.
const EmitterSeed = "event-emitter"

// EmitterAccountSize is the encoded size of the emitter account.
const EmitterAccountSize = 32 + 8

// EmitterAccount is the stored state of the singleton event emitter.
type EmitterAccount struct {
	Authority   solana.PublicKey
	NextEventID int64
}

func (a *EmitterAccount) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a *EmitterAccount) UnmarshalBinary(data []byte) error {
	if len(data) != EmitterAccountSize {
		return fmt.Errorf("event: emitter account must be %d bytes, got %d", EmitterAccountSize, len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, a)
}

// Sink receives the log lines of the executing operation.
type Sink interface {
	Log(line string)
}

// Emitter assigns sequential event ids and publishes framed records. The
// counter lives in the account store so increments commit atomically with
// the state mutation that produced the event.
type Emitter struct {
	Address solana.PublicKey
	Clock   clockwork.Clock
}

// EmitterAddress derives the emitter account address for programID.
func EmitterAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(EmitterSeed)}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("event: derive emitter address: %w", err)
	}
	return addr, nil
}

// Create initialises the emitter account with next_event_id = 0.
func (e *Emitter) Create(tx state.Tx, authority solana.PublicKey) error {
	data, err := (&EmitterAccount{Authority: authority}).MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Create(e.Address, data)
}

// Load reads the emitter account.
func (e *Emitter) Load(tx state.Tx) (*EmitterAccount, error) {
	data, err := tx.Get(e.Address)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, ErrEmitterNotCreated
		}
		return nil, err
	}
	var acct EmitterAccount
	if err := acct.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Delete removes the emitter account.
func (e *Emitter) Delete(tx state.Tx) error {
	return tx.Delete(e.Address)
}

// Emit publishes data stamped with the emitter clock's current time.
func (e *Emitter) Emit(tx state.Tx, sink Sink, data Payload) (*Record, error) {
	if e.Clock == nil {
		return nil, ErrClockUnavailable
	}
	return e.EmitAt(tx, sink, data, e.Clock.Now().Unix())
}

// EmitAt publishes data with an explicit block time. It captures the current
// event id, frames the record onto sink and increments the counter.
func (e *Emitter) EmitAt(tx state.Tx, sink Sink, data Payload, blockTime int64) (*Record, error) {
	acct, err := e.Load(tx)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		EventID:   acct.NextEventID,
		Version:   CurrentVersion,
		BlockTime: blockTime,
		Data:      data,
	}
	line, err := EncodeLog(rec)
	if err != nil {
		return nil, err
	}

	acct.NextEventID++
	encoded, err := acct.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := tx.Put(e.Address, encoded); err != nil {
		return nil, fmt.Errorf("event: failed to advance emitter: %w", err)
	}

	if sink != nil {
		sink.Log(line)
	}
	return rec, nil
}
