// Package lotto is the lottery engine: registry, rounds, tickets, winning
// numbers, prize disbursement and the buy-and-burn sink. Every operation runs
// as one atomic transaction against the account store and publishes its log
// to the configured transaction sink.
package lotto

import (
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/lolly/engine/pkg/event"
	"github.com/malbeclabs/lolly/engine/pkg/ledger"
	"github.com/malbeclabs/lolly/engine/pkg/randomness"
	"github.com/malbeclabs/lolly/engine/pkg/state"
	"github.com/malbeclabs/lolly/engine/pkg/swap"
)

// Transaction is the observable result of one executed operation.
type Transaction struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime int64
	Logs      []string
	Err       error
	Events    []*event.Record
}

// TransactionSink receives every executed transaction, failed ones included.
type TransactionSink interface {
	Publish(tx *Transaction)
}

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Store      state.Store
	Randomness randomness.Source
	Router     swap.Router
	Sink       TransactionSink // optional

	ProgramID solana.PublicKey
	UsdcMint  solana.PublicKey
	LollyMint solana.PublicKey

	// DaoAccount and FeesAccount are USDC token accounts receiving the DAO
	// and protocol fee shares of each round.
	DaoAccount  solana.PublicKey
	FeesAccount solana.PublicKey

	// MaxNumbers is applied to rounds started without explicit bounds.
	MaxNumbers [6]uint8
	// StartSlot is the slot of the first executed transaction.
	StartSlot uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Randomness == nil {
		return errors.New("randomness source is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.UsdcMint.IsZero() {
		return errors.New("usdc mint is required")
	}
	if cfg.LollyMint.IsZero() {
		return errors.New("lolly mint is required")
	}
	if cfg.DaoAccount.IsZero() {
		return errors.New("dao account is required")
	}
	if cfg.FeesAccount.IsZero() {
		return errors.New("fees account is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxNumbers == ([6]uint8{}) {
		cfg.MaxNumbers = MaxNumbersV1
	}
	if cfg.StartSlot == 0 {
		cfg.StartSlot = 1
	}
	return nil
}

// Engine executes lottery operations serially.
type Engine struct {
	log     *slog.Logger
	cfg     Config
	addrs   Addresses
	emitter *event.Emitter

	mu   sync.Mutex
	slot uint64
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	emitterAddr, err := event.EmitterAddress(cfg.ProgramID)
	if err != nil {
		return nil, err
	}
	return &Engine{
		log: cfg.Logger,
		cfg: cfg,
		addrs: Addresses{
			ProgramID: cfg.ProgramID,
			UsdcMint:  cfg.UsdcMint,
			LollyMint: cfg.LollyMint,
		},
		emitter: &event.Emitter{Address: emitterAddr, Clock: cfg.Clock},
		slot:    cfg.StartSlot,
	}, nil
}

// Addresses returns the address derivation of this engine.
func (e *Engine) Addresses() Addresses { return e.addrs }

// EmitterAddress is the address of the singleton event emitter account.
func (e *Engine) EmitterAddress() solana.PublicKey { return e.emitter.Address }

// View runs fn against a read-only snapshot of the account store.
func (e *Engine) View(fn func(tx state.Tx) error) error {
	return e.cfg.Store.View(fn)
}

// commitThenFail makes an operation commit its writes and still fail.
type commitThenFail struct{ err error }

func (c *commitThenFail) Error() string { return c.err.Error() }
func (c *commitThenFail) Unwrap() error { return c.err }

// opContext carries the state of one executing operation.
type opContext struct {
	e      *Engine
	tx     state.Tx
	ledger *ledger.Ledger
	now    int64
	logs   []string
	events []*event.Record
}

// Log implements event.Sink.
func (c *opContext) Log(line string) { c.logs = append(c.logs, line) }

func (c *opContext) msg(format string, args ...any) {
	c.logs = append(c.logs, "Program log: "+fmt.Sprintf(format, args...))
}

func (c *opContext) emit(p event.Payload) error {
	rec, err := c.e.emitter.EmitAt(c.tx, c, p, c.now)
	if err != nil {
		if errors.Is(err, event.ErrEmitterNotCreated) {
			return wrap(ErrAccountNotInitialized, "event emitter")
		}
		return err
	}
	c.events = append(c.events, rec)
	return nil
}

// execute runs fn inside one store transaction and publishes the result.
func (e *Engine) execute(instruction string, fn func(c *opContext) error) (*Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	slot := e.slot
	e.slot++
	now := e.cfg.Clock.Now().Unix()
	pid := e.cfg.ProgramID.String()

	c := &opContext{e: e, now: now}
	var committedErr error
	err := e.cfg.Store.Update(func(tx state.Tx) error {
		c.tx = tx
		c.ledger = ledger.New(tx)
		fnErr := fn(c)
		var ctf *commitThenFail
		if errors.As(fnErr, &ctf) {
			committedErr = ctf.err
			return nil
		}
		return fnErr
	})
	if err == nil {
		err = committedErr
	}

	txn := &Transaction{
		Signature: e.signature(slot, instruction),
		Slot:      slot,
		BlockTime: now,
	}
	txn.Logs = append(txn.Logs,
		fmt.Sprintf("Program %s invoke [1]", pid),
		"Program log: Instruction: "+instruction,
	)
	if err != nil {
		txn.Err = err
		txn.Logs = append(txn.Logs, failureLogs(pid, c, err)...)
		e.log.Debug("lotto: instruction failed", "instruction", instruction, "slot", slot, "signature", txn.Signature, "error", err)
	} else {
		txn.Events = c.events
		txn.Logs = append(txn.Logs, c.logs...)
		txn.Logs = append(txn.Logs, fmt.Sprintf("Program %s success", pid))
		e.log.Debug("lotto: instruction executed", "instruction", instruction, "slot", slot, "signature", txn.Signature, "events", len(c.events))
	}

	if e.cfg.Sink != nil {
		e.cfg.Sink.Publish(txn)
	}
	return txn, err
}

// failureLogs renders the tail of a failed transaction. Lines logged before
// the failure are kept, as the host runtime does.
func failureLogs(pid string, c *opContext, err error) []string {
	lines := append([]string(nil), c.logs...)
	var le *Error
	if errors.As(err, &le) {
		return append(lines,
			fmt.Sprintf("Program log: Error Code: %s. Error Number: %d. Error Message: %s.", le.Name, le.Code, le.Msg),
			fmt.Sprintf("Program %s failed: custom program error: 0x%x", pid, le.Code),
		)
	}
	return append(lines, fmt.Sprintf("Program %s failed: %s", pid, err))
}

// signature derives a deterministic transaction signature.
func (e *Engine) signature(slot uint64, instruction string) solana.Signature {
	h := sha512.New()
	h.Write(e.cfg.ProgramID[:])
	h.Write(binary.LittleEndian.AppendUint64(nil, slot))
	h.Write([]byte(instruction))
	var sig solana.Signature
	copy(sig[:], h.Sum(nil))
	return sig
}
