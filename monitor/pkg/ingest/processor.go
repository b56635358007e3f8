package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/lolly/engine/pkg/event"
	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
	"github.com/malbeclabs/lolly/monitor/pkg/store"
)

type Config struct {
	Logger    *slog.Logger
	Store     *store.Store
	ProgramID solana.PublicKey
	// IncludeFailed stores events framed in failed transactions instead of
	// discarding the bundle.
	IncludeFailed bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	return nil
}

type Processor struct {
	log *slog.Logger
	cfg Config
}

func NewProcessor(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{log: cfg.Logger, cfg: cfg}, nil
}

// Input is one extracted event with its transaction context.
type Input struct {
	Signature  solana.Signature
	Slot       uint64
	ExecError  *ExecError
	RPCError   any
	Raw        []byte
	Record     *event.Record
	IsBackfill bool
}

// ProcessEvent stores the event and its projection in one transaction. It
// reports false when the event was already stored, in which case nothing is
// written. Events of
// failed transactions are stored without projections.
func (p *Processor) ProcessEvent(ctx context.Context, in Input) (bool, error) {
	kind := in.Record.Kind().String()
	row := store.EventRow{
		EventID:    in.Record.EventID,
		Version:    in.Record.Version,
		Kind:       kind,
		Signature:  in.Signature.String(),
		Data:       in.Raw,
		Slot:       in.Slot,
		BlockTime:  in.Record.BlockTime,
		IsBackfill: in.IsBackfill,
	}
	if in.ExecError != nil {
		row.ErrorProgram = &in.ExecError.Program
		row.ErrorMessage = &in.ExecError.Message
		if in.RPCError != nil {
			if b, err := json.Marshal(in.RPCError); err == nil {
				s := string(b)
				row.RPCError = &s
			}
		}
		err := p.cfg.Store.InsertFailedEvent(ctx, row)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			metrics.EventsProcessedTotal.WithLabelValues(kind, "duplicate").Inc()
			return false, nil
		case err != nil:
			metrics.EventsProcessedTotal.WithLabelValues(kind, "error").Inc()
			return false, fmt.Errorf("failed to insert failed event %d: %w", row.EventID, err)
		}
		metrics.EventsProcessedTotal.WithLabelValues(kind, "failed_tx").Inc()
		return true, nil
	}

	// The event row and its projection commit together, so a failed
	// projection leaves the event missing and a re-run projects it again.
	var duplicate bool
	err := p.cfg.Store.InTx(ctx, func(tx *store.Store) error {
		err := tx.InsertEvent(ctx, row)
		if errors.Is(err, store.ErrDuplicate) {
			duplicate = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to insert event %d: %w", row.EventID, err)
		}
		if err := p.withStore(tx).project(ctx, in.Record); err != nil {
			metrics.ProjectionsTotal.WithLabelValues(kind, "error").Inc()
			return fmt.Errorf("failed to project %s event %d: %w", kind, row.EventID, err)
		}
		return nil
	})
	switch {
	case err != nil:
		metrics.EventsProcessedTotal.WithLabelValues(kind, "error").Inc()
		return false, err
	case duplicate:
		metrics.EventsProcessedTotal.WithLabelValues(kind, "duplicate").Inc()
		p.log.Debug("ingest: event already stored", "event_id", row.EventID, "kind", kind)
		return false, nil
	}
	metrics.EventsProcessedTotal.WithLabelValues(kind, "inserted").Inc()
	return true, nil
}

// withStore returns a copy of p writing through s.
func (p *Processor) withStore(s *store.Store) *Processor {
	cp := *p
	cp.cfg.Store = s
	return &cp
}

// Outcome is the result of one event of a bundle.
type Outcome struct {
	EventID  int64
	Inserted bool
	// Failed marks events of a failed transaction. Their ids were rolled
	// back and are reused by later successful events.
	Failed bool
	Err    error
}

// ProcessLogs extracts every event of the bundle and feeds each through
// ProcessEvent. A failed transaction is skipped unless IncludeFailed is set.
func (p *Processor) ProcessLogs(ctx context.Context, b Bundle, isBackfill bool) ([]Outcome, error) {
	source := "live"
	if isBackfill {
		source = "backfill"
	}
	execErr := ParseExecError(b.Logs)
	if execErr != nil && !p.cfg.IncludeFailed {
		metrics.LogBundlesTotal.WithLabelValues(source, "skipped_failed").Inc()
		p.log.Debug("ingest: skipping failed transaction", "signature", b.Signature, "error", execErr.Message)
		return nil, nil
	}

	extracted, extractErr := event.ExtractLogs(p.cfg.ProgramID, b.Logs)
	if extractErr != nil {
		p.log.Warn("ingest: failed to extract all events", "signature", b.Signature, "error", extractErr)
	}

	out := make([]Outcome, 0, len(extracted))
	for _, ex := range extracted {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		inserted, err := p.ProcessEvent(ctx, Input{
			Signature:  b.Signature,
			Slot:       b.Slot,
			ExecError:  execErr,
			RPCError:   b.RPCError,
			Raw:        ex.Raw,
			Record:     ex.Record,
			IsBackfill: isBackfill,
		})
		if err != nil {
			p.log.Error("ingest: failed to process event", "event_id", ex.Record.EventID, "signature", b.Signature, "slot", b.Slot, "error", err)
		}
		out = append(out, Outcome{EventID: ex.Record.EventID, Inserted: inserted, Failed: execErr != nil, Err: err})
	}

	status := "success"
	if extractErr != nil {
		status = "extract_error"
	}
	metrics.LogBundlesTotal.WithLabelValues(source, status).Inc()
	return out, extractErr
}
