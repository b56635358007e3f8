// Package backfill recovers events missing from the history store by walking
// the program's transaction history between stored anchors.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/lolly/monitor/pkg/ingest"
	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
	"github.com/malbeclabs/lolly/monitor/pkg/solrpc"
	"github.com/malbeclabs/lolly/monitor/pkg/store"
)

// ChainClient reads the program's transaction history.
type ChainClient interface {
	Signatures(ctx context.Context, address solana.PublicKey, before, until solana.Signature, limit int) ([]*rpc.TransactionSignature, error)
	Transaction(ctx context.Context, sig solana.Signature) (*solrpc.Transaction, error)
}

var _ ChainClient = (*solrpc.Client)(nil)

// LogProcessor stores the events of one transaction's logs.
type LogProcessor interface {
	ProcessLogs(ctx context.Context, b ingest.Bundle, isBackfill bool) ([]ingest.Outcome, error)
}

var _ LogProcessor = (*ingest.Processor)(nil)

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Client    ChainClient
	Store     *store.Store
	Processor LogProcessor
	ProgramID solana.PublicKey
	// MaxBatch caps the signatures requested per history page.
	MaxBatch int
	// IncludeFailed also fetches transactions the node reports as failed.
	IncludeFailed bool
	// WindowSleep is the pause between windows.
	WindowSleep time.Duration
	// Trigger labels the run in metrics: "auto" or "manual".
	Trigger string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("chain client is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Processor == nil {
		return errors.New("processor is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1000
	}
	if cfg.Trigger == "" {
		cfg.Trigger = "manual"
	}
	return nil
}

type Backfiller struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Backfiller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Backfiller{log: cfg.Logger, cfg: cfg}, nil
}

// Result summarises one run.
type Result struct {
	JobID     uuid.UUID
	Windows   []MissingEventWindow
	Recovered int64
}

// Plan returns the windows of [start, end] without fetching anything.
func (b *Backfiller) Plan(ctx context.Context, start, end int64) ([]MissingEventWindow, error) {
	events, err := b.cfg.Store.EventsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return Windows(events)
}

// Run recovers the events missing between the stored events of
// [start, end]. It is safe to repeat over a range already recovered.
func (b *Backfiller) Run(ctx context.Context, start, end int64) (*Result, error) {
	res := &Result{JobID: uuid.New()}
	log := b.log.With("job_id", res.JobID.String(), "start_seq_num", start, "end_seq_num", end)
	begin := b.cfg.Clock.Now()

	windows, err := b.Plan(ctx, start, end)
	if err != nil {
		metrics.BackfillRunsTotal.WithLabelValues(b.cfg.Trigger, "error").Inc()
		return res, err
	}
	res.Windows = windows
	log.Info("backfill: starting", "windows", len(windows))

	for i, w := range windows {
		if i > 0 && b.cfg.WindowSleep > 0 {
			select {
			case <-ctx.Done():
				metrics.BackfillRunsTotal.WithLabelValues(b.cfg.Trigger, "error").Inc()
				return res, ctx.Err()
			case <-b.cfg.Clock.After(b.cfg.WindowSleep):
			}
		}
		metrics.GapSize.Observe(float64(w.StopAfter))
		recovered, err := b.walkWindow(ctx, log, w)
		res.Recovered += recovered
		metrics.BackfillRecoveredEventsTotal.Add(float64(recovered))
		if err != nil {
			metrics.BackfillRunsTotal.WithLabelValues(b.cfg.Trigger, "error").Inc()
			return res, fmt.Errorf("failed to backfill window (%d, %d): %w", w.LeastRecentID, w.MostRecentID, err)
		}
	}

	duration := b.cfg.Clock.Since(begin)
	metrics.BackfillRunsTotal.WithLabelValues(b.cfg.Trigger, "success").Inc()
	metrics.BackfillRunDuration.Observe(duration.Seconds())
	log.Info("backfill: completed", "windows", len(windows), "recovered", res.Recovered, "duration", duration.String())
	return res, nil
}

// walkWindow pages backwards from the most recent anchor until the least
// recent anchor is reached or every missing event is recovered.
func (b *Backfiller) walkWindow(ctx context.Context, log *slog.Logger, w MissingEventWindow) (recovered int64, err error) {
	span := sentry.StartSpan(ctx, "backfill.window", sentry.WithDescription(fmt.Sprintf("events %d..%d", w.LeastRecentID, w.MostRecentID)))
	span.SetData("stop_after", w.StopAfter)
	defer func() {
		span.SetData("recovered", recovered)
		if err != nil {
			span.Status = sentry.SpanStatusInternalError
		} else {
			span.Status = sentry.SpanStatusOK
		}
		span.Finish()
	}()
	ctx = span.Context()

	log.Debug("backfill: walking window", "least_recent", w.LeastRecentID, "most_recent", w.MostRecentID, "stop_after", w.StopAfter)

	// The anchors' own transactions can carry missing events emitted
	// alongside them.
	n, err := b.ingest(ctx, w, w.MostRecent)
	if err != nil {
		return 0, err
	}
	recovered += n

	before := w.MostRecent
	for recovered < w.StopAfter {
		sigs, err := b.cfg.Client.Signatures(ctx, b.cfg.ProgramID, before, w.LeastRecent, b.cfg.MaxBatch)
		if err != nil {
			return recovered, err
		}
		if len(sigs) == 0 {
			break
		}
		for _, sig := range sigs {
			if sig.Signature == w.LeastRecent {
				break
			}
			if sig.Err != nil && !b.cfg.IncludeFailed {
				continue
			}
			n, err := b.ingest(ctx, w, sig.Signature)
			if err != nil {
				return recovered, err
			}
			recovered += n
			if recovered >= w.StopAfter {
				return recovered, nil
			}
		}
		before = sigs[len(sigs)-1].Signature
	}

	if recovered < w.StopAfter {
		n, err := b.ingest(ctx, w, w.LeastRecent)
		if err != nil {
			return recovered, err
		}
		recovered += n
	}
	if recovered < w.StopAfter {
		log.Warn("backfill: window not fully recovered", "least_recent", w.LeastRecentID, "most_recent", w.MostRecentID, "recovered", recovered, "missing", w.StopAfter)
	}
	return recovered, nil
}

// ingest fetches one transaction and processes it, counting newly stored
// events that fall inside the window. Events of failed transactions carry
// rolled-back ids and never count.
func (b *Backfiller) ingest(ctx context.Context, w MissingEventWindow, sig solana.Signature) (int64, error) {
	tx, err := b.cfg.Client.Transaction(ctx, sig)
	if err != nil {
		return 0, err
	}
	outcomes, err := b.cfg.Processor.ProcessLogs(ctx, ingest.Bundle{
		Signature: tx.Signature,
		Slot:      tx.Slot,
		RPCError:  tx.Err,
		Logs:      tx.Logs,
	}, true)
	if err != nil && ctx.Err() != nil {
		return 0, err
	}
	var n int64
	for _, o := range outcomes {
		if o.Inserted && !o.Failed && w.contains(o.EventID) {
			n++
		}
	}
	return n, nil
}
