// Package monitor follows the engine's live log stream into the history
// store and starts a backfill whenever the stored sequence may have gaps.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/lolly/monitor/pkg/backfill"
	"github.com/malbeclabs/lolly/monitor/pkg/ingest"
	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
	"github.com/malbeclabs/lolly/monitor/pkg/solrpc"
	"github.com/malbeclabs/lolly/utils/pkg/retry"
)

// BackfillRunner recovers the missing events of a sequence range.
type BackfillRunner interface {
	Run(ctx context.Context, start, end int64) (*backfill.Result, error)
}

var _ BackfillRunner = (*backfill.Backfiller)(nil)

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Subscriber solrpc.Subscriber
	Processor  *ingest.Processor
	ProgramID  solana.PublicKey

	// Backfill is spawned every BackfillEvery events; nil disables it.
	Backfill      BackfillRunner
	BackfillEvery int64

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Subscriber == nil {
		return errors.New("subscriber is required")
	}
	if cfg.Processor == nil {
		return errors.New("processor is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Backfill != nil && cfg.BackfillEvery <= 0 {
		return errors.New("backfill cadence must be positive")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	return nil
}

// Cursors is a copy of the monitor's sequence state.
type Cursors struct {
	Start       int64
	End         int64
	Initialized bool
	Backfilling bool
}

type Monitor struct {
	log *slog.Logger
	cfg Config

	mu          sync.Mutex
	start       int64
	end         int64
	initialized bool
	backfilling bool
	backfillWG  sync.WaitGroup

	connected atomic.Bool
	readyOnce sync.Once
	readyCh   chan struct{}
}

func New(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		log:     cfg.Logger,
		cfg:     cfg,
		readyCh: make(chan struct{}),
	}, nil
}

// Ready reports whether the first subscription has been established.
func (m *Monitor) Ready() bool {
	select {
	case <-m.readyCh:
		return true
	default:
		return false
	}
}

// Connected reports whether a subscription is currently open.
func (m *Monitor) Connected() bool {
	return m.connected.Load()
}

func (m *Monitor) Cursors() Cursors {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Cursors{Start: m.start, End: m.end, Initialized: m.initialized, Backfilling: m.backfilling}
}

// Run consumes the live stream until ctx is done, reconnecting on stream
// errors. It waits for a running backfill before returning.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.backfillWG.Wait()
	m.log.Info("monitor: starting", "program_id", m.cfg.ProgramID, "backfill_every", m.cfg.BackfillEvery)

	attempt := 0
	for {
		err := m.subscribeOnce(ctx, &attempt)
		if ctx.Err() != nil {
			m.log.Info("monitor: stopped")
			return nil
		}
		metrics.StreamReconnectsTotal.Inc()
		delay := retry.Backoff(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)
		m.log.Warn("monitor: log stream interrupted, reconnecting", "error", err, "attempt", attempt+1, "delay", delay)
		attempt++
		select {
		case <-ctx.Done():
			m.log.Info("monitor: stopped")
			return nil
		case <-m.cfg.Clock.After(delay):
		}
	}
}

func (m *Monitor) subscribeOnce(ctx context.Context, attempt *int) error {
	stream, err := m.cfg.Subscriber.SubscribeLogs(ctx, m.cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	defer stream.Close()

	m.connected.Store(true)
	defer m.connected.Store(false)
	m.readyOnce.Do(func() { close(m.readyCh) })
	m.log.Info("monitor: log stream connected")

	for {
		b, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		*attempt = 0
		m.handle(ctx, b)
	}
}

func (m *Monitor) handle(ctx context.Context, b *solrpc.LogBundle) {
	outcomes, err := m.cfg.Processor.ProcessLogs(ctx, ingest.Bundle{
		Signature: b.Signature,
		Slot:      b.Slot,
		RPCError:  b.Err,
		Logs:      b.Logs,
	}, false)
	if err != nil && ctx.Err() == nil {
		m.log.Warn("monitor: log bundle partially processed", "signature", b.Signature, "slot", b.Slot, "error", err)
	}
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		m.observe(ctx, o.EventID)
	}
}

// observe advances the cursors for event id and spawns a backfill over
// [start, id] once the range is wider than the cadence.
func (m *Monitor) observe(ctx context.Context, id int64) {
	metrics.CursorPosition.WithLabelValues("latest").Set(float64(id))

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		m.start, m.end, m.initialized = id, id, true
		metrics.CursorPosition.WithLabelValues("start").Set(float64(id))
		return
	}
	if m.cfg.Backfill == nil || m.backfilling || m.start+m.cfg.BackfillEvery >= id {
		return
	}
	m.backfilling = true
	m.end = id
	metrics.CursorPosition.WithLabelValues("end").Set(float64(id))

	start, end := m.start, m.end
	m.backfillWG.Add(1)
	go m.runBackfill(ctx, start, end)
}

func (m *Monitor) runBackfill(ctx context.Context, start, end int64) {
	defer m.backfillWG.Done()
	succeeded := false
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("monitor: backfill panicked", "panic", r, "start_seq_num", start, "end_seq_num", end)
			metrics.BackfillRunsTotal.WithLabelValues("auto", "panic").Inc()
			if hub := sentry.CurrentHub(); hub.Client() != nil {
				hub.Recover(r)
			}
		}
		m.mu.Lock()
		if succeeded {
			m.start = m.end
			metrics.CursorPosition.WithLabelValues("start").Set(float64(m.start))
		}
		m.backfilling = false
		m.mu.Unlock()
	}()

	res, err := m.cfg.Backfill.Run(ctx, start, end)
	switch {
	case errors.Is(err, backfill.ErrAnchorsNotIndexed):
		m.log.Warn("monitor: backfill range has too few stored events", "start_seq_num", start, "end_seq_num", end)
		return
	case err != nil:
		if ctx.Err() == nil {
			m.log.Error("monitor: backfill failed", "start_seq_num", start, "end_seq_num", end, "error", err)
		}
		return
	}
	succeeded = true
	m.log.Info("monitor: backfill finished", "job_id", res.JobID.String(), "start_seq_num", start, "end_seq_num", end, "windows", len(res.Windows), "recovered", res.Recovered)
}
