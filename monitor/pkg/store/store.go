package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
)

// DB is the subset of *pgxpool.Pool and pgx.Tx the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ DB = (*pgxpool.Pool)(nil)
	_ DB = (pgx.Tx)(nil)
)

type Config struct {
	Logger *slog.Logger
	DB     DB
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	return nil
}

type Store struct {
	log *slog.Logger
	db  DB
	// inTx is set on stores bound to a transaction by InTx.
	inTx bool
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, db: cfg.DB}, nil
}

// InTx runs fn against a store bound to one transaction, committing when fn
// returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&Store{log: s.log, db: tx, inTx: true})
	})
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	start := time.Now()
	var err error
	if s.inTx {
		// Each statement gets a savepoint so a constraint violation leaves the
		// transaction usable for the repair and retry.
		err = pgx.BeginFunc(ctx, s.db, func(sp pgx.Tx) error {
			_, err := sp.Exec(ctx, sql, args...)
			return err
		})
	} else {
		_, err = s.db.Exec(ctx, sql, args...)
	}
	metrics.RecordQuery(time.Since(start), err)
	if err != nil {
		return classify(err)
	}
	return nil
}

// EventRow is one observed event.
type EventRow struct {
	EventID      int64
	Version      uint8
	Kind         string
	Signature    string
	Data         []byte
	Slot         uint64
	BlockTime    int64
	ErrorProgram *string
	ErrorMessage *string
	// RPCError is only stored for failed events.
	RPCError   *string
	IsBackfill bool
}

// InsertEvent stores an event, failing with ErrDuplicate when event_id is
// already present.
func (s *Store) InsertEvent(ctx context.Context, e EventRow) error {
	return s.exec(ctx, `
		INSERT INTO events (event_id, version, kind, signature, data, slot, block_time, error_program, error_message, is_backfill)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.EventID, int16(e.Version), e.Kind, e.Signature, e.Data, int64(e.Slot), e.BlockTime, e.ErrorProgram, e.ErrorMessage, e.IsBackfill)
}

// InsertFailedEvent stores an event framed in a failed transaction. Failed
// events are keyed by signature and event id.
func (s *Store) InsertFailedEvent(ctx context.Context, e EventRow) error {
	return s.exec(ctx, `
		INSERT INTO failed_events (event_id, version, kind, signature, data, slot, block_time, error_program, error_message, rpc_error, is_backfill)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.EventID, int16(e.Version), e.Kind, e.Signature, e.Data, int64(e.Slot), e.BlockTime, e.ErrorProgram, e.ErrorMessage, e.RPCError, e.IsBackfill)
}

const eventColumns = `event_id, version, kind, signature, data, slot, block_time, error_program, error_message, is_backfill`

func scanEvents(rows pgx.Rows) ([]EventRow, error) {
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var (
			e       EventRow
			version int16
			slot    int64
		)
		if err := rows.Scan(&e.EventID, &version, &e.Kind, &e.Signature, &e.Data, &slot, &e.BlockTime, &e.ErrorProgram, &e.ErrorMessage, &e.IsBackfill); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Version = uint8(version)
		e.Slot = uint64(slot)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx, sql, args...)
	metrics.RecordQuery(time.Since(start), err)
	return rows, err
}

// EventsInRange returns the stored events with from <= event_id <= to,
// highest id first.
func (s *Store) EventsInRange(ctx context.Context, from, to int64) ([]EventRow, error) {
	rows, err := s.query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE event_id BETWEEN $1 AND $2
		ORDER BY event_id DESC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// EventFilter selects a page of events in ascending id order.
type EventFilter struct {
	From   *int64
	To     *int64
	Kind   string
	Limit  int
	Offset int
}

// ListEvents returns a page of events and the total number matching.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]EventRow, int, error) {
	where := `($1::BIGINT IS NULL OR event_id >= $1) AND ($2::BIGINT IS NULL OR event_id <= $2) AND ($3 = '' OR kind = $3)`

	var total int
	start := time.Now()
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE `+where, f.From, f.To, f.Kind).Scan(&total)
	metrics.RecordQuery(time.Since(start), err)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	rows, err := s.query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE `+where+`
		ORDER BY event_id ASC
		LIMIT $4 OFFSET $5
	`, f.From, f.To, f.Kind, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// LatestEventID returns the highest stored event id, reporting false when
// the table is empty.
func (s *Store) LatestEventID(ctx context.Context) (int64, bool, error) {
	var id *int64
	start := time.Now()
	err := s.db.QueryRow(ctx, `SELECT MAX(event_id) FROM events`).Scan(&id)
	metrics.RecordQuery(time.Since(start), err)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query latest event: %w", err)
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, true, nil
}

// Gap is a run of missing event ids between two stored events.
type Gap struct {
	After   int64
	Before  int64
	Missing int64
}

// Gaps returns every run of missing ids between stored events within
// [from, to], lowest first.
func (s *Store) Gaps(ctx context.Context, from, to int64) ([]Gap, error) {
	rows, err := s.query(ctx, `
		SELECT event_id, next_id
		FROM (
			SELECT event_id, LEAD(event_id) OVER (ORDER BY event_id) AS next_id
			FROM events
			WHERE event_id BETWEEN $1 AND $2
		) t
		WHERE next_id - event_id > 1
		ORDER BY event_id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query gaps: %w", err)
	}
	defer rows.Close()

	var out []Gap
	for rows.Next() {
		var g Gap
		if err := rows.Scan(&g.After, &g.Before); err != nil {
			return nil, fmt.Errorf("failed to scan gap: %w", err)
		}
		g.Missing = g.Before - g.After - 1
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate gaps: %w", err)
	}
	return out, nil
}

// CountRows returns the number of rows in table. Only known tables are
// accepted.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if _, ok := knownTables[table]; !ok {
		return 0, fmt.Errorf("store: unknown table %q", table)
	}
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

var knownTables = map[string]struct{}{
	"events": {}, "failed_events": {}, "games": {}, "users": {},
	"account_changes": {}, "game_lifecycle": {}, "ticket_purchases": {},
	"winning_numbers": {}, "prize_transfers": {}, "reward_claims": {},
	"pool_settlements": {}, "burns": {}, "registry_snapshots": {},
	"lotto_game_snapshots": {},
}
