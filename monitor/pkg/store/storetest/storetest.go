// Package storetest provisions migrated history stores on a shared Postgres
// test container.
package storetest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/lolly/monitor/pkg/store"
	lollytesting "github.com/malbeclabs/lolly/utils/pkg/testing"
)

var shared *lollytesting.Postgres

// Main starts the shared container around m. Without a container runtime
// the tests still run and New skips them.
func Main(m *testing.M) {
	log := lollytesting.NewLogger()
	pg, err := lollytesting.NewPostgres(context.Background(), log, lollytesting.PostgresConfig{})
	if err != nil {
		if !lollytesting.DockerUnavailable(err) {
			log.Error("failed to start PostgreSQL container", "error", err)
			os.Exit(1)
		}
		log.Warn("docker unavailable, postgres tests will skip", "error", err)
		os.Exit(m.Run())
	}
	shared = pg

	code := m.Run()
	pg.Close()
	os.Exit(code)
}

// New returns a store over a fresh migrated database and its pool.
func New(t *testing.T) (*store.Store, *pgxpool.Pool) {
	t.Helper()
	if shared == nil {
		t.Skip("postgres container unavailable")
	}
	log := lollytesting.NewLogger()
	connStr := lollytesting.NewDatabase(t, shared)
	require.NoError(t, store.Migrate(log, connStr))

	pool, err := store.NewPool(t.Context(), log, store.PoolConfig{DatabaseURL: connStr, MinConns: 1, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s, err := store.New(store.Config{Logger: log, DB: pool})
	require.NoError(t, err)
	return s, pool
}
