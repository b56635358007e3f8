package poller_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/lolly/monitor/pkg/address"
	"github.com/malbeclabs/lolly/monitor/internal/chainsim"
	"github.com/malbeclabs/lolly/monitor/pkg/poller"
	"github.com/malbeclabs/lolly/monitor/pkg/solrpc"
	"github.com/malbeclabs/lolly/monitor/pkg/store"
	"github.com/malbeclabs/lolly/monitor/pkg/store/storetest"
	lollytesting "github.com/malbeclabs/lolly/utils/pkg/testing"
)

func TestMain(m *testing.M) {
	storetest.Main(m)
}

type harness struct {
	net   *chainsim.Network
	store *store.Store
	calc  *address.Calculator
	clock *clockwork.FakeClock
	poll  *poller.Poller
}

func newHarness(t *testing.T, latest int) *harness {
	t.Helper()
	log := lollytesting.NewLogger()
	s, _ := storetest.New(t)
	n, err := chainsim.NewNetwork(chainsim.NetworkConfig{Logger: log})
	require.NoError(t, err)
	client, err := solrpc.NewClient(solrpc.Config{Logger: log, RPC: n.Chain})
	require.NoError(t, err)
	calc, err := address.NewCalculator(address.Config{
		Logger:    log,
		Accounts:  client,
		ProgramID: n.ProgramID,
		UsdcMint:  n.UsdcMint,
		Registry:  n.Registry,
	})
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	p, err := poller.New(poller.Config{
		Logger:          log,
		Clock:           clock,
		Accounts:        client,
		Addresses:       calc,
		Store:           s,
		Registry:        n.Registry,
		RefreshInterval: time.Minute,
		LatestGames:     latest,
	})
	require.NoError(t, err)
	return &harness{net: n, store: s, calc: calc, clock: clock, poll: p}
}

func TestLolly_Poller_Config_Validate(t *testing.T) {
	t.Parallel()
	cfg := poller.Config{}
	require.EqualError(t, cfg.Validate(), "logger is required")
}

func TestLolly_Poller_Refresh_SnapshotsLatestGames(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2)
	ctx := context.Background()

	for round := uint64(0); round < 3; round++ {
		require.NoError(t, h.net.StartRound(round, 100_000))
	}
	u, err := h.net.NewUser(100_000)
	require.NoError(t, err)
	_, err = h.net.Engine.BuyTicket(u, h.net.Authority, 2, [6]uint8{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	require.False(t, h.poll.Ready())
	require.NoError(t, h.poll.Refresh(ctx))
	require.True(t, h.poll.Ready())

	n, err := h.store.CountRows(ctx, "lotto_game_snapshots")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	g2, err := h.calc.Game(ctx, 2)
	require.NoError(t, err)
	state, sold, err := h.store.GameSnapshotState(ctx, g2.Game)
	require.NoError(t, err)
	require.Equal(t, "Open", state)
	require.EqualValues(t, 1, sold)

	g0, err := h.calc.Game(ctx, 0)
	require.NoError(t, err)
	_, _, err = h.store.GameSnapshotState(ctx, g0.Game)
	require.Error(t, err)
}

func TestLolly_Poller_Run_RefreshesOnTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 5)
	require.NoError(t, h.net.StartRound(0, 100_000))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.poll.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, h.poll.Ready, 5*time.Second, time.Millisecond)

	g, err := h.calc.Game(ctx, 0)
	require.NoError(t, err)
	state, _, err := h.store.GameSnapshotState(ctx, g.Game)
	require.NoError(t, err)
	require.Equal(t, "Open", state)

	require.NoError(t, h.net.CloseRound(0))
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		state, _, err := h.store.GameSnapshotState(ctx, g.Game)
		return err == nil && state == "Closed"
	}, 5*time.Second, 5*time.Millisecond)
}
