package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/lolly/monitor/internal/cli"
	"github.com/malbeclabs/lolly/monitor/pkg/address"
	"github.com/malbeclabs/lolly/monitor/pkg/backfill"
	"github.com/malbeclabs/lolly/monitor/pkg/ingest"
	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
	"github.com/malbeclabs/lolly/monitor/pkg/monitor"
	"github.com/malbeclabs/lolly/monitor/pkg/poller"
	"github.com/malbeclabs/lolly/monitor/pkg/server"
	"github.com/malbeclabs/lolly/monitor/pkg/solrpc"
	"github.com/malbeclabs/lolly/monitor/pkg/store"
	"github.com/malbeclabs/lolly/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	databaseURLFlag := flag.String("database-url", "", "Postgres connection URL (or set DATABASE_URL env var)")
	pgSSLCertFlag := flag.String("pg-ssl-cert", "", "CA certificate used to verify the Postgres server (or set PG_SSL_CERT env var)")
	httpURLFlag := flag.String("http-url", "", "Solana JSON-RPC URL (or set RPC_URL env var)")
	wsURLFlag := flag.String("ws-url", "", "Solana websocket URL (or set WS_URL env var)")
	rpcRPSFlag := flag.Float64("rpc-rps", 10, "maximum RPC requests per second")

	programIDFlag := flag.String("program-id", "", "lottery program id (or set PROGRAM_ID env var)")
	usdcMintFlag := flag.String("usdc-mint", "", "USDC mint the lottery settles in (or set USDC_MINT env var)")
	poolRegistryFlag := flag.String("pool-registry", "", "lottery registry account, required by --poll-accounts (or set POOL_REGISTRY env var)")

	includeFailedFlag := flag.Bool("include-failed-transactions", false, "store events of failed transactions in failed_events")
	backfillEveryFlag := flag.Int("backfill-every", 100, "start a backfill after this many events since the last one (0 disables)")
	backfillSleepFlag := flag.Duration("backfill-window-sleep", 500*time.Millisecond, "pause between backfill windows")

	pollAccountsFlag := flag.Bool("poll-accounts", false, "periodically snapshot the registry and latest games")
	pollIntervalFlag := flag.Duration("poll-interval", 30*time.Second, "account poll interval")
	pollGamesFlag := flag.Int("poll-latest-games", 5, "number of most recent rounds snapshotted per poll")

	metricsPortFlag := flag.Int("metrics-port", 9090, "port serving /metrics, health and query routes (or set METRICS_PORT env var)")
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN (or set SENTRY_DSN env var)")
	sentryEnvFlag := flag.String("sentry-environment", "production", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")

	flag.Parse()

	log := logger.New(*verboseFlag)
	if err := cli.LoadDotEnv(log); err != nil {
		return err
	}

	cli.OverrideString(databaseURLFlag, "DATABASE_URL")
	cli.OverrideString(pgSSLCertFlag, "PG_SSL_CERT")
	cli.OverrideString(httpURLFlag, "RPC_URL")
	cli.OverrideString(wsURLFlag, "WS_URL")
	cli.OverrideString(programIDFlag, "PROGRAM_ID")
	cli.OverrideString(usdcMintFlag, "USDC_MINT")
	cli.OverrideString(poolRegistryFlag, "POOL_REGISTRY")
	cli.OverrideString(sentryDSNFlag, "SENTRY_DSN")
	cli.OverrideString(sentryEnvFlag, "SENTRY_ENVIRONMENT")
	cli.OverrideBool(includeFailedFlag, "INCLUDE_FAILED_TRANSACTIONS")
	if err := cli.OverrideInt(metricsPortFlag, "METRICS_PORT"); err != nil {
		return err
	}

	if *databaseURLFlag == "" {
		return fmt.Errorf("--database-url is required")
	}
	if *httpURLFlag == "" {
		return fmt.Errorf("--http-url is required")
	}
	if *wsURLFlag == "" {
		return fmt.Errorf("--ws-url is required")
	}
	programID, err := cli.ParseKey("program-id", *programIDFlag)
	if err != nil {
		return err
	}
	var usdcMint, registry solana.PublicKey
	if *pollAccountsFlag {
		if usdcMint, err = cli.ParseKey("usdc-mint", *usdcMintFlag); err != nil {
			return err
		}
		if registry, err = cli.ParseKey("pool-registry", *poolRegistryFlag); err != nil {
			return err
		}
	}

	flush, err := cli.InitSentry(log, *sentryDSNFlag, version, *sentryEnvFlag)
	if err != nil {
		return err
	}
	defer flush()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	poolCfg := store.PoolConfig{DatabaseURL: *databaseURLFlag, SSLRootCert: *pgSSLCertFlag}
	connStr, err := poolCfg.ConnString()
	if err != nil {
		return err
	}
	if err := store.Migrate(log, connStr); err != nil {
		return err
	}
	pool, err := store.NewPool(ctx, log, poolCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	st, err := store.New(store.Config{Logger: log, DB: pool})
	if err != nil {
		return err
	}

	client, err := solrpc.NewClient(solrpc.Config{
		Logger:  log,
		RPC:     rpc.New(*httpURLFlag),
		Limiter: rate.NewLimiter(rate.Limit(*rpcRPSFlag), max(1, int(*rpcRPSFlag))),
	})
	if err != nil {
		return err
	}

	proc, err := ingest.NewProcessor(ingest.Config{
		Logger:        log,
		Store:         st,
		ProgramID:     programID,
		IncludeFailed: *includeFailedFlag,
	})
	if err != nil {
		return err
	}

	monCfg := monitor.Config{
		Logger:     log,
		Subscriber: &solrpc.WSSubscriber{URL: *wsURLFlag},
		Processor:  proc,
		ProgramID:  programID,
	}
	if *backfillEveryFlag > 0 {
		bf, err := backfill.New(backfill.Config{
			Logger:        log,
			Client:        client,
			Store:         st,
			Processor:     proc,
			ProgramID:     programID,
			IncludeFailed: *includeFailedFlag,
			WindowSleep:   *backfillSleepFlag,
			Trigger:       "auto",
		})
		if err != nil {
			return err
		}
		monCfg.Backfill = bf
		monCfg.BackfillEvery = int64(*backfillEveryFlag)
	}
	mon, err := monitor.New(monCfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:      log,
		ListenAddr:  fmt.Sprintf("0.0.0.0:%d", *metricsPortFlag),
		VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
		Events:      st,
		Ready:       mon.Ready,
	})
	if err != nil {
		return err
	}

	var p *poller.Poller
	if *pollAccountsFlag {
		calc, err := address.NewCalculator(address.Config{
			Logger:    log,
			Accounts:  client,
			ProgramID: programID,
			UsdcMint:  usdcMint,
			Registry:  registry,
		})
		if err != nil {
			return err
		}
		p, err = poller.New(poller.Config{
			Logger:          log,
			Accounts:        client,
			Addresses:       calc,
			Store:           st,
			Registry:        registry,
			RefreshInterval: *pollIntervalFlag,
			LatestGames:     *pollGamesFlag,
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if p != nil {
		g.Go(func() error {
			p.Run(gctx)
			return nil
		})
	}

	log.Info("event monitor started", "version", version, "program_id", programID, "backfill_every", *backfillEveryFlag, "poll_accounts", *pollAccountsFlag)
	err = g.Wait()
	log.Info("event monitor stopped", "reason", ctx.Err())
	return err
}
