package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/lolly/monitor/internal/cli"
	"github.com/malbeclabs/lolly/monitor/pkg/address"
	"github.com/malbeclabs/lolly/monitor/pkg/backfill"
	"github.com/malbeclabs/lolly/monitor/pkg/ingest"
	"github.com/malbeclabs/lolly/monitor/pkg/metrics"
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
	rpcURLFlag := flag.String("rpc-url", "", "Solana JSON-RPC URL (or set RPC_URL env var)")
	rpcRPSFlag := flag.Float64("rpc-rps", 10, "maximum RPC requests per second")
	rpcSigLimitFlag := flag.Int("rpc-sig-limit", 1000, "signatures requested per history page")

	programIDFlag := flag.String("program-id", "", "lottery program id (or set PROGRAM_ID env var)")
	poolRegistryFlag := flag.String("pool-registry", "", "lottery registry account (or set POOL_REGISTRY env var)")

	startFlag := flag.Int64("start-seq-num", 0, "first event id of the range")
	endFlag := flag.Int64("end-seq-num", -1, "last event id of the range")
	showGapsFlag := flag.Bool("show-gaps", false, "print the missing-event windows and exit")
	includeFailedFlag := flag.Bool("include-failed-transactions", false, "also walk failed transactions and store their events in failed_events")
	windowSleepFlag := flag.Duration("window-sleep", 500*time.Millisecond, "pause between windows")

	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN (or set SENTRY_DSN env var)")
	sentryEnvFlag := flag.String("sentry-environment", "production", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")

	flag.Parse()

	log := logger.New(*verboseFlag)
	if err := cli.LoadDotEnv(log); err != nil {
		return err
	}

	cli.OverrideString(databaseURLFlag, "DATABASE_URL")
	cli.OverrideString(pgSSLCertFlag, "PG_SSL_CERT")
	cli.OverrideString(rpcURLFlag, "RPC_URL")
	cli.OverrideString(programIDFlag, "PROGRAM_ID")
	cli.OverrideString(poolRegistryFlag, "POOL_REGISTRY")
	cli.OverrideString(sentryDSNFlag, "SENTRY_DSN")
	cli.OverrideString(sentryEnvFlag, "SENTRY_ENVIRONMENT")
	cli.OverrideBool(includeFailedFlag, "INCLUDE_FAILED_TRANSACTIONS")

	if *databaseURLFlag == "" {
		return fmt.Errorf("--database-url is required")
	}
	if *rpcURLFlag == "" {
		return fmt.Errorf("--rpc-url is required")
	}
	if *endFlag < 0 {
		return fmt.Errorf("--end-seq-num is required")
	}
	if *startFlag < 0 || *startFlag > *endFlag {
		return fmt.Errorf("--start-seq-num must be between 0 and --end-seq-num")
	}
	programID, err := cli.ParseKey("program-id", *programIDFlag)
	if err != nil {
		return err
	}
	registry, err := cli.ParseKey("pool-registry", *poolRegistryFlag)
	if err != nil {
		return err
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
		RPC:     rpc.New(*rpcURLFlag),
		Limiter: rate.NewLimiter(rate.Limit(*rpcRPSFlag), max(1, int(*rpcRPSFlag))),
	})
	if err != nil {
		return err
	}

	// The registry must exist on the cluster before anything is written.
	calc, err := address.NewCalculator(address.Config{
		Logger:    log,
		Accounts:  client,
		ProgramID: programID,
		Registry:  registry,
	})
	if err != nil {
		return err
	}
	snap, err := calc.Snapshot(ctx)
	if err != nil {
		return err
	}
	log.Info("pool registry loaded", "registry", registry, "authority", snap.Authority, "games", snap.GameCount)

	proc, err := ingest.NewProcessor(ingest.Config{
		Logger:        log,
		Store:         st,
		ProgramID:     programID,
		IncludeFailed: *includeFailedFlag,
	})
	if err != nil {
		return err
	}
	bf, err := backfill.New(backfill.Config{
		Logger:        log,
		Client:        client,
		Store:         st,
		Processor:     proc,
		ProgramID:     programID,
		MaxBatch:      *rpcSigLimitFlag,
		IncludeFailed: *includeFailedFlag,
		WindowSleep:   *windowSleepFlag,
		Trigger:       "manual",
	})
	if err != nil {
		return err
	}

	if *showGapsFlag {
		windows, err := bf.Plan(ctx, *startFlag, *endFlag)
		if err != nil {
			return err
		}
		var missing int64
		for _, w := range windows {
			fmt.Printf("%d..%d\tmissing=%d\tleast_recent=%s\tmost_recent=%s\n", w.LeastRecentID, w.MostRecentID, w.StopAfter, w.LeastRecent, w.MostRecent)
			missing += w.StopAfter
		}
		fmt.Printf("windows=%d missing=%d\n", len(windows), missing)
		return nil
	}

	start := time.Now()
	res, err := bf.Run(ctx, *startFlag, *endFlag)
	if err != nil {
		return err
	}
	log.Info("backfill finished", "job_id", res.JobID, "windows", len(res.Windows), "recovered", res.Recovered, "duration", time.Since(start))
	return nil
}
