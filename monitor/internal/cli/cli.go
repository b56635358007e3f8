// Package cli holds the flag, environment and process setup shared by the
// monitor binaries.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/mr-tron/base58"
)

// LoadDotEnv loads .env from the working directory when it exists.
func LoadDotEnv(log *slog.Logger) error {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load .env: %w", err)
	}
	log.Debug("loaded environment from .env")
	return nil
}

// OverrideString replaces *v with the env var when it is set.
func OverrideString(v *string, env string) {
	if e := os.Getenv(env); e != "" {
		*v = e
	}
}

// OverrideBool sets *v to true when the env var is "true" or "1".
func OverrideBool(v *bool, env string) {
	switch os.Getenv(env) {
	case "true", "1":
		*v = true
	}
}

// OverrideInt replaces *v with the env var when it parses as an integer.
func OverrideInt(v *int, env string) error {
	e := os.Getenv(env)
	if e == "" {
		return nil
	}
	n, err := strconv.Atoi(e)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", env, err)
	}
	*v = n
	return nil
}

// ParseKey decodes a base58 public key named by flag.
func ParseKey(flag, value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("--%s is required", flag)
	}
	raw, err := base58.Decode(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("invalid --%s: decodes to %d bytes, want %d", flag, len(raw), solana.PublicKeyLength)
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// InitSentry configures error reporting when dsn is set. The returned
// function flushes pending events.
func InitSentry(log *slog.Logger, dsn, release, environment string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		Environment:      environment,
		TracesSampleRate: 0.1,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	log.Info("sentry initialized", "environment", environment)
	return func() { sentry.Flush(2 * time.Second) }, nil
}
