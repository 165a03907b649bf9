// Package config loads process configuration from MUTUAL_* environment
// variables. Protocol parameters are not configured here; they start at
// params.Defaults() and change only through governance.
package config

import (
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Keeper modes
const (
	KeeperInProcess = "inprocess" // apply maintenance commands directly
	KeeperNATS      = "nats"      // publish them to mutual.commands.*
	KeeperOff       = "off"
)

// Config holds all application configuration.
type Config struct {
	// Postgres; empty runs with in-memory persistence and no recovery
	PostgresURL string

	// NATS; empty disables the attestation feed and outbound events
	NATSURL string

	// Channels
	PersistChanSize  int
	OutboundChanSize int
	IngestChanSize   int

	// Persistence worker
	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	// Snapshot every N applied commands, checked on SnapshotCheckInterval
	SnapshotInterval      int64
	SnapshotCheckInterval time.Duration

	// gRPC/HTTP
	GRPCAddr string
	HTTPAddr string

	IdempotencyLRUCapacity int
	MigrationsDir          string

	// Principal holding the admin role (source registry, token minting)
	Admin ledger.Principal

	KeeperMode     string
	KeeperInterval time.Duration

	// Faucet balances for the in-memory settlement wallets,
	// MUTUAL_DEV_FUNDS="alice=1000,bob=250.5"
	DevFunds map[ledger.Principal]int64
}

func Load() (Config, error) {
	cfg := Config{
		PostgresURL:            os.Getenv("MUTUAL_POSTGRES_DSN"),
		NATSURL:                os.Getenv("MUTUAL_NATS_URL"),
		PersistChanSize:        envIntOrDefault("MUTUAL_PERSIST_CHAN_SIZE", 1024),
		OutboundChanSize:       envIntOrDefault("MUTUAL_OUTBOUND_CHAN_SIZE", 2048),
		IngestChanSize:         envIntOrDefault("MUTUAL_INGEST_CHAN_SIZE", 4096),
		PersistBatchSize:       envIntOrDefault("MUTUAL_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout:    envDurationOrDefault("MUTUAL_PERSIST_FLUSH_TIMEOUT", 10*time.Millisecond),
		SnapshotInterval:       int64(envIntOrDefault("MUTUAL_SNAPSHOT_INTERVAL", 10_000)),
		SnapshotCheckInterval:  envDurationOrDefault("MUTUAL_SNAPSHOT_CHECK_INTERVAL", 30*time.Second),
		GRPCAddr:               envOrDefault("MUTUAL_GRPC_ADDR", ":9090"),
		HTTPAddr:               envOrDefault("MUTUAL_HTTP_ADDR", ":8080"),
		IdempotencyLRUCapacity: envIntOrDefault("MUTUAL_IDEMPOTENCY_LRU_CAPACITY", 1_000_000),
		MigrationsDir:          envOrDefault("MUTUAL_MIGRATIONS_DIR", "migrations"),
		Admin:                  ledger.Principal(envOrDefault("MUTUAL_ADMIN", "admin")),
		KeeperMode:             envOrDefault("MUTUAL_KEEPER_MODE", KeeperInProcess),
		KeeperInterval:         envDurationOrDefault("MUTUAL_KEEPER_INTERVAL", time.Minute),
	}
	funds, err := parseFunds(os.Getenv("MUTUAL_DEV_FUNDS"))
	if err != nil {
		return cfg, err
	}
	cfg.DevFunds = funds
	return cfg, cfg.Validate()
}

func parseFunds(s string) (map[ledger.Principal]int64, error) {
	out := make(map[ledger.Principal]int64)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(s, ",") {
		name, amount, ok := strings.Cut(strings.TrimSpace(pair), "=")
		p := ledger.Principal(name)
		if !ok || !p.Valid() {
			return nil, fmt.Errorf("MUTUAL_DEV_FUNDS: bad entry %q", pair)
		}
		v, err := fpmath.ParseAmount(amount, fpmath.AmountConfig)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("MUTUAL_DEV_FUNDS: bad amount for %s: %q", name, amount)
		}
		out[p] += v
	}
	return out, nil
}

func (c Config) Validate() error {
	if !c.Admin.Valid() {
		return fmt.Errorf("MUTUAL_ADMIN: invalid principal %q", c.Admin)
	}
	switch c.KeeperMode {
	case KeeperInProcess, KeeperOff:
	case KeeperNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("MUTUAL_KEEPER_MODE=nats requires MUTUAL_NATS_URL")
		}
	default:
		return fmt.Errorf("MUTUAL_KEEPER_MODE: unknown mode %q", c.KeeperMode)
	}
	for name, v := range map[string]int{
		"MUTUAL_PERSIST_CHAN_SIZE":  c.PersistChanSize,
		"MUTUAL_OUTBOUND_CHAN_SIZE": c.OutboundChanSize,
		"MUTUAL_INGEST_CHAN_SIZE":   c.IngestChanSize,
		"MUTUAL_PERSIST_BATCH_SIZE": c.PersistBatchSize,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.KeeperInterval <= 0 || c.SnapshotCheckInterval <= 0 {
		return fmt.Errorf("keeper and snapshot intervals must be positive")
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
