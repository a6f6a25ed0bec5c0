package models

import "time"

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Chain      ChainConfig
	Reconciler ReconcilerConfig
	Market     MarketConfig
}

// DatabaseConfig holds catalog database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ChainConfig holds ledger connection settings. Backend selects the client
// implementation: "rpc" talks to a real node, "memory" runs the in-process
// simulated ledger (local development and tests).
type ChainConfig struct {
	Backend       string
	RpcEndpoint   string
	ChainId       uint64
	EscrowAddress string
	PrivateKey    string
	AssetsFile    string
}

// ReconcilerConfig holds reconciliation worker settings
type ReconcilerConfig struct {
	PollingInterval time.Duration
	HttpAddr        string
	ShutdownTimeout time.Duration
}

// MarketConfig holds purchase-flow settings. FeeBps is the fixed marketplace
// fee in basis points, used for display only; the contract applies the
// authoritative fee on release.
type MarketConfig struct {
	FeeBps int64
}
