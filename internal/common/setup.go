package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/davidopascual/coinlist/internal/chain"
	"github.com/davidopascual/coinlist/internal/database"
	"github.com/davidopascual/coinlist/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	} else {
		log.Println("Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService *database.Service
	Escrow    *chain.Escrow
	Assets    *AssetRegistry
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	assets, err := LoadAssetRegistry(cfg.Chain.AssetsFile)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	escrow, err := initializeEscrow(ctx, cfg.Chain)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	return &Services{
		DbService: dbService,
		Escrow:    escrow,
		Assets:    assets,
	}, nil
}

// InitializeDatabaseOnly initializes just the database service without a
// ledger connection. Useful for read-only catalog operations.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func initializeEscrow(ctx context.Context, cfg models.ChainConfig) (*chain.Escrow, error) {
	contract, err := chain.ParseAddress(cfg.EscrowAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid ESCROW_ADDRESS: %w", err)
	}

	switch cfg.Backend {
	case "memory":
		// In-process simulated ledger for local development. The signer is
		// a fixed development wallet unless one is configured.
		signer := chain.MustParseAddress("0x1111111111111111111111111111111111111111")
		if cfg.PrivateKey != "" {
			signer, err = chain.ParseAddress(cfg.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("memory backend expects SIGNER_PRIVATE_KEY to be a wallet address: %w", err)
			}
		}
		backend := chain.NewMemoryBackend(cfg.ChainId, contract)
		return chain.NewEscrow(chain.EscrowConfig{
			Backend:  backend,
			Contract: contract,
			Signer:   signer,
			ChainId:  cfg.ChainId,
		}), nil

	case "rpc":
		if cfg.RpcEndpoint == "" {
			return nil, fmt.Errorf("CHAIN_RPC_ENDPOINT is required for the rpc backend")
		}
		backend, err := chain.DialEthBackend(ctx, cfg.RpcEndpoint, cfg.EscrowAddress, cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RpcEndpoint, err)
		}
		signer, err := backend.SignerAddress()
		if err != nil && cfg.PrivateKey != "" {
			return nil, err
		}
		zap.L().Info("Connected to ledger node",
			zap.String("endpoint", cfg.RpcEndpoint),
			zap.Uint64("chain_id", cfg.ChainId),
			zap.String("escrow", contract.Hex()))
		return chain.NewEscrow(chain.EscrowConfig{
			Backend:  backend,
			Contract: contract,
			Signer:   signer,
			ChainId:  cfg.ChainId,
		}), nil

	default:
		return nil, fmt.Errorf("unknown chain backend %q (want memory or rpc)", cfg.Backend)
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
