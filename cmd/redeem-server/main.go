package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/config"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	app := &cli.App{
		Name:  "redeem-server",
		Usage: "Merkle epoch redemption server",
		Description: `Publishes per-epoch merkle roots of token allocations and pays out
claims backed by inclusion proofs.

The administrator seeds one root per epoch with a signed request. Recipients
claim one or many epochs at once; each (epoch, recipient) pair pays out at most
once, drawn from the treasury through the spender allowance.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Optional YAML/JSON config file; flags and env override its values",
				EnvVars: []string{config.EnvRedeemConfigFile},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvRedeemPort},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Value:   uint64(config.DefaultChainID),
				Usage:   fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars: []string{config.EnvRedeemChainID},
			},
			&cli.StringFlag{
				Name:    "owner-address",
				Aliases: []string{"owner"},
				Usage:   "Initial administrator, used only when the ledger has no owner yet",
				EnvVars: []string{config.EnvRedeemOwnerAddress},
			},
			&cli.StringFlag{
				Name:    "treasury-address",
				Aliases: []string{"treasury"},
				Usage:   "Account payouts are drawn from",
				EnvVars: []string{config.EnvRedeemTreasuryAddress},
			},
			&cli.StringFlag{
				Name:    "leaf-encoding",
				Value:   config.LeafEncodingPacked,
				Usage:   fmt.Sprintf("Leaf encoding: %s or %s", config.LeafEncodingPacked, config.LeafEncodingEpochBound),
				EnvVars: []string{config.EnvRedeemLeafEncoding},
			},
			&cli.DurationFlag{
				Name:    "auth-max-age",
				Value:   config.DefaultAuthMaxAge,
				Usage:   "Maximum age of signed admin requests (0 disables)",
				EnvVars: []string{config.EnvRedeemAuthMaxAge},
			},
			&cli.StringFlag{
				Name:    "persistence-type",
				Value:   string(config.PersistenceTypeBadger),
				Usage:   "Ledger storage: memory, badger, redis or leveldb",
				EnvVars: []string{config.EnvRedeemPersistenceType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Value:   config.DefaultDataPath,
				Usage:   "Data directory for badger and leveldb",
				EnvVars: []string{config.EnvRedeemDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis host:port",
				EnvVars: []string{config.EnvRedeemRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				EnvVars: []string{config.EnvRedeemRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				EnvVars: []string{config.EnvRedeemRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				Usage:   "Prefix for every redis key, lets several ledgers share one server",
				EnvVars: []string{config.EnvRedeemRedisKeyPrefix},
			},
			&cli.StringFlag{
				Name:    "token-backend",
				Value:   string(config.TokenBackendMemory),
				Usage:   "Token ledger: memory (dev) or erc20",
				EnvVars: []string{config.EnvRedeemTokenBackend},
			},
			&cli.StringFlag{
				Name:    "token-address",
				Usage:   "ERC20 token contract",
				EnvVars: []string{config.EnvRedeemTokenAddress},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Value:   "http://localhost:8545",
				Usage:   "Ethereum RPC endpoint URL",
				EnvVars: []string{config.EnvRedeemRPCURL},
			},
			&cli.StringFlag{
				Name:    "signer-private-key",
				Usage:   "Hex ECDSA key of the approved spender that submits transferFrom",
				EnvVars: []string{config.EnvRedeemSignerPrivateKey},
			},
			&cli.StringFlag{
				Name:    "dev-token-supply",
				Value:   config.DefaultDevSupply,
				Usage:   "Supply minted to the treasury by the memory token backend",
				EnvVars: []string{config.EnvRedeemDevTokenSupply},
			},
			&cli.DurationFlag{
				Name:    "claim-cooldown",
				Usage:   "Delay between seeding an epoch and accepting its claims",
				EnvVars: []string{config.EnvRedeemClaimCooldown},
			},
			&cli.Float64Flag{
				Name:    "claim-rate-limit",
				Value:   config.DefaultClaimRate,
				Usage:   "Claim requests per second (0 disables)",
				EnvVars: []string{config.EnvRedeemClaimRateLimit},
			},
			&cli.IntFlag{
				Name:    "claim-rate-burst",
				Value:   config.DefaultClaimBurst,
				EnvVars: []string{config.EnvRedeemClaimRateBurst},
			},
			&cli.DurationFlag{
				Name:    "payout-timeout",
				Value:   config.DefaultPayoutTimeout,
				Usage:   "Upper bound on one token transfer including its receipt",
				EnvVars: []string{config.EnvRedeemPayoutTimeout},
			},
			&cli.BoolFlag{
				Name:    "metrics",
				Value:   true,
				Usage:   "Serve prometheus metrics on /metrics",
				EnvVars: []string{config.EnvRedeemMetrics},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvRedeemDebug},
			},
		},
		Action: runRedeemServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runRedeemServer(c *cli.Context) error {
	cfg, err := parseRedeemConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	l.Sugar().Infow("Using chain", "name", cfg.ChainName, "chain_id", cfg.ChainID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Redeem server running",
		"port", cfg.Port,
		"persistence", cfg.Persistence.Type,
		"token_backend", cfg.Token.Backend,
		"leaf_encoding", cfg.LeafEncoding,
		"treasury", cfg.TreasuryAddress,
	)

	<-ctx.Done()
	l.Sugar().Infow("Shutting down redeem server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return svc.server.Stop(shutdownCtx)
}

// parseRedeemConfig layers defaults, the optional config file, then explicitly set flags.
func parseRedeemConfig(c *cli.Context) (*config.RedeemServerConfig, error) {
	cfg := config.NewDefaultRedeemServerConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	// Flags only override the file when set on the command line or via env
	override := func(name string, apply func()) {
		if c.IsSet(name) || c.String("config") == "" {
			apply()
		}
	}

	override("port", func() { cfg.Port = c.Int("port") })
	override("chain-id", func() { cfg.ChainID = config.ChainId(c.Uint64("chain-id")) })
	override("owner-address", func() { cfg.OwnerAddress = c.String("owner-address") })
	override("treasury-address", func() { cfg.TreasuryAddress = c.String("treasury-address") })
	override("leaf-encoding", func() { cfg.LeafEncoding = c.String("leaf-encoding") })
	override("auth-max-age", func() { cfg.AuthMaxAge = c.Duration("auth-max-age") })
	override("persistence-type", func() { cfg.Persistence.Type = config.PersistenceType(c.String("persistence-type")) })
	override("data-path", func() { cfg.Persistence.DataPath = c.String("data-path") })
	override("redis-address", func() { cfg.Persistence.Redis.Address = c.String("redis-address") })
	override("redis-password", func() { cfg.Persistence.Redis.Password = c.String("redis-password") })
	override("redis-db", func() { cfg.Persistence.Redis.DB = c.Int("redis-db") })
	override("redis-key-prefix", func() { cfg.Persistence.Redis.KeyPrefix = c.String("redis-key-prefix") })
	override("token-backend", func() { cfg.Token.Backend = config.TokenBackend(c.String("token-backend")) })
	override("token-address", func() { cfg.Token.Address = c.String("token-address") })
	override("rpc-url", func() { cfg.Token.RpcUrl = c.String("rpc-url") })
	override("signer-private-key", func() { cfg.Token.PrivateKey = c.String("signer-private-key") })
	override("dev-token-supply", func() { cfg.Token.DevSupply = c.String("dev-token-supply") })
	override("claim-cooldown", func() { cfg.Claims.Cooldown = c.Duration("claim-cooldown") })
	override("claim-rate-limit", func() { cfg.Claims.RateLimit = c.Float64("claim-rate-limit") })
	override("claim-rate-burst", func() { cfg.Claims.RateBurst = c.Int("claim-rate-burst") })
	override("payout-timeout", func() { cfg.Claims.PayoutTimeout = c.Duration("payout-timeout") })
	override("metrics", func() { cfg.MetricsEnabled = c.Bool("metrics") })
	override("verbose", func() { cfg.Debug = c.Bool("verbose") })

	return cfg, nil
}
