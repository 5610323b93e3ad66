package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/config"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence/badger"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence/leveldb"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence/redis"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/redeem"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/server"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/token"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/token/erc20"
	memtoken "github.com/Layr-Labs/merkle-redeem-go/pkg/token/memory"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/transactionSigner"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// devSpender is the spender the memory token backend approves on behalf of the treasury.
var devSpender = common.BytesToAddress(crypto.Keccak256([]byte("merkle-redeem/dev-spender")))

type service struct {
	store  persistence.IRedeemPersistence
	ledger *redeem.Ledger
	engine *redeem.Engine
	server *server.Server
	closer []func()
	logger *zap.Logger
}

func (s *service) close() {
	for i := len(s.closer) - 1; i >= 0; i-- {
		s.closer[i]()
	}
}

func newStore(cfg *config.RedeemServerConfig, l *zap.Logger) (persistence.IRedeemPersistence, error) {
	switch cfg.Persistence.Type {
	case config.PersistenceTypeMemory:
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceTypeBadger:
		return badger.NewBadgerPersistence(cfg.Persistence.DataPath, l)
	case config.PersistenceTypeLevelDB:
		return leveldb.NewLevelDBPersistence(cfg.Persistence.DataPath, l)
	case config.PersistenceTypeRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.Persistence.Redis.Address,
			Password:  cfg.Persistence.Redis.Password,
			DB:        cfg.Persistence.Redis.DB,
			KeyPrefix: cfg.Persistence.Redis.KeyPrefix,
		}, l)
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", cfg.Persistence.Type)
	}
}

func newTokenLedger(ctx context.Context, cfg *config.RedeemServerConfig, l *zap.Logger) (token.ITokenLedger, func(), error) {
	treasury := common.HexToAddress(cfg.TreasuryAddress)

	switch cfg.Token.Backend {
	case config.TokenBackendMemory:
		supply, err := types.ParseAmount(cfg.Token.DevSupply)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid dev token supply: %w", err)
		}
		tok := memtoken.NewToken("RDM")
		if err := tok.Mint(treasury, supply); err != nil {
			return nil, nil, fmt.Errorf("failed to mint dev supply: %w", err)
		}
		if err := tok.Approve(treasury, devSpender, types.MaxUint256); err != nil {
			return nil, nil, fmt.Errorf("failed to approve dev spender: %w", err)
		}
		l.Sugar().Warnw("Using in-memory token ledger, balances are lost on restart",
			"treasury", treasury.Hex(),
			"supply", supply.String(),
		)
		return tok.ForSpender(devSpender), func() {}, nil

	case config.TokenBackendERC20:
		client, err := ethclient.DialContext(ctx, cfg.Token.RpcUrl)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial rpc: %w", err)
		}
		signer, err := transactionSigner.NewTransactionSigner(ctx, &transactionSigner.SignerConfig{
			PrivateKey: cfg.Token.PrivateKey,
		}, client, l)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to create transaction signer: %w", err)
		}
		ledger, err := erc20.NewLedger(common.HexToAddress(cfg.Token.Address), client, signer, l)
		if err != nil {
			client.Close()
			return nil, nil, err
		}

		allowance, err := ledger.Allowance(ctx, treasury, ledger.Spender())
		if err != nil {
			l.Sugar().Warnw("Failed to read treasury allowance", "error", err)
		} else if allowance.Sign() == 0 {
			l.Sugar().Warnw("Treasury has not approved the spender, claims will fail until it does",
				"treasury", treasury.Hex(),
				"spender", ledger.Spender().Hex(),
			)
		}
		return ledger, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported token backend: %s", cfg.Token.Backend)
	}
}

func buildService(ctx context.Context, cfg *config.RedeemServerConfig, l *zap.Logger) (*service, error) {
	svc := &service{logger: l}
	ok := false
	defer func() {
		if !ok {
			svc.close()
		}
	}()

	store, err := newStore(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s persistence: %w", cfg.Persistence.Type, err)
	}
	svc.store = store
	svc.closer = append(svc.closer, func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close persistence", "error", err)
		}
	})

	var m metrics.Metrics = metrics.NewNopMetrics()
	var prom *metrics.PrometheusMetrics
	if cfg.MetricsEnabled {
		prom = metrics.NewPrometheusMetrics("redeem")
		m = prom
	}

	var initialOwner common.Address
	if cfg.OwnerAddress != "" {
		initialOwner = common.HexToAddress(cfg.OwnerAddress)
	}
	ledger, err := redeem.NewLedger(store, initialOwner, l, redeem.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	svc.ledger = ledger

	tokenLedger, closeToken, err := newTokenLedger(ctx, cfg, l)
	if err != nil {
		return nil, err
	}
	svc.closer = append(svc.closer, closeToken)

	encoder, err := merkle.NewLeafEncoder(merkle.LeafEncoding(cfg.LeafEncoding))
	if err != nil {
		return nil, err
	}

	var gate redeem.ClaimGate = redeem.OpenGate{}
	if cfg.Claims.Cooldown > 0 {
		gate = redeem.NewCooldownGate(cfg.Claims.Cooldown)
	}

	engine, err := redeem.NewEngine(&redeem.EngineConfig{
		Ledger:        ledger,
		Token:         tokenLedger,
		Treasury:      common.HexToAddress(cfg.TreasuryAddress),
		Encoder:       encoder,
		Gate:          gate,
		Metrics:       m,
		PayoutTimeout: cfg.Claims.PayoutTimeout,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("failed to create claim engine: %w", err)
	}
	svc.engine = engine

	serverCfg := &server.Config{
		Port:           cfg.Port,
		AuthMaxAge:     cfg.AuthMaxAge,
		ClaimRateLimit: cfg.Claims.RateLimit,
		ClaimRateBurst: cfg.Claims.RateBurst,
	}
	if prom != nil {
		serverCfg.MetricsHandler = prom.HTTPHandler()
	}
	srv, err := server.NewServer(serverCfg, ledger, engine, l)
	if err != nil {
		return nil, err
	}
	svc.server = srv

	ok = true
	return svc, nil
}
