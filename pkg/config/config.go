package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the redeem server configuration
const (
	EnvRedeemConfigFile      = "REDEEM_CONFIG_FILE"
	EnvRedeemPort            = "REDEEM_PORT"
	EnvRedeemChainID         = "REDEEM_CHAIN_ID"
	EnvRedeemOwnerAddress    = "REDEEM_OWNER_ADDRESS"
	EnvRedeemTreasuryAddress = "REDEEM_TREASURY_ADDRESS"
	EnvRedeemLeafEncoding    = "REDEEM_LEAF_ENCODING"
	EnvRedeemDebug           = "REDEEM_DEBUG"
	EnvRedeemMetrics         = "REDEEM_METRICS_ENABLED"

	EnvRedeemPersistenceType = "REDEEM_PERSISTENCE_TYPE"
	EnvRedeemDataPath        = "REDEEM_DATA_PATH"
	EnvRedeemRedisAddress    = "REDEEM_REDIS_ADDRESS"
	EnvRedeemRedisPassword   = "REDEEM_REDIS_PASSWORD"
	EnvRedeemRedisDB         = "REDEEM_REDIS_DB"
	EnvRedeemRedisKeyPrefix  = "REDEEM_REDIS_KEY_PREFIX"

	EnvRedeemTokenBackend     = "REDEEM_TOKEN_BACKEND"
	EnvRedeemTokenAddress     = "REDEEM_TOKEN_ADDRESS"
	EnvRedeemRPCURL           = "REDEEM_RPC_URL"
	EnvRedeemSignerPrivateKey = "REDEEM_SIGNER_PRIVATE_KEY"
	EnvRedeemDevTokenSupply   = "REDEEM_DEV_TOKEN_SUPPLY"

	EnvRedeemClaimCooldown  = "REDEEM_CLAIM_COOLDOWN"
	EnvRedeemClaimRateLimit = "REDEEM_CLAIM_RATE_LIMIT"
	EnvRedeemClaimRateBurst = "REDEEM_CLAIM_RATE_BURST"
	EnvRedeemPayoutTimeout  = "REDEEM_PAYOUT_TIMEOUT"
	EnvRedeemAuthMaxAge     = "REDEEM_AUTH_MAX_AGE"
)

type PersistenceType string

const (
	PersistenceTypeMemory  PersistenceType = "memory"
	PersistenceTypeBadger  PersistenceType = "badger"
	PersistenceTypeRedis   PersistenceType = "redis"
	PersistenceTypeLevelDB PersistenceType = "leveldb"
)

type TokenBackend string

const (
	// TokenBackendMemory mints a development supply into the treasury on startup
	TokenBackendMemory TokenBackend = "memory"
	TokenBackendERC20  TokenBackend = "erc20"
)

// Leaf encodings, mirrored from pkg/merkle to keep config free of domain imports
const (
	LeafEncodingPacked     = "packed"
	LeafEncodingEpochBound = "epoch-bound"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
}

// Defaults
const (
	DefaultPort          = 8080
	DefaultChainID       = ChainId_EthereumAnvil
	DefaultDataPath      = "./data/redeem"
	DefaultClaimRate     = 20.0
	DefaultClaimBurst    = 40
	DefaultAuthMaxAge    = 5 * time.Minute
	DefaultPayoutTimeout = 2 * time.Minute
	DefaultDevSupply     = "1000000000000000000000000000"
	DefaultRedisKeyspace = ""
)

type RedisConfig struct {
	Address   string `json:"address" yaml:"address" mapstructure:"address"`
	Password  string `json:"password" yaml:"password" mapstructure:"password"`
	DB        int    `json:"db" yaml:"db" mapstructure:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix" mapstructure:"keyPrefix"`
}

type PersistenceConfig struct {
	Type     PersistenceType `json:"type" yaml:"type" mapstructure:"type"`
	DataPath string          `json:"dataPath" yaml:"dataPath" mapstructure:"dataPath"`
	Redis    RedisConfig     `json:"redis" yaml:"redis" mapstructure:"redis"`
}

type TokenConfig struct {
	Backend    TokenBackend `json:"backend" yaml:"backend" mapstructure:"backend"`
	Address    string       `json:"address" yaml:"address" mapstructure:"address"`
	RpcUrl     string       `json:"rpcUrl" yaml:"rpcUrl" mapstructure:"rpcUrl"`
	PrivateKey string       `json:"privateKey" yaml:"privateKey" mapstructure:"privateKey"`
	// DevSupply is minted to the treasury when Backend is memory
	DevSupply string `json:"devSupply" yaml:"devSupply" mapstructure:"devSupply"`
}

type ClaimsConfig struct {
	// Cooldown delays claims after an epoch is seeded; zero disables the gate
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`
	// RateLimit is claim requests per second across the server; zero disables limiting
	RateLimit float64 `json:"rateLimit" yaml:"rateLimit" mapstructure:"rateLimit"`
	RateBurst int     `json:"rateBurst" yaml:"rateBurst" mapstructure:"rateBurst"`
	// PayoutTimeout bounds one token transfer including its receipt. The ledger
	// lock is held for that long at most.
	PayoutTimeout time.Duration `json:"payoutTimeout" yaml:"payoutTimeout" mapstructure:"payoutTimeout"`
}

// RedeemServerConfig represents the complete configuration for a redeem server
type RedeemServerConfig struct {
	Port int `json:"port" yaml:"port" mapstructure:"port"`

	ChainID   ChainId   `json:"chainId" yaml:"chainId" mapstructure:"chainId"`
	ChainName ChainName `json:"chainName" yaml:"chainName" mapstructure:"chainName"`

	// OwnerAddress becomes the administrator when the ledger has none yet
	OwnerAddress    string `json:"ownerAddress" yaml:"ownerAddress" mapstructure:"ownerAddress"`
	TreasuryAddress string `json:"treasuryAddress" yaml:"treasuryAddress" mapstructure:"treasuryAddress"`
	LeafEncoding    string `json:"leafEncoding" yaml:"leafEncoding" mapstructure:"leafEncoding"`

	// AuthMaxAge bounds the age of signed admin requests
	AuthMaxAge time.Duration `json:"authMaxAge" yaml:"authMaxAge" mapstructure:"authMaxAge"`

	Persistence PersistenceConfig `json:"persistence" yaml:"persistence" mapstructure:"persistence"`
	Token       TokenConfig       `json:"token" yaml:"token" mapstructure:"token"`
	Claims      ClaimsConfig      `json:"claims" yaml:"claims" mapstructure:"claims"`

	Debug          bool `json:"debug" yaml:"debug" mapstructure:"debug"`
	MetricsEnabled bool `json:"metricsEnabled" yaml:"metricsEnabled" mapstructure:"metricsEnabled"`
}

// NewDefaultRedeemServerConfig returns a config suitable for a local devnet.
func NewDefaultRedeemServerConfig() *RedeemServerConfig {
	return &RedeemServerConfig{
		Port:         DefaultPort,
		ChainID:      DefaultChainID,
		LeafEncoding: LeafEncodingPacked,
		AuthMaxAge:   DefaultAuthMaxAge,
		Persistence: PersistenceConfig{
			Type:     PersistenceTypeBadger,
			DataPath: DefaultDataPath,
		},
		Token: TokenConfig{
			Backend:   TokenBackendMemory,
			DevSupply: DefaultDevSupply,
		},
		Claims: ClaimsConfig{
			RateLimit:     DefaultClaimRate,
			RateBurst:     DefaultClaimBurst,
			PayoutTimeout: DefaultPayoutTimeout,
		},
		MetricsEnabled: true,
	}
}

// LoadFile reads a YAML/JSON/TOML config file on top of the defaults.
func LoadFile(path string) (*RedeemServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := NewDefaultRedeemServerConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func validateAddress(path *field.Path, value string, required bool) *field.Error {
	if value == "" {
		if required {
			return field.Required(path, "address is required")
		}
		return nil
	}
	if !common.IsHexAddress(value) {
		return field.Invalid(path, value, "must be a 0x-prefixed 20 byte hex address")
	}
	if common.HexToAddress(value) == (common.Address{}) {
		return field.Invalid(path, value, "must not be the zero address")
	}
	return nil
}

// Validate checks the configuration and fills in derived fields (ChainName).
func (c *RedeemServerConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	chainName, exists := ChainIdToName[c.ChainID]
	if !exists {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("chainId"), c.ChainID, []string{GetSupportedChainIDsString()}))
	} else {
		c.ChainName = chainName
	}

	if err := validateAddress(field.NewPath("ownerAddress"), c.OwnerAddress, false); err != nil {
		allErrors = append(allErrors, err)
	}
	if err := validateAddress(field.NewPath("treasuryAddress"), c.TreasuryAddress, true); err != nil {
		allErrors = append(allErrors, err)
	}

	switch c.LeafEncoding {
	case "", LeafEncodingPacked, LeafEncodingEpochBound:
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("leafEncoding"), c.LeafEncoding,
			[]string{LeafEncodingPacked, LeafEncodingEpochBound}))
	}

	if c.AuthMaxAge < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("authMaxAge"), c.AuthMaxAge.String(), "must not be negative"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)
	allErrors = append(allErrors, c.Token.validate(field.NewPath("token"))...)
	allErrors = append(allErrors, c.Claims.validate(field.NewPath("claims"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func (p *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList

	switch p.Type {
	case PersistenceTypeMemory:
	case PersistenceTypeBadger, PersistenceTypeLevelDB:
		if strings.TrimSpace(p.DataPath) == "" {
			allErrors = append(allErrors, field.Required(path.Child("dataPath"), fmt.Sprintf("dataPath is required for %s", p.Type)))
		}
	case PersistenceTypeRedis:
		if p.Redis.Address == "" {
			allErrors = append(allErrors, field.Required(path.Child("redis", "address"), "address is required for redis"))
		}
		if p.Redis.DB < 0 || p.Redis.DB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redis", "db"), p.Redis.DB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), p.Type, []string{
			string(PersistenceTypeMemory),
			string(PersistenceTypeBadger),
			string(PersistenceTypeRedis),
			string(PersistenceTypeLevelDB),
		}))
	}
	return allErrors
}

func (t *TokenConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList

	switch t.Backend {
	case TokenBackendMemory:
		if t.DevSupply != "" {
			if _, err := types.ParseAmount(t.DevSupply); err != nil {
				allErrors = append(allErrors, field.Invalid(path.Child("devSupply"), t.DevSupply, err.Error()))
			}
		}
	case TokenBackendERC20:
		if err := validateAddress(path.Child("address"), t.Address, true); err != nil {
			allErrors = append(allErrors, err)
		}
		if t.RpcUrl == "" {
			allErrors = append(allErrors, field.Required(path.Child("rpcUrl"), "rpcUrl is required for erc20"))
		}
		if t.PrivateKey == "" {
			allErrors = append(allErrors, field.Required(path.Child("privateKey"), "privateKey is required for erc20"))
		} else if len(strings.TrimPrefix(t.PrivateKey, "0x")) != 64 {
			allErrors = append(allErrors, field.Invalid(path.Child("privateKey"), "<redacted>",
				fmt.Sprintf("must be 32 bytes (64 hex chars), got %d chars", len(strings.TrimPrefix(t.PrivateKey, "0x")))))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("backend"), t.Backend, []string{
			string(TokenBackendMemory),
			string(TokenBackendERC20),
		}))
	}
	return allErrors
}

func (cc *ClaimsConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	if cc.Cooldown < 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("cooldown"), cc.Cooldown.String(), "must not be negative"))
	}
	if cc.RateLimit < 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("rateLimit"), cc.RateLimit, "must not be negative"))
	}
	if cc.RateLimit > 0 && cc.RateBurst < 1 {
		allErrors = append(allErrors, field.Invalid(path.Child("rateBurst"), cc.RateBurst, "must be at least 1 when rateLimit is set"))
	}
	if cc.PayoutTimeout <= 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("payoutTimeout"), cc.PayoutTimeout.String(), "must be positive"))
	}
	return allErrors
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
}
