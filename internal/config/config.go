package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig ties together every environment-provided setting.
type AppConfig struct {
	Service     ServiceConfig
	Chain       ChainConfig
	Payment     PaymentConfig
	Storage     StorageConfig
	Notify      NotifyConfig
	Marketplace MarketplaceConfig
	Secrets     SecretsConfig
}

type ServiceConfig struct {
	HTTPPort             int
	DatabaseURL          string
	RedisURL             string
	LogLevel             string
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	RevalidateInterval   time.Duration
	RateLimitRPS         int
	RateLimitBurst       int
	PublicURL            string
	SessionTTL           time.Duration
	MaxVisitors          int
	TrustProxy           bool
}

type ChainConfig struct {
	ChainID         int64
	SupportedChains []int64
	RPCURL          string
	WalletRPCURL    string
	PrivateKey      string
	PollInterval    time.Duration
}

// PaymentConfig describes the fixed order transaction.
type PaymentConfig struct {
	Recipient string // hex address or ENS name
	AmountWei string
	Verify    bool
}

type StorageConfig struct {
	IPFSKey      string
	IPFSEndpoint string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
}

type NotifyConfig struct {
	SendGridKey string
	From        string
	To          string
}

type MarketplaceConfig struct {
	APIKey     string
	BaseURL    string
	Collection string
	Limit      int
}

type SecretsConfig struct {
	AdminHMACSecret string
}

const (
	defaultEnvFile    = ".env"
	defaultPaymentWei = "50000000000000000" // 0.05 ETH
)

// Load aggregates configuration from an optional .env file and the environment.
// Nothing is validated beyond parsing; empty keys disable the matching integration.
func Load() (*AppConfig, error) {
	envFile := envOr("ENV_FILE", defaultEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	chainID := int64(envOrInt("CHAIN_ID", 1))
	supported, err := parseChainIDs(envOr("SUPPORTED_CHAIN_IDS", strconv.FormatInt(chainID, 10)))
	if err != nil {
		return nil, fmt.Errorf("parse SUPPORTED_CHAIN_IDS: %w", err)
	}

	return &AppConfig{
		Service: ServiceConfig{
			HTTPPort:             envOrInt("API_HTTP_PORT", 3000),
			DatabaseURL:          envOr("DATABASE_URL", ""),
			RedisURL:             envOr("REDIS_URL", ""),
			LogLevel:             envOr("LOG_LEVEL", "info"),
			HMACClockSkew:        time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			IdempotencyWindow:    time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 86400)) * time.Second,
			IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", ""),
			RevalidateInterval:   time.Duration(envOrInt("REVALIDATE_SECONDS", 30)) * time.Second,
			RateLimitRPS:         envOrInt("RATE_LIMIT_RPS", 5),
			RateLimitBurst:       envOrInt("RATE_LIMIT_BURST", 10),
			PublicURL:            envOr("PUBLIC_URL", "https://potato.anarueda.art"),
			SessionTTL:           time.Duration(envOrInt("SESSION_TTL_SECONDS", 3600)) * time.Second,
			MaxVisitors:          envOrInt("MAX_VISITORS", 10000),
			TrustProxy:           envOrBool("TRUST_PROXY", false),
		},
		Chain: ChainConfig{
			ChainID:         chainID,
			SupportedChains: supported,
			RPCURL:          envOr("CHAIN_RPC_URL", ""),
			WalletRPCURL:    envOr("WALLET_RPC_URL", ""),
			PrivateKey:      envOr("WALLET_PRIVATE_KEY", ""),
			PollInterval:    time.Duration(envOrInt("WALLET_POLL_SECONDS", 4)) * time.Second,
		},
		Payment: PaymentConfig{
			Recipient: envOr("WALLET_ADDRESS", ""),
			AmountWei: envOr("PAYMENT_WEI", defaultPaymentWei),
			Verify:    envOrBool("VERIFY_PAYMENTS", false),
		},
		Storage: StorageConfig{
			IPFSKey:      envOr("IPFS_KEY", ""),
			IPFSEndpoint: envOr("IPFS_ENDPOINT", "https://api.nft.storage"),
			S3Bucket:     envOr("S3_BUCKET", ""),
			S3Region:     envOr("S3_REGION", "us-east-1"),
			S3Endpoint:   envOr("S3_ENDPOINT", ""),
			S3AccessKey:  envOr("S3_ACCESS_KEY", ""),
			S3SecretKey:  envOr("S3_SECRET_KEY", ""),
		},
		Notify: NotifyConfig{
			SendGridKey: envOr("SENDGRID_API_KEY", ""),
			From:        envOr("NOTIFY_FROM", ""),
			To:          envOr("NOTIFY_TO", ""),
		},
		Marketplace: MarketplaceConfig{
			APIKey:     envOr("OPENSEA_KEY", ""),
			BaseURL:    envOr("OPENSEA_URL", "https://api.opensea.io"),
			Collection: envOr("OPENSEA_COLLECTION", "potato-but-cute"),
			Limit:      envOrInt("LISTING_LIMIT", 50),
		},
		Secrets: SecretsConfig{
			AdminHMACSecret: envOr("ADMIN_HMAC_SECRET", ""),
		},
	}, nil
}

func parseChainIDs(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
