package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"formtato/internal/chain"
	"formtato/internal/commission"
	"formtato/internal/config"
	"formtato/internal/idempotency"
	"formtato/internal/listing"
	"formtato/internal/logging"
	"formtato/internal/marketplace"
	"formtato/internal/notify"
	"formtato/internal/server"
	"formtato/internal/storage"
	"formtato/internal/wallet"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("formtato server")
	}
}

// run wires the server and blocks until SIGINT or SIGTERM. Errors are
// returned so deferred closes still run.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logging.New(cfg.Service.LogLevel)
	ctx := context.Background()
	checks := map[string]func(context.Context) error{}

	var repo commission.Repository = commission.NewMemoryRepository()
	var store idempotency.Store = idempotency.NewMemoryStore()
	if cfg.Service.DatabaseURL != "" {
		pg, err := commission.NewPostgresRepository(ctx, cfg.Service.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()
		repo = pg
		checks["database"] = pg.Ping

		pgStore, err := idempotency.NewPostgresStore(pg.Pool())
		if err != nil {
			return fmt.Errorf("idempotency store: %w", err)
		}
		store = pgStore
	} else if cfg.Service.IdempotencyStorePath != "" {
		fileStore, err := idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
		if err != nil {
			return fmt.Errorf("idempotency store: %w", err)
		}
		store = fileStore
	}

	var cache wallet.SessionCache = wallet.NewMemoryCache()
	if cfg.Service.RedisURL != "" {
		rc, err := wallet.NewRedisCache(ctx, cfg.Service.RedisURL, cfg.Service.SessionTTL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		cache = rc
		checks["redis"] = rc.Ping
	}

	var (
		resolver wallet.Resolver = wallet.HexResolver{}
		chainCli *ethclient.Client
	)
	if cfg.Chain.RPCURL != "" {
		chainCli, err = chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fmt.Errorf("chain rpc: %w", err)
		}
		defer chainCli.Close()
		ens, err := wallet.NewENSResolver(chainCli, wallet.ENSRegistryAddress)
		if err != nil {
			return fmt.Errorf("ens resolver: %w", err)
		}
		resolver = ens
		checks["rpc"] = func(ctx context.Context) error {
			_, err := chainCli.BlockNumber(ctx)
			return err
		}
	}

	metrics := server.NewMetrics()
	opts := []commission.Option{commission.WithNotifyHook(metrics.ObserveNotification)}
	if cfg.Notify.SendGridKey != "" {
		opts = append(opts, commission.WithNotifier(
			notify.NewSendGridNotifier(cfg.Notify.SendGridKey, cfg.Notify.From, cfg.Notify.To, log),
		))
	} else {
		opts = append(opts, commission.WithNotifier(notify.Nop{}))
	}
	if cfg.Payment.Verify {
		verifier, err := newVerifier(ctx, cfg, chainCli, resolver)
		if err != nil {
			return fmt.Errorf("payment verifier: %w", err)
		}
		opts = append(opts, commission.WithVerifier(verifier))
	}
	commissions := commission.NewService(repo, log, opts...)

	uploader, err := newUploader(ctx, cfg)
	if err != nil {
		return fmt.Errorf("uploader: %w", err)
	}

	market := marketplace.NewClient(cfg.Marketplace.BaseURL, cfg.Marketplace.APIKey, &http.Client{Timeout: 20 * time.Second})
	page := listing.NewPage(market, commissions, listing.Config{
		Collection: cfg.Marketplace.Collection,
		Limit:      cfg.Marketplace.Limit,
		Interval:   cfg.Service.RevalidateInterval,
	}, log)
	page.OnRevalidate = metrics.ObserveRevalidation
	if err := page.Start(ctx); err != nil {
		return fmt.Errorf("listing: %w", err)
	}
	defer page.Stop()

	options := providerOptions(cfg)
	names := make([]string, 0, len(options))
	for _, opt := range options {
		names = append(names, opt.Name)
	}
	if len(options) == 0 {
		log.Warn("no wallet providers configured; visitors cannot connect")
	}

	srv, err := server.NewServer(cfg, server.Deps{
		Commissions: commissions,
		Store:       store,
		Listing:     page,
		Uploader:    uploader,
		Wallets: func(visitorID string) server.VisitorWallet {
			modal := wallet.NewProviderModal(wallet.ModalConfig{
				CacheKey:     "formtato.wallet:" + visitorID,
				Cache:        cache,
				PollInterval: cfg.Chain.PollInterval,
			}, options...)
			return wallet.NewConnector(modal, cfg.Chain.SupportedChains, log.WithField("visitor", visitorID))
		},
		Resolver:        resolver,
		Metrics:         metrics,
		Log:             log,
		WalletProviders: names,
		HealthChecks:    checks,
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	var listenErr error
	select {
	case <-ch:
	case err, ok := <-serveErr:
		if ok {
			listenErr = fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	return listenErr
}

// providerOptions are the wallets a visitor may connect: a node-managed
// account over JSON-RPC and a local development key.
func providerOptions(cfg *config.AppConfig) []wallet.ProviderOption {
	var out []wallet.ProviderOption
	if url := cfg.Chain.WalletRPCURL; url != "" {
		out = append(out, wallet.ProviderOption{
			Name:        "rpc",
			Description: "Accounts unlocked on a JSON-RPC node",
			Open: func(ctx context.Context) (wallet.Provider, error) {
				p, err := wallet.DialRPCProvider(ctx, url)
				if err != nil {
					return nil, err
				}
				return p, nil
			},
		})
	}
	if key := cfg.Chain.PrivateKey; key != "" && cfg.Chain.RPCURL != "" {
		rpcURL := cfg.Chain.RPCURL
		out = append(out, wallet.ProviderOption{
			Name:        "key",
			Description: "Development key signing through the chain node",
			Open: func(ctx context.Context) (wallet.Provider, error) {
				cli, err := chain.Dial(ctx, rpcURL)
				if err != nil {
					return nil, err
				}
				p, err := wallet.NewKeyProvider(cli, key, cli.Close)
				if err != nil {
					cli.Close()
					return nil, err
				}
				return p, nil
			},
		})
	}
	return out
}

func newVerifier(ctx context.Context, cfg *config.AppConfig, cli *ethclient.Client, resolver wallet.Resolver) (*chain.Verifier, error) {
	if cli == nil {
		return nil, errors.New("VERIFY_PAYMENTS needs CHAIN_RPC_URL")
	}
	recipient, err := resolver.Resolve(ctx, cfg.Payment.Recipient)
	if err != nil {
		return nil, err
	}
	price, ok := new(big.Int).SetString(cfg.Payment.AmountWei, 10)
	if !ok {
		return nil, errors.New("invalid PAYMENT_WEI")
	}
	return chain.NewVerifier(cli, recipient, price), nil
}

func newUploader(ctx context.Context, cfg *config.AppConfig) (storage.Uploader, error) {
	if cfg.Storage.S3Bucket != "" {
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	return storage.NewNFTStorage(cfg.Storage.IPFSEndpoint, cfg.Storage.IPFSKey, &http.Client{Timeout: time.Minute}), nil
}
