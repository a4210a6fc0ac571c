package server

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"formtato/internal/commission"
	"formtato/internal/config"
	"formtato/internal/hmacauth"
	"formtato/internal/idempotency"
	"formtato/internal/listing"
	"formtato/internal/storage"
	"formtato/internal/wallet"
)

// Deps are the collaborators the server is wired with.
type Deps struct {
	Commissions *commission.Service
	Store       idempotency.Store
	Listing     *listing.Page
	Uploader    storage.Uploader
	Wallets     WalletFactory
	Resolver    wallet.Resolver
	Metrics     *Metrics
	Log         logrus.FieldLogger

	// WalletProviders are the provider names offered next to the connect button.
	WalletProviders []string
	// HealthChecks are run by /api/v1/health, keyed by component name.
	HealthChecks    map[string]func(context.Context) error
}

// pageRateMultiplier scales the API rate limit for the browser routes, which
// a page load hits several times.
const pageRateMultiplier = 4

type Server struct {
	cfg         *config.AppConfig
	deps        Deps
	log         logrus.FieldLogger
	metrics     *Metrics
	store       idempotency.Store
	keys        *idempotency.KeyLock
	hmac        *hmacauth.Verifier
	limiter     *clientLimiter
	pageLimiter *clientLimiter
	visitors    *visitorStore
	pages       *pageRenderer
	price       *big.Int
	httpServer  *http.Server

	baseCtx  context.Context
	stop     context.CancelFunc
	sweepers sync.WaitGroup
}

func NewServer(cfg *config.AppConfig, deps Deps) (*Server, error) {
	if deps.Commissions == nil || deps.Wallets == nil || deps.Uploader == nil || deps.Listing == nil {
		return nil, errors.New("server: commissions, wallets, uploader and listing are required")
	}
	price, ok := priceWei(cfg.Payment.AmountWei)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("server: invalid payment amount %q", cfg.Payment.AmountWei)
	}
	pages, err := newPageRenderer()
	if err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Store == nil {
		deps.Store = idempotency.NewMemoryStore()
	}
	if deps.Resolver == nil {
		deps.Resolver = wallet.HexResolver{}
	}

	baseCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.WithField("component", "server"),
		metrics: deps.Metrics,
		store:   deps.Store,
		keys:    idempotency.NewKeyLock(),
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Secrets.AdminHMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		limiter:     newClientLimiter(cfg.Service.RateLimitRPS, cfg.Service.RateLimitBurst),
		pageLimiter: newClientLimiter(pageRateMultiplier*cfg.Service.RateLimitRPS, pageRateMultiplier*cfg.Service.RateLimitBurst),
		pages:       pages,
		price:       price,
		baseCtx:     baseCtx,
		stop:        stop,
	}
	s.hmac.OnReject = func(err error) {
		s.log.WithError(err).Warn("rejected admin request")
	}
	s.visitors = newVisitorStore(s, cfg.Service.SessionTTL, cfg.Service.MaxVisitors)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	if s.cfg.Service.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.pageLimiter.middleware)
		r.Use(s.visitorMiddleware)

		r.Get("/", s.handleIndex)
		r.Route("/order", func(r chi.Router) {
			r.Get("/state", s.handleOrderState)
			r.Post("/connect", s.handleConnect)
			r.Post("/disconnect", s.handleDisconnect)
			r.Post("/details", s.handleDetails)
			r.Post("/fields/{field}/blur", s.handleFieldBlur)
			r.Get("/upload", s.handleUploadStatus)
			r.Post("/upload", s.handleUpload)
			r.Post("/upload/clear", s.handleUploadClear)
			r.Post("/pay", s.handlePay)
			r.Post("/confirm", s.handleConfirm)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.With(s.limiter.middleware).Post("/request", s.handleRequest)
		r.Post("/prepare", s.handlePrepare)
		r.With(s.hmac.Middleware).Post("/admin/commissions/{id}/finish", s.handleFinish)

		r.Get("/v1/health", s.handleHealth)
		r.Method(http.MethodGet, "/v1/metrics", s.metrics.handler())
	})
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.startSweeper()
	s.log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.stop()
	s.sweepers.Wait()
	s.visitors.closeAll()
	return err
}

func (s *Server) startSweeper() {
	s.sweepers.Add(1)
	go func() {
		defer s.sweepers.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-s.baseCtx.Done():
				return
			case now := <-ticker.C:
				if n := s.visitors.evictIdle(now); n > 0 {
					s.log.WithField("evicted", n).Debug("evicted idle visitors")
				}
				s.limiter.sweep()
				s.pageLimiter.sweep()
				if n, err := s.store.Purge(s.baseCtx); err != nil {
					s.log.WithError(err).Warn("purge idempotency records")
				} else if n > 0 {
					s.log.WithField("purged", n).Debug("purged idempotency records")
				}
			}
		}
	}()
}
