package commission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

var ErrPaymentUnverified = errors.New("payment not verified")

// Request is the finalized submission. Fields are stored as received.
type Request struct {
	Name            string  `json:"name"`
	TwitterUsername string  `json:"twitterUsername"`
	TxHash          string  `json:"txHash"`
	InspirationURI  *string `json:"inspirationURI"`
	WalletAddress   *string `json:"walletAddress,omitempty"`
}

type Notifier interface {
	NotifyCommission(ctx context.Context, c Commission) error
}

// PaymentVerifier checks a payment transaction on chain before it is recorded.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, txHash string) error
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithVerifier(v PaymentVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithNotifyHook observes every notification attempt; err is nil on success.
func WithNotifyHook(fn func(err error)) Option {
	return func(s *Service) { s.onNotify = fn }
}

type Service struct {
	repo     Repository
	notifier Notifier
	verifier PaymentVerifier
	onNotify func(error)
	log      logrus.FieldLogger
}

func NewService(repo Repository, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{repo: repo, log: log.WithField("component", "commission")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records the commission and then sends the notification email. The
// two steps are independent: a failed email is logged and does not change
// the returned id.
func (s *Service) Submit(ctx context.Context, req Request) (int64, error) {
	if s.verifier != nil {
		if err := s.verifier.VerifyPayment(ctx, req.TxHash); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrPaymentUnverified, err)
		}
	}

	c, err := s.repo.Create(ctx, Commission{
		Name:            req.Name,
		TwitterUsername: req.TwitterUsername,
		TxHash:          req.TxHash,
		InspirationURI:  emptyToNil(req.InspirationURI),
		WalletAddress:   emptyToNil(req.WalletAddress),
	})
	if err != nil {
		return 0, fmt.Errorf("create commission: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"commission_id": c.ID, "tx_hash": c.TxHash})
	log.Info("commission recorded")

	if s.notifier != nil {
		err := s.notifier.NotifyCommission(ctx, c)
		if err != nil {
			log.WithError(err).Warn("commission notification failed")
		}
		if s.onNotify != nil {
			s.onNotify(err)
		}
	}
	return c.ID, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Commission, error) {
	return s.repo.Get(ctx, id)
}

// FindByTxHash returns the commission already paid for by txHash.
func (s *Service) FindByTxHash(ctx context.Context, txHash string) (*Commission, error) {
	return s.repo.GetByTxHash(ctx, txHash)
}

func (s *Service) CountUnfinished(ctx context.Context) (int, error) {
	return s.repo.CountUnfinished(ctx)
}

func (s *Service) MarkFinished(ctx context.Context, id int64) error {
	if err := s.repo.MarkFinished(ctx, id); err != nil {
		return err
	}
	s.log.WithField("commission_id", id).Info("commission finished")
	return nil
}

func emptyToNil(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return v
}
