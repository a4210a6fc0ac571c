package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"formtato/internal/order"
	"formtato/internal/wallet"
)

const sessionCookie = "formtato.session"

const visitorKey ctxKey = 0

// VisitorWallet is one visitor's wallet connection.
type VisitorWallet interface {
	order.Connector
	order.Payer
	IsAuthorized() bool
	Close()
}

var _ VisitorWallet = (*wallet.Connector)(nil)

// WalletFactory builds the wallet connection for a visitor id. The id keys
// the cached provider choice, so the same id may resume a connection.
type WalletFactory func(visitorID string) VisitorWallet

// visitor is the server-side page state of one browser session.
type visitor struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	wallet  VisitorWallet
	state   *order.WalletState
	connect *order.ConnectControl
	form    *order.Form
	upload  *order.UploadControl
	review  *order.ReviewStep

	mu       sync.Mutex
	alerts   []string
	lastSeen time.Time
}

func (v *visitor) alert(msg string) {
	v.mu.Lock()
	v.alerts = append(v.alerts, msg)
	v.mu.Unlock()
}

func (v *visitor) takeAlerts() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.alerts
	v.alerts = nil
	return out
}

func (v *visitor) touch(now time.Time) {
	v.mu.Lock()
	v.lastSeen = now
	v.mu.Unlock()
}

func (v *visitor) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

// busy reports work that must not be cut off by eviction.
func (v *visitor) busy() bool {
	return v.upload.Uploading() || v.review.Status() == order.PaymentPending
}

func (v *visitor) close() {
	v.state.Close()
	v.wallet.Close()
	v.cancel()
}

// errVisitorsFull means every held visitor is mid-upload or mid-payment.
var errVisitorsFull = errors.New("visitor store full")

type visitorStore struct {
	s   *Server
	ttl time.Duration
	max int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newVisitorStore(s *Server, ttl time.Duration, limit int) *visitorStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if limit <= 0 {
		limit = 10000
	}
	return &visitorStore{s: s, ttl: ttl, max: limit, visitors: make(map[string]*visitor)}
}

// get returns the visitor for id, creating it when unknown. created reports
// a new in-memory visitor. A full store gives up its least recently seen
// idle visitor.
func (vs *visitorStore) get(id string) (v *visitor, created bool, err error) {
	vs.mu.Lock()
	if v, ok := vs.visitors[id]; ok {
		vs.mu.Unlock()
		return v, false, nil
	}
	var evicted *visitor
	if len(vs.visitors) >= vs.max {
		evicted = vs.oldestIdleLocked()
		if evicted == nil {
			vs.mu.Unlock()
			return nil, false, errVisitorsFull
		}
		delete(vs.visitors, evicted.id)
	}
	v = vs.s.newVisitor(id)
	vs.visitors[id] = v
	vs.s.metrics.setVisitors(len(vs.visitors))
	vs.mu.Unlock()

	if evicted != nil {
		evicted.close()
	}
	return v, true, nil
}

func (vs *visitorStore) oldestIdleLocked() *visitor {
	var oldest *visitor
	for _, v := range vs.visitors {
		if v.busy() {
			continue
		}
		if oldest == nil || v.idleSince().Before(oldest.idleSince()) {
			oldest = v
		}
	}
	return oldest
}

func (vs *visitorStore) len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.visitors)
}

// evictIdle closes visitors idle past the TTL.
func (vs *visitorStore) evictIdle(now time.Time) int {
	vs.mu.Lock()
	var stale []*visitor
	for id, v := range vs.visitors {
		if now.Sub(v.idleSince()) > vs.ttl && !v.busy() {
			stale = append(stale, v)
			delete(vs.visitors, id)
		}
	}
	vs.s.metrics.setVisitors(len(vs.visitors))
	vs.mu.Unlock()

	for _, v := range stale {
		v.close()
	}
	return len(stale)
}

func (vs *visitorStore) closeAll() {
	vs.mu.Lock()
	all := vs.visitors
	vs.visitors = make(map[string]*visitor)
	vs.mu.Unlock()
	for _, v := range all {
		v.close()
	}
}

func (s *Server) newVisitor(id string) *visitor {
	log := s.log.WithField("visitor", id)
	ctx, cancel := context.WithCancel(s.baseCtx)

	w := s.deps.Wallets(id)
	v := &visitor{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		wallet:   w,
		state:    order.WatchWallet(w),
		connect:  order.NewConnectControl(w),
		form:     order.NewForm(submitterFunc(s.submitForm)),
		upload:   order.NewUploadControl(s.deps.Uploader, log),
		lastSeen: time.Now(),
	}
	v.review = order.NewReviewStep(w, s.deps.Resolver, s.cfg.Payment.Recipient, s.price, log)

	v.upload.OnFileLoad = func(f *order.File) {
		name := ""
		if f != nil {
			name = f.Name
		}
		v.form.SetInspirationFileName(name)
	}
	v.upload.OnChange = v.form.SetInspirationURI
	v.upload.OnUpload = s.metrics.ObserveUpload

	v.review.OnAlert = v.alert
	v.review.OnTransaction = func(ctx context.Context, hash string) {
		if _, err := v.form.Confirm(ctx, hash); err != nil {
			log.WithError(err).WithField("tx_hash", hash).Error("record paid order")
			v.alert("Your payment went through but the order could not be saved yet. Please retry.")
		}
	}

	v.state.Observe(func(session wallet.Session) {
		log.WithFields(logrus.Fields{
			"connected": session.Connected,
			"address":   session.Address.Hex(),
			"chain_id":  session.Chain.ID,
		}).Debug("wallet session changed")
	})
	return v
}

// resume reconnects silently when the visitor picked a provider before.
func (s *Server) resume(v *visitor) {
	if !v.wallet.IsAuthorized() {
		return
	}
	ctx, cancel := context.WithTimeout(v.ctx, 10*time.Second)
	defer cancel()
	if _, err := v.wallet.Connect(ctx); err != nil {
		s.log.WithError(err).WithField("visitor", v.id).Debug("silent reconnect failed")
		return
	}
	v.state.Refresh()
}

// visitorMiddleware attaches the visitor for the session cookie, issuing a
// new cookie when missing. A first read without a cookie is served by a
// throwaway visitor; only requests carrying the cookie are held.
func (s *Server) visitorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(sessionCookie); err == nil {
			if _, perr := uuid.Parse(c.Value); perr == nil {
				id = c.Value
			}
		}
		resumed := id != ""
		if id == "" {
			id = uuid.NewString()
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(s.visitors.ttl / time.Second),
		})

		if !resumed && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			v := s.newVisitor(id)
			defer v.close()
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), visitorKey, v)))
			return
		}

		v, created, err := s.visitors.get(id)
		if err != nil {
			s.log.WithError(err).Warn("rejecting new visitor")
			w.Header().Set("Retry-After", "60")
			http.Error(w, "too many visitors", http.StatusServiceUnavailable)
			return
		}
		if created && resumed {
			s.resume(v)
		}
		v.touch(time.Now())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), visitorKey, v)))
	})
}

func visitorFrom(r *http.Request) *visitor {
	v, _ := r.Context().Value(visitorKey).(*visitor)
	return v
}

// priceWei parses the configured amount.
func priceWei(raw string) (*big.Int, bool) {
	return new(big.Int).SetString(raw, 10)
}
