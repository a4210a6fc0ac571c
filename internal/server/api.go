package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"formtato/internal/commission"
	"formtato/internal/idempotency"
)

const (
	idempotencyHeader  = "X-Idempotency-Key"
	requestKeyPrefix   = "request:"
	txKeyPrefix        = "tx:"
	textPlain          = "text/plain; charset=utf-8"
	maxRequestBodySize = 64 << 10
)

// handleRequest records a paid commission and answers with its id as text.
// A repeated key, or the same tx hash without a key, replays the first answer.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var payload commission.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		key = payload.TxHash
	}

	rec, replayed, err := s.recordRequest(r.Context(), key, payload)
	if err != nil {
		if errors.Is(err, commission.ErrPaymentUnverified) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "failed to record request", http.StatusInternalServerError)
		return
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.Header().Set("Content-Type", rec.ContentType)
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Response)
}

// recordRequest submits req once per key and once per tx hash. A tx hash
// already recorded under another key replays the first commission id. An
// empty key and hash always submit.
func (s *Server) recordRequest(ctx context.Context, key string, req commission.Request) (*idempotency.Record, bool, error) {
	log := s.log.WithField("tx_hash", req.TxHash)

	if key != "" {
		key = requestKeyPrefix + key
		unlock := s.keys.Lock(key)
		defer unlock()

		existing, err := s.store.Get(ctx, key)
		if err != nil {
			log.WithError(err).Warn("idempotency lookup failed")
		}
		if existing != nil {
			s.metrics.incCommission("replayed")
			return existing, true, nil
		}
	}

	if req.TxHash != "" {
		unlock := s.keys.Lock(txKeyPrefix + req.TxHash)
		defer unlock()
		if rec, ok := s.recordedTx(ctx, key, req.TxHash, log); ok {
			return rec, true, nil
		}
	}

	id, err := s.deps.Commissions.Submit(ctx, req)
	if errors.Is(err, commission.ErrDuplicateTx) {
		if rec, ok := s.recordedTx(ctx, key, req.TxHash, log); ok {
			return rec, true, nil
		}
	}
	if err != nil {
		if errors.Is(err, commission.ErrPaymentUnverified) {
			s.metrics.incCommission("unverified")
		} else {
			s.metrics.incCommission("failed")
		}
		log.WithError(err).Error("record commission")
		return nil, false, err
	}
	s.metrics.incCommission("created")
	s.metrics.unfinished.Inc()

	rec := idempotency.NewRecord(http.StatusOK, textPlain, []byte(strconv.FormatInt(id, 10)), s.cfg.Service.IdempotencyWindow)
	if key != "" {
		if err := s.store.Save(ctx, key, rec); err != nil {
			log.WithError(err).Warn("idempotency save failed")
		}
	}
	return &rec, false, nil
}

// recordedTx replays the commission already recorded for txHash, saving it
// under key so the key replays directly next time.
func (s *Server) recordedTx(ctx context.Context, key, txHash string, log logrus.FieldLogger) (*idempotency.Record, bool) {
	c, err := s.deps.Commissions.FindByTxHash(ctx, txHash)
	if err != nil {
		if !errors.Is(err, commission.ErrNotFound) {
			log.WithError(err).Warn("tx hash lookup failed")
		}
		return nil, false
	}
	s.metrics.incCommission("replayed")
	rec := idempotency.NewRecord(http.StatusOK, textPlain, []byte(strconv.FormatInt(c.ID, 10)), s.cfg.Service.IdempotencyWindow)
	if key != "" {
		if err := s.store.Save(ctx, key, rec); err != nil {
			log.WithError(err).Warn("idempotency save failed")
		}
	}
	return &rec, true
}

// submitterFunc adapts a function to order.Submitter.
type submitterFunc func(ctx context.Context, req commission.Request) (int64, error)

func (f submitterFunc) Submit(ctx context.Context, req commission.Request) (int64, error) {
	return f(ctx, req)
}

// submitForm is the order form's submitter. It shares the /api/request
// idempotency keyed by tx hash.
func (s *Server) submitForm(ctx context.Context, req commission.Request) (int64, error) {
	rec, _, err := s.recordRequest(ctx, req.TxHash, req)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(string(rec.Response), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stored response %q: %w", rec.Response, err)
	}
	return id, nil
}

// handlePrepare echoes the JSON body.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// handleFinish marks a commission delivered. Signed by the operator.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid commission id", http.StatusBadRequest)
		return
	}

	c, err := s.deps.Commissions.Get(r.Context(), id)
	if errors.Is(err, commission.ErrNotFound) {
		http.Error(w, "commission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("commission_id", id).Error("load commission")
		http.Error(w, "failed to load commission", http.StatusInternalServerError)
		return
	}

	if !c.Finished {
		if err := s.deps.Commissions.MarkFinished(r.Context(), id); err != nil {
			s.log.WithError(err).WithField("commission_id", id).Error("finish commission")
			http.Error(w, "failed to finish commission", http.StatusInternalServerError)
			return
		}
		s.metrics.unfinished.Dec()
		c.Finished = true
	}

	s.log.WithFields(logrus.Fields{"commission_id": id, "request_id": r.Header.Get(requestIDHeader)}).Info("admin finished commission")
	writeJSON(w, http.StatusOK, c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
