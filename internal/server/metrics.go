package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"formtato/internal/listing"
)

// Metrics is created before the server so the commission service and the
// listing page can report into it.
type Metrics struct {
	registry           *prometheus.Registry
	commissionsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	paymentsTotal      *prometheus.CounterVec
	uploadsTotal       *prometheus.CounterVec
	revalidationsTotal *prometheus.CounterVec
	unfinished         prometheus.Gauge
	visitors           prometheus.Gauge
}

func NewMetrics() *Metrics {
	commissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formtato_commissions_total",
		Help: "Commission requests by outcome",
	}, []string{"status"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formtato_notifications_total",
		Help: "Notification emails by outcome",
	}, []string{"status"})

	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formtato_payments_total",
		Help: "Payment transactions requested from visitor wallets",
	}, []string{"result"})

	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formtato_uploads_total",
		Help: "Inspiration uploads by outcome",
	}, []string{"result"})

	revalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formtato_listing_revalidations_total",
		Help: "Listing page revalidations by outcome",
	}, []string{"result"})

	unfinished := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formtato_unfinished_commissions",
		Help: "Commissions not yet marked finished",
	})

	visitors := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formtato_active_visitors",
		Help: "Visitor sessions held in memory",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(commissions, notifications, payments, uploads, revalidations, unfinished, visitors)

	return &Metrics{
		registry:           r,
		commissionsTotal:   commissions,
		notificationsTotal: notifications,
		paymentsTotal:      payments,
		uploadsTotal:       uploads,
		revalidationsTotal: revalidations,
		unfinished:         unfinished,
		visitors:           visitors,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) incCommission(status string) {
	m.commissionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) incPayment(result string) {
	m.paymentsTotal.WithLabelValues(result).Inc()
}

// ObserveNotification is a commission.WithNotifyHook callback.
func (m *Metrics) ObserveNotification(err error) {
	m.notificationsTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveUpload is an order.UploadControl OnUpload callback.
func (m *Metrics) ObserveUpload(err error) {
	m.uploadsTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveRevalidation is a listing.Page OnRevalidate callback.
func (m *Metrics) ObserveRevalidation(snap listing.Snapshot, err error) {
	m.revalidationsTotal.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		m.unfinished.Set(float64(snap.Unfinished))
	}
}

func (m *Metrics) setVisitors(n int) {
	m.visitors.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
