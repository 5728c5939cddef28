package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "driver_dispatch"

var (
	OffersBroadcast = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_broadcast_total", Help: "Orders moved into an offering state"})
	OfferBatchSize  = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "offer_batch_size", Help: "Drivers offered per broadcast", Buckets: []float64{1, 2, 3, 5, 8}})
	NoDriversTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "failed_no_drivers_total", Help: "Orders that reached failed_no_drivers"})
	StaleSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "stale_transitions_total", Help: "Transitions dropped because the order moved on before the write"},
		[]string{"operation"},
	)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Offer notification attempts by result"},
		[]string{"result"},
	)
	AcceptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "accepts_total", Help: "Acceptance attempts by outcome"},
		[]string{"outcome"},
	)
	RejectsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rejects_total", Help: "Offers explicitly declined by drivers"})
	ExpiredOffersTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "expired_offers_total", Help: "Orders whose offer window elapsed"})
	SweepDuration      = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "sweep_duration_seconds", Help: "Expiration sweep latency"})
	EventsConsumed     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_events_total", Help: "Order change events handled by result"},
		[]string{"type", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
