package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ReconcileTotal counts reconciliation outcomes per entry point.
	ReconcileTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound gateway webhook deliveries by how they ended.
	PaymentWebhookTotal *prometheus.CounterVec
	// FeeLookupTotal counts processor fee lookups on the redirect path.
	FeeLookupTotal *prometheus.CounterVec
	// CheckoutOrderTotal counts checkout order creation attempts.
	CheckoutOrderTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers gateway Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_total",
			Help:      "Count of payment reconciliation outcomes.",
		}, []string{"source", "outcome"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of received payment webhooks by result.",
		}, []string{"event", "result"})
		FeeLookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_fee_lookup_total",
			Help:      "Count of processor fee lookups by result.",
		}, []string{"result"})
		CheckoutOrderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_checkout_order_total",
			Help:      "Count of checkout order creation attempts by result.",
		}, []string{"result"})

		for _, c := range []**prometheus.CounterVec{&ReconcileTotal, &PaymentWebhookTotal, &FeeLookupTotal, &CheckoutOrderTotal} {
			target := c
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}

// Inc increments a counter vector when it has been registered.
func Inc(vec *prometheus.CounterVec, labels ...string) {
	if vec == nil {
		return
	}
	vec.WithLabelValues(labels...).Inc()
}
