package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentInitiateTotal counts payment initiation outcomes against the gateway.
	PaymentInitiateTotal *prometheus.CounterVec
	// PaymentStatusProbeTotal counts status probe attempts per endpoint shape.
	PaymentStatusProbeTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// CartCompletionTotal counts downstream cart finalization outcomes.
	CartCompletionTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentInitiateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_initiate_total",
			Help:      "Count of payment initiation outcomes.",
		}, []string{"env", "result"})
		PaymentStatusProbeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_status_probe_total",
			Help:      "Count of status probe attempts by endpoint shape and outcome.",
		}, []string{"endpoint", "outcome"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"result"})
		CartCompletionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_completion_total",
			Help:      "Count of downstream cart completion outcomes.",
		}, []string{"result"})

		reg.MustRegister(PaymentInitiateTotal, PaymentStatusProbeTotal, PaymentWebhookTotal, CartCompletionTotal)
	})
}
