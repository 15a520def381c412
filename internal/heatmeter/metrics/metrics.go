// Package metrics provides observability for the heatmeter verification
// module: claim activity, challenge outcomes, and engine latencies.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ClaimsCreated     prometheus.Counter
	OTPSent           prometheus.Counter
	OTPVerifyOutcomes *prometheus.CounterVec
	InvoiceOutcomes   *prometheus.CounterVec
	SMSFailures       prometheus.Counter
	OCRFailures       prometheus.Counter
	OTPVerifyDuration prometheus.Histogram
	UploadDuration    prometheus.Histogram
}

// New creates a Metrics instance with all heatmeter module metrics
// registered on the default registry.
func New() *Metrics {
	return &Metrics{
		ClaimsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "selfcare_heatmeter_claims_created_total",
			Help: "Total number of heatmeter claims created",
		}),
		OTPSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "selfcare_otp_sent_total",
			Help: "Total number of OTP challenges dispatched (send and resend)",
		}),
		OTPVerifyOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "selfcare_otp_verify_total",
			Help: "OTP verify calls by outcome",
		}, []string{"result"}),
		InvoiceOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "selfcare_invoice_uploads_total",
			Help: "Invoice uploads by outcome",
		}, []string{"outcome"}),
		SMSFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "selfcare_sms_delivery_failures_total",
			Help: "OTP messages the SMS gateway failed to deliver",
		}),
		OCRFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "selfcare_ocr_failures_total",
			Help: "Invoice uploads where OCR extraction hard-failed",
		}),
		OTPVerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "selfcare_otp_verify_duration_seconds",
			Help:    "Duration of OTP verify operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		UploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "selfcare_invoice_upload_duration_seconds",
			Help:    "Duration of invoice upload operations (storage + OCR)",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncrementClaimsCreated() {
	if m == nil {
		return
	}
	m.ClaimsCreated.Inc()
}

func (m *Metrics) IncrementOTPSent() {
	if m == nil {
		return
	}
	m.OTPSent.Inc()
}

func (m *Metrics) ObserveOTPVerify(result string, start time.Time) {
	if m == nil {
		return
	}
	m.OTPVerifyOutcomes.WithLabelValues(result).Inc()
	m.OTPVerifyDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveUpload(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.InvoiceOutcomes.WithLabelValues(outcome).Inc()
	m.UploadDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementSMSFailures() {
	if m == nil {
		return
	}
	m.SMSFailures.Inc()
}

func (m *Metrics) IncrementOCRFailures() {
	if m == nil {
		return
	}
	m.OCRFailures.Inc()
}
