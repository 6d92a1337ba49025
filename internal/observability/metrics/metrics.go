package metrics

import "github.com/prometheus/client_golang/prometheus"

const defaultService = "accountd"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)

	accountTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_transitions_total",
			Help: "Lifecycle operations by flow (register, activate, reset, ...) and result.",
		},
		[]string{"service", "flow", "result"},
	)

	authLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Total number of login attempts.",
		},
		[]string{"service", "result"},
	)

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of bearer tokens issued.",
		},
		[]string{"service", "flow", "result"},
	)

	emailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_emails_total",
			Help: "Email notifications by template and stage (rendered, delivered, failed, dropped).",
		},
		[]string{"service", "template", "stage"},
	)

	imagesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "images_ingested_total",
			Help: "Image uploads by result.",
		},
		[]string{"service", "result"},
	)
)

// Curried views used by the rest of the service. They work unregistered,
// which keeps tests free of registry setup.
var (
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	AccountTransitionsTotal    *prometheus.CounterVec
	AuthLoginsTotal            *prometheus.CounterVec
	TokensIssuedTotal          *prometheus.CounterVec
	EmailsTotal                *prometheus.CounterVec
	ImagesIngestedTotal        *prometheus.CounterVec
)

func init() { curry(defaultService) }

func curry(serviceName string) {
	labels := prometheus.Labels{"service": serviceName}
	HTTPRequestsTotal = httpRequestsTotal.MustCurryWith(labels)
	HTTPRequestDurationSeconds = httpRequestDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec)
	AccountTransitionsTotal = accountTransitionsTotal.MustCurryWith(labels)
	AuthLoginsTotal = authLoginsTotal.MustCurryWith(labels)
	TokensIssuedTotal = tokensIssuedTotal.MustCurryWith(labels)
	EmailsTotal = emailsTotal.MustCurryWith(labels)
	ImagesIngestedTotal = imagesIngestedTotal.MustCurryWith(labels)
}

// MustRegister labels every series with serviceName and registers the
// collectors with the default registry. Call once at startup.
func MustRegister(serviceName string) {
	curry(serviceName)
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		accountTransitionsTotal,
		authLoginsTotal,
		tokensIssuedTotal,
		emailsTotal,
		imagesIngestedTotal,
	)
}

func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
