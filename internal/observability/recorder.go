package observability

import (
	"strconv"
	"time"

	"github.com/jkaninda/echoservice/internal/credential"
	"github.com/jkaninda/echoservice/internal/verify"
)

// Recorder feeds verification and credential events into metrics and the
// failure-rate detector. Either may be nil.
type Recorder struct {
	metrics  *MetricsCollector
	detector *FailureRateDetector
}

// NewRecorder creates a Recorder.
func NewRecorder(metrics *MetricsCollector, detector *FailureRateDetector) *Recorder {
	return &Recorder{metrics: metrics, detector: detector}
}

// VerificationCompleted implements verify.Observer.
func (r *Recorder) VerificationCompleted(kind string, success bool, class string, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	if r.metrics != nil {
		r.metrics.VerificationsTotal.WithLabelValues(kind, result, class).Inc()
		r.metrics.VerificationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
	if r.detector.Record(kind, success) && r.metrics != nil {
		r.metrics.FailureRateAlerts.WithLabelValues(kind).Inc()
	}
}

// CredentialResolved implements credential.Observer.
func (r *Recorder) CredentialResolved(mechanism string) {
	if r.metrics != nil {
		r.metrics.CredentialResolutionsTotal.WithLabelValues(mechanism).Inc()
	}
}

var (
	_ verify.Observer     = (*Recorder)(nil)
	_ credential.Observer = (*Recorder)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
