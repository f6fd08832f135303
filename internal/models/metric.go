package models

// Metric identifies an operational metric tracked per entity.
type Metric string

const (
	// MetricDenialRate is the share of claims denied by a payer.
	MetricDenialRate Metric = "denial_rate"
	// MetricPaymentDelay is the mean days between submission and payment.
	MetricPaymentDelay Metric = "payment_delay"
)

// MetricSpec holds the detection defaults for a metric. Each field can be
// overridden by configuration; these are the fallbacks when the config is
// silent.
type MetricSpec struct {
	// RecentWindowDays is the width of the recent comparison window.
	RecentWindowDays int
	// BaselineWindowDays is the width of the baseline window, which ends
	// where the recent window begins.
	BaselineWindowDays int
	// MinVolume is the minimum record count per window; below it no signal
	// is produced.
	MinVolume int
	// Rate marks metrics whose value is flagged/total rather than a mean
	// amount. Rate metrics also get a relative-delta test.
	Rate bool
	// AbsoluteFloor is the minimum absolute delta for a spike.
	AbsoluteFloor float64
}

// Spec returns the built-in defaults for the metric.
func (m Metric) Spec() MetricSpec {
	switch m {
	case MetricPaymentDelay:
		return MetricSpec{
			RecentWindowDays:   14,
			BaselineWindowDays: 60,
			MinVolume:          30,
			Rate:               false,
			AbsoluteFloor:      2.0,
		}
	default: // denial_rate and any future rate metric
		return MetricSpec{
			RecentWindowDays:   7,
			BaselineWindowDays: 21,
			MinVolume:          10,
			Rate:               true,
			AbsoluteFloor:      0.05,
		}
	}
}

// Category returns the business area the metric belongs to. It is the
// first element of the suppression identity triple.
func (m Metric) Category() string {
	switch m {
	case MetricPaymentDelay:
		return "payments"
	default:
		return "claims"
	}
}

// ParseMetric converts a string to Metric.
func ParseMetric(s string) Metric {
	switch s {
	case "payment_delay":
		return MetricPaymentDelay
	default:
		return MetricDenialRate
	}
}
