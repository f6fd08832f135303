package models

import "time"

// RawRecord is one ingested operational record, the unit the aggregator
// rolls up. For denial_rate a record is a claim (Flagged = denied); for
// payment_delay a record is a paid claim with Amount = days to payment.
type RawRecord struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	Metric    Metric    `json:"metric"`
	EntityKey string    `json:"entity_key"`
	Day       time.Time `json:"day"`
	Flagged   bool      `json:"flagged"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Aggregate is the per-entity, per-day rollup of raw records.
type Aggregate struct {
	ID           string    `json:"id"`
	Tenant       string    `json:"tenant"`
	Metric       Metric    `json:"metric"`
	EntityKey    string    `json:"entity_key"`
	Day          time.Time `json:"day"`
	TotalCount   int64     `json:"total_count"`
	FlaggedCount int64     `json:"flagged_count"`
	AmountSum    float64   `json:"amount_sum"`
	Rate         float64   `json:"rate"`
	CreatedAt    time.Time `json:"created_at"`
}

// WindowSum is an Aggregate summed over a window for one entity key.
type WindowSum struct {
	EntityKey    string
	TotalCount   int64
	FlaggedCount int64
	AmountSum    float64
}

// Value returns the comparable metric value for the summed window: the
// flagged rate for rate metrics, the mean amount otherwise. Zero volume
// yields zero.
func (w WindowSum) Value(m Metric) float64 {
	if w.TotalCount == 0 {
		return 0
	}
	if m.Spec().Rate {
		return float64(w.FlaggedCount) / float64(w.TotalCount)
	}
	return w.AmountSum / float64(w.TotalCount)
}
