package models

import "testing"

func TestLabelForSeverity(t *testing.T) {
	tests := []struct {
		score float64
		want  SeverityLabel
	}{
		{1.0, SeverityCritical},
		{0.75, SeverityCritical},
		{0.74, SeverityHigh},
		{0.65, SeverityHigh},
		{0.5, SeverityMedium},
		{0.49, SeverityLow},
		{0, SeverityLow},
	}
	for _, tt := range tests {
		if got := LabelForSeverity(tt.score); got != tt.want {
			t.Errorf("LabelForSeverity(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestRuleCompare(t *testing.T) {
	tests := []struct {
		op        ThresholdType
		threshold float64
		value     float64
		want      bool
	}{
		{ThresholdGT, 0.5, 0.5, false},
		{ThresholdGT, 0.5, 0.51, true},
		{ThresholdGTE, 0.5, 0.5, true},
		{ThresholdLT, 0.5, 0.5, false},
		{ThresholdLT, 0.5, 0.49, true},
		{ThresholdLTE, 0.5, 0.5, true},
		{ThresholdEQ, 0.5, 0.5, true},
		{ThresholdEQ, 0.5, 0.500001, false},
	}
	for _, tt := range tests {
		r := &AlertRule{ThresholdType: tt.op, ThresholdValue: tt.threshold}
		if got := r.Compare(tt.value); got != tt.want {
			t.Errorf("%s %v against %v = %t, want %t", tt.op, tt.threshold, tt.value, got, tt.want)
		}
	}
}

func TestRuleValidate(t *testing.T) {
	valid := AlertRule{
		Tenant:        "acme",
		Name:          "r",
		Metric:        RuleMetricDelta,
		ThresholdType: ThresholdGTE,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid rule rejected: %v", err)
	}

	for name, mutate := range map[string]func(*AlertRule){
		"missing tenant":     func(r *AlertRule) { r.Tenant = "" },
		"missing name":       func(r *AlertRule) { r.Name = "" },
		"missing metric":     func(r *AlertRule) { r.Metric = "" },
		"bad threshold type": func(r *AlertRule) { r.ThresholdType = "between" },
	} {
		r := valid
		mutate(&r)
		if err := r.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestRuleScopeMatches(t *testing.T) {
	sig := &Signal{
		Metric:    MetricDenialRate,
		Kind:      SignalKindSpike,
		EntityKey: "payer-aetna",
	}

	tests := []struct {
		name  string
		scope RuleScope
		want  bool
	}{
		{"empty scope", RuleScope{}, true},
		{"metric match", RuleScope{Metric: MetricDenialRate}, true},
		{"metric mismatch", RuleScope{Metric: MetricPaymentDelay}, false},
		{"kind match", RuleScope{Kind: SignalKindSpike}, true},
		{"kind mismatch", RuleScope{Kind: SignalKindNewOccurrence}, false},
		{"entity match", RuleScope{EntityKeys: []string{"payer-uhc", "payer-aetna"}}, true},
		{"entity mismatch", RuleScope{EntityKeys: []string{"payer-uhc"}}, false},
		{"all fields", RuleScope{Metric: MetricDenialRate, Kind: SignalKindSpike, EntityKeys: []string{"payer-aetna"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Matches(sig); got != tt.want {
				t.Errorf("Matches = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestSignalType(t *testing.T) {
	s := &Signal{Metric: MetricDenialRate, Kind: SignalKindSpike}
	if got := s.Type(); got != "denial_rate_spike" {
		t.Errorf("Type = %q", got)
	}
	s = &Signal{Metric: MetricPaymentDelay, Kind: SignalKindNewOccurrence}
	if got := s.Type(); got != "payment_delay_new_occurrence" {
		t.Errorf("Type = %q", got)
	}
}

func TestWindowSumValue(t *testing.T) {
	rate := WindowSum{TotalCount: 40, FlaggedCount: 8, AmountSum: 100}
	if got := rate.Value(MetricDenialRate); got != 0.2 {
		t.Errorf("rate value = %v, want 0.2", got)
	}
	mean := WindowSum{TotalCount: 4, FlaggedCount: 0, AmountSum: 50}
	if got := mean.Value(MetricPaymentDelay); got != 12.5 {
		t.Errorf("mean value = %v, want 12.5", got)
	}
	empty := WindowSum{}
	if got := empty.Value(MetricDenialRate); got != 0 {
		t.Errorf("empty value = %v, want 0", got)
	}
}

func TestEndpointAcceptsEvent(t *testing.T) {
	open := &WebhookEndpoint{}
	if !open.AcceptsEvent("anything") {
		t.Error("empty allowlist should accept every event type")
	}
	scoped := &WebhookEndpoint{EventTypes: []string{"alert_event.triggered"}}
	if !scoped.AcceptsEvent("alert_event.triggered") || scoped.AcceptsEvent("test.ping") {
		t.Error("allowlist not enforced")
	}
}

func TestSnapshotPayloadRoundTrip(t *testing.T) {
	sig := &Signal{
		ID:        "sig-1",
		Metric:    MetricDenialRate,
		Kind:      SignalKindSpike,
		EntityKey: "payer-aetna",
		Delta:     0.5,
		Severity:  0.75,
	}
	rule := &AlertRule{Name: "denial-spike"}

	payload, err := SnapshotPayload(sig, rule)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	event := &AlertEvent{Payload: payload}
	decoded, err := event.DecodePayload()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SignalID != "sig-1" || decoded.RuleName != "denial-spike" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.SeverityLabel != SeverityCritical {
		t.Errorf("severity label = %s, want critical", decoded.SeverityLabel)
	}
}

func TestParseHelpers(t *testing.T) {
	if ParseMetric("payment_delay") != MetricPaymentDelay || ParseMetric("denial_rate") != MetricDenialRate {
		t.Error("ParseMetric known values")
	}
	if ParseMetric("bogus") != MetricDenialRate {
		t.Error("ParseMetric should default to denial_rate")
	}
	if ParseVerdict("noise") != VerdictNoise || ParseVerdict("real") != VerdictReal {
		t.Error("ParseVerdict known values")
	}
	if ParseVerdict("dunno") != VerdictNeedsFollowup {
		t.Error("ParseVerdict should default to needs_followup")
	}
}

func TestFlagEnabledIn(t *testing.T) {
	f := &FeatureFlag{EnabledDev: true, EnabledStaging: false, EnabledProd: true}
	tests := []struct {
		env  string
		want bool
	}{
		{"dev", true},
		{"development", true},
		{"staging", false},
		{"production", true},
		{"anything-else", true},
	}
	for _, tt := range tests {
		if got := f.EnabledIn(tt.env); got != tt.want {
			t.Errorf("EnabledIn(%s) = %t, want %t", tt.env, got, tt.want)
		}
	}
}
