package notify

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func samplePayload() *models.EventPayload {
	return &models.EventPayload{
		SignalID:      "sig-1",
		Metric:        models.MetricDenialRate,
		Kind:          models.SignalKindSpike,
		EntityKey:     "payer-aetna",
		BaselineStart: day("2026-08-01"),
		BaselineEnd:   day("2026-08-22"),
		RecentStart:   day("2026-08-22"),
		RecentEnd:     day("2026-08-29"),
		BaselineValue: 0.10,
		RecentValue:   0.60,
		Delta:         0.50,
		Severity:      0.75,
		SeverityLabel: models.SeverityCritical,
		Confidence:    0.75,
		Summary:       "denial rate jumped from 10.0% to 60.0%",
		RuleName:      "denial-spike",
	}
}

func sampleEvent() *models.AlertEvent {
	return &models.AlertEvent{
		ID:          "evt-1",
		Tenant:      "acme",
		SignalType:  "denial_rate_spike",
		EntityLabel: "payer-aetna",
		TriggeredAt: day("2026-08-29").Add(9 * time.Hour),
	}
}

func TestBuildTemplateData(t *testing.T) {
	data := BuildTemplateData(sampleEvent(), samplePayload(), "https://drift.example.com/", nil)

	if data.Product != "claims" {
		t.Errorf("product = %q, want claims", data.Product)
	}
	if data.BaselineValue != "10.0%" || data.RecentValue != "60.0%" || data.Delta != "50.0%" {
		t.Errorf("values = %s/%s/%s", data.BaselineValue, data.RecentValue, data.Delta)
	}
	if data.Confidence != "75%" {
		t.Errorf("confidence = %q, want 75%%", data.Confidence)
	}
	// The recent window is half-open, so the displayed range ends one
	// day before RecentEnd.
	if data.DateRange != "2026-08-22 to 2026-08-28" {
		t.Errorf("date range = %q", data.DateRange)
	}
	if data.Severity != "critical" || data.SeverityColor != "#d32f2f" {
		t.Errorf("severity = %s color %s", data.Severity, data.SeverityColor)
	}
	if data.DeepLink != "https://drift.example.com/events/evt-1" {
		t.Errorf("deep link = %q, trailing slash should be trimmed", data.DeepLink)
	}
}

func TestBuildTemplateData_NoDeepLinkBase(t *testing.T) {
	data := BuildTemplateData(sampleEvent(), samplePayload(), "", nil)
	if data.DeepLink != "" {
		t.Errorf("deep link = %q, want empty without a base url", data.DeepLink)
	}
}

func TestBuildTemplateData_EvidenceCapped(t *testing.T) {
	var evidence []*models.Aggregate
	for i := 0; i < 30; i++ {
		evidence = append(evidence, &models.Aggregate{
			Tenant:       "acme",
			Metric:       models.MetricDenialRate,
			Day:          day("2026-08-01").AddDate(0, 0, i),
			EntityKey:    "payer-aetna",
			TotalCount:   100,
			FlaggedCount: 10,
			Rate:         0.1,
		})
	}

	data := BuildTemplateData(sampleEvent(), samplePayload(), "", evidence)
	if len(data.Evidence) != maxEvidenceRows {
		t.Fatalf("evidence rows = %d, want %d", len(data.Evidence), maxEvidenceRows)
	}
	row := data.Evidence[0]
	if row.Day != "2026-08-01" || row.Value != "10.0%" {
		t.Errorf("row = %+v", row)
	}
}

func TestRenderTemplates(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	data := BuildTemplateData(sampleEvent(), samplePayload(), "https://drift.example.com", nil)

	plain, err := templates.RenderPlain(data)
	if err != nil {
		t.Fatalf("render plain: %v", err)
	}
	for _, want := range []string{"denial-spike", "CRITICAL", "50.0%", "https://drift.example.com/events/evt-1", "evt-1"} {
		if !strings.Contains(plain, want) {
			t.Errorf("plain body missing %q", want)
		}
	}

	html, err := templates.RenderHTML(data)
	if err != nil {
		t.Fatalf("render html: %v", err)
	}
	for _, want := range []string{"denial-spike", "CRITICAL", "#d32f2f", "payer-aetna"} {
		if !strings.Contains(html, want) {
			t.Errorf("html body missing %q", want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		metric models.Metric
		value  float64
		want   string
	}{
		{models.MetricDenialRate, 0.1234, "12.3%"},
		{models.MetricDenialRate, 0, "0.0%"},
		{models.MetricPaymentDelay, 12.34, "12.3 days"},
		{models.MetricPaymentDelay, 3, "3.0 days"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%v", tt.metric, tt.value), func(t *testing.T) {
			if got := formatValue(tt.metric, tt.value); got != tt.want {
				t.Errorf("formatValue = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildMIMEMessage_WithAttachment(t *testing.T) {
	attachment := &Artifact{
		Filename:    "evidence.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 fake"),
	}
	msg := string(buildMIMEMessage("DriftWatch <alerts@example.com>", []string{"oncall@example.com"}, "[CRITICAL] test", "plain", "<p>html</p>", attachment))

	for _, want := range []string{
		"multipart/mixed",
		"multipart/alternative",
		"Content-Disposition: attachment; filename=\"evidence.pdf\"",
		"To: oncall@example.com",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestBuildMIMEMessage_BodyOnly(t *testing.T) {
	msg := string(buildMIMEMessage("alerts@example.com", []string{"a@example.com", "b@example.com"}, "subject", "plain", "<p>html</p>", nil))
	if strings.Contains(msg, "multipart/mixed") {
		t.Error("body-only message should not be multipart/mixed")
	}
	if !strings.Contains(msg, "To: a@example.com, b@example.com") {
		t.Error("recipients not joined in To header")
	}
}

func TestExtractEmail(t *testing.T) {
	if got := extractEmail("DriftWatch <alerts@example.com>"); got != "alerts@example.com" {
		t.Errorf("extractEmail = %q", got)
	}
	if got := extractEmail("alerts@example.com"); got != "alerts@example.com" {
		t.Errorf("extractEmail = %q", got)
	}
}
