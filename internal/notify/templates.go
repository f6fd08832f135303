package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/good-yellow-bee/driftwatch/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// maxEvidenceRows caps the aggregate rows embedded in a notification.
const maxEvidenceRows = 20

// Templates holds parsed notification templates.
type Templates struct {
	html  *template.Template
	plain *template.Template
}

// EvidenceRow is one aggregate row shown as supporting evidence.
type EvidenceRow struct {
	Day          string
	EntityKey    string
	TotalCount   int64
	FlaggedCount int64
	Value        string
}

// TemplateData is the shared evidence payload rendered into every
// notification body.
type TemplateData struct {
	Product       string
	Tenant        string
	RuleName      string
	SignalType    string
	EntityLabel   string
	DateRange     string
	BaselineValue string
	RecentValue   string
	Delta         string
	Severity      string
	SeverityColor string
	SeverityScore float64
	Confidence    string
	Summary       string
	DeepLink      string
	EventID       string
	TriggeredAt   string
	Evidence      []EvidenceRow
}

// LoadTemplates parses the embedded notification templates.
func LoadTemplates() (*Templates, error) {
	funcs := template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}

	htmlTmpl, err := template.New("alert.html").Funcs(funcs).ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("alert.txt").Funcs(funcs).ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{html: htmlTmpl, plain: plainTmpl}, nil
}

// RenderHTML renders the HTML notification body.
func (t *Templates) RenderHTML(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text notification body.
func (t *Templates) RenderPlain(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildTemplateData assembles the evidence payload for an event from its
// frozen signal snapshot and the evidence rows supplied by the caller.
func BuildTemplateData(event *models.AlertEvent, payload *models.EventPayload, deepLinkBase string, evidence []*models.Aggregate) *TemplateData {
	data := &TemplateData{
		Product:       payload.Metric.Category(),
		Tenant:        event.Tenant,
		RuleName:      payload.RuleName,
		SignalType:    event.SignalType,
		EntityLabel:   event.EntityLabel,
		DateRange:     formatRange(payload.RecentStart, payload.RecentEnd),
		BaselineValue: formatValue(payload.Metric, payload.BaselineValue),
		RecentValue:   formatValue(payload.Metric, payload.RecentValue),
		Delta:         formatValue(payload.Metric, payload.Delta),
		Severity:      string(payload.SeverityLabel),
		SeverityColor: severityColor(string(payload.SeverityLabel)),
		SeverityScore: payload.Severity,
		Confidence:    fmt.Sprintf("%.0f%%", payload.Confidence*100),
		Summary:       payload.Summary,
		EventID:       event.ID,
		TriggeredAt:   event.TriggeredAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	}
	if deepLinkBase != "" {
		data.DeepLink = fmt.Sprintf("%s/events/%s", strings.TrimRight(deepLinkBase, "/"), event.ID)
	}

	if len(evidence) > maxEvidenceRows {
		evidence = evidence[:maxEvidenceRows]
	}
	for _, agg := range evidence {
		data.Evidence = append(data.Evidence, EvidenceRow{
			Day:          agg.Day.Format("2006-01-02"),
			EntityKey:    agg.EntityKey,
			TotalCount:   agg.TotalCount,
			FlaggedCount: agg.FlaggedCount,
			Value:        formatValue(payload.Metric, agg.Rate),
		})
	}
	return data
}

func formatRange(start, end time.Time) string {
	// The recent window is half-open; the last included day is end-1d.
	last := end.AddDate(0, 0, -1)
	return fmt.Sprintf("%s to %s", start.Format("2006-01-02"), last.Format("2006-01-02"))
}

func formatValue(m models.Metric, v float64) string {
	if m.Spec().Rate {
		return fmt.Sprintf("%.1f%%", v*100)
	}
	return fmt.Sprintf("%.1f days", v)
}

// severityColor maps a severity label to a display color.
func severityColor(label string) string {
	switch label {
	case string(models.SeverityCritical):
		return "#d32f2f"
	case string(models.SeverityHigh):
		return "#f57c00"
	case string(models.SeverityMedium):
		return "#fbc02d"
	case string(models.SeverityLow):
		return "#388e3c"
	default:
		return "#757575"
	}
}
