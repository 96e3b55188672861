package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/good-yellow-bee/stockalert/internal/alerting"
	"github.com/good-yellow-bee/stockalert/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// MaxMessageLength is the rendered message cap, in characters.
const MaxMessageLength = 1600

const maxListedProducts = 5

// Templates holds the parsed per-kind message templates.
type Templates struct {
	text *template.Template
	html *htmltemplate.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	Channel         models.Channel
	RuleName        string
	Kind            models.RuleKind
	Severity        string
	Message         string
	FiredAt         string
	ProductCount    int
	ProductNames    []string
	Remaining       int
	ServiceRate     float64
	Threshold       float64
	TotalOrders     int
	DeliveredOrders int
	WindowDays      int
	Test            bool
}

// Bold emphasizes s in the channel's markup. Email bodies are plain text.
func (d *TemplateData) Bold(s string) string {
	switch d.Channel {
	case models.ChannelWhatsApp, models.ChannelSlack:
		return "*" + s + "*"
	default:
		return s
	}
}

// Italic renders s in italics where the channel supports it.
func (d *TemplateData) Italic(s string) string {
	switch d.Channel {
	case models.ChannelWhatsApp, models.ChannelSlack:
		return "_" + s + "_"
	default:
		return s
	}
}

type htmlData struct {
	RuleName      string
	Severity      string
	SeverityColor htmltemplate.CSS
	FiredAt       string
	Body          string
}

// LoadTemplates loads the embedded templates.
func LoadTemplates() (*Templates, error) {
	textTmpl, err := template.New("messages").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}

	htmlTmpl, err := htmltemplate.New("email.html").ParseFS(templateFS, "templates/email.html")
	if err != nil {
		return nil, err
	}

	return &Templates{
		text: textTmpl,
		html: htmlTmpl,
	}, nil
}

// NewTemplateData builds template data for one channel from a recorded event.
func NewTemplateData(rule *models.AlertRule, event *models.AlertEvent, ch models.Channel) *TemplateData {
	d := event.Details
	data := &TemplateData{
		Channel:         ch,
		RuleName:        rule.Name,
		Kind:            event.Kind,
		Severity:        string(event.Severity),
		Message:         event.Message,
		FiredAt:         event.FiredAt.UTC().Format("2006-01-02 15:04:05 MST"),
		ProductCount:    d.ProductCount,
		TotalOrders:     d.TotalOrders,
		DeliveredOrders: d.DeliveredOrders,
		WindowDays:      alerting.ServiceWindowDays,
		Test:            d.Test,
	}
	if d.Test && d.Note != "" {
		data.Message = d.Note
	}

	names := d.ProductNames
	if data.ProductCount == 0 {
		data.ProductCount = len(names)
	}
	if len(names) > maxListedProducts {
		names = names[:maxListedProducts]
	}
	data.ProductNames = names
	if rest := data.ProductCount - len(names); rest > 0 {
		data.Remaining = rest
	}

	if d.ServiceRate != nil {
		data.ServiceRate = *d.ServiceRate
	}
	data.Threshold = alerting.DefaultServiceThreshold
	if d.Threshold != nil {
		data.Threshold = *d.Threshold
	}
	return data
}

// Render renders the message body for data's kind and channel, capped at MaxMessageLength.
func (t *Templates) Render(data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.text.ExecuteTemplate(&buf, templateName(data), data); err != nil {
		return "", err
	}
	return Truncate(strings.TrimSpace(buf.String()), MaxMessageLength), nil
}

// RenderHTML wraps a rendered body in the HTML email layout. The body is capped at
// MaxMessageLength; the layout markup around it is not counted.
func (t *Templates) RenderHTML(data *TemplateData, body string) (string, error) {
	body = Truncate(body, MaxMessageLength)
	var buf bytes.Buffer
	err := t.html.Execute(&buf, htmlData{
		RuleName:      data.RuleName,
		Severity:      data.Severity,
		SeverityColor: htmltemplate.CSS(severityColor(models.Severity(data.Severity))),
		FiredAt:       data.FiredAt,
		Body:          body,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func templateName(data *TemplateData) string {
	if data.Test {
		return "test.tmpl"
	}
	switch data.Kind {
	case models.KindStockOutage:
		return "stock_outage.tmpl"
	case models.KindLowStock:
		return "low_stock.tmpl"
	case models.KindServiceLevel:
		return "service_level.tmpl"
	default:
		return "generic.tmpl"
	}
}

// Truncate caps s at limit characters, ending with "..." when cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-3]) + "..."
}

// severityColor returns the color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityHigh:
		return "#f57c00" // orange
	case models.SeverityMedium:
		return "#fbc02d" // yellow
	case models.SeverityLow:
		return "#388e3c" // green
	default:
		return "#757575" // gray
	}
}

// EmailSubject returns the subject line for an alert email.
func EmailSubject(rule *models.AlertRule, event *models.AlertEvent) string {
	if event.Details.Test {
		return "[TEST] Stock alert: " + rule.Name
	}
	return "[" + string(event.Severity) + "] Stock alert: " + rule.Name
}
