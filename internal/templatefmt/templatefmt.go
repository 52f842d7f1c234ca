package templatefmt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

const (
	// DefaultEmailSubject renders email subject line from an alert.
	DefaultEmailSubject = `[{{ upper (print .Priority) }}] {{ .RuleName }}`
	// DefaultEmailBody renders plain-text email body from an alert.
	DefaultEmailBody = `{{ .Message }}

Rule: {{ .RuleName }}
Priority: {{ .Priority }}
Triggered at: {{ .Timestamp.Format "2006-01-02 15:04:05 MST" }}
Details: {{ json .Data }}
`
	// DefaultSMSBody renders short text message from an alert.
	DefaultSMSBody = `[{{ upper (print .Priority) }}] {{ .Message }}`
)

// FuncMap returns shared notification template helpers.
// Params: none.
// Returns: deterministic helper map used by config validation and runtime rendering.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"fmtMoney":  FormatMoney,
		"fmtNumber": FormatNumber,
		"json":      MarshalJSON,
		"upper":     strings.ToUpper,
	}
}

// ParseNotificationTemplate parses one notification template with shared helpers.
// Params: template name and body.
// Returns: compiled template or parse error.
func ParseNotificationTemplate(name, body string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Option("missingkey=error").Parse(body)
}

// Render executes compiled template into string.
// Params: compiled template and data context.
// Returns: rendered text or execution error.
func Render(tmpl *template.Template, data any) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	var builder strings.Builder
	if err := tmpl.Execute(&builder, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}

// FormatMoney renders amount with dollar sign and two decimals.
// Params: numeric amount.
// Returns: formatted money string.
func FormatMoney(value float64) string {
	return fmt.Sprintf("$%.2f", value)
}

// FormatNumber renders number without trailing zeros.
// Params: numeric value.
// Returns: shortest decimal representation.
func FormatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// MarshalJSON renders value into JSON string for template embedding.
// Params: template value of any type.
// Returns: marshaled JSON string or "null" on marshal failure.
func MarshalJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "null"
	}
	return string(encoded)
}
