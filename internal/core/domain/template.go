package domain

import "strings"

// NotificationTemplate renders a notification for one (channel, severity)
// pair. Subject and Body contain {{variable}} placeholders.
type NotificationTemplate struct {
	Channel   Channel  `json:"channel"`
	Severity  Severity `json:"severity"`
	Batch     bool     `json:"batch,omitempty"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	Variables []string `json:"variables,omitempty"`
}

// Render substitutes the given variables into the subject and body.
// Unknown placeholders are left as-is.
func (t *NotificationTemplate) Render(vars map[string]string) (subject, body string) {
	subject = t.Subject
	body = t.Body
	for name, value := range vars {
		placeholder := "{{" + name + "}}"
		subject = strings.ReplaceAll(subject, placeholder, value)
		body = strings.ReplaceAll(body, placeholder, value)
	}
	return subject, body
}

// DefaultTemplate is the fallback for (channel, severity) pairs with no
// explicit template.
var DefaultTemplate = NotificationTemplate{
	Subject: "[{{severity}}] {{errorCode}} in {{module}}",
	Body: "Error: {{errorMessage}}\n" +
		"Code: {{errorCode}}\n" +
		"Module: {{module}}\n" +
		"Time: {{timestamp}}\n" +
		"Context:\n{{context}}",
	Variables: []string{"severity", "errorCode", "errorMessage", "module", "timestamp", "context"},
}
