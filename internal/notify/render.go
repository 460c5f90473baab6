package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/notify/channel"
)

// TemplateStore resolves notification templates by (channel, severity),
// falling back to the default template when no explicit match exists.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*domain.NotificationTemplate
}

// NewTemplateStore creates a store preloaded with the given templates.
func NewTemplateStore(templates []domain.NotificationTemplate) *TemplateStore {
	s := &TemplateStore{templates: make(map[string]*domain.NotificationTemplate)}
	for i := range templates {
		t := templates[i]
		s.templates[templateKey(t.Channel, t.Severity, t.Batch)] = &t
	}
	return s
}

func templateKey(ch domain.Channel, sev domain.Severity, batch bool) string {
	key := string(ch) + "/" + string(sev)
	if batch {
		key = "batch/" + key
	}
	return key
}

// Lookup returns the template for the pair, or the default fallback.
func (s *TemplateStore) Lookup(ch domain.Channel, sev domain.Severity) *domain.NotificationTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.templates[templateKey(ch, sev, false)]; ok {
		return t
	}
	return &domain.DefaultTemplate
}

// LookupBatch returns the batch-summary template for the pair, or the
// default batch fallback.
func (s *TemplateStore) LookupBatch(ch domain.Channel, sev domain.Severity) *domain.NotificationTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.templates[templateKey(ch, sev, true)]; ok {
		return t
	}
	return &DefaultBatchTemplate
}

// faultVariables builds the substitution set for a single-fault template.
func faultVariables(f *domain.Fault, extra map[string]any) map[string]string {
	merged := make(map[string]any, len(f.Context)+len(extra))
	for k, v := range f.Context {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}

	return map[string]string{
		"errorCode":    f.Code,
		"errorMessage": f.Message,
		"severity":     string(f.Severity),
		"module":       f.Module,
		"timestamp":    f.Timestamp.UTC().Format(time.RFC3339),
		"context":      prettyContext(merged),
	}
}

// prettyContext renders a context map as indented JSON for message bodies.
func prettyContext(ctx map[string]any) string {
	if len(ctx) == 0 {
		return "(none)"
	}
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return "(unrenderable)"
	}
	return string(data)
}

// renderFault produces the delivery-ready message for one fault.
func (s *TemplateStore) renderFault(ch domain.Channel, f *domain.Fault, extra map[string]any) channel.Message {
	tpl := s.Lookup(ch, f.Severity)
	subject, body := tpl.Render(faultVariables(f, extra))
	return channel.Message{Subject: subject, Body: body}
}
