// Package notify decides who to tell about a fault, when, and through which
// channels, without ever blocking or crashing the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/faultline/internal/core/classify"
	"github.com/vietddude/faultline/internal/core/domain"
	"github.com/vietddude/faultline/internal/metrics"
	"github.com/vietddude/faultline/internal/notify/channel"
)

const statsRetention = 24 * time.Hour

// Config holds dispatcher settings.
type Config struct {
	Enabled          bool
	RateLimitPerHour int
	BatchingEnabled  bool
	BatchingInterval time.Duration
	MaxBatchSize     int
}

type statEvent struct {
	at      time.Time
	kind    string // sent, failed, rate_limited, batched
	channel domain.Channel
}

// Dispatcher routes faults to administrators. All methods are safe for
// concurrent use: the administrator set, pending batches and rate-limit
// trackers are mutated by both caller paths and the batch timer.
type Dispatcher struct {
	cfg       Config
	log       *slog.Logger
	templates *TemplateStore
	rules     []domain.EscalationRule
	senders   map[domain.Channel]channel.Sender
	limiter   *rateLimiter
	esc       *escalationState

	mu         sync.Mutex
	admins     map[string]*domain.Administrator
	adminOrder []string
	batches    []*batch
	events     []statEvent

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher. shared may be nil; the in-memory
// rate-limit tracker is used then.
func NewDispatcher(
	cfg Config,
	senders []channel.Sender,
	templates []domain.NotificationTemplate,
	rules []domain.EscalationRule,
	shared SharedCounter,
) *Dispatcher {
	if cfg.BatchingInterval <= 0 {
		cfg.BatchingInterval = 5 * time.Minute
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 10
	}

	senderMap := make(map[domain.Channel]channel.Sender, len(senders))
	for _, s := range senders {
		senderMap[s.Name()] = s
	}

	return &Dispatcher{
		cfg:       cfg,
		log:       slog.Default().With("component", "dispatcher"),
		templates: NewTemplateStore(templates),
		rules:     rules,
		senders:   senderMap,
		limiter:   newRateLimiter(cfg.RateLimitPerHour, shared),
		esc:       newEscalationState(),
		admins:    make(map[string]*domain.Administrator),
	}
}

// RegisterAdministrator adds or replaces an administrator. Replacement
// keeps the original registration order.
func (d *Dispatcher) RegisterAdministrator(admin *domain.Administrator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.admins[admin.ID]; !exists {
		d.adminOrder = append(d.adminOrder, admin.ID)
	}
	d.admins[admin.ID] = admin
}

// UnregisterAdministrator removes an administrator.
func (d *Dispatcher) UnregisterAdministrator(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.admins[id]; !exists {
		return
	}
	delete(d.admins, id)
	for i, existing := range d.adminOrder {
		if existing == id {
			d.adminOrder = append(d.adminOrder[:i], d.adminOrder[i+1:]...)
			break
		}
	}
}

// UpdatePreferences replaces an administrator's notification preferences.
func (d *Dispatcher) UpdatePreferences(id string, prefs domain.NotificationPreferences) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	admin, ok := d.admins[id]
	if !ok {
		return fmt.Errorf("administrator %s not registered", id)
	}
	updated := *admin
	updated.Preferences = prefs
	d.admins[id] = &updated
	return nil
}

// Notify is the main entry point: it selects eligible administrators,
// decides immediate versus batched delivery, and returns the per-channel
// delivery results of the immediate path.
func (d *Dispatcher) Notify(ctx context.Context, fault *domain.Fault, extra map[string]any, forceImmediate bool) []domain.DeliveryResult {
	if !d.cfg.Enabled {
		return nil
	}

	f := classify.Fault(fault)
	now := time.Now()

	eligible := d.eligibleAdmins(f, now)

	immediate := forceImmediate ||
		f.StatusCode >= 500 ||
		f.Severity == domain.SeverityCritical

	var ruleTargets []string
	for i := range d.rules {
		rule := &d.rules[i]
		if !rule.Matches(f) {
			continue
		}
		// A rule match routes immediately; its frequency window gates only
		// the delayed second-stage escalation.
		immediate = true
		ruleTargets = append(ruleTargets, rule.Actions.NotifyAdmins...)
		if d.esc.record(rule, now) {
			d.scheduleEscalation(rule, f, extra)
		}
	}
	if len(ruleTargets) > 0 {
		eligible = d.includeRuleTargets(eligible, ruleTargets)
	}
	if len(eligible) == 0 {
		return nil
	}

	if !immediate && d.cfg.BatchingEnabled {
		d.enqueue(ctx, f, extra, eligible, now)
		return nil
	}
	return d.deliver(ctx, f, extra, eligible)
}

// NotifyCritical routes the fault through the immediate path.
func (d *Dispatcher) NotifyCritical(ctx context.Context, fault *domain.Fault, extra map[string]any) []domain.DeliveryResult {
	return d.Notify(ctx, fault, extra, true)
}

// NotifySystemHealth synthesizes a system-level fault and routes it
// immediately.
func (d *Dispatcher) NotifySystemHealth(ctx context.Context, message string, severity domain.Severity, health map[string]any) []domain.DeliveryResult {
	f := domain.NewFault("SYSTEM_HEALTH", message)
	f.Severity = severity
	f.Category = domain.CategorySystem
	f.Module = "system"
	f.Context = health
	return d.Notify(ctx, f, nil, true)
}

// TestNotification sends a synthetic low-severity message to verify channel
// connectivity. It consumes rate limit exactly like a real send.
func (d *Dispatcher) TestNotification(ctx context.Context, adminID string, ch domain.Channel) domain.DeliveryResult {
	d.mu.Lock()
	admin, ok := d.admins[adminID]
	d.mu.Unlock()
	if !ok {
		return domain.DeliveryResult{
			AdminID: adminID,
			Channel: ch,
			Success: false,
			Error:   "administrator not registered",
			SentAt:  time.Now(),
		}
	}

	sender, ok := d.senders[ch]
	if !ok {
		return domain.DeliveryResult{
			AdminID: adminID,
			Channel: ch,
			Success: false,
			Error:   fmt.Sprintf("channel %s not configured", ch),
			SentAt:  time.Now(),
		}
	}

	if !d.limiter.Allow(ctx, adminID) {
		d.recordEvent("rate_limited", ch)
		metrics.RateLimited.Inc()
		return domain.DeliveryResult{
			AdminID: adminID,
			Channel: ch,
			Success: false,
			Error:   "rate limited",
			SentAt:  time.Now(),
		}
	}

	f := domain.NewFault("TEST_NOTIFICATION", "Connectivity test from the fault pipeline")
	f.Severity = domain.SeverityLow
	f.Category = domain.CategorySystem
	f.Module = "system"

	msg := d.templates.renderFault(ch, f, nil)
	result := sender.Deliver(ctx, admin, msg)
	d.recordDelivery(result)
	return result
}

// Resolve marks an error code resolved, cancelling any pending second-stage
// escalation timers for it. It returns the number of cancelled timers.
func (d *Dispatcher) Resolve(code string) int {
	return d.esc.resolve(code)
}

// eligibleAdmins returns active administrators whose preferences accept the
// fault, in registration order. Quiet hours exclude everything except
// critical faults.
func (d *Dispatcher) eligibleAdmins(f *domain.Fault, now time.Time) []*domain.Administrator {
	d.mu.Lock()
	defer d.mu.Unlock()

	var eligible []*domain.Administrator
	for _, id := range d.adminOrder {
		admin := d.admins[id]
		if admin == nil || !admin.IsActive {
			continue
		}
		if !admin.Preferences.AllowsSeverity(f.Severity) {
			continue
		}
		if !admin.Preferences.AllowsModule(f.Module) {
			continue
		}
		if f.Severity != domain.SeverityCritical && admin.Preferences.QuietHours.Contains(now) {
			continue
		}
		eligible = append(eligible, admin)
	}
	return eligible
}

// includeRuleTargets adds administrators named by a matched rule's
// notify_admins to the delivery set. Naming an admin overrides their
// severity, module and quiet-hours preferences, but never deactivation.
func (d *Dispatcher) includeRuleTargets(eligible []*domain.Administrator, ids []string) []*domain.Administrator {
	present := make(map[string]bool, len(eligible))
	for _, a := range eligible {
		present[a.ID] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		if present[id] {
			continue
		}
		admin, ok := d.admins[id]
		if !ok || !admin.IsActive {
			continue
		}
		present[id] = true
		eligible = append(eligible, admin)
	}
	return eligible
}

// deliver runs the immediate path: one rate-limit pass per administrator,
// then one delivery attempt per allowed channel in preference order.
func (d *Dispatcher) deliver(ctx context.Context, f *domain.Fault, extra map[string]any, admins []*domain.Administrator) []domain.DeliveryResult {
	var results []domain.DeliveryResult

	for _, admin := range admins {
		if !d.limiter.Allow(ctx, admin.ID) {
			metrics.RateLimited.Inc()
			for _, ch := range admin.Preferences.Channels {
				d.recordEvent("rate_limited", ch)
				results = append(results, domain.DeliveryResult{
					AdminID: admin.ID,
					Channel: ch,
					Success: false,
					Error:   "rate limited",
					SentAt:  time.Now(),
				})
			}
			continue
		}

		for _, ch := range admin.Preferences.Channels {
			sender, ok := d.senders[ch]
			if !ok {
				result := domain.DeliveryResult{
					AdminID: admin.ID,
					Channel: ch,
					Success: false,
					Error:   fmt.Sprintf("channel %s not configured", ch),
					SentAt:  time.Now(),
				}
				d.recordDelivery(result)
				results = append(results, result)
				continue
			}
			msg := d.templates.renderFault(ch, f, extra)
			result := sender.Deliver(ctx, admin, msg)
			d.recordDelivery(result)
			results = append(results, result)
		}
	}
	return results
}

// enqueue appends the fault to the pending batch for this administrator
// set, creating one if needed. Reaching the batch size cap flushes
// immediately instead of waiting for the timer.
func (d *Dispatcher) enqueue(ctx context.Context, f *domain.Fault, extra map[string]any, admins []*domain.Administrator, now time.Time) {
	adminIDs := make([]string, 0, len(admins))
	for _, a := range admins {
		adminIDs = append(adminIDs, a.ID)
	}
	key := adminSetKey(adminIDs)

	d.mu.Lock()
	var target *batch
	for _, b := range d.batches {
		if b.adminKey == key && b.scheduledAt.After(now) {
			target = b
			break
		}
	}
	if target == nil {
		target = newBatch(adminIDs, now.Add(d.cfg.BatchingInterval))
		d.batches = append(d.batches, target)
	}
	target.items = append(target.items, batchItem{fault: f, extra: extra, receivedAt: now})
	full := len(target.items) >= d.cfg.MaxBatchSize
	if full {
		d.removeBatchLocked(target)
	}
	metrics.PendingBatches.Set(float64(len(d.batches)))
	d.mu.Unlock()

	d.recordEvent("batched", "")
	if full {
		d.flushBatch(ctx, target, "size")
	}
}

func (d *Dispatcher) removeBatchLocked(target *batch) {
	for i, b := range d.batches {
		if b == target {
			d.batches = append(d.batches[:i], d.batches[i+1:]...)
			return
		}
	}
}

// flushBatch sends one rendered summary per administrator per channel, with
// the same rate-limit bookkeeping as the immediate path.
func (d *Dispatcher) flushBatch(ctx context.Context, b *batch, trigger string) {
	if len(b.items) == 0 {
		return
	}
	metrics.BatchesFlushed.WithLabelValues(trigger).Inc()

	vars := b.summary()
	severity := b.highestSeverity()

	d.mu.Lock()
	admins := make([]*domain.Administrator, 0, len(b.adminIDs))
	for _, id := range b.adminIDs {
		if admin, ok := d.admins[id]; ok && admin.IsActive {
			admins = append(admins, admin)
		}
	}
	d.mu.Unlock()

	for _, admin := range admins {
		if !d.limiter.Allow(ctx, admin.ID) {
			metrics.RateLimited.Inc()
			d.recordEvent("rate_limited", "")
			continue
		}
		for _, ch := range admin.Preferences.Channels {
			sender, ok := d.senders[ch]
			if !ok {
				continue
			}
			tpl := d.templates.LookupBatch(ch, severity)
			subject, body := tpl.Render(vars)
			result := sender.Deliver(ctx, admin, channel.Message{Subject: subject, Body: body})
			d.recordDelivery(result)
		}
	}
	d.log.Debug("Flushed notification batch", "batch_id", b.id, "errors", len(b.items), "trigger", trigger)
}

// scheduleEscalation arms the rule's delayed second-stage notification for
// the fault, unless one is already pending for the same rule and code.
func (d *Dispatcher) scheduleEscalation(rule *domain.EscalationRule, f *domain.Fault, extra map[string]any) {
	d.esc.schedule(rule, f.Code, func() {
		d.log.Warn("Escalating unresolved fault", "rule", rule.Name, "code", f.Code)
		d.fireEscalation(context.Background(), rule, f, extra)
	})
}

// fireEscalation notifies the rule's second-stage administrator set through
// the rule's channels (or the admin's preferred channels when unset).
func (d *Dispatcher) fireEscalation(ctx context.Context, rule *domain.EscalationRule, f *domain.Fault, extra map[string]any) {
	d.mu.Lock()
	admins := make([]*domain.Administrator, 0, len(rule.Actions.EscalateToAdmins))
	for _, id := range rule.Actions.EscalateToAdmins {
		if admin, ok := d.admins[id]; ok && admin.IsActive {
			admins = append(admins, admin)
		}
	}
	d.mu.Unlock()

	escalated := f.WithContext("escalation_rule", rule.Name)

	for _, admin := range admins {
		if !d.limiter.Allow(ctx, admin.ID) {
			metrics.RateLimited.Inc()
			d.recordEvent("rate_limited", "")
			continue
		}
		channels := rule.Actions.Channels
		if len(channels) == 0 {
			channels = admin.Preferences.Channels
		}
		for _, ch := range channels {
			sender, ok := d.senders[ch]
			if !ok {
				continue
			}
			msg := d.templates.renderFault(ch, escalated, extra)
			result := sender.Deliver(ctx, admin, msg)
			d.recordDelivery(result)
		}
	}
}

func (d *Dispatcher) recordDelivery(result domain.DeliveryResult) {
	if result.Success {
		metrics.NotificationsSent.WithLabelValues(string(result.Channel), "success").Inc()
		d.recordEvent("sent", result.Channel)
	} else {
		metrics.NotificationsSent.WithLabelValues(string(result.Channel), "failure").Inc()
		d.recordEvent("failed", result.Channel)
	}
}

func (d *Dispatcher) recordEvent(kind string, ch domain.Channel) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = append(d.events, statEvent{at: now, kind: kind, channel: ch})
	cutoff := now.Add(-statsRetention)
	idx := sort.Search(len(d.events), func(i int) bool {
		return d.events[i].at.After(cutoff)
	})
	if idx > 0 {
		d.events = d.events[idx:]
	}
}

// Statistics summarizes dispatcher activity during the trailing period.
func (d *Dispatcher) Statistics(period time.Duration) domain.NotificationStatistics {
	cutoff := time.Now().Add(-period)

	d.mu.Lock()
	defer d.mu.Unlock()

	stats := domain.NotificationStatistics{
		ByChannel: make(map[domain.Channel]int),
	}
	for _, e := range d.events {
		if e.at.Before(cutoff) {
			continue
		}
		switch e.kind {
		case "sent":
			stats.Sent++
			stats.ByChannel[e.channel]++
		case "failed":
			stats.Failed++
		case "rate_limited":
			stats.RateLimited++
		case "batched":
			stats.Batched++
		}
	}
	return stats
}

// Start runs the batch flush loop until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	tick := d.cfg.BatchingInterval / 4
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	if tick > 5*time.Second {
		tick = 5 * time.Second
	}

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.flushDue(context.WithoutCancel(runCtx))
			}
		}
	}()
}

// flushDue flushes every batch whose scheduled time has elapsed, in
// scheduled-time order.
func (d *Dispatcher) flushDue(ctx context.Context) {
	now := time.Now()

	d.mu.Lock()
	var due []*batch
	remaining := d.batches[:0]
	for _, b := range d.batches {
		if !b.scheduledAt.After(now) {
			due = append(due, b)
		} else {
			remaining = append(remaining, b)
		}
	}
	d.batches = remaining
	metrics.PendingBatches.Set(float64(len(d.batches)))
	d.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].scheduledAt.Before(due[j].scheduledAt)
	})
	for _, b := range due {
		d.flushBatch(ctx, b, "timer")
	}
}

// Stop cancels the batch timer and escalation timers, then drains every
// pending batch synchronously.
func (d *Dispatcher) Stop(ctx context.Context) {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	d.esc.stop()

	d.mu.Lock()
	pending := d.batches
	d.batches = nil
	metrics.PendingBatches.Set(0)
	d.mu.Unlock()

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].scheduledAt.Before(pending[j].scheduledAt)
	})
	for _, b := range pending {
		d.flushBatch(ctx, b, "shutdown")
	}
}

// Enabled reports whether the dispatcher sends notifications at all.
func (d *Dispatcher) Enabled() bool {
	return d.cfg.Enabled
}

// ProbeTarget returns the first active administrator, in registration
// order, together with their first preferred channel that has a configured
// sender. ok is false when no administrator is reachable on any configured
// channel.
func (d *Dispatcher) ProbeTarget() (adminID string, ch domain.Channel, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.adminOrder {
		admin := d.admins[id]
		if admin == nil || !admin.IsActive {
			continue
		}
		for _, pref := range admin.Preferences.Channels {
			if _, configured := d.senders[pref]; configured {
				return admin.ID, pref, true
			}
		}
	}
	return "", "", false
}

// AdminIDs returns the registered administrator IDs in registration order.
func (d *Dispatcher) AdminIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.adminOrder))
	copy(out, d.adminOrder)
	return out
}
