package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/faultline/internal/core/domain"
)

// batchItem is one fault queued for batched delivery.
type batchItem struct {
	fault      *domain.Fault
	extra      map[string]any
	receivedAt time.Time
}

// batch aggregates non-urgent faults destined for an identical set of
// administrators at an identical scheduled send time.
type batch struct {
	id          string
	scheduledAt time.Time
	adminKey    string
	adminIDs    []string
	items       []batchItem
}

// adminSetKey canonicalizes an administrator ID set for batch matching.
func adminSetKey(adminIDs []string) string {
	sorted := make([]string, len(adminIDs))
	copy(sorted, adminIDs)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func newBatch(adminIDs []string, scheduledAt time.Time) *batch {
	ids := make([]string, len(adminIDs))
	copy(ids, adminIDs)
	return &batch{
		id:          uuid.NewString(),
		scheduledAt: scheduledAt,
		adminKey:    adminSetKey(adminIDs),
		adminIDs:    ids,
	}
}

// summary builds the batch template variables: total count, per-code counts
// and the time range covered.
func (b *batch) summary() map[string]string {
	codes := make(map[string]int)
	earliest := b.items[0].receivedAt
	latest := b.items[0].receivedAt
	highest := b.items[0].fault.Severity

	for _, item := range b.items {
		codes[item.fault.Code]++
		if item.receivedAt.Before(earliest) {
			earliest = item.receivedAt
		}
		if item.receivedAt.After(latest) {
			latest = item.receivedAt
		}
		if item.fault.Severity.AtLeast(highest) {
			highest = item.fault.Severity
		}
	}

	codeList := make([]string, 0, len(codes))
	for code := range codes {
		codeList = append(codeList, code)
	}
	sort.Strings(codeList)

	lines := make([]string, 0, len(codeList))
	for _, code := range codeList {
		lines = append(lines, fmt.Sprintf("%s: %d", code, codes[code]))
	}

	return map[string]string{
		"count":    fmt.Sprintf("%d", len(b.items)),
		"summary":  strings.Join(lines, "\n"),
		"earliest": earliest.UTC().Format(time.RFC3339),
		"latest":   latest.UTC().Format(time.RFC3339),
		"severity": string(highest),
	}
}

// highestSeverity returns the most severe fault in the batch, used for
// template selection.
func (b *batch) highestSeverity() domain.Severity {
	highest := domain.SeverityLow
	for _, item := range b.items {
		if item.fault.Severity.AtLeast(highest) {
			highest = item.fault.Severity
		}
	}
	return highest
}

// DefaultBatchTemplate renders batch summaries when no explicit template is
// configured for the pair.
var DefaultBatchTemplate = domain.NotificationTemplate{
	Subject: "[{{severity}}] {{count}} errors batched",
	Body: "{{count}} errors between {{earliest}} and {{latest}}:\n" +
		"{{summary}}",
	Variables: []string{"severity", "count", "summary", "earliest", "latest"},
}
