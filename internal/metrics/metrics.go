// Package metrics provides the counter sink the orchestrator reports into.
// The orchestrator depends on the interface, not on a process-global registry.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Counter names reported by the payment core
const (
	PaymentsApprovedTotal     = "payments_approved_total"
	PaymentsRefundedTotal     = "payments_refunded_total"
	NotificationFailuresTotal = "notification_failures_total"
)

// Sink receives counter increments
type Sink interface {
	Increment(name string, labels map[string]string)
}

// Nop discards all increments
type Nop struct{}

func (Nop) Increment(string, map[string]string) {}

// Counters is an in-memory Sink safe for concurrent use
type Counters struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewCounters creates an empty in-memory sink
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int64)}
}

func (c *Counters) Increment(name string, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key(name, labels)]++
}

// Value returns the current count for a name/labels pair
func (c *Counters) Value(name string, labels map[string]string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key(name, labels)]
}

// key flattens labels deterministically so equal label sets collide
func key(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}
