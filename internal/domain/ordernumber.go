package domain

import (
	"fmt"
	"sync"
	"time"
)

// OrderNumberGenerator issues order numbers of the form ORD-YYYYMMDD-NNNNNN
// with a per-day sequence. The sequence rolls automatically at the date
// change; Reset exists for the scheduled midnight sweep so a quiet service
// does not carry yesterday's counter.
type OrderNumberGenerator struct {
	mu  sync.Mutex
	day string
	seq int
	now func() time.Time
}

// NewOrderNumberGenerator creates a generator using the real clock.
func NewOrderNumberGenerator() *OrderNumberGenerator {
	return &OrderNumberGenerator{now: time.Now}
}

// NewOrderNumberGeneratorWithClock creates a generator with an injected clock
// for tests.
func NewOrderNumberGeneratorWithClock(now func() time.Time) *OrderNumberGenerator {
	return &OrderNumberGenerator{now: now}
}

// Next returns the next order number for today.
func (g *OrderNumberGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	day := g.now().UTC().Format("20060102")
	if day != g.day {
		g.day = day
		g.seq = 0
	}
	g.seq++
	return fmt.Sprintf("ORD-%s-%06d", day, g.seq)
}

// Reset clears the daily sequence. Safe to call at any time; the next call to
// Next starts from 1 for the current day.
func (g *OrderNumberGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.day = ""
	g.seq = 0
}
