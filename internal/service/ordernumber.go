package service

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// OrderNumberGenerator produces ORD-<6 clock digits>-<3 random digits>.
// The clock is strictly increasing per generator; uniqueness across
// processes is enforced by the orders.order_number constraint.
type OrderNumberGenerator struct {
	last atomic.Int64
	now  func() time.Time
	mu   sync.Mutex
	rand *rand.Rand
}

// NewOrderNumberGenerator creates a generator on the wall clock
func NewOrderNumberGenerator() *OrderNumberGenerator {
	return &OrderNumberGenerator{
		now:  time.Now,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns a fresh order number
func (g *OrderNumberGenerator) Next() string {
	ts := g.tick()

	g.mu.Lock()
	suffix := g.rand.Intn(1000)
	g.mu.Unlock()

	return fmt.Sprintf("ORD-%06d-%03d", ts%1_000_000, suffix)
}

// tick returns max(now, last+1) in milliseconds
func (g *OrderNumberGenerator) tick() int64 {
	for {
		last := g.last.Load()
		next := g.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if g.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
