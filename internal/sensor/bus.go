package sensor

import (
	"context"
	"sync"
)

// Bus serializes transactions on the shared I2C bus. When exclusive is set
// every transaction holds the bus lock for its whole duration so that the
// radio module's low-power transitions never interleave with a sensor
// transfer; otherwise transactions run unguarded as on the plain firmware.
type Bus struct {
	mu        sync.Mutex
	exclusive bool
}

func NewBus(exclusive bool) *Bus {
	return &Bus{exclusive: exclusive}
}

// Exclusive reports whether transactions take the bus lock
func (b *Bus) Exclusive() bool { return b.exclusive }

// Do runs fn as one bus transaction
func (b *Bus) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.exclusive {
		b.mu.Lock()
		defer b.mu.Unlock()
	}
	return fn(ctx)
}
