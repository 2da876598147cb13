// Package output holds the two digital outputs driven by downlinks and the
// sinks that mirror their levels.
package output

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Channels is the number of digital outputs
const Channels = 2

// ErrInvalidChannel is returned for channels other than 0 and 1
var ErrInvalidChannel = errors.New("invalid output channel")

// Pin is a sink for one output level
type Pin interface {
	Set(level bool) error
}

// Bank holds the output levels. Levels are readable from any goroutine;
// writes come from the downlink dispatcher only.
type Bank struct {
	levels [Channels]atomic.Bool

	mu   sync.Mutex
	pins [Channels][]Pin
}

func NewBank() *Bank {
	return &Bank{}
}

// Attach adds a sink to channel ch; it receives every later level change
func (b *Bank) Attach(ch int, p Pin) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pins[ch] = append(b.pins[ch], p)
	return nil
}

// Set stores the level and forwards it to the attached sinks. The stored
// level is updated even if a sink fails.
func (b *Bank) Set(ch int, level bool) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	b.levels[ch].Store(level)

	b.mu.Lock()
	pins := append([]Pin(nil), b.pins[ch]...)
	b.mu.Unlock()

	var errs []error
	for _, p := range pins {
		if err := p.Set(level); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Level returns the current level of ch, false for unknown channels
func (b *Bank) Level(ch int) bool {
	if ch < 0 || ch >= Channels {
		return false
	}
	return b.levels[ch].Load()
}

func (b *Bank) Levels() [Channels]bool {
	return [Channels]bool{b.levels[0].Load(), b.levels[1].Load()}
}

// LogPin logs level changes
type LogPin struct {
	Name string
}

func (p LogPin) Set(level bool) error {
	log.Info().Str("pin", p.Name).Bool("level", level).Msg("Output level changed")
	return nil
}
