package coordinator

import (
	"time"

	"github.com/mcdev12/reflex/go/internal/clock"
	"github.com/mcdev12/reflex/go/internal/models"
	"github.com/mcdev12/reflex/go/internal/round/events"
	"github.com/rs/zerolog/log"
)

// scheduleButtonActive arms the countdown for the current attempt, replacing
// any countdown left from an earlier one. Caller holds e.mu.
func (c *Coordinator) scheduleButtonActive(e *roundEntry, countdownMs int) {
	c.cancelButtonActive(e)
	attempt := e.attempt
	d := time.Duration(countdownMs) * time.Millisecond
	e.countdown = clock.Schedule(c.ctx, c.clock, d, func() {
		c.fireButtonActive(e, attempt)
	})

	log.Debug().
		Str("round_id", e.machine.ID().String()).
		Dur("duration", d).
		Msg("scheduled button activation")
}

// cancelButtonActive stops a pending countdown and invalidates any callback
// already in flight. Caller holds e.mu.
func (c *Coordinator) cancelButtonActive(e *roundEntry) {
	e.attempt++
	if e.countdown.Stop() {
		log.Debug().Str("round_id", e.machine.ID().String()).Msg("cancelled button activation")
	}
	e.countdown = nil
}

func (c *Coordinator) fireButtonActive(e *roundEntry, attempt uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.attempt != attempt || e.machine.Status() != models.RoundStatusInProgress {
		return
	}
	e.countdown = nil

	now := c.clock.Now()
	c.emit(c.ctx, e.machine.GameID(), events.TypeRoundButtonActive, events.ButtonActivePayload{
		RoundID:     e.machine.ID().String(),
		ActivatedAt: now.UTC(),
	})

	log.Info().Str("round_id", e.machine.ID().String()).Msg("button active")
}

// PendingCountdowns returns how many button activations are scheduled.
func (c *Coordinator) PendingCountdowns() int {
	c.mu.Lock()
	entries := make([]*roundEntry, 0, len(c.rounds))
	for _, e := range c.rounds {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.countdown != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}
