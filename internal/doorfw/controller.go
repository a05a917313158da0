// Package doorfw implements the door side of the system: a single
// RingBuffer of outstanding challenges, a tri-state "last action" the BLE
// write callback reports through, and a background generator goroutine
// that keeps a fresh challenge available even if nobody has solved one
// recently (spec.md §4.6). This runs as an ordinary Go process rather than
// no_std firmware — original_source/firmware/src/main.rs is a minimal
// ESP-IDF skeleton that predates this state machine, so the design here
// comes directly from spec.md's prose rather than a translation.
package doorfw

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kpcyrd/d3xs/internal/protocol"
)

// LatestAction is the tri-state result of the most recent solve attempt
// the door observed over its BLE write characteristic.
type LatestAction int

const (
	// ActionNone means no solve has been attempted since the door booted
	// or since the action was last consumed by a caller.
	ActionNone LatestAction = iota
	// ActionPending means a write was received and is being verified.
	ActionPending
	// ActionSuccess means the most recent solve verified and the door
	// actuated.
	ActionSuccess
	// ActionFail means the most recent solve did not verify.
	ActionFail
)

func (a LatestAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionPending:
		return "pending"
	case ActionSuccess:
		return "success"
	case ActionFail:
		return "fail"
	default:
		return "unknown"
	}
}

// idleRegenInterval is how often the generator loop wakes on its own, even
// with no solve activity to react to (spec.md §4.6: "~5s idle wake").
const idleRegenInterval = 5 * time.Second

// Controller owns a door's entire runtime state: its challenge ring, its
// latest action, and the actuator it drives on a verified solve. Safe for
// concurrent use — the generator goroutine and BLE characteristic
// callbacks run concurrently against the same Controller.
type Controller struct {
	rnd io.Reader
	box *protocol.Box

	ring *protocol.RingBuffer

	actionMu     sync.Mutex
	latestAction LatestAction

	actuator Actuator
	wake     chan struct{}
}

// NewController builds a Controller. rnd is the door's randomness
// capability (spec.md §9: injected, never a package global, so a hardware
// TRNG can be wired in production and a deterministic source in tests);
// box is the bridge<->door crypto context; actuator drives the physical
// latch and status LED.
func NewController(rnd io.Reader, box *protocol.Box, actuator Actuator) (*Controller, error) {
	ring, err := protocol.NewRingBuffer(rnd, box)
	if err != nil {
		return nil, err
	}
	return &Controller{
		rnd:      rnd,
		box:      box,
		ring:     ring,
		actuator: actuator,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Run drives the background generator loop until ctx is cancelled. It
// should be started exactly once per Controller, typically from
// cmd/door's main.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(idleRegenInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.regenerate()
		case <-c.wake:
			c.regenerate()
		}
	}
}

// regenerate is the generator loop's tick: it first drains whatever
// terminal action OnWriteCharacteristic last latched (spec.md §4.6: the
// generator loop is the consumer of latest_action, clearing it once it has
// been observed), then rotates the ring forward.
func (c *Controller) regenerate() {
	c.drainLatestAction()
	if _, err := c.ring.GenerateNext(c.rnd, c.box); err != nil {
		slog.Warn("doorfw: failed to generate next challenge", "error", err)
	}
}

// drainLatestAction clears a terminal (Success or Fail) action back to
// None, re-opening the latch so the next OnWriteCharacteristic call is no
// longer discarded. Pending and None are left untouched — there is nothing
// to consume yet.
func (c *Controller) drainLatestAction() {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if c.latestAction == ActionSuccess || c.latestAction == ActionFail {
		c.latestAction = ActionNone
	}
}

// triggerWake nudges the generator loop to run immediately instead of
// waiting out the rest of idleRegenInterval, without blocking if a wake is
// already pending.
func (c *Controller) triggerWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// LatestAction returns the most recently recorded action.
func (c *Controller) LatestAction() LatestAction {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	return c.latestAction
}

// setLatestAction installs a new action, except that nothing may overwrite
// an unconsumed Success: once a solve has succeeded and actuated the door,
// the latch stays closed — no stale Fail, and no Pending from a subsequent
// write that slipped in before the generator loop drained it — until
// drainLatestAction (or a test's ResetLatestAction) explicitly clears it
// (spec.md §4.6 invariant).
func (c *Controller) setLatestAction(a LatestAction) {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if c.latestAction == ActionSuccess {
		return
	}
	c.latestAction = a
}

// ResetLatestAction clears back to ActionNone, e.g. after a caller has
// consumed and displayed the current action.
func (c *Controller) ResetLatestAction() {
	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	c.latestAction = ActionNone
}
