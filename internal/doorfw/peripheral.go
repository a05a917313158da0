package doorfw

import "log/slog"

// Actuator drives the physical side effects of a verified solve: unlocking
// the latch and reflecting status on the LED. No GPIO/LED specifics are
// in scope (spec.md Non-goals) — LoggingActuator stands in as the default
// so the rest of the system can be built and tested without real hardware.
type Actuator interface {
	Unlock()
	ShowStatus(action LatestAction)
}

// LoggingActuator implements Actuator by logging what would have
// happened, for development and tests.
type LoggingActuator struct{}

func (LoggingActuator) Unlock() {
	slog.Info("doorfw: latch unlocked")
}

func (LoggingActuator) ShowStatus(action LatestAction) {
	slog.Info("doorfw: status LED updated", "action", action)
}

// OnReadCharacteristic implements the door's GATT read callback
// (CharacteristicUUID under ServiceUUID, spec.md §6): it serves the
// encrypted form of whatever challenge is currently outstanding.
func (c *Controller) OnReadCharacteristic() ([]byte, error) {
	chall, err := c.ring.Current()
	if err != nil {
		return nil, err
	}
	return chall.Encrypted, nil
}

// OnWriteCharacteristic implements the door's GATT write callback: the
// bridge writes back the plaintext it decrypted from a prior read. A
// verified write actuates the latch, re-arms the ring (so the same
// plaintext can never be replayed), and wakes the generator loop rather
// than waiting out the idle interval; an unverified write only records
// ActionFail, guarded by the never-downgrade-Success ratchet. A write
// arriving while a prior Success is still latched (not yet drained by the
// generator loop) is discarded outright, per spec.md §4.6.
func (c *Controller) OnWriteCharacteristic(plaintext []byte) {
	if c.LatestAction() == ActionSuccess {
		slog.Warn("doorfw: discarding solve attempt while a verified success is still latched")
		return
	}

	c.setLatestAction(ActionPending)

	if err := c.ring.Verify(plaintext); err != nil {
		c.setLatestAction(ActionFail)
		c.actuator.ShowStatus(ActionFail)
		return
	}

	if err := c.ring.Reset(c.rnd, c.box); err != nil {
		slog.Warn("doorfw: failed to reset ring after verified solve", "error", err)
	}

	c.setLatestAction(ActionSuccess)
	c.actuator.Unlock()
	c.actuator.ShowStatus(ActionSuccess)
	c.triggerWake()
}
