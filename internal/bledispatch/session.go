package bledispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kpcyrd/d3xs/internal/metrics"
	"github.com/kpcyrd/d3xs/internal/protocol"
)

// ErrPeripheralNotFound is returned when the scan channel closes without
// the target MAC ever having been discovered. If the context ends first,
// Open returns the context's error instead.
var ErrPeripheralNotFound = errors.New("bledispatch: peripheral not found")

// Session drives one door-open attempt: scan for mac, connect, read the
// door's encrypted challenge, decrypt and write back the plaintext, retry
// up to SolveAttempts times on failure
// (original_source/bridge/src/ble.rs: try_open/try_solve/open).
type Session struct {
	central Central
	metrics *metrics.Metrics
}

// NewSession builds a Session over central. metrics may be nil, in which
// case BLE opens simply aren't instrumented.
func NewSession(central Central, m *metrics.Metrics) *Session {
	return &Session{central: central, metrics: m}
}

// Open attempts to open the door at mac using box, the bridge<->door
// crypto context for that specific door. A timeout of 0 means "no
// deadline" (the original Rust code's sentinel); any positive value
// bounds the whole scan-connect-read-write-retry sequence.
func (s *Session) Open(ctx context.Context, box *protocol.Box, mac string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.open(ctx, box, mac)
	if s.metrics != nil {
		s.metrics.RecordBLEOpen(err == nil, failureReason(err), time.Since(start).Seconds())
	}
	return err
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPeripheralNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "solve_failed"
	}
}

func (s *Session) open(ctx context.Context, box *protocol.Box, mac string) error {
	peripherals, err := s.central.Scan(ctx)
	if err != nil {
		return fmt.Errorf("bledispatch: scan start failed: %w", err)
	}

	attemptsLeft := SolveAttempts
	var lastErr error

	for {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("bledispatch: %w (last attempt: %v)", ctx.Err(), lastErr)
			}
			return ctx.Err()

		case p, ok := <-peripherals:
			if !ok {
				if lastErr != nil {
					return fmt.Errorf("bledispatch: scan ended, exhausted attempts: %w", lastErr)
				}
				return ErrPeripheralNotFound
			}
			if p.Address() != mac {
				continue
			}

			if err := s.trySolve(ctx, box, p); err != nil {
				lastErr = err
				attemptsLeft--
				if attemptsLeft <= 0 {
					return fmt.Errorf("bledispatch: exhausted %d attempts: %w", SolveAttempts, err)
				}
				continue
			}
			return nil
		}
	}
}

// trySolve performs one full connect/read/decrypt/write/disconnect cycle
// against an already-discovered peripheral.
func (s *Session) trySolve(ctx context.Context, box *protocol.Box, p Peripheral) error {
	if err := p.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer p.Disconnect(ctx)

	encrypted, err := p.ReadCharacteristic(ctx, ServiceUUID, CharacteristicUUID)
	if err != nil {
		return fmt.Errorf("read characteristic: %w", err)
	}
	if len(encrypted) == 0 {
		return errors.New("empty characteristic read")
	}

	plaintext, err := box.Decrypt(encrypted)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	if err := p.WriteCharacteristic(ctx, ServiceUUID, CharacteristicUUID, plaintext); err != nil {
		return fmt.Errorf("write characteristic: %w", err)
	}
	return nil
}
