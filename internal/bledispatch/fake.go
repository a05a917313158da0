package bledispatch

import (
	"context"
	"time"
)

// FakePeripheral is an in-memory Peripheral used by tests standing in for
// a real BLE door. Characteristic reads always return whatever was most
// recently set via SetChallenge; writes are recorded on Written for
// assertions.
type FakePeripheral struct {
	address   string
	challenge []byte
	Written   [][]byte
	FailRead  bool
	FailWrite bool
	FailConn  bool
}

// NewFakePeripheral creates a fake peripheral at address, initially
// serving challenge on reads.
func NewFakePeripheral(address string, challenge []byte) *FakePeripheral {
	return &FakePeripheral{address: address, challenge: challenge}
}

func (p *FakePeripheral) Address() string { return p.address }

func (p *FakePeripheral) Connect(ctx context.Context) error {
	if p.FailConn {
		return errConnectFailed
	}
	return nil
}

func (p *FakePeripheral) Disconnect(ctx context.Context) error { return nil }

func (p *FakePeripheral) ReadCharacteristic(ctx context.Context, service, char UUID) ([]byte, error) {
	if p.FailRead {
		return nil, errReadFailed
	}
	return p.challenge, nil
}

func (p *FakePeripheral) WriteCharacteristic(ctx context.Context, service, char UUID, data []byte) error {
	if p.FailWrite {
		return errWriteFailed
	}
	p.Written = append(p.Written, data)
	return nil
}

// SetChallenge replaces the bytes future reads will return, simulating the
// door rotating to a new challenge.
func (p *FakePeripheral) SetChallenge(challenge []byte) {
	p.challenge = challenge
}

var (
	errConnectFailed = simpleError("fake peripheral: connect failed")
	errReadFailed    = simpleError("fake peripheral: read failed")
	errWriteFailed   = simpleError("fake peripheral: write failed")
)

type simpleError string

func (e simpleError) Error() string { return string(e) }

// FakeCentral discovers a fixed, pre-registered set of FakePeripherals,
// re-emitting the whole set every 10ms until the Scan context ends.
type FakeCentral struct {
	peripherals []Peripheral
}

// NewFakeCentral builds a Central that will discover exactly the given
// peripherals, in order, on every Scan call.
func NewFakeCentral(peripherals ...Peripheral) *FakeCentral {
	return &FakeCentral{peripherals: peripherals}
}

func (c *FakeCentral) Scan(ctx context.Context) (<-chan Peripheral, error) {
	ch := make(chan Peripheral, len(c.peripherals))
	go func() {
		defer close(ch)
		// Repeatedly re-announce every registered peripheral until ctx is
		// cancelled, mirroring a real adapter's continuous advertisement
		// scan — this is what lets Session retry against the same device.
		for {
			for _, p := range c.peripherals {
				select {
				case ch <- p:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-time.After(10 * time.Millisecond):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
