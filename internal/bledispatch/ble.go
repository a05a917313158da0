// Package bledispatch implements the bridge's BLE side: the abstract
// Central/Peripheral interfaces spec.md's design notes call for ("model
// BLE as scan -> connect -> read/write -> disconnect"), and the open
// session that drives a Peripheral through the challenge/response
// exchange. The concrete platform BLE stack is out of scope per spec.md's
// Non-goal on "BLE transport internals below the read/write-characteristic
// abstraction" — only this interface boundary and its in-memory fake
// (for tests) live here.
package bledispatch

import "context"

// UUID is a 128-bit Bluetooth UUID.
type UUID [16]byte

// uuidFromU16 expands a 16-bit Bluetooth SIG UUID into its full 128-bit
// form under the standard Bluetooth Base UUID
// (0000xxxx-0000-1000-8000-00805F9B34FB), matching
// original_source/bridge/src/ble.rs's uuid_from_u16.
func uuidFromU16(v uint16) UUID {
	u := UUID{
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x10, 0x00,
		0x80, 0x00, 0x00, 0x80,
		0x5F, 0x9B, 0x34, 0xFB,
	}
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return u
}

var (
	// ServiceUUID is the GATT service the door exposes its challenge
	// characteristic under.
	ServiceUUID = uuidFromU16(0xFFFF)
	// CharacteristicUUID is the single read/write characteristic used for
	// both reading the encrypted challenge and writing back the solved
	// plaintext.
	CharacteristicUUID = uuidFromU16(0xAAAA)
)

// SolveAttempts is how many times a Session retries the read-decrypt-write
// exchange against a discovered peripheral before giving up
// (original_source/bridge/src/ble.rs: BLE_SOLVE_ATTEMPTS).
const SolveAttempts = 4

// Peripheral is one connectable BLE device, already filtered to a
// specific discovered address by a Central's scan.
type Peripheral interface {
	// Address is the device's BLE MAC address.
	Address() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// ReadCharacteristic reads the current value of the characteristic
	// identified by (service, char).
	ReadCharacteristic(ctx context.Context, service, char UUID) ([]byte, error)
	// WriteCharacteristic writes data to the characteristic identified by
	// (service, char), without expecting a response. The bridge does not
	// learn whether the door accepted the value; a nil error only means
	// the write itself went through.
	WriteCharacteristic(ctx context.Context, service, char UUID, data []byte) error
}

// Central discovers Peripherals. Scan returns a channel of devices as they
// are discovered; it closes the channel when scanning stops (context
// cancellation, or the underlying adapter gives up).
type Central interface {
	Scan(ctx context.Context) (<-chan Peripheral, error)
}
