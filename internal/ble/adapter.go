// Package ble provides the session manager for a FloraLog plant logger
// peripheral. It handles discovery, connection lifecycle, time sync, and
// streamed log-file downloads over Bluetooth Low Energy.
package ble

import "context"

// FloraLog BLE UUIDs
const (
	ServiceUUID     = "0000aaa0-0000-1000-8000-00805f9b34fb"
	TimeCharUUID    = "0000aaa1-0000-1000-8000-00805f9b34fb"
	CommandCharUUID = "0000aaa2-0000-1000-8000-00805f9b34fb"
	DataCharUUID    = "0000aaa3-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic without acknowledgement.
	// The logger protocol uses unacknowledged writes exclusively.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe stops notification delivery.
	Unsubscribe() error
}

// Device represents a discovered BLE peripheral.
// ID is the platform address: a MAC on Linux/Windows, a CoreBluetooth
// UUID string on macOS.
type Device struct {
	ID   string
	Name string
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. This is the capability gate: if it
	// fails, the host has denied Bluetooth access to the process.
	Enable() error
	// Scan discovers peripherals advertising the given service UUID. Each
	// invocation of batch carries the full filtered result set seen so far,
	// replacing any previous batch. Scan blocks until ctx is cancelled or
	// times out, then returns.
	Scan(ctx context.Context, serviceUUID string, batch func(devices []Device)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, id string) (Connection, error)
}
