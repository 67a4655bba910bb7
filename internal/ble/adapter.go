// Package ble connects to a Brilliant Labs Monocle over Bluetooth Low Energy.
// The Monocle exposes two Nordic-UART-style services: a serial service for
// the MicroPython raw REPL and a data service for tagged binary frames.
package ble

import "context"

// Monocle BLE UUIDs. Rx/Tx are named from the device's point of view: the
// host writes to Rx and is notified on Tx.
const (
	SerialServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	SerialRxCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	SerialTxCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"

	DataServiceUUID = "e5700001-7bac-429a-b4ce-57ff900f479d"
	DataRxCharUUID  = "e5700002-7bac-429a-b4ce-57ff900f479d"
	DataTxCharUUID  = "e5700003-7bac-429a-b4ce-57ff900f479d"
)

// attOverhead is the ATT header every write spends out of the MTU.
const attOverhead = 3

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic without response.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// MTU returns the negotiated ATT MTU of the connection.
	MTU() (int, error)
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string // MAC on Linux/Windows, CoreBluetooth UUID on macOS
	RSSI    int
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
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan returns peripherals whose advertised name starts with name
	// (case-insensitive) until ctx is done. An empty name matches all.
	Scan(ctx context.Context, name string) ([]Device, error)
	// Connect establishes a connection to the device at address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// Handler receives link events. Calls may arrive on any goroutine.
type Handler interface {
	DeviceConnected()
	DeviceDisconnected()
	// BootloaderConnected reports a device advertising in DFU mode.
	BootloaderConnected(address string)
	SerialReceived(data []byte)
	DataReceived(data []byte)
}
