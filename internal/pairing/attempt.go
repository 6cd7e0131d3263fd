package pairing

import (
	"github.com/arcushome/blepairing/internal/gatt"
)

// Attempt is one end-to-end pairing of one device. It is owned by the coordinator's event loop.
type Attempt struct {
	Device gatt.Device
	Class  DeviceClass
	State  State

	// Reconnect is set for flows that move an already paired device to a new network.
	Reconnect bool
	// ExpectedSSID is the network the cloud record must show before a reconnect succeeds.
	ExpectedSSID string
	// Credentials last written to the device.
	Credentials WiFiConnectInformation

	// InitialStatusRead is true until the device reports a status other than "disconnected"
	// after a credential write. Firmware reports "disconnected" while it is still associating.
	InitialStatusRead bool
	// SuppressBleDisconnect is set once the device is expected to drop the link on its own.
	SuppressBleDisconnect bool
	// EverConnected separates a dropped link from a connection that never came up.
	EverConnected bool

	Serial       string
	Firmware     string
	IpcdAttempts int
}

func newAttempt(device gatt.Device) *Attempt {
	return &Attempt{
		Device: device,
		Class:  ParseDeviceClass(device.Name),
		State:  StateAwaitingBleConnection,
	}
}

type outcomeKind int

const (
	outcomePending outcomeKind = iota
	outcomeConnected
	outcomeFailed
	outcomeIgnored
)

type statusOutcome struct {
	kind   outcomeKind
	status WiFiStatus
}

// observe applies one firmware status read to the attempt and decides what it means.
func (a *Attempt) observe(st gatt.NetworkStatus) statusOutcome {
	switch st {
	case gatt.NetworkStatusConnected:
		a.InitialStatusRead = false
		return statusOutcome{kind: outcomeConnected, status: WiFiConnected}
	case gatt.NetworkStatusDisconnected:
		// plugs report their final state on the first read, everything else gets a grace period
		if a.InitialStatusRead && a.Class != DeviceClassPlug {
			return statusOutcome{kind: outcomePending}
		}
		return statusOutcome{kind: outcomeFailed, status: WiFiFailedToConnect}
	case gatt.NetworkStatusNoServer:
		if a.InitialStatusRead {
			a.InitialStatusRead = false
			return statusOutcome{kind: outcomePending}
		}
		return statusOutcome{kind: outcomeFailed, status: WiFiNoServer}
	case gatt.NetworkStatusNoInternet:
		a.InitialStatusRead = false
		return statusOutcome{kind: outcomeFailed, status: WiFiNoInternet}
	case gatt.NetworkStatusBadSSID:
		a.InitialStatusRead = false
		return statusOutcome{kind: outcomeFailed, status: WiFiBadSSID}
	case gatt.NetworkStatusBadPassword:
		a.InitialStatusRead = false
		return statusOutcome{kind: outcomeFailed, status: WiFiBadPassword}
	case gatt.NetworkStatusFailed:
		a.InitialStatusRead = false
		return statusOutcome{kind: outcomeFailed, status: WiFiFailedToConnect}
	default:
		return statusOutcome{kind: outcomeIgnored}
	}
}
