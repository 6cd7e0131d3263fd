package pairing

import (
	"strings"
)

// BleStatus values are reported through View.OnBleStatusChange.
type BleStatus int

const (
	BleConnecting BleStatus = iota
	BleConnected
	BleDisconnected
	BleConnectFailure
)

func (s BleStatus) String() string {
	switch s {
	case BleConnecting:
		return "BLE_CONNECTING"
	case BleConnected:
		return "BLE_CONNECTED"
	case BleDisconnected:
		return "BLE_DISCONNECTED"
	case BleConnectFailure:
		return "BLE_CONNECT_FAILURE"
	default:
		return "BLE_UNKNOWN"
	}
}

// WiFiStatus values are reported through View.OnWiFiStatusChange.
type WiFiStatus int

const (
	WiFiConnecting WiFiStatus = iota
	WiFiConnected
	WiFiFailedToConnect
	WiFiBadPassword
	WiFiBadSSID
	WiFiNoInternet
	WiFiNoServer
	WiFiErrorInWriting
	WiFiTimeout
)

func (s WiFiStatus) String() string {
	switch s {
	case WiFiConnecting:
		return "WIFI_CONNECTING"
	case WiFiConnected:
		return "WIFI_CONNECTED"
	case WiFiFailedToConnect:
		return "WIFI_FAILED_TO_CONNECT"
	case WiFiBadPassword:
		return "WIFI_BAD_PASSWORD"
	case WiFiBadSSID:
		return "WIFI_BAD_SSID"
	case WiFiNoInternet:
		return "WIFI_NO_INTERNET"
	case WiFiNoServer:
		return "WIFI_NO_SERVER"
	case WiFiErrorInWriting:
		return "WIFI_ERROR_IN_WRITING"
	case WiFiTimeout:
		return "WIFI_TIMEOUT"
	default:
		return "WIFI_UNKNOWN"
	}
}

// IpcdStatus values are reported through View.OnIpcdStatusChange.
type IpcdStatus int

const (
	IpcdSearching IpcdStatus = iota
	IpcdAdded
	IpcdAlreadyAdded
	IpcdClaimedElsewhere
	IpcdNotFound
)

func (s IpcdStatus) String() string {
	switch s {
	case IpcdSearching:
		return "IPCD_SEARCHING"
	case IpcdAdded:
		return "IPCD_ADDED"
	case IpcdAlreadyAdded:
		return "IPCD_ALREADY_ADDED"
	case IpcdClaimedElsewhere:
		return "IPCD_CLAIMED_ELSEWHERE"
	case IpcdNotFound:
		return "IPCD_NOT_FOUND"
	default:
		return "IPCD_UNKNOWN"
	}
}

// State is the position of a pairing attempt in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingBleConnection
	StateBleConnected
	StateWifiCredentialsWritten
	StateMonitoringWifiStatus
	StateWifiConnected
	StateWifiFailed
	StateAwaitingSSIDUpdate
	StateAwaitingCloudClaim
	StateAwaitingHubRegistration
	StateSuccess
	StateTimeout
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingBleConnection:
		return "awaiting_ble_connection"
	case StateBleConnected:
		return "ble_connected"
	case StateWifiCredentialsWritten:
		return "wifi_credentials_written"
	case StateMonitoringWifiStatus:
		return "monitoring_wifi_status"
	case StateWifiConnected:
		return "wifi_connected"
	case StateWifiFailed:
		return "wifi_failed"
	case StateAwaitingSSIDUpdate:
		return "awaiting_ssid_update"
	case StateAwaitingCloudClaim:
		return "awaiting_cloud_claim"
	case StateAwaitingHubRegistration:
		return "awaiting_hub_registration"
	case StateSuccess:
		return "success"
	case StateTimeout:
		return "timeout"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal states end the attempt. WifiFailed is not terminal; new credentials may be written.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateTimeout || s == StateError
}

// needsBle is true while the attempt still depends on the BLE link.
func (s State) needsBle() bool {
	switch s {
	case StateAwaitingBleConnection, StateBleConnected, StateWifiCredentialsWritten,
		StateMonitoringWifiStatus, StateWifiFailed:
		return true
	default:
		return false
	}
}

// acceptsCredentials is true in the states where UpdateWiFiCredentials may write to the device.
func (s State) acceptsCredentials() bool {
	switch s {
	case StateBleConnected, StateWifiCredentialsWritten, StateMonitoringWifiStatus, StateWifiFailed:
		return true
	default:
		return false
	}
}

// DeviceClass is the kind of device being paired, taken from its advertised name prefix.
type DeviceClass int

const (
	DeviceClassUnknown DeviceClass = iota
	DeviceClassCamera
	DeviceClassPlug
	DeviceClassHub
)

func (c DeviceClass) String() string {
	switch c {
	case DeviceClassCamera:
		return "camera"
	case DeviceClassPlug:
		return "plug"
	case DeviceClassHub:
		return "hub"
	default:
		return "unknown"
	}
}

var classPrefixes = []struct {
	prefix string
	class  DeviceClass
}{
	{"iris_cam", DeviceClassCamera},
	{"iris_plug", DeviceClassPlug},
	{"iris_hub", DeviceClassHub},
	{"iris_swann", DeviceClassCamera},
	{"swann", DeviceClassCamera},
	{"hub", DeviceClassHub},
}

// ParseDeviceClass classifies an advertised name, ex: "Iris_Plug_A1B2C3D4E5F6".
func ParseDeviceClass(name string) DeviceClass {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, p := range classPrefixes {
		if strings.HasPrefix(n, p.prefix) {
			return p.class
		}
	}
	return DeviceClassUnknown
}

// WiFiConnectInformation is what the user entered for the network the device should join.
type WiFiConnectInformation struct {
	SSID     string
	Password string
	// Security is the auth type written to the device, ex: "WPA2", "NONE".
	Security string
	// Extra is merged into the cloud claim request attributes.
	Extra map[string]string
}

// Secure is false for open networks.
func (w WiFiConnectInformation) Secure() bool {
	return w.Security != "" && !strings.EqualFold(w.Security, "none")
}
