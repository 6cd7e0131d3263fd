package gatt

import "tinygo.org/x/bluetooth"

// Wi-Fi configuration service exposed by device firmware during pairing.
var (
	WiFiConfigServiceUUID = mustParseUUID("9dab269a-0000-4c87-805f-bc42474d3c0b")

	// Reading this characteristic also triggers a fresh scan on the device.
	ScanResultsCharUUID = mustParseUUID("9dab269a-0001-4c87-805f-bc42474d3c0b")
	SSIDCharUUID        = mustParseUUID("9dab269a-0002-4c87-805f-bc42474d3c0b")
	AuthCharUUID        = mustParseUUID("9dab269a-0003-4c87-805f-bc42474d3c0b")
	PassCharUUID        = mustParseUUID("9dab269a-0004-4c87-805f-bc42474d3c0b")
	StatusCharUUID      = mustParseUUID("9dab269a-0005-4c87-805f-bc42474d3c0b")
)

// Generic device information service.
var (
	DeviceInformationServiceUUID = bluetooth.New16BitUUID(0x180A)
	SerialNumberCharUUID         = bluetooth.New16BitUUID(0x2A25)
	FirmwareRevisionCharUUID     = bluetooth.New16BitUUID(0x2A26)
)

var (
	wifiConfigChars = []bluetooth.UUID{ScanResultsCharUUID, SSIDCharUUID, AuthCharUUID, PassCharUUID, StatusCharUUID}
	deviceInfoChars = []bluetooth.UUID{SerialNumberCharUUID, FirmwareRevisionCharUUID}

	requiredChars = []bluetooth.UUID{SSIDCharUUID, AuthCharUUID, PassCharUUID, StatusCharUUID, SerialNumberCharUUID}
)

// CharacteristicName returns a short label for logging.
func CharacteristicName(u bluetooth.UUID) string {
	switch u {
	case ScanResultsCharUUID:
		return "scan_results"
	case SSIDCharUUID:
		return "ssid"
	case AuthCharUUID:
		return "auth"
	case PassCharUUID:
		return "pass"
	case StatusCharUUID:
		return "status"
	case SerialNumberCharUUID:
		return "serial_number"
	case FirmwareRevisionCharUUID:
		return "firmware_revision"
	default:
		return u.String()
	}
}

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}
