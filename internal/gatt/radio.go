package gatt

import (
	"context"
	"regexp"
	"strings"

	"tinygo.org/x/bluetooth"
)

// Device is an advertising peripheral as seen during a scan.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Radio abstracts the host bluetooth adapter.
type Radio interface {
	// Connect opens a GATT connection. Implementations must return when ctx is done.
	Connect(ctx context.Context, device Device) (Peripheral, error)
}

// Peripheral is one open GATT connection.
type Peripheral interface {
	// DiscoverCharacteristics returns whichever of chars the service exposes.
	// A missing service is an error, a missing characteristic is not.
	DiscoverCharacteristics(service bluetooth.UUID, chars []bluetooth.UUID) (map[bluetooth.UUID]Characteristic, error)
	Disconnect() error
	// OnDisconnect registers a callback for link loss. It is called at most once, on a platform thread.
	OnDisconnect(cb func())
}

// Characteristic is a readable and/or writable GATT characteristic. Calls block until the round trip completes.
type Characteristic interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

var macSuffix = regexp.MustCompile(`[0-9A-Fa-f]{12}$`)

// MACFromName extracts the device MAC embedded at the end of an advertised name,
// ex: "Iris_Plug_A1B2C3D4E5F6" -> "A1B2C3D4E5F6". Returns "" if there is none.
func MACFromName(name string) string {
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(name))
	return strings.ToUpper(macSuffix.FindString(clean))
}
