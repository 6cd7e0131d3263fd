// Package cloud is the platform side of pairing: device (IPCD) and hub registration requests,
// plus the push events that confirm a device joined or changed.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Attribute names carried in registration requests and value-change events.
const (
	AttrSerialNumber = "ipcd:sn"
	AttrIpcdVendor   = "ipcd:vendor"
	AttrIpcdModel    = "ipcd:model"
	AttrWiFiSSID     = "wifi:ssid"
)

// Client is the cloud RPC surface the pairing engine needs. Implementations must be safe for concurrent use
// and must return promptly once ctx is done.
type Client interface {
	// RegisterDevice asks the platform to claim an IPCD device at a place.
	RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (RegisterDeviceResponse, error)
	// RegisterHub asks the platform to register a hub, returning its current registration state.
	RegisterHub(ctx context.Context, hubID string) (HubRegistration, error)
	// Events streams push messages until ctx is done, then closes the channel.
	Events(ctx context.Context) (<-chan Event, error)
}

type RegisterDeviceRequest struct {
	PlaceID    string            `json:"place_id"`
	Attributes map[string]string `json:"attributes"`
}

type RegisterDeviceResponse struct {
	// Address is the platform address of the newly claimed device.
	Address string `json:"address"`
}

type HubRegistration struct {
	HubID    string   `json:"hub_id"`
	State    HubState `json:"state"`
	Progress int      `json:"progress"`
}

// HubState is the registration state reported for a hub.
type HubState int

const (
	HubStateUnrecognized HubState = iota
	HubStateOffline
	HubStateDownloading
	HubStateApplying
	HubStateRegistered
)

func ParseHubState(s string) HubState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFFLINE":
		return HubStateOffline
	case "DOWNLOADING":
		return HubStateDownloading
	case "APPLYING":
		return HubStateApplying
	case "REGISTERED":
		return HubStateRegistered
	default:
		return HubStateUnrecognized
	}
}

func (s HubState) String() string {
	switch s {
	case HubStateOffline:
		return "OFFLINE"
	case HubStateDownloading:
		return "DOWNLOADING"
	case HubStateApplying:
		return "APPLYING"
	case HubStateRegistered:
		return "REGISTERED"
	default:
		return "UNRECOGNIZED"
	}
}

// Paired is true once the hub is known to the platform, even if it is still updating firmware.
func (s HubState) Paired() bool {
	return s == HubStateDownloading || s == HubStateApplying || s == HubStateRegistered
}

func (s HubState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *HubState) UnmarshalText(text []byte) error {
	*s = ParseHubState(string(text))
	return nil
}

// EventType identifies a push message.
type EventType string

const (
	EventModelAdded  EventType = "base:Added"
	EventValueChange EventType = "base:ValueChange"
)

// Event is one push message from the platform.
type Event struct {
	Type       EventType         `json:"type"`
	Source     string            `json:"source"`
	Attributes map[string]string `json:"attributes"`
}

// Platform error codes.
const (
	CodeNotFound          = "request.destination.notfound"
	CodeClaimedElsewhere  = "error.register.activeincorrectplace"
	CodeAlreadyRegistered = "error.register.alreadyregistered"
	CodeOrphanedHub       = "error.register.orphanedhub"
	CodeFirmwareUpgrade   = "error.fwupgrade.failed"
)

// Error is a failure reported by the platform, as opposed to a transport failure reaching it.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorKind is the closed set of platform errors the pairing flow distinguishes.
type ErrorKind int

const (
	// ErrorKindNone means err was nil.
	ErrorKindNone ErrorKind = iota
	// ErrorKindTransport means the request never got a platform answer.
	ErrorKindTransport
	ErrorKindNotFound
	ErrorKindClaimedElsewhere
	ErrorKindAlreadyRegistered
	ErrorKindOrphanedHub
	ErrorKindFirmwareUpgradeFailed
	ErrorKindUnrecognized
)

var errorKinds = map[string]ErrorKind{
	CodeNotFound:          ErrorKindNotFound,
	CodeClaimedElsewhere:  ErrorKindClaimedElsewhere,
	CodeAlreadyRegistered: ErrorKindAlreadyRegistered,
	CodeOrphanedHub:       ErrorKindOrphanedHub,
	CodeFirmwareUpgrade:   ErrorKindFirmwareUpgradeFailed,
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var cErr *Error
	if !errors.As(err, &cErr) {
		return ErrorKindTransport
	}
	if k, ok := errorKinds[strings.ToLower(cErr.Code)]; ok {
		return k
	}
	return ErrorKindUnrecognized
}

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindTransport:
		return "transport"
	case ErrorKindNotFound:
		return "not_found"
	case ErrorKindClaimedElsewhere:
		return "claimed_elsewhere"
	case ErrorKindAlreadyRegistered:
		return "already_registered"
	case ErrorKindOrphanedHub:
		return "orphaned_hub"
	case ErrorKindFirmwareUpgradeFailed:
		return "firmware_upgrade_failed"
	default:
		return "unrecognized"
	}
}
