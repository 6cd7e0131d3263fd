package gatt

import (
	"encoding/json"
	"strings"

	errw "github.com/pkg/errors"
)

// NetworkStatus is the device's view of its Wi-Fi link, decoded from the STATUS characteristic.
type NetworkStatus int

const (
	NetworkStatusUnrecognized NetworkStatus = iota
	NetworkStatusConnected
	NetworkStatusDisconnected
	NetworkStatusNoInternet
	NetworkStatusNoServer
	NetworkStatusBadSSID
	NetworkStatusBadPassword
	NetworkStatusFailed
)

var networkStatusValues = map[string]NetworkStatus{
	"connected":    NetworkStatusConnected,
	"disconnected": NetworkStatusDisconnected,
	"no_internet":  NetworkStatusNoInternet,
	"no_server":    NetworkStatusNoServer,
	"bad_ssid":     NetworkStatusBadSSID,
	"bad_password": NetworkStatusBadPassword,
	"bad_pass":     NetworkStatusBadPassword,
	"failed":       NetworkStatusFailed,
}

// ParseNetworkStatus decodes the firmware's free-text status. Matching is case-insensitive and ignores
// surrounding whitespace and trailing NUL padding.
func ParseNetworkStatus(value []byte) NetworkStatus {
	s := strings.ToLower(strings.TrimSpace(strings.TrimRight(string(value), "\x00")))
	if st, ok := networkStatusValues[s]; ok {
		return st
	}
	return NetworkStatusUnrecognized
}

func (s NetworkStatus) String() string {
	switch s {
	case NetworkStatusConnected:
		return "connected"
	case NetworkStatusDisconnected:
		return "disconnected"
	case NetworkStatusNoInternet:
		return "no_internet"
	case NetworkStatusNoServer:
		return "no_server"
	case NetworkStatusBadSSID:
		return "bad_ssid"
	case NetworkStatusBadPassword:
		return "bad_password"
	case NetworkStatusFailed:
		return "failed"
	default:
		return "unrecognized"
	}
}

// ScanResult is one network the device can see.
type ScanResult struct {
	SSID     string `json:"ssid"`
	Security string `json:"security"`
	Channel  int    `json:"channel"`
	Signal   int    `json:"signal"`
}

// Secure is true unless the network is open.
func (r ScanResult) Secure() bool {
	return r.Security != "" && !strings.EqualFold(r.Security, "none")
}

// ParseScanResults decodes the SCAN_RESULTS characteristic.
func ParseScanResults(value []byte) ([]ScanResult, error) {
	var body struct {
		Results []ScanResult `json:"scanresults"`
	}
	if err := json.Unmarshal([]byte(strings.TrimRight(string(value), "\x00")), &body); err != nil {
		return nil, errw.Wrap(err, "parsing scan results")
	}
	return body.Results, nil
}
