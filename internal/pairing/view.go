package pairing

import "github.com/arcushome/blepairing/internal/gatt"

// View receives pairing progress. All methods are called from the coordinator's event loop, one at a time,
// and must not call Coordinator.Cancel.
type View interface {
	OnBleStatusChange(status BleStatus)
	OnWiFiStatusChange(status WiFiStatus)
	OnIpcdStatusChange(status IpcdStatus)
	OnHubPairEvent(hubID string)
	OnHubPairError(err error, hubID string)
	OnHubPairTimeout()
	// OnWiFiSSIDNotUpdatedError and OnWiFiSSIDUpdateSuccess end a reconnect flow.
	OnWiFiSSIDNotUpdatedError()
	OnWiFiSSIDUpdateSuccess(ssid string)
}

// NetworkListView is implemented by views that want the results of ScanForWiFiNetworks.
type NetworkListView interface {
	OnWiFiNetworksFound(networks []gatt.ScanResult)
}
