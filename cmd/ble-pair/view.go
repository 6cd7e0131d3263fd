package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"go.viam.com/rdk/logging"

	"github.com/arcushome/blepairing/internal/cloud"
	"github.com/arcushome/blepairing/internal/gatt"
	"github.com/arcushome/blepairing/internal/pairing"
)

// consoleView prints pairing progress behind a spinner.
type consoleView struct {
	logger logging.Logger

	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	networks chan []gatt.ScanResult
	ble      chan pairing.BleStatus
}

func newConsoleView(logger logging.Logger) *consoleView {
	return &consoleView{
		logger: logger,
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("starting"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		),
		networks: make(chan []gatt.ScanResult, 1),
		ble:      make(chan pairing.BleStatus, 8),
	}
}

// tick advances the spinner.
func (v *consoleView) tick() {
	v.mu.Lock()
	defer v.mu.Unlock()
	//nolint:errcheck
	v.bar.Add(1)
}

func (v *consoleView) finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	//nolint:errcheck
	v.bar.Finish()
}

func (v *consoleView) status(desc string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bar.Describe(desc)
	v.logger.Info(desc)
}

func (v *consoleView) OnBleStatusChange(s pairing.BleStatus) {
	v.status("bluetooth: " + s.String())
	select {
	case v.ble <- s:
	default:
	}
}

// drainBle discards bluetooth statuses reported so far.
func (v *consoleView) drainBle() {
	for {
		select {
		case <-v.ble:
		default:
			return
		}
	}
}

func (v *consoleView) OnWiFiStatusChange(s pairing.WiFiStatus) {
	v.status("wifi: " + s.String())
}

func (v *consoleView) OnIpcdStatusChange(s pairing.IpcdStatus) {
	v.status("cloud: " + s.String())
}

func (v *consoleView) OnHubPairEvent(hubID string) {
	v.status("hub registered: " + hubID)
}

func (v *consoleView) OnHubPairError(err error, hubID string) {
	v.status(fmt.Sprintf("hub %s registration failed (%s)", hubID, cloud.KindOf(err)))
	v.logger.Debug(err)
}

func (v *consoleView) OnHubPairTimeout() {
	v.status("hub registration timed out")
}

func (v *consoleView) OnWiFiSSIDNotUpdatedError() {
	v.status("cloud never reported the new network")
}

func (v *consoleView) OnWiFiSSIDUpdateSuccess(ssid string) {
	v.status("device moved to " + ssid)
}

func (v *consoleView) OnWiFiNetworksFound(networks []gatt.ScanResult) {
	select {
	case v.networks <- networks:
	default:
		v.logger.Debug("dropping stale network list")
	}
}
