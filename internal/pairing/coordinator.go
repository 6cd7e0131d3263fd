// Package pairing drives a device from an open BLE link, through Wi-Fi provisioning, to a cloud registration.
package pairing

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	semver "github.com/Masterminds/semver/v3"
	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
	"tinygo.org/x/bluetooth"

	"github.com/arcushome/blepairing/internal/cloud"
	"github.com/arcushome/blepairing/internal/gatt"
	"github.com/arcushome/blepairing/utils"
)

var ErrCanceled = errw.New("pairing coordinator canceled")

// Transport is the BLE session the coordinator drives. *gatt.Session implements it.
type Transport interface {
	SetInteractionCallback(cb gatt.InteractionCallback)
	Connect(ctx context.Context, device gatt.Device, autoConnect bool)
	// Reconnect re-attaches to the last connected device, returning false if there is none.
	Reconnect(ctx context.Context) bool
	DisconnectAndClose()
	WriteWiFiConfiguration(pass, network, securityType string) bool
	StartMonitoringNetworkStatus(delay time.Duration) error
	StopMonitoringNetworkStatus()
	ScanForWiFiNetworks() bool
	SerialNumber() string
	FirmwareRevision() string
}

// Options describe one pairing attempt.
type Options struct {
	// PlaceID is where IPCD devices are claimed.
	PlaceID string
	// DeviceAddress is the platform address of an already paired device. Reconnect flows match
	// SSID updates against it; if empty any device reporting the expected SSID is accepted.
	DeviceAddress string
	AutoConnect   bool
	// ManualCloudRegistration leaves StartCloudRegistration to the caller after Wi-Fi connects.
	ManualCloudRegistration bool
}

// Coordinator runs pairing attempts. Every transport callback, cloud reply, push event and timer
// expiration is handed to a single event loop, which is the only place attempt state changes and
// the only place View methods are called from.
type Coordinator struct {
	logger    logging.Logger
	transport Transport
	cloud     cloud.Client
	view      View
	settings  Settings

	events  *utils.Queue[func()]
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
	epoch   atomic.Uint64

	mu       sync.Mutex
	state    State
	canceled bool

	// owned by the event loop
	attempt     *Attempt
	opts        Options
	timers      *timerSet
	phase       uint64
	phaseCancel context.CancelFunc
}

// NewCoordinator starts the event loop and takes over transport's callback.
func NewCoordinator(logger logging.Logger, transport Transport, cloudClient cloud.Client, view View, settings Settings) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		logger:    logger,
		transport: transport,
		cloud:     cloudClient,
		view:      view,
		settings:  settings,
		events:    utils.NewQueue[func()](),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.timers = newTimerSet(c.post)
	transport.SetInteractionCallback(transportEvents{c})

	c.workers.Add(1)
	goutils.ManagedGo(c.run, c.workers.Done)
	return c
}

func (c *Coordinator) run() {
	for {
		fn, ok := c.events.Pop(c.ctx)
		if !ok {
			return
		}
		c.dispatch(fn)
	}
}

func (c *Coordinator) dispatch(fn func()) {
	defer utils.Recover(c.logger, nil)
	if c.isCanceled() {
		return
	}
	fn()
}

func (c *Coordinator) post(fn func()) bool {
	return c.events.Push(fn)
}

func (c *Coordinator) submit(fn func()) error {
	if c.isCanceled() || !c.post(fn) {
		return ErrCanceled
	}
	return nil
}

// postTransport drops events that were raised for a session belonging to an earlier attempt.
func (c *Coordinator) postTransport(fn func()) {
	epoch := c.epoch.Load()
	c.post(func() {
		if epoch == c.epoch.Load() {
			fn()
		}
	})
}

// goAsync runs fn off the loop, accounted for by Cancel.
func (c *Coordinator) goAsync(fn func()) {
	c.workers.Add(1)
	goutils.ManagedGo(fn, c.workers.Done)
}

func (c *Coordinator) isCanceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

func (c *Coordinator) notify(fn func(View)) {
	if c.view == nil || c.isCanceled() {
		return
	}
	fn(c.view)
}

// State returns the current attempt state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	prev := c.attempt.State
	c.attempt.State = s
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Infow("pairing state changed", "from", prev, "to", s)
	}
}

// Start begins pairing device, replacing any attempt in progress.
func (c *Coordinator) Start(ctx context.Context, device gatt.Device, opts Options) error {
	return c.submit(func() { c.start(ctx, device, opts) })
}

// Reconnect re-attaches to the device of the last attempt once its BLE link has been lost.
// If no device is known the view gets BLE_CONNECT_FAILURE.
func (c *Coordinator) Reconnect(ctx context.Context) error {
	return c.submit(func() { c.reconnect(ctx) })
}

// UpdateWiFiCredentials writes network credentials to the connected device and waits for it to join.
// With isReconnect, success additionally requires the cloud record to show the new SSID.
func (c *Coordinator) UpdateWiFiCredentials(info WiFiConnectInformation, isReconnect bool) error {
	return c.submit(func() { c.updateWiFiCredentials(info, isReconnect) })
}

// ScanForWiFiNetworks asks the device for the networks it can see. Results go to a NetworkListView.
func (c *Coordinator) ScanForWiFiNetworks() error {
	return c.submit(func() {
		if !c.transport.ScanForWiFiNetworks() {
			c.logger.Warn("device cannot scan for networks right now")
		}
	})
}

// StartCloudRegistration begins the IPCD claim or hub registration once the device is on Wi-Fi.
// It is a no-op if registration is already running.
func (c *Coordinator) StartCloudRegistration() error {
	return c.submit(c.startCloudRegistration)
}

// Cancel ends everything: timers, listeners, in-flight requests and the BLE session.
// No View method is called once Cancel returns. Must not be called from a View method.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	if c.canceled {
		c.mu.Unlock()
		return
	}
	c.canceled = true
	c.mu.Unlock()

	c.cancel()
	c.events.Close()
	c.workers.Wait()

	// the loop has exited, so its state is ours now
	c.timers.disarmAll()
	c.endPhase()
	c.transport.StopMonitoringNetworkStatus()
	c.transport.DisconnectAndClose()
	c.logger.Info("pairing canceled")
}

func (c *Coordinator) start(ctx context.Context, device gatt.Device, opts Options) {
	if c.attempt != nil && !c.attempt.State.Terminal() {
		c.logger.Warnw("restarting pairing", "previous_device", c.attempt.Device.Name, "state", c.attempt.State)
	}
	c.resetTransport()
	c.opts = opts
	c.attempt = newAttempt(device)
	c.setState(StateAwaitingBleConnection)
	c.logger.Infow("pairing started", "device", device.Name, "class", c.attempt.Class)
	c.notify(func(v View) { v.OnBleStatusChange(BleConnecting) })

	c.transport.Connect(ctx, device, opts.AutoConnect)
}

// resetTransport tears down the previous attempt's link and then moves to a new epoch, so callbacks
// raised while the old link closes are dropped.
func (c *Coordinator) resetTransport() {
	c.timers.disarmAll()
	c.endPhase()
	c.transport.StopMonitoringNetworkStatus()
	c.transport.DisconnectAndClose()
	c.epoch.Add(1)
}

func (c *Coordinator) reconnect(ctx context.Context) {
	a := c.attempt
	if a != nil && a.State != StateError {
		c.logger.Warnw("not reconnecting, attempt has not failed", "state", a.State)
		return
	}
	c.resetTransport()

	if a == nil || !c.transport.Reconnect(ctx) {
		c.logger.Warn("no device to reconnect to")
		c.notify(func(v View) { v.OnBleStatusChange(BleConnectFailure) })
		return
	}
	c.attempt = newAttempt(a.Device)
	c.setState(StateAwaitingBleConnection)
	c.logger.Infow("reconnecting", "device", a.Device.Name)
	c.notify(func(v View) { v.OnBleStatusChange(BleConnecting) })
}

func (c *Coordinator) onConnected() {
	a := c.attempt
	if a == nil || a.State != StateAwaitingBleConnection {
		return
	}
	a.EverConnected = true
	a.Serial = c.transport.SerialNumber()
	a.Firmware = c.transport.FirmwareRevision()
	c.checkFirmware(a.Firmware)

	c.setState(StateBleConnected)
	c.notify(func(v View) { v.OnBleStatusChange(BleConnected) })
}

func (c *Coordinator) checkFirmware(revision string) {
	if c.settings.MinFirmware == nil || revision == "" {
		return
	}
	v, err := semver.NewVersion(revision)
	if err != nil {
		c.logger.Debugw("cannot parse firmware revision", "revision", revision, "error", err)
		return
	}
	if v.LessThan(c.settings.MinFirmware) {
		c.logger.Warnw("device firmware is older than the supported minimum",
			"firmware", v.String(), "minimum", c.settings.MinFirmware.String())
	}
}

func (c *Coordinator) onDisconnected(previouslyConnected bool) {
	a := c.attempt
	if a == nil || a.State.Terminal() {
		return
	}
	if a.State == StateAwaitingBleConnection && previouslyConnected {
		// the new link has never been up, so this is the previous one closing
		c.logger.Debug("ignoring disconnect from previous link")
		return
	}
	if a.SuppressBleDisconnect {
		c.logger.Debug("ignoring expected bluetooth disconnect")
		return
	}
	if !a.State.needsBle() {
		c.logger.Infow("device dropped bluetooth after joining wifi", "state", a.State)
		return
	}

	c.timers.disarm(timerWiFi, timerStatusRetry)
	c.transport.StopMonitoringNetworkStatus()

	status := BleDisconnected
	if !previouslyConnected && !a.EverConnected {
		status = BleConnectFailure
	}
	c.setState(StateError)
	c.notify(func(v View) { v.OnBleStatusChange(status) })
}

func securityType(info WiFiConnectInformation) string {
	if !info.Secure() {
		return "NONE"
	}
	return strings.ToUpper(info.Security)
}

func (c *Coordinator) updateWiFiCredentials(info WiFiConnectInformation, isReconnect bool) {
	a := c.attempt
	if a == nil || !a.State.acceptsCredentials() {
		state := StateIdle
		if a != nil {
			state = a.State
		}
		c.logger.Warnw("cannot write wifi credentials now", "state", state)
		c.notify(func(v View) { v.OnWiFiStatusChange(WiFiErrorInWriting) })
		return
	}

	c.timers.disarm(timerWiFi, timerStatusRetry)
	c.transport.StopMonitoringNetworkStatus()

	a.Reconnect = isReconnect
	a.ExpectedSSID = info.SSID
	a.Credentials = info
	a.InitialStatusRead = true

	if !c.transport.WriteWiFiConfiguration(info.Password, info.SSID, securityType(info)) {
		c.setState(StateError)
		c.notify(func(v View) { v.OnWiFiStatusChange(WiFiErrorInWriting) })
		return
	}

	c.setState(StateWifiCredentialsWritten)
	c.notify(func(v View) { v.OnWiFiStatusChange(WiFiConnecting) })
	c.timers.arm(timerWiFi, c.settings.WiFiConnectionTimeout, c.onWiFiTimeout)
	c.startMonitoring()
}

func (c *Coordinator) monitoring() bool {
	a := c.attempt
	return a != nil && (a.State == StateWifiCredentialsWritten || a.State == StateMonitoringWifiStatus)
}

func (c *Coordinator) startMonitoring() {
	if !c.monitoring() {
		return
	}
	if err := c.transport.StartMonitoringNetworkStatus(c.settings.NetworkStatusInterval); err != nil {
		c.logger.Warnw("cannot monitor network status, retrying", "error", err)
		c.timers.arm(timerStatusRetry, c.settings.NetworkStatusInterval, c.startMonitoring)
	}
}

func (c *Coordinator) onWiFiTimeout() {
	if !c.monitoring() {
		return
	}
	c.timers.disarm(timerStatusRetry)
	c.transport.StopMonitoringNetworkStatus()
	c.logger.Warn("timed out waiting for the device to join wifi")
	c.setState(StateWifiFailed)
	c.notify(func(v View) { v.OnWiFiStatusChange(WiFiTimeout) })
}

func isCredentialChar(uuid bluetooth.UUID) bool {
	return uuid == gatt.SSIDCharUUID || uuid == gatt.AuthCharUUID || uuid == gatt.PassCharUUID
}

func (c *Coordinator) onWriteSuccess(uuid bluetooth.UUID) {
	if uuid == gatt.PassCharUUID && c.attempt != nil && c.attempt.State == StateWifiCredentialsWritten {
		c.setState(StateMonitoringWifiStatus)
	}
}

func (c *Coordinator) onWriteFailure(uuid bluetooth.UUID, err error) {
	if !isCredentialChar(uuid) || !c.monitoring() {
		c.logger.Debugw("ignoring write failure", "characteristic", gatt.CharacteristicName(uuid), "error", err)
		return
	}
	c.logger.Errorw("writing wifi credentials failed", "characteristic", gatt.CharacteristicName(uuid), "error", err)
	c.timers.disarm(timerWiFi, timerStatusRetry)
	c.transport.StopMonitoringNetworkStatus()
	c.setState(StateError)
	c.notify(func(v View) { v.OnWiFiStatusChange(WiFiErrorInWriting) })
}

func (c *Coordinator) onReadSuccess(uuid bluetooth.UUID, value []byte) {
	switch uuid {
	case gatt.ScanResultsCharUUID:
		c.onScanResults(value)
	case gatt.StatusCharUUID:
		c.onNetworkStatus(value)
	}
}

func (c *Coordinator) onScanResults(value []byte) {
	networks, err := gatt.ParseScanResults(value)
	if err != nil {
		c.logger.Warnw("device returned unreadable scan results", "error", err)
		return
	}
	c.logger.Debugw("device found networks", "count", len(networks))
	if lv, ok := c.view.(NetworkListView); ok {
		c.notify(func(View) { lv.OnWiFiNetworksFound(networks) })
	}
}

func (c *Coordinator) onNetworkStatus(value []byte) {
	if !c.monitoring() {
		return
	}
	a := c.attempt
	st := gatt.ParseNetworkStatus(value)
	c.logger.Debugw("network status", "status", st, "initial", a.InitialStatusRead)

	out := a.observe(st)
	switch out.kind {
	case outcomePending:
	case outcomeIgnored:
		c.logger.Warnw("unrecognized network status from device", "value", string(value))
	case outcomeConnected:
		c.onWiFiConnected()
	case outcomeFailed:
		c.timers.disarm(timerWiFi, timerStatusRetry)
		c.transport.StopMonitoringNetworkStatus()
		c.setState(StateWifiFailed)
		c.notify(func(v View) { v.OnWiFiStatusChange(out.status) })
	}
}

func (c *Coordinator) onReadFailure(uuid bluetooth.UUID, err error) {
	if uuid != gatt.StatusCharUUID || !c.monitoring() {
		c.logger.Warnw("read failed", "characteristic", gatt.CharacteristicName(uuid), "error", err)
		return
	}
	// monitoring stops on a failed read, pick it back up until the wifi timeout decides
	c.logger.Debugw("network status read failed", "error", err)
	c.timers.arm(timerStatusRetry, c.settings.NetworkStatusInterval, c.startMonitoring)
}

func (c *Coordinator) onWiFiConnected() {
	a := c.attempt
	c.timers.disarm(timerWiFi, timerStatusRetry)
	c.transport.StopMonitoringNetworkStatus()
	c.setState(StateWifiConnected)

	if a.Reconnect {
		c.awaitSSIDUpdate()
		return
	}
	c.notify(func(v View) { v.OnWiFiStatusChange(WiFiConnected) })
	if !c.opts.ManualCloudRegistration {
		c.startCloudRegistration()
	}
}

// beginPhase starts a cloud phase. Work started for an earlier phase is cancelled and its results ignored.
func (c *Coordinator) beginPhase() (context.Context, uint64) {
	c.endPhase()
	ctx, cancel := context.WithCancel(c.ctx)
	c.phaseCancel = cancel
	return ctx, c.phase
}

func (c *Coordinator) endPhase() {
	if c.phaseCancel != nil {
		c.phaseCancel()
		c.phaseCancel = nil
	}
	c.phase++
}

// listen forwards push events accepted by match to handle on the loop, until ctx ends.
// match runs off the loop and must only use values it captured.
func (c *Coordinator) listen(ctx context.Context, match func(cloud.Event) bool, handle func(cloud.Event)) {
	events, err := c.cloud.Events(ctx)
	if err != nil {
		c.logger.Warnw("cannot listen for cloud events", "error", err)
		return
	}
	c.goAsync(func() {
		for ev := range events {
			if !match(ev) {
				continue
			}
			c.post(func() { handle(ev) })
		}
	})
}

func (c *Coordinator) awaitSSIDUpdate() {
	a := c.attempt
	a.SuppressBleDisconnect = true
	c.setState(StateAwaitingSSIDUpdate)

	ctx, phase := c.beginPhase()
	expected := a.ExpectedSSID
	address := c.opts.DeviceAddress

	c.timers.arm(timerSSIDUpdate, c.settings.SSIDUpdateTimeout, func() {
		if phase != c.phase || c.attempt.State != StateAwaitingSSIDUpdate {
			return
		}
		c.endPhase()
		c.logger.Warnw("cloud never reported the new network", "ssid", expected)
		c.setState(StateTimeout)
		c.notify(func(v View) { v.OnWiFiSSIDNotUpdatedError() })
	})

	c.listen(ctx, func(ev cloud.Event) bool {
		return ev.Type == cloud.EventValueChange &&
			(address == "" || ev.Source == address) &&
			ev.Attributes[cloud.AttrWiFiSSID] == expected
	}, func(cloud.Event) {
		if phase != c.phase || c.attempt.State != StateAwaitingSSIDUpdate {
			return
		}
		c.timers.disarm(timerSSIDUpdate)
		c.endPhase()
		c.setState(StateSuccess)
		c.notify(func(v View) { v.OnWiFiSSIDUpdateSuccess(expected) })
	})
}

func (c *Coordinator) startCloudRegistration() {
	a := c.attempt
	if a == nil {
		c.logger.Warn("no pairing attempt to register")
		return
	}
	switch a.State {
	case StateAwaitingCloudClaim, StateAwaitingHubRegistration:
		return
	case StateWifiConnected:
	default:
		c.logger.Warnw("cloud registration needs the device on wifi first", "state", a.State)
		return
	}

	if a.Class == DeviceClassHub {
		c.startHubRegistration()
	} else {
		c.startIpcdRegistration()
	}
}

func (c *Coordinator) registerRequest() cloud.RegisterDeviceRequest {
	a := c.attempt
	attrs := make(map[string]string, len(a.Credentials.Extra)+1)
	for k, v := range a.Credentials.Extra {
		attrs[k] = v
	}
	attrs[cloud.AttrSerialNumber] = a.Serial
	return cloud.RegisterDeviceRequest{PlaceID: c.opts.PlaceID, Attributes: attrs}
}

func (c *Coordinator) startIpcdRegistration() {
	a := c.attempt
	ctx, phase := c.beginPhase()
	a.IpcdAttempts = 0
	c.setState(StateAwaitingCloudClaim)
	c.notify(func(v View) { v.OnIpcdStatusChange(IpcdSearching) })

	c.timers.arm(timerIpcd, c.settings.IpcdTimeout, func() {
		c.logger.Warn("timed out waiting for the device to be claimed")
		c.finishIpcd(phase, IpcdNotFound)
	})

	serial := a.Serial
	c.listen(ctx, func(ev cloud.Event) bool {
		return ev.Type == cloud.EventModelAdded && serial != "" && ev.Attributes[cloud.AttrSerialNumber] == serial
	}, func(ev cloud.Event) {
		c.logger.Infow("device added", "address", ev.Source)
		c.finishIpcd(phase, IpcdAdded)
	})

	c.pollIpcd(ctx, phase)
}

func (c *Coordinator) pollIpcd(ctx context.Context, phase uint64) {
	a := c.attempt
	if phase != c.phase || a.State != StateAwaitingCloudClaim {
		return
	}
	if a.IpcdAttempts >= c.settings.IpcdMaxAttempts {
		c.finishIpcd(phase, IpcdNotFound)
		return
	}
	a.IpcdAttempts++
	n := a.IpcdAttempts
	req := c.registerRequest()
	c.goAsync(func() {
		resp, err := c.cloud.RegisterDevice(ctx, req)
		c.post(func() { c.onIpcdResult(ctx, phase, n, resp, err) })
	})
}

func (c *Coordinator) onIpcdResult(ctx context.Context, phase uint64, n int, resp cloud.RegisterDeviceResponse, err error) {
	if phase != c.phase || c.attempt.State != StateAwaitingCloudClaim {
		return
	}
	switch kind := cloud.KindOf(err); kind {
	case cloud.ErrorKindNone:
		c.logger.Infow("device claimed", "address", resp.Address)
		c.finishIpcd(phase, IpcdAdded)
	case cloud.ErrorKindAlreadyRegistered:
		c.finishIpcd(phase, IpcdAlreadyAdded)
	case cloud.ErrorKindClaimedElsewhere:
		c.finishIpcd(phase, IpcdClaimedElsewhere)
	default:
		c.logger.Debugw("device not visible to the platform yet", "attempt", n, "kind", kind, "error", err)
		if c.attempt.IpcdAttempts >= c.settings.IpcdMaxAttempts {
			c.finishIpcd(phase, IpcdNotFound)
			return
		}
		c.timers.arm(timerIpcdPoll, c.settings.IpcdInterval, func() { c.pollIpcd(ctx, phase) })
	}
}

// finishIpcd reports the single terminal outcome of a claim. Later outcomes for the same phase are dropped.
func (c *Coordinator) finishIpcd(phase uint64, status IpcdStatus) {
	if phase != c.phase || c.attempt.State != StateAwaitingCloudClaim {
		return
	}
	c.timers.disarm(timerIpcd, timerIpcdPoll)
	c.endPhase()

	switch status {
	case IpcdAdded, IpcdAlreadyAdded:
		c.setState(StateSuccess)
	case IpcdNotFound:
		c.setState(StateTimeout)
	default:
		c.setState(StateError)
	}
	c.logger.Infow("device claim finished", "status", status, "attempts", c.attempt.IpcdAttempts)
	c.notify(func(v View) { v.OnIpcdStatusChange(status) })
}

func (c *Coordinator) startHubRegistration() {
	a := c.attempt
	ctx, phase := c.beginPhase()
	hubID := a.Serial
	c.setState(StateAwaitingHubRegistration)

	c.timers.arm(timerHub, c.settings.HubTimeout, func() {
		if phase != c.phase || c.attempt.State != StateAwaitingHubRegistration {
			return
		}
		c.timers.disarm(timerHubPoll)
		c.endPhase()
		c.logger.Warnw("timed out waiting for hub registration", "hub", hubID)
		c.setState(StateTimeout)
		c.notify(func(v View) { v.OnHubPairTimeout() })
	})

	c.pollHub(ctx, phase, hubID)
}

func (c *Coordinator) pollHub(ctx context.Context, phase uint64, hubID string) {
	if phase != c.phase || c.attempt.State != StateAwaitingHubRegistration {
		return
	}
	c.goAsync(func() {
		resp, err := c.cloud.RegisterHub(ctx, hubID)
		c.post(func() { c.onHubResult(ctx, phase, hubID, resp, err) })
	})
}

func (c *Coordinator) onHubResult(ctx context.Context, phase uint64, hubID string, resp cloud.HubRegistration, err error) {
	if phase != c.phase || c.attempt.State != StateAwaitingHubRegistration {
		return
	}

	switch kind := cloud.KindOf(err); {
	case err == nil && resp.State.Paired():
		c.timers.disarm(timerHub, timerHubPoll)
		c.endPhase()
		c.logger.Infow("hub registered", "hub", hubID, "state", resp.State, "progress", resp.Progress)
		c.setState(StateSuccess)
		c.notify(func(v View) { v.OnHubPairEvent(hubID) })
		return
	case err == nil:
		c.logger.Debugw("hub not registered yet", "hub", hubID, "state", resp.State)
	case kind == cloud.ErrorKindTransport || kind == cloud.ErrorKindNotFound:
		c.logger.Debugw("hub not visible to the platform yet", "hub", hubID, "error", err)
	default:
		c.timers.disarm(timerHub, timerHubPoll)
		c.endPhase()
		c.logger.Errorw("hub registration failed", "hub", hubID, "kind", kind, "error", err)
		c.setState(StateError)
		c.notify(func(v View) { v.OnHubPairError(err, hubID) })
		return
	}
	c.timers.arm(timerHubPoll, c.settings.HubInterval, func() { c.pollHub(ctx, phase, hubID) })
}

// transportEvents moves session callbacks onto the coordinator's loop.
type transportEvents struct {
	c *Coordinator
}

func (t transportEvents) OnConnected() {
	t.c.postTransport(t.c.onConnected)
}

func (t transportEvents) OnDisconnected(previouslyConnected bool) {
	t.c.postTransport(func() { t.c.onDisconnected(previouslyConnected) })
}

func (t transportEvents) OnReadSuccess(uuid bluetooth.UUID, value []byte) {
	t.c.postTransport(func() { t.c.onReadSuccess(uuid, value) })
}

func (t transportEvents) OnReadFailure(uuid bluetooth.UUID, err error) {
	t.c.postTransport(func() { t.c.onReadFailure(uuid, err) })
}

func (t transportEvents) OnWriteSuccess(uuid bluetooth.UUID) {
	t.c.postTransport(func() { t.c.onWriteSuccess(uuid) })
}

func (t transportEvents) OnWriteFailure(uuid bluetooth.UUID, err error) {
	t.c.postTransport(func() { t.c.onWriteFailure(uuid, err) })
}
