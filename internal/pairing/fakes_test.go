package pairing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/arcushome/blepairing/internal/cloud"
	"github.com/arcushome/blepairing/internal/gatt"
)

type credentialWrite struct {
	pass, network, security string
}

// fakeTransport records what the coordinator asks of the session. Tests play the device side
// by calling the methods that invoke the interaction callback.
type fakeTransport struct {
	mu            sync.Mutex
	cb            gatt.InteractionCallback
	serial        string
	firmware      string
	writeFails    bool
	writes        []credentialWrite
	monitoring    bool
	monitorDelay  time.Duration
	monitorStarts int
	scans         int
	connects      int
	autoConnect   bool
	closes        int
	reconnects    int
	// forgetDevice makes Reconnect report that no device is cached.
	forgetDevice bool
	// onClose runs inside DisconnectAndClose, the way a real link reports its own teardown.
	onClose func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{serial: "SN-1", firmware: "1.2.0"}
}

func (f *fakeTransport) SetInteractionCallback(cb gatt.InteractionCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
}

func (f *fakeTransport) Connect(ctx context.Context, device gatt.Device, autoConnect bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.autoConnect = autoConnect
}

func (f *fakeTransport) Reconnect(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forgetDevice || f.connects == 0 {
		return false
	}
	f.reconnects++
	return true
}

func (f *fakeTransport) DisconnectAndClose() {
	f.mu.Lock()
	f.closes++
	f.monitoring = false
	onClose := f.onClose
	f.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

func (f *fakeTransport) WriteWiFiConfiguration(pass, network, securityType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeFails {
		return false
	}
	f.writes = append(f.writes, credentialWrite{pass, network, securityType})
	return true
}

func (f *fakeTransport) StartMonitoringNetworkStatus(delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitoring = true
	f.monitorDelay = delay
	f.monitorStarts++
	return nil
}

func (f *fakeTransport) StopMonitoringNetworkStatus() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitoring = false
}

func (f *fakeTransport) ScanForWiFiNetworks() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return true
}

func (f *fakeTransport) SerialNumber() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serial
}

func (f *fakeTransport) FirmwareRevision() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firmware
}

func (f *fakeTransport) callback() gatt.InteractionCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *fakeTransport) connected()              { f.callback().OnConnected() }
func (f *fakeTransport) disconnected(prev bool)  { f.callback().OnDisconnected(prev) }
func (f *fakeTransport) passWritten()            { f.callback().OnWriteSuccess(gatt.PassCharUUID) }
func (f *fakeTransport) statusRead(value string) { f.callback().OnReadSuccess(gatt.StatusCharUUID, []byte(value)) }

func (f *fakeTransport) isMonitoring() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.monitoring
}

func (f *fakeTransport) credentialWrites() []credentialWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]credentialWrite(nil), f.writes...)
}

func (f *fakeTransport) monitorSettings() (time.Duration, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.monitorDelay, f.monitorStarts
}

func (f *fakeTransport) setOnClose(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeTransport) setForgetDevice(forget bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgetDevice = forget
}

func (f *fakeTransport) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type subscriber struct {
	ch chan cloud.Event
}

// fakeCloud answers registration requests from per-test functions and fans pushed events out to listeners.
type fakeCloud struct {
	mu           sync.Mutex
	device       func(n int, req cloud.RegisterDeviceRequest) (cloud.RegisterDeviceResponse, error)
	hub          func(n int, hubID string) (cloud.HubRegistration, error)
	deviceCalls  int
	hubCalls     int
	requests     []cloud.RegisterDeviceRequest
	hubIDs       []string
	subs         map[*subscriber]bool
	subscribed   int
	blockRequest chan struct{}
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{subs: map[*subscriber]bool{}}
}

func (f *fakeCloud) RegisterDevice(ctx context.Context, req cloud.RegisterDeviceRequest) (cloud.RegisterDeviceResponse, error) {
	f.mu.Lock()
	f.deviceCalls++
	n := f.deviceCalls
	f.requests = append(f.requests, req)
	fn := f.device
	block := f.blockRequest
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return cloud.RegisterDeviceResponse{}, ctx.Err()
		}
	}
	if fn == nil {
		return cloud.RegisterDeviceResponse{}, &cloud.Error{Code: cloud.CodeNotFound}
	}
	return fn(n, req)
}

func (f *fakeCloud) RegisterHub(ctx context.Context, hubID string) (cloud.HubRegistration, error) {
	f.mu.Lock()
	f.hubCalls++
	n := f.hubCalls
	f.hubIDs = append(f.hubIDs, hubID)
	fn := f.hub
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return cloud.HubRegistration{}, err
	}
	if fn == nil {
		return cloud.HubRegistration{HubID: hubID, State: cloud.HubStateOffline}, nil
	}
	return fn(n, hubID)
}

func (f *fakeCloud) Events(ctx context.Context) (<-chan cloud.Event, error) {
	s := &subscriber{ch: make(chan cloud.Event, 16)}
	f.mu.Lock()
	f.subs[s] = true
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, s)
		close(s.ch)
	}()
	return s.ch, nil
}

func (f *fakeCloud) push(ev cloud.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (f *fakeCloud) listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeCloud) deviceCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceCalls
}

func (f *fakeCloud) hubCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hubCalls
}

// recordingView keeps every view call as a short string, ex: "wifi:WIFI_CONNECTED".
type recordingView struct {
	mu       sync.Mutex
	events   []string
	networks []gatt.ScanResult
}

func (v *recordingView) add(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events = append(v.events, fmt.Sprintf(format, args...))
}

func (v *recordingView) OnBleStatusChange(s BleStatus)    { v.add("ble:%s", s) }
func (v *recordingView) OnWiFiStatusChange(s WiFiStatus)  { v.add("wifi:%s", s) }
func (v *recordingView) OnIpcdStatusChange(s IpcdStatus)  { v.add("ipcd:%s", s) }
func (v *recordingView) OnHubPairEvent(hubID string)      { v.add("hub:paired:%s", hubID) }
func (v *recordingView) OnHubPairTimeout()                { v.add("hub:timeout") }
func (v *recordingView) OnWiFiSSIDNotUpdatedError()       { v.add("ssid:not_updated") }
func (v *recordingView) OnWiFiSSIDUpdateSuccess(s string) { v.add("ssid:updated:%s", s) }

func (v *recordingView) OnHubPairError(err error, hubID string) {
	v.add("hub:error:%s:%s", hubID, cloud.KindOf(err))
}

func (v *recordingView) OnWiFiNetworksFound(networks []gatt.ScanResult) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.networks = append(v.networks, networks...)
	v.events = append(v.events, "networks")
}

func (v *recordingView) all() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.events...)
}

func (v *recordingView) count(event string) int {
	var n int
	for _, e := range v.all() {
		if e == event {
			n++
		}
	}
	return n
}

func (v *recordingView) countPrefix(prefix string) int {
	var n int
	for _, e := range v.all() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func testSettings() Settings {
	return Settings{
		WiFiConnectionTimeout: time.Second * 5,
		SSIDUpdateTimeout:     time.Second * 5,
		IpcdTimeout:           time.Second * 5,
		HubTimeout:            time.Second * 5,
		NetworkStatusInterval: time.Millisecond * 5,
		IpcdInterval:          time.Millisecond,
		IpcdMaxAttempts:       30,
		HubInterval:           time.Millisecond,
	}
}

type harness struct {
	c         *Coordinator
	transport *fakeTransport
	cloud     *fakeCloud
	view      *recordingView
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		cloud:     newFakeCloud(),
		view:      &recordingView{},
	}
	h.c = NewCoordinator(logging.NewTestLogger(t), h.transport, h.cloud, h.view, settings)
	t.Cleanup(h.c.Cancel)
	return h
}

var (
	cameraDevice = gatt.Device{Name: "Iris_Camera_AABBCCDDEEFF", Address: "AA:BB:CC:DD:EE:FF"}
	plugDevice   = gatt.Device{Name: "Iris_Plug_AABBCCDDEEFF", Address: "AA:BB:CC:DD:EE:FF"}
	hubDevice    = gatt.Device{Name: "Iris_Hub_AABBCCDDEEFF", Address: "AA:BB:CC:DD:EE:FF"}
)

var homeNet = WiFiConnectInformation{SSID: "HomeNet", Password: "pw1", Security: "WPA2"}

// startConnected runs an attempt up to BleConnected.
func (h *harness) startConnected(t *testing.T, device gatt.Device, opts Options) {
	t.Helper()
	test.That(t, h.c.Start(context.Background(), device, opts), test.ShouldBeNil)
	// callbacks raised before the attempt starts belong to the previous one
	h.waitState(t, StateAwaitingBleConnection)
	h.transport.connected()
	h.waitState(t, StateBleConnected)
	h.waitEvent(t, "ble:BLE_CONNECTED")
}

// startMonitoring runs an attempt until the coordinator is polling network status.
func (h *harness) startMonitoring(t *testing.T, device gatt.Device, opts Options, isReconnect bool) {
	t.Helper()
	h.startConnected(t, device, opts)
	test.That(t, h.c.UpdateWiFiCredentials(homeNet, isReconnect), test.ShouldBeNil)
	h.transport.passWritten()
	h.waitState(t, StateMonitoringWifiStatus)
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.c.State(), test.ShouldEqual, s)
	})
}

func (h *harness) waitEvent(t *testing.T, event string) {
	t.Helper()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.view.all(), test.ShouldContain, event)
	})
}

// onLoop runs fn on the coordinator's event loop and waits for it, so tests can inspect loop-owned state.
func (h *harness) onLoop(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	test.That(t, h.c.submit(func() {
		fn()
		close(done)
	}), test.ShouldBeNil)
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("event loop did not run")
	}
}

// settle lets already queued work run.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	time.Sleep(time.Millisecond * 20)
	h.onLoop(t, func() {})
}
