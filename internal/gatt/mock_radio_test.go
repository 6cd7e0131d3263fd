package gatt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"
)

type writeRecord struct {
	uuid bluetooth.UUID
	data []byte
}

// mockDevice is shared state for every characteristic of one fake peripheral.
type mockDevice struct {
	mu       sync.Mutex
	values   map[bluetooth.UUID][]byte
	readErrs map[bluetooth.UUID]error
	reads    map[bluetooth.UUID]int
	writes   []writeRecord
	gates    map[bluetooth.UUID]chan struct{}

	latency     time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		values: map[bluetooth.UUID][]byte{
			SerialNumberCharUUID:     []byte("SN-0001\x00"),
			FirmwareRevisionCharUUID: []byte("2.1.0"),
			StatusCharUUID:           []byte("disconnected"),
			ScanResultsCharUUID:      []byte(`{"scanresults":[{"ssid":"home","security":"WPA2","channel":6,"signal":-40}]}`),
		},
		readErrs: map[bluetooth.UUID]error{},
		reads:    map[bluetooth.UUID]int{},
		gates:    map[bluetooth.UUID]chan struct{}{},
		latency:  time.Millisecond * 2,
	}
}

func (d *mockDevice) enter() {
	n := d.inFlight.Add(1)
	for {
		m := d.maxInFlight.Load()
		if n <= m || d.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(d.latency)
}

func (d *mockDevice) exit() {
	d.inFlight.Add(-1)
}

func (d *mockDevice) set(u bluetooth.UUID, v string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[u] = []byte(v)
}

// hold makes reads of u block until the returned channel is closed.
func (d *mockDevice) hold(u bluetooth.UUID) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	gate := make(chan struct{})
	d.gates[u] = gate
	return gate
}

func (d *mockDevice) readCount(u bluetooth.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[u]
}

func (d *mockDevice) writeLog() []writeRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]writeRecord(nil), d.writes...)
}

type mockCharacteristic struct {
	dev  *mockDevice
	uuid bluetooth.UUID
}

func (c *mockCharacteristic) Read(p []byte) (int, error) {
	c.dev.mu.Lock()
	gate := c.dev.gates[c.uuid]
	c.dev.mu.Unlock()
	c.dev.enter()
	if gate != nil {
		<-gate
	}
	defer c.dev.exit()
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.reads[c.uuid]++
	if err := c.dev.readErrs[c.uuid]; err != nil {
		return 0, err
	}
	return copy(p, c.dev.values[c.uuid]), nil
}

func (c *mockCharacteristic) Write(p []byte) (int, error) {
	c.dev.enter()
	defer c.dev.exit()
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	c.dev.writes = append(c.dev.writes, writeRecord{uuid: c.uuid, data: append([]byte(nil), p...)})
	return len(p), nil
}

type mockPeripheral struct {
	dev     *mockDevice
	missing map[bluetooth.UUID]bool

	mu           sync.Mutex
	disconnectCb func()
	disconnects  int
}

func (p *mockPeripheral) DiscoverCharacteristics(
	service bluetooth.UUID, chars []bluetooth.UUID,
) (map[bluetooth.UUID]Characteristic, error) {
	out := make(map[bluetooth.UUID]Characteristic)
	for _, u := range chars {
		if p.missing[u] {
			continue
		}
		out[u] = &mockCharacteristic{dev: p.dev, uuid: u}
	}
	return out, nil
}

func (p *mockPeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	return nil
}

func (p *mockPeripheral) OnDisconnect(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectCb = cb
}

func (p *mockPeripheral) disconnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}

// dropLink simulates the remote end going away.
func (p *mockPeripheral) dropLink() {
	p.mu.Lock()
	cb := p.disconnectCb
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type mockRadio struct {
	mu         sync.Mutex
	dev        *mockDevice
	missing    map[bluetooth.UUID]bool
	failures   int
	err        error
	connects   int
	peripheral *mockPeripheral
}

func newMockRadio() *mockRadio {
	return &mockRadio{dev: newMockDevice(), missing: map[bluetooth.UUID]bool{}}
}

func (r *mockRadio) Connect(ctx context.Context, device Device) (Peripheral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	if r.err != nil {
		return nil, r.err
	}
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("connection refused")
	}
	r.peripheral = &mockPeripheral{dev: r.dev, missing: r.missing}
	return r.peripheral, nil
}

func (r *mockRadio) connectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

func (r *mockRadio) current() *mockPeripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peripheral
}

type callbackEvent struct {
	kind  string
	uuid  bluetooth.UUID
	value []byte
	prev  bool
}

type recordingCallback struct {
	mu     sync.Mutex
	events []callbackEvent
}

func (c *recordingCallback) add(e callbackEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *recordingCallback) OnConnected() { c.add(callbackEvent{kind: "connected"}) }

func (c *recordingCallback) OnDisconnected(prev bool) {
	c.add(callbackEvent{kind: "disconnected", prev: prev})
}

func (c *recordingCallback) OnReadSuccess(u bluetooth.UUID, v []byte) {
	c.add(callbackEvent{kind: "read", uuid: u, value: v})
}

func (c *recordingCallback) OnReadFailure(u bluetooth.UUID, err error) {
	c.add(callbackEvent{kind: "read_failure", uuid: u})
}

func (c *recordingCallback) OnWriteSuccess(u bluetooth.UUID) {
	c.add(callbackEvent{kind: "write", uuid: u})
}

func (c *recordingCallback) OnWriteFailure(u bluetooth.UUID, err error) {
	c.add(callbackEvent{kind: "write_failure", uuid: u})
}

func (c *recordingCallback) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, e := range c.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (c *recordingCallback) all() []callbackEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]callbackEvent(nil), c.events...)
}
