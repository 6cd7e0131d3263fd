// Package gatt owns the single BLE connection to a device being paired. Every characteristic read and
// write goes through one queue drained by one worker, so at most one GATT operation is in flight.
package gatt

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
	"tinygo.org/x/bluetooth"

	"github.com/arcushome/blepairing/internal/blecrypto"
	"github.com/arcushome/blepairing/utils"
)

// BLE characteristic values are capped at 512 bytes.
const maxValueLen = 512

var (
	ErrNotConnected          = errw.New("no active bluetooth connection")
	ErrSessionClosed         = errw.New("bluetooth session closed")
	ErrUnknownCharacteristic = errw.New("characteristic not discovered on device")
	ErrMissingCharacteristic = errw.New("device is missing a required characteristic")
)

// InteractionCallback receives transport events. Methods are called from the session's worker
// (or a platform thread for disconnects) and should hand off quickly.
type InteractionCallback interface {
	OnConnected()
	// OnDisconnected reports link loss. previouslyConnected is false when the connection attempt itself failed.
	OnDisconnected(previouslyConnected bool)
	OnReadSuccess(uuid bluetooth.UUID, value []byte)
	OnReadFailure(uuid bluetooth.UUID, err error)
	OnWriteSuccess(uuid bluetooth.UUID)
	OnWriteFailure(uuid bluetooth.UUID, err error)
}

type opKind int

const (
	opRead opKind = iota
	opWrite
)

type opResult struct {
	value []byte
	err   error
}

type operation struct {
	ctx     context.Context
	gen     uint64
	kind    opKind
	uuid    bluetooth.UUID
	data    []byte
	notify  bool
	monitor bool
	seq     uint64
	done    chan opResult
}

func (op *operation) finish(value []byte, err error) {
	if op.done != nil {
		op.done <- opResult{value: value, err: err}
	}
}

// Session is one BLE transport session. A Session may be connected, closed and connected again.
type Session struct {
	logger         logging.Logger
	radio          Radio
	encryptor      *blecrypto.Encryptor
	connectTimeout time.Duration
	retryBackoff   func() backoff.BackOff

	mu         sync.Mutex
	callback   InteractionCallback
	generation uint64
	peripheral Peripheral
	chars      map[bluetooth.UUID]Characteristic
	device     *Device
	previous   *Device
	mac        string
	serial     string
	firmware   string
	connected  bool
	downSent   bool

	monitoring   bool
	monitorSeq   uint64
	monitorDelay time.Duration
	monitorTimer *time.Timer

	ops     *utils.Queue[*operation]
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewSession returns an unconnected session. encryptor may be nil, in which case credential writes always fail.
func NewSession(logger logging.Logger, radio Radio, encryptor *blecrypto.Encryptor, connectTimeout time.Duration) *Session {
	if connectTimeout <= 0 {
		connectTimeout = time.Second * 30
	}
	return &Session{
		logger:         logger,
		radio:          radio,
		encryptor:      encryptor,
		connectTimeout: connectTimeout,
		retryBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (s *Session) SetInteractionCallback(cb InteractionCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Connect starts connecting to device in the background, replacing any tracked connection.
// Tearing down the old connection waits for its in-flight GATT operation, if any, to return.
// OnConnected fires once services are discovered and the serial number has been read.
// With autoConnect, failed connection attempts are retried with backoff until ctx is done.
func (s *Session) Connect(ctx context.Context, device Device, autoConnect bool) {
	s.teardown()

	ctx, cancel := context.WithCancel(ctx)
	ops := utils.NewQueue[*operation]()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	dev := device
	s.device = &dev
	s.previous = &dev
	mac := MACFromName(device.Name)
	s.mac = mac
	s.serial = ""
	s.firmware = ""
	s.downSent = false
	s.cancel = cancel
	s.ops = ops
	s.mu.Unlock()

	if mac == "" {
		s.logger.Warnw("advertised name carries no MAC, credential encryption will fail", "name", device.Name)
	}
	s.logger.Infow("connecting", "name", device.Name, "address", device.Address, "auto_connect", autoConnect)

	s.workers.Add(2)
	goutils.ManagedGo(func() { s.drain(ctx, ops) }, s.workers.Done)
	goutils.ManagedGo(func() { s.establish(ctx, gen, dev, autoConnect) }, s.workers.Done)
}

// Reconnect re-attaches to the last known device. It returns false immediately if there is none.
// Otherwise it behaves like Connect, which waits for an in-flight GATT operation on the old link to return.
func (s *Session) Reconnect(ctx context.Context) bool {
	s.mu.Lock()
	prev := s.previous
	s.mu.Unlock()
	if prev == nil {
		return false
	}
	s.Connect(ctx, *prev, false)
	return true
}

// DisconnectAndClose releases the connection and drops queued operations. No callbacks fire afterwards.
// Safe to call repeatedly. Must not be called from inside an InteractionCallback.
func (s *Session) DisconnectAndClose() {
	s.teardown()
	s.mu.Lock()
	s.device = nil
	s.mu.Unlock()
}

func (s *Session) teardown() {
	s.mu.Lock()
	s.generation++
	cancel := s.cancel
	s.cancel = nil
	p := s.peripheral
	s.peripheral = nil
	s.chars = nil
	wasConnected := s.connected
	s.connected = false
	s.monitoring = false
	utils.StopTimer(s.monitorTimer)
	s.monitorTimer = nil
	ops := s.ops
	s.ops = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ops != nil {
		ops.Close()
		for _, op := range ops.Drain() {
			op.finish(nil, ErrSessionClosed)
		}
	}
	if p != nil {
		if err := p.Disconnect(); err != nil {
			s.logger.Debugw("error disconnecting", "error", err)
		}
		if wasConnected {
			s.logger.Info("disconnected")
		}
	}
	s.workers.Wait()
}

func (s *Session) establish(ctx context.Context, gen uint64, dev Device, autoConnect bool) {
	var p Peripheral
	connect := func() error {
		cctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
		defer cancel()
		var err error
		p, err = s.radio.Connect(cctx, dev)
		return err
	}

	var err error
	if autoConnect {
		err = backoff.RetryNotify(connect, backoff.WithContext(s.retryBackoff(), ctx), func(err error, next time.Duration) {
			s.logger.Debugw("connect failed, retrying", "error", err, "next", next)
		})
	} else {
		err = connect()
	}
	if err != nil {
		s.failConnect(gen, nil, errw.Wrap(err, "connecting"))
		return
	}

	chars, err := discover(p)
	if err != nil {
		if dErr := p.Disconnect(); dErr != nil {
			s.logger.Debugw("error disconnecting", "error", dErr)
		}
		s.failConnect(gen, nil, err)
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if dErr := p.Disconnect(); dErr != nil {
			s.logger.Debugw("error disconnecting stale peripheral", "error", dErr)
		}
		return
	}
	s.peripheral = p
	s.chars = chars
	s.mu.Unlock()

	p.OnDisconnect(func() { s.handleDisconnect(gen) })

	serial, err := s.Read(ctx, SerialNumberCharUUID)
	if err != nil {
		s.failConnect(gen, p, errw.Wrap(err, "reading serial number"))
		return
	}

	var firmware []byte
	if s.hasCharacteristic(FirmwareRevisionCharUUID) {
		firmware, err = s.Read(ctx, FirmwareRevisionCharUUID)
		if err != nil {
			s.logger.Debugw("could not read firmware revision", "error", err)
		}
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.serial = cleanString(serial)
	s.firmware = cleanString(firmware)
	s.connected = true
	cb := s.callback
	s.mu.Unlock()

	s.logger.Infow("connected", "name", dev.Name, "serial", s.SerialNumber(), "firmware", s.FirmwareRevision())
	s.invoke(cb, func(cb InteractionCallback) { cb.OnConnected() })
}

func discover(p Peripheral) (map[bluetooth.UUID]Characteristic, error) {
	chars := make(map[bluetooth.UUID]Characteristic)

	wifi, err := p.DiscoverCharacteristics(WiFiConfigServiceUUID, wifiConfigChars)
	if err != nil {
		return nil, errw.Wrap(err, "discovering wifi configuration service")
	}
	info, err := p.DiscoverCharacteristics(DeviceInformationServiceUUID, deviceInfoChars)
	if err != nil {
		return nil, errw.Wrap(err, "discovering device information service")
	}
	for k, v := range wifi {
		chars[k] = v
	}
	for k, v := range info {
		chars[k] = v
	}

	for _, u := range requiredChars {
		if _, ok := chars[u]; !ok {
			return nil, errw.Wrap(ErrMissingCharacteristic, CharacteristicName(u))
		}
	}
	return chars, nil
}

// failConnect reports a connection attempt that never reached OnConnected. p, if set, is the
// published peripheral; it is disconnected here unless teardown or link loss already released it.
func (s *Session) failConnect(gen uint64, p Peripheral, err error) {
	s.mu.Lock()
	if gen != s.generation || s.downSent {
		s.mu.Unlock()
		return
	}
	s.downSent = true
	s.peripheral = nil
	s.chars = nil
	cb := s.callback
	s.mu.Unlock()

	if p != nil {
		if dErr := p.Disconnect(); dErr != nil {
			s.logger.Debugw("error disconnecting", "error", dErr)
		}
	}
	s.logger.Warnw("connection failed", "error", err)
	s.invoke(cb, func(cb InteractionCallback) { cb.OnDisconnected(false) })
}

func (s *Session) handleDisconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.downSent {
		s.mu.Unlock()
		return
	}
	s.downSent = true
	wasConnected := s.connected
	s.connected = false
	s.peripheral = nil
	s.chars = nil
	s.monitoring = false
	utils.StopTimer(s.monitorTimer)
	s.monitorTimer = nil
	ops := s.ops
	cb := s.callback
	s.mu.Unlock()

	if ops != nil {
		for _, op := range ops.Drain() {
			op.finish(nil, ErrNotConnected)
		}
	}
	s.logger.Warnw("link lost", "previously_connected", wasConnected)
	s.invoke(cb, func(cb InteractionCallback) { cb.OnDisconnected(wasConnected) })
}

// WriteWiFiConfiguration encrypts pass for this device and queues the SSID, AUTH and PASS writes in that order.
// It returns false, with nothing written, when there is no connection or encryption fails.
func (s *Session) WriteWiFiConfiguration(pass, network, securityType string) bool {
	s.mu.Lock()
	connected := s.connected
	mac := s.mac
	s.mu.Unlock()

	if !connected {
		s.logger.Warn("cannot write wifi configuration, not connected")
		return false
	}
	if s.encryptor == nil {
		s.logger.Error("cannot write wifi configuration, no encryption material configured")
		return false
	}
	encrypted, err := s.encryptor.Encrypt(mac, pass)
	if err != nil {
		s.logger.Errorw("failed to encrypt wifi password", "error", err)
		return false
	}
	s.logger.Debugw("writing wifi configuration", "ssid", network, "auth", securityType, "pass", blecrypto.HexString(encrypted))

	err = s.enqueue(
		&operation{kind: opWrite, uuid: SSIDCharUUID, data: []byte(network), notify: true},
		&operation{kind: opWrite, uuid: AuthCharUUID, data: []byte(securityType), notify: true},
		&operation{kind: opWrite, uuid: PassCharUUID, data: encrypted, notify: true},
	)
	if err != nil {
		s.logger.Warnw("cannot write wifi configuration", "error", err)
		return false
	}
	return true
}

// StartMonitoringNetworkStatus reads STATUS now and again delay after every successful read,
// until StopMonitoringNetworkStatus. The firmware does not reliably notify, so this polls.
func (s *Session) StartMonitoringNetworkStatus(delay time.Duration) error {
	s.mu.Lock()
	s.monitoring = true
	s.monitorSeq++
	seq := s.monitorSeq
	s.monitorDelay = delay
	utils.StopTimer(s.monitorTimer)
	s.monitorTimer = nil
	s.mu.Unlock()

	return s.enqueue(&operation{kind: opRead, uuid: StatusCharUUID, notify: true, monitor: true, seq: seq})
}

func (s *Session) StopMonitoringNetworkStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitoring = false
	s.monitorSeq++
	utils.StopTimer(s.monitorTimer)
	s.monitorTimer = nil
}

// rescheduleMonitor arms the next status read, unless monitoring was stopped or restarted since seq was issued.
func (s *Session) rescheduleMonitor(gen, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.monitoring || gen != s.generation || seq != s.monitorSeq {
		return
	}
	utils.StopTimer(s.monitorTimer)
	s.monitorTimer = time.AfterFunc(s.monitorDelay, func() {
		if err := s.enqueue(&operation{kind: opRead, uuid: StatusCharUUID, notify: true, monitor: true, seq: seq}); err != nil {
			s.logger.Debugw("stopped monitoring network status", "error", err)
		}
	})
}

// ScanForWiFiNetworks asks the device for a scan. Reading SCAN_RESULTS is what triggers it;
// the results arrive through OnReadSuccess.
func (s *Session) ScanForWiFiNetworks() bool {
	if !s.hasCharacteristic(ScanResultsCharUUID) {
		return false
	}
	if err := s.enqueue(&operation{kind: opRead, uuid: ScanResultsCharUUID, notify: true}); err != nil {
		s.logger.Debugw("cannot scan for networks", "error", err)
		return false
	}
	return true
}

// Read queues a read and waits for it. If ctx ends first the read is abandoned and,
// if still queued, never issued.
func (s *Session) Read(ctx context.Context, uuid bluetooth.UUID) ([]byte, error) {
	op := &operation{ctx: ctx, kind: opRead, uuid: uuid, done: make(chan opResult, 1)}
	if err := s.enqueue(op); err != nil {
		return nil, err
	}
	select {
	case r := <-op.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write queues a write and waits for it, with the same cancellation rules as Read.
func (s *Session) Write(ctx context.Context, uuid bluetooth.UUID, data []byte) error {
	op := &operation{ctx: ctx, kind: opWrite, uuid: uuid, data: data, done: make(chan opResult, 1)}
	if err := s.enqueue(op); err != nil {
		return err
	}
	select {
	case r := <-op.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue adds ops contiguously, so a multi-write sequence cannot interleave with other callers.
func (s *Session) enqueue(ops ...*operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peripheral == nil || s.ops == nil {
		return ErrNotConnected
	}
	for _, op := range ops {
		op.gen = s.generation
		if !s.ops.Push(op) {
			return ErrSessionClosed
		}
	}
	return nil
}

func (s *Session) drain(ctx context.Context, ops *utils.Queue[*operation]) {
	for {
		op, ok := ops.Pop(ctx)
		if !ok {
			return
		}
		s.execute(op)
	}
}

func (s *Session) execute(op *operation) {
	if op.ctx != nil && op.ctx.Err() != nil {
		op.finish(nil, op.ctx.Err())
		return
	}

	s.mu.Lock()
	if op.gen != s.generation {
		s.mu.Unlock()
		op.finish(nil, ErrSessionClosed)
		return
	}
	if op.monitor && (!s.monitoring || op.seq != s.monitorSeq) {
		s.mu.Unlock()
		return
	}
	char, ok := s.chars[op.uuid]
	cb := s.callback
	s.mu.Unlock()

	var value []byte
	var err error
	if !ok {
		err = errw.Wrap(ErrUnknownCharacteristic, CharacteristicName(op.uuid))
	} else {
		switch op.kind {
		case opRead:
			buf := make([]byte, maxValueLen)
			var n int
			n, err = char.Read(buf)
			if err == nil {
				value = buf[:n]
			}
		case opWrite:
			_, err = char.Write(op.data)
		}
	}

	if err != nil {
		s.logger.Debugw("characteristic operation failed", "characteristic", CharacteristicName(op.uuid), "error", err)
	} else {
		s.logger.Debugw("characteristic operation complete", "characteristic", CharacteristicName(op.uuid), "bytes", len(value)+len(op.data))
	}
	op.finish(value, err)

	if !op.notify || !s.current(op.gen) {
		return
	}
	switch {
	case op.kind == opRead && err == nil:
		s.invoke(cb, func(cb InteractionCallback) { cb.OnReadSuccess(op.uuid, value) })
		if op.monitor {
			s.rescheduleMonitor(op.gen, op.seq)
		}
	case op.kind == opRead:
		s.invoke(cb, func(cb InteractionCallback) { cb.OnReadFailure(op.uuid, err) })
	case err == nil:
		s.invoke(cb, func(cb InteractionCallback) { cb.OnWriteSuccess(op.uuid) })
	default:
		s.invoke(cb, func(cb InteractionCallback) { cb.OnWriteFailure(op.uuid, err) })
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

func (s *Session) invoke(cb InteractionCallback, fn func(InteractionCallback)) {
	if cb == nil {
		return
	}
	defer utils.Recover(s.logger, nil)
	fn(cb)
}

func (s *Session) hasCharacteristic(u bluetooth.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chars[u]
	return ok
}

// SerialNumber is the value read from the device information service during Connect.
func (s *Session) SerialNumber() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serial
}

func (s *Session) FirmwareRevision() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firmware
}

// MAC is the device MAC taken from its advertised name, used as key material.
func (s *Session) MAC() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mac
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Device returns the device currently tracked, if any.
func (s *Session) Device() (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return Device{}, false
	}
	return *s.device, true
}

func cleanString(b []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}
