package gatt

import (
	"context"
	"strings"
	"sync"

	errw "github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"tinygo.org/x/bluetooth"
)

// TinyGoRadio drives the host adapter through tinygo.org/x/bluetooth.
type TinyGoRadio struct {
	logger  logging.Logger
	adapter *bluetooth.Adapter

	mu          sync.Mutex
	peripherals map[string]*tinyGoPeripheral
}

// NewTinyGoRadio enables the default adapter.
func NewTinyGoRadio(logger logging.Logger) (*TinyGoRadio, error) {
	r := &TinyGoRadio{
		logger:      logger,
		adapter:     bluetooth.DefaultAdapter,
		peripherals: make(map[string]*tinyGoPeripheral),
	}
	if err := r.adapter.Enable(); err != nil {
		return nil, errw.Wrap(err, "enabling bluetooth adapter")
	}

	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr := strings.ToUpper(device.Address.String())
		r.mu.Lock()
		p, ok := r.peripherals[addr]
		delete(r.peripherals, addr)
		r.mu.Unlock()
		if ok {
			p.fireDisconnect()
		}
	})
	return r, nil
}

// Scan reports every named device for which match returns true, until ctx is done or report returns false.
func (r *TinyGoRadio) Scan(ctx context.Context, match func(Device) bool, report func(Device) bool) error {
	seen := make(map[string]bool)
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			if err := r.adapter.StopScan(); err != nil {
				r.logger.Debugw("error stopping scan", "error", err)
			}
		case <-done:
		}
	}()

	err := r.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" || seen[result.Address.String()] {
			return
		}
		dev := Device{Name: name, Address: result.Address.String(), RSSI: int(result.RSSI)}
		if !match(dev) {
			return
		}
		seen[result.Address.String()] = true
		if !report(dev) {
			if err := adapter.StopScan(); err != nil {
				r.logger.Debugw("error stopping scan", "error", err)
			}
		}
	})
	if err != nil && ctx.Err() == nil {
		return errw.Wrap(err, "scanning")
	}
	return nil
}

// FindDevice scans until the first device accepted by match.
func (r *TinyGoRadio) FindDevice(ctx context.Context, match func(Device) bool) (Device, error) {
	var found *Device
	err := r.Scan(ctx, match, func(d Device) bool {
		found = &d
		return false
	})
	if err != nil {
		return Device{}, err
	}
	if found == nil {
		if ctx.Err() != nil {
			return Device{}, errw.Wrap(ctx.Err(), "no matching device found")
		}
		return Device{}, errw.New("no matching device found")
	}
	return *found, nil
}

func (r *TinyGoRadio) Connect(ctx context.Context, device Device) (Peripheral, error) {
	var addr bluetooth.Address
	addr.Set(device.Address)

	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		d, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{d, err}
	}()

	select {
	case <-ctx.Done():
		// the adapter's own connect timeout will clean up the attempt
		return nil, errw.Wrapf(ctx.Err(), "connecting to %s", device.Address)
	case res := <-ch:
		if res.err != nil {
			return nil, errw.Wrapf(res.err, "connecting to %s", device.Address)
		}
		p := &tinyGoPeripheral{device: res.device}
		r.mu.Lock()
		r.peripherals[strings.ToUpper(device.Address)] = p
		r.mu.Unlock()
		return p, nil
	}
}

type tinyGoPeripheral struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (p *tinyGoPeripheral) DiscoverCharacteristics(
	service bluetooth.UUID, chars []bluetooth.UUID,
) (map[bluetooth.UUID]Characteristic, error) {
	svcs, err := p.device.DiscoverServices([]bluetooth.UUID{service})
	if err != nil {
		return nil, errw.Wrapf(err, "discovering service %s", service)
	}
	if len(svcs) == 0 {
		return nil, errw.Errorf("service %s not found", service)
	}

	// some stacks fail when asked for a characteristic that isn't there, so list them all and filter
	found, err := svcs[0].DiscoverCharacteristics(nil)
	if err != nil {
		return nil, errw.Wrapf(err, "discovering characteristics of %s", service)
	}

	want := make(map[bluetooth.UUID]bool, len(chars))
	for _, c := range chars {
		want[c] = true
	}
	out := make(map[bluetooth.UUID]Characteristic)
	for i := range found {
		if want[found[i].UUID()] {
			out[found[i].UUID()] = &tinyGoCharacteristic{char: found[i]}
		}
	}
	return out, nil
}

func (p *tinyGoPeripheral) Disconnect() error {
	return p.device.Disconnect()
}

func (p *tinyGoPeripheral) OnDisconnect(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnectCb = cb
}

func (p *tinyGoPeripheral) fireDisconnect() {
	p.mu.Lock()
	cb := p.disconnectCb
	p.disconnectCb = nil
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Read(p []byte) (int, error) {
	return c.char.Read(p)
}

func (c *tinyGoCharacteristic) Write(p []byte) (int, error) {
	return c.char.WriteWithoutResponse(p)
}
