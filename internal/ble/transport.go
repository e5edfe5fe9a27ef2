package ble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/nerrad567/bedlink/internal/bed"
)

// Transport implements bed.Transport on top of the host's BLE adapter
// (BlueZ on Linux). One Transport serves every session in the process;
// BlueZ only allows a single active scan, so dials are serialised.
type Transport struct {
	adapter *bluetooth.Adapter
	logger  bed.Logger

	enableOnce sync.Once
	enableErr  error

	// scanMu serialises adapter scans: device discovery before a dial
	// and user-initiated scans share one radio.
	scanMu sync.Mutex

	mu    sync.Mutex
	links map[string]*link
}

// NewTransport creates a transport on the default host adapter.
func NewTransport() *Transport {
	return &Transport{
		adapter: bluetooth.DefaultAdapter,
		logger:  noopLogger{},
		links:   make(map[string]*link),
	}
}

// SetLogger sets the logger for the transport.
func (t *Transport) SetLogger(logger bed.Logger) {
	t.logger = logger
}

// enable powers the adapter and registers the disconnect watcher.
// Safe to call repeatedly; the underlying work happens once.
func (t *Transport) enable() error {
	t.enableOnce.Do(func() {
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = fmt.Errorf("enabling adapter: %w", err)
			return
		}
		// BlueZ signals link loss asynchronously; mark the matching
		// handle dead so the keep-alive monitor can react.
		t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			address := device.Address.String()
			t.mu.Lock()
			l := t.links[address]
			t.mu.Unlock()
			if l != nil {
				l.connected.Store(false)
				t.logger.Warn("link dropped by adapter", "address", address)
			}
		})
	})
	return t.enableErr
}

// Open connects to the bed at the given MAC address and discovers its
// write characteristic. Implements bed.Transport.
func (t *Transport) Open(ctx context.Context, address string, timeout time.Duration) (bed.Handle, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", bed.ErrInvalidAddress, address)
	}
	target := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	// BlueZ needs the device in its cache before Connect will succeed,
	// so scan until the advertisement shows up.
	if err := t.awaitAdvertisement(ctx, target, timeout); err != nil {
		return nil, err
	}

	device, err := t.adapter.Connect(target, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}

	char, err := t.discoverWriteCharacteristic(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("discovering write characteristic on %s: %w", address, err)
	}

	l := &link{
		transport: t,
		address:   address,
		device:    device,
		char:      char,
	}
	l.connected.Store(true)

	t.mu.Lock()
	t.links[address] = l
	t.mu.Unlock()

	t.logger.Debug("link established", "address", address)
	return l, nil
}

// awaitAdvertisement scans until the target device advertises, the
// timeout elapses, or ctx is cancelled.
func (t *Transport) awaitAdvertisement(ctx context.Context, target bluetooth.Address, timeout time.Duration) error {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	found := make(chan struct{})
	var foundOnce sync.Once

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	go func() {
		select {
		case <-found:
		case <-scanCtx.Done():
		}
		_ = t.adapter.StopScan()
	}()

	err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if result.Address.String() == target.String() {
			foundOnce.Do(func() { close(found) })
		}
	})
	if err != nil {
		return fmt.Errorf("scanning for %s: %w", target.String(), err)
	}

	select {
	case <-found:
		return nil
	default:
		if cerr := scanCtx.Err(); cerr != nil {
			return fmt.Errorf("device %s not found: %w", target.String(), cerr)
		}
		return fmt.Errorf("device %s not found", target.String())
	}
}

// discoverWriteCharacteristic walks the fallback chain: the OKIN vendor
// characteristic, then the Nordic UART RX characteristic, then the
// first characteristic of any service.
func (t *Transport) discoverWriteCharacteristic(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	if char, err := t.findCharacteristic(device, okinServiceUUID, okinWriteUUID); err == nil {
		t.logger.Debug("using okin vendor characteristic")
		return char, nil
	}
	if char, err := t.findCharacteristic(device, nusServiceUUID, nusWriteUUID); err == nil {
		t.logger.Debug("using nordic uart characteristic")
		return char, nil
	}

	// Last resort: any characteristic at all. Some clone boards expose
	// the control point under a random vendor UUID.
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discovering services: %w", err)
	}
	for _, service := range services {
		chars, err := service.DiscoverCharacteristics(nil)
		if err != nil || len(chars) == 0 {
			continue
		}
		t.logger.Warn("no known control service, using first characteristic",
			"service", service.UUID().String(), "characteristic", chars[0].UUID().String())
		return chars[0], nil
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("no writable characteristic found")
}

// findCharacteristic locates one characteristic inside one service.
func (t *Transport) findCharacteristic(device bluetooth.Device, serviceUUID, charUUID bluetooth.UUID) (bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	if len(services) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service %s not present", serviceUUID.String())
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not present", charUUID.String())
	}
	return chars[0], nil
}

// forget drops a closed link from the disconnect watcher's map.
func (t *Transport) forget(address string, l *link) {
	t.mu.Lock()
	if current, ok := t.links[address]; ok && current == l {
		delete(t.links, address)
	}
	t.mu.Unlock()
}

// link is one live connection. Implements bed.Handle.
type link struct {
	transport *Transport
	address   string
	device    bluetooth.Device
	char      bluetooth.DeviceCharacteristic

	connected atomic.Bool
	closeOnce sync.Once
}

// Write sends one command frame without response; OKIN controllers
// never acknowledge at the ATT layer.
func (l *link) Write(payload []byte) error {
	if !l.connected.Load() {
		return bed.ErrNotConnected
	}
	if _, err := l.char.WriteWithoutResponse(payload); err != nil {
		l.connected.Store(false)
		return err
	}
	return nil
}

// Connected reports whether the adapter still considers the link up.
func (l *link) Connected() bool {
	return l.connected.Load()
}

// Close disconnects the device. Safe to call more than once.
func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		l.transport.forget(l.address, l)
		err = l.device.Disconnect()
	})
	return err
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
