package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/monolink/internal/ble/protocol"
)

// LinkOptions configures the Monocle link.
type LinkOptions struct {
	Name            string        // advertised name to look for when no address is given
	BootloaderName  string        // advertised name of a device in DFU mode
	QueueSize       int           // max pending outbound messages
	ReconnectMax    int           // max reconnect backoff in seconds
	InterWriteDelay time.Duration // delay between payload-sized writes of one message
	ScanTimeout     time.Duration // length of one scan attempt
}

// DefaultLinkOptions returns sensible defaults.
func DefaultLinkOptions() LinkOptions {
	return LinkOptions{
		Name:            "monocle",
		BootloaderName:  "DfuTarg",
		QueueSize:       256,
		ReconnectMax:    30,
		InterWriteDelay: 5 * time.Millisecond,
		ScanTimeout:     10 * time.Second,
	}
}

type outbound struct {
	ch   protocol.Channel
	data []byte
}

// Link keeps a connection to one Monocle alive and serializes everything
// written to it. Received notifications and connection changes go to the
// Handler passed to Run.
type Link struct {
	adapter Adapter
	address string
	opts    LinkOptions

	mu        sync.Mutex
	conn      Connection
	serialRx  Characteristic
	dataRx    Characteristic
	payload   int // 0 when unknown
	connected bool
	bootScan  bool

	sendCh   chan outbound
	bootWake chan struct{}

	// Held for the length of a scan; adapters allow only one at a time.
	scanMu sync.Mutex
}

// NewLink creates a link to the device at address, or to the first device
// advertising opts.Name when address is empty.
func NewLink(adapter Adapter, address string, opts LinkOptions) *Link {
	def := DefaultLinkOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.BootloaderName == "" {
		opts.BootloaderName = def.BootloaderName
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	if opts.InterWriteDelay < 0 {
		opts.InterWriteDelay = 0
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	return &Link{
		adapter:  adapter,
		address:  address,
		opts:     opts,
		sendCh:   make(chan outbound, opts.QueueSize),
		bootWake: make(chan struct{}, 1),
	}
}

// Send queues data for the given channel. Writes happen in order on a single
// goroutine. Data sent while disconnected is dropped: the device would not
// understand it after a reconnect anyway.
func (l *Link) Send(ch protocol.Channel, data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case l.sendCh <- outbound{ch: ch, data: cp}:
	default:
		slog.Warn("[BLE] send queue full, dropping message", "channel", ch, "bytes", len(data))
	}
}

// MaxPayload returns the largest write the connection accepts, if known.
func (l *Link) MaxPayload() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.payload, l.payload > 0
}

// SetBootloaderScan turns the search for a device in DFU mode on or off.
func (l *Link) SetBootloaderScan(on bool) {
	l.mu.Lock()
	l.bootScan = on
	l.mu.Unlock()
	if on {
		select {
		case l.bootWake <- struct{}{}:
		default:
		}
	}
}

// Connected reports whether the Monocle is currently connected.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Run connects, reconnecting with exponential backoff whenever the link
// drops, until ctx is cancelled.
func (l *Link) Run(ctx context.Context, h Handler) error {
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	go l.sendLoop(ctx)
	go l.bootloaderLoop(ctx, h)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, l.opts.ReconnectMax)
			slog.Info("[BLE] reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		dropped, err := l.connect(ctx, h)
		if ctx.Err() != nil {
			l.close()
			return nil
		}
		if err != nil {
			slog.Warn("[BLE] connect failed", "error", err, "attempt", attempt+1)
			continue
		}

		select {
		case <-ctx.Done():
			l.close()
			return nil
		case <-dropped:
			slog.Warn("[BLE] disconnected, reconnecting...")
			l.setDisconnected()
			h.DeviceDisconnected()
			attempt = -1
		}
	}
}

// connect finds and connects to the Monocle, subscribes to both services and
// reports the connection. The returned channel closes when the link drops.
func (l *Link) connect(ctx context.Context, h Handler) (<-chan struct{}, error) {
	address := l.address
	if address == "" {
		dev, err := l.find(ctx, l.opts.Name)
		if err != nil {
			return nil, err
		}
		address = dev.Address
	}

	conn, err := l.adapter.Connect(ctx, address)
	if err != nil {
		return nil, err
	}

	dropped := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() { once.Do(func() { close(dropped) }) })

	if err := l.setConnected(conn, h); err != nil {
		conn.Disconnect()
		return nil, err
	}

	slog.Info("[BLE] connected", "address", address)
	h.DeviceConnected()
	return dropped, nil
}

func (l *Link) find(ctx context.Context, name string) (Device, error) {
	l.scanMu.Lock()
	defer l.scanMu.Unlock()
	if err := ctx.Err(); err != nil {
		return Device{}, err
	}
	scanCtx, cancel := context.WithTimeout(ctx, l.opts.ScanTimeout)
	defer cancel()
	devices, err := l.adapter.Scan(scanCtx, name)
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("ble: no device named %q found", name)
	}
	return strongest(devices), nil
}

// setConnected discovers the characteristics and records the payload size.
func (l *Link) setConnected(conn Connection, h Handler) error {
	serialRx, err := conn.DiscoverCharacteristic(SerialServiceUUID, SerialRxCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover serial rx: %w", err)
	}
	serialTx, err := conn.DiscoverCharacteristic(SerialServiceUUID, SerialTxCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover serial tx: %w", err)
	}
	dataRx, err := conn.DiscoverCharacteristic(DataServiceUUID, DataRxCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover data rx: %w", err)
	}
	dataTx, err := conn.DiscoverCharacteristic(DataServiceUUID, DataTxCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover data tx: %w", err)
	}

	if err := serialTx.Subscribe(func(b []byte) { h.SerialReceived(clone(b)) }); err != nil {
		return fmt.Errorf("ble: subscribe serial tx: %w", err)
	}
	if err := dataTx.Subscribe(func(b []byte) { h.DataReceived(clone(b)) }); err != nil {
		return fmt.Errorf("ble: subscribe data tx: %w", err)
	}

	payload := 0
	if mtu, err := serialRx.MTU(); err != nil {
		slog.Warn("[BLE] MTU unavailable", "error", err)
	} else if mtu > attOverhead {
		payload = mtu - attOverhead
	}

	l.mu.Lock()
	l.conn = conn
	l.serialRx = serialRx
	l.dataRx = dataRx
	l.payload = payload
	l.connected = true
	l.mu.Unlock()

	slog.Debug("[BLE] characteristics ready", "max_payload", payload)
	return nil
}

func (l *Link) setDisconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	l.conn = nil
	l.serialRx = nil
	l.dataRx = nil
	l.payload = 0
}

func (l *Link) close() {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
	l.setDisconnected()
}

// sendLoop is the only writer to the device.
func (l *Link) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-l.sendCh:
			if err := l.write(msg); err != nil {
				slog.Warn("[BLE] write failed", "channel", msg.ch, "error", err)
			}
		}
	}
}

// bootloaderRetry spaces out bootloader scans that found nothing.
const bootloaderRetry = 500 * time.Millisecond

var errNotConnected = errors.New("ble: not connected")

// write splits msg into payload-sized writes.
func (l *Link) write(msg outbound) error {
	l.mu.Lock()
	char := l.serialRx
	if msg.ch == protocol.ChannelData {
		char = l.dataRx
	}
	size := l.payload
	l.mu.Unlock()

	if char == nil {
		slog.Debug("[BLE] dropping write while disconnected", "channel", msg.ch, "bytes", len(msg.data))
		return errNotConnected
	}
	if size <= 0 {
		size = len(msg.data)
	}

	data := msg.data
	for len(data) > 0 {
		n := min(size, len(data))
		if err := char.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		if len(data) > 0 && l.opts.InterWriteDelay > 0 {
			time.Sleep(l.opts.InterWriteDelay)
		}
	}
	return nil
}

// bootloaderLoop scans for a device in DFU mode while bootloader scanning is
// on, reporting the first one found and then switching scanning off.
func (l *Link) bootloaderLoop(ctx context.Context, h Handler) {
	for {
		l.mu.Lock()
		on := l.bootScan
		l.mu.Unlock()

		if !on {
			select {
			case <-ctx.Done():
				return
			case <-l.bootWake:
				continue
			}
		}

		dev, err := l.find(ctx, l.opts.BootloaderName)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Debug("[BLE] bootloader not found yet", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(bootloaderRetry):
			}
			continue
		}

		l.mu.Lock()
		still := l.bootScan
		l.bootScan = false
		l.mu.Unlock()
		if !still {
			continue
		}
		slog.Info("[BLE] bootloader found", "address", dev.Address, "rssi", dev.RSSI)
		h.BootloaderConnected(dev.Address)
	}
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	max := time.Duration(maxSeconds) * time.Second
	if delay > max {
		return max
	}
	return delay
}

func strongest(devices []Device) Device {
	best := devices[0]
	for _, d := range devices[1:] {
		if d.RSSI > best.RSSI {
			best = d
		}
	}
	return best
}

func clone(b []byte) []byte {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
