package ble

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// mockCharacteristic records writes and allows driving notifications.
type mockCharacteristic struct {
	mu           sync.Mutex
	writes       [][]byte
	callback     func([]byte)
	writeErr     error
	subscribeErr error
	unsubscribes int
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.callback = cb
	return nil
}

func (c *mockCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
	c.unsubscribes++
	return nil
}

// SimulateNotification delivers a chunk to the current subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// currentCallback exposes the live subscriber so tests can hold on to a
// superseded subscription.
func (c *mockCharacteristic) currentCallback() func([]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback
}

func (c *mockCharacteristic) unsubscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes
}

func (c *mockCharacteristic) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *mockCharacteristic) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		return nil
	}
	return c.writes[len(c.writes)-1]
}

// mockConnection simulates a connected logger with the three protocol
// characteristics. UUIDs listed in missing are reported as absent during
// discovery.
type mockConnection struct {
	mu           sync.Mutex
	timeChar     *mockCharacteristic
	cmdChar      *mockCharacteristic
	dataChar     *mockCharacteristic
	missing      map[string]bool
	disconnects  int
	disconnectCb func()
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		timeChar: &mockCharacteristic{},
		cmdChar:  &mockCharacteristic{},
		dataChar: &mockCharacteristic{},
		missing:  make(map[string]bool),
	}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.missing[charUUID] {
		return nil, fmt.Errorf("mock: characteristic %s not found", charUUID)
	}
	switch charUUID {
	case TimeCharUUID:
		return c.timeChar, nil
	case CommandCharUUID:
		return c.cmdChar, nil
	case DataCharUUID:
		return c.dataChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *mockConnection) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// mockAdvertisement is a peripheral visible during a mock scan, carrying
// the service UUID it advertises so the adapter can filter like the real
// transport does.
type mockAdvertisement struct {
	dev     Device
	service string
}

// mockAdapter simulates the BLE adapter. Scan blocks reading batches from
// scanBatches until the context ends, mirroring the hardware adapter.
type mockAdapter struct {
	mu           sync.Mutex
	enableErr    error
	connectErr   error
	connectCalls int
	connection   *mockConnection
	connectHold  chan struct{} // Connect blocks until closed, if set

	scanBatches chan []mockAdvertisement
	scanErr     error
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		connection:  newMockConnection(),
		scanBatches: make(chan []mockAdvertisement, 8),
	}
}

func (a *mockAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enableErr
}

func (a *mockAdapter) Scan(ctx context.Context, serviceUUID string, batch func([]Device)) error {
	a.mu.Lock()
	scanErr := a.scanErr
	a.mu.Unlock()
	if scanErr != nil {
		return scanErr
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case advs := <-a.scanBatches:
			var devices []Device
			for _, adv := range advs {
				if adv.service == serviceUUID {
					devices = append(devices, adv.dev)
				}
			}
			batch(devices)
		}
	}
}

func (a *mockAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	a.mu.Lock()
	a.connectCalls++
	hold := a.connectHold
	err := a.connectErr
	conn := a.connection
	a.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectCalls
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
