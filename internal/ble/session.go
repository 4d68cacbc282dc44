package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbeckers/floralog/internal/ble/protocol"
)

// Options configures session timeouts.
type Options struct {
	ScanTimeout    time.Duration // discovery scan self-terminates after this
	ConnectTimeout time.Duration // connect attempt fails after this
}

// DefaultOptions returns the logger's standard timeouts.
func DefaultOptions() Options {
	return Options{
		ScanTimeout:    15 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Session drives a single FloraLog peripheral session: capability gate,
// discovery, connection, time sync, and log-file downloads.
//
// All state lives in a single actor goroutine. Public methods and the
// per-source transport goroutines (scan watcher, connect attempt,
// notification pump) only post typed messages into the actor's inbox, so
// transitions are serialized and events from each source are processed
// strictly in arrival order.
type Session struct {
	adapter Adapter
	opts    Options

	inbox chan message
	quit  chan struct{}

	// Everything below the inbox is owned by the run goroutine.
	status  Status
	devices []Device
	device  *Device
	message string
	busy    bool
	lines   []string

	conn     Connection
	timeChar Characteristic
	cmdChar  Characteristic
	dataChar Characteristic

	gateDecided bool
	gateErr     error
	gateReplies []chan error

	scanGen    int
	scanCancel context.CancelFunc

	connecting bool
	connectGen int

	downloadGen int
	reasm       *protocol.Reassembler
	pending     []string

	// Observer side, safe outside the run goroutine.
	current  atomic.Value // Snapshot
	watchMu  sync.Mutex
	watchers []chan Snapshot
}

// Messages consumed by the run loop. Commands come from the public API,
// events from transport goroutines. Generation counters let the loop drop
// events from cancelled scans, stale connects, and replaced downloads.
type message interface{}

type cmdRequestPermissions struct{ reply chan error }
type cmdStartScan struct{ reply chan error }
type cmdStopScan struct{}
type cmdConnect struct{ id string }
type cmdDisconnect struct{ reply chan struct{} }
type cmdSyncTime struct {
	at    time.Time
	reply chan error
}
type cmdPump struct{ reply chan error }
type cmdRequestLogFile struct {
	filename string
	reply    chan error
}
type cmdClose struct{ reply chan struct{} }

type evPermissions struct{ err error }
type evScanBatch struct {
	gen     int
	devices []Device
}
type evScanDone struct {
	gen int
	err error
}
type evConnected struct {
	gen      int
	dev      Device
	conn     Connection
	timeChar Characteristic
	cmdChar  Characteristic
	dataChar Characteristic
	err      error
}
type evWriteDone struct {
	op  string
	err error
}
type evChunk struct {
	gen  int
	data []byte
}
type evStreamErr struct {
	gen int
	err error
}
type evDropped struct{}

// NewSession creates a session over the given adapter and starts its
// actor goroutine. Callers must Close the session when done.
func NewSession(adapter Adapter, opts Options) *Session {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 15 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	s := &Session{
		adapter: adapter,
		opts:    opts,
		inbox:   make(chan message, 32),
		quit:    make(chan struct{}),
		status:  StatusInitial,
	}
	s.current.Store(s.buildSnapshot())
	go s.run()
	return s
}

// Snapshot returns the current immutable session snapshot.
func (s *Session) Snapshot() Snapshot {
	snap, _ := s.current.Load().(Snapshot)
	return snap
}

// Watch returns a channel receiving session snapshots and a cancel
// function releasing it. The channel always eventually carries the latest
// snapshot; intermediate ones may be dropped for slow receivers.
func (s *Session) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- s.Snapshot()
	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		for i, w := range s.watchers {
			if w == ch {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

// RequestPermissions opens the BLE capability gate. The check is one-shot
// process-wide: repeated calls return the first outcome.
func (s *Session) RequestPermissions() error {
	return s.ask(func(reply chan error) message { return cmdRequestPermissions{reply} })
}

// StartScan begins a discovery scan for logger peripherals. The scan
// self-terminates after the configured timeout. The returned error only
// reports precondition violations; transport failures surface through the
// snapshot.
func (s *Session) StartScan() error {
	return s.ask(func(reply chan error) message { return cmdStartScan{reply} })
}

// StopScan ends an active scan early. No-op if no scan is running.
func (s *Session) StopScan() {
	s.post(cmdStopScan{})
}

// Connect starts a connection attempt to the device with the given ID.
// A second call while an attempt is pending is silently ignored. The
// outcome surfaces through the snapshot.
func (s *Session) Connect(id string) {
	s.post(cmdConnect{id})
}

// Disconnect tears down the current connection, clears handles, the
// connected device, and downloaded lines, and returns the session to
// StatusReady. It blocks until the session state is cleared; the
// transport disconnect itself is best effort.
func (s *Session) Disconnect() {
	reply := make(chan struct{}, 1)
	if !s.send(cmdDisconnect{reply}) {
		return
	}
	select {
	case <-reply:
	case <-s.quit:
	}
}

// SyncTime writes the 7-byte time payload to the logger. Transport
// failures are returned to the caller; the session state is unaffected
// either way.
func (s *Session) SyncTime(at time.Time) error {
	return s.ask(func(reply chan error) message { return cmdSyncTime{at, reply} })
}

// Pump triggers the logger's watering pump. Like SyncTime, failures are
// returned without a state transition.
func (s *Session) Pump() error {
	return s.ask(func(reply chan error) message { return cmdPump{reply} })
}

// RequestLogFile starts downloading the named log file. Any download
// already in flight is cancelled first. The returned error only reports
// precondition violations; completion and stream errors surface through
// the snapshot (Busy flips false on the final chunk).
func (s *Session) RequestLogFile(filename string) error {
	return s.ask(func(reply chan error) message { return cmdRequestLogFile{filename, reply} })
}

// Close disconnects and stops the session actor.
func (s *Session) Close() error {
	reply := make(chan struct{}, 1)
	if !s.send(cmdClose{reply}) {
		return nil
	}
	select {
	case <-reply:
	case <-s.quit:
	}
	return nil
}

// ask posts a command carrying a reply channel and waits for the answer.
func (s *Session) ask(build func(chan error) message) error {
	reply := make(chan error, 1)
	if !s.send(build(reply)) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.quit:
		return ErrClosed
	}
}

func (s *Session) send(m message) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.quit:
		return false
	}
}

// post delivers transport events; drops them once the session is closed.
func (s *Session) post(m message) {
	select {
	case s.inbox <- m:
	case <-s.quit:
	}
}

// run is the actor loop. It is the only goroutine that touches session
// state.
func (s *Session) run() {
	for m := range s.inbox {
		switch m := m.(type) {
		case cmdRequestPermissions:
			s.handleRequestPermissions(m)
		case evPermissions:
			s.handlePermissions(m)
		case cmdStartScan:
			s.handleStartScan(m)
		case evScanBatch:
			s.handleScanBatch(m)
		case evScanDone:
			s.handleScanDone(m)
		case cmdStopScan:
			s.stopScan()
		case cmdConnect:
			s.handleConnect(m)
		case evConnected:
			s.handleConnected(m)
		case cmdDisconnect:
			s.teardown(StatusReady, "disconnected")
			m.reply <- struct{}{}
		case cmdSyncTime:
			s.handleSyncTime(m)
		case cmdPump:
			s.handlePump(m)
		case evWriteDone:
			s.handleWriteDone(m)
		case cmdRequestLogFile:
			s.handleRequestLogFile(m)
		case evChunk:
			s.handleChunk(m)
		case evStreamErr:
			s.handleStreamErr(m)
		case evDropped:
			s.handleDropped()
		case cmdClose:
			s.teardown(StatusReady, "session closed")
			close(s.quit)
			s.closeWatchers()
			m.reply <- struct{}{}
			return
		}
	}
}

func (s *Session) handleRequestPermissions(m cmdRequestPermissions) {
	if s.gateDecided {
		m.reply <- s.gateErr
		return
	}
	s.gateReplies = append(s.gateReplies, m.reply)
	if len(s.gateReplies) > 1 {
		return // check already in flight
	}
	go func() {
		s.post(evPermissions{err: s.adapter.Enable()})
	}()
}

func (s *Session) handlePermissions(m evPermissions) {
	s.gateDecided = true
	if m.err != nil {
		s.gateErr = fmt.Errorf("%w: %v", ErrPermissionDenied, m.err)
		s.status = StatusPermissionDenied
		s.message = "bluetooth permission denied: " + m.err.Error()
		slog.Warn("[BLE] permission denied", "error", m.err)
	} else {
		s.status = StatusReady
		s.message = "bluetooth ready"
		slog.Info("[BLE] adapter enabled")
	}
	s.publish()
	for _, reply := range s.gateReplies {
		reply <- s.gateErr
	}
	s.gateReplies = nil
}

func (s *Session) handleStartScan(m cmdStartScan) {
	switch s.status {
	case StatusReady, StatusScanDone, StatusError:
	case StatusScanning:
		// Restart: cancel the old subscription, start a fresh one.
		s.stopScan()
	default:
		m.reply <- fmt.Errorf("%w: cannot scan while %s", ErrNotReady, s.status)
		return
	}

	s.devices = nil
	s.status = StatusScanning
	s.message = "scanning for loggers"
	s.publish()
	m.reply <- nil

	s.scanGen++
	gen := s.scanGen
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ScanTimeout)
	s.scanCancel = cancel

	go func() {
		err := s.adapter.Scan(ctx, ServiceUUID, func(devices []Device) {
			s.post(evScanBatch{gen: gen, devices: devices})
		})
		cancel()
		s.post(evScanDone{gen: gen, err: err})
	}()
	slog.Info("[BLE] scan started", "timeout", s.opts.ScanTimeout)
}

func (s *Session) handleScanBatch(m evScanBatch) {
	if m.gen != s.scanGen || s.status != StatusScanning {
		return // stale scan
	}
	s.devices = m.devices
	s.message = fmt.Sprintf("found %d logger(s)", len(m.devices))
	s.publish()
}

func (s *Session) handleScanDone(m evScanDone) {
	if m.gen != s.scanGen || s.status != StatusScanning {
		return
	}
	s.scanCancel = nil
	if m.err != nil {
		err := fmt.Errorf("%w: %v", ErrScanFailed, m.err)
		s.status = StatusError
		s.message = err.Error()
		slog.Error("[BLE] scan failed", "error", m.err)
	} else {
		s.status = StatusScanDone
		s.message = fmt.Sprintf("scan finished, %d logger(s) found", len(s.devices))
		slog.Info("[BLE] scan finished", "devices", len(s.devices))
	}
	s.publish()
}

// stopScan cancels any active scan; the watcher goroutine reports back
// through evScanDone.
func (s *Session) stopScan() {
	if s.scanCancel != nil {
		s.scanCancel()
	}
}

func (s *Session) handleConnect(m cmdConnect) {
	if s.connecting {
		return // duplicate tap, one attempt at a time
	}
	switch s.status {
	case StatusReady, StatusScanDone, StatusScanning, StatusError:
	default:
		return
	}

	// Remember the advertised name before the list is cleared.
	dev := Device{ID: m.id}
	for _, d := range s.devices {
		if d.ID == m.id {
			dev = d
			break
		}
	}

	s.stopScan()
	s.scanGen++ // anything the old scan still delivers is stale

	s.connecting = true
	s.connectGen++
	gen := s.connectGen
	s.devices = nil
	s.status = StatusConnecting
	s.message = "connecting to " + deviceLabel(dev)
	s.publish()
	slog.Info("[BLE] connecting", "id", m.id, "name", dev.Name)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
		defer cancel()

		conn, err := s.adapter.Connect(ctx, m.id)
		if err != nil {
			s.post(evConnected{gen: gen, err: fmt.Errorf("%w: %v", ErrConnectFailed, err)})
			return
		}

		var chars [3]Characteristic
		for i, uuid := range []string{TimeCharUUID, CommandCharUUID, DataCharUUID} {
			chars[i], err = conn.DiscoverCharacteristic(ServiceUUID, uuid)
			if err != nil {
				// Required handle missing: tear the half-open link down once.
				conn.Disconnect()
				s.post(evConnected{gen: gen, err: fmt.Errorf("%w: %v", ErrConnectFailed, err)})
				return
			}
		}
		s.post(evConnected{
			gen: gen, dev: dev, conn: conn,
			timeChar: chars[0], cmdChar: chars[1], dataChar: chars[2],
		})
	}()
}

func (s *Session) handleConnected(m evConnected) {
	if m.gen != s.connectGen {
		// The session moved on while this attempt was in flight.
		if m.conn != nil {
			go func() { m.conn.Disconnect() }()
		}
		return
	}
	s.connecting = false
	if m.err != nil {
		s.status = StatusError
		s.message = m.err.Error()
		s.publish()
		slog.Error("[BLE] connect failed", "error", m.err)
		return
	}

	s.conn = m.conn
	s.timeChar = m.timeChar
	s.cmdChar = m.cmdChar
	s.dataChar = m.dataChar
	s.applyDevice(setDevice(m.dev))
	s.devices = nil
	s.status = StatusConnected
	s.message = "connected to " + deviceLabel(m.dev)
	s.publish()
	slog.Info("[BLE] connected", "id", m.dev.ID, "name", m.dev.Name)

	m.conn.OnDisconnect(func() {
		s.post(evDropped{})
	})
}

func (s *Session) handleSyncTime(m cmdSyncTime) {
	if s.status != StatusConnected {
		m.reply <- ErrNotConnected
		return
	}
	timeChar := s.timeChar
	go func() {
		err := timeChar.Write(protocol.EncodeTime(m.at))
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		s.post(evWriteDone{op: "time sync", err: err})
		m.reply <- err
	}()
}

func (s *Session) handlePump(m cmdPump) {
	if s.status != StatusConnected {
		m.reply <- ErrNotConnected
		return
	}
	cmdChar := s.cmdChar
	go func() {
		err := cmdChar.Write(protocol.PumpCommand())
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		s.post(evWriteDone{op: "pump command", err: err})
		m.reply <- err
	}()
}

// handleWriteDone updates the status message after a command write. Write
// failures against a live connection never tear it down; the caller
// already got the error and may retry.
func (s *Session) handleWriteDone(m evWriteDone) {
	if s.status != StatusConnected {
		return
	}
	if m.err != nil {
		s.message = m.op + " failed: " + m.err.Error()
		slog.Warn("[BLE] write failed", "op", m.op, "error", m.err)
	} else {
		s.message = m.op + " ok"
		slog.Info("[BLE] write ok", "op", m.op)
	}
	s.publish()
}

func (s *Session) handleRequestLogFile(m cmdRequestLogFile) {
	if s.status != StatusConnected {
		m.reply <- ErrNotConnected
		return
	}
	replacing := s.busy

	s.downloadGen++
	gen := s.downloadGen
	s.reasm = &protocol.Reassembler{}
	s.pending = nil
	s.busy = true
	s.message = "downloading " + m.filename
	s.publish()
	m.reply <- nil
	slog.Info("[BLE] download started", "file", m.filename)

	dataChar := s.dataChar
	cmdChar := s.cmdChar
	go func() {
		if replacing {
			// Drop the prior subscription before establishing the new one so
			// chunks from the two downloads never interleave. Best effort:
			// its chunks are stale-generation either way.
			if err := dataChar.Unsubscribe(); err != nil {
				slog.Debug("[BLE] unsubscribe", "error", err)
			}
		}
		err := dataChar.Subscribe(func(data []byte) {
			buf := make([]byte, len(data))
			copy(buf, data)
			s.post(evChunk{gen: gen, data: buf})
		})
		if err != nil {
			s.post(evStreamErr{gen: gen, err: fmt.Errorf("%w: %v", ErrStreamFailed, err)})
			return
		}
		if err := cmdChar.Write(protocol.FileRequest(m.filename)); err != nil {
			s.post(evStreamErr{gen: gen, err: fmt.Errorf("%w: %v", ErrWriteFailed, err)})
		}
	}()
}

func (s *Session) handleChunk(m evChunk) {
	if m.gen != s.downloadGen || !s.busy {
		return // chunk from a cancelled download
	}
	lines, done := s.reasm.Feed(m.data)
	s.pending = append(s.pending, lines...)
	if !done {
		return
	}

	s.lines = append(s.lines, s.pending...)
	s.pending = nil
	s.reasm = nil
	s.busy = false
	s.unsubscribeData()
	s.message = fmt.Sprintf("download complete, %d line(s)", len(s.lines))
	s.publish()
	slog.Info("[BLE] download complete", "lines", len(s.lines))
}

func (s *Session) handleStreamErr(m evStreamErr) {
	if m.gen != s.downloadGen {
		return
	}
	s.busy = false
	s.pending = nil
	s.reasm = nil
	s.unsubscribeData()
	// The link is no longer usable: release it so the error state never
	// holds a live connection or resolved handles. A later connect starts
	// from scratch.
	if conn := s.conn; conn != nil {
		go func() {
			if err := conn.Disconnect(); err != nil {
				slog.Debug("[BLE] disconnect", "error", err)
			}
		}()
	}
	s.conn = nil
	s.timeChar, s.cmdChar, s.dataChar = nil, nil, nil
	s.applyDevice(clearDevice())
	s.downloadGen++
	s.status = StatusError
	s.message = m.err.Error()
	s.publish()
	slog.Error("[BLE] download failed", "error", m.err)
}

// handleDropped reacts to an unexpected link loss.
func (s *Session) handleDropped() {
	if s.conn == nil {
		return
	}
	s.conn = nil
	s.timeChar, s.cmdChar, s.dataChar = nil, nil, nil
	s.applyDevice(clearDevice())
	s.busy = false
	s.pending = nil
	s.reasm = nil
	s.downloadGen++
	s.status = StatusError
	s.message = "connection lost"
	s.publish()
	slog.Warn("[BLE] connection lost")
}

// teardown releases every transport resource and resets the session to
// the given status. Unsubscribe and disconnect are best effort: the
// device may already be gone, so their failures are swallowed.
func (s *Session) teardown(status Status, msg string) {
	s.stopScan()
	s.scanGen++
	s.connectGen++ // a pending connect becomes stale
	s.connecting = false
	s.downloadGen++
	s.busy = false
	s.pending = nil
	s.reasm = nil

	if s.dataChar != nil {
		s.unsubscribeData()
	}
	if conn := s.conn; conn != nil {
		go func() {
			if err := conn.Disconnect(); err != nil {
				slog.Debug("[BLE] disconnect", "error", err)
			}
		}()
	}
	s.conn = nil
	s.timeChar, s.cmdChar, s.dataChar = nil, nil, nil
	s.applyDevice(clearDevice())
	s.devices = nil
	s.lines = nil
	if s.gateDecided && s.gateErr != nil {
		status = StatusPermissionDenied
	}
	s.status = status
	s.message = msg
	s.publish()
	slog.Info("[BLE] session reset", "status", status)
}

// unsubscribeData drops the data notification subscription, swallowing
// failures (the peripheral may already have closed the link).
func (s *Session) unsubscribeData() {
	if dataChar := s.dataChar; dataChar != nil {
		go func() {
			if err := dataChar.Unsubscribe(); err != nil {
				slog.Debug("[BLE] unsubscribe", "error", err)
			}
		}()
	}
}

func (s *Session) applyDevice(u deviceUpdate) {
	s.device = u.apply(s.device)
}

func (s *Session) buildSnapshot() Snapshot {
	return Snapshot{
		Status:    s.status,
		Devices:   s.devices,
		Connected: s.device,
		Message:   s.message,
		Busy:      s.busy,
		Lines:     s.lines,
	}
}

// publish replaces the visible snapshot and fans it out. Watcher channels
// hold one slot; a full channel is drained so the receiver always ends up
// with the latest snapshot.
func (s *Session) publish() {
	snap := s.buildSnapshot()
	s.current.Store(snap)
	s.watchMu.Lock()
	for _, ch := range s.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
	s.watchMu.Unlock()
}

func (s *Session) closeWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
}

func deviceLabel(d Device) string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}
