package ble

// Status is the session lifecycle state.
type Status int

const (
	// StatusInitial is the state before the capability gate is checked.
	StatusInitial Status = iota
	// StatusReady means the BLE capability gate is open (permissions granted).
	StatusReady
	// StatusPermissionDenied means the host refused Bluetooth access.
	StatusPermissionDenied
	// StatusScanning means a discovery scan is running.
	StatusScanning
	// StatusScanDone means the last scan finished or was stopped.
	StatusScanDone
	// StatusConnecting means a connection attempt is in flight.
	StatusConnecting
	// StatusConnected means a logger is connected with all handles resolved.
	StatusConnected
	// StatusError means the last state-changing operation failed.
	StatusError
)

func (s Status) String() string {
	return []string{
		"initial", "ready", "permission-denied", "scanning",
		"scan-done", "connecting", "connected", "error",
	}[s]
}

// Snapshot is an immutable view of the session at a point in time.
// Every transition replaces the whole snapshot, so observers never see a
// partial update. Slices are owned by the snapshot; observers must not
// mutate them.
type Snapshot struct {
	Status    Status
	Devices   []Device // discovered peripherals, replaced per scan batch
	Connected *Device  // nil unless a logger is connected
	Message   string   // human-readable description of the last event
	Busy      bool     // a log-file download is in flight
	Lines     []string // accumulated downloaded log lines
}

// deviceUpdate distinguishes "leave the connected device as-is" from
// "explicitly clear it" when building the next snapshot.
type deviceUpdate struct {
	set bool
	dev *Device // nil with set=true means clear
}

func keepDevice() deviceUpdate        { return deviceUpdate{} }
func setDevice(d Device) deviceUpdate { return deviceUpdate{set: true, dev: &d} }
func clearDevice() deviceUpdate       { return deviceUpdate{set: true} }

func (u deviceUpdate) apply(cur *Device) *Device {
	if !u.set {
		return cur
	}
	return u.dev
}
