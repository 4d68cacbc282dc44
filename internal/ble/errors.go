package ble

import "errors"

// Error kinds for the session operations. Transport failures are wrapped
// with one of these so callers can classify with errors.Is without
// depending on the underlying stack's error strings.
var (
	// ErrPermissionDenied means the capability gate never opened.
	ErrPermissionDenied = errors.New("ble: bluetooth permission denied")
	// ErrNotReady means an operation was invoked before permissions were granted.
	ErrNotReady = errors.New("ble: adapter not ready")
	// ErrNotConnected means a connected-only operation was invoked without a device.
	ErrNotConnected = errors.New("ble: no device connected")
	// ErrScanFailed wraps transport failures during discovery.
	ErrScanFailed = errors.New("ble: scan failed")
	// ErrConnectFailed wraps connect timeouts/failures and missing
	// characteristics found during post-connect validation.
	ErrConnectFailed = errors.New("ble: connect failed")
	// ErrWriteFailed wraps failed time-sync or command writes.
	ErrWriteFailed = errors.New("ble: write failed")
	// ErrStreamFailed wraps notification subscription failures and
	// mid-transfer stream errors.
	ErrStreamFailed = errors.New("ble: data stream failed")
	// ErrClosed means the session actor has been shut down.
	ErrClosed = errors.New("ble: session closed")
)
