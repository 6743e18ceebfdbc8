package driverfw

import "github.com/pkg/errors"

// Error codes mirrored from the original DriverError enum's numeric
// wire encoding (1-9, 255 for Unknown), kept so a driver-manager reply
// payload can carry a single byte across the IPC boundary the same
// way the original block_device.rs/driver_manager packed responses.
const (
	CodeInvalidArgument uint8 = iota + 1
	CodeDeviceNotFound
	CodeNotSupported
	CodeOutOfMemory
	CodeIOError
	CodeTimeout
	CodeAlreadyInitialized
	CodeNotInitialized
	CodePermissionDenied
	CodeUnknown uint8 = 255
)

// DriverError pairs a wire-compatible code with a descriptive error,
// so a driver can return an idiomatic Go error internally while still
// being able to answer "what byte do I put on the wire" at the IPC
// boundary.
type DriverError struct {
	Code uint8
	Err  error
}

func (e *DriverError) Error() string { return e.Err.Error() }
func (e *DriverError) Unwrap() error { return e.Err }

func newErr(code uint8, msg string) error {
	return &DriverError{Code: code, Err: errors.New(msg)}
}

var (
	ErrInvalidArgument     = newErr(CodeInvalidArgument, "driverfw: invalid argument")
	ErrDeviceNotFound      = newErr(CodeDeviceNotFound, "driverfw: device not found")
	ErrNotSupported        = newErr(CodeNotSupported, "driverfw: not supported")
	ErrOutOfMemory         = newErr(CodeOutOfMemory, "driverfw: out of memory")
	ErrIOError             = newErr(CodeIOError, "driverfw: io error")
	ErrTimeout             = newErr(CodeTimeout, "driverfw: timeout")
	ErrAlreadyInitialized  = newErr(CodeAlreadyInitialized, "driverfw: already initialized")
	ErrNotInitialized      = newErr(CodeNotInitialized, "driverfw: not initialized")
	ErrPermissionDenied    = newErr(CodePermissionDenied, "driverfw: permission denied")
)

// CodeOf extracts the wire code from err, defaulting to CodeUnknown
// for any error not produced by this package.
func CodeOf(err error) uint8 {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}
