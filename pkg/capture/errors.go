package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by this package matches exactly one
// of them with [errors.Is].
var (
	ErrAPIMissing         = errors.New("capture: recorder API not available")
	ErrInsecureContext    = errors.New("capture: microphone access requires a secure context")
	ErrDeviceAPIMissing   = errors.New("capture: device API not available")
	ErrPermissionDenied   = errors.New("capture: microphone permission denied")
	ErrDeviceBusy         = errors.New("capture: microphone in use")
	ErrDeviceNotFound     = errors.New("capture: microphone not found")
	ErrEncoderUnavailable = errors.New("capture: no usable encoder")
	ErrRecorderInitFailed = errors.New("capture: recorder initialisation failed")
	ErrNotRecording       = errors.New("capture: not recording")
	ErrSessionActive      = errors.New("capture: session already active")
	ErrEncoderFailed      = errors.New("capture: encoder failed while recording")
	ErrHandoffFailed      = errors.New("capture: recording hand-off failed")
)

// ErrorClass categorises a host failure.
type ErrorClass int

const (
	ClassOther ErrorClass = iota
	ClassPermission
	ClassBusy
	ClassNotFound
)

// String implements [fmt.Stringer].
func (c ErrorClass) String() string {
	switch c {
	case ClassPermission:
		return "permission"
	case ClassBusy:
		return "busy"
	case ClassNotFound:
		return "not-found"
	default:
		return "other"
	}
}

// HostError is returned by [Host] implementations to classify failures.
type HostError struct {
	Class ErrorClass
	Err   error
}

func (e *HostError) Error() string {
	if e.Err == nil {
		return "host error (" + e.Class.String() + ")"
	}
	return e.Err.Error()
}

func (e *HostError) Unwrap() error { return e.Err }

// Error is a classified capture failure. Kind is one of the package
// sentinels; Err carries the underlying diagnostic, which may be a
// *resilience.CascadeError listing every encoder construction attempt.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, cause error) error {
	return &Error{Kind: kind, Err: cause}
}

// classify maps a host failure onto the capture taxonomy. streamOpen reports
// whether a microphone stream had already been obtained: a "not found" error
// after that point means the encoder is missing rather than the device.
func classify(err error, streamOpen bool) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	var he *HostError
	if errors.As(err, &he) {
		switch he.Class {
		case ClassPermission:
			return newError(ErrPermissionDenied, err)
		case ClassBusy:
			return newError(ErrDeviceBusy, err)
		case ClassNotFound:
			if streamOpen {
				return newError(ErrRecorderInitFailed, err)
			}
			return newError(ErrDeviceNotFound, err)
		}
	}
	return newError(ErrRecorderInitFailed, err)
}

// Describe returns a user-facing message for err with a suggested action.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAPIMissing):
		return "Recording is not supported by this audio host."
	case errors.Is(err, ErrInsecureContext):
		return "Microphone access requires a secure connection (HTTPS). Please use HTTPS or localhost."
	case errors.Is(err, ErrDeviceAPIMissing):
		return "The audio device API is not available. Please use a host with microphone support."
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone permission denied. Allow microphone access for this application, then try again."
	case errors.Is(err, ErrDeviceBusy):
		return "Microphone is already in use by another application. Please close other applications using the microphone and try again."
	case errors.Is(err, ErrDeviceNotFound):
		return "Microphone not found. Please ensure a microphone is connected and try again."
	case errors.Is(err, ErrEncoderUnavailable):
		return "No supported recording format is available on this audio host."
	case errors.Is(err, ErrRecorderInitFailed):
		return fmt.Sprintf("Recording initialization failed: %v. This may be an audio host compatibility issue.", cause(err))
	case errors.Is(err, ErrEncoderFailed):
		return fmt.Sprintf("Recording error: %v", cause(err))
	case errors.Is(err, ErrNotRecording):
		return "There is no recording in progress."
	case errors.Is(err, ErrSessionActive):
		return "A recording is already in progress."
	case errors.Is(err, ErrHandoffFailed):
		return fmt.Sprintf("Failed to process audio: %v", cause(err))
	default:
		return err.Error()
	}
}

func cause(err error) error {
	var ce *Error
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err
	}
	return err
}
