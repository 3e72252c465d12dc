package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has no transport.
	//
	// This can occur if the Dialer returned a nil Transport or if the Modem
	// was not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when an operation is attempted on, or
	// Close is called on, a Modem that has already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrNotResponding is returned when the modem does not answer a bare AT
	// command within the probe timeout.
	ErrNotResponding = errors.New("modem not responding")

	// ErrTimeout is returned when none of the expected responses arrived
	// before the command's deadline. The command may be retried.
	ErrTimeout = errors.New("response timeout")

	// ErrCommandFailed is returned when the modem answered a command with
	// its error result code.
	ErrCommandFailed = errors.New("command failed")

	// ErrConnectFailed is returned when the modem reports that a socket
	// connection could not be established.
	ErrConnectFailed = errors.New("connect failed")

	// ErrAttachFailed is returned when a mandatory step of the bearer attach
	// sequence did not succeed. The remaining steps are not attempted.
	ErrAttachFailed = errors.New("bearer attach failed")

	// ErrInvalidSocketID is returned for multiplex ids outside
	// 0..MaxSockets-1.
	ErrInvalidSocketID = errors.New("invalid socket id")

	// ErrSocketInUse is returned when registering a socket on an id that
	// already has one.
	ErrSocketInUse = errors.New("socket id already in use")

	// ErrSocketReleased is returned by operations on a Socket after Release.
	ErrSocketReleased = errors.New("socket released")

	// ErrNoFreeSocket is returned when every socket slot is taken.
	ErrNoFreeSocket = errors.New("no free socket")

	// ErrTooManyPatterns is returned when a wait is given more response
	// patterns than it can watch.
	ErrTooManyPatterns = errors.New("too many response patterns")

	// ErrLineTooLong is returned when a modem response field exceeds the
	// input buffer.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")
)
