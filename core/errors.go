package core

import "errors"

// Configuration errors returned synchronously from Recorder.Start.
var (
	ErrNoChannels          = errors.New("no channels configured")
	ErrTooManyChannels     = errors.New("too many channels")
	ErrInvalidChannel      = errors.New("channel has no multiplexer selector")
	ErrZeroWindow          = errors.New("channel window size is zero")
	ErrWindowNotPowerOfTwo = errors.New("channel window size must be a power of two")
	ErrWindowTooLarge      = errors.New("channel window larger than channel buffer")
	ErrBufferTooSmall      = errors.New("sample buffer too small for channel count")
	ErrResolution          = errors.New("unsupported bit resolution")
	ErrWarmupRange         = errors.New("warmup longer than the scheduler range")
)

// Solver and clock errors.
var (
	ErrImpossibleClock    = errors.New("impossible clock")
	ErrZeroDivision       = errors.New("zero division")
	ErrTooManyDivisors    = errors.New("too many divisor candidates")
	ErrCompareRange       = errors.New("compare value out of register range")
	ErrUnsupportedDivisor = errors.New("divisor not supported by timer")
)

// Error codes carried by recording_error responses.
const (
	CodeOK uint8 = iota
	CodeNoChannels
	CodeTooManyChannels
	CodeInvalidChannel
	CodeZeroWindow
	CodeWindowNotPowerOfTwo
	CodeWindowTooLarge
	CodeBufferTooSmall
	CodeResolution
	CodeImpossibleClock
	CodeZeroDivision
	CodeTooManyDivisors
	CodeCompareRange
	CodeUnsupportedDivisor
	CodeChannelArming
	CodeWarmupRange
	CodeUnknown = 0xFF
)

var errorCodes = [...]struct {
	err  error
	code uint8
}{
	{ErrNoChannels, CodeNoChannels},
	{ErrTooManyChannels, CodeTooManyChannels},
	{ErrInvalidChannel, CodeInvalidChannel},
	{ErrZeroWindow, CodeZeroWindow},
	{ErrWindowNotPowerOfTwo, CodeWindowNotPowerOfTwo},
	{ErrWindowTooLarge, CodeWindowTooLarge},
	{ErrBufferTooSmall, CodeBufferTooSmall},
	{ErrResolution, CodeResolution},
	{ErrImpossibleClock, CodeImpossibleClock},
	{ErrZeroDivision, CodeZeroDivision},
	{ErrTooManyDivisors, CodeTooManyDivisors},
	{ErrCompareRange, CodeCompareRange},
	{ErrUnsupportedDivisor, CodeUnsupportedDivisor},
	{ErrWarmupRange, CodeWarmupRange},
}

// ErrorCode maps an error to its one-byte wire code.
func ErrorCode(err error) uint8 {
	if err == nil {
		return CodeOK
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// CodeError is the inverse of ErrorCode, used by the host to turn a
// recording_error code back into a sentinel.
func CodeError(code uint8) error {
	if code == CodeOK {
		return nil
	}
	if code == CodeChannelArming {
		return ErrInvalidChannel
	}
	for _, e := range errorCodes {
		if e.code == code {
			return e.err
		}
	}
	return errors.New("unknown recorder error code " + FormatUint(uint32(code)))
}
