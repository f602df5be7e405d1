// Package driver defines the abstract Audio Device Driver that the
// playback sink drives: open, negotiate hardware parameters, write one
// period at a time, pause/resume, drain/drop, and close. The sink never
// talks to ALSA (or any other PCM backend) directly — it only ever sees
// this interface, so a fake implementation can stand in for hardware in
// tests (see driver/fake) and a real one binds to libasound
// (see internal/alsapcm).
package driver

import "errors"

// Format is the sample format requested of, or negotiated with, the
// device. The sink only ever asks for 16-bit signed PCM in one of the
// two byte orders; width conversion is explicitly out of scope.
type Format int

const (
	// S16LE is 16-bit signed PCM, least-significant byte first.
	S16LE Format = iota
	// S16BE is 16-bit signed PCM, most-significant byte first.
	S16BE
)

// Params describes the format a caller wants from Configure.
type Params struct {
	Channels     int
	Rate         int
	Format       Format
	PeriodFrames int // target period size, in frames
	Periods      int // number of periods requested in the device buffer
}

// Negotiated describes the format a device actually settled on, which
// may differ from the requested Params in every field except Channels
// must match (the driver is never asked to mix or downmix channels).
type Negotiated struct {
	Channels     int
	Rate         int
	Format       Format
	PeriodFrames int
	SwapBytes    bool // true iff Format had to be negotiated as the opposite endianness
}

// Sentinel write-path results. WritePeriod returns one of these wrapped
// in an error (via errors.Is) alongside -1 frames when the device isn't
// simply consuming frames normally.
var (
	// ErrInterrupted corresponds to EINTR: the call was interrupted and
	// should be retried after a recovery attempt.
	ErrInterrupted = errors.New("alsasink/driver: interrupted")
	// ErrBrokenPipe corresponds to EPIPE: an underrun occurred.
	ErrBrokenPipe = errors.New("alsasink/driver: broken pipe (underrun)")
	// ErrStreamSuspended corresponds to ESTRPIPE: the stream was suspended,
	// typically because the underlying hardware was powered down.
	ErrStreamSuspended = errors.New("alsasink/driver: stream suspended")
)

// Handle is an opaque, driver-specific reference to an open PCM stream.
type Handle interface{}

// Driver is the abstract capability the playback worker needs from a
// PCM backend. All methods may block; callers invoke them with the
// sink mutex released.
type Driver interface {
	// Open performs a blocking open of a playback stream for cardName.
	Open(cardName string) (Handle, error)

	// Configure picks interleaved read/write access, requests the given
	// format, and returns what the device actually negotiated. Configure
	// itself does not retry with the opposite endianness — the caller
	// (the sink's playback worker) does that, per §4.1, by calling
	// Configure a second time with Format flipped and noting SwapBytes.
	Configure(h Handle, p Params) (Negotiated, error)

	// WritePeriod blocks writing exactly one period of audio (periodFrames
	// frames, found in Negotiated.PeriodFrames) and returns the number of
	// frames actually written. A negative-count error wraps one of
	// ErrInterrupted, ErrBrokenPipe, ErrStreamSuspended, or an opaque
	// driver error for anything else.
	WritePeriod(h Handle, data []byte, frames int) (int, error)

	// Recover attempts standard ALSA-style recovery from an underrun or
	// suspend condition previously returned by WritePeriod. silent
	// suppresses the driver's own diagnostic output (the caller already
	// logs through the sink's mailbox).
	Recover(h Handle, cause error, silent bool) error

	// Pause requests the device transition to (onOff true) or out of
	// (onOff false) the paused state.
	Pause(h Handle, onOff bool) error

	// Drain blocks until the device's internal buffer has been fully
	// played out.
	Drain(h Handle) error

	// Drop discards whatever is left in the device's internal buffer
	// without waiting for it to play out.
	Drop(h Handle) error

	// Close releases the handle. After Close, h must not be used again.
	Close(h Handle) error
}
