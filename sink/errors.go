package sink

import "errors"

// Synchronous configuration errors. These are the only errors a
// producer call can return directly; everything device-related is
// surfaced asynchronously through the (stored, playingPacket,
// deviceError) triple instead.
var (
	// ErrInvalidState is returned by Start when the sink isn't CLOSED.
	// Pause outside PLAYING/DRAINING reports false instead, and Resume
	// outside PAUSED is a silent no-op.
	ErrInvalidState = errors.New("alsasink: invalid state")

	// ErrUnsupportedSampleWidth is returned by Start when bytesPerSample
	// isn't 2; only 16-bit signed PCM is supported.
	ErrUnsupportedSampleWidth = errors.New("alsasink: only 2 bytes per sample is supported")
)
