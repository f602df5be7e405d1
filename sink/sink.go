// Package sink implements a realtime ALSA-backed playback engine: a
// ring-buffered, state-machine-driven pipeline that bridges a producer
// (the transport feeding audio) and an abstract audio device driver
// (driver.Driver), with pause/resume/drain/stop control, device error
// recovery, endianness negotiation, and per-period "currently playing
// packet" reporting.
//
// The producer API (Start/AddPacket/Drain/Pause/Resume/Stop/LogHelper)
// is safe for exactly one caller at a time, matching the single
// transport thread in the original design; the playback worker runs on
// its own goroutine started by New and stopped by Close.
package sink

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/codplayerd/alsasink/driver"
)

// Constants governing buffer sizing and sample format.
const (
	// PeriodFrames is the period size requested from the device; the
	// device may negotiate a different value.
	PeriodFrames = 4096
	// BufferSeconds is the nominal ring buffer depth.
	BufferSeconds = 5
	// MaxPeriodsPerSecond upper-bounds the packet slot array and rejects
	// devices that negotiate an unworkably small period.
	MaxPeriodsPerSecond = 40

	bytesPerSample   = 2
	requestedPeriods = 4
	packetCapacity   = BufferSeconds * MaxPeriodsPerSecond
)

// openRetryDelay is how long the worker sleeps between failed device
// opens. It's a var, not a const, so tests can shrink it instead of
// waiting out the real 3 seconds.
var openRetryDelay = 3 * time.Second

// Sink is one playback engine bound to a single sound card.
type Sink struct {
	mu   sync.Mutex
	cond *sync.Cond
	// wake lets the worker's interruptible sleep be cut short by a
	// producer-driven state change without giving cond a timed wait.
	wake chan struct{}

	cardName string

	drv    driver.Driver
	logger logging.Logger
	perf   *perfLog

	state         state
	pausedInState state

	channels  int
	rate      int
	bigEndian bool

	periodFrames int
	swapBytes    bool

	deviceError *string
	logMessage  *string
	logParam    *string

	prevPlayingPacket any
	prevHasPlaying    bool
	prevDeviceError   *string

	rb *ringBuffer

	// handle is written and read only by the worker goroutine; see
	// design notes on the locking discipline for thread-private fields.
	handle driver.Handle

	workerDone chan struct{}
}

// New constructs a Sink for cardName, validates device access once, and
// starts the playback worker. If the initial open fails and
// startWithoutDevice is false, New returns the open error; otherwise the
// failure is recorded as the sink's device error and construction
// proceeds, letting the worker retry once start() is called.
func New(cardName string, startWithoutDevice, logPerformance bool, drv driver.Driver, logger logging.Logger) (*Sink, error) {
	s := &Sink{
		cardName:   translateCardName(cardName),
		drv:        drv,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		workerDone: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	if h, err := drv.Open(s.cardName); err != nil {
		if !startWithoutDevice {
			return nil, fmt.Errorf("alsasink: %w", err)
		}
		s.deviceError = strptr(err.Error())
	} else {
		// Only probing access; the worker reopens its own handle.
		_ = drv.Close(h)
	}

	if logPerformance {
		s.perf = newPerfLog(cardName)
	}

	go s.runWorker()
	return s, nil
}

// translateCardName applies the original codplayer naming convention:
// "default" or empty stays "default", a name already containing ":" is
// used verbatim (it's already an ALSA device spec), anything else is
// addressed by card name.
func translateCardName(name string) string {
	if name == "" || name == "default" {
		return "default"
	}
	if strings.Contains(name, ":") {
		return name
	}
	return "default:CARD=" + name
}

// Start validates the requested format and moves the sink from CLOSED
// to STARTING, where the worker will attempt to open and negotiate the
// device. Start never blocks.
func (s *Sink) Start(channels, bytesPerSampleArg, rate int, bigEndian bool) error {
	if bytesPerSampleArg != bytesPerSample {
		return ErrUnsupportedSampleWidth
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateClosed {
		return ErrInvalidState
	}

	s.channels = channels
	s.rate = rate
	s.bigEndian = bigEndian
	s.state = stateStarting
	s.notifyLocked()
	return nil
}

// AddPacket offers bytes belonging to packetID to the sink. It blocks
// until at least one of: some bytes were accepted, the currently
// playing packet changed, the device error changed, or the sink left
// BUFFER_STATE. It returns how many leading bytes of data were stored,
// the packet currently audible (nil if none), and the current device
// error message (empty if none).
func (s *Sink) AddPacket(packetID any, data []byte) (stored int, playingPacket any, deviceError string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := 0
	for {
		n, playing, hasPlaying, devErr, left := s.playingOnceLocked(packetID, data[offset:])
		offset += n

		if s.changedSincePrevLocked(playing, hasPlaying, devErr) || n > 0 || left {
			return offset, playing, derefErr(devErr)
		}
	}
}

// changedSincePrevLocked reports whether the currently playing packet or
// the device error differ from what the previous producer call observed,
// updating the sink-owned memory either way. The memory lives on the
// Sink so the comparison stays stable across AddPacket/Drain calls.
func (s *Sink) changedSincePrevLocked(playing any, hasPlaying bool, devErr *string) bool {
	playingChanged := hasPlaying != s.prevHasPlaying || (hasPlaying && !packetEqual(playing, s.prevPlayingPacket))
	errChanged := !errPtrEqual(devErr, s.prevDeviceError)
	s.prevPlayingPacket, s.prevHasPlaying, s.prevDeviceError = playing, hasPlaying, devErr
	return playingChanged || errChanged
}

// Drain transitions a PLAYING sink to DRAINING (zero-padding the
// trailing partial period) and then blocks with the same exit
// conditions as AddPacket: it returns (playing, deviceError, false)
// whenever the audible packet or the device error changes, so the
// caller can keep its status current while the buffer plays out, and
// (nil, deviceError, true) — the terminal marker — once the sink has
// left BUFFER_STATE and no more bytes will reach the device. The
// caller re-invokes Drain until it sees the terminal marker. If the
// sink is already outside BUFFER_STATE, Drain returns the terminal
// marker immediately.
func (s *Sink) Drain() (playingPacket any, deviceError string, terminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == statePlaying:
		s.rb.drainPad()
		s.state = stateDraining
		s.notifyLocked()
	case !s.state.bufferState():
		return nil, derefErr(s.deviceError), true
	}

	for {
		_, playing, hasPlaying, devErr, left := s.playingOnceLocked(nil, nil)
		if left {
			return nil, derefErr(devErr), true
		}
		if s.changedSincePrevLocked(playing, hasPlaying, devErr) {
			return playing, derefErr(devErr), false
		}
	}
}

// Pause is valid only in PLAYING or DRAINING. It blocks until the
// worker has paused the device (or given up on it), reporting success
// iff the resulting state is PAUSED.
func (s *Sink) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != statePlaying && s.state != stateDraining {
		return false
	}
	s.pausedInState = s.state
	s.state = statePausing
	s.notifyLocked()
	for s.state == statePausing {
		s.cond.Wait()
	}
	return s.state == statePaused
}

// Resume is valid only in PAUSED. It blocks until the worker has left
// RESUME, restoring whatever state preceded the pause. Calling it from
// any other state is a silent no-op (e.g. a stop racing a resume).
func (s *Sink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != statePaused {
		return
	}
	s.state = stateResume
	s.notifyLocked()
	for s.state == stateResume {
		s.cond.Wait()
	}
}

// Stop tears the sink down to CLOSED. It is valid from any state except
// CLOSED and SHUTDOWN, where it is a no-op that returns immediately.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed || s.state == stateShutdown {
		return
	}
	s.state = stateClosing
	s.notifyLocked()
	for s.state != stateClosed {
		s.cond.Wait()
	}
}

// Close signals SHUTDOWN and joins the worker goroutine. It is safe to
// call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.state == stateShutdown {
		s.mu.Unlock()
		<-s.workerDone
		return nil
	}
	s.state = stateShutdown
	s.notifyLocked()
	s.mu.Unlock()

	<-s.workerDone
	if s.perf != nil {
		s.perf.Close()
	}
	return nil
}

// LogHelper is a blocking drain loop meant to run on a dedicated
// producer-side goroutine: it waits for the worker to leave a message
// in the single-slot mailbox and forwards it through the logger
// supplied to New. It runs until the sink reaches SHUTDOWN, and loses
// messages the worker overwrites before this loop drains them — exactly
// as specified.
func (s *Sink) LogHelper() {
	for {
		s.mu.Lock()
		for s.logMessage == nil && s.state != stateShutdown {
			s.cond.Wait()
		}
		if s.logMessage == nil {
			s.mu.Unlock()
			return
		}
		msg := *s.logMessage
		param := s.logParam
		s.logMessage = nil
		s.logParam = nil
		s.mu.Unlock()

		if param != nil {
			s.logger.Info("alsasink: "+msg, "detail", *param)
		} else {
			s.logger.Info("alsasink: " + msg)
		}
	}
}

// playingOnceLocked is the shared inner step behind AddPacket and
// Drain (the C reference's playing_once): it waits out transient
// states, deposits whatever it can while BUFFER_STATE holds, and
// reports the currently audible packet and device error. The caller
// holds s.mu on entry and exit; playingOnceLocked may release it
// internally via cond.Wait.
func (s *Sink) playingOnceLocked(packetID any, data []byte) (stored int, playing any, hasPlaying bool, devErr *string, leftBufferState bool) {
	// A single wait here (not a retry loop) is deliberate: the repetition
	// that rides out STARTING/CLOSING comes from the outer add_packet/
	// drain loop re-invoking this helper, not from spinning in place —
	// the very first device_error broadcast must be observed immediately
	// even on the first call after a failed open.
	if s.state == stateStarting || s.state == stateClosing {
		s.cond.Wait()
	}

	if s.state.bufferState() {
		if len(data) > 0 {
			if s.rb.full() {
				s.cond.Wait()
			}
			if s.state.bufferState() && !s.rb.full() {
				stored = s.rb.deposit(packetID, data, s.swapBytes)
				if stored > 0 {
					s.cond.Broadcast()
				}
			}
		} else {
			// No data to offer (Drain's polling path): wait for the
			// worker to advance the play position or change state.
			s.cond.Wait()
		}
	}

	// Only a sink that has finished closing (or is being destroyed)
	// tells the outer loop to give up; STARTING and CLOSING are
	// transient and just come back around.
	if s.state == stateClosed || s.state == stateShutdown {
		leftBufferState = true
	}

	if s.state.bufferState() {
		playing, hasPlaying = s.rb.currentPacket()
	}
	devErr = s.deviceError
	return
}

// notifyLocked wakes everything waiting on the condition variable,
// including the worker's interruptible open-retry sleep, which doesn't
// sit on the cv.
func (s *Sink) notifyLocked() {
	s.cond.Broadcast()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sink) postLog(msg string, param *string) {
	m := msg
	s.logMessage = &m
	s.logParam = param
	s.cond.Broadcast()
}

func strptr(v string) *string { return &v }

func derefErr(e *string) string {
	if e == nil {
		return ""
	}
	return *e
}

func errPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// packetEqual compares two opaque packet identifiers. Callers must pass
// comparable values (strings, integers, pointers — anything usable as a
// map key); packet identifiers are held by shared reference, not copied.
func packetEqual(a, b any) bool {
	defer func() { recover() }()
	return a == b
}
