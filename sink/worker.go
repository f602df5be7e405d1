package sink

import (
	"errors"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/codplayerd/alsasink/driver"
)

// schedParam mirrors the kernel's struct sched_param, which x/sys/unix
// does not wrap for the scheduling syscalls used below.
type schedParam struct {
	Priority int32
}

func schedGetPriorityMin(policy int) (int, error) {
	r1, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MIN, uintptr(policy), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}

func schedSetscheduler(pid int, policy int, param *schedParam) error {
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, uintptr(pid), uintptr(policy), uintptr(unsafe.Pointer(param)))
	if errno != 0 {
		return errno
	}
	return nil
}

// runWorker is the playback worker's entire lifetime: it attempts
// realtime scheduling once, then dispatches on sink state until
// SHUTDOWN. It is started as a goroutine by New and joined via
// Close/workerDone.
//
// The main loop mirrors the C reference thread_main dispatch table,
// one state at a time, holding s.mu throughout except for the
// kernel-level calls (open/configure/write/pause/drain/drop/close)
// and cond.Wait, which release it.
func (s *Sink) runWorker() {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			if s.state != stateShutdown {
				s.deviceError = strptr("player thread died")
				s.postLog("player thread died", nil)
				s.cond.Broadcast()
			}
			s.mu.Unlock()
		}
		close(s.workerDone)
	}()

	s.reportSchedulingPolicy()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		switch s.state {
		case stateClosed, statePaused:
			s.cond.Wait()

		case stateStarting, statePlaying:
			s.playOnce()

		case statePausing:
			s.doPause()

		case stateResume:
			s.doResume()

		case stateDraining:
			if s.rb != nil && s.rb.dataSize > 0 {
				s.playOnce()
			} else {
				s.teardown(true)
			}

		case stateClosing:
			s.teardown(false)

		case stateShutdown:
			s.teardown(false)
			return
		}
	}
}

// reportSchedulingPolicy attempts minimum-priority SCHED_RR on the
// worker's OS thread, falling back to the default policy on EPERM, and
// logs the effective policy exactly once before the main loop starts,
// mirroring thread_main's scheduling report in the C reference.
func (s *Sink) reportSchedulingPolicy() {
	runtime.LockOSThread()

	prio, err := schedGetPriorityMin(unix.SCHED_RR)
	if err == nil {
		err = schedSetscheduler(0, unix.SCHED_RR, &schedParam{Priority: int32(prio)})
	}

	s.mu.Lock()
	if err != nil {
		s.postLog("running at normal priority", nil)
	} else {
		s.postLog("running at SCHED_RR priority", nil)
	}
	s.mu.Unlock()
}

// playOnce is thread_play_once: open the device if it isn't already,
// negotiate hardware parameters, then either wait for more data or
// write exactly one period.
func (s *Sink) playOnce() {
	if s.handle == nil {
		s.mu.Unlock()
		h, err := s.drv.Open(s.cardName)
		s.mu.Lock()
		if err != nil {
			s.recordOpenFailureLocked(err)
			return
		}
		s.handle = h

		if err := s.negotiateLocked(h); err != nil {
			s.closeHandleLocked()
			s.recordOpenFailureLocked(err)
			return
		}
		s.deviceError = nil

		// Don't overwrite a message the log helper hasn't drained yet.
		if s.logMessage == nil {
			swapMsg := "not swapping bytes"
			if s.swapBytes {
				swapMsg = "swapping bytes"
			}
			openMsg := "opened device"
			if s.state != stateStarting {
				openMsg = "reopened device"
			}
			s.postLog(openMsg, strptr(swapMsg))
		}

		if s.state == stateStarting {
			s.state = statePlaying
		}
		s.cond.Broadcast()
	}

	// The lock was released across Open/Configure; a producer may have
	// moved the sink on (stop, pause, shutdown) in that window. Hand
	// control back to the dispatch loop rather than waiting or writing
	// under a stale state.
	if s.state != statePlaying && s.state != stateDraining {
		return
	}

	periodSize := s.periodSize()
	if s.rb.dataSize < periodSize {
		s.cond.Wait()
		return
	}

	s.logPerfData(s.rb.dataSize)

	h := s.handle
	periodBytes := s.rb.periodAt()
	frames := s.periodFrames

	s.mu.Unlock()
	n, err := s.drv.WritePeriod(h, periodBytes, frames)
	s.mu.Lock()

	s.logPerfWrite()

	switch {
	case err == nil:
		s.rb.advance()
		s.cond.Broadcast()
		_ = n

	case errors.Is(err, driver.ErrInterrupted), errors.Is(err, driver.ErrBrokenPipe), errors.Is(err, driver.ErrStreamSuspended):
		s.mu.Unlock()
		recErr := s.drv.Recover(h, err, true)
		s.mu.Lock()
		if recErr != nil {
			s.closeAfterWriteFailureLocked(recErr)
		}

	default:
		s.closeAfterWriteFailureLocked(err)
	}
}

// negotiateLocked requests hardware parameters in the caller's declared
// endianness, retrying once in the opposite endianness and recording
// swap_bytes if that's what the device accepts. A ring buffer of about
// BufferSeconds of audio, trimmed to a whole number of periods, is
// allocated on the first open; a reopen that negotiates the same period
// size keeps the existing buffer and whatever data is in it.
func (s *Sink) negotiateLocked(h driver.Handle) error {
	primary := driver.S16LE
	if s.bigEndian {
		primary = driver.S16BE
	}
	params := driver.Params{
		Channels:     s.channels,
		Rate:         s.rate,
		Format:       primary,
		PeriodFrames: PeriodFrames,
		Periods:      requestedPeriods,
	}

	s.mu.Unlock()
	negotiated, err := s.drv.Configure(h, params)
	swapped := false
	if err != nil {
		params.Format = flipFormat(primary)
		negotiated, err = s.drv.Configure(h, params)
		swapped = err == nil
	}
	s.mu.Lock()

	if err != nil {
		return err
	}
	if negotiated.Channels != s.channels {
		return fmt.Errorf("alsasink: couldn't set device param: channels")
	}
	if negotiated.Rate != s.rate {
		return fmt.Errorf("alsasink: couldn't set device param: rate")
	}

	s.swapBytes = swapped || negotiated.SwapBytes

	if s.periodFrames == negotiated.PeriodFrames && s.rb != nil {
		return nil
	}

	// The packets array can't track more periods than it has slots for.
	if negotiated.Rate/negotiated.PeriodFrames >= MaxPeriodsPerSecond {
		return fmt.Errorf("alsasink: period set by device is too small")
	}

	s.periodFrames = negotiated.PeriodFrames

	bufferFrames := negotiated.Rate * BufferSeconds
	bufferFrames -= bufferFrames % negotiated.PeriodFrames
	periodSize := negotiated.PeriodFrames * s.channels * bytesPerSample
	s.rb = newRingBuffer(bufferFrames*s.channels*bytesPerSample, periodSize, packetCapacity)
	return nil
}

func flipFormat(f driver.Format) driver.Format {
	if f == driver.S16LE {
		return driver.S16BE
	}
	return driver.S16LE
}

// doPause releases the lock to ask the device to pause. A failure still
// lands in PAUSED, just with the device closed so the next play step
// reopens it.
func (s *Sink) doPause() {
	if h := s.handle; h != nil {
		s.mu.Unlock()
		err := s.drv.Pause(h, true)
		s.mu.Lock()

		if err != nil {
			s.closeHandleAfterPauseOrResumeFailureLocked("error pausing device", err)
		}
	}
	s.state = statePaused
	s.cond.Broadcast()
}

// doResume is symmetric to doPause, restoring paused_in_state regardless
// of whether the device unpause succeeded.
func (s *Sink) doResume() {
	if h := s.handle; h != nil {
		s.mu.Unlock()
		err := s.drv.Pause(h, false)
		s.mu.Lock()

		if err != nil {
			s.closeHandleAfterPauseOrResumeFailureLocked("error resuming device", err)
		}
	}
	s.state = s.pausedInState
	s.cond.Broadcast()
}

// teardown is the CLOSING/SHUTDOWN/DRAINING-empty path: drain (if
// useDrain) or drop whatever's left in the device, close it, and — when
// this isn't a SHUTDOWN — reset the sink to CLOSED.
func (s *Sink) teardown(useDrain bool) {
	wasShutdown := s.state == stateShutdown
	wasDraining := s.state == stateDraining

	if s.handle != nil {
		h := s.handle
		s.mu.Unlock()
		var err error
		if useDrain {
			err = s.drv.Drain(h)
		} else {
			err = s.drv.Drop(h)
		}
		if closeErr := s.drv.Close(h); err == nil {
			err = closeErr
		}
		s.mu.Lock()
		s.handle = nil
		if err != nil {
			msg := "error closing device"
			if useDrain {
				msg = "error draining device"
			}
			s.postLog(msg, strptr(err.Error()))
		}
	}

	if wasDraining {
		s.postLog("drained", nil)
	} else {
		s.postLog("closed", nil)
	}

	if wasShutdown {
		return
	}

	s.resetLocked()
	s.state = stateClosed
	s.cond.Broadcast()
}

func (s *Sink) resetLocked() {
	s.channels = 0
	s.rate = 0
	s.bigEndian = false
	s.periodFrames = 0
	s.swapBytes = false
	s.deviceError = nil
	s.rb = nil
	s.prevPlayingPacket = nil
	s.prevHasPlaying = false
	s.prevDeviceError = nil
}

// recordOpenFailureLocked surfaces a failed open (or negotiation)
// through device_error and backs off before the next attempt so a bad
// device isn't busy-looped. The producer learns of the failure through
// its triple return, not the log mailbox.
func (s *Sink) recordOpenFailureLocked(err error) {
	s.deviceError = strptr(err.Error())
	s.cond.Broadcast()
	s.sleepInterruptible(openRetryDelay)
}

func (s *Sink) closeHandleLocked() {
	h := s.handle
	s.mu.Unlock()
	_ = s.drv.Close(h)
	s.mu.Lock()
	s.handle = nil
}

func (s *Sink) closeHandleAfterPauseOrResumeFailureLocked(msg string, err error) {
	h := s.handle
	s.mu.Unlock()
	_ = s.drv.Close(h)
	s.mu.Lock()
	s.handle = nil
	s.deviceError = strptr(err.Error())
	s.postLog(msg, strptr(err.Error()))
}

func (s *Sink) closeAfterWriteFailureLocked(err error) {
	h := s.handle
	s.mu.Unlock()
	if h != nil {
		_ = s.drv.Close(h)
	}
	s.mu.Lock()
	s.handle = nil
	s.deviceError = strptr(err.Error())
	s.postLog("error writing to device", strptr(err.Error()))
	s.cond.Broadcast()
}

// sleepInterruptible releases the lock for d, waking early if a
// producer call changes sink state in the meantime (the worker is not
// sitting on the cv here, so an ordinary Broadcast wouldn't reach it).
func (s *Sink) sleepInterruptible(d time.Duration) {
	s.mu.Unlock()
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-s.wake:
		timer.Stop()
	}
	s.mu.Lock()
}

func (s *Sink) periodSize() int {
	return s.periodFrames * s.channels * bytesPerSample
}
