// Package fake provides an in-memory driver.Driver for exercising the
// sink's state machine and worker without real hardware, in the same
// spirit as ausocean/av's device.ManualInput stand-in for a capture
// device: a test double that implements the real interface instead of
// mocking individual calls.
package fake

import (
	"errors"
	"sync"

	"github.com/codplayerd/alsasink/driver"
)

// handle is the concrete Handle fake.Driver hands back from Open.
type handle struct {
	closed bool
}

// Script lets a test pre-program how the fake device should behave:
// what it negotiates, and canned failures at specific call counts.
type Script struct {
	// OpenErr, if set, makes Open fail with this error for the first
	// OpenFailCount calls (all of them, if OpenFailCount is zero).
	OpenErr       error
	OpenFailCount int

	// Negotiated is returned by Configure on every call, regardless of
	// the requested format: Configure always reports Negotiated.Format
	// as what the device settled on, with SwapBytes computed against
	// whatever format the caller actually asked for. This lets a single
	// Configure call stand in for the two-attempt endianness dance the
	// real driver needs (see driver.Driver.Configure).
	Negotiated driver.Negotiated
	ConfigErr  error

	// WriteErrs, indexed from 0, lets a test inject a specific error (or
	// nil for a normal full-period write) on the Nth WritePeriod call.
	// Calls beyond len(WriteErrs) succeed.
	WriteErrs []error

	PauseErr   error
	DrainErr   error
	DropErr    error
	CloseErr   error
	RecoverErr error
}

// Driver is a driver.Driver backed by an in-memory PCM sink: every
// period it's handed is appended to Written so a test can inspect
// exactly what bytes (and in what order) the worker pushed to hardware.
type Driver struct {
	mu      sync.Mutex
	script  Script
	writeN  int
	Written []byte

	OpenCalls, CloseCalls, DrainCalls, DropCalls int
	PauseCalls, ResumeCalls                      int
}

// New returns a fake driver following script.
func New(script Script) *Driver {
	return &Driver{script: script}
}

func (d *Driver) Open(cardName string) (driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls++
	if d.script.OpenErr != nil && (d.script.OpenFailCount == 0 || d.OpenCalls <= d.script.OpenFailCount) {
		return nil, d.script.OpenErr
	}
	return &handle{}, nil
}

func (d *Driver) Configure(h driver.Handle, p driver.Params) (driver.Negotiated, error) {
	if d.script.ConfigErr != nil {
		return driver.Negotiated{}, d.script.ConfigErr
	}
	n := d.script.Negotiated
	if n.PeriodFrames == 0 {
		n.PeriodFrames = p.PeriodFrames
	}
	if n.Channels == 0 {
		n.Channels = p.Channels
	}
	if n.Rate == 0 {
		n.Rate = p.Rate
	}
	n.SwapBytes = n.Format != p.Format
	return n, nil
}

func (d *Driver) WritePeriod(h driver.Handle, data []byte, frames int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.writeN
	d.writeN++

	var err error
	if n < len(d.script.WriteErrs) {
		err = d.script.WriteErrs[n]
	}
	if err != nil {
		return -1, err
	}

	d.Written = append(d.Written, data...)
	return frames, nil
}

func (d *Driver) Recover(h driver.Handle, cause error, silent bool) error {
	return d.script.RecoverErr
}

func (d *Driver) Pause(h driver.Handle, onOff bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if onOff {
		d.PauseCalls++
	} else {
		d.ResumeCalls++
	}
	return d.script.PauseErr
}

func (d *Driver) Drain(h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DrainCalls++
	return d.script.DrainErr
}

func (d *Driver) Drop(h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DropCalls++
	return d.script.DropErr
}

func (d *Driver) Close(h driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	hd, ok := h.(*handle)
	if !ok {
		return errors.New("fake: not our handle")
	}
	hd.closed = true
	return d.script.CloseErr
}
