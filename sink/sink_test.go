package sink

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/stretchr/testify/assert"

	"github.com/codplayerd/alsasink/driver"
	"github.com/codplayerd/alsasink/driver/fake"
)

// testLogger builds a real logging.Logger the way alsa_test.go does,
// discarding output, so these tests exercise the same logging path
// production code does instead of a hand-rolled stub.
func testLogger() logging.Logger {
	return logging.New(logging.Debug, &bytes.Buffer{}, true)
}

const (
	testPeriodFrames = 256
	testChannels     = 1
	testRate         = 8000
)

func testPeriodSize() int { return testPeriodFrames * testChannels * bytesPerSample }

// newTestSink negotiates a small, fast period so tests don't need to
// push hundreds of kilobytes of audio to exercise the ring buffer.
// periods/sec stays comfortably under MaxPeriodsPerSecond.
func newTestSink(t *testing.T, script fake.Script) (*Sink, *fake.Driver) {
	t.Helper()
	if script.Negotiated.PeriodFrames == 0 {
		script.Negotiated = driver.Negotiated{
			Channels:     testChannels,
			Rate:         testRate,
			Format:       driver.S16LE,
			PeriodFrames: testPeriodFrames,
		}
	}
	drv := fake.New(script)
	s, err := New("default", true, false, drv, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go s.LogHelper()
	t.Cleanup(func() { s.Close() })
	return s, drv
}

func periodBytes(n int) []byte {
	return make([]byte, testPeriodSize()*n)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func waitForPlaying(t *testing.T, s *Sink) {
	t.Helper()
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.state == statePlaying
	})
}

// Scenario 1: happy path — start, deposit two periods of P1, drain, and
// observe the terminal marker.
func TestHappyPathDrainsToClosed(t *testing.T) {
	s, drv := newTestSink(t, fake.Script{})

	assert.NoError(t, s.Start(testChannels, 2, testRate, false))
	waitForPlaying(t, s)

	data := periodBytes(2)
	stored, _, devErr := s.AddPacket("P1", data)
	assert.Empty(t, devErr)
	assert.Equal(t, len(data), stored)

	// Drain reports progress until the terminal marker; any packet it
	// reports on the way out must be the one whose bytes are playing.
	var terminal bool
	for i := 0; i < 100 && !terminal; i++ {
		var playing any
		playing, devErr, terminal = s.Drain()
		assert.Empty(t, devErr)
		if playing != nil {
			assert.Equal(t, "P1", playing)
		}
	}
	assert.True(t, terminal)

	waitFor(t, func() bool { return drv.DrainCalls >= 1 })
	assert.GreaterOrEqual(t, len(drv.Written), len(data))
}

// Scenario 2: pause/resume returns the sink to PLAYING and add_packet
// keeps accepting bytes afterwards.
func TestPauseThenResume(t *testing.T) {
	s, _ := newTestSink(t, fake.Script{})

	assert.NoError(t, s.Start(testChannels, 2, testRate, false))
	waitForPlaying(t, s)

	stored, _, devErr := s.AddPacket("P1", periodBytes(4))
	assert.Empty(t, devErr)
	assert.Greater(t, stored, 0)

	assert.True(t, s.Pause())

	s.Resume()
	waitForPlaying(t, s)

	stored2, _, devErr2 := s.AddPacket("P1", periodBytes(1))
	assert.Empty(t, devErr2)
	assert.Greater(t, stored2, 0)
}

// Scenario 3: stop mid-play tears down the device and leaves the sink
// unable to accept more data.
func TestStopMidPlay(t *testing.T) {
	s, drv := newTestSink(t, fake.Script{})

	assert.NoError(t, s.Start(testChannels, 2, testRate, false))
	waitForPlaying(t, s)
	s.AddPacket("P1", periodBytes(2))

	s.Stop()

	waitFor(t, func() bool { return drv.CloseCalls >= 1 })

	stored, playing, _ := s.AddPacket("P1", periodBytes(1))
	assert.Equal(t, 0, stored)
	assert.Nil(t, playing)
}

// Scenario 4: the device fails to open; add_packet reports the error
// and stores nothing, and the worker keeps retrying until the device
// becomes available.
func TestDeviceOpenFailureThenRecovers(t *testing.T) {
	openRetryDelay = 5 * time.Millisecond
	defer func() { openRetryDelay = 3 * time.Second }()

	// Keep the device failing long enough for the first AddPacket to
	// observe the error before the worker's retries succeed.
	s, drv := newTestSink(t, fake.Script{
		OpenErr:       errors.New("alsapcm: no such device"),
		OpenFailCount: 50,
	})

	assert.NoError(t, s.Start(testChannels, 2, testRate, false))

	// The construction-time probe is call 1; wait for the worker's own
	// first attempt.
	waitFor(t, func() bool { return drv.OpenCalls >= 2 })

	stored, playing, devErr := s.AddPacket("P1", periodBytes(1))
	assert.Equal(t, 0, stored)
	assert.Nil(t, playing)
	assert.NotEmpty(t, devErr)

	waitForPlaying(t, s)

	waitFor(t, func() bool {
		stored, _, devErr := s.AddPacket("P1", periodBytes(1))
		return stored > 0 && devErr == ""
	})
}

// Scenario 5: the device only accepts the opposite endianness from
// what the caller declared; the sink negotiates swap_bytes.
func TestEndianNegotiationSetsSwapBytes(t *testing.T) {
	s, _ := newTestSink(t, fake.Script{
		Negotiated: driver.Negotiated{
			Channels:     testChannels,
			Rate:         testRate,
			Format:       driver.S16LE, // device only accepts LE
			PeriodFrames: testPeriodFrames,
		},
	})

	// Caller declares big-endian; the device only accepts LE, so
	// swap_bytes must be negotiated true.
	assert.NoError(t, s.Start(testChannels, 2, testRate, true))
	waitForPlaying(t, s)

	s.mu.Lock()
	swapBytes := s.swapBytes
	s.mu.Unlock()
	assert.True(t, swapBytes)
}

// Scenario 6: the device reports an underrun on write; the worker
// recovers and keeps writing without losing data.
func TestUnderrunRecovery(t *testing.T) {
	s, drv := newTestSink(t, fake.Script{
		WriteErrs: []error{driver.ErrBrokenPipe},
	})

	assert.NoError(t, s.Start(testChannels, 2, testRate, false))
	waitForPlaying(t, s)
	s.AddPacket("P1", periodBytes(3))

	waitFor(t, func() bool { return len(drv.Written) >= testPeriodSize()*2 })
}

// A write failure that isn't a recoverable underrun closes the device;
// the worker reopens it on the next play step and the ring buffer keeps
// the data that hadn't reached the device yet.
func TestWriteFailureReopensAndKeepsData(t *testing.T) {
	openRetryDelay = 5 * time.Millisecond
	defer func() { openRetryDelay = 3 * time.Second }()

	s, drv := newTestSink(t, fake.Script{
		WriteErrs: []error{errors.New("alsapcm: write: I/O error")},
	})

	assert.NoError(t, s.Start(testChannels, 2, testRate, false))
	waitForPlaying(t, s)

	data := periodBytes(3)
	stored, _, _ := s.AddPacket("P1", data)
	assert.Equal(t, len(data), stored)

	// The failed period is retried whole after the reopen, so every
	// deposited byte still reaches the device.
	waitFor(t, func() bool { return drv.OpenCalls >= 3 && len(drv.Written) >= len(data) })
}

func TestTranslateCardName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "default"},
		{"default", "default"},
		{"hw:0,0", "hw:0,0"},
		{"PCH", "default:CARD=PCH"},
	}
	for _, c := range cases {
		if got := translateCardName(c.in); got != c.want {
			t.Errorf("translateCardName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// start() synchronously rejects an unsupported sample width.
func TestStartRejectsUnsupportedSampleWidth(t *testing.T) {
	s, _ := newTestSink(t, fake.Script{})
	err := s.Start(testChannels, 4, testRate, false)
	assert.ErrorIs(t, err, ErrUnsupportedSampleWidth)
}

// stop() in CLOSED is a no-op that returns immediately.
func TestStopIsIdempotentFromClosed(t *testing.T) {
	s, _ := newTestSink(t, fake.Script{})
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop from CLOSED should return immediately")
	}
}
