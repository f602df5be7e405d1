package sink

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// perfLog is the optional performance trace, modeled on
// cod_alsa_device.c's thread_perf_log: an append-only text file
// recording, for every period the worker handles, the moment data
// became available to write and the moment the write completed.
// Both events are stamped with the wall clock and with time elapsed
// since the log was opened, so a post-processing script can correlate
// drift against real time without replaying the whole trace.
//
// It is off by default (gated by the log_performance constructor flag)
// and touches only the worker goroutine, never the sink's fast path.
type perfLog struct {
	mu    sync.Mutex
	f     *os.File
	start time.Time
}

// newPerfLog opens the trace file for cardName, returning nil if it
// can't be opened — performance tracing is a diagnostic aid, not part
// of the sink's correctness contract, so a failure here is silent.
func newPerfLog(cardName string) *perfLog {
	path := fmt.Sprintf("/var/log/codplayerd/alsasink-perf-%s.log", sanitizeForPath(cardName))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	return &perfLog{f: f, start: time.Now()}
}

func sanitizeForPath(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' || c == ':' || c == ' ' {
			c = '_'
		}
		out[i] = c
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}

// record appends one line. kind is "data" (with n bytes available) or
// "write" (period just written), matching the two literal record
// shapes in cod_alsa_device.c.
func (p *perfLog) record(kind string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wall := time.Now()
	elapsed := wall.Sub(p.start)

	wallSec, wallUsec := splitDuration(time.Duration(wall.UnixNano()))
	elapsedSec, elapsedUsec := splitDuration(elapsed)

	if kind == "data" {
		fmt.Fprintf(p.f, "%d.%06d %d.%06d data %d\n", wallSec, wallUsec, elapsedSec, elapsedUsec, n)
	} else {
		fmt.Fprintf(p.f, "%d.%06d %d.%06d write\n", wallSec, wallUsec, elapsedSec, elapsedUsec)
	}
}

func splitDuration(d time.Duration) (sec, usec int64) {
	sec = int64(d / time.Second)
	usec = int64((d % time.Second) / time.Microsecond)
	return
}

func (p *perfLog) Close() error {
	if p == nil {
		return nil
	}
	return p.f.Close()
}

// logPerfData and logPerfWrite are the worker's two instrumentation
// points; both are no-ops when performance logging wasn't requested.
func (s *Sink) logPerfData(bytesAvailable int) {
	if s.perf == nil {
		return
	}
	s.perf.record("data", bytesAvailable)
}

func (s *Sink) logPerfWrite() {
	if s.perf == nil {
		return
	}
	s.perf.record("write", 0)
}
