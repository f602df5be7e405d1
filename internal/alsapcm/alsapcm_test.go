//go:build linux

package alsapcm

import (
	"testing"

	"github.com/codplayerd/alsasink/driver"
)

// TestDevice opens the default playback device with a standard
// configuration and pushes one period of silence through it. If there
// is no playback device to open, the test is skipped, since not all
// testing environments have sound hardware.
func TestDevice(t *testing.T) {
	d := New()

	h, err := d.Open("default")
	if err != nil {
		t.Skip(err)
	}
	defer d.Close(h)

	n, err := d.Configure(h, driver.Params{
		Channels:     2,
		Rate:         44100,
		Format:       driver.S16LE,
		PeriodFrames: 4096,
		Periods:      4,
	})
	if err != nil {
		t.Skip(err)
	}
	if n.PeriodFrames <= 0 {
		t.Fatalf("negotiated period size %d, want > 0", n.PeriodFrames)
	}

	silence := make([]byte, n.PeriodFrames*n.Channels*2)
	w, err := d.WritePeriod(h, silence, n.PeriodFrames)
	if err != nil {
		t.Fatalf("writing a period of silence: %v", err)
	}
	if w != n.PeriodFrames {
		t.Errorf("wrote %d frames, want %d", w, n.PeriodFrames)
	}

	if err := d.Drop(h); err != nil {
		t.Errorf("dropping device buffer: %v", err)
	}
}
