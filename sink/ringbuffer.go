package sink

// ringBuffer is the byte-addressable circular buffer that bridges the
// producer and the playback worker: a producer deposits bytes (not
// necessarily period-aligned), a consumer reads whole periods, and
// every period remembers which caller-supplied packet identifier last
// wrote into it.
//
// This is a direct, idiomatic-Go translation of the buffer math in the
// C reference sink (both cod_alsa_device.c and c_alsa_sink.c share it
// verbatim): data_end/play_pos wraparound, the "never wrap within one
// deposit" rule, and the XOR-1 copy_and_swap trick for software
// byte-swapping. github.com/ausocean/utils/pool.Buffer — ausocean/av's
// own ring buffer, used by device/alsa/alsa.go for its capture path —
// cannot express this: it is a fixed-chunk FIFO with no notion of
// "this byte range belongs to this packet" and no partial,
// period-misaligned writes, so it's not reused here (see DESIGN.md).
//
// Shared ownership of packet identifiers needs no manual refcounting
// in Go: packets[i] = id and the garbage collector do exactly what
// Py_XDECREF/Py_INCREF did by hand in the C reference.
type ringBuffer struct {
	buf        []byte
	periodSize int
	bufferSize int

	playPos  int
	dataEnd  int
	dataSize int

	packets []any
}

// newRingBuffer allocates a ring buffer of bufferSize bytes split into
// periodSize-byte periods, with a packet-identifier slot per period up
// to packetCapacity (BUFFER_SECONDS * MAX_PERIODS_PER_SECOND).
func newRingBuffer(bufferSize, periodSize, packetCapacity int) *ringBuffer {
	return &ringBuffer{
		buf:        make([]byte, bufferSize),
		periodSize: periodSize,
		bufferSize: bufferSize,
		packets:    make([]any, packetCapacity),
	}
}

// free returns how many bytes of unused capacity remain.
func (r *ringBuffer) free() int {
	return r.bufferSize - r.dataSize
}

// full reports whether the buffer has no room left at all.
func (r *ringBuffer) full() bool {
	return r.dataSize >= r.bufferSize
}

// deposit stores as much of data as fits without wrapping, associates
// every period it touched with packetID (releasing whatever reference
// was there before), and returns the number of bytes actually stored.
// swapBytes requests the XOR-1 software byte swap described in spec
// §4.2 and §9.
func (r *ringBuffer) deposit(packetID any, data []byte, swapBytes bool) int {
	stored := len(data)
	if free := r.free(); stored > free {
		stored = free
	}
	if r.dataEnd+stored > r.bufferSize {
		stored = r.bufferSize - r.dataEnd
	}
	if stored <= 0 {
		return 0
	}

	firstPeriod := r.dataEnd / r.periodSize
	// The period holding the last stored byte, so a write smaller than
	// one period still claims a single slot.
	lastPeriod := (r.dataEnd + stored - 1) / r.periodSize

	if swapBytes {
		copyAndSwap(r.buf, r.dataEnd, data[:stored])
	} else {
		copy(r.buf[r.dataEnd:r.dataEnd+stored], data[:stored])
	}

	for i := firstPeriod; i <= lastPeriod && i < len(r.packets); i++ {
		r.packets[i] = packetID
	}

	r.dataEnd = (r.dataEnd + stored) % r.bufferSize
	r.dataSize += stored
	return stored
}

// copyAndSwap writes src into dest starting at pos with every adjacent
// byte pair flipped, using the XOR-1 addressing trick from the original
// C source: dest[i^1] = src[i-pos]. It tolerates writing one byte past
// an odd boundary, which is safe here because bufferSize is always even,
// so the flipped index never falls outside the buffer.
func copyAndSwap(dest []byte, pos int, src []byte) {
	for i, b := range src {
		dest[(pos+i)^1] = b
	}
}

// periodAt returns the period-sized slice starting at playPos, for the
// worker to hand to the device driver. The caller must have already
// confirmed dataSize >= periodSize.
func (r *ringBuffer) periodAt() []byte {
	return r.buf[r.playPos : r.playPos+r.periodSize]
}

// advance marks one period as consumed after a successful device write.
func (r *ringBuffer) advance() {
	r.playPos = (r.playPos + r.periodSize) % r.bufferSize
	r.dataSize -= r.periodSize
}

// drainPad zero-fills the remainder of the current period so the
// worker can complete one final whole-period write before closing the
// device. It reports whether any padding was needed.
func (r *ringBuffer) drainPad() bool {
	partial := r.dataEnd % r.periodSize
	if partial == 0 {
		return false
	}
	padLen := r.periodSize - partial
	for i := 0; i < padLen; i++ {
		r.buf[(r.dataEnd+i)%r.bufferSize] = 0
	}
	r.dataEnd = (r.dataEnd + padLen) % r.bufferSize
	r.dataSize += padLen
	return true
}

// currentPacket returns the packet identifier audible right now, or
// (nil, false) if nothing is buffered.
func (r *ringBuffer) currentPacket() (any, bool) {
	if r.dataSize <= 0 {
		return nil, false
	}
	idx := r.playPos / r.periodSize
	if idx >= len(r.packets) {
		return nil, false
	}
	return r.packets[idx], true
}

// reset clears all indices and releases every packet reference, as done
// whenever the sink tears down (stop, drain-to-empty, shutdown).
func (r *ringBuffer) reset() {
	r.playPos = 0
	r.dataEnd = 0
	r.dataSize = 0
	for i := range r.packets {
		r.packets[i] = nil
	}
}
