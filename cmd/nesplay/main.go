// Command nesplay is a reference host for the nesapu engine: it loads a
// compiled module file, wires a wall-clock Timer and an ebiten/audio Sink,
// and plays until interrupted. It is a demonstration of the two collaborator
// interfaces, not a FamiTracker project compiler or a general player.
package main

import (
	"flag"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/nesapu/engine"
)

const hostSampleRate = 48000

func main() {
	modulePath := flag.String("module", "", "path to a compiled module file")
	song := flag.Int("song", 0, "song index within the module")
	duration := flag.Duration("duration", 30*time.Second, "how long to play before exiting")
	flag.Parse()

	if *modulePath == "" {
		log.Fatal("-module is required")
	}
	data, err := os.ReadFile(*modulePath)
	if err != nil {
		log.Fatalf("read module: %v", err)
	}

	sink := newRingSink(hostSampleRate / 4) // quarter-second ring, generous against scheduling jitter
	e := nesapu.New(sink)
	if err := e.Load(data, *song); err != nil {
		log.Fatalf("load module: %v", err)
	}

	audioCtx := audio.NewContext(hostSampleRate)
	player, err := audioCtx.NewPlayer(&apuStream{sink: sink})
	if err != nil {
		log.Fatalf("new audio player: %v", err)
	}
	player.SetBufferSize(40 * time.Millisecond)
	player.Play()

	if err := e.Start(newTickerTimer()); err != nil {
		log.Fatalf("start playback: %v", err)
	}
	defer e.Stop()

	log.Printf("playing %s (song %d) for %s", *modulePath, *song, *duration)
	time.Sleep(*duration)
}

// ringSink buffers the engine's mono samples for apuStream to drain at the
// host's own rate; the engine's per-channel phase ticks run at NES-cycle
// derived rates with no relation to the host sample rate, so playback here
// is intentionally uncorrected for pitch (the Non-goals exclude arbitrary
// resampling) — this is a reference demo, not a faithful audio pipeline.
type ringSink struct {
	mu   sync.Mutex
	buf  []uint16
	head int
	n    int
}

func newRingSink(capacity int) *ringSink {
	return &ringSink{buf: make([]uint16, capacity)}
}

func (s *ringSink) WriteU16(sample uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tail := (s.head + s.n) % len(s.buf)
	s.buf[tail] = sample
	if s.n < len(s.buf) {
		s.n++
	} else {
		s.head = (s.head + 1) % len(s.buf)
	}
}

func (s *ringSink) read(n int) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.n {
		n = s.n
	}
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	s.head = (s.head + n) % len(s.buf)
	s.n -= n
	return out
}

// apuStream implements io.Reader by pulling buffered samples out of a
// ringSink and duplicating them into 16-bit little-endian stereo frames,
// padding with silence on underrun (grounded in the corpus's own
// emulator-to-ebiten PCM bridge).
type apuStream struct {
	sink *ringSink
}

func (a *apuStream) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}
	samples := a.sink.read(frames)
	i := 0
	for _, s := range samples {
		p[i], p[i+1] = byte(s), byte(s>>8)
		p[i+2], p[i+3] = byte(s), byte(s>>8)
		i += 4
	}
	for ; i < frames*4; i += 4 {
		p[i], p[i+1], p[i+2], p[i+3] = 0, 0, 0, 0
	}
	return frames * 4, nil
}

// tickerTimer implements nesapu.Timer over time.Ticker: every
// SchedulePeriodic call gets its own ticker at the requested interval,
// which fits both the fixed 60 Hz music tick and each channel's own
// NES-cycle-derived phase rate equally well.
type tickerTimer struct{}

func newTickerTimer() *tickerTimer {
	return &tickerTimer{}
}

type tickerHandle struct {
	ticker *time.Ticker
	done   chan struct{}
}

func (t *tickerTimer) SchedulePeriodic(interval time.Duration, callback func()) (nesapu.TimerHandle, error) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				ticker.Stop()
				return
			case <-ticker.C:
				callback()
			}
		}
	}()
	return &tickerHandle{ticker: ticker, done: done}, nil
}

func (t *tickerTimer) Cancel(handle nesapu.TimerHandle) {
	h, ok := handle.(*tickerHandle)
	if !ok || h == nil {
		return
	}
	close(h.done)
}
