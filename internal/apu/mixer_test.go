package apu

import "testing"

type captureSink struct {
	samples []uint16
}

func (c *captureSink) WriteU16(sample uint16) {
	c.samples = append(c.samples, sample)
}

func TestMixerClampsTo6Bits(t *testing.T) {
	sink := &captureSink{}
	m := NewMixer(sink)

	m.Set(0, 15)
	m.Set(1, 15)
	m.Set(2, 15)
	m.Set(3, 15) // sum 60, within 0x3f.
	if got := m.Output(); got != 60 {
		t.Fatalf("Output() = %d, want 60", got)
	}

	m.Set(3, 15+40) // sum now exceeds 0x3f and must clamp.
	if got := m.Output(); got != 0x3f {
		t.Fatalf("Output() = %d, want clamped 0x3f", got)
	}
}

func TestMixerWritesScaledSampleToSink(t *testing.T) {
	sink := &captureSink{}
	m := NewMixer(sink)

	m.Set(0, 0x3f)
	if len(sink.samples) == 0 {
		t.Fatalf("sink received no samples")
	}
	if got, want := sink.samples[len(sink.samples)-1], uint16(0x3f)<<10; got != want {
		t.Fatalf("sink sample = %#x, want %#x", got, want)
	}
}

func TestMixerNilSinkDoesNotPanic(t *testing.T) {
	m := NewMixer(nil)
	m.Set(0, 0x20)
	if got := m.Output(); got != 0x20 {
		t.Fatalf("Output() = %d, want 0x20", got)
	}
}
