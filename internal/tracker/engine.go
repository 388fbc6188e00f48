package tracker

import "github.com/nesapu/engine/internal/module"

// Engine maintains the shared frame/pattern/tick cursor and drives every
// channel's Exec (once per row) and Tick (once per engine tick, 60 Hz).
type Engine struct {
	reader   *module.Reader
	channels []*Channel
	rec      Recorder

	frameTable int

	frame, pattern, tick                uint8
	frameLimit, patternLimit, tickLimit uint8

	halted bool
}

// NewEngine binds an Engine to a reader and the ordered set of tracker
// channels it drives (one per NES audio voice). Call Load before Step.
func NewEngine(reader *module.Reader, channels []*Channel, rec Recorder) *Engine {
	return &Engine{reader: reader, channels: channels, rec: rec}
}

// Load resolves songIndex's song info and resets every channel. The cursor
// (frame, pattern, tick) starts equal to its own limit, the same way the
// resolved counters are seeded in the module's header: the first Step call
// then crosses every boundary at once and resolves frame 0 itself.
func (e *Engine) Load(songIndex int) error {
	info, err := e.reader.Song(songIndex)
	if err != nil {
		return err
	}
	e.frameTable = info.FrameTable
	e.frameLimit = info.FrameCount
	e.patternLimit = info.PatternCount
	e.tickLimit = info.TickCount
	e.frame, e.pattern, e.tick = e.frameLimit, e.patternLimit, e.tickLimit
	e.halted = false

	for _, ch := range e.channels {
		ch.Reset()
	}
	return nil
}

// resolveFrame points every channel's cursor at frame e.frame's pattern byte
// stream.
func (e *Engine) resolveFrame() error {
	for idx, ch := range e.channels {
		off, err := e.reader.FrameChannel(e.frameTable, int(e.frame), idx)
		if err != nil {
			return err
		}
		ch.Frame(off)
	}
	return nil
}

// Halted reports whether a halt opcode has stopped the engine.
func (e *Engine) Halted() bool {
	return e.halted
}

// Frame, Pattern, and Tick expose the cursor for tests and instrumentation.
func (e *Engine) Frame() uint8   { return e.frame }
func (e *Engine) Pattern() uint8 { return e.pattern }
func (e *Engine) Tick() uint8    { return e.tick }

// Step advances the engine by one 60 Hz tick: it may cross a row boundary
// (running every channel's Exec), which may itself cross a pattern or frame
// boundary, then always runs every channel's Tick.
//
// Each cursor fires when it already equals its limit. tick increments
// unconditionally at the end of every call, regardless of whether it fired.
// pattern and frame only move inside their parent's fired branch, and there
// they too are unconditional: pattern always advances once per tick-fire,
// frame always advances once per pattern-fire, independent of whether that
// advance itself wraps. A frame boundary resolves every channel's next
// pattern stream using the frame value after its own reset check but before
// its own increment, so the row about to play is always the one just reset
// to (or left at) rather than the one about to be left behind.
func (e *Engine) Step() error {
	if e.halted {
		return nil
	}

	if e.tick == e.tickLimit {
		e.tick = 0
		if e.pattern == e.patternLimit {
			e.pattern = 0
			if e.frame == e.frameLimit {
				e.frame = 0
			}
			if err := e.resolveFrame(); err != nil {
				return err
			}
			e.frame++
		}
		e.pattern++
		for _, ch := range e.channels {
			ctl := ch.Exec()
			e.applyControl(ctl)
		}
	}
	e.tick++

	for _, ch := range e.channels {
		ch.Tick()
	}
	return nil
}

// applyControl resolves the song-wide effects a row's command stream may
// have requested. Jump and SkipFrame force the next Step to treat the
// current row as the pattern boundary; Jump additionally redirects which
// frame that boundary resolves to. If channels in the same row issue
// conflicting control signals, the last one processed wins.
func (e *Engine) applyControl(ctl Control) {
	if ctl.Halt {
		e.halted = true
	}
	if ctl.SetSpeed {
		e.tickLimit = ctl.Speed
		e.tick = 0
	}
	if ctl.Jump {
		e.frame = ctl.JumpFrame
		e.pattern = e.patternLimit
	}
	if ctl.SkipFrame {
		e.pattern = e.patternLimit
	}
}
