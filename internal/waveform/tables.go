// Package waveform holds the static lookup tables shared by every 2A03
// channel oscillator: the triangle ramp, the four square duty patterns, and
// the note-to-period tables for tonal and noise channels.
package waveform

// Triangle is one full period of the triangle channel's staircase waveform.
var Triangle = [32]uint8{
	15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0,
	0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
}

// Square holds the four duty-cycle bit patterns: 12.5%, 25%, 50%, and an
// inverted 25% (75%).
var Square = [4][8]uint8{
	{0, 1, 0, 0, 0, 0, 0, 0},
	{0, 1, 1, 0, 0, 0, 0, 0},
	{0, 1, 1, 1, 1, 0, 0, 0},
	{1, 0, 0, 1, 1, 1, 1, 1},
}

// Period is the NES cycle period table indexed by semitone from A0 (index 0
// corresponds to note 9, since notes below that have no representable
// period). Square channels use Period[note-9]<<1; triangle uses
// Period[note-9] directly.
var Period = [88]uint16{
	0x7f1, 0x77f, 0x713, 0x6ad, 0x64d, 0x5f3, 0x59d, 0x54c,
	0x500, 0x4b8, 0x474, 0x434, 0x3f8, 0x3bf, 0x389, 0x356,
	0x326, 0x2f9, 0x2ce, 0x2a6, 0x280, 0x25c, 0x23a, 0x21a,
	0x1fb, 0x1df, 0x1c4, 0x1ab, 0x193, 0x17c, 0x167, 0x152,
	0x13f, 0x12d, 0x11c, 0x10c, 0x0fd, 0x0ef, 0x0e1, 0x0d5,
	0x0c9, 0x0bd, 0x0b3, 0x0a9, 0x09f, 0x096, 0x08e, 0x086,
	0x07e, 0x077, 0x070, 0x06a, 0x064, 0x05e, 0x059, 0x054,
	0x04f, 0x04b, 0x046, 0x042, 0x03f, 0x03b, 0x038, 0x034,
	0x031, 0x02f, 0x02c, 0x029, 0x027, 0x025, 0x023, 0x021,
	0x01f, 0x01d, 0x01b, 0x01a, 0x018, 0x017, 0x015, 0x014,
	0x013, 0x012, 0x011, 0x010, 0x00f, 0x00e, 0x00d, 0x000,
}

// NoisePeriod holds the sixteen NES cycle periods selectable by the noise
// channel, indexed by the low nibble of a note byte.
var NoisePeriod = [16]uint16{
	0xfe4, 0x7f2, 0x3f8, 0x2fa, 0x1fc, 0x17c, 0x0fe, 0x0ca,
	0x0a0, 0x080, 0x060, 0x040, 0x020, 0x010, 0x008, 0x004,
}

// periodIndex converts a semitone to a Period index, or -1 if the semitone
// falls outside the table's domain (9 through 9+len(Period)-1). A module
// byte stream is untrusted input: a corrupt or malicious note value must not
// index out of bounds.
func periodIndex(note uint8) int {
	if note < 9 {
		return -1
	}
	i := int(note) - 9
	if i >= len(Period) {
		return -1
	}
	return i
}

// NoteToSquarePeriod maps an A0-relative semitone to a square channel
// period. A semitone outside the table's domain maps to 0, the sentinel the
// oscillator treats as "disable".
func NoteToSquarePeriod(note uint8) uint16 {
	i := periodIndex(note)
	if i < 0 {
		return 0
	}
	return Period[i] << 1
}

// NoteToTrianglePeriod maps an A0-relative semitone to a triangle channel
// period; out-of-domain semitones map to 0 ("disable").
func NoteToTrianglePeriod(note uint8) uint16 {
	i := periodIndex(note)
	if i < 0 {
		return 0
	}
	return Period[i]
}

// NoteToNoisePeriod maps the low nibble of a note byte to a noise channel period.
func NoteToNoisePeriod(note uint8) uint16 {
	return NoisePeriod[note&0x0f]
}
