package module

import (
	"errors"
	"testing"
)

// buildFixture constructs a small, hand-laid-out module blob exercising the
// root -> song table -> song info -> frame table -> frame entry -> pattern
// chain, and the instrument table -> instrument -> sequence chain. Every
// stored 16-bit value below is an absolute offset from the module root
// (offset 0) — never relative to the two bytes that store it.
//
// Layout (byte offsets):
//
//	0   root: songTable ptr, instTable ptr              (4 bytes)
//	4   songTable: one entry -> songInfo                 (2 bytes)
//	6   songInfo: frameTable ptr, counts                  (5 bytes)
//	11  frameTable: one frame-entry ptr for frame 0       (2 bytes)
//	13  frame entry: 4 channel pattern ptrs               (8 bytes)
//	21  pattern bytes, one 2-byte stream per channel      (8 bytes)
//	29  instTable: one entry -> instrument                (2 bytes)
//	31  instrument: mask + 2 sequence ptrs                (5 bytes)
//	36  sequence record 0 (VOLUME): count 3               (7 bytes)
//	43  sequence record 1 (ARPEGGIO): count 2             (6 bytes)
func buildFixture() []byte {
	data := make([]byte, 49)
	put16 := func(off int, v uint16) {
		data[off] = byte(v)
		data[off+1] = byte(v >> 8)
	}

	put16(0, 4)  // root -> songTable (4), absolute
	put16(2, 29) // root+2 -> instTable (29), absolute

	put16(4, 6) // songTable[0] -> songInfo (6)

	put16(6, 11) // songInfo+0 -> frameTable (11)
	data[8] = 0  // frameCount-1
	data[9] = 0  // patternCount-1
	data[10] = 4 // tickCount-1

	// frameTable holds one absolute frame-entry pointer per frame; frame 0's
	// entry is itself a table of one absolute pattern pointer per channel.
	put16(11, 13) // frameTable[frame 0] -> frame entry (13)

	put16(13, 21) // frame entry[ch0] -> pattern ch0 (21)
	put16(15, 23) // frame entry[ch1] -> pattern ch1 (23)
	put16(17, 25) // frame entry[ch2] -> pattern ch2 (25)
	put16(19, 27) // frame entry[ch3] -> pattern ch3 (27)

	data[21], data[22] = 0xaa, 0xbb
	data[23], data[24] = 0xcc, 0xdd
	data[25], data[26] = 0xee, 0xff
	data[27], data[28] = 0x11, 0x22

	put16(29, 31) // instTable[0] -> instrument (31)

	data[31] = 0x03 // mask: VOLUME | ARPEGGIO
	put16(32, 36)   // sequence slot 0 -> VOLUME record (36)
	put16(34, 43)   // sequence slot 1 -> ARPEGGIO record (43)

	data[36] = 3    // seq0 count
	data[37] = 0xff // seq0 repeat (stop at end)
	data[38] = 0
	data[39] = 0
	data[40], data[41], data[42] = 1, 2, 3

	data[43] = 2 // seq1 count
	data[44] = 0 // seq1 repeat (wrap to 0)
	data[45] = 0
	data[46] = 0
	data[47], data[48] = 9, 8

	return data
}

func TestLookupRoot(t *testing.T) {
	r := NewReader(buildFixture())

	songTable, err := r.SongTable()
	if err != nil || songTable != 4 {
		t.Fatalf("SongTable() = %d, %v; want 4, nil", songTable, err)
	}
	instTable, err := r.InstrumentTable()
	if err != nil || instTable != 29 {
		t.Fatalf("InstrumentTable() = %d, %v; want 29, nil", instTable, err)
	}
}

func TestSong(t *testing.T) {
	r := NewReader(buildFixture())
	info, err := r.Song(0)
	if err != nil {
		t.Fatalf("Song(0) error: %v", err)
	}
	want := SongInfo{FrameTable: 11, FrameCount: 0, PatternCount: 0, TickCount: 4}
	if info != want {
		t.Fatalf("Song(0) = %+v, want %+v", info, want)
	}
}

func TestFrameChannel(t *testing.T) {
	r := NewReader(buildFixture())
	info, err := r.Song(0)
	if err != nil {
		t.Fatalf("Song(0) error: %v", err)
	}

	want := []int{21, 23, 25, 27}
	for ch, w := range want {
		got, err := r.FrameChannel(info.FrameTable, 0, ch)
		if err != nil {
			t.Fatalf("FrameChannel(ch=%d): %v", ch, err)
		}
		if got != w {
			t.Fatalf("FrameChannel(ch=%d) = %d, want %d", ch, got, w)
		}
	}
}

func TestInstrument(t *testing.T) {
	r := NewReader(buildFixture())
	seqs, err := r.Instrument(0)
	if err != nil {
		t.Fatalf("Instrument(0) error: %v", err)
	}

	vol := seqs[0]
	if vol.Count != 3 || vol.Repeat != 0xff || string(vol.Data) != string([]byte{1, 2, 3}) {
		t.Fatalf("VOLUME sequence = %+v, want count 3 repeat 0xff data [1 2 3]", vol)
	}
	arp := seqs[1]
	if arp.Count != 2 || arp.Repeat != 0 || string(arp.Data) != string([]byte{9, 8}) {
		t.Fatalf("ARPEGGIO sequence = %+v, want count 2 repeat 0 data [9 8]", arp)
	}
	for i, slot := range []string{"PITCH", "HIPITCH", "DUTY"} {
		if got := seqs[2+i]; got.Count != 0 {
			t.Fatalf("%s sequence should be absent, got %+v", slot, got)
		}
	}
}

func TestLookupOutOfBoundsReturnsErrInvalidModule(t *testing.T) {
	r := NewReader(buildFixture())

	if _, err := r.Byte(1000); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("Byte(1000) error = %v, want ErrInvalidModule", err)
	}
	if _, err := r.U16(48); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("U16 past the end error = %v, want ErrInvalidModule", err)
	}
	if _, err := r.Slice(40, 20); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("Slice past the end error = %v, want ErrInvalidModule", err)
	}
}

func TestLookupResolvingOutsideBoundsFails(t *testing.T) {
	data := buildFixture()
	// Corrupt the songTable pointer so it resolves past the blob.
	data[0], data[1] = 0xff, 0x7f
	r := NewReader(data)

	if _, err := r.SongTable(); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("SongTable() with corrupt pointer error = %v, want ErrInvalidModule", err)
	}
}

func TestSongIndexOutOfRange(t *testing.T) {
	r := NewReader(buildFixture())
	if _, err := r.Song(5); !errors.Is(err, ErrInvalidModule) {
		t.Fatalf("Song(5) error = %v, want ErrInvalidModule", err)
	}
}
