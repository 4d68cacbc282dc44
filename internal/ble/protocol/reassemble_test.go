package protocol

import (
	"reflect"
	"testing"
)

func feedAll(t *testing.T, r *Reassembler, chunks ...string) ([]string, bool) {
	t.Helper()
	var lines []string
	var done bool
	for _, chunk := range chunks {
		if done {
			t.Fatalf("Feed(%q) after end of transmission", chunk)
		}
		var batch []string
		batch, done = r.Feed([]byte(chunk))
		lines = append(lines, batch...)
	}
	return lines, done
}

func TestReassemblerSingleChunk(t *testing.T) {
	var r Reassembler
	lines, done := r.Feed([]byte("line1\nline2\nline3\n$$EOT$$"))
	if !done {
		t.Fatal("end of transmission not signalled")
	}
	want := []string{"line1", "line2", "line3"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

// Splitting the same input at every byte boundary must produce the
// identical line sequence as feeding it whole.
func TestReassemblerByteAtATime(t *testing.T) {
	input := "2025-11-03T14:05:09,Temp:28.5,Light:150\n2025-11-03T14:06:09,Temp:28.6\n$$EOT$$"

	var whole Reassembler
	wantLines, wantDone := whole.Feed([]byte(input))

	var split Reassembler
	var gotLines []string
	gotDone := false
	for i := 0; i < len(input); i++ {
		if gotDone {
			t.Fatalf("EOT before final byte (at %d)", i)
		}
		var batch []string
		batch, gotDone = split.Feed([]byte{input[i]})
		gotLines = append(gotLines, batch...)
	}

	if gotDone != wantDone {
		t.Errorf("done = %v, want %v", gotDone, wantDone)
	}
	if !reflect.DeepEqual(gotLines, wantLines) {
		t.Errorf("lines = %q, want %q", gotLines, wantLines)
	}
}

func TestReassemblerSentinelStraddlesChunks(t *testing.T) {
	var r Reassembler
	lines, done := feedAll(t, &r, "line1\nli", "ne2\n$$EO", "T$$")
	if !done {
		t.Fatal("end of transmission not signalled")
	}
	want := []string{"line1", "line2"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestReassemblerDropsEmptyLines(t *testing.T) {
	var r Reassembler
	lines, done := r.Feed([]byte("a\n\nb\n$$EOT$$"))
	if !done {
		t.Fatal("end of transmission not signalled")
	}
	want := []string{"a", "b"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestReassemblerBuffersPartialLine(t *testing.T) {
	var r Reassembler
	lines, done := r.Feed([]byte("partial"))
	if done {
		t.Error("end of transmission signalled for partial data")
	}
	if len(lines) != 0 {
		t.Errorf("lines = %q, want none", lines)
	}

	// The partial bytes are retained for the next feed.
	lines, done = r.Feed([]byte(" line\n$$EOT$$"))
	if !done {
		t.Fatal("end of transmission not signalled")
	}
	want := []string{"partial line"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %q, want %q", lines, want)
	}
}

func TestReassemblerIntermediateBatches(t *testing.T) {
	var r Reassembler

	lines, done := r.Feed([]byte("one\ntwo\nthr"))
	if done {
		t.Fatal("premature end of transmission")
	}
	want := []string{"one", "two"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("first batch = %q, want %q", lines, want)
	}

	lines, done = r.Feed([]byte("ee\n$$EOT$$"))
	if !done {
		t.Fatal("end of transmission not signalled")
	}
	want = []string{"three"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("final batch = %q, want %q", lines, want)
	}
}

func TestReassemblerSentinelOnly(t *testing.T) {
	var r Reassembler
	lines, done := r.Feed([]byte("$$EOT$$"))
	if !done {
		t.Fatal("end of transmission not signalled")
	}
	if len(lines) != 0 {
		t.Errorf("lines = %q, want none", lines)
	}
	if !r.Done() {
		t.Error("Done() = false after sentinel")
	}
}

func TestReassemblerIgnoresFeedAfterDone(t *testing.T) {
	var r Reassembler
	r.Feed([]byte("$$EOT$$"))
	lines, done := r.Feed([]byte("late\n"))
	if !done {
		t.Error("done should remain true")
	}
	if len(lines) != 0 {
		t.Errorf("lines = %q, want none", lines)
	}
}

func TestReassemblerLatin1Bytes(t *testing.T) {
	var r Reassembler
	// 0xB0 is the degree sign in Latin-1; it must come through as one
	// character, not as invalid UTF-8.
	lines, done := r.Feed([]byte{'T', ':', '2', '8', 0xB0, '\n', '$', '$', 'E', 'O', 'T', '$', '$'})
	if !done {
		t.Fatal("end of transmission not signalled")
	}
	if len(lines) != 1 || lines[0] != "T:28°" {
		t.Errorf("lines = %q, want [T:28°]", lines)
	}
}
