// internal/ble/protocol/reassemble.go
package protocol

import "bytes"

// Sentinel is the literal end-of-transmission marker the logger appends
// after the last byte of a streamed file.
const Sentinel = "$$EOT$$"

var sentinel = []byte(Sentinel)

// Reassembler folds a sequence of raw notification chunks into complete
// log lines. The transport chunks the stream at arbitrary boundaries —
// mid-line and even mid-sentinel — so the accumulated buffer is rescanned
// on every Feed. Bytes are decoded one byte per character (Latin-1),
// matching the logger's wire format.
//
// A Reassembler is single-use: once the sentinel has been seen it emits
// nothing further. Callers start a fresh one for each download.
type Reassembler struct {
	buf  []byte
	done bool
}

// Feed appends chunk to the internal buffer and returns any complete
// lines plus an end-of-transmission flag. When the sentinel is found, all
// sentinel occurrences are stripped, the remaining text is split into
// non-empty lines, and (lines, true) is returned as the final batch.
// Otherwise lines up to the last newline are emitted and the trailing
// partial line is retained for the next call.
func (r *Reassembler) Feed(chunk []byte) ([]string, bool) {
	if r.done {
		return nil, true
	}
	r.buf = append(r.buf, chunk...)

	if bytes.Contains(r.buf, sentinel) {
		text := bytes.ReplaceAll(r.buf, sentinel, nil)
		r.buf = nil
		r.done = true
		return splitLines(text), true
	}

	last := bytes.LastIndexByte(r.buf, '\n')
	if last < 0 {
		return nil, false
	}
	lines := splitLines(r.buf[:last])
	r.buf = append([]byte(nil), r.buf[last+1:]...)
	return lines, false
}

// Done reports whether the sentinel has been observed.
func (r *Reassembler) Done() bool {
	return r.done
}

// splitLines splits on newlines, discards empty segments, and decodes
// each segment byte-per-character.
func splitLines(text []byte) []string {
	var lines []string
	for _, seg := range bytes.Split(text, []byte{'\n'}) {
		if len(seg) == 0 {
			continue
		}
		lines = append(lines, decodeLatin1(seg))
	}
	return lines
}

// decodeLatin1 maps each byte to the rune with the same code point.
// Not general text decoding: the wire format guarantees one byte per
// character.
func decodeLatin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
