package linewire

import "bytes"

// LineDecoder turns an arbitrarily chunked byte stream into complete
// newline-delimited frames. Chunks may split a frame across boundaries or
// carry several frames at once; the decoder keeps the trailing unterminated
// segment buffered until the delimiter for it arrives. It never blocks and
// never drops a byte.
type LineDecoder struct {
	buf []byte
}

// NewLineDecoder creates an empty decoder.
func NewLineDecoder() *LineDecoder {
	return &LineDecoder{}
}

// Feed appends one chunk and returns every frame it completed, in arrival
// order. Blank lines are discarded without emission. Returned slices are
// copies and remain valid across subsequent calls. A trailing '\r' is
// stripped so CRLF-terminated workers decode the same as LF ones.
func (d *LineDecoder) Feed(chunk []byte) [][]byte {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		segment := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		segment = bytes.TrimSuffix(segment, []byte{'\r'})
		if len(segment) == 0 {
			continue
		}
		frames = append(frames, append([]byte(nil), segment...))
	}

	// Release the backing array once fully drained so a long-lived session
	// does not pin the largest frame ever seen.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *LineDecoder) Buffered() int {
	return len(d.buf)
}
