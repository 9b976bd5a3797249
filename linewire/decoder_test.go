package linewire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST101: one chunk carrying several frames emits all of them in order
func Test101_multiple_frames_single_chunk(t *testing.T) {
	d := NewLineDecoder()
	frames := d.Feed([]byte("alpha\nbeta\ngamma\n"))

	require.Len(t, frames, 3)
	assert.Equal(t, "alpha", string(frames[0]))
	assert.Equal(t, "beta", string(frames[1]))
	assert.Equal(t, "gamma", string(frames[2]))
	assert.Equal(t, 0, d.Buffered())
}

// TEST102: byte-at-a-time feeding yields the same frames as one chunk
func Test102_byte_at_a_time(t *testing.T) {
	stream := []byte("first message\nsecond\nthird one\n")

	d := NewLineDecoder()
	var frames [][]byte
	for i := 0; i < len(stream); i++ {
		frames = append(frames, d.Feed(stream[i:i+1])...)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, "first message", string(frames[0]))
	assert.Equal(t, "second", string(frames[1]))
	assert.Equal(t, "third one", string(frames[2]))
}

// TEST103: every split point of the stream yields identical frames
func Test103_all_split_points(t *testing.T) {
	stream := []byte("{\"id\":1}\n{\"id\":2}\n")

	for i := 0; i <= len(stream); i++ {
		d := NewLineDecoder()
		frames := d.Feed(stream[:i])
		frames = append(frames, d.Feed(stream[i:])...)

		require.Len(t, frames, 2, "split at %d", i)
		assert.Equal(t, `{"id":1}`, string(frames[0]), "split at %d", i)
		assert.Equal(t, `{"id":2}`, string(frames[1]), "split at %d", i)
	}
}

// TEST104: blank lines are discarded without emission
func Test104_blank_lines_discarded(t *testing.T) {
	d := NewLineDecoder()
	frames := d.Feed([]byte("\n\nreal\n\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "real", string(frames[0]))
}

// TEST105: the trailing unterminated segment is retained, not emitted
func Test105_partial_frame_retained(t *testing.T) {
	d := NewLineDecoder()

	frames := d.Feed([]byte("complete\npar"))
	require.Len(t, frames, 1)
	assert.Equal(t, "complete", string(frames[0]))
	assert.Equal(t, 3, d.Buffered())

	frames = d.Feed([]byte("tial\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "partial", string(frames[0]))
	assert.Equal(t, 0, d.Buffered())
}

// TEST106: CRLF-terminated frames decode the same as LF ones
func Test106_crlf_stripped(t *testing.T) {
	d := NewLineDecoder()
	frames := d.Feed([]byte("windows\r\nunix\n"))

	require.Len(t, frames, 2)
	assert.Equal(t, "windows", string(frames[0]))
	assert.Equal(t, "unix", string(frames[1]))
}

// TEST107: emitted frames stay valid after the decoder's buffer moves on
func Test107_frames_are_copies(t *testing.T) {
	d := NewLineDecoder()
	frames := d.Feed([]byte("one\ntw"))
	d.Feed([]byte("o\nthree\n"))

	require.Len(t, frames, 1)
	assert.Equal(t, "one", string(frames[0]))
}
