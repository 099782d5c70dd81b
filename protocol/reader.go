package protocol

import (
	"fmt"
	"io"
)

// DefaultBufferSize is the initial capacity of a Reader's intake buffer.
// Bodies larger than this grow the buffer; they are never truncated.
const DefaultBufferSize = 1024

// DefaultMaxBodySize is the largest body length a Reader accepts from a
// frame header. A header declaring more is rejected as ErrMalformed
// before any allocation, so a single bogus 14-byte header cannot demand
// gigabytes of memory.
const DefaultMaxBodySize = 64 << 20 // 64 MiB

// Reader reads frames from a single connection, reusing one intake buffer
// across frames to avoid a per-message allocation. The buffer starts at
// DefaultBufferSize and grows on demand when a body exceeds its current
// capacity. It never shrinks.
//
// A read that fails mid-frame with partial progress (typically a read
// deadline firing while bytes are still in flight) leaves the reader
// resumable: it remembers how far into the header or body it got, and
// the next ReadFrame call continues from there. No consumed byte is ever
// discarded, so a slow peer cannot desync the stream. After ErrMalformed
// the stream is not recoverable and the connection should be closed.
//
// Reader is not safe for concurrent use: one connection has exactly one
// reader, and reads must be sequential to parse frame boundaries.
type Reader struct {
	r       io.Reader
	buf     []byte
	maxBody int

	// partial-frame state, carried across ReadFrame calls
	header *Header // parsed header of the frame in progress, nil between frames
	off    int     // bytes of the current section (header or body) already read
}

// NewReader creates a frame reader for r with the default buffer size and
// body limit.
func NewReader(r io.Reader) *Reader {
	return NewReaderLimit(r, DefaultMaxBodySize)
}

// NewReaderLimit creates a frame reader with an explicit body-size limit.
// A non-positive limit selects DefaultMaxBodySize.
func NewReaderLimit(r io.Reader, maxBody int) *Reader {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	return &Reader{r: r, buf: make([]byte, DefaultBufferSize), maxBody: maxBody}
}

// BufferSize reports the current intake buffer capacity.
func (fr *Reader) BufferSize() int {
	return len(fr.buf)
}

// ReadFrame reads one complete frame, resuming a partially-read frame
// left over from a previous timed-out call. The returned body aliases the
// reader's internal buffer and is only valid until the next ReadFrame
// call; callers must decode it before reading again.
func (fr *Reader) ReadFrame() (*Header, []byte, error) {
	if fr.header == nil {
		n, err := io.ReadFull(fr.r, fr.buf[fr.off:HeaderSize])
		fr.off += n
		if err != nil {
			return nil, nil, err
		}

		header, err := parseHeader(fr.buf[:HeaderSize])
		if err != nil {
			return nil, nil, err
		}
		if int64(header.BodyLen) > int64(fr.maxBody) {
			return nil, nil, fmt.Errorf("%w: body length %d exceeds limit %d",
				ErrMalformed, header.BodyLen, fr.maxBody)
		}

		fr.header = header
		fr.off = 0

		// Grow the intake buffer instead of truncating oversized bodies.
		if int(header.BodyLen) > len(fr.buf) {
			fr.buf = make([]byte, header.BodyLen)
		}
	}

	bodyLen := int(fr.header.BodyLen)
	if fr.off < bodyLen {
		n, err := io.ReadFull(fr.r, fr.buf[fr.off:bodyLen])
		fr.off += n
		if err != nil {
			return nil, nil, err
		}
	}

	header := fr.header
	fr.header = nil
	fr.off = 0
	if bodyLen == 0 {
		return header, nil, nil
	}
	return header, fr.buf[:bodyLen], nil
}
