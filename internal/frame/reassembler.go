package frame

import (
	"bytes"
	"fmt"
	"iter"
	"unicode"

	"github.com/dustin/go-humanize"
)

const (
	// Delimiter terminates every record on the wire
	Delimiter = '\n'

	// DefaultMaxFrameSize bounds a single record and the undelimited tail held between reads
	DefaultMaxFrameSize = 64 * 1024
)

// WithMaxFrameSize sets the largest record, in bytes, the reassembler accepts.
// Non-positive values keep the default.
func WithMaxFrameSize(n int) func(*Reassembler) {
	return func(r *Reassembler) {
		if n > 0 {
			r.maxFrameSize = n
		}
	}
}

// Reassembler recovers newline-delimited records from a byte stream delivered
// in arbitrary chunks. It is not safe for concurrent use; each connection owns one.
type Reassembler struct {
	buf []byte // buf[off:] is the undelimited tail
	off int

	maxFrameSize int
	discarding   bool // dropping input up to the next delimiter
}

// NewReassembler creates a Reassembler with an empty buffer
func NewReassembler(options ...func(*Reassembler)) *Reassembler {
	r := Reassembler{
		maxFrameSize: DefaultMaxFrameSize,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// Feed appends chunk to the buffer and returns the candidate records it completes,
// in stream order, with trailing whitespace removed. Empty candidates are yielded as "".
//
// Records are extracted lazily: anything the caller does not consume stays buffered
// and is yielded by the next Feed. A record longer than the frame size limit yields
// a single ("", err) with err wrapping ErrFrameTooLarge, and input is dropped up to
// and including its delimiter.
func (r *Reassembler) Feed(chunk []byte) iter.Seq2[string, error] {
	r.buf = append(r.buf, chunk...)

	return func(yield func(string, error) bool) {
		defer r.compact()

		for {
			i := bytes.IndexByte(r.buf[r.off:], Delimiter)
			if i < 0 {
				break
			}

			record := r.buf[r.off : r.off+i]
			r.off += i + 1

			if r.discarding {
				r.discarding = false
				continue
			}

			if len(record) > r.maxFrameSize {
				if !yield("", r.tooLarge(len(record))) {
					return
				}
				continue
			}

			if !yield(string(bytes.TrimRightFunc(record, unicode.IsSpace)), nil) {
				return
			}
		}

		pending := len(r.buf) - r.off
		switch {
		case r.discarding:
			r.off = len(r.buf)

		case pending > r.maxFrameSize:
			r.off = len(r.buf)
			r.discarding = true
			yield("", r.tooLarge(pending))
		}
	}
}

// Pending returns the number of buffered bytes not yet delimited
func (r *Reassembler) Pending() int {
	return len(r.buf) - r.off
}

// Reset drops buffered bytes and leaves discard mode
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.off = 0
	r.discarding = false
}

func (r *Reassembler) tooLarge(n int) error {
	return fmt.Errorf("%w: %s exceeds limit of %s", ErrFrameTooLarge,
		humanize.IBytes(uint64(n)), humanize.IBytes(uint64(r.maxFrameSize)))
}

// compact moves the undelimited tail to the front of the buffer
func (r *Reassembler) compact() {
	if r.off == 0 {
		return
	}

	n := copy(r.buf, r.buf[r.off:])
	r.buf = r.buf[:n]
	r.off = 0
}
