package mp4

import (
	"fmt"
	"io"
	"math"
)

// Source supplies top-level bytes to a Scanner. Its cursor only moves
// forward.
type Source interface {
	// ReadFull returns the next n bytes. It returns io.EOF when the source
	// is exhausted and an error wrapping io.ErrUnexpectedEOF when fewer
	// than n bytes remain.
	ReadFull(n int) ([]byte, error)
	// Discard skips the next n bytes.
	Discard(n int64) error
	// ReadRest returns everything up to the end of the source. It fails
	// without returning data when more than limit bytes remain.
	ReadRest(limit uint64) ([]byte, error)
	// Offset returns the absolute position of the cursor.
	Offset() int64
}

// BufferSource is a Source over a fully materialized buffer. Returned
// slices alias the buffer.
type BufferSource struct {
	buf []byte
	pos int
}

// NewBufferSource creates a Source reading from buf.
func NewBufferSource(buf []byte) *BufferSource {
	return &BufferSource{buf: buf}
}

func (s *BufferSource) ReadFull(n int) ([]byte, error) {
	rem := len(s.buf) - s.pos
	if rem == 0 && n > 0 {
		return nil, io.EOF
	}
	if n > rem {
		s.pos = len(s.buf)
		return nil, fmt.Errorf("need %d bytes, have %d: %w", n, rem, io.ErrUnexpectedEOF)
	}
	b := s.buf[s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

func (s *BufferSource) Discard(n int64) error {
	rem := int64(len(s.buf) - s.pos)
	if n > rem {
		s.pos = len(s.buf)
		return fmt.Errorf("skip %d bytes, have %d: %w", n, rem, io.ErrUnexpectedEOF)
	}
	s.pos += int(n)
	return nil
}

func (s *BufferSource) ReadRest(limit uint64) ([]byte, error) {
	b := s.buf[s.pos:]
	s.pos = len(s.buf)
	if uint64(len(b)) > limit {
		return nil, errRestTooLong(limit)
	}
	return b, nil
}

func (s *BufferSource) Offset() int64 { return int64(s.pos) }

// Bytes returns the whole underlying buffer.
func (s *BufferSource) Bytes() []byte { return s.buf }

// ReaderSource is a pull-based Source over an io.Reader. Discard uses a
// forward relative seek when the reader is also an io.Seeker.
type ReaderSource struct {
	r   io.Reader
	pos int64
}

// NewReaderSource creates a Source reading from r.
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{r: r}
}

func (s *ReaderSource) ReadFull(n int) ([]byte, error) {
	b := make([]byte, n)
	m, err := io.ReadFull(s.r, b)
	s.pos += int64(m)
	switch {
	case err == io.EOF:
		return nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		return nil, fmt.Errorf("need %d bytes, have %d: %w", n, m, io.ErrUnexpectedEOF)
	case err != nil:
		return nil, err
	}
	return b, nil
}

func (s *ReaderSource) Discard(n int64) error {
	if n <= 0 {
		return nil
	}
	if sk, ok := s.r.(io.Seeker); ok {
		if _, err := sk.Seek(n, io.SeekCurrent); err != nil {
			return err
		}
		s.pos += n
		return nil
	}
	m, err := io.CopyN(io.Discard, s.r, n)
	s.pos += m
	if err == io.EOF {
		return fmt.Errorf("skip %d bytes, have %d: %w", n, m, io.ErrUnexpectedEOF)
	}
	return err
}

func (s *ReaderSource) ReadRest(limit uint64) ([]byte, error) {
	n := int64(math.MaxInt64)
	if limit < math.MaxInt64 {
		n = int64(limit) + 1
	}
	b, err := io.ReadAll(io.LimitReader(s.r, n))
	s.pos += int64(len(b))
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) > limit {
		return nil, errRestTooLong(limit)
	}
	return b, nil
}

func (s *ReaderSource) Offset() int64 { return s.pos }

func errRestTooLong(limit uint64) error {
	return fmt.Errorf("%w: open-ended body exceeds load limit %d", ErrMalformedBox, limit)
}
