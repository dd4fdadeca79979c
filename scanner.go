package mp4

import (
	"fmt"
	"io"
)

// Default scanner bounds.
const (
	DefaultMaxTopLevelBoxes = 100000
	DefaultMaxBodySize      = 512 << 20
)

// Scanner reads top-level boxes from a Source without loading their
// bodies. Callers load only the boxes they need:
//
//	sc := mp4.NewScanner(src)
//	for sc.Next() {
//	    if sc.Box().Type == mp4.TypeMoov {
//	        moov, err := sc.Load()
//	        ...
//	    }
//	}
//	if err := sc.Err(); err != nil { ... }
type Scanner struct {
	src Source

	// MaxBoxes bounds the number of top-level boxes.
	MaxBoxes int
	// MaxBodySize bounds the body length Load will read into memory.
	MaxBodySize uint64

	box    Box
	loaded bool
	done   bool
	count  int
	err    error
}

// NewScanner creates a Scanner over src with the default bounds.
func NewScanner(src Source) *Scanner {
	return &Scanner{
		src:         src,
		MaxBoxes:    DefaultMaxTopLevelBoxes,
		MaxBodySize: DefaultMaxBodySize,
	}
}

// Next advances to the next top-level box. It returns false at the end of
// the source or on error; check Err after the loop.
func (s *Scanner) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	if s.count > 0 && !s.loaded {
		if err := s.skipBody(); err != nil {
			s.err = err
			return false
		}
	}
	if s.box.Size == 0 && s.count > 0 {
		// the previous box ran to the end of the source
		s.done = true
		return false
	}

	start := s.src.Offset()
	if s.count > 0 && start <= s.box.Offset {
		s.err = &BoxError{Type: s.box.Type, Offset: s.box.Offset, Err: fmt.Errorf("%w: cursor did not advance", ErrInfiniteLoopGuard)}
		return false
	}
	if s.count >= s.MaxBoxes {
		s.err = fmt.Errorf("%w: more than %d top-level boxes", ErrInfiniteLoopGuard, s.MaxBoxes)
		return false
	}

	hdr, err := s.src.ReadFull(8)
	if err != nil {
		if err == io.EOF {
			s.done = true
			return false
		}
		s.err = fmt.Errorf("box header at offset %d: %w", start, err)
		return false
	}
	if be.Uint32(hdr) == 1 {
		ext, err := s.src.ReadFull(8)
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			s.err = fmt.Errorf("box header at offset %d: %w", start, err)
			return false
		}
		hdr = append(hdr[:8:8], ext...)
	}

	h, err := ReadHeader(hdr)
	if err != nil {
		s.err = &BoxError{Type: h.Type, Offset: start, Err: err}
		return false
	}

	s.box = Box{Header: h, Offset: start}
	s.loaded = false
	s.count++
	return true
}

// Box returns the current box. Its Data is set only after Load.
func (s *Scanner) Box() Box { return s.box }

// Load reads the body of the current box.
func (s *Scanner) Load() ([]byte, error) {
	if s.loaded {
		return s.box.Data, nil
	}
	s.loaded = true

	var data []byte
	var err error
	if s.box.Size == 0 {
		data, err = s.src.ReadRest(s.MaxBodySize)
	} else {
		n := s.box.DataSize()
		if n > s.MaxBodySize {
			err = s.box.errorf(ErrMalformedBox, "body of %d bytes exceeds load limit %d", n, s.MaxBodySize)
			s.err = err
			return nil, err
		}
		data, err = s.src.ReadFull(int(n))
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}
	if err != nil {
		err = &BoxError{Type: s.box.Type, Offset: s.box.Offset, Err: err}
		s.err = err
		return nil, err
	}
	s.box.Data = data
	return data, nil
}

// Err returns the first error encountered. Reaching the end of the source
// at a box boundary is not an error.
func (s *Scanner) Err() error { return s.err }

func (s *Scanner) skipBody() error {
	if s.box.Size == 0 {
		// Next stops after an open-ended box, so its body is never read
		return nil
	}
	if err := s.src.Discard(int64(s.box.DataSize())); err != nil {
		return &BoxError{Type: s.box.Type, Offset: s.box.Offset, Err: err}
	}
	return nil
}
