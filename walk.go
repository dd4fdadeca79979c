package mp4

import (
	"fmt"
	"io"
	"iter"
)

// MaxChildren bounds the number of children enumerated under one parent.
const MaxChildren = 1000

// Children returns a lazy sequence over the direct children of parent.
// Iteration advances by each child's total size. On the first error the
// sequence yields it and stops.
func Children(parent Box) iter.Seq2[Box, error] {
	return ChildrenAt(parent.Data, parent.DataOffset())
}

// ChildrenAt enumerates boxes packed in data, whose first byte sits at
// absolute position base. Use it for bodies with a fixed prefix before
// their children, such as stsd or sample entries.
func ChildrenAt(data []byte, base int64) iter.Seq2[Box, error] {
	return func(yield func(Box, error) bool) {
		pos := 0
		for n := 0; pos < len(data); n++ {
			if n >= MaxChildren {
				yield(Box{Offset: base + int64(pos)}, fmt.Errorf("%w: more than %d children at offset %d", ErrInfiniteLoopGuard, MaxChildren, base))
				return
			}
			rest := data[pos:]
			if len(rest) < 8 && allZero(rest) {
				// QuickTime terminates some lists with a zero word
				return
			}

			h, err := ReadHeader(rest)
			off := base + int64(pos)
			if err != nil {
				yield(Box{Header: h, Offset: off}, &BoxError{Type: h.Type, Offset: off, Err: err})
				return
			}
			if h.Size == 0 {
				yield(Box{Header: h, Offset: off}, &BoxError{Type: h.Type, Offset: off, Err: fmt.Errorf("%w: nested box with size 0", ErrMalformedBox)})
				return
			}
			if h.Size > uint64(len(rest)) {
				yield(Box{Header: h, Offset: off}, &BoxError{Type: h.Type, Offset: off, Err: fmt.Errorf("%w: size %d exceeds parent by %d bytes", ErrMalformedBox, h.Size, h.Size-uint64(len(rest)))})
				return
			}

			next := pos + int(h.Size)
			if next <= pos {
				yield(Box{Header: h, Offset: off}, &BoxError{Type: h.Type, Offset: off, Err: ErrInfiniteLoopGuard})
				return
			}
			child := Box{Header: h, Offset: off, Data: rest[h.HeaderSize():h.Size]}
			if !yield(child, nil) {
				return
			}
			pos = next
		}
	}
}

// ForEachChild calls visit for every direct child of parent. It stops at
// the first enumeration error or the first error returned by visit.
func ForEachChild(parent Box, visit func(Box) error) error {
	for child, err := range Children(parent) {
		if err != nil {
			return err
		}
		if err := visit(child); err != nil {
			return err
		}
	}
	return nil
}

// FindChild returns the first direct child of parent with type t.
// Enumeration errors after a match are not observed; an error before a
// match reports the child as absent.
func FindChild(parent Box, t BoxType) (Box, bool) {
	for child, err := range Children(parent) {
		if err != nil {
			return Box{}, false
		}
		if child.Type == t {
			return child, true
		}
	}
	return Box{}, false
}

// ReadBox decodes the box at the start of data, whose first byte sits at
// absolute position base. It returns io.EOF for empty data.
func ReadBox(data []byte, base int64) (Box, error) {
	h, err := ReadHeader(data)
	if err == io.EOF {
		return Box{}, err
	}
	if err != nil {
		return Box{Header: h, Offset: base}, &BoxError{Type: h.Type, Offset: base, Err: err}
	}
	size := h.Size
	if size == 0 {
		size = uint64(len(data))
	}
	if size > uint64(len(data)) {
		return Box{Header: h, Offset: base}, &BoxError{Type: h.Type, Offset: base, Err: fmt.Errorf("%w: size %d exceeds %d available bytes", ErrMalformedBox, size, len(data))}
	}
	return Box{Header: h, Offset: base, Data: data[h.HeaderSize():size]}, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
