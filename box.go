// Package mp4 reads ISO Base Media File Format (MP4) boxes and decodes the
// header, sample table and movie fragment boxes needed to rebuild track
// sample lists.
package mp4

import (
	"encoding/binary"
	"fmt"
	"io"
)

var be = binary.BigEndian

// BoxType is a 4-byte box type identifier.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// newBoxType creates a BoxType from a 4-character string.
func newBoxType(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

// Known box types.
var (
	TypeFtyp = newBoxType("ftyp")
	TypeStyp = newBoxType("styp")
	TypeMoov = newBoxType("moov")
	TypeMvhd = newBoxType("mvhd")
	TypeTrak = newBoxType("trak")
	TypeTkhd = newBoxType("tkhd")
	TypeTref = newBoxType("tref")
	TypeEdts = newBoxType("edts")
	TypeElst = newBoxType("elst")
	TypeMdia = newBoxType("mdia")
	TypeMdhd = newBoxType("mdhd")
	TypeHdlr = newBoxType("hdlr")
	TypeMinf = newBoxType("minf")
	TypeVmhd = newBoxType("vmhd")
	TypeSmhd = newBoxType("smhd")
	TypeDinf = newBoxType("dinf")
	TypeDref = newBoxType("dref")
	TypeStbl = newBoxType("stbl")
	TypeStsd = newBoxType("stsd")
	TypeStts = newBoxType("stts")
	TypeCtts = newBoxType("ctts")
	TypeStsc = newBoxType("stsc")
	TypeStsz = newBoxType("stsz")
	TypeStco = newBoxType("stco")
	TypeCo64 = newBoxType("co64")
	TypeStss = newBoxType("stss")
	TypeSdtp = newBoxType("sdtp")
	TypeMvex = newBoxType("mvex")
	TypeMehd = newBoxType("mehd")
	TypeTrex = newBoxType("trex")
	TypeMoof = newBoxType("moof")
	TypeMfhd = newBoxType("mfhd")
	TypeTraf = newBoxType("traf")
	TypeTfhd = newBoxType("tfhd")
	TypeTfdt = newBoxType("tfdt")
	TypeTrun = newBoxType("trun")
	TypeSidx = newBoxType("sidx")
	TypeMeta = newBoxType("meta")
	TypeUdta = newBoxType("udta")
	TypeMdat = newBoxType("mdat")
	TypeFree = newBoxType("free")
	TypeSkip = newBoxType("skip")
	TypeAvc1 = newBoxType("avc1")
	TypeAvc3 = newBoxType("avc3")
	TypeAvcC = newBoxType("avcC")
	TypeMp4a = newBoxType("mp4a")
	TypeEsds = newBoxType("esds")
)

// containers is the set of box types whose body is a plain sequence of child boxes.
var containers = map[BoxType]bool{
	TypeMoov: true, TypeTrak: true, TypeEdts: true, TypeMdia: true,
	TypeMinf: true, TypeDinf: true, TypeStbl: true, TypeUdta: true,
	TypeMvex: true, TypeMoof: true, TypeTraf: true, TypeTref: true,
}

// fullBoxes is the set of box types that have version+flags in their header.
var fullBoxes = map[BoxType]bool{
	TypeMvhd: true, TypeTkhd: true, TypeMdhd: true, TypeVmhd: true, TypeSmhd: true,
	TypeStsd: true, TypeEsds: true, TypeStsz: true, TypeStco: true, TypeCo64: true,
	TypeStss: true, TypeStts: true, TypeCtts: true, TypeStsc: true, TypeDref: true,
	TypeElst: true, TypeHdlr: true, TypeMehd: true, TypeTrex: true, TypeMfhd: true,
	TypeTfhd: true, TypeTfdt: true, TypeTrun: true, TypeMeta: true, TypeSdtp: true,
	TypeSidx: true,
}

// IsContainerBox reports whether boxes of type t hold only child boxes.
func IsContainerBox(t BoxType) bool { return containers[t] }

// IsFullBox reports whether boxes of type t start with version and flags.
func IsFullBox(t BoxType) bool { return fullBoxes[t] }

// Header is a decoded box header.
type Header struct {
	Type BoxType
	// Size is the total box size including the header. Zero means the box
	// extends to the end of its enclosing range.
	Size uint64
	// HeaderExtra is 8 when the 64-bit largesize field is present, else 0.
	HeaderExtra int
}

// HeaderSize returns the encoded header length (8 or 16).
func (h Header) HeaderSize() int { return 8 + h.HeaderExtra }

// ReadHeader decodes one box header from the start of buf.
//
// An empty buf returns io.EOF. A buf holding only part of a header returns
// an error wrapping io.ErrUnexpectedEOF. A size that cannot hold its own
// header returns ErrMalformedBox.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) == 0 {
		return Header{}, io.EOF
	}
	if len(buf) < 8 {
		return Header{}, fmt.Errorf("box header: need 8 bytes, have %d: %w", len(buf), io.ErrUnexpectedEOF)
	}

	h := Header{Size: uint64(be.Uint32(buf))}
	copy(h.Type[:], buf[4:8])

	switch h.Size {
	case 0:
		return h, nil
	case 1:
		if len(buf) < 16 {
			return h, fmt.Errorf("box %s: need 16 bytes for extended size, have %d: %w", h.Type, len(buf), io.ErrUnexpectedEOF)
		}
		h.Size = be.Uint64(buf[8:])
		h.HeaderExtra = 8
	}

	if h.Size < uint64(h.HeaderSize()) {
		return h, fmt.Errorf("box %s: size %d smaller than header: %w", h.Type, h.Size, ErrMalformedBox)
	}
	return h, nil
}

// Box is a view of one box. Data aliases caller-owned storage and is nil
// when the body was not loaded.
type Box struct {
	Header
	// Offset is the absolute position of the first header byte.
	Offset int64
	Data   []byte
}

// DataOffset returns the absolute position of the first body byte.
func (b Box) DataOffset() int64 { return b.Offset + int64(b.HeaderSize()) }

// DataSize returns the body length, or 0 for an open-ended box.
func (b Box) DataSize() uint64 {
	if b.Size == 0 {
		return uint64(len(b.Data))
	}
	return b.Size - uint64(b.HeaderSize())
}

// End returns the absolute position just past the box.
func (b Box) End() int64 {
	if b.Size == 0 {
		return b.DataOffset() + int64(len(b.Data))
	}
	return b.Offset + int64(b.Size)
}

// Full splits the body of a full box into version, flags and payload.
func (b Box) Full() (version uint8, flags uint32, payload []byte, err error) {
	if len(b.Data) < 4 {
		return 0, 0, nil, b.errorf(ErrMalformedBox, "full box body %d bytes", len(b.Data))
	}
	vf := be.Uint32(b.Data)
	return uint8(vf >> 24), vf & 0x00ffffff, b.Data[4:], nil
}

func (b Box) errorf(sentinel error, format string, args ...any) error {
	return &BoxError{
		Type:   b.Type,
		Offset: b.Offset,
		Err:    fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
