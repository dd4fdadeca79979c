package mp4

import (
	"bytes"
	"time"
)

// Matrix is the 3x3 transform of a movie or track header, stored as
//
//	| A B U |
//	| C D V |
//	| X Y W |
//
// A, B, C, D, X and Y are 16.16 fixed point; U, V and W are 2.30.
type Matrix struct {
	A, B, U float64
	C, D, V float64
	X, Y, W float64
}

// IdentityMatrix is the transform every encoder writes by default.
var IdentityMatrix = Matrix{A: 1, D: 1, W: 1}

func decodeMatrix(b []byte) Matrix {
	return Matrix{
		A: Fixed16x16(b[0:]), B: Fixed16x16(b[4:]), U: Fixed2x30(b[8:]),
		C: Fixed16x16(b[12:]), D: Fixed16x16(b[16:]), V: Fixed2x30(b[20:]),
		X: Fixed16x16(b[24:]), Y: Fixed16x16(b[28:]), W: Fixed2x30(b[32:]),
	}
}

// MovieHeader is a decoded mvhd box.
type MovieHeader struct {
	Version          uint8
	CreationTime     time.Time
	ModificationTime time.Time
	TimeScale        uint32
	Duration         uint64
	Rate             float64
	Volume           float64
	Matrix           Matrix

	PreviewTime       uint32
	PreviewDuration   uint32
	PosterTime        uint32
	SelectionTime     uint32
	SelectionDuration uint32
	CurrentTime       uint32
	NextTrackID       uint32

	// ReservedNonZero is set when the 10 reserved bytes after the volume
	// field are not all zero.
	ReservedNonZero bool
}

// DecodeMvhd decodes the body of an mvhd box.
func DecodeMvhd(b Box) (*MovieHeader, error) {
	version, _, p, err := b.Full()
	if err != nil {
		return nil, err
	}

	m := &MovieHeader{Version: version}
	var ptr int
	switch version {
	case 0:
		if len(p) < 96 {
			return nil, b.errorf(ErrMalformedBox, "version 0 body %d bytes, need 96", len(p))
		}
		m.CreationTime = MacTime(uint64(be.Uint32(p[0:])))
		m.ModificationTime = MacTime(uint64(be.Uint32(p[4:])))
		m.TimeScale = be.Uint32(p[8:])
		m.Duration = uint64(be.Uint32(p[12:]))
		ptr = 16
	case 1:
		if len(p) < 108 {
			return nil, b.errorf(ErrMalformedBox, "version 1 body %d bytes, need 108", len(p))
		}
		m.CreationTime = MacTime(be.Uint64(p[0:]))
		m.ModificationTime = MacTime(be.Uint64(p[8:]))
		m.TimeScale = be.Uint32(p[16:])
		m.Duration = be.Uint64(p[20:])
		ptr = 28
	default:
		return nil, b.errorf(ErrUnsupportedVersion, "version %d", version)
	}

	p = p[ptr:]
	m.Rate = Fixed16x16(p[0:])
	m.Volume = Fixed8x8(p[4:])
	m.ReservedNonZero = !allZero(p[6:16])
	m.Matrix = decodeMatrix(p[16:52])
	m.PreviewTime = be.Uint32(p[52:])
	m.PreviewDuration = be.Uint32(p[56:])
	m.PosterTime = be.Uint32(p[60:])
	m.SelectionTime = be.Uint32(p[64:])
	m.SelectionDuration = be.Uint32(p[68:])
	m.CurrentTime = be.Uint32(p[72:])
	m.NextTrackID = be.Uint32(p[76:])
	return m, nil
}

// MediaHeader is a decoded mdhd box.
type MediaHeader struct {
	Version          uint8
	CreationTime     time.Time
	ModificationTime time.Time
	TimeScale        uint32
	Duration         uint64
	// Language is the ISO-639-2/T code, e.g. "eng" or "und".
	Language   string
	LanguageID uint16
	Quality    float64
}

// DecodeMdhd decodes the body of an mdhd box.
func DecodeMdhd(b Box) (*MediaHeader, error) {
	version, _, p, err := b.Full()
	if err != nil {
		return nil, err
	}

	m := &MediaHeader{Version: version}
	var ptr int
	switch version {
	case 0:
		if len(p) < 20 {
			return nil, b.errorf(ErrMalformedBox, "version 0 body %d bytes, need 20", len(p))
		}
		m.CreationTime = MacTime(uint64(be.Uint32(p[0:])))
		m.ModificationTime = MacTime(uint64(be.Uint32(p[4:])))
		m.TimeScale = be.Uint32(p[8:])
		m.Duration = uint64(be.Uint32(p[12:]))
		ptr = 16
	case 1:
		if len(p) < 32 {
			return nil, b.errorf(ErrMalformedBox, "version 1 body %d bytes, need 32", len(p))
		}
		m.CreationTime = MacTime(be.Uint64(p[0:]))
		m.ModificationTime = MacTime(be.Uint64(p[8:]))
		m.TimeScale = be.Uint32(p[16:])
		m.Duration = be.Uint64(p[20:])
		ptr = 28
	default:
		return nil, b.errorf(ErrUnsupportedVersion, "version %d", version)
	}

	m.LanguageID = be.Uint16(p[ptr:])
	m.Language = decodeLanguage(m.LanguageID)
	m.Quality = float64(be.Uint16(p[ptr+2:])) / 65536
	return m, nil
}

// decodeLanguage unpacks three 5-bit letters offset by 0x60.
func decodeLanguage(id uint16) string {
	if id == 0 {
		return ""
	}
	return string([]byte{
		byte(id>>10&0x1f) + 0x60,
		byte(id>>5&0x1f) + 0x60,
		byte(id&0x1f) + 0x60,
	})
}

// TrackHeader is a decoded tkhd box.
type TrackHeader struct {
	Version  uint8
	Flags    uint32
	TrackID  uint32
	Duration uint64
	Volume   float64
	Matrix   Matrix
	// Width and Height are the presentation size in pixels.
	Width  uint32
	Height uint32
}

// Enabled reports the track_enabled flag.
func (h *TrackHeader) Enabled() bool { return h.Flags&0x1 != 0 }

// DecodeTkhd decodes the body of a tkhd box.
func DecodeTkhd(b Box) (*TrackHeader, error) {
	version, flags, p, err := b.Full()
	if err != nil {
		return nil, err
	}

	h := &TrackHeader{Version: version, Flags: flags}
	var ptr int
	switch version {
	case 0:
		if len(p) < 80 {
			return nil, b.errorf(ErrMalformedBox, "version 0 body %d bytes, need 80", len(p))
		}
		h.TrackID = be.Uint32(p[8:])
		h.Duration = uint64(be.Uint32(p[16:]))
		ptr = 20
	case 1:
		if len(p) < 92 {
			return nil, b.errorf(ErrMalformedBox, "version 1 body %d bytes, need 92", len(p))
		}
		h.TrackID = be.Uint32(p[16:])
		h.Duration = be.Uint64(p[24:])
		ptr = 32
	default:
		return nil, b.errorf(ErrUnsupportedVersion, "version %d", version)
	}

	// reserved(8) layer(2) alternate_group(2) volume(2) reserved(2)
	p = p[ptr:]
	h.Volume = Fixed8x8(p[12:])
	h.Matrix = decodeMatrix(p[16:52])
	h.Width = be.Uint32(p[52:]) >> 16
	h.Height = be.Uint32(p[56:]) >> 16
	return h, nil
}

// Handler types.
var (
	HandlerVideo = newBoxType("vide")
	HandlerAudio = newBoxType("soun")
)

// Handler is a decoded hdlr box.
type Handler struct {
	Type BoxType
	Name string
}

// DecodeHdlr decodes the body of an hdlr box.
func DecodeHdlr(b Box) (*Handler, error) {
	_, _, p, err := b.Full()
	if err != nil {
		return nil, err
	}
	if len(p) < 20 {
		return nil, b.errorf(ErrMalformedBox, "body %d bytes, need 20", len(p))
	}
	h := &Handler{}
	copy(h.Type[:], p[4:8])
	name := p[20:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	h.Name = string(name)
	return h, nil
}

// FileType is a decoded ftyp or styp box.
type FileType struct {
	MajorBrand       BoxType
	MinorVersion     uint32
	CompatibleBrands []BoxType
}

// DecodeFtyp decodes the body of an ftyp or styp box.
func DecodeFtyp(b Box) (*FileType, error) {
	if len(b.Data) < 8 {
		return nil, b.errorf(ErrMalformedBox, "body %d bytes, need 8", len(b.Data))
	}
	f := &FileType{MinorVersion: be.Uint32(b.Data[4:])}
	copy(f.MajorBrand[:], b.Data[0:4])
	for i := 8; i+4 <= len(b.Data); i += 4 {
		var brand BoxType
		copy(brand[:], b.Data[i:i+4])
		f.CompatibleBrands = append(f.CompatibleBrands, brand)
	}
	return f, nil
}
