package mp4

import (
	"fmt"
	"math/bits"
)

// tfhd flags.
const (
	TfhdBaseDataOffset         = 0x000001
	TfhdSampleDescriptionIndex = 0x000002
	TfhdDefaultSampleDuration  = 0x000008
	TfhdDefaultSampleSize      = 0x000010
	TfhdDefaultSampleFlags     = 0x000020
	TfhdDurationIsEmpty        = 0x010000
	TfhdDefaultBaseIsMoof      = 0x020000
)

// trun flags, mp4parser.com layout.
//
// Some decoders, the C# PopMpeg4 port among them, read the table below
// instead. It swaps size and duration and moves first_sample_flags to bit 3.
// Files written that way are not supported:
//
//	0x000001 data_offset
//	0x000008 first_sample_flags
//	0x000100 sample_size
//	0x000200 sample_duration
//	0x000400 sample_flags
//	0x000800 sample_composition_time_offset
const (
	TrunDataOffset                  = 0x000001
	TrunFirstSampleFlags            = 0x000004
	TrunSampleDuration              = 0x000100
	TrunSampleSize                  = 0x000200
	TrunSampleFlags                 = 0x000400
	TrunSampleCompositionTimeOffset = 0x000800
)

// SampleIsNonSync is the sample_is_non_sync_sample bit of sample flags.
const SampleIsNonSync = 0x00010000

// FragmentHeader is a decoded tfhd box plus the tfdt baseline of the same
// traf. Optional fields are valid only when the matching flag is set.
type FragmentHeader struct {
	TrackID                uint32
	Flags                  uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32

	// DecodeTime is the tfdt baseline in media timescale units.
	DecodeTime    uint64
	HasDecodeTime bool
}

func (h *FragmentHeader) has(flag uint32) bool { return h.Flags&flag != 0 }

func (h *FragmentHeader) HasBaseDataOffset() bool { return h.has(TfhdBaseDataOffset) }
func (h *FragmentHeader) DurationIsEmpty() bool   { return h.has(TfhdDurationIsEmpty) }
func (h *FragmentHeader) DefaultBaseIsMoof() bool { return h.has(TfhdDefaultBaseIsMoof) }

// DecodeTfhd decodes the body of a tfhd box. Optional fields follow the
// track id in flag order.
func DecodeTfhd(b Box) (*FragmentHeader, error) {
	version, flags, p, err := b.Full()
	if err != nil {
		return nil, err
	}
	if version > 1 {
		return nil, b.errorf(ErrUnsupportedVersion, "version %d", version)
	}

	need := 4
	for _, f := range []struct {
		flag uint32
		size int
	}{
		{TfhdBaseDataOffset, 8},
		{TfhdSampleDescriptionIndex, 4},
		{TfhdDefaultSampleDuration, 4},
		{TfhdDefaultSampleSize, 4},
		{TfhdDefaultSampleFlags, 4},
	} {
		if flags&f.flag != 0 {
			need += f.size
		}
	}
	if len(p) < need {
		return nil, b.errorf(ErrMalformedBox, "flags %#06x need %d bytes, have %d", flags, need, len(p))
	}

	h := &FragmentHeader{TrackID: be.Uint32(p), Flags: flags}
	ptr := 4
	next32 := func() uint32 {
		v := be.Uint32(p[ptr:])
		ptr += 4
		return v
	}
	if h.has(TfhdBaseDataOffset) {
		h.BaseDataOffset = be.Uint64(p[ptr:])
		ptr += 8
	}
	if h.has(TfhdSampleDescriptionIndex) {
		h.SampleDescriptionIndex = next32()
	}
	if h.has(TfhdDefaultSampleDuration) {
		h.DefaultSampleDuration = next32()
	}
	if h.has(TfhdDefaultSampleSize) {
		h.DefaultSampleSize = next32()
	}
	if h.has(TfhdDefaultSampleFlags) {
		h.DefaultSampleFlags = next32()
	}
	return h, nil
}

// DecodeTfdt decodes the base media decode time of a tfdt box.
func DecodeTfdt(b Box) (uint64, error) {
	version, _, p, err := b.Full()
	if err != nil {
		return 0, err
	}
	switch version {
	case 0:
		if len(p) < 4 {
			return 0, b.errorf(ErrMalformedBox, "body %d bytes", len(p))
		}
		return uint64(be.Uint32(p)), nil
	case 1:
		if len(p) < 8 {
			return 0, b.errorf(ErrMalformedBox, "body %d bytes", len(p))
		}
		return be.Uint64(p), nil
	default:
		return 0, b.errorf(ErrUnsupportedVersion, "version %d", version)
	}
}

// TrackExtends holds the per-track sample defaults of a trex box.
type TrackExtends struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

// DecodeTrex decodes the body of a trex box.
func DecodeTrex(b Box) (*TrackExtends, error) {
	_, _, p, err := b.Full()
	if err != nil {
		return nil, err
	}
	if len(p) < 20 {
		return nil, b.errorf(ErrMalformedBox, "body %d bytes, need 20", len(p))
	}
	return &TrackExtends{
		TrackID:                       be.Uint32(p[0:]),
		DefaultSampleDescriptionIndex: be.Uint32(p[4:]),
		DefaultSampleDuration:         be.Uint32(p[8:]),
		DefaultSampleSize:             be.Uint32(p[12:]),
		DefaultSampleFlags:            be.Uint32(p[16:]),
	}, nil
}

// TrunEntry holds the per-sample fields present in a trun. Fields whose
// flag is clear are zero.
type TrunEntry struct {
	Duration          uint32
	Size              uint32
	Flags             uint32
	CompositionOffset int32
}

// Trun is a decoded trun box.
type Trun struct {
	Version          uint8
	Flags            uint32
	DataOffset       int32
	FirstSampleFlags uint32
	Entries          []TrunEntry
}

func (t *Trun) has(flag uint32) bool { return t.Flags&flag != 0 }

func (t *Trun) HasDataOffset() bool { return t.has(TrunDataOffset) }

// DecodeTrun decodes the body of a trun box.
func DecodeTrun(b Box) (*Trun, error) {
	return DecodeTrunLimit(b, DefaultMaxSamples)
}

// DecodeTrunLimit is DecodeTrun with a caller-chosen bound on the sample
// count. A larger count is ErrMalformedBox.
func DecodeTrunLimit(b Box, limit int) (*Trun, error) {
	version, flags, p, err := b.Full()
	if err != nil {
		return nil, err
	}
	if version > 1 {
		return nil, b.errorf(ErrUnsupportedVersion, "version %d", version)
	}

	t := &Trun{Version: version, Flags: flags}
	need := 4
	if t.has(TrunDataOffset) {
		need += 4
	}
	if t.has(TrunFirstSampleFlags) {
		need += 4
	}
	if len(p) < need {
		return nil, b.errorf(ErrMalformedBox, "flags %#06x need %d bytes, have %d", flags, need, len(p))
	}

	count := be.Uint32(p)
	if err := checkSampleCount(b, uint64(count), limit); err != nil {
		return nil, err
	}
	ptr := 4
	if t.has(TrunDataOffset) {
		t.DataOffset = int32(be.Uint32(p[ptr:]))
		ptr += 4
	}
	if t.has(TrunFirstSampleFlags) {
		t.FirstSampleFlags = be.Uint32(p[ptr:])
		ptr += 4
	}

	width := 4 * bits.OnesCount32(flags&(TrunSampleDuration|TrunSampleSize|TrunSampleFlags|TrunSampleCompositionTimeOffset))
	data := p[ptr:]
	var n int
	var ferr error
	if width == 0 {
		n = int(count)
	} else {
		n, ferr = fit(b, count, data, width)
	}

	t.Entries = make([]TrunEntry, n)
	for i := range t.Entries {
		e := &t.Entries[i]
		if t.has(TrunSampleDuration) {
			e.Duration = be.Uint32(data)
			data = data[4:]
		}
		if t.has(TrunSampleSize) {
			e.Size = be.Uint32(data)
			data = data[4:]
		}
		if t.has(TrunSampleFlags) {
			e.Flags = be.Uint32(data)
			data = data[4:]
		}
		if t.has(TrunSampleCompositionTimeOffset) {
			// unsigned in version 0; values above 2^31 do not occur in practice
			e.CompositionOffset = int32(be.Uint32(data))
			data = data[4:]
		}
	}
	return t, ferr
}

// FragmentSample is one sample of a track fragment with every default
// applied.
type FragmentSample struct {
	// Offset is the absolute position of the sample data.
	Offset int64
	Size   uint32
	// DecodeTime is relative to the start of the traf.
	DecodeTime        int64
	Duration          uint32
	CompositionOffset int32
	Flags             uint32
	DescriptionIndex  uint32
}

// IsSync reports whether the sample is a keyframe.
func (s FragmentSample) IsSync() bool { return s.Flags&SampleIsNonSync == 0 }

// Fragment is a decoded traf.
type Fragment struct {
	Header  FragmentHeader
	Samples []FragmentSample
}

// Duration returns the sum of sample durations.
func (f *Fragment) Duration() int64 {
	if len(f.Samples) == 0 {
		return 0
	}
	last := f.Samples[len(f.Samples)-1]
	return last.DecodeTime + int64(last.Duration)
}

// DecodeTraf decodes a traf box into resolved samples. moofOffset is the
// absolute position of the enclosing moof. trex supplies the defaults used
// when neither the trun nor the tfhd carries a field; it may be nil.
//
// Sample data starts at the tfhd base_data_offset when present, otherwise
// at the moof, plus the trun data_offset. A trun without a data_offset
// continues where the previous trun of the traf ended.
func DecodeTraf(traf Box, moofOffset int64, trex *TrackExtends) (*Fragment, error) {
	return DecodeTrafLimit(traf, moofOffset, trex, DefaultMaxSamples)
}

// DecodeTrafLimit is DecodeTraf with a bound on the samples of all its
// truns together. A traf over the bound is ErrMalformedBox.
func DecodeTrafLimit(traf Box, moofOffset int64, trex *TrackExtends, limit int) (*Fragment, error) {
	var (
		hdr   *FragmentHeader
		runs  []*Trun
		total int
		count error
	)
	for child, err := range Children(traf) {
		if err != nil {
			return nil, err
		}
		switch child.Type {
		case TypeTfhd:
			if hdr != nil {
				continue
			}
			if hdr, err = DecodeTfhd(child); err != nil {
				return nil, err
			}
		case TypeTrun:
			t, err := DecodeTrunLimit(child, limit-total)
			if IsFatal(err) {
				return nil, err
			}
			if err != nil && count == nil {
				count = err
			}
			total += len(t.Entries)
			runs = append(runs, t)
		case TypeTfdt:
			if hdr == nil {
				return nil, child.errorf(ErrMissingRequiredBox, "tfdt before tfhd")
			}
			if hdr.DecodeTime, err = DecodeTfdt(child); err != nil {
				return nil, err
			}
			hdr.HasDecodeTime = true
		}
	}
	if hdr == nil {
		return nil, traf.errorf(ErrMissingRequiredBox, "no tfhd")
	}

	var def TrackExtends
	if trex != nil {
		def = *trex
	}
	if hdr.has(TfhdSampleDescriptionIndex) {
		def.DefaultSampleDescriptionIndex = hdr.SampleDescriptionIndex
	}
	if hdr.has(TfhdDefaultSampleDuration) {
		def.DefaultSampleDuration = hdr.DefaultSampleDuration
	}
	if hdr.has(TfhdDefaultSampleSize) {
		def.DefaultSampleSize = hdr.DefaultSampleSize
	}
	if hdr.has(TfhdDefaultSampleFlags) {
		def.DefaultSampleFlags = hdr.DefaultSampleFlags
	}

	base := moofOffset
	if hdr.HasBaseDataOffset() {
		base = int64(hdr.BaseDataOffset)
	}

	f := &Fragment{Header: *hdr}
	pos := base
	var dts int64
	for _, t := range runs {
		if t.HasDataOffset() {
			pos = base + int64(t.DataOffset)
		}
		for i, e := range t.Entries {
			s := FragmentSample{
				Offset:            pos,
				DecodeTime:        dts,
				Size:              def.DefaultSampleSize,
				Duration:          def.DefaultSampleDuration,
				Flags:             def.DefaultSampleFlags,
				DescriptionIndex:  def.DefaultSampleDescriptionIndex,
				CompositionOffset: e.CompositionOffset,
			}
			if t.has(TrunSampleSize) {
				s.Size = e.Size
			}
			if t.has(TrunSampleDuration) {
				s.Duration = e.Duration
			}
			if t.has(TrunSampleFlags) {
				s.Flags = e.Flags
			}
			if i == 0 && t.has(TrunFirstSampleFlags) {
				s.Flags = t.FirstSampleFlags
			}
			f.Samples = append(f.Samples, s)
			pos += int64(s.Size)
			dts += int64(s.Duration)
		}
	}
	if count != nil {
		return f, fmt.Errorf("track %d: %w", hdr.TrackID, count)
	}
	return f, nil
}
