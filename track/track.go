package track

import (
	mp4 "github.com/tetsuo/atomparse"
)

// TrackKind distinguishes video and audio tracks.
type TrackKind int

const (
	TrackOther TrackKind = iota
	TrackVideo
	TrackAudio
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	}
	return "other"
}

// kindOf maps an hdlr handler type to a TrackKind.
func kindOf(handler mp4.BoxType) TrackKind {
	switch handler {
	case mp4.HandlerVideo:
		return TrackVideo
	case mp4.HandlerAudio:
		return TrackAudio
	}
	return TrackOther
}

// Track holds one track with its samples in decode order.
type Track struct {
	ID        uint32
	Kind      TrackKind
	TimeScale uint32
	Duration  uint64
	Language  string

	Width  uint32
	Height uint32

	Header  *mp4.TrackHeader
	Media   *mp4.MediaHeader
	Handler *mp4.Handler

	Descriptions []mp4.SampleDescription
	Samples      []Sample

	// Fragmented is set when any sample came from a movie fragment.
	Fragmented bool

	trex *mp4.TrackExtends
	// nextDTS is the decode time just past the last sample.
	nextDTS int64
}

// Codec returns the codec string of the first sample description
// (e.g. "avc1.64001e", "mp4a.40.2"), or "" when the track has none.
func (t *Track) Codec() string {
	if len(t.Descriptions) == 0 {
		return ""
	}
	return t.Descriptions[0].Codec
}

// Description returns the sample description for a 1-based index.
func (t *Track) Description(index uint32) (mp4.SampleDescription, bool) {
	if index == 0 || int(index) > len(t.Descriptions) {
		return mp4.SampleDescription{}, false
	}
	return t.Descriptions[index-1], true
}

// FindTrack returns the track with the given ID, or nil.
func FindTrack(tracks []*Track, id uint32) *Track {
	for _, t := range tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Sample represents a single media sample. Times without a unit suffix are
// in track timescale units.
type Sample struct {
	TrackID uint32
	// Offset is the absolute position of the sample data in the source.
	Offset             int64
	Size               uint32
	Duration           uint32
	DTS                int64
	PresentationOffset int32
	IsSync             bool
	DescriptionIndex   uint32

	DecodeTimeMs       int64
	PresentationTimeMs int64
	DurationMs         int64

	// Mdat is the discovery index of the mdat paired with the sample's
	// movie fragment, or -1 for samples addressed by absolute position
	// only. MdatOffset is Offset relative to that mdat's data start.
	Mdat       int
	MdatOffset int64
}

// PTS returns the presentation timestamp.
func (s Sample) PTS() int64 {
	return s.DTS + int64(s.PresentationOffset)
}

// End returns the position just past the sample data.
func (s Sample) End() int64 {
	return s.Offset + int64(s.Size)
}

func (s *Sample) setMillis(timescale uint32) {
	s.DecodeTimeMs = mp4.UnitsToMillis(s.DTS, timescale)
	s.PresentationTimeMs = mp4.UnitsToMillis(s.PTS(), timescale)
	s.DurationMs = mp4.UnitsToMillis(int64(s.Duration), timescale)
}

// Stats holds aggregated values for the samples of one track.
type Stats struct {
	TrackID       uint32
	TimeScale     uint32
	SampleCount   int
	KeyframeCount int
	Duration      uint64
	DurationMs    int64
	// EarliestPTS is -1 for a track without samples.
	EarliestPTS int64
	Bytes       uint64
}

// Stats aggregates sample count, keyframes, duration and earliest PTS.
func (t *Track) Stats() Stats {
	st := Stats{
		TrackID:     t.ID,
		TimeScale:   t.TimeScale,
		EarliestPTS: -1,
	}
	for i := range t.Samples {
		s := &t.Samples[i]
		st.SampleCount++
		st.Duration += uint64(s.Duration)
		st.Bytes += uint64(s.Size)
		if s.IsSync {
			st.KeyframeCount++
		}
		pts := s.PTS()
		if st.EarliestPTS < 0 || pts < st.EarliestPTS {
			st.EarliestPTS = pts
		}
	}
	st.DurationMs = mp4.UnitsToMillis(int64(st.Duration), t.TimeScale)
	return st
}

// CollectStats appends the stats of every track with at least one sample
// to dst.
func CollectStats(dst []Stats, tracks []*Track) []Stats {
	for _, t := range tracks {
		if len(t.Samples) == 0 {
			continue
		}
		dst = append(dst, t.Stats())
	}
	return dst
}
