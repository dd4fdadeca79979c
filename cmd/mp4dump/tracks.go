package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tetsuo/atomparse/track"
	"gopkg.in/yaml.v3"
)

// TrackInfo is the printable summary of one track.
type TrackInfo struct {
	ID         uint32         `json:"id" yaml:"id"`
	Kind       string         `json:"kind" yaml:"kind"`
	Codec      string         `json:"codec,omitempty" yaml:"codec,omitempty"`
	TimeScale  uint32         `json:"timescale" yaml:"timescale"`
	Language   string         `json:"language,omitempty" yaml:"language,omitempty"`
	Width      uint32         `json:"width,omitempty" yaml:"width,omitempty"`
	Height     uint32         `json:"height,omitempty" yaml:"height,omitempty"`
	Fragmented bool           `json:"fragmented,omitempty" yaml:"fragmented,omitempty"`
	Stats      track.Stats    `json:"stats" yaml:"stats"`
	Samples    []track.Sample `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// MovieInfo is the printable summary of a parsed file.
type MovieInfo struct {
	Brand     string      `json:"brand,omitempty" yaml:"brand,omitempty"`
	TimeScale uint32      `json:"timescale,omitempty" yaml:"timescale,omitempty"`
	Duration  uint64      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Tracks    []TrackInfo `json:"tracks" yaml:"tracks"`
	Skipped   []string    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

func movieInfo(m *track.Movie, samples bool) MovieInfo {
	var info MovieInfo
	if m.Brand != nil {
		info.Brand = m.Brand.MajorBrand.String()
	}
	if m.Header != nil {
		info.TimeScale = m.Header.TimeScale
		info.Duration = m.Header.Duration
	}
	for _, t := range m.Tracks {
		ti := TrackInfo{
			ID:         t.ID,
			Kind:       t.Kind.String(),
			Codec:      t.Codec(),
			TimeScale:  t.TimeScale,
			Language:   t.Language,
			Width:      t.Width,
			Height:     t.Height,
			Fragmented: t.Fragmented,
			Stats:      t.Stats(),
		}
		if samples {
			ti.Samples = t.Samples
		}
		info.Tracks = append(info.Tracks, ti)
	}
	for _, err := range m.Skipped {
		info.Skipped = append(info.Skipped, err.Error())
	}
	return info
}

func printMovie(w io.Writer, m *track.Movie, format Format, samples bool) error {
	info := movieInfo(m, samples)
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(info)
	}

	if info.Brand != "" {
		fmt.Fprintf(w, "brand=%s", info.Brand)
		if info.TimeScale != 0 {
			fmt.Fprintf(w, " timescale=%d duration=%d", info.TimeScale, info.Duration)
		}
		fmt.Fprintln(w)
	}
	for _, t := range info.Tracks {
		st := t.Stats
		fmt.Fprintf(w, "track %d %s codec=%s timescale=%d samples=%d keyframes=%d duration=%dms bytes=%d",
			t.ID, t.Kind, t.Codec, t.TimeScale, st.SampleCount, st.KeyframeCount, st.DurationMs, st.Bytes)
		if t.Width != 0 {
			fmt.Fprintf(w, " %dx%d", t.Width, t.Height)
		}
		if t.Language != "" {
			fmt.Fprintf(w, " lang=%s", t.Language)
		}
		if t.Fragmented {
			fmt.Fprint(w, " fragmented")
		}
		fmt.Fprintln(w)

		for i, s := range t.Samples {
			sync := ""
			if s.IsSync {
				sync = " sync"
			}
			mdat := ""
			if s.Mdat >= 0 {
				mdat = fmt.Sprintf(" mdat=%d+%d", s.Mdat, s.MdatOffset)
			}
			fmt.Fprintf(w, "  #%d offset=%d size=%d dts=%d pts=%d dur=%d (%dms/%dms/%dms)%s%s\n",
				i, s.Offset, s.Size, s.DTS, s.PTS(), s.Duration,
				s.DecodeTimeMs, s.PresentationTimeMs, s.DurationMs, sync, mdat)
		}
	}
	for _, s := range info.Skipped {
		fmt.Fprintf(w, "skipped: %s\n", s)
	}
	return nil
}
