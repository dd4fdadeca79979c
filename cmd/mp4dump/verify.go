package main

import (
	"io"
	"log/slog"

	gomp4 "github.com/abema/go-mp4"
	"github.com/tetsuo/atomparse/track"
)

// verify compares the progressive tracks of m with an independent probe
// of the same file and returns the number of mismatches. Fragmented
// tracks are not compared.
func verify(r io.ReadSeeker, m *track.Movie, log *slog.Logger) int {
	info, err := gomp4.Probe(r)
	if err != nil {
		log.Error("verify: probe failed", slog.Any("err", err))
		return 1
	}

	mismatches := 0
	for _, pt := range info.Tracks {
		t := track.FindTrack(m.Tracks, pt.TrackID)
		if t == nil {
			log.Warn("verify: track missing", slog.Uint64("track", uint64(pt.TrackID)))
			mismatches++
			continue
		}
		if t.Fragmented {
			continue
		}
		attrs := []any{slog.Uint64("track", uint64(t.ID))}
		if pt.Timescale != t.TimeScale {
			log.Warn("verify: timescale differs", append(attrs, slog.Uint64("got", uint64(t.TimeScale)), slog.Uint64("want", uint64(pt.Timescale)))...)
			mismatches++
		}
		if len(pt.Samples) != len(t.Samples) {
			log.Warn("verify: sample count differs", append(attrs, slog.Int("got", len(t.Samples)), slog.Int("want", len(pt.Samples)))...)
			mismatches++
			continue
		}
		for i, ps := range pt.Samples {
			s := t.Samples[i]
			if ps.Size != s.Size || ps.TimeDelta != s.Duration || int64(ps.CompositionTimeOffset) != int64(s.PresentationOffset) {
				log.Warn("verify: sample differs", append(attrs, slog.Int("sample", i))...)
				mismatches++
				break
			}
		}
	}
	if mismatches == 0 {
		log.Info("verify: tracks match", slog.Int("tracks", len(info.Tracks)))
	}
	return mismatches
}
