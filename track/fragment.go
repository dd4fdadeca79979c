package track

import (
	"log/slog"

	mp4 "github.com/tetsuo/atomparse"
)

// parseMoof merges every traf of a moof into its track. A traf that fails
// to decode is logged and skipped; the moof's remaining trafs still merge.
func (p *parser) parseMoof(moof mp4.Box) error {
	idx := p.moofs
	p.moofs++

	ordinal := 0
	for c, err := range mp4.Children(moof) {
		if err != nil {
			p.warn("moof children", err, slog.Int("moof", idx))
			break
		}
		if c.Type != mp4.TypeTraf {
			continue
		}
		j := ordinal
		ordinal++

		id, ok := peekTrackID(c)
		if !ok {
			p.warn("traf", missing(c, "tfhd"), slog.Int("moof", idx), slog.Int("traf", j))
			continue
		}
		t, ok := p.fragmentTrack(j, id)
		if !ok {
			p.log.Debug("drop fragment of excluded track", slog.Int("moof", idx), slog.Int("traf", j))
			continue
		}

		frag, err := mp4.DecodeTrafLimit(c, moof.Offset, t.trex, max(p.cfg.MaxSamples-len(t.Samples), 0))
		if mp4.IsFatal(err) {
			if p.cfg.Strict {
				return &TrackError{Index: j, TrackID: id, Err: err}
			}
			p.warn("skip traf", err, slog.Int("moof", idx), slog.Int("traf", j), slog.Uint64("track", uint64(id)))
			continue
		}
		if err != nil {
			p.warn("traf", err, slog.Int("moof", idx), slog.Uint64("track", uint64(id)))
		}
		p.appendFragment(t, frag, idx)
	}
	return nil
}

// peekTrackID reads the track id of a traf's tfhd.
func peekTrackID(traf mp4.Box) (uint32, bool) {
	tfhd, ok := mp4.FindChild(traf, mp4.TypeTfhd)
	if !ok {
		return 0, false
	}
	h, err := mp4.DecodeTfhd(tfhd)
	if err != nil {
		return 0, false
	}
	return h.TrackID, true
}

// fragmentTrack picks the track a traf merges into: the track at ordinal j,
// or the track with the tfhd id when MatchFragmentsByID is set. A missing
// track is created. ok is false when the slot belongs to an excluded track.
func (p *parser) fragmentTrack(j int, id uint32) (*Track, bool) {
	if p.cfg.MatchFragmentsByID {
		for i, t := range p.slots {
			if t != nil && t.ID == id {
				return t, true
			}
			if skipped, ok := p.skippedID(i); ok && t == nil && skipped == id {
				return nil, false
			}
		}
		t := p.newFragmentTrack(id)
		p.slots = append(p.slots, t)
		return t, true
	}

	if j < len(p.slots) {
		t := p.slots[j]
		if t == nil {
			if _, ok := p.skippedID(j); ok {
				return nil, false
			}
			// padding left when an earlier traf at this ordinal had no tfhd
			t = p.newFragmentTrack(id)
			p.slots[j] = t
			return t, true
		}
		if t.ID != id {
			p.log.Warn("traf track id differs from track at its ordinal",
				slog.Int("traf", j), slog.Uint64("tfhd_track", uint64(id)), slog.Uint64("track", uint64(t.ID)))
		}
		return t, true
	}
	for len(p.slots) < j {
		p.slots = append(p.slots, nil)
	}
	t := p.newFragmentTrack(id)
	p.slots = append(p.slots, t)
	return t, true
}

// skippedID returns the track id of the excluded trak at slot.
func (p *parser) skippedID(slot int) (uint32, bool) {
	for _, err := range p.movie.Skipped {
		if te, ok := err.(*TrackError); ok && te.Index == slot {
			return te.TrackID, true
		}
	}
	return 0, false
}

func (p *parser) newFragmentTrack(id uint32) *Track {
	t := &Track{
		ID:         id,
		TimeScale:  p.cfg.FragmentTimescale,
		Fragmented: true,
		trex:       p.trex[id],
	}
	p.movie.Tracks = append(p.movie.Tracks, t)
	p.log.Debug("track created from fragment", slog.Uint64("track", uint64(id)))
	return t
}

// appendFragment adds the samples of one traf. Decode times start at the
// tfdt baseline when present, otherwise where the track's samples ended.
func (p *parser) appendFragment(t *Track, f *mp4.Fragment, moofIdx int) {
	base := t.nextDTS
	if f.Header.HasDecodeTime {
		base = int64(f.Header.DecodeTime)
	}

	t.Fragmented = true
	for _, fs := range f.Samples {
		t.Samples = append(t.Samples, Sample{
			TrackID:            t.ID,
			Offset:             fs.Offset,
			Size:               fs.Size,
			Duration:           fs.Duration,
			DTS:                base + fs.DecodeTime,
			PresentationOffset: fs.CompositionOffset,
			IsSync:             fs.IsSync(),
			DescriptionIndex:   fs.DescriptionIndex,
			Mdat:               moofIdx,
		})
	}
	t.nextDTS = base + f.Duration()
}
