package track

import (
	"fmt"
	"log/slog"

	mp4 "github.com/tetsuo/atomparse"
)

// sampleTable holds the stbl children a sample list is built from.
type sampleTable struct {
	stsd, stsz, stsc, stts *mp4.Box
	stco, co64, stss, ctts *mp4.Box
}

func (p *parser) readSampleTable(t *Track, stbl mp4.Box) sampleTable {
	var tab sampleTable
	for c, err := range mp4.Children(stbl) {
		if err != nil {
			p.warn("stbl children", err, slog.Uint64("track", uint64(t.ID)))
			break
		}
		switch c.Type {
		case mp4.TypeStsd:
			tab.stsd = &c
		case mp4.TypeStsz:
			tab.stsz = &c
		case mp4.TypeStsc:
			tab.stsc = &c
		case mp4.TypeStts:
			tab.stts = &c
		case mp4.TypeStco:
			tab.stco = &c
		case mp4.TypeCo64:
			tab.co64 = &c
		case mp4.TypeStss:
			tab.stss = &c
		case mp4.TypeCtts:
			tab.ctts = &c
		}
	}
	return tab
}

// buildSamples fills t.Descriptions and t.Samples from an stbl box.
// Missing required tables and fatal decode errors abort the track; count
// mismatches are logged and the sample list is reconciled.
func (p *parser) buildSamples(t *Track, stbl mp4.Box) error {
	tab := p.readSampleTable(t, stbl)

	switch {
	case tab.stsz == nil:
		return missing(stbl, "stsz")
	case tab.stco == nil && tab.co64 == nil:
		return missing(stbl, "stco or co64")
	case tab.stsc == nil:
		return missing(stbl, "stsc")
	case tab.stts == nil:
		return missing(stbl, "stts")
	}

	if tab.stsd != nil {
		descs, err := mp4.DecodeStsd(*tab.stsd)
		if err != nil {
			p.warn("sample descriptions", err, slog.Uint64("track", uint64(t.ID)))
		}
		t.Descriptions = descs
	}

	check := func(what string, err error) error {
		if mp4.IsFatal(err) {
			return fmt.Errorf("track %d: %s: %w", t.ID, what, err)
		}
		if err != nil {
			p.warn(what, err, slog.Uint64("track", uint64(t.ID)))
		}
		return nil
	}

	sizes, err := mp4.DecodeSampleSizesLimit(*tab.stsz, p.cfg.MaxSamples)
	if err := check("sample sizes", err); err != nil {
		return err
	}
	n := len(sizes)

	// co64 wins when both are present
	offBox := tab.stco
	if tab.co64 != nil {
		offBox = tab.co64
	}
	offsets, err := mp4.DecodeChunkOffsets(*offBox)
	if err := check("chunk offsets", err); err != nil {
		return err
	}

	metas, err := mp4.DecodeStsc(*tab.stsc)
	if err := check("sample to chunk", err); err != nil {
		return err
	}
	chunks, err := mp4.ExpandChunkMetas(metas, len(offsets))
	if err := check("sample to chunk", err); err != nil {
		return err
	}

	runs, err := mp4.DecodeTimeToSample(*tab.stts)
	if err := check("time to sample", err); err != nil {
		return err
	}
	durations, err := mp4.ExpandRuns(runs, n)
	if err := check("time to sample", err); err != nil {
		return err
	}
	dts := mp4.DecodeTimes(durations)

	var ctts []int64
	if tab.ctts != nil {
		runs, err := mp4.DecodeCompositionOffsets(*tab.ctts)
		if err := check("composition offsets", err); err != nil {
			return err
		}
		ctts, err = mp4.ExpandRuns(runs, n)
		if err := check("composition offsets", err); err != nil {
			return err
		}
	}

	var sync []bool
	if tab.stss != nil {
		numbers, err := mp4.DecodeSyncSamples(*tab.stss)
		if err := check("sync samples", err); err != nil {
			return err
		}
		sync = make([]bool, n)
		for _, num := range numbers {
			if num == 0 || int(num) > n {
				p.warn("sync samples", fmt.Errorf("%w: sample number %d of %d", mp4.ErrInconsistentCount, num, n),
					slog.Uint64("track", uint64(t.ID)))
				continue
			}
			sync[num-1] = true
		}
	}

	samples := make([]Sample, 0, n)
chunkLoop:
	for ci, meta := range chunks {
		pos := int64(offsets[ci])
		for range meta.SamplesPerChunk {
			i := len(samples)
			if i >= n {
				break chunkLoop
			}
			s := Sample{
				TrackID:          t.ID,
				Offset:           pos,
				Size:             sizes[i],
				Duration:         uint32(durations[i]),
				DTS:              dts[i],
				IsSync:           sync == nil || sync[i],
				DescriptionIndex: meta.DescriptionIndex,
				Mdat:             -1,
			}
			if ctts != nil {
				s.PresentationOffset = int32(ctts[i])
			}
			samples = append(samples, s)
			pos += int64(sizes[i])
		}
	}

	if total := chunkSamples(chunks); total != uint64(n) {
		p.warn("sample to chunk", fmt.Errorf("%w: chunks hold %d samples, stsz lists %d", mp4.ErrInconsistentCount, total, n),
			slog.Uint64("track", uint64(t.ID)))
	}

	t.Samples = samples
	if n > 0 {
		t.nextDTS = dts[n-1] + durations[n-1]
	}
	return nil
}

func chunkSamples(chunks []mp4.ChunkMeta) uint64 {
	var total uint64
	for _, c := range chunks {
		total += uint64(c.SamplesPerChunk)
	}
	return total
}

func missing(parent mp4.Box, what string) error {
	return &mp4.BoxError{
		Type:   parent.Type,
		Offset: parent.Offset,
		Err:    fmt.Errorf("%w: %s", mp4.ErrMissingRequiredBox, what),
	}
}
