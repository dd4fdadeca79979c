package mp4

import "fmt"

// Sample table decoders. Each returns what it could read; a table whose
// entry count disagrees with its byte length also returns an error
// wrapping ErrInconsistentCount.

// DefaultMaxSamples bounds the sample count of one stsz box or one traf.
// The count is checked before anything is allocated for it.
const DefaultMaxSamples = 1 << 22

// ChunkMeta is one sample-to-chunk record.
type ChunkMeta struct {
	// FirstChunk is the 1-based index of the first chunk this record covers.
	FirstChunk       uint32
	SamplesPerChunk  uint32
	DescriptionIndex uint32
}

// tableHeader splits a full box into its entry count and entry bytes.
// skip is the number of fixed fields between the flags and the count.
func tableHeader(b Box, skip int) (version uint8, fixed []byte, count uint32, entries []byte, err error) {
	version, _, p, err := b.Full()
	if err != nil {
		return 0, nil, 0, nil, err
	}
	if len(p) < skip+4 {
		return 0, nil, 0, nil, b.errorf(ErrMalformedBox, "table header %d bytes, need %d", len(p), skip+4)
	}
	return version, p[:skip], be.Uint32(p[skip:]), p[skip+4:], nil
}

func checkSampleCount(b Box, count uint64, limit int) error {
	if limit < 0 || count > uint64(limit) {
		return b.errorf(ErrMalformedBox, "sample count %d exceeds limit %d", count, max(limit, 0))
	}
	return nil
}

// fit returns how many entries of width bytes fit in data, capped at count.
// The error is non-nil when fewer than count fit.
func fit(b Box, count uint32, data []byte, width int) (int, error) {
	avail := len(data) / width
	if uint64(count) <= uint64(avail) {
		return int(count), nil
	}
	return avail, b.errorf(ErrInconsistentCount, "entry count %d, room for %d", count, avail)
}

// entryWidth infers a 3 or 4 byte field width from the table length.
func entryWidth(b Box, count uint32, data []byte) (int, error) {
	if count == 0 {
		return 4, nil
	}
	switch w := uint64(len(data)) / uint64(count); {
	case w >= 4:
		return 4, nil
	case w == 3:
		return 3, nil
	default:
		return 4, b.errorf(ErrInconsistentCount, "%d bytes for %d entries", len(data), count)
	}
}

func readUint(b []byte, width int) uint32 {
	if width == 3 {
		return uint24(b)
	}
	return be.Uint32(b)
}

// DecodeStsc decodes the sparse records of an stsc box.
func DecodeStsc(b Box) ([]ChunkMeta, error) {
	_, _, count, data, err := tableHeader(b, 0)
	if err != nil {
		return nil, err
	}
	n, ferr := fit(b, count, data, 12)
	metas := make([]ChunkMeta, n)
	for i := range metas {
		e := data[i*12:]
		metas[i] = ChunkMeta{
			FirstChunk:       be.Uint32(e[0:]),
			SamplesPerChunk:  be.Uint32(e[4:]),
			DescriptionIndex: be.Uint32(e[8:]),
		}
	}
	return metas, ferr
}

// ExpandChunkMetas expands sparse stsc records to one record per chunk.
//
// Slots between two records repeat the earlier one and slots after the
// last record repeat the last one, up to chunks entries. A first record
// that does not start at chunk 1 also pads the leading slots. The
// FirstChunk of each returned record is its own 1-based chunk index.
//
// Records that run backwards or past the chunk count are reported with
// ErrInconsistentCount; the expansion is still complete.
func ExpandChunkMetas(metas []ChunkMeta, chunks int) ([]ChunkMeta, error) {
	if chunks <= 0 {
		return nil, nil
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("%w: no sample-to-chunk records for %d chunks", ErrInconsistentCount, chunks)
	}

	var errs []string
	if metas[0].FirstChunk != 1 {
		errs = append(errs, fmt.Sprintf("first record starts at chunk %d", metas[0].FirstChunk))
	}

	out := make([]ChunkMeta, 0, chunks)
	add := func(m ChunkMeta) {
		m.FirstChunk = uint32(len(out) + 1)
		out = append(out, m)
	}
	for i, m := range metas {
		idx := int(m.FirstChunk) - 1
		if i > 0 && idx < len(out) {
			errs = append(errs, fmt.Sprintf("record %d starts at chunk %d after chunk %d", i, m.FirstChunk, len(out)))
		}
		fill := m
		if i > 0 {
			fill = metas[i-1]
		}
		for len(out) < idx && len(out) < chunks {
			add(fill)
		}
		if len(out) >= chunks {
			errs = append(errs, fmt.Sprintf("%d records beyond chunk %d", len(metas)-i, chunks))
			break
		}
		add(m)
	}
	last := metas[len(metas)-1]
	for len(out) < chunks {
		add(last)
	}

	if len(errs) > 0 {
		return out, fmt.Errorf("%w: %v", ErrInconsistentCount, errs)
	}
	return out, nil
}

// DecodeChunkOffsets decodes an stco or co64 box.
func DecodeChunkOffsets(b Box) ([]uint64, error) {
	_, _, count, data, err := tableHeader(b, 0)
	if err != nil {
		return nil, err
	}

	width := 4
	if b.Type == TypeCo64 {
		width = 8
	}
	n, ferr := fit(b, count, data, width)
	offsets := make([]uint64, n)
	for i := range offsets {
		if width == 8 {
			offsets[i] = be.Uint64(data[i*8:])
		} else {
			offsets[i] = uint64(be.Uint32(data[i*4:]))
		}
	}
	return offsets, ferr
}

// DecodeSampleSizes decodes an stsz box. A nonzero default size applies to
// every sample and no table is read; otherwise each entry is 3 or 4 bytes
// wide, inferred from the table length.
func DecodeSampleSizes(b Box) ([]uint32, error) {
	return DecodeSampleSizesLimit(b, DefaultMaxSamples)
}

// DecodeSampleSizesLimit is DecodeSampleSizes with a caller-chosen bound on
// the sample count. A larger count is ErrMalformedBox.
func DecodeSampleSizesLimit(b Box, limit int) ([]uint32, error) {
	_, fixed, count, data, err := tableHeader(b, 4)
	if err != nil {
		return nil, err
	}
	if err := checkSampleCount(b, uint64(count), limit); err != nil {
		return nil, err
	}

	if size := be.Uint32(fixed); size != 0 {
		sizes := make([]uint32, count)
		for i := range sizes {
			sizes[i] = size
		}
		return sizes, nil
	}
	return readWidthTable(b, count, data)
}

// DecodeSyncSamples decodes the 1-based sample numbers of an stss box.
// Entry width follows the same 3 or 4 byte rule as stsz.
func DecodeSyncSamples(b Box) ([]uint32, error) {
	_, _, count, data, err := tableHeader(b, 0)
	if err != nil {
		return nil, err
	}
	return readWidthTable(b, count, data)
}

func readWidthTable(b Box, count uint32, data []byte) ([]uint32, error) {
	width, werr := entryWidth(b, count, data)
	n, ferr := fit(b, count, data, width)
	if werr == nil {
		werr = ferr
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = readUint(data[i*width:], width)
	}
	return out, werr
}

// RunEntry is one run-length record of an stts or ctts box.
type RunEntry struct {
	Count uint32
	Value int64
}

// DecodeTimeToSample decodes the (sample_count, sample_delta) runs of an
// stts box.
func DecodeTimeToSample(b Box) ([]RunEntry, error) {
	_, _, count, data, err := tableHeader(b, 0)
	if err != nil {
		return nil, err
	}
	n, ferr := fit(b, count, data, 8)
	runs := make([]RunEntry, n)
	for i := range runs {
		e := data[i*8:]
		runs[i] = RunEntry{Count: be.Uint32(e), Value: int64(be.Uint32(e[4:]))}
	}
	return runs, ferr
}

// DecodeCompositionOffsets decodes the (sample_count, sample_offset) runs of
// a ctts box. Offsets are read as signed in both versions; version 0 files
// written by common muxers carry negative offsets as well.
func DecodeCompositionOffsets(b Box) ([]RunEntry, error) {
	version, _, count, data, err := tableHeader(b, 0)
	if err != nil {
		return nil, err
	}
	if version > 1 {
		return nil, b.errorf(ErrUnsupportedVersion, "version %d", version)
	}
	n, ferr := fit(b, count, data, 8)
	runs := make([]RunEntry, n)
	for i := range runs {
		e := data[i*8:]
		runs[i] = RunEntry{Count: be.Uint32(e), Value: int64(int32(be.Uint32(e[4:])))}
	}
	return runs, ferr
}

// ExpandRuns expands run-length records to exactly n values. Missing values
// repeat the last one (or 0 when there are no records) and surplus values
// are dropped; either case returns ErrInconsistentCount.
func ExpandRuns(runs []RunEntry, n int) ([]int64, error) {
	out := make([]int64, 0, n)
	total := uint64(0)
	for _, r := range runs {
		total += uint64(r.Count)
		for c := uint32(0); c < r.Count && len(out) < n; c++ {
			out = append(out, r.Value)
		}
	}
	if total == uint64(n) {
		return out, nil
	}

	var last int64
	if len(runs) > 0 {
		last = runs[len(runs)-1].Value
	}
	for len(out) < n {
		out = append(out, last)
	}
	return out, fmt.Errorf("%w: runs cover %d samples, want %d", ErrInconsistentCount, total, n)
}

// DecodeTimes returns cumulative decode times: the first sample starts at
// 0 and each later one at the previous time plus the previous duration.
func DecodeTimes(durations []int64) []int64 {
	times := make([]int64, len(durations))
	for i := 1; i < len(durations); i++ {
		times[i] = times[i-1] + durations[i-1]
	}
	return times
}
