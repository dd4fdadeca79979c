package track

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	mp4 "github.com/tetsuo/atomparse"
)

// Movie is the result of parsing one file.
type Movie struct {
	Brand  *mp4.FileType
	Header *mp4.MovieHeader
	Tracks []*Track
	// Skipped lists the tracks excluded because their sample list could
	// not be built. Each entry is a *TrackError.
	Skipped []error
}

// TrackError records a track that was excluded from the result.
type TrackError struct {
	// Index is the ordinal of the trak within moov.
	Index   int
	TrackID uint32
	Err     error
}

func (e *TrackError) Error() string {
	return fmt.Sprintf("track %d (trak #%d): %v", e.TrackID, e.Index, e.Err)
}

func (e *TrackError) Unwrap() error { return e.Err }

// ParseMovie scans every top-level box of src and returns the tracks with
// their samples in decode order. Errors from the root scan abort the
// parse; a track that cannot be built is left out and recorded in
// Movie.Skipped unless cfg.Strict is set.
func ParseMovie(src mp4.Source, cfg Config) (*Movie, error) {
	p := newParser(cfg)
	if err := p.run(src); err != nil {
		return nil, err
	}
	return p.movie, nil
}

// Parse calls onTrack for every track of src once parsing completes.
func Parse(src mp4.Source, cfg Config, onTrack func(*Track)) error {
	m, err := ParseMovie(src, cfg)
	if err != nil {
		return err
	}
	for _, t := range m.Tracks {
		onTrack(t)
	}
	return nil
}

// Tracks returns an iterator over the tracks of src. A parse error is
// yielded once with a nil track.
func Tracks(src mp4.Source, cfg Config) iter.Seq2[*Track, error] {
	return func(yield func(*Track, error) bool) {
		m, err := ParseMovie(src, cfg)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, t := range m.Tracks {
			if !yield(t, nil) {
				return
			}
		}
	}
}

// parser holds the state of one parse.
type parser struct {
	cfg   Config
	log   *slog.Logger
	movie *Movie

	// slots holds one entry per trak ordinal, nil for excluded tracks.
	slots []*Track
	trex  map[uint32]*mp4.TrackExtends
	moofs int
	mdats []mdatRange
}

type mdatRange struct {
	offset    int64 // first data byte
	size      uint64
	openEnded bool
}

func (m mdatRange) contains(off int64, size uint32) bool {
	if off < 0 {
		return false
	}
	return m.openEnded || uint64(off)+uint64(size) <= m.size
}

func newParser(cfg Config) *parser {
	cfg = cfg.withDefaults()
	return &parser{
		cfg:   cfg,
		log:   cfg.Logger,
		movie: &Movie{},
		trex:  make(map[uint32]*mp4.TrackExtends),
	}
}

func (p *parser) warn(msg string, err error, attrs ...any) {
	p.log.Warn(msg, append(attrs, slog.Any("err", err))...)
}

func (p *parser) run(src mp4.Source) error {
	sc := mp4.NewScanner(src)
	sc.MaxBoxes = p.cfg.MaxTopLevelBoxes
	sc.MaxBodySize = p.cfg.MaxBodySize

	for sc.Next() {
		b := sc.Box()
		switch b.Type {
		case mp4.TypeFtyp:
			if _, err := sc.Load(); err != nil {
				return err
			}
			ft, err := mp4.DecodeFtyp(sc.Box())
			if err != nil {
				p.warn("ftyp", err)
				continue
			}
			p.movie.Brand = ft
		case mp4.TypeMoov:
			if _, err := sc.Load(); err != nil {
				return err
			}
			if err := p.parseMoov(sc.Box()); err != nil {
				return err
			}
		case mp4.TypeMoof:
			if _, err := sc.Load(); err != nil {
				return err
			}
			if err := p.parseMoof(sc.Box()); err != nil {
				return err
			}
		case mp4.TypeMdat:
			p.mdats = append(p.mdats, mdatRange{
				offset:    b.DataOffset(),
				size:      b.DataSize(),
				openEnded: b.Size == 0,
			})
		default:
			p.log.Debug("skip top-level box", slog.String("type", b.Type.String()), slog.Int64("offset", b.Offset))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	p.finish()
	return nil
}

func (p *parser) parseMoov(moov mp4.Box) error {
	var traks []mp4.Box
	for c, err := range mp4.Children(moov) {
		if err != nil {
			p.warn("moov children", err)
			break
		}
		switch c.Type {
		case mp4.TypeMvhd:
			h, err := mp4.DecodeMvhd(c)
			if err != nil {
				p.warn("mvhd", err)
				continue
			}
			if h.ReservedNonZero {
				p.log.Warn("mvhd reserved bytes are not zero", slog.Int64("offset", c.Offset))
			}
			p.movie.Header = h
		case mp4.TypeTrak:
			traks = append(traks, c)
		case mp4.TypeMvex:
			p.parseMvex(c)
		}
	}

	for _, trak := range traks {
		idx := len(p.slots)
		t, err := p.parseTrak(trak)
		if err != nil {
			var id uint32
			if t != nil {
				id = t.ID
			}
			terr := &TrackError{Index: idx, TrackID: id, Err: err}
			if p.cfg.Strict {
				return terr
			}
			p.warn("skip track", err, slog.Int("index", idx), slog.Uint64("track", uint64(id)))
			p.movie.Skipped = append(p.movie.Skipped, terr)
			p.slots = append(p.slots, nil)
			continue
		}
		p.slots = append(p.slots, t)
		p.movie.Tracks = append(p.movie.Tracks, t)
	}

	for _, t := range p.movie.Tracks {
		if t.trex == nil {
			t.trex = p.trex[t.ID]
		}
	}
	return nil
}

func (p *parser) parseMvex(mvex mp4.Box) {
	for c, err := range mp4.Children(mvex) {
		if err != nil {
			p.warn("mvex children", err)
			return
		}
		if c.Type != mp4.TypeTrex {
			continue
		}
		trex, err := mp4.DecodeTrex(c)
		if err != nil {
			p.warn("trex", err)
			continue
		}
		p.trex[trex.TrackID] = trex
	}
}

// parseTrak builds one track. The returned track is non-nil on error when
// its id was already known.
func (p *parser) parseTrak(trak mp4.Box) (*Track, error) {
	t := &Track{}
	var mdia *mp4.Box
	for c, err := range mp4.Children(trak) {
		if err != nil {
			p.warn("trak children", err)
			break
		}
		switch c.Type {
		case mp4.TypeTkhd:
			h, err := mp4.DecodeTkhd(c)
			if err != nil {
				return t, err
			}
			t.Header = h
			t.ID = h.TrackID
			t.Width = h.Width
			t.Height = h.Height
			t.Duration = h.Duration
		case mp4.TypeMdia:
			mdia = &c
		}
	}
	if t.Header == nil {
		return t, missing(trak, "tkhd")
	}
	if mdia == nil {
		return t, missing(trak, "mdia")
	}

	stbl, err := p.parseMdia(t, *mdia)
	if err != nil {
		return t, err
	}

	switch {
	case t.Media != nil && t.Media.TimeScale != 0:
		t.TimeScale = t.Media.TimeScale
		t.Duration = t.Media.Duration
	case p.movie.Header != nil && p.movie.Header.TimeScale != 0:
		t.TimeScale = p.movie.Header.TimeScale
	default:
		return t, missing(*mdia, "timescale in mdhd or mvhd")
	}

	if err := p.buildSamples(t, stbl); err != nil {
		return t, err
	}
	for i := range t.Descriptions {
		d := &t.Descriptions[i]
		if d.IsVisual() && t.Width == 0 {
			t.Width, t.Height = uint32(d.Width), uint32(d.Height)
		}
	}
	return t, nil
}

// parseMdia decodes mdhd and hdlr and returns the stbl box.
func (p *parser) parseMdia(t *Track, mdia mp4.Box) (mp4.Box, error) {
	var minf *mp4.Box
	for c, err := range mp4.Children(mdia) {
		if err != nil {
			p.warn("mdia children", err, slog.Uint64("track", uint64(t.ID)))
			break
		}
		switch c.Type {
		case mp4.TypeMdhd:
			m, err := mp4.DecodeMdhd(c)
			if err != nil {
				return mp4.Box{}, err
			}
			t.Media = m
			t.Language = m.Language
		case mp4.TypeHdlr:
			h, err := mp4.DecodeHdlr(c)
			if err != nil {
				p.warn("hdlr", err, slog.Uint64("track", uint64(t.ID)))
				continue
			}
			t.Handler = h
			t.Kind = kindOf(h.Type)
		case mp4.TypeMinf:
			minf = &c
		}
	}
	if minf == nil {
		return mp4.Box{}, missing(mdia, "minf")
	}

	stbl, ok := mp4.FindChild(*minf, mp4.TypeStbl)
	if !ok {
		return mp4.Box{}, missing(*minf, "stbl")
	}
	return stbl, nil
}

// finish pairs fragment samples with mdat boxes and converts times to
// milliseconds.
func (p *parser) finish() {
	unpaired, outside := 0, 0
	for _, t := range p.movie.Tracks {
		for i := range t.Samples {
			s := &t.Samples[i]
			if s.Mdat >= 0 {
				if s.Mdat < len(p.mdats) {
					m := p.mdats[s.Mdat]
					s.MdatOffset = s.Offset - m.offset
					if !m.contains(s.MdatOffset, s.Size) {
						outside++
					}
				} else {
					s.Mdat = -1
					unpaired++
				}
			}
			s.setMillis(t.TimeScale)
		}
	}
	if unpaired > 0 {
		p.warn("mdat pairing", errors.New("movie fragment without a matching mdat"),
			slog.Int("samples", unpaired), slog.Int("moof", p.moofs), slog.Int("mdat", len(p.mdats)))
	}
	if outside > 0 {
		p.warn("mdat pairing", errors.New("sample data outside its paired mdat"), slog.Int("samples", outside))
	}
}
