package track

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/pkg/formats/fmp4/seekablebuffer"
	"github.com/stretchr/testify/require"
)

// testSPS is a 1920x1080 baseline profile SPS.
var testSPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
	0x20,
}

var testPPS = []byte{0x08}

var identity = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// boxWriter builds files box by box with an independent MP4 writer.
type boxWriter struct {
	t   *testing.T
	buf seekablebuffer.Buffer
	w   *gomp4.Writer
}

func newBoxWriter(t *testing.T) *boxWriter {
	bw := &boxWriter{t: t}
	bw.w = gomp4.NewWriter(&bw.buf)
	return bw
}

func (bw *boxWriter) start(typ gomp4.BoxType) *gomp4.BoxInfo {
	bw.t.Helper()
	bi, err := bw.w.StartBox(&gomp4.BoxInfo{Type: typ})
	require.NoError(bw.t, err)
	return bi
}

func (bw *boxWriter) end() {
	bw.t.Helper()
	_, err := bw.w.EndBox()
	require.NoError(bw.t, err)
}

// open starts b and writes its fields; children may follow before end.
func (bw *boxWriter) open(b gomp4.IImmutableBox) {
	bw.t.Helper()
	bw.start(b.GetType())
	_, err := gomp4.Marshal(bw.w, b, gomp4.Context{})
	require.NoError(bw.t, err)
}

func (bw *boxWriter) box(b gomp4.IImmutableBox) {
	bw.t.Helper()
	bw.open(b)
	bw.end()
}

func (bw *boxWriter) write(p []byte) {
	bw.t.Helper()
	_, err := bw.w.Write(p)
	require.NoError(bw.t, err)
}

func (bw *boxWriter) bytes() []byte { return bw.buf.Bytes() }

// trackLayout describes a progressive track. Samples are stored in chunks
// of perChunk samples, one track after another inside a single mdat.
type trackLayout struct {
	id        uint32
	handler   string
	timescale uint32
	entry     func(bw *boxWriter)
	sizes     []uint32
	delta     uint32
	ctts      []gomp4.CttsEntry
	sync      []uint32
	perChunk  uint32
	// skip leaves out a required table, e.g. "stsz".
	skip string
	// stscPerChunk and sttsSamples, when set, replace the counts written
	// to stsc and stts so those tables disagree with stsz.
	stscPerChunk uint32
	sttsSamples  uint32
}

func (s *trackLayout) chunks() [][]uint32 {
	var out [][]uint32
	for i := 0; i < len(s.sizes); i += int(s.perChunk) {
		out = append(out, s.sizes[i:min(i+int(s.perChunk), len(s.sizes))])
	}
	return out
}

// payload returns deterministic bytes for sample i of a track.
func payload(id uint32, i int, size uint32) []byte {
	p := make([]byte, size)
	for j := range p {
		p[j] = byte(id)<<4 | byte(i)&0x0f
	}
	return p
}

func avc1Entry(bw *boxWriter) {
	bw.open(&gomp4.VisualSampleEntry{
		SampleEntry: gomp4.SampleEntry{
			AnyTypeBox:         gomp4.AnyTypeBox{Type: gomp4.BoxTypeAvc1()},
			DataReferenceIndex: 1,
		},
		Width:           640,
		Height:          480,
		Horizresolution: 0x00480000,
		Vertresolution:  0x00480000,
		FrameCount:      1,
		Depth:           0x18,
		PreDefined3:     -1,
	})
	bw.box(&gomp4.AVCDecoderConfiguration{
		AnyTypeBox:                 gomp4.AnyTypeBox{Type: gomp4.BoxTypeAvcC()},
		ConfigurationVersion:       1,
		Profile:                    0x42,
		ProfileCompatibility:       0xc0,
		Level:                      0x1e,
		LengthSizeMinusOne:         3,
		NumOfSequenceParameterSets: 1,
		SequenceParameterSets: []gomp4.AVCParameterSet{
			{Length: 4, NALUnit: []byte{0x67, 0x42, 0xc0, 0x1e}},
		},
		NumOfPictureParameterSets: 1,
		PictureParameterSets: []gomp4.AVCParameterSet{
			{Length: 2, NALUnit: []byte{0x68, 0xce}},
		},
	})
	bw.end()
}

func mp4aEntry(bw *boxWriter) {
	asc := []byte{0x11, 0x90} // AAC-LC, 48 kHz, stereo
	bw.open(&gomp4.AudioSampleEntry{
		SampleEntry: gomp4.SampleEntry{
			AnyTypeBox:         gomp4.AnyTypeBox{Type: gomp4.BoxTypeMp4a()},
			DataReferenceIndex: 1,
		},
		ChannelCount: 2,
		SampleSize:   16,
		SampleRate:   48000 << 16,
	})
	bw.box(&gomp4.Esds{
		Descriptors: []gomp4.Descriptor{
			{
				Tag:          gomp4.ESDescrTag,
				Size:         32 + uint32(len(asc)),
				ESDescriptor: &gomp4.ESDescriptor{ESID: 2},
			},
			{
				Tag:  gomp4.DecoderConfigDescrTag,
				Size: 18 + uint32(len(asc)),
				DecoderConfigDescriptor: &gomp4.DecoderConfigDescriptor{
					ObjectTypeIndication: 0x40,
					StreamType:           0x05,
					Reserved:             true,
				},
			},
			{Tag: gomp4.DecSpecificInfoTag, Size: uint32(len(asc)), Data: asc},
			{Tag: gomp4.SLConfigDescrTag, Size: 1, Data: []byte{0x02}},
		},
	})
	bw.end()
}

func videoLayout() *trackLayout {
	return &trackLayout{
		id:        1,
		handler:   "vide",
		timescale: 90000,
		entry:     avc1Entry,
		sizes:     []uint32{100, 50, 60, 70},
		delta:     3000,
		ctts: []gomp4.CttsEntry{
			{SampleCount: 1, SampleOffsetV0: 3000},
			{SampleCount: 1, SampleOffsetV0: 0},
			{SampleCount: 2, SampleOffsetV0: 3000},
		},
		sync:     []uint32{1, 3},
		perChunk: 2,
	}
}

func audioLayout() *trackLayout {
	return &trackLayout{
		id:        2,
		handler:   "soun",
		timescale: 48000,
		entry:     mp4aEntry,
		sizes:     []uint32{20, 20, 20},
		delta:     1024,
		perChunk:  3,
	}
}

// progressive writes ftyp, mdat and moov holding the given tracks.
func progressive(t *testing.T, layouts ...*trackLayout) []byte {
	bw := newBoxWriter(t)
	bw.box(&gomp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 512,
		CompatibleBrands: []gomp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'a', 'v', 'c', '1'}},
		},
	})

	mdat := bw.start(gomp4.BoxTypeMdat())
	pos := mdat.Offset + mdat.HeaderSize
	offsets := make([][]uint32, len(layouts))
	for i, s := range layouts {
		n := 0
		for _, chunk := range s.chunks() {
			offsets[i] = append(offsets[i], uint32(pos))
			for _, size := range chunk {
				bw.write(payload(s.id, n, size))
				pos += uint64(size)
				n++
			}
		}
	}
	bw.end()

	bw.start(gomp4.BoxTypeMoov())
	bw.box(&gomp4.Mvhd{
		Timescale:   1000,
		DurationV0:  1000,
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      identity,
		NextTrackID: uint32(len(layouts) + 1),
	})
	for i, s := range layouts {
		writeTrak(bw, s, offsets[i])
	}
	bw.end()
	return bw.bytes()
}

func writeTrak(bw *boxWriter, s *trackLayout, offsets []uint32) {
	tkhd := &gomp4.Tkhd{
		FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 3}},
		TrackID: s.id,
		Matrix:  identity,
	}
	if s.handler == "vide" {
		tkhd.Width, tkhd.Height = 640<<16, 480<<16
	}
	n := uint32(len(s.sizes))

	bw.start(gomp4.BoxTypeTrak())
	bw.box(tkhd)
	bw.start(gomp4.BoxTypeMdia())
	bw.box(&gomp4.Mdhd{
		Timescale:  s.timescale,
		DurationV0: n * s.delta,
		Language:   [3]byte{'e', 'n', 'g'},
	})
	var handler [4]byte
	copy(handler[:], s.handler)
	bw.box(&gomp4.Hdlr{HandlerType: handler, Name: "Handler"})
	bw.start(gomp4.BoxTypeMinf())
	bw.start(gomp4.BoxTypeStbl())

	bw.open(&gomp4.Stsd{EntryCount: 1})
	s.entry(bw)
	bw.end()

	if s.skip != "stts" {
		count := n
		if s.sttsSamples != 0 {
			count = s.sttsSamples
		}
		bw.box(&gomp4.Stts{EntryCount: 1, Entries: []gomp4.SttsEntry{{SampleCount: count, SampleDelta: s.delta}}})
	}
	if len(s.ctts) > 0 {
		bw.box(&gomp4.Ctts{EntryCount: uint32(len(s.ctts)), Entries: s.ctts})
	}
	if len(s.sync) > 0 {
		bw.box(&gomp4.Stss{EntryCount: uint32(len(s.sync)), SampleNumber: s.sync})
	}
	if s.skip != "stsc" {
		perChunk := s.perChunk
		if s.stscPerChunk != 0 {
			perChunk = s.stscPerChunk
		}
		bw.box(&gomp4.Stsc{EntryCount: 1, Entries: []gomp4.StscEntry{
			{FirstChunk: 1, SamplesPerChunk: perChunk, SampleDescriptionIndex: 1},
		}})
	}
	if s.skip != "stsz" {
		bw.box(&gomp4.Stsz{SampleCount: n, EntrySize: s.sizes})
	}
	if s.skip != "stco" {
		bw.box(&gomp4.Stco{EntryCount: uint32(len(offsets)), ChunkOffset: offsets})
	}

	bw.end() // stbl
	bw.end() // minf
	bw.end() // mdia
	bw.end() // trak
}

// fragmentPart is one moof+mdat pair.
type fragmentPart struct {
	video, audio []*fmp4.PartSample
	videoBase    uint64
	audioBase    uint64
}

// fragmented writes an init segment with an H264 and an AAC track followed
// by the given parts.
func fragmented(t *testing.T, parts ...fragmentPart) []byte {
	var buf seekablebuffer.Buffer
	initSeg := fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        1,
				TimeScale: 90000,
				Codec:     &fmp4.CodecH264{SPS: testSPS, PPS: testPPS},
			},
			{
				ID:        2,
				TimeScale: 44100,
				Codec: &fmp4.CodecMPEG4Audio{Config: mpeg4audio.Config{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   44100,
					ChannelCount: 2,
				}},
			},
		},
	}
	require.NoError(t, initSeg.Marshal(&buf))

	for i, p := range parts {
		part := fmp4.Part{
			SequenceNumber: uint32(i + 1),
			Tracks: []*fmp4.PartTrack{
				{ID: 1, BaseTime: p.videoBase, Samples: p.video},
				{ID: 2, BaseTime: p.audioBase, Samples: p.audio},
			},
		}
		require.NoError(t, part.Marshal(&buf))
	}
	return buf.Bytes()
}

func twoParts() []fragmentPart {
	return []fragmentPart{
		{
			video: []*fmp4.PartSample{
				{Duration: 3000, Payload: payload(1, 0, 40)},
				{Duration: 3000, PTSOffset: 3000, IsNonSyncSample: true, Payload: payload(1, 1, 12)},
			},
			audio: []*fmp4.PartSample{
				{Duration: 1024, Payload: payload(2, 0, 9)},
			},
		},
		{
			videoBase: 6000,
			audioBase: 1024,
			video: []*fmp4.PartSample{
				{Duration: 3000, Payload: payload(1, 2, 33)},
				{Duration: 3000, IsNonSyncSample: true, Payload: payload(1, 3, 7)},
			},
			audio: []*fmp4.PartSample{
				{Duration: 1024, Payload: payload(2, 1, 11)},
			},
		},
	}
}

// initSegment writes an H264 init segment with a third-party muxer.
func initSegment(t *testing.T) []byte {
	seg := mp4.CreateEmptyInit()
	seg.Moov.Mvhd.NextTrackID = 2
	trak := mp4.CreateEmptyTrak(1, 90000, "video", "eng")
	seg.Moov.AddChild(trak)
	seg.Moov.Mvex.AddChild(mp4.CreateTrex(1))
	require.NoError(t, trak.SetAVCDescriptor("avc1", [][]byte{testSPS}, [][]byte{testPPS}, true))

	var buf bytes.Buffer
	ftyp := mp4.NewFtyp("isom", 0x200, []string{"isom", "iso6", "avc1"})
	require.NoError(t, ftyp.Encode(&buf))
	require.NoError(t, seg.Moov.Encode(&buf))
	return buf.Bytes()
}

// testConfig returns a Config logging to the returned buffer.
func testConfig() (Config, *bytes.Buffer) {
	var logs bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return cfg, &logs
}
