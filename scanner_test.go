package mp4

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFile() []byte {
	return cat(
		mkbox("ftyp", []byte("isom"), u32(512), []byte("isomiso2")),
		mkbox("free", make([]byte, 20)),
		mkbox("moov", mkbox("udta")),
		cat(u32(1), []byte("mdat"), u64(20), []byte("data")),
	)
}

type scanned struct {
	typ    string
	offset int64
	data   []byte
}

func scanAll(t *testing.T, src Source, load ...BoxType) ([]scanned, error) {
	t.Helper()
	sc := NewScanner(src)
	var out []scanned
	for sc.Next() {
		b := sc.Box()
		for _, lt := range load {
			if b.Type == lt {
				data, err := sc.Load()
				require.NoError(t, err)
				b.Data = data
			}
		}
		out = append(out, scanned{b.Type.String(), b.Offset, b.Data})
	}
	return out, sc.Err()
}

func TestScanner(t *testing.T) {
	file := testFile()
	sources := map[string]func() Source{
		"buffer":      func() Source { return NewBufferSource(file) },
		"seeker":      func() Source { return NewReaderSource(bytes.NewReader(file)) },
		"one byte":    func() Source { return NewReaderSource(iotest.OneByteReader(bytes.NewReader(file))) },
		"pure reader": func() Source { return NewReaderSource(bytes.NewBufferString(string(file))) },
	}
	for name, newSrc := range sources {
		t.Run(name, func(t *testing.T) {
			boxes, err := scanAll(t, newSrc(), TypeMoov)
			require.NoError(t, err)
			require.Len(t, boxes, 4)

			assert.Equal(t, "ftyp", boxes[0].typ)
			assert.Equal(t, "free", boxes[1].typ)
			assert.Equal(t, int64(24), boxes[1].offset)
			assert.Equal(t, "moov", boxes[2].typ)
			assert.Equal(t, int64(52), boxes[2].offset)
			assert.Equal(t, mkbox("udta"), boxes[2].data)
			assert.Equal(t, "mdat", boxes[3].typ)
			assert.Equal(t, int64(68), boxes[3].offset)
			assert.Nil(t, boxes[3].data)
		})
	}
}

func TestScannerOpenEnded(t *testing.T) {
	file := cat(mkbox("ftyp", []byte("isom"), u32(0)), u32(0), []byte("mdat"), []byte("payload"))

	sc := NewScanner(NewBufferSource(file))
	require.True(t, sc.Next())
	require.True(t, sc.Next())
	b := sc.Box()
	assert.Equal(t, TypeMdat, b.Type)
	assert.Equal(t, uint64(0), b.Size)

	data, err := sc.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, uint64(7), sc.Box().DataSize())
	assert.Equal(t, int64(len(file)), sc.Box().End())

	assert.False(t, sc.Next())
	assert.NoError(t, sc.Err())
}

// countingReader counts the bytes pulled from r.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestScannerSkipsOpenEndedBody(t *testing.T) {
	hdr := cat(mkbox("ftyp", []byte("isom"), u32(0)), u32(0), []byte("mdat"))
	cr := &countingReader{r: io.MultiReader(bytes.NewReader(hdr), io.LimitReader(zeroReader{}, 1<<30))}

	boxes, err := scanAll(t, NewReaderSource(cr))
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.Equal(t, "mdat", boxes[1].typ)
	assert.Nil(t, boxes[1].data)
	assert.Equal(t, int64(len(hdr)), cr.n)
}

func TestScannerOpenEndedLoadLimit(t *testing.T) {
	file := cat(u32(0), []byte("mdat"), make([]byte, 64))
	sources := map[string]func() Source{
		"buffer":      func() Source { return NewBufferSource(file) },
		"pure reader": func() Source { return NewReaderSource(bytes.NewBufferString(string(file))) },
	}
	for name, newSrc := range sources {
		t.Run(name, func(t *testing.T) {
			sc := NewScanner(newSrc())
			sc.MaxBodySize = 32
			require.True(t, sc.Next())
			_, err := sc.Load()
			require.ErrorIs(t, err, ErrMalformedBox)
			assert.Contains(t, err.Error(), "exceeds load limit 32")
			assert.False(t, sc.Next())

			sc = NewScanner(newSrc())
			sc.MaxBodySize = 64
			require.True(t, sc.Next())
			data, err := sc.Load()
			require.NoError(t, err)
			assert.Len(t, data, 64)
		})
	}
}

func TestScannerTruncated(t *testing.T) {
	t.Run("mid header", func(t *testing.T) {
		file := cat(mkbox("free"), []byte{0, 0, 0})
		_, err := scanAll(t, NewBufferSource(file))
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("largesize cut", func(t *testing.T) {
		file := cat(mkbox("free"), u32(1), []byte("mdat"), []byte{0, 0})
		_, err := scanAll(t, NewReaderSource(bytes.NewReader(file)))
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("skipped body", func(t *testing.T) {
		file := cat(u32(100), []byte("free"), make([]byte, 10))
		boxes, err := scanAll(t, NewBufferSource(file))
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
		require.Len(t, boxes, 1)
	})

	t.Run("loaded body", func(t *testing.T) {
		file := cat(u32(100), []byte("moov"), make([]byte, 10))
		sc := NewScanner(NewReaderSource(bytes.NewReader(file)))
		require.True(t, sc.Next())
		_, err := sc.Load()
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.False(t, sc.Next())
		assert.ErrorIs(t, sc.Err(), io.ErrUnexpectedEOF)
	})

	t.Run("malformed size", func(t *testing.T) {
		file := cat(mkbox("free"), u32(3), []byte("junk"))
		_, err := scanAll(t, NewBufferSource(file))
		require.ErrorIs(t, err, ErrMalformedBox)
		var be *BoxError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, int64(8), be.Offset)
	})
}

func TestScannerLimits(t *testing.T) {
	file := cat(mkbox("free"), mkbox("free"), mkbox("free"))

	sc := NewScanner(NewBufferSource(file))
	sc.MaxBoxes = 2
	for sc.Next() {
	}
	require.ErrorIs(t, sc.Err(), ErrInfiniteLoopGuard)

	sc = NewScanner(NewBufferSource(mkbox("moov", make([]byte, 64))))
	sc.MaxBodySize = 32
	require.True(t, sc.Next())
	_, err := sc.Load()
	require.ErrorIs(t, err, ErrMalformedBox)
}

func TestBufferSourceAliases(t *testing.T) {
	file := mkbox("moov", mkbox("udta"))
	src := NewBufferSource(file)
	sc := NewScanner(src)
	require.True(t, sc.Next())
	data, err := sc.Load()
	require.NoError(t, err)

	file[8+4] = 'U'
	assert.Equal(t, byte('U'), data[4])
	assert.Equal(t, file, src.Bytes())
}
