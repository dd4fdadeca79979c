package mp4

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadHeader(t *testing.T) {
	cases := []struct {
		name  string
		buf   []byte
		typ   string
		size  uint64
		extra int
		err   error
	}{
		{"compact", cat(u32(16), []byte("free"), make([]byte, 8)), "free", 16, 0, nil},
		{"largesize", cat(u32(1), []byte("mdat"), u64(24), make([]byte, 8)), "mdat", 24, 8, nil},
		{"open ended", cat(u32(0), []byte("mdat")), "mdat", 0, 0, nil},
		{"empty", nil, "", 0, 0, io.EOF},
		{"partial header", []byte{0, 0, 0, 8, 'f'}, "", 0, 0, io.ErrUnexpectedEOF},
		{"largesize cut", cat(u32(1), []byte("mdat"), []byte{0, 0, 0}), "mdat", 1, 0, io.ErrUnexpectedEOF},
		{"size below header", cat(u32(4), []byte("free")), "free", 4, 0, ErrMalformedBox},
		{"largesize below header", cat(u32(1), []byte("free"), u64(12)), "free", 12, 8, ErrMalformedBox},
	}
	for _, ca := range cases {
		t.Run(ca.name, func(t *testing.T) {
			h, err := ReadHeader(ca.buf)
			if ca.err != nil {
				require.ErrorIs(t, err, ca.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ca.typ, h.Type.String())
			assert.Equal(t, ca.size, h.Size)
			assert.Equal(t, ca.extra, h.HeaderExtra)
			assert.Equal(t, 8+ca.extra, h.HeaderSize())
		})
	}
}

func TestLargesizeMatchesCompact(t *testing.T) {
	body := []byte("abcd")
	compact := mkbox("free", body)
	extended := cat(u32(1), []byte("free"), u64(uint64(16+len(body))), body)

	a, err := ReadBox(compact, 100)
	require.NoError(t, err)
	b, err := ReadBox(extended, 100)
	require.NoError(t, err)

	assert.Equal(t, a.Type, b.Type)
	assert.Equal(t, a.Data, b.Data)
	assert.Equal(t, a.DataSize(), b.DataSize())
	assert.Equal(t, int64(108), a.DataOffset())
	assert.Equal(t, int64(116), b.DataOffset())
	assert.Equal(t, int64(100+len(extended)), b.End())
}

func TestBoxFull(t *testing.T) {
	b := parse(t, mkfull("tfhd", 1, 0x020001, u32(7)))
	version, flags, payload, err := b.Full()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), version)
	assert.Equal(t, uint32(0x020001), flags)
	assert.Equal(t, u32(7), payload)

	short := parse(t, mkbox("tfhd", []byte{1, 0}))
	_, _, _, err = short.Full()
	require.ErrorIs(t, err, ErrMalformedBox)

	var be *BoxError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, TypeTfhd, be.Type)
	assert.Equal(t, int64(0), be.Offset)
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(&BoxError{Type: TypeStsz, Err: ErrInconsistentCount}))
	assert.True(t, IsFatal(&BoxError{Type: TypeStsz, Err: ErrMalformedBox}))
	assert.True(t, IsFatal(io.ErrUnexpectedEOF))
}

func TestBoxTypeSets(t *testing.T) {
	assert.True(t, IsContainerBox(TypeMoov))
	assert.True(t, IsContainerBox(TypeTraf))
	assert.False(t, IsContainerBox(TypeStsd))
	assert.True(t, IsFullBox(TypeStsd))
	assert.False(t, IsFullBox(TypeFtyp))
}
