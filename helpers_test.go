package mp4

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }

func u32(vs ...uint32) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return b
}

func u64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func cat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

// mkbox encodes a box with a compact header.
func mkbox(typ string, parts ...[]byte) []byte {
	body := cat(parts...)
	return cat(u32(uint32(8+len(body))), []byte(typ), body)
}

// mkfull encodes a full box.
func mkfull(typ string, version uint8, flags uint32, parts ...[]byte) []byte {
	return mkbox(typ, u32(uint32(version)<<24|flags), cat(parts...))
}

// parse decodes the single box in data, positioned at offset 0.
func parse(t *testing.T, data []byte) Box {
	t.Helper()
	b, err := ReadBox(data, 0)
	require.NoError(t, err)
	return b
}
