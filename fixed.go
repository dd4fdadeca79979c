package mp4

import (
	"math"
	"time"
)

// Fixed-point and date helpers. All of them read big-endian bytes and keep
// no state.

// macEpochOffset is the number of seconds between 1904-01-01 and 1970-01-01.
const macEpochOffset = 2082844800

// Fixed16x16 decodes a signed 16.16 fixed-point number.
func Fixed16x16(b []byte) float64 {
	return float64(int32(be.Uint32(b))) / (1 << 16)
}

// Fixed2x30 decodes a signed 2.30 fixed-point number.
func Fixed2x30(b []byte) float64 {
	return float64(int32(be.Uint32(b))) / (1 << 30)
}

// Fixed8x8 decodes a signed 8.8 fixed-point number.
func Fixed8x8(b []byte) float64 {
	return float64(int16(be.Uint16(b))) / (1 << 8)
}

// MacTime converts seconds since 1904-01-01 00:00:00 UTC to a time.Time.
func MacTime(secs uint64) time.Time {
	return time.Unix(int64(secs)-macEpochOffset, 0).UTC()
}

// UnitsToMillis converts a time value in timescale units to milliseconds,
// rounding to the nearest millisecond. A zero timescale yields 0.
func UnitsToMillis(units int64, timescale uint32) int64 {
	if timescale == 0 {
		return 0
	}
	return int64(math.Round(float64(units) * 1000 / float64(timescale)))
}
