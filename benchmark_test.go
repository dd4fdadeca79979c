package mp4_test

import (
	"io"
	"os"
	"testing"

	mp4 "github.com/tetsuo/atomparse"
	"github.com/tetsuo/atomparse/track"
)

const benchFile = "video-media-samples/big-buck-bunny-480p-30sec.mp4"

func loadTestFile(b *testing.B) []byte {
	b.Helper()
	data, err := os.ReadFile(benchFile)
	if err != nil {
		b.Skipf("test file not available: %v", err)
	}
	return data
}

func BenchmarkWalk(b *testing.B) {
	data := loadTestFile(b)

	b.SetBytes(int64(len(data)))

	for b.Loop() {
		sc := mp4.NewScanner(mp4.NewBufferSource(data))
		for sc.Next() {
			if mp4.IsContainerBox(sc.Box().Type) {
				if _, err := sc.Load(); err != nil {
					b.Fatal(err)
				}
				walkBench(sc.Box())
			}
		}
		if err := sc.Err(); err != nil {
			b.Fatal(err)
		}
	}
}

func walkBench(parent mp4.Box) {
	for c, err := range mp4.Children(parent) {
		if err != nil {
			return
		}
		if c.Type == mp4.TypeStsd {
			_, _ = mp4.DecodeStsd(c)
			continue
		}
		if mp4.IsContainerBox(c.Type) {
			walkBench(c)
		}
	}
}

func findBox(parent mp4.Box, t mp4.BoxType) (mp4.Box, bool) {
	for c, err := range mp4.Children(parent) {
		if err != nil {
			return mp4.Box{}, false
		}
		if c.Type == t {
			return c, true
		}
		if mp4.IsContainerBox(c.Type) {
			if found, ok := findBox(c, t); ok {
				return found, true
			}
		}
	}
	return mp4.Box{}, false
}

func BenchmarkSampleSizes(b *testing.B) {
	data := loadTestFile(b)

	var stsz mp4.Box
	var found bool
	sc := mp4.NewScanner(mp4.NewBufferSource(data))
	for sc.Next() && !found {
		if sc.Box().Type == mp4.TypeMoov {
			if _, err := sc.Load(); err != nil {
				b.Fatal(err)
			}
			stsz, found = findBox(sc.Box(), mp4.TypeStsz)
		}
	}
	if !found {
		b.Skip("no stsz found")
	}

	for b.Loop() {
		if _, err := mp4.DecodeSampleSizes(stsz); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScannerParse(b *testing.B) {
	info, err := os.Stat(benchFile)
	if err != nil {
		b.Skipf("test file not available: %v", err)
	}
	b.SetBytes(info.Size())
	f, err := os.Open(benchFile)
	if err != nil {
		b.Fatal(err)
	}
	defer f.Close()

	for b.Loop() {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			b.Fatal(err)
		}
		sc := mp4.NewScanner(mp4.NewReaderSource(f))
		for sc.Next() {
			t := sc.Box().Type
			if t == mp4.TypeMoov || t == mp4.TypeMoof {
				if _, err := sc.Load(); err != nil {
					b.Fatal(err)
				}
				walkBench(sc.Box())
			}
		}
		if err := sc.Err(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseMovie(b *testing.B) {
	data := loadTestFile(b)

	b.SetBytes(int64(len(data)))

	for b.Loop() {
		if _, err := track.ParseMovie(mp4.NewBufferSource(data), track.DefaultConfig()); err != nil {
			b.Fatal(err)
		}
	}
}
