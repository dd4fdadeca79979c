package mp4

import (
	"fmt"
	"strconv"
)

// Sample entry header lengths before their child boxes.
const (
	visualSampleEntrySize = 78
	audioSampleEntrySize  = 28
)

// SampleDescription is one entry of an stsd box.
type SampleDescription struct {
	Format             BoxType
	DataReferenceIndex uint16
	// Config is the codec configuration payload: the avcC body for AVC
	// entries and the esds body (after version and flags) for mp4a.
	Config []byte
	// Codec is the RFC 6381 codec string, e.g. "avc1.64001f" or "mp4a.40.2".
	Codec string

	Width  uint16
	Height uint16

	ChannelCount uint16
	SampleSize   uint16
	SampleRate   uint32
}

// IsVisual reports whether the entry uses the visual sample entry layout.
func (d *SampleDescription) IsVisual() bool {
	switch d.Format.String() {
	case "avc1", "avc3", "hvc1", "hev1", "av01", "vp08", "vp09", "mp4v", "encv":
		return true
	}
	return false
}

// IsAudio reports whether the entry uses the audio sample entry layout.
func (d *SampleDescription) IsAudio() bool {
	switch d.Format.String() {
	case "mp4a", "ac-3", "ec-3", "Opus", "fLaC", "enca":
		return true
	}
	return false
}

// DecodeStsd decodes the entries of an stsd box. Entries of unknown
// formats keep their fourcc and data reference index only.
func DecodeStsd(b Box) ([]SampleDescription, error) {
	_, _, p, err := b.Full()
	if err != nil {
		return nil, err
	}
	if len(p) < 4 {
		return nil, b.errorf(ErrMalformedBox, "body %d bytes", len(p))
	}
	count := be.Uint32(p)

	var descs []SampleDescription
	for entry, err := range ChildrenAt(p[4:], b.DataOffset()+8) {
		if err != nil {
			return descs, err
		}
		d, err := decodeSampleEntry(entry)
		if err != nil {
			return descs, err
		}
		descs = append(descs, d)
	}
	if uint64(len(descs)) != uint64(count) {
		return descs, b.errorf(ErrInconsistentCount, "entry count %d, found %d", count, len(descs))
	}
	return descs, nil
}

func decodeSampleEntry(e Box) (SampleDescription, error) {
	d := SampleDescription{Format: e.Type, Codec: e.Type.String()}
	if len(e.Data) >= 8 {
		d.DataReferenceIndex = be.Uint16(e.Data[6:])
	}

	switch {
	case d.IsVisual():
		if len(e.Data) < visualSampleEntrySize {
			return d, e.errorf(ErrMalformedBox, "visual sample entry %d bytes", len(e.Data))
		}
		d.Width = be.Uint16(e.Data[24:])
		d.Height = be.Uint16(e.Data[26:])
		children := ChildrenAt(e.Data[visualSampleEntrySize:], e.DataOffset()+visualSampleEntrySize)
		for c, err := range children {
			if err != nil {
				return d, err
			}
			if c.Type == TypeAvcC {
				d.Config = c.Data
				if len(c.Data) >= 4 {
					d.Codec = fmt.Sprintf("%s.%02x%02x%02x", e.Type, c.Data[1], c.Data[2], c.Data[3])
				}
				break
			}
		}
	case d.IsAudio():
		if len(e.Data) < audioSampleEntrySize {
			return d, e.errorf(ErrMalformedBox, "audio sample entry %d bytes", len(e.Data))
		}
		d.ChannelCount = be.Uint16(e.Data[16:])
		d.SampleSize = be.Uint16(e.Data[18:])
		d.SampleRate = be.Uint32(e.Data[24:]) >> 16

		// QuickTime sound description versions 1 and 2 extend the header.
		skip := audioSampleEntrySize
		switch be.Uint16(e.Data[8:]) {
		case 1:
			skip += 16
		case 2:
			skip += 36
		}
		if skip > len(e.Data) {
			return d, e.errorf(ErrMalformedBox, "audio sample entry %d bytes", len(e.Data))
		}
		for c, err := range ChildrenAt(e.Data[skip:], e.DataOffset()+int64(skip)) {
			if err != nil {
				return d, err
			}
			if c.Type != TypeEsds {
				continue
			}
			_, _, payload, err := c.Full()
			if err != nil {
				return d, err
			}
			d.Config = payload
			if info, ok := ParseEsds(payload); ok && info.ObjectTypeIndication != 0 {
				d.Codec += "." + strconv.FormatUint(uint64(info.ObjectTypeIndication), 16)
				if info.AudioObjectType > 0 {
					d.Codec += "." + strconv.Itoa(info.AudioObjectType)
				}
			}
			break
		}
	}
	return d, nil
}
