package mp4

// MPEG-4 descriptor parsing for esds bodies (ISO/IEC 14496-1).

const (
	tagESDescriptor            = 0x03
	tagDecoderConfigDescriptor = 0x04
	tagDecoderSpecificInfo     = 0x05
	tagSLConfigDescriptor      = 0x06
)

type descriptor struct {
	tag  byte
	size int // header plus payload
	// body is the payload after fields decoded into this struct.
	body     []byte
	oti      byte
	children []*descriptor
}

func (d *descriptor) child(tag byte) *descriptor {
	for _, c := range d.children {
		if c.tag == tag {
			return c
		}
	}
	return nil
}

// decodeDescriptor decodes the descriptor at the start of buf. It returns
// nil when buf cannot hold a tag and its length.
func decodeDescriptor(buf []byte) *descriptor {
	if len(buf) < 2 {
		return nil
	}
	ptr := 1
	length := 0
	for i := 0; i < 4 && ptr < len(buf); i++ {
		b := buf[ptr]
		ptr++
		length = length<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}

	d := &descriptor{tag: buf[0], size: ptr + length}
	end := min(ptr+length, len(buf))
	payload := buf[ptr:end]

	switch d.tag {
	case tagESDescriptor:
		decodeESDescriptor(d, payload)
	case tagDecoderConfigDescriptor:
		if len(payload) > 0 {
			d.oti = payload[0]
		}
		if len(payload) > 13 {
			d.children = decodeDescriptors(payload[13:])
		}
	default:
		d.body = payload
	}
	return d
}

func decodeDescriptors(buf []byte) []*descriptor {
	var out []*descriptor
	for len(buf) >= 2 {
		d := decodeDescriptor(buf)
		if d == nil || d.size <= 0 {
			break
		}
		out = append(out, d)
		if d.size >= len(buf) {
			break
		}
		buf = buf[d.size:]
	}
	return out
}

// decodeESDescriptor skips ES_ID and the optional stream dependence, URL
// and OCR fields before the nested descriptors.
func decodeESDescriptor(d *descriptor, p []byte) {
	if len(p) < 3 {
		return
	}
	flags := p[2]
	ptr := 3
	if flags&0x80 != 0 {
		ptr += 2
	}
	if flags&0x40 != 0 {
		if ptr >= len(p) {
			return
		}
		ptr += 1 + int(p[ptr])
	}
	if flags&0x20 != 0 {
		ptr += 2
	}
	if ptr < len(p) {
		d.children = decodeDescriptors(p[ptr:])
	}
}

// AudioSpecificInfo is what the codec string needs from an esds body.
type AudioSpecificInfo struct {
	// ObjectTypeIndication identifies the stream format, 0x40 for AAC.
	ObjectTypeIndication byte
	// AudioObjectType comes from the DecoderSpecificInfo, 0 when absent.
	AudioObjectType int
	// DecoderSpecificInfo is the raw AudioSpecificConfig.
	DecoderSpecificInfo []byte
}

// ParseEsds reads the object type indication and audio object type from
// the body of an esds box (after version and flags). ok is false when no
// DecoderConfigDescriptor is present.
func ParseEsds(p []byte) (info AudioSpecificInfo, ok bool) {
	es := decodeDescriptor(p)
	if es == nil || es.tag != tagESDescriptor {
		return info, false
	}
	dcd := es.child(tagDecoderConfigDescriptor)
	if dcd == nil {
		return info, false
	}
	info.ObjectTypeIndication = dcd.oti
	if dsi := dcd.child(tagDecoderSpecificInfo); dsi != nil && len(dsi.body) > 0 {
		info.DecoderSpecificInfo = dsi.body
		aot := int(dsi.body[0] >> 3)
		if aot == 31 && len(dsi.body) > 1 {
			// escape: six more bits follow
			aot = 32 + (int(dsi.body[0]&0x07)<<3 | int(dsi.body[1]>>5))
		}
		info.AudioObjectType = aot
	}
	return info, true
}
