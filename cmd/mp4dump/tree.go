package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	mp4 "github.com/tetsuo/atomparse"
	"github.com/tetsuo/atomparse/track"
	"gopkg.in/yaml.v3"
)

// BoxNode is a box in the tree structure.
type BoxNode struct {
	Type       string    `json:"type" yaml:"type"`
	Offset     int64     `json:"offset" yaml:"offset"`
	Size       uint64    `json:"size" yaml:"size"`
	Version    *uint8    `json:"version,omitempty" yaml:"version,omitempty"`
	Flags      *uint32   `json:"flags,omitempty" yaml:"flags,omitempty"`
	Info       []Field   `json:"info,omitempty" yaml:"info,omitempty"`
	DataLength *uint64   `json:"dataLength,omitempty" yaml:"dataLength,omitempty"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Children   []BoxNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// Field is one decoded box property. A slice keeps the output order stable.
type Field struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

func (n *BoxNode) add(key string, value any) {
	n.Info = append(n.Info, Field{Key: key, Value: value})
}

func newNode(b mp4.Box) BoxNode {
	size := b.Size
	if size == 0 {
		size = uint64(b.HeaderSize()) + b.DataSize()
	}
	return BoxNode{Type: b.Type.String(), Offset: b.Offset, Size: size}
}

// scanTree reads the top-level boxes of src. Only ftyp, moov and moof
// bodies are loaded.
func scanTree(src mp4.Source, cfg track.Config, log *slog.Logger) ([]BoxNode, error) {
	sc := mp4.NewScanner(src)
	sc.MaxBoxes = cfg.MaxTopLevelBoxes
	sc.MaxBodySize = cfg.MaxBodySize

	var root []BoxNode
	for sc.Next() {
		b := sc.Box()
		node := newNode(b)

		switch b.Type {
		case mp4.TypeFtyp, mp4.TypeStyp, mp4.TypeMoov, mp4.TypeMoof, mp4.TypeSidx:
			if _, err := sc.Load(); err != nil {
				return root, err
			}
			b = sc.Box()
			node = newNode(b)
			collectBoxInfo(&node, b)
			if mp4.IsContainerBox(b.Type) {
				node.Children = buildTree(b, log)
			}
		default:
			n := b.DataSize()
			node.DataLength = &n
		}
		root = append(root, node)
	}
	return root, sc.Err()
}

func buildTree(parent mp4.Box, log *slog.Logger) []BoxNode {
	var nodes []BoxNode
	for b, err := range mp4.Children(parent) {
		if err != nil {
			log.Warn("enumerate children", slog.Any("err", err))
			nodes = append(nodes, BoxNode{Type: b.Type.String(), Offset: b.Offset, Size: b.Size, Error: err.Error()})
			break
		}
		node := newNode(b)
		if mp4.IsFullBox(b.Type) {
			if v, f, _, err := b.Full(); err == nil {
				node.Version = &v
				node.Flags = &f
			}
		}
		collectBoxInfo(&node, b)

		switch {
		case mp4.IsContainerBox(b.Type):
			node.Children = buildTree(b, log)
		case b.Type == mp4.TypeStsd:
			node.Children = buildSampleEntries(b, log)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func buildSampleEntries(stsd mp4.Box, log *slog.Logger) []BoxNode {
	descs, err := mp4.DecodeStsd(stsd)
	if err != nil {
		log.Warn("sample descriptions", slog.Any("err", err))
	}
	if len(stsd.Data) < 8 {
		return nil
	}

	var nodes []BoxNode
	i := 0
	for b, err := range mp4.ChildrenAt(stsd.Data[8:], stsd.DataOffset()+8) {
		if err != nil {
			break
		}
		node := newNode(b)
		if i < len(descs) {
			d := descs[i]
			node.add("codec", d.Codec)
			switch {
			case d.IsVisual():
				node.add("width", d.Width)
				node.add("height", d.Height)
			case d.IsAudio():
				node.add("channelCount", d.ChannelCount)
				node.add("sampleSize", d.SampleSize)
				node.add("sampleRate", d.SampleRate)
			}
			if len(d.Config) > 0 {
				node.add("configLength", len(d.Config))
			}
		}
		i++
		nodes = append(nodes, node)
	}
	return nodes
}

func collectBoxInfo(node *BoxNode, b mp4.Box) {
	var err error
	switch b.Type {
	case mp4.TypeFtyp, mp4.TypeStyp:
		var f *mp4.FileType
		if f, err = mp4.DecodeFtyp(b); err == nil {
			node.add("brand", f.MajorBrand.String())
			node.add("version", f.MinorVersion)
			if len(f.CompatibleBrands) > 0 {
				compat := make([]string, len(f.CompatibleBrands))
				for i, c := range f.CompatibleBrands {
					compat[i] = c.String()
				}
				node.add("compatible", compat)
			}
		}

	case mp4.TypeMvhd:
		var h *mp4.MovieHeader
		if h, err = mp4.DecodeMvhd(b); err == nil {
			node.add("timescale", h.TimeScale)
			node.add("duration", h.Duration)
			node.add("created", h.CreationTime.Format("2006-01-02T15:04:05Z"))
			node.add("rate", h.Rate)
			node.add("volume", h.Volume)
			if h.Matrix != mp4.IdentityMatrix {
				node.add("matrix", h.Matrix)
			}
			node.add("nextTrackId", h.NextTrackID)
		}

	case mp4.TypeTkhd:
		var h *mp4.TrackHeader
		if h, err = mp4.DecodeTkhd(b); err == nil {
			node.add("trackId", h.TrackID)
			node.add("duration", h.Duration)
			node.add("width", h.Width)
			node.add("height", h.Height)
		}

	case mp4.TypeMdhd:
		var h *mp4.MediaHeader
		if h, err = mp4.DecodeMdhd(b); err == nil {
			node.add("timescale", h.TimeScale)
			node.add("duration", h.Duration)
			node.add("language", h.Language)
		}

	case mp4.TypeHdlr:
		var h *mp4.Handler
		if h, err = mp4.DecodeHdlr(b); err == nil {
			node.add("handlerType", h.Type.String())
			node.add("name", h.Name)
		}

	case mp4.TypeStsd, mp4.TypeDref, mp4.TypeElst:
		if _, _, p, ferr := b.Full(); ferr == nil && len(p) >= 4 {
			node.add("entries", binary.BigEndian.Uint32(p))
		}

	case mp4.TypeStsz:
		var sizes []uint32
		sizes, err = mp4.DecodeSampleSizes(b)
		node.add("entries", len(sizes))

	case mp4.TypeStco, mp4.TypeCo64:
		var offsets []uint64
		offsets, err = mp4.DecodeChunkOffsets(b)
		node.add("entries", len(offsets))

	case mp4.TypeStss:
		var numbers []uint32
		numbers, err = mp4.DecodeSyncSamples(b)
		node.add("entries", len(numbers))

	case mp4.TypeStts:
		var runs []mp4.RunEntry
		runs, err = mp4.DecodeTimeToSample(b)
		node.add("entries", len(runs))

	case mp4.TypeCtts:
		var runs []mp4.RunEntry
		runs, err = mp4.DecodeCompositionOffsets(b)
		node.add("entries", len(runs))

	case mp4.TypeStsc:
		var metas []mp4.ChunkMeta
		metas, err = mp4.DecodeStsc(b)
		node.add("entries", len(metas))

	case mp4.TypeTrex:
		var t *mp4.TrackExtends
		if t, err = mp4.DecodeTrex(b); err == nil {
			node.add("trackId", t.TrackID)
			node.add("defaultSampleDuration", t.DefaultSampleDuration)
		}

	case mp4.TypeMfhd:
		if _, _, p, ferr := b.Full(); ferr == nil && len(p) >= 4 {
			node.add("sequence", binary.BigEndian.Uint32(p))
		}

	case mp4.TypeTfhd:
		var h *mp4.FragmentHeader
		if h, err = mp4.DecodeTfhd(b); err == nil {
			node.add("trackId", h.TrackID)
			if h.HasBaseDataOffset() {
				node.add("baseDataOffset", h.BaseDataOffset)
			}
			if h.DefaultBaseIsMoof() {
				node.add("defaultBaseIsMoof", true)
			}
		}

	case mp4.TypeTfdt:
		var t uint64
		if t, err = mp4.DecodeTfdt(b); err == nil {
			node.add("baseMediaDecodeTime", t)
		}

	case mp4.TypeTrun:
		var t *mp4.Trun
		t, err = mp4.DecodeTrun(b)
		if t != nil {
			node.add("entries", len(t.Entries))
			if t.HasDataOffset() {
				node.add("dataOffset", t.DataOffset)
			}
		}

	case mp4.TypeVmhd, mp4.TypeSmhd:
		// nothing beyond version and flags

	default:
		if !mp4.IsContainerBox(b.Type) && len(b.Data) > 0 {
			n := uint64(len(b.Data))
			node.DataLength = &n
		}
	}
	if err != nil {
		node.Error = err.Error()
	}
}

// printTree prints the tree in the specified format.
func printTree(w io.Writer, nodes []BoxNode, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(nodes)
	}
	for _, node := range nodes {
		printNodeText(w, node, 0)
	}
	return nil
}

// printNodeText prints a single node in text format.
func printNodeText(w io.Writer, node BoxNode, depth int) {
	indent := strings.Repeat("  ", depth)

	fmt.Fprintf(w, "%s[%s] size=%d", indent, node.Type, node.Size)
	if node.Version != nil {
		fmt.Fprintf(w, " v=%d", *node.Version)
	}
	if node.Flags != nil {
		fmt.Fprintf(w, " flags=0x%06x", *node.Flags)
	}
	for _, f := range node.Info {
		switch v := f.Value.(type) {
		case string:
			if f.Key == "name" {
				fmt.Fprintf(w, " %s=%q", f.Key, v)
				continue
			}
			fmt.Fprintf(w, " %s=%s", f.Key, v)
		case []string:
			fmt.Fprintf(w, " %s=[%s]", f.Key, strings.Join(v, ","))
		default:
			fmt.Fprintf(w, " %s=%v", f.Key, v)
		}
	}
	if node.DataLength != nil {
		fmt.Fprintf(w, " dataLen=%d", *node.DataLength)
	}
	if node.Error != "" {
		fmt.Fprintf(w, " error=%q", node.Error)
	}
	fmt.Fprintln(w)

	for _, child := range node.Children {
		printNodeText(w, child, depth+1)
	}
}
