// Package container measures how the bytes of a binary glTF (GLB) file are
// distributed across geometry, texture, animation and everything else.
package container

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"os"

	"github.com/qmuntal/gltf"
)

// GLB envelope constants.
const (
	Magic   = 0x46546C67 // "glTF"
	Version = 2

	ChunkJSON = 0x4E4F534A // "JSON"
	ChunkBIN  = 0x004E4942 // "BIN\x00"

	headerSize      = 12
	chunkHeaderSize = 8
)

// Chunk describes one chunk header seen while walking the container.
type Chunk struct {
	Offset uint64 `json:"offset" yaml:"offset"`
	Type   uint32 `json:"type" yaml:"type"`
	Length uint64 `json:"length" yaml:"length"`
}

// TypeName returns the four character tag of the chunk, or its hex value for
// unknown tags.
func (c Chunk) TypeName() string {
	switch c.Type {
	case ChunkJSON:
		return "JSON"
	case ChunkBIN:
		return "BIN"
	default:
		return fmt.Sprintf("0x%08X", c.Type)
	}
}

// ByteBreakdown is the per-category byte count of a container.
// Geometry+Texture+Animation+Others always equals TotalSize; Others goes
// negative when a bufferView is claimed by more than one category.
type ByteBreakdown struct {
	TotalSize uint64 `json:"totalSize" yaml:"totalSize"`
	Geometry  uint64 `json:"geometry" yaml:"geometry"`
	Texture   uint64 `json:"texture" yaml:"texture"`
	Animation uint64 `json:"animation" yaml:"animation"`
	Others    int64  `json:"others" yaml:"others"`

	Chunks      []Chunk `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	SkippedRefs int     `json:"skippedRefs,omitempty" yaml:"skippedRefs,omitempty"`
}

// IsGLB reports whether data starts with a version 2 GLB header.
func IsGLB(data []byte) bool {
	if len(data) < headerSize {
		return false
	}
	return binary.LittleEndian.Uint32(data[0:4]) == Magic &&
		binary.LittleEndian.Uint32(data[4:8]) == Version
}

// AnalyzeFile reads path and analyzes its contents.
func AnalyzeFile(path string) (ByteBreakdown, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ByteBreakdown{}, fmt.Errorf("read container: %w", err)
	}
	return Analyze(data)
}

// Analyze walks the GLB envelope in data and classifies the byte ranges the
// JSON chunk declares. It never returns a partial breakdown: any envelope or
// JSON failure aborts the whole pass.
func Analyze(data []byte) (ByteBreakdown, error) {
	if len(data) < headerSize {
		return ByteBreakdown{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, headerSize, len(data))
	}

	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != Magic {
		return ByteBreakdown{}, fmt.Errorf("%w: got 0x%08X", ErrFormat, magic)
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version != Version {
		return ByteBreakdown{}, fmt.Errorf("%w: got %d", ErrVersion, version)
	}

	total := uint64(binary.LittleEndian.Uint32(data[8:12]))
	size := uint64(len(data))
	b := ByteBreakdown{TotalSize: total}

	// Chunk lengths are trusted; only reads past the buffer are rejected.
	for offset := uint64(headerSize); offset < total; {
		if offset+chunkHeaderSize > size {
			return ByteBreakdown{}, fmt.Errorf("%w: chunk header at offset %d", ErrTruncated, offset)
		}
		n := uint64(binary.LittleEndian.Uint32(data[offset:]))
		typ := binary.LittleEndian.Uint32(data[offset+4:])
		b.Chunks = append(b.Chunks, Chunk{Offset: offset, Type: typ, Length: n})

		if typ == ChunkJSON {
			start := offset + chunkHeaderSize
			end := start + n
			if end > size {
				return ByteBreakdown{}, fmt.Errorf("%w: JSON chunk at offset %d declares %d bytes", ErrTruncated, offset, n)
			}
			var doc document
			if err := json.Unmarshal(data[start:end], &doc); err != nil {
				return ByteBreakdown{}, &StructuredDataError{Offset: offset, Err: err}
			}
			if err := b.add(&doc); err != nil {
				return ByteBreakdown{}, &StructuredDataError{Offset: offset, Err: err}
			}
		}

		offset += chunkHeaderSize + n
	}

	sum, err := addBytes(b.Geometry, b.Texture, b.Animation)
	if err != nil {
		return ByteBreakdown{}, err
	}
	b.Others = int64(total) - int64(sum)
	return b, nil
}

// add folds the categories of one JSON chunk into b.
func (b *ByteBreakdown) add(doc *document) error {
	geometry, texture, animation, skipped, err := doc.categorize()
	if err != nil {
		return err
	}
	if b.Geometry, err = addBytes(b.Geometry, geometry); err != nil {
		return err
	}
	if b.Texture, err = addBytes(b.Texture, texture); err != nil {
		return err
	}
	if b.Animation, err = addBytes(b.Animation, animation); err != nil {
		return err
	}
	b.SkippedRefs += skipped
	return nil
}

// addBytes sums vs, failing once the total no longer fits in an int64.
func addBytes(vs ...uint64) (uint64, error) {
	var sum uint64
	for _, v := range vs {
		s, carry := bits.Add64(sum, v, 0)
		if carry != 0 || s > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, sum, v)
		}
		sum = s
	}
	return sum, nil
}

// document is the subset of the glTF JSON the breakdown needs.
type document struct {
	BufferViews []bufferView `json:"bufferViews"`
	Images      []reference  `json:"images"`
	Accessors   []reference  `json:"accessors"`
	Animations  []animation  `json:"animations"`
}

type bufferView struct {
	ByteLength uint64      `json:"byteLength"`
	Target     gltf.Target `json:"target"`
}

// reference is an image or accessor; both only matter for the bufferView
// they point at.
type reference struct {
	BufferView *int `json:"bufferView"`
}

type animation struct {
	Channels []channel `json:"channels"`
}

type channel struct {
	Sampler *int `json:"sampler"`
}

// categorize sums the three measured categories. Each category is computed
// independently, so a bufferView referenced from two places counts twice.
func (d *document) categorize() (geometry, texture, animation uint64, skipped int, err error) {
	if geometry, err = d.geometryBytes(); err != nil {
		return 0, 0, 0, 0, err
	}

	n, s, err := d.textureBytes()
	if err != nil {
		return 0, 0, 0, 0, err
	}
	texture, skipped = n, skipped+s

	if n, s, err = d.animationBytes(); err != nil {
		return 0, 0, 0, 0, err
	}
	animation, skipped = n, skipped+s
	return geometry, texture, animation, skipped, nil
}

func (d *document) geometryBytes() (uint64, error) {
	var sum uint64
	for _, v := range d.BufferViews {
		if v.Target != gltf.TargetArrayBuffer && v.Target != gltf.TargetElementArrayBuffer {
			continue
		}
		var err error
		if sum, err = addBytes(sum, v.ByteLength); err != nil {
			return 0, err
		}
	}
	return sum, nil
}

func (d *document) textureBytes() (uint64, int, error) {
	var sum uint64
	skipped := 0
	for _, img := range d.Images {
		if img.BufferView == nil {
			continue
		}
		v, ok := d.bufferView(*img.BufferView)
		if !ok {
			skipped++
			continue
		}
		var err error
		if sum, err = addBytes(sum, v.ByteLength); err != nil {
			return 0, 0, err
		}
	}
	return sum, skipped, nil
}

// animationBytes resolves each channel's sampler as an accessor index, then
// the accessor's bufferView.
func (d *document) animationBytes() (uint64, int, error) {
	var sum uint64
	skipped := 0
	for _, anim := range d.Animations {
		for _, ch := range anim.Channels {
			if ch.Sampler == nil {
				continue
			}
			idx := *ch.Sampler
			if idx < 0 || idx >= len(d.Accessors) {
				skipped++
				continue
			}
			acc := d.Accessors[idx]
			if acc.BufferView == nil {
				continue
			}
			v, ok := d.bufferView(*acc.BufferView)
			if !ok {
				skipped++
				continue
			}
			var err error
			if sum, err = addBytes(sum, v.ByteLength); err != nil {
				return 0, 0, err
			}
		}
	}
	return sum, skipped, nil
}

func (d *document) bufferView(i int) (bufferView, bool) {
	if i < 0 || i >= len(d.BufferViews) {
		return bufferView{}, false
	}
	return d.BufferViews[i], true
}
