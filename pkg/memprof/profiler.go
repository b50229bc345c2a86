// Package memprof computes the runtime memory footprint of a decoded scene,
// counting every shared geometry, material and texture exactly once.
package memprof

import (
	"log/slog"

	"github.com/taigrr/glbinfo/pkg/scene"
)

// DefaultMaterialOverhead is the fixed cost charged per distinct material.
const DefaultMaterialOverhead = 1024

// Resource kinds.
const (
	KindGeometry = "geometry"
	KindMaterial = "material"
	KindTexture  = "texture"
)

// Resource is one distinct object that contributed to a report.
type Resource struct {
	Kind  string `json:"kind" yaml:"kind"`
	Name  string `json:"name" yaml:"name"`
	Bytes uint64 `json:"bytes" yaml:"bytes"`
}

// MemoryReport is the deduplicated memory footprint of a scene.
type MemoryReport struct {
	GeometryTotal uint64 `json:"geometryTotal" yaml:"geometryTotal"`
	TextureTotal  uint64 `json:"textureTotal" yaml:"textureTotal"`
	MaterialTotal uint64 `json:"materialTotal" yaml:"materialTotal"`
	TotalMemory   uint64 `json:"totalMemory" yaml:"totalMemory"`

	VertexCount  uint64 `json:"vertexCount" yaml:"vertexCount"`
	PolygonCount uint64 `json:"polygonCount" yaml:"polygonCount"`

	IndexBytes   uint64 `json:"indexBytes" yaml:"indexBytes"`
	UVBytes      uint64 `json:"uvBytes" yaml:"uvBytes"`
	NormalBytes  uint64 `json:"normalBytes" yaml:"normalBytes"`
	TangentBytes uint64 `json:"tangentBytes" yaml:"tangentBytes"`

	AttributeCount uint32 `json:"attributeCount" yaml:"attributeCount"`
	AttributeBytes uint64 `json:"attributeBytes" yaml:"attributeBytes"`
	TextureCount   uint32 `json:"textureCount" yaml:"textureCount"`
	TextureBytes   uint64 `json:"textureBytes" yaml:"textureBytes"`
	MaterialCount  uint32 `json:"materialCount" yaml:"materialCount"`
	MaterialBytes  uint64 `json:"materialBytes" yaml:"materialBytes"`

	SkippedMeshes uint32     `json:"skippedMeshes,omitempty" yaml:"skippedMeshes,omitempty"`
	Resources     []Resource `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Options configures a Profiler.
type Options struct {
	MaterialOverhead uint64 // Fixed bytes charged per material
}

// Profiler walks scene graphs and produces memory reports. It holds no state
// between calls and may be reused.
type Profiler struct {
	opts Options
}

// NewProfiler creates a profiler. A zero MaterialOverhead selects
// DefaultMaterialOverhead.
func NewProfiler(opts Options) *Profiler {
	if opts.MaterialOverhead == 0 {
		opts.MaterialOverhead = DefaultMaterialOverhead
	}
	return &Profiler{opts: opts}
}

// Profile profiles root with default options.
func Profile(root *scene.Node) MemoryReport {
	return NewProfiler(Options{}).Profile(root)
}

// Profile walks root depth-first and returns its memory report. The graph
// must not be mutated during the call.
func (p *Profiler) Profile(root *scene.Node) MemoryReport {
	w := &walk{
		opts:       p.opts,
		geometries: make(map[*scene.Geometry]struct{}),
		materials:  make(map[*scene.Material]struct{}),
		textures:   make(map[*scene.Texture]struct{}),
	}
	if root != nil {
		root.Traverse(w.visit)
	}
	w.report.TotalMemory = w.report.GeometryTotal + w.report.TextureTotal + w.report.MaterialTotal
	return w.report
}

// walk holds the identity-keyed dedup sets for one Profile call.
type walk struct {
	opts       Options
	report     MemoryReport
	geometries map[*scene.Geometry]struct{}
	materials  map[*scene.Material]struct{}
	textures   map[*scene.Texture]struct{}
}

func (w *walk) visit(n *scene.Node) {
	if n.Mesh == nil {
		return
	}
	if g := n.Mesh.Geometry; g != nil {
		w.addGeometry(g)
	} else {
		w.report.SkippedMeshes++
		slog.Debug("memprof: mesh has no geometry", "node", n.Name)
	}
	for _, m := range n.Mesh.Materials {
		if m != nil {
			w.addMaterial(m)
		}
	}
}

func (w *walk) addGeometry(g *scene.Geometry) {
	if _, ok := w.geometries[g]; ok {
		return
	}
	w.geometries[g] = struct{}{}

	r := &w.report
	mem := g.ByteLength()
	r.GeometryTotal += mem
	if pos := g.Attribute(scene.AttrPosition); pos != nil {
		r.VertexCount += uint64(pos.Count)
	}
	if g.Index != nil {
		// Indices are assumed to be 16-bit regardless of their real width.
		r.PolygonCount += uint64(g.Index.Count / 3)
		r.IndexBytes += uint64(g.Index.Count) * 2
	}
	r.AttributeCount += uint32(len(g.Attributes))
	r.AttributeBytes += mem

	if a := g.Attribute(scene.AttrUV); a != nil {
		r.UVBytes += a.ByteLength()
	}
	if a := g.Attribute(scene.AttrNormal); a != nil {
		r.NormalBytes += a.ByteLength()
	}
	if a := g.Attribute(scene.AttrTangent); a != nil {
		r.TangentBytes += a.ByteLength()
	}

	r.Resources = append(r.Resources, Resource{Kind: KindGeometry, Name: g.Name, Bytes: mem})
}

// addMaterial charges the material overhead plus every texture it is the
// first to reference. Those texture bytes land in both the material and the
// texture totals.
func (w *walk) addMaterial(m *scene.Material) {
	if _, ok := w.materials[m]; ok {
		return
	}
	w.materials[m] = struct{}{}

	mem := w.opts.MaterialOverhead
	for _, t := range m.Textures() {
		if t == nil {
			continue
		}
		if _, ok := w.textures[t]; ok {
			continue
		}
		w.textures[t] = struct{}{}

		tm := TextureMemory(t)
		mem += tm
		w.report.TextureTotal += tm
		w.report.TextureCount++
		w.report.TextureBytes += tm
		w.report.Resources = append(w.report.Resources, Resource{Kind: KindTexture, Name: t.Name, Bytes: tm})
	}

	w.report.MaterialTotal += mem
	w.report.MaterialCount++
	w.report.MaterialBytes += mem
	w.report.Resources = append(w.report.Resources, Resource{Kind: KindMaterial, Name: m.Name, Bytes: mem})
}

// TextureMemory estimates the bytes of an uncompressed texture: four bytes per
// pixel for RGBA, three otherwise. Mipmaps and GPU-side layouts are ignored.
func TextureMemory(t *scene.Texture) uint64 {
	if t == nil || t.Width <= 0 || t.Height <= 0 {
		return 0
	}
	bpp := uint64(3)
	if t.Format == scene.FormatRGBA {
		bpp = 4
	}
	return uint64(t.Width) * uint64(t.Height) * bpp
}
