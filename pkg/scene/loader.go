package scene

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// attributeNames maps glTF attribute semantics to scene attribute names.
var attributeNames = map[string]string{
	gltf.POSITION:   AttrPosition,
	gltf.NORMAL:     AttrNormal,
	gltf.TANGENT:    AttrTangent,
	gltf.TEXCOORD_0: AttrUV,
	gltf.TEXCOORD_1: "uv1",
	gltf.COLOR_0:    "color",
	gltf.JOINTS_0:   "skinIndex",
	gltf.WEIGHTS_0:  "skinWeight",
}

// Loader decodes GLB data into a scene graph.
type Loader struct {
	// Options
	AllScenes bool // Load every scene instead of only the default one
}

// NewLoader creates a loader with default options.
func NewLoader() *Loader {
	return &Loader{}
}

// Load decodes GLB data with a default loader.
func Load(data []byte) (*Node, error) {
	return NewLoader().Load(data)
}

// LoadFile reads and decodes a GLB file with a default loader.
func LoadFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Load(data)
}

// Load decodes data and returns the root of the resulting scene. Resources
// are cached the way a runtime loader caches them: primitives with the same
// accessors share a geometry, material and texture indices map to one object
// each, and primitives without a material share a default material.
func (l *Loader) Load(data []byte) (*Node, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode gltf: %w", err)
	}

	b := &builder{
		doc:        doc,
		geometries: make(map[string]*Geometry),
		materials:  make(map[int]*Material),
		textures:   make(map[int]*Texture),
		building:   make(map[int]bool),
	}

	root := NewNode("scene")
	for _, idx := range l.rootNodes(doc) {
		if n := b.node(idx); n != nil {
			root.Add(n)
		}
	}
	return root, nil
}

// rootNodes returns the node indices to instantiate.
func (l *Loader) rootNodes(doc *gltf.Document) []int {
	if l.AllScenes {
		var roots []int
		for _, s := range doc.Scenes {
			roots = append(roots, s.Nodes...)
		}
		return roots
	}
	if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
		return doc.Scenes[*doc.Scene].Nodes
	}
	if len(doc.Scenes) > 0 {
		return doc.Scenes[0].Nodes
	}

	// No scenes: every node that is nobody's child is a root.
	isChild := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var roots []int
	for i := range doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

type builder struct {
	doc             *gltf.Document
	geometries      map[string]*Geometry
	materials       map[int]*Material
	textures        map[int]*Texture
	defaultMaterial *Material
	building        map[int]bool // nodes on the current path, for cycle detection
}

func (b *builder) node(idx int) *Node {
	if idx < 0 || idx >= len(b.doc.Nodes) {
		slog.Debug("scene: skipping node reference", "node", idx)
		return nil
	}
	if b.building[idx] {
		slog.Debug("scene: skipping node cycle", "node", idx)
		return nil
	}
	b.building[idx] = true
	defer delete(b.building, idx)

	gn := b.doc.Nodes[idx]
	n := NewNode(gn.Name)

	if gn.Mesh != nil {
		b.attachMesh(n, *gn.Mesh)
	}
	for _, c := range gn.Children {
		if child := b.node(c); child != nil {
			n.Add(child)
		}
	}
	return n
}

// attachMesh gives n the mesh's only primitive, or one child per primitive.
func (b *builder) attachMesh(n *Node, meshIdx int) {
	if meshIdx < 0 || meshIdx >= len(b.doc.Meshes) {
		slog.Debug("scene: skipping mesh reference", "mesh", meshIdx)
		return
	}
	m := b.doc.Meshes[meshIdx]

	var meshes []*Mesh
	for _, prim := range m.Primitives {
		if mesh := b.primitive(m.Name, prim); mesh != nil {
			meshes = append(meshes, mesh)
		}
	}

	if len(m.Primitives) == 1 && len(meshes) == 1 {
		n.Mesh = meshes[0]
		return
	}
	for i, mesh := range meshes {
		n.Add(&Node{Name: fmt.Sprintf("%s_%d", n.Name, i), Mesh: mesh})
	}
}

func (b *builder) primitive(meshName string, prim *gltf.Primitive) *Mesh {
	switch prim.Mode {
	case gltf.PrimitiveTriangles, gltf.PrimitiveTriangleStrip, gltf.PrimitiveTriangleFan:
	default:
		// Lines and points are not meshes
		return nil
	}
	return &Mesh{
		Geometry:  b.geometry(meshName, prim),
		Materials: []*Material{b.material(prim.Material)},
	}
}

// primitiveKey identifies a primitive by the accessors it reads.
func primitiveKey(prim *gltf.Primitive) string {
	names := make([]string, 0, len(prim.Attributes))
	for name := range prim.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	if prim.Indices != nil {
		sb.WriteString("indices:")
		sb.WriteString(strconv.Itoa(*prim.Indices))
	}
	for _, name := range names {
		sb.WriteString(";")
		sb.WriteString(name)
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(prim.Attributes[name]))
	}
	return sb.String()
}

func (b *builder) geometry(meshName string, prim *gltf.Primitive) *Geometry {
	key := primitiveKey(prim)
	if g, ok := b.geometries[key]; ok {
		return g
	}

	g := NewGeometry(meshName)
	for semantic, accIdx := range prim.Attributes {
		a := b.attribute(accIdx)
		if a == nil {
			slog.Debug("scene: skipping attribute", "mesh", meshName, "attribute", semantic, "accessor", accIdx)
			continue
		}
		name, ok := attributeNames[semantic]
		if !ok {
			name = strings.ToLower(semantic)
		}
		g.SetAttribute(name, a)
	}
	if prim.Indices != nil {
		g.Index = b.attribute(*prim.Indices)
	}

	b.geometries[key] = g
	return g
}

// attribute sizes an accessor the way a typed array backing it would be sized.
func (b *builder) attribute(accIdx int) *Attribute {
	if accIdx < 0 || accIdx >= len(b.doc.Accessors) {
		return nil
	}
	acc := b.doc.Accessors[accIdx]
	return &Attribute{
		Count:         acc.Count,
		ItemSize:      acc.Type.Components(),
		ComponentSize: acc.ComponentType.ByteSize(),
	}
}

func (b *builder) material(idx *int) *Material {
	if idx == nil || *idx < 0 || *idx >= len(b.doc.Materials) {
		if b.defaultMaterial == nil {
			b.defaultMaterial = &Material{Name: "default"}
		}
		return b.defaultMaterial
	}
	if m, ok := b.materials[*idx]; ok {
		return m
	}

	gm := b.doc.Materials[*idx]
	m := &Material{Name: gm.Name}
	if pbr := gm.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorTexture != nil {
			m.BaseColor = b.texture(pbr.BaseColorTexture.Index)
		}
		if pbr.MetallicRoughnessTexture != nil {
			// One image feeds both channels
			t := b.texture(pbr.MetallicRoughnessTexture.Index)
			m.Roughness = t
			m.Metalness = t
		}
	}
	if nt := gm.NormalTexture; nt != nil && nt.Index != nil {
		m.Normal = b.texture(*nt.Index)
	}

	b.materials[*idx] = m
	return m
}

func (b *builder) texture(idx int) *Texture {
	if t, ok := b.textures[idx]; ok {
		return t
	}
	if idx < 0 || idx >= len(b.doc.Textures) {
		slog.Debug("scene: skipping texture reference", "texture", idx)
		return nil
	}
	gt := b.doc.Textures[idx]
	if gt.Source == nil || *gt.Source < 0 || *gt.Source >= len(b.doc.Images) {
		slog.Debug("scene: texture has no usable source", "texture", idx)
		return nil
	}
	img := b.doc.Images[*gt.Source]

	t := &Texture{Name: gt.Name, Format: FormatRGBA}
	if t.Name == "" {
		t.Name = img.Name
	}
	data, err := b.imageData(img)
	if err != nil {
		slog.Debug("scene: reading image failed", "texture", idx, "err", err)
	} else if len(data) > 0 {
		t.Width, t.Height, t.Format = sizeImage(data, img.MimeType)
	}

	b.textures[idx] = t
	return t
}

func (b *builder) imageData(img *gltf.Image) ([]byte, error) {
	if img.BufferView != nil {
		if *img.BufferView < 0 || *img.BufferView >= len(b.doc.BufferViews) {
			return nil, fmt.Errorf("buffer view %d out of range", *img.BufferView)
		}
		return modeler.ReadBufferView(b.doc, b.doc.BufferViews[*img.BufferView])
	}
	if img.IsEmbeddedResource() {
		return img.MarshalData()
	}
	// External files cannot be resolved from an in-memory container
	return nil, nil
}

// sizeImage returns the image dimensions and the pixel format it decodes to.
// JPEG has no alpha channel; everything else decodes to four channels.
func sizeImage(data []byte, mimeType string) (int, int, PixelFormat) {
	format := FormatRGBA
	if filetype.Is(data, "jpg") || mimeType == "image/jpeg" {
		format = FormatRGB
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		slog.Debug("scene: unknown image encoding", "mimeType", mimeType, "err", err)
		return 0, 0, format
	}
	return cfg.Width, cfg.Height, format
}
