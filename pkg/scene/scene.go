// Package scene provides the decoded scene graph glbinfo profiles: nodes that
// borrow shared geometries, materials and textures.
//
// Resources are identified by pointer. Two geometries with identical
// contents are still two geometries; a texture referenced by ten materials is
// one texture.
package scene

// Standard attribute names, following the naming runtime loaders give glTF
// vertex attributes.
const (
	AttrPosition = "position"
	AttrNormal   = "normal"
	AttrTangent  = "tangent"
	AttrUV       = "uv"
)

// Node is one element of the scene tree. A node with a Mesh is a mesh node.
type Node struct {
	Name     string
	Mesh     *Mesh
	Children []*Node
}

// NewNode creates a node with the given children.
func NewNode(name string, children ...*Node) *Node {
	return &Node{Name: name, Children: children}
}

// Add appends children to n and returns n.
func (n *Node) Add(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

// Traverse calls fn for n and every descendant in depth-first pre-order.
// A node reachable through more than one parent is visited once.
func (n *Node) Traverse(fn func(*Node)) {
	seen := make(map[*Node]struct{})
	var walk func(*Node)
	walk = func(cur *Node) {
		if cur == nil {
			return
		}
		if _, ok := seen[cur]; ok {
			return
		}
		seen[cur] = struct{}{}
		fn(cur)
		for _, c := range cur.Children {
			walk(c)
		}
	}
	walk(n)
}

// Mesh binds one geometry to one or more materials.
type Mesh struct {
	Geometry  *Geometry
	Materials []*Material
}

// NewMeshNode creates a mesh node.
func NewMeshNode(name string, g *Geometry, materials ...*Material) *Node {
	return &Node{Name: name, Mesh: &Mesh{Geometry: g, Materials: materials}}
}

// Geometry owns named attribute buffers and an optional index buffer.
type Geometry struct {
	Name       string
	Attributes map[string]*Attribute
	Index      *Attribute
}

// NewGeometry creates a geometry with no attributes.
func NewGeometry(name string) *Geometry {
	return &Geometry{Name: name, Attributes: make(map[string]*Attribute)}
}

// SetAttribute stores a under name and returns g.
func (g *Geometry) SetAttribute(name string, a *Attribute) *Geometry {
	if g.Attributes == nil {
		g.Attributes = make(map[string]*Attribute)
	}
	g.Attributes[name] = a
	return g
}

// Attribute returns the named attribute, or nil.
func (g *Geometry) Attribute(name string) *Attribute {
	return g.Attributes[name]
}

// ByteLength returns the bytes held by every attribute plus the index buffer.
func (g *Geometry) ByteLength() uint64 {
	var n uint64
	for _, a := range g.Attributes {
		n += a.ByteLength()
	}
	if g.Index != nil {
		n += g.Index.ByteLength()
	}
	return n
}

// Attribute is a typed buffer: Count elements of ItemSize components, each
// component ComponentSize bytes wide.
type Attribute struct {
	Count         int
	ItemSize      int
	ComponentSize int
}

// NewFloat32Attribute creates an attribute backed by float32 components.
func NewFloat32Attribute(count, itemSize int) *Attribute {
	return &Attribute{Count: count, ItemSize: itemSize, ComponentSize: 4}
}

// NewIndexAttribute creates a scalar index buffer with the given component width.
func NewIndexAttribute(count, componentSize int) *Attribute {
	return &Attribute{Count: count, ItemSize: 1, ComponentSize: componentSize}
}

// ByteLength returns the size of the backing array.
func (a *Attribute) ByteLength() uint64 {
	if a == nil || a.Count <= 0 || a.ItemSize <= 0 || a.ComponentSize <= 0 {
		return 0
	}
	return uint64(a.Count) * uint64(a.ItemSize) * uint64(a.ComponentSize)
}

// Material owns up to four texture slots. Slots may share a texture.
type Material struct {
	Name      string
	BaseColor *Texture
	Normal    *Texture
	Roughness *Texture
	Metalness *Texture
}

// Textures returns the slots in base color, normal, roughness, metalness
// order. Empty slots are nil.
func (m *Material) Textures() [4]*Texture {
	return [4]*Texture{m.BaseColor, m.Normal, m.Roughness, m.Metalness}
}

// PixelFormat is the in-memory layout of a texture's pixels.
type PixelFormat int

const (
	FormatRGBA PixelFormat = iota // Four 8-bit channels
	FormatRGB                     // Three 8-bit channels
)

func (f PixelFormat) String() string {
	switch f {
	case FormatRGB:
		return "RGB"
	default:
		return "RGBA"
	}
}

// Texture is a decoded image with known dimensions.
type Texture struct {
	Name   string
	Width  int
	Height int
	Format PixelFormat
}

// Stats summarizes the shape of a scene tree.
type Stats struct {
	Nodes     int `json:"nodes" yaml:"nodes"`
	MeshNodes int `json:"meshNodes" yaml:"meshNodes"`
	Triangles int `json:"triangles" yaml:"triangles"`
}

// CollectStats counts nodes and mesh nodes under root. Triangles counts every
// mesh node's draw, so instanced geometry counts once per instance.
func CollectStats(root *Node) Stats {
	var s Stats
	if root == nil {
		return s
	}
	root.Traverse(func(n *Node) {
		s.Nodes++
		if n.Mesh == nil || n.Mesh.Geometry == nil {
			return
		}
		s.MeshNodes++
		g := n.Mesh.Geometry
		switch {
		case g.Index != nil:
			s.Triangles += g.Index.Count / 3
		case g.Attribute(AttrPosition) != nil:
			s.Triangles += g.Attribute(AttrPosition).Count / 3
		}
	})
	return s
}
