package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taigrr/glbinfo/pkg/config"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/report"
)

// writeTriangle saves a GLB with one indexed triangle instanced twice.
func writeTriangle(t *testing.T) string {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	idx := modeler.WriteIndices(doc, []uint16{0, 1, 2})
	doc.Meshes = []*gltf.Mesh{{Name: "tri", Primitives: []*gltf.Primitive{{
		Indices:    gltf.Index(idx),
		Attributes: map[string]int{gltf.POSITION: pos},
	}}}}
	doc.Nodes = []*gltf.Node{
		{Name: "a", Mesh: gltf.Index(0)},
		{Name: "b", Mesh: gltf.Index(0)},
	}
	doc.Scenes = []*gltf.Scene{{Nodes: []int{0, 1}}}
	doc.Scene = gltf.Index(0)

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	require.NoError(t, enc.Encode(doc))

	path := filepath.Join(t.TempDir(), "tri.glb")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func newHandlers() *handlers {
	return &handlers{cfg: config.Default(), profiler: memprof.NewProfiler(memprof.Options{})}
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestNewRegistersTools(t *testing.T) {
	assert.NotNil(t, New(config.Default(), "test"))
}

func TestAnalyzeJSON(t *testing.T) {
	path := writeTriangle(t)
	h := newHandlers()

	res, err := h.analyze(context.Background(), call(map[string]interface{}{
		"path":          path,
		"output_format": "json",
	}))
	require.NoError(t, err)

	var s report.Summary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &s))
	require.NotNil(t, s.Breakdown)
	assert.Equal(t, path, s.Path)
	// 36 position bytes and 6 index bytes in bufferViews targeted at vertex
	// and index buffers.
	assert.Equal(t, uint64(42), s.Breakdown.Geometry)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(fi.Size()), s.Breakdown.TotalSize)
	assert.Nil(t, s.Memory)
}

func TestAnalyzeFileURIDefaultsToConfigFormat(t *testing.T) {
	path := writeTriangle(t)
	h := newHandlers()
	h.cfg.Format = "markdown"

	res, err := h.analyze(context.Background(), call(map[string]interface{}{
		"path": "file://" + path,
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "## File Information")
}

func TestAnalyzeErrors(t *testing.T) {
	h := newHandlers()
	ctx := context.Background()

	_, err := h.analyze(ctx, call(map[string]interface{}{}))
	assert.ErrorContains(t, err, "path")

	_, err = h.analyze(ctx, call(map[string]interface{}{"path": "https://example.com/a.glb"}))
	assert.ErrorContains(t, err, "unsupported")

	_, err = h.analyze(ctx, call(map[string]interface{}{"path": writeTriangle(t), "output_format": "xml"}))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.glb")
	require.NoError(t, os.WriteFile(bad, []byte("this is not a binary gltf"), 0o600))
	_, err = h.analyze(ctx, call(map[string]interface{}{"path": bad}))
	assert.Error(t, err)
}

func TestProfileDeduplicatesInstances(t *testing.T) {
	path := writeTriangle(t)
	h := newHandlers()

	res, err := h.profile(context.Background(), call(map[string]interface{}{
		"path":          path,
		"output_format": "json",
	}))
	require.NoError(t, err)

	var s report.Summary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &s))
	require.NotNil(t, s.Memory)
	require.NotNil(t, s.Scene)
	assert.Nil(t, s.Breakdown)

	m := s.Memory
	assert.Equal(t, uint64(42), m.GeometryTotal, "both nodes share one geometry")
	assert.Equal(t, uint32(1), m.MaterialCount, "both primitives share the default material")
	assert.Equal(t, uint64(1024), m.MaterialTotal)
	assert.Equal(t, uint64(42+1024), m.TotalMemory)
	assert.Equal(t, 2, s.Scene.MeshNodes)
	assert.Equal(t, 2, s.Scene.Triangles)
}

func TestProfileAllScenes(t *testing.T) {
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	doc.Meshes = []*gltf.Mesh{{Name: "tri", Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: pos},
	}}}}
	doc.Nodes = []*gltf.Node{{Name: "a", Mesh: gltf.Index(0)}, {Name: "b", Mesh: gltf.Index(0)}}
	doc.Scenes = []*gltf.Scene{{Nodes: []int{0}}, {Nodes: []int{1}}}
	doc.Scene = gltf.Index(0)
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	require.NoError(t, enc.Encode(doc))
	path := filepath.Join(t.TempDir(), "scenes.glb")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	h := newHandlers()
	meshNodes := func(args map[string]interface{}) int {
		args["path"] = path
		args["output_format"] = "json"
		res, err := h.profile(context.Background(), call(args))
		require.NoError(t, err)
		var s report.Summary
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &s))
		return s.Scene.MeshNodes
	}

	assert.Equal(t, 1, meshNodes(map[string]interface{}{}))
	assert.Equal(t, 2, meshNodes(map[string]interface{}{"all_scenes": true}))

	h.cfg.AllScenes = true
	assert.Equal(t, 2, meshNodes(map[string]interface{}{}), "config default applies")
	assert.Equal(t, 1, meshNodes(map[string]interface{}{"all_scenes": false}))
}

func TestProfileTextTopN(t *testing.T) {
	h := newHandlers()
	res, err := h.profile(context.Background(), call(map[string]interface{}{
		"path":          writeTriangle(t),
		"output_format": "text",
		"top_n":         float64(1),
	}))
	require.NoError(t, err)

	text := resultText(t, res)
	assert.Contains(t, text, "Memory Usage")
	assert.Contains(t, text, "1 KB  material/default")
	assert.NotContains(t, text, "geometry/")
}

func TestProfileUsesConfiguredOverhead(t *testing.T) {
	cfg := config.Default()
	cfg.MaterialOverhead = 100
	h := &handlers{cfg: cfg, profiler: memprof.NewProfiler(memprof.Options{MaterialOverhead: cfg.MaterialOverhead})}

	res, err := h.profile(context.Background(), call(map[string]interface{}{
		"path":          writeTriangle(t),
		"output_format": "json",
	}))
	require.NoError(t, err)

	var s report.Summary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &s))
	assert.Equal(t, uint64(100), s.Memory.MaterialTotal)
}

func TestExportWritesProfile(t *testing.T) {
	h := newHandlers()
	out := filepath.Join(t.TempDir(), "scene.pb.gz")

	res, err := h.export(context.Background(), call(map[string]interface{}{
		"path":        writeTriangle(t),
		"output_path": out,
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "go tool pprof -top "+out)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	p, err := profile.Parse(f)
	require.NoError(t, err)
	assert.Len(t, p.Sample, 2, "one geometry and one material")
}

func TestExportRequiresOutput(t *testing.T) {
	h := newHandlers()
	_, err := h.export(context.Background(), call(map[string]interface{}{"path": writeTriangle(t)}))
	assert.ErrorContains(t, err, "output_path")
}
