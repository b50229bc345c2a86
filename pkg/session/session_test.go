package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taigrr/glbinfo/pkg/container"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/scene"
)

type recorder struct {
	mu         sync.Mutex
	breakdowns []uint64
	memory     map[uint64]memprof.MemoryReport
	stats      map[uint64]scene.Stats
	errs       map[uint64]error
}

func newRecorder() *recorder {
	return &recorder{
		memory: make(map[uint64]memprof.MemoryReport),
		stats:  make(map[uint64]scene.Stats),
		errs:   make(map[uint64]error),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnBreakdown: func(gen uint64, _ container.ByteBreakdown) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.breakdowns = append(r.breakdowns, gen)
		},
		OnMemory: func(gen uint64, m memprof.MemoryReport, st scene.Stats) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.memory[gen] = m
			r.stats[gen] = st
		},
		OnError: func(gen uint64, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs[gen] = err
		},
	}
}

// triangleGLB encodes a single indexed triangle.
func triangleGLB(t *testing.T) []byte {
	t.Helper()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	idx := modeler.WriteIndices(doc, []uint16{0, 1, 2})
	doc.Meshes = []*gltf.Mesh{{Name: "tri", Primitives: []*gltf.Primitive{{
		Indices:    gltf.Index(idx),
		Attributes: map[string]int{gltf.POSITION: pos},
	}}}}
	doc.Nodes = []*gltf.Node{{Name: "tri", Mesh: gltf.Index(0)}}
	doc.Scenes = []*gltf.Scene{{Nodes: []int{0}}}
	doc.Scene = gltf.Index(0)

	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	require.NoError(t, enc.Encode(doc))
	return buf.Bytes()
}

func TestLoadDeliversBothPhases(t *testing.T) {
	rec := newRecorder()
	s := New(rec.callbacks())

	gen, err := s.Load(context.Background(), triangleGLB(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)
	s.Wait()

	assert.Equal(t, []uint64{1}, rec.breakdowns)
	require.Contains(t, rec.memory, uint64(1))
	m := rec.memory[1]
	assert.Equal(t, uint64(3), m.VertexCount)
	assert.Equal(t, uint64(1), m.PolygonCount)
	assert.Equal(t, uint64(36+6), m.GeometryTotal)
	assert.Equal(t, scene.Stats{Nodes: 2, MeshNodes: 1, Triangles: 1}, rec.stats[1])
	assert.Empty(t, rec.errs)
}

func TestLoadParseErrorSkipsMemory(t *testing.T) {
	rec := newRecorder()
	var decoded atomic.Bool
	s := New(rec.callbacks(), WithDecoder(func(context.Context, []byte) (*scene.Node, error) {
		decoded.Store(true)
		return scene.NewNode("root"), nil
	}))

	gen, err := s.Load(context.Background(), []byte("definitely not a glb file"))
	require.ErrorIs(t, err, container.ErrFormat)
	s.Wait()

	assert.False(t, decoded.Load())
	assert.Empty(t, rec.breakdowns)
	assert.Empty(t, rec.memory)
	assert.ErrorIs(t, rec.errs[gen], container.ErrFormat)
}

func TestLoadDecodeErrorDelivered(t *testing.T) {
	rec := newRecorder()
	boom := errors.New("boom")
	s := New(rec.callbacks(), WithDecoder(func(context.Context, []byte) (*scene.Node, error) {
		return nil, boom
	}))

	gen, err := s.Load(context.Background(), triangleGLB(t))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Wait(), boom, "Wait reports the decode failure")

	assert.Equal(t, []uint64{gen}, rec.breakdowns)
	assert.Empty(t, rec.memory)
	assert.ErrorIs(t, rec.errs[gen], boom)
}

func TestStaleDecodeErrorNotReported(t *testing.T) {
	rec := newRecorder()
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	s := New(rec.callbacks(), WithDecoder(func(context.Context, []byte) (*scene.Node, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return nil, errors.New("late failure")
		}
		return scene.NewNode("empty"), nil
	}))

	data := triangleGLB(t)
	first, err := s.Load(context.Background(), data)
	require.NoError(t, err)
	<-started
	_, err = s.Load(context.Background(), data)
	require.NoError(t, err)

	close(release)
	assert.NoError(t, s.Wait())
	assert.NotContains(t, rec.errs, first)
}

func TestStaleMemoryReportDropped(t *testing.T) {
	rec := newRecorder()
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	// The first decode ignores cancellation and blocks until released, so its
	// result arrives after the second load has completed.
	s := New(rec.callbacks(), WithDecoder(func(_ context.Context, _ []byte) (*scene.Node, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			g := scene.NewGeometry("old").SetAttribute(scene.AttrPosition, scene.NewFloat32Attribute(99, 3))
			return scene.NewMeshNode("old", g), nil
		}
		g := scene.NewGeometry("new").SetAttribute(scene.AttrPosition, scene.NewFloat32Attribute(3, 3))
		return scene.NewMeshNode("new", g), nil
	}))

	data := triangleGLB(t)
	first, err := s.Load(context.Background(), data)
	require.NoError(t, err)
	<-started

	second, err := s.Load(context.Background(), data)
	require.NoError(t, err)
	require.Greater(t, second, first)

	close(release)
	s.Wait()

	assert.Equal(t, []uint64{first, second}, rec.breakdowns)
	assert.NotContains(t, rec.memory, first)
	require.Contains(t, rec.memory, second)
	assert.Equal(t, uint64(3), rec.memory[second].VertexCount)
	assert.Equal(t, second, s.Current())
}

func TestSupersededLoadIsCancelled(t *testing.T) {
	rec := newRecorder()
	started := make(chan struct{})
	var calls atomic.Int32

	s := New(rec.callbacks(), WithDecoder(func(ctx context.Context, _ []byte) (*scene.Node, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return scene.NewNode("empty"), nil
	}))

	data := triangleGLB(t)
	first, err := s.Load(context.Background(), data)
	require.NoError(t, err)
	<-started
	second, err := s.Load(context.Background(), data)
	require.NoError(t, err)
	s.Wait()

	assert.NotContains(t, rec.errs, first, "cancellation of a superseded load is not an error")
	assert.Contains(t, rec.memory, second)
}

func TestWithProfiler(t *testing.T) {
	rec := newRecorder()
	s := New(rec.callbacks(),
		WithProfiler(memprof.NewProfiler(memprof.Options{MaterialOverhead: 10})),
		WithDecoder(func(context.Context, []byte) (*scene.Node, error) {
			g := scene.NewGeometry("g").SetAttribute(scene.AttrPosition, scene.NewFloat32Attribute(3, 3))
			return scene.NewMeshNode("m", g, &scene.Material{Name: "plain"}), nil
		}),
	)

	gen, err := s.Load(context.Background(), triangleGLB(t))
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, uint64(10), rec.memory[gen].MaterialTotal)
}

func TestCloseCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	rec := newRecorder()
	s := New(rec.callbacks(), WithDecoder(func(ctx context.Context, _ []byte) (*scene.Node, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := s.Load(context.Background(), triangleGLB(t))
	require.NoError(t, err)
	<-started
	s.Close()

	assert.Empty(t, rec.memory)
	assert.Empty(t, rec.errs)
	assert.Zero(t, New(Callbacks{}).Current())
}

func TestLoadAfterClose(t *testing.T) {
	rec := newRecorder()
	s := New(rec.callbacks())
	s.Close()

	gen, err := s.Load(context.Background(), triangleGLB(t))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, gen)
	assert.Empty(t, rec.breakdowns)
	assert.NoError(t, s.Wait())
}

// Loads racing a Close either finish or fail with ErrClosed; run with -race.
func TestCloseDuringConcurrentLoads(t *testing.T) {
	s := New(Callbacks{}, WithDecoder(func(ctx context.Context, _ []byte) (*scene.Node, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	data := triangleGLB(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if _, err := s.Load(context.Background(), data); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
			}
		}()
	}
	s.Close()
	wg.Wait()

	_, err := s.Load(context.Background(), data)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWithLoader(t *testing.T) {
	rec := newRecorder()
	l := scene.NewLoader()
	l.AllScenes = true
	s := New(rec.callbacks(), WithLoader(l))

	gen, err := s.Load(context.Background(), triangleGLB(t))
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	assert.Equal(t, 1, rec.stats[gen].MeshNodes)
}
