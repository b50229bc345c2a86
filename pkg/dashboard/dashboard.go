// Package dashboard renders an interactive terminal view of a file's byte
// breakdown, memory report and scene shape.
package dashboard

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/harmonica"
	"github.com/taigrr/glbinfo/pkg/container"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/report"
	"github.com/taigrr/glbinfo/pkg/scene"
)

// Panel identifies a collapsible section.
type Panel int

const (
	PanelFile Panel = iota
	PanelMemory
	PanelScene
	numPanels
)

func (p Panel) String() string {
	switch p {
	case PanelFile:
		return "File Information"
	case PanelMemory:
		return "Memory Usage"
	case PanelScene:
		return "Scene Info"
	default:
		return fmt.Sprintf("Panel(%d)", int(p))
	}
}

// Action is the result of a key press.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionReload
)

var (
	colorTitle   = color.RGBA{R: 0, G: 200, B: 220, A: 255}
	colorLabel   = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	colorDim     = color.RGBA{R: 110, G: 110, B: 120, A: 255}
	colorError   = color.RGBA{R: 240, G: 80, B: 80, A: 255}
	categoryFill = [4]color.RGBA{
		{R: 0, G: 255, B: 128, A: 255},
		{R: 80, G: 160, B: 255, A: 255},
		{R: 255, G: 200, B: 60, A: 255},
		{R: 160, G: 160, B: 160, A: 255},
	}
)

// bar animates one category's share of the file toward its target percent.
type bar struct {
	pos, vel, target float64
	spring           harmonica.Spring
}

func (b *bar) update() {
	b.pos, b.vel = b.spring.Update(b.pos, b.vel, b.target)
	if math.Abs(b.pos-b.target) < 0.01 && math.Abs(b.vel) < 0.01 {
		b.pos, b.vel = b.target, 0
	}
}

func (b *bar) settled() bool {
	return b.pos == b.target && b.vel == 0
}

// Model holds the dashboard state. It is safe for concurrent use: results
// arrive from session callbacks while the UI loop renders.
type Model struct {
	mu        sync.Mutex
	path      string
	breakdown *container.ByteBreakdown
	memory    *memprof.MemoryReport
	stats     *scene.Stats
	err       error
	collapsed [numPanels]bool
	bars      [4]bar
}

// New creates a model for path. fps sets the animation step.
func New(path string, fps int) *Model {
	m := &Model{path: path}
	for i := range m.bars {
		// Frequency 6, damping 1: critically damped, no overshoot
		m.bars[i].spring = harmonica.NewSpring(harmonica.FPS(max(fps, 1)), 6.0, 1.0)
	}
	return m
}

// Reset clears results for a new load of path.
func (m *Model) Reset(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = path
	m.breakdown = nil
	m.memory = nil
	m.stats = nil
	m.err = nil
}

// SetBreakdown stores b and retargets the category bars.
func (m *Model) SetBreakdown(b container.ByteBreakdown) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakdown = &b
	m.err = nil
	for i, v := range categoryValues(b) {
		m.bars[i].target = math.Max(0, math.Min(100, report.Percent(v, b.TotalSize)))
	}
}

// SetMemory stores the memory report and scene stats.
func (m *Model) SetMemory(r memprof.MemoryReport, st scene.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memory = &r
	m.stats = &st
}

// SetError shows err in place of the pending results.
func (m *Model) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Toggle collapses or expands p.
func (m *Model) Toggle(p Panel) {
	if p < 0 || p >= numPanels {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collapsed[p] = !m.collapsed[p]
}

// isCollapsed reports whether p is collapsed.
func (m *Model) isCollapsed(p Panel) bool {
	if p < 0 || p >= numPanels {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collapsed[p]
}

// Key applies a named key press.
func (m *Model) Key(name string) Action {
	switch name {
	case "1":
		m.Toggle(PanelFile)
	case "2":
		m.Toggle(PanelMemory)
	case "3":
		m.Toggle(PanelScene)
	case "r":
		return ActionReload
	case "q", "escape", "esc", "ctrl+c":
		return ActionQuit
	}
	return ActionNone
}

// Keys lists the key names Key understands.
var Keys = []string{"1", "2", "3", "r", "q", "escape", "ctrl+c"}

// Update advances the bar animation one frame.
func (m *Model) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bars {
		m.bars[i].update()
	}
}

// animating reports whether any bar is still moving.
func (m *Model) animating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bars {
		if !m.bars[i].settled() {
			return true
		}
	}
	return false
}

// Render lays the current state out on a w by h canvas.
func (m *Model) Render(w, h int) *Canvas {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := NewCanvas(w, h)
	y := 0
	x := c.Text(1, y, "glbinfo", colorTitle)
	c.Text(x+2, y, filepath.Base(m.path), colorLabel)
	y += 2

	if m.err != nil {
		c.Text(1, y, "Error: "+m.err.Error(), colorError)
		y += 2
	}

	y = m.panel(c, y, PanelFile, m.breakdown != nil, m.fileRows)
	y = m.panel(c, y, PanelMemory, m.memory != nil, m.memoryRows)
	m.panel(c, y, PanelScene, m.stats != nil, m.sceneRows)

	c.Text(1, h-1, "[1] file  [2] memory  [3] scene  [r] reload  [q] quit", colorDim)
	return c
}

// panel draws a section header and, when expanded, its body.
func (m *Model) panel(c *Canvas, y int, p Panel, ready bool, body func(*Canvas, int) int) int {
	marker := "▾ "
	if m.collapsed[p] {
		marker = "▸ "
	}
	c.Text(1, y, marker+p.String(), colorTitle)
	y++
	switch {
	case m.collapsed[p]:
	case !ready && m.err == nil:
		c.Text(3, y, "computing...", colorDim)
		y++
	case ready:
		y = body(c, y)
	}
	return y + 1
}

func (m *Model) fileRows(c *Canvas, y int) int {
	b := *m.breakdown
	c.Text(3, y, "Total File Size  "+report.FormatUint(b.TotalSize), colorLabel)
	y++

	barWidth := max(c.Width-44, 10)
	for i, row := range report.FileRows(b) {
		x := c.Text(3, y, fmt.Sprintf("%-11s", row.Label), colorLabel)
		filled := int(math.Round(m.bars[i].pos / 100 * float64(barWidth)))
		filled = min(max(filled, 0), barWidth)
		x = c.Repeat(x+1, y, "█", filled, categoryFill[i])
		x = c.Repeat(x, y, "░", barWidth-filled, colorDim)
		c.Text(x+1, y, row.Value, colorLabel)
		y++
	}
	if b.SkippedRefs > 0 {
		c.Text(3, y, fmt.Sprintf("%d out-of-range references skipped", b.SkippedRefs), colorDim)
		y++
	}
	return y
}

func (m *Model) memoryRows(c *Canvas, y int) int {
	r := *m.memory
	line := func(indent int, label, value string) {
		x := c.Text(indent, y, fmt.Sprintf("%-11s", label), colorLabel)
		c.Text(x+1, y, value, colorLabel)
		y++
	}

	line(3, "Total", report.FormatUint(r.TotalMemory))
	c.Text(3, y, "Geometry ("+report.FormatUint(r.GeometryTotal)+")", colorTitle)
	y++
	for _, row := range report.GeometryRows(r) {
		line(5, row.Label, row.Value)
	}
	c.Text(3, y, "Textures ("+report.FormatUint(r.TextureTotal)+")", colorTitle)
	y++
	line(5, "Count", report.FormatCount(uint64(r.TextureCount)))
	c.Text(3, y, "Materials ("+report.FormatUint(r.MaterialTotal)+")", colorTitle)
	y++
	line(5, "Count", report.FormatCount(uint64(r.MaterialCount)))
	if r.SkippedMeshes > 0 {
		c.Text(3, y, fmt.Sprintf("%d malformed meshes skipped", r.SkippedMeshes), colorDim)
		y++
	}
	return y
}

func (m *Model) sceneRows(c *Canvas, y int) int {
	for _, row := range report.SceneRows(*m.stats) {
		x := c.Text(3, y, fmt.Sprintf("%-11s", row.Label), colorLabel)
		c.Text(x+1, y, row.Value, colorLabel)
		y++
	}
	return y
}

func categoryValues(b container.ByteBreakdown) [4]int64 {
	return [4]int64{int64(b.Geometry), int64(b.Texture), int64(b.Animation), b.Others}
}
