package dashboard

import (
	"image/color"
	"strings"

	uv "github.com/charmbracelet/ultraviolet"
	"golang.org/x/text/width"
)

// Cell is one terminal cell. Width is 0 for the trailing half of a wide rune.
type Cell struct {
	Content string
	Width   int
	Fg      color.Color
}

var blank = Cell{Content: " ", Width: 1}

// Canvas is an off-screen grid of cells.
type Canvas struct {
	Width, Height int
	cells         []Cell
}

// NewCanvas creates a blank canvas.
func NewCanvas(w, h int) *Canvas {
	w, h = max(w, 0), max(h, 0)
	c := &Canvas{Width: w, Height: h, cells: make([]Cell, w*h)}
	for i := range c.cells {
		c.cells[i] = blank
	}
	return c
}

// At returns the cell at (x, y), or a blank cell outside the canvas.
func (c *Canvas) At(x, y int) Cell {
	if x < 0 || y < 0 || x >= c.Width || y >= c.Height {
		return blank
	}
	return c.cells[y*c.Width+x]
}

func (c *Canvas) set(x, y int, cell Cell) {
	if x < 0 || y < 0 || x >= c.Width || y >= c.Height {
		return
	}
	c.cells[y*c.Width+x] = cell
}

// Text writes s at (x, y) and returns the column after it. Output is clipped
// at the right edge; a wide rune that does not fit is dropped.
func (c *Canvas) Text(x, y int, s string, fg color.Color) int {
	for _, r := range s {
		w := runeWidth(r)
		if x+w > c.Width {
			break
		}
		c.set(x, y, Cell{Content: string(r), Width: w, Fg: fg})
		if w == 2 {
			c.set(x+1, y, Cell{})
		}
		x += w
	}
	return x
}

// Repeat writes n copies of s starting at (x, y).
func (c *Canvas) Repeat(x, y int, s string, n int, fg color.Color) int {
	if n <= 0 {
		return x
	}
	return c.Text(x, y, strings.Repeat(s, n), fg)
}

// line returns row y as plain text.
func (c *Canvas) line(y int) string {
	var sb strings.Builder
	for x := range c.Width {
		sb.WriteString(c.At(x, y).Content)
	}
	return sb.String()
}

// plain returns the canvas as text with trailing spaces trimmed.
func (c *Canvas) plain() string {
	lines := make([]string, c.Height)
	for y := range c.Height {
		lines[y] = strings.TrimRight(c.line(y), " ")
	}
	return strings.Join(lines, "\n")
}

// Draw copies the canvas onto scr inside area.
func (c *Canvas) Draw(scr uv.Screen, area uv.Rectangle) {
	for row := area.Min.Y; row < area.Max.Y; row++ {
		y := row - area.Min.Y
		if y >= c.Height {
			break
		}
		for col := area.Min.X; col < area.Max.X; col++ {
			x := col - area.Min.X
			if x >= c.Width {
				break
			}
			cell := c.At(x, y)
			if cell.Width == 0 {
				continue
			}
			scr.SetCell(col, row, &uv.Cell{
				Content: cell.Content,
				Width:   cell.Width,
				Style:   uv.Style{Fg: cell.Fg},
			})
		}
	}
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}
