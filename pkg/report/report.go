package report

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/muesli/termenv"
	"github.com/taigrr/glbinfo/pkg/container"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/scene"
	"gopkg.in/yaml.v3"
)

// Format selects an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Formats lists every supported format.
var Formats = []Format{FormatText, FormatMarkdown, FormatJSON, FormatYAML}

// ParseFormat validates s as a Format.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Summary groups everything known about one loaded file. Nil sections are
// omitted from the output.
type Summary struct {
	Path      string                   `json:"path,omitempty" yaml:"path,omitempty"`
	Breakdown *container.ByteBreakdown `json:"breakdown,omitempty" yaml:"breakdown,omitempty"`
	Memory    *memprof.MemoryReport    `json:"memory,omitempty" yaml:"memory,omitempty"`
	Scene     *scene.Stats             `json:"scene,omitempty" yaml:"scene,omitempty"`
}

// Options controls Write.
type Options struct {
	Format Format
	Color  bool // Style text headings with ANSI colors
	Top    int  // List the N largest resources in text and markdown
}

// Write renders s to w.
func Write(w io.Writer, s Summary, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return nil
	case FormatMarkdown:
		_, err := io.WriteString(w, markdown(s, opts.Top))
		return err
	case FormatText, "":
		out := termenv.NewOutput(w)
		if !opts.Color {
			out = termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii))
		}
		_, err := io.WriteString(w, text(s, out, opts.Top))
		return err
	default:
		return fmt.Errorf("unknown output format %q", opts.Format)
	}
}

// Row is one labelled line of a rendered section.
type Row struct {
	Label string
	Value string
}

// FileRows returns the File Information lines for b.
func FileRows(b container.ByteBreakdown) []Row {
	share := func(n uint64) string {
		return fmt.Sprintf("%s (%.1f%%)", FormatUint(n), percent(float64(n), b.TotalSize))
	}
	return []Row{
		{"Geometries", share(b.Geometry)},
		{"Textures", share(b.Texture)},
		{"Animations", share(b.Animation)},
		{"Others", fmt.Sprintf("%s (%.1f%%)", FormatBytes(b.Others), Percent(b.Others, b.TotalSize))},
	}
}

// GeometryRows returns the Geometry lines of the Memory Usage section.
func GeometryRows(m memprof.MemoryReport) []Row {
	return []Row{
		{"Vertices", FormatCount(m.VertexCount)},
		{"Polygons", FormatCount(m.PolygonCount)},
		{"Indices", FormatUint(m.IndexBytes)},
		{"UV Maps", FormatUint(m.UVBytes)},
		{"Normals", FormatUint(m.NormalBytes)},
		{"Tangents", FormatUint(m.TangentBytes)},
		{"Attributes", fmt.Sprintf("%d (%s)", m.AttributeCount, FormatUint(m.AttributeBytes))},
	}
}

// SceneRows returns the Scene Info lines for st.
func SceneRows(st scene.Stats) []Row {
	return []Row{
		{"Nodes", FormatCount(uint64(st.Nodes))},
		{"Mesh Nodes", FormatCount(uint64(st.MeshNodes))},
		{"Triangles", FormatCount(uint64(st.Triangles))},
	}
}

// Largest returns up to n resources of r, biggest first. Ties keep their
// traversal order.
func Largest(r memprof.MemoryReport, n int) []memprof.Resource {
	res := slices.Clone(r.Resources)
	slices.SortStableFunc(res, func(a, b memprof.Resource) int {
		return cmp.Compare(b.Bytes, a.Bytes)
	})
	return res[:max(0, min(n, len(res)))]
}

func resourceRows(r memprof.MemoryReport, n int) []Row {
	var rows []Row
	for _, res := range Largest(r, n) {
		name := res.Name
		if name == "" {
			name = "(unnamed)"
		}
		rows = append(rows, Row{Label: res.Kind + "/" + name, Value: FormatUint(res.Bytes)})
	}
	return rows
}

func text(s Summary, out *termenv.Output, top int) string {
	heading := func(h string) string {
		return out.String(h).Bold().Foreground(out.Color("6")).String()
	}
	sub := func(h string) string {
		return out.String(h).Bold().String()
	}
	rows := func(sb *strings.Builder, indent string, rs []Row) {
		for _, r := range rs {
			fmt.Fprintf(sb, "%s%-11s %s\n", indent, r.Label+":", r.Value)
		}
	}

	var sb strings.Builder
	if b := s.Breakdown; b != nil {
		title := "File Information"
		if s.Path != "" {
			title += ": " + s.Path
		}
		sb.WriteString(heading(title) + "\n")
		fmt.Fprintf(&sb, "  Total File Size: %s\n", FormatUint(b.TotalSize))
		sb.WriteString("  " + sub("Components") + "\n")
		rows(&sb, "    ", FileRows(*b))
		if b.SkippedRefs > 0 {
			fmt.Fprintf(&sb, "  Skipped references: %d\n", b.SkippedRefs)
		}
		if len(b.Chunks) > 0 {
			sb.WriteString("  " + sub("Chunks") + "\n")
			for _, c := range b.Chunks {
				fmt.Fprintf(&sb, "    %-11s %s at offset %d\n", c.TypeName()+":", FormatUint(c.Length), c.Offset)
			}
		}
	}

	if m := s.Memory; m != nil {
		sb.WriteString(heading("Memory Usage") + "\n")
		fmt.Fprintf(&sb, "  Total Memory: %s\n", FormatUint(m.TotalMemory))
		sb.WriteString("  " + sub(fmt.Sprintf("Geometry (%s)", FormatUint(m.GeometryTotal))) + "\n")
		rows(&sb, "    ", GeometryRows(*m))
		sb.WriteString("  " + sub(fmt.Sprintf("Textures (%s)", FormatUint(m.TextureTotal))) + "\n")
		rows(&sb, "    ", []Row{{"Count", FormatCount(uint64(m.TextureCount))}, {"Memory", FormatUint(m.TextureBytes)}})
		sb.WriteString("  " + sub(fmt.Sprintf("Materials (%s)", FormatUint(m.MaterialTotal))) + "\n")
		rows(&sb, "    ", []Row{{"Count", FormatCount(uint64(m.MaterialCount))}, {"Memory", FormatUint(m.MaterialBytes)}})
		if m.SkippedMeshes > 0 {
			fmt.Fprintf(&sb, "  Skipped meshes: %d\n", m.SkippedMeshes)
		}
		if top > 0 && len(m.Resources) > 0 {
			sb.WriteString("  " + sub("Largest Resources") + "\n")
			for _, r := range resourceRows(*m, top) {
				fmt.Fprintf(&sb, "    %s  %s\n", r.Value, r.Label)
			}
		}
	}

	if st := s.Scene; st != nil {
		sb.WriteString(heading("Scene Info") + "\n")
		rows(&sb, "  ", SceneRows(*st))
	}
	return sb.String()
}

func markdown(s Summary, top int) string {
	var sb strings.Builder
	table := func(rs []Row) {
		sb.WriteString("| Item | Value |\n|---|---|\n")
		for _, r := range rs {
			fmt.Fprintf(&sb, "| %s | %s |\n", r.Label, r.Value)
		}
		sb.WriteString("\n")
	}

	if b := s.Breakdown; b != nil {
		sb.WriteString("## File Information\n\n")
		if s.Path != "" {
			fmt.Fprintf(&sb, "`%s`\n\n", s.Path)
		}
		fmt.Fprintf(&sb, "**Total File Size:** %s\n\n", FormatUint(b.TotalSize))
		table(FileRows(*b))
	}
	if m := s.Memory; m != nil {
		sb.WriteString("## Memory Usage\n\n")
		fmt.Fprintf(&sb, "**Total Memory:** %s\n\n", FormatUint(m.TotalMemory))
		fmt.Fprintf(&sb, "### Geometry (%s)\n\n", FormatUint(m.GeometryTotal))
		table(GeometryRows(*m))
		fmt.Fprintf(&sb, "### Textures (%s)\n\n", FormatUint(m.TextureTotal))
		table([]Row{{"Count", FormatCount(uint64(m.TextureCount))}, {"Memory", FormatUint(m.TextureBytes)}})
		fmt.Fprintf(&sb, "### Materials (%s)\n\n", FormatUint(m.MaterialTotal))
		table([]Row{{"Count", FormatCount(uint64(m.MaterialCount))}, {"Memory", FormatUint(m.MaterialBytes)}})
		if top > 0 && len(m.Resources) > 0 {
			sb.WriteString("### Largest Resources\n\n")
			table(resourceRows(*m, top))
		}
	}
	if st := s.Scene; st != nil {
		sb.WriteString("## Scene Info\n\n")
		table(SceneRows(*st))
	}
	return sb.String()
}
