// Package mcpserver exposes the GLB analyses as Model Context Protocol tools
// over stdio.
package mcpserver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/go-homedir"
	"github.com/taigrr/glbinfo/pkg/config"
	"github.com/taigrr/glbinfo/pkg/container"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/report"
	"github.com/taigrr/glbinfo/pkg/scene"
)

// Tool names.
const (
	ToolAnalyze = "analyze_glb"
	ToolProfile = "profile_glb_memory"
	ToolExport  = "export_glb_pprof"
)

const defaultTopN = 10

type handlers struct {
	cfg      config.Config
	profiler *memprof.Profiler
}

// New builds an MCP server with the glbinfo tools registered.
func New(cfg config.Config, version string) *server.MCPServer {
	h := &handlers{
		cfg:      cfg,
		profiler: memprof.NewProfiler(memprof.Options{MaterialOverhead: cfg.MaterialOverhead}),
	}

	s := server.NewMCPServer(
		"glbinfo",
		version,
		server.WithLogging(),
		server.WithRecovery(),
	)

	formats := make([]string, len(report.Formats))
	for i, f := range report.Formats {
		formats[i] = string(f)
	}

	analyzeTool := mcp.NewTool(ToolAnalyze,
		mcp.WithDescription("Break a binary glTF (.glb) file down into geometry, texture, animation and other bytes."),
		mcp.WithString("path",
			mcp.Description("Local path or file:// URI of the .glb file."),
			mcp.Required(),
		),
		mcp.WithString("output_format",
			mcp.Description("Output format of the result."),
			mcp.DefaultString(cfg.Format),
			mcp.Enum(formats...),
		),
	)

	profileTool := mcp.NewTool(ToolProfile,
		mcp.WithDescription("Estimate the runtime memory of a .glb scene, counting shared geometries, materials and textures once."),
		mcp.WithString("path",
			mcp.Description("Local path or file:// URI of the .glb file."),
			mcp.Required(),
		),
		mcp.WithString("output_format",
			mcp.Description("Output format of the result."),
			mcp.DefaultString(cfg.Format),
			mcp.Enum(formats...),
		),
		mcp.WithNumber("top_n",
			mcp.Description("Number of largest resources to list in text and markdown output."),
			mcp.DefaultNumber(defaultTopN),
		),
		mcp.WithBoolean("all_scenes",
			mcp.Description("Profile every scene in the file instead of only the default one."),
			mcp.DefaultBool(cfg.AllScenes),
		),
	)

	exportTool := mcp.NewTool(ToolExport,
		mcp.WithDescription("Write the memory report of a .glb scene as a pprof heap profile for 'go tool pprof'."),
		mcp.WithString("path",
			mcp.Description("Local path or file:// URI of the .glb file."),
			mcp.Required(),
		),
		mcp.WithString("output_path",
			mcp.Description("Where to write the profile (.pb.gz)."),
			mcp.Required(),
		),
		mcp.WithBoolean("all_scenes",
			mcp.Description("Profile every scene in the file instead of only the default one."),
			mcp.DefaultBool(cfg.AllScenes),
		),
	)

	s.AddTool(analyzeTool, h.analyze)
	s.AddTool(profileTool, h.profile)
	s.AddTool(exportTool, h.export)
	return s
}

// Serve runs s on stdin and stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *handlers) analyze(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	path, err := pathArg(args, "path")
	if err != nil {
		return nil, err
	}
	format, err := h.formatArg(args)
	if err != nil {
		return nil, err
	}
	slog.Info("mcp: analyze", "path", path, "format", format)

	b, err := container.AnalyzeFile(path)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", path, err)
	}
	return render(report.Summary{Path: path, Breakdown: &b}, report.Options{Format: format})
}

func (h *handlers) profile(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	path, err := pathArg(args, "path")
	if err != nil {
		return nil, err
	}
	format, err := h.formatArg(args)
	if err != nil {
		return nil, err
	}
	topN := defaultTopN
	if v, ok := args["top_n"].(float64); ok {
		topN = max(int(v), 0)
	}
	slog.Info("mcp: profile", "path", path, "format", format, "top_n", topN)

	r, st, err := h.memory(path, h.allScenesArg(args))
	if err != nil {
		return nil, err
	}
	return render(report.Summary{Path: path, Memory: &r, Scene: &st}, report.Options{Format: format, Top: topN})
}

func (h *handlers) export(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments
	path, err := pathArg(args, "path")
	if err != nil {
		return nil, err
	}
	out, err := pathArg(args, "output_path")
	if err != nil {
		return nil, err
	}
	slog.Info("mcp: export", "path", path, "output", out)

	r, _, err := h.memory(path, h.allScenesArg(args))
	if err != nil {
		return nil, err
	}

	f, err := os.Create(out)
	if err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	if err := memprof.WriteProfile(f, r); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close profile: %w", err)
	}
	return textResult(fmt.Sprintf("Wrote %d resources (%s) to %s\nView with: go tool pprof -top %s\n",
		len(r.Resources), report.FormatUint(r.TotalMemory), out, out)), nil
}

func (h *handlers) memory(path string, allScenes bool) (memprof.MemoryReport, scene.Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return memprof.MemoryReport{}, scene.Stats{}, fmt.Errorf("read %s: %w", path, err)
	}
	l := scene.NewLoader()
	l.AllScenes = allScenes
	root, err := l.Load(data)
	if err != nil {
		return memprof.MemoryReport{}, scene.Stats{}, fmt.Errorf("load %s: %w", path, err)
	}
	return h.profiler.Profile(root), scene.CollectStats(root), nil
}

func (h *handlers) allScenesArg(args map[string]interface{}) bool {
	if v, ok := args["all_scenes"].(bool); ok {
		return v
	}
	return h.cfg.AllScenes
}

func (h *handlers) formatArg(args map[string]interface{}) (report.Format, error) {
	s, ok := args["output_format"].(string)
	if !ok || s == "" {
		s = h.cfg.Format
	}
	return report.ParseFormat(s)
}

// pathArg reads a required path argument given as a plain path (with an
// optional leading ~) or a file:// URI, and makes it absolute.
func pathArg(args map[string]interface{}, name string) (string, error) {
	raw, ok := args[name].(string)
	if !ok || raw == "" {
		return "", fmt.Errorf("missing or invalid required argument: %s (string)", name)
	}

	p := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		if u.Scheme != "file" || u.Path == "" {
			return "", fmt.Errorf("unsupported %s %q: only local paths and file:// URIs are accepted", name, raw)
		}
		p = u.Path
	}

	p, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", name, err)
	}
	return filepath.Abs(p)
}

func render(s report.Summary, opts report.Options) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	if err := report.Write(&buf, s, opts); err != nil {
		return nil, err
	}
	return textResult(buf.String()), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}
