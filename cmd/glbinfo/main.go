// glbinfo - GLB size and memory inspector
// Break a binary glTF file down by byte category and estimate the memory its
// scene occupies once loaded, counting shared resources once.
//
// Dashboard controls (-tui):
//
//	1/2/3  - Collapse or expand File Information, Memory Usage, Scene Info
//	R      - Reload the file
//	Q/Esc  - Quit
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/muesli/termenv"
	"github.com/taigrr/glbinfo/pkg/config"
	"github.com/taigrr/glbinfo/pkg/container"
	"github.com/taigrr/glbinfo/pkg/mcpserver"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/report"
	"github.com/taigrr/glbinfo/pkg/scene"
	"github.com/taigrr/glbinfo/pkg/session"
	"github.com/taigrr/glbinfo/pkg/watch"
)

const version = "0.1.0"

var (
	configPath = flag.String("config", config.DefaultPath, "Path to config file")
	format     = flag.String("format", "", "Output format: text, markdown, json, yaml (default from config)")
	overhead   = flag.Uint64("overhead", 0, "Bytes charged per material (default from config)")
	fps        = flag.Int("fps", 0, "Dashboard frame rate (default from config)")
	top        = flag.Int("top", 0, "List the N largest resources")
	pprofPath  = flag.String("pprof", "", "Write the memory report as a pprof profile to this path")
	noColor    = flag.Bool("no-color", false, "Disable colored text output")
	tui        = flag.Bool("tui", false, "Show the interactive dashboard")
	watchFile  = flag.Bool("watch", false, "Re-analyze when the file changes")
	allScenes  = flag.Bool("all-scenes", false, "Profile every scene instead of only the default one")
	mcpMode    = flag.Bool("mcp", false, "Serve MCP tools over stdio instead of analyzing a file")
	printCfg   = flag.Bool("print-config", false, "Print the effective config as TOML and exit")
	veryVerb   = flag.Bool("vv", false, "Debug logging")
	verbose    = flag.Bool("v", false, "Info logging")
	quiet      = flag.Bool("q", false, "Only log errors")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "glbinfo - GLB size and memory inspector\n\n")
		fmt.Fprintf(os.Stderr, "Usage: glbinfo [options] <model.glb>\n")
		fmt.Fprintf(os.Stderr, "       glbinfo -mcp\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDashboard controls:\n")
		fmt.Fprintf(os.Stderr, "  1/2/3  - Toggle panels\n")
		fmt.Fprintf(os.Stderr, "  R      - Reload\n")
		fmt.Fprintf(os.Stderr, "  Q/Esc  - Quit\n")
	}
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.LogLevel(*veryVerb, *verbose, *quiet),
	})))

	if *printCfg {
		if err := printConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !*mcpMode && flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	if *format != "" {
		cfg.Format = *format
	}
	if *overhead != 0 {
		cfg.MaterialOverhead = *overhead
	}
	if *fps != 0 {
		cfg.FPS = *fps
	}
	if *allScenes {
		cfg.AllScenes = true
	}
	return cfg, cfg.Validate()
}

func printConfig() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := cfg.Encode()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

// sessionOptions builds the decoder and profiler cfg asks for.
func sessionOptions(cfg config.Config) []session.Option {
	loader := scene.NewLoader()
	loader.AllScenes = cfg.AllScenes
	return []session.Option{
		session.WithLoader(loader),
		session.WithProfiler(memprof.NewProfiler(memprof.Options{MaterialOverhead: cfg.MaterialOverhead})),
	}
}

func run(path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if *mcpMode {
		slog.Info("serving MCP over stdio")
		return mcpserver.Serve(mcpserver.New(cfg, version))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *tui {
		return runTUI(ctx, path, cfg, *watchFile)
	}

	if err := printReport(ctx, path, cfg); err != nil {
		return err
	}
	if !*watchFile {
		return nil
	}

	slog.Info("watching for changes", "path", path)
	return watch.File(ctx, path, watch.DefaultDebounce, func() {
		fmt.Println()
		if err := printReport(ctx, path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	})
}

// printReport analyzes path once and writes the report to stdout.
func printReport(ctx context.Context, path string, cfg config.Config) error {
	summary, err := analyze(ctx, path, cfg)
	if err != nil {
		return err
	}

	f, err := report.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	color := !*noColor && termenv.NewOutput(os.Stdout).Profile != termenv.Ascii
	if err := report.Write(os.Stdout, summary, report.Options{Format: f, Color: color, Top: *top}); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if *pprofPath != "" && summary.Memory != nil {
		if err := writeProfile(*pprofPath, *summary.Memory); err != nil {
			return err
		}
		slog.Info("wrote pprof profile", "path", *pprofPath)
	}
	return nil
}

// analyze runs both phases for path and waits for the memory profile. A scene
// that fails to decode still yields the byte breakdown.
func analyze(ctx context.Context, path string, cfg config.Config) (report.Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return report.Summary{}, fmt.Errorf("read model: %w", err)
	}
	if !container.IsGLB(data) {
		return report.Summary{}, fmt.Errorf("%s is not a binary glTF 2.0 (.glb) file", path)
	}

	summary := report.Summary{Path: path}
	sess := session.New(session.Callbacks{
		OnBreakdown: func(_ uint64, b container.ByteBreakdown) {
			summary.Breakdown = &b
		},
		OnMemory: func(_ uint64, r memprof.MemoryReport, st scene.Stats) {
			summary.Memory = &r
			summary.Scene = &st
		},
	}, sessionOptions(cfg)...)

	if _, err := sess.Load(ctx, data); err != nil {
		return summary, fmt.Errorf("analyze %s: %w", path, err)
	}
	if err := sess.Wait(); err != nil {
		slog.Warn("scene could not be profiled", "path", path, "err", err)
	}
	return summary, nil
}

func writeProfile(path string, r memprof.MemoryReport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	if err := memprof.WriteProfile(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
