package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/taigrr/glbinfo/pkg/config"
	"github.com/taigrr/glbinfo/pkg/container"
	"github.com/taigrr/glbinfo/pkg/dashboard"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/scene"
	"github.com/taigrr/glbinfo/pkg/session"
	"github.com/taigrr/glbinfo/pkg/watch"
)

func runTUI(ctx context.Context, path string, cfg config.Config, watchFile bool) error {
	// Log lines would tear the alternate screen.
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.DiscardHandler))
	defer slog.SetDefault(prev)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := dashboard.New(path, cfg.FPS)
	sess := session.New(session.Callbacks{
		OnBreakdown: func(_ uint64, b container.ByteBreakdown) { model.SetBreakdown(b) },
		OnMemory:    func(_ uint64, r memprof.MemoryReport, st scene.Stats) { model.SetMemory(r, st) },
		OnError:     func(_ uint64, err error) { model.SetError(err) },
	}, sessionOptions(cfg)...)
	defer sess.Close()

	reload := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			model.SetError(fmt.Errorf("read model: %w", err))
			return
		}
		model.Reset(path)
		// Parse failures reach the model through OnError; ErrClosed means
		// the dashboard is shutting down.
		_, _ = sess.Load(ctx, data)
	}

	// Create terminal
	term := uv.DefaultTerminal()

	width, height, err := term.GetSize()
	if err != nil {
		return fmt.Errorf("get terminal size: %w", err)
	}

	if err := term.Start(); err != nil {
		return fmt.Errorf("start terminal: %w", err)
	}

	term.EnterAltScreen()
	term.HideCursor()
	term.Resize(width, height)

	cleanup := func() {
		term.ExitAltScreen()
		term.ShowCursor()
		term.Shutdown(context.Background())
	}

	reload()
	if watchFile {
		go func() {
			if err := watch.File(ctx, path, watch.DefaultDebounce, reload); err != nil {
				model.SetError(err)
			}
		}()
	}

	// Event handler
	resized := make(chan [2]int, 1)
	go func() {
		for ev := range term.Events() {
			switch ev := ev.(type) {
			case uv.WindowSizeEvent:
				select {
				case resized <- [2]int{ev.Width, ev.Height}:
				case <-ctx.Done():
					return
				}
			case uv.KeyPressEvent:
				switch model.Key(keyName(ev)) {
				case dashboard.ActionQuit:
					cancel()
					return
				case dashboard.ActionReload:
					go reload()
				}
			}
		}
	}()

	// Main loop
	ticker := time.NewTicker(time.Second / time.Duration(cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cleanup()
			return nil
		case size := <-resized:
			width, height = size[0], size[1]
			term.Erase()
			term.Resize(width, height)
		case <-ticker.C:
		}

		model.Update()
		model.Render(width, height).Draw(term, uv.Rect(0, 0, width, height))
		if err := term.Display(); err != nil {
			cleanup()
			return fmt.Errorf("display: %w", err)
		}
	}
}

// keyName returns the dashboard key ev matches, or "".
func keyName(ev uv.KeyPressEvent) string {
	for _, k := range dashboard.Keys {
		if ev.MatchString(k) {
			return k
		}
	}
	return ""
}
