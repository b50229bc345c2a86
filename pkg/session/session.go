// Package session runs the two analysis phases for a loaded file: the
// synchronous container breakdown and the asynchronous scene memory profile.
// A newer load supersedes an older one, whose results are dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/taigrr/glbinfo/pkg/container"
	"github.com/taigrr/glbinfo/pkg/memprof"
	"github.com/taigrr/glbinfo/pkg/scene"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Load after Close.
var ErrClosed = errors.New("session closed")

// Decoder turns raw file bytes into a scene graph.
type Decoder func(ctx context.Context, data []byte) (*scene.Node, error)

// Callbacks receive results tagged with the generation that produced them.
// They run with the session lock held and must not call Load.
type Callbacks struct {
	OnBreakdown func(gen uint64, b container.ByteBreakdown)
	OnMemory    func(gen uint64, r memprof.MemoryReport, st scene.Stats)
	OnError     func(gen uint64, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithDecoder replaces the default glTF decoder.
func WithDecoder(d Decoder) Option {
	return func(s *Session) { s.decode = d }
}

// WithLoader decodes with l instead of a default scene loader.
func WithLoader(l *scene.Loader) Option {
	return WithDecoder(func(_ context.Context, data []byte) (*scene.Node, error) {
		return l.Load(data)
	})
}

// WithProfiler replaces the default memory profiler.
func WithProfiler(p *memprof.Profiler) Option {
	return func(s *Session) { s.profiler = p }
}

// Session serializes loads and drops stale results.
type Session struct {
	cb       Callbacks
	decode   Decoder
	profiler *memprof.Profiler
	group    errgroup.Group

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	closed bool
}

// New creates a session. Nil callbacks are ignored.
func New(cb Callbacks, opts ...Option) *Session {
	s := &Session{
		cb:       cb,
		decode:   decodeGLTF,
		profiler: memprof.NewProfiler(memprof.Options{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func decodeGLTF(_ context.Context, data []byte) (*scene.Node, error) {
	return scene.Load(data)
}

// Load starts a new generation for data. The breakdown is computed and
// delivered before Load returns; the memory profile follows from a
// background goroutine. A parse failure is delivered to OnError, returned,
// and skips the memory phase.
func (s *Session) Load(ctx context.Context, data []byte) (uint64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	b, err := container.Analyze(data)
	if err != nil {
		cancel()
		s.deliver(gen, func() {
			if s.cb.OnError != nil {
				s.cb.OnError(gen, err)
			}
		})
		return gen, err
	}
	s.deliver(gen, func() {
		if s.cb.OnBreakdown != nil {
			s.cb.OnBreakdown(gen, b)
		}
	})

	// The background goroutine is started under the lock so Close never
	// waits on the group while a Load is adding to it.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel()
		return gen, ErrClosed
	}
	s.group.Go(func() error {
		defer cancel()
		root, err := s.decode(ctx, data)
		if ctx.Err() != nil {
			slog.Debug("session: load superseded", "gen", gen)
			return nil
		}
		if err != nil {
			delivered := s.deliver(gen, func() {
				if s.cb.OnError != nil {
					s.cb.OnError(gen, err)
				}
			})
			if !delivered {
				return nil
			}
			return fmt.Errorf("decode generation %d: %w", gen, err)
		}

		r := s.profiler.Profile(root)
		st := scene.CollectStats(root)
		s.deliver(gen, func() {
			if s.cb.OnMemory != nil {
				s.cb.OnMemory(gen, r, st)
			}
		})
		return nil
	})
	return gen, nil
}

// deliver runs fn only if gen is still the current generation and reports
// whether it did.
func (s *Session) deliver(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		slog.Debug("session: dropping stale result", "gen", gen, "current", s.gen)
		return false
	}
	fn()
	return true
}

// Current returns the latest generation, or 0 before the first Load.
func (s *Session) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Wait blocks until every background profile has finished. It returns the
// first decode error that was delivered to OnError; errors of superseded
// loads are not reported.
func (s *Session) Wait() error {
	return s.group.Wait()
}

// Close cancels the in-flight load and waits for it. Later calls to Load
// fail with ErrClosed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	if err := s.Wait(); err != nil {
		slog.Debug("session: closed after decode failure", "err", err)
	}
}
