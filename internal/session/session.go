// Package session wires the readiness gate, the image processor and the
// visibility tracker for one page.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/kozaktomas/face-occluder/internal/assets"
	"github.com/kozaktomas/face-occluder/internal/config"
	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/embedding"
	"github.com/kozaktomas/face-occluder/internal/facematch"
	"github.com/kozaktomas/face-occluder/internal/gate"
	"github.com/kozaktomas/face-occluder/internal/logging"
	"github.com/kozaktomas/face-occluder/internal/overlay"
	"github.com/kozaktomas/face-occluder/internal/page"
	"github.com/kozaktomas/face-occluder/internal/processor"
	"github.com/kozaktomas/face-occluder/internal/tracker"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("session closed")

// Deps are the collaborators a Session needs besides its configuration.
type Deps struct {
	Page     *page.Page
	Provider embedding.Provider
	Fetcher  assets.Fetcher
	Logger   *logging.Logger
	Rand     *rand.Rand // overlay choice, nil for a random seed
}

// Session is the process-scoped state for one page: the gate, and once the
// gate is ready the processor and tracker built from its reference.
type Session struct {
	cfg      *config.Config
	deps     Deps
	logger   *logging.Logger
	selector string
	overlays *overlay.Pool
	gate     *gate.Gate

	mu      sync.Mutex
	tracker *tracker.Tracker
	closed  bool
}

// New validates cfg and prepares a Session. Nothing runs until Run.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if deps.Page == nil || deps.Provider == nil || deps.Fetcher == nil {
		return nil, errors.New("session needs a page, a provider and a fetcher")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	selector, err := cfg.Selector()
	if err != nil {
		return nil, err
	}

	resolver, err := assets.NewResolver(cfg.Assets.Dir)
	if err != nil {
		return nil, err
	}

	overlays, err := overlay.NewPool(resolver.GetURLs(cfg.Assets.Overlays), deps.Rand)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.WithComponent("session"),
		selector: selector,
		overlays: overlays,
		gate:     gate.New(deps.Provider, deps.Fetcher, resolver.GetURL(cfg.Assets.Reference), deps.Logger),
	}, nil
}

// Gate exposes the readiness gate.
func (s *Session) Gate() *gate.Gate {
	return s.gate
}

// Run starts setup, waits for readiness and then starts tracking. When setup
// fails the session stays inert and the setup error is returned.
func (s *Session) Run(ctx context.Context) error {
	s.gate.Start(ctx)

	ref, err := s.gate.Wait(ctx)
	if err != nil {
		return fmt.Errorf("session setup: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.tracker != nil {
		return nil
	}

	matcher := facematch.NewMatcher(ref, constants.ReferenceLabel, s.cfg.Detection.MatchThreshold)
	proc := processor.New(s.deps.Page, s.deps.Fetcher, s.deps.Provider, matcher, s.overlays, s.deps.Logger, processor.Options{
		MinImageSize: s.cfg.Detection.MinImageSize,
		MaxInFlight:  int64(s.cfg.Detection.MaxInFlight),
	})

	t := tracker.New(s.deps.Page, proc, s.selector, s.cfg.Detection.IntersectionThreshold, s.deps.Logger)
	if err := t.Start(ctx); err != nil {
		return err
	}
	s.tracker = t
	s.logger.Info("tracking images", "selector", s.selector)
	return nil
}

// Wait blocks until every dispatched image task has finished.
func (s *Session) Wait() {
	s.mu.Lock()
	t := s.tracker
	s.mu.Unlock()
	if t != nil {
		t.Wait()
	}
}

// Stats returns the tracker counters, or zero Stats before tracking started.
func (s *Session) Stats() tracker.Stats {
	s.mu.Lock()
	t := s.tracker
	s.mu.Unlock()
	if t == nil {
		return tracker.Stats{}
	}
	return t.Stats()
}

// Close stops tracking and waits for in-flight tasks.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	t := s.tracker
	s.mu.Unlock()

	if t != nil {
		t.Stop()
		t.Wait()
	}
}
