// Package gate loads the face models and the reference descriptor before any
// page image is processed.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-occluder/internal/assets"
	"github.com/kozaktomas/face-occluder/internal/constants"
	"github.com/kozaktomas/face-occluder/internal/embedding"
	"github.com/kozaktomas/face-occluder/internal/logging"
)

// ErrNoReferenceFace is returned when the reference image contains no face.
var ErrNoReferenceFace = errors.New("no face detected in reference image")

// Gate runs setup once and records its outcome. It becomes ready only after
// the models are loaded and a reference descriptor was extracted. A failed
// setup is terminal; it is never retried.
type Gate struct {
	provider     embedding.Provider
	fetcher      assets.Fetcher
	referenceURL string
	maxImageSize int
	logger       *logging.Logger

	startOnce sync.Once
	ready     atomic.Bool
	done      chan struct{}
	failed    chan struct{}

	mu        sync.Mutex
	reference embedding.Descriptor
	err       error
	waiters   []func(embedding.Descriptor)
	settled   bool
}

// New creates a Gate that reads the reference image from referenceURL.
func New(provider embedding.Provider, fetcher assets.Fetcher, referenceURL string, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		provider:     provider,
		fetcher:      fetcher,
		referenceURL: referenceURL,
		maxImageSize: constants.MaxImageSize,
		logger:       logger.WithComponent("gate"),
		done:         make(chan struct{}),
		failed:       make(chan struct{}),
	}
}

// Start launches setup in the background. Only the first call has an effect.
func (g *Gate) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		go g.run(ctx)
	})
}

func (g *Gate) run(ctx context.Context) {
	ref, err := g.setup(ctx)
	if err != nil {
		g.fail(err)
		return
	}
	g.succeed(ref)
}

func (g *Gate) setup(ctx context.Context) (embedding.Descriptor, error) {
	if err := g.provider.LoadModels(ctx); err != nil {
		return nil, fmt.Errorf("loading models: %w", err)
	}
	g.logger.Info("face models loaded")

	data, err := g.fetcher.Fetch(ctx, g.referenceURL)
	if err != nil {
		return nil, fmt.Errorf("fetching reference image %s: %w", g.referenceURL, err)
	}

	prepared, err := embedding.Prepare(data, g.maxImageSize)
	if err != nil {
		return nil, fmt.Errorf("decoding reference image: %w", err)
	}

	face, err := g.provider.DetectSingle(ctx, prepared.Data)
	if err != nil {
		return nil, fmt.Errorf("detecting reference face: %w", err)
	}
	if face == nil {
		return nil, ErrNoReferenceFace
	}
	return append(embedding.Descriptor(nil), face.Descriptor...), nil
}

func (g *Gate) succeed(ref embedding.Descriptor) {
	g.mu.Lock()
	if g.settled {
		g.mu.Unlock()
		return
	}
	g.settled = true
	g.reference = ref
	waiters := g.waiters
	g.waiters = nil
	g.ready.Store(true)
	g.mu.Unlock()

	g.logger.Info("reference face loaded", "dim", len(ref))
	for _, fn := range waiters {
		fn(ref)
	}
	close(g.done)
}

func (g *Gate) fail(err error) {
	g.mu.Lock()
	if g.settled {
		g.mu.Unlock()
		return
	}
	g.settled = true
	g.err = err
	g.waiters = nil
	close(g.failed)
	g.mu.Unlock()

	if errors.Is(err, ErrNoReferenceFace) {
		g.logger.Error(ErrNoReferenceFace.Error(), "reference", g.referenceURL)
		return
	}
	g.logger.Error("setup failed", "error", err)
}

// Ready reports whether setup succeeded.
func (g *Gate) Ready() bool {
	return g.ready.Load()
}

// Reference returns the reference descriptor, or nil before readiness.
func (g *Gate) Reference() embedding.Descriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reference
}

// Done is closed when the gate becomes ready, after the OnReady callbacks
// registered before readiness have run. It is never closed on failure.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Failed is closed when setup fails.
func (g *Gate) Failed() <-chan struct{} {
	return g.failed
}

// Err returns the setup error, if any.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Wait blocks until the gate is ready, setup fails or ctx ends.
func (g *Gate) Wait(ctx context.Context) (embedding.Descriptor, error) {
	select {
	case <-g.done:
		return g.Reference(), nil
	case <-g.failed:
		return nil, g.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnReady registers fn to run once with the reference descriptor. If the gate
// is already ready fn runs immediately; if setup failed fn never runs.
func (g *Gate) OnReady(fn func(embedding.Descriptor)) {
	g.mu.Lock()
	switch {
	case g.ready.Load():
		ref := g.reference
		g.mu.Unlock()
		fn(ref)
	case g.settled:
		g.mu.Unlock()
	default:
		g.waiters = append(g.waiters, fn)
		g.mu.Unlock()
	}
}

// PollUntil checks cond every interval until it holds or ctx ends. The ticker
// is stopped as soon as cond holds.
func PollUntil(ctx context.Context, interval time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}
	if interval <= 0 {
		interval = constants.ReadyPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}
