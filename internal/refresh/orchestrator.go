package refresh

import (
	"context"
	"sort"
	"sync"
	"time"

	"surfacesync/internal/constants"
	"surfacesync/internal/logger"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/models"
)

// SurfaceID names a kind of surface registered with the host platform.
type SurfaceID string

const (
	SurfaceHero SurfaceID = constants.ScopeHero
	SurfaceList SurfaceID = constants.ScopeList
)

func SurfaceIDs(names []string) []SurfaceID {
	out := make([]SurfaceID, 0, len(names))
	for _, n := range names {
		out = append(out, SurfaceID(n))
	}
	return out
}

// Notifier delivers one redraw event to the host platform.
type Notifier interface {
	Notify(ctx context.Context, event models.RedrawEvent) error
	Name() string
}

// Orchestrator merges redraw requests arriving within a window into one
// event per window. RequestRedraw never blocks on delivery.
type Orchestrator struct {
	window   time.Duration
	notifier Notifier
	timeout  time.Duration
	logger   logger.Logger

	mu         sync.Mutex
	pending    map[SurfaceID]struct{}
	timer      *time.Timer
	generation uint64
	closed     bool

	wg sync.WaitGroup
}

func NewOrchestrator(window time.Duration, notifier Notifier, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		window:   window,
		notifier: notifier,
		timeout:  constants.DefaultHTTPTimeout,
		logger:   log,
		pending:  make(map[SurfaceID]struct{}),
	}
}

func (o *Orchestrator) RequestRedraw(ctx context.Context, surfaces ...SurfaceID) {
	if len(surfaces) == 0 {
		return
	}
	metrics.IncRedraw("requested", len(surfaces))

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		o.logger.DebugwCtx(ctx, "Redraw requested after close, dropping", "surfaces", surfaces)
		return
	}

	for _, s := range surfaces {
		if _, ok := o.pending[s]; ok {
			metrics.IncRedraw("coalesced", 1)
			continue
		}
		o.pending[s] = struct{}{}
	}

	if o.timer != nil {
		return
	}
	if o.window <= 0 {
		o.dispatchLocked()
		return
	}
	o.timer = time.AfterFunc(o.window, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.dispatchLocked()
	})
}

// Flush delivers pending requests now and waits for in-flight deliveries.
func (o *Orchestrator) Flush() {
	o.mu.Lock()
	o.dispatchLocked()
	o.mu.Unlock()
	o.wg.Wait()
}

// Close flushes and rejects further requests.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.dispatchLocked()
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *Orchestrator) Generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation
}

func (o *Orchestrator) dispatchLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if len(o.pending) == 0 {
		return
	}

	surfaces := make([]string, 0, len(o.pending))
	for s := range o.pending {
		surfaces = append(surfaces, string(s))
	}
	sort.Strings(surfaces)
	o.pending = make(map[SurfaceID]struct{})
	o.generation++

	event := models.RedrawEvent{
		Surfaces:   surfaces,
		Generation: o.generation,
		Timestamp:  time.Now().UTC(),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.deliver(event)
	}()
}

func (o *Orchestrator) deliver(event models.RedrawEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	if err := o.notifier.Notify(ctx, event); err != nil {
		metrics.IncRedraw("failed", len(event.Surfaces))
		o.logger.WarnwCtx(ctx, "Redraw delivery failed",
			"notifier", o.notifier.Name(),
			"generation", event.Generation,
			"surfaces", event.Surfaces,
			"error", err,
		)
		return
	}
	metrics.IncRedraw("delivered", len(event.Surfaces))
	o.logger.DebugwCtx(ctx, "Redraw delivered",
		"notifier", o.notifier.Name(),
		"generation", event.Generation,
		"surfaces", event.Surfaces,
	)
}
