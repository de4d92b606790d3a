package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"surfacesync/internal/config"
	"surfacesync/internal/constants"
	"surfacesync/internal/logger"
	"surfacesync/internal/refresh"
	"surfacesync/internal/sharedstate"
	"surfacesync/pkg/cel"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/logging"
	"surfacesync/pkg/metrics"
	"surfacesync/pkg/models"
	"surfacesync/pkg/tracing"
)

type MediaCache interface {
	FetchAndCache(ctx context.Context, sourceURL, key string, maxDimensionPx int) (models.CachedMediaEntry, error)
	Open(ctx context.Context, key string) ([]byte, models.CachedMediaEntry, error)
	Clear(ctx context.Context) error
}

type Refresher interface {
	RequestRedraw(ctx context.Context, surfaces ...refresh.SurfaceID)
}

// SurfaceStateWriter receives the per-recipient snapshot for other devices.
type SurfaceStateWriter interface {
	PutSurfaceState(ctx context.Context, recipientID string, snapshot models.SurfaceStateSnapshot) error
}

type Option func(*Dispatcher)

func WithRemote(w SurfaceStateWriter) Option {
	return func(d *Dispatcher) { d.remote = w }
}

func WithDeduplicator(dd Deduplicator) Option {
	return func(d *Dispatcher) { d.dedup = dd }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher turns push payloads into published surface state.
type Dispatcher struct {
	cfg            config.DispatcherConfig
	maxDimensionPx int
	media          MediaCache
	store          sharedstate.Store
	refresher      Refresher
	remote         SurfaceStateWriter
	dedup          Deduplicator
	filter         *cel.Filter
	decoder        *Decoder
	surfaces       []refresh.SurfaceID
	logger         logger.Logger
	now            func() time.Time

	mu      sync.Mutex
	loaded  bool
	list    []models.SurfaceStateSnapshot
	heroSeq int64
	heroSet bool
	version uint64

	writersMu sync.Mutex
	writers   map[string]*scopeWriter

	remoteSlots chan struct{}
	remoteWG    sync.WaitGroup
}

// scopeWriter makes a scope single-writer and drops writes computed before
// the one already stored.
type scopeWriter struct {
	mu      sync.Mutex
	written uint64
}

func New(cfg config.DispatcherConfig, maxDimensionPx int, media MediaCache, store sharedstate.Store, refresher Refresher, log logger.Logger, opts ...Option) (*Dispatcher, error) {
	decoder, err := NewDecoder()
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		cfg:            cfg,
		maxDimensionPx: maxDimensionPx,
		media:          media,
		store:          store,
		refresher:      refresher,
		decoder:        decoder,
		surfaces:       refresh.SurfaceIDs(cfg.Surfaces),
		logger:         log,
		now:            time.Now,
		writers:        make(map[string]*scopeWriter),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dedup == nil {
		d.dedup = NewMemoryDeduplicator(cfg.Dedup.TTL)
	}
	if d.cfg.ListSize <= 0 {
		d.cfg.ListSize = constants.DefaultListSize
	}
	if d.cfg.RemoteBudget <= 0 {
		d.cfg.RemoteBudget = constants.DefaultRemoteBudget
	}
	if d.cfg.RemoteWriters <= 0 {
		d.cfg.RemoteWriters = constants.DefaultRemoteWriters
	}
	d.remoteSlots = make(chan struct{}, d.cfg.RemoteWriters)

	if cfg.FilterExpression != "" {
		eval, err := cel.NewEvaluator()
		if err != nil {
			return nil, err
		}
		if d.filter, err = eval.CompileFilter(cfg.FilterExpression); err != nil {
			return nil, fmt.Errorf("dispatcher filter: %w", err)
		}
	}

	return d, nil
}

// HandleRaw decodes raw push bytes and handles the result.
func (d *Dispatcher) HandleRaw(ctx context.Context, raw []byte) error {
	p, err := d.decoder.Decode(raw)
	if err != nil {
		metrics.ObserveDispatch("invalid", 0)
		d.logger.WarnwCtx(ctx, "Rejected undecodable push payload", "error", err, "size", len(raw))
		return err
	}
	return d.Handle(ctx, p)
}

// Handle publishes p to the list, hero and contact scopes and requests a
// redraw. Handling the same payload again is a no-op. A failed hero or list
// write returns an error, skips the redraw and leaves the payload
// unremembered so a redelivery retries it. The remote surface state is
// written after the redraw request, in the background.
func (d *Dispatcher) Handle(ctx context.Context, p models.PushPayload) (err error) {
	ctx = logging.WithMessageID(ctx, p.MessageID)
	ctx, span := tracing.StartSpan(ctx, "dispatcher", "handle",
		attribute.String("message_id", p.MessageID),
		attribute.String("content_kind", string(p.ContentKind)),
	)
	start := time.Now()

	var status string
	defer func() {
		metrics.ObserveDispatch(status, time.Since(start))
		tracing.EndSpan(span, err)
	}()

	status, err = d.handle(ctx, p)
	return err
}

func (d *Dispatcher) handle(ctx context.Context, p models.PushPayload) (string, error) {
	if err := models.ValidatePushPayload(&p); err != nil {
		field := "payload"
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			field = vErr.Field
		}
		return "invalid", invalidPayload(field, err)
	}

	fields, err := classify(p)
	if err != nil {
		return "invalid", err
	}

	if d.filter != nil {
		ok, err := d.filter.Match(ctx, p)
		if err != nil {
			d.logger.WarnwCtx(ctx, "Filter evaluation failed, dropping payload",
				"expression", d.filter.Expression(),
				"error", err,
			)
			return "filtered", nil
		}
		if !ok {
			d.logger.DebugwCtx(ctx, "Payload rejected by filter", "expression", d.filter.Expression())
			return "filtered", nil
		}
	}

	seen, err := d.dedup.Seen(ctx, p)
	if err != nil {
		return "error", err
	}
	if seen {
		d.logger.DebugwCtx(ctx, "Duplicate push payload ignored")
		return "duplicate", nil
	}

	if err := d.ensureLoaded(ctx); err != nil {
		return "store_error", err
	}

	results := d.fetchAll(ctx, p.MessageID, fields)
	snap, imageBytes := d.buildSnapshot(ctx, p, results)

	if err := d.publish(ctx, p, snap, imageBytes); err != nil {
		return "store_error", err
	}

	if err := d.dedup.Remember(ctx, p); err != nil {
		d.logger.WarnwCtx(ctx, "Failed to remember handled payload", "error", err)
	}

	if !p.Silent {
		d.refresher.RequestRedraw(ctx, d.surfaces...)
	}

	if d.remote != nil && p.RecipientID != "" {
		d.putRemote(ctx, p.RecipientID, snap.Remote(p.MediaRefs))
	}

	d.logger.InfowCtx(ctx, "Push payload published",
		"content_kind", p.ContentKind,
		"image_cached", snap.ImageCached,
		"media_cached", snap.MediaCached,
		"video_cached", snap.VideoCached,
	)
	return "published", nil
}

type fetchResult struct {
	field  mediaField
	entry  models.CachedMediaEntry
	cached bool
}

// fetchAll fetches every field in parallel within the fetch budget. A
// failed field keeps cached=false and is published with its remote URL.
func (d *Dispatcher) fetchAll(ctx context.Context, messageID string, fields []mediaField) map[string]fetchResult {
	fetchCtx := ctx
	if d.cfg.FetchBudget > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d.cfg.FetchBudget)
		defer cancel()
	}

	results := make([]fetchResult, len(fields))
	var g errgroup.Group
	for i, f := range fields {
		i, f := i, f
		g.Go(func() error {
			entry, err := d.media.FetchAndCache(fetchCtx, f.url, f.key(messageID), d.maxDimensionPx)
			results[i] = fetchResult{field: f, entry: entry, cached: err == nil}
			if err != nil {
				metrics.IncDispatchFallback(f.role, f.required)
				if f.required {
					d.logger.WarnwCtx(ctx, "Required media not cached, publishing remote URL",
						"role", f.role,
						"error", err,
					)
				} else {
					d.logger.DebugwCtx(ctx, "Best-effort media not cached, publishing remote URL",
						"role", f.role,
						"error", err,
					)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]fetchResult, len(results))
	for _, r := range results {
		out[r.field.role] = r
	}
	return out
}

func (d *Dispatcher) buildSnapshot(ctx context.Context, p models.PushPayload, results map[string]fetchResult) (models.SurfaceStateSnapshot, []byte) {
	snap := models.SurfaceStateSnapshot{
		MessageID:       p.MessageID,
		SenderID:        p.SenderID,
		SenderName:      p.SenderName,
		ContentKind:     p.ContentKind,
		DurationSeconds: p.DurationSeconds,
		CaptionPreview:  p.CaptionPreview,
		CreatedAtMillis: p.CreatedAtMillis,
		Sequence:        p.Sequence,
		UpdatedAtMillis: d.now().UnixMilli(),
	}
	// A payload without a creation time shows when it was received.
	if snap.CreatedAtMillis == 0 {
		snap.CreatedAtMillis = snap.UpdatedAtMillis
	}

	var imageBytes []byte
	image := results[constants.RolePrimaryImage]
	if image.cached && d.cfg.InlineBlobs {
		data, _, err := d.media.Open(ctx, image.entry.Key)
		if err != nil {
			// The blob vanished after the fetch; fall back rather than
			// reference a missing entry.
			d.logger.WarnwCtx(ctx, "Cached image unreadable, publishing remote URL", "error", err)
			image.cached = false
		} else {
			imageBytes = data
		}
	}

	snap.ImageRef, snap.ImageCached = ref(image, p.MediaRefs.ImageURL)
	if snap.ImageCached {
		snap.ImageWidth = image.entry.TransformedWidth
		snap.ImageHeight = image.entry.TransformedHeight
	}
	snap.MediaRef, snap.MediaCached = ref(results[constants.RolePrimaryMedia], p.MediaRefs.MediaURL)
	snap.VideoRef, snap.VideoCached = ref(results[constants.RoleVideo], p.MediaRefs.VideoURL)

	return snap, imageBytes
}

func ref(r fetchResult, remoteURL string) (string, bool) {
	if r.cached {
		return r.entry.LocalBlobRef, true
	}
	return remoteURL, false
}

// publish writes the contact, list and hero scopes. State is computed under
// d.mu; the writes happen outside it.
func (d *Dispatcher) publish(ctx context.Context, p models.PushPayload, snap models.SurfaceStateSnapshot, imageBytes []byte) error {
	d.mu.Lock()
	d.version++
	version := d.version
	updateHero := !d.cfg.SequenceGuard || !d.heroSet || p.Sequence >= d.heroSeq
	if updateHero {
		d.heroSeq = p.Sequence
		d.heroSet = true
	}
	d.list = upsertList(d.list, snap, d.cfg.ListSize, d.cfg.SequenceGuard)
	list, err := listFields(d.list, snap.UpdatedAtMillis)
	d.mu.Unlock()
	if err != nil {
		return apperrors.ErrStoreWrite.WithCause(err).WithDetail("scope", constants.ScopeList)
	}

	if err := d.writeScope(ctx, constants.ScopeList, version, list); err != nil {
		return err
	}
	if updateHero {
		if err := d.writeScope(ctx, constants.ScopeHero, version, snapshotFields(snap, imageBytes)); err != nil {
			return err
		}
	} else {
		d.logger.InfowCtx(ctx, "Hero kept newer payload",
			"sequence", p.Sequence,
		)
	}

	// The contact side channel is not read by hero or list surfaces.
	if p.SenderID != "" {
		scope := sharedstate.ContactScope(p.SenderID)
		if err := d.writeScope(ctx, scope, version, snapshotFields(snap, nil)); err != nil {
			d.logger.WarnwCtx(ctx, "Contact scope update failed",
				"scope", scope,
				"error", err,
			)
		}
	}
	return nil
}

// putRemote writes the recipient's snapshot to the system of record in the
// background, bounded by the remote budget. When every slot is busy the
// update is dropped; the next push for the recipient carries a newer one.
func (d *Dispatcher) putRemote(ctx context.Context, recipientID string, snap models.SurfaceStateSnapshot) {
	select {
	case d.remoteSlots <- struct{}{}:
	default:
		d.logger.WarnwCtx(ctx, "Remote surface state update dropped, writers busy",
			"recipient_id", recipientID,
		)
		return
	}

	d.remoteWG.Add(1)
	go func() {
		defer d.remoteWG.Done()
		defer func() { <-d.remoteSlots }()

		remoteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.RemoteBudget)
		defer cancel()

		err := apperrors.Guard(func() error {
			return d.remote.PutSurfaceState(remoteCtx, recipientID, snap)
		})
		if err != nil {
			d.logger.WarnwCtx(ctx, "Remote surface state update failed",
				"recipient_id", recipientID,
				"error", err,
			)
		}
	}()
}

// Wait blocks until background remote writes have finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.remoteWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) writeScope(ctx context.Context, scope string, version uint64, fields sharedstate.Fields) error {
	d.writersMu.Lock()
	w, ok := d.writers[scope]
	if !ok {
		w = &scopeWriter{}
		d.writers[scope] = w
	}
	d.writersMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	if version < w.written {
		return nil
	}
	if err := d.store.Publish(logging.WithScope(ctx, scope), scope, fields); err != nil {
		return err
	}
	w.written = version
	return nil
}

// ensureLoaded seeds the list and hero sequence from the store once, so a
// restarted process keeps the existing list.
func (d *Dispatcher) ensureLoaded(ctx context.Context) error {
	d.mu.Lock()
	loaded := d.loaded
	d.mu.Unlock()
	if loaded {
		return nil
	}

	hero, err := d.store.ReadAll(ctx, constants.ScopeHero)
	if err != nil {
		return apperrors.ErrStoreWrite.WithCause(err).WithDetail("scope", constants.ScopeHero)
	}
	listScope, err := d.store.ReadAll(ctx, constants.ScopeList)
	if err != nil {
		return apperrors.ErrStoreWrite.WithCause(err).WithDetail("scope", constants.ScopeList)
	}
	items, err := ListItems(listScope)
	if err != nil {
		d.logger.WarnwCtx(ctx, "Stored list unreadable, starting empty", "error", err)
		items = nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}
	d.list = items
	if hero.Get(FieldMessageID) != "" {
		d.heroSeq = hero.GetInt(FieldSequence)
		d.heroSet = true
	}
	d.loaded = true
	return nil
}

// ClearAll drops every scope, every cached blob and the dedup memory. Used
// on sign-out.
func (d *Dispatcher) ClearAll(ctx context.Context) error {
	d.mu.Lock()
	d.list = nil
	d.heroSeq, d.heroSet = 0, false
	d.loaded = true
	d.version++
	d.mu.Unlock()

	var errs []error
	if err := sharedstate.ClearAll(ctx, d.store); err != nil {
		errs = append(errs, fmt.Errorf("clear shared state: %w", err))
	}
	if err := d.media.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := d.dedup.Reset(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reset dedup: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	d.refresher.RequestRedraw(ctx, d.surfaces...)
	return nil
}
