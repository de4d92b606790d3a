package refresh

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"surfacesync/internal/broker"
	"surfacesync/internal/logger"
	"surfacesync/pkg/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.RedrawEvent
	err    error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Notify(ctx context.Context, event models.RedrawEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recorder) snapshot() []models.RedrawEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RedrawEvent(nil), r.events...)
}

func TestOrchestrator_CoalescesWithinWindow(t *testing.T) {
	rec := &recorder{}
	o := NewOrchestrator(50*time.Millisecond, rec, logger.NopLogger())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		o.RequestRedraw(ctx, SurfaceHero, SurfaceList)
	}
	o.RequestRedraw(ctx, "contact")

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	o.Flush()

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, []string{"contact", "hero", "list"}, events[0].Surfaces)
	assert.Equal(t, uint64(1), events[0].Generation)
	assert.Equal(t, uint64(1), o.Generation())
}

func TestOrchestrator_SeparateWindows(t *testing.T) {
	rec := &recorder{}
	o := NewOrchestrator(10*time.Millisecond, rec, logger.NopLogger())
	ctx := context.Background()

	o.RequestRedraw(ctx, SurfaceHero)
	o.Flush()
	o.RequestRedraw(ctx, SurfaceHero)
	o.Flush()

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[1].Generation)
}

func TestOrchestrator_ZeroWindowDeliversImmediately(t *testing.T) {
	rec := &recorder{}
	o := NewOrchestrator(0, rec, logger.NopLogger())

	o.RequestRedraw(context.Background(), SurfaceList)
	o.Flush()

	require.Len(t, rec.snapshot(), 1)
}

func TestOrchestrator_FailureDoesNotBlockCaller(t *testing.T) {
	rec := &recorder{err: errors.New("host unavailable")}
	o := NewOrchestrator(0, rec, logger.NopLogger())

	o.RequestRedraw(context.Background(), SurfaceHero)
	o.RequestRedraw(context.Background())
	o.Close()
	o.RequestRedraw(context.Background(), SurfaceHero)

	assert.Len(t, rec.snapshot(), 1)
}

func TestSurfaceIDs(t *testing.T) {
	assert.Equal(t, []SurfaceID{SurfaceHero, SurfaceList}, SurfaceIDs([]string{"hero", "list"}))
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("boom")}
	m := Multi{failing, ok}

	err := m.Notify(context.Background(), models.RedrawEvent{Surfaces: []string{"hero"}, Generation: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, ok.snapshot(), 1)
	assert.Len(t, failing.snapshot(), 1)
}

func TestFileSignalAndWatcher(t *testing.T) {
	dir := t.TempDir()
	signal, err := NewFileSignal(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []models.RedrawEvent
	done := make(chan error, 1)
	w := NewWatcher(dir, logger.NopLogger())
	go func() {
		done <- w.Watch(ctx, func(ev models.RedrawEvent) {
			mu.Lock()
			seen = append(seen, ev)
			mu.Unlock()
		})
	}()

	// The watch is registered asynchronously; keep signalling until one lands.
	event := models.RedrawEvent{Surfaces: []string{"hero", "list"}, Generation: 7, Timestamp: time.Now().UTC()}
	assert.Eventually(t, func() bool {
		if err := signal.Notify(ctx, event); err != nil {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 2*time.Second, 50*time.Millisecond)

	mu.Lock()
	got := seen[0]
	mu.Unlock()
	assert.Len(t, got.Surfaces, 1)
	assert.Equal(t, uint64(7), got.Generation)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"hero.redraw.json", "list.redraw.json"}, names)

	data, err := os.ReadFile(filepath.Join(dir, "hero.redraw.json"))
	require.NoError(t, err)
	var decoded models.RedrawEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"hero"}, decoded.Surfaces)

	cancel()
	assert.NoError(t, <-done)
}

func TestHub_StreamsEvents(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	sent := models.RedrawEvent{Surfaces: []string{"hero"}, Generation: 9}
	require.NoError(t, hub.Notify(ctx, sent))

	var got models.RedrawEvent
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	assert.Equal(t, sent.Surfaces, got.Surfaces)
	assert.Equal(t, sent.Generation, got.Generation)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(logger.NopLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	hub.Close()

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

type captureProducer struct {
	topic string
	msg   broker.Message
}

func (p *captureProducer) Publish(ctx context.Context, topic string, msg broker.Message) error {
	p.topic, p.msg = topic, msg
	return nil
}

func (p *captureProducer) Close() error { return nil }

func TestBrokerNotifier(t *testing.T) {
	p := &captureProducer{}
	n := NewBrokerNotifier(p, "surface_redraws")

	require.NoError(t, n.Notify(context.Background(), models.RedrawEvent{Surfaces: []string{"list"}, Generation: 12}))
	assert.Equal(t, "surface_redraws", p.topic)
	assert.Equal(t, "12", string(p.msg.Key))

	var ev models.RedrawEvent
	require.NoError(t, json.Unmarshal(p.msg.Value, &ev))
	assert.Equal(t, []string{"list"}, ev.Surfaces)
}
