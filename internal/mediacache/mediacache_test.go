package mediacache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/models"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 50 {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func testMediaConfig(dir string) config.MediaConfig {
	return config.MediaConfig{
		Dir:             dir,
		MaxDimensionPx:  400,
		FetchTimeout:    2 * time.Second,
		MaxBytes:        8 << 20,
		MaxSourcePixels: 40_000_000,
		JPEGQuality:     80,
	}
}

func newTestCache(t *testing.T, cfg config.MediaConfig, opts ...Option) (*Cache, *FileBlobStore) {
	t.Helper()
	store, err := NewFileBlobStore(cfg.Dir)
	require.NoError(t, err)
	return NewCache(cfg, store, logger.NopLogger(), opts...), store
}

func serveBytes(contentType string, data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	}
}

func TestFetchAndCache_DownscalesLargeImage(t *testing.T) {
	src := encodeJPEG(t, 4000, 3000)
	server := httptest.NewServer(serveBytes("image/jpeg", src))
	defer server.Close()

	cache, _ := newTestCache(t, testMediaConfig(t.TempDir()))

	entry, err := cache.FetchAndCache(context.Background(), server.URL+"/photo.jpg", "m1.primary-image", 400)
	require.NoError(t, err)

	assert.Equal(t, "m1.primary-image", entry.Key)
	assert.Equal(t, server.URL+"/photo.jpg", entry.SourceURL)
	assert.Equal(t, "image/jpeg", entry.ContentType)
	assert.Equal(t, 400, entry.TransformedWidth)
	assert.Equal(t, 300, entry.TransformedHeight)

	data, err := os.ReadFile(entry.LocalBlobRef)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), entry.ByteSize)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.LessOrEqual(t, max(cfg.Width, cfg.Height), 400)
}

func TestFetchAndCache_SmallImageKeepsSize(t *testing.T) {
	server := httptest.NewServer(serveBytes("image/png", encodePNG(t, 120, 80)))
	defer server.Close()

	cache, _ := newTestCache(t, testMediaConfig(t.TempDir()))

	entry, err := cache.FetchAndCache(context.Background(), server.URL, "m2.primary-image", 400)
	require.NoError(t, err)
	assert.Equal(t, 120, entry.TransformedWidth)
	assert.Equal(t, 80, entry.TransformedHeight)
	assert.Equal(t, "image/jpeg", entry.ContentType)
}

func TestFetchAndCache_NonImagePassesThrough(t *testing.T) {
	payload := []byte("ID3\x03\x00fake-audio-frames")
	server := httptest.NewServer(serveBytes("audio/mpeg", payload))
	defer server.Close()

	cache, _ := newTestCache(t, testMediaConfig(t.TempDir()))

	entry, err := cache.FetchAndCache(context.Background(), server.URL, "m3.primary-media", 400)
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", entry.ContentType)

	data, got, err := cache.Open(context.Background(), "m3.primary-media")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, entry, got)
}

func TestFetchAndCache_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		mutate  func(*config.MediaConfig)
		reason  FetchReason
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			reason:  ReasonStatus,
		},
		{
			name: "slow server",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(2 * time.Second):
				case <-r.Context().Done():
				}
			},
			mutate: func(c *config.MediaConfig) { c.FetchTimeout = 100 * time.Millisecond },
			reason: ReasonTimeout,
		},
		{
			name:    "body over limit",
			handler: serveBytes("application/octet-stream", bytes.Repeat([]byte{1}, 4096)),
			mutate:  func(c *config.MediaConfig) { c.MaxBytes = 1024 },
			reason:  ReasonTooLarge,
		},
		{
			name:    "undecodable image",
			handler: serveBytes("image/jpeg", []byte("definitely not a jpeg")),
			reason:  ReasonDecode,
		},
		{
			name:    "source over pixel ceiling",
			handler: serveBytes("image/png", encodePNG(t, 200, 200)),
			mutate:  func(c *config.MediaConfig) { c.MaxSourcePixels = 100 * 100 },
			reason:  ReasonTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			cfg := testMediaConfig(t.TempDir())
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			cache, store := newTestCache(t, cfg)

			_, err := cache.FetchAndCache(context.Background(), server.URL, "k.primary-image", 400)
			require.Error(t, err)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.reason, fe.Reason)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrFetchFailed.Code))

			_, err = store.Lookup(context.Background(), "k.primary-image")
			assert.ErrorIs(t, err, ErrNotCached)
		})
	}
}

func TestFetchAndCache_EmptyURL(t *testing.T) {
	cache, _ := newTestCache(t, testMediaConfig(t.TempDir()))

	_, err := cache.FetchAndCache(context.Background(), "", "k.video", 400)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ReasonTransport, fe.Reason)
}

func TestFetchAndCache_SameKeyOverwrites(t *testing.T) {
	var mu sync.Mutex
	body := []byte("first")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	cache, _ := newTestCache(t, testMediaConfig(t.TempDir()))

	first, err := cache.FetchAndCache(context.Background(), server.URL, "m4.video", 400)
	require.NoError(t, err)

	mu.Lock()
	body = []byte("second version")
	mu.Unlock()

	second, err := cache.FetchAndCache(context.Background(), server.URL, "m4.video", 400)
	require.NoError(t, err)
	assert.Equal(t, first.LocalBlobRef, second.LocalBlobRef)

	data, _, err := cache.Open(context.Background(), "m4.video")
	require.NoError(t, err)
	assert.Equal(t, "second version", string(data))
}

func TestFetchAndCache_ConcurrentKeys(t *testing.T) {
	server := httptest.NewServer(serveBytes("image/png", encodePNG(t, 640, 480)))
	defer server.Close()

	cache, _ := newTestCache(t, testMediaConfig(t.TempDir()))

	keys := []string{"a.primary-image", "b.primary-image", "c.primary-image", "d.primary-image"}
	var wg sync.WaitGroup
	errs := make([]error, len(keys))
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			_, errs[i] = cache.FetchAndCache(context.Background(), server.URL, key, 200)
		}(i, key)
	}
	wg.Wait()

	for i, key := range keys {
		require.NoError(t, errs[i], key)
		entry, err := cache.Lookup(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, 200, entry.TransformedWidth)
		assert.Equal(t, 150, entry.TransformedHeight)
	}
}

type recordingMirror struct {
	mu      sync.Mutex
	puts    map[string]int
	removed []string
	err     error
}

func (m *recordingMirror) Put(ctx context.Context, entry models.CachedMediaEntry, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.puts == nil {
		m.puts = map[string]int{}
	}
	m.puts[entry.Key] = len(data)
	return m.err
}

func (m *recordingMirror) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, key)
	return m.err
}

func TestFetchAndCache_Mirror(t *testing.T) {
	server := httptest.NewServer(serveBytes("video/mp4", []byte("frames")))
	defer server.Close()

	t.Run("uploads and removes", func(t *testing.T) {
		mirror := &recordingMirror{}
		cache, _ := newTestCache(t, testMediaConfig(t.TempDir()), WithMirror(mirror))

		_, err := cache.FetchAndCache(context.Background(), server.URL, "m5.video", 400)
		require.NoError(t, err)
		assert.Equal(t, 6, mirror.puts["m5.video"])

		require.NoError(t, cache.Remove(context.Background(), "m5.video"))
		assert.Equal(t, []string{"m5.video"}, mirror.removed)
	})

	t.Run("mirror failure does not fail the fetch", func(t *testing.T) {
		mirror := &recordingMirror{err: errors.New("bucket unavailable")}
		cache, _ := newTestCache(t, testMediaConfig(t.TempDir()), WithMirror(mirror))

		_, err := cache.FetchAndCache(context.Background(), server.URL, "m6.video", 400)
		require.NoError(t, err)

		_, err = cache.Lookup(context.Background(), "m6.video")
		assert.NoError(t, err)
	})
}

func TestCache_RemoveAndClear(t *testing.T) {
	server := httptest.NewServer(serveBytes("video/mp4", []byte("frames")))
	defer server.Close()

	dir := t.TempDir()
	cache, _ := newTestCache(t, testMediaConfig(dir))

	for _, key := range []string{"x.video", "y.video"} {
		_, err := cache.FetchAndCache(context.Background(), server.URL, key, 400)
		require.NoError(t, err)
	}

	require.NoError(t, cache.Remove(context.Background(), "x.video"))
	_, err := cache.Lookup(context.Background(), "x.video")
	assert.ErrorIs(t, err, ErrNotCached)

	require.NoError(t, cache.Remove(context.Background(), "never-cached.video"))

	require.NoError(t, cache.Clear(context.Background()))
	_, err = cache.Lookup(context.Background(), "y.video")
	assert.ErrorIs(t, err, ErrNotCached)

	left, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "m1.primary-image", fileName("m1.primary-image"))

	escaped := fileName("../etc/passwd")
	assert.NotContains(t, escaped, "/")
	assert.NotEqual(t, fileName("a/b"), fileName("a_b"))
}

func TestRoleOf(t *testing.T) {
	assert.Equal(t, "primary-image", roleOf("msg.1.primary-image"))
	assert.Equal(t, "unknown", roleOf("noroles"))
	assert.Equal(t, "unknown", roleOf("trailing."))
}
