package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodeTease/wmcache/pkg/cache"
	"github.com/CodeTease/wmcache/pkg/config"
	"github.com/CodeTease/wmcache/pkg/regen"
	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
	"github.com/CodeTease/wmcache/pkg/testutil"
	"github.com/CodeTease/wmcache/pkg/watermark"
	"github.com/CodeTease/wmcache/pkg/worker"
)

func testConfig() config.Config {
	return config.Config{
		ImagesRoot:        "products",
		JPEGQuality:       90,
		Workers:           2,
		QueueSize:         64,
		SettingsCacheTTL:  time.Minute,
		ScheduleMarkerTTL: time.Minute,
		FreshnessTTL:      time.Minute,
		BatchTTL:          time.Hour,
		BulkConcurrency:   2,
	}
}

var acmeSettings = map[string]string{
	settings.KeyEnabled:  "true",
	settings.KeyText:     "ACME",
	settings.KeyPosition: "bottom-right",
	settings.KeyOpacity:  "50",
}

type fixture struct {
	engine *Engine
	store  *storage.LocalStore
}

func newFixture(t *testing.T, values map[string]string, renderer watermark.Renderer) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	markers := cache.NewMemoryCache(1000)
	t.Cleanup(markers.Close)

	e, err := New(testConfig(), Deps{
		Store:    store,
		Markers:  markers,
		Settings: settings.NewMemoryStore(values),
		Renderer: renderer,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return &fixture{engine: e, store: store}
}

type failingRenderer struct{}

func (failingRenderer) Composite(ctx context.Context, src []byte, name string, s settings.Snapshot) ([]byte, error) {
	return nil, &watermark.ImageProcessingError{Op: "decode", Path: name, Err: errors.New("corrupt")}
}

func TestApplyWatermark_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acmeSettings, nil)

	const original = "products/shoe.jpg"
	src := testutil.JPEG(t, 500, 500)
	testutil.Put(t, f.store, original, src)

	first := f.engine.Apply(ctx, original)
	if first.Path != original || first.State != StatePending {
		t.Fatalf("first Apply() = %+v, want original pending", first)
	}

	f.engine.Wait()

	second := f.engine.Apply(ctx, original)
	if second.State != StateHit {
		t.Fatalf("second Apply() = %+v, want hit", second)
	}
	if second.Path == original || !watermark.IsDerivative(second.Path) {
		t.Errorf("second Apply() path = %q, want a derivative", second.Path)
	}

	data, err := f.store.Read(ctx, second.Path)
	if err != nil {
		t.Fatalf("derivative unreadable: %v", err)
	}
	if bytes.Equal(data, src) {
		t.Error("derivative is byte-identical to the original")
	}

	if got := f.engine.ApplyWatermark(ctx, original); got != second.Path {
		t.Errorf("ApplyWatermark() = %q, want %q", got, second.Path)
	}
}

func TestApplyWatermark_ServesOriginal(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		values   map[string]string
		path     string
		put      bool
		wantPath string
	}{
		{
			name:     "disabled",
			values:   map[string]string{settings.KeyText: "ACME"},
			path:     "products/a.jpg",
			put:      true,
			wantPath: "products/a.jpg",
		},
		{
			name:     "enabled without content",
			values:   map[string]string{settings.KeyEnabled: "true"},
			path:     "products/a.jpg",
			put:      true,
			wantPath: "products/a.jpg",
		},
		{
			name:     "source missing",
			values:   acmeSettings,
			path:     "products/missing.jpg",
			wantPath: "products/missing.jpg",
		},
		{
			name:     "derivative requested directly",
			values:   acmeSettings,
			path:     "products/cache/a_0123abcd.jpg",
			put:      true,
			wantPath: "products/cache/a_0123abcd.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.values, nil)
			if tt.put {
				testutil.Put(t, f.store, tt.path, testutil.JPEG(t, 50, 50))
			}
			got := f.engine.Apply(ctx, tt.path)
			if got.Path != tt.wantPath || got.State != StateOff {
				t.Errorf("Apply() = %+v, want %s off", got, tt.wantPath)
			}
			f.engine.Wait()
			if stats, _ := f.engine.CacheStats(ctx); tt.name != "derivative requested directly" && stats.Count != 0 {
				t.Errorf("derivatives written: %d", stats.Count)
			}
		})
	}
}

func TestApplyWatermark_GenerationFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acmeSettings, failingRenderer{})

	const original = "products/broken.jpg"
	testutil.Put(t, f.store, original, []byte("not really a jpeg"))

	for i := 0; i < 3; i++ {
		got := f.engine.Apply(ctx, original)
		if got.Path != original || got.State != StatePending {
			t.Fatalf("Apply() #%d = %+v, want original pending", i, got)
		}
		f.engine.Wait()
	}

	if stats, _ := f.engine.CacheStats(ctx); stats.Count != 0 {
		t.Errorf("failed generations wrote %d derivatives", stats.Count)
	}
}

// stalledExecutor never accepts a job, like a queue whose broker is down.
type stalledExecutor struct {
	calls atomic.Int32
}

func (s *stalledExecutor) Submit(ctx context.Context, job worker.Job) error {
	s.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestApply_StalledExecutorDoesNotBlockRequests(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	markers := cache.NewMemoryCache(1000)
	t.Cleanup(markers.Close)
	executor := &stalledExecutor{}

	cfg := testConfig()
	cfg.SubmitTimeout = 50 * time.Millisecond
	e, err := New(cfg, Deps{
		Store:    store,
		Markers:  markers,
		Settings: settings.NewMemoryStore(acmeSettings),
		Executor: executor,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const original = "products/shoe.jpg"
	testutil.Put(t, store, original, testutil.JPEG(t, 100, 100))

	for i := 0; i < 2; i++ {
		start := time.Now()
		got := e.Apply(ctx, original)
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Fatalf("Apply() #%d took %v", i, elapsed)
		}
		if got.Path != original || got.State != StatePending {
			t.Fatalf("Apply() #%d = %+v, want original pending", i, got)
		}
	}
	// The rejected submit cleared its marker, so the second request retried.
	if n := executor.calls.Load(); n != 2 {
		t.Errorf("Submit() called %d times, want 2", n)
	}
}

func TestBatchStatus_SurvivesMarkerChurn(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore(t)
	markers := cache.NewMemoryCache(50)
	t.Cleanup(markers.Close)

	e, err := New(testConfig(), Deps{
		Store:    store,
		Markers:  markers,
		Settings: settings.NewMemoryStore(acmeSettings),
		Renderer: failingRenderer{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.Start(ctx)
	t.Cleanup(e.Stop)
	testutil.Put(t, store, "products/a.jpg", testutil.JPEG(t, 50, 50))

	id, err := e.UpdateSettings(ctx, map[string]string{settings.KeyOpacity: "70"})
	if err != nil || id == "" {
		t.Fatalf("UpdateSettings() = %q, %v", id, err)
	}
	e.Wait()

	// Fill the marker pool far past its size.
	for i := 0; i < 5000; i++ {
		_ = markers.Set(ctx, fmt.Sprintf("%schurn-%d", watermark.FreshMarkerPrefix, i), []byte("1"), time.Minute)
	}

	b, err := e.BatchStatus(ctx, id)
	if err != nil || b == nil {
		t.Fatalf("BatchStatus() = %v, %v; want the batch", b, err)
	}
	if b.Status != regen.StatusCompleted || b.Processed != 1 {
		t.Errorf("batch = %+v, want completed with 1 processed", b)
	}
}

func TestGenerateWatermarkNow(t *testing.T) {
	ctx := context.Background()

	t.Run("active", func(t *testing.T) {
		f := newFixture(t, acmeSettings, nil)
		testutil.Put(t, f.store, "products/a.png", testutil.PNG(t, testutil.Gradient(200, 100)))

		got, err := f.engine.GenerateWatermarkNow(ctx, "products/a.png")
		if err != nil {
			t.Fatalf("GenerateWatermarkNow() error = %v", err)
		}
		if !watermark.IsDerivative(got) {
			t.Errorf("GenerateWatermarkNow() = %q, want a derivative", got)
		}
		if exists, _ := f.store.Exists(ctx, got); !exists {
			t.Error("derivative not written")
		}
	})

	t.Run("missing source", func(t *testing.T) {
		f := newFixture(t, acmeSettings, nil)
		_, err := f.engine.GenerateWatermarkNow(ctx, "products/none.jpg")
		var notFound *watermark.SourceNotFoundError
		if !errors.As(err, &notFound) {
			t.Errorf("GenerateWatermarkNow() error = %v, want *SourceNotFoundError", err)
		}
	})

	t.Run("inactive", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		got, err := f.engine.GenerateWatermarkNow(ctx, "products/none.jpg")
		if err != nil || got != "products/none.jpg" {
			t.Errorf("GenerateWatermarkNow() = %q, %v; want original, nil", got, err)
		}
	})
}

func TestUpdateSettings_TriggersOnlyOnVisualChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acmeSettings, nil)
	testutil.Put(t, f.store, "products/a.jpg", testutil.JPEG(t, 120, 80))
	testutil.Put(t, f.store, "products/b.jpg", testutil.JPEG(t, 120, 80))

	id, err := f.engine.UpdateSettings(ctx, map[string]string{"business_address": "1 Main St"})
	if err != nil || id != "" {
		t.Fatalf("UpdateSettings(business_address) = %q, %v; want no batch", id, err)
	}

	id, err = f.engine.UpdateSettings(ctx, map[string]string{settings.KeyOpacity: "70"})
	if err != nil {
		t.Fatalf("UpdateSettings(opacity) error = %v", err)
	}
	if id == "" {
		t.Fatal("UpdateSettings(opacity) started no batch")
	}
	f.engine.Wait()

	b, err := f.engine.BatchStatus(ctx, id)
	if err != nil || b == nil {
		t.Fatalf("BatchStatus() = %v, %v", b, err)
	}
	if b.Status != regen.StatusCompleted || b.TotalImages != 2 || b.Successful != 2 {
		t.Errorf("batch = %+v, want completed 2/2", b)
	}

	s, _ := f.engine.Settings(ctx)
	if s.Opacity != 70 {
		t.Errorf("Settings().Opacity = %d, want 70", s.Opacity)
	}
	for _, p := range []string{"products/a.jpg", "products/b.jpg"} {
		if got := f.engine.Apply(ctx, p); got.State != StateHit {
			t.Errorf("Apply(%s) after regeneration = %+v, want hit", p, got)
		}
	}
}

func TestCleanupOldCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, acmeSettings, nil)
	now := time.Now().Truncate(time.Second)
	f.engine.now = func() time.Time { return now }

	testutil.Put(t, f.store, "products/a.jpg", []byte("original"))
	testutil.Put(t, f.store, "products/cache/a_00000001.jpg", []byte("old"))
	testutil.SetModTime(t, f.store, "products/cache/a_00000001.jpg", now.Add(-10*24*time.Hour))
	testutil.Put(t, f.store, "products/cache/a_00000002.jpg", []byte("new"))
	testutil.SetModTime(t, f.store, "products/cache/a_00000002.jpg", now.Add(-time.Hour))

	if _, err := f.engine.CleanupOldCache(ctx, -1); err == nil {
		t.Error("CleanupOldCache(-1) error = nil")
	}

	deleted, err := f.engine.CleanupOldCache(ctx, 7)
	if err != nil || deleted != 1 {
		t.Fatalf("CleanupOldCache(7) = %d, %v; want 1, nil", deleted, err)
	}

	stats, err := f.engine.CacheStats(ctx)
	if err != nil || stats.Count != 1 {
		t.Errorf("CacheStats() = %+v, %v; want 1 derivative", stats, err)
	}

	deleted, _ = f.engine.CleanupOldCache(ctx, 0)
	if deleted != 1 {
		t.Errorf("CleanupOldCache(0) = %d, want 1", deleted)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(testConfig(), Deps{}); err == nil {
		t.Error("New() with no deps error = nil")
	}
}
