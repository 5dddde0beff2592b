package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CodeTease/wmcache/pkg/cache"
	"github.com/CodeTease/wmcache/pkg/config"
	"github.com/CodeTease/wmcache/pkg/engine"
	"github.com/CodeTease/wmcache/pkg/ratelimit"
	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
	"github.com/CodeTease/wmcache/pkg/testutil"
)

const testToken = "s3cret"

func newTestHandler(t *testing.T, adminToken string, adminRate int) (*Handler, *storage.LocalStore) {
	t.Helper()
	store := testutil.NewStore(t)
	markers := cache.NewMemoryCache(1000)
	t.Cleanup(markers.Close)

	cfg := config.Config{
		ImagesRoot:        "products",
		JPEGQuality:       90,
		Workers:           1,
		QueueSize:         16,
		SettingsCacheTTL:  time.Minute,
		ScheduleMarkerTTL: time.Minute,
		FreshnessTTL:      time.Minute,
		BatchTTL:          time.Hour,
		BulkConcurrency:   1,
	}
	e, err := engine.New(cfg, engine.Deps{
		Store:   store,
		Markers: markers,
		Settings: settings.NewMemoryStore(map[string]string{
			settings.KeyEnabled: "true",
			settings.KeyText:    "ACME",
		}),
	})
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return NewHandler(e, adminToken, ratelimit.NewMemoryLimiter(adminRate, 100, time.Minute), false), store
}

func serve(h http.Handler, method, target, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleImage(t *testing.T) {
	h, store := newTestHandler(t, testToken, 100)
	mux := h.Routes()
	src := testutil.JPEG(t, 200, 150)
	testutil.Put(t, store, "products/shoe.jpg", src)

	rec := serve(mux, http.MethodGet, "/images/products/shoe.jpg", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first GET status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Watermark"); got != string(engine.StatePending) {
		t.Errorf("X-Watermark = %q, want pending", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), src) {
		t.Error("pending response is not the original")
	}

	h.Engine.Wait()

	rec = serve(mux, http.MethodGet, "/images/products/shoe.jpg", "", nil)
	if got := rec.Header().Get("X-Watermark"); got != string(engine.StateHit) {
		t.Errorf("X-Watermark after generation = %q, want hit", got)
	}
	if bytes.Equal(rec.Body.Bytes(), src) {
		t.Error("hit response is the original")
	}

	rec = serve(mux, http.MethodGet, "/images/products/missing.jpg", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing image status = %d, want 404", rec.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"admin disabled", "", "anything", http.StatusForbidden},
		{"no token", testToken, "", http.StatusUnauthorized},
		{"wrong token", testToken, "nope", http.StatusUnauthorized},
		{"valid token", testToken, testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, tt.configured, 100)
			rec := serve(h.Routes(), http.MethodGet, "/admin/settings", tt.sent, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAdminRateLimit(t *testing.T) {
	h, _ := newTestHandler(t, testToken, 1)
	mux := h.Routes()

	if rec := serve(mux, http.MethodGet, "/admin/settings", testToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/admin/settings", testToken, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}

func TestUpdateSettingsAndBatchStatus(t *testing.T) {
	h, store := newTestHandler(t, testToken, 100)
	mux := h.Routes()
	testutil.Put(t, store, "products/a.jpg", testutil.JPEG(t, 100, 100))

	rec := serve(mux, http.MethodPut, "/admin/settings", testToken, []byte(`{"business_address":"1 Main St"}`))
	var resp struct {
		BatchID      string `json:"batch_id"`
		Regenerating bool   `json:"regenerating"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec.Code != http.StatusOK || resp.Regenerating {
		t.Errorf("non-visual update = %d %+v, want 200 without regeneration", rec.Code, resp)
	}

	rec = serve(mux, http.MethodPut, "/admin/settings", testToken, []byte(`{"watermark_opacity":"70"}`))
	resp.BatchID, resp.Regenerating = "", false
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Regenerating || resp.BatchID == "" {
		t.Fatalf("visual update = %+v, want a batch", resp)
	}
	h.Engine.Wait()

	rec = serve(mux, http.MethodGet, "/admin/batches/"+resp.BatchID, testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status code = %d, want 200", rec.Code)
	}
	var batch struct {
		Status     string `json:"status"`
		Successful int    `json:"successful"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if batch.Status != "completed" || batch.Successful != 1 {
		t.Errorf("batch = %+v, want completed with 1 success", batch)
	}

	rec = serve(mux, http.MethodGet, "/admin/batches/unknown", testToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown batch status = %d, want 404", rec.Code)
	}

	rec = serve(mux, http.MethodPut, "/admin/settings", testToken, []byte(`not json`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	h, _ := newTestHandler(t, testToken, 100)
	mux := h.Routes()

	tests := []struct {
		method string
		target string
		want   int
		body   string
	}{
		{http.MethodGet, "/admin/cache/stats", http.StatusOK, `"count":0`},
		{http.MethodPost, "/admin/cache/cleanup?days=7", http.StatusOK, `"deleted":0`},
		{http.MethodPost, "/admin/cache/cleanup?days=-1", http.StatusBadRequest, "non-negative"},
		{http.MethodPost, "/admin/cache/cleanup", http.StatusBadRequest, "non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := serve(mux, tt.method, tt.target, testToken, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), tt.body) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	h, store := newTestHandler(t, testToken, 100)
	mux := h.Routes()
	testutil.Put(t, store, "products/a.png", testutil.PNG(t, testutil.Gradient(100, 80)))

	rec := serve(mux, http.MethodGet, "/admin/preview/products/a.png", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", got)
	}

	rec = serve(mux, http.MethodGet, "/admin/preview/products/none.png", testToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing preview status = %d, want 404", rec.Code)
	}
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"products/a.jpg", "products/a.jpg", true},
		{"products//a.jpg", "products/a.jpg", true},
		{"products/./a.jpg", "products/a.jpg", true},
		{"../etc/passwd", "", false},
		{"products/../../x", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := cleanKey(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("cleanKey(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, "", 1)
	rec := serve(h.Routes(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /healthz = %d %q, want 200 OK", rec.Code, rec.Body.String())
	}
}
