package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/khanglvm/personalize/internal/config"
	"github.com/khanglvm/personalize/internal/engine"
	"github.com/khanglvm/personalize/internal/experiment"
	"github.com/khanglvm/personalize/internal/recommend"
	"github.com/khanglvm/personalize/internal/signals"
)

const catalogJSON = `{"items":[
  {"id":"tv-1","name":"OLED TV","category":"elektronik","price":999},
  {"id":"tv-2","name":"LED TV","category":"elektronik","price":899},
  {"id":"hose-1","name":"Garden hose","category":"garten","price":25}
]}`

const experimentsYAML = `
experiments:
  - id: exp-cta
    name: checkout-cta
    type: button
    target_id: checkout
    active: true
    variants:
      - name: control
        value: Buy now
      - name: green
        value: Complete order
    traffic_split:
      control: 50
      green: 50
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "catalog.json"), []byte(catalogJSON), 0644)
	os.WriteFile(filepath.Join(dir, "experiments.yaml"), []byte(experimentsYAML), 0644)

	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	cfg.Catalog.Path = filepath.Join(dir, "catalog.json")
	cfg.Experiments.Path = filepath.Join(dir, "experiments.yaml")
	cfg.Experiments.Watch = false
	cfg.Tracking.FlushInterval = 5 * time.Millisecond

	e, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	srv := httptest.NewServer(NewHandler(e).Routes())
	t.Cleanup(func() {
		srv.Close()
		e.Close()
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, device, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if device != "" {
		req.Header.Set(DeviceHeader, device)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	if resp := do(t, srv, http.MethodGet, "/healthz", "", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	resp := do(t, srv, http.MethodGet, "/metrics", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(sb.String(), "personalize_") {
		t.Error("expected personalize metrics in exposition")
	}
}

func TestVisitorHeaderRequired(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/api/v1/recommendations/for-you", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without device header, got %d", resp.StatusCode)
	}
}

func TestSignalsFlowIntoFeeds(t *testing.T) {
	srv := newTestServer(t)

	for _, c := range []struct{ path, body string }{
		{"/api/v1/signals/category", `{"category":"elektronik"}`},
		{"/api/v1/signals/item", `{"item_id":"tv-1"}`},
		{"/api/v1/signals/search", `{"term":"hose"}`},
	} {
		if resp := do(t, srv, http.MethodPost, c.path, "dev-1", c.body); resp.StatusCode != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", c.path, resp.StatusCode)
		}
	}

	var profile signals.BrowsingProfile
	decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/profile", "dev-1", ""), &profile)
	if profile.CategoryCounts["elektronik"] != 1 || len(profile.RecentlyViewed) != 1 || len(profile.RecentSearchTerms) != 1 {
		t.Errorf("unexpected profile %+v", profile)
	}

	var cont recommend.Feed
	decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/recommendations/continue?limit=4", "dev-1", ""), &cont)
	if ids := cont.ItemIDs(); len(ids) != 1 || ids[0] != "tv-2" {
		t.Errorf("expected [tv-2], got %v", ids)
	}

	var searches recommend.Feed
	decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/recommendations/searches", "dev-1", ""), &searches)
	if ids := searches.ItemIDs(); len(ids) == 0 || ids[0] != "hose-1" {
		t.Errorf("expected hose-1 first, got %v", ids)
	}
}

func TestBadBodies(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed", "/api/v1/signals/category", `{`},
		{"missing field", "/api/v1/signals/item", `{}`},
		{"negative conversion", "/api/v1/experiments/checkout-cta/conversion", `{"value":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := do(t, srv, http.MethodPost, tt.path, "dev-1", tt.body); resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestAnchoredFeeds(t *testing.T) {
	srv := newTestServer(t)

	var similar recommend.Feed
	decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/items/tv-1/similar?count=2", "", ""), &similar)
	if ids := similar.ItemIDs(); len(ids) == 0 || ids[0] != "tv-2" {
		t.Errorf("expected tv-2 first, got %v", ids)
	}

	var comp recommend.Feed
	decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/items/tv-1/complementary", "", ""), &comp)
	if ids := comp.ItemIDs(); len(ids) != 1 || ids[0] != "hose-1" {
		t.Errorf("expected [hose-1], got %v", ids)
	}
}

func TestExperimentEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var first, second experiment.Assignment
	decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/experiments/checkout-cta/assignment", "dev-1", ""), &first)
	decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/experiments/checkout-cta/assignment", "dev-1", ""), &second)
	if first.Variant == "" || first.Variant != second.Variant {
		t.Errorf("expected stable variant, got %q then %q", first.Variant, second.Variant)
	}

	if resp := do(t, srv, http.MethodGet, "/api/v1/experiments/nope/assignment", "dev-1", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown experiment, got %d", resp.StatusCode)
	}

	var converted experiment.Assignment
	decodeBody(t, do(t, srv, http.MethodPost, "/api/v1/experiments/checkout-cta/conversion", "dev-1", `{"value":12.5}`), &converted)
	if !converted.Converted || converted.ConversionValue == nil || *converted.ConversionValue != 12.5 {
		t.Errorf("unexpected conversion %+v", converted)
	}

	if resp := do(t, srv, http.MethodPost, "/api/v1/experiments/checkout-cta/conversion", "dev-2", `{"value":1}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 converting without assignment, got %d", resp.StatusCode)
	}

	var listed []struct {
		ID string `json:"id"`
	}
	decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/experiments?type=button&target_id=checkout", "", ""), &listed)
	if len(listed) != 1 || listed[0].ID != "exp-cta" {
		t.Errorf("unexpected experiments %+v", listed)
	}
	if resp := do(t, srv, http.MethodGet, "/api/v1/experiments", "", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without type, got %d", resp.StatusCode)
	}

	if resp := do(t, srv, http.MethodGet, "/api/v1/experiments/ghost/report", "", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 report for unknown experiment, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var report experiment.Report
		decodeBody(t, do(t, srv, http.MethodGet, "/api/v1/experiments/checkout-cta/report", "", ""), &report)
		var conversions int64
		for _, v := range report.Variants {
			conversions += v.Conversions
		}
		if conversions == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversion never reached the report: %+v", report)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLimitParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", DefaultLimit},
		{"limit=abc", DefaultLimit},
		{"limit=0", DefaultLimit},
		{"limit=7", 7},
		{"limit=5000", MaxLimit},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := limitParam(r, "limit"); got != tt.want {
			t.Errorf("%q: expected %d, got %d", tt.query, tt.want, got)
		}
	}
}
