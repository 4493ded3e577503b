package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-coordinator/internal/config"
	"github.com/JakeFAU/storefront-coordinator/internal/coord"
	pubmemory "github.com/JakeFAU/storefront-coordinator/internal/publisher/memory"
	"github.com/JakeFAU/storefront-coordinator/internal/quota"
	"github.com/JakeFAU/storefront-coordinator/internal/relay"
	"github.com/JakeFAU/storefront-coordinator/internal/selection"
	"github.com/JakeFAU/storefront-coordinator/internal/state"
	"github.com/JakeFAU/storefront-coordinator/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeIDGen struct{ next string }

func (g *fakeIDGen) NewID() (string, error) { return g.next, nil }

type testServer struct {
	server   *Server
	clock    *fakeClock
	quota    *quota.Counter
	selected *selection.Registry
	products *memory.ProductStore
	blobs    *memory.BlobStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clock := &fakeClock{now: time.Unix(5000, 0).UTC()}
	cfg := config.Config{
		Run: config.RunConfig{
			TargetProducts:      100,
			StoreSampleSize:     10,
			StuckThreshold:      5,
			VisitTimeoutSeconds: 120,
		},
	}
	selected := selection.NewRegistry()
	quotaCounter := quota.NewCounter(cfg.Run.TargetProducts)
	states := state.NewStore(state.Config{
		StuckThreshold: cfg.Run.StuckThreshold,
		VisitTimeout:   cfg.VisitTimeout(),
	}, clock, nil, zap.NewNop())
	products := memory.NewProductStore()
	blobs := memory.NewBlobStore()
	ingest := relay.New(
		selected, quotaCounter, products, blobs, pubmemory.New(), nil, clock, nil,
		relay.Config{OperatorKey: "op-test", Topic: "products"}, zap.NewNop(),
	)
	server := NewServer(
		states, quotaCounter, selected, ingest, nil,
		&fakeIDGen{next: "run-generated"}, clock, cfg,
		prometheus.NewRegistry(), zap.NewNop(),
	)
	return &testServer{
		server:   server,
		clock:    clock,
		quota:    quotaCounter,
		selected: selected,
		products: products,
		blobs:    blobs,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func candidateList(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"id":           fmt.Sprintf("store-%02d", i),
			"url":          fmt.Sprintf("https://market.example/store-%02d", i),
			"productCount": (i + 1) * 10,
		}
	}
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_SelectStores(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/links", map[string]any{
		"runId":  "run-1",
		"stores": candidateList(15),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[selectResponse](t, rec)
	require.Equal(t, "run-1", resp.RunID)
	require.Len(t, resp.Selected, 10)
	require.Equal(t, 100, resp.TargetProducts)
	require.Equal(t, 10, ts.selected.Count("run-1"))
}

func TestServer_SelectStores_GeneratesRunID(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/links", map[string]any{"stores": candidateList(3)})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[selectResponse](t, rec)
	require.Equal(t, "run-generated", resp.RunID)
}

func TestServer_SelectStores_Validation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/links", []byte("{invalid")).Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/links", map[string]any{"stores": []any{}}).Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/links", map[string]any{
		"stores": []map[string]any{{"url": "https://x"}},
	}).Code)
}

func TestServer_SelectStores_ResetsQuota(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.quota.TryReserve(100)
	require.True(t, ts.quota.Status().ShouldStop)

	ts.do(t, http.MethodPost, "/links", map[string]any{"runId": "run-1", "stores": candidateList(5)})
	status := ts.quota.Status()
	require.Zero(t, status.Total)
	require.False(t, status.ShouldStop)
}

func TestServer_SetState(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/state", map[string]any{
		"storeId":  "Store-A",
		"runId":    "run-1",
		"state":    "visiting",
		"lock":     true,
		"expected": 20,
		"progress": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[coord.StoreState](t, rec)
	require.Equal(t, "store-a", got.StoreID)
	require.Equal(t, coord.StatusVisiting, got.State)
	require.True(t, got.Lock)
	require.Equal(t, 20, got.Expected)
	require.Equal(t, 2, got.Progress)
}

func TestServer_SetState_Validation(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/state", []byte("not json")).Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/state", map[string]any{
		"runId": "run-1", "state": "visiting",
	}).Code)

	rec := ts.do(t, http.MethodPost, "/state", map[string]any{
		"storeId": "store-a", "runId": "run-1", "state": "exploding",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown store state")
}

func TestServer_GetState_SynthesizesDefault(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/state?storeId=store-a&runId=run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[coord.StoreState](t, rec)
	require.Equal(t, coord.StatusWaiting, got.State)
	require.False(t, got.Lock)
	require.Zero(t, got.Progress)
}

func TestServer_GetState_MissingStoreID(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/state?runId=run-1", nil).Code)
}

func TestServer_GetState_NudgesStuckVisit(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/state", map[string]any{
		"storeId": "store-a", "runId": "run-1", "state": "visiting", "lock": true,
		"expected": 30, "progress": 4,
	})

	for i := 0; i < 4; i++ {
		got := decode[coord.StoreState](t, ts.do(t, http.MethodGet, "/state?storeId=store-a&runId=run-1", nil))
		require.Equal(t, 4, got.Progress)
	}
	got := decode[coord.StoreState](t, ts.do(t, http.MethodGet, "/state?storeId=store-a&runId=run-1", nil))
	require.Equal(t, 5, got.Progress)
}

func TestServer_GetState_TimesOutStaleVisit(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/state", map[string]any{
		"storeId": "store-a", "runId": "run-1", "state": "visiting", "lock": true,
	})

	ts.clock.Advance(2*time.Minute + time.Second)
	got := decode[coord.StoreState](t, ts.do(t, http.MethodGet, "/state?storeId=store-a&runId=run-1", nil))
	require.Equal(t, coord.StatusDone, got.State)
	require.False(t, got.Lock)
}

func TestServer_PostProgress(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/progress", map[string]any{
		"storeId": "store-a", "runId": "run-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"progress":1`)

	rec = ts.do(t, http.MethodPost, "/progress", map[string]any{
		"storeId": "store-a", "runId": "run-1", "inc": 5,
	})
	require.Contains(t, rec.Body.String(), `"progress":6`)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/progress", map[string]any{
		"storeId": "store-a", "inc": -2,
	}).Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/progress", map[string]any{}).Code)
}

func TestServer_Visit(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.selected.Select("run-1", []coord.Candidate{{StoreID: "store-a"}}, 1)

	resp := decode[visitResponse](t, ts.do(t, http.MethodPost, "/visit", map[string]any{
		"storeId": "store-a", "runId": "run-1",
	}))
	require.True(t, resp.Success)
	require.Equal(t, 100, resp.TargetProducts)

	resp = decode[visitResponse](t, ts.do(t, http.MethodPost, "/visit", map[string]any{
		"storeId": "store-x", "runId": "run-1",
	}))
	require.True(t, resp.Skip)

	ts.quota.TryReserve(100)
	resp = decode[visitResponse](t, ts.do(t, http.MethodPost, "/visit", map[string]any{
		"storeId": "store-a", "runId": "run-1",
	}))
	require.True(t, resp.Stop)
	require.Equal(t, 100, resp.CurrentProducts)
}

func TestServer_ProductImage(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.selected.Select("run-1", []coord.Candidate{{StoreID: "store-a"}}, 1)

	data := base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	rec := ts.do(t, http.MethodPost, "/product-image", []byte(fmt.Sprintf(
		`{"storeId":"store-a","runId":"run-1","productId":"p1","data":%q}`, data,
	)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mem://artifacts/store-a/p1/image")
	require.Equal(t, 1, ts.blobs.Len())
}

func TestServer_GongguCheck(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.selected.Select("run-1", []coord.Candidate{{StoreID: "store-a"}}, 1)
	ts.do(t, http.MethodPost, "/product-data", map[string]any{
		"storeId": "store-a", "runId": "run-1",
		"products": []map[string]any{{"productId": "p1"}},
	})

	rec := ts.do(t, http.MethodPost, "/gonggu-check", map[string]any{
		"storeId": "store-a", "productId": "p1",
	})
	require.Contains(t, rec.Body.String(), `"duplicate":true`)

	rec = ts.do(t, http.MethodPost, "/gonggu-check", map[string]any{
		"storeId": "store-a", "productId": "p2",
	})
	require.Contains(t, rec.Body.String(), `"duplicate":false`)
}

func TestServer_WorkerLog(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/log", map[string]any{"level": "warn", "message": "tab stalled"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/log", map[string]any{"level": "warn"}).Code)
}

func TestServer_EndToEndScenario(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	// 15 discovered stores, select 10.
	rec := ts.do(t, http.MethodPost, "/links", map[string]any{
		"runId":  "run-e2e",
		"stores": candidateList(15),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sel := decode[selectResponse](t, rec)
	require.Len(t, sel.Selected, 10)

	selected := make(map[string]bool, 10)
	for _, c := range sel.Selected {
		selected[c.StoreID] = true
	}
	var inA, inB, out string
	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("store-%02d", i)
		switch {
		case selected[id] && inA == "":
			inA = id
		case selected[id] && inB == "":
			inB = id
		case !selected[id] && out == "":
			out = id
		}
	}
	require.NotEmpty(t, inA)
	require.NotEmpty(t, inB)
	require.NotEmpty(t, out)

	batch := func(storeID string, n int) map[string]any {
		products := make([]map[string]any, n)
		for i := range products {
			products[i] = map[string]any{"productId": fmt.Sprintf("%s-p%03d", storeID, i)}
		}
		return map[string]any{"storeId": storeID, "runId": "run-e2e", "products": products}
	}

	// A non-selected store is skipped and does not move the counter.
	resp := decode[productDataResponse](t, ts.do(t, http.MethodPost, "/product-data", batch(out, 5)))
	require.True(t, resp.Skip)
	require.Zero(t, ts.quota.Status().Total)

	// 60 then 50 products against target 100.
	resp = decode[productDataResponse](t, ts.do(t, http.MethodPost, "/product-data", batch(inA, 60)))
	require.True(t, resp.Success)
	require.False(t, resp.Stop)
	require.Equal(t, 60, resp.Accepted)
	require.Equal(t, 60, resp.TotalProducts)

	resp = decode[productDataResponse](t, ts.do(t, http.MethodPost, "/product-data", batch(inB, 50)))
	require.True(t, resp.Stop)
	require.Equal(t, 40, resp.Accepted)
	require.Equal(t, 100, resp.TotalProducts)
	require.True(t, resp.ShouldStop)

	status := decode[statusResponse](t, ts.do(t, http.MethodGet, "/status", nil))
	require.Equal(t, 100, status.Total)
	require.Equal(t, 100, status.Target)
	require.True(t, status.ShouldStop)
	require.Equal(t, 10, status.SelectedStores)
	require.InDelta(t, 100.0, status.Progress, 0.001)
}

func TestServer_DropRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/links", map[string]any{"runId": "run-1", "stores": candidateList(5)})
	ts.do(t, http.MethodPost, "/state", map[string]any{
		"storeId": "store-a", "runId": "run-1", "state": "collecting",
	})

	rec := ts.do(t, http.MethodDelete, "/run?runId=run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"droppedStates":1`)
	require.Zero(t, ts.selected.Count("run-1"))

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodDelete, "/run", nil).Code)
}

func TestServer_Status_EmptyRun(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	status := decode[statusResponse](t, ts.do(t, http.MethodGet, "/status", nil))
	require.Zero(t, status.Total)
	require.Equal(t, 100, status.Target)
	require.False(t, status.ShouldStop)
	require.Zero(t, status.SelectedStores)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
