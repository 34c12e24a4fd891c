package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"citypulse/config"
	"citypulse/metrics"
	"citypulse/models"
	"citypulse/services"
	"citypulse/storage"
	"citypulse/utils"
)

// fakeStore is a canned storage.Catalog for handler tests.
type fakeStore struct {
	places map[string]*models.Place
	events []*models.Event
	audit  *models.RunAudit
}

func newFakeStore() *fakeStore {
	return &fakeStore{places: make(map[string]*models.Place)}
}

func (f *fakeStore) UpsertPlace(_ context.Context, p *models.Place) (storage.UpsertResult, error) {
	_, exists := f.places[p.PlaceID]
	f.places[p.PlaceID] = p
	if exists {
		return storage.Updated, nil
	}
	return storage.Inserted, nil
}

func (f *fakeStore) UpsertEvent(_ context.Context, e *models.Event) (storage.UpsertResult, error) {
	f.events = append(f.events, e)
	return storage.Inserted, nil
}

func (f *fakeStore) PlaceExists(_ context.Context, placeID string) (bool, error) {
	_, ok := f.places[placeID]
	return ok, nil
}

func (f *fakeStore) GetPlace(_ context.Context, placeID string) (*models.Place, error) {
	return f.places[placeID], nil
}

func (f *fakeStore) ListPlaces(_ context.Context, filter storage.ListFilter) ([]*models.Place, error) {
	switch filter.Order {
	case "", "rating", "name", "updated", "created":
	default:
		return nil, storage.ErrInvalidOrder
	}
	out := make([]*models.Place, 0, len(f.places))
	for _, p := range f.places {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) ListEvents(_ context.Context, _ int) ([]*models.Event, error) {
	return f.events, nil
}

func (f *fakeStore) CountPlaces(_ context.Context) (int, error) { return len(f.places), nil }
func (f *fakeStore) CountEvents(_ context.Context) (int, error) { return len(f.events), nil }

func (f *fakeStore) CountByCategory(_ context.Context) (map[string]int, error) {
	out := make(map[string]int)
	for _, p := range f.places {
		out[p.Category]++
	}
	return out, nil
}

func (f *fakeStore) AppendAudit(_ context.Context, total int) error {
	f.audit = &models.RunAudit{RunAt: time.Now(), TotalRecords: total}
	return nil
}

func (f *fakeStore) LastAudit(_ context.Context) (*models.RunAudit, error) { return f.audit, nil }
func (f *fakeStore) WipeEvents(_ context.Context) error                    { f.events = nil; return nil }
func (f *fakeStore) Close() error                                          { return nil }

// stubSource serves nothing; gate, when set, blocks FetchPage until closed.
type stubSource struct {
	gate chan struct{}
}

func (s *stubSource) FetchPage(_ context.Context, _, _ string) ([]models.RawPlace, string, error) {
	if s.gate != nil {
		<-s.gate
	}
	return nil, "", nil
}

func (s *stubSource) FetchDetail(_ context.Context, _ string) (*models.RawPlaceDetail, error) {
	return nil, nil
}

func testCatalog() *config.Catalog {
	return &config.Catalog{
		Categories: map[string][]string{
			"comida":  {"restaurant"},
			"cultura": {"museum"},
		},
		Agenda: config.AgendaConfig{MinTitleLen: 12},
	}
}

func newTestServer(store storage.Catalog, src *stubSource, gatherer prometheus.Gatherer) *Server {
	cat := testCatalog()
	logger := utils.NewLogger()
	m := metrics.New(prometheus.NewRegistry())
	orch := services.NewOrchestrator(src, nil, store, services.NewNormalizer(cat.Agenda), cat, 60, logger, m)
	return NewServer(store, cat, orch, logger, gatherer)
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Kind
}

func TestHealth(t *testing.T) {
	s := newTestServer(newFakeStore(), &stubSource{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListPlacesFiltersByCategory(t *testing.T) {
	store := newFakeStore()
	store.places["lido"] = &models.Place{PlaceID: "lido", Name: "Lido Bar", Category: "comida"}
	store.places["mbc"] = &models.Place{PlaceID: "mbc", Name: "Museo del Barro", Category: "cultura"}

	s := newTestServer(store, &stubSource{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/places?categoria=comida")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 1 {
		t.Errorf("total = %d, want 1", body.Total)
	}
}

func TestListPlacesRejectsUnknownCategory(t *testing.T) {
	s := newTestServer(newFakeStore(), &stubSource{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/places?categoria=nightlife")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "invalid_category" {
		t.Errorf("error kind = %q, want invalid_category", kind)
	}
}

func TestListPlacesRejectsBadLimit(t *testing.T) {
	s := newTestServer(newFakeStore(), &stubSource{}, nil)
	for _, raw := range []string{"abc", "0", "-5"} {
		rec := doRequest(t, s, http.MethodGet, "/api/places?limit="+raw)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%q: status = %d, want 400", raw, rec.Code)
			continue
		}
		if kind := errorKind(t, rec); kind != "invalid_limit" {
			t.Errorf("limit=%q: error kind = %q, want invalid_limit", raw, kind)
		}
	}
}

func TestListPlacesRejectsBadOrder(t *testing.T) {
	s := newTestServer(newFakeStore(), &stubSource{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/places?orden=password")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "invalid_order" {
		t.Errorf("error kind = %q, want invalid_order", kind)
	}
}

func TestGetPlace(t *testing.T) {
	store := newFakeStore()
	store.places["lido"] = &models.Place{PlaceID: "lido", Name: "Lido Bar", Category: "comida"}

	s := newTestServer(store, &stubSource{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/places/lido")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/places/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "not_found" {
		t.Errorf("error kind = %q, want not_found", kind)
	}
}

func TestCategoriesIncludeCounts(t *testing.T) {
	store := newFakeStore()
	store.places["lido"] = &models.Place{PlaceID: "lido", Category: "comida"}
	store.places["bolsi"] = &models.Place{PlaceID: "bolsi", Category: "comida"}

	s := newTestServer(store, &stubSource{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/categories")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Categories []struct {
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"categories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Categories) != 2 {
		t.Fatalf("categories = %d, want 2", len(body.Categories))
	}
	for _, c := range body.Categories {
		if c.Name == "comida" && c.Count != 2 {
			t.Errorf("comida count = %d, want 2", c.Count)
		}
		if c.Name == "cultura" && c.Count != 0 {
			t.Errorf("cultura count = %d, want 0", c.Count)
		}
	}
}

func TestStatsIncludeLastRun(t *testing.T) {
	store := newFakeStore()
	store.places["lido"] = &models.Place{PlaceID: "lido", Category: "comida"}
	store.audit = &models.RunAudit{RunAt: time.Now(), TotalRecords: 1}

	s := newTestServer(store, &stubSource{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		TotalPlaces int `json:"total_places"`
		LastRun     *struct {
			TotalRecords int `json:"total_records"`
		} `json:"last_run"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TotalPlaces != 1 {
		t.Errorf("total_places = %d, want 1", body.TotalPlaces)
	}
	if body.LastRun == nil || body.LastRun.TotalRecords != 1 {
		t.Errorf("last_run = %+v, want total_records 1", body.LastRun)
	}
}

func TestSyncAnswersConflictWhileRunning(t *testing.T) {
	src := &stubSource{gate: make(chan struct{})}
	s := newTestServer(newFakeStore(), src, nil)

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- doRequest(t, s, http.MethodPost, "/api/sync")
	}()

	// Wait for the first run to block inside the source.
	deadline := time.After(2 * time.Second)
	for {
		rec := doRequest(t, s, http.MethodGet, "/api/stats")
		var body struct {
			SyncRunning bool `json:"sync_running"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode stats: %v", err)
		}
		if body.SyncRunning {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first sync never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	rec := doRequest(t, s, http.MethodPost, "/api/sync")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if kind := errorKind(t, rec); kind != "sync_in_progress" {
		t.Errorf("error kind = %q, want sync_in_progress", kind)
	}

	close(src.gate)
	first := <-firstDone
	if first.Code != http.StatusOK {
		t.Errorf("first sync status = %d, want 200", first.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	s := newTestServer(newFakeStore(), &stubSource{}, reg)

	rec := doRequest(t, s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
