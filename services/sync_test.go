package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"citypulse/config"
	"citypulse/metrics"
	"citypulse/models"
	"citypulse/source"
	"citypulse/storage"
	"citypulse/utils"
)

// fakePage is one page a fakePlaceSource serves.
type fakePage struct {
	records []models.RawPlace
	next    bool
}

// fakePlaceSource serves canned pages per place type and counts fetches.
type fakePlaceSource struct {
	pages      map[string][]fakePage
	pageErr    map[string]error
	details    map[string]*models.RawPlaceDetail
	fetchCalls map[string]int
}

func newFakePlaceSource() *fakePlaceSource {
	return &fakePlaceSource{
		pages:      make(map[string][]fakePage),
		pageErr:    make(map[string]error),
		details:    make(map[string]*models.RawPlaceDetail),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakePlaceSource) FetchPage(_ context.Context, placeType, cursor string) ([]models.RawPlace, string, error) {
	f.fetchCalls[placeType]++
	if err := f.pageErr[placeType]; err != nil {
		return nil, "", err
	}

	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	pages := f.pages[placeType]
	if idx >= len(pages) {
		return nil, "", nil
	}

	page := pages[idx]
	next := ""
	if page.next {
		next = strconv.Itoa(idx + 1)
	}
	return page.records, next, nil
}

func (f *fakePlaceSource) FetchDetail(_ context.Context, placeID string) (*models.RawPlaceDetail, error) {
	return f.details[placeID], nil
}

// fakeEventSource serves a fixed candidate list.
type fakeEventSource struct {
	events []models.RawEvent
}

func (f *fakeEventSource) FetchEvents(_ context.Context) []models.RawEvent {
	return f.events
}

// fakeCatalog is an in-memory storage.Catalog with injectable failures.
type fakeCatalog struct {
	mu          sync.Mutex
	places      map[string]*models.Place
	events      map[string]*models.Event
	audits      []int
	failPlaceID string
	wipeErr     error
	wipeCalls   int
	auditErr    error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		places: make(map[string]*models.Place),
		events: make(map[string]*models.Event),
	}
}

func (c *fakeCatalog) UpsertPlace(_ context.Context, p *models.Place) (storage.UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.PlaceID == c.failPlaceID && c.failPlaceID != "" {
		return 0, errors.New("injected upsert failure")
	}
	_, exists := c.places[p.PlaceID]
	c.places[p.PlaceID] = p
	if exists {
		return storage.Updated, nil
	}
	return storage.Inserted, nil
}

func (c *fakeCatalog) UpsertEvent(_ context.Context, e *models.Event) (storage.UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.events[e.Title]
	c.events[e.Title] = e
	if exists {
		return storage.Updated, nil
	}
	return storage.Inserted, nil
}

func (c *fakeCatalog) PlaceExists(_ context.Context, placeID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.places[placeID]
	return ok, nil
}

func (c *fakeCatalog) GetPlace(_ context.Context, placeID string) (*models.Place, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.places[placeID]; ok {
		return p, nil
	}
	return nil, nil
}

func (c *fakeCatalog) ListPlaces(_ context.Context, _ storage.ListFilter) ([]*models.Place, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Place, 0, len(c.places))
	for _, p := range c.places {
		out = append(out, p)
	}
	return out, nil
}

func (c *fakeCatalog) ListEvents(_ context.Context, _ int) ([]*models.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Event, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e)
	}
	return out, nil
}

func (c *fakeCatalog) CountPlaces(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.places), nil
}

func (c *fakeCatalog) CountEvents(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events), nil
}

func (c *fakeCatalog) CountByCategory(_ context.Context) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int)
	for _, p := range c.places {
		out[p.Category]++
	}
	return out, nil
}

func (c *fakeCatalog) AppendAudit(_ context.Context, total int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auditErr != nil {
		return c.auditErr
	}
	c.audits = append(c.audits, total)
	return nil
}

func (c *fakeCatalog) LastAudit(_ context.Context) (*models.RunAudit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.audits) == 0 {
		return nil, nil
	}
	return &models.RunAudit{TotalRecords: c.audits[len(c.audits)-1]}, nil
}

func (c *fakeCatalog) WipeEvents(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipeCalls++
	if c.wipeErr != nil {
		return c.wipeErr
	}
	c.events = make(map[string]*models.Event)
	return nil
}

func (c *fakeCatalog) Close() error { return nil }

func rawPlace(id, name string) models.RawPlace {
	p := models.RawPlace{PlaceID: id, Name: name, Vicinity: "Palma 123"}
	p.Geometry.Location.Lat = -25.28
	p.Geometry.Location.Lng = -57.63
	return p
}

func testCatalogConfig(categories map[string][]string) *config.Catalog {
	return &config.Catalog{
		Categories: categories,
		Agenda: config.AgendaConfig{
			MinTitleLen:        12,
			DefaultVenue:       "Asunción",
			DefaultDateText:    "Consultar sitio",
			DefaultDescription: "Agenda cultural",
		},
	}
}

func newTestOrchestrator(src *fakePlaceSource, agenda *fakeEventSource, store *fakeCatalog, cat *config.Catalog, quota int) *Orchestrator {
	m := metrics.New(prometheus.NewRegistry())
	norm := NewNormalizer(cat.Agenda)
	// A nil *fakeEventSource must become a nil interface, not a typed nil.
	var events source.EventSource
	if agenda != nil {
		events = agenda
	}
	return NewOrchestrator(src, events, store, norm, cat, quota, utils.NewLogger(), m)
}

func TestRunOnceQuotaStopsPaging(t *testing.T) {
	src := newFakePlaceSource()

	// 25 records across two pages with a third page available; a quota of 20
	// must leave the third page unfetched.
	page1 := make([]models.RawPlace, 15)
	for i := range page1 {
		page1[i] = rawPlace(fmt.Sprintf("p1-%d", i), fmt.Sprintf("Place %d", i))
	}
	page2 := make([]models.RawPlace, 10)
	for i := range page2 {
		page2[i] = rawPlace(fmt.Sprintf("p2-%d", i), fmt.Sprintf("Place %d", 15+i))
	}
	src.pages["museum"] = []fakePage{
		{records: page1, next: true},
		{records: page2, next: true},
		{records: []models.RawPlace{rawPlace("p3-0", "Never fetched")}},
	}

	store := newFakeCatalog()
	cat := testCatalogConfig(map[string][]string{"cultura": {"museum"}})
	orch := newTestOrchestrator(src, nil, store, cat, 20)

	report := orch.RunOnce(context.Background())

	if report.TotalFound != 20 {
		t.Errorf("TotalFound = %d, want 20", report.TotalFound)
	}
	if got := len(store.places); got != 20 {
		t.Errorf("stored places = %d, want 20", got)
	}
	if calls := src.fetchCalls["museum"]; calls != 2 {
		t.Errorf("page fetches = %d, want 2 (third page must not be fetched)", calls)
	}
}

func TestRunOnceIdempotent(t *testing.T) {
	src := newFakePlaceSource()
	src.pages["restaurant"] = []fakePage{{records: []models.RawPlace{
		rawPlace("lido", "Lido Bar"),
		rawPlace("bolsi", "Bolsi"),
	}}}

	store := newFakeCatalog()
	cat := testCatalogConfig(map[string][]string{"comida": {"restaurant"}})
	orch := newTestOrchestrator(src, nil, store, cat, 60)

	first := orch.RunOnce(context.Background())
	if first.TotalNew != 2 || first.TotalUpdated != 0 {
		t.Fatalf("first run: new=%d updated=%d, want 2/0", first.TotalNew, first.TotalUpdated)
	}

	second := orch.RunOnce(context.Background())
	if second.TotalNew != 0 || second.TotalUpdated != 2 {
		t.Errorf("second run: new=%d updated=%d, want 0/2", second.TotalNew, second.TotalUpdated)
	}
	if got := len(store.places); got != 2 {
		t.Errorf("stored places after re-run = %d, want 2", got)
	}
}

func TestRunOnceTransientPageFailure(t *testing.T) {
	src := newFakePlaceSource()
	src.pageErr["museum"] = errors.New("injected fetch failure")
	src.pages["park"] = []fakePage{{records: []models.RawPlace{rawPlace("nu", "Parque Ñu Guasú")}}}

	store := newFakeCatalog()
	cat := testCatalogConfig(map[string][]string{
		"cultura":    {"museum"},
		"recreacion": {"park"},
	})
	orch := newTestOrchestrator(src, nil, store, cat, 60)

	report := orch.RunOnce(context.Background())

	if report.ByCategory["cultura"] != 0 {
		t.Errorf("cultura count = %d, want 0 after page failure", report.ByCategory["cultura"])
	}
	if report.ByCategory["recreacion"] != 1 {
		t.Errorf("recreacion count = %d, want 1 — run must continue past the failed type", report.ByCategory["recreacion"])
	}
}

func TestRunOncePerRecordErrorSkips(t *testing.T) {
	src := newFakePlaceSource()
	src.pages["cafe"] = []fakePage{{records: []models.RawPlace{
		rawPlace("ok-1", "Café Literario"),
		rawPlace("boom", "El Café Roto"),
		rawPlace("ok-2", "Café de Acá"),
	}}}

	store := newFakeCatalog()
	store.failPlaceID = "boom"
	cat := testCatalogConfig(map[string][]string{"comida": {"cafe"}})
	orch := newTestOrchestrator(src, nil, store, cat, 60)

	report := orch.RunOnce(context.Background())

	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	// Found counts every observed record, including the skipped one.
	if report.TotalFound != 3 {
		t.Errorf("TotalFound = %d, want 3", report.TotalFound)
	}
	if report.TotalNew != 2 {
		t.Errorf("TotalNew = %d, want 2", report.TotalNew)
	}
	if _, ok := store.places["ok-2"]; !ok {
		t.Error("record after the failing one was not processed")
	}
}

func TestRunOnceMalformedRecordSkipped(t *testing.T) {
	src := newFakePlaceSource()
	src.pages["bar"] = []fakePage{{records: []models.RawPlace{
		{Name: "Sin identidad"}, // no place_id
		rawPlace("ok", "Bar San Roque"),
	}}}

	store := newFakeCatalog()
	cat := testCatalogConfig(map[string][]string{"comida": {"bar"}})
	orch := newTestOrchestrator(src, nil, store, cat, 60)

	report := orch.RunOnce(context.Background())

	if report.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", report.Skipped)
	}
	if report.TotalFound != 2 {
		t.Errorf("TotalFound = %d, want 2 (malformed record still observed)", report.TotalFound)
	}
	if report.TotalNew != 1 {
		t.Errorf("TotalNew = %d, want 1", report.TotalNew)
	}
}

func TestRunOnceDetailEnrichment(t *testing.T) {
	src := newFakePlaceSource()
	src.pages["museum"] = []fakePage{{records: []models.RawPlace{rawPlace("cabildo", "El Cabildo")}}}
	detail := &models.RawPlaceDetail{Phone: "+595 21 443 094", Website: "https://www.cabildoccr.gov.py"}
	src.details["cabildo"] = detail

	store := newFakeCatalog()
	cat := testCatalogConfig(map[string][]string{"cultura": {"museum"}})
	orch := newTestOrchestrator(src, nil, store, cat, 60)

	orch.RunOnce(context.Background())

	p := store.places["cabildo"]
	if p == nil {
		t.Fatal("place not stored")
	}
	if p.Phone != detail.Phone || p.Website != detail.Website {
		t.Errorf("detail fields not applied: phone=%q website=%q", p.Phone, p.Website)
	}
}

func TestAgendaDuplicateTitleKeepsOneRow(t *testing.T) {
	agenda := &fakeEventSource{events: []models.RawEvent{
		{Title: "Feria de Artesanos del Paraguay", URL: "https://a.example/feria", SourceURL: "https://a.example"},
		{Title: "feria de Artesanos del Paraguay", URL: "https://b.example/agenda/feria", SourceURL: "https://b.example"},
	}}

	store := newFakeCatalog()
	cat := testCatalogConfig(map[string][]string{"cultura": {"museum"}})
	orch := newTestOrchestrator(newFakePlaceSource(), agenda, store, cat, 60)

	report := orch.RunOnce(context.Background())

	if got := len(store.events); got != 1 {
		t.Fatalf("stored events = %d, want 1 (title is the identity key)", got)
	}
	e := store.events["Feria de Artesanos del Paraguay"]
	if e == nil {
		t.Fatal("event stored under unexpected key")
	}
	if e.URL != "https://b.example/agenda/feria" {
		t.Errorf("URL = %q, want the later observation's URL", e.URL)
	}
	if report.EventsFound != 2 {
		t.Errorf("EventsFound = %d, want 2 (both observations processed)", report.EventsFound)
	}
}

func TestAgendaWipeFailureSkipsPass(t *testing.T) {
	agenda := &fakeEventSource{events: []models.RawEvent{
		{Title: "Concierto en el Jardín Botánico", URL: "https://a.example/c"},
	}}

	store := newFakeCatalog()
	store.wipeErr = errors.New("injected wipe failure")
	cat := testCatalogConfig(map[string][]string{"cultura": {"museum"}})
	orch := newTestOrchestrator(newFakePlaceSource(), agenda, store, cat, 60)

	report := orch.RunOnce(context.Background())

	if report.EventsFound != 0 {
		t.Errorf("EventsFound = %d, want 0 when the wipe fails", report.EventsFound)
	}
	if len(store.events) != 0 {
		t.Error("events were upserted despite the failed wipe")
	}
}

func TestTryRunOnceRejectsOverlap(t *testing.T) {
	store := newFakeCatalog()
	cat := testCatalogConfig(map[string][]string{"cultura": {"museum"}})
	orch := newTestOrchestrator(newFakePlaceSource(), nil, store, cat, 60)

	orch.running.Store(true)
	if _, ok := orch.TryRunOnce(context.Background()); ok {
		t.Error("TryRunOnce succeeded while another run was active")
	}
	orch.running.Store(false)

	if _, ok := orch.TryRunOnce(context.Background()); !ok {
		t.Error("TryRunOnce failed with no active run")
	}
	if orch.Running() {
		t.Error("Running() still true after the run finished")
	}
}

func TestRunOnceCancelledContextStopsPaging(t *testing.T) {
	src := newFakePlaceSource()
	src.pages["museum"] = []fakePage{{records: []models.RawPlace{rawPlace("x", "X")}, next: true}}

	store := newFakeCatalog()
	cat := testCatalogConfig(map[string][]string{"cultura": {"museum"}})
	orch := newTestOrchestrator(src, nil, store, cat, 60)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := orch.RunOnce(ctx)
	if report.TotalFound != 0 {
		t.Errorf("TotalFound = %d, want 0 with a cancelled context", report.TotalFound)
	}
	if src.fetchCalls["museum"] != 0 {
		t.Errorf("fetch calls = %d, want 0 with a cancelled context", src.fetchCalls["museum"])
	}
}
