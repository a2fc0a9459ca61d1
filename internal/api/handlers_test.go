package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tickerd/internal/recurrence"
	"tickerd/internal/regen"
	"tickerd/internal/storage"
	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

var apiNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeCoord struct {
	mu     sync.Mutex
	kicked []string
	passes int
}

func (f *fakeCoord) Kick(_ context.Context, id string) error {
	f.mu.Lock()
	f.kicked = append(f.kicked, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeCoord) RunPass(context.Context) (regen.PassStats, error) {
	f.mu.Lock()
	f.passes++
	f.mu.Unlock()
	return regen.PassStats{Started: apiNow, Considered: 1, OK: 1}, nil
}

func (f *fakeCoord) Snapshot() regen.Snapshot { return regen.Snapshot{Enabled: true} }

func (f *fakeCoord) kicks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kicked...)
}

func newTestServer(t *testing.T) (*httptest.Server, storage.Store, *fakeCoord) {
	t.Helper()
	store := storage.NewMemory()
	coord := &fakeCoord{}
	svc := New(Config{Enabled: true}, Deps{
		Store:    store,
		Coord:    coord,
		Calendar: recurrence.NewCalendarAt(time.UTC, func() time.Time { return apiNow }),
	}, logx.Nop())
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return srv, store, coord
}

func request(t *testing.T, method, url, body string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp
}

func TestCreateAndGetTicker(t *testing.T) {
	t.Parallel()
	srv, _, coord := newTestServer(t)

	var created tickerView
	resp := request(t, http.MethodPost, srv.URL+"/api/tickers",
		`{"label":"Standup","schedule":{"kind":"daily","time":"07:30"}}`, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if created.ID == "" || !created.Enabled {
		t.Fatalf("created = %+v, want enabled with id", created)
	}
	if created.Schedule.Kind != recurrence.KindDaily {
		t.Fatalf("Kind = %q, want daily", created.Schedule.Kind)
	}
	if created.NextOccurrence == nil {
		t.Fatal("NextOccurrence missing")
	}
	if kicks := coord.kicks(); len(kicks) != 1 || kicks[0] != created.ID {
		t.Fatalf("kicks = %v, want [%s]", kicks, created.ID)
	}

	var got tickerView
	resp = request(t, http.MethodGet, srv.URL+"/api/tickers/"+created.ID, "", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	if got.ID != created.ID {
		t.Fatalf("got id %q, want %q", got.ID, created.ID)
	}
}

func TestCreateRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	var er errorResponse
	resp := request(t, http.MethodPost, srv.URL+"/api/tickers",
		`{"label":"bad","schedule":{"kind":"interval","every":0,"unit":"hours","start":"2024-06-01T06:00:00Z"}}`, &er)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	if er.Error == "" {
		t.Fatal("error body missing")
	}
}

func TestGetUnknownTickerIs404(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	var er errorResponse
	resp := request(t, http.MethodGet, srv.URL+"/api/tickers/nope", "", &er)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestToggleResetsGeneration(t *testing.T) {
	t.Parallel()
	srv, store, coord := newTestServer(t)

	tk := ticker.New("tog-1", "Water plants", recurrence.Daily(recurrence.At(9, 0)), apiNow)
	tk.Enabled = false
	tk.Generation.LastRegeneratedAt = apiNow.Add(-time.Hour)
	tk.Generation.LastSuccess = true
	if err := store.Save(context.Background(), tk); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var got tickerView
	resp := request(t, http.MethodPost, srv.URL+"/api/tickers/tog-1/toggle", "", &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !got.Enabled {
		t.Fatal("ticker still disabled after toggle")
	}
	if got.Generation.State != ticker.StateNeverRegenerated {
		t.Fatalf("state = %q, want never_regenerated after enable", got.Generation.State)
	}
	if kicks := coord.kicks(); len(kicks) != 1 {
		t.Fatalf("kicks = %v, want one", kicks)
	}
}

func TestDeleteTicker(t *testing.T) {
	t.Parallel()
	srv, store, _ := newTestServer(t)

	tk := ticker.New("del-1", "Old", recurrence.Daily(recurrence.At(9, 0)), apiNow)
	if err := store.Save(context.Background(), tk); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp := request(t, http.MethodDelete, srv.URL+"/api/tickers/del-1", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if _, err := store.Get(context.Background(), "del-1"); err == nil {
		t.Fatal("ticker still in store after delete")
	}
}

func TestListIncludesHealthCounts(t *testing.T) {
	t.Parallel()
	srv, store, _ := newTestServer(t)

	a := ticker.New("l-1", "A", recurrence.Daily(recurrence.At(7, 0)), apiNow)
	b := ticker.New("l-2", "B", recurrence.Daily(recurrence.At(8, 0)), apiNow)
	b.Enabled = false
	for _, tk := range []ticker.Ticker{a, b} {
		if err := store.Save(context.Background(), tk); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	var list listResponse
	resp := request(t, http.MethodGet, srv.URL+"/api/tickers", "", &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(list.Tickers) != 2 {
		t.Fatalf("tickers = %d, want 2", len(list.Tickers))
	}
	if list.Counts.NeverRun != 1 || list.Counts.Disabled != 1 {
		t.Fatalf("counts = %+v, want one never_run and one disabled", list.Counts)
	}
}

func TestRegenerateAllRunsPass(t *testing.T) {
	t.Parallel()
	srv, _, coord := newTestServer(t)

	var stats regen.PassStats
	resp := request(t, http.MethodPost, srv.URL+"/api/regenerate", "", &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if coord.passes != 1 {
		t.Fatalf("passes = %d, want 1", coord.passes)
	}
	if stats.OK != 1 {
		t.Fatalf("stats = %+v, want OK=1", stats)
	}
}

func TestImportICSCreatesTickers(t *testing.T) {
	t.Parallel()
	srv, store, _ := newTestServer(t)

	payload := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:imp@test",
		"SUMMARY:Imported",
		"DTSTART:20240610T090000Z",
		"RRULE:FREQ=DAILY",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	var out struct {
		Created []string `json:"created"`
	}
	resp := request(t, http.MethodPost, srv.URL+"/api/import/ics", payload, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(out.Created) != 1 {
		t.Fatalf("created = %v, want one id", out.Created)
	}
	if _, err := store.Get(context.Background(), out.Created[0]); err != nil {
		t.Fatalf("imported ticker not in store: %v", err)
	}
}
