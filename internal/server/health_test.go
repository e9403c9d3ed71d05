package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// stubPinger is a Pinger whose outcome is scripted by the test.
type stubPinger struct {
	name string
	err  error
}

func (p *stubPinger) Name() string                   { return p.name }
func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHandleReadyAllHealthy(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Deps{Searcher: &fakeSearcher{}}, &Config{
		Pingers: []Pinger{
			&stubPinger{name: "qdrant"},
			&stubPinger{name: "catalog"},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Ready || len(resp.Checks) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	for _, c := range resp.Checks {
		if !c.OK || c.Error != "" {
			t.Fatalf("check = %+v", c)
		}
	}
}

func TestHandleReadyDependencyDown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Deps{Searcher: &fakeSearcher{}}, &Config{
		Pingers: []Pinger{
			&stubPinger{name: "qdrant"},
			&stubPinger{name: "catalog", err: errors.New("database is locked")},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Ready {
		t.Fatal("Ready = true with a failing dependency")
	}
	if resp.Checks[1].OK || resp.Checks[1].Error == "" {
		t.Fatalf("failing check = %+v", resp.Checks[1])
	}
	// Healthy checks still reported alongside the failure.
	if !resp.Checks[0].OK {
		t.Fatalf("healthy check = %+v", resp.Checks[0])
	}
}

func TestHandleReadyNoPingers(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Deps{Searcher: &fakeSearcher{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 in liveness-only mode", rec.Code)
	}
}

func TestMultiPinger(t *testing.T) {
	t.Parallel()

	healthy := NewMultiPinger(&stubPinger{name: "a"}, &stubPinger{name: "b"})
	if err := healthy.Ping(context.Background()); err != nil {
		t.Fatalf("healthy multi pinger: %v", err)
	}

	failing := NewMultiPinger(
		&stubPinger{name: "a"},
		&stubPinger{name: "b", err: errors.New("down")},
	)
	err := failing.Ping(context.Background())
	if err == nil {
		t.Fatal("want error from failing member")
	}
	if got := err.Error(); got != "b: down" {
		t.Fatalf("error = %q, want the member name prefixed", got)
	}
}

func TestDepPinger(t *testing.T) {
	t.Parallel()

	p := NewDepPinger("catalog", &stubPinger{name: "inner", err: errors.New("locked")})
	if p.Name() != "catalog" {
		t.Fatalf("Name = %q", p.Name())
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("want wrapped error")
	}
}
