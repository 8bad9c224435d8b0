package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ayusman/pointerlink/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func seedRun(t *testing.T, s *store.Store, commands int) *store.Run {
	t.Helper()

	run := &store.Run{Backend: "mock", Target: "Game"}
	if err := s.Runs().Start(run); err != nil {
		t.Fatalf("failed to start run: %v", err)
	}
	for i := 0; i < commands; i++ {
		err := s.Actuations().Record(&store.Actuation{
			RunID: run.ID, Seq: uint64(i + 1),
			CurrentX: 500, CurrentY: 500, TargetX: 300, TargetY: 400,
			Outcome: store.OutcomeOK,
		})
		if err != nil {
			t.Fatalf("failed to record actuation: %v", err)
		}
	}
	return run
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunsHandler_List(t *testing.T) {
	s := newTestStore(t)
	handler := NewRunsHandler(s)

	t.Run("empty journal returns empty array", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/api/runs")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var resp listRunsResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Runs == nil || len(resp.Runs) != 0 {
			t.Errorf("expected empty runs, got %v", resp.Runs)
		}
	})

	seedRun(t, s, 0)
	seedRun(t, s, 0)
	seedRun(t, s, 0)

	t.Run("lists runs", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/api/runs")
		var resp listRunsResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		if len(resp.Runs) != 3 {
			t.Errorf("expected 3 runs, got %d", len(resp.Runs))
		}
	})

	t.Run("honours limit", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/api/runs?limit=2")
		var resp listRunsResponse
		json.NewDecoder(rec.Body).Decode(&resp)
		if len(resp.Runs) != 2 {
			t.Errorf("expected 2 runs, got %d", len(resp.Runs))
		}
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/api/runs?limit=-1")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("only allows GET", func(t *testing.T) {
		rec := serve(handler, http.MethodPost, "/api/runs")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestRunsHandler_GetAndDelete(t *testing.T) {
	s := newTestStore(t)
	handler := NewRunsHandler(s)
	run := seedRun(t, s, 2)

	rec := serve(handler, http.MethodGet, "/api/runs/"+run.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	var got store.Run
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != run.ID || got.Target != "Game" || got.Status != store.RunRunning {
		t.Errorf("run = %+v", got)
	}

	if rec := serve(handler, http.MethodDelete, "/api/runs/"+run.ID); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec := serve(handler, http.MethodGet, "/api/runs/"+run.ID); rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := serve(handler, http.MethodDelete, "/api/runs/"+run.ID); rec.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec := serve(handler, http.MethodPut, "/api/runs/"+run.ID); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestRunsHandler_Actuations(t *testing.T) {
	s := newTestStore(t)
	handler := NewRunsHandler(s)
	run := seedRun(t, s, 3)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  int
	}{
		{name: "all", path: "/api/runs/" + run.ID + "/actuations", wantStatus: http.StatusOK, wantCount: 3},
		{name: "limited", path: "/api/runs/" + run.ID + "/actuations?limit=1", wantStatus: http.StatusOK, wantCount: 1},
		{name: "unknown run", path: "/api/runs/nope/actuations", wantStatus: http.StatusNotFound},
		{name: "unknown sub-resource", path: "/api/runs/" + run.ID + "/frames", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(handler, http.MethodGet, tt.path)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp actuationsResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.RunID != run.ID || len(resp.Actuations) != tt.wantCount {
				t.Errorf("response = %+v", resp)
			}
			if resp.Actuations[0].Seq != 1 || resp.Actuations[0].Outcome != store.OutcomeOK {
				t.Errorf("first actuation = %+v", resp.Actuations[0])
			}
		})
	}
}
