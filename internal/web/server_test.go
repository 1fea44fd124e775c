package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stargazer/internal/stack"
	"stargazer/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	s.Routes().ServeHTTP(rr, req)
	return rr
}

func TestDashboardServesPage(t *testing.T) {
	s := NewServer("127.0.0.1:0", testLogger(), nil, nil)
	rr := get(t, s, "/")
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Stargazer") || !strings.Contains(body, "/ws") {
		t.Fatalf("dashboard page incomplete")
	}
}

func TestStatusEndpointTracksBusEvents(t *testing.T) {
	bus := stack.NewBus(testLogger())
	defer bus.Close()
	s := NewServer("127.0.0.1:0", testLogger(), nil, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.run()
	go s.pump(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		// Republish until the pump's subscription has picked them up; the
		// snapshot converges to the same state either way.
		bus.Publish(stack.Event{Type: stack.EventProgress, SessionID: "abc", Message: "Aligning batch of 4 frames", Level: stack.LevelInfo})
		bus.Publish(stack.Event{Type: stack.EventCounter, SessionID: "abc", Current: 5, Total: 20})
		bus.Publish(stack.Event{Type: stack.EventPreview, SessionID: "abc", Combined: 5})

		rr := get(t, s, "/api/status")
		var st Status
		if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if st.State == "running" && st.Current == 5 && st.Combined == 5 && st.SessionID == "abc" {
			if !strings.Contains(st.Message, "Aligning") {
				t.Fatalf("message = %q", st.Message)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never caught up: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionsEndpointServesStore(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "web.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer store.Close()
	rec := storage.SessionRecord{ID: "s1", State: "running", Reference: "a.fits", Strategy: "native", Total: 10}
	if err := store.RecordSessionStart(rec); err != nil {
		t.Fatalf("RecordSessionStart: %v", err)
	}
	if err := store.FinishSession("s1", "completed", 9, 1, 0, "out.fits", ""); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}

	s := NewServer("127.0.0.1:0", testLogger(), store, nil)
	rr := get(t, s, "/api/sessions")
	if rr.Code != 200 {
		t.Fatalf("status = %d", rr.Code)
	}
	var out []sessionJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d sessions, want 1", len(out))
	}
	got := out[0]
	if got.ID != "s1" || got.State != "completed" || got.Combined != 9 || got.Reference != "a.fits" {
		t.Fatalf("session = %+v", got)
	}
}

func TestFramesEndpointScopedToSession(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "web.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer store.Close()
	for _, rec := range []storage.FrameRecord{
		{SessionID: "a", Path: "/x/1.fits", Status: storage.FrameStacked},
		{SessionID: "a", Path: "/x/2.fits", Status: storage.FrameDropped, Reason: "not enough stars"},
		{SessionID: "b", Path: "/x/3.fits", Status: storage.FrameStacked},
	} {
		if err := store.RecordFrame(rec); err != nil {
			t.Fatalf("RecordFrame: %v", err)
		}
	}

	s := NewServer("127.0.0.1:0", testLogger(), store, nil)
	rr := get(t, s, "/api/sessions/a/frames")
	var out []frameJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode frames: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d frames, want 2", len(out))
	}
	if out[1].Reason != "not enough stars" {
		t.Fatalf("frames = %+v", out)
	}
}

func TestEndpointsTolerateMissingStore(t *testing.T) {
	s := NewServer("127.0.0.1:0", testLogger(), nil, nil)
	for _, path := range []string{"/api/sessions", "/api/sessions/x/frames"} {
		rr := get(t, s, path)
		if rr.Code != 200 || strings.TrimSpace(rr.Body.String()) != "[]" {
			t.Fatalf("%s = %d %q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestPreviewUnavailableIsNotFound(t *testing.T) {
	s := NewServer("127.0.0.1:0", testLogger(), nil, nil)
	if rr := get(t, s, "/preview.png"); rr.Code != 404 {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
