package storage

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "stargazer.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	start := SessionRecord{
		ID:        "sess-1",
		State:     "running",
		Reference: "light_0001.fits",
		Strategy:  "native",
		Total:     5,
		BatchSize: 4,
	}
	if err := s.RecordSessionStart(start); err != nil {
		t.Fatalf("RecordSessionStart: %v", err)
	}
	if err := s.UpdateSessionProgress("sess-1", 3, 1, 0); err != nil {
		t.Fatalf("UpdateSessionProgress: %v", err)
	}

	got, err := s.Session("sess-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.State != "running" || got.Combined != 3 || got.Skipped != 1 {
		t.Fatalf("live session = %+v", got)
	}
	if got.FinishedAt != nil {
		t.Fatalf("running session has finished_at %v", got.FinishedAt)
	}

	if err := s.FinishSession("sess-1", "completed", 4, 1, 0, "/tmp/out.fits", ""); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	got, err = s.Session("sess-1")
	if err != nil {
		t.Fatalf("Session after finish: %v", err)
	}
	if got.State != "completed" || got.Combined != 4 || got.Output != "/tmp/out.fits" {
		t.Fatalf("finished session = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatalf("finished session missing finished_at")
	}
}

func TestFramesKeepInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordSessionStart(SessionRecord{ID: "sess-2", State: "running", Total: 3}); err != nil {
		t.Fatalf("RecordSessionStart: %v", err)
	}

	frames := []FrameRecord{
		{SessionID: "sess-2", Path: "a.fits", Status: FrameStacked},
		{SessionID: "sess-2", Path: "b.fits", Status: FrameDropped, Reason: "too few stars"},
		{SessionID: "sess-2", Path: "c.fits", Status: FrameLoadFailed, Reason: "truncated file"},
	}
	for _, fr := range frames {
		if err := s.RecordFrame(fr); err != nil {
			t.Fatalf("RecordFrame(%s): %v", fr.Path, err)
		}
	}

	got, err := s.Frames("sess-2")
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
	for i, fr := range frames {
		if got[i].Path != fr.Path || got[i].Status != fr.Status || got[i].Reason != fr.Reason {
			t.Fatalf("frame %d = %+v, want %+v", i, got[i], fr)
		}
	}
}

func TestSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"old", "new"} {
		if err := s.RecordSessionStart(SessionRecord{ID: id, State: "completed", Total: 1}); err != nil {
			t.Fatalf("RecordSessionStart(%s): %v", id, err)
		}
	}
	recs, err := s.Sessions(10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d sessions, want 2", len(recs))
	}
}

func TestQualityRoundTrip(t *testing.T) {
	s := openTestStore(t)
	rec := QualityRecord{Path: "light.fits", Stars: 42, FWHM: 2.5, SkyPercent: 12.0, SNR: 8.5, Score: 77.0}
	if err := s.RecordQuality(rec); err != nil {
		t.Fatalf("RecordQuality: %v", err)
	}
	// Replacing keeps one row per file.
	rec.Score = 81.0
	if err := s.RecordQuality(rec); err != nil {
		t.Fatalf("RecordQuality replace: %v", err)
	}

	got, err := s.QualityFor("light.fits")
	if err != nil {
		t.Fatalf("QualityFor: %v", err)
	}
	if got.Stars != 42 || got.Score != 81.0 {
		t.Fatalf("quality = %+v", got)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	if err := s.RecordSessionStart(SessionRecord{ID: "x"}); err != nil {
		t.Fatalf("nil RecordSessionStart: %v", err)
	}
	if err := s.RecordFrame(FrameRecord{}); err != nil {
		t.Fatalf("nil RecordFrame: %v", err)
	}
	if err := s.FinishSession("x", "failed", 0, 0, 0, "", "boom"); err != nil {
		t.Fatalf("nil FinishSession: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
	if _, err := s.Sessions(1); err == nil {
		t.Fatalf("nil Sessions should error")
	}
}
