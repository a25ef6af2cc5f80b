package sqlite

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openlook/gazeline/internal/gaze"
)

// setupTestStore opens a migrated store on a throwaway database file.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "gazeline.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := setupTestStore(t)

	sessionID, err := store.StartSession("library", 1920, 1080)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected generated session ID")
	}

	sess, err := store.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.SourceKind != "library" {
		t.Errorf("source kind = %q, want library", sess.SourceKind)
	}
	if sess.ScreenWidth != 1920 || sess.ScreenHeight != 1080 {
		t.Errorf("screen = %dx%d, want 1920x1080", sess.ScreenWidth, sess.ScreenHeight)
	}
	if sess.StartedAt == 0 {
		t.Error("expected non-zero started_at")
	}
	if sess.EndedAt != 0 {
		t.Errorf("open session has ended_at %d", sess.EndedAt)
	}

	sum := SessionSummary{Samples: 7200, Hovers: 13, Blinks: 4, JitterRMS: 2.5}
	if err := store.EndSession(sessionID, sum); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	sess, err = store.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession after end failed: %v", err)
	}
	if sess.EndedAt == 0 {
		t.Error("expected ended_at to be set")
	}
	if sess.Samples != 7200 || sess.Hovers != 13 || sess.Blinks != 4 {
		t.Errorf("counters = %d/%d/%d, want 7200/13/4", sess.Samples, sess.Hovers, sess.Blinks)
	}
	if sess.JitterRMS != 2.5 {
		t.Errorf("jitter = %v, want 2.5", sess.JitterRMS)
	}

	// Ending twice is an error.
	if err := store.EndSession(sessionID, sum); err == nil {
		t.Error("expected error ending an already-ended session")
	}
}

func TestEndSessionUnknown(t *testing.T) {
	store := setupTestStore(t)

	err := store.EndSession("no-such-session", SessionSummary{})
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetSession("missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRecordHover(t *testing.T) {
	store := setupTestStore(t)

	sessionID, err := store.StartSession("replay", 1920, 1080)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	firstID, err := store.RecordHover(sessionID, gaze.Point{X: 512, Y: 384}, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("RecordHover failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	secondID, err := store.RecordHover(sessionID, gaze.Point{X: 900, Y: 200}, 450*time.Millisecond)
	if err != nil {
		t.Fatalf("RecordHover failed: %v", err)
	}
	if firstID == secondID {
		t.Fatal("hover IDs should be unique")
	}

	hovers, err := store.SessionHovers(sessionID)
	if err != nil {
		t.Fatalf("SessionHovers failed: %v", err)
	}
	if len(hovers) != 2 {
		t.Fatalf("got %d hovers, want 2", len(hovers))
	}
	if hovers[0].ID != firstID {
		t.Errorf("hovers out of order: first is %s", hovers[0].ID)
	}
	if hovers[0].X != 512 || hovers[0].Y != 384 {
		t.Errorf("first hover at (%v, %v), want (512, 384)", hovers[0].X, hovers[0].Y)
	}
	if hovers[0].DwellNs != (150 * time.Millisecond).Nanoseconds() {
		t.Errorf("first dwell = %d ns, want 150ms", hovers[0].DwellNs)
	}
	if hovers[1].DwellNs != (450 * time.Millisecond).Nanoseconds() {
		t.Errorf("second dwell = %d ns, want 450ms", hovers[1].DwellNs)
	}
}

func TestRecordBackendEvents(t *testing.T) {
	store := setupTestStore(t)

	sessionID, err := store.StartSession("process", 2560, 1440)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	transitions := []struct {
		state   string
		cause   string
		attempt int
	}{
		{"starting", "", 0},
		{"running", "", 0},
		{"recovering", "backend process exited: signal: killed", 1},
		{"running", "", 1},
	}
	for _, tr := range transitions {
		if err := store.RecordBackendEvent(sessionID, tr.state, tr.cause, tr.attempt); err != nil {
			t.Fatalf("RecordBackendEvent(%s) failed: %v", tr.state, err)
		}
		time.Sleep(time.Millisecond)
	}

	events, err := store.SessionBackendEvents(sessionID)
	if err != nil {
		t.Fatalf("SessionBackendEvents failed: %v", err)
	}
	if len(events) != len(transitions) {
		t.Fatalf("got %d events, want %d", len(events), len(transitions))
	}
	for i, tr := range transitions {
		if events[i].State != tr.state {
			t.Errorf("event %d state = %q, want %q", i, events[i].State, tr.state)
		}
		if events[i].Cause != tr.cause {
			t.Errorf("event %d cause = %q, want %q", i, events[i].Cause, tr.cause)
		}
		if events[i].Attempt != tr.attempt {
			t.Errorf("event %d attempt = %d, want %d", i, events[i].Attempt, tr.attempt)
		}
	}
}

func TestRecentSessions(t *testing.T) {
	store := setupTestStore(t)

	var ids []string
	for _, kind := range []string{"library", "process", "replay"} {
		id, err := store.StartSession(kind, 1920, 1080)
		if err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
		ids = append(ids, id)
		time.Sleep(time.Millisecond)
	}

	recent, err := store.RecentSessions(2)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d sessions, want 2", len(recent))
	}
	if recent[0].ID != ids[2] {
		t.Errorf("newest session first: got %s, want %s", recent[0].ID, ids[2])
	}
	if recent[1].ID != ids[1] {
		t.Errorf("second session: got %s, want %s", recent[1].ID, ids[1])
	}
}

func TestAnnotateSession(t *testing.T) {
	store := setupTestStore(t)

	sessionID, err := store.StartSession("library", 1920, 1080)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if err := store.AnnotateSession(sessionID, "office lighting, subject wearing glasses"); err != nil {
		t.Fatalf("AnnotateSession failed: %v", err)
	}

	sess, err := store.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Notes != "office lighting, subject wearing glasses" {
		t.Errorf("notes = %q", sess.Notes)
	}

	if err := store.AnnotateSession("missing", "x"); err == nil {
		t.Error("expected error annotating unknown session")
	}
}
