package store

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestActivate_OneWayIdempotent(t *testing.T) {
	st := newTestStore(t)

	on, _, err := st.Activated()
	if err != nil {
		t.Fatalf("Activated: %v", err)
	}
	if on {
		t.Fatal("fresh store should be inactive")
	}

	already, err := st.Activate()
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if already {
		t.Error("first activation should report already=false")
	}

	already, err = st.Activate()
	if err != nil {
		t.Fatalf("Activate again: %v", err)
	}
	if !already {
		t.Error("second activation should report already=true")
	}

	on, at, err := st.Activated()
	if err != nil {
		t.Fatalf("Activated: %v", err)
	}
	if !on {
		t.Error("store should stay activated")
	}
	if at.IsZero() {
		t.Error("activation timestamp should be recorded")
	}
}

func TestAddWord_NormalizationAndDedup(t *testing.T) {
	st := newTestStore(t)

	added, err := st.AddWord("  SPAM  ")
	if err != nil {
		t.Fatalf("AddWord: %v", err)
	}
	if !added {
		t.Error("first insert should report added")
	}

	added, err = st.AddWord("spam")
	if err != nil {
		t.Fatalf("AddWord duplicate: %v", err)
	}
	if added {
		t.Error("duplicate insert should report not added")
	}

	added, err = st.AddWord("   ")
	if err != nil {
		t.Fatalf("AddWord empty: %v", err)
	}
	if added {
		t.Error("empty word should be rejected silently")
	}

	words, err := st.Words()
	if err != nil {
		t.Fatalf("Words: %v", err)
	}
	if !reflect.DeepEqual(words, []string{"spam"}) {
		t.Errorf("Words = %v, want [spam]", words)
	}
}

func TestAddWords_LeftToRightAgainstCurrentState(t *testing.T) {
	st := newTestStore(t)

	added, skipped, err := st.AddWords([]string{"a", "b", "a", "", " B "})
	if err != nil {
		t.Fatalf("AddWords: %v", err)
	}
	if !reflect.DeepEqual(added, []string{"a", "b"}) {
		t.Errorf("added = %v, want [a b]", added)
	}
	if !reflect.DeepEqual(skipped, []string{"a", "b"}) {
		t.Errorf("skipped = %v, want [a b] (in-call duplicate and case-folded duplicate)", skipped)
	}
}

func TestRemoveWord(t *testing.T) {
	st := newTestStore(t)
	if _, err := st.AddWord("spam"); err != nil {
		t.Fatal(err)
	}

	removed, err := st.RemoveWord("SPAM")
	if err != nil {
		t.Fatalf("RemoveWord: %v", err)
	}
	if !removed {
		t.Error("existing word should report removed")
	}

	removed, err = st.RemoveWord("spam")
	if err != nil {
		t.Fatalf("RemoveWord again: %v", err)
	}
	if removed {
		t.Error("missing word should report not removed")
	}
}

func TestRecordViolation_WindowReset(t *testing.T) {
	st := newTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }

	count, err := st.RecordViolation("id-1")
	if err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	// One hour later: inside the window, increments.
	st.now = func() time.Time { return base.Add(time.Hour) }
	count, err = st.RecordViolation("id-1")
	if err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 within window", count)
	}

	// Eight days after the last violation: window lapsed, count resets
	// before incrementing.
	st.now = func() time.Time { return base.Add(time.Hour + 8*24*time.Hour) }
	count, err = st.RecordViolation("id-1")
	if err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 after window reset", count)
	}
}

func TestRecordViolation_IndependentIdentities(t *testing.T) {
	st := newTestStore(t)

	if c, _ := st.RecordViolation("a"); c != 1 {
		t.Errorf("a count = %d, want 1", c)
	}
	if c, _ := st.RecordViolation("b"); c != 1 {
		t.Errorf("b count = %d, want 1", c)
	}
	if c, _ := st.RecordViolation("a"); c != 2 {
		t.Errorf("a count = %d, want 2", c)
	}
}

func TestRecordDM_StickyActionedFlag(t *testing.T) {
	st := newTestStore(t)
	window := 7 * 24 * time.Hour

	count, actioned, err := st.RecordDM("dm-1", window)
	if err != nil {
		t.Fatalf("RecordDM: %v", err)
	}
	if count != 1 || actioned {
		t.Errorf("count=%d actioned=%v, want 1 false", count, actioned)
	}

	if err := st.MarkActioned("dm-1"); err != nil {
		t.Fatalf("MarkActioned: %v", err)
	}

	count, actioned, err = st.RecordDM("dm-1", window)
	if err != nil {
		t.Fatalf("RecordDM: %v", err)
	}
	if count != 2 || !actioned {
		t.Errorf("count=%d actioned=%v, want 2 true", count, actioned)
	}

	// The flag survives a window reset; only a purge clears it.
	base := time.Now().Add(30 * 24 * time.Hour)
	st.now = func() time.Time { return base }
	count, actioned, err = st.RecordDM("dm-1", window)
	if err != nil {
		t.Fatalf("RecordDM: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 after window reset", count)
	}
	if !actioned {
		t.Error("actioned flag must stick through window resets")
	}
}

func TestBlocklist(t *testing.T) {
	st := newTestStore(t)

	blocked, err := st.IsBlocked("x")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if blocked {
		t.Error("fresh identity should not be blocked")
	}

	if err := st.Block("x"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := st.Block("x"); err != nil {
		t.Fatalf("Block twice: %v", err)
	}

	blocked, err = st.IsBlocked("x")
	if err != nil {
		t.Fatalf("IsBlocked: %v", err)
	}
	if !blocked {
		t.Error("identity should be blocked")
	}
}

func TestRotateIdentityKey_PurgesLedgers(t *testing.T) {
	st := newTestStore(t)

	if err := st.SetIdentityKey([]byte("key-one")); err != nil {
		t.Fatalf("SetIdentityKey: %v", err)
	}
	if _, err := st.RecordViolation("old-token"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.RecordDM("old-token", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := st.Block("old-token"); err != nil {
		t.Fatal(err)
	}

	if err := st.RotateIdentityKey([]byte("key-two")); err != nil {
		t.Fatalf("RotateIdentityKey: %v", err)
	}

	key, rotatedAt, ok, err := st.IdentityKey()
	if err != nil {
		t.Fatalf("IdentityKey: %v", err)
	}
	if !ok || string(key) != "key-two" {
		t.Errorf("key = %q ok=%v, want key-two", key, ok)
	}
	if rotatedAt.IsZero() {
		t.Error("rotation timestamp should be recorded")
	}

	// Old records are gone: the same token starts from zero.
	count, err := st.RecordViolation("old-token")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("post-rotation count = %d, want 1", count)
	}
	blocked, err := st.IsBlocked("old-token")
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Error("blocklist should be purged by rotation")
	}
}

func TestStats(t *testing.T) {
	st := newTestStore(t)

	if _, err := st.RecordViolation("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RecordViolation("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RecordViolation("b"); err != nil {
		t.Fatal(err)
	}

	vs, err := st.ViolationStats()
	if err != nil {
		t.Fatalf("ViolationStats: %v", err)
	}
	if vs.Identities != 2 || vs.Total != 3 {
		t.Errorf("violation stats = %+v, want 2 identities, 3 total", vs)
	}

	window := 7 * 24 * time.Hour
	if _, _, err := st.RecordDM("c", window); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkActioned("c"); err != nil {
		t.Fatal(err)
	}

	ds, err := st.DMStats(window)
	if err != nil {
		t.Fatalf("DMStats: %v", err)
	}
	if ds.Identities != 1 || ds.Total != 1 || ds.Actioned != 1 {
		t.Errorf("dm stats = %+v, want 1/1/1", ds)
	}
}

func TestPruneExpired(t *testing.T) {
	st := newTestStore(t)
	window := 7 * 24 * time.Hour

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }

	if _, err := st.RecordViolation("stale"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.RecordDM("stale-dm", window); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.RecordDM("stale-actioned", window); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkActioned("stale-actioned"); err != nil {
		t.Fatal(err)
	}

	st.now = func() time.Time { return base.Add(10 * 24 * time.Hour) }
	if _, err := st.RecordViolation("fresh"); err != nil {
		t.Fatal(err)
	}

	n, err := st.PruneExpired(ViolationWindow, window)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	// stale violation and stale unactioned DM row; the actioned row stays.
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}

	if c, _ := st.RecordViolation("fresh"); c != 2 {
		t.Errorf("fresh count = %d, want 2 (untouched by prune)", c)
	}
	_, actioned, err := st.RecordDM("stale-actioned", window)
	if err != nil {
		t.Fatal(err)
	}
	if !actioned {
		t.Error("actioned row must survive the sweep")
	}
}
