package maintenance

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/xcontroller/internal/identity"
	"github.com/stellarlinkco/xcontroller/internal/store"
)

func newTestService(t *testing.T, opts Options) (*Service, *store.Store, *identity.Hasher) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hasher, err := identity.NewHasher([]byte("initial-key"))
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	return New(st, hasher, opts), st, hasher
}

func TestRotationCheck_BeforeThreshold(t *testing.T) {
	s, st, _ := newTestService(t, Options{RotateEnabled: true})

	if err := st.SetIdentityKey([]byte("initial-key")); err != nil {
		t.Fatal(err)
	}
	key, rotatedAt, _, err := st.IdentityKey()
	if err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return rotatedAt.Add(23 * time.Hour) }
	s.rotationCheck()

	after, _, _, err := st.IdentityKey()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(key, after) {
		t.Error("key must not rotate before the 24h threshold")
	}
}

func TestRotationCheck_AfterThreshold(t *testing.T) {
	s, st, hasher := newTestService(t, Options{RotateEnabled: true})

	if err := st.SetIdentityKey([]byte("initial-key")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RecordViolation(hasher.Hash(7)); err != nil {
		t.Fatal(err)
	}
	tokenBefore := hasher.Hash(7)

	_, rotatedAt, _, err := st.IdentityKey()
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return rotatedAt.Add(25 * time.Hour) }
	s.rotationCheck()

	after, _, ok, err := st.IdentityKey()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || bytes.Equal([]byte("initial-key"), after) {
		t.Fatal("key should have rotated past the threshold")
	}

	// The hasher swapped too: the same raw id yields a new token, and the
	// old token's record is gone.
	if hasher.Hash(7) == tokenBefore {
		t.Error("hasher should derive a different token after rotation")
	}
	count, err := st.RecordViolation(hasher.Hash(7))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("post-rotation violation count = %d, want 1 (history purged)", count)
	}
}

func TestRotationCheck_MissingKeyGeneratesOne(t *testing.T) {
	s, st, _ := newTestService(t, Options{RotateEnabled: true})

	s.rotationCheck()

	_, _, ok, err := st.IdentityKey()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("rotation check should install a key when none exists")
	}
}

func TestSweep(t *testing.T) {
	s, st, _ := newTestService(t, Options{DMWindow: time.Hour})

	if _, _, err := st.RecordDM("x", time.Hour); err != nil {
		t.Fatal(err)
	}

	// Nothing has expired yet; the sweep must not touch live rows.
	s.sweep()
	count, _, err := st.RecordDM("x", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 (row survived the sweep)", count)
	}
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestService(t, Options{RotateEnabled: true})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
