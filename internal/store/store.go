package store

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ViolationWindow is the rolling period after which an identity's violation
// count decays to zero on the next offense.
const ViolationWindow = 7 * 24 * time.Hour

const timeLayout = time.RFC3339Nano

// Store owns all authoritative moderation state. Counter updates are
// read-decide-write inside a single transaction so that near-simultaneous
// violations from the same identity cannot both observe the same count.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS banned_words (
			word TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS violations (
			identity TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			last_violation TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_violations_last ON violations(last_violation)`,
		`CREATE TABLE IF NOT EXISTS dm_activity (
			identity TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL,
			actioned INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dm_activity_last ON dm_activity(last_seen)`,
		`CREATE TABLE IF NOT EXISTS blocklist (
			identity TEXT PRIMARY KEY,
			blocked_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Activation

// Activated reports the one-way moderation gate and when it was switched on.
func (s *Store) Activated() (bool, time.Time, error) {
	v, err := s.getSetting("activated")
	if err != nil {
		return false, time.Time{}, err
	}
	if v != "1" {
		return false, time.Time{}, nil
	}
	at, err := s.getSetting("activated_at")
	if err != nil {
		return true, time.Time{}, err
	}
	ts, _ := time.Parse(timeLayout, at)
	return true, ts, nil
}

// Activate flips the gate on. Returns already=true when it was set before.
func (s *Store) Activate() (already bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin activate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var v string
	row := tx.QueryRow(`SELECT value FROM settings WHERE key = 'activated'`)
	switch scanErr := row.Scan(&v); {
	case scanErr == sql.ErrNoRows:
	case scanErr != nil:
		return false, fmt.Errorf("read activation: %w", scanErr)
	case v == "1":
		_ = tx.Rollback()
		return true, nil
	}

	now := s.now().UTC().Format(timeLayout)
	if _, err = tx.Exec(`INSERT INTO settings(key, value) VALUES('activated', '1')
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`); err != nil {
		return false, fmt.Errorf("write activation: %w", err)
	}
	if _, err = tx.Exec(`INSERT INTO settings(key, value) VALUES('activated_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, now); err != nil {
		return false, fmt.Errorf("write activation time: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit activation: %w", err)
	}
	return false, nil
}

// Banned words

// NormalizeWord applies the storage normalization: trim, lowercase.
func NormalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

// AddWord inserts one normalized word. Returns false when already present or
// the word normalizes to empty.
func (s *Store) AddWord(word string) (bool, error) {
	word = NormalizeWord(word)
	if word == "" {
		return false, nil
	}
	res, err := s.db.Exec(`INSERT OR IGNORE INTO banned_words(word) VALUES(?)`, word)
	if err != nil {
		return false, fmt.Errorf("add word: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add word result: %w", err)
	}
	return n > 0, nil
}

// AddWords processes words left-to-right, each against the current store
// state, so a duplicate later in the same call reports as skipped.
func (s *Store) AddWords(words []string) (added, skipped []string, err error) {
	for _, w := range words {
		norm := NormalizeWord(w)
		if norm == "" {
			continue
		}
		ok, err := s.AddWord(norm)
		if err != nil {
			return added, skipped, err
		}
		if ok {
			added = append(added, norm)
		} else {
			skipped = append(skipped, norm)
		}
	}
	return added, skipped, nil
}

func (s *Store) RemoveWord(word string) (bool, error) {
	word = NormalizeWord(word)
	if word == "" {
		return false, nil
	}
	res, err := s.db.Exec(`DELETE FROM banned_words WHERE word = ?`, word)
	if err != nil {
		return false, fmt.Errorf("remove word: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove word result: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Words() ([]string, error) {
	rows, err := s.db.Query(`SELECT word FROM banned_words ORDER BY word`)
	if err != nil {
		return nil, fmt.Errorf("list words: %w", err)
	}
	defer rows.Close()

	var words []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan word: %w", err)
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

// Violation ledger

// RecordViolation increments the identity's counter under the 7-day rolling
// window: a gap longer than the window resets the count before incrementing.
// The returned count drives the escalation decision, so the read and the
// write happen in one transaction.
func (s *Store) RecordViolation(identity string) (int, error) {
	return s.bumpCounter("violations", "last_violation", identity, ViolationWindow, nil)
}

// RecordDM increments the identity's DM counter under the given window and
// reports the sticky actioned flag. The flag survives window resets; only a
// key-rotation purge clears it.
func (s *Store) RecordDM(identity string, window time.Duration) (count int, actioned bool, err error) {
	count, err = s.bumpCounter("dm_activity", "last_seen", identity, window, &actioned)
	return count, actioned, err
}

// bumpCounter is the shared transactional read-decide-write for both rolling
// ledgers. When actioned is non-nil the table carries the sticky flag and it
// is read back out.
func (s *Store) bumpCounter(table, tsCol, identity string, window time.Duration, actioned *bool) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin %s: %w", table, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	count := 0
	var last string

	var scanErr error
	if actioned != nil {
		var flag int
		scanErr = tx.QueryRow(
			`SELECT count, `+tsCol+`, actioned FROM `+table+` WHERE identity = ?`, identity,
		).Scan(&count, &last, &flag)
		*actioned = flag != 0
	} else {
		scanErr = tx.QueryRow(
			`SELECT count, `+tsCol+` FROM `+table+` WHERE identity = ?`, identity,
		).Scan(&count, &last)
	}
	switch {
	case scanErr == sql.ErrNoRows:
		count = 0
	case scanErr != nil:
		err = fmt.Errorf("read %s: %w", table, scanErr)
		return 0, err
	default:
		ts, parseErr := time.Parse(timeLayout, last)
		if parseErr != nil || now.Sub(ts) > window {
			count = 0
		}
	}

	count++
	if actioned != nil {
		_, err = tx.Exec(`INSERT INTO `+table+`(identity, count, `+tsCol+`, actioned) VALUES(?, ?, ?, 0)
			ON CONFLICT(identity) DO UPDATE SET count = excluded.count, `+tsCol+` = excluded.`+tsCol,
			identity, count, now.Format(timeLayout))
	} else {
		_, err = tx.Exec(`INSERT INTO `+table+`(identity, count, `+tsCol+`) VALUES(?, ?, ?)
			ON CONFLICT(identity) DO UPDATE SET count = excluded.count, `+tsCol+` = excluded.`+tsCol,
			identity, count, now.Format(timeLayout))
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", table, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", table, err)
	}
	return count, nil
}

// MarkActioned sets the sticky enforcement flag for a DM identity.
func (s *Store) MarkActioned(identity string) error {
	_, err := s.db.Exec(`UPDATE dm_activity SET actioned = 1 WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("mark actioned: %w", err)
	}
	return nil
}

// Blocklist

func (s *Store) Block(identity string) error {
	now := s.now().UTC().Format(timeLayout)
	_, err := s.db.Exec(`INSERT OR IGNORE INTO blocklist(identity, blocked_at) VALUES(?, ?)`, identity, now)
	if err != nil {
		return fmt.Errorf("block identity: %w", err)
	}
	return nil
}

func (s *Store) IsBlocked(identity string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM blocklist WHERE identity = ?`, identity).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read blocklist: %w", err)
	}
	return true, nil
}

// Identity key

// IdentityKey returns the persisted auto-generated key material and when it
// was last rotated. ok is false when no key has been stored yet.
func (s *Store) IdentityKey() (key []byte, rotatedAt time.Time, ok bool, err error) {
	v, err := s.getSetting("identity_key")
	if err != nil {
		return nil, time.Time{}, false, err
	}
	if v == "" {
		return nil, time.Time{}, false, nil
	}
	key, err = hex.DecodeString(v)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("decode identity key: %w", err)
	}
	at, err := s.getSetting("key_rotated_at")
	if err != nil {
		return nil, time.Time{}, false, err
	}
	rotatedAt, _ = time.Parse(timeLayout, at)
	return key, rotatedAt, true, nil
}

// SetIdentityKey stores the initial auto-generated key.
func (s *Store) SetIdentityKey(key []byte) error {
	return s.writeKey(key)
}

// RotateIdentityKey swaps the key and purges every ledger keyed on the old
// hash in one transaction. Old records are unreachable under the new key, so
// they are removed rather than reinterpreted.
func (s *Store) RotateIdentityKey(key []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC().Format(timeLayout)
	for _, kv := range [][2]string{
		{"identity_key", hex.EncodeToString(key)},
		{"key_rotated_at", now},
	} {
		if _, err = tx.Exec(`INSERT INTO settings(key, value) VALUES(?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("write %s: %w", kv[0], err)
		}
	}
	for _, table := range []string{"violations", "dm_activity", "blocklist"} {
		if _, err = tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}

func (s *Store) writeKey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Format(timeLayout)
	for _, kv := range [][2]string{
		{"identity_key", hex.EncodeToString(key)},
		{"key_rotated_at", now},
	} {
		if _, err := s.db.Exec(`INSERT INTO settings(key, value) VALUES(?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("write %s: %w", kv[0], err)
		}
	}
	return nil
}

// Aggregates for /status. Counts only, never identities.

type LedgerStats struct {
	Identities int
	Total      int
	Actioned   int
}

func (s *Store) ViolationStats() (LedgerStats, error) {
	cutoff := s.now().UTC().Add(-ViolationWindow).Format(timeLayout)
	var st LedgerStats
	err := s.db.QueryRow(`SELECT COUNT(1), COALESCE(SUM(count), 0) FROM violations
		WHERE last_violation >= ?`, cutoff).Scan(&st.Identities, &st.Total)
	if err != nil {
		return st, fmt.Errorf("violation stats: %w", err)
	}
	return st, nil
}

func (s *Store) DMStats(window time.Duration) (LedgerStats, error) {
	cutoff := s.now().UTC().Add(-window).Format(timeLayout)
	var st LedgerStats
	err := s.db.QueryRow(`SELECT COUNT(1), COALESCE(SUM(count), 0),
		COALESCE(SUM(actioned), 0) FROM dm_activity
		WHERE last_seen >= ? OR actioned = 1`, cutoff).Scan(&st.Identities, &st.Total, &st.Actioned)
	if err != nil {
		return st, fmt.Errorf("dm stats: %w", err)
	}
	return st, nil
}

// PruneExpired drops ledger rows whose window has lapsed. Actioned DM rows
// are kept: the sticky flag only falls with key rotation.
func (s *Store) PruneExpired(violationWindow, dmWindow time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var total int64

	res, err := s.db.Exec(`DELETE FROM violations WHERE last_violation < ?`,
		now.Add(-violationWindow).Format(timeLayout))
	if err != nil {
		return total, fmt.Errorf("prune violations: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.Exec(`DELETE FROM dm_activity WHERE last_seen < ? AND actioned = 0`,
		now.Add(-dmWindow).Format(timeLayout))
	if err != nil {
		return total, fmt.Errorf("prune dm activity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

func (s *Store) getSetting(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", key, err)
	}
	return v, nil
}
