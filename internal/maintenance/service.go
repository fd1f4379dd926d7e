// Package maintenance runs the hourly background jobs: the identity-key
// rotation check and the expired-ledger sweep. Both touch only the store and
// never block the event path.
package maintenance

import (
	"log"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/stellarlinkco/xcontroller/internal/identity"
	"github.com/stellarlinkco/xcontroller/internal/store"
)

type Service struct {
	store  *store.Store
	hasher *identity.Hasher

	rotateEnabled bool
	rotateEvery   time.Duration
	dmWindow      time.Duration

	cron *rcron.Cron
	now  func() time.Time
}

type Options struct {
	// RotateEnabled is false when the operator supplied a fixed key.
	RotateEnabled bool
	RotateEvery   time.Duration
	DMWindow      time.Duration
}

func New(st *store.Store, hasher *identity.Hasher, opts Options) *Service {
	if opts.RotateEvery <= 0 {
		opts.RotateEvery = 24 * time.Hour
	}
	if opts.DMWindow <= 0 {
		opts.DMWindow = store.ViolationWindow
	}
	return &Service{
		store:         st,
		hasher:        hasher,
		rotateEnabled: opts.RotateEnabled,
		rotateEvery:   opts.RotateEvery,
		dmWindow:      opts.DMWindow,
		now:           time.Now,
	}
}

func (s *Service) Start() error {
	s.cron = rcron.New()

	if s.rotateEnabled {
		if _, err := s.cron.AddFunc("@hourly", s.rotationCheck); err != nil {
			return err
		}
	}
	if _, err := s.cron.AddFunc("@hourly", s.sweep); err != nil {
		return err
	}

	s.cron.Start()
	log.Printf("[maintenance] started (rotation enabled: %v)", s.rotateEnabled)
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	log.Printf("[maintenance] stopped")
}

// rotationCheck rotates the identity key once 24h have passed since the last
// rotation. Rotation is lossy by design: the store purges every ledger keyed
// on the old hash in the same transaction as the key swap.
func (s *Service) rotationCheck() {
	_, rotatedAt, ok, err := s.store.IdentityKey()
	if err != nil {
		log.Printf("[maintenance] read identity key warning: %v", err)
		return
	}
	if ok && s.now().Sub(rotatedAt) < s.rotateEvery {
		return
	}

	key, err := identity.GenerateKey()
	if err != nil {
		log.Printf("[maintenance] generate key warning: %v", err)
		return
	}
	if err := s.store.RotateIdentityKey(key); err != nil {
		log.Printf("[maintenance] rotate key warning: %v", err)
		return
	}
	if err := s.hasher.Rotate(key); err != nil {
		log.Printf("[maintenance] swap hasher key warning: %v", err)
		return
	}
	log.Printf("[maintenance] identity key rotated at %s, ledgers purged", s.now().UTC().Format(time.RFC3339))
}

// sweep prunes ledger rows whose window has lapsed, keeping the database
// bounded on the same hourly cadence the bot has always used for cleanup.
func (s *Service) sweep() {
	n, err := s.store.PruneExpired(store.ViolationWindow, s.dmWindow)
	if err != nil {
		log.Printf("[maintenance] sweep warning: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[maintenance] swept %d expired ledger rows", n)
	}
}
