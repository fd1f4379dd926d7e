// Package bot wires config, store, hasher, platform adapter, engine, and
// maintenance into one running process.
package bot

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stellarlinkco/xcontroller/internal/config"
	"github.com/stellarlinkco/xcontroller/internal/identity"
	"github.com/stellarlinkco/xcontroller/internal/maintenance"
	"github.com/stellarlinkco/xcontroller/internal/moderation"
	"github.com/stellarlinkco/xcontroller/internal/platform"
	"github.com/stellarlinkco/xcontroller/internal/store"
)

type Options struct {
	BotFactory platform.BotFactory
	SignalChan chan os.Signal // for testing signal handling
}

type Bot struct {
	cfg      *config.Config
	store    *store.Store
	hasher   *identity.Hasher
	platform *platform.Telegram
	engine   *moderation.Engine
	maint    *maintenance.Service

	signalChan chan os.Signal
}

func New(cfg *config.Config) (*Bot, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hasher, keyFixed, err := buildHasher(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	// Seed words from config/.env; already-present entries are left alone.
	if added, _, err := st.AddWords(cfg.Moderation.BannedWords); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("seed banned words: %w", err)
	} else if len(added) > 0 {
		log.Printf("[bot] seeded %d banned words", len(added))
	}

	tg, err := platform.NewTelegram(platform.Options{
		Token:        cfg.Telegram.Token,
		Proxy:        cfg.Telegram.Proxy,
		GroupID:      cfg.Group.ID,
		KickDuration: time.Duration(cfg.Moderation.KickSeconds) * time.Second,
		Rate:         cfg.Moderation.OutboundRate,
		Burst:        cfg.Moderation.OutboundBurst,
		BotFactory:   opts.BotFactory,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	rotateEvery := time.Duration(cfg.Identity.RotationHours) * time.Hour
	dmWindow := time.Duration(cfg.Moderation.DMWindowHours) * time.Hour

	engine := moderation.New(st, hasher, tg, moderation.Options{
		GroupID:       cfg.Group.ID,
		AdminIDs:      cfg.Group.AdminIDs,
		Mute:          time.Duration(cfg.Moderation.MuteHours) * time.Hour,
		WarningTTL:    time.Duration(cfg.Moderation.WarningTTLSeconds) * time.Second,
		DMWindow:      dmWindow,
		DMThreshold:   cfg.Moderation.DMThreshold,
		KeyFixed:      keyFixed,
		RotationEvery: rotateEvery,
	})

	maint := maintenance.New(st, hasher, maintenance.Options{
		RotateEnabled: !keyFixed,
		RotateEvery:   rotateEvery,
		DMWindow:      dmWindow,
	})

	return &Bot{
		cfg:        cfg,
		store:      st,
		hasher:     hasher,
		platform:   tg,
		engine:     engine,
		maint:      maint,
		signalChan: opts.SignalChan,
	}, nil
}

// buildHasher selects fixed-key mode (operator key from config, rotation
// off) or auto mode (store-persisted key, generated on first start).
func buildHasher(cfg *config.Config, st *store.Store) (*identity.Hasher, bool, error) {
	if cfg.Identity.Key != "" {
		key, err := identity.ParseKey(cfg.Identity.Key)
		if err != nil {
			return nil, false, err
		}
		hasher, err := identity.NewHasher(key)
		if err != nil {
			return nil, false, err
		}
		log.Printf("[bot] identity key: operator-fixed, rotation disabled")
		return hasher, true, nil
	}

	key, _, ok, err := st.IdentityKey()
	if err != nil {
		return nil, false, fmt.Errorf("load identity key: %w", err)
	}
	if !ok {
		key, err = identity.GenerateKey()
		if err != nil {
			return nil, false, err
		}
		if err := st.SetIdentityKey(key); err != nil {
			return nil, false, fmt.Errorf("persist identity key: %w", err)
		}
		log.Printf("[bot] identity key: generated")
	}
	hasher, err := identity.NewHasher(key)
	if err != nil {
		return nil, false, err
	}
	return hasher, false, nil
}

// Run starts polling and maintenance, then blocks until SIGINT/SIGTERM.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := b.platform.Start(ctx, b.engine); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	if err := b.maint.Start(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}

	log.Printf("[bot] moderating group %d", b.cfg.Group.ID)

	sigCh := b.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[bot] shutting down...")
	return b.Shutdown()
}

func (b *Bot) Shutdown() error {
	_ = b.platform.Stop()
	b.maint.Stop()
	if err := b.store.Close(); err != nil {
		log.Printf("[bot] close store warning: %v", err)
	}
	log.Printf("[bot] shutdown complete")
	return nil
}
