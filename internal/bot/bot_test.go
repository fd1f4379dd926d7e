package bot

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/xcontroller/internal/config"
	"github.com/stellarlinkco/xcontroller/internal/platform"
)

type stubBot struct{}

func (stubBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}
func (stubBot) StopReceivingUpdates() {}
func (stubBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, nil
}
func (stubBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}
func (stubBot) GetSelf() tgbotapi.User { return tgbotapi.User{UserName: "stub_bot"} }

func stubFactory(token string, client *http.Client) (platform.Bot, error) {
	return stubBot{}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Telegram.Token = "fake-token"
	cfg.Group.ID = -100
	cfg.Group.AdminIDs = []int64{1}
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	return cfg
}

func TestNew_MissingToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telegram.Token = ""
	if _, err := New(cfg); err == nil {
		t.Error("expected configuration error for missing token")
	}
}

func TestNew_MissingGroup(t *testing.T) {
	cfg := testConfig(t)
	cfg.Group.ID = 0
	if _, err := New(cfg); err == nil {
		t.Error("expected configuration error for missing group id")
	}
}

func TestNew_SeedsWordsAndGeneratesKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Moderation.BannedWords = []string{"Spam", "eggs"}

	b, err := NewWithOptions(cfg, Options{BotFactory: stubFactory})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	defer b.Shutdown()

	words, err := b.store.Words()
	if err != nil {
		t.Fatalf("Words: %v", err)
	}
	if len(words) != 2 {
		t.Errorf("seeded words = %v, want 2", words)
	}

	_, _, ok, err := b.store.IdentityKey()
	if err != nil {
		t.Fatalf("IdentityKey: %v", err)
	}
	if !ok {
		t.Error("auto mode should persist a generated key")
	}
}

func TestNew_FixedKeyMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Identity.Key = "00112233445566778899aabbccddeeff"

	b, err := NewWithOptions(cfg, Options{BotFactory: stubFactory})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	defer b.Shutdown()

	// Fixed mode never touches the store's key slot.
	_, _, ok, err := b.store.IdentityKey()
	if err != nil {
		t.Fatalf("IdentityKey: %v", err)
	}
	if ok {
		t.Error("fixed-key mode should not persist key material")
	}
}

func TestNew_BadFixedKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Identity.Key = "not-hex"
	if _, err := NewWithOptions(cfg, Options{BotFactory: stubFactory}); err == nil {
		t.Error("expected error for invalid fixed key")
	}
}

func TestRun_StopsOnSignal(t *testing.T) {
	cfg := testConfig(t)

	sigCh := make(chan os.Signal, 1)
	b, err := NewWithOptions(cfg, Options{BotFactory: stubFactory, SignalChan: sigCh})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	sigCh <- syscall.SIGTERM

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop on signal")
	}
}
