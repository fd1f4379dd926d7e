package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultMuteHours         = 12
	DefaultWarningTTLSeconds = 30
	DefaultKickSeconds       = 30
	DefaultDMThreshold       = 50
	DefaultDMWindowHours     = 7 * 24
	DefaultRotationHours     = 24
	DefaultOutboundRate      = 1.0 // enforcement calls per second
	DefaultOutboundBurst     = 5
)

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Group      GroupConfig      `json:"group"`
	Identity   IdentityConfig   `json:"identity"`
	Moderation ModerationConfig `json:"moderation"`
	DBPath     string           `json:"dbPath,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	Proxy string `json:"proxy,omitempty"`
}

type GroupConfig struct {
	ID       int64   `json:"id"`
	AdminIDs []int64 `json:"adminIds"`
}

// IdentityConfig controls the anonymizing hash. When Key is set (hex) the
// operator owns the key and rotation is disabled; when empty a random key is
// generated, persisted, and rotated every RotationHours.
type IdentityConfig struct {
	Key           string `json:"key,omitempty"`
	RotationHours int    `json:"rotationHours,omitempty"`
}

type ModerationConfig struct {
	BannedWords       []string `json:"bannedWords,omitempty"`
	MuteHours         int      `json:"muteHours"`
	WarningTTLSeconds int      `json:"warningTtlSeconds"`
	KickSeconds       int      `json:"kickSeconds"`
	DMThreshold       int      `json:"dmThreshold"`
	DMWindowHours     int      `json:"dmWindowHours"`
	OutboundRate      float64  `json:"outboundRate"`
	OutboundBurst     int      `json:"outboundBurst"`
}

func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{},
		Group:    GroupConfig{},
		Identity: IdentityConfig{RotationHours: DefaultRotationHours},
		Moderation: ModerationConfig{
			MuteHours:         DefaultMuteHours,
			WarningTTLSeconds: DefaultWarningTTLSeconds,
			KickSeconds:       DefaultKickSeconds,
			DMThreshold:       DefaultDMThreshold,
			DMWindowHours:     DefaultDMWindowHours,
			OutboundRate:      DefaultOutboundRate,
			OutboundBurst:     DefaultOutboundBurst,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".xcontroller")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func DefaultDBPath() string {
	return filepath.Join(ConfigDir(), "data", "moderator.db")
}

func LoadConfig() (*Config, error) {
	// .env in the working directory, best effort. Matches the operator
	// workflow the bot historically shipped with.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("XCONTROLLER_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if token := os.Getenv("BOT_TOKEN"); token != "" && cfg.Telegram.Token == "" {
		cfg.Telegram.Token = token
	}
	if id := firstEnv("XCONTROLLER_GROUP_ID", "GROUP_ID"); id != "" {
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse group id %q: %w", id, err)
		}
		cfg.Group.ID = parsed
	}
	if ids := firstEnv("XCONTROLLER_ADMIN_IDS", "ADMIN_IDS"); ids != "" {
		parsed, err := parseIDList(ids)
		if err != nil {
			return nil, fmt.Errorf("parse admin ids: %w", err)
		}
		cfg.Group.AdminIDs = parsed
	}
	if words := firstEnv("XCONTROLLER_BANNED_WORDS", "BANNED_WORDS"); words != "" {
		cfg.Moderation.BannedWords = splitWords(words)
	}
	if key := os.Getenv("XCONTROLLER_IDENTITY_KEY"); key != "" {
		cfg.Identity.Key = key
	}
	if path := os.Getenv("XCONTROLLER_DB_PATH"); path != "" {
		cfg.DBPath = path
	}
	if proxy := os.Getenv("XCONTROLLER_PROXY"); proxy != "" {
		cfg.Telegram.Proxy = proxy
	}

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.Identity.RotationHours <= 0 {
		cfg.Identity.RotationHours = DefaultRotationHours
	}
	if cfg.Moderation.MuteHours <= 0 {
		cfg.Moderation.MuteHours = DefaultMuteHours
	}
	if cfg.Moderation.WarningTTLSeconds <= 0 {
		cfg.Moderation.WarningTTLSeconds = DefaultWarningTTLSeconds
	}
	if cfg.Moderation.KickSeconds <= 0 {
		cfg.Moderation.KickSeconds = DefaultKickSeconds
	}
	if cfg.Moderation.DMThreshold <= 0 {
		cfg.Moderation.DMThreshold = DefaultDMThreshold
	}
	if cfg.Moderation.DMWindowHours <= 0 {
		cfg.Moderation.DMWindowHours = DefaultDMWindowHours
	}
	if cfg.Moderation.OutboundRate <= 0 {
		cfg.Moderation.OutboundRate = DefaultOutboundRate
	}
	if cfg.Moderation.OutboundBurst <= 0 {
		cfg.Moderation.OutboundBurst = DefaultOutboundBurst
	}

	return cfg, nil
}

// Validate reports the startup errors that must stop the process.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token not set (config, XCONTROLLER_TELEGRAM_TOKEN, or BOT_TOKEN)")
	}
	if c.Group.ID == 0 {
		return fmt.Errorf("group id not set (config, XCONTROLLER_GROUP_ID, or GROUP_ID)")
	}
	return nil
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Group.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitWords(s string) []string {
	var words []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			words = append(words, part)
		}
	}
	return words
}
