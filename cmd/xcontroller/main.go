package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/xcontroller/internal/bot"
	"github.com/stellarlinkco/xcontroller/internal/config"
	"github.com/stellarlinkco/xcontroller/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "xcontroller",
	Short: "xcontroller - telegram group moderation agent",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the moderation bot",
	RunE:  runBot,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and .env template",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show moderation state from the local store",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	b, err := bot.New(cfg)
	if err != nil {
		return err
	}

	return b.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		if err := os.WriteFile(envPath, []byte(envTemplate), 0600); err != nil {
			return fmt.Errorf("write .env template: %w", err)
		}
		fmt.Printf("Created: %s\n", envPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Fill in BOT_TOKEN, GROUP_ID, and ADMIN_IDS in .env")
	fmt.Println("  2. Run 'xcontroller run'")
	fmt.Println("  3. DM the bot 'activate' from an admin account")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Group: %d\n", cfg.Group.ID)
	fmt.Printf("Admins: %d configured\n", len(cfg.Group.AdminIDs))
	if cfg.Telegram.Token != "" && len(cfg.Telegram.Token) > 8 {
		masked := cfg.Telegram.Token[:4] + "..." + cfg.Telegram.Token[len(cfg.Telegram.Token)-4:]
		fmt.Printf("Token: %s\n", masked)
	} else if cfg.Telegram.Token != "" {
		fmt.Println("Token: set")
	} else {
		fmt.Println("Token: not set")
	}

	if _, err := os.Stat(cfg.DBPath); err != nil {
		fmt.Println("Store: not found (bot has not run yet)")
		return nil
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	if on, at, err := st.Activated(); err != nil {
		fmt.Printf("Activation: unknown (%v)\n", err)
	} else if on {
		fmt.Printf("Activation: on since %s\n", at.Format(time.RFC3339))
	} else {
		fmt.Println("Activation: off")
	}

	if words, err := st.Words(); err == nil {
		fmt.Printf("Banned words: %d\n", len(words))
	}
	if vs, err := st.ViolationStats(); err == nil {
		fmt.Printf("Violations (7d): %d offenders, %d total\n", vs.Identities, vs.Total)
	}
	dmWindow := time.Duration(cfg.Moderation.DMWindowHours) * time.Hour
	if ds, err := st.DMStats(dmWindow); err == nil {
		fmt.Printf("DM senders tracked: %d (%d actioned)\n", ds.Identities, ds.Actioned)
	}
	if cfg.Identity.Key != "" {
		fmt.Println("Identity key: operator-fixed")
	} else if _, rotatedAt, ok, err := st.IdentityKey(); err == nil && ok {
		next := rotatedAt.Add(time.Duration(cfg.Identity.RotationHours) * time.Hour)
		fmt.Printf("Identity key: auto, next rotation ~%s\n", next.Format(time.RFC3339))
	} else {
		fmt.Println("Identity key: not yet generated")
	}
	fmt.Printf("DB: %s\n", filepath.Clean(cfg.DBPath))

	return nil
}

const envTemplate = `# xcontroller environment
# Telegram bot token from @BotFather
BOT_TOKEN=

# Administered group id (negative for supergroups)
GROUP_ID=

# Comma-separated admin user ids allowed on the control channel
ADMIN_IDS=

# Optional comma-separated seed word list
BANNED_WORDS=

# Optional fixed identity key (hex). Leave empty for auto-rotation.
XCONTROLLER_IDENTITY_KEY=
`
