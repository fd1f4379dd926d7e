// Package moderation holds the enforcement core: banned-word scanning,
// join-time username checks, progressive penalties, and DM triage. All group
// handling is inert until an administrator activates the gate.
package moderation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/stellarlinkco/xcontroller/internal/identity"
	"github.com/stellarlinkco/xcontroller/internal/platform"
	"github.com/stellarlinkco/xcontroller/internal/store"
)

// Actions is the slice of platform enforcement the engine issues. The
// Telegram adapter implements it; tests use a recorder.
type Actions interface {
	Kick(ctx context.Context, chatID, userID int64) error
	Mute(ctx context.Context, chatID, userID int64, d time.Duration) error
	Ban(ctx context.Context, chatID, userID int64) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	ScheduleDelete(chatID int64, messageID int, after time.Duration)
}

type Options struct {
	GroupID     int64
	AdminIDs    []int64
	Mute        time.Duration
	WarningTTL  time.Duration
	DMWindow    time.Duration
	DMThreshold int
	// KeyFixed disables the rotation estimate in /status.
	KeyFixed      bool
	RotationEvery time.Duration
}

type Engine struct {
	store   *store.Store
	hasher  *identity.Hasher
	actions Actions

	groupID     int64
	admins      map[int64]struct{}
	mute        time.Duration
	warnTTL     time.Duration
	dmWindow    time.Duration
	dmThreshold int
	keyFixed    bool
	rotateEvery time.Duration
}

func New(st *store.Store, hasher *identity.Hasher, actions Actions, opts Options) *Engine {
	admins := make(map[int64]struct{}, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = struct{}{}
	}
	if opts.Mute <= 0 {
		opts.Mute = 12 * time.Hour
	}
	if opts.WarningTTL <= 0 {
		opts.WarningTTL = 30 * time.Second
	}
	if opts.DMWindow <= 0 {
		opts.DMWindow = store.ViolationWindow
	}
	if opts.DMThreshold <= 0 {
		opts.DMThreshold = 50
	}
	if opts.RotationEvery <= 0 {
		opts.RotationEvery = 24 * time.Hour
	}
	return &Engine{
		store:       st,
		hasher:      hasher,
		actions:     actions,
		groupID:     opts.GroupID,
		admins:      admins,
		mute:        opts.Mute,
		warnTTL:     opts.WarningTTL,
		dmWindow:    opts.DMWindow,
		dmThreshold: opts.DMThreshold,
		keyFixed:    opts.KeyFixed,
		rotateEvery: opts.RotationEvery,
	}
}

func (e *Engine) isAdmin(userID int64) bool {
	_, ok := e.admins[userID]
	return ok
}

func (e *Engine) activated() bool {
	on, _, err := e.store.Activated()
	if err != nil {
		log.Printf("[engine] read activation warning: %v", err)
		return false
	}
	return on
}

// HandleJoin kicks every non-bot joiner without a public username. One
// member's failure never stops the rest of the batch.
func (e *Engine) HandleJoin(ctx context.Context, ev platform.JoinEvent) {
	if !e.activated() {
		return
	}

	for _, m := range ev.Members {
		if m.IsBot {
			continue
		}
		if m.Username != "" {
			log.Printf("[engine] member @%s joined with username, allowed", m.Username)
			continue
		}
		if err := e.actions.Kick(ctx, ev.ChatID, m.ID); err != nil {
			log.Printf("[engine] kick in chat %d failed: %v", ev.ChatID, err)
			continue
		}
		log.Printf("[engine] kicked username-less joiner from chat %d", ev.ChatID)
	}
}

// HandleMessage scans a new or edited group message against the live
// banned-word set and applies the progressive penalty:
// first violation in the window mutes, the second bans.
func (e *Engine) HandleMessage(ctx context.Context, ev platform.MessageEvent) {
	if !e.activated() {
		return
	}
	if strings.TrimSpace(ev.Text) == "" {
		return
	}

	// Always the live set; a stale cached copy could miss a word an admin
	// just added.
	words, err := e.store.Words()
	if err != nil {
		log.Printf("[engine] read word list failed, message skipped: %v", err)
		return
	}
	if !ContainsBannedWord(ev.Text, words) {
		return
	}

	log.Printf("[engine] banned word in chat %d message %d", ev.ChatID, ev.MessageID)

	if err := e.actions.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
		log.Printf("[engine] delete message %d warning: %v", ev.MessageID, err)
	}

	id := e.hasher.Hash(ev.SenderID)
	count, err := e.store.RecordViolation(id)
	if err != nil {
		// Losing the counter update means the escalation decision is
		// unsound; skip enforcement rather than guessing.
		log.Printf("[engine] record violation failed, enforcement skipped: %v", err)
		return
	}

	if count == 1 {
		if err := e.actions.Mute(ctx, ev.ChatID, ev.SenderID, e.mute); err != nil {
			log.Printf("[engine] mute in chat %d warning: %v", ev.ChatID, err)
		}
		warnID, err := e.actions.Reply(ctx, ev.ChatID, ev.MessageID,
			fmt.Sprintf("Message removed: banned word. You are muted for %s; the next violation is a permanent ban.", e.mute))
		if err != nil {
			log.Printf("[engine] warning reply in chat %d failed: %v", ev.ChatID, err)
			return
		}
		e.actions.ScheduleDelete(ev.ChatID, warnID, e.warnTTL)
		return
	}

	if err := e.actions.Ban(ctx, ev.ChatID, ev.SenderID); err != nil {
		log.Printf("[engine] ban in chat %d warning: %v", ev.ChatID, err)
		return
	}
	log.Printf("[engine] banned repeat offender in chat %d (violation %d)", ev.ChatID, count)
}

// HandleDM triages private messages: administrators get the command
// interpreter and always a reply; everyone else hits the silent spam gate.
func (e *Engine) HandleDM(ctx context.Context, ev platform.DMEvent) {
	if e.isAdmin(ev.SenderID) {
		reply := e.runCommand(ParseAdminCommand(ev.Text))
		if _, err := e.actions.Reply(ctx, ev.ChatID, ev.MessageID, reply); err != nil {
			log.Printf("[engine] admin reply failed: %v", err)
		}
		return
	}

	// Silent by design: replying would confirm the bot's presence to
	// spammers.
	id := e.hasher.Hash(ev.SenderID)

	blocked, err := e.store.IsBlocked(id)
	if err != nil {
		log.Printf("[engine] blocklist read warning: %v", err)
		return
	}
	if blocked {
		return
	}

	count, actioned, err := e.store.RecordDM(id, e.dmWindow)
	if err != nil {
		log.Printf("[engine] record dm failed: %v", err)
		return
	}
	if actioned || count <= e.dmThreshold {
		return
	}

	log.Printf("[engine] dm flood threshold crossed, enforcing")
	if err := e.actions.Ban(ctx, e.groupID, ev.SenderID); err != nil {
		log.Printf("[engine] dm-spam ban warning: %v", err)
	}
	if err := e.store.Block(id); err != nil {
		log.Printf("[engine] dm-spam block warning: %v", err)
	}
	if err := e.store.MarkActioned(id); err != nil {
		log.Printf("[engine] dm-spam mark actioned warning: %v", err)
	}
}

func (e *Engine) runCommand(cmd AdminCommand) string {
	switch cmd.Kind {
	case CmdActivate:
		already, err := e.store.Activate()
		if err != nil {
			return fmt.Sprintf("activation failed: %v", err)
		}
		if already {
			return "Moderation is already active."
		}
		log.Printf("[engine] moderation activated")
		return "Moderation activated."

	case CmdAddWords:
		added, skipped, err := e.store.AddWords(cmd.Words)
		if err != nil {
			return fmt.Sprintf("word list update failed: %v", err)
		}
		var sb strings.Builder
		if len(added) > 0 {
			fmt.Fprintf(&sb, "Added: %s.", strings.Join(added, ", "))
		}
		if len(skipped) > 0 {
			if sb.Len() > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "Already present: %s.", strings.Join(skipped, ", "))
		}
		if sb.Len() == 0 {
			return "Nothing to add."
		}
		return sb.String()

	case CmdStatus:
		return e.statusReport()
	}
	return helpText
}

// statusReport summarizes state without ever exposing a raw or hashed
// identity.
func (e *Engine) statusReport() string {
	var sb strings.Builder

	on, at, err := e.store.Activated()
	switch {
	case err != nil:
		fmt.Fprintf(&sb, "Activation: unknown (%v)\n", err)
	case on:
		fmt.Fprintf(&sb, "Activation: on since %s\n", at.Format(time.RFC3339))
	default:
		sb.WriteString("Activation: off\n")
	}

	fmt.Fprintf(&sb, "Group: %d\n", e.groupID)

	if words, err := e.store.Words(); err == nil {
		fmt.Fprintf(&sb, "Banned words: %d\n", len(words))
	} else {
		fmt.Fprintf(&sb, "Banned words: unknown (%v)\n", err)
	}

	if st, err := e.store.ViolationStats(); err == nil {
		fmt.Fprintf(&sb, "Violations (7d): %d offenders, %d total\n", st.Identities, st.Total)
	}
	if st, err := e.store.DMStats(e.dmWindow); err == nil {
		fmt.Fprintf(&sb, "DM senders tracked: %d, %d messages, %d actioned\n", st.Identities, st.Total, st.Actioned)
	}

	if e.keyFixed {
		sb.WriteString("Identity key: operator-fixed, rotation disabled")
	} else if _, rotatedAt, ok, err := e.store.IdentityKey(); err == nil && ok {
		fmt.Fprintf(&sb, "Identity key: auto, next rotation ~%s",
			rotatedAt.Add(e.rotateEvery).Format(time.RFC3339))
	} else {
		sb.WriteString("Identity key: auto, not yet generated")
	}

	return sb.String()
}
