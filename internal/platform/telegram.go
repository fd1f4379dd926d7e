package platform

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Bot is the slice of the telegram API the adapter needs; tests inject fakes.
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// botWrapper adapts tgbotapi.BotAPI to the Bot interface.
type botWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *botWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *botWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *botWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *botWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *botWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates Bot instances (allows mocking)
type BotFactory func(token string, client *http.Client) (Bot, error)

var defaultBotFactory BotFactory = func(token string, client *http.Client) (Bot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &botWrapper{bot: bot}, nil
}

// Handler receives the normalized event stream.
type Handler interface {
	HandleJoin(ctx context.Context, ev JoinEvent)
	HandleMessage(ctx context.Context, ev MessageEvent)
	HandleDM(ctx context.Context, ev DMEvent)
}

type Options struct {
	Token        string
	Proxy        string
	GroupID      int64
	KickDuration time.Duration
	// Token-bucket admission gate on outbound enforcement calls,
	// independent of platform-signaled flood waits.
	Rate  float64
	Burst int

	BotFactory BotFactory
}

type Telegram struct {
	token   string
	proxy   string
	groupID int64
	kickFor time.Duration

	bot     Bot
	factory BotFactory
	limiter *rate.Limiter
	cancel  context.CancelFunc
}

func NewTelegram(opts Options) (*Telegram, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	factory := opts.BotFactory
	if factory == nil {
		factory = defaultBotFactory
	}
	if opts.KickDuration <= 0 {
		opts.KickDuration = 30 * time.Second
	}
	if opts.Rate <= 0 {
		opts.Rate = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	return &Telegram{
		token:   opts.Token,
		proxy:   opts.Proxy,
		groupID: opts.GroupID,
		kickFor: opts.KickDuration,
		factory: factory,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
	}, nil
}

func (t *Telegram) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.factory(t.token, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

// Start begins long polling and dispatches normalized events to h. Each
// event runs in its own goroutine so one action's flood sleep never stalls
// unrelated events; cross-event consistency lives in the store.
func (t *Telegram) Start(ctx context.Context, h Handler) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				t.dispatch(ctx, update, h)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *Telegram) dispatch(ctx context.Context, update tgbotapi.Update, h Handler) {
	msg := update.Message
	edited := false
	if msg == nil && update.EditedMessage != nil {
		msg = update.EditedMessage
		edited = true
	}
	if msg == nil || msg.From == nil {
		return
	}

	switch {
	case len(msg.NewChatMembers) > 0:
		if msg.Chat.ID != t.groupID {
			return
		}
		ev := JoinEvent{ChatID: msg.Chat.ID}
		for _, u := range msg.NewChatMembers {
			ev.Members = append(ev.Members, Member{
				ID:       u.ID,
				IsBot:    u.IsBot,
				Username: u.UserName,
			})
		}
		go h.HandleJoin(ctx, ev)

	case msg.Chat.IsPrivate():
		ev := DMEvent{
			ChatID:    msg.Chat.ID,
			SenderID:  msg.From.ID,
			MessageID: msg.MessageID,
			Text:      messageText(msg),
		}
		go h.HandleDM(ctx, ev)

	case msg.Chat.ID == t.groupID:
		ev := MessageEvent{
			ChatID:    msg.Chat.ID,
			SenderID:  msg.From.ID,
			MessageID: msg.MessageID,
			Text:      messageText(msg),
			Edited:    edited,
		}
		go h.HandleMessage(ctx, ev)
	}
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func (t *Telegram) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *Telegram) SetBot(bot Bot) {
	t.bot = bot
}

// Enforcement primitives. Every call waits on the admission gate first; a
// flood response is honored by sleeping exactly the demanded duration, after
// which the attempt counts as finished.

// Kick removes a member while still permitting rejoin: a short timed ban
// followed by an unban. The platform offers no direct removal call.
func (t *Telegram) Kick(ctx context.Context, chatID, userID int64) error {
	until := time.Now().Add(t.kickFor).Unix()
	if err := t.do(ctx, tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		UntilDate:        until,
	}); err != nil {
		return err
	}
	time.Sleep(time.Second)
	return t.do(ctx, tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		OnlyIfBanned:     true,
	})
}

// Mute applies a timed restriction blocking all send actions while
// preserving read access.
func (t *Telegram) Mute(ctx context.Context, chatID, userID int64, d time.Duration) error {
	perms := &tgbotapi.ChatPermissions{}
	return t.do(ctx, tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		UntilDate:        time.Now().Add(d).Unix(),
		Permissions:      perms,
	})
}

// Ban applies a permanent full restriction.
func (t *Telegram) Ban(ctx context.Context, chatID, userID int64) error {
	return t.do(ctx, tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	})
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return t.do(ctx, tgbotapi.NewDeleteMessage(chatID, messageID))
}

// Reply sends a message threaded to replyTo and returns the new message id.
func (t *Telegram) Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if replyTo != 0 {
		msg.ReplyToMessageID = replyTo
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return 0, t.settle(classifyError(err))
	}
	return sent.MessageID, nil
}

func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := t.Reply(ctx, chatID, 0, text)
	return err
}

// ScheduleDelete deletes a message after the given delay on a detached
// timer. Failure is logged, never escalated.
func (t *Telegram) ScheduleDelete(chatID int64, messageID int, after time.Duration) {
	time.AfterFunc(after, func() {
		if err := t.DeleteMessage(context.Background(), chatID, messageID); err != nil {
			log.Printf("[telegram] delayed delete of message %d warning: %v", messageID, err)
		}
	})
}

func (t *Telegram) do(ctx context.Context, c tgbotapi.Chattable) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.bot.Request(c)
	return t.settle(classifyError(err))
}

// settle performs the one mandated flood sleep. The error is still returned
// so the caller can log the abandoned action.
func (t *Telegram) settle(err error) error {
	var flood *FloodError
	if errors.As(err, &flood) {
		log.Printf("[telegram] flood wait, sleeping %s", flood.RetryAfter)
		time.Sleep(flood.RetryAfter)
	}
	return err
}
