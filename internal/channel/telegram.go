package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"pressbot/internal/bus"
	"pressbot/internal/command"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"
)

const telegramMaxMsgLen = 4000

// BotAPI is the part of *tgbotapi.BotAPI the channel uses.
type BotAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// CommandHandler runs one command and returns the reply text.
type CommandHandler interface {
	Handle(ctx context.Context, req command.Request) string
}

type TelegramConfig struct {
	Bot           BotAPI
	BotUserName   string // commands addressed to other bots are ignored
	Handler       CommandHandler
	AllowFrom     []string // user IDs as strings; empty allows everyone
	PollTimeout   int      // seconds
	MaxConcurrent int
	Events        *bus.EventBus
	Logger        *slog.Logger
}

// Telegram long-polls for updates and hands each command to the handler on
// its own goroutine.
type Telegram struct {
	bot           BotAPI
	botName       string
	handler       CommandHandler
	allowFrom     []int64
	pollTimeout   int
	maxConcurrent int
	events        *bus.EventBus
	logger        *slog.Logger
}

// Connect authenticates the bot token against Telegram.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return bot, nil
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Telegram{
		bot:           cfg.Bot,
		botName:       cfg.BotUserName,
		handler:       cfg.Handler,
		allowFrom:     allowed,
		pollTimeout:   cfg.PollTimeout,
		maxConcurrent: cfg.MaxConcurrent,
		events:        cfg.Events,
		logger:        cfg.Logger,
	}
}

// Start polls until ctx is cancelled, then waits for in-flight commands.
func (t *Telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "max_concurrent", t.maxConcurrent)

	var g errgroup.Group
	slots := make(chan struct{}, t.maxConcurrent)
	// In-flight commands finish after shutdown starts; each has its own timeouts.
	cmdCtx := context.WithoutCancel(ctx)

	defer func() {
		_ = g.Wait()
		t.logger.Info("telegram channel stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			t.stopPolling()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			// Waiting for a free slot must not block shutdown.
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				t.stopPolling()
				return nil
			}
			g.Go(func() error {
				defer func() { <-slots }()
				t.handleUpdate(cmdCtx, update)
				return nil
			})
		}
	}
}

func (t *Telegram) stopPolling() {
	t.logger.Info("telegram channel stopping")
	t.bot.StopReceivingUpdates()
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("command handler panic", "chat_id", chatID, "panic", r)
			t.sendMessage(chatID, msg.MessageID, command.UnexpectedText(fmt.Errorf("internal error")))
		}
	}()

	req, ok := BuildRequest(msg, t.botName)
	if !ok {
		return
	}

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		t.reject(req, bus.OutcomeDenied)
		t.sendMessage(chatID, msg.MessageID, command.UnauthorizedText)
		return
	}

	reply := t.handler.Handle(ctx, req)
	t.sendMessage(chatID, msg.MessageID, reply)
}

// BuildRequest maps a Telegram message to a command request. Any message
// with a document is an upload; otherwise only bot commands are handled.
// Commands or captions of the form "/cmd@name" are dropped unless name is
// botName.
func BuildRequest(msg *tgbotapi.Message, botName string) (command.Request, bool) {
	req := command.Request{ChatID: msg.Chat.ID}
	if msg.From != nil {
		req.UserID = msg.From.ID
	}

	if msg.Document != nil {
		if fields := strings.Fields(msg.Caption); len(fields) > 0 && strings.HasPrefix(fields[0], "/") && addressedElsewhere(fields[0], botName) {
			return req, false
		}
		req.Command = command.CmdUpload
		req.Caption = msg.Caption
		req.Document = &command.Document{
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
		}
		return req, true
	}

	if !msg.IsCommand() || addressedElsewhere(msg.CommandWithAt(), botName) {
		return req, false
	}

	req.Command = strings.ToLower(msg.Command())
	switch req.Command {
	case command.CmdPost:
		req.Args = strings.Fields(msg.CommandArguments())
	case command.CmdUpload:
		req.Caption = msg.Text
	}
	return req, true
}

func addressedElsewhere(cmd, botName string) bool {
	_, mention, ok := strings.Cut(cmd, "@")
	return ok && !strings.EqualFold(mention, botName)
}

// reject records a command that never reached the handler.
func (t *Telegram) reject(req command.Request, outcome string) {
	t.events.Emit(bus.Event{
		Type:    bus.EventCommandHandled,
		Command: req.Command,
		ChatID:  req.ChatID,
		UserID:  req.UserID,
		Outcome: outcome,
	})
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendMessage replies in plain text, split into chunks under Telegram's
// message limit. Send failures are logged; there is no retry.
func (t *Telegram) sendMessage(chatID int64, replyTo int, text string) {
	for i, chunk := range splitMessage(text, telegramMaxMsgLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if i == 0 {
			msg.ReplyToMessageID = replyTo
		}
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Error("telegram send failed", "chat_id", chatID, "err", err)
			return
		}
	}
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring a
// newline in the second half of a chunk and never splitting a rune.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
