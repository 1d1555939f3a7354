package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ykarpov/planner-bot/internal/engine"
	"go.uber.org/zap"
)

type Bot struct {
	api    *tgbotapi.BotAPI
	engine *engine.Engine
	logger *zap.Logger
}

func New(token string, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:    api,
		logger: logger,
	}, nil
}

// SetEngine wires the reconciliation engine in after construction; the
// reminder scheduler needs the bot as its notifier before the engine
// exists.
func (b *Bot) SetEngine(e *engine.Engine) {
	b.engine = e
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		switch {
		case update.Message != nil:
			go b.handleMessage(update.Message)
		case update.CallbackQuery != nil:
			go b.handleCallback(update.CallbackQuery)
		}
	}

	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if content == "" {
		return
	}

	reply := b.engine.HandleMessage(ctx, message.Chat.ID, content)
	b.sendReply(message.Chat.ID, reply)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "list":
		b.sendReply(chatID, b.engine.ListEvents(ctx, chatID))
	case "week":
		b.sendReply(chatID, b.engine.ListWeek(ctx, chatID))
	case "classes":
		b.sendReply(chatID, b.engine.ListClasses(ctx, chatID))
	case "addclass":
		b.sendReply(chatID, b.engine.StartClassIntake(chatID))
	case "cancel":
		b.sendReply(chatID, b.engine.CancelPending(chatID))
	default:
		b.sendMessage(chatID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleCallback(query *tgbotapi.CallbackQuery) {
	ctx := context.Background()

	// Clear the button spinner before doing any real work.
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
	if query.Message == nil {
		return
	}

	reply := b.engine.HandleCallback(ctx, query.Message.Chat.ID, query.Data)
	b.sendReply(query.Message.Chat.ID, reply)
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hi! I'm your scheduling assistant. 📅
Just tell me about your plans in plain words — "gym tomorrow at 6pm",
"dentist on friday" — and I'll keep track and remind you.

Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/list - Show your upcoming events
/week - Show the next seven days
/classes - Show your weekly classes
/addclass - Add weekly classes
/cancel - Cancel a pending edit

Or just describe an event in plain words and I'll pick up the details.
I'll remind you a day, six hours, and half an hour before anything with
a time on it.`

	b.sendMessage(message.Chat.ID, help)
}

// Notify implements reminder.Notifier.
func (b *Bot) Notify(chatID int64, text string) {
	b.sendMessage(chatID, text)
}

func (b *Bot) sendReply(chatID int64, reply *engine.Reply) {
	if reply == nil || reply.Text == "" {
		return
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if len(reply.Buttons) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, row := range reply.Buttons {
			var buttons []tgbotapi.InlineKeyboardButton
			for _, btn := range row {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
			}
			rows = append(rows, buttons)
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
