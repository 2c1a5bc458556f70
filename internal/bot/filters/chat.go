// Package filters решает, в каких чатах бот вообще работает.
// Снайпы привязаны к чату-лиге, поэтому команды принимаются только
// в групповых чатах (опционально — из белого списка).
package filters

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/snipe-bot/internal/config"
)

type ChatFilter struct {
	cfg *config.Config
	bot *tgbotapi.BotAPI
}

func NewChatFilter(cfg *config.Config, bot *tgbotapi.BotAPI) *ChatFilter {
	return &ChatFilter{cfg: cfg, bot: bot}
}

// CheckAccess возвращает true, если сообщение можно обрабатывать.
func (f *ChatFilter) CheckAccess(ctx context.Context, message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Warn("nil message.From (service/channel message?)")
		return false
	}

	chatID := message.Chat.ID

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   chatID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	})

	// Личка: счётчики живут в чатах-лигах, в DM командам делать нечего
	if message.Chat.IsPrivate() {
		logger.Debug("deny: private chat")
		msg := tgbotapi.NewMessage(chatID, "🎯 Команды работают в групповом чате — там и снайпим")
		if _, sendErr := f.bot.Send(msg); sendErr != nil {
			logger.WithError(sendErr).Warn("failed to send deny message")
		}
		return false
	}

	if !message.Chat.IsGroup() && !message.Chat.IsSuperGroup() {
		logger.Debug("deny: not a group chat")
		return false
	}

	// Белый список чатов (пустой = разрешены все)
	if !f.cfg.ChatAllowed(chatID) {
		logger.Info("deny: chat not in ALLOWED_CHAT_IDS")
		return false
	}

	logger.Debug("allow: group chat")
	return true
}
