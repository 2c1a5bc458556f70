// Package bot содержит главный модуль бота — инициализацию, запуск и остановку.
// bot.go подключает обработчики, запускает polling и маршрутизирует
// команды и нажатия кнопок.
package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/snipe-bot/internal/bot/filters"
	"serotonyl.ru/snipe-bot/internal/bot/middleware"
	"serotonyl.ru/snipe-bot/internal/config"
	"serotonyl.ru/snipe-bot/internal/features/members"
	"serotonyl.ru/snipe-bot/internal/features/snipes"
	"serotonyl.ru/snipe-bot/internal/features/votes"
)

const helpText = `🎯 Снайп-бот. Команды:
!снайп @user — записать снайп (или ответь на сообщение жертвы)
!статы [@user] — статистика
!топ [жертвы] — топ снайперов или жертв
!история — лента снайпов с пагинацией
!отмена — отменить свой последний снайп
Свежий снайп можно оспорить кнопкой под сообщением — решает голосование.`

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	api *tgbotapi.BotAPI
	cfg *config.Config

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter

	memberService *members.Service
	snipeHandler  *snipes.Handler
	voteHandler   *votes.Handler

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт новый экземпляр бота со всеми зависимостями.
func New(
	api *tgbotapi.BotAPI,
	cfg *config.Config,
	memberService *members.Service,
	snipeHandler *snipes.Handler,
	voteHandler *votes.Handler,
	chatFilter *filters.ChatFilter,
) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:           api,
		cfg:           cfg,
		chatFilter:    chatFilter,
		rateLimiter:   middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		memberService: memberService,
		snipeHandler:  snipeHandler,
		voteHandler:   voteHandler,
		parser:        NewCommandParser(),
		inflight:      make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight": b.cfg.BotMaxInflight,
		"timeout_sec":  b.cfg.BotUpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			b.rateLimiter.Close()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverFromPanic()

	// Нажатия кнопок (пагинация истории, голосования)
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.Text == "" {
		return
	}

	message := update.Message

	// Логируем входящее
	middleware.LogMessage(message)

	// Только разрешённые групповые чаты
	if !b.chatFilter.CheckAccess(ctx, message) {
		return
	}

	// Rate limiting
	if message.From != nil && !b.rateLimiter.Allow(message.From.ID) {
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	chatID := message.Chat.ID
	userID := message.From.ID

	// Регистрируем автора — ошибки нельзя игнорировать,
	// иначе потом «почему в топе Неизвестный»
	if err := b.memberService.EnsureMember(ctx, userID,
		message.From.UserName, message.From.FirstName, message.From.LastName, message.From.IsBot,
	); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("EnsureMember failed")
	}

	// Жертву из reply тоже регистрируем, чтобы она резолвилась в имя
	if reply := message.ReplyToMessage; reply != nil && reply.From != nil {
		if err := b.memberService.EnsureMember(ctx, reply.From.ID,
			reply.From.UserName, reply.From.FirstName, reply.From.LastName, reply.From.IsBot,
		); err != nil {
			log.WithError(err).WithField("user_id", reply.From.ID).Warn("EnsureMember (reply) failed")
		}
	}

	// Парсим команду
	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}

	log.WithFields(log.Fields{
		"cmd":     cmd,
		"args":    args,
		"chat_id": chatID,
	}).Debug("routing command")

	b.routeCommand(ctx, message, cmd, args)
}

// routeCommand маршрутизирует команду к нужному обработчику.
// Набор команд закрытый: неизвестные молча игнорируются.
func (b *Bot) routeCommand(ctx context.Context, message *tgbotapi.Message, cmd string, args []string) {
	chatID := message.Chat.ID
	userID := message.From.ID

	switch cmd {
	case "start", "help", "помощь":
		b.sendMessage(chatID, helpText)

	case "снайп", "snipe":
		b.snipeHandler.HandleSnipe(ctx, message, args)

	case "статы", "стата", "stats":
		b.snipeHandler.HandleStats(ctx, chatID, userID, args)

	case "топ", "top":
		b.snipeHandler.HandleLeaderboard(ctx, chatID, args)

	case "история", "history":
		b.snipeHandler.HandleHistory(ctx, chatID)

	case "отмена", "undo":
		b.snipeHandler.HandleUndo(ctx, chatID, userID)
	}
}

// handleCallback разбирает callback-данные кнопок по префиксу.
// Форматы: "hist:<page>", "arm:<token>", "vote:<token>:up|down".
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	if !b.cfg.ChatAllowed(cb.Message.Chat.ID) {
		return
	}

	// Голосующий тоже должен резолвиться в имя
	if cb.From != nil {
		if err := b.memberService.EnsureMember(ctx, cb.From.ID,
			cb.From.UserName, cb.From.FirstName, cb.From.LastName, cb.From.IsBot,
		); err != nil {
			log.WithError(err).WithField("user_id", cb.From.ID).Warn("EnsureMember (callback) failed")
		}
	}

	data := cb.Data
	log.WithFields(log.Fields{
		"data":    data,
		"chat_id": cb.Message.Chat.ID,
	}).Debug("callback received")

	switch {
	case strings.HasPrefix(data, "hist:"):
		page, err := strconv.Atoi(strings.TrimPrefix(data, "hist:"))
		if err != nil {
			return
		}
		b.snipeHandler.HandleHistoryPage(ctx, cb, page)

	case strings.HasPrefix(data, "arm:"):
		if b.cfg.FeatureVotesEnabled {
			b.voteHandler.HandleArm(ctx, cb, strings.TrimPrefix(data, "arm:"))
		}

	case strings.HasPrefix(data, "vote:"):
		if !b.cfg.FeatureVotesEnabled {
			return
		}
		rest := strings.TrimPrefix(data, "vote:")
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			return
		}
		token, dir := rest[:idx], rest[idx+1:]
		b.voteHandler.HandleVote(ctx, cb, token, dir == "up")
	}
}

// sendMessage — утилита для отправки сообщений.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// SendMessageToChat отправляет сообщение в чат (для ежедневной сводки).
func (b *Bot) SendMessageToChat(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Debug("Не удалось отправить сообщение")
	}
}

// CommandParser парсит команды с префиксами !, . и /
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"!", ".", "/"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// "/снайп@snipe_bot" в группе тоже валиден — суффикс с @ отрезается.
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}

	if !hasPrefix {
		return "", nil, false
	}

	text = strings.TrimSpace(text)
	parts := strings.Fields(text)

	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	// Отрезаем упоминание бота: "снайп@snipe_bot" → "снайп"
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	return command, args, true
}
