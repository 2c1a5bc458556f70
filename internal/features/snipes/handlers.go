// Package snipes — handlers.go рендерит команды ленты в Telegram:
// !снайп, !статы, !топ, !история, !отмена и кнопки пагинации.
package snipes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/snipe-bot/internal/common"
	"serotonyl.ru/snipe-bot/internal/config"
	"serotonyl.ru/snipe-bot/internal/features/members"
)

// RegisterVoteFunc регистрирует свежий снайп в сервисе голосования и
// возвращает токен для кнопки «оспорить». Пустая строка — без кнопки
// (голосования выключены). Функция, а не интерфейс, чтобы не тянуть
// пакет votes в ленту.
type RegisterVoteFunc func(chatID, sniperID, targetID, snipeID int64) string

// ArmKeyboardFunc строит клавиатуру «оспорить» по токену.
type ArmKeyboardFunc func(token string) tgbotapi.InlineKeyboardMarkup

// Handler обрабатывает команды ленты снайпов.
type Handler struct {
	service       *Service
	memberService *members.Service
	bot           *tgbotapi.BotAPI
	cfg           *config.Config

	registerVote RegisterVoteFunc
	armKeyboard  ArmKeyboardFunc
}

// NewHandler создаёт обработчик ленты.
// registerVote/armKeyboard могут быть nil — тогда снайпы публикуются
// без кнопки «оспорить».
func NewHandler(
	service *Service,
	memberService *members.Service,
	bot *tgbotapi.BotAPI,
	cfg *config.Config,
	registerVote RegisterVoteFunc,
	armKeyboard ArmKeyboardFunc,
) *Handler {
	return &Handler{
		service:       service,
		memberService: memberService,
		bot:           bot,
		cfg:           cfg,
		registerVote:  registerVote,
		armKeyboard:   armKeyboard,
	}
}

// HandleSnipe — команда !снайп. Цель — reply на сообщение жертвы
// или @username первым аргументом.
func (h *Handler) HandleSnipe(ctx context.Context, msg *tgbotapi.Message, args []string) {
	chatID := msg.Chat.ID
	sniperID := msg.From.ID

	targetID, targetIsBot, err := h.resolveTarget(ctx, msg, args)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrTargetRequired):
			h.sendMessage(chatID, "🎯 Кого снайпим? Ответь на сообщение жертвы или укажи @username")
		case errors.Is(err, common.ErrUserNotFound):
			h.sendMessage(chatID, "🤷 Не знаю такого. Жертва должна хоть раз написать в чат")
		default:
			log.WithError(err).Error("Ошибка поиска цели")
			h.sendMessage(chatID, "❌ Не получилось найти цель")
		}
		return
	}

	res, err := h.service.RecordSnipe(ctx, chatID, sniperID, targetID, targetIsBot)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrSelfSnipe):
			h.sendMessage(chatID, "😅 Себя заснайпить нельзя")
		case errors.Is(err, common.ErrBotTarget):
			h.sendMessage(chatID, "🤖 Ботов снайпить нельзя")
		default:
			log.WithError(err).Error("Ошибка записи снайпа")
			h.sendMessage(chatID, "❌ Снайп не записан, попробуй ещё раз")
		}
		return
	}

	sniperName := h.memberService.DisplayName(ctx, sniperID)
	targetName := h.memberService.DisplayName(ctx, targetID)

	text := fmt.Sprintf("🎯 %s заснайпил %s! Всего: %s", sniperName, targetName, common.FormatSnipes(res.Total))
	if res.Streak > 1 {
		text += fmt.Sprintf(", серия: %d 🔥", res.Streak)
	}

	out := tgbotapi.NewMessage(chatID, text)
	if h.registerVote != nil && h.armKeyboard != nil {
		token := h.registerVote(chatID, sniperID, targetID, res.SnipeID)
		if token != "" {
			out.ReplyMarkup = h.armKeyboard(token)
		}
	}
	if _, err := h.bot.Send(out); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// HandleUndo — команда !отмена. Удаляет последний снайп пользователя.
func (h *Handler) HandleUndo(ctx context.Context, chatID, userID int64) {
	deleted, err := h.service.DeleteLast(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, common.ErrNothingToDelete) {
			h.sendMessage(chatID, "🤷 Отменять нечего — снайпов нет")
			return
		}
		log.WithError(err).Error("Ошибка отмены снайпа")
		h.sendMessage(chatID, "❌ Не получилось отменить снайп")
		return
	}

	targetName := h.memberService.DisplayName(ctx, deleted.TargetID)
	h.sendMessage(chatID, fmt.Sprintf("↩️ Последний снайп по %s отменён", targetName))
}

// HandleStats — команда !статы [@user]. Без аргумента — своя статистика.
func (h *Handler) HandleStats(ctx context.Context, chatID, userID int64, args []string) {
	subjectID := userID
	if len(args) > 0 {
		m, err := h.memberService.GetByUsername(ctx, strings.TrimPrefix(args[0], "@"))
		if err != nil {
			h.sendMessage(chatID, "🤷 Не знаю такого пользователя")
			return
		}
		subjectID = m.UserID
	}

	stats, err := h.service.Stats(ctx, chatID, subjectID)
	if err != nil {
		log.WithError(err).Error("Ошибка получения статистики")
		h.sendMessage(chatID, "❌ Не получилось собрать статистику")
		return
	}

	if stats.Total == 0 && stats.TimesTargeted == 0 {
		h.sendMessage(chatID, fmt.Sprintf("📊 У %s пока пустая статистика", h.memberService.DisplayName(ctx, subjectID)))
		return
	}

	var ids []int64
	ids = append(ids, subjectID)
	for _, row := range stats.TopTargets {
		ids = append(ids, row.UserID)
	}
	for _, row := range stats.TopOpponents {
		ids = append(ids, row.UserID)
	}
	names := h.memberService.DisplayNames(ctx, ids)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 Статистика %s\n\n", names[subjectID]))
	sb.WriteString(fmt.Sprintf("🎯 Снайпов: %d\n", stats.Total))
	sb.WriteString(fmt.Sprintf("💀 Словил: %d %s\n", stats.TimesTargeted, common.PluralizeTimes(stats.TimesTargeted)))
	sb.WriteString(fmt.Sprintf("📈 K/D: %s\n", stats.Ratio))
	sb.WriteString(fmt.Sprintf("🔥 Серия: %d\n", stats.Streak))

	if len(stats.TopTargets) > 0 {
		sb.WriteString("\nЛюбимые жертвы:\n")
		for i, row := range stats.TopTargets {
			sb.WriteString(fmt.Sprintf("  %d. %s — %s\n", i+1, names[row.UserID], common.FormatSnipes(row.Count)))
		}
	}
	if len(stats.TopOpponents) > 0 {
		sb.WriteString("\nГлавные противники:\n")
		for i, row := range stats.TopOpponents {
			sb.WriteString(fmt.Sprintf("  %d. %s — %d %s\n", i+1, names[row.UserID], row.Count, common.PluralizeTimes(row.Count)))
		}
	}

	h.sendMessage(chatID, sb.String())
}

// HandleLeaderboard — команда !топ [жертвы]. По умолчанию топ снайперов.
func (h *Handler) HandleLeaderboard(ctx context.Context, chatID int64, args []string) {
	kind := LeaderboardSnipers
	if len(args) > 0 && strings.EqualFold(args[0], "жертвы") {
		kind = LeaderboardTargets
	}

	rows, err := h.service.Leaderboard(ctx, chatID, kind)
	if err != nil {
		log.WithError(err).Error("Ошибка получения топа")
		h.sendMessage(chatID, "❌ Не получилось собрать топ")
		return
	}

	if len(rows) == 0 {
		// Явное «пока пусто», а не пустой список
		h.sendMessage(chatID, "🏜 Пока никто никого не заснайпил!")
		return
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UserID)
	}
	names := h.memberService.DisplayNames(ctx, ids)

	title := "🏆 ТОП СНАЙПЕРОВ"
	medals := []string{"🥇", "🥈", "🥉"}
	if kind == LeaderboardTargets {
		title = "💀 ТОП ЖЕРТВ"
		medals = []string{"💀", "☠️", "👻"}
	}

	var sb strings.Builder
	sb.WriteString(title + "\n\n")
	for i, row := range rows {
		medal := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			medal = medals[i]
		}
		if kind == LeaderboardTargets {
			sb.WriteString(fmt.Sprintf("%s %s — %d %s\n", medal, names[row.UserID], row.Count, common.PluralizeTimes(row.Count)))
		} else {
			sb.WriteString(fmt.Sprintf("%s %s — %s\n", medal, names[row.UserID], common.FormatSnipes(row.Count)))
		}
	}

	h.sendMessage(chatID, sb.String())
}

// HandleHistory — команда !история. Публикует нулевую страницу с кнопками.
func (h *Handler) HandleHistory(ctx context.Context, chatID int64) {
	page, err := h.service.HistoryPage(ctx, chatID, 0)
	if err != nil {
		log.WithError(err).Error("Ошибка получения истории")
		h.sendMessage(chatID, "❌ Не получилось загрузить историю")
		return
	}

	text, keyboard := h.renderHistory(ctx, page)
	msg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		msg.ReplyMarkup = *keyboard
	}
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// HandleHistoryPage — кнопки «⬅️/➡️». Редактирует опубликованную страницу.
func (h *Handler) HandleHistoryPage(ctx context.Context, cb *tgbotapi.CallbackQuery, pageNum int) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	page, err := h.service.HistoryPage(ctx, chatID, pageNum)
	if err != nil {
		log.WithError(err).Error("Ошибка получения истории")
		h.answer(cb, "❌ Не получилось загрузить страницу")
		return
	}

	text, keyboard := h.renderHistory(ctx, page)
	if keyboard != nil {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, cb.Message.MessageID, text, *keyboard)
		if _, err := h.bot.Send(edit); err != nil {
			log.WithError(err).Debug("Не удалось обновить страницу истории")
		}
	} else {
		edit := tgbotapi.NewEditMessageText(chatID, cb.Message.MessageID, text)
		if _, err := h.bot.Send(edit); err != nil {
			log.WithError(err).Debug("Не удалось обновить страницу истории")
		}
	}
	h.answer(cb, "")
}

// renderHistory строит текст страницы и клавиатуру навигации.
// Кнопка «вперёд» на последней странице не рендерится вовсе —
// выход за край отключает навигацию, а не падает.
func (h *Handler) renderHistory(ctx context.Context, page *HistoryPage) (string, *tgbotapi.InlineKeyboardMarkup) {
	if len(page.Entries) == 0 {
		return "🏜 История пуста — никто никого не заснайпил", nil
	}

	ids := make([]int64, 0, len(page.Entries)*2)
	for _, e := range page.Entries {
		ids = append(ids, e.SniperID, e.TargetID)
	}
	names := h.memberService.DisplayNames(ctx, ids)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📜 История снайпов — стр. %d/%d\n\n", page.Page+1, page.TotalPages))
	offset := page.Page * h.cfg.SnipeHistoryPageSize
	for i, e := range page.Entries {
		line := fmt.Sprintf("%d. %s | %s → %s",
			offset+i+1,
			common.FormatDateTime(e.CreatedAt),
			names[e.SniperID],
			names[e.TargetID],
		)
		if e.PageStreak > 1 {
			line += fmt.Sprintf(" (серия ×%d)", e.PageStreak)
		}
		sb.WriteString(line + "\n")
	}

	var buttons []tgbotapi.InlineKeyboardButton
	if page.HasPrev {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData("⬅️", fmt.Sprintf("hist:%d", page.Page-1)))
	}
	if page.HasNext {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData("➡️", fmt.Sprintf("hist:%d", page.Page+1)))
	}
	if len(buttons) == 0 {
		return sb.String(), nil
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	return sb.String(), &keyboard
}

// resolveTarget определяет жертву: reply имеет приоритет над @username.
func (h *Handler) resolveTarget(ctx context.Context, msg *tgbotapi.Message, args []string) (int64, bool, error) {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		from := msg.ReplyToMessage.From
		return from.ID, from.IsBot, nil
	}

	if len(args) > 0 && strings.HasPrefix(args[0], "@") {
		m, err := h.memberService.GetByUsername(ctx, strings.TrimPrefix(args[0], "@"))
		if err != nil {
			return 0, false, common.ErrUserNotFound
		}
		return m.UserID, m.IsBot, nil
	}

	return 0, false, common.ErrTargetRequired
}

func (h *Handler) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

func (h *Handler) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		log.WithError(err).Debug("Не удалось ответить на callback")
	}
}
