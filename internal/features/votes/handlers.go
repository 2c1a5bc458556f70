// Package votes — handlers.go рендерит голосование в Telegram:
// кнопку «оспорить», кнопки за/против со счётом и сообщение с вердиктом.
package votes

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/snipe-bot/internal/common"
	"serotonyl.ru/snipe-bot/internal/config"
	"serotonyl.ru/snipe-bot/internal/features/members"
)

// Handler обрабатывает нажатия кнопок голосования.
type Handler struct {
	service       *Service
	memberService *members.Service
	bot           *tgbotapi.BotAPI
	cfg           *config.Config
}

// NewHandler создаёт обработчик голосования.
func NewHandler(service *Service, memberService *members.Service, bot *tgbotapi.BotAPI, cfg *config.Config) *Handler {
	return &Handler{service: service, memberService: memberService, bot: bot, cfg: cfg}
}

// ArmKeyboard возвращает клавиатуру с кнопкой «оспорить» для сообщения
// о свежем снайпе.
func ArmKeyboard(token string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⚖️ Оспорить", "arm:"+token),
		),
	)
}

func voteKeyboard(token string, up, down int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("👍 Оставить (%d)", up), "vote:"+token+":up"),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("👎 Отменить (%d)", down), "vote:"+token+":down"),
		),
	)
}

// HandleArm открывает голосование по нажатию «оспорить».
// Если отредактировать сообщение под кнопки не удалось — взведение
// считается проваленным и сессия выбрасывается без повторов.
func (h *Handler) HandleArm(ctx context.Context, cb *tgbotapi.CallbackQuery, token string) {
	if cb.Message == nil {
		return
	}

	sess, err := h.service.Arm(token, cb.Message.MessageID)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrVoteAlreadyArmed):
			h.answer(cb, "Голосование уже открыто")
		case errors.Is(err, common.ErrVoteNotFound):
			h.answer(cb, "Это событие уже нельзя оспорить")
		default:
			log.WithError(err).Error("Ошибка взведения голосования")
			h.answer(cb, "❌ Не получилось открыть голосование")
		}
		return
	}

	sniperName := h.memberService.DisplayName(ctx, sess.Ref.SniperID)
	targetName := h.memberService.DisplayName(ctx, sess.Ref.TargetID)

	text := fmt.Sprintf(
		"⚖️ Голосование: отменить снайп %s по %s?\n"+
			"Итоги через %s. Если «отменить» наберёт больше — снайп вычеркнут из ленты.",
		sniperName, targetName, common.FormatDuration(h.cfg.VoteWindow),
	)

	edit := tgbotapi.NewEditMessageTextAndMarkup(
		cb.Message.Chat.ID, cb.Message.MessageID, text, voteKeyboard(token, 0, 0),
	)
	if _, err := h.bot.Send(edit); err != nil {
		log.WithError(err).WithField("chat_id", cb.Message.Chat.ID).Error("Не удалось показать кнопки голосования")
		h.service.Abort(token)
		h.answer(cb, "❌ Не получилось открыть голосование")
		return
	}

	h.answer(cb, "Голосование открыто")
}

// HandleVote учитывает голос и обновляет счёт на кнопках.
func (h *Handler) HandleVote(ctx context.Context, cb *tgbotapi.CallbackQuery, token string, up bool) {
	if cb.Message == nil || cb.From == nil {
		return
	}

	upN, downN, err := h.service.CastVote(token, cb.From.ID, up)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrVoteResolved):
			h.answer(cb, "Голосование уже завершено")
		case errors.Is(err, common.ErrVoteNotFound):
			h.answer(cb, "Голосование не найдено")
		default:
			log.WithError(err).Error("Ошибка учёта голоса")
			h.answer(cb, "❌ Голос не учтён")
		}
		return
	}

	markup := voteKeyboard(token, upN, downN)
	edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, markup)
	if _, err := h.bot.Send(edit); err != nil {
		// Счёт на кнопках отстанет, но голос уже учтён
		log.WithError(err).Debug("Не удалось обновить счёт на кнопках")
	}

	h.answer(cb, "Голос учтён")
}

// HandleResolved — колбэк итога: редактирует сообщение голосования,
// убирая кнопки и показывая вердикт. Регистрируется в сервисе при сборке.
func (h *Handler) HandleResolved(sess *Session, out Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sniperName := h.memberService.DisplayName(ctx, sess.Ref.SniperID)
	targetName := h.memberService.DisplayName(ctx, sess.Ref.TargetID)
	score := fmt.Sprintf("👍 %d / 👎 %d", out.Up, out.Down)

	var text string
	switch out.Verdict {
	case VerdictRetracted:
		text = fmt.Sprintf("🗑 Решено: снайп %s по %s отменён (%s)", sniperName, targetName, score)
	case VerdictUpheld:
		text = fmt.Sprintf("✅ Решено: снайп %s по %s остаётся (%s)", sniperName, targetName, score)
	case VerdictTied:
		text = fmt.Sprintf("🤝 Ничья: снайп %s по %s остаётся (%s)", sniperName, targetName, score)
	case VerdictFailed:
		text = fmt.Sprintf("⚠️ Голоса против перевесили (%s), но удалить снайп не удалось. Лента не изменена.", score)
	}

	edit := tgbotapi.NewEditMessageText(sess.Ref.ChatID, sess.MessageID, text)
	if _, err := h.bot.Send(edit); err != nil {
		log.WithError(err).WithField("chat_id", sess.Ref.ChatID).Error("Не удалось опубликовать итог голосования")
	}
}

func (h *Handler) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		log.WithError(err).Debug("Не удалось ответить на callback")
	}
}
