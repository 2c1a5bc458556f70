// Package votes — service.go содержит машину состояний голосования:
// регистрацию событий, взведение, подсчёт и единоразовое подведение
// итогов по одноразовому таймеру.
package votes

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/snipe-bot/internal/common"
	"serotonyl.ru/snipe-bot/internal/features/snipes"
)

// Сколько невзведённая сессия ждёт нажатия «оспорить», прежде чем
// уборка её выбросит. После этого кнопка под старым сообщением мертва.
const idleTTL = 24 * time.Hour

// Ledger — единственная операция ленты, нужная голосованию.
// Реализуется *snipes.Repository; в тестах подменяется фейком.
type Ledger interface {
	DeleteMostRecentMatching(ctx context.Context, chatID, sniperID, targetID int64) (*snipes.Snipe, error)
}

// ResolvedFunc вызывается после подведения итогов — презентационный слой
// редактирует сообщение голосования.
type ResolvedFunc func(sess *Session, out Outcome)

// Service управляет сессиями голосования.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	ledger     Ledger
	window     time.Duration
	onResolved ResolvedFunc
}

// NewService создаёт сервис голосования с фиксированным окном.
func NewService(ledger Ledger, window time.Duration) *Service {
	return &Service{
		sessions: make(map[string]*Session),
		ledger:   ledger,
		window:   window,
	}
}

// SetResolvedCallback задаёт колбэк итога. Вызывается один раз при сборке
// приложения, до старта бота.
func (s *Service) SetResolvedCallback(f ResolvedFunc) {
	s.onResolved = f
}

// Register создаёт Idle-сессию для свежезаписанного снайпа и возвращает
// токен для кнопки «оспорить».
func (s *Service) Register(ref EventRef) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = &Session{
		Token:     token,
		Ref:       ref,
		State:     StateIdle,
		CreatedAt: time.Now(),
		votes:     make(map[int64]bool),
	}
	s.mu.Unlock()
	return token
}

// Arm открывает голосование: Idle → Armed, не более одного раза.
// Повторное нажатие — no-op (ErrVoteAlreadyArmed). Таймер итога
// одноразовый и привязан к wall-clock моменту взведения; он сработает,
// даже если после взведения никто больше не нажмёт ни одной кнопки.
func (s *Service) Arm(token string, messageID int) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, common.ErrVoteNotFound
	}
	if sess.State != StateIdle {
		return nil, common.ErrVoteAlreadyArmed
	}

	sess.State = StateArmed
	sess.ArmedAt = time.Now()
	sess.Deadline = sess.ArmedAt.Add(s.window)
	sess.MessageID = messageID
	sess.timer = time.AfterFunc(s.window, func() { s.Resolve(token) })

	log.WithFields(log.Fields{
		"chat_id":  sess.Ref.ChatID,
		"snipe_id": sess.Ref.SnipeID,
		"deadline": sess.Deadline,
	}).Info("Голосование открыто")

	return sess, nil
}

// Abort удаляет сессию после неудачного взведения (например, не удалось
// отредактировать сообщение с кнопками). Повторных попыток нет —
// для этого события голосование потеряно.
func (s *Service) Abort(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	delete(s.sessions, token)

	log.WithField("snipe_id", sess.Ref.SnipeID).Warn("Взведение не удалось, голосование отменено")
}

// CastVote записывает голос пользователя (переголосовать можно) и
// возвращает текущий счёт.
//
// Проверка состояния и запись голоса идут под общим мьютексом сервиса:
// Resolve переводит сессию в StateResolved под тем же мьютексом, поэтому
// голос, пришедший одновременно со срабатыванием таймера, либо успевает
// до итога, либо получает ErrVoteResolved. Просочиться в счёт после
// подведения итогов он не может.
func (s *Service) CastVote(token string, userID int64, up bool) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return 0, 0, common.ErrVoteNotFound
	}
	if sess.State != StateArmed {
		return 0, 0, common.ErrVoteResolved
	}

	sess.cast(userID, up)
	upN, downN := sess.Tally()
	return upN, downN, nil
}

// Resolve подводит итог ровно один раз. Обычно вызывается таймером,
// но доступен и напрямую (тесты).
//
// Правило: против > за → снайп удаляется из ленты; за > против или
// ничья (включая 0:0) → снайп остаётся. Неудача удаления логируется
// и отдаётся наблюдателю как VerdictFailed; процесс не падает,
// повторов нет.
func (s *Service) Resolve(token string) {
	s.mu.Lock()
	sess, ok := s.sessions[token]
	if !ok || sess.State != StateArmed {
		// Уже подведено или сессия убрана — итог бывает только один
		s.mu.Unlock()
		return
	}
	sess.State = StateResolved
	s.mu.Unlock()

	up, down := sess.Tally()
	out := Outcome{Up: up, Down: down}

	switch {
	case down > up:
		out.Verdict = VerdictRetracted
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		deleted, err := s.ledger.DeleteMostRecentMatching(ctx, sess.Ref.ChatID, sess.Ref.SniperID, sess.Ref.TargetID)
		if err != nil {
			log.WithError(err).WithField("snipe_id", sess.Ref.SnipeID).Error("Не удалось удалить снайп по итогам голосования")
			out.Verdict = VerdictFailed
		} else if deleted == nil {
			// Подходящей записи уже нет (отменили вручную раньше) —
			// цель голосования и так достигнута
			log.WithField("snipe_id", sess.Ref.SnipeID).Info("Снайп уже был удалён до итогов голосования")
		}
	case up > down:
		out.Verdict = VerdictUpheld
	default:
		out.Verdict = VerdictTied
	}

	log.WithFields(log.Fields{
		"chat_id":  sess.Ref.ChatID,
		"snipe_id": sess.Ref.SnipeID,
		"up":       up,
		"down":     down,
		"verdict":  out.Verdict,
	}).Info("Голосование завершено")

	if s.onResolved != nil {
		s.onResolved(sess, out)
	}
}

// Get возвращает сессию по токену.
func (s *Service) Get(token string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	return sess, ok
}

// Sweep убирает завершённые сессии и Idle-сессии старше idleTTL.
// Вызывается планировщиком по расписанию.
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-idleTTL)
	removed := 0
	for token, sess := range s.sessions {
		if sess.State == StateResolved || (sess.State == StateIdle && sess.CreatedAt.Before(cutoff)) {
			delete(s.sessions, token)
			removed++
		}
	}
	if removed > 0 {
		log.WithField("removed", removed).Debug("Сессии голосований убраны")
	}
	return removed
}
