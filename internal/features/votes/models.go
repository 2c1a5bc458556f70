// Package votes реализует голосование за отмену снайпа.
// models.go описывает сессию голосования и её состояния.
//
// Сессии живут только в памяти процесса: рестарт бота молча бросает
// открытые голосования. Это осознанное ограничение — лента при этом
// не страдает, теряется только несостоявшийся вердикт.
package votes

import (
	"sync"
	"time"
)

// State — состояние сессии голосования.
type State int

const (
	// StateIdle — снайп записан, кнопка «оспорить» ещё не нажата
	StateIdle State = iota
	// StateArmed — голосование открыто, идёт подсчёт
	StateArmed
	// StateResolved — итог подведён, сессия ждёт уборки
	StateResolved
)

// Verdict — итог голосования.
type Verdict int

const (
	// VerdictRetracted — против больше, снайп удалён из ленты
	VerdictRetracted Verdict = iota
	// VerdictUpheld — за больше, снайп остаётся
	VerdictUpheld
	// VerdictTied — ничья (включая 0:0), снайп остаётся
	VerdictTied
	// VerdictFailed — удаление не удалось; итог есть, ленты не трогали
	VerdictFailed
)

// Outcome — вердикт вместе с финальным счётом.
type Outcome struct {
	Verdict Verdict
	Up      int64
	Down    int64
}

// EventRef ссылается на оспариваемый снайп.
type EventRef struct {
	ChatID     int64
	SniperID   int64
	TargetID   int64
	SnipeID    int64
	RecordedAt time.Time
}

// Session — одна сессия голосования. Создаётся при публикации снайпа,
// взводится нажатием «оспорить» (не более одного раза), завершается
// ровно один раз по таймеру.
type Session struct {
	Token     string   // Токен для callback-данных кнопок
	Ref       EventRef // Оспариваемое событие
	State     State
	ArmedAt   time.Time
	Deadline  time.Time // ArmedAt + фиксированное окно
	MessageID int       // Сообщение с кнопками голосования (для редактирования)
	CreatedAt time.Time

	mu    sync.Mutex
	votes map[int64]bool // userID → за (true) / против (false); переголосовать можно
	timer *time.Timer
}

// cast записывает или меняет голос пользователя.
func (s *Session) cast(userID int64, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[userID] = up
}

// Tally возвращает текущий счёт. Посевных голосов нет:
// бот сам не голосует, счёт начинается с 0:0.
func (s *Session) Tally() (up, down int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.votes {
		if v {
			up++
		} else {
			down++
		}
	}
	return up, down
}
