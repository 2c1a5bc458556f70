// Package snipes реализует ленту снайпов — главный модуль бота.
// models.go описывает событие снайпа и структуры для статистики.
package snipes

import "time"

// Snipe — одно записанное событие: кто, кого, в каком чате и когда.
// События неизменяемы: единственная мутация — удаление записи целиком
// (ручная отмена или итог голосования).
type Snipe struct {
	ID        int64     `db:"id"`         // Монотонный ID, назначается БД при вставке
	ChatID    int64     `db:"chat_id"`    // Чат-лига, к которой относится событие
	SniperID  int64     `db:"sniper_id"`  // Кто заснайпил
	TargetID  int64     `db:"target_id"`  // Кого заснайпили
	CreatedAt time.Time `db:"created_at"` // Время записи, назначается БД
}

// LeaderRow — строка сгруппированного топа: пользователь и его счётчик.
type LeaderRow struct {
	UserID int64
	Count  int64
}

// RecordResult — итог записи снайпа: новый счётчик и текущая серия снайпера.
type RecordResult struct {
	SnipeID int64
	Total   int64
	Streak  int64
}

// Stats — сводная статистика пользователя для команды !статы.
type Stats struct {
	UserID        int64
	Total         int64       // Сколько раз снайпил
	TimesTargeted int64       // Сколько раз снайпили его
	Ratio         string      // K/D: S/T, "∞" при T=0 и S>0, "0" при 0/0
	Streak        int64       // Текущая серия (снайпы после последнего попадания по нему)
	TopTargets    []LeaderRow // Любимые жертвы
	TopOpponents  []LeaderRow // Главные противники
}

// HistoryEntry — строка страницы истории с локальной серией.
// Streak считается только в пределах отображаемой страницы.
type HistoryEntry struct {
	Snipe
	PageStreak int64
}

// HistoryPage — одна страница истории чата, новые сверху.
type HistoryPage struct {
	Entries    []HistoryEntry
	Page       int // Нулевая нумерация
	TotalPages int
	HasPrev    bool
	HasNext    bool
}

// LeaderboardKind — вид топа: снайперы или жертвы.
type LeaderboardKind int

const (
	LeaderboardSnipers LeaderboardKind = iota
	LeaderboardTargets
)
