// Package members управляет реестром участников: кто когда-либо писал боту
// или попадал в снайпы. models.go описывает структуры для таблицы members.
package members

import "time"

// Member представляет известного боту пользователя.
// Записи создаются «по факту»: при первом сообщении или первом снайпе.
// Реестр нужен презентационному слою — лента и топы хранят только
// сырые Telegram ID, а имена подставляются отсюда.
type Member struct {
	ID        int64     `db:"id"`         // Автоинкрементный ID записи в БД
	UserID    int64     `db:"user_id"`    // Telegram user ID (уникальный)
	Username  string    `db:"username"`   // @username (может быть пустым)
	FirstName string    `db:"first_name"` // Имя пользователя
	LastName  string    `db:"last_name"`  // Фамилия (может быть пустой)
	IsBot     bool      `db:"is_bot"`     // Флаг бот-аккаунта (ботов снайпить нельзя)
	CreatedAt time.Time `db:"created_at"` // Когда запись создана в БД
	UpdatedAt time.Time `db:"updated_at"` // Последнее обновление записи
}

// UnknownName — подстановка, когда ID не удалось сопоставить с участником.
// Это не ошибка ядра: лента отдаёт сырые ID, а реестр мог их не видеть.
const UnknownName = "Неизвестный"

// DisplayName возвращает отображаемое имя пользователя.
// Если есть @username — возвращает его, иначе — имя + фамилию.
func (m *Member) DisplayName() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	name := m.FirstName
	if m.LastName != "" {
		name += " " + m.LastName
	}
	if name == "" {
		return UnknownName
	}
	return name
}
