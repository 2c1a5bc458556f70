// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование чисел, работа с временем.
package common

import (
	"fmt"
	"time"
)

// GetMoscowTime возвращает текущее время в часовом поясе Москвы (Europe/Moscow).
// Используется для ежедневной сводки и форматирования дат.
func GetMoscowTime() time.Time {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		// Если не удалось загрузить — используем UTC+3 вручную
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return time.Now().In(loc)
}

// GetMoscowDate возвращает только дату (без времени) в часовом поясе Москвы.
// Формат: 2006-01-02
func GetMoscowDate() time.Time {
	t := GetMoscowTime()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" (день.месяц.год часы:минуты).
// Используется в истории снайпов.
func FormatDateTime(t time.Time) string {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// FormatDuration переводит длительность в человекочитаемый вид: "5 ч", "30 мин".
// Используется в сообщении об открытии голосования.
func FormatDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d ч", int(d.Hours()))
	}
	if d >= time.Hour {
		return fmt.Sprintf("%d ч %d мин", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%d мин", int(d.Minutes()))
}
