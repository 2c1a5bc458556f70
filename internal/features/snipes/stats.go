// Package snipes — stats.go содержит чистые вычисления над данными ленты:
// K/D, пагинацию и локальные серии на странице истории.
package snipes

import "fmt"

// FormatRatio возвращает K/D снайпера как строку для отображения.
// Деления на ноль здесь нет по определению:
//   - T == 0 и S > 0 → "∞" (ни разу не словил ответку)
//   - T == 0 и S == 0 → "0"
//   - иначе S/T с двумя знаками после запятой
func FormatRatio(sniped, targeted int64) string {
	if targeted == 0 {
		if sniped > 0 {
			return "∞"
		}
		return "0"
	}
	return fmt.Sprintf("%.2f", float64(sniped)/float64(targeted))
}

// TotalPages возвращает число страниц при данном размере страницы.
// Пустая лента — одна пустая страница.
func TotalPages(total int64, pageSize int) int {
	if total <= 0 {
		return 1
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return pages
}

// ClampPage вводит номер страницы в допустимые границы.
// Выход за край — не ошибка: «вперёд» за последней страницей просто
// остаётся на последней, отрицательные номера — на нулевой.
func ClampPage(page, totalPages int) int {
	if page < 0 {
		return 0
	}
	if page >= totalPages {
		return totalPages - 1
	}
	return page
}

// AnnotatePageStreaks размечает серии внутри одной страницы истории.
// Записи идут новые сверху. Серия записи — длина непрерывной цепочки
// того же снайпера, считая от неё вглубь страницы (к более старым).
// Считаем только в пределах страницы: на границе страниц серия
// сбрасывается, глобально по ленте не сканируем.
func AnnotatePageStreaks(entries []Snipe) []HistoryEntry {
	out := make([]HistoryEntry, len(entries))
	// Идём от самой старой записи страницы к самой свежей
	for i := len(entries) - 1; i >= 0; i-- {
		streak := int64(1)
		if i < len(entries)-1 && entries[i].SniperID == entries[i+1].SniperID {
			streak = out[i+1].PageStreak + 1
		}
		out[i] = HistoryEntry{Snipe: entries[i], PageStreak: streak}
	}
	return out
}
