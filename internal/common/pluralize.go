// Package common — pluralize.go содержит вспомогательные функции
// для правильного склонения русских числительных.
package common

import "fmt"

// pluralRu выбирает форму слова для числа n по правилам русского языка:
//   - n%10==1 И n%100!=11 → one (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → few (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → many (0, 5-20, 25-30, 100, ...)
func pluralRu(n int64, one, few, many string) string {
	absN := n
	if absN < 0 {
		absN = -absN
	}
	lastDigit := absN % 10
	lastTwoDigits := absN % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizeSnipes возвращает правильную форму слова «снайп» для числа n.
//
// Примеры:
//
//	PluralizeSnipes(1)  → "снайп"
//	PluralizeSnipes(3)  → "снайпа"
//	PluralizeSnipes(5)  → "снайпов"
//	PluralizeSnipes(11) → "снайпов"
//	PluralizeSnipes(21) → "снайп"
func PluralizeSnipes(n int64) string {
	return pluralRu(n, "снайп", "снайпа", "снайпов")
}

// PluralizeTimes возвращает правильную форму слова «раз».
func PluralizeTimes(n int64) string {
	return pluralRu(n, "раз", "раза", "раз")
}

// PluralizeVotes возвращает правильную форму слова «голос».
func PluralizeVotes(n int64) string {
	return pluralRu(n, "голос", "голоса", "голосов")
}

// FormatSnipes форматирует количество снайпов в читабельную строку.
// Пример: FormatSnipes(150) → "150 снайпов"
func FormatSnipes(n int64) string {
	return fmt.Sprintf("%d %s", n, PluralizeSnipes(n))
}
