// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях бота.
// Эти ошибки позволяют обработчикам различать типы проблем
// и отправлять пользователю понятные сообщения.
package common

import "errors"

// Ошибки валидации снайпов
var (
	// ErrSelfSnipe — попытка заснайпить самого себя
	ErrSelfSnipe = errors.New("нельзя заснайпить самого себя")
	// ErrBotTarget — попытка заснайпить бота
	ErrBotTarget = errors.New("ботов снайпить нельзя")
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrTargetRequired — цель не указана (нет reply и нет @username)
	ErrTargetRequired = errors.New("не указана цель снайпа")
)

// Ошибки ленты и удаления
var (
	// ErrNothingToDelete — у пользователя нет снайпов, которые можно отменить.
	// Это не сбой хранилища, а нормальный пустой результат.
	ErrNothingToDelete = errors.New("нет снайпов для отмены")
)

// Ошибки голосования
var (
	// ErrVoteAlreadyArmed — голосование по этому событию уже открыто
	ErrVoteAlreadyArmed = errors.New("голосование уже открыто")
	// ErrVoteNotFound — голосование не найдено (истёк токен или рестарт бота)
	ErrVoteNotFound = errors.New("голосование не найдено")
	// ErrVoteResolved — голосование уже завершено
	ErrVoteResolved = errors.New("голосование уже завершено")
)
