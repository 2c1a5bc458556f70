// Package snipes — service.go содержит основную бизнес-логику ленты.
// Сервис валидирует запросы до обращения к хранилищу, пишет и удаляет
// события, собирает статистику, топы и страницы истории.
package snipes

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/snipe-bot/internal/common"
	"serotonyl.ru/snipe-bot/internal/config"
)

// Ledger — операции хранилища, которые нужны сервису.
// Реализуется *Repository; в тестах подменяется in-memory хранилищем.
type Ledger interface {
	Record(ctx context.Context, chatID, sniperID, targetID int64) (int64, error)
	DeleteMostRecent(ctx context.Context, chatID, sniperID int64) (*Snipe, error)
	DeleteMostRecentMatching(ctx context.Context, chatID, sniperID, targetID int64) (*Snipe, error)
	CountBySniper(ctx context.Context, chatID, userID int64) (int64, error)
	CountByTarget(ctx context.Context, chatID, userID int64) (int64, error)
	LastTargetedID(ctx context.Context, chatID, userID int64) (int64, error)
	CountBySniperSince(ctx context.Context, chatID, userID, sinceID int64) (int64, error)
	TopSnipers(ctx context.Context, chatID int64, limit int) ([]LeaderRow, error)
	TopTargets(ctx context.Context, chatID int64, limit int) ([]LeaderRow, error)
	TopTargetsForSniper(ctx context.Context, chatID, sniperID int64, limit int) ([]LeaderRow, error)
	TopSnipersAgainstTarget(ctx context.Context, chatID, targetID int64, limit int) ([]LeaderRow, error)
	Page(ctx context.Context, chatID int64, offset, limit int) ([]Snipe, error)
	TotalCount(ctx context.Context, chatID int64) (int64, error)
}

// Service управляет лентой снайпов.
type Service struct {
	ledger Ledger
	cfg    *config.Config
}

// NewService создаёт новый сервис ленты.
func NewService(ledger Ledger, cfg *config.Config) *Service {
	return &Service{ledger: ledger, cfg: cfg}
}

// RecordSnipe записывает снайп и возвращает новый счётчик и серию снайпера.
// Валидация выполняется ДО записи: самоснайп и снайп бота отклоняются
// без побочных эффектов в ленте.
func (s *Service) RecordSnipe(ctx context.Context, chatID, sniperID, targetID int64, targetIsBot bool) (*RecordResult, error) {
	if sniperID == targetID {
		return nil, common.ErrSelfSnipe
	}
	if targetIsBot {
		return nil, common.ErrBotTarget
	}

	id, err := s.ledger.Record(ctx, chatID, sniperID, targetID)
	if err != nil {
		return nil, err
	}

	total, err := s.ledger.CountBySniper(ctx, chatID, sniperID)
	if err != nil {
		return nil, err
	}
	streak, err := s.Streak(ctx, chatID, sniperID)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"chat_id":  chatID,
		"sniper":   sniperID,
		"target":   targetID,
		"snipe_id": id,
	}).Info("Снайп записан")

	return &RecordResult{SnipeID: id, Total: total, Streak: streak}, nil
}

// DeleteLast отменяет последний снайп пользователя в чате.
// Возвращает удалённое событие; если удалять нечего — ErrNothingToDelete.
func (s *Service) DeleteLast(ctx context.Context, chatID, sniperID int64) (*Snipe, error) {
	deleted, err := s.ledger.DeleteMostRecent(ctx, chatID, sniperID)
	if err != nil {
		return nil, err
	}
	if deleted == nil {
		return nil, common.ErrNothingToDelete
	}

	log.WithFields(log.Fields{
		"chat_id":  chatID,
		"sniper":   sniperID,
		"snipe_id": deleted.ID,
	}).Info("Снайп отменён вручную")

	return deleted, nil
}

// Streak возвращает текущую серию: число снайпов пользователя строго
// новее последнего события, где он сам был жертвой.
func (s *Service) Streak(ctx context.Context, chatID, userID int64) (int64, error) {
	lastHit, err := s.ledger.LastTargetedID(ctx, chatID, userID)
	if err != nil {
		return 0, err
	}
	return s.ledger.CountBySniperSince(ctx, chatID, userID, lastHit)
}

// Stats собирает сводку по пользователю: счётчики, K/D, серию и мини-топы.
func (s *Service) Stats(ctx context.Context, chatID, userID int64) (*Stats, error) {
	total, err := s.ledger.CountBySniper(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	targeted, err := s.ledger.CountByTarget(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	streak, err := s.Streak(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	topTargets, err := s.ledger.TopTargetsForSniper(ctx, chatID, userID, s.cfg.SnipeStatsTopLimit)
	if err != nil {
		return nil, err
	}
	topOpponents, err := s.ledger.TopSnipersAgainstTarget(ctx, chatID, userID, s.cfg.SnipeStatsTopLimit)
	if err != nil {
		return nil, err
	}

	return &Stats{
		UserID:        userID,
		Total:         total,
		TimesTargeted: targeted,
		Ratio:         FormatRatio(total, targeted),
		Streak:        streak,
		TopTargets:    topTargets,
		TopOpponents:  topOpponents,
	}, nil
}

// Leaderboard возвращает топ чата (не больше лимита из конфигурации).
// Пустой топ — валидный результат, презентация рендерит «пока пусто».
func (s *Service) Leaderboard(ctx context.Context, chatID int64, kind LeaderboardKind) ([]LeaderRow, error) {
	switch kind {
	case LeaderboardTargets:
		return s.ledger.TopTargets(ctx, chatID, s.cfg.SnipeLeaderboardLimit)
	default:
		return s.ledger.TopSnipers(ctx, chatID, s.cfg.SnipeLeaderboardLimit)
	}
}

// HistoryPage возвращает страницу истории чата с локальными сериями.
// Номер страницы вводится в границы, за край не ошибаемся.
func (s *Service) HistoryPage(ctx context.Context, chatID int64, page int) (*HistoryPage, error) {
	total, err := s.ledger.TotalCount(ctx, chatID)
	if err != nil {
		return nil, err
	}

	pageSize := s.cfg.SnipeHistoryPageSize
	totalPages := TotalPages(total, pageSize)
	page = ClampPage(page, totalPages)

	rows, err := s.ledger.Page(ctx, chatID, page*pageSize, pageSize)
	if err != nil {
		return nil, err
	}

	return &HistoryPage{
		Entries:    AnnotatePageStreaks(rows),
		Page:       page,
		TotalPages: totalPages,
		HasPrev:    page > 0,
		HasNext:    page < totalPages-1,
	}, nil
}
