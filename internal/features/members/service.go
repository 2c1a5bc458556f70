// Package members — service.go содержит логику реестра участников.
// Сервис регистрирует пользователей «по факту» и разрешает
// сырые Telegram ID в отображаемые имена для презентационного слоя.
package members

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Service управляет реестром участников.
type Service struct {
	repo *Repository // Репозиторий для работы с таблицей members
}

// NewService создаёт новый сервис участников.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// EnsureMember гарантирует, что пользователь есть в базе, и обновляет
// его имя/username, если они изменились. Вызывается на каждое сообщение.
func (s *Service) EnsureMember(ctx context.Context, userID int64, username, firstName, lastName string, isBot bool) error {
	err := s.repo.Upsert(ctx, &Member{
		UserID:    userID,
		Username:  username,
		FirstName: firstName,
		LastName:  lastName,
		IsBot:     isBot,
	})
	if err != nil {
		return fmt.Errorf("ошибка регистрации участника: %w", err)
	}
	return nil
}

// GetByUserID возвращает участника по его Telegram user ID.
func (s *Service) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// GetByUsername возвращает участника по @username (без @).
func (s *Service) GetByUsername(ctx context.Context, username string) (*Member, error) {
	return s.repo.GetByUsername(ctx, username)
}

// DisplayName возвращает отображаемое имя для одного ID.
// Если участник не найден — подставляет «Неизвестный», не возвращая ошибку:
// лента обязана рендериться даже при битых ссылках на пользователей.
func (s *Service) DisplayName(ctx context.Context, userID int64) string {
	m, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Debug("Имя не разрешено, подставляем заглушку")
		return UnknownName
	}
	return m.DisplayName()
}

// DisplayNames разрешает список ID в имена одним запросом к БД.
// Для неизвестных ID в карте будет «Неизвестный».
func (s *Service) DisplayNames(ctx context.Context, userIDs []int64) map[int64]string {
	out := make(map[int64]string, len(userIDs))
	for _, id := range userIDs {
		out[id] = UnknownName
	}

	found, err := s.repo.GetByUserIDs(ctx, userIDs)
	if err != nil {
		log.WithError(err).Warn("Пакетное разрешение имён не удалось, подставляем заглушки")
		return out
	}
	for id, m := range found {
		out[id] = m.DisplayName()
	}
	return out
}
