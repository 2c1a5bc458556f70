// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: ежедневная сводка по чатам
// и периодическая уборка завершённых сессий голосования.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/snipe-bot/internal/common"
	"serotonyl.ru/snipe-bot/internal/config"
	"serotonyl.ru/snipe-bot/internal/features/members"
	"serotonyl.ru/snipe-bot/internal/features/snipes"
	"serotonyl.ru/snipe-bot/internal/features/votes"
)

// Сколько строк попадает в вечернюю сводку
const digestTopLimit = 5

// DigestSource — запросы к ленте, нужные для сводки.
// Реализуется *snipes.Repository.
type DigestSource interface {
	ActiveChatIDs(ctx context.Context, since time.Time) ([]int64, error)
	TopSnipersSince(ctx context.Context, chatID int64, since time.Time, limit int) ([]snipes.LeaderRow, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron          *cron.Cron
	cfg           *config.Config
	source        DigestSource
	memberService *members.Service
	voteService   *votes.Service
	sendFunc      func(chatID int64, text string)
}

// NewScheduler создаёт планировщик задач с московским часовым поясом.
func NewScheduler(
	cfg *config.Config,
	source DigestSource,
	memberService *members.Service,
	voteService *votes.Service,
	sendFunc func(chatID int64, text string),
) *Scheduler {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		log.WithError(err).Warn("Не удалось загрузить Europe/Moscow, используем UTC+3")
		loc = time.FixedZone("MSK", 3*60*60)
	}

	c := cron.New(cron.WithLocation(loc))

	return &Scheduler{
		cron:          c,
		cfg:           cfg,
		source:        source,
		memberService: memberService,
		voteService:   voteService,
		sendFunc:      sendFunc,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.FeatureDigestEnabled {
		if _, err := s.cron.AddFunc(s.cfg.DigestCronSpec, func() {
			log.Info("[CRON] Ежедневная сводка")
			if err := s.SendDigests(ctx); err != nil {
				log.WithError(err).Error("[CRON] Ошибка сводки")
			}
		}); err != nil {
			log.WithError(err).Error("[CRON] Некорректное расписание сводки")
		}
	}

	// Уборка завершённых сессий голосования
	if _, err := s.cron.AddFunc("@every "+s.cfg.VoteSweepInterval.String(), func() {
		log.Debug("[CRON] Уборка сессий голосования")
		s.voteService.Sweep()
	}); err != nil {
		log.WithError(err).Error("[CRON] Некорректный интервал уборки")
	}

	s.cron.Start()
	log.Info("Планировщик задач запущен (Europe/Moscow)")
}

// Stop останавливает планировщик.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// SendDigests публикует вечернюю сводку в каждый чат,
// где за последние сутки были снайпы.
func (s *Scheduler) SendDigests(ctx context.Context) error {
	since := time.Now().Add(-24 * time.Hour)
	chatIDs, err := s.source.ActiveChatIDs(ctx, since)
	if err != nil {
		return fmt.Errorf("активные чаты: %w", err)
	}

	for _, chatID := range chatIDs {
		rows, err := s.source.TopSnipersSince(ctx, chatID, since, digestTopLimit)
		if err != nil {
			log.WithError(err).WithField("chat_id", chatID).Error("[CRON] Топ для сводки не собрался")
			continue
		}
		if len(rows) == 0 {
			continue
		}

		ids := make([]int64, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.UserID)
		}
		names := s.memberService.DisplayNames(ctx, ids)

		var sb strings.Builder
		sb.WriteString("🌙 Сводка дня — лучшие снайперы:\n\n")
		for i, row := range rows {
			sb.WriteString(fmt.Sprintf("%d. %s — %s\n", i+1, names[row.UserID], common.FormatSnipes(row.Count)))
		}

		s.sendFunc(chatID, sb.String())
	}

	return nil
}
