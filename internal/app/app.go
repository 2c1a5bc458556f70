// Package app инициализирует все компоненты приложения.
// app.go — точка сборки: создаёт БД-пул, репозитории, сервисы, обработчики,
// фильтры и собирает всё в один объект Bot.
package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/snipe-bot/internal/bot"
	"serotonyl.ru/snipe-bot/internal/bot/filters"
	"serotonyl.ru/snipe-bot/internal/config"
	"serotonyl.ru/snipe-bot/internal/db/postgres"
	"serotonyl.ru/snipe-bot/internal/features/members"
	"serotonyl.ru/snipe-bot/internal/features/snipes"
	"serotonyl.ru/snipe-bot/internal/features/votes"
	"serotonyl.ru/snipe-bot/internal/jobs"
)

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	DB        *pgxpool.Pool
	BotAPI    *tgbotapi.BotAPI
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен — компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. База данных ===
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Запускаем миграции
	if err := runMigrations(ctx, pool); err != nil {
		return nil, fmt.Errorf("ошибка миграций: %w", err)
	}

	// === 2. Telegram Bot API ===
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Telegram API: %w", err)
	}
	botAPI.Debug = cfg.AppEnv == "development"
	log.Infof("Авторизован как @%s", botAPI.Self.UserName)

	// === 3. Репозитории ===
	memberRepo := members.NewRepository(pool)
	snipeRepo := snipes.NewRepository(pool)

	// === 4. Сервисы ===
	memberService := members.NewService(memberRepo)
	snipeService := snipes.NewService(snipeRepo, cfg)
	voteService := votes.NewService(snipeRepo, cfg.VoteWindow)

	// === 5. Обработчики ===
	voteHandler := votes.NewHandler(voteService, memberService, botAPI, cfg)
	voteService.SetResolvedCallback(voteHandler.HandleResolved)

	var registerVote snipes.RegisterVoteFunc
	var armKeyboard snipes.ArmKeyboardFunc
	if cfg.FeatureVotesEnabled {
		registerVote = func(chatID, sniperID, targetID, snipeID int64) string {
			return voteService.Register(votes.EventRef{
				ChatID:     chatID,
				SniperID:   sniperID,
				TargetID:   targetID,
				SnipeID:    snipeID,
				RecordedAt: time.Now(),
			})
		}
		armKeyboard = votes.ArmKeyboard
	}

	snipeHandler := snipes.NewHandler(snipeService, memberService, botAPI, cfg, registerVote, armKeyboard)

	// === 6. Фильтры ===
	chatFilter := filters.NewChatFilter(cfg, botAPI)

	// === 7. Собираем бота ===
	b := bot.New(botAPI, cfg, memberService, snipeHandler, voteHandler, chatFilter)

	// === 8. Планировщик задач ===
	scheduler := jobs.NewScheduler(cfg, snipeRepo, memberService, voteService, b.SendMessageToChat)

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		DB:        pool,
		BotAPI:    botAPI,
	}, nil
}

// runMigrations выполняет все SQL-миграции.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Инициализируем систему миграций
	if err := postgres.EnsureMigrationsTable(ctx, pool); err != nil {
		return err
	}

	// Выполняем миграции по порядку
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001Members},
		{2, migration002Snipes},
	}

	for _, m := range migrations {
		if err := postgres.ExecMigrationSQL(ctx, pool, m.version, m.sql); err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
		log.Infof("Миграция %d применена", m.version)
	}

	return nil
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Members = `
CREATE TABLE IF NOT EXISTS members (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT UNIQUE NOT NULL,
    username VARCHAR(255),
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255),
    is_bot BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT NOW(),
    updated_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_members_user_id ON members(user_id);
CREATE INDEX IF NOT EXISTS idx_members_username ON members(username);
`

var migration002Snipes = `
CREATE TABLE IF NOT EXISTS snipes (
    id BIGSERIAL PRIMARY KEY,
    chat_id BIGINT NOT NULL,
    sniper_id BIGINT NOT NULL,
    target_id BIGINT NOT NULL,
    created_at TIMESTAMP DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_snipes_chat_sniper ON snipes(chat_id, sniper_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_snipes_chat_target ON snipes(chat_id, target_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_snipes_chat_id ON snipes(chat_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_snipes_created_at ON snipes(created_at DESC);
`
