// Package config загружает конфигурацию бота из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	// Список разрешённых групповых чатов через запятую.
	// Пусто — бот работает в любом групповом чате, куда его добавили.
	// Каждый чат — изолированная лига: счётчики и топы не пересекаются.
	AllowedChatIDsRaw string  `envconfig:"ALLOWED_CHAT_IDS" default:""`
	AllowedChatIDs    []int64 `envconfig:"-"` // заполним вручную

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"botuser"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"snipe_bot"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Bot runtime ---
	// Сколько апдейтов обрабатываем параллельно. Иначе "go на каждый апдейт" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`
	// Таймаут long polling (секунды)
	BotUpdateTimeoutSeconds int `envconfig:"BOT_UPDATE_TIMEOUT_SECONDS" default:"60"`

	// --- Snipes ---
	// Размер страницы истории. Навигация кнопками «⬅️/➡️».
	SnipeHistoryPageSize int `envconfig:"SNIPE_HISTORY_PAGE_SIZE" default:"10"`
	// Сколько строк в топах (!топ)
	SnipeLeaderboardLimit int `envconfig:"SNIPE_LEADERBOARD_LIMIT" default:"10"`
	// Сколько строк в мини-топах внутри !статы (любимые жертвы / главные противники)
	SnipeStatsTopLimit int `envconfig:"SNIPE_STATS_TOP_LIMIT" default:"3"`

	// --- Votes ---
	// Окно голосования от момента открытия до подведения итогов.
	// Фиксированное, на отдельное событие не настраивается.
	VoteWindow time.Duration `envconfig:"VOTE_WINDOW" default:"5h"`
	// Как часто вычищать завершённые сессии голосования из памяти
	VoteSweepInterval time.Duration `envconfig:"VOTE_SWEEP_INTERVAL" default:"1h"`

	// --- Digest ---
	// Cron-расписание ежедневной сводки (по Москве)
	DigestCronSpec string `envconfig:"DIGEST_CRON" default:"0 21 * * *"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"10"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureVotesEnabled  bool `envconfig:"FEATURE_VOTES_ENABLED" default:"true"`
	FeatureDigestEnabled bool `envconfig:"FEATURE_DIGEST_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// ChatAllowed проверяет, разрешён ли групповой чат.
// Пустой список = разрешены все.
func (c *Config) ChatAllowed(chatID int64) bool {
	if len(c.AllowedChatIDs) == 0 {
		return true
	}
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.BotUpdateTimeoutSeconds <= 0 {
		return fmt.Errorf("BOT_UPDATE_TIMEOUT_SECONDS должен быть > 0")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.SnipeHistoryPageSize <= 0 {
		return fmt.Errorf("SNIPE_HISTORY_PAGE_SIZE должен быть > 0")
	}
	if c.SnipeLeaderboardLimit <= 0 {
		return fmt.Errorf("SNIPE_LEADERBOARD_LIMIT должен быть > 0")
	}
	if c.VoteWindow <= 0 {
		return fmt.Errorf("VOTE_WINDOW должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ids, err := parseInt64CSV(cfg.AllowedChatIDsRaw)
	if err != nil {
		return nil, fmt.Errorf("ALLOWED_CHAT_IDS parse: %w", err)
	}
	cfg.AllowedChatIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
