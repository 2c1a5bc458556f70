// Package members — repository.go отвечает за все операции с таблицей members в БД.
// Каждая функция выполняет один SQL-запрос и возвращает результат или ошибку.
package members

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Upsert добавляет участника или обновляет имя/username существующего.
func (r *Repository) Upsert(ctx context.Context, m *Member) error {
	query := `
		INSERT INTO members (user_id, username, first_name, last_name, is_bot)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    is_bot = EXCLUDED.is_bot,
		    updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, m.UserID, m.Username, m.FirstName, m.LastName, m.IsBot)
	if err != nil {
		return fmt.Errorf("ошибка создания/обновления участника: %w", err)
	}
	return nil
}

// GetByUserID: если не найден — ошибка с pgx.ErrNoRows (errors.Is(err, pgx.ErrNoRows) == true)
func (r *Repository) GetByUserID(ctx context.Context, userID int64) (*Member, error) {
	query := `
		SELECT id, user_id, username, first_name, last_name, is_bot, created_at, updated_at
		FROM members
		WHERE user_id = $1
	`
	var m Member
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&m.ID, &m.UserID, &m.Username, &m.FirstName, &m.LastName,
		&m.IsBot, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("участник не найден (user_id=%d): %w", userID, err)
		}
		return nil, fmt.Errorf("ошибка чтения участника (user_id=%d): %w", userID, err)
	}
	return &m, nil
}

// GetByUsername: если не найден — ошибка с pgx.ErrNoRows
func (r *Repository) GetByUsername(ctx context.Context, username string) (*Member, error) {
	query := `
		SELECT id, user_id, username, first_name, last_name, is_bot, created_at, updated_at
		FROM members
		WHERE LOWER(username) = LOWER($1)
	`
	var m Member
	err := r.db.QueryRow(ctx, query, username).Scan(
		&m.ID, &m.UserID, &m.Username, &m.FirstName, &m.LastName,
		&m.IsBot, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("участник не найден (username=%s): %w", username, err)
		}
		return nil, fmt.Errorf("ошибка чтения участника (username=%s): %w", username, err)
	}
	return &m, nil
}

// GetByUserIDs возвращает участников по списку ID одним запросом.
// Используется лентой и топами, чтобы не делать N запросов на страницу.
func (r *Repository) GetByUserIDs(ctx context.Context, userIDs []int64) (map[int64]*Member, error) {
	if len(userIDs) == 0 {
		return map[int64]*Member{}, nil
	}

	query := `
		SELECT id, user_id, username, first_name, last_name, is_bot, created_at, updated_at
		FROM members
		WHERE user_id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса участников: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*Member, len(userIDs))
	for rows.Next() {
		var m Member
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.Username, &m.FirstName, &m.LastName,
			&m.IsBot, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		out[m.UserID] = &m
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}

	return out, nil
}
