// Package snipes — repository.go выполняет все операции с таблицей snipes.
// Лента append-only: вставка, атомарное удаление последнего подходящего
// события и сгруппированные счётчики. Каждый запрос фильтрует по chat_id —
// чаты-лиги полностью изолированы друг от друга.
package snipes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository предоставляет методы для работы с таблицей snipes.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий снайпов.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Record добавляет новое событие и возвращает его ID.
// ID и created_at назначает БД: ID монотонный, время неубывающее.
func (r *Repository) Record(ctx context.Context, chatID, sniperID, targetID int64) (int64, error) {
	query := `
		INSERT INTO snipes (chat_id, sniper_id, target_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query, chatID, sniperID, targetID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка записи снайпа: %w", err)
	}
	return id, nil
}

// DeleteMostRecent удаляет самое свежее событие снайпера в чате.
// Возвращает удалённую запись или nil, если удалять нечего.
//
// Выбор максимального ID и удаление — одна атомарная операция.
// FOR UPDATE здесь блокирующий, без SKIP LOCKED: конкурентный вызов
// ждёт исхода первой транзакции. Если та закоммитила удаление —
// подзапрос уже не находит строку и второй вызов возвращает nil;
// если откатилась — второй удаляет всё ту же самую свежую запись.
// SKIP LOCKED позволил бы второму вызову перескочить на предыдущую
// запись, пока самая свежая ещё жива.
func (r *Repository) DeleteMostRecent(ctx context.Context, chatID, sniperID int64) (*Snipe, error) {
	query := `
		DELETE FROM snipes
		WHERE id = (
			SELECT id FROM snipes
			WHERE chat_id = $1 AND sniper_id = $2
			ORDER BY id DESC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING id, chat_id, sniper_id, target_id, created_at
	`
	return r.deleteReturning(ctx, query, chatID, sniperID)
}

// DeleteMostRecentMatching — как DeleteMostRecent, но дополнительно
// ограничено конкретной жертвой. Используется при отмене по итогам
// голосования: более поздние снайпы того же снайпера по другим жертвам
// не должны пострадать.
func (r *Repository) DeleteMostRecentMatching(ctx context.Context, chatID, sniperID, targetID int64) (*Snipe, error) {
	query := `
		DELETE FROM snipes
		WHERE id = (
			SELECT id FROM snipes
			WHERE chat_id = $1 AND sniper_id = $2 AND target_id = $3
			ORDER BY id DESC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING id, chat_id, sniper_id, target_id, created_at
	`
	return r.deleteReturning(ctx, query, chatID, sniperID, targetID)
}

func (r *Repository) deleteReturning(ctx context.Context, query string, args ...interface{}) (*Snipe, error) {
	var s Snipe
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&s.ID, &s.ChatID, &s.SniperID, &s.TargetID, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Нечего удалять — это не сбой, а пустой результат
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка удаления снайпа: %w", err)
	}
	return &s, nil
}

// CountBySniper возвращает, сколько раз пользователь снайпил в чате.
func (r *Repository) CountBySniper(ctx context.Context, chatID, userID int64) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM snipes WHERE chat_id = $1 AND sniper_id = $2`,
		chatID, userID)
}

// CountByTarget возвращает, сколько раз пользователя снайпили в чате.
func (r *Repository) CountByTarget(ctx context.Context, chatID, userID int64) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM snipes WHERE chat_id = $1 AND target_id = $2`,
		chatID, userID)
}

// LastTargetedID возвращает ID последнего события, где пользователь был
// жертвой, или 0, если по нему ещё не попадали (начало ленты).
func (r *Repository) LastTargetedID(ctx context.Context, chatID, userID int64) (int64, error) {
	query := `
		SELECT COALESCE(MAX(id), 0) FROM snipes
		WHERE chat_id = $1 AND target_id = $2
	`
	var id int64
	if err := r.db.QueryRow(ctx, query, chatID, userID).Scan(&id); err != nil {
		return 0, fmt.Errorf("ошибка поиска последнего попадания: %w", err)
	}
	return id, nil
}

// CountBySniperSince считает снайпы пользователя строго новее sinceID.
// Вместе с LastTargetedID даёт текущую серию.
func (r *Repository) CountBySniperSince(ctx context.Context, chatID, userID, sinceID int64) (int64, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM snipes WHERE chat_id = $1 AND sniper_id = $2 AND id > $3`,
		chatID, userID, sinceID)
}

// TopSnipers возвращает топ снайперов чата по убыванию счётчика.
// При равных счётчиках порядок стабильный: по возрастанию user ID.
func (r *Repository) TopSnipers(ctx context.Context, chatID int64, limit int) ([]LeaderRow, error) {
	query := `
		SELECT sniper_id, COUNT(*) AS cnt FROM snipes
		WHERE chat_id = $1
		GROUP BY sniper_id
		ORDER BY cnt DESC, sniper_id ASC
		LIMIT $2
	`
	return r.queryLeaders(ctx, query, chatID, limit)
}

// TopSnipersSince — топ снайперов чата начиная с момента since.
// Используется ежедневной сводкой.
func (r *Repository) TopSnipersSince(ctx context.Context, chatID int64, since time.Time, limit int) ([]LeaderRow, error) {
	query := `
		SELECT sniper_id, COUNT(*) AS cnt FROM snipes
		WHERE chat_id = $1 AND created_at >= $2
		GROUP BY sniper_id
		ORDER BY cnt DESC, sniper_id ASC
		LIMIT $3
	`
	return r.queryLeaders(ctx, query, chatID, since, limit)
}

// TopTargets возвращает топ жертв чата.
func (r *Repository) TopTargets(ctx context.Context, chatID int64, limit int) ([]LeaderRow, error) {
	query := `
		SELECT target_id, COUNT(*) AS cnt FROM snipes
		WHERE chat_id = $1
		GROUP BY target_id
		ORDER BY cnt DESC, target_id ASC
		LIMIT $2
	`
	return r.queryLeaders(ctx, query, chatID, limit)
}

// TopTargetsForSniper — кого конкретный снайпер снайпит чаще всего.
func (r *Repository) TopTargetsForSniper(ctx context.Context, chatID, sniperID int64, limit int) ([]LeaderRow, error) {
	query := `
		SELECT target_id, COUNT(*) AS cnt FROM snipes
		WHERE chat_id = $1 AND sniper_id = $2
		GROUP BY target_id
		ORDER BY cnt DESC, target_id ASC
		LIMIT $3
	`
	return r.queryLeaders(ctx, query, chatID, sniperID, limit)
}

// TopSnipersAgainstTarget — кто чаще всего снайпит конкретную жертву.
func (r *Repository) TopSnipersAgainstTarget(ctx context.Context, chatID, targetID int64, limit int) ([]LeaderRow, error) {
	query := `
		SELECT sniper_id, COUNT(*) AS cnt FROM snipes
		WHERE chat_id = $1 AND target_id = $2
		GROUP BY sniper_id
		ORDER BY cnt DESC, sniper_id ASC
		LIMIT $3
	`
	return r.queryLeaders(ctx, query, chatID, targetID, limit)
}

// Page возвращает страницу событий чата, новые сверху.
func (r *Repository) Page(ctx context.Context, chatID int64, offset, limit int) ([]Snipe, error) {
	query := `
		SELECT id, chat_id, sniper_id, target_id, created_at
		FROM snipes
		WHERE chat_id = $1
		ORDER BY id DESC
		OFFSET $2 LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, chatID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории: %w", err)
	}
	defer rows.Close()

	var out []Snipe
	for rows.Next() {
		var s Snipe
		if err := rows.Scan(&s.ID, &s.ChatID, &s.SniperID, &s.TargetID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования снайпа: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

// TotalCount возвращает общее число событий чата (для пагинации).
func (r *Repository) TotalCount(ctx context.Context, chatID int64) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM snipes WHERE chat_id = $1`, chatID)
}

// ActiveChatIDs возвращает чаты, где были снайпы начиная с момента since.
// Используется ежедневной сводкой.
func (r *Repository) ActiveChatIDs(ctx context.Context, since time.Time) ([]int64, error) {
	query := `SELECT DISTINCT chat_id FROM snipes WHERE created_at >= $1`
	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса активных чатов: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования chat_id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}

func (r *Repository) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта: %w", err)
	}
	return n, nil
}

func (r *Repository) queryLeaders(ctx context.Context, query string, args ...interface{}) ([]LeaderRow, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса топа: %w", err)
	}
	defer rows.Close()

	var out []LeaderRow
	for rows.Next() {
		var row LeaderRow
		if err := rows.Scan(&row.UserID, &row.Count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки топа: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения строк: %w", err)
	}
	return out, nil
}
